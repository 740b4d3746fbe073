package xcmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Interrupted is returned by WaitInterrupted when the process receives a
// termination signal.
type Interrupted struct {
	os.Signal
}

func (m Interrupted) Error() string {
	return "interrupted: " + m.String()
}

// Is reports whether the target is also an interruption, regardless of the
// signal that caused it.
func (m Interrupted) Is(target error) bool {
	_, ok := target.(Interrupted)
	return ok
}

// WaitInterrupted blocks until either SIGINT or SIGTERM signal is received or
// the provided context is canceled.
func WaitInterrupted(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)

	select {
	case v := <-ch:
		return Interrupted{Signal: v}
	case <-ctx.Done():
		return ctx.Err()
	}
}
