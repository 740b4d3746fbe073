// Package pdump records frames passing through router interfaces into a
// pcap file.
package pdump

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"go.uber.org/zap"

	"github.com/yanet-platform/vrouter/modules/router/iface"
)

type options struct {
	Log   *zap.SugaredLogger
	Clock func() time.Time
}

func newOptions() *options {
	return &options{
		Log:   zap.NewNop().Sugar(),
		Clock: time.Now,
	}
}

// Option configures the Dumper.
type Option func(*options)

// WithLog sets the logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithClock sets the source of capture timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.Clock = clock
	}
}

// Dumper writes captured frames in pcap format.
//
// It is safe for concurrent use.
type Dumper struct {
	mu      sync.Mutex
	writer  *pcapgo.Writer
	closer  io.Closer
	filters []glob.Glob
	snaplen int
	mode    Mode
	clock   func() time.Time
	log     *zap.SugaredLogger
}

// Open creates the pcap file described by the configuration.
func Open(cfg *Config, opts ...Option) (*Dumper, error) {
	file, err := os.Create(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create dump file: %w", err)
	}

	dumper, err := NewDumper(file, cfg, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	dumper.closer = file

	return dumper, nil
}

// NewDumper writes the pcap file header to w and returns a Dumper
// appending frames to it.
func NewDumper(w io.Writer, cfg *Config, opts ...Option) (*Dumper, error) {
	options := newOptions()
	for _, o := range opts {
		o(options)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dump configuration: %w", err)
	}
	filters, err := cfg.filters()
	if err != nil {
		return nil, err
	}

	writer := pcapgo.NewWriter(w)
	if err := writer.WriteFileHeader(uint32(cfg.Snaplen.Bytes()), layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}

	options.Log.Infow("packet dump enabled",
		zap.String("path", cfg.Path),
		zap.Stringer("snaplen", cfg.Snaplen),
		zap.String("mode", string(cfg.Mode)),
		zap.Strings("interfaces", cfg.Interfaces),
	)

	return &Dumper{
		writer:  writer,
		filters: filters,
		snaplen: int(cfg.Snaplen.Bytes()),
		mode:    cfg.Mode,
		clock:   options.Clock,
		log:     options.Log,
	}, nil
}

// Rx records a frame received on the interface.
func (m *Dumper) Rx(frame []byte, in *iface.Interface) {
	if m.mode == ModeTx {
		return
	}
	m.write(frame, in)
}

// Tx records a frame transmitted through the interface.
func (m *Dumper) Tx(frame []byte, out *iface.Interface) {
	if m.mode == ModeRx {
		return
	}
	m.write(frame, out)
}

// Handler returns a frame handler recording frames before passing them
// to next.
func (m *Dumper) Handler(next iface.Handler) iface.Handler {
	return func(frame []byte, in *iface.Interface) {
		m.Rx(frame, in)
		next(frame, in)
	}
}

// Sender returns a sender recording frames transmitted through next.
func (m *Dumper) Sender(next iface.Sender) iface.Sender {
	return iface.SenderFunc(func(frame []byte, out *iface.Interface) error {
		if err := next.Send(frame, out); err != nil {
			return err
		}
		m.Tx(frame, out)
		return nil
	})
}

// Close flushes and closes the underlying file, if the Dumper owns one.
func (m *Dumper) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closer == nil {
		return nil
	}
	err := m.closer.Close()
	m.closer = nil
	m.writer = nil
	return err
}

func (m *Dumper) match(ifc *iface.Interface) bool {
	if len(m.filters) == 0 {
		return true
	}
	for _, filter := range m.filters {
		if filter.Match(ifc.Name) {
			return true
		}
	}
	return false
}

func (m *Dumper) write(frame []byte, ifc *iface.Interface) {
	if !m.match(ifc) {
		return
	}

	data := frame
	if len(data) > m.snaplen {
		data = data[:m.snaplen]
	}
	info := gopacket.CaptureInfo{
		Timestamp:     m.clock(),
		CaptureLength: len(data),
		Length:        len(frame),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writer == nil {
		return
	}
	if err := m.writer.WritePacket(info, data); err != nil {
		m.log.Warnw("failed to write frame to dump", zap.String("iface", ifc.Name), zap.Error(err))
	}
}
