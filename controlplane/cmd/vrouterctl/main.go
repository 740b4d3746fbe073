package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/yanet-platform/vrouter/controlplane/internal/gateway"
	"github.com/yanet-platform/vrouter/controlplane/internal/version"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// Endpoint is the gateway endpoint of the router.
	Endpoint string
	// Timeout bounds a single command, including connection retries.
	Timeout time.Duration
}

var rootCmd = &cobra.Command{
	Use:          "vrouterctl",
	Short:        "Inspect a running router",
	Version:      version.Version(),
	SilenceUsage: true,
}

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Show the routing table",
	Args:  cobra.NoArgs,
	RunE: func(rawCmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, client *gateway.Client) error {
			routes, err := call(ctx, client.ListRoutes)
			if err != nil {
				return err
			}
			renderRoutes(os.Stdout, routes)
			return nil
		})
	},
}

var neighboursCmd = &cobra.Command{
	Use:     "neighbours",
	Aliases: []string{"arp"},
	Short:   "Show the ARP cache",
	Args:    cobra.NoArgs,
	RunE: func(rawCmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, client *gateway.Client) error {
			type neighbours struct {
				records []gateway.NeighbourRecord
				pending int
			}
			resp, err := call(ctx, func(ctx context.Context) (neighbours, error) {
				records, pending, err := client.ListNeighbours(ctx)
				return neighbours{records: records, pending: pending}, err
			})
			if err != nil {
				return err
			}
			renderNeighbours(os.Stdout, resp.records, resp.pending)
			return nil
		})
	},
}

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "Show the router interfaces",
	Args:  cobra.NoArgs,
	RunE: func(rawCmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, client *gateway.Client) error {
			ifaces, err := call(ctx, client.ListInterfaces)
			if err != nil {
				return err
			}
			renderInterfaces(os.Stdout, ifaces)
			return nil
		})
	},
}

var logLevelCmd = &cobra.Command{
	Use:       "log-level LEVEL",
	Short:     "Change the log level of the router",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"debug", "info", "warn", "error"},
	RunE: func(rawCmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, client *gateway.Client) error {
			_, err := call(ctx, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, client.UpdateLevel(ctx, args[0])
			})
			return err
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cmd.Endpoint, "endpoint", "e", "[::1]:8520", "Gateway endpoint of the router")
	rootCmd.PersistentFlags().DurationVar(&cmd.Timeout, "timeout", 10*time.Second, "Command timeout")

	rootCmd.AddCommand(routesCmd, neighboursCmd, interfacesCmd, logLevelCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func withClient(fn func(ctx context.Context, client *gateway.Client) error) error {
	conn, err := grpc.NewClient(
		cmd.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to %q: %w", cmd.Endpoint, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cmd.Timeout)
	defer cancel()

	return fn(ctx, gateway.NewClient(conn))
}

// call retries the request while the router is unavailable, e.g. still
// starting up.
func call[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	connectBackoff := &backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         2 * time.Second,
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn(ctx)
		if err != nil && status.Code(err) != codes.Unavailable {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(connectBackoff))
}
