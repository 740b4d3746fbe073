package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/vrouter/common/go/logging"
	"github.com/yanet-platform/vrouter/common/go/xcmd"
	"github.com/yanet-platform/vrouter/controlplane/internal/version"
	"github.com/yanet-platform/vrouter/controlplane/pkg/director"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:     "vrouter",
	Short:   "Software IPv4 router with RIP route exchange",
	Version: version.Version(),
	Run: func(rawCmd *cobra.Command, args []string) {
		if err := run(cmd); err != nil {
			if errors.Is(err, xcmd.Interrupted{}) {
				return
			}

			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file (required)")
	rootCmd.MarkFlagRequired("config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	cfg, err := director.LoadConfig(cmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, atomicLevel, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Sync()

	log.Infow("starting vrouter", "version", version.Version())

	d, err := director.NewDirector(cfg, director.WithLog(log), director.WithAtomicLogLevel(&atomicLevel))
	if err != nil {
		return fmt.Errorf("failed to create director: %w", err)
	}

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return d.Run(ctx)
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		return err
	})

	return wg.Wait()
}
