package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/routersimlab/netsim/common/go/logging"
	"github.com/routersimlab/netsim/common/go/xcmd"
	"github.com/routersimlab/netsim/internal/scenario"
)

var cmd struct {
	ConfigPath string
	LogLevel   string
}

var rootCmd = &cobra.Command{
	Use:   "netsim",
	Short: "Discrete-event IS-IS/RSVP-TE/MPLS network simulator",
	Run: func(_ *cobra.Command, _ []string) {
		if err := run(cmd.ConfigPath, cmd.LogLevel); err != nil {
			var interrupted xcmd.Interrupted
			if errors.As(err, &interrupted) {
				return
			}
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the scenario configuration file (required)")
	rootCmd.Flags().StringVar(&cmd.LogLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	rootCmd.MarkFlagRequired("config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, logLevel string) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}

	log, _, err := logging.Init(&logging.Config{Level: level})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	cfg, err := scenario.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load scenario: %w", err)
	}

	var result *scenario.Result
	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		var runErr error
		result, runErr = scenario.Run(cfg, log)
		return runErr
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		if err != nil {
			log.Infof("caught signal: %v", err)
		}
		return err
	})

	if err := wg.Wait(); err != nil {
		var interrupted xcmd.Interrupted
		if errors.As(err, &interrupted) {
			return err
		}
		return fmt.Errorf("scenario run failed: %w", err)
	}

	for _, p := range result.Pings {
		log.Infow("ping result", "router", p.Router, "dest", p.Stats.Dest, "sent", p.Stats.Sent, "received", p.Stats.Received)
	}

	return nil
}
