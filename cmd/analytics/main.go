// Package main provides the analytics CLI for sending events through the pipeline.
//
// Usage:
//
//	analytics --config ./config.yaml track "Order Completed" --prop total=42.5 --prop currency=EUR
//	analytics --config ./config.yaml pending
//
// Events are persisted in the configured storage first, so anything not delivered before the
// command exits is uploaded by the next run.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var version = "dev"

type rootOptions struct {
	configPath string
	timeout    time.Duration
	noWait     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "analytics",
		Short:         "Send analytics events to a data plane",
		Long:          `analytics queues events in local storage and uploads them in batches to the configured data plane.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (defaults to $CONFIG_FILE)")
	rootCmd.PersistentFlags().DurationVarP(&opts.timeout, "timeout", "t", 30*time.Second, "How long to wait for delivery")
	rootCmd.PersistentFlags().BoolVar(&opts.noWait, "no-wait", false, "Exit without waiting for delivery")

	rootCmd.AddCommand(
		newTrackCmd(opts),
		newScreenCmd(opts),
		newIdentifyCmd(opts),
		newFlushCmd(opts),
		newPendingCmd(opts),
		newClearCmd(opts),
	)

	return rootCmd
}
