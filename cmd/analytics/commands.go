package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Sokol111/analytics-pipeline/pkg/analytics"
	"github.com/Sokol111/analytics-pipeline/pkg/core"
	"github.com/Sokol111/analytics-pipeline/pkg/modules"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

const pollInterval = 100 * time.Millisecond

var errNotDelivered = errors.New("batches still pending")

func newTrackCmd(opts *rootOptions) *cobra.Command {
	var props []string
	cmd := &cobra.Command{
		Use:   "track <event>",
		Short: "Track an action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			properties, err := parseProperties(props)
			if err != nil {
				return err
			}
			return withClient(cmd, opts, func(c *analytics.Client) error {
				c.Track(args[0], properties)
				return deliver(cmd, opts, c)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&props, "prop", "p", nil, "Event property as key=value, repeatable")
	return cmd
}

func newScreenCmd(opts *rootOptions) *cobra.Command {
	var props []string
	cmd := &cobra.Command{
		Use:   "screen <name>",
		Short: "Record a screen view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			properties, err := parseProperties(props)
			if err != nil {
				return err
			}
			return withClient(cmd, opts, func(c *analytics.Client) error {
				c.Screen(args[0], properties)
				return deliver(cmd, opts, c)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&props, "prop", "p", nil, "Screen property as key=value, repeatable")
	return cmd
}

func newIdentifyCmd(opts *rootOptions) *cobra.Command {
	var traits []string
	cmd := &cobra.Command{
		Use:   "identify <user-id>",
		Short: "Identify the user and merge traits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseProperties(traits)
			if err != nil {
				return err
			}
			return withClient(cmd, opts, func(c *analytics.Client) error {
				c.Identify(args[0], parsed)
				return deliver(cmd, opts, c)
			})
		},
	}
	cmd.Flags().StringArrayVar(&traits, "trait", nil, "User trait as key=value, repeatable")
	return cmd
}

func newFlushCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Upload every stored batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(c *analytics.Client) error {
				return deliver(cmd, opts, c)
			})
		},
	}
}

func newPendingCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Print the number of batches waiting for upload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(c *analytics.Client) error {
				n, err := c.Pending()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
				return err
			})
		},
	}
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Discard every stored batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(c *analytics.Client) error {
				c.Clear()
				return nil
			})
		},
	}
}

// withClient starts the pipeline, runs fn and stops the pipeline again.
func withClient(cmd *cobra.Command, opts *rootOptions, fn func(c *analytics.Client) error) error {
	coreOpts := []core.Option{}
	if opts.configPath != "" {
		coreOpts = append(coreOpts, core.WithConfigPath(opts.configPath))
	}

	var client *analytics.Client
	app := fx.New(
		fx.NopLogger,
		modules.NewPipelineModule(modules.PipelineOptions{Core: coreOpts}),
		fx.Populate(&client),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(cmdContext(cmd), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	runErr := fn(client)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	return errors.Join(runErr, app.Stop(stopCtx))
}

// deliver flushes c and waits until no batch is pending, the timeout passes or the data plane
// refuses the write key.
func deliver(cmd *cobra.Command, opts *rootOptions, c *analytics.Client) error {
	if opts.noWait {
		c.Flush()
		return nil
	}

	ctx, cancel := context.WithTimeout(cmdContext(cmd), opts.timeout)
	defer cancel()
	if err := c.FlushAndWait(ctx); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return waitDelivered(ctx, c, cmd.ErrOrStderr())
}

type pendingReporter interface {
	Pending() (int, error)
	Errors() <-chan error
}

func waitDelivered(ctx context.Context, c pendingReporter, out io.Writer) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		n, err := c.Pending()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		select {
		case err := <-c.Errors():
			return err
		case <-ctx.Done():
			_, _ = fmt.Fprintf(out, "%d batch(es) kept for the next run\n", n)
			return fmt.Errorf("%w: %d", errNotDelivered, n)
		case <-ticker.C:
		}
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// parseProperties turns key=value pairs into properties. Values that parse as JSON keep their
// JSON type, anything else is a string.
func parseProperties(pairs []string) (analytics.Properties, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	props := make(analytics.Properties, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid property %q, expected key=value", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			props[key] = decoded
			continue
		}
		props[key] = value
	}
	return props, nil
}
