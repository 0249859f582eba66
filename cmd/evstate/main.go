// Command evstate runs and inspects an event-sourced todo list.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wilhg/evstate/examples/todo"
	"github.com/wilhg/evstate/internal/backend"
	"github.com/wilhg/evstate/internal/config"
	"github.com/wilhg/evstate/internal/logging"
	"github.com/wilhg/evstate/pkg/eventsource"
	"github.com/wilhg/evstate/pkg/store"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

// app holds what PersistentPreRunE resolved for the subcommands.
type app struct {
	configPath  string
	databaseURL string
	logLevel    string

	cfg    config.Config
	logger *zap.Logger
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "evstate",
		Short:         "Event-sourced state store demo",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("database-url") {
				cfg.DatabaseURL = a.databaseURL
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = a.logLevel
			}
			a.cfg = cfg
			a.logger, err = logging.New(cfg.LogLevel, cfg.Environment)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&a.databaseURL, "database-url", "", "memory:, sqlite:file:..., postgres://... or redis://...")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug|info|warn|error")

	cmd.AddCommand(newServeCommand(a))
	cmd.AddCommand(newInspectCommand(a))
	cmd.AddCommand(newVerifyCommand(a))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Print version information",
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "evstate %s (commit=%s, date=%s)\n", version, commit, date)
			return err
		},
	}
}

// openSession opens the configured backend and boots a todo session on it.
func (a *app) openSession(ctx context.Context, reg prometheus.Registerer) (*eventsource.Session[*todo.State, todo.Event], store.RecordStore, error) {
	rs, err := backend.Open(ctx, a.cfg.DatabaseURL, a.logger)
	if err != nil {
		return nil, nil, err
	}
	es := store.NewTyped[*todo.State, todo.Event](rs, todo.Codec())
	sess, err := eventsource.Bootstrap[*todo.State, todo.Event](ctx, es, todo.Reduce, todo.Initial(), eventsource.BootstrapOptions[*todo.State, todo.Event]{
		Restore: []eventsource.RestoreOption[*todo.State]{eventsource.WithRestoreLogger[*todo.State](a.logger)},
		Recorder: []eventsource.Option{
			eventsource.WithSnapshotInterval(a.cfg.SnapshotInterval),
			eventsource.WithScheduler(eventsource.NewScheduler(a.cfg.FlushDelay)),
			eventsource.WithFlushTimeout(a.cfg.FlushTimeout),
			eventsource.WithLogger(a.logger),
			eventsource.WithRegisterer(reg),
		},
	})
	if err != nil {
		_ = rs.Close()
		return nil, nil, err
	}
	return sess, rs, nil
}

// redactURL hides the password of URL-style database URLs for logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
