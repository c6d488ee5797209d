// Package cli is the wellspend command line: it runs the API server and
// exposes the pipeline for scripting and local use.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/wellspend/cmd/api"
	"github.com/FACorreiaa/wellspend/pkg/config"
)

// CLIApp represents the command-line interface application.
type CLIApp struct {
	rootCmd *cobra.Command
	cfg     *config.Config
	// loadConfig is swapped in tests.
	loadConfig func() (*config.Config, error)
	// logOutput receives structured logs; nil means stderr.
	logOutput io.Writer
}

// NewCLIApp creates the root command and registers every subcommand.
func NewCLIApp() *CLIApp {
	app := &CLIApp{loadConfig: config.Load}

	rootCmd := &cobra.Command{
		Use:           "wellspend",
		Short:         "Cost analytics ingestion pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if path, _ := cmd.Flags().GetString("config-file"); path != "" {
				if err := os.Setenv("CONFIG_FILE", path); err != nil {
					return err
				}
			}
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			if level, _ := cmd.Flags().GetString("log-level"); level != "" {
				cfg.LogLevel = level
			}
			app.cfg = cfg
			return nil
		},
	}

	rootCmd.PersistentFlags().StringP("config-file", "C", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(
		app.serveCommand(),
		app.migrateCommand(),
		app.ingestCommand(),
		app.uploadsCommand(),
		app.metricsCommand(),
		app.sweepCommand(),
		app.generateCommand(),
		app.tokenCommand(),
	)

	app.rootCmd = rootCmd
	return app
}

// Execute runs the CLI application.
func (app *CLIApp) Execute() error {
	return app.rootCmd.Execute()
}

// logger builds the process logger. The server logs JSON for collectors;
// interactive commands log text.
func (app *CLIApp) logger(json bool) *slog.Logger {
	out := app.logOutput
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(app.cfg.LogLevel)}
	if json {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// withDependencies wires the full pipeline, runs fn and releases everything.
func (app *CLIApp) withDependencies(ctx context.Context, logger *slog.Logger, fn func(*api.Dependencies) error) error {
	deps, err := api.InitDependencies(ctx, app.cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Cleanup()
	return fn(deps)
}

func (app *CLIApp) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the metrics endpoint and the stale upload sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := app.logger(true)
			slog.SetDefault(logger)

			return app.withDependencies(ctx, logger, func(deps *api.Dependencies) error {
				return api.Serve(ctx, deps)
			})
		},
	}
}

func (app *CLIApp) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the record store schema up to date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := api.InitStore(app.cfg, app.logger(false))
			if err != nil {
				return err
			}
			defer deps.Cleanup()

			printSuccess(cmd.OutOrStdout(), "Schema is up to date (%s)", app.cfg.Database.Driver)
			return nil
		},
	}
}

func requireFlags(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		_ = cmd.MarkFlagRequired(name)
	}
}
