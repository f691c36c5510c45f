package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/roach88/issai/internal/config"
	"github.com/roach88/issai/internal/i18n"
	"github.com/roach88/issai/internal/metrics"
	"github.com/roach88/issai/internal/monitor"
	"github.com/roach88/issai/internal/store"
)

// RootOptions holds global flags for all commands, and the state built from
// them before a command runs.
type RootOptions struct {
	Verbose     bool
	Format      string // "json" | "text"
	ConfigPath  string
	StorePath   string
	Locale      string
	MetricsFile string

	Config  *config.Config
	Logger  *slog.Logger
	Printer *message.Printer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the issai CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "issai",
		Short: "issai - test case management data and local test runs",
		Long: `Move products, test plans, test cases and results between a local
store and portable document files, and run test cases through pluggable
runners.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Config == nil || opts.Config.MetricsFile == "" {
				return nil
			}
			return metrics.WriteFile(opts.Config.MetricsFile)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "configuration file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.StorePath, "db", "", "path to the SQLite store (overrides store.path)")
	cmd.PersistentFlags().StringVar(&opts.Locale, "locale", "", "locale of summaries, e.g. en or de (overrides locale)")
	cmd.PersistentFlags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this file (overrides metrics_file)")

	// Add subcommands
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewRunnersCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// setup validates global flags, loads the configuration, applies flag
// overrides and builds the logger and printer.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	if !isValidFormat(o.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", o.Format, ValidFormats)
	}

	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if o.StorePath != "" {
		cfg.Store.Path = o.StorePath
	}
	if o.Locale != "" {
		cfg.Locale = o.Locale
	}
	if o.MetricsFile != "" {
		cfg.MetricsFile = o.MetricsFile
	}
	tag, err := cfg.Language()
	if err != nil {
		return err
	}
	catalog, err := i18n.New()
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	o.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	o.Printer = catalog.Printer(tag)
	o.Config = cfg
	return nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// openStore opens the configured SQLite store.
func (o *RootOptions) openStore() (*store.Store, error) {
	o.Logger.Debug("opening store", "path", o.Config.Store.Path)
	st, err := store.Open(o.Config.Store.Path)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to open store", err)
	}
	return st, nil
}

func (o *RootOptions) closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		o.Logger.Error("error closing store", "error", err)
	}
}

// newMonitor returns a tracker that logs progress in verbose mode.
func (o *RootOptions) newMonitor(f *OutputFormatter) *monitor.Tracker {
	return monitor.New(o.Logger, monitor.Observer{
		Progress: func(done, total int) {
			f.VerboseLog("progress: %d/%d", done, total)
		},
	})
}

// watchSignals turns SIGINT and SIGTERM into a cancellation request on mon
// until the returned stop function is called.
func watchSignals(ctx context.Context, mon monitor.Monitor, logger *slog.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, cancelling", "signal", sig)
			mon.RequestCancel()
		case <-ctx.Done():
		}
	}()

	return func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
