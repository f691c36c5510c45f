package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/issai/internal/importer"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	MergeMode string
	Workers   int
	DryRun    bool
}

// importReport is the JSON payload of a finished import.
type importReport struct {
	Tallies   map[string]importer.Tally `json:"tallies"`
	Errors    []string                  `json:"errors,omitempty"`
	Notes     []string                  `json:"notes,omitempty"`
	DryRun    bool                      `json:"dry_run,omitempty"`
	Cancelled bool                      `json:"cancelled,omitempty"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <document>",
		Short: "Import a document into the store",
		Long: `Import a document into the store, matching entities by natural key.

Entities already in the store are merged according to the merge mode:
  skip            leave existing entities untouched
  overwrite       replace fields present in the document
  update-missing  only fill fields the store lacks (default)

Entities that fail are reported and their dependents skipped; the rest of
the document is still imported and the command exits 0.

Example:
  issai import shop.json
  issai import shop.yaml --merge-mode overwrite --workers 4 --dry-run`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MergeMode, "merge-mode", "", "skip, overwrite or update-missing (default from import.merge_mode)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "concurrent writes per dependency level (default from import.workers)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "plan the import without writing")

	return cmd
}

func runImport(opts *ImportOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	importOpts := opts.Config.ImportOptions(opts.Logger)
	if opts.MergeMode != "" {
		importOpts.MergeMode = importer.MergeMode(opts.MergeMode)
	}
	if cmd.Flags().Changed("workers") {
		importOpts.Workers = opts.Workers
	}
	importOpts.DryRun = opts.DryRun

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	ctx := commandContext(cmd)
	mon := opts.newMonitor(formatter)
	stop := watchSignals(ctx, mon, opts.Logger)
	defer stop()

	result, err := importer.ImportFile(ctx, st, path, importOpts, mon)
	if err != nil {
		return err
	}

	report := importReport{
		Tallies:   map[string]importer.Tally{},
		Notes:     result.Notes,
		DryRun:    result.DryRun,
		Cancelled: result.Cancelled,
	}
	for k, t := range result.Tallies {
		report.Tallies[string(k)] = t
	}
	for _, e := range result.Errors {
		report.Errors = append(report.Errors, e.Error())
	}
	return formatter.Success(report, result.Summary(opts.Printer))
}
