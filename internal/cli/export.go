package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/issai/internal/entity"
	"github.com/roach88/issai/internal/exporter"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output         string
	IncludeResults bool
	Version        string
	Build          string
	Attachments    string
}

// exportReport is the JSON payload of a finished export.
type exportReport struct {
	Path      string         `json:"path,omitempty"`
	Counts    map[string]int `json:"counts"`
	Warnings  []string       `json:"warnings,omitempty"`
	Cancelled bool           `json:"cancelled,omitempty"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <kind> <id>",
		Short: "Export a product, test plan or test case to a document",
		Long: `Export the entity with the given store id, and everything it links to,
into a self-contained document. Products also pull in their test plans and
test cases. Files ending in .yaml or .yml are written as YAML, all others
as canonical JSON.

Example:
  issai export product 1 -o shop.json
  issai export testplan 7 -o smoke.json --include-results --build nightly-42`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "document file to write (required)")
	cmd.Flags().BoolVar(&opts.IncludeResults, "include-results", false, "include plan and case results (default from export.include_results)")
	cmd.Flags().StringVar(&opts.Version, "version", "", "only export plans and results of this product version")
	cmd.Flags().StringVar(&opts.Build, "build", "", "only export results of this build; needs --include-results")
	cmd.Flags().StringVar(&opts.Attachments, "attachments", "", "reference or embed (default from export.attachments)")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runExport(opts *ExportOptions, kindArg, id string, cmd *cobra.Command) error {
	kind, err := entity.ParseKind(kindArg)
	if err != nil {
		return err
	}
	formatter := opts.formatter(cmd)

	exportOpts := opts.Config.ExportOptions(opts.Logger)
	if cmd.Flags().Changed("include-results") {
		exportOpts.IncludeResults = opts.IncludeResults
	}
	if opts.Attachments != "" {
		exportOpts.Attachments = exporter.AttachmentMode(opts.Attachments)
	}
	exportOpts.Version = opts.Version
	exportOpts.Build = opts.Build

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	ctx := commandContext(cmd)
	mon := opts.newMonitor(formatter)
	stop := watchSignals(ctx, mon, opts.Logger)
	defer stop()

	root := exporter.Reference{Kind: kind, StoreID: id}
	result, err := exporter.Export(ctx, st, root, exportOpts, opts.Output, mon)
	if err != nil {
		return err
	}

	report := exportReport{
		Path:      result.Path,
		Counts:    countsByName(result.Counts),
		Warnings:  result.Warnings,
		Cancelled: result.Cancelled,
	}
	return formatter.Success(report, result.Summary(opts.Printer))
}

func countsByName(counts map[entity.Kind]int) map[string]int {
	out := make(map[string]int, len(counts))
	for k, n := range counts {
		out[string(k)] = n
	}
	return out
}
