package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/issai/internal/document"
	"github.com/roach88/issai/internal/entity"
	"github.com/roach88/issai/internal/i18n"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool           `json:"valid"`
	Path     string         `json:"path"`
	Root     int64          `json:"root,omitempty"`
	Counts   map[string]int `json:"counts,omitempty"`
	Errors   []string       `json:"errors,omitempty"`
	Entities int            `json:"entities"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <document>...",
		Short: "Validate documents without importing them",
		Long: `Check that documents decode, match the document schema and keep
referential integrity: every link points at an entity of the expected kind
and the root is a product, test plan or test case. Nothing is written.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	results := make([]ValidationResult, 0, len(paths))
	var text strings.Builder
	failed := 0
	for _, path := range paths {
		formatter.VerboseLog("Validating %s", path)
		res := validateDocument(path)
		results = append(results, res)
		if !res.Valid {
			failed++
			for _, e := range res.Errors {
				text.WriteString(opts.Printer.Sprintf(i18n.MsgEntityError, path+": "+e))
				text.WriteByte('\n')
			}
			continue
		}
		text.WriteString(opts.Printer.Sprintf(i18n.MsgDocumentValid, path, res.Entities))
		text.WriteByte('\n')
		text.WriteString(countsTable(res.Counts))
		text.WriteByte('\n')
	}

	if failed > 0 {
		if err := formatter.Success(results, text.String()); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d documents invalid", failed, len(paths)))
	}
	return formatter.Success(results, text.String())
}

func validateDocument(path string) ValidationResult {
	doc, err := document.ReadFile(path)
	if err != nil {
		return ValidationResult{Path: path, Errors: []string{err.Error()}}
	}
	counts := doc.Counts()
	return ValidationResult{
		Valid:    true,
		Path:     path,
		Root:     int64(doc.Root),
		Counts:   countsByName(counts),
		Entities: len(doc.Entities),
	}
}

// countsTable renders entity counts in kind order.
func countsTable(counts map[string]int) string {
	t := newTable("KIND", "ENTITIES")
	for _, k := range entity.Kinds {
		if n, ok := counts[string(k)]; ok {
			t.AppendRow([]any{string(k), n})
		}
	}
	return t.Render()
}
