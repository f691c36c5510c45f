package harness

import (
	"github.com/roach88/issai/internal/exporter"
	"github.com/roach88/issai/internal/importer"
	"github.com/roach88/issai/internal/store"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool

	// Export is the export result, nil for import-only scenarios.
	Export *exporter.Result

	// Document holds the exported document as canonical JSON.
	Document []byte

	// Import is the import result, nil when the scenario does not import.
	Import *importer.Result

	// Steps lists every monitor step in order, export then import.
	Steps []string

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string

	// target is the store final_state assertions read from.
	target *store.Store
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{Pass: true}
}

// AddError records an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
