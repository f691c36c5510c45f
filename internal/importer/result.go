package importer

import (
	"cmp"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"golang.org/x/text/message"

	"github.com/roach88/issai/internal/entity"
	"github.com/roach88/issai/internal/i18n"
)

// Options configures one import.
type Options struct {
	// MergeMode defaults to MergeUpdateMissing.
	MergeMode MergeMode

	// Workers bounds how many entities of one dependency level are
	// written concurrently. Defaults to 1, which processes entities in
	// order on the calling goroutine.
	Workers int

	// DryRun looks every entity up and plans the outcome without writing.
	DryRun bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Validate fills defaults and rejects invalid values.
func (o *Options) Validate() error {
	mode, err := ParseMergeMode(string(o.MergeMode))
	if err != nil {
		return err
	}
	o.MergeMode = mode
	if o.Workers < 0 {
		return entity.NewConfigurationError("workers must be positive, got %d", o.Workers)
	}
	if o.Workers == 0 {
		o.Workers = 1
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return nil
}

// Tally counts outcomes for one kind.
type Tally struct {
	Created   int
	Updated   int
	Unchanged int
	Skipped   int
	Failed    int
}

// Total returns the number of entities tallied.
func (t Tally) Total() int {
	return t.Created + t.Updated + t.Unchanged + t.Skipped + t.Failed
}

func (t *Tally) add(o Tally) {
	t.Created += o.Created
	t.Updated += o.Updated
	t.Unchanged += o.Unchanged
	t.Skipped += o.Skipped
	t.Failed += o.Failed
}

// MsgDependencyFailed marks entities left out because something they
// link to failed.
const MsgDependencyFailed = "skipped, dependency failed"

// EntityError records why one entity was not imported.
type EntityError struct {
	Ref     entity.Ref
	Kind    entity.Kind
	Label   string
	Message string
	Err     error
}

func (e EntityError) Error() string {
	msg := fmt.Sprintf("%s (ref %d): %s", e.Label, e.Ref, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e EntityError) Unwrap() error {
	return e.Err
}

// Result describes a finished, partial or cancelled import.
type Result struct {
	Tallies map[entity.Kind]Tally

	// Errors lists failed and dependency-skipped entities, in ref order.
	Errors []EntityError

	// Notes lists informational messages, such as duplicates folded into
	// an earlier entity.
	Notes []string

	// IDs maps each resolved ref to its store id.
	IDs map[entity.Ref]string

	// Steps is the number of entities processed.
	Steps int

	Cancelled bool
	DryRun    bool
}

// Totals sums the tallies of every kind.
func (r *Result) Totals() Tally {
	var t Tally
	for _, k := range r.Tallies {
		t.add(k)
	}
	return t
}

// Summary renders r for humans.
func (r *Result) Summary(p *message.Printer) string {
	if p == nil {
		p = i18n.Default()
	}
	var b strings.Builder
	switch {
	case r.Cancelled:
		b.WriteString(p.Sprintf(i18n.MsgImportCancelled, r.Steps))
	case r.DryRun:
		b.WriteString(p.Sprintf(i18n.MsgImportDryRun, r.Steps))
	default:
		b.WriteString(p.Sprintf(i18n.MsgImportSummary, r.Steps))
	}
	b.WriteByte('\n')

	kinds := slices.SortedFunc(maps.Keys(r.Tallies), func(a, b entity.Kind) int {
		return cmp.Compare(a.Rank(), b.Rank())
	})
	for _, k := range kinds {
		t := r.Tallies[k]
		b.WriteString(p.Sprintf(i18n.MsgTally, string(k), t.Created, t.Updated, t.Unchanged, t.Skipped, t.Failed))
		b.WriteByte('\n')
	}
	for _, e := range r.Errors {
		b.WriteString(p.Sprintf(i18n.MsgEntityError, e.Error()))
		b.WriteByte('\n')
	}
	for _, n := range r.Notes {
		b.WriteString(p.Sprintf(i18n.MsgWarning, n))
		b.WriteByte('\n')
	}
	return b.String()
}
