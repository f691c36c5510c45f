package exporter

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"golang.org/x/text/message"

	"github.com/roach88/issai/internal/document"
	"github.com/roach88/issai/internal/entity"
	"github.com/roach88/issai/internal/i18n"
)

// AttachmentMode controls how test case attachments are exported.
type AttachmentMode string

const (
	// AttachReference keeps each attachment's path only.
	AttachReference AttachmentMode = "reference"
	// AttachEmbed stores base64 content next to the path.
	AttachEmbed AttachmentMode = "embed"
)

// Reference identifies the root entity of an export.
type Reference struct {
	Kind    entity.Kind
	StoreID string
}

func (r Reference) String() string {
	return fmt.Sprintf("%s %s", r.Kind, r.StoreID)
}

// Options configures one export.
type Options struct {
	// IncludeResults pulls plan results (and their case results) for every
	// exported test plan.
	IncludeResults bool

	// Version restricts expanded test plans and results to one product
	// version. Empty means all versions.
	Version string

	// Build restricts results to builds with this name. Empty means all.
	Build string

	// Attachments defaults to AttachReference.
	Attachments AttachmentMode

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Validate fills defaults and rejects unknown modes.
func (o *Options) Validate() error {
	switch o.Attachments {
	case "":
		o.Attachments = AttachReference
	case AttachReference, AttachEmbed:
	default:
		return entity.NewConfigurationError("unknown attachment mode %q", o.Attachments)
	}
	if o.Build != "" && !o.IncludeResults {
		return entity.NewConfigurationError("build filter %q requires results to be included", o.Build)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return nil
}

// Result describes a finished or cancelled export.
type Result struct {
	// Path is the written file. Empty when nothing was written.
	Path string

	// Document is the exported graph, nil when cancelled.
	Document *document.Document

	// Counts holds exported entities per kind.
	Counts map[entity.Kind]int

	// Warnings lists non-fatal problems such as dangling links.
	Warnings []string

	// Steps is the number of entities processed.
	Steps int

	Cancelled bool
}

// Total returns the number of exported entities.
func (r *Result) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// Summary renders r for humans.
func (r *Result) Summary(p *message.Printer) string {
	if p == nil {
		p = i18n.Default()
	}
	var b strings.Builder
	if r.Cancelled {
		b.WriteString(p.Sprintf(i18n.MsgExportCancelled, r.Steps))
	} else {
		b.WriteString(p.Sprintf(i18n.MsgExportSummary, r.Total(), r.Path))
	}
	b.WriteByte('\n')
	writeCounts(&b, p, r.Counts)
	for _, w := range r.Warnings {
		b.WriteString(p.Sprintf(i18n.MsgWarning, w))
		b.WriteByte('\n')
	}
	return b.String()
}

func writeCounts(w io.Writer, p *message.Printer, counts map[entity.Kind]int) {
	kinds := slices.SortedFunc(maps.Keys(counts), func(a, b entity.Kind) int {
		return a.Rank() - b.Rank()
	})
	for _, k := range kinds {
		p.Fprintf(w, i18n.MsgKindCount, string(k), counts[k])
		io.WriteString(w, "\n")
	}
}
