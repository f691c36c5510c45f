package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/issai/internal/document"
	"github.com/roach88/issai/internal/entity"
	"github.com/roach88/issai/internal/exporter"
	"github.com/roach88/issai/internal/importer"
	"github.com/roach88/issai/internal/monitor"
	"github.com/roach88/issai/internal/repository"
	"github.com/roach88/issai/internal/store"
)

// Harness runs one scenario against in-memory SQLite stores.
type Harness struct {
	source  *store.Store
	handles map[string]string // scenario handle -> store id
	kinds   map[string]entity.Kind
	monitor *monitor.Tracker
	logger  *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in fresh in-memory databases for isolation. Store ids
// never leak into documents, so the exported bytes are reproducible.
//
// Execution flow:
//  1. Seed the source store and delete the listed records
//  2. Export the subgraph rooted at export.root
//  3. Import the document into a fresh store or back into the source
//  4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	source, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer source.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	h := &Harness{
		source:  source,
		handles: map[string]string{},
		kinds:   map[string]entity.Kind{},
		monitor: monitor.New(logger, monitor.Observer{}),
		logger:  logger,
	}

	ctx := context.Background()
	if err := h.seed(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to seed store: %w", err)
	}

	result := NewResult()
	result.target = source

	doc, err := h.export(ctx, scenario.Export, result)
	if err != nil {
		return nil, fmt.Errorf("failed to export: %w", err)
	}

	if scenario.Import != nil {
		if scenario.Import.Document != "" {
			doc, err = document.ReadFile(scenario.Import.Document)
			if err != nil {
				return nil, fmt.Errorf("failed to read import document: %w", err)
			}
		}
		target := source
		if scenario.Import.Target != TargetSource {
			fresh, err := store.Open(":memory:")
			if err != nil {
				return nil, fmt.Errorf("failed to create target store: %w", err)
			}
			defer fresh.Close()
			target = fresh
		}
		if err := h.importInto(ctx, target, doc, scenario.Import, result); err != nil {
			return nil, fmt.Errorf("failed to import: %w", err)
		}
		result.target = target
	}

	result.Steps = h.monitor.Steps()
	for _, msg := range EvaluateAssertions(ctx, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// seed creates every seeded record in order, then deletes the listed ones.
func (h *Harness) seed(ctx context.Context, scenario *Scenario) error {
	for i, sr := range scenario.Seed {
		rec, err := h.record(sr)
		if err != nil {
			return fmt.Errorf("seed[%d] %s: %w", i, sr.Handle, err)
		}
		id, err := h.source.Create(ctx, rec)
		if err != nil {
			return fmt.Errorf("seed[%d] %s: %w", i, sr.Handle, err)
		}
		h.handles[sr.Handle] = id
		h.kinds[sr.Handle] = rec.Kind
	}
	for path, content := range scenario.Attachments {
		if err := h.source.PutAttachment(ctx, path, []byte(content)); err != nil {
			return err
		}
	}
	for _, handle := range scenario.Delete {
		if err := h.source.Delete(ctx, h.kinds[handle], h.handles[handle]); err != nil {
			return fmt.Errorf("delete %s: %w", handle, err)
		}
	}
	return nil
}

func (h *Harness) record(sr SeedRecord) (*repository.Record, error) {
	kind, err := entity.ParseKind(sr.Kind)
	if err != nil {
		return nil, err
	}
	rec := &repository.Record{Kind: kind}
	if rec.Key, err = toObject(sr.Key); err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	if rec.Fields, err = toObject(sr.Fields); err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}
	for name, targets := range sr.Links {
		if rec.Links == nil {
			rec.Links = map[string][]string{}
		}
		for _, handle := range targets {
			id, ok := h.handles[handle]
			if !ok {
				return nil, fmt.Errorf("link %q: unknown id %q", name, handle)
			}
			rec.Links[name] = append(rec.Links[name], id)
		}
	}
	return rec, nil
}

func (h *Harness) export(ctx context.Context, step *ExportStep, result *Result) (*document.Document, error) {
	if step == nil {
		return nil, nil
	}
	root := exporter.Reference{Kind: h.kinds[step.Root], StoreID: h.handles[step.Root]}
	res, err := exporter.Export(ctx, h.source, root, exporter.Options{
		IncludeResults: step.IncludeResults,
		Version:        step.Version,
		Build:          step.Build,
		Attachments:    exporter.AttachmentMode(step.Attachments),
		Logger:         h.logger,
	}, "", h.monitor)
	if err != nil {
		return nil, err
	}
	result.Export = res
	if res.Document != nil {
		if result.Document, err = document.Marshal(res.Document); err != nil {
			return nil, err
		}
	}
	return res.Document, nil
}

func (h *Harness) importInto(ctx context.Context, target repository.Writer, doc *document.Document, step *ImportStep, result *Result) error {
	res, err := importer.Import(ctx, target, doc, importer.Options{
		MergeMode: importer.MergeMode(step.MergeMode),
		Workers:   step.Workers,
		DryRun:    step.DryRun,
		Logger:    h.logger,
	}, h.monitor)
	if err != nil {
		return err
	}
	result.Import = res
	return nil
}

// toObject converts YAML-decoded values to an entity.Object.
func toObject(m map[string]any) (entity.Object, error) {
	if len(m) == 0 {
		return nil, nil
	}
	v, err := entity.FromAny(m)
	if err != nil {
		return nil, err
	}
	return v.(entity.Object), nil
}
