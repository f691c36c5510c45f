// Package exporter turns a store subgraph into a self-contained document.
//
// Export walks the store breadth-first from a root product, test plan or
// test case. Every entity reached gets the next local reference on first
// visit; the visited set is keyed by natural key so an entity reachable
// along many paths is exported once. Child order is the store's order for
// links and natural-key order for expansions, which makes two exports of
// an unchanged store byte-identical.
//
// The store is only read. Links whose target no longer exists are dropped
// with a warning; any other store failure aborts the export.
package exporter

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/issai/internal/document"
	"github.com/roach88/issai/internal/entity"
	"github.com/roach88/issai/internal/metrics"
	"github.com/roach88/issai/internal/monitor"
	"github.com/roach88/issai/internal/repository"
)

// Export writes the subgraph rooted at root to outputPath.
// An empty outputPath skips writing; the document is still returned in the
// Result. A nil monitor never cancels.
//
// On cancellation no file is written and the Result has Cancelled set.
func Export(ctx context.Context, repo repository.Reader, root Reference, opts Options, outputPath string, mon monitor.Monitor) (*Result, error) {
	if !root.Kind.Exportable() {
		return nil, entity.NewConfigurationError("cannot export %q: root must be a product, testplan or testcase", root.Kind)
	}
	if root.StoreID == "" {
		return nil, entity.NewConfigurationError("export root %s has no store id", root.Kind)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if mon == nil {
		mon = monitor.Nop()
	}

	w := &walker{
		repo:     repo,
		opts:     opts,
		mon:      mon,
		logger:   opts.Logger.With("component", "exporter"),
		doc:      document.New(),
		refs:     map[string]entity.Ref{},
		byID:     map[string]entity.Ref{},
		admitted: map[string]bool{},
	}

	result, err := w.run(ctx, root)
	if err != nil || result.Cancelled {
		return result, err
	}

	if outputPath != "" {
		if err := document.WriteFile(outputPath, result.Document); err != nil {
			return nil, err
		}
		result.Path = outputPath
	}
	for kind, n := range result.Counts {
		metrics.RecordExported(string(kind), n)
	}
	w.logger.Info("export finished",
		"root", root.String(),
		"entities", result.Total(),
		"warnings", len(result.Warnings),
		"path", outputPath)
	return result, nil
}

// walker holds the state of one export. It is never shared.
type walker struct {
	repo   repository.Reader
	opts   Options
	mon    monitor.Monitor
	logger *slog.Logger

	doc   *document.Document
	next  entity.Ref
	queue []pending

	refs     map[string]entity.Ref // natural key -> ref
	byID     map[string]entity.Ref // store id -> ref, read cache
	admitted map[string]bool       // store id -> key links resolvable

	warnings []string
	steps    int
}

type pending struct {
	ref  entity.Ref
	rec  *repository.Record
	root bool
}

func (w *walker) run(ctx context.Context, root Reference) (*Result, error) {
	rec, err := w.repo.Get(ctx, root.Kind, root.StoreID)
	if err != nil {
		return nil, entity.NewStoreError(root.Kind, "read export root "+root.StoreID, err)
	}
	ok, err := w.admit(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, entity.NewStoreError(root.Kind, "export root "+root.StoreID+" references a missing entity", entity.ErrNotFound)
	}
	if _, err := w.enqueue(rec); err != nil {
		return nil, err
	}
	w.queue[0].root = true

	for len(w.queue) > 0 {
		if w.mon.Cancelled() {
			w.logger.Info("export cancelled", "steps", w.steps)
			return &Result{
				Counts:    w.doc.Counts(),
				Warnings:  w.warnings,
				Steps:     w.steps,
				Cancelled: true,
			}, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		item := w.queue[0]
		w.queue = w.queue[1:]

		w.mon.ReportStep("export " + label(item.rec))
		if err := w.visit(ctx, item); err != nil {
			return nil, err
		}
		w.steps++
		w.mon.ReportProgress(w.steps, w.steps+len(w.queue))
	}

	w.doc.Root = 1
	if err := w.doc.Validate(); err != nil {
		return nil, fmt.Errorf("export produced an inconsistent document: %w", err)
	}
	return &Result{
		Document: w.doc,
		Counts:   w.doc.Counts(),
		Warnings: w.warnings,
		Steps:    w.steps,
	}, nil
}

// visit converts one record into a document entity and discovers its
// neighbours.
func (w *walker) visit(ctx context.Context, item pending) error {
	rec := item.rec
	schema := entity.SchemaOf(rec.Kind)

	fields, err := w.exportFields(ctx, rec)
	if err != nil {
		return err
	}
	e := &entity.Entity{
		Ref:    item.ref,
		Kind:   rec.Kind,
		Key:    entity.Object{},
		Fields: fields,
	}
	for _, f := range schema.KeyFields {
		if v, ok := rec.Key[f]; ok {
			e.Key[f] = entity.CloneValue(v)
		}
	}

	for _, spec := range schema.Links {
		for _, id := range rec.Links[spec.Name] {
			ref, state, err := w.resolve(ctx, spec.Target, id)
			if err != nil {
				return err
			}
			switch state {
			case targetMissing:
				w.warn("%s: link %q to %s %s no longer resolves, omitted", label(rec), spec.Name, spec.Target, id)
				continue
			case targetOmitted:
				w.warn("%s: link %q to omitted %s %s dropped", label(rec), spec.Name, spec.Target, id)
				continue
			}
			if e.Links == nil {
				e.Links = map[string][]entity.Ref{}
			}
			e.Links[spec.Name] = append(e.Links[spec.Name], ref)
		}
	}
	if err := w.doc.Add(e); err != nil {
		return err
	}
	w.logger.Debug("exported entity", "ref", item.ref, "kind", rec.Kind, "id", rec.ID)

	return w.expand(ctx, item)
}

// expand follows the reverse edges that make an export useful: a root
// product pulls in its plans and cases, and a plan pulls in its results
// when requested.
func (w *walker) expand(ctx context.Context, item pending) error {
	rec := item.rec
	switch {
	case item.root && rec.Kind == entity.KindProduct:
		plans, err := w.list(ctx, entity.KindTestPlan, entity.LinkProduct, rec.ID)
		if err != nil {
			return err
		}
		plans = slices.DeleteFunc(plans, func(p *repository.Record) bool {
			return w.opts.Version != "" && !keyEquals(p, entity.FieldVersion, w.opts.Version)
		})
		cases, err := w.list(ctx, entity.KindTestCase, entity.LinkProduct, rec.ID)
		if err != nil {
			return err
		}
		return w.includeAll(ctx, append(plans, cases...))

	case rec.Kind == entity.KindTestPlan && w.opts.IncludeResults:
		results, err := w.list(ctx, entity.KindPlanResult, entity.LinkPlan, rec.ID)
		if err != nil {
			return err
		}
		var keep []*repository.Record
		for _, r := range results {
			match, err := w.matchesBuild(ctx, r)
			if err != nil {
				return err
			}
			if match {
				keep = append(keep, r)
			}
		}
		return w.includeAll(ctx, keep)
	}
	return nil
}

// list returns records of kind linking to id, ordered by natural key with
// store order breaking ties.
func (w *walker) list(ctx context.Context, kind entity.Kind, link, id string) ([]*repository.Record, error) {
	recs, err := w.repo.ListReferencing(ctx, kind, link, id)
	if err != nil {
		return nil, entity.NewStoreError(kind, fmt.Sprintf("list %s by %s %s", kind, link, id), err)
	}
	keys := make(map[*repository.Record]string, len(recs))
	for _, r := range recs {
		data, err := entity.MarshalCanonical(r.Key)
		if err != nil {
			return nil, entity.NewStoreError(kind, "key of "+r.ID, err)
		}
		keys[r] = string(data)
	}
	slices.SortStableFunc(recs, func(a, b *repository.Record) int {
		return strings.Compare(keys[a], keys[b])
	})
	return recs, nil
}

func (w *walker) matchesBuild(ctx context.Context, result *repository.Record) (bool, error) {
	if w.opts.Version == "" && w.opts.Build == "" {
		return true, nil
	}
	id, ok := result.Link(entity.LinkBuild)
	if !ok {
		return false, nil
	}
	build, err := w.repo.Get(ctx, entity.KindBuild, id)
	if errors.Is(err, entity.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, entity.NewStoreError(entity.KindBuild, "read build "+id, err)
	}
	if w.opts.Version != "" && !keyEquals(build, entity.FieldVersion, w.opts.Version) {
		return false, nil
	}
	if w.opts.Build != "" && !keyEquals(build, entity.FieldName, w.opts.Build) {
		return false, nil
	}
	return true, nil
}

func (w *walker) includeAll(ctx context.Context, recs []*repository.Record) error {
	for _, r := range recs {
		ok, err := w.admit(ctx, r)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if _, err := w.enqueue(r); err != nil {
			return err
		}
	}
	return nil
}

// targetState says whether a link target got a ref.
type targetState int

const (
	targetResolved targetState = iota
	targetMissing              // no longer in the store
	targetOmitted              // exists, but admit left it out
)

// resolve maps a link target to its ref, enqueueing it on first sight.
func (w *walker) resolve(ctx context.Context, kind entity.Kind, id string) (entity.Ref, targetState, error) {
	if ref, ok := w.byID[id]; ok {
		return ref, targetResolved, nil
	}
	rec, err := w.repo.Get(ctx, kind, id)
	if errors.Is(err, entity.ErrNotFound) {
		return 0, targetMissing, nil
	}
	if err != nil {
		return 0, targetMissing, entity.NewStoreError(kind, "read "+string(kind)+" "+id, err)
	}
	ok, err := w.admit(ctx, rec)
	if err != nil {
		return 0, targetOmitted, err
	}
	if !ok {
		return 0, targetOmitted, nil
	}
	ref, err := w.enqueue(rec)
	if err != nil {
		return 0, targetOmitted, err
	}
	return ref, targetResolved, nil
}

// enqueue assigns the next ref to rec unless its natural key was seen.
func (w *walker) enqueue(rec *repository.Record) (entity.Ref, error) {
	nk, err := rec.NaturalKey()
	if err != nil {
		return 0, entity.NewStoreError(rec.Kind, "natural key of "+rec.ID, err)
	}
	if ref, ok := w.refs[nk]; ok {
		w.byID[rec.ID] = ref
		return ref, nil
	}
	w.next++
	ref := w.next
	w.refs[nk] = ref
	w.byID[rec.ID] = ref
	w.queue = append(w.queue, pending{ref: ref, rec: rec})
	return ref, nil
}

// admit reports whether every key link of rec, transitively, resolves.
// An entity without its key cannot be re-imported, so it is left out.
func (w *walker) admit(ctx context.Context, rec *repository.Record) (bool, error) {
	if ok, seen := w.admitted[rec.ID]; seen {
		return ok, nil
	}
	ok := true
	for _, spec := range entity.SchemaOf(rec.Kind).KeyLinks() {
		id, has := rec.Link(spec.Name)
		if !has {
			w.warn("%s: key link %q is empty, entity omitted", label(rec), spec.Name)
			ok = false
			break
		}
		if _, known := w.byID[id]; known {
			continue
		}
		target, err := w.repo.Get(ctx, spec.Target, id)
		if errors.Is(err, entity.ErrNotFound) {
			w.warn("%s: key link %q to %s %s no longer resolves, entity omitted", label(rec), spec.Name, spec.Target, id)
			ok = false
			break
		}
		if err != nil {
			return false, entity.NewStoreError(spec.Target, "read "+string(spec.Target)+" "+id, err)
		}
		targetOK, err := w.admit(ctx, target)
		if err != nil {
			return false, err
		}
		if !targetOK {
			w.warn("%s: depends on omitted %s, entity omitted", label(rec), label(target))
			ok = false
			break
		}
	}
	w.admitted[rec.ID] = ok
	return ok, nil
}

// exportFields copies the schema fields of rec, embedding attachment
// content when requested.
func (w *walker) exportFields(ctx context.Context, rec *repository.Record) (entity.Object, error) {
	schema := entity.SchemaOf(rec.Kind)
	var out entity.Object
	for _, f := range rec.Fields.SortedKeys() {
		v := rec.Fields[f]
		if !schema.HasField(f) {
			w.warn("%s: unknown field %q dropped", label(rec), f)
			continue
		}
		if entity.IsEmpty(v) {
			continue
		}
		if out == nil {
			out = entity.Object{}
		}
		out[f] = entity.CloneValue(v)
	}

	list, ok := out[entity.FieldAttachments].(entity.List)
	if !ok {
		return out, nil
	}
	if w.opts.Attachments != AttachEmbed {
		for _, item := range list {
			if att, ok := item.(entity.Object); ok {
				delete(att, entity.FieldContent)
			}
		}
		return out, nil
	}
	for i, item := range list {
		att, ok := item.(entity.Object)
		if !ok {
			continue
		}
		path, ok := att[entity.FieldPath].(entity.String)
		if !ok {
			continue
		}
		content, err := w.repo.ReadAttachment(ctx, string(path))
		if errors.Is(err, entity.ErrNotFound) {
			w.warn("%s: attachment %q not found, kept as reference", label(rec), string(path))
			continue
		}
		if err != nil {
			return nil, entity.NewStoreError(rec.Kind, fmt.Sprintf("read attachment %q", string(path)), err)
		}
		att[entity.FieldContent] = entity.String(base64.StdEncoding.EncodeToString(content))
		list[i] = att
	}
	return out, nil
}

func (w *walker) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	w.warnings = append(w.warnings, msg)
	w.logger.Warn(msg)
}

func keyEquals(rec *repository.Record, field, want string) bool {
	s, ok := rec.Key[field].(entity.String)
	return ok && string(s) == want
}

// label names a record by its scalar key fields, for messages.
func label(rec *repository.Record) string {
	var parts []string
	for _, f := range entity.SchemaOf(rec.Kind).KeyFields {
		switch v := rec.Key[f].(type) {
		case entity.String:
			parts = append(parts, string(v))
		case entity.Int:
			parts = append(parts, fmt.Sprint(int64(v)))
		case entity.Bool:
			parts = append(parts, fmt.Sprint(bool(v)))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s %s", rec.Kind, rec.ID)
	}
	return fmt.Sprintf("%s %q", rec.Kind, strings.Join(parts, "/"))
}
