// Package importer reconciles a document against a live store.
//
// Entities are written in dependency order: the document is split into
// levels where every link target sits in an earlier level. Each entity is
// looked up by natural key and either created or merged according to the
// merge mode. Local refs are rewritten to store ids before anything is
// submitted, so the store never sees an unresolved reference.
//
// The import is best-effort with full accounting. A store failure on one
// entity is recorded and its dependants are reported as skipped; unrelated
// entities proceed. Structural problems in the document abort before the
// first write.
package importer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/issai/internal/document"
	"github.com/roach88/issai/internal/entity"
	"github.com/roach88/issai/internal/metrics"
	"github.com/roach88/issai/internal/monitor"
	"github.com/roach88/issai/internal/repository"
)

// ImportFile reads the document at path and imports it.
func ImportFile(ctx context.Context, repo repository.Writer, path string, opts Options, mon monitor.Monitor) (*Result, error) {
	doc, err := document.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Import(ctx, repo, doc, opts, mon)
}

// Import writes doc into repo. A nil monitor never cancels.
//
// The returned error is reserved for problems that stop the import before
// it starts: invalid options or a structurally broken document. Per-entity
// failures are reported in the Result.
func Import(ctx context.Context, repo repository.Writer, doc *document.Document, opts Options, mon monitor.Monitor) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, entity.NewStructuralError(0, "no document to import")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	levels, err := dependencyLevels(doc)
	if err != nil {
		return nil, err
	}
	if mon == nil {
		mon = monitor.Nop()
	}

	r := &run{
		repo:   repo,
		doc:    doc,
		opts:   opts,
		mon:    mon,
		logger: opts.Logger.With("component", "importer"),
		total:  len(doc.Entities),
		ids:    map[entity.Ref]string{},
		failed: map[entity.Ref]bool{},
		byKey:  map[string]entity.Ref{},
		result: &Result{
			Tallies: map[entity.Kind]Tally{},
			DryRun:  opts.DryRun,
		},
	}
	r.logger.Info("import started",
		"entities", r.total,
		"levels", len(levels),
		"merge_mode", string(opts.MergeMode),
		"workers", opts.Workers,
		"dry_run", opts.DryRun)

	for i, level := range levels {
		r.logger.Debug("import level", "level", i, "entities", len(level))
		if !r.importLevel(ctx, level) {
			break
		}
	}
	return r.finish(), nil
}

// run holds the state of one import. It is never shared across calls.
type run struct {
	repo   repository.Writer
	doc    *document.Document
	opts   Options
	mon    monitor.Monitor
	logger *slog.Logger
	total  int

	// Single writer per ref; readers only look at refs of earlier levels,
	// which the level barrier has already published.
	mu     sync.RWMutex
	ids    map[entity.Ref]string // ref -> store id
	failed map[entity.Ref]bool   // failed or skipped refs
	byKey  map[string]entity.Ref // store natural key -> first ref claiming it

	resMu     sync.Mutex
	result    *Result
	cancelled bool
}

// job is one entity ready to be submitted.
type job struct {
	e           *entity.Entity
	rec         *repository.Record
	nk          string
	attachments []attachment
}

// duplicate is a job whose natural key was claimed earlier in the run.
type duplicate struct {
	job
	first entity.Ref
}

// importLevel processes one level and waits for it to finish.
// Returns false once the import was cancelled.
func (r *run) importLevel(ctx context.Context, level []entity.Ref) bool {
	var g errgroup.Group
	g.SetLimit(r.opts.Workers)

	var dups []duplicate
	for _, ref := range level {
		if r.checkCancelled() {
			break
		}
		j, ok := r.prepare(ref)
		if !ok {
			continue
		}
		if first, dup := r.claim(j.nk, ref); dup {
			dups = append(dups, duplicate{job: j, first: first})
			continue
		}
		if r.opts.Workers == 1 {
			r.process(ctx, j)
			continue
		}
		g.Go(func() error {
			r.process(ctx, j)
			return nil
		})
	}
	_ = g.Wait() // per-entity errors are recorded in the result

	// Duplicates resolve against the first claimant once it has finished
	for _, d := range dups {
		if r.checkCancelled() {
			break
		}
		r.alias(d)
	}
	return !r.checkCancelled()
}

// prepare rewrites the links of ref to store ids. Entities depending on a
// failed ref are recorded as skipped.
func (r *run) prepare(ref entity.Ref) (job, bool) {
	e := r.doc.Entities[ref]
	rec := &repository.Record{
		Kind:   e.Kind,
		Key:    e.Key.Clone(),
		Fields: e.Fields.Clone(),
	}

	r.mu.RLock()
	var blocked entity.Ref
	var unresolved bool
links:
	for _, spec := range entity.SchemaOf(e.Kind).Links {
		for _, target := range e.Links[spec.Name] {
			if r.failed[target] {
				blocked = target
				break links
			}
			id, ok := r.ids[target]
			if !ok {
				unresolved = true
				blocked = target
				break links
			}
			if rec.Links == nil {
				rec.Links = map[string][]string{}
			}
			rec.Links[spec.Name] = append(rec.Links[spec.Name], id)
		}
	}
	r.mu.RUnlock()

	switch {
	case unresolved:
		// Levels guarantee this never happens; refuse rather than submit
		r.fail(e, fmt.Sprintf("link target ref %d is unresolved", blocked), nil)
		return job{}, false
	case blocked != 0:
		r.skipDependency(e, blocked)
		return job{}, false
	}

	nk, err := rec.NaturalKey()
	if err != nil {
		r.fail(e, "compute natural key", err)
		return job{}, false
	}
	atts, err := takeAttachments(rec.Fields)
	if err != nil {
		r.fail(e, "decode attachments", &entity.Error{
			Code: entity.ErrCodeStructural, Message: "embedded attachment", Kind: e.Kind, Ref: e.Ref, Err: err,
		})
		return job{}, false
	}
	return job{e: e, rec: rec, nk: nk, attachments: atts}, true
}

// claim registers nk for ref. Returns the earlier ref when nk was already
// claimed in this run.
func (r *run) claim(nk string, ref entity.Ref) (entity.Ref, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if first, ok := r.byKey[nk]; ok {
		return first, true
	}
	r.byKey[nk] = ref
	return 0, false
}

// process looks one entity up and creates or merges it.
func (r *run) process(ctx context.Context, j job) {
	if r.checkCancelled() {
		return
	}
	e := j.e
	r.mon.ReportStep("import " + e.Label())

	existing, err := r.repo.Find(ctx, j.rec.KeyOf())
	switch {
	case errors.Is(err, entity.ErrNotFound):
		id := fmt.Sprintf("dry-run:%d", e.Ref)
		if !r.opts.DryRun {
			id, err = r.repo.Create(ctx, j.rec)
			if err != nil {
				r.fail(e, "create failed", entity.NewStoreError(e.Kind, "create", err))
				return
			}
		}
		if !r.storeAttachments(ctx, j) {
			return
		}
		r.resolve(e, id, Tally{Created: 1})

	case err != nil:
		r.fail(e, "lookup failed", entity.NewStoreError(e.Kind, "find", err))

	case r.opts.MergeMode == MergeSkip:
		r.resolve(e, existing.ID, Tally{Skipped: 1})

	default:
		patch := mergePatch(r.opts.MergeMode, existing, j.rec)
		if patch.Empty() {
			if r.storeAttachments(ctx, j) {
				r.resolve(e, existing.ID, Tally{Unchanged: 1})
			}
			return
		}
		if !r.opts.DryRun {
			if err := r.repo.Update(ctx, e.Kind, existing.ID, patch); err != nil {
				r.fail(e, "update failed", entity.NewStoreError(e.Kind, "update", err))
				return
			}
		}
		if !r.storeAttachments(ctx, j) {
			return
		}
		r.resolve(e, existing.ID, Tally{Updated: 1})
	}
}

// alias points a duplicate at the store id of the first entity with the
// same natural key. Nothing is written.
func (r *run) alias(d duplicate) {
	r.mu.RLock()
	id, ok := r.ids[d.first]
	r.mu.RUnlock()

	if !ok {
		r.skipDependency(d.e, d.first)
		return
	}
	r.note(fmt.Sprintf("%s (ref %d) duplicates ref %d, merged into it", d.e.Label(), d.e.Ref, d.first))
	r.resolve(d.e, id, Tally{Skipped: 1})
}

func (r *run) resolve(e *entity.Entity, id string, t Tally) {
	r.mu.Lock()
	r.ids[e.Ref] = id
	r.mu.Unlock()

	r.logger.Debug("imported entity", "ref", e.Ref, "kind", e.Kind, "id", id,
		"created", t.Created == 1, "updated", t.Updated == 1)
	r.record(e.Kind, t, nil)
}

func (r *run) fail(e *entity.Entity, msg string, err error) {
	r.mu.Lock()
	r.failed[e.Ref] = true
	r.mu.Unlock()

	r.logger.Warn("import failed", "ref", e.Ref, "kind", e.Kind, "error", err, "reason", msg)
	r.record(e.Kind, Tally{Failed: 1}, &EntityError{
		Ref: e.Ref, Kind: e.Kind, Label: e.Label(), Message: msg, Err: err,
	})
}

func (r *run) skipDependency(e *entity.Entity, dep entity.Ref) {
	r.mu.Lock()
	r.failed[e.Ref] = true
	r.mu.Unlock()

	r.logger.Debug("import skipped", "ref", e.Ref, "kind", e.Kind, "dependency", dep)
	r.record(e.Kind, Tally{Skipped: 1}, &EntityError{
		Ref: e.Ref, Kind: e.Kind, Label: e.Label(),
		Message: fmt.Sprintf("%s (ref %d)", MsgDependencyFailed, dep),
	})
}

func (r *run) note(msg string) {
	r.resMu.Lock()
	r.result.Notes = append(r.result.Notes, msg)
	r.resMu.Unlock()
	r.logger.Info(msg)
}

// record adds one processed entity to the result and reports progress.
func (r *run) record(kind entity.Kind, t Tally, entityErr *EntityError) {
	r.resMu.Lock()
	tally := r.result.Tallies[kind]
	tally.add(t)
	r.result.Tallies[kind] = tally
	if entityErr != nil {
		r.result.Errors = append(r.result.Errors, *entityErr)
	}
	r.result.Steps++
	done := r.result.Steps
	r.resMu.Unlock()

	r.mon.ReportProgress(done, r.total)
}

// checkCancelled polls the monitor and remembers a positive answer.
func (r *run) checkCancelled() bool {
	if !r.mon.Cancelled() {
		return false
	}
	r.resMu.Lock()
	r.cancelled = true
	r.resMu.Unlock()
	return true
}

func (r *run) finish() *Result {
	r.resMu.Lock()
	res := r.result
	res.Cancelled = r.cancelled
	r.resMu.Unlock()

	r.mu.RLock()
	res.IDs = maps.Clone(r.ids)
	r.mu.RUnlock()

	slices.SortFunc(res.Errors, func(a, b EntityError) int { return cmp.Compare(a.Ref, b.Ref) })

	if !res.DryRun {
		for kind, t := range res.Tallies {
			k := string(kind)
			metrics.RecordImported(k, metrics.OutcomeCreated, t.Created)
			metrics.RecordImported(k, metrics.OutcomeUpdated, t.Updated)
			metrics.RecordImported(k, metrics.OutcomeUnchanged, t.Unchanged)
			metrics.RecordImported(k, metrics.OutcomeSkipped, t.Skipped)
			metrics.RecordImported(k, metrics.OutcomeFailed, t.Failed)
		}
	}

	totals := res.Totals()
	r.logger.Info("import finished",
		"steps", res.Steps,
		"created", totals.Created,
		"updated", totals.Updated,
		"unchanged", totals.Unchanged,
		"skipped", totals.Skipped,
		"failed", totals.Failed,
		"cancelled", res.Cancelled)
	return res
}
