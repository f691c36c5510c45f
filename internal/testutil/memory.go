package testutil

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/issai/internal/entity"
	"github.com/roach88/issai/internal/repository"
)

// Op names a repository primitive, used for failure injection and the
// write log.
type Op string

const (
	OpGet        Op = "get"
	OpFind       Op = "find"
	OpCreate     Op = "create"
	OpUpdate     Op = "update"
	OpList       Op = "list"
	OpAttachment Op = "attachment"
	OpPutAttach  Op = "put-attachment"
)

// Write is one mutating call observed by a MemoryRepository.
type Write struct {
	Op   Op
	Kind entity.Kind
	ID   string
	Rec  *repository.Record // state after the write
}

// FailureFunc decides whether a call should fail. key holds the scalar
// natural-key fields of the record involved, when known.
type FailureFunc func(op Op, kind entity.Kind, key entity.Object) error

// ErrInjected is the error returned by FailOn.
var ErrInjected = errors.New("injected failure")

// FailOn returns a FailureFunc that fails op for records of kind whose key
// field equals value.
func FailOn(op Op, kind entity.Kind, field, value string) FailureFunc {
	return func(o Op, k entity.Kind, key entity.Object) error {
		if o != op || k != kind {
			return nil
		}
		if s, ok := key[field].(entity.String); ok && string(s) == value {
			return fmt.Errorf("%s %s %q: %w", op, kind, value, ErrInjected)
		}
		return nil
	}
}

// MemoryRepository is an in-memory repository.Repository for tests.
// Store ids are random UUIDs; listings follow insertion order.
//
// StrictLinks makes Create and Update reject link targets that do not
// exist, which lets tests prove no unresolved reference is ever submitted.
//
// Thread-safety: All methods are safe for concurrent use.
type MemoryRepository struct {
	StrictLinks bool

	mu          sync.Mutex
	clock       *Clock
	records     map[string]*memEntry
	byKey       map[string]string
	attachments map[string][]byte
	writes      []Write
	fail        FailureFunc
	onWrite     func(Write)
}

type memEntry struct {
	seq int64
	rec *repository.Record
}

var _ repository.Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		clock:       NewClock(0),
		records:     map[string]*memEntry{},
		byKey:       map[string]string{},
		attachments: map[string][]byte{},
	}
}

// SetFailure installs a failure hook. nil removes it.
func (m *MemoryRepository) SetFailure(f FailureFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = f
}

// OnWrite installs a callback run after every successful write, outside
// the repository lock.
func (m *MemoryRepository) OnWrite(f func(Write)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWrite = f
}

func (m *MemoryRepository) check(op Op, kind entity.Kind, key entity.Object) error {
	if m.fail == nil {
		return nil
	}
	return m.fail(op, kind, key)
}

// Get implements repository.Reader.
func (m *MemoryRepository) Get(ctx context.Context, kind entity.Kind, id string) (*repository.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.records[id]
	if !ok || e.rec.Kind != kind {
		return nil, fmt.Errorf("%s %s: %w", kind, id, entity.ErrNotFound)
	}
	if err := m.check(OpGet, kind, e.rec.Key); err != nil {
		return nil, err
	}
	return e.rec.Clone(), nil
}

// Find implements repository.Writer.
func (m *MemoryRepository) Find(ctx context.Context, key repository.Key) (*repository.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nk, err := key.String()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(OpFind, key.Kind, key.Fields); err != nil {
		return nil, err
	}
	id, ok := m.byKey[nk]
	if !ok {
		return nil, fmt.Errorf("%s: %w", nk, entity.ErrNotFound)
	}
	return m.records[id].rec.Clone(), nil
}

// Create implements repository.Writer. A second record with the same
// natural key is rejected.
func (m *MemoryRepository) Create(ctx context.Context, rec *repository.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	nk, err := rec.NaturalKey()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if err := m.check(OpCreate, rec.Kind, rec.Key); err != nil {
		m.mu.Unlock()
		return "", err
	}
	if _, exists := m.byKey[nk]; exists {
		m.mu.Unlock()
		return "", fmt.Errorf("create %s: duplicate natural key %s", rec.Kind, nk)
	}
	if err := m.checkLinks(rec.Kind, rec.Links); err != nil {
		m.mu.Unlock()
		return "", err
	}

	stored := rec.Clone()
	stored.ID = uuid.NewString()
	m.records[stored.ID] = &memEntry{seq: m.clock.Next(), rec: stored}
	m.byKey[nk] = stored.ID
	w := m.logWrite(OpCreate, stored)
	m.mu.Unlock()

	m.notify(w)
	return stored.ID, nil
}

// Update implements repository.Writer.
func (m *MemoryRepository) Update(ctx context.Context, kind entity.Kind, id string, patch repository.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	e, ok := m.records[id]
	if !ok || e.rec.Kind != kind {
		m.mu.Unlock()
		return fmt.Errorf("update %s %s: %w", kind, id, entity.ErrNotFound)
	}
	if err := m.check(OpUpdate, kind, e.rec.Key); err != nil {
		m.mu.Unlock()
		return err
	}
	schema := entity.SchemaOf(kind)
	for name := range patch.Links {
		if spec, ok := schema.Link(name); ok && spec.Key {
			m.mu.Unlock()
			return fmt.Errorf("update %s %s: key link %q is immutable", kind, id, name)
		}
	}
	if err := m.checkLinks(kind, patch.Links); err != nil {
		m.mu.Unlock()
		return err
	}

	patch.Apply(e.rec)
	w := m.logWrite(OpUpdate, e.rec)
	m.mu.Unlock()

	m.notify(w)
	return nil
}

// Delete removes a record. Links pointing at it are left dangling.
func (m *MemoryRepository) Delete(kind entity.Kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.records[id]
	if !ok || e.rec.Kind != kind {
		return fmt.Errorf("delete %s %s: %w", kind, id, entity.ErrNotFound)
	}
	if nk, err := e.rec.NaturalKey(); err == nil {
		delete(m.byKey, nk)
	}
	delete(m.records, id)
	return nil
}

// ListReferencing implements repository.Reader. Results follow insertion
// order.
func (m *MemoryRepository) ListReferencing(ctx context.Context, kind entity.Kind, link, targetID string) ([]*repository.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(OpList, kind, nil); err != nil {
		return nil, err
	}
	return m.collect(func(r *repository.Record) bool {
		return r.Kind == kind && slices.Contains(r.Links[link], targetID)
	}), nil
}

// List returns every record of kind in insertion order.
func (m *MemoryRepository) List(ctx context.Context, kind entity.Kind) ([]*repository.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collect(func(r *repository.Record) bool { return r.Kind == kind }), nil
}

// ReadAttachment implements repository.Reader.
func (m *MemoryRepository) ReadAttachment(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(OpAttachment, "", entity.Object{entity.FieldPath: entity.String(path)}); err != nil {
		return nil, err
	}
	content, ok := m.attachments[path]
	if !ok {
		return nil, fmt.Errorf("attachment %q: %w", path, entity.ErrNotFound)
	}
	return slices.Clone(content), nil
}

// PutAttachment implements repository.AttachmentWriter.
func (m *MemoryRepository) PutAttachment(ctx context.Context, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(OpPutAttach, "", entity.Object{entity.FieldPath: entity.String(path)}); err != nil {
		return err
	}
	m.attachments[path] = slices.Clone(content)
	return nil
}

// Writes returns every successful write so far, in order.
func (m *MemoryRepository) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.writes)
}

// Len returns the number of stored records.
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MemoryRepository) collect(match func(*repository.Record) bool) []*repository.Record {
	var entries []*memEntry
	for _, e := range m.records {
		if match(e.rec) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]*repository.Record, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.rec.Clone())
	}
	return out
}

func (m *MemoryRepository) checkLinks(kind entity.Kind, links map[string][]string) error {
	if !m.StrictLinks {
		return nil
	}
	schema := entity.SchemaOf(kind)
	for name, targets := range links {
		spec, ok := schema.Link(name)
		if !ok {
			return fmt.Errorf("%s: unknown link %q", kind, name)
		}
		for _, id := range targets {
			e, ok := m.records[id]
			if !ok || e.rec.Kind != spec.Target {
				return fmt.Errorf("%s: link %q targets unknown %s %q", kind, name, spec.Target, id)
			}
		}
	}
	return nil
}

// logWrite must be called with mu held.
func (m *MemoryRepository) logWrite(op Op, rec *repository.Record) Write {
	w := Write{Op: op, Kind: rec.Kind, ID: rec.ID, Rec: rec.Clone()}
	m.writes = append(m.writes, w)
	return w
}

func (m *MemoryRepository) notify(w Write) {
	m.mu.Lock()
	f := m.onWrite
	m.mu.Unlock()
	if f != nil {
		f(w)
	}
}
