// Package repository defines the contract between the export/import engine
// and an entity store.
//
// The store is authoritative and outlives every call. The engine only
// assumes the primitives below: no batch operations, no transactions.
package repository

import (
	"context"
	"maps"
	"slices"

	"github.com/roach88/issai/internal/entity"
)

// Record is an entity as held by a store. Links carry store ids.
type Record struct {
	Kind   entity.Kind
	ID     string
	Key    entity.Object       // scalar natural-key fields
	Fields entity.Object       // mutable fields
	Links  map[string][]string // link name -> ordered target store ids
}

// Link returns the single target of link name.
func (r *Record) Link(name string) (string, bool) {
	targets := r.Links[name]
	if len(targets) == 0 {
		return "", false
	}
	return targets[0], true
}

// NaturalKey returns the store-scoped natural key of r.
func (r *Record) NaturalKey() (string, error) {
	return r.KeyOf().String()
}

// KeyOf extracts the lookup key of r.
func (r *Record) KeyOf() Key {
	k := Key{Kind: r.Kind, Fields: r.Key, Links: map[string]string{}}
	for _, spec := range entity.SchemaOf(r.Kind).KeyLinks() {
		if id, ok := r.Link(spec.Name); ok {
			k.Links[spec.Name] = id
		}
	}
	return k
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	out := &Record{
		Kind:   r.Kind,
		ID:     r.ID,
		Key:    r.Key.Clone(),
		Fields: r.Fields.Clone(),
	}
	if r.Links != nil {
		out.Links = make(map[string][]string, len(r.Links))
		for name, targets := range r.Links {
			out.Links[name] = slices.Clone(targets)
		}
	}
	return out
}

// Key identifies an entity by natural key within one store.
type Key struct {
	Kind   entity.Kind
	Fields entity.Object     // scalar key fields
	Links  map[string]string // key link name -> target store id
}

// String renders the canonical natural key.
func (k Key) String() (string, error) {
	return entity.NaturalKey(k.Kind, k.Fields, k.Links)
}

// Patch lists the mutable parts of a record to change. Fields absent from
// the patch are left untouched. A link present in Links replaces the whole
// target list of that link.
type Patch struct {
	Fields entity.Object
	Links  map[string][]string
}

// Empty reports whether p changes nothing.
func (p Patch) Empty() bool {
	return len(p.Fields) == 0 && len(p.Links) == 0
}

// Apply merges p into r in place.
func (p Patch) Apply(r *Record) {
	if len(p.Fields) > 0 && r.Fields == nil {
		r.Fields = entity.Object{}
	}
	for f, v := range p.Fields {
		r.Fields[f] = entity.CloneValue(v)
	}
	if len(p.Links) > 0 && r.Links == nil {
		r.Links = map[string][]string{}
	}
	for name, targets := range p.Links {
		r.Links[name] = slices.Clone(targets)
	}
}

// Reader is the read side used by the exporter.
type Reader interface {
	// Get returns the record with the given store id, or an error wrapping
	// entity.ErrNotFound.
	Get(ctx context.Context, kind entity.Kind, id string) (*Record, error)

	// ListReferencing returns records of kind whose link points at
	// targetID, in store order.
	ListReferencing(ctx context.Context, kind entity.Kind, link, targetID string) ([]*Record, error)

	// ReadAttachment returns the content of an attachment path.
	ReadAttachment(ctx context.Context, path string) ([]byte, error)
}

// Writer is the write side used by the importer.
type Writer interface {
	// Find looks an entity up by natural key. Returns an error wrapping
	// entity.ErrNotFound when absent.
	Find(ctx context.Context, key Key) (*Record, error)

	// Create stores a new record and returns its store id.
	Create(ctx context.Context, rec *Record) (string, error)

	// Update applies patch to an existing record.
	Update(ctx context.Context, kind entity.Kind, id string, patch Patch) error
}

// Repository is a full store.
type Repository interface {
	Reader
	Writer
}

// AttachmentWriter stores attachment content under a path. Writers that
// implement it receive embedded attachment content on import.
type AttachmentWriter interface {
	PutAttachment(ctx context.Context, path string, content []byte) error
}

// SortedLinkNames returns link names of r in lexical order.
func SortedLinkNames(links map[string][]string) []string {
	return slices.Sorted(maps.Keys(links))
}
