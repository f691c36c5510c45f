// Package document provides the portable document format and its codec.
//
// A Document is a self-contained entity subgraph: a format tag and version,
// a flat mapping from local reference id to entity record, and a root
// pointer. Links inside the document only use local reference ids.
//
// Encoding is RFC 8785 canonical JSON indented for readability, so two
// encodings of the same document are byte-identical. A YAML rendering is
// available for hand-edited documents. Decoding validates the shape against
// an embedded CUE schema, then referential integrity in Go.
package document

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/issai/internal/entity"
)

// Document is an entity subgraph with local references.
type Document struct {
	Format   string
	Version  int
	Root     entity.Ref
	Entities map[entity.Ref]*entity.Entity
}

// New creates an empty document of the current format version.
func New() *Document {
	return &Document{
		Format:   entity.FormatName,
		Version:  entity.FormatVersion,
		Entities: map[entity.Ref]*entity.Entity{},
	}
}

// Add inserts e under e.Ref. Adding a ref twice is a programming error.
func (d *Document) Add(e *entity.Entity) error {
	if e.Ref <= 0 {
		return fmt.Errorf("add %s: invalid ref %d", e.Kind, e.Ref)
	}
	if _, exists := d.Entities[e.Ref]; exists {
		return fmt.Errorf("add %s: ref %d already used", e.Kind, e.Ref)
	}
	d.Entities[e.Ref] = e
	return nil
}

// Get returns the entity with the given ref.
func (d *Document) Get(ref entity.Ref) (*entity.Entity, bool) {
	e, ok := d.Entities[ref]
	return e, ok
}

// Refs returns all refs in ascending order.
func (d *Document) Refs() []entity.Ref {
	return slices.Sorted(maps.Keys(d.Entities))
}

// Counts returns the number of entities per kind.
func (d *Document) Counts() map[entity.Kind]int {
	counts := map[entity.Kind]int{}
	for _, e := range d.Entities {
		counts[e.Kind]++
	}
	return counts
}

// Validate checks the document's structural integrity:
//   - format tag and version are supported
//   - every entity matches its kind's schema and is stored under its own ref
//   - every link target exists in the document and has the expected kind
//   - the root exists and is an exportable kind
//
// All failures are structural errors.
func (d *Document) Validate() error {
	if d.Format != entity.FormatName {
		return entity.NewStructuralError(0, fmt.Sprintf("unknown document format %q", d.Format))
	}
	if d.Version != entity.FormatVersion {
		return entity.NewStructuralError(0, fmt.Sprintf("unsupported document version %d", d.Version))
	}

	for _, ref := range d.Refs() {
		e := d.Entities[ref]
		if e == nil {
			return entity.NewStructuralError(ref, "empty entity record")
		}
		if e.Ref != ref {
			return entity.NewStructuralError(ref, fmt.Sprintf("entity stored under ref %d carries ref %d", ref, e.Ref))
		}
		if err := e.Validate(); err != nil {
			return err
		}
		schema := entity.SchemaOf(e.Kind)
		for _, spec := range schema.Links {
			for _, target := range e.Links[spec.Name] {
				te, ok := d.Entities[target]
				if !ok {
					return entity.NewStructuralError(ref, fmt.Sprintf("%s: link %q points at missing ref %d", e.Kind, spec.Name, target))
				}
				if te.Kind != spec.Target {
					return entity.NewStructuralError(ref, fmt.Sprintf("%s: link %q expects %s, ref %d is %s", e.Kind, spec.Name, spec.Target, target, te.Kind))
				}
			}
		}
	}

	root, ok := d.Entities[d.Root]
	if !ok {
		return entity.NewStructuralError(d.Root, "root entity missing")
	}
	if !root.Kind.Exportable() {
		return entity.NewStructuralError(d.Root, fmt.Sprintf("root kind %s cannot be exported", root.Kind))
	}
	return nil
}
