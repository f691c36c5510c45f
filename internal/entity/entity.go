package entity

import (
	"fmt"
	"slices"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// Ref is a local reference id. Refs are positive, unique within one
// document, and only meaningful for that document's lifetime.
type Ref int64

// String renders r the way documents spell it as a map key.
func (r Ref) String() string {
	return strconv.FormatInt(int64(r), 10)
}

// ParseRef parses a document map key into a Ref.
func ParseRef(s string) (Ref, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 || strconv.FormatInt(n, 10) != s {
		return 0, fmt.Errorf("invalid local reference id %q", s)
	}
	return Ref(n), nil
}

// Entity is one typed record inside a document.
type Entity struct {
	Ref    Ref              `json:"-"`
	Kind   Kind             `json:"kind"`
	Key    Object           `json:"key"`              // scalar natural-key fields
	Fields Object           `json:"fields,omitempty"` // mutable fields
	Links  map[string][]Ref `json:"links,omitempty"`  // link name -> ordered targets
}

// Link returns the single target of link name.
func (e *Entity) Link(name string) (Ref, bool) {
	targets := e.Links[name]
	if len(targets) == 0 {
		return 0, false
	}
	return targets[0], true
}

// Targets returns every Ref referenced by e across all links, in schema
// order, then target order. Duplicates are preserved.
func (e *Entity) Targets() []Ref {
	var out []Ref
	for _, l := range SchemaOf(e.Kind).Links {
		out = append(out, e.Links[l.Name]...)
	}
	return out
}

// Clone returns a deep copy of e.
func (e *Entity) Clone() *Entity {
	out := &Entity{
		Ref:    e.Ref,
		Kind:   e.Kind,
		Key:    e.Key.Clone(),
		Fields: e.Fields.Clone(),
	}
	if e.Links != nil {
		out.Links = make(map[string][]Ref, len(e.Links))
		for name, targets := range e.Links {
			out.Links[name] = slices.Clone(targets)
		}
	}
	return out
}

// Validate checks e against the schema of its kind.
// It does not check that link targets exist; that is a document concern.
func (e *Entity) Validate() error {
	if _, err := ParseKind(string(e.Kind)); err != nil {
		return NewStructuralError(e.Ref, err.Error())
	}
	schema := SchemaOf(e.Kind)

	for _, f := range schema.KeyFields {
		v, ok := e.Key[f]
		if !ok {
			return NewStructuralError(e.Ref, fmt.Sprintf("%s: missing key field %q", e.Kind, f))
		}
		switch v.(type) {
		case String, Int, Bool:
		default:
			return NewStructuralError(e.Ref, fmt.Sprintf("%s: key field %q must be scalar", e.Kind, f))
		}
	}
	for f := range e.Key {
		if !schema.IsKeyField(f) {
			return NewStructuralError(e.Ref, fmt.Sprintf("%s: unknown key field %q", e.Kind, f))
		}
	}
	for f := range e.Fields {
		if !schema.HasField(f) {
			return NewStructuralError(e.Ref, fmt.Sprintf("%s: unknown field %q", e.Kind, f))
		}
	}
	for name, targets := range e.Links {
		spec, ok := schema.Link(name)
		if !ok {
			return NewStructuralError(e.Ref, fmt.Sprintf("%s: unknown link %q", e.Kind, name))
		}
		if !spec.Many && len(targets) > 1 {
			return NewStructuralError(e.Ref, fmt.Sprintf("%s: link %q takes one target, got %d", e.Kind, name, len(targets)))
		}
	}
	for _, spec := range schema.KeyLinks() {
		if len(e.Links[spec.Name]) != 1 {
			return NewStructuralError(e.Ref, fmt.Sprintf("%s: missing key link %q", e.Kind, spec.Name))
		}
	}
	return nil
}

// NaturalKey renders the identity of an entity of kind k.
// key holds the scalar key fields; keyLinks maps each key link name to the
// identifier of its target in the namespace being compared (store ids when
// talking to a store, refs inside a document).
//
// Strings are NFC normalized so that composed and decomposed spellings of
// the same name collapse to one identity.
func NaturalKey(k Kind, key Object, keyLinks map[string]string) (string, error) {
	obj := make(Object, len(key)+len(keyLinks))
	for f, v := range key {
		if s, ok := v.(String); ok {
			v = String(norm.NFC.String(string(s)))
		}
		obj[f] = v
	}
	for name, target := range keyLinks {
		obj["@"+name] = String(target)
	}
	data, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("natural key of %s: %w", k, err)
	}
	return string(k) + ":" + string(data), nil
}

// Label returns a short human-readable name for e, used in messages.
func (e *Entity) Label() string {
	for _, f := range []string{FieldName, FieldSummary, FieldRun} {
		if s, ok := e.Key[f].(String); ok && s != "" {
			return fmt.Sprintf("%s %q", e.Kind, string(s))
		}
	}
	return fmt.Sprintf("%s #%d", e.Kind, e.Ref)
}
