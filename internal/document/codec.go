package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/issai/internal/entity"
)

// Format selects the on-disk encoding of a document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks the encoding from a file extension.
// .yaml and .yml select YAML; everything else is JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Marshal encodes d as canonical JSON indented by two spaces, with a
// trailing newline. Equal documents produce identical bytes.
func Marshal(d *Document) ([]byte, error) {
	obj, err := toObject(d)
	if err != nil {
		return nil, err
	}
	compact, err := entity.MarshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	// json.Indent copies string bytes verbatim, so canonical escaping survives
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return nil, fmt.Errorf("indent document: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// MarshalYAML encodes d as YAML.
func MarshalYAML(d *Document) ([]byte, error) {
	obj, err := toObject(d)
	if err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(entity.ToAny(obj))
	if err != nil {
		return nil, fmt.Errorf("encode yaml document: %w", err)
	}
	return data, nil
}

// Unmarshal decodes and validates a JSON document.
// Any failure is a structural error.
func Unmarshal(data []byte) (*Document, error) {
	v, err := entity.UnmarshalValue(data)
	if err != nil {
		return nil, structural("decode document", err)
	}
	return fromValue(v)
}

// UnmarshalYAML decodes and validates a YAML document.
func UnmarshalYAML(data []byte) (*Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, structural("decode yaml document", err)
	}
	v, err := entity.FromAny(raw)
	if err != nil {
		return nil, structural("decode yaml document", err)
	}
	return fromValue(v)
}

// Encode writes d to w in the given format.
func Encode(w io.Writer, d *Document, format Format) error {
	var (
		data []byte
		err  error
	)
	if format == FormatYAML {
		data, err = MarshalYAML(d)
	} else {
		data, err = Marshal(d)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Decode reads a whole document from r in the given format.
func Decode(r io.Reader, format Format) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if format == FormatYAML {
		return UnmarshalYAML(data)
	}
	return Unmarshal(data)
}

// WriteFile encodes d to path, choosing the format from the extension.
// The file is written to a temporary sibling and renamed into place, so a
// failed write never leaves a truncated document behind.
func WriteFile(path string, d *Document) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".issai-*.tmp")
	if err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // No-op after a successful rename

	if err := Encode(tmp, d, FormatForPath(path)); err != nil {
		tmp.Close()
		return fmt.Errorf("write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

// ReadFile decodes the document at path, choosing the format from the
// extension.
func ReadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	defer f.Close()
	return Decode(f, FormatForPath(path))
}

// toObject renders d as a value tree. Empty fields and links are omitted.
func toObject(d *Document) (entity.Object, error) {
	entities := make(entity.Object, len(d.Entities))
	for ref, e := range d.Entities {
		if e == nil {
			return nil, fmt.Errorf("encode document: ref %d has no entity", ref)
		}
		rec := entity.Object{
			"kind": entity.String(e.Kind),
			"key":  e.Key.Clone(),
		}
		if rec["key"] == nil {
			rec["key"] = entity.Object{}
		}
		if len(e.Fields) > 0 {
			rec["fields"] = e.Fields.Clone()
		}
		links := entity.Object{}
		for name, targets := range e.Links {
			if len(targets) == 0 {
				continue
			}
			list := make(entity.List, len(targets))
			for i, t := range targets {
				list[i] = entity.Int(t)
			}
			links[name] = list
		}
		if len(links) > 0 {
			rec["links"] = links
		}
		entities[ref.String()] = rec
	}

	return entity.Object{
		"format":   entity.String(d.Format),
		"version":  entity.Int(d.Version),
		"root":     entity.Int(d.Root),
		"entities": entities,
	}, nil
}

// fromValue validates a decoded value tree and converts it to a Document.
func fromValue(v entity.Value) (*Document, error) {
	obj, ok := v.(entity.Object)
	if !ok {
		return nil, entity.NewStructuralError(0, "document must be an object")
	}

	canonical, err := entity.MarshalCanonical(obj)
	if err != nil {
		return nil, structural("encode document for validation", err)
	}
	if err := ValidateSchema(canonical); err != nil {
		return nil, err
	}

	// The schema guarantees the shapes asserted below
	d := &Document{
		Format:   string(obj["format"].(entity.String)),
		Version:  int(obj["version"].(entity.Int)),
		Root:     entity.Ref(obj["root"].(entity.Int)),
		Entities: map[entity.Ref]*entity.Entity{},
	}

	for refKey, raw := range obj["entities"].(entity.Object) {
		ref, err := entity.ParseRef(refKey)
		if err != nil {
			return nil, structural("decode document", err)
		}
		rec := raw.(entity.Object)
		e := &entity.Entity{
			Ref:  ref,
			Kind: entity.Kind(rec["kind"].(entity.String)),
			Key:  rec["key"].(entity.Object),
		}
		if fields, ok := rec["fields"].(entity.Object); ok && len(fields) > 0 {
			e.Fields = fields
		}
		if links, ok := rec["links"].(entity.Object); ok {
			for name, targets := range links {
				list := targets.(entity.List)
				if len(list) == 0 {
					continue
				}
				if e.Links == nil {
					e.Links = map[string][]entity.Ref{}
				}
				for _, t := range list {
					e.Links[name] = append(e.Links[name], entity.Ref(t.(entity.Int)))
				}
			}
		}
		d.Entities[ref] = e
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func structural(msg string, err error) error {
	return &entity.Error{Code: entity.ErrCodeStructural, Message: msg, Err: err}
}
