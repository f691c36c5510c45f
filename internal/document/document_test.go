package document

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/issai/internal/entity"
)

func sampleDocument() *Document {
	d := New()
	d.Root = 1
	mustAdd := func(e *entity.Entity) {
		if err := d.Add(e); err != nil {
			panic(err)
		}
	}
	mustAdd(&entity.Entity{
		Ref:    1,
		Kind:   entity.KindProduct,
		Key:    entity.Object{entity.FieldName: entity.String("Shop")},
		Fields: entity.Object{entity.FieldDescription: entity.String("Web <shop> & more")},
	})
	mustAdd(&entity.Entity{
		Ref:   2,
		Kind:  entity.KindComponent,
		Key:   entity.Object{entity.FieldName: entity.String("UI")},
		Links: map[string][]entity.Ref{entity.LinkProduct: {1}},
	})
	mustAdd(&entity.Entity{
		Ref:  3,
		Kind: entity.KindTestCase,
		Key:  entity.Object{entity.FieldSummary: entity.String("login works")},
		Fields: entity.Object{
			entity.FieldScript:    entity.String("login.sh"),
			"automated":           entity.Bool(true),
			entity.FieldArguments: entity.List{entity.String("-v"), entity.Int(3)},
		},
		Links: map[string][]entity.Ref{
			entity.LinkProduct:    {1},
			entity.LinkComponents: {2},
		},
	})
	mustAdd(&entity.Entity{
		Ref:  4,
		Kind: entity.KindTestCase,
		Key:  entity.Object{entity.FieldSummary: entity.String("logout works")},
		Links: map[string][]entity.Ref{
			entity.LinkProduct:    {1},
			entity.LinkComponents: {2},
			entity.LinkParent:     {3},
		},
	})
	return d
}

var equateEmpty = cmpopts.EquateEmpty()

func TestMarshalExactBytes(t *testing.T) {
	d := New()
	d.Root = 1
	require.NoError(t, d.Add(&entity.Entity{
		Ref:  1,
		Kind: entity.KindProduct,
		Key:  entity.Object{entity.FieldName: entity.String("Shop")},
	}))
	require.NoError(t, d.Add(&entity.Entity{
		Ref:   2,
		Kind:  entity.KindComponent,
		Key:   entity.Object{entity.FieldName: entity.String("UI")},
		Links: map[string][]entity.Ref{entity.LinkProduct: {1}},
	}))

	data, err := Marshal(d)
	require.NoError(t, err)

	expected := `{
  "entities": {
    "1": {
      "key": {
        "name": "Shop"
      },
      "kind": "product"
    },
    "2": {
      "key": {
        "name": "UI"
      },
      "kind": "component",
      "links": {
        "product": [
          1
        ]
      }
    }
  },
  "format": "issai-document",
  "root": 1,
  "version": 1
}
`
	assert.Equal(t, expected, string(data))
}

func TestJSONRoundTrip(t *testing.T) {
	d := sampleDocument()

	data, err := Marshal(d)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	if diff := cmp.Diff(d, decoded, equateEmpty); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	again, err := Marshal(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestYAMLRoundTrip(t *testing.T) {
	d := sampleDocument()

	data, err := MarshalYAML(d)
	require.NoError(t, err)

	decoded, err := UnmarshalYAML(data)
	require.NoError(t, err)

	if diff := cmp.Diff(d, decoded, equateEmpty); diff != "" {
		t.Errorf("yaml round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	first, err := Marshal(sampleDocument())
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		next, err := Marshal(sampleDocument())
		require.NoError(t, err)
		require.Equal(t, string(first), string(next))
	}
}

func TestWriteReadFile(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"export.json", "export.yaml", "export.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, WriteFile(path, sampleDocument()))

			got, err := ReadFile(path)
			require.NoError(t, err)
			if diff := cmp.Diff(sampleDocument(), got, equateEmpty); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}

	// No temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestEncodeDecodeStreams(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sampleDocument(), FormatJSON))

	got, err := Decode(&buf, FormatJSON)
	require.NoError(t, err)
	assert.Len(t, got.Entities, 4)
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatForPath("a/b.YAML"))
	assert.Equal(t, FormatYAML, FormatForPath("b.yml"))
	assert.Equal(t, FormatJSON, FormatForPath("b.json"))
	assert.Equal(t, FormatJSON, FormatForPath("b"))
}

func TestValidate_StructuralErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Document)
	}{
		{"dangling link", func(d *Document) {
			d.Entities[3].Links[entity.LinkComponents] = []entity.Ref{99}
		}},
		{"link to wrong kind", func(d *Document) {
			d.Entities[3].Links[entity.LinkComponents] = []entity.Ref{1}
		}},
		{"missing root", func(d *Document) { d.Root = 42 }},
		{"root not exportable", func(d *Document) { d.Root = 2 }},
		{"bad format", func(d *Document) { d.Format = "other" }},
		{"bad version", func(d *Document) { d.Version = 2 }},
		{"ref mismatch", func(d *Document) { d.Entities[2].Ref = 7 }},
		{"schema violation", func(d *Document) { delete(d.Entities[3].Key, entity.FieldSummary) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sampleDocument()
			tt.mutate(d)
			err := d.Validate()
			require.Error(t, err)
			assert.True(t, entity.IsStructural(err), "got %v", err)
		})
	}
}

func TestUnmarshal_RejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"not an object", `[1,2]`},
		{"float field", `{"format":"issai-document","version":1,"root":1,"entities":{"1":{"kind":"product","key":{"name":"x"},"fields":{"description":1.5}}}}`},
		{"null field", `{"format":"issai-document","version":1,"root":1,"entities":{"1":{"kind":"product","key":{"name":null}}}}`},
		{"unknown top-level field", `{"format":"issai-document","version":1,"root":1,"extra":true,"entities":{"1":{"kind":"product","key":{"name":"x"}}}}`},
		{"bad ref key", `{"format":"issai-document","version":1,"root":1,"entities":{"01":{"kind":"product","key":{"name":"x"}}}}`},
		{"unknown kind", `{"format":"issai-document","version":1,"root":1,"entities":{"1":{"kind":"widget","key":{"name":"x"}}}}`},
		{"zero root", `{"format":"issai-document","version":1,"root":0,"entities":{"1":{"kind":"product","key":{"name":"x"}}}}`},
		{"link not a list", `{"format":"issai-document","version":1,"root":1,"entities":{"1":{"kind":"product","key":{"name":"x"},"links":{"product":1}}}}`},
		{"dangling link", `{"format":"issai-document","version":1,"root":2,"entities":{"2":{"kind":"testcase","key":{"summary":"x"},"links":{"product":[1]}}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, entity.IsStructural(err), "got %v", err)
		})
	}
}

func TestUnmarshal_MinimalDocument(t *testing.T) {
	d, err := Unmarshal([]byte(`{"format":"issai-document","version":1,"root":1,"entities":{"1":{"kind":"product","key":{"name":"x"}}}}`))
	require.NoError(t, err)
	assert.Equal(t, entity.Ref(1), d.Root)
	assert.Equal(t, map[entity.Kind]int{entity.KindProduct: 1}, d.Counts())
}

func TestAdd_RejectsDuplicateRef(t *testing.T) {
	d := New()
	e := &entity.Entity{Ref: 1, Kind: entity.KindProduct, Key: entity.Object{entity.FieldName: entity.String("x")}}
	require.NoError(t, d.Add(e))
	assert.Error(t, d.Add(e))
	assert.Error(t, d.Add(&entity.Entity{Ref: 0, Kind: entity.KindProduct}))
}
