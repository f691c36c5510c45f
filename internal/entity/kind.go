package entity

import (
	"fmt"
	"slices"
)

// Kind identifies an entity variant.
type Kind string

const (
	KindProduct    Kind = "product"
	KindComponent  Kind = "component"
	KindBuild      Kind = "build"
	KindTestCase   Kind = "testcase"
	KindTestPlan   Kind = "testplan"
	KindCaseResult Kind = "caseresult"
	KindPlanResult Kind = "planresult"
)

// Kinds lists every kind in dependency rank order: a kind only links to
// kinds that appear before it, except for testcase parents.
var Kinds = []Kind{
	KindProduct,
	KindComponent,
	KindBuild,
	KindTestCase,
	KindTestPlan,
	KindCaseResult,
	KindPlanResult,
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := schemas[k]; !ok {
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
	return k, nil
}

// Rank returns the position of k in Kinds, or -1 for unknown kinds.
func (k Kind) Rank() int {
	return slices.Index(Kinds, k)
}

// Exportable reports whether k may be the root of an export.
func (k Kind) Exportable() bool {
	return k == KindProduct || k == KindTestPlan || k == KindTestCase
}

// LinkSpec describes one outbound link slot of a kind.
type LinkSpec struct {
	Name   string `json:"name"`
	Target Kind   `json:"target"`
	// Key marks links that are part of the natural key. Key links are
	// always single-valued and required.
	Key bool `json:"key,omitempty"`
	// Many marks ordered multi-valued links.
	Many bool `json:"many,omitempty"`
}

// Schema describes the static shape of one kind.
type Schema struct {
	Kind      Kind       `json:"kind"`
	KeyFields []string   `json:"key_fields"` // scalar natural-key fields
	Fields    []string   `json:"fields"`     // mutable fields
	Links     []LinkSpec `json:"links"`
}

// Link returns the link spec with the given name.
func (s Schema) Link(name string) (LinkSpec, bool) {
	for _, l := range s.Links {
		if l.Name == name {
			return l, true
		}
	}
	return LinkSpec{}, false
}

// KeyLinks returns the links that are part of the natural key.
func (s Schema) KeyLinks() []LinkSpec {
	var out []LinkSpec
	for _, l := range s.Links {
		if l.Key {
			out = append(out, l)
		}
	}
	return out
}

// HasField reports whether name is a mutable field of the kind.
func (s Schema) HasField(name string) bool {
	return slices.Contains(s.Fields, name)
}

// IsKeyField reports whether name is a scalar natural-key field.
func (s Schema) IsKeyField(name string) bool {
	return slices.Contains(s.KeyFields, name)
}

// Field names shared by several kinds.
const (
	FieldName        = "name"
	FieldSummary     = "summary"
	FieldVersion     = "version"
	FieldDescription = "description"
	FieldText        = "text"
	FieldRunner      = "runner"
	FieldScript      = "script"
	FieldArguments   = "arguments"
	FieldAttachments = "attachments"
	FieldOutcome     = "outcome"
	FieldExitCode    = "exit_code"
	FieldStdout      = "stdout"
	FieldStderr      = "stderr"
	FieldRun         = "run"
	FieldStarted     = "started"
	FieldFinished    = "finished"
	FieldNotes       = "notes"
)

// Attachment entry fields.
const (
	FieldPath    = "path"
	FieldContent = "content"
)

// Link names.
const (
	LinkProduct    = "product"
	LinkComponents = "components"
	LinkParent     = "parent"
	LinkCases      = "cases"
	LinkCase       = "case"
	LinkBuild      = "build"
	LinkPlan       = "plan"
	LinkResults    = "results"
)

var schemas = map[Kind]Schema{
	KindProduct: {
		Kind:      KindProduct,
		KeyFields: []string{FieldName},
		Fields:    []string{FieldDescription},
	},
	KindComponent: {
		Kind:      KindComponent,
		KeyFields: []string{FieldName},
		Fields:    []string{FieldDescription},
		Links: []LinkSpec{
			{Name: LinkProduct, Target: KindProduct, Key: true},
		},
	},
	KindBuild: {
		Kind:      KindBuild,
		KeyFields: []string{FieldVersion, FieldName},
		Fields:    []string{"active"},
		Links: []LinkSpec{
			{Name: LinkProduct, Target: KindProduct, Key: true},
		},
	},
	KindTestCase: {
		Kind:      KindTestCase,
		KeyFields: []string{FieldSummary},
		Fields: []string{
			FieldText, FieldNotes, "priority", "category", "status", "automated",
			FieldRunner, FieldScript, FieldArguments, FieldAttachments,
		},
		Links: []LinkSpec{
			{Name: LinkProduct, Target: KindProduct, Key: true},
			{Name: LinkComponents, Target: KindComponent, Many: true},
			{Name: LinkParent, Target: KindTestCase},
		},
	},
	KindTestPlan: {
		Kind:      KindTestPlan,
		KeyFields: []string{FieldName, FieldVersion},
		Fields:    []string{FieldText, "type", "active"},
		Links: []LinkSpec{
			{Name: LinkProduct, Target: KindProduct, Key: true},
			{Name: LinkCases, Target: KindTestCase, Many: true},
		},
	},
	KindCaseResult: {
		Kind:      KindCaseResult,
		KeyFields: []string{FieldRun},
		Fields:    []string{FieldOutcome, FieldExitCode, FieldStdout, FieldStderr, FieldStarted, FieldFinished},
		Links: []LinkSpec{
			{Name: LinkCase, Target: KindTestCase, Key: true},
			{Name: LinkBuild, Target: KindBuild, Key: true},
		},
	},
	KindPlanResult: {
		Kind:      KindPlanResult,
		KeyFields: []string{FieldSummary},
		Fields:    []string{FieldNotes, FieldStarted, FieldFinished},
		Links: []LinkSpec{
			{Name: LinkPlan, Target: KindTestPlan, Key: true},
			{Name: LinkBuild, Target: KindBuild, Key: true},
			{Name: LinkResults, Target: KindCaseResult, Many: true},
		},
	},
}

// SchemaOf returns the schema of kind k.
// Panics on unknown kinds; use ParseKind to validate external input first.
func SchemaOf(k Kind) Schema {
	s, ok := schemas[k]
	if !ok {
		panic(fmt.Sprintf("entity: unknown kind %q", k))
	}
	return s
}
