package entity

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCase() *Entity {
	return &Entity{
		Ref:    3,
		Kind:   KindTestCase,
		Key:    Object{FieldSummary: String("login works")},
		Fields: Object{FieldScript: String("tests/login.sh"), "priority": String("P1")},
		Links: map[string][]Ref{
			LinkProduct:    {1},
			LinkComponents: {2},
		},
	}
}

func TestEntityValidate(t *testing.T) {
	require.NoError(t, validCase().Validate())

	tests := []struct {
		name   string
		mutate func(e *Entity)
	}{
		{"unknown kind", func(e *Entity) { e.Kind = "widget" }},
		{"missing key field", func(e *Entity) { delete(e.Key, FieldSummary) }},
		{"non-scalar key field", func(e *Entity) { e.Key[FieldSummary] = List{} }},
		{"unknown key field", func(e *Entity) { e.Key["color"] = String("red") }},
		{"unknown field", func(e *Entity) { e.Fields["color"] = String("red") }},
		{"unknown link", func(e *Entity) { e.Links["owner"] = []Ref{1} }},
		{"multi target on single link", func(e *Entity) { e.Links[LinkParent] = []Ref{4, 5} }},
		{"missing key link", func(e *Entity) { delete(e.Links, LinkProduct) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validCase()
			tt.mutate(e)
			err := e.Validate()
			require.Error(t, err)
			assert.True(t, IsStructural(err), "expected structural error, got %v", err)
		})
	}
}

func TestEntityCloneIsDeep(t *testing.T) {
	e := validCase()
	c := e.Clone()

	c.Key[FieldSummary] = String("changed")
	c.Links[LinkComponents][0] = 99

	assert.Equal(t, String("login works"), e.Key[FieldSummary])
	assert.Equal(t, Ref(2), e.Links[LinkComponents][0])
}

func TestEntityTargets(t *testing.T) {
	e := validCase()
	e.Links[LinkParent] = []Ref{7}
	assert.Equal(t, []Ref{1, 2, 7}, e.Targets())
}

func TestNaturalKey(t *testing.T) {
	a, err := NaturalKey(KindTestCase, Object{FieldSummary: String("login")}, map[string]string{LinkProduct: "17"})
	require.NoError(t, err)
	assert.Equal(t, `testcase:{"@product":"17","summary":"login"}`, a)

	// Different product store id, different identity
	b, err := NaturalKey(KindTestCase, Object{FieldSummary: String("login")}, map[string]string{LinkProduct: "18"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestNaturalKeyNormalizesUnicode(t *testing.T) {
	composed, err := NaturalKey(KindProduct, Object{FieldName: String("Caf\u00e9")}, nil)
	require.NoError(t, err)
	decomposed, err := NaturalKey(KindProduct, Object{FieldName: String("Cafe\u0301")}, nil)
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestParseRef(t *testing.T) {
	r, err := ParseRef("42")
	require.NoError(t, err)
	assert.Equal(t, Ref(42), r)

	for _, bad := range []string{"0", "-1", "01", "x", ""} {
		_, err := ParseRef(bad)
		assert.Error(t, err, "ParseRef(%q)", bad)
	}
}

func TestErrorHelpers(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("import: %w", NewStoreError(KindProduct, "create failed", cause))

	assert.True(t, IsStore(err))
	assert.False(t, IsStructural(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "STORE: create failed")

	assert.True(t, IsConfiguration(NewConfigurationError("unknown runner %q", "x")))
	assert.True(t, IsRunner(NewRunnerError("timeout", nil)))
}

func TestKindRankAndExportable(t *testing.T) {
	assert.Less(t, KindComponent.Rank(), KindTestCase.Rank())
	assert.Less(t, KindCaseResult.Rank(), KindPlanResult.Rank())
	assert.Equal(t, -1, Kind("x").Rank())

	assert.True(t, KindProduct.Exportable())
	assert.True(t, KindTestPlan.Exportable())
	assert.True(t, KindTestCase.Exportable())
	assert.False(t, KindBuild.Exportable())
}
