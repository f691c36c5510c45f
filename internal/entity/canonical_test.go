package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"max int64", Int(9223372036854775807), "9223372036854775807"},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"empty list", List{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"list of ints", List{Int(1), Int(2), Int(3)}, "[1,2,3]"},
		{"simple object", Object{"a": Int(1)}, `{"a":1}`},
		{"plain map", map[string]any{"b": "x", "a": int64(2)}, `{"a":2,"b":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := Object{
		"zebra": Int(1),
		"alpha": Int(2),
		"beta":  Object{"d": Int(1), "c": Int(2)},
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":{"c":2,"d":1},"zebra":1}`, string(result))
}

func TestMarshalCanonicalNumericStringKeys(t *testing.T) {
	// Document entity maps are keyed by refs; ordering is lexical, not numeric.
	obj := Object{"10": Int(10), "2": Int(2), "1": Int(1)}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"1":1,"10":10,"2":2}`, string(result))
}

func TestMarshalCanonicalEscaping(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"quote", `a"b`, `"a\"b"`},
		{"backslash", `a\b`, `"a\\b"`},
		{"newline", "a\nb", `"a\nb"`},
		{"tab", "a\tb", `"a\tb"`},
		{"control", "a\x01b", `"a\u0001b"`},
		{"html not escaped", "<a&b>", `"<a&b>"`},
		{"line separator literal", "a\u2028b", "\"a\u2028b\""},
		{"unicode literal", "Prüfung", `"Prüfung"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(String(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalRejectsFloatsAndNull(t *testing.T) {
	_, err := MarshalCanonical(1.5)
	assert.Error(t, err)

	_, err = MarshalCanonical(nil)
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"x": 2.5})
	assert.Error(t, err)
}

func TestCanonicalRoundTrip(t *testing.T) {
	original := Object{
		"name":  String("Login \"works\"\n"),
		"count": Int(-7),
		"ok":    Bool(true),
		"tags":  List{String("smoke"), Int(3), Object{"nested": Bool(false)}},
	}

	data, err := MarshalCanonical(original)
	require.NoError(t, err)

	decoded, err := UnmarshalValue(data)
	require.NoError(t, err)
	assert.True(t, EqualValues(original, decoded))

	again, err := MarshalCanonical(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestUnmarshalValueRejectsFloatsAndNull(t *testing.T) {
	_, err := UnmarshalValue([]byte(`{"a":1.5}`))
	assert.Error(t, err)

	_, err = UnmarshalValue([]byte(`{"a":null}`))
	assert.Error(t, err)

	v, err := UnmarshalValue([]byte(`9007199254740993`))
	require.NoError(t, err)
	assert.Equal(t, Int(9007199254740993), v)
}
