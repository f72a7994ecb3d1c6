package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_JSONRoundTrip(t *testing.T) {
	inputs := []string{
		`[{"date":"2024-01-01","reference":"123","lines":[{"account_code":"4000","debit":0,"credit":50}]}]`,
		"{\n  \"b\": 1,\n  \"a\": [true, null, \"x y\"]\n}",
		`"just a string"`,
		`42`,
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			res := Normalize(in)
			require.True(t, res.IsJSON())

			var want, got any
			require.NoError(t, json.Unmarshal([]byte(in), &want))
			require.NoError(t, json.Unmarshal(res.JSON, &got))
			assert.Equal(t, want, got)
		})
	}
}

func TestNormalize_PreservesKeyOrder(t *testing.T) {
	res := Normalize("{ \"z\": 1,\n \"a\": 2 }")
	require.True(t, res.IsJSON())
	assert.Equal(t, `{"z":1,"a":2}`, string(res.JSON))
}

func TestNormalize_TextFallback(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"newlines and tabs", "Here are\n\n the   results:\t done ", "Here are the results: done"},
		{"fenced json", "```json\n[1, 2]\n```", "```json [1, 2] ```"},
		{"truncated json", `[{"date": "2024-01-01"`, `[{"date": "2024-01-01"`},
		{"empty", "   \n ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Normalize(tt.raw)
			assert.False(t, res.IsJSON())
			assert.Equal(t, tt.want, res.Text)
		})
	}
}

func TestNormalize_TextIdempotent(t *testing.T) {
	for _, s := range []string{"already clean text", "a b c", ""} {
		once := Normalize(s)
		if once.IsJSON() {
			continue
		}
		assert.Equal(t, s, once.Text)
		assert.Equal(t, once.Text, Normalize(once.Text).Text)
	}
}

func TestResult_MarshalJSON(t *testing.T) {
	payload := map[string]Result{
		"json": Normalize(`{"ok": true}`),
		"text": Normalize("no  json here"),
	}
	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"json":{"ok":true},"text":"no json here"}`, string(out))
}
