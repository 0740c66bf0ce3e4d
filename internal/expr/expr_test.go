package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalComparisons(t *testing.T) {
	vars := map[string]interface{}{
		"count":  float64(5),
		"name":   "deploy",
		"ok":     true,
		"result": map[string]interface{}{"status": "passed", "score": 80},
	}

	cases := []struct {
		expr string
		want bool
	}{
		{"count == 5", true},
		{"count != 5", false},
		{"count > 3", true},
		{"count >= 5", true},
		{"count < 5", false},
		{"name == 'deploy'", true},
		{"name == \"rollback\"", false},
		{"name < 'zeta'", true},
		{"ok", true},
		{"ok == true", true},
		{"result.status == 'passed'", true},
		{"result.score >= 60", true},
	}
	for _, tc := range cases {
		got, err := Eval(tc.expr, vars)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestEvalBooleanOperators(t *testing.T) {
	vars := map[string]interface{}{
		"a": float64(1),
		"b": float64(2),
	}

	cases := []struct {
		expr string
		want bool
	}{
		{"a == 1 and b == 2", true},
		{"a == 1 && b == 3", false},
		{"a == 9 or b == 2", true},
		{"a == 9 || b == 9", false},
		{"not (a == 9)", true},
		{"!(a == 1)", false},
		{"a == 1 and (b == 9 or b == 2)", true},
	}
	for _, tc := range cases {
		got, err := Eval(tc.expr, vars)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestEvalShortCircuit(t *testing.T) {
	// The right side references a missing variable, but the left side
	// already decides the result.
	got, err := Eval("ok or missing.field == 1", map[string]interface{}{"ok": true})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Eval("ok and missing == 1", map[string]interface{}{"ok": false})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvalErrors(t *testing.T) {
	vars := map[string]interface{}{"x": float64(1)}

	for _, expr := range []string{
		"",
		"x ==",
		"x == 1)",
		"(x == 1",
		"x == 'unterminated",
		"missing == 1",
		"x > 'text'",
		"x @ 1",
	} {
		got, err := Eval(expr, vars)
		assert.Error(t, err, expr)
		assert.False(t, got, expr)
	}
}

func TestEvalLiterals(t *testing.T) {
	got, err := Eval("status == null", map[string]interface{}{"status": nil})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Eval("'a' == 'a' and 2 > 1", nil)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Eval("false or 0", nil)
	require.NoError(t, err)
	assert.False(t, got)
}
