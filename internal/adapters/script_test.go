package adapters

import (
	"context"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimjoonhwaan/metaworkflow/internal/logging"
)

// The tests drive the adapter with /bin/sh so they do not depend on a Python
// install. The subprocess protocol is interpreter-agnostic.
func newShellAdapter(t *testing.T, timeout time.Duration) *ScriptAdapter {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-based script tests need a POSIX shell")
	}
	return NewScriptAdapter("sh", timeout, logging.NewLogger())
}

func TestScriptAdapterJSONOutput(t *testing.T) {
	a := newShellAdapter(t, time.Minute)
	res, err := a.Execute(context.Background(), Request{
		Code: `echo '{"answer": 42}'`,
	})
	require.NoError(t, err)
	assert.Equal(t, float64(42), res.Output["answer"])
}

func TestScriptAdapterPlainTextWrapped(t *testing.T) {
	a := newShellAdapter(t, time.Minute)
	res, err := a.Execute(context.Background(), Request{
		Code: `echo hello world`,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Output["result"])
}

func TestScriptAdapterVariablesFile(t *testing.T) {
	a := newShellAdapter(t, time.Minute)
	// $2 is the path passed after --variables-file.
	res, err := a.Execute(context.Background(), Request{
		Code:      `cat "$2"`,
		Variables: map[string]interface{}{"city": "seoul"},
	})
	require.NoError(t, err)
	assert.Equal(t, "seoul", res.Output["city"])
}

func TestScriptAdapterStderrCapturedAsLogs(t *testing.T) {
	a := newShellAdapter(t, time.Minute)
	res, err := a.Execute(context.Background(), Request{
		Code: `echo "debug line" >&2; echo '{"ok": true}'`,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Logs, "debug line")
	assert.Equal(t, true, res.Output["ok"])
}

func TestScriptAdapterNonZeroExitFails(t *testing.T) {
	a := newShellAdapter(t, time.Minute)
	res, err := a.Execute(context.Background(), Request{
		Code: `echo "something broke" >&2; exit 3`,
	})
	require.Error(t, err)
	assert.Contains(t, res.Logs, "something broke")
}

func TestScriptAdapterTimeoutKills(t *testing.T) {
	a := newShellAdapter(t, 200*time.Millisecond)
	start := time.Now()
	_, err := a.Execute(context.Background(), Request{
		Code: `sleep 30`,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestScriptAdapterStepTimeoutOverride(t *testing.T) {
	a := newShellAdapter(t, time.Hour)
	_, err := a.Execute(context.Background(), Request{
		Code:   `sleep 30`,
		Config: map[string]interface{}{"timeout_seconds": 0.2},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestScriptAdapterRemovesTempFiles(t *testing.T) {
	assertTempDirEmpty := func(t *testing.T, dir string) {
		t.Helper()
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, "script and variables files must be removed")
	}

	t.Run("success", func(t *testing.T) {
		t.Setenv("TMPDIR", t.TempDir())
		a := newShellAdapter(t, time.Minute)
		_, err := a.Execute(context.Background(), Request{
			Code:      `echo '{"ok": true}'`,
			Variables: map[string]interface{}{"k": "v"},
		})
		require.NoError(t, err)
		assertTempDirEmpty(t, os.Getenv("TMPDIR"))
	})

	t.Run("failure", func(t *testing.T) {
		t.Setenv("TMPDIR", t.TempDir())
		a := newShellAdapter(t, time.Minute)
		_, err := a.Execute(context.Background(), Request{Code: `exit 1`})
		require.Error(t, err)
		assertTempDirEmpty(t, os.Getenv("TMPDIR"))
	})

	t.Run("timeout", func(t *testing.T) {
		t.Setenv("TMPDIR", t.TempDir())
		a := newShellAdapter(t, 200*time.Millisecond)
		_, err := a.Execute(context.Background(), Request{Code: `sleep 30`})
		require.Error(t, err)
		assertTempDirEmpty(t, os.Getenv("TMPDIR"))
	})
}

func TestScriptAdapterNoCode(t *testing.T) {
	a := newShellAdapter(t, time.Minute)
	_, err := a.Execute(context.Background(), Request{})
	assert.Error(t, err)
}
