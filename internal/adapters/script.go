package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/kimjoonhwaan/metaworkflow/internal/logging"
)

// ScriptAdapter runs SCRIPT step code in a subprocess. Variables are handed
// to the script through a temporary JSON file referenced by --variables-file,
// which sidesteps command line length limits. The script must print exactly
// one JSON object to stdout as its result and write logs to stderr; a
// non-zero exit is a failure. A hard wall-clock timeout kills the whole
// process group, and both temp files are removed on every exit path.
type ScriptAdapter struct {
	interpreter string
	timeout     time.Duration
	log         *logging.Logger
}

func NewScriptAdapter(interpreter string, timeout time.Duration, log *logging.Logger) *ScriptAdapter {
	if interpreter == "" {
		interpreter = "python3"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &ScriptAdapter{interpreter: interpreter, timeout: timeout, log: log}
}

func (a *ScriptAdapter) Execute(ctx context.Context, req Request) (Result, error) {
	code := req.Code
	if code == "" {
		code, _ = req.Config["code"].(string)
	}
	if code == "" {
		return Result{}, fmt.Errorf("script step has no code")
	}

	scriptPath, err := writeTemp("step-*.py", []byte(code))
	if err != nil {
		return Result{}, fmt.Errorf("write script file: %w", err)
	}
	defer os.Remove(scriptPath)

	varsJSON, err := json.Marshal(req.Variables)
	if err != nil {
		return Result{}, fmt.Errorf("encode variables: %w", err)
	}
	varsPath, err := writeTemp("vars-*.json", varsJSON)
	if err != nil {
		return Result{}, fmt.Errorf("write variables file: %w", err)
	}
	defer os.Remove(varsPath)

	timeout := a.timeout
	if t := floatValue(req.Config["timeout_seconds"], 0); t > 0 {
		timeout = time.Duration(t * float64(time.Second))
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, a.interpreter, scriptPath, "--variables-file", varsPath)
	// Own process group so a timeout kill reaches the script's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	logs := stderr.String()
	if logs != "" {
		a.log.Debug("script stderr", "output", truncate(logs, 500))
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{Logs: logs}, fmt.Errorf("script timed out after %s", timeout)
	}
	if err != nil {
		return Result{Logs: logs}, fmt.Errorf("script failed: %w: %s", err, truncate(logs, 300))
	}

	out := strings.TrimSpace(stdout.String())
	var output map[string]interface{}
	if jsonErr := json.Unmarshal([]byte(out), &output); jsonErr != nil {
		output = map[string]interface{}{"result": out}
	}
	return Result{Output: output, Logs: logs}, nil
}

func writeTemp(pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
