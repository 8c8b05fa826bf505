package exec

import (
	"context"
	"encoding/json"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/clio-agent/clio/internal/toolexec"
	"github.com/clio-agent/clio/internal/vault"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func TestRunner_CapturesOutput(t *testing.T) {
	skipOnWindows(t)
	res, err := Runner{}.Run(context.Background(), "echo hello; echo oops >&2", t.TempDir(), nil, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "oops" {
		t.Errorf("stderr = %q", res.Stderr)
	}
	if res.ExitCode != 0 || res.Truncated || res.TimedOut {
		t.Errorf("result = %+v", res)
	}
}

func TestRunner_ExitCode(t *testing.T) {
	skipOnWindows(t)
	res, err := Runner{}.Run(context.Background(), "exit 3", t.TempDir(), nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d", res.ExitCode)
	}
}

func TestRunner_TruncatesOutput(t *testing.T) {
	skipOnWindows(t)
	r := Runner{MaxOutputBytes: 100}
	res, err := r.Run(context.Background(), "yes x | head -c 10000", t.TempDir(), nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Truncated {
		t.Error("want truncated")
	}
	if len(res.Stdout) != 100 {
		t.Errorf("stdout len = %d, want prefix of 100", len(res.Stdout))
	}
}

func TestRunner_Timeout(t *testing.T) {
	skipOnWindows(t)
	r := Runner{Timeout: 100 * time.Millisecond}
	start := time.Now()
	res, err := r.Run(context.Background(), "sleep 10", t.TempDir(), nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.TimedOut {
		t.Errorf("want timed out, got %+v", res)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout did not take effect promptly")
	}
}

func TestRunner_Stdin(t *testing.T) {
	skipOnWindows(t)
	res, err := Runner{}.Run(context.Background(), "cat", t.TempDir(), nil, "piped in")
	if err != nil {
		t.Fatal(err)
	}
	if res.Stdout != "piped in" {
		t.Errorf("stdout = %q", res.Stdout)
	}
}

func TestTool_Execute(t *testing.T) {
	skipOnWindows(t)
	work := t.TempDir()
	auth, _ := vault.NewAuthorizer(work)
	sctx := &toolexec.SessionCtx{WorkingDir: work, Authorizer: auth}

	res, err := New(Runner{}).Execute(context.Background(), sctx,
		map[string]any{"command": "pwd"})
	if err != nil || res.IsError {
		t.Fatalf("Execute: %v %+v", err, res)
	}
	var out Result
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatalf("content not JSON: %q", res.Content)
	}
	if out.ExitCode != 0 {
		t.Errorf("result = %+v", out)
	}
}

func TestTool_DeniesCwdOutsideSandbox(t *testing.T) {
	skipOnWindows(t)
	work := t.TempDir()
	auth, _ := vault.NewAuthorizer(work)
	sctx := &toolexec.SessionCtx{WorkingDir: work, Authorizer: auth}

	res, err := New(Runner{}).Execute(context.Background(), sctx,
		map[string]any{"command": "ls", "cwd": "/etc"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "denied") {
		t.Errorf("result = %+v", res)
	}
}
