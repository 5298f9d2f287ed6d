package tools

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/hostbridge/hostbridge/internal/registry"
	"github.com/hostbridge/hostbridge/internal/toolerr"
	"github.com/hostbridge/hostbridge/internal/workspace"
)

func shellHandler(t *testing.T, cfg ShellConfig) (registry.Handler, *workspace.Resolver) {
	t.Helper()
	ws := newTestWorkspace(t)
	reg := registry.New()
	deps := Deps{Workspace: ws, Shell: cfg, Logger: testLogger()}
	if err := registerShell(reg, deps); err != nil {
		t.Fatalf("registerShell: %v", err)
	}
	d, ok := reg.Lookup("shell_execute")
	if !ok {
		t.Fatal("shell_execute not registered")
	}
	return d.Handler, ws
}

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{`echo hello world`, []string{"echo", "hello", "world"}},
		{`echo "hello world"`, []string{"echo", "hello world"}},
		{`echo 'single quoted'`, []string{"echo", "single quoted"}},
		{`grep "a \"quoted\" word" file.txt`, []string{"grep", `a "quoted" word`, "file.txt"}},
		{`echo a\ b`, []string{"echo", "a b"}},
		{`echo ""`, []string{"echo", ""}},
		{`  spaced   out  `, []string{"spaced", "out"}},
		{`echo 'it'\''s'`, []string{"echo", "it's"}},
	}
	for _, tc := range cases {
		got, err := splitCommand(tc.in)
		if err != nil {
			t.Errorf("splitCommand(%q): %v", tc.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("splitCommand(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	for _, in := range []string{`echo "unclosed`, `echo 'unclosed`, `echo trailing\`} {
		if _, err := splitCommand(in); err == nil {
			t.Errorf("splitCommand(%q) succeeded, want error", in)
		}
	}
}

func TestShellExecuteBasic(t *testing.T) {
	handler, ws := shellHandler(t, ShellConfig{})

	res, err := handler(context.Background(), map[string]any{"command": "echo hello"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res["stdout"] != "hello\n" {
		t.Errorf("stdout = %q", res["stdout"])
	}
	if res["exit_code"] != float64(0) {
		t.Errorf("exit_code = %v", res["exit_code"])
	}
	if res["command"] != "echo hello" {
		t.Errorf("command = %v", res["command"])
	}
	if res["working_directory"] != ws.Root() {
		t.Errorf("working_directory = %v, want %v", res["working_directory"], ws.Root())
	}
}

func TestShellExecuteRejectsMetacharacters(t *testing.T) {
	handler, _ := shellHandler(t, ShellConfig{})

	for _, command := range []string{
		"echo hi; rm -rf /",
		"cat file | grep x",
		"echo $(whoami)",
		"echo hi > out.txt",
		"ls `pwd`",
		"echo ~root",
	} {
		_, err := handler(context.Background(), map[string]any{"command": command})
		wantKind(t, err, toolerr.KindSecurity)
		if !strings.Contains(err.Error(), "dangerous metacharacter") {
			t.Errorf("%q error = %v", command, err)
		}
	}
}

func TestShellExecuteAllowlist(t *testing.T) {
	handler, _ := shellHandler(t, ShellConfig{})

	_, err := handler(context.Background(), map[string]any{"command": "rm -rf tmp"})
	wantKind(t, err, toolerr.KindSecurity)
	if !strings.Contains(err.Error(), "not in the allowlist") ||
		!strings.Contains(err.Error(), "Allowed commands:") {
		t.Errorf("allowlist error = %v", err)
	}

	// ExtraCommands extends the built-in list.
	handler, _ = shellHandler(t, ShellConfig{ExtraCommands: []string{"true"}})
	if _, err := handler(context.Background(), map[string]any{"command": "true"}); err != nil {
		t.Errorf("extra command rejected: %v", err)
	}
}

func TestShellExecuteExitCode(t *testing.T) {
	handler, _ := shellHandler(t, ShellConfig{})

	res, err := handler(context.Background(), map[string]any{"command": "ls definitely-missing-file"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res["exit_code"] == float64(0) {
		t.Error("exit_code = 0, want non-zero")
	}
	if res["stderr"] == "" {
		t.Error("stderr empty, want diagnostic output")
	}
}

func TestShellExecuteTimeout(t *testing.T) {
	handler, _ := shellHandler(t, ShellConfig{ExtraCommands: []string{"sleep"}})

	start := time.Now()
	_, err := handler(context.Background(), map[string]any{"command": "sleep 30", "timeout": 1})
	wantKind(t, err, toolerr.KindTimeout)
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
	if !strings.Contains(err.Error(), "timed out after 1 seconds") {
		t.Errorf("timeout error = %v", err)
	}
}

func TestShellExecuteEnvironment(t *testing.T) {
	t.Setenv("LEAKY_SERVER_SECRET", "supersecret")
	handler, _ := shellHandler(t, ShellConfig{})

	res, err := handler(context.Background(), map[string]any{
		"command": "env",
		"env":     map[string]any{"MY_VAR": "custom-value"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	stdout, _ := res["stdout"].(string)
	if strings.Contains(stdout, "LEAKY_SERVER_SECRET") {
		t.Error("server environment leaked into the child process")
	}
	if !strings.Contains(stdout, "MY_VAR=custom-value") {
		t.Errorf("overlay variable missing from environment:\n%s", stdout)
	}
	if !strings.Contains(stdout, "PATH=") {
		t.Error("PATH not passed through")
	}
}

func TestShellExecuteBadInput(t *testing.T) {
	handler, _ := shellHandler(t, ShellConfig{})

	for _, command := range []string{"", "   "} {
		_, err := handler(context.Background(), map[string]any{"command": command})
		wantKind(t, err, toolerr.KindInvalidParameter)
	}

	_, err := handler(context.Background(), map[string]any{
		"command": "echo hi", "workspace_dir": "does-not-exist",
	})
	wantKind(t, err, toolerr.KindInvalidParameter)
	if !strings.Contains(err.Error(), "Working directory does not exist") {
		t.Errorf("workdir error = %v", err)
	}

	handler, _ = shellHandler(t, ShellConfig{ExtraCommands: []string{"no-such-binary-odx71"}})
	_, err = handler(context.Background(), map[string]any{"command": "no-such-binary-odx71"})
	wantKind(t, err, toolerr.KindInvalidParameter)
	if !strings.Contains(err.Error(), "Command not found") {
		t.Errorf("not-found error = %v", err)
	}
}

func TestTruncateOutput(t *testing.T) {
	small := "short output"
	if got := truncateOutput(small); got != small {
		t.Errorf("small output modified: %q", got)
	}

	big := strings.Repeat("x", shellOutputLimit+500)
	got := truncateOutput(big)
	if !strings.HasPrefix(got, strings.Repeat("x", 100)) {
		t.Error("truncated output lost its prefix")
	}
	if !strings.Contains(got, "[Output truncated:") {
		t.Errorf("missing truncation marker: %q", got[len(got)-80:])
	}
}
