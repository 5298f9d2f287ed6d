package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/hostbridge/hostbridge/internal/registry"
	"github.com/hostbridge/hostbridge/internal/toolerr"
	"github.com/hostbridge/hostbridge/internal/workspace"
)

// shellAllowlist is the built-in set of commands shell_execute will run.
// ShellConfig.ExtraCommands extends it per deployment; everything else is
// refused before a process is spawned.
var shellAllowlist = []string{
	"ls", "cat", "grep", "find", "echo", "pwd", "head", "tail", "wc",
	"sort", "uniq", "date", "env", "which", "file", "stat", "du", "df", "ps",
}

// dangerousMetachars are rejected anywhere in the raw command string. The
// command runs without a shell, so these could only ever be literal
// arguments, but refusing them keeps injection attempts loud.
const dangerousMetachars = ";|&><`$(){}[]*?~!^\n\r"

// shellOutputLimit caps each captured stream, matching the truncation note
// appended to oversized output.
const shellOutputLimit = 100000

type shellTools struct {
	ws      *workspace.Resolver
	cfg     ShellConfig
	allowed map[string]bool
	logger  *slog.Logger
}

func registerShell(reg *registry.Registry, deps Deps) error {
	allowed := make(map[string]bool, len(shellAllowlist)+len(deps.Shell.ExtraCommands))
	for _, c := range shellAllowlist {
		allowed[c] = true
	}
	for _, c := range deps.Shell.ExtraCommands {
		allowed[c] = true
	}
	t := &shellTools{
		ws:      deps.Workspace,
		cfg:     deps.Shell,
		allowed: allowed,
		logger:  deps.Logger,
	}

	return reg.Register(&registry.Descriptor{
		Category:    "shell",
		Name:        "execute",
		Description: "Run an allowlisted command in the workspace without a shell. Output is captured and truncated past 100KB per stream; a non-zero exit code is reported in the result, not as an error.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "Command line; quoting is honored, shell metacharacters are rejected"},
				"workspace_dir": {"type": "string", "description": "Workspace subdirectory to run in"},
				"timeout": {"type": "integer", "minimum": 1, "description": "Seconds before the process is killed"},
				"env": {"type": "object", "additionalProperties": {"type": "string"}}
			},
			"required": ["command"]
		}`),
		Handler: t.execute,
	})
}

type shellExecuteRequest struct {
	Command      string            `json:"command"`
	WorkspaceDir string            `json:"workspace_dir"`
	Timeout      int               `json:"timeout"`
	Env          map[string]string `json:"env"`
}

type shellExecuteResponse struct {
	Stdout           string `json:"stdout"`
	Stderr           string `json:"stderr"`
	ExitCode         int    `json:"exit_code"`
	DurationMs       int64  `json:"duration_ms"`
	Command          string `json:"command"`
	WorkingDirectory string `json:"working_directory"`
}

func (t *shellTools) execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req shellExecuteRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Command) == "" {
		return nil, toolerr.InvalidParamf("Command cannot be empty")
	}
	if i := strings.IndexAny(req.Command, dangerousMetachars); i >= 0 {
		return nil, toolerr.Securityf(
			"Command contains dangerous metacharacter: %q", req.Command[i:i+1])
	}

	argv, err := splitCommand(req.Command)
	if err != nil {
		return nil, toolerr.InvalidParamf("Invalid command syntax: %v", err)
	}
	if len(argv) == 0 {
		return nil, toolerr.InvalidParamf("Command cannot be empty")
	}
	base := argv[0]
	if !t.allowed[base] {
		return nil, toolerr.Securityf(
			"Command '%s' is not in the allowlist. Allowed commands: %s",
			base, strings.Join(t.allowedList(), ", "))
	}

	workDir, err := t.ws.Resolve(".", req.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(workDir)
	if err != nil {
		return nil, toolerr.InvalidParamf("Working directory does not exist: %s", workDir)
	}
	if !st.IsDir() {
		return nil, toolerr.InvalidParamf("Working directory is not a directory: %s", workDir)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = t.cfg.defaultTimeout()
	}
	if max := t.cfg.maxTimeout(); timeout > max {
		timeout = max
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, base, argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = scrubbedEnv(req.Env)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		return nil, toolerr.Timeoutf(
			"Command timed out after %d seconds. Consider increasing the timeout parameter.", timeout)
	case runCtx.Err() != nil:
		return nil, runCtx.Err()
	case runErr == nil:
	default:
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			exitCode = exitErr.ExitCode()
		case errors.Is(runErr, exec.ErrNotFound):
			return nil, toolerr.InvalidParamf(
				"Command not found: '%s'. Make sure the command is installed and available in PATH.", base)
		case errors.Is(runErr, fs.ErrPermission):
			return nil, toolerr.Securityf("Permission denied executing command: '%s'", base)
		default:
			return nil, toolerr.Internalf("Failed to execute command: %v", runErr)
		}
	}

	t.logger.Info("shell command executed",
		"command", base,
		"exit_code", exitCode,
		"duration_ms", duration.Milliseconds(),
	)

	return out(shellExecuteResponse{
		Stdout:           truncateOutput(stdout.String()),
		Stderr:           truncateOutput(stderr.String()),
		ExitCode:         exitCode,
		DurationMs:       duration.Milliseconds(),
		Command:          req.Command,
		WorkingDirectory: workDir,
	})
}

func (t *shellTools) allowedList() []string {
	list := make([]string, 0, len(t.allowed))
	for c := range t.allowed {
		list = append(list, c)
	}
	sort.Strings(list)
	return list
}

func truncateOutput(s string) string {
	if len(s) <= shellOutputLimit {
		return s
	}
	return s[:shellOutputLimit] + fmt.Sprintf("\n\n[Output truncated: %d bytes total]", len(s))
}

// scrubbedEnv builds a minimal child environment: a fixed passthrough set
// from the server's own environment plus the caller-supplied overlay, in
// deterministic order.
func scrubbedEnv(overlay map[string]string) []string {
	passthrough := []string{"PATH", "HOME", "LANG", "LC_ALL", "TMPDIR", "USER"}
	env := make([]string, 0, len(passthrough)+len(overlay))
	for _, k := range passthrough {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overlay[k])
	}
	return env
}

// splitCommand tokenizes a command line with shell-style quoting: single
// quotes take everything literally, double quotes allow backslash escapes of
// the quote and the backslash, and an unquoted backslash escapes the next
// character. No expansion of any kind happens here.
func splitCommand(command string) ([]string, error) {
	var (
		argv    []string
		current strings.Builder
		inWord  bool
		quote   rune
	)
	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case quote == '\'':
			if c == '\'' {
				quote = 0
			} else {
				current.WriteRune(c)
			}
		case quote == '"':
			switch {
			case c == '"':
				quote = 0
			case c == '\\' && i+1 < len(runes) && (runes[i+1] == '"' || runes[i+1] == '\\'):
				current.WriteRune(runes[i+1])
				i++
			default:
				current.WriteRune(c)
			}
		case c == '\'' || c == '"':
			quote = c
			inWord = true
		case c == '\\':
			if i+1 >= len(runes) {
				return nil, fmt.Errorf("trailing backslash")
			}
			current.WriteRune(runes[i+1])
			i++
			inWord = true
		case c == ' ' || c == '\t':
			if inWord {
				argv = append(argv, current.String())
				current.Reset()
				inWord = false
			}
		default:
			current.WriteRune(c)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("no closing quotation")
	}
	if inWord {
		argv = append(argv, current.String())
	}
	return argv, nil
}
