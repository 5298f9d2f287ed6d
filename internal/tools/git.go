package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hostbridge/hostbridge/internal/registry"
	"github.com/hostbridge/hostbridge/internal/toolerr"
	"github.com/hostbridge/hostbridge/internal/workspace"
)

// gitTimeout bounds every git subprocess. Network operations (push, pull)
// share the same cap.
const gitTimeout = 60 * time.Second

var (
	statFilesRe      = regexp.MustCompile(`(\d+) file`)
	statInsertionsRe = regexp.MustCompile(`(\d+) insertion`)
	statDeletionsRe  = regexp.MustCompile(`(\d+) deletion`)
	stashEntryRe     = regexp.MustCompile(`^stash@\{(\d+)\}: (.+)`)
	refRangeRe       = regexp.MustCompile(`\w+\.\.\w+`)
)

type gitTools struct {
	ws     *workspace.Resolver
	logger *slog.Logger
}

func registerGit(reg *registry.Registry, deps Deps) error {
	t := &gitTools{ws: deps.Workspace, logger: deps.Logger}

	repoProps := `
				"repo_path": {"type": "string", "default": ".", "description": "Repository path, relative to the workspace root"},
				"workspace_dir": {"type": "string"}`

	descriptors := []*registry.Descriptor{
		{
			Category:    "git",
			Name:        "status",
			Description: "Show the working tree status: current branch, staged, unstaged and untracked files, and ahead/behind counts.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {` + repoProps + `
			}
		}`),
			Handler: t.status,
		},
		{
			Category:    "git",
			Name:        "log",
			Description: "View commit history with per-commit file statistics. Supports author, date and path filters.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {` + repoProps + `,
				"max_count": {"type": "integer", "minimum": 1, "default": 20},
				"author": {"type": "string"},
				"since": {"type": "string"},
				"until": {"type": "string"},
				"path": {"type": "string"}
			}
		}`),
			Handler: t.log,
		},
		{
			Category:    "git",
			Name:        "diff",
			Description: "Show file differences in the working tree, the index (staged=true), or against a ref.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {` + repoProps + `,
				"ref": {"type": "string"},
				"path": {"type": "string"},
				"staged": {"type": "boolean", "default": false},
				"stat_only": {"type": "boolean", "default": false}
			}
		}`),
			Handler: t.diff,
		},
		{
			Category:     "git",
			Name:         "commit",
			Description:  "Stage files (all changes when none are given) and create a commit. Returns the commit hash and the committed files.",
			RequiresHITL: true,
			HITLReason:   "Git commit requires approval",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {` + repoProps + `,
				"message": {"type": "string"},
				"files": {"type": "array", "items": {"type": "string"}}
			},
			"required": ["message"]
		}`),
			Handler: t.commit,
		},
		{
			Category:     "git",
			Name:         "push",
			Description:  "Push the current or named branch to a remote. Credentials come from the environment; pass extra variables via env.",
			RequiresHITL: true,
			HITLReason:   "Git push requires approval",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {` + repoProps + `,
				"remote": {"type": "string", "default": "origin"},
				"branch": {"type": "string"},
				"force": {"type": "boolean", "default": false},
				"env": {"type": "object", "additionalProperties": {"type": "string"}}
			}
		}`),
			Handler: t.push,
		},
		{
			Category:    "git",
			Name:        "pull",
			Description: "Pull from a remote, merging or rebasing into the current branch.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {` + repoProps + `,
				"remote": {"type": "string", "default": "origin"},
				"branch": {"type": "string"},
				"rebase": {"type": "boolean", "default": false},
				"env": {"type": "object", "additionalProperties": {"type": "string"}}
			}
		}`),
			Handler: t.pull,
		},
		{
			Category:     "git",
			Name:         "checkout",
			Description:  "Switch to a branch or commit, optionally creating the branch first.",
			RequiresHITL: true,
			HITLReason:   "Git checkout requires approval",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {` + repoProps + `,
				"target": {"type": "string", "description": "Branch name or commit hash"},
				"create": {"type": "boolean", "default": false}
			},
			"required": ["target"]
		}`),
			Handler: t.checkout,
		},
		{
			Category:    "git",
			Name:        "branch",
			Description: "Create or delete a branch. Deletion of unmerged branches needs force=true.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {` + repoProps + `,
				"name": {"type": "string"},
				"action": {"type": "string", "enum": ["create", "delete"], "default": "create"},
				"force": {"type": "boolean", "default": false}
			},
			"required": ["name"]
		}`),
			Handler: t.branch,
		},
		{
			Category:    "git",
			Name:        "list_branches",
			Description: "List local branches with their last commit, optionally including remote branches.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {` + repoProps + `,
				"remote": {"type": "boolean", "default": false}
			}
		}`),
			Handler: t.listBranches,
		},
		{
			Category:    "git",
			Name:        "stash",
			Description: "Stash working tree changes: push, pop, list or drop. Pop and drop take an optional stash index.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {` + repoProps + `,
				"action": {"type": "string", "enum": ["push", "pop", "list", "drop"], "default": "push"},
				"message": {"type": "string"},
				"index": {"type": "integer", "minimum": 0}
			}
		}`),
			Handler: t.stash,
		},
		{
			Category:    "git",
			Name:        "show",
			Description: "Show a commit: author, date, message, changed files and the full diff.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {` + repoProps + `,
				"ref": {"type": "string", "default": "HEAD"}
			}
		}`),
			Handler: t.show,
		},
		{
			Category:    "git",
			Name:        "remote",
			Description: "List, add or remove remotes. Listing reports fetch and push URLs per remote.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {` + repoProps + `,
				"action": {"type": "string", "enum": ["list", "add", "remove"], "default": "list"},
				"name": {"type": "string"},
				"url": {"type": "string"}
			}
		}`),
			Handler: t.remote,
		},
	}
	for _, d := range descriptors {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// repoDir resolves and validates the repository path for every git tool.
func (t *gitTools) repoDir(repoPath, override string) (string, error) {
	if repoPath == "" {
		repoPath = "."
	}
	resolved, err := t.ws.Resolve(repoPath, override)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(resolved)
	if err != nil {
		return "", toolerr.NotFoundf("Repository path does not exist: %s", repoPath)
	}
	if !st.IsDir() {
		return "", toolerr.InvalidParamf("Not a git repository: %s", repoPath)
	}
	if _, err := os.Stat(filepath.Join(resolved, ".git")); err != nil {
		return "", toolerr.InvalidParamf("Not a git repository: %s", repoPath)
	}
	return resolved, nil
}

// run executes one git subprocess. A non-zero exit is returned in the exit
// code, not as an error; the error covers spawn failures and timeouts only.
func (t *gitTools) run(
	ctx context.Context, repoDir string, extraEnv map[string]string, args ...string,
) (stdout, stderr string, exit int, err error) {
	runCtx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	var outBuf, errBuf bytes.Buffer
	cmd := exec.CommandContext(runCtx, "git", append([]string{"-C", repoDir}, args...)...)
	env := append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	keys := make([]string, 0, len(extraEnv))
	for k := range extraEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extraEnv[k])
	}
	cmd.Env = env
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	cmd.WaitDelay = 5 * time.Second

	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return "", "", 0, toolerr.Timeoutf(
			"Git command timed out after %d seconds", int(gitTimeout/time.Second))
	}
	if runCtx.Err() != nil {
		return "", "", 0, runCtx.Err()
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			exit = exitErr.ExitCode()
		case errors.Is(runErr, exec.ErrNotFound):
			return "", "", 0, toolerr.Internalf("Git executable not found in PATH")
		default:
			return "", "", 0, toolerr.Internalf("Failed to run git: %v", runErr)
		}
	}
	t.logger.Debug("git command completed", "args", strings.Join(args, " "), "exit_code", exit)
	return outBuf.String(), errBuf.String(), exit, nil
}

type gitRepoRequest struct {
	RepoPath     string `json:"repo_path"`
	WorkspaceDir string `json:"workspace_dir"`
}

type gitFileStatus struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

type gitStatusResponse struct {
	Branch    string          `json:"branch"`
	Staged    []gitFileStatus `json:"staged"`
	Unstaged  []gitFileStatus `json:"unstaged"`
	Untracked []string        `json:"untracked"`
	Ahead     int             `json:"ahead"`
	Behind    int             `json:"behind"`
	Clean     bool            `json:"clean"`
}

func (t *gitTools) status(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req gitRepoRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	dir, err := t.repoDir(req.RepoPath, req.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	stdout, stderr, exit, err := t.run(ctx, dir, nil, "status", "--porcelain=v2", "--branch")
	if err != nil {
		return nil, err
	}
	if exit != 0 {
		return nil, toolerr.Internalf("Git status failed: %s", stderr)
	}

	resp := gitStatusResponse{
		Branch:    "unknown",
		Staged:    []gitFileStatus{},
		Unstaged:  []gitFileStatus{},
		Untracked: []string{},
	}
	for _, line := range strings.Split(stdout, "\n") {
		switch {
		case strings.HasPrefix(line, "# branch.head"):
			fields := strings.Fields(line)
			resp.Branch = fields[len(fields)-1]
		case strings.HasPrefix(line, "# branch.ab"):
			fields := strings.Fields(line)
			if len(fields) >= 4 {
				resp.Ahead, _ = strconv.Atoi(strings.TrimPrefix(fields[2], "+"))
				resp.Behind, _ = strconv.Atoi(strings.TrimPrefix(fields[3], "-"))
			}
		case strings.HasPrefix(line, "1 ") || strings.HasPrefix(line, "2 "):
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			xy := fields[1]
			path := fields[len(fields)-1]
			if len(xy) == 2 {
				if xy[0] != '.' {
					resp.Staged = append(resp.Staged, gitFileStatus{Path: path, Status: string(xy[0])})
				}
				if xy[1] != '.' {
					resp.Unstaged = append(resp.Unstaged, gitFileStatus{Path: path, Status: string(xy[1])})
				}
			}
		case strings.HasPrefix(line, "? "):
			resp.Untracked = append(resp.Untracked, line[2:])
		}
	}
	resp.Clean = len(resp.Staged) == 0 && len(resp.Unstaged) == 0 && len(resp.Untracked) == 0
	return out(resp)
}

type gitLogRequest struct {
	gitRepoRequest
	MaxCount int    `json:"max_count"`
	Author   string `json:"author"`
	Since    string `json:"since"`
	Until    string `json:"until"`
	Path     string `json:"path"`
}

type gitCommitFile struct {
	Path      string `json:"path"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

type gitCommit struct {
	Hash         string          `json:"hash"`
	ShortHash    string          `json:"short_hash"`
	Author       string          `json:"author"`
	Email        string          `json:"email"`
	Timestamp    int64           `json:"timestamp"`
	Date         string          `json:"date"`
	Message      string          `json:"message"`
	Body         string          `json:"body"`
	FilesChanged []gitCommitFile `json:"files_changed"`
}

type gitLogResponse struct {
	Commits    []gitCommit `json:"commits"`
	TotalShown int         `json:"total_shown"`
}

// logEndMarker separates commits in the machine-readable log format.
const logEndMarker = "---COMMIT-END---"

// isCommitHash reports whether a line is a full 40-character commit hash.
func isCommitHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (t *gitTools) log(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req gitLogRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	dir, err := t.repoDir(req.RepoPath, req.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	maxCount := req.MaxCount
	if maxCount <= 0 {
		maxCount = 20
	}
	args := []string{
		"log",
		"--max-count=" + strconv.Itoa(maxCount),
		"--pretty=format:%H%n%h%n%an%n%ae%n%at%n%s%n" + logEndMarker,
		"--numstat",
	}
	if req.Author != "" {
		args = append(args, "--author="+req.Author)
	}
	if req.Since != "" {
		args = append(args, "--since="+req.Since)
	}
	if req.Until != "" {
		args = append(args, "--until="+req.Until)
	}
	if req.Path != "" {
		args = append(args, "--", req.Path)
	}

	stdout, stderr, exit, err := t.run(ctx, dir, nil, args...)
	if err != nil {
		return nil, err
	}
	if exit != 0 {
		return nil, toolerr.Internalf("Git log failed: %s", stderr)
	}

	// Per commit, git prints the six header lines, the end marker, then the
	// numstat block. Stats therefore run from the marker to the next header.
	commits := []gitCommit{}
	lines := strings.Split(stdout, "\n")
	for i := 0; i < len(lines); {
		if i+5 >= len(lines) {
			break
		}
		if !isCommitHash(lines[i]) {
			i++
			continue
		}
		ts, _ := strconv.ParseInt(lines[i+4], 10, 64)
		commit := gitCommit{
			Hash:         lines[i],
			ShortHash:    lines[i+1],
			Author:       lines[i+2],
			Email:        lines[i+3],
			Timestamp:    ts,
			Date:         time.Unix(ts, 0).Format("2006-01-02T15:04:05"),
			Message:      lines[i+5],
			FilesChanged: []gitCommitFile{},
		}
		i += 6
		if i < len(lines) && lines[i] == logEndMarker {
			i++
		}
		for i < len(lines) && !isCommitHash(lines[i]) {
			if parts := strings.Split(lines[i], "\t"); len(parts) >= 3 {
				add, _ := strconv.Atoi(parts[0])
				del, _ := strconv.Atoi(parts[1])
				commit.FilesChanged = append(commit.FilesChanged, gitCommitFile{
					Path: parts[2], Additions: add, Deletions: del,
				})
			}
			i++
		}
		commits = append(commits, commit)
	}

	return out(gitLogResponse{Commits: commits, TotalShown: len(commits)})
}

type gitDiffRequest struct {
	gitRepoRequest
	Ref      string `json:"ref"`
	Path     string `json:"path"`
	Staged   bool   `json:"staged"`
	StatOnly bool   `json:"stat_only"`
}

type gitDiffResponse struct {
	Diff         string `json:"diff"`
	FilesChanged int    `json:"files_changed"`
	Insertions   int    `json:"insertions"`
	Deletions    int    `json:"deletions"`
}

func (t *gitTools) diff(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req gitDiffRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	dir, err := t.repoDir(req.RepoPath, req.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	args := []string{"diff"}
	if req.Staged {
		args = append(args, "--cached")
	}
	if req.StatOnly {
		args = append(args, "--stat")
	}
	if req.Ref != "" {
		args = append(args, req.Ref)
	}
	if req.Path != "" {
		args = append(args, "--", req.Path)
	}

	stdout, stderr, exit, err := t.run(ctx, dir, nil, args...)
	if err != nil {
		return nil, err
	}
	if exit != 0 {
		return nil, toolerr.Internalf("Git diff failed: %s", stderr)
	}

	resp := gitDiffResponse{Diff: stdout}
	if req.StatOnly {
		for _, line := range strings.Split(stdout, "\n") {
			if !strings.Contains(line, " file") || !strings.Contains(line, " changed") {
				continue
			}
			if m := statFilesRe.FindStringSubmatch(line); m != nil {
				resp.FilesChanged, _ = strconv.Atoi(m[1])
			}
			if m := statInsertionsRe.FindStringSubmatch(line); m != nil {
				resp.Insertions, _ = strconv.Atoi(m[1])
			}
			if m := statDeletionsRe.FindStringSubmatch(line); m != nil {
				resp.Deletions, _ = strconv.Atoi(m[1])
			}
		}
	} else {
		for _, line := range strings.Split(stdout, "\n") {
			switch {
			case strings.HasPrefix(line, "+++ b/"):
				resp.FilesChanged++
			case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			case strings.HasPrefix(line, "+"):
				resp.Insertions++
			case strings.HasPrefix(line, "-"):
				resp.Deletions++
			}
		}
	}
	return out(resp)
}

type gitCommitRequest struct {
	gitRepoRequest
	Message string   `json:"message"`
	Files   []string `json:"files"`
}

type gitCommitResponse struct {
	Hash           string   `json:"hash"`
	Message        string   `json:"message"`
	FilesCommitted []string `json:"files_committed"`
}

func (t *gitTools) commit(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req gitCommitRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, toolerr.InvalidParamf("Commit message cannot be empty")
	}
	dir, err := t.repoDir(req.RepoPath, req.WorkspaceDir)
	if err != nil {
		return nil, err
	}

	if len(req.Files) > 0 {
		for _, f := range req.Files {
			if _, stderr, exit, err := t.run(ctx, dir, nil, "add", f); err != nil {
				return nil, err
			} else if exit != 0 {
				return nil, toolerr.Internalf("Git add failed: %s", stderr)
			}
		}
	} else {
		if _, stderr, exit, err := t.run(ctx, dir, nil, "add", "-A"); err != nil {
			return nil, err
		} else if exit != 0 {
			return nil, toolerr.Internalf("Git add failed: %s", stderr)
		}
	}

	_, stderr, exit, err := t.run(ctx, dir, nil, "commit", "-m", req.Message)
	if err != nil {
		return nil, err
	}
	if exit != 0 {
		return nil, toolerr.Internalf("Git commit failed: %s", stderr)
	}

	hashOut, _, _, err := t.run(ctx, dir, nil, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	hash := strings.TrimSpace(hashOut)

	// --root makes diff-tree list files for the repository's first commit too.
	filesOut, _, _, err := t.run(ctx, dir, nil,
		"diff-tree", "--no-commit-id", "--name-only", "-r", "--root", hash)
	if err != nil {
		return nil, err
	}
	committed := []string{}
	for _, f := range strings.Split(filesOut, "\n") {
		if f != "" {
			committed = append(committed, f)
		}
	}

	return out(gitCommitResponse{Hash: hash, Message: req.Message, FilesCommitted: committed})
}

type gitPushRequest struct {
	gitRepoRequest
	Remote string            `json:"remote"`
	Branch string            `json:"branch"`
	Force  bool              `json:"force"`
	Env    map[string]string `json:"env"`
}

type gitPushResponse struct {
	Remote        string `json:"remote"`
	Branch        string `json:"branch"`
	CommitsPushed int    `json:"commits_pushed"`
	Output        string `json:"output"`
}

func (t *gitTools) push(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req gitPushRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	dir, err := t.repoDir(req.RepoPath, req.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	if req.Remote == "" {
		req.Remote = "origin"
	}
	branch := req.Branch
	if branch == "" {
		cur, _, _, err := t.run(ctx, dir, nil, "branch", "--show-current")
		if err != nil {
			return nil, err
		}
		branch = strings.TrimSpace(cur)
	}

	args := []string{"push", req.Remote, branch}
	if req.Force {
		args = append(args, "--force")
	}
	stdout, stderr, exit, err := t.run(ctx, dir, req.Env, args...)
	if err != nil {
		return nil, err
	}
	if exit != 0 {
		return nil, toolerr.Internalf("Git push failed: %s", stderr)
	}

	combined := stdout + stderr
	pushed := 0
	for _, line := range strings.Split(combined, "\n") {
		if strings.Contains(line, "..") && refRangeRe.MatchString(line) {
			pushed = 1
		}
	}

	return out(gitPushResponse{
		Remote:        req.Remote,
		Branch:        branch,
		CommitsPushed: pushed,
		Output:        combined,
	})
}

type gitPullRequest struct {
	gitRepoRequest
	Remote string            `json:"remote"`
	Branch string            `json:"branch"`
	Rebase bool              `json:"rebase"`
	Env    map[string]string `json:"env"`
}

type gitPullResponse struct {
	Updated         bool     `json:"updated"`
	CommitsReceived int      `json:"commits_received"`
	FilesChanged    []string `json:"files_changed"`
	Output          string   `json:"output"`
}

func (t *gitTools) pull(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req gitPullRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	dir, err := t.repoDir(req.RepoPath, req.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	if req.Remote == "" {
		req.Remote = "origin"
	}
	args := []string{"pull"}
	if req.Rebase {
		args = append(args, "--rebase")
	}
	args = append(args, req.Remote)
	if req.Branch != "" {
		args = append(args, req.Branch)
	}

	stdout, stderr, exit, err := t.run(ctx, dir, req.Env, args...)
	if err != nil {
		return nil, err
	}
	if exit != 0 {
		return nil, toolerr.Internalf("Git pull failed: %s", stderr)
	}

	combined := stdout + stderr
	resp := gitPullResponse{
		Updated:      !strings.Contains(stdout, "Already up to date"),
		FilesChanged: []string{},
		Output:       combined,
	}
	for _, line := range strings.Split(combined, "\n") {
		if strings.Contains(line, "file changed") || strings.Contains(line, "files changed") {
			if statFilesRe.MatchString(line) {
				resp.CommitsReceived = 1
			}
		}
		if strings.Contains(line, "|") && strings.ContainsAny(line, "+-") {
			path := strings.TrimSpace(strings.SplitN(line, "|", 2)[0])
			if path != "" {
				resp.FilesChanged = append(resp.FilesChanged, path)
			}
		}
	}
	return out(resp)
}

type gitCheckoutRequest struct {
	gitRepoRequest
	Target string `json:"target"`
	Create bool   `json:"create"`
}

type gitCheckoutResponse struct {
	Branch         string `json:"branch"`
	PreviousBranch string `json:"previous_branch"`
	Output         string `json:"output"`
}

func (t *gitTools) checkout(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req gitCheckoutRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	if req.Target == "" {
		return nil, toolerr.InvalidParamf("Checkout target cannot be empty")
	}
	dir, err := t.repoDir(req.RepoPath, req.WorkspaceDir)
	if err != nil {
		return nil, err
	}

	cur, _, _, err := t.run(ctx, dir, nil, "branch", "--show-current")
	if err != nil {
		return nil, err
	}
	previous := strings.TrimSpace(cur)

	args := []string{"checkout"}
	if req.Create {
		args = append(args, "-b")
	}
	args = append(args, req.Target)

	stdout, stderr, exit, err := t.run(ctx, dir, nil, args...)
	if err != nil {
		return nil, err
	}
	if exit != 0 {
		return nil, toolerr.Internalf("Git checkout failed: %s", stderr)
	}

	return out(gitCheckoutResponse{
		Branch:         req.Target,
		PreviousBranch: previous,
		Output:         stdout + stderr,
	})
}

type gitBranchRequest struct {
	gitRepoRequest
	Name   string `json:"name"`
	Action string `json:"action"`
	Force  bool   `json:"force"`
}

type gitBranchResponse struct {
	Branch string `json:"branch"`
	Action string `json:"action"`
	Output string `json:"output"`
}

func (t *gitTools) branch(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req gitBranchRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, toolerr.InvalidParamf("Branch name cannot be empty")
	}
	action := req.Action
	if action == "" {
		action = "create"
	}
	if action != "create" && action != "delete" {
		return nil, toolerr.InvalidParamf(
			"Invalid action: %s. Must be 'create' or 'delete'", req.Action)
	}
	dir, err := t.repoDir(req.RepoPath, req.WorkspaceDir)
	if err != nil {
		return nil, err
	}

	var args []string
	if action == "create" {
		args = []string{"branch", req.Name}
	} else {
		flag := "-d"
		if req.Force {
			flag = "-D"
		}
		args = []string{"branch", flag, req.Name}
	}

	stdout, stderr, exit, err := t.run(ctx, dir, nil, args...)
	if err != nil {
		return nil, err
	}
	if exit != 0 {
		return nil, toolerr.Internalf("Git branch %s failed: %s", action, stderr)
	}

	return out(gitBranchResponse{Branch: req.Name, Action: action, Output: stdout + stderr})
}

type gitListBranchesRequest struct {
	gitRepoRequest
	Remote bool `json:"remote"`
}

type gitBranchInfo struct {
	Name       string `json:"name"`
	Current    bool   `json:"current"`
	Remote     bool   `json:"remote"`
	LastCommit string `json:"last_commit"`
}

type gitListBranchesResponse struct {
	Branches []gitBranchInfo `json:"branches"`
}

func (t *gitTools) listBranches(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req gitListBranchesRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	dir, err := t.repoDir(req.RepoPath, req.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	args := []string{"branch", "-v"}
	if req.Remote {
		args = append(args, "-a")
	}

	stdout, stderr, exit, err := t.run(ctx, dir, nil, args...)
	if err != nil {
		return nil, err
	}
	if exit != 0 {
		return nil, toolerr.Internalf("Git branch list failed: %s", stderr)
	}

	branches := []gitBranchInfo{}
	for _, line := range strings.Split(stdout, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		current := strings.HasPrefix(line, "*")
		line = strings.TrimLeft(line, "* ")
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		branches = append(branches, gitBranchInfo{
			Name:       fields[0],
			Current:    current,
			Remote:     strings.HasPrefix(fields[0], "remotes/"),
			LastCommit: fields[1],
		})
	}

	return out(gitListBranchesResponse{Branches: branches})
}

type gitStashRequest struct {
	gitRepoRequest
	Action  string `json:"action"`
	Message string `json:"message"`
	Index   *int   `json:"index"`
}

type gitStashEntry struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

type gitStashResponse struct {
	Action  string          `json:"action"`
	Stashes []gitStashEntry `json:"stashes"`
	Output  string          `json:"output"`
}

func (t *gitTools) stash(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req gitStashRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	action := req.Action
	if action == "" {
		action = "push"
	}
	switch action {
	case "push", "pop", "list", "drop":
	default:
		return nil, toolerr.InvalidParamf("Invalid action: %s", req.Action)
	}
	dir, err := t.repoDir(req.RepoPath, req.WorkspaceDir)
	if err != nil {
		return nil, err
	}

	args := []string{"stash", action}
	if action == "push" && req.Message != "" {
		args = append(args, "-m", req.Message)
	}
	if (action == "pop" || action == "drop") && req.Index != nil {
		args = append(args, "stash@{"+strconv.Itoa(*req.Index)+"}")
	}

	stdout, stderr, exit, err := t.run(ctx, dir, nil, args...)
	if err != nil {
		return nil, err
	}
	if exit != 0 && action != "list" {
		return nil, toolerr.Internalf("Git stash %s failed: %s", action, stderr)
	}

	resp := gitStashResponse{Action: action, Output: stdout + stderr}
	if action == "list" {
		resp.Stashes = []gitStashEntry{}
		for _, line := range strings.Split(stdout, "\n") {
			if m := stashEntryRe.FindStringSubmatch(line); m != nil {
				idx, _ := strconv.Atoi(m[1])
				resp.Stashes = append(resp.Stashes, gitStashEntry{Index: idx, Message: m[2]})
			}
		}
	}
	return out(resp)
}

type gitShowRequest struct {
	gitRepoRequest
	Ref string `json:"ref"`
}

type gitShowResponse struct {
	Hash         string   `json:"hash"`
	Author       string   `json:"author"`
	Date         string   `json:"date"`
	Message      string   `json:"message"`
	Body         string   `json:"body"`
	Diff         string   `json:"diff"`
	FilesChanged []string `json:"files_changed"`
}

func (t *gitTools) show(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req gitShowRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	dir, err := t.repoDir(req.RepoPath, req.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	ref := req.Ref
	if ref == "" {
		ref = "HEAD"
	}

	stdout, stderr, exit, err := t.run(ctx, dir, nil,
		"show", "--pretty=format:%H%n%an%n%ae%n%at%n%s%n%b", "--stat", ref)
	if err != nil {
		return nil, err
	}
	if exit != 0 {
		return nil, toolerr.Internalf("Git show failed: %s", stderr)
	}

	lines := strings.Split(stdout, "\n")
	if len(lines) < 5 {
		return nil, toolerr.Internalf("Invalid git show output")
	}
	ts, _ := strconv.ParseInt(lines[3], 10, 64)

	bodyLines := []string{}
	files := []string{}
	inBody := true
	for _, line := range lines[5:] {
		if strings.Contains(line, "|") && strings.ContainsAny(line, "+-") {
			inBody = false
			path := strings.TrimSpace(strings.SplitN(line, "|", 2)[0])
			if path != "" {
				files = append(files, path)
			}
		} else if inBody && strings.TrimSpace(line) != "" {
			bodyLines = append(bodyLines, line)
		}
	}

	diffOut, _, _, err := t.run(ctx, dir, nil, "show", ref)
	if err != nil {
		return nil, err
	}

	return out(gitShowResponse{
		Hash:         lines[0],
		Author:       lines[1] + " <" + lines[2] + ">",
		Date:         time.Unix(ts, 0).Format("2006-01-02T15:04:05"),
		Message:      lines[4],
		Body:         strings.Join(bodyLines, "\n"),
		Diff:         diffOut,
		FilesChanged: files,
	})
}

type gitRemoteRequest struct {
	gitRepoRequest
	Action string `json:"action"`
	Name   string `json:"name"`
	URL    string `json:"url"`
}

type gitRemoteInfo struct {
	Name     string `json:"name"`
	FetchURL string `json:"fetch_url"`
	PushURL  string `json:"push_url"`
}

type gitRemoteResponse struct {
	Remotes []gitRemoteInfo `json:"remotes"`
	Action  string          `json:"action"`
	Output  string          `json:"output,omitempty"`
}

func (t *gitTools) remote(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req gitRemoteRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	action := req.Action
	if action == "" {
		action = "list"
	}
	switch action {
	case "list", "add", "remove":
	default:
		return nil, toolerr.InvalidParamf("Invalid action: %s", req.Action)
	}
	dir, err := t.repoDir(req.RepoPath, req.WorkspaceDir)
	if err != nil {
		return nil, err
	}

	args := []string{"remote"}
	switch action {
	case "list":
		args = append(args, "-v")
	case "add":
		if req.Name == "" || req.URL == "" {
			return nil, toolerr.InvalidParamf("Name and URL required for add action")
		}
		args = append(args, "add", req.Name, req.URL)
	case "remove":
		if req.Name == "" {
			return nil, toolerr.InvalidParamf("Name required for remove action")
		}
		args = append(args, "remove", req.Name)
	}

	stdout, stderr, exit, err := t.run(ctx, dir, nil, args...)
	if err != nil {
		return nil, err
	}
	if exit != 0 {
		return nil, toolerr.Internalf("Git remote %s failed: %s", action, stderr)
	}

	resp := gitRemoteResponse{Remotes: []gitRemoteInfo{}, Action: action}
	if action == "list" {
		order := []string{}
		byName := map[string]*gitRemoteInfo{}
		for _, line := range strings.Split(stdout, "\n") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			name, url := fields[0], fields[1]
			kind := "fetch"
			if len(fields) >= 3 {
				kind = strings.Trim(fields[2], "()")
			}
			info, ok := byName[name]
			if !ok {
				info = &gitRemoteInfo{Name: name}
				byName[name] = info
				order = append(order, name)
			}
			switch kind {
			case "fetch":
				info.FetchURL = url
			case "push":
				info.PushURL = url
			}
		}
		for _, name := range order {
			resp.Remotes = append(resp.Remotes, *byName[name])
		}
	} else {
		resp.Output = stdout + stderr
	}
	return out(resp)
}
