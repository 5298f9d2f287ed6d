package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hostbridge/hostbridge/internal/registry"
	"github.com/hostbridge/hostbridge/internal/toolerr"
	"github.com/hostbridge/hostbridge/internal/workspace"
)

// maxFileBytes bounds fs_read and the per-file content scan in fs_search.
const maxFileBytes = 10 << 20

type fsTools struct {
	ws *workspace.Resolver
}

func registerFS(reg *registry.Registry, deps Deps) error {
	t := &fsTools{ws: deps.Workspace}

	descriptors := []*registry.Descriptor{
		{
			Category:    "fs",
			Name:        "read",
			Description: "Read file contents from the workspace. Supports 1-indexed line ranges and a maximum line count for large files.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "File path, relative to the workspace root"},
					"workspace_dir": {"type": "string", "description": "Workspace subdirectory to resolve the path against"},
					"encoding": {"type": "string", "default": "utf-8"},
					"max_lines": {"type": "integer", "minimum": 1},
					"line_start": {"type": "integer", "minimum": 1},
					"line_end": {"type": "integer", "minimum": 1}
				},
				"required": ["path"]
			}`),
			Handler: t.read,
		},
		{
			Category:    "fs",
			Name:        "write",
			Description: "Write content to a file in the workspace. Modes: create fails if the file exists, overwrite replaces it, append adds to it.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "File path, relative to the workspace root"},
					"content": {"type": "string"},
					"workspace_dir": {"type": "string"},
					"mode": {"type": "string", "enum": ["create", "overwrite", "append"], "default": "create"},
					"create_dirs": {"type": "boolean", "default": true},
					"encoding": {"type": "string", "default": "utf-8"}
				},
				"required": ["path", "content"]
			}`),
			Handler: t.write,
		},
		{
			Category:    "fs",
			Name:        "list",
			Description: "List directory contents with size and modification time. Supports recursive listing, hidden-file filtering and glob patterns like *.go.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "default": "."},
					"workspace_dir": {"type": "string"},
					"recursive": {"type": "boolean", "default": false},
					"max_depth": {"type": "integer", "minimum": 1},
					"include_hidden": {"type": "boolean", "default": false},
					"pattern": {"type": "string", "description": "Glob pattern applied to entry names"}
				}
			}`),
			Handler: t.list,
		},
		{
			Category:    "fs",
			Name:        "search",
			Description: "Search workspace files by name, by content, or both. The query is a substring, a glob, or with regex=true a regular expression.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string"},
					"path": {"type": "string", "default": "."},
					"workspace_dir": {"type": "string"},
					"search_type": {"type": "string", "enum": ["filename", "content", "both"], "default": "filename"},
					"regex": {"type": "boolean", "default": false},
					"max_results": {"type": "integer", "minimum": 1, "default": 100},
					"include_content_preview": {"type": "boolean", "default": true}
				},
				"required": ["query"]
			}`),
			Handler: t.search,
		},
	}
	for _, d := range descriptors {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

type fsReadRequest struct {
	Path         string `json:"path"`
	WorkspaceDir string `json:"workspace_dir"`
	Encoding     string `json:"encoding"`
	MaxLines     int    `json:"max_lines"`
	LineStart    int    `json:"line_start"`
	LineEnd      int    `json:"line_end"`
}

type fsReadResponse struct {
	Content   string `json:"content"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	LineCount int    `json:"line_count"`
	Encoding  string `json:"encoding"`
}

func (t *fsTools) read(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req fsReadRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	enc, err := normalizeEncoding(req.Encoding)
	if err != nil {
		return nil, err
	}

	resolved, err := t.ws.Resolve(req.Path, req.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(resolved)
	if err != nil {
		return nil, toolerr.NotFoundf(
			"File not found: %s. Use fs_list to see available files.", req.Path,
		).Suggest("fs_list")
	}
	if st.IsDir() {
		return nil, toolerr.InvalidParamf(
			"Path is not a file: %s. Use fs_list to list directory contents.", req.Path,
		).Suggest("fs_list")
	}
	if st.Size() > maxFileBytes {
		return nil, toolerr.InvalidParamf(
			"File too large: %d bytes (limit %d bytes)", st.Size(), maxFileBytes)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, toolerr.Internalf("Failed to read file: %v", err)
	}
	if !utf8.Valid(data) {
		return nil, toolerr.InvalidParamf(
			"Failed to decode file with encoding '%s': invalid byte sequence. Check if this is a binary file.", enc)
	}

	lines := splitKeepEnds(string(data))
	lineCount := len(lines)

	if req.LineStart != 0 || req.LineEnd != 0 {
		start := 0
		if req.LineStart != 0 {
			start = req.LineStart - 1
		}
		end := lineCount
		if req.LineEnd != 0 {
			end = req.LineEnd
		}
		if start < 0 || start >= lineCount {
			return nil, toolerr.InvalidParamf(
				"line_start %d is out of range. File has %d lines.", req.LineStart, lineCount)
		}
		if end < start {
			return nil, toolerr.InvalidParamf(
				"line_end %d is before line_start %d", req.LineEnd, req.LineStart)
		}
		if end > lineCount {
			end = lineCount
		}
		lines = lines[start:end]
	}
	if req.MaxLines > 0 && len(lines) > req.MaxLines {
		lines = lines[:req.MaxLines]
	}

	return out(fsReadResponse{
		Content:   strings.Join(lines, ""),
		Path:      resolved,
		SizeBytes: st.Size(),
		LineCount: lineCount,
		Encoding:  enc,
	})
}

type fsWriteRequest struct {
	Path         string `json:"path"`
	Content      string `json:"content"`
	WorkspaceDir string `json:"workspace_dir"`
	Mode         string `json:"mode"`
	CreateDirs   *bool  `json:"create_dirs"`
	Encoding     string `json:"encoding"`
}

type fsWriteResponse struct {
	Path         string `json:"path"`
	BytesWritten int    `json:"bytes_written"`
	Created      bool   `json:"created"`
	Mode         string `json:"mode"`
}

func (t *fsTools) write(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req fsWriteRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	if _, err := normalizeEncoding(req.Encoding); err != nil {
		return nil, err
	}
	mode := req.Mode
	if mode == "" {
		mode = "create"
	}
	switch mode {
	case "create", "overwrite", "append":
	default:
		return nil, toolerr.InvalidParamf(
			"Invalid mode '%s'. Must be one of: create, overwrite, append", req.Mode)
	}

	resolved, err := t.ws.Resolve(req.Path, req.WorkspaceDir)
	if err != nil {
		return nil, err
	}

	exists := false
	if st, err := os.Stat(resolved); err == nil {
		if st.IsDir() {
			return nil, toolerr.InvalidParamf(
				"Path is a directory: %s. Provide a file path.", req.Path)
		}
		exists = true
	}
	if mode == "create" && exists {
		return nil, toolerr.InvalidParamf(
			"File already exists: %s. Use mode 'overwrite' to replace it or 'append' to add to it.", req.Path)
	}

	parent := filepath.Dir(resolved)
	if req.CreateDirs == nil || *req.CreateDirs {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, toolerr.Internalf("Failed to create parent directories: %v", err)
		}
	} else if _, err := os.Stat(parent); err != nil {
		return nil, toolerr.NotFoundf(
			"Parent directory does not exist: %s. Set create_dirs to create it.", parent)
	}

	switch mode {
	case "append":
		f, err := os.OpenFile(resolved, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, toolerr.Internalf("Failed to write file: %v", err)
		}
		_, werr := f.WriteString(req.Content)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return nil, toolerr.Internalf("Failed to write file: %v", werr)
		}
	default:
		if err := os.WriteFile(resolved, []byte(req.Content), 0o644); err != nil {
			return nil, toolerr.Internalf("Failed to write file: %v", err)
		}
	}

	return out(fsWriteResponse{
		Path:         resolved,
		BytesWritten: len(req.Content),
		Created:      !exists,
		Mode:         mode,
	})
}

type fsListRequest struct {
	Path          string `json:"path"`
	WorkspaceDir  string `json:"workspace_dir"`
	Recursive     bool   `json:"recursive"`
	MaxDepth      int    `json:"max_depth"`
	IncludeHidden bool   `json:"include_hidden"`
	Pattern       string `json:"pattern"`
}

type fsEntry struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Type       string `json:"type"`
	SizeBytes  int64  `json:"size_bytes"`
	ModifiedAt string `json:"modified_at"`
}

type fsListResponse struct {
	Path    string    `json:"path"`
	Entries []fsEntry `json:"entries"`
	Total   int       `json:"total"`
}

func (t *fsTools) list(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req fsListRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	if req.Path == "" {
		req.Path = "."
	}
	if req.Pattern != "" {
		if _, err := path.Match(req.Pattern, ""); err != nil {
			return nil, toolerr.InvalidParamf("Invalid pattern '%s'", req.Pattern)
		}
	}
	maxDepth := req.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 10
	}
	if !req.Recursive {
		maxDepth = 1
	}

	resolved, err := t.ws.Resolve(req.Path, req.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(resolved)
	if err != nil {
		return nil, toolerr.NotFoundf(
			"Directory not found: %s. Use fs_list on a parent directory to see available entries.", req.Path,
		).Suggest("fs_list")
	}
	if !st.IsDir() {
		return nil, toolerr.InvalidParamf(
			"Path is not a directory: %s. Use fs_read to read files.", req.Path,
		).Suggest("fs_read")
	}

	entries := []fsEntry{}
	err = filepath.WalkDir(resolved, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if p == resolved {
			return nil
		}
		rel, err := filepath.Rel(resolved, p)
		if err != nil {
			return nil
		}
		hidden := strings.HasPrefix(d.Name(), ".")
		if hidden && !req.IncludeHidden {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if depth := strings.Count(rel, string(filepath.Separator)) + 1; depth > maxDepth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if req.Pattern != "" {
			if ok, _ := path.Match(req.Pattern, d.Name()); !ok {
				return nil
			}
		}
		entry := fsEntry{Name: d.Name(), Path: rel, Type: "file"}
		if d.IsDir() {
			entry.Type = "directory"
		}
		if fi, err := d.Info(); err == nil {
			entry.SizeBytes = fi.Size()
			entry.ModifiedAt = fi.ModTime().Format(time.RFC3339)
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, toolerr.Internalf("Failed to list directory: %v", err)
	}

	return out(fsListResponse{Path: resolved, Entries: entries, Total: len(entries)})
}

type fsSearchRequest struct {
	Query                 string `json:"query"`
	Path                  string `json:"path"`
	WorkspaceDir          string `json:"workspace_dir"`
	SearchType            string `json:"search_type"`
	Regex                 bool   `json:"regex"`
	MaxResults            int    `json:"max_results"`
	IncludeContentPreview *bool  `json:"include_content_preview"`
}

type fsMatch struct {
	Path       string `json:"path"`
	Type       string `json:"type"`
	LineNumber int    `json:"line_number,omitempty"`
	Preview    string `json:"preview,omitempty"`
}

type fsSearchResponse struct {
	Query      string    `json:"query"`
	SearchType string    `json:"search_type"`
	Results    []fsMatch `json:"results"`
	Total      int       `json:"total"`
	Truncated  bool      `json:"truncated"`
}

// nameMatcher and lineMatcher close over the compiled query so the walk body
// stays free of per-entry branching on the query form.
type searchMatchers struct {
	name func(string) bool
	line func(string) bool
}

func compileQuery(query string, regex bool) (searchMatchers, error) {
	if regex {
		re, err := regexp.Compile(query)
		if err != nil {
			return searchMatchers{}, toolerr.InvalidParamf("Invalid regex pattern: %v", err)
		}
		return searchMatchers{name: re.MatchString, line: re.MatchString}, nil
	}
	lower := strings.ToLower(query)
	contains := func(s string) bool {
		return strings.Contains(strings.ToLower(s), lower)
	}
	if strings.ContainsAny(query, "*?[") {
		if _, err := path.Match(query, ""); err != nil {
			return searchMatchers{}, toolerr.InvalidParamf("Invalid glob pattern '%s'", query)
		}
		glob := func(s string) bool {
			ok, _ := path.Match(query, s)
			return ok
		}
		return searchMatchers{name: glob, line: contains}, nil
	}
	return searchMatchers{name: contains, line: contains}, nil
}

func (t *fsTools) search(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req fsSearchRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, toolerr.InvalidParamf("Search query cannot be empty")
	}
	searchType := req.SearchType
	if searchType == "" {
		searchType = "filename"
	}
	switch searchType {
	case "filename", "content", "both":
	default:
		return nil, toolerr.InvalidParamf(
			"Invalid search_type '%s'. Must be one of: filename, content, both", req.SearchType)
	}
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = 100
	}
	withPreview := req.IncludeContentPreview == nil || *req.IncludeContentPreview

	if req.Path == "" {
		req.Path = "."
	}
	resolved, err := t.ws.Resolve(req.Path, req.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	if st, err := os.Stat(resolved); err != nil || !st.IsDir() {
		return nil, toolerr.NotFoundf(
			"Directory not found: %s. Use fs_list on a parent directory to see available entries.", req.Path,
		).Suggest("fs_list")
	}

	match, err := compileQuery(req.Query, req.Regex)
	if err != nil {
		return nil, err
	}

	results := []fsMatch{}
	truncated := false
	walkErr := filepath.WalkDir(resolved, func(p string, d fs.DirEntry, err error) error {
		if err != nil || p == resolved {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(resolved, p)
		if err != nil {
			return nil
		}
		if len(results) >= maxResults {
			truncated = true
			return filepath.SkipAll
		}
		if searchType != "content" && match.name(d.Name()) {
			results = append(results, fsMatch{Path: rel, Type: "filename"})
		}
		if searchType != "filename" && !d.IsDir() {
			results = appendContentMatches(results, p, rel, match.line, withPreview, maxResults)
		}
		return nil
	})
	if walkErr != nil && walkErr == ctx.Err() {
		return nil, toolerr.Timeoutf("Search cancelled: %v", walkErr)
	}
	if len(results) > maxResults {
		results = results[:maxResults]
		truncated = true
	}

	return out(fsSearchResponse{
		Query:      req.Query,
		SearchType: searchType,
		Results:    results,
		Total:      len(results),
		Truncated:  truncated,
	})
}

// appendContentMatches scans one file line by line. Binary files, files over
// the read size cap, and unreadable files are skipped.
func appendContentMatches(
	results []fsMatch, p, rel string, match func(string) bool, withPreview bool, maxResults int,
) []fsMatch {
	st, err := os.Stat(p)
	if err != nil || st.Size() > maxFileBytes {
		return results
	}
	f, err := os.Open(p)
	if err != nil {
		return results
	}
	defer f.Close()

	sniff := make([]byte, 8000)
	n, _ := f.Read(sniff)
	if bytes.IndexByte(sniff[:n], 0) >= 0 {
		return results
	}
	if _, err := f.Seek(0, 0); err != nil {
		return results
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if !match(scanner.Text()) {
			continue
		}
		m := fsMatch{Path: rel, Type: "content", LineNumber: lineNo}
		if withPreview {
			m.Preview = previewLine(scanner.Text())
		}
		results = append(results, m)
		if len(results) >= maxResults {
			break
		}
	}
	return results
}

// previewLine trims a matched line to a bounded preview at a rune boundary.
func previewLine(line string) string {
	const limit = 200
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) <= limit {
		return line
	}
	runes := []rune(line)
	return string(runes[:limit]) + "..."
}

// splitKeepEnds splits text into lines that keep their trailing newline, the
// shape line-range selection slices over.
func splitKeepEnds(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func normalizeEncoding(enc string) (string, error) {
	switch strings.ToLower(enc) {
	case "", "utf-8", "utf8":
		return "utf-8", nil
	default:
		return "", toolerr.InvalidParamf(
			"Unsupported encoding '%s'. Only utf-8 is supported.", enc)
	}
}
