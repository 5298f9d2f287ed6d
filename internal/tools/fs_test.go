package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/hostbridge/hostbridge/internal/toolerr"
	"github.com/hostbridge/hostbridge/internal/workspace"
)

func newFsTools(t *testing.T) (*fsTools, *workspace.Resolver) {
	t.Helper()
	ws := newTestWorkspace(t)
	return &fsTools{ws: ws}, ws
}

func seedFile(t *testing.T, ws *workspace.Resolver, rel, content string) {
	t.Helper()
	full := filepath.Join(ws.Root(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", rel, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func wantKind(t *testing.T, err error, kind toolerr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("want %s error, got nil", kind)
	}
	if got := toolerr.KindOf(err); got != kind {
		t.Fatalf("error kind = %s, want %s (%v)", got, kind, err)
	}
}

func TestFsReadBasic(t *testing.T) {
	tl, ws := newFsTools(t)
	seedFile(t, ws, "notes.txt", "line1\nline2\nline3\n")

	res, err := tl.read(context.Background(), map[string]any{"path": "notes.txt"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if res["content"] != "line1\nline2\nline3\n" {
		t.Errorf("content = %q", res["content"])
	}
	if res["line_count"] != float64(3) {
		t.Errorf("line_count = %v, want 3", res["line_count"])
	}
	if res["encoding"] != "utf-8" {
		t.Errorf("encoding = %v", res["encoding"])
	}
	if got, _ := res["path"].(string); !filepath.IsAbs(got) {
		t.Errorf("path = %q, want absolute", got)
	}
}

func TestFsReadLineRanges(t *testing.T) {
	tl, ws := newFsTools(t)
	seedFile(t, ws, "notes.txt", "line1\nline2\nline3\n")

	cases := []struct {
		name    string
		params  map[string]any
		content string
	}{
		{"from line 2", map[string]any{"path": "notes.txt", "line_start": 2}, "line2\nline3\n"},
		{"to line 2", map[string]any{"path": "notes.txt", "line_end": 2}, "line1\nline2\n"},
		{"single line", map[string]any{"path": "notes.txt", "line_start": 2, "line_end": 2}, "line2\n"},
		{"max lines", map[string]any{"path": "notes.txt", "max_lines": 1}, "line1\n"},
	}
	for _, tc := range cases {
		res, err := tl.read(context.Background(), tc.params)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if res["content"] != tc.content {
			t.Errorf("%s: content = %q, want %q", tc.name, res["content"], tc.content)
		}
		// line_count always reports the whole file
		if res["line_count"] != float64(3) {
			t.Errorf("%s: line_count = %v, want 3", tc.name, res["line_count"])
		}
	}

	_, err := tl.read(context.Background(), map[string]any{"path": "notes.txt", "line_start": 10})
	wantKind(t, err, toolerr.KindInvalidParameter)
	if !strings.Contains(err.Error(), "out of range") {
		t.Errorf("error = %v, want out of range", err)
	}

	_, err = tl.read(context.Background(), map[string]any{"path": "notes.txt", "line_start": 3, "line_end": 2})
	wantKind(t, err, toolerr.KindInvalidParameter)
}

func TestFsReadErrors(t *testing.T) {
	tl, ws := newFsTools(t)
	seedFile(t, ws, "sub/keep.txt", "x")
	if err := os.WriteFile(filepath.Join(ws.Root(), "binary.dat"), []byte{0xff, 0xfe, 0xfd}, 0o644); err != nil {
		t.Fatalf("write binary: %v", err)
	}

	_, err := tl.read(context.Background(), map[string]any{"path": "missing.txt"})
	wantKind(t, err, toolerr.KindNotFound)
	var te *toolerr.Error
	if !errors.As(err, &te) || te.SuggestionTool != "fs_list" {
		t.Errorf("missing file should suggest fs_list, got %+v", te)
	}

	_, err = tl.read(context.Background(), map[string]any{"path": "sub"})
	wantKind(t, err, toolerr.KindInvalidParameter)

	_, err = tl.read(context.Background(), map[string]any{"path": "binary.dat"})
	wantKind(t, err, toolerr.KindInvalidParameter)
	if !strings.Contains(err.Error(), "binary") {
		t.Errorf("binary error = %v", err)
	}

	_, err = tl.read(context.Background(), map[string]any{"path": "sub/keep.txt", "encoding": "latin-1"})
	wantKind(t, err, toolerr.KindInvalidParameter)
	if !strings.Contains(err.Error(), "utf-8") {
		t.Errorf("encoding error = %v", err)
	}
}

func TestFsWriteModes(t *testing.T) {
	tl, ws := newFsTools(t)
	ctx := context.Background()

	res, err := tl.write(ctx, map[string]any{"path": "out.txt", "content": "first"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res["created"] != true || res["bytes_written"] != float64(5) {
		t.Errorf("create result = %v", res)
	}

	_, err = tl.write(ctx, map[string]any{"path": "out.txt", "content": "again"})
	wantKind(t, err, toolerr.KindInvalidParameter)
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("create-exists error = %v", err)
	}

	if _, err := tl.write(ctx, map[string]any{"path": "out.txt", "content": "second", "mode": "overwrite"}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if _, err := tl.write(ctx, map[string]any{"path": "out.txt", "content": "+more", "mode": "append"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(ws.Root(), "out.txt"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "second+more" {
		t.Errorf("content after overwrite+append = %q", data)
	}

	_, err = tl.write(ctx, map[string]any{"path": "out.txt", "content": "x", "mode": "replace"})
	wantKind(t, err, toolerr.KindInvalidParameter)

	// Parent directories are created by default, and not when disabled.
	if _, err := tl.write(ctx, map[string]any{"path": "deep/nested/a.txt", "content": "x"}); err != nil {
		t.Fatalf("nested create: %v", err)
	}
	_, err = tl.write(ctx, map[string]any{"path": "other/missing/b.txt", "content": "x", "create_dirs": false})
	wantKind(t, err, toolerr.KindNotFound)

	seedFile(t, ws, "adir/inner.txt", "x")
	_, err = tl.write(ctx, map[string]any{"path": "adir", "content": "x", "mode": "overwrite"})
	wantKind(t, err, toolerr.KindInvalidParameter)
	if !strings.Contains(err.Error(), "directory") {
		t.Errorf("dir-target error = %v", err)
	}
}

func listPaths(t *testing.T, res map[string]any) []string {
	t.Helper()
	raw, _ := res["entries"].([]any)
	paths := make([]string, 0, len(raw))
	for _, e := range raw {
		entry, _ := e.(map[string]any)
		paths = append(paths, entry["path"].(string))
	}
	sort.Strings(paths)
	return paths
}

func TestFsList(t *testing.T) {
	tl, ws := newFsTools(t)
	ctx := context.Background()
	seedFile(t, ws, "a.txt", "a")
	seedFile(t, ws, "sub/b.go", "package b")
	seedFile(t, ws, "sub/deep/c.txt", "c")
	seedFile(t, ws, ".hidden", "h")

	res, err := tl.list(ctx, map[string]any{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := listPaths(t, res); !equalStrings(got, []string{"a.txt", "sub"}) {
		t.Errorf("non-recursive list = %v", got)
	}

	res, err = tl.list(ctx, map[string]any{"recursive": true})
	if err != nil {
		t.Fatalf("recursive list: %v", err)
	}
	if got := listPaths(t, res); !equalStrings(got, []string{"a.txt", "sub", "sub/b.go", "sub/deep", "sub/deep/c.txt"}) {
		t.Errorf("recursive list = %v", got)
	}

	res, err = tl.list(ctx, map[string]any{"recursive": true, "max_depth": 1})
	if err != nil {
		t.Fatalf("depth list: %v", err)
	}
	if got := listPaths(t, res); !equalStrings(got, []string{"a.txt", "sub"}) {
		t.Errorf("depth-1 list = %v", got)
	}

	res, err = tl.list(ctx, map[string]any{"include_hidden": true})
	if err != nil {
		t.Fatalf("hidden list: %v", err)
	}
	if got := listPaths(t, res); !equalStrings(got, []string{".hidden", "a.txt", "sub"}) {
		t.Errorf("hidden list = %v", got)
	}

	res, err = tl.list(ctx, map[string]any{"recursive": true, "pattern": "*.go"})
	if err != nil {
		t.Fatalf("pattern list: %v", err)
	}
	if got := listPaths(t, res); !equalStrings(got, []string{"sub/b.go"}) {
		t.Errorf("pattern list = %v", got)
	}

	_, err = tl.list(ctx, map[string]any{"path": "nope"})
	wantKind(t, err, toolerr.KindNotFound)

	_, err = tl.list(ctx, map[string]any{"path": "a.txt"})
	wantKind(t, err, toolerr.KindInvalidParameter)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFsSearch(t *testing.T) {
	tl, ws := newFsTools(t)
	ctx := context.Background()
	seedFile(t, ws, "notes.txt", "fix the parser\nnothing here\n")
	seedFile(t, ws, "src/main.go", "package main\n")
	seedFile(t, ws, "readme.md", "the parser is slow\n")

	res, err := tl.search(ctx, map[string]any{"query": "main"})
	if err != nil {
		t.Fatalf("filename search: %v", err)
	}
	raw, _ := res["results"].([]any)
	if len(raw) != 1 {
		t.Fatalf("filename search results = %v", res["results"])
	}
	first, _ := raw[0].(map[string]any)
	if first["path"] != "src/main.go" || first["type"] != "filename" {
		t.Errorf("filename match = %v", first)
	}

	res, err = tl.search(ctx, map[string]any{"query": "parser", "search_type": "content"})
	if err != nil {
		t.Fatalf("content search: %v", err)
	}
	raw, _ = res["results"].([]any)
	if len(raw) != 2 {
		t.Fatalf("content search results = %v", res["results"])
	}
	byPath := map[string]map[string]any{}
	for _, e := range raw {
		m, _ := e.(map[string]any)
		byPath[m["path"].(string)] = m
	}
	notes := byPath["notes.txt"]
	if notes == nil || notes["line_number"] != float64(1) || notes["preview"] != "fix the parser" {
		t.Errorf("notes.txt match = %v", notes)
	}
	if byPath["readme.md"] == nil {
		t.Errorf("readme.md not matched: %v", byPath)
	}

	res, err = tl.search(ctx, map[string]any{
		"query": "parser", "search_type": "content", "include_content_preview": false,
	})
	if err != nil {
		t.Fatalf("no-preview search: %v", err)
	}
	raw, _ = res["results"].([]any)
	for _, e := range raw {
		m, _ := e.(map[string]any)
		if _, has := m["preview"]; has {
			t.Errorf("preview present despite include_content_preview=false: %v", m)
		}
	}

	res, err = tl.search(ctx, map[string]any{"query": "*.go"})
	if err != nil {
		t.Fatalf("glob search: %v", err)
	}
	raw, _ = res["results"].([]any)
	if len(raw) != 1 {
		t.Errorf("glob search results = %v", res["results"])
	}

	res, err = tl.search(ctx, map[string]any{"query": "e", "max_results": 1})
	if err != nil {
		t.Fatalf("truncated search: %v", err)
	}
	if res["truncated"] != true || res["total"] != float64(1) {
		t.Errorf("truncated search = %v", res)
	}

	_, err = tl.search(ctx, map[string]any{"query": "[", "regex": true})
	wantKind(t, err, toolerr.KindInvalidParameter)

	_, err = tl.search(ctx, map[string]any{"query": "   "})
	wantKind(t, err, toolerr.KindInvalidParameter)

	_, err = tl.search(ctx, map[string]any{"query": "x", "search_type": "names"})
	wantKind(t, err, toolerr.KindInvalidParameter)
}
