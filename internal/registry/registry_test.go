package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func nopHandler(ctx context.Context, params map[string]any) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}

func testDescriptor(category, name string, schema string) *Descriptor {
	d := &Descriptor{
		Category: category,
		Name:     name,
		Handler:  nopHandler,
	}
	if schema != "" {
		d.InputSchema = json.RawMessage(schema)
	}
	return d
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	if err := r.Register(testDescriptor("git", "list_branches", "")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, ok := r.Get("git", "list_branches"); !ok {
		t.Fatal("Get failed")
	}

	// Full names split on the first underscore only.
	d, ok := r.Lookup("git_list_branches")
	if !ok {
		t.Fatal("Lookup failed")
	}
	if d.Category != "git" || d.Name != "list_branches" {
		t.Fatalf("Lookup returned %s/%s", d.Category, d.Name)
	}

	if _, ok := r.Lookup("nounderscore"); ok {
		t.Fatal("Lookup without underscore succeeded")
	}
	if _, ok := r.Lookup("git_missing"); ok {
		t.Fatal("Lookup of unregistered tool succeeded")
	}
}

func TestRegisterRejectsUnderscoreCategory(t *testing.T) {
	r := New()
	if err := r.Register(testDescriptor("my_cat", "x", "")); err == nil {
		t.Fatal("category with underscore accepted")
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := New()
	if err := r.Register(testDescriptor("fs", "read", "")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(testDescriptor("fs", "read", "")); err == nil {
		t.Fatal("duplicate registration accepted")
	}
}

func TestRegisterRejectsBadSchema(t *testing.T) {
	r := New()
	if err := r.Register(testDescriptor("fs", "read", `{"type": 42}`)); err == nil {
		t.Fatal("invalid schema accepted")
	}
	if err := r.Register(testDescriptor("fs", "read", `{not json`)); err == nil {
		t.Fatal("unparseable schema accepted")
	}
}

func TestValidateParams(t *testing.T) {
	r := New()
	schema := `{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"limit": {"type": "integer", "minimum": 1}
		},
		"required": ["path"],
		"additionalProperties": false
	}`
	d := testDescriptor("fs", "read", schema)
	if err := r.Register(d); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := d.ValidateParams(map[string]any{"path": "a.txt", "limit": 10}); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}

	for name, params := range map[string]map[string]any{
		"missing required": {},
		"wrong type":       {"path": 42},
		"below minimum":    {"path": "a", "limit": 0},
		"extra property":   {"path": "a", "junk": true},
	} {
		err := d.ValidateParams(params)
		if err == nil {
			t.Errorf("%s: accepted", name)
			continue
		}
		if !errors.Is(err, ErrSchema) {
			t.Errorf("%s: error %v does not wrap ErrSchema", name, err)
		}
	}
}

func TestValidateParamsNilMap(t *testing.T) {
	r := New()
	d := testDescriptor("workspace", "info", `{"type":"object"}`)
	if err := r.Register(d); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := d.ValidateParams(nil); err != nil {
		t.Fatalf("nil params rejected: %v", err)
	}
}

func TestListSorted(t *testing.T) {
	r := New()
	for _, n := range []string{"write", "read", "list"} {
		if err := r.Register(testDescriptor("fs", n, "")); err != nil {
			t.Fatalf("Register fs_%s: %v", n, err)
		}
	}
	r.Register(testDescriptor("docker", "list", ""))

	list := r.List()
	if len(list) != 4 {
		t.Fatalf("List len = %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].FullName() >= list[i].FullName() {
			t.Fatalf("List not sorted: %s before %s", list[i-1].FullName(), list[i].FullName())
		}
	}
	if r.Count() != 4 {
		t.Fatalf("Count = %d", r.Count())
	}
}
