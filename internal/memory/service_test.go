package memory_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/hostbridge/hostbridge/internal/memory"
	"github.com/hostbridge/hostbridge/internal/store"
	"github.com/hostbridge/hostbridge/internal/store/sqlite"
	"github.com/hostbridge/hostbridge/internal/toolerr"
)

func newService(t *testing.T) (*memory.Service, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "mem.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return memory.NewService(db, logger), db
}

func mustStore(t *testing.T, svc *memory.Service, in memory.StoreInput) *memory.StoreResult {
	t.Helper()
	res, err := svc.Store(context.Background(), in)
	if err != nil {
		t.Fatalf("store %q: %v", in.Content, err)
	}
	return res
}

func nodeIDs(nodes []store.MemoryNode) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	sort.Strings(ids)
	return ids
}

func TestStoreDefaultsAndGet(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	long := strings.Repeat("x", 70)
	res := mustStore(t, svc, memory.StoreInput{
		Content:  long,
		Tags:     []string{"a", "b"},
		Metadata: map[string]any{"k": "v"},
		Source:   "test",
	})
	if res.ID == "" {
		t.Fatal("expected an id")
	}
	if want := strings.Repeat("x", 60); res.Name != want {
		t.Fatalf("name = %q, want first 60 chars of content", res.Name)
	}
	if res.RelationsCreated != 0 {
		t.Fatalf("relations_created = %d, want 0", res.RelationsCreated)
	}
	if res.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}

	got, err := svc.Get(ctx, memory.GetInput{ID: res.ID})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Node.Content != long {
		t.Fatalf("content = %q", got.Node.Content)
	}
	if got.Node.EntityType != "note" {
		t.Fatalf("entity_type = %q, want note", got.Node.EntityType)
	}
	if !reflect.DeepEqual(got.Node.Tags, []string{"a", "b"}) {
		t.Fatalf("tags = %v", got.Node.Tags)
	}
	if got.Node.Metadata["k"] != "v" {
		t.Fatalf("metadata = %v", got.Node.Metadata)
	}
	if len(got.Relations) != 0 {
		t.Fatalf("relations = %v, want none", got.Relations)
	}
}

func TestStoreValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Store(ctx, memory.StoreInput{Content: "  "}); toolerr.KindOf(err) != toolerr.KindInvalidParameter {
		t.Fatalf("empty content: got %v", err)
	}

	_, err := svc.Store(ctx, memory.StoreInput{
		Content:   "orphan relation",
		Relations: []memory.RelationInput{{TargetID: "nope", Relation: "related_to"}},
	})
	if toolerr.KindOf(err) != toolerr.KindNotFound {
		t.Fatalf("missing target: got %v", err)
	}
	if want := "Relation target node 'nope' does not exist"; err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}
}

func TestStoreWithRelationsAndGetNeighbors(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	target := mustStore(t, svc, memory.StoreInput{
		Content: strings.Repeat("neighbor content ", 20),
		Name:    "target",
	})
	w := 0.5
	res := mustStore(t, svc, memory.StoreInput{
		Content: "source node",
		Name:    "source",
		Relations: []memory.RelationInput{
			{TargetID: target.ID, Relation: "depends_on", Weight: &w},
		},
	})
	if res.RelationsCreated != 1 {
		t.Fatalf("relations_created = %d, want 1", res.RelationsCreated)
	}

	got, err := svc.Get(ctx, memory.GetInput{ID: res.ID})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Relations) != 1 {
		t.Fatalf("relations = %+v, want 1", got.Relations)
	}
	rel := got.Relations[0]
	if rel.Direction != "outgoing" || rel.Relation != "depends_on" || rel.Weight != 0.5 {
		t.Fatalf("relation = %+v", rel)
	}
	if rel.Neighbor.ID != target.ID || rel.Neighbor.Name != "target" {
		t.Fatalf("neighbor = %+v", rel.Neighbor)
	}
	if n := len([]rune(rel.Neighbor.ContentPreview)); n != 120 {
		t.Fatalf("preview length = %d, want 120", n)
	}

	// The target sees the same edge as incoming.
	back, err := svc.Get(ctx, memory.GetInput{ID: target.ID})
	if err != nil {
		t.Fatalf("get target: %v", err)
	}
	if len(back.Relations) != 1 || back.Relations[0].Direction != "incoming" {
		t.Fatalf("target relations = %+v", back.Relations)
	}

	// include_relations=false suppresses the edge listing.
	off := false
	bare, err := svc.Get(ctx, memory.GetInput{ID: res.ID, IncludeRelations: &off})
	if err != nil {
		t.Fatalf("get bare: %v", err)
	}
	if len(bare.Relations) != 0 {
		t.Fatalf("bare relations = %+v", bare.Relations)
	}
}

func TestGetNotFoundSuggestsSearch(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Get(context.Background(), memory.GetInput{ID: "missing"})
	var te *toolerr.Error
	if !errors.As(err, &te) {
		t.Fatalf("got %T: %v", err, err)
	}
	if te.Kind != toolerr.KindNotFound {
		t.Fatalf("kind = %v", te.Kind)
	}
	if want := "Node 'missing' not found"; te.Message != want {
		t.Fatalf("message = %q, want %q", te.Message, want)
	}
	if te.SuggestionTool != "memory_search" {
		t.Fatalf("suggestion_tool = %q", te.SuggestionTool)
	}
}

func TestSearchModes(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	mustStore(t, svc, memory.StoreInput{
		Content:    "Go concurrency patterns with channels",
		EntityType: "concept",
		Tags:       []string{"go", "concurrency"},
	})
	mustStore(t, svc, memory.StoreInput{
		Content:    "Python asyncio event loop internals",
		EntityType: "concept",
		Tags:       []string{"python"},
	})
	mustStore(t, svc, memory.StoreInput{
		Content:    "Team standup notes for Monday",
		EntityType: "note",
		Tags:       []string{"go"},
	})

	// Full-text with punctuation stripped from the query.
	res, err := svc.Search(ctx, memory.SearchInput{Query: "concurrency, channels!", SearchMode: "fulltext"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Results) != 1 {
		t.Fatalf("results = %+v, want 1", res.Results)
	}
	hit := res.Results[0]
	if hit.MatchedField != "content" {
		t.Fatalf("matched_field = %q", hit.MatchedField)
	}
	if hit.RelevanceScore == 0 {
		t.Fatal("expected a nonzero relevance score")
	}
	if res.TotalMatches != 1 {
		t.Fatalf("total_matches = %d", res.TotalMatches)
	}
	if !strings.Contains(hit.Node.Content, "concurrency") {
		t.Fatalf("hit = %+v", hit.Node)
	}

	// Entity type filter excludes the only matching node.
	res, err = svc.Search(ctx, memory.SearchInput{Query: "internals", SearchMode: "fulltext", EntityType: "note"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Results) != 0 {
		t.Fatalf("results = %+v, want none", res.Results)
	}

	// Tags mode matches on exact tags, score pinned to 1.
	res, err = svc.Search(ctx, memory.SearchInput{Query: "anything", SearchMode: "tags", Tags: []string{"go"}})
	if err != nil {
		t.Fatalf("search tags: %v", err)
	}
	if len(res.Results) != 2 {
		t.Fatalf("tag results = %d, want 2", len(res.Results))
	}
	for _, r := range res.Results {
		if r.MatchedField != "tags" || r.RelevanceScore != 1.0 {
			t.Fatalf("tag hit = %+v", r)
		}
	}

	// Every supplied tag must be present.
	res, err = svc.Search(ctx, memory.SearchInput{Query: "q", SearchMode: "tags", Tags: []string{"go", "concurrency"}})
	if err != nil {
		t.Fatalf("search tags: %v", err)
	}
	if len(res.Results) != 1 {
		t.Fatalf("tag results = %d, want 1", len(res.Results))
	}

	// Hybrid falls back to tags when full-text finds nothing.
	res, err = svc.Search(ctx, memory.SearchInput{Query: "zebra", Tags: []string{"python"}})
	if err != nil {
		t.Fatalf("search hybrid: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].MatchedField != "tags" {
		t.Fatalf("hybrid fallback = %+v", res.Results)
	}

	// max_results caps the result list.
	res, err = svc.Search(ctx, memory.SearchInput{Query: "q", SearchMode: "tags", Tags: []string{"go"}, MaxResults: 1})
	if err != nil {
		t.Fatalf("search capped: %v", err)
	}
	if len(res.Results) != 1 {
		t.Fatalf("capped results = %d, want 1", len(res.Results))
	}

	if _, err := svc.Search(ctx, memory.SearchInput{Query: "q", SearchMode: "fuzzy"}); toolerr.KindOf(err) != toolerr.KindInvalidParameter {
		t.Fatalf("bad mode: got %v", err)
	}
}

func TestSearchTemporalFilter(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	old := &store.MemoryNode{
		Name: "old", Content: "release retrospective notes",
		EntityType: "note",
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := db.CreateMemoryNode(ctx, old); err != nil {
		t.Fatalf("seed: %v", err)
	}
	mustStore(t, svc, memory.StoreInput{Content: "release retrospective notes, new edition"})

	res, err := svc.Search(ctx, memory.SearchInput{
		Query: "retrospective", SearchMode: "fulltext", TemporalFilter: "2024-06-01",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].Node.ID != old.ID {
		t.Fatalf("temporal results = %+v", res.Results)
	}

	if _, err := svc.Search(ctx, memory.SearchInput{Query: "q", TemporalFilter: "not-a-date"}); toolerr.KindOf(err) != toolerr.KindInvalidParameter {
		t.Fatalf("bad temporal filter: got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res := mustStore(t, svc, memory.StoreInput{
		Content:  "v1",
		Name:     "doc",
		Tags:     []string{"draft"},
		Metadata: map[string]any{"author": "ann", "rev": "1"},
	})

	content := "v2"
	upd, err := svc.Update(ctx, memory.UpdateInput{
		ID:       res.ID,
		Content:  &content,
		Tags:     []string{"final", "published"},
		Metadata: map[string]any{"rev": "2", "reviewed": true},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.PreviousContent != "v1" {
		t.Fatalf("previous_content = %q", upd.PreviousContent)
	}
	if upd.Node.Name != "doc" {
		t.Fatalf("node = %+v", upd.Node)
	}

	got, err := svc.Get(ctx, memory.GetInput{ID: res.ID})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Node.Content != "v2" {
		t.Fatalf("content = %q", got.Node.Content)
	}
	// Tags replace wholesale.
	if !reflect.DeepEqual(got.Node.Tags, []string{"final", "published"}) {
		t.Fatalf("tags = %v", got.Node.Tags)
	}
	// Metadata is patch-merged: untouched keys survive, supplied keys win.
	want := map[string]any{"author": "ann", "rev": "2", "reviewed": true}
	if !reflect.DeepEqual(got.Node.Metadata, want) {
		t.Fatalf("metadata = %v, want %v", got.Node.Metadata, want)
	}

	if _, err := svc.Update(ctx, memory.UpdateInput{ID: "missing"}); toolerr.KindOf(err) != toolerr.KindNotFound {
		t.Fatalf("missing node: got %v", err)
	}
}

func TestDeleteRefusesWhenChildrenWouldOrphan(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	parent := mustStore(t, svc, memory.StoreInput{Content: "parent", Name: "parent"})
	other := mustStore(t, svc, memory.StoreInput{Content: "other parent", Name: "other"})
	only := mustStore(t, svc, memory.StoreInput{Content: "only child", Name: "only"})
	shared := mustStore(t, svc, memory.StoreInput{Content: "shared child", Name: "shared"})

	link := func(src, dst string) {
		t.Helper()
		if _, err := svc.Link(ctx, memory.LinkInput{SourceID: src, TargetID: dst, Relation: "parent_of"}); err != nil {
			t.Fatalf("link: %v", err)
		}
	}
	link(parent.ID, only.ID)
	link(parent.ID, shared.ID)
	link(other.ID, shared.ID)

	_, err := svc.Delete(ctx, memory.DeleteInput{ID: parent.ID})
	if toolerr.KindOf(err) != toolerr.KindInvalidParameter {
		t.Fatalf("expected refusal, got %v", err)
	}
	if !strings.Contains(err.Error(), only.ID) {
		t.Fatalf("refusal should name the orphan: %v", err)
	}
	if strings.Contains(err.Error(), shared.ID) {
		t.Fatalf("shared child is not an orphan: %v", err)
	}
	if !strings.Contains(err.Error(), "cascade=true") {
		t.Fatalf("refusal should point at cascade: %v", err)
	}

	// The refused delete must not have removed anything.
	if _, err := svc.Get(ctx, memory.GetInput{ID: parent.ID}); err != nil {
		t.Fatalf("parent should survive a refused delete: %v", err)
	}
	if _, err := svc.Get(ctx, memory.GetInput{ID: only.ID}); err != nil {
		t.Fatalf("child should survive a refused delete: %v", err)
	}
}

func TestDeleteCascade(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	parent := mustStore(t, svc, memory.StoreInput{Content: "parent", Name: "parent"})
	other := mustStore(t, svc, memory.StoreInput{Content: "other parent", Name: "other"})
	only := mustStore(t, svc, memory.StoreInput{Content: "only child", Name: "only"})
	grand := mustStore(t, svc, memory.StoreInput{Content: "grandchild", Name: "grand"})
	shared := mustStore(t, svc, memory.StoreInput{Content: "shared child", Name: "shared"})

	link := func(src, dst string) {
		t.Helper()
		if _, err := svc.Link(ctx, memory.LinkInput{SourceID: src, TargetID: dst, Relation: "parent_of"}); err != nil {
			t.Fatalf("link: %v", err)
		}
	}
	link(parent.ID, only.ID)
	link(only.ID, grand.ID)
	link(parent.ID, shared.ID)
	link(other.ID, shared.ID)

	res, err := svc.Delete(ctx, memory.DeleteInput{ID: parent.ID, Cascade: true})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.DeletedNode.ID != parent.ID || res.DeletedNode.Name != "parent" {
		t.Fatalf("deleted_node = %+v", res.DeletedNode)
	}

	// The cascade follows the orphan chain: only, then grand.
	gotOrphans := make([]string, len(res.OrphanedChildren))
	for i, o := range res.OrphanedChildren {
		gotOrphans[i] = o.ID
	}
	sort.Strings(gotOrphans)
	wantOrphans := []string{only.ID, grand.ID}
	sort.Strings(wantOrphans)
	if !reflect.DeepEqual(gotOrphans, wantOrphans) {
		t.Fatalf("orphaned_children = %v, want %v", gotOrphans, wantOrphans)
	}

	// parent->only, only->grand, parent->shared all go; other->shared stays.
	if res.DeletedEdges != 3 {
		t.Fatalf("deleted_edges = %d, want 3", res.DeletedEdges)
	}

	for _, id := range []string{parent.ID, only.ID, grand.ID} {
		if _, err := svc.Get(ctx, memory.GetInput{ID: id}); toolerr.KindOf(err) != toolerr.KindNotFound {
			t.Fatalf("node %s should be gone, got %v", id, err)
		}
	}
	if _, err := svc.Get(ctx, memory.GetInput{ID: shared.ID}); err != nil {
		t.Fatalf("shared child should survive: %v", err)
	}

	if _, err := svc.Delete(ctx, memory.DeleteInput{ID: "missing"}); toolerr.KindOf(err) != toolerr.KindNotFound {
		t.Fatalf("missing node: got %v", err)
	}
}

func TestDeleteLeaf(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	a := mustStore(t, svc, memory.StoreInput{Content: "a", Name: "a"})
	b := mustStore(t, svc, memory.StoreInput{
		Content:   "b",
		Name:      "b",
		Relations: []memory.RelationInput{{TargetID: a.ID, Relation: "related_to"}},
	})

	res, err := svc.Delete(ctx, memory.DeleteInput{ID: b.ID})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.DeletedEdges != 1 {
		t.Fatalf("deleted_edges = %d, want 1", res.DeletedEdges)
	}
	if len(res.OrphanedChildren) != 0 {
		t.Fatalf("orphaned_children = %+v", res.OrphanedChildren)
	}
}

func TestLink(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	a := mustStore(t, svc, memory.StoreInput{Content: "a", Name: "a"})
	b := mustStore(t, svc, memory.StoreInput{Content: "b", Name: "b"})

	res, err := svc.Link(ctx, memory.LinkInput{SourceID: a.ID, TargetID: b.ID, Relation: "depends_on"})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if !res.Created {
		t.Fatal("expected created=true on first link")
	}
	if res.Edge.SourceID != a.ID || res.Edge.TargetID != b.ID || res.Edge.Relation != "depends_on" {
		t.Fatalf("edge = %+v", res.Edge)
	}

	// Re-linking the same triple updates in place.
	w := 2.5
	res, err = svc.Link(ctx, memory.LinkInput{SourceID: a.ID, TargetID: b.ID, Relation: "depends_on", Weight: &w})
	if err != nil {
		t.Fatalf("relink: %v", err)
	}
	if res.Created {
		t.Fatal("expected created=false on upsert")
	}
	got, err := svc.Get(ctx, memory.GetInput{ID: a.ID})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Relations) != 1 || got.Relations[0].Weight != 2.5 {
		t.Fatalf("relations = %+v", got.Relations)
	}

	// Bidirectional upserts the reverse edge too.
	if _, err := svc.Link(ctx, memory.LinkInput{SourceID: a.ID, TargetID: b.ID, Relation: "related_to", Bidirectional: true}); err != nil {
		t.Fatalf("bidirectional link: %v", err)
	}
	back, err := svc.Get(ctx, memory.GetInput{ID: a.ID})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var incoming int
	for _, r := range back.Relations {
		if r.Direction == "incoming" && r.Relation == "related_to" {
			incoming++
		}
	}
	if incoming != 1 {
		t.Fatalf("expected one incoming related_to edge, relations = %+v", back.Relations)
	}

	_, err = svc.Link(ctx, memory.LinkInput{SourceID: "ghost", TargetID: b.ID, Relation: "related_to"})
	if toolerr.KindOf(err) != toolerr.KindNotFound {
		t.Fatalf("missing source: got %v", err)
	}
	if want := "Node 'ghost' (source) not found"; err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}
	_, err = svc.Link(ctx, memory.LinkInput{SourceID: a.ID, TargetID: "ghost", Relation: "related_to"})
	if want := "Node 'ghost' (target) not found"; err == nil || err.Error() != want {
		t.Fatalf("message = %v, want %q", err, want)
	}
}

// seedHierarchy builds root -> mid -> leaf with staggered creation times plus
// a free-standing node, returning the four ids.
func seedHierarchy(t *testing.T, svc *memory.Service, db *sqlite.DB) (root, mid, leaf, loose string) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	add := func(name string, offset time.Duration) string {
		n := &store.MemoryNode{
			Name: name, Content: name + " content", EntityType: "concept",
			CreatedAt: base.Add(offset), UpdatedAt: base.Add(offset),
		}
		if err := db.CreateMemoryNode(ctx, n); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
		return n.ID
	}
	root = add("root", 0)
	mid = add("mid", time.Minute)
	leaf = add("leaf", 2*time.Minute)
	loose = add("loose", 3*time.Minute)

	link := func(src, dst string) {
		t.Helper()
		if _, err := svc.Link(ctx, memory.LinkInput{SourceID: src, TargetID: dst, Relation: "parent_of"}); err != nil {
			t.Fatalf("link: %v", err)
		}
	}
	link(root, mid)
	link(mid, leaf)
	return root, mid, leaf, loose
}

func TestHierarchyTraversal(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	root, mid, leaf, loose := seedHierarchy(t, svc, db)

	children, err := svc.Children(ctx, root)
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if children.Total != 1 || children.Nodes[0].ID != mid {
		t.Fatalf("children = %+v", children)
	}

	anc, err := svc.Ancestors(ctx, memory.TraverseInput{ID: leaf})
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	if anc.Total != 2 {
		t.Fatalf("ancestors total = %d, want 2", anc.Total)
	}
	// Ordered by creation time: root was created before mid.
	if anc.Nodes[0].ID != root || anc.Nodes[1].ID != mid {
		t.Fatalf("ancestors = %v", nodeIDs(anc.Nodes))
	}

	// Depth bound stops the upward walk at the immediate parent.
	anc, err = svc.Ancestors(ctx, memory.TraverseInput{ID: leaf, MaxDepth: 1})
	if err != nil {
		t.Fatalf("ancestors depth 1: %v", err)
	}
	if anc.Total != 1 || anc.Nodes[0].ID != mid {
		t.Fatalf("ancestors depth 1 = %+v", anc)
	}

	sub, err := svc.Subtree(ctx, memory.TraverseInput{ID: root})
	if err != nil {
		t.Fatalf("subtree: %v", err)
	}
	if sub.Total != 2 {
		t.Fatalf("subtree total = %d, want 2", sub.Total)
	}
	for _, n := range sub.Nodes {
		if n.ID == root {
			t.Fatal("subtree must not include the root")
		}
	}
	if sub.Nodes[0].ID != mid || sub.Nodes[1].ID != leaf {
		t.Fatalf("subtree = %v", nodeIDs(sub.Nodes))
	}

	sub, err = svc.Subtree(ctx, memory.TraverseInput{ID: root, MaxDepth: 1})
	if err != nil {
		t.Fatalf("subtree depth 1: %v", err)
	}
	if sub.Total != 1 || sub.Nodes[0].ID != mid {
		t.Fatalf("subtree depth 1 = %+v", sub)
	}

	roots, err := svc.Roots(ctx)
	if err != nil {
		t.Fatalf("roots: %v", err)
	}
	got := nodeIDs(roots.Nodes)
	want := []string{root, loose}
	sort.Strings(want)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("roots = %v, want %v", got, want)
	}

	if _, err := svc.Ancestors(ctx, memory.TraverseInput{ID: "missing"}); toolerr.KindOf(err) != toolerr.KindNotFound {
		t.Fatalf("missing node: got %v", err)
	}
}

func TestRelated(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	root, mid, leaf, loose := seedHierarchy(t, svc, db)

	if _, err := svc.Link(ctx, memory.LinkInput{SourceID: loose, TargetID: mid, Relation: "contradicts"}); err != nil {
		t.Fatalf("link: %v", err)
	}

	// All relations, both directions, ordered by name.
	res, err := svc.Related(ctx, memory.RelatedInput{ID: mid})
	if err != nil {
		t.Fatalf("related: %v", err)
	}
	if res.Total != 3 {
		t.Fatalf("related total = %d, want 3 (%v)", res.Total, nodeIDs(res.Nodes))
	}
	names := make([]string, len(res.Nodes))
	for i, n := range res.Nodes {
		names[i] = n.Name
	}
	if !sort.StringsAreSorted(names) {
		t.Fatalf("related not ordered by name: %v", names)
	}

	// Restricted to one relation.
	res, err = svc.Related(ctx, memory.RelatedInput{ID: mid, Relation: "contradicts"})
	if err != nil {
		t.Fatalf("related filtered: %v", err)
	}
	if res.Total != 1 || res.Nodes[0].ID != loose {
		t.Fatalf("filtered related = %+v", res)
	}

	_ = root
	_ = leaf
}

func TestStats(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	root, mid, leaf, loose := seedHierarchy(t, svc, db)
	_ = leaf
	_ = loose

	if _, err := svc.Link(ctx, memory.LinkInput{SourceID: root, TargetID: mid, Relation: "related_to"}); err != nil {
		t.Fatalf("link: %v", err)
	}
	orphan := mustStore(t, svc, memory.StoreInput{
		Content: "island", Name: "island", EntityType: "note", Tags: []string{"solo", "solo2"},
	})
	_ = orphan

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalNodes != 5 {
		t.Fatalf("total_nodes = %d, want 5", stats.TotalNodes)
	}
	if stats.TotalEdges != 3 {
		t.Fatalf("total_edges = %d, want 3", stats.TotalEdges)
	}
	if stats.NodesByType["concept"] != 4 || stats.NodesByType["note"] != 1 {
		t.Fatalf("nodes_by_type = %v", stats.NodesByType)
	}
	if stats.EdgesByRelation["parent_of"] != 2 || stats.EdgesByRelation["related_to"] != 1 {
		t.Fatalf("edges_by_relation = %v", stats.EdgesByRelation)
	}
	if len(stats.MostConnected) == 0 || stats.MostConnected[0].ID != mid {
		t.Fatalf("most_connected = %+v", stats.MostConnected)
	}
	if stats.MostConnected[0].EdgeCount != 3 {
		t.Fatalf("top edge_count = %d, want 3", stats.MostConnected[0].EdgeCount)
	}
	if stats.OrphanCount != 2 {
		t.Fatalf("orphaned_nodes = %d, want 2 (loose and island)", stats.OrphanCount)
	}
	var solo int
	for _, tc := range stats.TagFrequency {
		if tc.Tag == "solo" || tc.Tag == "solo2" {
			solo += tc.Count
		}
	}
	if solo != 2 {
		t.Fatalf("tags_frequency = %+v", stats.TagFrequency)
	}
}

