package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/hostbridge/hostbridge/internal/store"
	"github.com/hostbridge/hostbridge/internal/store/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(context.Background(), t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("new test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestAuditInsertAndQuery(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	entries := []store.AuditEntry{
		{Protocol: "rest", ToolCategory: "fs", ToolName: "read", Status: store.AuditStatusSuccess, DurationMs: 1.5},
		{Protocol: "mcp", ToolCategory: "fs", ToolName: "write", Status: store.AuditStatusBlocked, ErrorMessage: "Matches block pattern"},
		{Protocol: "rest", ToolCategory: "shell", ToolName: "execute", Status: store.AuditStatusError, ErrorMessage: "command not permitted"},
	}
	for i := range entries {
		if err := db.InsertAuditEntry(ctx, &entries[i]); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if entries[i].ID == "" {
			t.Fatal("expected ID to be set")
		}
	}

	// Unfiltered.
	got, total, err := db.QueryAuditEntries(ctx, store.AuditFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 3 || len(got) != 3 {
		t.Fatalf("total = %d, len = %d, want 3/3", total, len(got))
	}

	// By status.
	blocked := store.AuditStatusBlocked
	got, total, err = db.QueryAuditEntries(ctx, store.AuditFilter{Status: &blocked})
	if err != nil {
		t.Fatalf("query status: %v", err)
	}
	if total != 1 || got[0].ToolName != "write" {
		t.Fatalf("status filter: total = %d, got %+v", total, got)
	}

	// By category.
	fs := "fs"
	_, total, err = db.QueryAuditEntries(ctx, store.AuditFilter{ToolCategory: &fs})
	if err != nil {
		t.Fatalf("query category: %v", err)
	}
	if total != 2 {
		t.Fatalf("category filter total = %d, want 2", total)
	}

	// Text search over error messages.
	_, total, err = db.QueryAuditEntries(ctx, store.AuditFilter{Search: "not permitted"})
	if err != nil {
		t.Fatalf("query search: %v", err)
	}
	if total != 1 {
		t.Fatalf("search total = %d, want 1", total)
	}

	// Pagination.
	got, total, err = db.QueryAuditEntries(ctx, store.AuditFilter{Limit: 2})
	if err != nil {
		t.Fatalf("query page: %v", err)
	}
	if total != 3 || len(got) != 2 {
		t.Fatalf("page: total = %d, len = %d, want 3/2", total, len(got))
	}
}

func TestAuditPurge(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	old := &store.AuditEntry{
		Timestamp:    time.Now().UTC().Add(-48 * time.Hour),
		ToolCategory: "fs", ToolName: "read", Status: store.AuditStatusSuccess,
	}
	recent := &store.AuditEntry{
		ToolCategory: "fs", ToolName: "read", Status: store.AuditStatusSuccess,
	}
	if err := db.InsertAuditEntry(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertAuditEntry(ctx, recent); err != nil {
		t.Fatal(err)
	}

	n, err := db.PurgeAuditEntries(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged = %d, want 1", n)
	}
	_, total, _ := db.QueryAuditEntries(ctx, store.AuditFilter{})
	if total != 1 {
		t.Fatalf("remaining = %d, want 1", total)
	}
}

func TestMemoryNodeCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	n := &store.MemoryNode{
		Name:       "Go generics",
		Content:    "Type parameters landed in Go 1.18",
		EntityType: "fact",
		Tags:       []string{"go", "language"},
		Metadata:   map[string]any{"confidence": 0.9},
	}
	if err := db.CreateMemoryNode(ctx, n); err != nil {
		t.Fatalf("create: %v", err)
	}
	if n.ID == "" {
		t.Fatal("expected ID to be set")
	}

	got, err := db.GetMemoryNode(ctx, n.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != n.Name || got.Content != n.Content || got.EntityType != "fact" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "go" {
		t.Fatalf("tags = %v", got.Tags)
	}

	got.Content = "Type parameters shipped in Go 1.18"
	got.Tags = []string{"go"}
	if err := db.UpdateMemoryNode(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got2, _ := db.GetMemoryNode(ctx, n.ID)
	if len(got2.Tags) != 1 {
		t.Fatalf("tags after update = %v", got2.Tags)
	}

	nodes, edges, err := db.DeleteMemoryNodes(ctx, []string{n.ID})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if nodes != 1 || edges != 0 {
		t.Fatalf("deleted nodes = %d edges = %d", nodes, edges)
	}
	if _, err := db.GetMemoryNode(ctx, n.ID); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryEdgeUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := &store.MemoryNode{Name: "a", Content: "a", EntityType: "note"}
	b := &store.MemoryNode{Name: "b", Content: "b", EntityType: "note"}
	for _, n := range []*store.MemoryNode{a, b} {
		if err := db.CreateMemoryNode(ctx, n); err != nil {
			t.Fatal(err)
		}
	}

	created, err := db.UpsertMemoryEdge(ctx, &store.MemoryEdge{
		SourceID: a.ID, TargetID: b.ID, Relation: "related_to", Weight: 0.5,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !created {
		t.Fatal("expected created = true on first upsert")
	}

	// Same triple again updates weight in place.
	created, err = db.UpsertMemoryEdge(ctx, &store.MemoryEdge{
		SourceID: a.ID, TargetID: b.ID, Relation: "related_to", Weight: 0.9,
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created {
		t.Fatal("expected created = false on re-link")
	}

	edges, err := db.ListMemoryEdges(ctx, store.MemoryEdgeFilter{SourceID: &a.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("len = %d, want 1 (unique triple)", len(edges))
	}
	if edges[0].Weight != 0.9 {
		t.Fatalf("weight = %v, want 0.9", edges[0].Weight)
	}
}

func TestMemoryEdgesCascadeOnNodeDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := &store.MemoryNode{Name: "a", Content: "a", EntityType: "note"}
	b := &store.MemoryNode{Name: "b", Content: "b", EntityType: "note"}
	for _, n := range []*store.MemoryNode{a, b} {
		if err := db.CreateMemoryNode(ctx, n); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.UpsertMemoryEdge(ctx, &store.MemoryEdge{
		SourceID: a.ID, TargetID: b.ID, Relation: "related_to",
	}); err != nil {
		t.Fatal(err)
	}

	nodes, edges, err := db.DeleteMemoryNodes(ctx, []string{a.ID})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if nodes != 1 || edges != 1 {
		t.Fatalf("deleted nodes = %d edges = %d, want 1/1", nodes, edges)
	}
	remaining, _ := db.ListMemoryEdges(ctx, store.MemoryEdgeFilter{})
	if len(remaining) != 0 {
		t.Fatalf("edges remain after cascade: %v", remaining)
	}
}

func TestMemoryFulltextSearch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	seed := []*store.MemoryNode{
		{Name: "sqlite notes", Content: "sqlite supports full text search via fts5", EntityType: "note", Tags: []string{"db"}},
		{Name: "go routines", Content: "goroutines are lightweight threads", EntityType: "concept", Tags: []string{"go"}},
	}
	for _, n := range seed {
		if err := db.CreateMemoryNode(ctx, n); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := db.SearchMemoryFulltext(ctx, "sqlite", store.MemorySearchFilter{Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Name != "sqlite notes" {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Score == 0 {
		t.Error("expected a nonzero BM25 score")
	}

	// Update must keep the index in sync.
	node, _ := db.GetMemoryNode(ctx, seed[1].ID)
	node.Content = "goroutines multiplex onto OS threads via the scheduler"
	if err := db.UpdateMemoryNode(ctx, node); err != nil {
		t.Fatal(err)
	}
	hits, err = db.SearchMemoryFulltext(ctx, "scheduler", store.MemorySearchFilter{Limit: 10})
	if err != nil {
		t.Fatalf("search after update: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != seed[1].ID {
		t.Fatalf("hits after update = %+v", hits)
	}
}

func TestMemoryTagSearch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	seed := []*store.MemoryNode{
		{Name: "x", Content: "x", EntityType: "note", Tags: []string{"go", "db"}},
		{Name: "y", Content: "y", EntityType: "note", Tags: []string{"go"}},
	}
	for _, n := range seed {
		if err := db.CreateMemoryNode(ctx, n); err != nil {
			t.Fatal(err)
		}
	}

	// All supplied tags must match.
	got, err := db.ListMemoryNodesByTags(ctx, []string{"go", "db"}, store.MemorySearchFilter{Limit: 10})
	if err != nil {
		t.Fatalf("tags: %v", err)
	}
	if len(got) != 1 || got[0].Name != "x" {
		t.Fatalf("got = %+v", got)
	}

	got, err = db.ListMemoryNodesByTags(ctx, []string{"go"}, store.MemorySearchFilter{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}

func TestMemoryRootsAndStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	parent := &store.MemoryNode{Name: "parent", Content: "p", EntityType: "concept"}
	child := &store.MemoryNode{Name: "child", Content: "c", EntityType: "note", Tags: []string{"t1"}}
	loner := &store.MemoryNode{Name: "loner", Content: "l", EntityType: "note"}
	for _, n := range []*store.MemoryNode{parent, child, loner} {
		if err := db.CreateMemoryNode(ctx, n); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.UpsertMemoryEdge(ctx, &store.MemoryEdge{
		SourceID: parent.ID, TargetID: child.ID, Relation: store.RelationParentOf,
	}); err != nil {
		t.Fatal(err)
	}

	roots, err := db.ListMemoryRoots(ctx)
	if err != nil {
		t.Fatalf("roots: %v", err)
	}
	ids := map[string]bool{}
	for _, r := range roots {
		ids[r.ID] = true
	}
	if !ids[parent.ID] || !ids[loner.ID] || ids[child.ID] {
		t.Fatalf("roots = %v", ids)
	}

	stats, err := db.MemoryStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalNodes != 3 || stats.TotalEdges != 1 {
		t.Fatalf("totals = %d nodes / %d edges", stats.TotalNodes, stats.TotalEdges)
	}
	if stats.NodesByType["note"] != 2 {
		t.Fatalf("notes = %d, want 2", stats.NodesByType["note"])
	}
	if stats.EdgesByRelation[store.RelationParentOf] != 1 {
		t.Fatalf("parent_of edges = %d", stats.EdgesByRelation[store.RelationParentOf])
	}
	if stats.OrphanCount != 1 {
		t.Fatalf("orphans = %d, want 1 (loner)", stats.OrphanCount)
	}
	if stats.CreatedLast24h != 3 {
		t.Fatalf("created last 24h = %d", stats.CreatedLast24h)
	}
}
