package store

import (
	"context"
	"time"
)

// Store is the composite interface for all data access.
type Store interface {
	AuditStore
	MemoryStore
	Tx(ctx context.Context, fn func(Store) error) error
	Ping(ctx context.Context) error
	Close() error
}

// AuditStore manages the append-only audit log.
type AuditStore interface {
	InsertAuditEntry(ctx context.Context, e *AuditEntry) error
	QueryAuditEntries(ctx context.Context, f AuditFilter) ([]AuditEntry, int, error)
	PurgeAuditEntries(ctx context.Context, before time.Time) (int, error)
}

// MemoryStore manages memory graph nodes, edges, and the full-text index.
// Hierarchy traversal lives above this layer; the store exposes the row
// primitives the traversals are built from.
type MemoryStore interface {
	CreateMemoryNode(ctx context.Context, n *MemoryNode) error
	GetMemoryNode(ctx context.Context, id string) (*MemoryNode, error)
	GetMemoryNodes(ctx context.Context, ids []string) ([]MemoryNode, error)
	UpdateMemoryNode(ctx context.Context, n *MemoryNode) error
	// DeleteMemoryNodes removes the nodes, their FTS rows, and (via foreign
	// keys) all incident edges. Returns nodes and edges deleted.
	DeleteMemoryNodes(ctx context.Context, ids []string) (int, int, error)

	// UpsertMemoryEdge inserts or, on (source, target, relation) conflict,
	// updates weight, metadata, and validity. Reports whether a new edge row
	// was created.
	UpsertMemoryEdge(ctx context.Context, e *MemoryEdge) (bool, error)
	ListMemoryEdges(ctx context.Context, f MemoryEdgeFilter) ([]MemoryEdge, error)

	SearchMemoryFulltext(ctx context.Context, match string, f MemorySearchFilter) ([]ScoredMemoryNode, error)
	ListMemoryNodesByTags(ctx context.Context, tags []string, f MemorySearchFilter) ([]MemoryNode, error)
	ListMemoryRoots(ctx context.Context) ([]MemoryNode, error)

	MemoryStats(ctx context.Context) (*MemoryStats, error)
}
