package store

import (
	"encoding/json"
	"time"
)

// AuditEntry is one append-only record of a completed dispatch. RequestParams
// holds the params in template form: secret placeholders are never expanded
// before the entry is written.
type AuditEntry struct {
	ID              string          `json:"id"`
	Timestamp       time.Time       `json:"timestamp"`
	Protocol        string          `json:"protocol"`
	ToolCategory    string          `json:"tool_category"`
	ToolName        string          `json:"tool_name"`
	Status          string          `json:"status"`
	DurationMs      float64         `json:"duration_ms"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	RequestParams   json.RawMessage `json:"request_params,omitempty"`
	ResponseSummary string          `json:"response_summary,omitempty"`
	HITLRequestID   string          `json:"hitl_request_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Audit entry statuses.
const (
	AuditStatusSuccess      = "success"
	AuditStatusError        = "error"
	AuditStatusBlocked      = "blocked"
	AuditStatusHITLApproved = "hitl_approved"
	AuditStatusHITLRejected = "hitl_rejected"
	AuditStatusHITLExpired  = "hitl_expired"
)

// AuditFilter narrows an audit query. Nil fields are unconstrained.
type AuditFilter struct {
	Status       *string
	ToolCategory *string
	ToolName     *string
	Protocol     *string
	After        *time.Time
	Before       *time.Time
	// Search matches tool_name, tool_category, or error_message substrings.
	Search string
	Limit  int
	Offset int
}

// MemoryNode is one entry in the memory graph.
type MemoryNode struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Content    string         `json:"content"`
	EntityType string         `json:"entity_type"`
	Tags       []string       `json:"tags"`
	Metadata   map[string]any `json:"metadata"`
	Source     string         `json:"source,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// MemoryEntityTypes are the accepted entity_type values.
var MemoryEntityTypes = []string{"concept", "fact", "task", "person", "event", "note"}

// MemoryEdge is a typed, weighted relation between two nodes.
// (SourceID, TargetID, Relation) is unique.
type MemoryEdge struct {
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Relation   string         `json:"relation"`
	Weight     float64        `json:"weight"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ValidFrom  *time.Time     `json:"valid_from,omitempty"`
	ValidUntil *time.Time     `json:"valid_until,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// RelationParentOf is the only relation that participates in hierarchy
// traversal (children, ancestors, subtree, roots).
const RelationParentOf = "parent_of"

// MemoryEdgeFilter narrows an edge listing. Nil fields are unconstrained.
type MemoryEdgeFilter struct {
	SourceID *string
	TargetID *string
	Relation *string
}

// MemorySearchFilter narrows node search results. Tags, when set,
// requires every listed tag to be present on the node.
type MemorySearchFilter struct {
	EntityType    *string
	Tags          []string
	CreatedBefore *time.Time
	Limit         int
}

// ScoredMemoryNode is a search hit with its BM25-derived relevance score
// (higher is better).
type ScoredMemoryNode struct {
	MemoryNode
	Score float64 `json:"score"`
}

// MemoryStats aggregates graph-wide counts.
type MemoryStats struct {
	TotalNodes      int             `json:"total_nodes"`
	TotalEdges      int             `json:"total_edges"`
	NodesByType     map[string]int  `json:"nodes_by_type"`
	EdgesByRelation map[string]int  `json:"edges_by_relation"`
	MostConnected   []ConnectedNode `json:"most_connected_nodes"`
	OrphanCount     int             `json:"orphaned_nodes"`
	CreatedLast24h  int             `json:"created_last_24h"`
	TagFrequency    []TagCount      `json:"tags_frequency"`
}

// ConnectedNode is a node ranked by incident edge count.
type ConnectedNode struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	EdgeCount int    `json:"edge_count"`
}

// TagCount is one tag and how many nodes carry it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}
