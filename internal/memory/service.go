// Package memory implements the knowledge graph: durable nodes joined by
// typed, weighted edges, searchable through the store's full-text index and
// traversable along parent_of hierarchy edges. The service owns request
// validation, orphan accounting on delete, and graph traversal; row access
// lives in the store.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hostbridge/hostbridge/internal/store"
	"github.com/hostbridge/hostbridge/internal/toolerr"
)

const (
	defaultEntityType = "note"
	defaultMaxResults = 10
	defaultMaxDepth   = 10

	// Unnamed nodes take the leading characters of their content.
	nameFromContent = 60
	// Neighbor summaries carry a shortened slice of the neighbor's content.
	previewLen = 120
)

// Service exposes the memory graph operations on top of a MemoryStore.
type Service struct {
	store  store.MemoryStore
	logger *slog.Logger
}

func NewService(st store.MemoryStore, logger *slog.Logger) *Service {
	return &Service{store: st, logger: logger}
}

// RelationInput is an edge requested at store time, pointing from the new
// node to an existing one. Weight defaults to 1.
type RelationInput struct {
	TargetID string   `json:"target_id"`
	Relation string   `json:"relation"`
	Weight   *float64 `json:"weight,omitempty"`
}

// StoreInput describes a node to create, optionally with edges to existing
// nodes created in the same call.
type StoreInput struct {
	Content    string          `json:"content"`
	Name       string          `json:"name,omitempty"`
	EntityType string          `json:"entity_type,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	Source     string          `json:"source,omitempty"`
	Relations  []RelationInput `json:"relations,omitempty"`
}

// StoreResult reports the stored node and how many edges came with it.
type StoreResult struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	CreatedAt        time.Time `json:"created_at"`
	RelationsCreated int       `json:"relations_created"`
}

// Store creates a node and its requested relations. Every relation target
// must already exist; a missing target fails the whole call before any row
// is written.
func (s *Service) Store(ctx context.Context, in StoreInput) (*StoreResult, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, toolerr.InvalidParamf("content is required")
	}
	for _, rel := range in.Relations {
		if rel.TargetID == "" || rel.Relation == "" {
			return nil, toolerr.InvalidParamf("relations require target_id and relation")
		}
		if _, err := s.store.GetMemoryNode(ctx, rel.TargetID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, toolerr.NotFoundf(
					"Relation target node '%s' does not exist", rel.TargetID)
			}
			return nil, err
		}
	}

	name := in.Name
	if name == "" {
		name = defaultName(in.Content)
	}
	entityType := in.EntityType
	if entityType == "" {
		entityType = defaultEntityType
	}

	node := &store.MemoryNode{
		Name:       name,
		Content:    in.Content,
		EntityType: entityType,
		Tags:       in.Tags,
		Metadata:   in.Metadata,
		Source:     in.Source,
	}
	if err := s.store.CreateMemoryNode(ctx, node); err != nil {
		return nil, err
	}

	created := 0
	for _, rel := range in.Relations {
		weight := 1.0
		if rel.Weight != nil {
			weight = *rel.Weight
		}
		edge := &store.MemoryEdge{
			SourceID: node.ID,
			TargetID: rel.TargetID,
			Relation: rel.Relation,
			Weight:   weight,
		}
		if _, err := s.store.UpsertMemoryEdge(ctx, edge); err != nil {
			return nil, err
		}
		created++
	}

	s.logger.Info("memory node stored",
		"node_id", node.ID, "entity_type", entityType, "relations", created)
	return &StoreResult{
		ID:               node.ID,
		Name:             node.Name,
		CreatedAt:        node.CreatedAt,
		RelationsCreated: created,
	}, nil
}

// GetInput selects a node. IncludeRelations defaults to true.
type GetInput struct {
	ID               string `json:"id"`
	IncludeRelations *bool  `json:"include_relations,omitempty"`
	Depth            int    `json:"depth,omitempty"`
}

// NeighborSummary is the shortened form of a node on the far end of an edge.
type NeighborSummary struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	EntityType     string `json:"entity_type"`
	ContentPreview string `json:"content_preview"`
}

// RelationDetail is one edge incident to the requested node, tagged with its
// direction relative to that node.
type RelationDetail struct {
	Direction string          `json:"direction"`
	Relation  string          `json:"relation"`
	Weight    float64         `json:"weight"`
	Neighbor  NeighborSummary `json:"neighbor"`
}

// GetResult is a node plus its immediate relations.
type GetResult struct {
	Node      store.MemoryNode `json:"node"`
	Relations []RelationDetail `json:"relations"`
}

// Get returns a node and, unless include_relations is false, its outgoing
// and incoming edges with neighbor summaries.
func (s *Service) Get(ctx context.Context, in GetInput) (*GetResult, error) {
	node, err := s.store.GetMemoryNode(ctx, in.ID)
	if err != nil {
		return nil, nodeErr(in.ID, err)
	}

	out := &GetResult{Node: *node, Relations: []RelationDetail{}}
	if in.IncludeRelations != nil && !*in.IncludeRelations {
		return out, nil
	}

	outgoing, err := s.store.ListMemoryEdges(ctx,
		store.MemoryEdgeFilter{SourceID: &in.ID})
	if err != nil {
		return nil, err
	}
	incoming, err := s.store.ListMemoryEdges(ctx,
		store.MemoryEdgeFilter{TargetID: &in.ID})
	if err != nil {
		return nil, err
	}

	neighbors, err := s.loadNeighbors(ctx, outgoing, incoming)
	if err != nil {
		return nil, err
	}
	for _, e := range outgoing {
		out.Relations = append(out.Relations, RelationDetail{
			Direction: "outgoing",
			Relation:  e.Relation,
			Weight:    e.Weight,
			Neighbor:  summarize(neighbors[e.TargetID]),
		})
	}
	for _, e := range incoming {
		out.Relations = append(out.Relations, RelationDetail{
			Direction: "incoming",
			Relation:  e.Relation,
			Weight:    e.Weight,
			Neighbor:  summarize(neighbors[e.SourceID]),
		})
	}
	return out, nil
}

func (s *Service) loadNeighbors(
	ctx context.Context, outgoing, incoming []store.MemoryEdge,
) (map[string]store.MemoryNode, error) {
	seen := map[string]bool{}
	var ids []string
	for _, e := range outgoing {
		if !seen[e.TargetID] {
			seen[e.TargetID] = true
			ids = append(ids, e.TargetID)
		}
	}
	for _, e := range incoming {
		if !seen[e.SourceID] {
			seen[e.SourceID] = true
			ids = append(ids, e.SourceID)
		}
	}
	nodes, err := s.store.GetMemoryNodes(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.MemoryNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	return byID, nil
}

func summarize(n store.MemoryNode) NeighborSummary {
	return NeighborSummary{
		ID:             n.ID,
		Name:           n.Name,
		EntityType:     n.EntityType,
		ContentPreview: truncateRunes(n.Content, previewLen),
	}
}

// SearchInput is a graph search. Mode is fulltext, tags, or hybrid
// (default). TemporalFilter keeps only nodes created at or before the given
// ISO 8601 instant.
type SearchInput struct {
	Query          string   `json:"query"`
	SearchMode     string   `json:"search_mode,omitempty"`
	EntityType     string   `json:"entity_type,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	TemporalFilter string   `json:"temporal_filter,omitempty"`
	MaxResults     int      `json:"max_results,omitempty"`
}

// SearchHit is one ranked result.
type SearchHit struct {
	Node           store.MemoryNode `json:"node"`
	RelevanceScore float64          `json:"relevance_score"`
	MatchedField   string           `json:"matched_field"`
}

// SearchResult carries ranked hits and query timing.
type SearchResult struct {
	Results      []SearchHit `json:"results"`
	TotalMatches int         `json:"total_matches"`
	SearchTimeMs int64       `json:"search_time_ms"`
}

// FTS5 operators in raw queries break MATCH; everything outside word
// characters is flattened to whitespace before tokens are AND-joined.
var ftsSanitizeRe = regexp.MustCompile(`[^\w\s]`)

// Search runs a full-text, tag, or hybrid query. Hybrid prefers full-text
// hits and falls back to tag filtering when full-text finds nothing and tags
// were supplied. A query that the FTS engine rejects yields zero full-text
// hits rather than an error.
func (s *Service) Search(ctx context.Context, in SearchInput) (*SearchResult, error) {
	start := time.Now()

	mode := in.SearchMode
	if mode == "" {
		mode = "hybrid"
	}
	switch mode {
	case "fulltext", "tags", "hybrid":
	default:
		return nil, toolerr.InvalidParamf(
			"search_mode must be one of fulltext, tags, hybrid")
	}

	limit := in.MaxResults
	if limit <= 0 {
		limit = defaultMaxResults
	}
	filter := store.MemorySearchFilter{Limit: limit}
	if in.EntityType != "" {
		filter.EntityType = &in.EntityType
	}
	if in.TemporalFilter != "" {
		t, err := parseTemporal(in.TemporalFilter)
		if err != nil {
			return nil, toolerr.InvalidParamf(
				"temporal_filter must be an ISO 8601 date or datetime")
		}
		filter.CreatedBefore = &t
	}

	hits := []SearchHit{}
	if mode == "fulltext" || mode == "hybrid" {
		f := filter
		f.Tags = in.Tags
		scored, err := s.store.SearchMemoryFulltext(ctx, ftsQuery(in.Query), f)
		if err != nil {
			s.logger.Debug("fulltext query failed", "query", in.Query, "error", err)
		}
		for _, sn := range scored {
			hits = append(hits, SearchHit{
				Node:           sn.MemoryNode,
				RelevanceScore: sn.Score,
				MatchedField:   "content",
			})
		}
	}

	if (mode == "tags" || (mode == "hybrid" && len(hits) == 0)) && len(in.Tags) > 0 {
		nodes, err := s.store.ListMemoryNodesByTags(ctx, in.Tags, filter)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			hits = append(hits, SearchHit{
				Node:           n,
				RelevanceScore: 1.0,
				MatchedField:   "tags",
			})
		}
	}

	total := len(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return &SearchResult{
		Results:      hits,
		TotalMatches: total,
		SearchTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

func ftsQuery(query string) string {
	tokens := strings.Fields(ftsSanitizeRe.ReplaceAllString(query, " "))
	if len(tokens) == 0 {
		// Nothing sanitizable remains; let the raw query through and the
		// engine decide.
		return query
	}
	return strings.Join(tokens, " ")
}

func parseTemporal(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// UpdateInput changes a subset of node fields. Nil pointers leave a field
// untouched; Tags replaces the whole tag list when present; Metadata is
// merged key by key into the existing map.
type UpdateInput struct {
	ID       string         `json:"id"`
	Content  *string        `json:"content,omitempty"`
	Name     *string        `json:"name,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UpdatedNode identifies the node after an update.
type UpdatedNode struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpdateResult returns the new identity and the content the update replaced.
type UpdateResult struct {
	Node            UpdatedNode `json:"node"`
	PreviousContent string      `json:"previous_content"`
}

func (s *Service) Update(ctx context.Context, in UpdateInput) (*UpdateResult, error) {
	node, err := s.store.GetMemoryNode(ctx, in.ID)
	if err != nil {
		return nil, nodeErr(in.ID, err)
	}

	prev := node.Content
	if in.Content != nil {
		node.Content = *in.Content
	}
	if in.Name != nil {
		node.Name = *in.Name
	}
	if in.Tags != nil {
		node.Tags = in.Tags
	}
	if in.Metadata != nil {
		if node.Metadata == nil {
			node.Metadata = make(map[string]any, len(in.Metadata))
		}
		for k, v := range in.Metadata {
			node.Metadata[k] = v
		}
	}

	if err := s.store.UpdateMemoryNode(ctx, node); err != nil {
		return nil, err
	}
	s.logger.Info("memory node updated", "node_id", in.ID)
	return &UpdateResult{
		Node: UpdatedNode{
			ID:        node.ID,
			Name:      node.Name,
			UpdatedAt: node.UpdatedAt,
		},
		PreviousContent: prev,
	}, nil
}

// DeleteInput removes a node. Cascade extends the delete to children that
// would be left without any parent.
type DeleteInput struct {
	ID      string `json:"id"`
	Cascade bool   `json:"cascade,omitempty"`
}

// NodeRef names a node in a deletion report.
type NodeRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DeleteResult reports what a delete removed. OrphanedChildren lists the
// child nodes the cascade took along with the root.
type DeleteResult struct {
	DeletedNode      NodeRef   `json:"deleted_node"`
	DeletedEdges     int       `json:"deleted_edges"`
	OrphanedChildren []NodeRef `json:"orphaned_children"`
}

// Delete removes a node and all its incident edges. A child is orphaned when
// its only parent_of parents are nodes being deleted. Without cascade, a
// delete that would orphan children is refused and the would-be orphans are
// named in the error; with cascade, orphans are deleted transitively.
func (s *Service) Delete(ctx context.Context, in DeleteInput) (*DeleteResult, error) {
	node, err := s.store.GetMemoryNode(ctx, in.ID)
	if err != nil {
		return nil, nodeErr(in.ID, err)
	}

	orphans, err := s.collectOrphans(ctx, in.ID, in.Cascade)
	if err != nil {
		return nil, err
	}
	if !in.Cascade && len(orphans) > 0 {
		ids := make([]string, len(orphans))
		for i, o := range orphans {
			ids[i] = o.ID
		}
		return nil, toolerr.InvalidParamf(
			"Deleting node '%s' would orphan %d child node(s): %s. Retry with cascade=true to delete them as well",
			in.ID, len(orphans), strings.Join(ids, ", "))
	}

	doomed := make([]string, 0, len(orphans)+1)
	doomed = append(doomed, in.ID)
	refs := []NodeRef{}
	for _, o := range orphans {
		doomed = append(doomed, o.ID)
		refs = append(refs, NodeRef{ID: o.ID, Name: o.Name})
	}

	_, edges, err := s.store.DeleteMemoryNodes(ctx, doomed)
	if err != nil {
		return nil, err
	}

	s.logger.Info("memory node deleted",
		"node_id", in.ID, "cascade", in.Cascade, "orphans", len(refs))
	return &DeleteResult{
		DeletedNode:      NodeRef{ID: node.ID, Name: node.Name},
		DeletedEdges:     edges,
		OrphanedChildren: refs,
	}, nil
}

// collectOrphans walks parent_of edges downward from rootID gathering
// children whose every parent is already marked for deletion. When
// transitive is false only direct children of the root are considered.
func (s *Service) collectOrphans(
	ctx context.Context, rootID string, transitive bool,
) ([]store.MemoryNode, error) {
	rel := store.RelationParentOf
	doomed := map[string]bool{rootID: true}
	queue := []string{rootID}
	var orphanIDs []string

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		children, err := s.store.ListMemoryEdges(ctx,
			store.MemoryEdgeFilter{SourceID: &id, Relation: &rel})
		if err != nil {
			return nil, err
		}
		for _, edge := range children {
			child := edge.TargetID
			if doomed[child] {
				continue
			}
			parents, err := s.store.ListMemoryEdges(ctx,
				store.MemoryEdgeFilter{TargetID: &child, Relation: &rel})
			if err != nil {
				return nil, err
			}
			orphaned := true
			for _, p := range parents {
				if !doomed[p.SourceID] {
					orphaned = false
					break
				}
			}
			if !orphaned {
				continue
			}
			doomed[child] = true
			orphanIDs = append(orphanIDs, child)
			if transitive {
				queue = append(queue, child)
			}
		}
	}
	return s.store.GetMemoryNodes(ctx, orphanIDs)
}

// LinkInput upserts an edge. Weight defaults to 1; Bidirectional also
// upserts the reverse edge with the same relation and attributes.
type LinkInput struct {
	SourceID      string         `json:"source_id"`
	TargetID      string         `json:"target_id"`
	Relation      string         `json:"relation"`
	Weight        *float64       `json:"weight,omitempty"`
	Bidirectional bool           `json:"bidirectional,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ValidFrom     *time.Time     `json:"valid_from,omitempty"`
	ValidUntil    *time.Time     `json:"valid_until,omitempty"`
}

// EdgeRef names an edge by its unique triple.
type EdgeRef struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Relation string `json:"relation"`
}

// LinkResult reports the forward edge and whether it was newly created.
type LinkResult struct {
	Edge    EdgeRef `json:"edge"`
	Created bool    `json:"created"`
}

func (s *Service) Link(ctx context.Context, in LinkInput) (*LinkResult, error) {
	if in.Relation == "" {
		return nil, toolerr.InvalidParamf("relation is required")
	}
	for _, ref := range []struct{ id, label string }{
		{in.SourceID, "source"},
		{in.TargetID, "target"},
	} {
		if _, err := s.store.GetMemoryNode(ctx, ref.id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, toolerr.NotFoundf("Node '%s' (%s) not found", ref.id, ref.label)
			}
			return nil, err
		}
	}

	weight := 1.0
	if in.Weight != nil {
		weight = *in.Weight
	}
	edge := &store.MemoryEdge{
		SourceID:   in.SourceID,
		TargetID:   in.TargetID,
		Relation:   in.Relation,
		Weight:     weight,
		Metadata:   in.Metadata,
		ValidFrom:  in.ValidFrom,
		ValidUntil: in.ValidUntil,
	}
	created, err := s.store.UpsertMemoryEdge(ctx, edge)
	if err != nil {
		return nil, err
	}

	if in.Bidirectional {
		reverse := &store.MemoryEdge{
			SourceID:   in.TargetID,
			TargetID:   in.SourceID,
			Relation:   in.Relation,
			Weight:     weight,
			Metadata:   in.Metadata,
			ValidFrom:  in.ValidFrom,
			ValidUntil: in.ValidUntil,
		}
		if _, err := s.store.UpsertMemoryEdge(ctx, reverse); err != nil {
			return nil, err
		}
	}

	s.logger.Info("memory link",
		"source", in.SourceID, "target", in.TargetID,
		"relation", in.Relation, "created", created)
	return &LinkResult{
		Edge: EdgeRef{
			SourceID: in.SourceID,
			TargetID: in.TargetID,
			Relation: in.Relation,
		},
		Created: created,
	}, nil
}

// TraverseInput bounds a hierarchy walk. MaxDepth defaults to 10.
type TraverseInput struct {
	ID       string `json:"id"`
	MaxDepth int    `json:"max_depth,omitempty"`
}

// NodesResult is a flat node listing.
type NodesResult struct {
	Nodes []store.MemoryNode `json:"nodes"`
	Total int                `json:"total"`
}

// Children returns the nodes this node is parent_of, ordered by creation
// time.
func (s *Service) Children(ctx context.Context, id string) (*NodesResult, error) {
	if err := s.assertExists(ctx, id); err != nil {
		return nil, err
	}
	rel := store.RelationParentOf
	edges, err := s.store.ListMemoryEdges(ctx,
		store.MemoryEdgeFilter{SourceID: &id, Relation: &rel})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.TargetID)
	}
	nodes, err := s.store.GetMemoryNodes(ctx, ids)
	if err != nil {
		return nil, err
	}
	return nodesResult(nodes), nil
}

type direction int

const (
	upward   direction = iota // child toward parents
	downward                  // parent toward children
)

// Ancestors walks reverse parent_of edges up to MaxDepth levels and returns
// every distinct ancestor, ordered by creation time.
func (s *Service) Ancestors(ctx context.Context, in TraverseInput) (*NodesResult, error) {
	return s.walk(ctx, in, upward)
}

// Subtree walks forward parent_of edges up to MaxDepth levels and returns
// every distinct descendant, ordered by creation time. The root itself is
// not included.
func (s *Service) Subtree(ctx context.Context, in TraverseInput) (*NodesResult, error) {
	return s.walk(ctx, in, downward)
}

// walk is an iterative breadth-first traversal over parent_of edges with a
// visited set, one level per depth step.
func (s *Service) walk(
	ctx context.Context, in TraverseInput, dir direction,
) (*NodesResult, error) {
	if err := s.assertExists(ctx, in.ID); err != nil {
		return nil, err
	}
	maxDepth := in.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}

	rel := store.RelationParentOf
	visited := map[string]bool{in.ID: true}
	frontier := []string{in.ID}
	var found []string

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			var f store.MemoryEdgeFilter
			if dir == upward {
				f = store.MemoryEdgeFilter{TargetID: &id, Relation: &rel}
			} else {
				f = store.MemoryEdgeFilter{SourceID: &id, Relation: &rel}
			}
			edges, err := s.store.ListMemoryEdges(ctx, f)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				nid := e.SourceID
				if dir == downward {
					nid = e.TargetID
				}
				if visited[nid] {
					continue
				}
				visited[nid] = true
				found = append(found, nid)
				next = append(next, nid)
			}
		}
		frontier = next
	}

	nodes, err := s.store.GetMemoryNodes(ctx, found)
	if err != nil {
		return nil, err
	}
	return nodesResult(nodes), nil
}

// Roots returns every node with no incoming parent_of edge.
func (s *Service) Roots(ctx context.Context) (*NodesResult, error) {
	nodes, err := s.store.ListMemoryRoots(ctx)
	if err != nil {
		return nil, err
	}
	return nodesResult(nodes), nil
}

// RelatedInput selects single-hop neighbors, optionally restricted to one
// relation.
type RelatedInput struct {
	ID       string `json:"id"`
	Relation string `json:"relation,omitempty"`
}

// Related returns the union of neighbors over outgoing and incoming edges,
// ordered by name.
func (s *Service) Related(ctx context.Context, in RelatedInput) (*NodesResult, error) {
	if err := s.assertExists(ctx, in.ID); err != nil {
		return nil, err
	}

	var rel *string
	if in.Relation != "" {
		rel = &in.Relation
	}
	outgoing, err := s.store.ListMemoryEdges(ctx,
		store.MemoryEdgeFilter{SourceID: &in.ID, Relation: rel})
	if err != nil {
		return nil, err
	}
	incoming, err := s.store.ListMemoryEdges(ctx,
		store.MemoryEdgeFilter{TargetID: &in.ID, Relation: rel})
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var ids []string
	for _, e := range outgoing {
		if !seen[e.TargetID] {
			seen[e.TargetID] = true
			ids = append(ids, e.TargetID)
		}
	}
	for _, e := range incoming {
		if !seen[e.SourceID] {
			seen[e.SourceID] = true
			ids = append(ids, e.SourceID)
		}
	}

	nodes, err := s.store.GetMemoryNodes(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodesResult(nodes), nil
}

// Stats returns graph-wide aggregates.
func (s *Service) Stats(ctx context.Context) (*store.MemoryStats, error) {
	return s.store.MemoryStats(ctx)
}

func (s *Service) assertExists(ctx context.Context, id string) error {
	if _, err := s.store.GetMemoryNode(ctx, id); err != nil {
		return nodeErr(id, err)
	}
	return nil
}

func nodeErr(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return toolerr.NotFoundf("Node '%s' not found", id).Suggest("memory_search")
	}
	return err
}

func nodesResult(nodes []store.MemoryNode) *NodesResult {
	if nodes == nil {
		nodes = []store.MemoryNode{}
	}
	return &NodesResult{Nodes: nodes, Total: len(nodes)}
}

func defaultName(content string) string {
	return truncateRunes(content, nameFromContent)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
