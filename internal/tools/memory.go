package tools

import (
	"context"
	"encoding/json"

	"github.com/hostbridge/hostbridge/internal/memory"
	"github.com/hostbridge/hostbridge/internal/registry"
)

// memoryTools adapts the memory graph service to the tool surface. Handlers
// stay thin: bind, delegate, flatten. Validation and ranking live in the
// service.
type memoryTools struct {
	svc *memory.Service
}

func registerMemory(reg *registry.Registry, deps Deps) error {
	if deps.Memory == nil {
		return nil
	}
	t := &memoryTools{svc: deps.Memory}

	descriptors := []*registry.Descriptor{
		{
			Category:    "memory",
			Name:        "store",
			Description: "Store a knowledge node with content, tags and metadata, optionally linking it to existing nodes in the same call.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"content": {"type": "string"},
				"name": {"type": "string"},
				"entity_type": {"type": "string"},
				"tags": {"type": "array", "items": {"type": "string"}},
				"metadata": {"type": "object"},
				"source": {"type": "string"},
				"relations": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"target_id": {"type": "string"},
							"relation": {"type": "string"},
							"weight": {"type": "number"}
						},
						"required": ["target_id", "relation"]
					}
				}
			},
			"required": ["content"]
		}`),
			Handler: t.store,
		},
		{
			Category:    "memory",
			Name:        "get",
			Description: "Fetch a node by ID, optionally with its neighbors up to a relation depth.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string"},
				"include_relations": {"type": "boolean", "default": true},
				"depth": {"type": "integer", "minimum": 1, "default": 1}
			},
			"required": ["id"]
		}`),
			Handler: t.get,
		},
		{
			Category:    "memory",
			Name:        "search",
			Description: "Search nodes by full text, tags or both, with entity type and temporal filters. Results are ranked by relevance.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string"},
				"search_mode": {"type": "string", "enum": ["fulltext", "tags", "hybrid"], "default": "hybrid"},
				"entity_type": {"type": "string"},
				"tags": {"type": "array", "items": {"type": "string"}},
				"temporal_filter": {"type": "string", "description": "Only nodes created at or before this ISO 8601 date"},
				"max_results": {"type": "integer", "minimum": 1}
			}
		}`),
			Handler: t.search,
		},
		{
			Category:    "memory",
			Name:        "update",
			Description: "Update a node's content, name, tags or metadata. Tags and metadata replace the stored values.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string"},
				"content": {"type": "string"},
				"name": {"type": "string"},
				"tags": {"type": "array", "items": {"type": "string"}},
				"metadata": {"type": "object"}
			},
			"required": ["id"]
		}`),
			Handler: t.update,
		},
		{
			Category:     "memory",
			Name:         "delete",
			Description:  "Delete a node and its edges. With cascade, children orphaned by the delete are removed too.",
			RequiresHITL: true,
			HITLReason:   "Deleting a memory node requires approval",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string"},
				"cascade": {"type": "boolean", "default": false}
			},
			"required": ["id"]
		}`),
			Handler: t.delete,
		},
		{
			Category:    "memory",
			Name:        "link",
			Description: "Create a typed edge between two nodes, optionally bidirectional, weighted and time-bounded.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"source_id": {"type": "string"},
				"target_id": {"type": "string"},
				"relation": {"type": "string"},
				"weight": {"type": "number"},
				"bidirectional": {"type": "boolean", "default": false},
				"metadata": {"type": "object"},
				"valid_from": {"type": "string", "format": "date-time"},
				"valid_until": {"type": "string", "format": "date-time"}
			},
			"required": ["source_id", "target_id", "relation"]
		}`),
			Handler: t.link,
		},
		{
			Category:    "memory",
			Name:        "children",
			Description: "List the direct children of a node, following parent_of edges.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string"}
			},
			"required": ["id"]
		}`),
			Handler: t.children,
		},
		{
			Category:    "memory",
			Name:        "ancestors",
			Description: "Walk parent_of edges upward from a node, bounded by max_depth.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string"},
				"max_depth": {"type": "integer", "minimum": 1}
			},
			"required": ["id"]
		}`),
			Handler: t.ancestors,
		},
		{
			Category:    "memory",
			Name:        "subtree",
			Description: "Collect the descendant subtree of a node, bounded by max_depth.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string"},
				"max_depth": {"type": "integer", "minimum": 1}
			},
			"required": ["id"]
		}`),
			Handler: t.subtree,
		},
		{
			Category:    "memory",
			Name:        "roots",
			Description: "List nodes that have no parent, the entry points of the hierarchy.",
			InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
			Handler:     t.roots,
		},
		{
			Category:    "memory",
			Name:        "related",
			Description: "List all neighbors of a node across outgoing and incoming edges, optionally filtered by relation type.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string"},
				"relation": {"type": "string"}
			},
			"required": ["id"]
		}`),
			Handler: t.related,
		},
		{
			Category:    "memory",
			Name:        "stats",
			Description: "Report graph statistics: node and edge counts, entity type and relation breakdowns, and recent activity.",
			InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
			Handler:     t.stats,
		},
	}
	for _, d := range descriptors {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func (t *memoryTools) store(ctx context.Context, params map[string]any) (map[string]any, error) {
	var in memory.StoreInput
	if err := bind(params, &in); err != nil {
		return nil, err
	}
	res, err := t.svc.Store(ctx, in)
	if err != nil {
		return nil, err
	}
	return out(res)
}

func (t *memoryTools) get(ctx context.Context, params map[string]any) (map[string]any, error) {
	var in memory.GetInput
	if err := bind(params, &in); err != nil {
		return nil, err
	}
	res, err := t.svc.Get(ctx, in)
	if err != nil {
		return nil, err
	}
	return out(res)
}

func (t *memoryTools) search(ctx context.Context, params map[string]any) (map[string]any, error) {
	var in memory.SearchInput
	if err := bind(params, &in); err != nil {
		return nil, err
	}
	res, err := t.svc.Search(ctx, in)
	if err != nil {
		return nil, err
	}
	return out(res)
}

func (t *memoryTools) update(ctx context.Context, params map[string]any) (map[string]any, error) {
	var in memory.UpdateInput
	if err := bind(params, &in); err != nil {
		return nil, err
	}
	res, err := t.svc.Update(ctx, in)
	if err != nil {
		return nil, err
	}
	return out(res)
}

func (t *memoryTools) delete(ctx context.Context, params map[string]any) (map[string]any, error) {
	var in memory.DeleteInput
	if err := bind(params, &in); err != nil {
		return nil, err
	}
	res, err := t.svc.Delete(ctx, in)
	if err != nil {
		return nil, err
	}
	return out(res)
}

func (t *memoryTools) link(ctx context.Context, params map[string]any) (map[string]any, error) {
	var in memory.LinkInput
	if err := bind(params, &in); err != nil {
		return nil, err
	}
	res, err := t.svc.Link(ctx, in)
	if err != nil {
		return nil, err
	}
	return out(res)
}

func (t *memoryTools) children(ctx context.Context, params map[string]any) (map[string]any, error) {
	var in struct {
		ID string `json:"id"`
	}
	if err := bind(params, &in); err != nil {
		return nil, err
	}
	res, err := t.svc.Children(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	return out(res)
}

func (t *memoryTools) ancestors(ctx context.Context, params map[string]any) (map[string]any, error) {
	var in memory.TraverseInput
	if err := bind(params, &in); err != nil {
		return nil, err
	}
	res, err := t.svc.Ancestors(ctx, in)
	if err != nil {
		return nil, err
	}
	return out(res)
}

func (t *memoryTools) subtree(ctx context.Context, params map[string]any) (map[string]any, error) {
	var in memory.TraverseInput
	if err := bind(params, &in); err != nil {
		return nil, err
	}
	res, err := t.svc.Subtree(ctx, in)
	if err != nil {
		return nil, err
	}
	return out(res)
}

func (t *memoryTools) roots(ctx context.Context, _ map[string]any) (map[string]any, error) {
	res, err := t.svc.Roots(ctx)
	if err != nil {
		return nil, err
	}
	return out(res)
}

func (t *memoryTools) related(ctx context.Context, params map[string]any) (map[string]any, error) {
	var in memory.RelatedInput
	if err := bind(params, &in); err != nil {
		return nil, err
	}
	res, err := t.svc.Related(ctx, in)
	if err != nil {
		return nil, err
	}
	return out(res)
}

func (t *memoryTools) stats(ctx context.Context, _ map[string]any) (map[string]any, error) {
	res, err := t.svc.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return out(res)
}
