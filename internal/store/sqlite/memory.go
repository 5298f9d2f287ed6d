package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hostbridge/hostbridge/internal/store"
)

func (d *DB) CreateMemoryNode(ctx context.Context, n *store.MemoryNode) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	// Timestamps are persisted at second granularity; keep the struct in
	// step with the row.
	now := time.Now().UTC().Truncate(time.Second)
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.CreatedAt = n.CreatedAt.Truncate(time.Second)
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = now
	}
	n.UpdatedAt = n.UpdatedAt.Truncate(time.Second)

	return d.withTx(ctx, func(q queryable) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO memory_nodes
				(id, name, content, entity_type, tags, metadata, source,
				 created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			n.ID, n.Name, n.Content, n.EntityType,
			marshalJSON(n.Tags, "[]"), marshalJSON(n.Metadata, "{}"),
			n.Source, formatTime(n.CreatedAt), formatTime(n.UpdatedAt),
		)
		if err != nil {
			return mapConstraintError(err)
		}
		return insertFTSRow(ctx, q, n)
	})
}

func (d *DB) GetMemoryNode(ctx context.Context, id string) (*store.MemoryNode, error) {
	row := d.q.QueryRowContext(ctx, `
		SELECT id, name, content, entity_type, tags, metadata, source,
			created_at, updated_at
		FROM memory_nodes WHERE id = ?`, id)

	n, err := scanMemoryNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return n, err
}

func (d *DB) GetMemoryNodes(ctx context.Context, ids []string) ([]store.MemoryNode, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := d.q.QueryContext(ctx, `
		SELECT id, name, content, entity_type, tags, metadata, source,
			created_at, updated_at
		FROM memory_nodes WHERE id IN (`+placeholders(len(ids))+`)
		ORDER BY created_at ASC`,
		stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemoryNodes(rows)
}

func (d *DB) UpdateMemoryNode(ctx context.Context, n *store.MemoryNode) error {
	n.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	return d.withTx(ctx, func(q queryable) error {
		res, err := q.ExecContext(ctx, `
			UPDATE memory_nodes
			SET name = ?, content = ?, entity_type = ?, tags = ?,
				metadata = ?, source = ?, updated_at = ?
			WHERE id = ?`,
			n.Name, n.Content, n.EntityType,
			marshalJSON(n.Tags, "[]"), marshalJSON(n.Metadata, "{}"),
			n.Source, formatTime(n.UpdatedAt), n.ID,
		)
		if err != nil {
			return err
		}
		if err := checkRowsAffected(res); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx,
			`DELETE FROM memory_fts WHERE node_id = ?`, n.ID); err != nil {
			return err
		}
		return insertFTSRow(ctx, q, n)
	})
}

func (d *DB) DeleteMemoryNodes(ctx context.Context, ids []string) (int, int, error) {
	if len(ids) == 0 {
		return 0, 0, nil
	}

	var nodesDeleted, edgesDeleted int
	err := d.withTx(ctx, func(q queryable) error {
		ph := placeholders(len(ids))
		args := stringArgs(ids)

		// Incident edges go with the nodes via ON DELETE CASCADE; count
		// them first so callers can report what was removed.
		err := q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM memory_edges
			 WHERE source_id IN (`+ph+`) OR target_id IN (`+ph+`)`,
			append(append([]any{}, args...), args...)...,
		).Scan(&edgesDeleted)
		if err != nil {
			return err
		}

		if _, err := q.ExecContext(ctx,
			`DELETE FROM memory_fts WHERE node_id IN (`+ph+`)`, args...); err != nil {
			return err
		}

		res, err := q.ExecContext(ctx,
			`DELETE FROM memory_nodes WHERE id IN (`+ph+`)`, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		nodesDeleted = int(n)
		return nil
	})
	return nodesDeleted, edgesDeleted, err
}

func (d *DB) UpsertMemoryEdge(ctx context.Context, e *store.MemoryEdge) (bool, error) {
	if e.Weight == 0 {
		e.Weight = 1.0
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.CreatedAt = e.CreatedAt.Truncate(time.Second)

	// Existence check decides created vs updated; both run in one tx so the
	// answer stays consistent under the single-writer connection.
	var created bool
	err := d.withTx(ctx, func(q queryable) error {
		var one int
		err := q.QueryRowContext(ctx, `
			SELECT 1 FROM memory_edges
			WHERE source_id = ? AND target_id = ? AND relation = ?`,
			e.SourceID, e.TargetID, e.Relation,
		).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			created = true
		case err != nil:
			return err
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO memory_edges
				(source_id, target_id, relation, weight, metadata,
				 valid_from, valid_until, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(source_id, target_id, relation) DO UPDATE SET
				weight = excluded.weight,
				metadata = excluded.metadata,
				valid_from = excluded.valid_from,
				valid_until = excluded.valid_until`,
			e.SourceID, e.TargetID, e.Relation, e.Weight,
			marshalJSON(e.Metadata, "{}"),
			formatTimePtr(e.ValidFrom), formatTimePtr(e.ValidUntil),
			formatTime(e.CreatedAt),
		)
		return err
	})
	return created, err
}

func (d *DB) ListMemoryEdges(ctx context.Context, f store.MemoryEdgeFilter) ([]store.MemoryEdge, error) {
	var conds []string
	var args []any
	if f.SourceID != nil {
		conds = append(conds, "source_id = ?")
		args = append(args, *f.SourceID)
	}
	if f.TargetID != nil {
		conds = append(conds, "target_id = ?")
		args = append(args, *f.TargetID)
	}
	if f.Relation != nil {
		conds = append(conds, "relation = ?")
		args = append(args, *f.Relation)
	}
	q := `SELECT source_id, target_id, relation, weight, metadata,
		valid_from, valid_until, created_at
		FROM memory_edges`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at ASC"

	rows, err := d.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.MemoryEdge
	for rows.Next() {
		var e store.MemoryEdge
		var meta, createdAt string
		var validFrom, validUntil *string
		err := rows.Scan(&e.SourceID, &e.TargetID, &e.Relation, &e.Weight,
			&meta, &validFrom, &validUntil, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan edge row: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			e.Metadata = nil
		}
		e.ValidFrom = parseTimePtr(validFrom)
		e.ValidUntil = parseTimePtr(validUntil)
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (d *DB) SearchMemoryFulltext(
	ctx context.Context, match string, f store.MemorySearchFilter,
) ([]store.ScoredMemoryNode, error) {
	conds := []string{"memory_fts MATCH ?"}
	args := []any{match}
	if f.EntityType != nil {
		conds = append(conds, "m.entity_type = ?")
		args = append(args, *f.EntityType)
	}
	for _, tag := range f.Tags {
		conds = append(conds,
			"EXISTS (SELECT 1 FROM json_each(m.tags) WHERE json_each.value = ?)")
		args = append(args, tag)
	}
	if f.CreatedBefore != nil {
		conds = append(conds, "m.created_at <= ?")
		args = append(args, formatTime(*f.CreatedBefore))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit)

	rows, err := d.q.QueryContext(ctx, `
		SELECT m.id, m.name, m.content, m.entity_type, m.tags, m.metadata,
			m.source, m.created_at, m.updated_at, -bm25(memory_fts) AS score
		FROM memory_fts
		JOIN memory_nodes m ON m.id = memory_fts.node_id
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY score DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ScoredMemoryNode
	for rows.Next() {
		var sn store.ScoredMemoryNode
		var tags, meta, createdAt, updatedAt string
		err := rows.Scan(&sn.ID, &sn.Name, &sn.Content, &sn.EntityType,
			&tags, &meta, &sn.Source, &createdAt, &updatedAt, &sn.Score)
		if err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		decodeNodeJSON(&sn.MemoryNode, tags, meta, createdAt, updatedAt)
		out = append(out, sn)
	}
	return out, rows.Err()
}

func (d *DB) ListMemoryNodesByTags(
	ctx context.Context, tags []string, f store.MemorySearchFilter,
) ([]store.MemoryNode, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	// Every supplied tag must be present on the node.
	var conds []string
	var args []any
	for _, tag := range tags {
		conds = append(conds,
			"EXISTS (SELECT 1 FROM json_each(m.tags) WHERE json_each.value = ?)")
		args = append(args, tag)
	}
	if f.EntityType != nil {
		conds = append(conds, "m.entity_type = ?")
		args = append(args, *f.EntityType)
	}
	if f.CreatedBefore != nil {
		conds = append(conds, "m.created_at <= ?")
		args = append(args, formatTime(*f.CreatedBefore))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit)

	rows, err := d.q.QueryContext(ctx, `
		SELECT m.id, m.name, m.content, m.entity_type, m.tags, m.metadata,
			m.source, m.created_at, m.updated_at
		FROM memory_nodes m
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY m.updated_at DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemoryNodes(rows)
}

func (d *DB) ListMemoryRoots(ctx context.Context) ([]store.MemoryNode, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT m.id, m.name, m.content, m.entity_type, m.tags, m.metadata,
			m.source, m.created_at, m.updated_at
		FROM memory_nodes m
		WHERE NOT EXISTS (
			SELECT 1 FROM memory_edges e
			WHERE e.target_id = m.id AND e.relation = ?
		)
		ORDER BY m.created_at ASC`,
		store.RelationParentOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemoryNodes(rows)
}

func (d *DB) MemoryStats(ctx context.Context) (*store.MemoryStats, error) {
	s := &store.MemoryStats{
		NodesByType:     make(map[string]int),
		EdgesByRelation: make(map[string]int),
	}

	if err := d.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_nodes`).Scan(&s.TotalNodes); err != nil {
		return nil, err
	}
	if err := d.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_edges`).Scan(&s.TotalEdges); err != nil {
		return nil, err
	}

	if err := d.countInto(ctx,
		`SELECT entity_type, COUNT(*) FROM memory_nodes GROUP BY entity_type`,
		s.NodesByType); err != nil {
		return nil, err
	}
	if err := d.countInto(ctx,
		`SELECT relation, COUNT(*) FROM memory_edges GROUP BY relation`,
		s.EdgesByRelation); err != nil {
		return nil, err
	}

	rows, err := d.q.QueryContext(ctx, `
		SELECT m.id, m.name, COUNT(*) AS edge_count
		FROM memory_nodes m
		JOIN memory_edges e ON e.source_id = m.id OR e.target_id = m.id
		GROUP BY m.id
		ORDER BY edge_count DESC
		LIMIT 10`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c store.ConnectedNode
		if err := rows.Scan(&c.ID, &c.Name, &c.EdgeCount); err != nil {
			return nil, err
		}
		s.MostConnected = append(s.MostConnected, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := d.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memory_nodes m
		WHERE NOT EXISTS (
			SELECT 1 FROM memory_edges e
			WHERE e.source_id = m.id OR e.target_id = m.id
		)`).Scan(&s.OrphanCount); err != nil {
		return nil, err
	}

	dayAgo := time.Now().UTC().Add(-24 * time.Hour)
	if err := d.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_nodes WHERE created_at >= ?`,
		formatTime(dayAgo)).Scan(&s.CreatedLast24h); err != nil {
		return nil, err
	}

	tagRows, err := d.q.QueryContext(ctx, `
		SELECT value, COUNT(*) AS n
		FROM memory_nodes, json_each(memory_nodes.tags)
		GROUP BY value
		ORDER BY n DESC
		LIMIT 50`)
	if err != nil {
		return nil, err
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var tc store.TagCount
		if err := tagRows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, err
		}
		s.TagFrequency = append(s.TagFrequency, tc)
	}
	return s, tagRows.Err()
}

func (d *DB) countInto(ctx context.Context, query string, dest map[string]int) error {
	rows, err := d.q.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		dest[key] = n
	}
	return rows.Err()
}

// insertFTSRow mirrors a node into the full-text index. Tags are joined with
// spaces so each tag is an independently matchable token.
func insertFTSRow(ctx context.Context, q queryable, n *store.MemoryNode) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO memory_fts (node_id, name, content, tags)
		VALUES (?, ?, ?, ?)`,
		n.ID, n.Name, n.Content, strings.Join(n.Tags, " "))
	return err
}

func scanMemoryNode(row rowScanner) (*store.MemoryNode, error) {
	var n store.MemoryNode
	var tags, meta, createdAt, updatedAt string
	err := row.Scan(&n.ID, &n.Name, &n.Content, &n.EntityType,
		&tags, &meta, &n.Source, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	decodeNodeJSON(&n, tags, meta, createdAt, updatedAt)
	return &n, nil
}

func collectMemoryNodes(rows *sql.Rows) ([]store.MemoryNode, error) {
	var out []store.MemoryNode
	for rows.Next() {
		n, err := scanMemoryNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node row: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func decodeNodeJSON(n *store.MemoryNode, tags, meta, createdAt, updatedAt string) {
	if err := json.Unmarshal([]byte(tags), &n.Tags); err != nil {
		n.Tags = nil
	}
	if err := json.Unmarshal([]byte(meta), &n.Metadata); err != nil {
		n.Metadata = nil
	}
	n.CreatedAt = parseTime(createdAt)
	n.UpdatedAt = parseTime(updatedAt)
}
