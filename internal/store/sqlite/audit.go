package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hostbridge/hostbridge/internal/store"
)

func (d *DB) InsertAuditEntry(ctx context.Context, e *store.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	params := normalizeJSON(e.RequestParams, "{}")

	_, err := d.q.ExecContext(ctx, `
		INSERT INTO audit_log
			(id, timestamp, protocol, tool_category, tool_name, status,
			 duration_ms, error_message, request_params, response_summary,
			 hitl_request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.Timestamp), e.Protocol, e.ToolCategory, e.ToolName,
		e.Status, e.DurationMs, e.ErrorMessage, params, e.ResponseSummary,
		e.HITLRequestID, formatTime(e.CreatedAt),
	)
	return err
}

func (d *DB) QueryAuditEntries(
	ctx context.Context, f store.AuditFilter,
) ([]store.AuditEntry, int, error) {
	where, args := buildAuditWhere(f)

	// Count total matching the filter.
	var total int
	countQ := "SELECT COUNT(*) FROM audit_log" + where
	if err := d.q.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	dataQ := `SELECT id, timestamp, protocol, tool_category, tool_name, status,
		duration_ms, error_message, request_params, response_summary,
		hitl_request_id, created_at
		FROM audit_log` + where +
		` ORDER BY timestamp DESC LIMIT ? OFFSET ?`
	dataArgs := append(args, limit, f.Offset)

	rows, err := d.q.QueryContext(ctx, dataQ, dataArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []store.AuditEntry
	for rows.Next() {
		e, err := scanAuditRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *e)
	}
	return out, total, rows.Err()
}

func (d *DB) PurgeAuditEntries(ctx context.Context, before time.Time) (int, error) {
	res, err := d.q.ExecContext(ctx,
		`DELETE FROM audit_log WHERE timestamp < ?`, formatTime(before))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func buildAuditWhere(f store.AuditFilter) (string, []any) {
	var conds []string
	var args []any
	if f.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, *f.Status)
	}
	if f.ToolCategory != nil {
		conds = append(conds, "tool_category = ?")
		args = append(args, *f.ToolCategory)
	}
	if f.ToolName != nil {
		conds = append(conds, "tool_name = ?")
		args = append(args, *f.ToolName)
	}
	if f.Protocol != nil {
		conds = append(conds, "protocol = ?")
		args = append(args, *f.Protocol)
	}
	if f.After != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, formatTime(*f.After))
	}
	if f.Before != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, formatTime(*f.Before))
	}
	if f.Search != "" {
		conds = append(conds,
			"(tool_name LIKE ? OR tool_category LIKE ? OR error_message LIKE ?)")
		like := "%" + f.Search + "%"
		args = append(args, like, like, like)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanAuditRow(row rowScanner) (*store.AuditEntry, error) {
	var e store.AuditEntry
	var ts, createdAt, params string
	err := row.Scan(
		&e.ID, &ts, &e.Protocol, &e.ToolCategory, &e.ToolName, &e.Status,
		&e.DurationMs, &e.ErrorMessage, &params, &e.ResponseSummary,
		&e.HITLRequestID, &createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan audit row: %w", err)
	}
	e.RequestParams = json.RawMessage(params)
	e.Timestamp = parseTime(ts)
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}
