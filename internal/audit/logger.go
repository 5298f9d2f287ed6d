// Package audit records every completed dispatch to the store and fans the
// entry out to live subscribers. The entry is written before the caller sees
// its result, so any observer querying the log after a response will find
// the matching record.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hostbridge/hostbridge/internal/store"
)

// DefaultSummaryLimit bounds response_summary when no limit is configured.
const DefaultSummaryLimit = 4096

// Logger writes audit entries with parameter redaction and summary
// truncation.
type Logger struct {
	store        store.AuditStore
	bus          *Bus
	summaryLimit int
	logger       *slog.Logger
}

// NewLogger creates an audit Logger. The bus parameter is optional (nil-safe).
func NewLogger(auditStore store.AuditStore, bus *Bus, summaryLimit int, logger *slog.Logger) *Logger {
	if summaryLimit <= 0 {
		summaryLimit = DefaultSummaryLimit
	}
	return &Logger{
		store:        auditStore,
		bus:          bus,
		summaryLimit: summaryLimit,
		logger:       logger,
	}
}

// Record redacts sensitive parameters, truncates the response summary,
// inserts the entry and publishes it.
func (l *Logger) Record(ctx context.Context, entry *store.AuditEntry) error {
	if len(entry.RequestParams) > 0 {
		entry.RequestParams = Redact(entry.RequestParams)
	}
	if len(entry.ResponseSummary) > l.summaryLimit {
		entry.ResponseSummary = entry.ResponseSummary[:l.summaryLimit] + "..."
	}

	if err := l.store.InsertAuditEntry(ctx, entry); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	if l.bus != nil {
		l.bus.Publish(entry)
	}

	l.logger.Info("audit logged",
		"id", entry.ID,
		"tool", entry.ToolCategory+"_"+entry.ToolName,
		"status", entry.Status)
	return nil
}

// RunRetention purges entries older than the retention horizon, once at
// start and then daily, until ctx is done. A non-positive retention disables
// the sweep.
func (l *Logger) RunRetention(ctx context.Context, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	horizon := time.Duration(retentionDays) * 24 * time.Hour

	purge := func() {
		cutoff := time.Now().UTC().Add(-horizon)
		n, err := l.store.PurgeAuditEntries(ctx, cutoff)
		if err != nil {
			l.logger.Error("audit retention purge failed", "error", err)
			return
		}
		if n > 0 {
			l.logger.Info("audit retention purge", "removed", n, "cutoff", cutoff)
		}
	}

	purge()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purge()
		}
	}
}

// Summarize renders a handler result for the response_summary column.
func Summarize(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
