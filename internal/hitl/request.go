// Package hitl queues human-in-the-loop approval requests and suspends the
// requesting goroutine until a reviewer decides or the request expires. All
// state is in memory; requests do not survive a restart.
package hitl

import "time"

// Status is the lifecycle state of a request. A request leaves pending at
// most once.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Request is one pending invocation held for review. RequestParams carries
// the pre-expansion form, so secret templates are shown to reviewers as
// {{secret:KEY}} rather than their values.
type Request struct {
	ID                string         `json:"id"`
	CreatedAt         time.Time      `json:"created_at"`
	ToolName          string         `json:"tool_name"`
	ToolCategory      string         `json:"tool_category"`
	RequestParams     map[string]any `json:"request_params"`
	RequestContext    map[string]any `json:"request_context"`
	PolicyRuleMatched string         `json:"policy_rule_matched"`
	Status            Status         `json:"status"`
	ReviewedBy        string         `json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time     `json:"reviewed_at,omitempty"`
	ReviewerNote      string         `json:"reviewer_note,omitempty"`
	TTLSeconds        int            `json:"ttl_seconds"`
}

// ExpiresAt returns the authoritative expiry instant.
func (r *Request) ExpiresAt() time.Time {
	return r.CreatedAt.Add(time.Duration(r.TTLSeconds) * time.Second)
}

func (r *Request) expiredBy(now time.Time) bool {
	return r.Status == StatusPending && !now.Before(r.ExpiresAt())
}

// snapshot returns a copy safe to hand to subscribers. Param and context
// maps are shared and treated as read-only.
func (r *Request) snapshot() *Request {
	c := *r
	return &c
}
