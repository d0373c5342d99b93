// Package escalation records decisions awaiting human resolution. Records
// hold the agent ID for lookup; agents hold no back-pointer to their pending
// escalations.
package escalation

import (
	"errors"
	"time"
)

// Status of an escalation record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Record is one pending or resolved escalation.
type Record struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	DecisionRef string    `json:"decision_ref"`
	Action      string    `json:"action"`
	Resource    string    `json:"resource"`
	Reason      string    `json:"reason"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`

	// Deadline is when a still-pending escalation expires to a deny.
	Deadline time.Time `json:"deadline"`

	ResolvedBy string    `json:"resolved_by,omitempty"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// Pending reports whether the record still awaits resolution.
func (r *Record) Pending() bool {
	return r.Status == StatusPending
}

// Store errors.
var (
	ErrNotFound        = errors.New("escalation not found")
	ErrAlreadyResolved = errors.New("escalation already resolved")
)
