package model

import "time"

// ReportKind tags a delivery report entry with the path that produced it.
type ReportKind string

const (
	// ReportKindOutgoing marks manual and bulk sends.
	ReportKindOutgoing ReportKind = "outgoing"
	// ReportKindScheduled marks sends triggered by the scheduler subsystem
	// (both cron-recurring and one-off scheduled messages).
	ReportKindScheduled ReportKind = "scheduled"
)

// DeliveryReport is an append-only record of one recipient send attempt.
// Exactly one entry exists per attempt, success or failure.
type DeliveryReport struct {
	ID          string     `json:"id"              db:"id"`
	WorkspaceID string     `json:"workspace_id"    db:"workspace_id"`
	Timestamp   time.Time  `json:"timestamp"       db:"timestamp"`
	Kind        ReportKind `json:"kind"            db:"kind"`
	Source      string     `json:"source"          db:"source"`
	Recipient   string     `json:"recipient"       db:"recipient"`
	Success     bool       `json:"success"         db:"success"`
	Message     string     `json:"message"         db:"message"`
	Error       string     `json:"error,omitempty" db:"error"`
}

// RecipientResult is the per-recipient outcome returned by a bulk send.
type RecipientResult struct {
	Recipient string `json:"recipient"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
}
