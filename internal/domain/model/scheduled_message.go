package model

import (
	"fmt"
	"strings"
	"time"
)

// ScheduledMessageStatus represents the lifecycle state of a one-off
// scheduled message.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type ScheduledMessageStatus string

const (
	// ScheduledPending means the message is waiting for its send time.
	ScheduledPending ScheduledMessageStatus = "pending"
	// ScheduledSent means the sweep delivered the message.
	ScheduledSent ScheduledMessageStatus = "sent"
	// ScheduledFailed means the sweep attempted delivery and it failed.
	ScheduledFailed ScheduledMessageStatus = "failed"
	// ScheduledCancelled means an operator cancelled the message before it
	// was due. Cancelled rows are kept, never deleted.
	ScheduledCancelled ScheduledMessageStatus = "cancelled"
)

// Valid returns true if the status is one of the known states.
func (s ScheduledMessageStatus) Valid() bool {
	return s == ScheduledPending || s == ScheduledSent || s == ScheduledFailed ||
		s == ScheduledCancelled
}

// Terminal reports whether the status ends the message lifecycle.
func (s ScheduledMessageStatus) Terminal() bool {
	return s == ScheduledSent || s == ScheduledFailed || s == ScheduledCancelled
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ScheduledMessageStatus) UnmarshalText(text []byte) error {
	v := ScheduledMessageStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid ScheduledMessageStatus: %q", string(text))
	}
	*s = v
	return nil
}

// ScheduledMessage is a one-off delivery job: a future-dated broadcast to the
// owning workspace's full recipient list.
type ScheduledMessage struct {
	ID          string                 `json:"id"                    db:"id"`
	WorkspaceID string                 `json:"workspace_id"          db:"workspace_id"`
	Body        string                 `json:"body"                  db:"body"`
	MediaRef    *string                `json:"media_ref,omitempty"   db:"media_ref"`
	SendAt      time.Time              `json:"send_at"               db:"send_at"`
	Status      ScheduledMessageStatus `json:"status"                db:"status"`
	CreatedAt   time.Time              `json:"created_at"            db:"created_at"`
	SentAt      *time.Time             `json:"sent_at,omitempty"     db:"sent_at"`
}

// CreateScheduledMessageRequest is the operator-facing creation payload.
type CreateScheduledMessageRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	Body        string    `json:"body"`
	MediaRef    *string   `json:"media_ref,omitempty"`
	SendAt      time.Time `json:"send_at"`
}

// Validate checks the request for creation pre-conditions.
func (r CreateScheduledMessageRequest) Validate() error {
	if strings.TrimSpace(r.WorkspaceID) == "" {
		return fmt.Errorf("workspace_id is required")
	}
	if strings.TrimSpace(r.Body) == "" {
		return fmt.Errorf("body is required")
	}
	if r.SendAt.IsZero() {
		return fmt.Errorf("send_at is required")
	}
	return nil
}
