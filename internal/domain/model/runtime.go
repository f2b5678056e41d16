package model

import (
	"strings"
	"time"
)

// SessionStatus is the operator-visible lifecycle state of a workspace
// transport session.
type SessionStatus string

const (
	// StatusStopped means no session exists for the workspace.
	StatusStopped SessionStatus = "stopped"
	// StatusStarting means a connect call is in flight.
	StatusStarting SessionStatus = "starting"
	// StatusQRReady means a pairing challenge is waiting for the operator.
	StatusQRReady SessionStatus = "qr_ready"
	// StatusAuthenticated means the transport accepted the workspace identity
	// but has not yet confirmed full connectivity.
	StatusAuthenticated SessionStatus = "authenticated"
	// StatusReady means outbound sends are permitted.
	StatusReady SessionStatus = "ready"
	// StatusRestartingBridge is the transient forced-recovery state.
	StatusRestartingBridge SessionStatus = "restarting_bridge"
	// StatusError means session setup failed; see LastError.
	StatusError SessionStatus = "error"

	// disconnectedPrefix prefixes disconnect statuses carrying a reason.
	disconnectedPrefix = "disconnected:"
)

// DisconnectedStatus builds the status recorded after a transport disconnect,
// retaining the reason for operator visibility.
func DisconnectedStatus(reason string) SessionStatus {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	return SessionStatus(disconnectedPrefix + reason)
}

// IsDisconnected reports whether the status is a disconnect status.
func (s SessionStatus) IsDisconnected() bool {
	return strings.HasPrefix(string(s), disconnectedPrefix)
}

// RuntimeSnapshot is a point-in-time, serializable view of a workspace's
// in-memory session runtime. It is what the status mirror persists and the
// operator API returns.
type RuntimeSnapshot struct {
	WorkspaceID   string        `json:"workspace_id"`
	Status        SessionStatus `json:"status"`
	Authenticated bool          `json:"authenticated"`
	Ready         bool          `json:"ready"`
	QRPayload     string        `json:"qr_payload,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	SendInFlight  bool          `json:"send_in_flight"`

	StartRequestedAt *time.Time `json:"start_requested_at,omitempty"`
	AuthenticatedAt  *time.Time `json:"authenticated_at,omitempty"`

	// ConnectingForSeconds is the elapsed time since the start request when
	// the session has not yet reached ready, for operator diagnosis.
	ConnectingForSeconds int `json:"connecting_for_seconds,omitempty"`
}
