// Package core defines the ports between the session/delivery engine and its
// collaborators (storage, status mirror). Services depend on these
// interfaces, not on concrete implementations.
package core

import (
	"context"
	"time"

	"github.com/relaydesk/relaydesk/internal/domain/model"
)

// WorkspaceRepository reads tenant records. Workspace provisioning and CRUD
// belong to an external subsystem; the engine only consumes configs.
type WorkspaceRepository interface {
	GetByID(ctx context.Context, id string) (*model.Workspace, error)
	// ListIDs returns the ids of all workspaces, used to arm recurring
	// schedules on startup.
	ListIDs(ctx context.Context) ([]string, error)
}

// ReportRepository appends and lists delivery report entries. Entries are
// append-only; nothing updates or deletes them.
type ReportRepository interface {
	Append(ctx context.Context, entry *model.DeliveryReport) error
	ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]*model.DeliveryReport, error)
}

// FindDueScheduledParams groups parameters for ScheduledMessageRepository.FindDue.
type FindDueScheduledParams struct {
	Now   time.Time
	Limit int
}

// ScheduledMessageRepository manages one-off scheduled messages.
type ScheduledMessageRepository interface {
	Create(ctx context.Context, req *model.CreateScheduledMessageRequest) (*model.ScheduledMessage, error)
	GetByID(ctx context.Context, id string) (*model.ScheduledMessage, error)
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*model.ScheduledMessage, error)
	// FindDue returns pending messages whose send time has passed, across
	// all workspaces, oldest first.
	FindDue(ctx context.Context, params FindDueScheduledParams) ([]*model.ScheduledMessage, error)
	// MarkTerminal flips a pending message to sent/failed with a timestamp.
	// It returns false when the row was no longer pending, which keeps the
	// sweep at-most-once per terminal transition.
	MarkTerminal(ctx context.Context, id string, status model.ScheduledMessageStatus, at time.Time) (bool, error)
	// Cancel marks a pending message cancelled. Returns false when the
	// message had already reached a terminal status.
	Cancel(ctx context.Context, id string) (bool, error)
}

// StatusMirror publishes runtime snapshots for external subsystems that read
// session state without reaching into process memory.
type StatusMirror interface {
	Publish(ctx context.Context, snap model.RuntimeSnapshot) error
	Get(ctx context.Context, workspaceID string) (*model.RuntimeSnapshot, error)
	Clear(ctx context.Context, workspaceID string) error
}
