package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/data"
	"github.com/relaydesk/relaydesk/internal/domain/model"
	"github.com/relaydesk/relaydesk/internal/session"
)

// WorkspaceStatus is the operator-facing status view: the latest runtime
// snapshot plus a short human-readable hint and the recipient count.
type WorkspaceStatus struct {
	model.RuntimeSnapshot
	Hint           string `json:"hint,omitempty"`
	RecipientCount int    `json:"recipient_count"`
}

// StatusServiceOptions groups dependencies for StatusService.
type StatusServiceOptions struct {
	Sessions   *session.Manager         // Required: session manager
	Workspaces core.WorkspaceRepository // Required: workspace reader
	Logger     *slog.Logger             // Optional: structured logger
	Time       data.TimeProvider        // Optional: defaults to real time
}

// StatusService assembles workspace status for operators.
type StatusService struct {
	sessions   *session.Manager
	workspaces core.WorkspaceRepository
	logger     *slog.Logger
	time       data.TimeProvider
}

// NewStatusService constructs a new StatusService.
func NewStatusService(opts StatusServiceOptions) (*StatusService, error) {
	if opts.Sessions == nil {
		return nil, errors.New("session Manager is required")
	}
	if opts.Workspaces == nil {
		return nil, errors.New("WorkspaceRepository is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.Time
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	return &StatusService{
		sessions:   opts.Sessions,
		workspaces: opts.Workspaces,
		logger:     logger.With("component", "status_service"),
		time:       tp,
	}, nil
}

// Status returns the current status view for a workspace. The workspace must
// exist; a workspace with no session reports stopped.
func (s *StatusService) Status(ctx context.Context, workspaceID string) (*WorkspaceStatus, error) {
	ws, err := s.workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	snap := s.sessions.Runtime(workspaceID).Snapshot(s.time.Now())
	return &WorkspaceStatus{
		RuntimeSnapshot: snap,
		Hint:            HintFor(snap.LastError),
		RecipientCount:  len(ws.Config.RecipientList()),
	}, nil
}

// errorHints maps known lastError substrings to short operator-facing hints.
// Matched in order; first hit wins.
var errorHints = []struct {
	marker string
	hint   string
}{
	{"runtime missing", "The automation runtime is not installed on this host."},
	{"profile is already in use", "Another process holds the workspace profile; stop it or wait for the retry."},
	{"singletonlock", "Another process holds the workspace profile; stop it or wait for the retry."},
	{"stuck authenticated", "The session authenticated but never confirmed connectivity; a recovery was forced."},
	{"connect failed", "The transport bridge failed to launch; check the host and try starting again."},
	{"logged out", "The workspace was logged out remotely; start the session and re-pair."},
}

// HintFor derives a short diagnosis hint from a lastError message. Unknown
// messages produce no hint.
func HintFor(lastError string) string {
	if lastError == "" {
		return ""
	}
	msg := strings.ToLower(lastError)
	for _, h := range errorHints {
		if strings.Contains(msg, h.marker) {
			return h.hint
		}
	}
	return ""
}
