package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/delivery"
	"github.com/relaydesk/relaydesk/internal/domain/model"
	"github.com/relaydesk/relaydesk/internal/session"
)

// RecurringServiceOptions groups dependencies for RecurringService.
type RecurringServiceOptions struct {
	Workspaces core.WorkspaceRepository // Required: workspace reader
	Pipeline   *delivery.Pipeline       // Required: delivery pipeline
	Sessions   *session.Manager         // Required: session manager
	Logger     *slog.Logger             // Optional: structured logger
}

// RecurringService owns the cron-style recurring schedules. One schedule may
// be armed per workspace; it fires the configured message through the same
// delivery pipeline as every other send. Schedules are armed when a session
// reaches ready and detached on teardown through the runtime's recurring
// handle.
type RecurringService struct {
	workspaces core.WorkspaceRepository
	pipeline   *delivery.Pipeline
	sessions   *session.Manager
	logger     *slog.Logger

	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewRecurringService constructs a new RecurringService and starts its cron
// runner.
func NewRecurringService(opts RecurringServiceOptions) (*RecurringService, error) {
	if opts.Workspaces == nil {
		return nil, errors.New("WorkspaceRepository is required")
	}
	if opts.Pipeline == nil {
		return nil, errors.New("delivery Pipeline is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("session Manager is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &RecurringService{
		workspaces: opts.Workspaces,
		pipeline:   opts.Pipeline,
		sessions:   opts.Sessions,
		logger:     logger.With("component", "recurring_service"),
		cron:       cron.New(),
		entries:    make(map[string]cron.EntryID),
	}
	s.cron.Start()
	return s, nil
}

// Stop halts the cron runner. The returned context is done once any
// in-flight fire has finished.
func (s *RecurringService) Stop() context.Context {
	return s.cron.Stop()
}

// Arm installs the workspace's recurring schedule, replacing any previous
// one. An empty expression disarms. An invalid expression records the error
// and leaves the workspace without a schedule; it never propagates.
func (s *RecurringService) Arm(ctx context.Context, workspaceID string) {
	ws, err := s.workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		s.logger.ErrorContext(ctx, "workspace load failed, schedule not armed",
			"workspace_id", workspaceID,
			"error", err,
		)
		return
	}

	s.Disarm(workspaceID)

	expr := ws.Config.CronExpr
	if expr == "" {
		return
	}

	entryID, err := s.cron.AddFunc(expr, func() {
		s.fire(workspaceID)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "invalid recurring schedule expression, schedule disabled",
			"workspace_id", workspaceID,
			"expression", expr,
			"error", err,
		)
		return
	}

	s.mu.Lock()
	s.entries[workspaceID] = entryID
	s.mu.Unlock()

	// Teardown of the session detaches the schedule with it.
	s.sessions.Runtime(workspaceID).SetRecurringStop(func() {
		s.Disarm(workspaceID)
	})

	s.logger.InfoContext(ctx, "recurring schedule armed",
		"workspace_id", workspaceID,
		"expression", expr,
	)
}

// Disarm removes the workspace's schedule when one is armed.
func (s *RecurringService) Disarm(workspaceID string) {
	s.mu.Lock()
	entryID, ok := s.entries[workspaceID]
	if ok {
		delete(s.entries, workspaceID)
	}
	s.mu.Unlock()
	if ok {
		s.cron.Remove(entryID)
	}
}

// Armed reports whether the workspace currently has a schedule.
func (s *RecurringService) Armed(workspaceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[workspaceID]
	return ok
}

// ReadyHook returns the hook the session manager fires on each entry into
// ready, (re)arming the workspace's schedule.
func (s *RecurringService) ReadyHook() session.ReadyHook {
	return func(ctx context.Context, workspaceID string) {
		s.Arm(ctx, workspaceID)
	}
}

// fire runs one recurring send. All failures are logged and dropped; a cron
// fire must never take the scheduler down.
func (s *RecurringService) fire(workspaceID string) {
	ctx := context.Background()

	ws, err := s.workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		s.logger.ErrorContext(ctx, "workspace load failed on recurring fire",
			"workspace_id", workspaceID,
			"error", err,
		)
		return
	}
	if ws.Config.CronMessage == "" {
		s.logger.WarnContext(ctx, "recurring schedule fired with no message configured",
			"workspace_id", workspaceID,
		)
		return
	}

	results, err := s.pipeline.SendBulk(ctx, ws, delivery.SendRequest{
		Message: ws.Config.CronMessage,
		Kind:    model.ReportKindScheduled,
		Source:  "recurring_schedule",
	})
	if err != nil {
		s.logger.WarnContext(ctx, "recurring send rejected",
			"workspace_id", workspaceID,
			"error", err,
		)
		return
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	s.logger.InfoContext(ctx, "recurring send complete",
		"workspace_id", workspaceID,
		"recipients", len(results),
		"failed", failed,
	)
}
