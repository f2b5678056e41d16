// Package service implements the engine's business operations on top of the
// session, delivery, and storage layers: the one-off scheduled message
// sweep, the recurring schedule subsystem, and the operator status view.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaydesk/relaydesk/config"
	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/data"
	"github.com/relaydesk/relaydesk/internal/delivery"
	"github.com/relaydesk/relaydesk/internal/domain/model"
)

// SweeperServiceOptions groups dependencies for SweeperService.
type SweeperServiceOptions struct {
	Scheduled  core.ScheduledMessageRepository // Required: scheduled message storage
	Workspaces core.WorkspaceRepository        // Required: workspace reader
	Pipeline   *delivery.Pipeline              // Required: delivery pipeline
	Config     config.SweeperConfig
	Logger     *slog.Logger      // Optional: structured logger
	Time       data.TimeProvider // Optional: defaults to real time
}

// SweeperService evaluates one-off scheduled messages. Each tick finds
// pending messages whose send time has passed and broadcasts them to the
// owning workspace's full recipient list, then flips them to a terminal
// status exactly once.
type SweeperService struct {
	scheduled  core.ScheduledMessageRepository
	workspaces core.WorkspaceRepository
	pipeline   *delivery.Pipeline
	cfg        config.SweeperConfig
	logger     *slog.Logger
	time       data.TimeProvider
}

// NewSweeperService constructs a new SweeperService.
func NewSweeperService(opts SweeperServiceOptions) (*SweeperService, error) {
	if opts.Scheduled == nil {
		return nil, errors.New("ScheduledMessageRepository is required")
	}
	if opts.Workspaces == nil {
		return nil, errors.New("WorkspaceRepository is required")
	}
	if opts.Pipeline == nil {
		return nil, errors.New("delivery Pipeline is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.Time
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	return &SweeperService{
		scheduled:  opts.Scheduled,
		workspaces: opts.Workspaces,
		pipeline:   opts.Pipeline,
		cfg:        opts.Config,
		logger:     logger.With("component", "sweeper_service"),
		time:       tp,
	}, nil
}

// Tick processes one batch of due messages and returns how many reached a
// terminal status. A message is attempted first and marked after, so a crash
// mid-attempt retries it on the next sweep, while the pending-status guard in
// the repository keeps each terminal transition at-most-once.
func (s *SweeperService) Tick(ctx context.Context, now time.Time) (int, error) {
	due, err := s.scheduled.FindDue(ctx, core.FindDueScheduledParams{
		Now:   now,
		Limit: s.cfg.BatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("find due scheduled messages: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	processed := 0
	for _, msg := range due {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if s.processDue(ctx, msg) {
			processed++
		}
	}
	return processed, nil
}

// processDue delivers one due message and records its terminal status. It
// returns true when the message reached a terminal status in this sweep.
func (s *SweeperService) processDue(ctx context.Context, msg *model.ScheduledMessage) bool {
	status := model.ScheduledSent
	if err := s.deliver(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "scheduled message delivery failed",
			"scheduled_message_id", msg.ID,
			"workspace_id", msg.WorkspaceID,
			"error", err,
		)
		status = model.ScheduledFailed
	}

	marked, err := s.scheduled.MarkTerminal(ctx, msg.ID, status, s.time.Now())
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduled message status update failed",
			"scheduled_message_id", msg.ID,
			"status", status,
			"error", err,
		)
		return false
	}
	if !marked {
		// Another sweep already flipped it; this attempt's outcome is dropped.
		s.logger.WarnContext(ctx, "scheduled message already terminal, skipping status update",
			"scheduled_message_id", msg.ID,
		)
		return false
	}

	s.logger.InfoContext(ctx, "scheduled message processed",
		"scheduled_message_id", msg.ID,
		"workspace_id", msg.WorkspaceID,
		"status", status,
	)
	return true
}

// deliver broadcasts the message to the workspace's full recipient list. A
// batch where every recipient failed counts as a failed delivery.
func (s *SweeperService) deliver(ctx context.Context, msg *model.ScheduledMessage) error {
	ws, err := s.workspaces.GetByID(ctx, msg.WorkspaceID)
	if err != nil {
		return fmt.Errorf("load workspace: %w", err)
	}

	var overrides model.SendOverrides
	if msg.MediaRef != nil {
		overrides.MediaRef = *msg.MediaRef
	}

	results, err := s.pipeline.SendBulk(ctx, ws, delivery.SendRequest{
		Message:   msg.Body,
		Kind:      model.ReportKindScheduled,
		Source:    "one_off_schedule",
		Overrides: overrides,
	})
	if err != nil {
		return err
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	if succeeded == 0 {
		return fmt.Errorf("all %d recipients failed", len(results))
	}
	return nil
}

// CreateScheduled validates and stores a new one-off scheduled message.
func (s *SweeperService) CreateScheduled(ctx context.Context, req *model.CreateScheduledMessageRequest) (*model.ScheduledMessage, error) {
	if _, err := s.workspaces.GetByID(ctx, req.WorkspaceID); err != nil {
		return nil, err
	}
	return s.scheduled.Create(ctx, req)
}

// ListScheduled returns a workspace's scheduled messages.
func (s *SweeperService) ListScheduled(ctx context.Context, workspaceID string) ([]*model.ScheduledMessage, error) {
	return s.scheduled.ListByWorkspace(ctx, workspaceID)
}

// CancelScheduled marks a pending message cancelled. It returns false when
// the message had already reached a terminal status.
func (s *SweeperService) CancelScheduled(ctx context.Context, id string) (bool, error) {
	if _, err := s.scheduled.GetByID(ctx, id); err != nil {
		return false, err
	}
	return s.scheduled.Cancel(ctx, id)
}
