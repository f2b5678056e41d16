package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/domain/model"
	apperrors "github.com/relaydesk/relaydesk/internal/errors"
)

// ScheduledMessageRepo provides database operations for one-off scheduled
// messages.
type ScheduledMessageRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewScheduledMessageRepo creates a new ScheduledMessageRepo with the given
// database connection.
func NewScheduledMessageRepo(db *sql.DB) *ScheduledMessageRepo {
	return &ScheduledMessageRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewScheduledMessageRepoWithTimeProvider creates a ScheduledMessageRepo with
// a custom TimeProvider (useful for testing).
func NewScheduledMessageRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *ScheduledMessageRepo {
	return &ScheduledMessageRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

const scheduledMessageColumns = `
  id,
  workspace_id,
  body,
  media_ref,
  send_at,
  status,
  created_at,
  sent_at
`

// Create inserts a new pending scheduled message and returns the stored row.
func (r *ScheduledMessageRepo) Create(ctx context.Context, req *model.CreateScheduledMessageRequest) (*model.ScheduledMessage, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	query := `
		INSERT INTO scheduled_messages (id, workspace_id, body, media_ref, send_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + scheduledMessageColumns

	id := uuid.New().String()
	now := r.timeProvider.Now()

	row := r.DB.QueryRowContext(ctx, query,
		id,
		req.WorkspaceID,
		req.Body,
		req.MediaRef,
		req.SendAt.UTC(),
		model.ScheduledPending,
		now,
	)

	msg, err := scanScheduledMessage(row)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("create scheduled message: %w", err))
	}
	return msg, nil
}

// GetByID retrieves a scheduled message by id.
func (r *ScheduledMessageRepo) GetByID(ctx context.Context, id string) (*model.ScheduledMessage, error) {
	query := `
		SELECT ` + scheduledMessageColumns + `
		FROM scheduled_messages
		WHERE id = $1
	`

	msg, err := scanScheduledMessage(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFoundf("scheduled message %s not found", id)
		}
		return nil, apperrors.MapDBError(fmt.Errorf("get scheduled message: %w", err))
	}
	return msg, nil
}

// ListByWorkspace returns all scheduled messages for a workspace, soonest
// send time first.
func (r *ScheduledMessageRepo) ListByWorkspace(ctx context.Context, workspaceID string) ([]*model.ScheduledMessage, error) {
	query := `
		SELECT ` + scheduledMessageColumns + `
		FROM scheduled_messages
		WHERE workspace_id = $1
		ORDER BY send_at ASC, created_at ASC
	`

	rows, err := r.DB.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list scheduled messages: %w", err))
	}
	defer rows.Close()

	return collectScheduledMessages(rows)
}

// FindDue returns pending messages whose send time has passed, across all
// workspaces, oldest first.
func (r *ScheduledMessageRepo) FindDue(ctx context.Context, params core.FindDueScheduledParams) ([]*model.ScheduledMessage, error) {
	if params.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", params.Limit)
	}

	query := `
		SELECT ` + scheduledMessageColumns + `
		FROM scheduled_messages
		WHERE status = $1 AND send_at <= $2
		ORDER BY send_at ASC, created_at ASC
		LIMIT $3
	`

	rows, err := r.DB.QueryContext(ctx, query, model.ScheduledPending, params.Now.UTC(), params.Limit)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("find due scheduled messages: %w", err))
	}
	defer rows.Close()

	return collectScheduledMessages(rows)
}

// MarkTerminal flips a pending message to the given terminal status. The
// status guard in the WHERE clause makes the transition at-most-once: a row
// that already left pending reports false instead of being overwritten.
func (r *ScheduledMessageRepo) MarkTerminal(ctx context.Context, id string, status model.ScheduledMessageStatus, at time.Time) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("status %q is not terminal", status)
	}

	query := `
		UPDATE scheduled_messages
		SET status = $2, sent_at = $3
		WHERE id = $1 AND status = $4
	`

	result, err := r.DB.ExecContext(ctx, query, id, status, at.UTC(), model.ScheduledPending)
	if err != nil {
		return false, apperrors.MapDBError(fmt.Errorf("mark scheduled message terminal: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Cancel marks a pending message cancelled. Cancelled rows are kept for the
// workspace listing, never deleted.
func (r *ScheduledMessageRepo) Cancel(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE scheduled_messages
		SET status = $2
		WHERE id = $1 AND status = $3
	`

	result, err := r.DB.ExecContext(ctx, query, id, model.ScheduledCancelled, model.ScheduledPending)
	if err != nil {
		return false, apperrors.MapDBError(fmt.Errorf("cancel scheduled message: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScheduledMessage(row rowScanner) (*model.ScheduledMessage, error) {
	var msg model.ScheduledMessage
	err := row.Scan(
		&msg.ID,
		&msg.WorkspaceID,
		&msg.Body,
		&msg.MediaRef,
		&msg.SendAt,
		&msg.Status,
		&msg.CreatedAt,
		&msg.SentAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func collectScheduledMessages(rows *sql.Rows) ([]*model.ScheduledMessage, error) {
	var msgs []*model.ScheduledMessage
	for rows.Next() {
		msg, err := scanScheduledMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return msgs, nil
}
