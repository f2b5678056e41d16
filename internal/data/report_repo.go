package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/relaydesk/relaydesk/internal/domain/model"
	apperrors "github.com/relaydesk/relaydesk/internal/errors"
)

// ReportRepo provides append-only storage for delivery report entries.
type ReportRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewReportRepo creates a new ReportRepo with the given database connection.
func NewReportRepo(db *sql.DB) *ReportRepo {
	return &ReportRepo{
		DB:           db,
		timeProvider: &RealTimeProvider{},
	}
}

// NewReportRepoWithTimeProvider creates a ReportRepo with a custom
// TimeProvider (useful for testing).
func NewReportRepoWithTimeProvider(db *sql.DB, timeProvider TimeProvider) *ReportRepo {
	return &ReportRepo{
		DB:           db,
		timeProvider: timeProvider,
	}
}

const reportColumns = `
  id,
  workspace_id,
  timestamp,
  kind,
  source,
  recipient,
  success,
  message,
  error
`

// Append inserts one report entry. The entry's ID and Timestamp are filled in
// when empty.
func (r *ReportRepo) Append(ctx context.Context, entry *model.DeliveryReport) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.timeProvider.Now()
	}

	query := `
		INSERT INTO delivery_reports (id, workspace_id, timestamp, kind, source, recipient, success, message, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.DB.ExecContext(ctx, query,
		entry.ID,
		entry.WorkspaceID,
		entry.Timestamp.UTC(),
		entry.Kind,
		entry.Source,
		entry.Recipient,
		entry.Success,
		entry.Message,
		entry.Error,
	)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("append delivery report: %w", err))
	}
	return nil
}

// ListByWorkspace returns report entries for a workspace, newest first. A
// limit of zero or less falls back to 100.
func (r *ReportRepo) ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]*model.DeliveryReport, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + reportColumns + `
		FROM delivery_reports
		WHERE workspace_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := r.DB.QueryContext(ctx, query, workspaceID, limit)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list delivery reports: %w", err))
	}
	defer rows.Close()

	var entries []*model.DeliveryReport
	for rows.Next() {
		var e model.DeliveryReport
		serr := rows.Scan(
			&e.ID,
			&e.WorkspaceID,
			&e.Timestamp,
			&e.Kind,
			&e.Source,
			&e.Recipient,
			&e.Success,
			&e.Message,
			&e.Error,
		)
		if serr != nil {
			return nil, fmt.Errorf("scan delivery report: %w", serr)
		}
		entries = append(entries, &e)
	}
	if rerr := rows.Err(); rerr != nil {
		return nil, apperrors.MapDBError(rerr)
	}

	return entries, nil
}
