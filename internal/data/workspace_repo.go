package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	apperrors "github.com/relaydesk/relaydesk/internal/errors"

	"github.com/relaydesk/relaydesk/internal/domain/model"
)

// WorkspaceRepo provides read access to workspace records. Provisioning and
// mutation of workspaces belong to an external subsystem.
type WorkspaceRepo struct {
	DB *sql.DB
}

// NewWorkspaceRepo creates a new WorkspaceRepo with the given database connection.
func NewWorkspaceRepo(db *sql.DB) *WorkspaceRepo {
	return &WorkspaceRepo{DB: db}
}

const workspaceColumns = `
  id,
  name,
  config,
  created_at,
  updated_at
`

// GetByID retrieves a workspace by id, including its parsed config document.
func (r *WorkspaceRepo) GetByID(ctx context.Context, id string) (*model.Workspace, error) {
	query := `
		SELECT ` + workspaceColumns + `
		FROM workspaces
		WHERE id = $1
	`

	var (
		ws        model.Workspace
		configRaw []byte
	)
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&ws.ID,
		&ws.Name,
		&configRaw,
		&ws.CreatedAt,
		&ws.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NotFoundf("workspace %s not found", id)
		}
		return nil, apperrors.MapDBError(fmt.Errorf("get workspace: %w", err))
	}

	if len(configRaw) > 0 {
		if uerr := json.Unmarshal(configRaw, &ws.Config); uerr != nil {
			return nil, fmt.Errorf("decode workspace config: %w", uerr)
		}
	}

	return &ws, nil
}

// ListIDs returns the ids of all workspaces, oldest first.
func (r *WorkspaceRepo) ListIDs(ctx context.Context) ([]string, error) {
	query := `SELECT id FROM workspaces ORDER BY created_at ASC`

	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list workspace ids: %w", err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if serr := rows.Scan(&id); serr != nil {
			return nil, fmt.Errorf("scan workspace id: %w", serr)
		}
		ids = append(ids, id)
	}
	if rerr := rows.Err(); rerr != nil {
		return nil, apperrors.MapDBError(rerr)
	}

	return ids, nil
}
