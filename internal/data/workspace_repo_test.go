package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/domain/model"
	apperrors "github.com/relaydesk/relaydesk/internal/errors"
	"github.com/relaydesk/relaydesk/internal/testutil"
)

// insertTestWorkspace writes a workspace row directly. Workspace provisioning
// is owned by an external subsystem, so the repo has no insert path of its own.
func insertTestWorkspace(t *testing.T, db *sql.DB, ws *model.Workspace) {
	t.Helper()

	configRaw, err := json.Marshal(ws.Config)
	require.NoError(t, err)

	createdAt := ws.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = db.ExecContext(context.Background(), `
		INSERT INTO workspaces (id, name, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, ws.ID, ws.Name, configRaw, createdAt)
	require.NoError(t, err)
}

func TestWorkspaceRepoGetByID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewWorkspaceRepo(db)
	ctx := context.Background()

	seeded := testutil.NewWorkspace("ws-get").
		WithName("Acme Support").
		WithRecipients("15550001111", "15550002222").
		WithTemplates("Variant one", "Variant two").
		WithStaggeredPacing(500, 1500).
		WithCron("0 9 * * 1-5", "morning check-in").
		Build()
	insertTestWorkspace(t, db, seeded)

	t.Run("returns workspace with decoded config", func(t *testing.T) {
		ws, err := repo.GetByID(ctx, "ws-get")
		require.NoError(t, err)

		assert.Equal(t, "ws-get", ws.ID)
		assert.Equal(t, "Acme Support", ws.Name)
		assert.Equal(t, []string{"15550001111", "15550002222"}, ws.Config.Recipients)
		assert.Equal(t, model.TemplateRotate, ws.Config.TemplateMode)
		assert.Equal(t, model.PacingStaggered, ws.Config.Pacing)
		assert.Equal(t, 500, ws.Config.MinDelayMs)
		assert.Equal(t, 1500, ws.Config.MaxDelayMs)
		assert.Equal(t, "0 9 * * 1-5", ws.Config.CronExpr)
		assert.False(t, ws.CreatedAt.IsZero())
	})

	t.Run("returns not found for unknown id", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "ws-absent")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestWorkspaceRepoListIDs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	repo := NewWorkspaceRepo(db)
	ctx := context.Background()

	t.Run("empty table lists nothing", func(t *testing.T) {
		ids, err := repo.ListIDs(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("lists oldest first", func(t *testing.T) {
		base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		for i, id := range []string{"ws-c", "ws-a", "ws-b"} {
			ws := testutil.NewWorkspace(id).Build()
			ws.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			insertTestWorkspace(t, db, ws)
		}

		ids, err := repo.ListIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"ws-c", "ws-a", "ws-b"}, ids)
	})
}
