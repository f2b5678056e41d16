package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/domain/model"
	apperrors "github.com/relaydesk/relaydesk/internal/errors"
	"github.com/relaydesk/relaydesk/internal/testutil"
)

func setupScheduledRepo(t *testing.T) (*ScheduledMessageRepo, *sql.DB, *FixedTimeProvider) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.TeardownTestDB(t, db) })

	clock := NewFixedTimeProvider(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	repo := NewScheduledMessageRepoWithTimeProvider(db, clock)

	insertTestWorkspace(t, db, testutil.NewWorkspace("ws-sched").Build())

	return repo, db, clock
}

func TestScheduledMessageRepoCreate(t *testing.T) {
	repo, _, clock := setupScheduledRepo(t)
	ctx := context.Background()

	t.Run("creates pending message", func(t *testing.T) {
		sendAt := clock.Now().Add(time.Hour)
		msg, err := repo.Create(ctx, testutil.ScheduledMessageRequest("ws-sched", sendAt))
		require.NoError(t, err)

		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, "ws-sched", msg.WorkspaceID)
		assert.Equal(t, model.ScheduledPending, msg.Status)
		assert.True(t, msg.SendAt.Equal(sendAt))
		assert.Nil(t, msg.SentAt)

		got, err := repo.GetByID(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, msg.ID, got.ID)
	})

	t.Run("rejects empty body", func(t *testing.T) {
		req := testutil.ScheduledMessageRequest("ws-sched", clock.Now().Add(time.Hour))
		req.Body = "  "
		_, err := repo.Create(ctx, req)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("rejects unknown workspace", func(t *testing.T) {
		_, err := repo.Create(ctx, testutil.ScheduledMessageRequest("ws-absent", clock.Now().Add(time.Hour)))
		require.Error(t, err)
	})
}

func TestScheduledMessageRepoGetByIDNotFound(t *testing.T) {
	repo, _, _ := setupScheduledRepo(t)

	_, err := repo.GetByID(context.Background(), "11111111-1111-1111-1111-111111111111")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestScheduledMessageRepoListByWorkspace(t *testing.T) {
	repo, db, clock := setupScheduledRepo(t)
	ctx := context.Background()

	insertTestWorkspace(t, db, testutil.NewWorkspace("ws-other").Build())

	later, err := repo.Create(ctx, testutil.ScheduledMessageRequest("ws-sched", clock.Now().Add(2*time.Hour)))
	require.NoError(t, err)
	sooner, err := repo.Create(ctx, testutil.ScheduledMessageRequest("ws-sched", clock.Now().Add(time.Hour)))
	require.NoError(t, err)
	_, err = repo.Create(ctx, testutil.ScheduledMessageRequest("ws-other", clock.Now().Add(time.Hour)))
	require.NoError(t, err)

	msgs, err := repo.ListByWorkspace(ctx, "ws-sched")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, sooner.ID, msgs[0].ID)
	assert.Equal(t, later.ID, msgs[1].ID)
}

func TestScheduledMessageRepoFindDue(t *testing.T) {
	repo, _, clock := setupScheduledRepo(t)
	ctx := context.Background()

	due, err := repo.Create(ctx, testutil.ScheduledMessageRequest("ws-sched", clock.Now().Add(-time.Minute)))
	require.NoError(t, err)
	_, err = repo.Create(ctx, testutil.ScheduledMessageRequest("ws-sched", clock.Now().Add(time.Hour)))
	require.NoError(t, err)

	cancelled, err := repo.Create(ctx, testutil.ScheduledMessageRequest("ws-sched", clock.Now().Add(-2*time.Minute)))
	require.NoError(t, err)
	ok, err := repo.Cancel(ctx, cancelled.ID)
	require.NoError(t, err)
	require.True(t, ok)

	t.Run("returns only due pending rows", func(t *testing.T) {
		msgs, err := repo.FindDue(ctx, core.FindDueScheduledParams{Now: clock.Now(), Limit: 10})
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, due.ID, msgs[0].ID)
	})

	t.Run("rejects non-positive limit", func(t *testing.T) {
		_, err := repo.FindDue(ctx, core.FindDueScheduledParams{Now: clock.Now()})
		require.Error(t, err)
	})
}

func TestScheduledMessageRepoMarkTerminal(t *testing.T) {
	repo, _, clock := setupScheduledRepo(t)
	ctx := context.Background()

	msg, err := repo.Create(ctx, testutil.ScheduledMessageRequest("ws-sched", clock.Now().Add(-time.Minute)))
	require.NoError(t, err)

	t.Run("rejects non-terminal status", func(t *testing.T) {
		_, err := repo.MarkTerminal(ctx, msg.ID, model.ScheduledPending, clock.Now())
		require.Error(t, err)
	})

	t.Run("flips pending to sent once", func(t *testing.T) {
		sentAt := clock.Now()
		ok, err := repo.MarkTerminal(ctx, msg.ID, model.ScheduledSent, sentAt)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.GetByID(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ScheduledSent, got.Status)
		require.NotNil(t, got.SentAt)
		assert.True(t, got.SentAt.Equal(sentAt))

		// second transition finds no pending row
		ok, err = repo.MarkTerminal(ctx, msg.ID, model.ScheduledFailed, clock.Now())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestScheduledMessageRepoCancel(t *testing.T) {
	repo, _, clock := setupScheduledRepo(t)
	ctx := context.Background()

	msg, err := repo.Create(ctx, testutil.ScheduledMessageRequest("ws-sched", clock.Now().Add(time.Hour)))
	require.NoError(t, err)

	ok, err := repo.Cancel(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduledCancelled, got.Status)

	// cancelling again reports false, row is kept
	ok, err = repo.Cancel(ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
