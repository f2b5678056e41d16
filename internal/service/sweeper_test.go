package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/config"
	"github.com/relaydesk/relaydesk/internal/domain/model"
)

func newSweeper(t *testing.T, f *engineFixture) *SweeperService {
	t.Helper()
	s, err := NewSweeperService(SweeperServiceOptions{
		Scheduled:  f.scheduled,
		Workspaces: f.workspaces,
		Pipeline:   f.pipeline,
		Config:     config.SweeperConfig{Interval: time.Second, BatchSize: 50},
		Time:       f.clock,
	})
	require.NoError(t, err)
	return s
}

func pendingMessage(t *testing.T, f *engineFixture, workspaceID, body string, sendAt time.Time) *model.ScheduledMessage {
	t.Helper()
	msg, err := f.scheduled.Create(context.Background(), &model.CreateScheduledMessageRequest{
		WorkspaceID: workspaceID,
		Body:        body,
		SendAt:      sendAt,
	})
	require.NoError(t, err)
	return msg
}

func TestSweeperTick(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers a due message to the full recipient list", func(t *testing.T) {
		f := newEngineFixture(t)
		f.workspaces.put(&model.Workspace{
			ID:     "ws-1",
			Config: model.WorkspaceConfig{Recipients: "1555000111,1555000222"},
		})
		client := f.startReady(t, "ws-1")

		msg := pendingMessage(t, f, "ws-1", "reminder", f.clock.Now().Add(-time.Minute))

		sweeper := newSweeper(t, f)
		processed, err := sweeper.Tick(ctx, f.clock.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, processed)

		stored, err := f.scheduled.GetByID(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ScheduledSent, stored.Status)
		require.NotNil(t, stored.SentAt)

		require.Len(t, client.Sent(), 2)
		entries := f.reports.all()
		require.Len(t, entries, 2)
		for _, e := range entries {
			assert.Equal(t, model.ReportKindScheduled, e.Kind)
			assert.Equal(t, "one_off_schedule", e.Source)
			assert.Equal(t, "reminder", e.Message)
		}
	})

	t.Run("leaves future messages pending", func(t *testing.T) {
		f := newEngineFixture(t)
		f.workspaces.put(&model.Workspace{
			ID:     "ws-1",
			Config: model.WorkspaceConfig{Recipients: "a"},
		})
		f.startReady(t, "ws-1")

		msg := pendingMessage(t, f, "ws-1", "later", f.clock.Now().Add(time.Hour))

		sweeper := newSweeper(t, f)
		processed, err := sweeper.Tick(ctx, f.clock.Now())
		require.NoError(t, err)
		assert.Zero(t, processed)

		stored, err := f.scheduled.GetByID(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ScheduledPending, stored.Status)
	})

	t.Run("marks failed when the session cannot send", func(t *testing.T) {
		f := newEngineFixture(t)
		f.workspaces.put(&model.Workspace{
			ID:     "ws-1",
			Config: model.WorkspaceConfig{Recipients: "a"},
		})
		// Session never started: the pipeline rejects the send.

		msg := pendingMessage(t, f, "ws-1", "doomed", f.clock.Now().Add(-time.Minute))

		sweeper := newSweeper(t, f)
		processed, err := sweeper.Tick(ctx, f.clock.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, processed)

		stored, err := f.scheduled.GetByID(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ScheduledFailed, stored.Status)
		require.NotNil(t, stored.SentAt)
	})

	t.Run("marks failed when every recipient fails", func(t *testing.T) {
		f := newEngineFixture(t)
		f.workspaces.put(&model.Workspace{
			ID:     "ws-1",
			Config: model.WorkspaceConfig{Recipients: "a,b"},
		})
		client := f.startReady(t, "ws-1")
		client.SendErr = errors.New("transport refused")

		msg := pendingMessage(t, f, "ws-1", "doomed", f.clock.Now().Add(-time.Minute))

		sweeper := newSweeper(t, f)
		processed, err := sweeper.Tick(ctx, f.clock.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, processed)

		stored, err := f.scheduled.GetByID(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ScheduledFailed, stored.Status)
	})

	t.Run("a terminal message is never processed twice", func(t *testing.T) {
		f := newEngineFixture(t)
		f.workspaces.put(&model.Workspace{
			ID:     "ws-1",
			Config: model.WorkspaceConfig{Recipients: "a"},
		})
		client := f.startReady(t, "ws-1")

		pendingMessage(t, f, "ws-1", "once", f.clock.Now().Add(-time.Minute))

		sweeper := newSweeper(t, f)
		processed, err := sweeper.Tick(ctx, f.clock.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, processed)

		processed, err = sweeper.Tick(ctx, f.clock.Now())
		require.NoError(t, err)
		assert.Zero(t, processed)
		assert.Len(t, client.Sent(), 1)
	})

	t.Run("cancelled messages are skipped", func(t *testing.T) {
		f := newEngineFixture(t)
		f.workspaces.put(&model.Workspace{
			ID:     "ws-1",
			Config: model.WorkspaceConfig{Recipients: "a"},
		})
		client := f.startReady(t, "ws-1")

		msg := pendingMessage(t, f, "ws-1", "cancelled", f.clock.Now().Add(-time.Minute))
		cancelled, err := f.scheduled.Cancel(ctx, msg.ID)
		require.NoError(t, err)
		require.True(t, cancelled)

		sweeper := newSweeper(t, f)
		processed, err := sweeper.Tick(ctx, f.clock.Now())
		require.NoError(t, err)
		assert.Zero(t, processed)
		assert.Empty(t, client.Sent())
	})
}

func TestSweeperScheduledCRUD(t *testing.T) {
	ctx := context.Background()

	t.Run("create requires an existing workspace", func(t *testing.T) {
		f := newEngineFixture(t)
		sweeper := newSweeper(t, f)

		_, err := sweeper.CreateScheduled(ctx, &model.CreateScheduledMessageRequest{
			WorkspaceID: "missing",
			Body:        "hello",
			SendAt:      f.clock.Now().Add(time.Hour),
		})
		require.Error(t, err)
	})

	t.Run("cancel is rejected for terminal messages", func(t *testing.T) {
		f := newEngineFixture(t)
		f.workspaces.put(&model.Workspace{
			ID:     "ws-1",
			Config: model.WorkspaceConfig{Recipients: "a"},
		})
		f.startReady(t, "ws-1")
		sweeper := newSweeper(t, f)

		msg := pendingMessage(t, f, "ws-1", "due", f.clock.Now().Add(-time.Minute))
		_, err := sweeper.Tick(ctx, f.clock.Now())
		require.NoError(t, err)

		cancelled, err := sweeper.CancelScheduled(ctx, msg.ID)
		require.NoError(t, err)
		assert.False(t, cancelled)
	})
}
