package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/domain/model"
)

func newRecurring(t *testing.T, f *engineFixture) *RecurringService {
	t.Helper()
	s, err := NewRecurringService(RecurringServiceOptions{
		Workspaces: f.workspaces,
		Pipeline:   f.pipeline,
		Sessions:   f.manager,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		<-s.Stop().Done()
	})
	return s
}

func TestRecurringArm(t *testing.T) {
	ctx := context.Background()

	t.Run("arms a valid expression", func(t *testing.T) {
		f := newEngineFixture(t)
		f.workspaces.put(&model.Workspace{
			ID: "ws-1",
			Config: model.WorkspaceConfig{
				Recipients:  "a",
				CronExpr:    "0 9 * * *",
				CronMessage: "daily update",
			},
		})
		rec := newRecurring(t, f)

		rec.Arm(ctx, "ws-1")
		assert.True(t, rec.Armed("ws-1"))
	})

	t.Run("an invalid expression disables the schedule without error", func(t *testing.T) {
		f := newEngineFixture(t)
		f.workspaces.put(&model.Workspace{
			ID: "ws-1",
			Config: model.WorkspaceConfig{
				Recipients:  "a",
				CronExpr:    "not a cron expression",
				CronMessage: "daily update",
			},
		})
		rec := newRecurring(t, f)

		rec.Arm(ctx, "ws-1")
		assert.False(t, rec.Armed("ws-1"))
	})

	t.Run("an empty expression disarms", func(t *testing.T) {
		f := newEngineFixture(t)
		ws := &model.Workspace{
			ID: "ws-1",
			Config: model.WorkspaceConfig{
				Recipients:  "a",
				CronExpr:    "0 9 * * *",
				CronMessage: "daily update",
			},
		}
		f.workspaces.put(ws)
		rec := newRecurring(t, f)

		rec.Arm(ctx, "ws-1")
		require.True(t, rec.Armed("ws-1"))

		ws.Config.CronExpr = ""
		rec.Arm(ctx, "ws-1")
		assert.False(t, rec.Armed("ws-1"))
	})

	t.Run("rearming replaces the previous schedule", func(t *testing.T) {
		f := newEngineFixture(t)
		f.workspaces.put(&model.Workspace{
			ID: "ws-1",
			Config: model.WorkspaceConfig{
				Recipients:  "a",
				CronExpr:    "0 9 * * *",
				CronMessage: "daily update",
			},
		})
		rec := newRecurring(t, f)

		rec.Arm(ctx, "ws-1")
		rec.Arm(ctx, "ws-1")
		assert.True(t, rec.Armed("ws-1"))
	})

	t.Run("session teardown detaches the schedule", func(t *testing.T) {
		f := newEngineFixture(t)
		f.workspaces.put(&model.Workspace{
			ID: "ws-1",
			Config: model.WorkspaceConfig{
				Recipients:  "a",
				CronExpr:    "0 9 * * *",
				CronMessage: "daily update",
			},
		})
		client := f.startReady(t, "ws-1")
		rec := newRecurring(t, f)

		rec.Arm(ctx, "ws-1")
		require.True(t, rec.Armed("ws-1"))

		client.FireDisconnected("logged out")
		assert.False(t, rec.Armed("ws-1"))
	})

	t.Run("unknown workspace is not armed", func(t *testing.T) {
		f := newEngineFixture(t)
		rec := newRecurring(t, f)

		rec.Arm(ctx, "missing")
		assert.False(t, rec.Armed("missing"))
	})
}

func TestRecurringReadyHook(t *testing.T) {
	t.Run("entering ready arms the schedule", func(t *testing.T) {
		f := newEngineFixture(t)
		f.workspaces.put(&model.Workspace{
			ID: "ws-1",
			Config: model.WorkspaceConfig{
				Recipients:  "a",
				CronExpr:    "*/5 * * * *",
				CronMessage: "ping",
			},
		})
		rec := newRecurring(t, f)
		f.manager.SetReadyHook(rec.ReadyHook())

		f.startReady(t, "ws-1")
		assert.True(t, rec.Armed("ws-1"))
	})
}

func TestRecurringFire(t *testing.T) {
	t.Run("fires the configured message through the pipeline", func(t *testing.T) {
		f := newEngineFixture(t)
		f.workspaces.put(&model.Workspace{
			ID: "ws-1",
			Config: model.WorkspaceConfig{
				Recipients:  "a,b",
				CronMessage: "scheduled ping",
			},
		})
		client := f.startReady(t, "ws-1")
		rec := newRecurring(t, f)

		rec.fire("ws-1")

		require.Len(t, client.Sent(), 2)
		entries := f.reports.all()
		require.Len(t, entries, 2)
		for _, e := range entries {
			assert.Equal(t, model.ReportKindScheduled, e.Kind)
			assert.Equal(t, "recurring_schedule", e.Source)
			assert.Equal(t, "scheduled ping", e.Message)
		}
	})

	t.Run("a fire with no configured message is a no-op", func(t *testing.T) {
		f := newEngineFixture(t)
		f.workspaces.put(&model.Workspace{
			ID:     "ws-1",
			Config: model.WorkspaceConfig{Recipients: "a"},
		})
		client := f.startReady(t, "ws-1")
		rec := newRecurring(t, f)

		rec.fire("ws-1")
		assert.Empty(t, client.Sent())
	})
}
