package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/config"
	"github.com/relaydesk/relaydesk/internal/data"
	"github.com/relaydesk/relaydesk/internal/domain/model"
	apperrors "github.com/relaydesk/relaydesk/internal/errors"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/transport"
	"github.com/relaydesk/relaydesk/internal/transport/transporttest"
)

type stubResolver struct{}

func (stubResolver) EnsureInstalled(_ context.Context) (string, error) {
	return "/usr/bin/chromium", nil
}

type memoryReports struct {
	mu      sync.Mutex
	entries []*model.DeliveryReport
}

func (m *memoryReports) Append(_ context.Context, entry *model.DeliveryReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryReports) ListByWorkspace(_ context.Context, workspaceID string, _ int) ([]*model.DeliveryReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.DeliveryReport
	for _, e := range m.entries {
		if e.WorkspaceID == workspaceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryReports) all() []*model.DeliveryReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.DeliveryReport, len(m.entries))
	copy(out, m.entries)
	return out
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

type pipelineFixture struct {
	pipeline *Pipeline
	manager  *session.Manager
	factory  *transporttest.Factory
	reports  *memoryReports
	sleeps   *sleepRecorder
	clock    *data.FixedTimeProvider
}

func newPipelineFixture(t *testing.T, cfg config.DeliveryConfig) *pipelineFixture {
	t.Helper()

	if cfg.ConnectWaitBudget == 0 {
		cfg.ConnectWaitBudget = 100 * time.Millisecond
	}
	if cfg.ConnectPollInterval == 0 {
		cfg.ConnectPollInterval = 2 * time.Millisecond
	}
	if cfg.DefaultDelayMs == 0 {
		cfg.DefaultDelayMs = 2000
	}

	f := &pipelineFixture{
		factory: transporttest.NewFactory(),
		reports: &memoryReports{},
		sleeps:  &sleepRecorder{},
		clock:   data.NewFixedTimeProvider(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}

	mgr, err := session.NewManager(session.ManagerOptions{
		Registry: session.NewRegistry(),
		Resolver: stubResolver{},
		Factory:  f.factory,
		Config: config.SessionConfig{
			ProfileRoot:    t.TempDir(),
			ProbeInterval:  time.Hour,
			StuckThreshold: time.Hour,
		},
		Time: f.clock,
	})
	require.NoError(t, err)
	f.manager = mgr

	p, err := NewPipeline(PipelineOptions{
		Sessions: mgr,
		Reports:  f.reports,
		Config:   cfg,
		Time:     f.clock,
		Sleep:    f.sleeps.sleep,
	})
	require.NoError(t, err)
	f.pipeline = p
	return f
}

// startReady brings a workspace session to the ready state.
func (f *pipelineFixture) startReady(t *testing.T, workspaceID string) *transporttest.Client {
	t.Helper()
	require.NoError(t, f.manager.Start(context.Background(), workspaceID))
	require.Eventually(t, func() bool {
		c := f.factory.Last()
		return c != nil && c.ConnectCalls() > 0
	}, time.Second, time.Millisecond)
	client := f.factory.Last()
	client.FireAuthenticated()
	client.FireReady()
	return client
}

func testWorkspace(cfg model.WorkspaceConfig) *model.Workspace {
	return &model.Workspace{
		ID:     "ws-1",
		Name:   "Test Workspace",
		Config: cfg,
	}
}

func TestSendBulk(t *testing.T) {
	ctx := context.Background()

	t.Run("instant single sends in input order", func(t *testing.T) {
		f := newPipelineFixture(t, config.DeliveryConfig{})
		client := f.startReady(t, "ws-1")

		ws := testWorkspace(model.WorkspaceConfig{
			Recipients:   "1555000111,1555000222",
			Pacing:       model.PacingInstant,
			TemplateMode: model.TemplateSingle,
		})

		results, err := f.pipeline.SendBulk(ctx, ws, SendRequest{Message: "Hi", Source: "manual"})
		require.NoError(t, err)

		require.Len(t, results, 2)
		assert.Equal(t, "1555000111", results[0].Recipient)
		assert.Equal(t, "1555000222", results[1].Recipient)
		for _, r := range results {
			assert.True(t, r.Success)
			assert.Equal(t, "Hi", r.Message)
		}

		sent := client.Sent()
		require.Len(t, sent, 2)
		assert.Equal(t, "1555000111", sent[0].Recipient)
		assert.Equal(t, "1555000222", sent[1].Recipient)

		entries := f.reports.all()
		require.Len(t, entries, 2)
		for _, e := range entries {
			assert.Equal(t, model.ReportKindOutgoing, e.Kind)
			assert.Equal(t, "Hi", e.Message)
			assert.True(t, e.Success)
		}

		assert.Empty(t, f.sleeps.recorded())
	})

	t.Run("staggered pacing sleeps between recipients only", func(t *testing.T) {
		f := newPipelineFixture(t, config.DeliveryConfig{})
		f.startReady(t, "ws-1")

		ws := testWorkspace(model.WorkspaceConfig{
			Recipients: "a,b,c",
			Pacing:     model.PacingStaggered,
			MaxDelayMs: 400,
		})

		results, err := f.pipeline.SendBulk(ctx, ws, SendRequest{Message: "Hi"})
		require.NoError(t, err)
		require.Len(t, results, 3)

		delays := f.sleeps.recorded()
		require.Len(t, delays, 2)
		for _, d := range delays {
			assert.Equal(t, 400*time.Millisecond, d)
		}
	})

	t.Run("random pacing honors the delay window", func(t *testing.T) {
		f := newPipelineFixture(t, config.DeliveryConfig{})
		f.startReady(t, "ws-1")

		ws := testWorkspace(model.WorkspaceConfig{
			Recipients: "a,b,c,d,e",
			Pacing:     model.PacingRandom,
			MinDelayMs: 50,
			MaxDelayMs: 150,
		})

		_, err := f.pipeline.SendBulk(ctx, ws, SendRequest{Message: "Hi"})
		require.NoError(t, err)

		delays := f.sleeps.recorded()
		require.Len(t, delays, 4)
		for _, d := range delays {
			assert.GreaterOrEqual(t, d, 50*time.Millisecond)
			assert.LessOrEqual(t, d, 150*time.Millisecond)
		}
	})

	t.Run("rotate templates cycle by recipient index", func(t *testing.T) {
		f := newPipelineFixture(t, config.DeliveryConfig{})
		client := f.startReady(t, "ws-1")

		ws := testWorkspace(model.WorkspaceConfig{
			Recipients:   "a,b,c,d",
			TemplateMode: model.TemplateRotate,
			Templates:    []string{"one", "two"},
		})

		_, err := f.pipeline.SendBulk(ctx, ws, SendRequest{Message: "base"})
		require.NoError(t, err)

		sent := client.Sent()
		require.Len(t, sent, 4)
		assert.Equal(t, "one", sent[0].Body)
		assert.Equal(t, "two", sent[1].Body)
		assert.Equal(t, "one", sent[2].Body)
		assert.Equal(t, "two", sent[3].Body)
	})

	t.Run("per-recipient failures do not abort the batch", func(t *testing.T) {
		f := newPipelineFixture(t, config.DeliveryConfig{})
		client := f.startReady(t, "ws-1")
		client.SendErrFor = map[string]error{"b": errors.New("recipient rejected")}

		ws := testWorkspace(model.WorkspaceConfig{Recipients: "a,b,c"})

		results, err := f.pipeline.SendBulk(ctx, ws, SendRequest{Message: "Hi"})
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.True(t, results[0].Success)
		assert.False(t, results[1].Success)
		assert.Contains(t, results[1].Error, "recipient rejected")
		assert.True(t, results[2].Success)

		entries := f.reports.all()
		require.Len(t, entries, 3)
		assert.False(t, entries[1].Success)
	})

	t.Run("explicit recipients override the workspace list", func(t *testing.T) {
		f := newPipelineFixture(t, config.DeliveryConfig{})
		client := f.startReady(t, "ws-1")

		ws := testWorkspace(model.WorkspaceConfig{Recipients: "x,y,z"})

		results, err := f.pipeline.SendBulk(ctx, ws, SendRequest{
			Recipients: []string{"only-this-one"},
			Message:    "Hi",
		})
		require.NoError(t, err)
		require.Len(t, results, 1)
		require.Len(t, client.Sent(), 1)
		assert.Equal(t, "only-this-one", client.Sent()[0].Recipient)
	})
}

func TestSendBulkGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects when a send is already in flight", func(t *testing.T) {
		f := newPipelineFixture(t, config.DeliveryConfig{})
		client := f.startReady(t, "ws-1")

		rt := f.manager.Runtime("ws-1")
		require.NoError(t, rt.BeginSend(f.clock.Now()))
		defer rt.EndSend()

		ws := testWorkspace(model.WorkspaceConfig{Recipients: "a,b"})
		_, err := f.pipeline.SendBulk(ctx, ws, SendRequest{Message: "Hi"})
		require.Error(t, err)
		assert.True(t, apperrors.IsBusy(err))
		assert.Empty(t, client.Sent())
		assert.Empty(t, f.reports.all())
	})

	t.Run("rejects when the session is not connected", func(t *testing.T) {
		f := newPipelineFixture(t, config.DeliveryConfig{})

		ws := testWorkspace(model.WorkspaceConfig{Recipients: "a"})
		_, err := f.pipeline.SendBulk(ctx, ws, SendRequest{Message: "Hi"})
		require.Error(t, err)
		assert.True(t, apperrors.IsUnavailable(err))
		assert.Empty(t, f.reports.all())
	})

	t.Run("rejects a workspace with no recipients", func(t *testing.T) {
		f := newPipelineFixture(t, config.DeliveryConfig{})
		f.startReady(t, "ws-1")

		ws := testWorkspace(model.WorkspaceConfig{})
		_, err := f.pipeline.SendBulk(ctx, ws, SendRequest{Message: "Hi"})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("releases the single-flight slot on success", func(t *testing.T) {
		f := newPipelineFixture(t, config.DeliveryConfig{})
		f.startReady(t, "ws-1")

		ws := testWorkspace(model.WorkspaceConfig{Recipients: "a,b"})
		_, err := f.pipeline.SendBulk(ctx, ws, SendRequest{Message: "Hi"})
		require.NoError(t, err)

		rt := f.manager.Runtime("ws-1")
		assert.False(t, rt.SendInFlight())
	})

	t.Run("releases the single-flight slot on setup failure", func(t *testing.T) {
		f := newPipelineFixture(t, config.DeliveryConfig{})

		ws := testWorkspace(model.WorkspaceConfig{Recipients: "a"})
		_, err := f.pipeline.SendBulk(ctx, ws, SendRequest{Message: "Hi"})
		require.Error(t, err)

		rt := f.manager.Runtime("ws-1")
		assert.False(t, rt.SendInFlight())
	})
}

func TestSendBulkConnectWait(t *testing.T) {
	ctx := context.Background()

	// realFixture uses the real context sleep so wait loops actually pace.
	realFixture := func(t *testing.T, cfg config.DeliveryConfig) *pipelineFixture {
		f := newPipelineFixture(t, cfg)
		p, err := NewPipeline(PipelineOptions{
			Sessions: f.manager,
			Reports:  f.reports,
			Config:   f.pipeline.cfg,
			Time:     f.clock,
		})
		require.NoError(t, err)
		f.pipeline = p
		return f
	}

	t.Run("waits for connectivity confirmation before sending", func(t *testing.T) {
		f := realFixture(t, config.DeliveryConfig{
			ConnectWaitBudget:   500 * time.Millisecond,
			ConnectPollInterval: 2 * time.Millisecond,
		})

		require.NoError(t, f.manager.Start(ctx, "ws-1"))
		require.Eventually(t, func() bool {
			c := f.factory.Last()
			return c != nil && c.ConnectCalls() > 0
		}, time.Second, time.Millisecond)
		client := f.factory.Last()
		client.FireAuthenticated()
		client.SetState(transport.StateConnected)

		ws := testWorkspace(model.WorkspaceConfig{Recipients: "a"})
		results, err := f.pipeline.SendBulk(ctx, ws, SendRequest{Message: "Hi"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.True(t, results[0].Success)
		assert.True(t, f.manager.Runtime("ws-1").Ready())
	})

	t.Run("gives up with a timeout after bounded recoveries", func(t *testing.T) {
		f := realFixture(t, config.DeliveryConfig{
			ConnectWaitBudget:    60 * time.Millisecond,
			ConnectPollInterval:  2 * time.Millisecond,
			MaxRecoveriesPerWait: 1,
		})

		require.NoError(t, f.manager.Start(ctx, "ws-1"))
		require.Eventually(t, func() bool {
			c := f.factory.Last()
			return c != nil && c.ConnectCalls() > 0
		}, time.Second, time.Millisecond)
		client := f.factory.Last()
		client.SetState(transport.StateConnecting)
		client.FireAuthenticated()

		ws := testWorkspace(model.WorkspaceConfig{Recipients: "a"})
		_, err := f.pipeline.SendBulk(ctx, ws, SendRequest{Message: "Hi"})
		require.Error(t, err)
		assert.True(t, apperrors.IsTimeout(err))

		// One forced recovery constructed a second client.
		assert.Equal(t, 2, f.factory.Count())
		assert.False(t, f.manager.Runtime("ws-1").SendInFlight())
	})
}
