package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/config"
	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/data"
	"github.com/relaydesk/relaydesk/internal/delivery"
	"github.com/relaydesk/relaydesk/internal/domain/model"
	apperrors "github.com/relaydesk/relaydesk/internal/errors"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/transport/transporttest"
)

type stubResolver struct{}

func (stubResolver) EnsureInstalled(_ context.Context) (string, error) {
	return "/usr/bin/chromium", nil
}

type memoryWorkspaces struct {
	mu         sync.Mutex
	workspaces map[string]*model.Workspace
}

func newMemoryWorkspaces() *memoryWorkspaces {
	return &memoryWorkspaces{workspaces: make(map[string]*model.Workspace)}
}

func (m *memoryWorkspaces) put(ws *model.Workspace) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workspaces[ws.ID] = ws
}

func (m *memoryWorkspaces) GetByID(_ context.Context, id string) (*model.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[id]
	if !ok {
		return nil, apperrors.NotFoundf("workspace %s not found", id)
	}
	return ws, nil
}

func (m *memoryWorkspaces) ListIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.workspaces))
	for id := range m.workspaces {
		ids = append(ids, id)
	}
	return ids, nil
}

type memoryScheduled struct {
	mu       sync.Mutex
	messages map[string]*model.ScheduledMessage
}

func newMemoryScheduled() *memoryScheduled {
	return &memoryScheduled{messages: make(map[string]*model.ScheduledMessage)}
}

func (m *memoryScheduled) Create(_ context.Context, req *model.CreateScheduledMessageRequest) (*model.ScheduledMessage, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := &model.ScheduledMessage{
		ID:          uuid.New().String(),
		WorkspaceID: req.WorkspaceID,
		Body:        req.Body,
		MediaRef:    req.MediaRef,
		SendAt:      req.SendAt,
		Status:      model.ScheduledPending,
		CreatedAt:   time.Now(),
	}
	m.messages[msg.ID] = msg
	return msg, nil
}

func (m *memoryScheduled) GetByID(_ context.Context, id string) (*model.ScheduledMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, apperrors.NotFoundf("scheduled message %s not found", id)
	}
	return msg, nil
}

func (m *memoryScheduled) ListByWorkspace(_ context.Context, workspaceID string) ([]*model.ScheduledMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ScheduledMessage
	for _, msg := range m.messages {
		if msg.WorkspaceID == workspaceID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memoryScheduled) FindDue(_ context.Context, params core.FindDueScheduledParams) ([]*model.ScheduledMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ScheduledMessage
	for _, msg := range m.messages {
		if msg.Status == model.ScheduledPending && !msg.SendAt.After(params.Now) {
			out = append(out, msg)
		}
		if len(out) >= params.Limit {
			break
		}
	}
	return out, nil
}

func (m *memoryScheduled) MarkTerminal(_ context.Context, id string, status model.ScheduledMessageStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.Status != model.ScheduledPending {
		return false, nil
	}
	msg.Status = status
	t := at
	msg.SentAt = &t
	return true, nil
}

func (m *memoryScheduled) Cancel(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.Status != model.ScheduledPending {
		return false, nil
	}
	msg.Status = model.ScheduledCancelled
	return true, nil
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

// engineFixture wires a session manager, delivery pipeline, and in-memory
// storage for service tests.
type engineFixture struct {
	manager    *session.Manager
	pipeline   *delivery.Pipeline
	factory    *transporttest.Factory
	workspaces *memoryWorkspaces
	scheduled  *memoryScheduled
	reports    *memoryReports
	clock      *data.FixedTimeProvider
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		factory:    transporttest.NewFactory(),
		workspaces: newMemoryWorkspaces(),
		scheduled:  newMemoryScheduled(),
		reports:    &memoryReports{},
		clock:      data.NewFixedTimeProvider(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
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

	p, err := delivery.NewPipeline(delivery.PipelineOptions{
		Sessions: mgr,
		Reports:  f.reports,
		Config: config.DeliveryConfig{
			ConnectWaitBudget:   50 * time.Millisecond,
			ConnectPollInterval: 2 * time.Millisecond,
			DefaultDelayMs:      0,
		},
		Time: f.clock,
		Sleep: func(_ context.Context, _ time.Duration) {
		},
	})
	require.NoError(t, err)
	f.pipeline = p
	return f
}

// startReady brings a workspace session to the ready state.
func (f *engineFixture) startReady(t *testing.T, workspaceID string) *transporttest.Client {
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
