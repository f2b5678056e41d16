package session

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/relaydesk/relaydesk/config"
	"github.com/relaydesk/relaydesk/internal/data"
	"github.com/relaydesk/relaydesk/internal/domain/model"
	apperrors "github.com/relaydesk/relaydesk/internal/errors"
	"github.com/relaydesk/relaydesk/internal/observability/metrics"
	"github.com/relaydesk/relaydesk/internal/observability/statsd"
	"github.com/relaydesk/relaydesk/internal/transport"
)

// ExecResolver locates the automation runtime executable for session starts.
type ExecResolver interface {
	EnsureInstalled(ctx context.Context) (string, error)
}

// StatusMirror is the subset of the status mirror the manager publishes to.
type StatusMirror interface {
	Publish(ctx context.Context, snap model.RuntimeSnapshot) error
	Clear(ctx context.Context, workspaceID string) error
}

// ReadyHook is invoked on each first entry into the ready state for a
// workspace. The scheduler subsystem uses it to (re)arm recurring schedules.
type ReadyHook func(ctx context.Context, workspaceID string)

// ManagerOptions groups dependencies for Manager.
type ManagerOptions struct {
	Registry *Registry         // Required: workspace runtime registry
	Resolver ExecResolver      // Required: automation runtime resolver
	Factory  transport.Factory // Required: transport client factory
	Config   config.SessionConfig
	Mirror   StatusMirror      // Optional: external status mirror
	Logger   *slog.Logger      // Optional: structured logger
	Metrics  statsd.Sink       // Optional: metrics sink (StatsD-compatible)
	Time     data.TimeProvider // Optional: defaults to real time
	OnReady  ReadyHook         // Optional: fired on each entry into ready
}

// Manager drives the session state machine: it materializes transport
// sessions, wires lifecycle callbacks into state transitions, tears sessions
// down, and performs guarded forced recovery. All callback-path failures are
// converted into runtime state; nothing escapes the manager boundary.
type Manager struct {
	registry *Registry
	resolver ExecResolver
	factory  transport.Factory
	cfg      config.SessionConfig
	mirror   StatusMirror
	logger   *slog.Logger
	metrics  statsd.Sink
	time     data.TimeProvider
	onReady  ReadyHook
}

// NewManager constructs a new Manager.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Registry == nil {
		return nil, errors.New("Registry is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("ExecResolver is required")
	}
	if opts.Factory == nil {
		return nil, errors.New("transport Factory is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.Time
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	return &Manager{
		registry: opts.Registry,
		resolver: opts.Resolver,
		factory:  opts.Factory,
		cfg:      opts.Config,
		mirror:   opts.Mirror,
		logger:   logger.With("component", "session_manager"),
		metrics:  opts.Metrics,
		time:     tp,
		onReady:  opts.OnReady,
	}, nil
}

// SetReadyHook installs the ready hook after construction. The scheduler
// subsystem is built after the manager, so the hook arrives late.
func (m *Manager) SetReadyHook(hook ReadyHook) {
	m.onReady = hook
}

// Registry returns the runtime registry the manager operates on.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Runtime returns the runtime for a workspace, creating a stopped one on
// first access.
func (m *Manager) Runtime(workspaceID string) *Runtime {
	return m.registry.GetOrCreate(workspaceID)
}

// profileDir is the on-disk identity store for a workspace. It survives
// restarts and forced recovery, which is what keeps the workspace paired.
func (m *Manager) profileDir(workspaceID string) string {
	return filepath.Join(m.cfg.ProfileRoot, workspaceID)
}

// Start materializes a transport session for a workspace. It is idempotent:
// starting a session that is ready or already starting is a no-op. The
// connect call runs asynchronously; the session is starting as soon as Start
// returns, and subsequent transitions arrive via transport callbacks.
func (m *Manager) Start(ctx context.Context, workspaceID string) error {
	rt := m.registry.GetOrCreate(workspaceID)

	prev := rt.Status()
	if !rt.tryBeginStart(m.time.Now()) {
		m.logger.InfoContext(ctx, "start ignored, session already active",
			"workspace_id", workspaceID,
			"status", prev,
		)
		return nil
	}
	m.emitTransition(workspaceID, prev, model.StatusStarting, nil)
	m.publish(ctx, rt)

	if err := m.launch(ctx, rt); err != nil {
		return err
	}
	return nil
}

// launch resolves the runtime executable, constructs the transport client,
// and kicks off the asynchronous connect. The runtime must already be in the
// starting state.
func (m *Manager) launch(ctx context.Context, rt *Runtime) error {
	workspaceID := rt.WorkspaceID()
	profileDir := m.profileDir(workspaceID)

	if removed, err := CleanStaleLocks(profileDir); err != nil {
		m.logger.WarnContext(ctx, "stale lock cleanup failed",
			"workspace_id", workspaceID,
			"error", err,
		)
	} else if removed > 0 {
		m.logger.InfoContext(ctx, "removed stale profile locks",
			"workspace_id", workspaceID,
			"count", removed,
		)
	}

	execPath, err := m.resolver.EnsureInstalled(ctx)
	if err != nil {
		m.failSetup(ctx, rt, "runtime missing: "+err.Error(), err)
		return err
	}

	client, err := m.factory.New(ctx, transport.ClientConfig{
		WorkspaceID:    workspaceID,
		ExecutablePath: execPath,
		ProfileDir:     profileDir,
		Handlers:       m.handlers(workspaceID),
	})
	if err != nil {
		m.failSetup(ctx, rt, "client construction failed: "+err.Error(), err)
		return err
	}
	rt.attachClient(client)

	// Connect outlives the caller's request; detach its lifetime from ctx.
	connectCtx := context.WithoutCancel(ctx)
	go m.connect(connectCtx, rt, client)

	return nil
}

// connect performs the blocking connect call on the manager's own goroutine.
// Failures are classified and converted into state, never propagated.
func (m *Manager) connect(ctx context.Context, rt *Runtime, client transport.Client) {
	workspaceID := rt.WorkspaceID()

	err := client.Connect(ctx)
	if err == nil {
		return
	}

	if isProfileLockError(err) && rt.claimLockRetry() {
		m.logger.WarnContext(ctx, "connect hit a locked profile, retrying once after lock cleanup",
			"workspace_id", workspaceID,
			"error", err,
		)
		m.destroyClient(ctx, rt)
		if removed, cleanErr := CleanStaleLocks(m.profileDir(workspaceID)); cleanErr != nil {
			m.logger.WarnContext(ctx, "stale lock cleanup failed",
				"workspace_id", workspaceID,
				"error", cleanErr,
			)
		} else {
			m.logger.InfoContext(ctx, "removed stale profile locks",
				"workspace_id", workspaceID,
				"count", removed,
			)
		}
		if retryErr := m.relaunch(ctx, rt); retryErr != nil {
			m.logger.ErrorContext(ctx, "lock-retry relaunch failed",
				"workspace_id", workspaceID,
				"error", retryErr,
			)
		}
		return
	}

	m.destroyClient(ctx, rt)
	m.failSetup(ctx, rt, "connect failed: "+err.Error(), err)
}

// relaunch rebuilds and reconnects the client without re-entering Start's
// idempotence guard, used by the lock retry path.
func (m *Manager) relaunch(ctx context.Context, rt *Runtime) error {
	workspaceID := rt.WorkspaceID()

	execPath, err := m.resolver.EnsureInstalled(ctx)
	if err != nil {
		m.failSetup(ctx, rt, "runtime missing: "+err.Error(), err)
		return err
	}

	client, err := m.factory.New(ctx, transport.ClientConfig{
		WorkspaceID:    workspaceID,
		ExecutablePath: execPath,
		ProfileDir:     m.profileDir(workspaceID),
		Handlers:       m.handlers(workspaceID),
	})
	if err != nil {
		m.failSetup(ctx, rt, "client construction failed: "+err.Error(), err)
		return err
	}
	rt.attachClient(client)

	go m.connect(ctx, rt, client)
	return nil
}

// handlers wires transport lifecycle events into state transitions for one
// workspace. Callbacks arrive on the transport's goroutines; every branch is
// a synchronized runtime mutation followed by side effects.
func (m *Manager) handlers(workspaceID string) transport.Handlers {
	ctx := context.Background()
	return transport.Handlers{
		OnPairingChallenge: func(payload string) {
			m.onPairingChallenge(ctx, workspaceID, payload)
		},
		OnAuthenticated: func() {
			m.onAuthenticated(ctx, workspaceID)
		},
		OnConnectivityChange: func(state transport.ConnectivityState) {
			if state == transport.StateConnected {
				m.PromoteReady(ctx, workspaceID)
			}
		},
		OnReady: func() {
			m.PromoteReady(ctx, workspaceID)
		},
		OnDisconnected: func(reason string) {
			m.onDisconnected(ctx, workspaceID, reason)
		},
	}
}

func (m *Manager) onPairingChallenge(ctx context.Context, workspaceID, payload string) {
	rt, ok := m.registry.Get(workspaceID)
	if !ok {
		return
	}
	prev := rt.Status()
	rt.markQRReady(payload)
	m.logger.InfoContext(ctx, "pairing challenge received", "workspace_id", workspaceID)
	m.emitTransition(workspaceID, prev, model.StatusQRReady, nil)
	m.publish(ctx, rt)
}

func (m *Manager) onAuthenticated(ctx context.Context, workspaceID string) {
	rt, ok := m.registry.Get(workspaceID)
	if !ok {
		return
	}
	prev := rt.Status()
	rt.markAuthenticated(m.time.Now())
	m.logger.InfoContext(ctx, "workspace authenticated", "workspace_id", workspaceID)
	m.emitTransition(workspaceID, prev, model.StatusAuthenticated, nil)
	m.publish(ctx, rt)
	m.startProbe(rt)
}

// PromoteReady moves an authenticated session into the ready state. Entering
// ready when already ready is a no-op, so connectivity callbacks, the ready
// callback, and the probe can all race on it safely.
func (m *Manager) PromoteReady(ctx context.Context, workspaceID string) {
	rt, ok := m.registry.Get(workspaceID)
	if !ok {
		return
	}
	prev := rt.Status()
	if !rt.markReady() {
		return
	}
	rt.stopProbeTimer()
	m.logger.InfoContext(ctx, "workspace session ready", "workspace_id", workspaceID)
	m.emitTransition(workspaceID, prev, model.StatusReady, nil)
	m.publish(ctx, rt)

	if m.onReady != nil {
		m.onReady(ctx, workspaceID)
	}
}

func (m *Manager) onDisconnected(ctx context.Context, workspaceID, reason string) {
	rt, ok := m.registry.Get(workspaceID)
	if !ok {
		return
	}
	m.logger.WarnContext(ctx, "workspace session disconnected",
		"workspace_id", workspaceID,
		"reason", reason,
	)
	m.teardown(ctx, rt, model.DisconnectedStatus(reason), reason)
}

// Stop tears a workspace session down explicitly. Stopping a workspace with
// no session is a no-op.
func (m *Manager) Stop(ctx context.Context, workspaceID string) error {
	rt, ok := m.registry.Get(workspaceID)
	if !ok || rt.Status() == model.StatusStopped {
		return nil
	}
	m.logger.InfoContext(ctx, "stopping workspace session", "workspace_id", workspaceID)
	m.teardown(ctx, rt, model.StatusStopped, "")
	if m.mirror != nil {
		if err := m.mirror.Clear(ctx, workspaceID); err != nil {
			m.logger.WarnContext(ctx, "status mirror clear failed",
				"workspace_id", workspaceID,
				"error", err,
			)
		}
	}
	return nil
}

// StopAll tears down every registered workspace session. Used on shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	for _, workspaceID := range m.registry.WorkspaceIDs() {
		if err := m.Stop(ctx, workspaceID); err != nil {
			m.logger.WarnContext(ctx, "session stop failed during shutdown",
				"workspace_id", workspaceID,
				"error", err,
			)
		}
	}
}

// teardown releases everything a session owns: probe, recurring schedule,
// client handle, and all authentication flags.
func (m *Manager) teardown(ctx context.Context, rt *Runtime, status model.SessionStatus, reason string) {
	prev := rt.Status()
	rt.stopProbeTimer()
	rt.stopRecurringJob()
	m.destroyClient(ctx, rt)
	rt.markTornDown(status, reason)
	m.emitTransition(rt.WorkspaceID(), prev, status, nil)
	m.publish(ctx, rt)
}

// ForceRecovery destroys and relaunches a workspace's transport client
// without losing its persisted identity. The recovery cycle guard makes it
// single-shot per anomaly window: overlapping or repeated calls before the
// next successful authentication are no-ops.
func (m *Manager) ForceRecovery(ctx context.Context, workspaceID, reason string) bool {
	rt, ok := m.registry.Get(workspaceID)
	if !ok {
		return false
	}
	prev := rt.Status()
	if !rt.beginRecovery(reason) {
		m.logger.InfoContext(ctx, "forced recovery skipped, cycle already spent",
			"workspace_id", workspaceID,
			"reason", reason,
		)
		return false
	}
	m.logger.WarnContext(ctx, "forcing session recovery",
		"workspace_id", workspaceID,
		"reason", reason,
	)
	m.emitTransition(workspaceID, prev, model.StatusRestartingBridge, nil)

	rt.stopProbeTimer()
	m.destroyClient(ctx, rt)
	m.publish(ctx, rt)

	if err := m.launchFromRecovery(ctx, rt); err != nil {
		m.logger.ErrorContext(ctx, "recovery relaunch failed",
			"workspace_id", workspaceID,
			"error", err,
		)
	}
	rt.finishRecovery()
	return true
}

// launchFromRecovery re-enters the start path from the restarting state.
func (m *Manager) launchFromRecovery(ctx context.Context, rt *Runtime) error {
	if !rt.tryBeginStart(m.time.Now()) {
		return nil
	}
	m.publish(ctx, rt)
	return m.launch(ctx, rt)
}

// failSetup converts a setup failure into runtime state.
func (m *Manager) failSetup(ctx context.Context, rt *Runtime, msg string, cause error) {
	prev := rt.Status()
	rt.markError(msg)
	m.logger.ErrorContext(ctx, "session setup failed",
		"workspace_id", rt.WorkspaceID(),
		"error", cause,
	)
	m.emitTransition(rt.WorkspaceID(), prev, model.StatusError, cause)
	m.publish(ctx, rt)
}

// destroyClient releases the attached client best-effort. Destroy errors are
// swallowed; the handle is gone either way.
func (m *Manager) destroyClient(ctx context.Context, rt *Runtime) {
	client := rt.detachClient()
	if client == nil {
		return
	}
	if err := client.Destroy(ctx); err != nil {
		m.logger.WarnContext(ctx, "client destroy failed",
			"workspace_id", rt.WorkspaceID(),
			"error", err,
		)
	}
}

// publish mirrors the current runtime snapshot. Mirror failures are logged
// and dropped; the in-memory runtime stays authoritative.
func (m *Manager) publish(ctx context.Context, rt *Runtime) {
	if m.mirror == nil {
		return
	}
	if err := m.mirror.Publish(ctx, rt.Snapshot(m.time.Now())); err != nil {
		m.logger.WarnContext(ctx, "status mirror publish failed",
			"workspace_id", rt.WorkspaceID(),
			"error", err,
		)
	}
}

func (m *Manager) emitTransition(workspaceID string, from, to model.SessionStatus, err error) {
	metrics.EmitSessionTransition(m.metrics, metrics.SessionTransition{
		WorkspaceID: workspaceID,
		From:        string(from),
		To:          string(to),
		Err:         err,
	})
}

// isProfileLockError classifies connect failures caused by another process
// holding the workspace profile.
func isProfileLockError(err error) bool {
	if err == nil {
		return false
	}
	if apperrors.IsConflict(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"singletonlock",
		"profile is already in use",
		"process_singleton",
		"processsingleton",
		"profile lock",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
