package session

import (
	"context"
	"time"

	"github.com/relaydesk/relaydesk/internal/transport"
)

// startProbe launches the per-session ready probe: a repeating timer that
// polls transport connectivity for an authenticated-but-not-ready session.
// The probe is the only mechanism that converts a silently stuck session
// into forward progress when lifecycle callbacks are missed or delayed.
func (m *Manager) startProbe(rt *Runtime) {
	ctx, cancel := context.WithCancel(context.Background())
	rt.setProbeStop(cancel)

	go m.probeLoop(ctx, rt)
}

// probeLoop ticks at the configured interval until the session is ready, the
// client handle is gone, or the probe is cancelled. Each tick polls the
// transport's connectivity state; poll failures are swallowed and retried on
// the next tick.
func (m *Manager) probeLoop(ctx context.Context, rt *Runtime) {
	workspaceID := rt.WorkspaceID()
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if rt.Ready() {
			return
		}
		client := rt.Client()
		if client == nil {
			return
		}

		state, err := client.ConnectivityState(ctx)
		if err != nil {
			m.logger.DebugContext(ctx, "connectivity poll failed",
				"workspace_id", workspaceID,
				"error", err,
			)
		} else if state == transport.StateConnected {
			m.PromoteReady(ctx, workspaceID)
			return
		}

		if m.probeDetectsStuck(rt) {
			m.logger.WarnContext(ctx, "session stuck authenticated without connectivity",
				"workspace_id", workspaceID,
				"threshold", m.cfg.StuckThreshold,
			)
			m.ForceRecovery(ctx, workspaceID, "stuck authenticated without connectivity")
			return
		}
	}
}

// probeDetectsStuck reports whether the session has sat authenticated but
// not ready past the stuck threshold with no recovery spent for this
// authentication window.
func (m *Manager) probeDetectsStuck(rt *Runtime) bool {
	if !rt.Authenticated() || rt.Ready() || rt.recoverySpent() {
		return false
	}
	authedAt := rt.AuthenticatedAt()
	if authedAt == nil {
		return false
	}
	return m.time.Now().Sub(*authedAt) > m.cfg.StuckThreshold
}
