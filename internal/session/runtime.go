// Package session owns the lifecycle of workspace transport sessions: the
// per-workspace runtime record, the registry that holds them, the state
// machine that drives transitions, and the ready probe that repairs stuck
// sessions.
package session

import (
	"sync"
	"time"

	"github.com/relaydesk/relaydesk/internal/domain/model"
	apperrors "github.com/relaydesk/relaydesk/internal/errors"
	"github.com/relaydesk/relaydesk/internal/transport"
)

// recoveryState tracks the forced-recovery cycle for one anomaly window.
// The cycle is idle -> in progress -> cooled down; it returns to idle only
// when the session next reaches authenticated or ready. Cooled down rejects
// further recoveries, which keeps recovery single-shot per anomaly.
type recoveryState int

const (
	recoveryIdle recoveryState = iota
	recoveryInProgress
	recoveryCooledDown
)

// Runtime is the in-memory session record for one workspace. It is never
// persisted; the status mirror carries serializable snapshots of it. All
// access goes through the mutex-guarded methods so transport callbacks,
// probes, and operator calls can touch it concurrently.
type Runtime struct {
	workspaceID string

	mu            sync.Mutex
	status        model.SessionStatus
	authenticated bool
	ready         bool
	qrPayload     string
	lastError     string

	startRequestedAt *time.Time
	authenticatedAt  *time.Time

	sendInProgress bool
	sendStartedAt  *time.Time

	client transport.Client

	recovery recoveryState
	// lockRetryDone marks that the one-shot stale-lock retry was spent for
	// the current start attempt.
	lockRetryDone bool

	// stopProbe cancels the running ready probe, nil when no probe runs.
	stopProbe func()
	// stopRecurring detaches the armed recurring schedule, nil when none.
	stopRecurring func()
}

func newRuntime(workspaceID string) *Runtime {
	return &Runtime{
		workspaceID: workspaceID,
		status:      model.StatusStopped,
	}
}

// WorkspaceID returns the owning workspace id.
func (r *Runtime) WorkspaceID() string { return r.workspaceID }

// Status returns the current lifecycle status.
func (r *Runtime) Status() model.SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Ready reports whether outbound sends are permitted.
func (r *Runtime) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Authenticated reports whether the transport accepted the identity.
func (r *Runtime) Authenticated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authenticated
}

// Client returns the active transport client, nil when none is attached.
func (r *Runtime) Client() transport.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client
}

// LastError returns the last recorded failure message.
func (r *Runtime) LastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastError
}

// AuthenticatedAt returns when the current authentication window opened.
func (r *Runtime) AuthenticatedAt() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authenticatedAt
}

// Snapshot produces a point-in-time serializable view of the runtime.
func (r *Runtime) Snapshot(now time.Time) model.RuntimeSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := model.RuntimeSnapshot{
		WorkspaceID:      r.workspaceID,
		Status:           r.status,
		Authenticated:    r.authenticated,
		Ready:            r.ready,
		QRPayload:        r.qrPayload,
		LastError:        r.lastError,
		SendInFlight:     r.sendInProgress,
		StartRequestedAt: r.startRequestedAt,
		AuthenticatedAt:  r.authenticatedAt,
	}
	if !r.ready && r.startRequestedAt != nil {
		elapsed := now.Sub(*r.startRequestedAt)
		if elapsed > 0 {
			snap.ConnectingForSeconds = int(elapsed.Seconds())
		}
	}
	return snap
}

// BeginSend claims the per-workspace single-flight send slot. It returns a
// busy error when a send is already in flight.
func (r *Runtime) BeginSend(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendInProgress {
		return apperrors.Busy("a send is already in progress for this workspace")
	}
	r.sendInProgress = true
	t := now
	r.sendStartedAt = &t
	return nil
}

// EndSend releases the single-flight send slot. Callers defer it so the slot
// is released no matter how the send terminates.
func (r *Runtime) EndSend() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendInProgress = false
	r.sendStartedAt = nil
}

// SendInFlight reports whether a bulk send currently holds the slot.
func (r *Runtime) SendInFlight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sendInProgress
}

// sendStarted returns the send-slot claim time, nil when the slot is free.
func (r *Runtime) sendStarted() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sendStartedAt
}

// tryBeginStart claims the runtime for a new start attempt. It refuses when
// the session is already ready or a start is in flight, making start
// idempotent for callers that retry.
func (r *Runtime) tryBeginStart(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready || r.status == model.StatusStarting {
		return false
	}
	r.status = model.StatusStarting
	t := now
	r.startRequestedAt = &t
	r.qrPayload = ""
	return true
}

// attachClient hands exclusive ownership of a transport client to the
// runtime. Any previously attached client must have been released first.
func (r *Runtime) attachClient(c transport.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.client = c
}

// detachClient releases and returns the attached client, nil when none.
func (r *Runtime) detachClient() transport.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.client
	r.client = nil
	return c
}

// markQRReady records a pairing challenge awaiting the operator.
func (r *Runtime) markQRReady(payload string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = model.StatusQRReady
	r.qrPayload = payload
	r.ready = false
}

// markAuthenticated records the transport accepting the workspace identity.
// It opens a fresh anomaly window: the recovery cycle and the one-shot lock
// retry both reset.
func (r *Runtime) markAuthenticated(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = model.StatusAuthenticated
	r.authenticated = true
	t := now
	r.authenticatedAt = &t
	r.qrPayload = ""
	r.recovery = recoveryIdle
	r.lockRetryDone = false
}

// markReady promotes the session to ready. It returns false when the session
// was already ready (entering ready twice is a no-op) and refuses promotion
// before authentication so ready never holds without authenticated.
func (r *Runtime) markReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready || !r.authenticated {
		return false
	}
	r.ready = true
	r.status = model.StatusReady
	r.lastError = ""
	r.recovery = recoveryIdle
	return true
}

// markError records a setup failure. Flags reset so the next start begins
// from a clean slate.
func (r *Runtime) markError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = model.StatusError
	r.lastError = msg
	r.authenticated = false
	r.ready = false
	r.qrPayload = ""
}

// markTornDown resets all session flags after a teardown, recording the
// given status (stopped for explicit stops, disconnected:<reason> otherwise).
func (r *Runtime) markTornDown(status model.SessionStatus, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.authenticated = false
	r.ready = false
	r.qrPayload = ""
	r.authenticatedAt = nil
	if reason != "" {
		r.lastError = reason
	}
	r.recovery = recoveryIdle
	r.lockRetryDone = false
}

// beginRecovery claims the recovery cycle for one anomaly. It returns false
// when a recovery is in progress or was already spent for this window.
func (r *Runtime) beginRecovery(reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recovery != recoveryIdle {
		return false
	}
	r.recovery = recoveryInProgress
	r.status = model.StatusRestartingBridge
	r.lastError = reason
	r.authenticated = false
	r.ready = false
	return true
}

// finishRecovery moves the cycle to cooled down. Only a subsequent
// authenticated or ready transition returns it to idle.
func (r *Runtime) finishRecovery() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recovery == recoveryInProgress {
		r.recovery = recoveryCooledDown
	}
}

// recoverySpent reports whether a recovery already ran for the current
// authentication window.
func (r *Runtime) recoverySpent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recovery != recoveryIdle
}

// claimLockRetry spends the one-shot stale-lock retry. It returns false when
// the retry was already used for this start attempt.
func (r *Runtime) claimLockRetry() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lockRetryDone {
		return false
	}
	r.lockRetryDone = true
	return true
}

// setProbeStop stores the cancel handle of the running ready probe, stopping
// any previous probe first.
func (r *Runtime) setProbeStop(stop func()) {
	r.mu.Lock()
	prev := r.stopProbe
	r.stopProbe = stop
	r.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// stopProbeTimer stops the ready probe when one runs.
func (r *Runtime) stopProbeTimer() {
	r.mu.Lock()
	stop := r.stopProbe
	r.stopProbe = nil
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// SetRecurringStop stores the detach handle of the armed recurring schedule,
// detaching any previous one first. The scheduler subsystem registers the
// handle so teardown can stop recurring sends with the session.
func (r *Runtime) SetRecurringStop(stop func()) {
	r.mu.Lock()
	prev := r.stopRecurring
	r.stopRecurring = stop
	r.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// stopRecurringJob detaches the recurring schedule when one is armed.
func (r *Runtime) stopRecurringJob() {
	r.mu.Lock()
	stop := r.stopRecurring
	r.stopRecurring = nil
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
}
