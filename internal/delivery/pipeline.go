// Package delivery implements the outbound delivery pipeline: bulk and
// templated sends with per-workspace single-flight, pacing between
// recipients, per-recipient error isolation, and structured result reporting.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/relaydesk/relaydesk/config"
	"github.com/relaydesk/relaydesk/internal/core"
	"github.com/relaydesk/relaydesk/internal/data"
	"github.com/relaydesk/relaydesk/internal/domain/model"
	apperrors "github.com/relaydesk/relaydesk/internal/errors"
	"github.com/relaydesk/relaydesk/internal/observability/metrics"
	"github.com/relaydesk/relaydesk/internal/observability/statsd"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/transport"
)

// SendRequest describes one bulk send. Callers leave Recipients empty to
// broadcast to the workspace's configured recipient list.
type SendRequest struct {
	Recipients []string
	Message    string
	Kind       model.ReportKind
	Source     string
	Overrides  model.SendOverrides
}

// sleepFunc pauses between recipients; injectable for tests.
type sleepFunc func(ctx context.Context, d time.Duration)

func ctxSleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// PipelineOptions groups dependencies for Pipeline.
type PipelineOptions struct {
	Sessions *session.Manager      // Required: session manager
	Reports  core.ReportRepository // Required: delivery report sink
	Config   config.DeliveryConfig
	Logger   *slog.Logger      // Optional: structured logger
	Metrics  statsd.Sink       // Optional: metrics sink (StatsD-compatible)
	Time     data.TimeProvider // Optional: defaults to real time
	Sleep    sleepFunc         // Optional: defaults to a context-aware sleep
}

// Pipeline performs paced outbound sends through a workspace's transport
// session.
type Pipeline struct {
	sessions *session.Manager
	reports  core.ReportRepository
	cfg      config.DeliveryConfig
	logger   *slog.Logger
	metrics  statsd.Sink
	time     data.TimeProvider
	sleep    sleepFunc
}

// NewPipeline constructs a new Pipeline.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Sessions == nil {
		return nil, errors.New("session Manager is required")
	}
	if opts.Reports == nil {
		return nil, errors.New("ReportRepository is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.Time
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = ctxSleep
	}

	return &Pipeline{
		sessions: opts.Sessions,
		reports:  opts.Reports,
		cfg:      opts.Config,
		logger:   logger.With("component", "delivery_pipeline"),
		metrics:  opts.Metrics,
		time:     tp,
		sleep:    sleep,
	}, nil
}

// SendBulk delivers a message to each recipient in strict list order,
// applying the resolved pacing policy between consecutive recipients (never
// after the last). Per-recipient failures are isolated: each is recorded and
// the loop continues. Every attempt appends exactly one delivery report.
//
// It rejects immediately, with no partial work, when another send holds the
// workspace's single-flight slot or when the session is not send-capable.
// The slot is released on every exit path.
func (p *Pipeline) SendBulk(ctx context.Context, ws *model.Workspace, req SendRequest) ([]model.RecipientResult, error) {
	if ws == nil {
		return nil, apperrors.Validation("workspace is required")
	}
	if req.Kind == "" {
		req.Kind = model.ReportKindOutgoing
	}

	recipients := req.Recipients
	if len(recipients) == 0 {
		recipients = ws.Config.RecipientList()
	}
	if len(recipients) == 0 {
		return nil, apperrors.Validation("workspace has no recipients configured")
	}

	rt := p.sessions.Runtime(ws.ID)
	if err := rt.BeginSend(p.time.Now()); err != nil {
		return nil, err
	}
	defer rt.EndSend()

	start := p.time.Now()
	if err := p.ensureSendable(ctx, rt); err != nil {
		p.emit(req, 0, 0, p.time.Now().Sub(start), err)
		return nil, err
	}

	results := p.runSendLoop(ctx, rt, ws, req, recipients)

	sent, failed := 0, 0
	for _, r := range results {
		if r.Success {
			sent++
		} else {
			failed++
		}
	}
	p.emit(req, sent, failed, p.time.Now().Sub(start), nil)

	return results, nil
}

// runSendLoop walks the recipient list in order, sending, reporting, and
// pacing. The inter-message delay applies only between successive
// recipients.
func (p *Pipeline) runSendLoop(
	ctx context.Context,
	rt *session.Runtime,
	ws *model.Workspace,
	req SendRequest,
	recipients []string,
) []model.RecipientResult {
	pacing := resolvePacing(ws.Config, req.Overrides, p.cfg.DefaultDelayMs)
	tmpl := resolveTemplates(ws.Config, req.Overrides, req.Message)

	results := make([]model.RecipientResult, 0, len(recipients))
	for i, recipient := range recipients {
		body := tmpl.messageFor(i)

		result := model.RecipientResult{
			Recipient: recipient,
			Message:   body,
			Success:   true,
		}

		err := p.sendOne(ctx, rt, transport.Message{
			Recipient: recipient,
			Body:      body,
			MediaRef:  req.Overrides.MediaRef,
		})
		if err != nil {
			result.Success = false
			result.Error = err.Error()
			p.logger.WarnContext(ctx, "recipient send failed",
				"workspace_id", ws.ID,
				"recipient", recipient,
				"error", err,
			)
		}
		results = append(results, result)

		p.appendReport(ctx, ws.ID, req, result)

		if i < len(recipients)-1 {
			p.sleep(ctx, pacing.delay())
		}
	}
	return results
}

// sendOne performs one transport send against the current client handle.
func (p *Pipeline) sendOne(ctx context.Context, rt *session.Runtime, msg transport.Message) error {
	client := rt.Client()
	if client == nil {
		return apperrors.Unavailable("session client is gone")
	}
	return client.Send(ctx, msg)
}

// appendReport records one attempt. Report persistence failures are logged
// and dropped so they never abort the batch.
func (p *Pipeline) appendReport(ctx context.Context, workspaceID string, req SendRequest, r model.RecipientResult) {
	entry := &model.DeliveryReport{
		WorkspaceID: workspaceID,
		Timestamp:   p.time.Now(),
		Kind:        req.Kind,
		Source:      req.Source,
		Recipient:   r.Recipient,
		Success:     r.Success,
		Message:     r.Message,
		Error:       r.Error,
	}
	if err := p.reports.Append(ctx, entry); err != nil {
		p.logger.ErrorContext(ctx, "delivery report append failed",
			"workspace_id", workspaceID,
			"recipient", r.Recipient,
			"error", err,
		)
	}
}

// ensureSendable verifies the session can actually send before any work
// happens. A ready session passes immediately; an authenticated one gets a
// bounded wait for connectivity confirmation; anything else is rejected.
func (p *Pipeline) ensureSendable(ctx context.Context, rt *session.Runtime) error {
	if rt.Ready() {
		return nil
	}
	if !rt.Authenticated() {
		return apperrors.Unavailable("session is not connected; start the workspace first")
	}
	return p.waitForConnected(ctx, rt)
}

// waitForConnected polls transport connectivity at a fixed cadence inside an
// explicit time budget. The budget is split into recovery windows: when a
// window elapses without confirmation, one forced recovery fires, bounded by
// MaxRecoveriesPerWait for the whole wait. The wait always terminates.
func (p *Pipeline) waitForConnected(ctx context.Context, rt *session.Runtime) error {
	workspaceID := rt.WorkspaceID()
	deadline := time.Now().Add(p.cfg.ConnectWaitBudget)

	window := p.cfg.ConnectWaitBudget
	if p.cfg.MaxRecoveriesPerWait > 0 {
		window = p.cfg.ConnectWaitBudget / time.Duration(p.cfg.MaxRecoveriesPerWait+1)
	}
	nextRecovery := time.Now().Add(window)
	recoveries := 0

	for time.Now().Before(deadline) {
		if rt.Ready() {
			return nil
		}

		if client := rt.Client(); client != nil {
			state, err := client.ConnectivityState(ctx)
			if err != nil {
				p.logger.DebugContext(ctx, "connectivity poll failed during send wait",
					"workspace_id", workspaceID,
					"error", err,
				)
			} else if state == transport.StateConnected {
				p.sessions.PromoteReady(ctx, workspaceID)
				return nil
			}
		}

		if recoveries < p.cfg.MaxRecoveriesPerWait && !time.Now().Before(nextRecovery) {
			recoveries++
			nextRecovery = time.Now().Add(window)
			p.logger.WarnContext(ctx, "send wait exceeded its window, forcing recovery",
				"workspace_id", workspaceID,
				"attempt", recoveries,
			)
			p.sessions.ForceRecovery(ctx, workspaceID, "send wait exceeded connectivity window")
		}

		p.sleep(ctx, p.cfg.ConnectPollInterval)
		if ctx.Err() != nil {
			return apperrors.Wrap(ctx.Err(), apperrors.ErrCodeCanceled, "send wait cancelled")
		}
	}

	return apperrors.Timeoutf("session did not confirm connectivity within %s", p.cfg.ConnectWaitBudget)
}

func (p *Pipeline) emit(req SendRequest, sent, failed int, elapsed time.Duration, setupErr error) {
	metrics.EmitDelivery(p.metrics, metrics.DeliveryMetric{
		Kind:     string(req.Kind),
		Source:   req.Source,
		Sent:     sent,
		Failed:   failed,
		Duration: elapsed,
		SetupErr: setupErr,
	})
}
