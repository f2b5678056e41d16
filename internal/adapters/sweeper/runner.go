// Package sweeper runs the one-off scheduled message sweep as a background
// service.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/relaydesk/relaydesk/config"
	"github.com/relaydesk/relaydesk/internal/observability/metrics"
	"github.com/relaydesk/relaydesk/internal/observability/statsd"
	"github.com/relaydesk/relaydesk/internal/service"
)

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Sweeper *service.SweeperService // Required: sweep service
	Config  config.SweeperConfig
	Logger  *slog.Logger // Optional: structured logger
	Metrics statsd.Sink  // Optional: metrics sink (StatsD-compatible)
}

// Runner drives the sweep loop at the configured interval.
type Runner struct {
	sweeper  *service.SweeperService
	interval time.Duration
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewRunner creates a new sweep runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Sweeper == nil {
		return nil, errors.New("SweeperService is required")
	}

	interval := opts.Config.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		sweeper:  opts.Sweeper,
		interval: interval,
		logger:   logger.With("component", "sweeper_runner"),
		metrics:  opts.Metrics,
	}, nil
}

// Run starts the sweep loop and runs until the context is cancelled. It
// calls Tick at the configured interval and keeps running through tick
// errors. Returns nil on graceful shutdown (context.Canceled).
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting sweeper runner", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "sweeper runner stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case now := <-ticker.C:
			start := time.Now()
			processed, err := r.sweeper.Tick(ctx, now)
			elapsed := time.Since(start)

			metrics.EmitSweep(r.metrics, metrics.SweepMetric{
				Processed: processed,
				Elapsed:   elapsed,
				Err:       err,
			})

			switch {
			case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
				r.logger.DebugContext(ctx, "sweep tick cancelled", "error", err)
			case err != nil:
				r.logger.ErrorContext(ctx, "sweep tick failed", "error", err)
			case processed > 0:
				r.logger.InfoContext(ctx, "sweep tick complete", "processed", processed)
			}
		}
	}
}
