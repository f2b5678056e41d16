// Package metrics provides helpers that emit standardised engine metrics.
package metrics

import (
	"time"

	obserrors "github.com/relaydesk/relaydesk/internal/observability/errors"
	"github.com/relaydesk/relaydesk/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// SessionTransition captures a session state change for metric emission.
type SessionTransition struct {
	WorkspaceID string
	From        string
	To          string
	Err         error
}

// EmitSessionTransition emits a counter per session state transition.
func EmitSessionTransition(sink statsd.Sink, in SessionTransition) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"from": in.From,
		"to":   in.To,
	}
	if in.Err != nil {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("session.transition", 1, tags)
}

// DeliveryMetric captures the outcome of one bulk send for metric emission.
type DeliveryMetric struct {
	Kind     string
	Source   string
	Sent     int
	Failed   int
	Duration time.Duration
	SetupErr error
}

// EmitDelivery emits standardised delivery pipeline metrics.
func EmitDelivery(sink statsd.Sink, in DeliveryMetric) {
	if sink == nil {
		return
	}

	result := ResultSuccess
	switch {
	case in.SetupErr != nil:
		result = ResultError
	case in.Sent == 0 && in.Failed == 0:
		result = ResultNoop
	case in.Failed > 0:
		result = "partial"
	}

	tags := map[string]string{
		"kind":   in.Kind,
		"source": in.Source,
		"result": result,
	}
	if in.SetupErr != nil {
		if class := obserrors.Classify(in.SetupErr); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("delivery.batch", 1, tags)
	if in.Sent > 0 {
		sink.Count("delivery.sent", int64(in.Sent), CloneTags(tags))
	}
	if in.Failed > 0 {
		sink.Count("delivery.failed", int64(in.Failed), CloneTags(tags))
	}
	if in.Duration > 0 {
		sink.Timing("delivery.duration", in.Duration, CloneTags(tags))
	}
}

// SweepMetric captures the outcome of one scheduled-message sweep tick.
type SweepMetric struct {
	Processed int
	Elapsed   time.Duration
	Err       error
}

// EmitSweep emits standardised sweeper metrics.
func EmitSweep(sink statsd.Sink, in SweepMetric) {
	if sink == nil {
		return
	}

	result := ResultSuccess
	if in.Err != nil {
		result = ResultError
	} else if in.Processed == 0 {
		result = ResultNoop
	}

	tags := map[string]string{"result": result}
	if in.Err != nil {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("sweeper.tick", 1, tags)
	if in.Processed > 0 {
		sink.Count("sweeper.messages", int64(in.Processed), CloneTags(tags))
	}
	if in.Elapsed > 0 {
		sink.Timing("sweeper.tick_duration", in.Elapsed, CloneTags(tags))
	}
	if in.Err == nil {
		sink.Gauge("sweeper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
