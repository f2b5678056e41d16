package delivery

import (
	"math/rand/v2"
	"time"

	"github.com/relaydesk/relaydesk/internal/domain/model"
)

// pacingPlan is the resolved pacing policy for one bulk send, computed once
// from workspace config plus per-call overrides.
type pacingPlan struct {
	mode model.PacingMode
	min  time.Duration
	max  time.Duration
}

// resolvePacing merges workspace config and overrides into a concrete plan.
// Delay bounds are clamped so min never exceeds max, even when the caller
// supplies them swapped.
func resolvePacing(cfg model.WorkspaceConfig, ov model.SendOverrides, defaultDelayMs int) pacingPlan {
	mode := cfg.Pacing
	if ov.Pacing.Valid() {
		mode = ov.Pacing
	}
	if !mode.Valid() {
		mode = model.PacingInstant
	}

	minMs := cfg.MinDelayMs
	maxMs := cfg.MaxDelayMs
	if ov.MinDelayMs > 0 {
		minMs = ov.MinDelayMs
	}
	if ov.MaxDelayMs > 0 {
		maxMs = ov.MaxDelayMs
	}
	if minMs < 0 {
		minMs = 0
	}
	if maxMs < 0 {
		maxMs = 0
	}
	if minMs > maxMs {
		minMs, maxMs = maxMs, minMs
	}
	if mode == model.PacingStaggered && maxMs == 0 {
		maxMs = defaultDelayMs
		minMs = defaultDelayMs
	}

	return pacingPlan{
		mode: mode,
		min:  time.Duration(minMs) * time.Millisecond,
		max:  time.Duration(maxMs) * time.Millisecond,
	}
}

// delay returns the pause to apply before the next recipient. Instant mode
// never pauses; staggered uses the fixed upper bound; random draws uniformly
// from [min, max].
func (p pacingPlan) delay() time.Duration {
	switch p.mode {
	case model.PacingStaggered:
		return p.max
	case model.PacingRandom:
		if p.max <= p.min {
			return p.min
		}
		return p.min + rand.N(p.max-p.min+1)
	default:
		return 0
	}
}

// templatePlan selects the message variant per recipient.
type templatePlan struct {
	mode      model.TemplateMode
	base      string
	templates []string
}

// resolveTemplates merges config and overrides into a variant-selection plan.
// base is the message passed to the send call; workspace templates only apply
// in rotate and random modes.
func resolveTemplates(cfg model.WorkspaceConfig, ov model.SendOverrides, base string) templatePlan {
	mode := cfg.TemplateMode
	if ov.TemplateMode.Valid() {
		mode = ov.TemplateMode
	}
	if !mode.Valid() {
		mode = model.TemplateSingle
	}
	return templatePlan{
		mode:      mode,
		base:      base,
		templates: cfg.Templates,
	}
}

// messageFor picks the body for the recipient at index i.
func (t templatePlan) messageFor(i int) string {
	if t.mode == model.TemplateSingle || len(t.templates) == 0 {
		return t.base
	}
	switch t.mode {
	case model.TemplateRotate:
		return t.templates[i%len(t.templates)]
	case model.TemplateRandom:
		return t.templates[rand.N(len(t.templates))]
	default:
		return t.base
	}
}
