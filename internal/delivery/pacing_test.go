package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relaydesk/relaydesk/internal/domain/model"
)

func TestResolvePacing(t *testing.T) {
	t.Run("defaults to instant", func(t *testing.T) {
		plan := resolvePacing(model.WorkspaceConfig{}, model.SendOverrides{}, 2000)
		assert.Equal(t, model.PacingInstant, plan.mode)
		assert.Zero(t, plan.delay())
	})

	t.Run("override beats workspace config", func(t *testing.T) {
		cfg := model.WorkspaceConfig{Pacing: model.PacingStaggered, MaxDelayMs: 500}
		plan := resolvePacing(cfg, model.SendOverrides{Pacing: model.PacingInstant}, 2000)
		assert.Equal(t, model.PacingInstant, plan.mode)
	})

	t.Run("staggered uses the configured delay", func(t *testing.T) {
		cfg := model.WorkspaceConfig{Pacing: model.PacingStaggered, MaxDelayMs: 750}
		plan := resolvePacing(cfg, model.SendOverrides{}, 2000)
		assert.Equal(t, 750*time.Millisecond, plan.delay())
	})

	t.Run("staggered falls back to the default delay", func(t *testing.T) {
		cfg := model.WorkspaceConfig{Pacing: model.PacingStaggered}
		plan := resolvePacing(cfg, model.SendOverrides{}, 2000)
		assert.Equal(t, 2*time.Second, plan.delay())
	})

	t.Run("random delay stays within bounds", func(t *testing.T) {
		cfg := model.WorkspaceConfig{Pacing: model.PacingRandom, MinDelayMs: 100, MaxDelayMs: 300}
		plan := resolvePacing(cfg, model.SendOverrides{}, 2000)
		for range 200 {
			d := plan.delay()
			assert.GreaterOrEqual(t, d, 100*time.Millisecond)
			assert.LessOrEqual(t, d, 300*time.Millisecond)
		}
	})

	t.Run("swapped bounds are clamped", func(t *testing.T) {
		cfg := model.WorkspaceConfig{Pacing: model.PacingRandom, MinDelayMs: 900, MaxDelayMs: 200}
		plan := resolvePacing(cfg, model.SendOverrides{}, 2000)
		assert.Equal(t, 200*time.Millisecond, plan.min)
		assert.Equal(t, 900*time.Millisecond, plan.max)
		for range 200 {
			d := plan.delay()
			assert.GreaterOrEqual(t, d, 200*time.Millisecond)
			assert.LessOrEqual(t, d, 900*time.Millisecond)
		}
	})

	t.Run("negative bounds are zeroed", func(t *testing.T) {
		cfg := model.WorkspaceConfig{Pacing: model.PacingRandom, MinDelayMs: -50, MaxDelayMs: -10}
		plan := resolvePacing(cfg, model.SendOverrides{}, 2000)
		assert.Zero(t, plan.delay())
	})
}

func TestResolveTemplates(t *testing.T) {
	cfg := model.WorkspaceConfig{
		TemplateMode: model.TemplateRotate,
		Templates:    []string{"alpha", "beta", "gamma"},
	}

	t.Run("single mode always returns the base message", func(t *testing.T) {
		plan := resolveTemplates(cfg, model.SendOverrides{TemplateMode: model.TemplateSingle}, "base")
		for i := range 6 {
			assert.Equal(t, "base", plan.messageFor(i))
		}
	})

	t.Run("rotate cycles by recipient index", func(t *testing.T) {
		plan := resolveTemplates(cfg, model.SendOverrides{}, "base")
		assert.Equal(t, "alpha", plan.messageFor(0))
		assert.Equal(t, "beta", plan.messageFor(1))
		assert.Equal(t, "gamma", plan.messageFor(2))
		assert.Equal(t, "alpha", plan.messageFor(3))
	})

	t.Run("random picks from the template set", func(t *testing.T) {
		plan := resolveTemplates(cfg, model.SendOverrides{TemplateMode: model.TemplateRandom}, "base")
		for i := range 50 {
			assert.Contains(t, cfg.Templates, plan.messageFor(i))
		}
	})

	t.Run("empty template set falls back to base", func(t *testing.T) {
		plan := resolveTemplates(model.WorkspaceConfig{TemplateMode: model.TemplateRotate}, model.SendOverrides{}, "base")
		assert.Equal(t, "base", plan.messageFor(0))
	})
}
