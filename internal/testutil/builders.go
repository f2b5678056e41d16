// Package testutil provides testing utilities and helpers for the relaydesk service.
package testutil

import (
	"strings"
	"time"

	"github.com/relaydesk/relaydesk/internal/domain/model"
)

// WorkspaceBuilder provides a fluent interface for building Workspace objects for testing.
type WorkspaceBuilder struct {
	ws *model.Workspace
}

// NewWorkspace creates a new WorkspaceBuilder with sensible defaults.
func NewWorkspace(id string) *WorkspaceBuilder {
	return &WorkspaceBuilder{
		ws: &model.Workspace{
			ID:   id,
			Name: "Workspace " + id,
			Config: model.WorkspaceConfig{
				Recipients:   "15550001111",
				Pacing:       model.PacingInstant,
				TemplateMode: model.TemplateSingle,
				Message:      "hello from " + id,
			},
		},
	}
}

// WithName sets the workspace display name.
func (b *WorkspaceBuilder) WithName(name string) *WorkspaceBuilder {
	b.ws.Name = name
	return b
}

// WithRecipients sets the recipient list.
func (b *WorkspaceBuilder) WithRecipients(recipients ...string) *WorkspaceBuilder {
	b.ws.Config.Recipients = strings.Join(recipients, ",")
	return b
}

// WithMessage sets the single-template message body.
func (b *WorkspaceBuilder) WithMessage(message string) *WorkspaceBuilder {
	b.ws.Config.TemplateMode = model.TemplateSingle
	b.ws.Config.Message = message
	return b
}

// WithTemplates switches the workspace to rotating templates.
func (b *WorkspaceBuilder) WithTemplates(templates ...string) *WorkspaceBuilder {
	b.ws.Config.TemplateMode = model.TemplateRotate
	b.ws.Config.Templates = templates
	return b
}

// WithStaggeredPacing enables staggered pacing with the given delay bounds.
func (b *WorkspaceBuilder) WithStaggeredPacing(minDelayMs, maxDelayMs int) *WorkspaceBuilder {
	b.ws.Config.Pacing = model.PacingStaggered
	b.ws.Config.MinDelayMs = minDelayMs
	b.ws.Config.MaxDelayMs = maxDelayMs
	return b
}

// WithCron sets the recurring schedule.
func (b *WorkspaceBuilder) WithCron(expr, message string) *WorkspaceBuilder {
	b.ws.Config.CronExpr = expr
	b.ws.Config.CronMessage = message
	return b
}

// Build returns the constructed Workspace.
func (b *WorkspaceBuilder) Build() *model.Workspace {
	return b.ws
}

// ScheduledMessageRequest creates a scheduled message create request with defaults.
func ScheduledMessageRequest(workspaceID string, sendAt time.Time) *model.CreateScheduledMessageRequest {
	return &model.CreateScheduledMessageRequest{
		WorkspaceID: workspaceID,
		Body:        "scheduled hello",
		SendAt:      sendAt,
	}
}
