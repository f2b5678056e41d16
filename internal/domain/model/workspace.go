// Package model defines the core data types shared across the relaydesk
// session and delivery engine.
package model

import (
	"fmt"
	"strings"
	"time"
)

// PacingMode controls the delay applied between successive recipients of a
// bulk send.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type PacingMode string

// TemplateMode controls how a message variant is selected per recipient when
// a workspace carries multiple templates.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type TemplateMode string

const (
	// PacingInstant sends with no inter-message delay.
	PacingInstant PacingMode = "instant"
	// PacingStaggered sends with a fixed delay between recipients.
	PacingStaggered PacingMode = "staggered"
	// PacingRandom sends with a uniform random delay in [MinDelay, MaxDelay].
	PacingRandom PacingMode = "random"

	// TemplateSingle always sends the base message.
	TemplateSingle TemplateMode = "single"
	// TemplateRotate picks templates round-robin by recipient index.
	TemplateRotate TemplateMode = "rotate"
	// TemplateRandom picks a template uniformly per recipient.
	TemplateRandom TemplateMode = "random"
)

// Valid returns true if the PacingMode is one of the known modes.
func (p PacingMode) Valid() bool {
	return p == PacingInstant || p == PacingStaggered || p == PacingRandom
}

// UnmarshalText implements encoding.TextUnmarshaler so pacing modes can be
// parsed from env and JSON config.
func (p *PacingMode) UnmarshalText(text []byte) error {
	v := PacingMode(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid PacingMode: %q", string(text))
	}
	*p = v
	return nil
}

// Valid returns true if the TemplateMode is one of the known modes.
func (t TemplateMode) Valid() bool {
	return t == TemplateSingle || t == TemplateRotate || t == TemplateRandom
}

// UnmarshalText implements encoding.TextUnmarshaler for TemplateMode.
func (t *TemplateMode) UnmarshalText(text []byte) error {
	v := TemplateMode(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid TemplateMode: %q", string(text))
	}
	*t = v
	return nil
}

// Workspace is the tenant root entity. Provisioning and full CRUD live
// outside this service; the engine reads the config and appends reports.
type Workspace struct {
	ID        string          `json:"id"         db:"id"`
	Name      string          `json:"name"       db:"name"`
	Config    WorkspaceConfig `json:"config"     db:"config"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// WorkspaceConfig holds the per-tenant send settings consumed by the engine.
// It is stored as a JSONB document owned by workspace provisioning.
type WorkspaceConfig struct {
	// Recipients is the raw comma-delimited recipient list.
	Recipients string `json:"recipients"`

	Pacing     PacingMode `json:"pacing,omitempty"`
	MinDelayMs int        `json:"min_delay_ms,omitempty"`
	MaxDelayMs int        `json:"max_delay_ms,omitempty"`

	TemplateMode TemplateMode `json:"template_mode,omitempty"`
	Message      string       `json:"message,omitempty"`
	Templates    []string     `json:"templates,omitempty"`

	// CronExpr and CronMessage drive the recurring schedule. An empty
	// expression means no recurring send is configured.
	CronExpr    string `json:"cron_expr,omitempty"`
	CronMessage string `json:"cron_message,omitempty"`
}

// RecipientList normalizes the comma-delimited recipient string into a slice
// of phone-like identifiers, preserving input order and dropping blanks.
func (c WorkspaceConfig) RecipientList() []string {
	if strings.TrimSpace(c.Recipients) == "" {
		return nil
	}
	parts := strings.Split(c.Recipients, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// SendOverrides carries per-call overrides for a bulk send. Zero values fall
// back to the workspace config.
type SendOverrides struct {
	Pacing       PacingMode   `json:"pacing,omitempty"`
	MinDelayMs   int          `json:"min_delay_ms,omitempty"`
	MaxDelayMs   int          `json:"max_delay_ms,omitempty"`
	TemplateMode TemplateMode `json:"template_mode,omitempty"`
	MediaRef     string       `json:"media_ref,omitempty"`
}
