// Package redis provides Redis-based adapters for the relaydesk engine.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaydesk/relaydesk/internal/domain/model"
	apperrors "github.com/relaydesk/relaydesk/internal/errors"
)

// snapshotTTL bounds how long a mirrored snapshot outlives its last publish.
// The process republishes on every transition, so a stale key means the
// process died without tearing down.
const snapshotTTL = 24 * time.Hour

// StatusMirror mirrors workspace runtime snapshots into Redis so external
// subsystems can read session state without reaching into process memory.
// The in-memory runtime stays authoritative; the mirror is write-through.
type StatusMirror struct {
	client redis.UniversalClient
	prefix string
}

// NewStatusMirror creates a Redis-backed status mirror.
func NewStatusMirror(client redis.UniversalClient) *StatusMirror {
	return &StatusMirror{
		client: client,
		prefix: "runtime:",
	}
}

// NewStatusMirrorWithPrefix creates a status mirror with a custom key prefix.
func NewStatusMirrorWithPrefix(client redis.UniversalClient, prefix string) *StatusMirror {
	return &StatusMirror{
		client: client,
		prefix: prefix,
	}
}

// Publish writes the snapshot for its workspace, replacing any previous one.
func (m *StatusMirror) Publish(ctx context.Context, snap model.RuntimeSnapshot) error {
	if snap.WorkspaceID == "" {
		return errors.New("snapshot workspace id cannot be empty")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal runtime snapshot: %w", err)
	}

	key := m.prefix + snap.WorkspaceID
	if err := m.client.Set(ctx, key, data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get reads the last published snapshot for a workspace.
func (m *StatusMirror) Get(ctx context.Context, workspaceID string) (*model.RuntimeSnapshot, error) {
	if workspaceID == "" {
		return nil, apperrors.Validation("workspace id cannot be empty")
	}

	key := m.prefix + workspaceID
	data, err := m.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFoundf("no runtime snapshot for workspace %s", workspaceID)
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var snap model.RuntimeSnapshot
	if unmarshalErr := json.Unmarshal([]byte(data), &snap); unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal runtime snapshot: %w", unmarshalErr)
	}

	return &snap, nil
}

// Clear removes the mirrored snapshot for a workspace. Clearing a workspace
// with no snapshot is a no-op.
func (m *StatusMirror) Clear(ctx context.Context, workspaceID string) error {
	if workspaceID == "" {
		return nil
	}

	key := m.prefix + workspaceID
	return m.client.Del(ctx, key).Err()
}
