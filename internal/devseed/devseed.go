// Package devseed loads development fixtures: a couple of workspaces with
// realistic delivery configs and a pending scheduled message, enough to
// exercise the engine end to end against a local stack.
package devseed

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaydesk/relaydesk/internal/data"
	"github.com/relaydesk/relaydesk/internal/domain/model"
)

// Run executes the full development seeding workflow against the provided DB.
// Seeding is idempotent; existing rows are left untouched.
func Run(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for _, ws := range seedWorkspaces() {
		inserted, err := upsertWorkspace(ctx, db, ws)
		if err != nil {
			return fmt.Errorf("seed workspace %s: %w", ws.ID, err)
		}
		if inserted {
			logger.InfoContext(ctx, "seeded workspace", "workspace_id", ws.ID, "name", ws.Name)
		}
	}

	if err := seedScheduledMessage(ctx, db, logger); err != nil {
		return err
	}

	logger.InfoContext(ctx, "development seed complete")
	return nil
}

func seedWorkspaces() []*model.Workspace {
	return []*model.Workspace{
		{
			ID:   "dev-instant",
			Name: "Dev: instant pacing",
			Config: model.WorkspaceConfig{
				Recipients:   "15550001111,15550002222",
				Message:      "Hello from the instant workspace",
				TemplateMode: model.TemplateSingle,
				Pacing:       model.PacingInstant,
			},
		},
		{
			ID:   "dev-staggered",
			Name: "Dev: staggered pacing with rotation",
			Config: model.WorkspaceConfig{
				Recipients:   "15550003333,15550004444,15550005555",
				Message:      "Hello from the staggered workspace",
				Templates:    []string{"Variant one", "Variant two"},
				TemplateMode: model.TemplateRotate,
				Pacing:       model.PacingStaggered,
				MinDelayMs:   500,
				MaxDelayMs:   1500,
				// Weekdays at 09:00.
				CronExpr:    "0 9 * * 1-5",
				CronMessage: "Scheduled morning broadcast",
			},
		},
	}
}

func upsertWorkspace(ctx context.Context, db *sql.DB, ws *model.Workspace) (bool, error) {
	raw, err := json.Marshal(ws.Config)
	if err != nil {
		return false, fmt.Errorf("encode config: %w", err)
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, config)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		ws.ID, ws.Name, raw,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func seedScheduledMessage(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	var pending int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scheduled_messages
		WHERE workspace_id = $1 AND status = 'pending'`,
		"dev-instant",
	).Scan(&pending)
	if err != nil {
		return fmt.Errorf("count pending scheduled messages: %w", err)
	}
	if pending > 0 {
		return nil
	}

	repo := data.NewScheduledMessageRepo(db)
	msg, err := repo.Create(ctx, &model.CreateScheduledMessageRequest{
		WorkspaceID: "dev-instant",
		Body:        "Seeded one-off message",
		SendAt:      time.Now().Add(time.Hour),
	})
	if err != nil {
		return fmt.Errorf("seed scheduled message: %w", err)
	}

	logger.InfoContext(ctx, "seeded scheduled message",
		"scheduled_message_id", msg.ID,
		"workspace_id", msg.WorkspaceID,
		"send_at", msg.SendAt,
	)
	return nil
}
