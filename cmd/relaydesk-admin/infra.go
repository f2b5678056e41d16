package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaydesk/relaydesk/internal/bootstrap"
	"github.com/relaydesk/relaydesk/internal/data"
	"github.com/relaydesk/relaydesk/internal/devseed"
)

func closeDB(db *sql.DB, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("db close failed", "error", err)
	}
}

func closeRedis(client redis.UniversalClient, logger *slog.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn("redis close failed", "error", err)
	}
}

func runDBSeed(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer closeDB(db, cmdCtx.Logger)

	if err := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); err != nil {
		return err
	}
	return devseed.Run(ctx, db, cmdCtx.Logger)
}

func runListWorkspaces(cmdCtx *commandContext, _ []string) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, 2*time.Minute)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer closeDB(db, cmdCtx.Logger)

	repo := data.NewWorkspaceRepo(db)
	ids, err := repo.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("list workspaces: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writef(tw, "ID\tNAME\tRECIPIENTS\tPACING\tCRON\n"); err != nil {
		return err
	}
	for _, id := range ids {
		ws, err := repo.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("load workspace %s: %w", id, err)
		}
		if err := writef(tw, "%s\t%s\t%d\t%s\t%s\n",
			ws.ID,
			ws.Name,
			len(ws.Config.RecipientList()),
			ws.Config.Pacing,
			ws.Config.CronExpr,
		); err != nil {
			return err
		}
	}
	return flushTabWriter(tw)
}

func runClearStatusMirror(cmdCtx *commandContext, _ []string) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, 2*time.Minute)
	defer cancel()

	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
		RedisConfig: cmdCtx.Config.Redis,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer closeRedis(client, cmdCtx.Logger)

	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, scanErr := client.Scan(ctx, cursor, "runtime:*", 100).Result()
		if scanErr != nil {
			return fmt.Errorf("scan status mirror keys: %w", scanErr)
		}
		if len(keys) > 0 {
			n, delErr := client.Del(ctx, keys...).Result()
			if delErr != nil {
				return fmt.Errorf("delete status mirror keys: %w", delErr)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	cmdCtx.Logger.InfoContext(ctx, "status mirror cleared", "deleted", deleted)
	return nil
}
