package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"procline/internal/config"
	"procline/internal/db"
	"procline/internal/engine"
	"procline/internal/migrate"
	"procline/internal/repo"
)

// LoadConfig reads procline.yml, falling back to defaults when the workspace
// has none.
func LoadConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("procline")
	}
	return cfg, nil
}

// OpenEngine opens the workspace database, applies pending migrations and
// returns an engine bound to it. Callers close the returned *sql.DB.
func OpenEngine(ctx context.Context, workspace string) (engine.Engine, *sql.DB, error) {
	cfg, err := LoadConfig(workspace)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("migrate: %w", err)
	}
	return engine.New(conn, cfg), conn, nil
}

// ResolveProcess picks the process a command works on. It prefers the
// override, then the only process of the workspace.
func ResolveProcess(ctx context.Context, processOverride string, r repo.Repo) (string, error) {
	if processOverride != "" {
		if _, err := r.GetProcess(ctx, processOverride); err != nil {
			return "", err
		}
		return processOverride, nil
	}
	p, err := r.SingleProcess(ctx)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", fmt.Errorf("no process yet; create one with pl process create")
		}
		return "", err
	}
	return p.ID, nil
}
