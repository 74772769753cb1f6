package app

import (
	"context"
	"database/sql"
	"fmt"

	"farmline/internal/config"
	"farmline/internal/db"
	"farmline/internal/engine"
	"farmline/internal/migrate"
)

// App is an opened workspace: migrated database, loaded config and engine.
type App struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
}

// Open prepares the workspace directory, opens and migrates the database and
// loads farmline.yml, falling back to defaults when the file is absent.
func Open(ctx context.Context, workspace string) (*App, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if _, err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &App{
		Workspace: workspace,
		DB:        conn,
		Config:    cfg,
		Engine:    engine.New(conn),
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
