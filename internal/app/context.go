package app

import (
	"database/sql"
	"fmt"

	"inspectline/internal/config"
	"inspectline/internal/db"
	"inspectline/internal/engine"
	"inspectline/internal/migrate"
)

// Context bundles the open database, loaded config, and engine shared by
// the CLI commands and the embedded server.
type Context struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
}

// Open prepares a workspace: it opens (creating if needed) the SQLite
// database, applies pending migrations, and loads inspectline.yml, falling
// back to defaults when the file is absent.
func Open(workspace string) (*Context, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &Context{
		Workspace: workspace,
		DB:        conn,
		Config:    cfg,
		Engine:    engine.New(conn, cfg),
	}, nil
}

// Close releases the database handle.
func (c *Context) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
