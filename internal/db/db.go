package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// The database lives inside the hidden .inspectline directory of a
// workspace, next to nothing else; config stays in inspectline.yml.
const defaultDBName = "inspectline.db"

type Config struct {
	Workspace string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".inspectline", defaultDBName)
}

// EnsureWorkspace creates the .inspectline directory if missing and returns
// its path. il init and il serve both go through here.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".inspectline")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the workspace database, creating the directory on first use.
// Foreign keys are enabled via DSN pragma.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", dbPath(cfg.Workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Path returns where the workspace database lives, whether or not it
// exists yet.
func Path(workspace string) string {
	return dbPath(workspace)
}
