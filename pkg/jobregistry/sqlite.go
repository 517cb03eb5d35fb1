package jobregistry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const driverSQLite = "sqlite"

// SchemaVersion is stored in PRAGMA user_version.
const SchemaVersion = 1

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	// #nosec G301 -- cache directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}

	db, err := sql.Open(driverSQLite, "file:"+filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping registry: %w", err)
	}
	if err := configureDB(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// configureDB pins a single connection and full fsync so that a returned
// mutation survives a crash.
func configureDB(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("registry connection is nil")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous=FULL"); err != nil {
		return fmt.Errorf("set synchronous mode: %w", err)
	}
	return nil
}

// migrate creates the schema on a fresh database and rejects foreign versions.
func migrate(ctx context.Context, db *sql.DB, path string) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		if isCorruptDatabase(err) {
			return &SchemaError{Path: path, Err: err}
		}
		return fmt.Errorf("read schema version: %w", err)
	}

	switch version {
	case SchemaVersion:
		return nil
	case 0:
	default:
		return &SchemaError{Path: path, Found: version, Expected: SchemaVersion}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS awaited_jobs (
			job_id TEXT PRIMARY KEY,
			record TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion),
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return tx.Commit()
}
