// Package index keeps an advisory SQLite registry of bundle directories this
// host has produced, so an operator can list and inspect bundles without
// walking the filesystem. It is read-side convenience only: the registry
// never participates in the integrity contract a verifier checks, and a
// missing or corrupt registry never invalidates a bundle.
package index

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/duskwatch/evidence/internal/assert"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps the registry's SQLite connection.
type DB struct {
	conn *sql.DB
}

// Open creates (if necessary) and opens the registry database at dbPath,
// applying the embedded schema.
func Open(dbPath string) (*DB, error) {
	if err := assert.Check(dbPath != "", "dbPath must not be empty"); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating registry directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening registry database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying registry schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Record is one row of the bundle registry.
type Record struct {
	BundleDir    string
	Platform     string
	AppVersion   string
	StartedAt    string
	EndedAt      string
	Sealed       bool
	FinalHash    string
	EventCount   int
	RegisteredAt string
}

// RegisterStarted inserts a row for a freshly started session. If a row for
// bundleDir already exists, only its platform, app_version and started_at
// are updated; its seal fields and registered_at are kept.
func (db *DB) RegisterStarted(bundleDir, platform, appVersion, startedAt string, registeredAt time.Time) error {
	if err := assert.Check(bundleDir != "", "bundleDir must not be empty"); err != nil {
		return err
	}
	_, err := db.conn.Exec(
		`INSERT INTO bundles (bundle_dir, platform, app_version, started_at, sealed, event_count, registered_at)
		 VALUES (?, ?, ?, ?, 0, 0, ?)
		 ON CONFLICT(bundle_dir) DO UPDATE SET platform=excluded.platform, app_version=excluded.app_version, started_at=excluded.started_at`,
		bundleDir, platform, appVersion, startedAt, registeredAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("registering started session: %w", err)
	}
	return nil
}

// RegisterSealed marks a bundle as sealed, recording its final hash and
// total event count.
func (db *DB) RegisterSealed(bundleDir, endedAt, finalHash string, eventCount int) error {
	if err := assert.Check(bundleDir != "", "bundleDir must not be empty"); err != nil {
		return err
	}
	if err := assert.Check(finalHash != "", "finalHash must not be empty"); err != nil {
		return err
	}
	res, err := db.conn.Exec(
		`UPDATE bundles SET ended_at = ?, sealed = 1, final_hash = ?, event_count = ? WHERE bundle_dir = ?`,
		endedAt, finalHash, eventCount, bundleDir,
	)
	if err != nil {
		return fmt.Errorf("registering sealed bundle: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no registry row found for bundle %s", bundleDir)
	}
	return nil
}

// List returns every registered bundle ordered by most recently started.
func (db *DB) List() ([]Record, error) {
	rows, err := db.conn.Query(
		`SELECT bundle_dir, platform, app_version, started_at, COALESCE(ended_at, ''), sealed, COALESCE(final_hash, ''), event_count, registered_at
		 FROM bundles ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing bundles: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var sealed int
		if err := rows.Scan(&r.BundleDir, &r.Platform, &r.AppVersion, &r.StartedAt, &r.EndedAt, &sealed, &r.FinalHash, &r.EventCount, &r.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scanning bundle row: %w", err)
		}
		r.Sealed = sealed != 0
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bundle rows: %w", err)
	}
	return records, nil
}

// Get returns the registry row for a single bundle directory.
func (db *DB) Get(bundleDir string) (*Record, error) {
	if err := assert.Check(bundleDir != "", "bundleDir must not be empty"); err != nil {
		return nil, err
	}
	var r Record
	var sealed int
	err := db.conn.QueryRow(
		`SELECT bundle_dir, platform, app_version, started_at, COALESCE(ended_at, ''), sealed, COALESCE(final_hash, ''), event_count, registered_at
		 FROM bundles WHERE bundle_dir = ?`,
		bundleDir,
	).Scan(&r.BundleDir, &r.Platform, &r.AppVersion, &r.StartedAt, &r.EndedAt, &sealed, &r.FinalHash, &r.EventCount, &r.RegisteredAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no registry entry for bundle %s", bundleDir)
	}
	if err != nil {
		return nil, fmt.Errorf("querying bundle: %w", err)
	}
	r.Sealed = sealed != 0
	return &r, nil
}
