// Package store owns the embedded sqlite database: schema, migrations, and
// one store type per persisted entity.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/redshiftplayer/redshift-sync/logging"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
    file_path   TEXT PRIMARY KEY,
    file_size   INTEGER NOT NULL,
    mtime_ns    INTEGER NOT NULL,
    metadata    TEXT NOT NULL,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS transferred_files (
    rel_path        TEXT PRIMARY KEY,
    file_hash       TEXT NOT NULL,
    file_size       INTEGER NOT NULL,
    mtime_ns        INTEGER NOT NULL,
    transferred_at  INTEGER NOT NULL,
    method          TEXT NOT NULL,
    device_udid     TEXT,
    status          TEXT NOT NULL DEFAULT 'transferred'
);

CREATE INDEX IF NOT EXISTS idx_transferred_hash ON transferred_files(file_hash);

CREATE TABLE IF NOT EXISTS sync_sessions (
    id            TEXT PRIMARY KEY,
    started_at    INTEGER NOT NULL,
    method        TEXT NOT NULL,
    files_queued      INTEGER NOT NULL,
    files_transferred INTEGER NOT NULL,
    total_bytes   INTEGER NOT NULL,
    duration_ms   INTEGER NOT NULL,
    errors        TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS songs (
    file_path      TEXT PRIMARY KEY,
    title          TEXT NOT NULL DEFAULT '',
    artist         TEXT NOT NULL DEFAULT '',
    album          TEXT NOT NULL DEFAULT '',
    play_count     INTEGER NOT NULL DEFAULT 0,
    last_played_ns INTEGER NOT NULL DEFAULT 0,
    favorite       INTEGER NOT NULL DEFAULT 0,
    rating         INTEGER NOT NULL DEFAULT 0,
    updated_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS playlists (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    name         TEXT NOT NULL,
    description  TEXT NOT NULL DEFAULT '',
    modified_ns  INTEGER NOT NULL,
    sync_enabled INTEGER NOT NULL DEFAULT 1,
    remote_id    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS playlist_tracks (
    playlist_id INTEGER NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
    position    INTEGER NOT NULL,
    file_path   TEXT NOT NULL,
    PRIMARY KEY (playlist_id, position)
);

CREATE TABLE IF NOT EXISTS paired_devices (
    udid         TEXT PRIMARY KEY,
    name         TEXT NOT NULL DEFAULT '',
    auth_token   TEXT NOT NULL,
    lan_address  TEXT NOT NULL DEFAULT '',
    paired_at    INTEGER NOT NULL,
    last_seen_ns INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Open opens (or creates) the sync database inside the data directory.
func Open(dataDir string) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return openAt(filepath.Join(dataDir, "sync.db"))
}

// openAt opens the database at the exact path. Useful for testing.
func openAt(dbPath string) (*sql.DB, error) {
	l := logging.Sub("db")
	l.Info("opening sync database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sync db: %w", err)
	}
	// database/sql applies Exec'd pragmas only to the connection that ran
	// them; cap the pool at one connection so they govern every statement.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	l := logging.Sub("db")
	var version int
	err := db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&version)
	if err != nil {
		// meta table doesn't exist or no row — fresh database
		if _, execErr := db.Exec(schema); execErr != nil {
			return fmt.Errorf("create schema: %w", execErr)
		}
		if _, execErr := db.Exec("INSERT INTO meta (key, value) VALUES ('schema_version', ?)", schemaVersion); execErr != nil {
			return fmt.Errorf("set schema version: %w", execErr)
		}
		l.Info("schema created", "version", schemaVersion)
		return nil
	}

	if version < schemaVersion {
		return fmt.Errorf("schema version %d older than supported %d and no upgrade path", version, schemaVersion)
	}

	l.Debug("schema up to date", "version", version)
	return nil
}
