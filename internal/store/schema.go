// Package store persists file records, preview strings and feature image
// blobs in SQLite so the cache survives restarts without a full rescan.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Bump SchemaVersion when the table layout changes and ContentVersion when
// providers change what they derive. Either mismatch discards stored data.
const (
	SchemaVersion  = 3
	ContentVersion = 2
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	path                 TEXT PRIMARY KEY,
	size                 INTEGER NOT NULL DEFAULT 0,
	mtime                INTEGER NOT NULL DEFAULT 0,
	hash                 TEXT NOT NULL DEFAULT '',
	tags                 TEXT,
	preview_status       INTEGER NOT NULL DEFAULT 0,
	preview_signature    TEXT NOT NULL DEFAULT '',
	feature_image_key    TEXT NOT NULL DEFAULT '',
	feature_image_status INTEGER NOT NULL DEFAULT 0,
	metadata             TEXT NOT NULL DEFAULT '{}',
	metadata_failures    TEXT NOT NULL DEFAULT '[]',
	properties           TEXT NOT NULL DEFAULT '{}',
	pending              INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS previews (
	path      TEXT PRIMARY KEY,
	signature TEXT NOT NULL,
	text      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS blobs (
	path         TEXT PRIMARY KEY,
	signature    TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	data         BLOB NOT NULL,
	accessed_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blobs_accessed ON blobs(accessed_at);
`

const dropSQL = `
DROP TABLE IF EXISTS files;
DROP TABLE IF EXISTS previews;
DROP TABLE IF EXISTS blobs;
DELETE FROM meta;
`

// DefaultBlobMaxEntries bounds the blob table when Options leave it unset.
const DefaultBlobMaxEntries = 1000

// Options configure the store.
type Options struct {
	BlobMaxEntries int
}

// DB wraps a sql.DB with cache-specific operations.
type DB struct {
	conn    *sql.DB
	opts    Options
	rebuilt bool

	clockMu sync.Mutex
	clock   int64
}

// Open opens (or creates) the SQLite database and applies the schema. A
// database written with another schema or content version is emptied.
func Open(dsn string, opts Options) (*DB, error) {
	return openVersion(dsn, opts, SchemaVersion, ContentVersion)
}

func openVersion(dsn string, opts Options, schema, content int) (*DB, error) {
	if opts.BlobMaxEntries <= 0 {
		opts.BlobMaxEntries = DefaultBlobMaxEntries
	}
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	// One writer avoids SQLITE_BUSY between the persister and blob loads.
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	db := &DB{conn: conn, opts: opts}
	if err := db.checkVersion(schema, content); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) checkVersion(schema, content int) error {
	gotSchema, okSchema, err := db.meta("schema_version")
	if err != nil {
		return err
	}
	gotContent, okContent, err := db.meta("content_version")
	if err != nil {
		return err
	}

	want := [2]string{strconv.Itoa(schema), strconv.Itoa(content)}
	if okSchema && okContent && gotSchema == want[0] && gotContent == want[1] {
		return nil
	}

	if okSchema || okContent {
		if _, err := db.conn.Exec(dropSQL); err != nil {
			return fmt.Errorf("store: drop stale tables: %w", err)
		}
		if _, err := db.conn.Exec(schemaSQL); err != nil {
			return fmt.Errorf("store: reapply schema: %w", err)
		}
		db.rebuilt = true
	} else {
		var n int
		if err := db.conn.QueryRow(`SELECT count(*) FROM files`).Scan(&n); err != nil {
			return fmt.Errorf("store: count files: %w", err)
		}
		db.rebuilt = n == 0
	}

	if err := db.setMeta("schema_version", want[0]); err != nil {
		return err
	}
	return db.setMeta("content_version", want[1])
}

func (db *DB) meta(key string) (string, bool, error) {
	var v string
	err := db.conn.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: read meta %s: %w", key, err)
	}
	return v, true, nil
}

func (db *DB) setMeta(key, value string) error {
	_, err := db.conn.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("store: write meta %s: %w", key, err)
	}
	return nil
}

// Rebuilt reports whether Open started from an empty store, either because
// the file was new or because a version mismatch discarded its contents.
func (db *DB) Rebuilt() bool {
	return db.rebuilt
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// now returns a strictly increasing access stamp so LRU ordering never ties.
func (db *DB) now() int64 {
	db.clockMu.Lock()
	defer db.clockMu.Unlock()
	t := time.Now().UnixNano()
	if t <= db.clock {
		t = db.clock + 1
	}
	db.clock = t
	return t
}
