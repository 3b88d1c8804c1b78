package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Key addresses stored content by path and content signature.
type Key struct {
	Path      string
	Signature string
}

// GetPreview returns the preview stored for key. A stored preview with a
// different signature is reported as missing.
func (db *DB) GetPreview(key Key) (string, bool, error) {
	var sig, text string
	err := db.conn.QueryRow(`SELECT signature, text FROM previews WHERE path = ?`, key.Path).Scan(&sig, &text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get preview %s: %w", key.Path, err)
	}
	if sig != key.Signature {
		return "", false, nil
	}
	return text, true, nil
}

// GetPreviews loads several previews at once. Keys whose signature does not
// match are omitted from the result.
func (db *DB) GetPreviews(keys []Key) (map[Key]string, error) {
	out := make(map[Key]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	want := make(map[string]string, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		want[k.Path] = k.Signature
		args = append(args, k.Path)
	}

	q := `SELECT path, signature, text FROM previews WHERE path IN (?` + strings.Repeat(",?", len(args)-1) + `)`
	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get previews: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var path, sig, text string
		if err := rows.Scan(&path, &sig, &text); err != nil {
			return nil, fmt.Errorf("store: scan preview: %w", err)
		}
		if want[path] == sig {
			out[Key{Path: path, Signature: sig}] = text
		}
	}
	return out, rows.Err()
}

// PutPreview stores text for key, replacing any older version of the path.
func (db *DB) PutPreview(key Key, text string) error {
	_, err := db.conn.Exec(`
		INSERT INTO previews (path, signature, text) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET signature = excluded.signature, text = excluded.text
	`, key.Path, key.Signature, text)
	if err != nil {
		return fmt.Errorf("store: put preview %s: %w", key.Path, err)
	}
	return nil
}

// DeletePreview removes the preview stored for path.
func (db *DB) DeletePreview(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM previews WHERE path = ?`, path); err != nil {
		return fmt.Errorf("store: delete preview %s: %w", path, err)
	}
	return nil
}

// Blob is stored feature image data.
type Blob struct {
	Data        []byte
	ContentType string
}

// GetBlob returns the blob stored for key and marks it recently used. A blob
// stored under another signature is a miss.
func (db *DB) GetBlob(key Key) (*Blob, error) {
	var (
		sig string
		b   Blob
	)
	err := db.conn.QueryRow(`SELECT signature, content_type, data FROM blobs WHERE path = ?`, key.Path).
		Scan(&sig, &b.ContentType, &b.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get blob %s: %w", key.Path, err)
	}
	if sig != key.Signature {
		return nil, nil
	}
	if _, err := db.conn.Exec(`UPDATE blobs SET accessed_at = ? WHERE path = ?`, db.now(), key.Path); err != nil {
		return nil, fmt.Errorf("store: touch blob %s: %w", key.Path, err)
	}
	return &b, nil
}

// PutBlob stores data for key and evicts least recently used blobs beyond
// the configured entry ceiling. It returns the number of blobs evicted.
func (db *DB) PutBlob(key Key, b Blob) (int, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO blobs (path, signature, content_type, data, accessed_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			signature    = excluded.signature,
			content_type = excluded.content_type,
			data         = excluded.data,
			accessed_at  = excluded.accessed_at
	`, key.Path, key.Signature, b.ContentType, b.Data, db.now())
	if err != nil {
		return 0, fmt.Errorf("store: put blob %s: %w", key.Path, err)
	}

	res, err := tx.Exec(`
		DELETE FROM blobs WHERE path IN (
			SELECT path FROM blobs ORDER BY accessed_at DESC LIMIT -1 OFFSET ?
		)
	`, db.opts.BlobMaxEntries)
	if err != nil {
		return 0, fmt.Errorf("store: evict blobs: %w", err)
	}
	evicted, _ := res.RowsAffected()
	return int(evicted), tx.Commit()
}

// DeleteBlob removes the blob stored for path.
func (db *DB) DeleteBlob(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM blobs WHERE path = ?`, path); err != nil {
		return fmt.Errorf("store: delete blob %s: %w", path, err)
	}
	return nil
}

// BlobStats reports the number and total size of stored blobs.
func (db *DB) BlobStats() (count int, bytes int64, err error) {
	err = db.conn.QueryRow(`SELECT count(*), coalesce(sum(length(data)), 0) FROM blobs`).Scan(&count, &bytes)
	if err != nil {
		return 0, 0, fmt.Errorf("store: blob stats: %w", err)
	}
	return count, bytes, nil
}
