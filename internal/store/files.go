package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/starford/navigator/internal/apperr"
	"github.com/starford/navigator/internal/models"
)

const fileColumns = `path, size, mtime, hash, tags, preview_status, preview_signature,
	feature_image_key, feature_image_status, metadata, metadata_failures, properties, pending`

const upsertFileSQL = `
	INSERT INTO files (` + fileColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		size                 = excluded.size,
		mtime                = excluded.mtime,
		hash                 = excluded.hash,
		tags                 = excluded.tags,
		preview_status       = excluded.preview_status,
		preview_signature    = excluded.preview_signature,
		feature_image_key    = excluded.feature_image_key,
		feature_image_status = excluded.feature_image_status,
		metadata             = excluded.metadata,
		metadata_failures    = excluded.metadata_failures,
		properties           = excluded.properties,
		pending              = excluded.pending
`

type scanner interface {
	Scan(dest ...any) error
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// Get returns the stored record for path or apperr.ErrNotFound.
func (db *DB) Get(path string) (*models.FileRecord, error) {
	row := db.conn.QueryRow(`SELECT `+fileColumns+` FROM files WHERE path = ?`, path)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: get %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", path, err)
	}
	return rec, nil
}

// Put inserts or replaces the record for rec.Path.
func (db *DB) Put(rec *models.FileRecord) error {
	return putRecord(db.conn, rec)
}

// PutMany writes records in a single transaction.
func (db *DB) PutMany(recs []*models.FileRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	for _, rec := range recs {
		if err := putRecord(tx, rec); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func putRecord(x execer, rec *models.FileRecord) error {
	var tags any
	if rec.Tags != nil {
		b, _ := json.Marshal(rec.Tags)
		tags = string(b)
	}
	meta, _ := json.Marshal(rec.Metadata)
	failures, _ := json.Marshal(nonNil(rec.MetadataFailures))
	props := []byte("{}")
	if len(rec.Properties) > 0 {
		props, _ = json.Marshal(rec.Properties)
	}

	_, err := x.Exec(upsertFileSQL,
		rec.Path, rec.Fingerprint.Size, rec.Fingerprint.MTime, rec.Fingerprint.Hash,
		tags, int(rec.PreviewStatus), rec.PreviewSignature,
		rec.FeatureImageKey, int(rec.FeatureImageStatus),
		string(meta), string(failures), string(props), int(rec.Pending),
	)
	if err != nil {
		return fmt.Errorf("store: put %s: %w", rec.Path, err)
	}
	return nil
}

// Delete removes the record, preview and blob stored for path.
func (db *DB) Delete(paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, p := range paths {
		for _, table := range []string{"files", "previews", "blobs"} {
			if _, err := tx.Exec(`DELETE FROM `+table+` WHERE path = ?`, p); err != nil {
				return fmt.Errorf("store: delete %s from %s: %w", p, table, err)
			}
		}
	}
	return tx.Commit()
}

// Move renames one path.
type Move struct {
	From string
	To   string
}

// Rename migrates records, previews and blobs to new paths, replacing any
// rows already stored at a destination.
func (db *DB) Rename(moves ...Move) error {
	if len(moves) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, m := range moves {
		for _, table := range []string{"files", "previews", "blobs"} {
			if _, err := tx.Exec(`DELETE FROM `+table+` WHERE path = ?`, m.To); err != nil {
				return fmt.Errorf("store: clear %s in %s: %w", m.To, table, err)
			}
			if _, err := tx.Exec(`UPDATE `+table+` SET path = ? WHERE path = ?`, m.To, m.From); err != nil {
				return fmt.Errorf("store: rename %s in %s: %w", m.From, table, err)
			}
		}
	}
	return tx.Commit()
}

// GetAll returns every stored record.
func (db *DB) GetAll() ([]*models.FileRecord, error) {
	rows, err := db.conn.Query(`SELECT ` + fileColumns + ` FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("store: get all: %w", err)
	}
	defer rows.Close()

	var out []*models.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (db *DB) Count() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

func scanRecord(s scanner) (*models.FileRecord, error) {
	var (
		rec                            models.FileRecord
		tags                           sql.NullString
		previewStatus, imgStatus, pend int
		meta, failures, props          string
	)
	err := s.Scan(
		&rec.Path, &rec.Fingerprint.Size, &rec.Fingerprint.MTime, &rec.Fingerprint.Hash,
		&tags, &previewStatus, &rec.PreviewSignature,
		&rec.FeatureImageKey, &imgStatus,
		&meta, &failures, &props, &pend,
	)
	if err != nil {
		return nil, err
	}
	rec.PreviewStatus = models.Status(previewStatus)
	rec.FeatureImageStatus = models.Status(imgStatus)
	rec.Pending = models.Field(pend)

	// Malformed JSON columns degrade to "unprocessed" rather than failing the load.
	if tags.Valid {
		if err := json.Unmarshal([]byte(tags.String), &rec.Tags); err != nil || rec.Tags == nil {
			rec.Tags = nil
			rec.Pending |= models.FieldTags
		}
	}
	if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
		rec.Metadata = models.Metadata{}
		rec.Pending |= models.FieldMetadata
	}
	_ = json.Unmarshal([]byte(failures), &rec.MetadataFailures)
	if len(rec.MetadataFailures) == 0 {
		rec.MetadataFailures = nil
	}
	_ = json.Unmarshal([]byte(props), &rec.Properties)
	if len(rec.Properties) == 0 {
		rec.Properties = nil
	}
	return &rec, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
