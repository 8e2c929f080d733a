package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/aleuy/profilerag/helper"
)

// Manifest persists the content hash of every ingested document, keyed by
// document id, so that subsequent ingestion runs can skip unchanged documents
// entirely. It is local state of the ingesting process, backed by a SQLite
// file in WAL mode.
type Manifest struct {
	db   *sql.DB
	path string
}

// OpenManifest opens or creates the manifest database at path, creating
// parent directories as needed.
func OpenManifest(path string) (*Manifest, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, helper.NewError("create manifest directory", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, helper.NewError("open manifest", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS manifest (
			document_id TEXT PRIMARY KEY,
			content_hash TEXT NOT NULL,
			ingested_at TIMESTAMP NOT NULL
		);`)
	if err != nil {
		db.Close()
		return nil, helper.NewError("create manifest table", err)
	}

	return &Manifest{db: db, path: path}, nil
}

// Unchanged reports whether the document was already ingested with the same
// content hash.
func (m *Manifest) Unchanged(ctx context.Context, documentID, contentHash string) (bool, error) {
	var stored string
	err := m.db.QueryRowContext(ctx,
		`SELECT content_hash FROM manifest WHERE document_id = ?`, documentID,
	).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, helper.NewError("read manifest", err)
	}
	return stored == contentHash, nil
}

// MarkIngested records the content hash and ingestion time of a document.
func (m *Manifest) MarkIngested(ctx context.Context, documentID, contentHash string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO manifest (document_id, content_hash, ingested_at)
		VALUES (?, ?, ?)
		ON CONFLICT (document_id) DO UPDATE SET
			content_hash = excluded.content_hash,
			ingested_at = excluded.ingested_at;`,
		documentID, contentHash, time.Now().UTC(),
	)
	if err != nil {
		return helper.NewError("write manifest", err)
	}
	return nil
}

// Count returns the number of manifest rows.
func (m *Manifest) Count(ctx context.Context) (int64, error) {
	var count int64
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM manifest`).Scan(&count)
	if err != nil {
		return 0, helper.NewError("count manifest", err)
	}
	return count, nil
}

// Forget removes a document from the manifest so that the next run re-ingests it.
func (m *Manifest) Forget(ctx context.Context, documentID string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM manifest WHERE document_id = ?`, documentID)
	if err != nil {
		return helper.NewError("delete manifest entry", err)
	}
	return nil
}

// Close closes the underlying database.
func (m *Manifest) Close() error {
	return m.db.Close()
}
