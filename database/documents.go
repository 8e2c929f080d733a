package database

import (
	"context"
	"fmt"
	"time"

	"github.com/aleuy/profilerag/helper"
	"github.com/aleuy/profilerag/model"
	loadSql "github.com/aleuy/profilerag/sql"
)

// DocumentsDBHandlerFunctions defines the interface for Documents database operations.
type DocumentsDBHandlerFunctions interface {
	UpsertDocument(ctx context.Context, doc *model.Document) error
	SelectDocument(ctx context.Context, id string) (*model.Document, error)
	SelectAllDocuments(ctx context.Context, limit int) ([]*model.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

// DocumentsDBHandler handles document-related database operations
type DocumentsDBHandler struct {
	db *helper.Database
}

// NewDocumentsDBHandler creates a new documents database handler.
// It initializes the database connection and loads document-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewDocumentsDBHandler(db *helper.Database, force bool) (*DocumentsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	documentsDbHandler := &DocumentsDBHandler{
		db: db,
	}

	err := loadSql.LoadDocumentsSql(documentsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load documents sql", err)
	}

	err = documentsDbHandler.createTable()
	if err != nil {
		return nil, err
	}

	db.Logger.Info("Initialized DocumentsDBHandler")

	return documentsDbHandler, nil
}

// createTable creates the 'documents' table in the database.
// If the table already exists, it does not create it again.
func (h *DocumentsDBHandler) createTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_documents();`)
	if err != nil {
		return helper.NewKindError(helper.KindIndexUnavailable, "initialize documents table", err)
	}

	h.db.Logger.Info("Checked/created table documents")

	return nil
}

// UpsertDocument inserts a document or supersedes the stored version when the
// content hash changed. The document text is used for processing only and is
// never stored.
func (h *DocumentsDBHandler) UpsertDocument(ctx context.Context, doc *model.Document) error {
	row := h.db.Instance.QueryRowContext(ctx,
		`SELECT * FROM upsert_document($1, $2, $3, $4, $5)`,
		doc.ID,
		doc.Source,
		doc.Category,
		doc.ContentHash,
		doc.Metadata,
	)

	var updatedAt time.Time
	err := row.Scan(
		&doc.ID,
		&doc.Source,
		&doc.Category,
		&doc.ContentHash,
		&doc.Metadata,
		&doc.LoadedAt,
		&updatedAt,
	)
	if err != nil {
		return helper.NewTransientError(helper.KindIndexUnavailable, "upsert document", err)
	}

	return nil
}

// SelectDocument retrieves a document by ID
func (h *DocumentsDBHandler) SelectDocument(ctx context.Context, id string) (*model.Document, error) {
	row := h.db.Instance.QueryRowContext(ctx, `SELECT * FROM select_document($1)`, id)

	doc := &model.Document{}
	var updatedAt time.Time
	err := row.Scan(
		&doc.ID,
		&doc.Source,
		&doc.Category,
		&doc.ContentHash,
		&doc.Metadata,
		&doc.LoadedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return doc, nil
}

// SelectAllDocuments retrieves up to limit documents in load order.
func (h *DocumentsDBHandler) SelectAllDocuments(ctx context.Context, limit int) ([]*model.Document, error) {
	rows, err := h.db.Instance.QueryContext(ctx, `SELECT * FROM select_all_documents($1)`, limit)
	if err != nil {
		return nil, helper.NewTransientError(helper.KindIndexUnavailable, "select all documents", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc := &model.Document{}
		var updatedAt time.Time
		err := rows.Scan(
			&doc.ID,
			&doc.Source,
			&doc.Category,
			&doc.ContentHash,
			&doc.Metadata,
			&doc.LoadedAt,
			&updatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// DeleteDocument deletes a document by ID
func (h *DocumentsDBHandler) DeleteDocument(ctx context.Context, id string) error {
	_, err := h.db.Instance.ExecContext(ctx, `SELECT delete_document($1)`, id)
	if err != nil {
		return helper.NewTransientError(helper.KindIndexUnavailable, "delete document", err)
	}
	return nil
}
