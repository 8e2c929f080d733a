// Package ingestion walks a corpus tree and drives every document through
// load, chunk, embed and index. Documents are processed concurrently, chunks
// inside one document stay in order.
package ingestion

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/aleuy/profilerag/core/pipeline"
	"github.com/aleuy/profilerag/database"
	"github.com/aleuy/profilerag/helper"
	"github.com/aleuy/profilerag/model"
)

// DocumentStore persists document records alongside their chunks. Optional.
type DocumentStore interface {
	UpsertDocument(ctx context.Context, doc *model.Document) error
}

// ChangeManifest remembers which content hash was last ingested per document
// so unchanged documents are skipped on re-ingestion. Optional.
type ChangeManifest interface {
	Unchanged(ctx context.Context, documentID, contentHash string) (bool, error)
	MarkIngested(ctx context.Context, documentID, contentHash string) error
}

// Failure records one document that could not be ingested.
type Failure struct {
	Source string
	Kind   helper.Kind
	Err    error
}

// Report summarizes one ingestion run.
type Report struct {
	Processed int
	Skipped   int
	Failed    int
	Chunks    int
	Failures  []Failure
	Duration  time.Duration
}

// Ingestor orchestrates the ingestion pipeline over a worker pool.
type Ingestor struct {
	loader    *pipeline.Loader
	chunker   *pipeline.Chunker
	embedder  pipeline.Embedder
	index     database.Index
	documents DocumentStore
	manifest  ChangeManifest
	workers   int
	log       *slog.Logger
}

// NewIngestor creates an ingestor. documents and manifest may be nil, in which
// case document records are not persisted and no change detection happens.
func NewIngestor(loader *pipeline.Loader, chunker *pipeline.Chunker, embedder pipeline.Embedder, index database.Index, documents DocumentStore, manifest ChangeManifest, workers int, log *slog.Logger) *Ingestor {
	if workers < 1 {
		workers = 1
	}
	return &Ingestor{
		loader:    loader,
		chunker:   chunker,
		embedder:  embedder,
		index:     index,
		documents: documents,
		manifest:  manifest,
		workers:   workers,
		log:       log,
	}
}

// IngestTree ingests every supported file below root. A failing document is
// recorded in the report and never aborts the run. The returned error covers
// only walk failures and pool setup, not per-document conditions.
func (in *Ingestor) IngestTree(ctx context.Context, root string) (*Report, error) {
	start := time.Now()

	var paths []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if entry.Name() != "." && len(entry.Name()) > 1 && entry.Name()[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, helper.NewError("walk corpus", err)
	}

	pool, err := ants.NewPool(in.workers)
	if err != nil {
		return nil, helper.NewError("create worker pool", err)
	}
	defer pool.Release()

	report := &Report{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, path := range paths {
		if !in.loader.Supported(path) {
			report.Skipped++
			in.log.Debug("Skipping unsupported file", slog.String("path", path))
			continue
		}

		wg.Add(1)
		submitted := path
		submitErr := pool.Submit(func() {
			defer wg.Done()
			chunks, err := in.ingestFile(ctx, root, submitted)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && chunks < 0:
				report.Skipped++
			case err == nil:
				report.Processed++
				report.Chunks += chunks
			case helper.IsKind(err, helper.KindEmptyDocument):
				// Empty documents are a corpus quirk, not a failure.
				report.Skipped++
				in.log.Warn("Skipped empty document", slog.String("path", submitted))
			default:
				report.Failed++
				report.Failures = append(report.Failures, Failure{Source: submitted, Kind: helper.KindOf(err), Err: err})
				in.log.Warn("Failed to ingest document", slog.String("path", submitted), slog.String("error", err.Error()))
			}
		})
		if submitErr != nil {
			wg.Done()
			// Already submitted tasks are still running; let them drain
			// before returning.
			wg.Wait()
			return nil, helper.NewError("submit ingestion task", submitErr)
		}
	}

	wg.Wait()
	report.Duration = time.Since(start)
	in.log.Info("Ingestion finished",
		slog.Int("processed", report.Processed),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Int("chunks", report.Chunks),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// ingestFile runs one document through the pipeline. A negative chunk count
// with a nil error signals an unchanged document that was skipped.
func (in *Ingestor) ingestFile(ctx context.Context, root, path string) (int, error) {
	if ctx.Err() != nil {
		return 0, helper.NewError("ingest file", ctx.Err())
	}

	doc, err := in.loader.LoadFile(root, path)
	if err != nil {
		return 0, err
	}

	if in.manifest != nil {
		unchanged, err := in.manifest.Unchanged(ctx, doc.ID, doc.ContentHash)
		if err != nil {
			return 0, err
		}
		if unchanged {
			in.log.Debug("Document unchanged, skipping", slog.String("source", doc.Source))
			return -1, nil
		}
	}

	chunks := in.chunker.Chunk(doc)
	if len(chunks) == 0 {
		return 0, helper.NewKindError(helper.KindEmptyDocument, "chunk document", nil)
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors, err := in.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	entries := make([]*model.IndexEntry, len(chunks))
	for i, chunk := range chunks {
		entries[i] = &model.IndexEntry{
			ChunkHash:  chunk.Hash,
			DocumentID: doc.ID,
			Ordinal:    chunk.Ordinal,
			Text:       chunk.Text,
			Category:   doc.Category,
			Vector:     vectors[i],
			Metadata:   doc.Metadata,
			CreatedAt:  now,
		}
	}
	if err := in.index.Upsert(ctx, entries); err != nil {
		return 0, err
	}

	if in.documents != nil {
		if err := in.documents.UpsertDocument(ctx, doc); err != nil {
			return 0, err
		}
	}
	if in.manifest != nil {
		if err := in.manifest.MarkIngested(ctx, doc.ID, doc.ContentHash); err != nil {
			return 0, err
		}
	}

	in.log.Debug("Ingested document", slog.String("source", doc.Source), slog.Int("chunks", len(chunks)))
	return len(chunks), nil
}
