package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aleuy/profilerag/helper"
	"github.com/aleuy/profilerag/model"
)

// QdrantIndex is a minimal REST client to a Qdrant collection using cosine
// distance. The collection is created on first use if missing.
type QdrantIndex struct {
	url        string
	apiKey     string
	collection string
	dim        int
	client     *http.Client
}

// QdrantConfig contains connection details for a Qdrant semantic index.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

// NewQdrantIndex creates the client and ensures the collection exists with
// the configured vector size.
func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.Dimension <= 0 {
		return nil, helper.NewKindError(helper.KindConfigMismatch, "qdrant index", fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dimension))
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	q := &QdrantIndex{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dim:        cfg.Dimension,
		client:     &http.Client{Timeout: timeout},
	}

	if err := q.ensureCollection(context.Background()); err != nil {
		return nil, err
	}
	return q, nil
}

// Collection returns the collection name.
func (q *QdrantIndex) Collection() string {
	return q.collection
}

// Dimension returns the pinned embedding dimension.
func (q *QdrantIndex) Dimension() int {
	return q.dim
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     q.dim,
			"distance": "Cosine",
		},
	}
	// Qdrant returns 200 for an existing collection with the same schema.
	var out json.RawMessage
	err := q.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", q.collection), body, &out)
	if err != nil {
		return err
	}
	return nil
}

// Upsert writes points with deterministic UUIDs derived from chunk hashes, so
// re-ingesting unchanged content overwrites instead of duplicating.
func (q *QdrantIndex) Upsert(ctx context.Context, entries []*model.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	points := make([]map[string]any, len(entries))
	for i, entry := range entries {
		if len(entry.Vector) != q.dim {
			return helper.NewKindError(helper.KindConfigMismatch, "upsert chunk",
				fmt.Errorf("vector dimension %d does not match index dimension %d", len(entry.Vector), q.dim))
		}
		points[i] = map[string]any{
			"id":     uuid.NewSHA1(uuid.NameSpaceOID, []byte(entry.ChunkHash)).String(),
			"vector": entry.Vector,
			"payload": map[string]any{
				"chunk_hash":  entry.ChunkHash,
				"document_id": entry.DocumentID,
				"ordinal":     entry.Ordinal,
				"content":     entry.Text,
				"category":    entry.Category,
			},
		}
	}

	body := map[string]any{"points": points}
	var out json.RawMessage
	return q.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", q.collection), body, &out)
}

// Query searches the k nearest points, optionally restricted to categories.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, k int, filter *Filter) ([]*model.RetrievalResult, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	if filter != nil && len(filter.Categories) > 0 {
		body["filter"] = map[string]any{
			"must": []map[string]any{
				{"key": "category", "match": map[string]any{"any": filter.Categories}},
			},
		}
	}

	var out struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload struct {
				ChunkHash  string `json:"chunk_hash"`
				DocumentID string `json:"document_id"`
				Ordinal    int    `json:"ordinal"`
				Content    string `json:"content"`
				Category   string `json:"category"`
			} `json:"payload"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", q.collection), body, &out)
	if err != nil {
		return nil, err
	}

	results := make([]*model.RetrievalResult, len(out.Result))
	for i, hit := range out.Result {
		results[i] = &model.RetrievalResult{
			Entry: &model.IndexEntry{
				ChunkHash:  hit.Payload.ChunkHash,
				DocumentID: hit.Payload.DocumentID,
				Ordinal:    hit.Payload.Ordinal,
				Text:       hit.Payload.Content,
				Category:   hit.Payload.Category,
			},
			Score: hit.Score,
		}
	}
	return results, nil
}

// Count returns the exact number of stored points.
func (q *QdrantIndex) Count(ctx context.Context) (int64, error) {
	var out struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/count", q.collection), map[string]any{"exact": true}, &out)
	if err != nil {
		return 0, err
	}
	return out.Result.Count, nil
}

// DeleteChunksByDocument removes all points of one document. Qdrant does not
// report the number deleted, so -1 is returned on success.
func (q *QdrantIndex) DeleteChunksByDocument(ctx context.Context, documentID string) (int, error) {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "document_id", "match": map[string]any{"value": documentID}},
			},
		},
	}
	var out json.RawMessage
	err := q.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", q.collection), body, &out)
	if err != nil {
		return 0, err
	}
	return -1, nil
}

func (q *QdrantIndex) do(ctx context.Context, method, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return helper.NewError("marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.url+path, bytes.NewReader(data))
	if err != nil {
		return helper.NewError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return helper.NewTransientError(helper.KindIndexUnavailable, "qdrant request", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return helper.NewTransientError(helper.KindIndexUnavailable, "read qdrant response", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return helper.NewTransientError(helper.KindIndexUnavailable, "qdrant request",
			fmt.Errorf("%s %s: %s", method, path, resp.Status))
	}
	if resp.StatusCode >= 300 {
		return helper.NewKindError(helper.KindIndexUnavailable, "qdrant request",
			fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, string(payload)))
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return helper.NewError("decode qdrant response", err)
		}
	}
	return nil
}
