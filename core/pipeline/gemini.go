package pipeline

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/aleuy/profilerag/helper"
)

// GeminiEmbedder produces embeddings via the Gemini API (text-embedding-004
// by default, 768 dimensions).
type GeminiEmbedder struct {
	client  *genai.Client
	modelID string
	dim     int
}

// NewGeminiEmbedder creates the client with the given API key.
func NewGeminiEmbedder(ctx context.Context, apiKey, modelID string, dim int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, helper.NewKindError(helper.KindConfigMismatch, "gemini embedder", fmt.Errorf("missing API key"))
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, helper.NewError("create gemini client", err)
	}

	return &GeminiEmbedder{client: client, modelID: modelID, dim: dim}, nil
}

// Dimension returns the configured embedding dimension.
func (e *GeminiEmbedder) Dimension() int {
	return e.dim
}

// ModelID returns the embedding model identifier.
func (e *GeminiEmbedder) ModelID() string {
	return e.modelID
}

// Embed returns one vector per text, in order. Rate limit and server errors
// are transient; other API errors are permanent.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.modelID, contents, nil)
	if err != nil {
		return nil, classifyGeminiError("embed content", err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, helper.NewKindError(helper.KindEmbeddingService, "embed content",
			fmt.Errorf("got %d embeddings for %d texts", len(resp.Embeddings), len(texts)))
	}

	vectors := make([][]float32, len(texts))
	for i, embedding := range resp.Embeddings {
		vectors[i] = embedding.Values
	}
	return vectors, nil
}

func classifyGeminiError(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code >= 500 {
			return helper.NewTransientError(helper.KindEmbeddingService, op, err)
		}
		return helper.NewKindError(helper.KindEmbeddingService, op, err)
	}
	// Network level failures are worth a retry.
	return helper.NewTransientError(helper.KindEmbeddingService, op, err)
}
