package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/aleuy/profilerag/helper"
)

// OpenAIEmbedder produces embeddings via an OpenAI-compatible embeddings
// endpoint. A custom base URL selects compatible providers.
type OpenAIEmbedder struct {
	client  openai.Client
	modelID string
	dim     int
}

// NewOpenAIEmbedder creates the client. baseURL may be empty for the default
// OpenAI endpoint.
func NewOpenAIEmbedder(apiKey, baseURL, modelID string, dim int) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, helper.NewKindError(helper.KindConfigMismatch, "openai embedder", fmt.Errorf("missing API key"))
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIEmbedder{
		client:  openai.NewClient(opts...),
		modelID: modelID,
		dim:     dim,
	}, nil
}

// Dimension returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dim
}

// ModelID returns the embedding model identifier.
func (e *OpenAIEmbedder) ModelID() string {
	return e.modelID
}

// Embed returns one vector per text, in order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.modelID),
	})
	if err != nil {
		return nil, classifyOpenAIError(helper.KindEmbeddingService, "create embeddings", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, helper.NewKindError(helper.KindEmbeddingService, "create embeddings",
			fmt.Errorf("got %d embeddings for %d texts", len(resp.Data), len(texts)))
	}

	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		idx := int(data.Index)
		if idx < 0 || idx >= len(texts) {
			return nil, helper.NewKindError(helper.KindEmbeddingService, "create embeddings",
				fmt.Errorf("embedding index %d out of range", idx))
		}
		vector := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vector[i] = float32(v)
		}
		vectors[idx] = vector
	}
	return vectors, nil
}

// classifyOpenAIError maps SDK errors onto the failure taxonomy: HTTP 429 and
// 5xx are transient, other API errors permanent, transport errors transient.
func classifyOpenAIError(kind helper.Kind, op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return helper.NewTransientError(kind, op, err)
		}
		return helper.NewKindError(kind, op, err)
	}
	return helper.NewTransientError(kind, op, err)
}
