package pipeline

import (
	"context"
	"fmt"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/aleuy/profilerag/helper"
)

// LocalEmbedder runs a sentence transformer model in-process via hugot.
// The default all-MiniLM-L6-v2 model produces 384-dimensional embeddings and
// needs no provider credentials, which makes it useful for air-gapped corpora.
type LocalEmbedder struct {
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	modelID  string
	dim      int
}

// NewLocalEmbedder downloads the model if needed and initializes the hugot
// session with the Go backend.
func NewLocalEmbedder(modelID string, dim int) (*LocalEmbedder, error) {
	if modelID == "" {
		modelID = "sentence-transformers/all-MiniLM-L6-v2"
		dim = 384
	}

	modelPath, err := helper.PrepareModel(modelID, "onnx/model.onnx")
	if err != nil {
		return nil, helper.NewError("prepare model", err)
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, helper.NewError("create hugot session", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "profile-embedder-pipeline",
	}
	sentencePipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, helper.NewError("create sentence pipeline", fmt.Errorf("%w (cleanup error: %v)", err, destroyErr))
		}
		return nil, helper.NewError("create sentence pipeline", err)
	}

	return &LocalEmbedder{
		session:  session,
		pipeline: sentencePipeline,
		modelID:  modelID,
		dim:      dim,
	}, nil
}

// Dimension returns the model's embedding dimension.
func (e *LocalEmbedder) Dimension() int {
	return e.dim
}

// ModelID returns the embedding model identifier.
func (e *LocalEmbedder) ModelID() string {
	return e.modelID
}

// Embed returns one vector per text, in order. Local inference failures are
// permanent; there is no point retrying them.
func (e *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	result, err := e.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, helper.NewKindError(helper.KindEmbeddingService, "run embedding pipeline", err)
	}

	if len(result.Embeddings) != len(texts) {
		return nil, helper.NewKindError(helper.KindEmbeddingService, "run embedding pipeline",
			fmt.Errorf("got %d embeddings for %d texts", len(result.Embeddings), len(texts)))
	}

	return result.Embeddings, nil
}

// Close releases the hugot session.
func (e *LocalEmbedder) Close() error {
	return e.session.Destroy()
}
