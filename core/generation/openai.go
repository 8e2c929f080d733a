package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/aleuy/profilerag/helper"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIGenerator generates completions through the OpenAI chat API or any
// OpenAI compatible endpoint selected by base URL, such as Groq.
type OpenAIGenerator struct {
	client  openai.Client
	modelID string
}

// NewOpenAIGenerator creates a chat completion provider. An empty baseURL
// targets the OpenAI API itself.
func NewOpenAIGenerator(apiKey string, baseURL string, modelID string) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, helper.NewKindError(helper.KindConfigMismatch, "NewOpenAIGenerator", errors.New("missing generation api key"))
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIGenerator{client: openai.NewClient(opts...), modelID: modelID}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, system string, prompt string) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
		Model: openai.ChatModel(g.modelID),
	})
	if err != nil {
		return "", classifyProviderError("Generate", err)
	}
	if len(resp.Choices) == 0 {
		return "", helper.NewKindError(helper.KindGenerationService, "Generate", fmt.Errorf("no choices returned by %s", g.modelID))
	}
	return resp.Choices[0].Message.Content, nil
}

func (g *OpenAIGenerator) ModelID() string {
	return g.modelID
}

// classifyProviderError maps API failures onto the error taxonomy. Rate limits
// and server side failures are retried, everything else is permanent.
func classifyProviderError(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return helper.NewTransientError(helper.KindGenerationService, op, err)
		}
		return helper.NewKindError(helper.KindGenerationService, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return helper.NewError(op, err)
	}
	return helper.NewTransientError(helper.KindGenerationService, op, err)
}
