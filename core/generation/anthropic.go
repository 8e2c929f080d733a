package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aleuy/profilerag/helper"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicGenerator generates completions through the Anthropic messages API.
type AnthropicGenerator struct {
	client    anthropic.Client
	modelID   string
	maxTokens int64
}

// NewAnthropicGenerator creates a messages API provider.
func NewAnthropicGenerator(apiKey string, modelID string) (*AnthropicGenerator, error) {
	if apiKey == "" {
		return nil, helper.NewKindError(helper.KindConfigMismatch, "NewAnthropicGenerator", errors.New("missing generation api key"))
	}
	return &AnthropicGenerator{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		modelID:   modelID,
		maxTokens: 1024,
	}, nil
}

func (g *AnthropicGenerator) Generate(ctx context.Context, system string, prompt string) (string, error) {
	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.modelID),
		MaxTokens: g.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", classifyAnthropicError("Generate", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", helper.NewKindError(helper.KindGenerationService, "Generate", fmt.Errorf("no text content returned by %s", g.modelID))
	}
	return b.String(), nil
}

func (g *AnthropicGenerator) ModelID() string {
	return g.modelID
}

func classifyAnthropicError(op string, err error) error {
	var apiErr *anthropic.Error
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
