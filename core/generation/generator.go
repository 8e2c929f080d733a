// Package generation turns a question and its assembled context into a
// grounded natural language answer, falling back to a deterministic extract
// of the context when the language model is unavailable.
package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aleuy/profilerag/helper"
	"github.com/aleuy/profilerag/model"
	"github.com/cenkalti/backoff/v4"
)

// Generator produces a completion for a system instruction and user prompt.
type Generator interface {
	Generate(ctx context.Context, system string, prompt string) (string, error)
	ModelID() string
}

const systemInstruction = `You answer questions about one person's professional profile.
Use only the provided context. If the context does not contain the answer, say so plainly.
Never invent employers, dates, projects or skills that are not in the context.
Answer in the language of the question.`

// AnswerGenerator wraps a Generator with retry on transient failures and a
// deterministic fallback so a single provider outage never fails a query.
type AnswerGenerator struct {
	provider   Generator
	maxRetries uint64
	log        *slog.Logger
}

// NewAnswerGenerator creates an answer generator over the given provider.
func NewAnswerGenerator(provider Generator, maxRetries int, log *slog.Logger) *AnswerGenerator {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &AnswerGenerator{provider: provider, maxRetries: uint64(maxRetries), log: log}
}

// Answer generates a grounded answer for the question from the assembled
// context. Provider failures after retries produce a fallback answer built
// from the context itself, marked with the failure kind, never an error.
func (g *AnswerGenerator) Answer(ctx context.Context, question string, contextText string, sources []model.SourceRef) *model.Answer {
	prompt := buildPrompt(question, contextText)

	var text string
	operation := func() error {
		out, err := g.provider.Generate(ctx, systemInstruction, prompt)
		if err != nil {
			if helper.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if strings.TrimSpace(out) == "" {
			return backoff.Permanent(helper.NewKindError(helper.KindGenerationService, "generate", fmt.Errorf("empty completion from %s", g.provider.ModelID())))
		}
		text = out
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), g.maxRetries), ctx))
	if err != nil {
		kind := helper.KindOf(err)
		if kind == "" {
			kind = helper.KindGenerationService
		}
		g.log.Warn("generation failed, serving fallback answer", slog.String("model", g.provider.ModelID()), slog.String("kind", string(kind)), slog.String("error", err.Error()))
		return fallbackAnswer(contextText, kind)
	}

	return &model.Answer{Text: strings.TrimSpace(text), Sources: sources}
}

func buildPrompt(question string, contextText string) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	b.WriteString(contextText)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

// fallbackAnswer returns the highest ranked context verbatim so the caller
// still sees grounded material, clearly prefixed as a degraded response.
func fallbackAnswer(contextText string, kind helper.Kind) *model.Answer {
	excerpt := contextText
	if paragraphs := strings.SplitN(contextText, "\n\n", 2); len(paragraphs) > 0 {
		excerpt = strings.TrimSpace(paragraphs[0])
	}
	return &model.Answer{
		Text:           "The answer service is currently unavailable. The most relevant profile excerpt is:\n\n" + excerpt,
		Sources:        nil,
		FallbackReason: kind,
	}
}
