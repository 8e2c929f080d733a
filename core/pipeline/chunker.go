package pipeline

import (
	"fmt"
	"strings"

	"github.com/aleuy/profilerag/helper"
	"github.com/aleuy/profilerag/model"
)

// Chunker splits normalized document text into segments of at most MaxTokens
// with OverlapTokens shared between consecutive chunks. Splits prefer
// paragraph boundaries, then sentence boundaries, and fall back to word
// boundaries only for oversized sentences. Output is deterministic for a
// given configuration, which keeps chunk identities stable across reruns.
type Chunker struct {
	MaxTokens     int
	OverlapTokens int
}

// NewChunker validates the configuration and creates a chunker.
func NewChunker(maxTokens, overlapTokens int) (*Chunker, error) {
	if maxTokens <= 0 {
		return nil, helper.NewKindError(helper.KindConfigMismatch, "create chunker", fmt.Errorf("max tokens must be positive, got %d", maxTokens))
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		return nil, helper.NewKindError(helper.KindConfigMismatch, "create chunker", fmt.Errorf("overlap tokens must be in [0, max tokens), got %d", overlapTokens))
	}
	return &Chunker{MaxTokens: maxTokens, OverlapTokens: overlapTokens}, nil
}

// Chunk splits the document text into ordered chunks with content derived
// hashes. Empty or whitespace-only text yields no chunks.
func (c *Chunker) Chunk(doc *model.Document) []model.Chunk {
	segments := splitSegments(doc.Text)
	if len(segments) == 0 {
		return nil
	}

	var chunks []model.Chunk
	var current []string
	currentTokens := 0
	carried := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		text := strings.Join(current, " ")
		ordinal := len(chunks)
		chunks = append(chunks, model.Chunk{
			DocumentID: doc.ID,
			Ordinal:    ordinal,
			Text:       text,
			TokenCount: EstimateTokens(text),
			Hash:       model.NewChunkHash(doc.ID, ordinal, text),
		})

		overlap := c.overlapWords(text)
		current = current[:0]
		currentTokens = 0
		carried = 0
		if len(overlap) > 0 {
			current = append(current, strings.Join(overlap, " "))
			currentTokens = len(overlap)
			carried = len(overlap)
		}
	}

	for _, segment := range segments {
		segTokens := EstimateTokens(segment)

		if currentTokens+segTokens > c.MaxTokens && currentTokens > carried {
			flush()
		}

		if currentTokens+segTokens <= c.MaxTokens {
			current = append(current, segment)
			currentTokens += segTokens
			continue
		}

		// The segment does not fit even after the carried overlap: hard
		// split on word boundaries so no chunk exceeds the budget.
		words := strings.Fields(segment)
		for len(words) > 0 {
			room := c.MaxTokens - currentTokens
			if room > len(words) {
				room = len(words)
			}
			current = append(current, strings.Join(words[:room], " "))
			currentTokens += room
			words = words[room:]
			if currentTokens >= c.MaxTokens {
				flush()
			}
		}
	}

	// Flush the tail, but not a chunk that is only carried overlap.
	if currentTokens > 0 && (len(chunks) == 0 || currentTokens > carried) {
		text := strings.Join(current, " ")
		ordinal := len(chunks)
		chunks = append(chunks, model.Chunk{
			DocumentID: doc.ID,
			Ordinal:    ordinal,
			Text:       text,
			TokenCount: EstimateTokens(text),
			Hash:       model.NewChunkHash(doc.ID, ordinal, text),
		})
	}

	return chunks
}

// overlapWords returns the last OverlapTokens words of a chunk text.
func (c *Chunker) overlapWords(text string) []string {
	if c.OverlapTokens == 0 {
		return nil
	}
	words := strings.Fields(text)
	if len(words) <= c.OverlapTokens {
		return words
	}
	return words[len(words)-c.OverlapTokens:]
}

// splitSegments splits text into sentence segments, keeping paragraph order.
func splitSegments(text string) []string {
	var segments []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		segments = append(segments, splitSentences(para)...)
	}
	return segments
}

// splitSentences splits a paragraph on sentence-ending punctuation.
func splitSentences(text string) []string {
	text = strings.ReplaceAll(text, "! ", "!|")
	text = strings.ReplaceAll(text, "? ", "?|")
	text = strings.ReplaceAll(text, ". ", ".|")

	var result []string
	for _, s := range strings.Split(text, "|") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}
