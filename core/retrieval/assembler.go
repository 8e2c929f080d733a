package retrieval

import (
	"sort"
	"strings"

	"github.com/aleuy/profilerag/core/pipeline"
	"github.com/aleuy/profilerag/model"
)

// AssembledContext is the packed grounding text with the ordered list of
// contributing sources for citation.
type AssembledContext struct {
	Text       string
	Sources    []model.SourceRef
	TokenCount int
}

// Assembler packs retrieval results into the context token budget, highest
// score first. When a chunk would exceed the remaining budget, it and every
// lower scoring chunk are dropped: greedy by score, not by size.
type Assembler struct {
	TokenBudget int
}

// NewAssembler creates an assembler for the given token budget.
func NewAssembler(tokenBudget int) *Assembler {
	return &Assembler{TokenBudget: tokenBudget}
}

// Assemble packs results by descending score into the budget.
func (a *Assembler) Assemble(results []*model.RetrievalResult) *AssembledContext {
	ordered := make([]*model.RetrievalResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})

	var parts []string
	var sources []model.SourceRef
	used := 0

	for _, result := range ordered {
		tokens := pipeline.EstimateTokens(result.Entry.Text)
		if used+tokens > a.TokenBudget {
			break
		}
		parts = append(parts, result.Entry.Text)
		sources = append(sources, model.SourceRef{
			DocumentID:   result.Entry.DocumentID,
			ChunkOrdinal: result.Entry.Ordinal,
		})
		used += tokens
	}

	return &AssembledContext{
		Text:       strings.Join(parts, "\n\n"),
		Sources:    sources,
		TokenCount: used,
	}
}
