package core

import (
	"context"
	"fmt"

	"github.com/mnemolab/recall/internal/llm"
)

// ExtractConcepts asks the model for the key concepts in the content, one
// per line. Blank lines and bullet markers are stripped.
func (kb *KnowledgeBase) ExtractConcepts(ctx context.Context, content string) ([]string, error) {
	prompt := fmt.Sprintf(kb.prompts.ConceptExtraction, content)
	response, err := kb.llm.Generate(ctx, kb.prompts.ConceptExtractionSystem, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to extract concepts: %w", err)
	}
	return llm.ParseLines(response), nil
}
