package services

import (
	"context"

	"github.com/stipendhq/stipend-engine/pkg/llm"
)

// Generator is the external draft generation service consumed by the
// synthesis workflow. Implemented by llm.DraftWriter; tests inject a stub.
type Generator interface {
	Generate(ctx context.Context, genCtx *llm.GenerationContext) (*llm.GenerationResult, error)
}

var _ Generator = (*llm.DraftWriter)(nil)
