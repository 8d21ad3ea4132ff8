package analyzer

import (
	"context"

	"github.com/eugenenazirov/canvas-calculator/internal/calculator"
)

// Unavailable is wired in when no analyzer service is configured.
type Unavailable struct{}

func (Unavailable) Analyze(context.Context, calculator.Image, map[string]any) ([]calculator.Answer, error) {
	return nil, calculator.ErrAnalyzerUnavailable
}
