package brain

import (
	"context"
	"log/slog"

	"github.com/cartomix/opus/internal/domain"
)

// Engine ties the heuristic and LLM strategy paths together behind the
// single entrypoint a job worker calls for each transition in a roadmap.
type Engine struct {
	llm         *LLMDecider
	defaultBars int
	logger      *slog.Logger
}

// NewEngine builds a strategy Engine. llm may be nil, meaning no LLM is
// configured and every transition uses the heuristic path.
func NewEngine(llm *LLMDecider, defaultBars int, logger *slog.Logger) *Engine {
	return &Engine{llm: llm, defaultBars: defaultBars, logger: logger}
}

// Decide produces a fully clamped MixStrategy for one (a, b) transition.
// It tries the LLM path first when configured; any LLM error (network,
// malformed JSON, missing fields) falls back to the heuristic path
// silently, per the Decision error-handling rule: LLM failure never
// surfaces as a user-visible error.
func (e *Engine) Decide(ctx context.Context, a, b *domain.SongAnalysis, prompt string, admin domain.AdminConfig, candidates OverlayCandidates, numTracksInSet int) *domain.MixStrategy {
	intent := ParseIntent(prompt, e.defaultBars)

	var strategy *domain.MixStrategy
	if e.llm != nil {
		s, err := e.llm.Decide(ctx, a, b, admin.SystemPrompt, candidates)
		if err != nil {
			if e.logger != nil {
				e.logger.Warn("llm strategy path failed, falling back to heuristic", "error", err)
			}
		} else {
			strategy = s
		}
	}
	if strategy == nil {
		strategy = Heuristic(a, b, intent, admin)
	}

	return Clamp(strategy, a, b, admin, candidates, numTracksInSet)
}
