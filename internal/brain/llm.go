package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/cartomix/opus/internal/domain"
)

// LLMDecider is the strategy engine's path B (spec.md §4.6.B): it builds a
// prompt describing both tracks and the compatible overlay candidates, asks
// an OpenAI-compatible model for a transition plan, and parses its strict
// JSON reply into a MixStrategy. Any failure here is recovered by the
// caller falling back to Heuristic — LLMDecider never needs to be perfect.
type LLMDecider struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewLLMDecider builds a decider against an OpenAI-compatible endpoint.
// baseURL may be empty to use the default OpenAI API; apiKey empty means
// "no LLM configured" and the caller should skip straight to Heuristic.
func NewLLMDecider(baseURL, apiKey, model string, logger *slog.Logger) *LLMDecider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &LLMDecider{client: &client, model: model, logger: logger}
}

// llmStrategy is the strict JSON shape the model must reply with. Every
// field is optional from the model's point of view — the clamp pass fills
// in anything missing or invalid.
type llmStrategy struct {
	TransitionType       string   `json:"transition_type"`
	TransitionLengthBars int      `json:"transition_length_bars"`
	SongAStretchRatio    float64  `json:"song_a_stretch_ratio"`
	SongBStretchRatio    float64  `json:"song_b_stretch_ratio"`
	SongAPitchSemitones  float64  `json:"song_a_pitch_semitones"`
	SongBPitchSemitones  float64  `json:"song_b_pitch_semitones"`
	StartOffsetBars      int      `json:"start_offset_bars"`
	OverlayInstrumentURL string   `json:"overlay_instrument_url"`
	OverlayVocalURL      string   `json:"overlay_vocal_url"`
	OverlayEntrySec      *float64 `json:"overlay_entry_sec"`
	Reasoning            string   `json:"reasoning"`
	DJComment            string   `json:"dj_comment"`
	FXChain              string   `json:"fx_chain"`
}

// Decide calls the LLM and returns a MixStrategy pre-clamp (the caller
// still runs Clamp). bars is reused from the parsed llmStrategy so the
// crossfade recompute in spec.md §4.6.B stays grounded in bars_to_seconds.
func (d *LLMDecider) Decide(ctx context.Context, a, b *domain.SongAnalysis, systemPrompt string, candidates OverlayCandidates) (*domain.MixStrategy, error) {
	prompt := buildPrompt(a, b, candidates)

	resp, err := d.client.Responses.New(ctx, responses.ResponseNewParams{
		Model: d.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: responses.ResponseInputParam{
				responses.ResponseInputItemParamOfMessage(prompt, responses.EasyInputMessageRoleUser),
			},
		},
		Instructions: openai.String(systemPrompt),
		Reasoning: shared.ReasoningParam{
			Effort: responses.ReasoningEffortLow,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llm call failed: %w", err)
	}

	raw := stripCodeFence(resp.OutputText())
	var parsed llmStrategy
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse llm strategy json: %w", err)
	}

	avgBPM := (a.BPM + b.BPM) / 2
	return &domain.MixStrategy{
		TransitionType:          domain.TransitionType(parsed.TransitionType),
		TransitionLengthBars:    parsed.TransitionLengthBars,
		CrossfadeSec:            barsToSeconds(parsed.TransitionLengthBars, avgBPM),
		SongAStretchRatio:       parsed.SongAStretchRatio,
		SongBStretchRatio:       parsed.SongBStretchRatio,
		SongAPitchSemitones:     parsed.SongAPitchSemitones,
		SongBPitchSemitones:     parsed.SongBPitchSemitones,
		SongATransitionStartSec: a.OutroStartSec,
		SongBTransitionStartSec: 0,
		StartOffsetBars:         parsed.StartOffsetBars,
		OverlayInstrumentURL:    parsed.OverlayInstrumentURL,
		OverlayVocalURL:         parsed.OverlayVocalURL,
		OverlayEntrySec:         parsed.OverlayEntrySec,
		Reasoning:               parsed.Reasoning,
		DJComment:               parsed.DJComment,
		FXChain:                 parsed.FXChain,
	}, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

func buildPrompt(a, b *domain.SongAnalysis, candidates OverlayCandidates) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Track A: bpm=%.1f key=%s energy=%d/10\n", a.BPM, a.KeyCamelot, a.Energy10())
	fmt.Fprintf(&sb, "Track B: bpm=%.1f key=%s energy=%d/10\n", b.BPM, b.KeyCamelot, b.Energy10())
	fmt.Fprintf(&sb, "outro_start_sec (A): %.1f\n", a.OutroStartSec)
	fmt.Fprintf(&sb, "phrase_starts_sec (A, last 8): %v\n", lastN(a.PhraseStartsSec, 8))
	fmt.Fprintf(&sb, "phrase_starts_sec (B, first 8): %v\n", firstN(b.PhraseStartsSec, 8))
	sb.WriteString("Compatible instrument overlays: ")
	for _, e := range candidates.Instruments {
		fmt.Fprintf(&sb, "%s(%s) ", e.Name, refOf(e))
	}
	sb.WriteString("\nCompatible vocal overlays: ")
	for _, e := range candidates.Vocals {
		fmt.Fprintf(&sb, "%s(%s) ", e.Name, refOf(e))
	}
	sb.WriteString("\nRespond with a single strict JSON object matching the strategy schema.")
	return sb.String()
}

func lastN(vs []float64, n int) []float64 {
	if len(vs) <= n {
		return vs
	}
	return vs[len(vs)-n:]
}

func firstN(vs []float64, n int) []float64 {
	if len(vs) <= n {
		return vs
	}
	return vs[:n]
}

func barsToSeconds(bars int, bpm float64) float64 {
	if bars <= 0 || bpm <= 0 {
		return 0
	}
	return float64(bars) * 4 * 60 / bpm
}
