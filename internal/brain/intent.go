// Package brain implements the Strategy Engine (C6): the deterministic
// heuristic and LLM-backed decision paths for one (A,B) transition, and the
// clamp pass both paths share. Grounded in the original decision.py
// (original_source/backend/app/decision.py) for exact arithmetic, shaped
// like internal/planner/planner.go's pure-function-returning-explanation-
// struct style from the teacher.
package brain

import (
	"strings"

	"github.com/cartomix/opus/internal/domain"
)

// keywordBucket is one entry in the DJ-intent keyword table. Buckets are
// tried in order; the first whose Keywords match the prompt wins.
type keywordBucket struct {
	keywords []string
	bars     int
	startEarly bool
	decisive   bool
	vibe       string
}

var buckets = []keywordBucket{
	{keywords: []string{"progressive", "long-form", "long form"}, bars: 64, startEarly: true, vibe: "progressive"},
	{keywords: []string{"dynamic", "sharp"}, bars: 16, decisive: true, vibe: "dynamic"},
	{keywords: []string{"closing", "late"}, bars: 8, decisive: true, vibe: "closing"},
	{keywords: []string{"warmup", "warm-up", "warm up", "sunset", "opening"}, bars: 16, startEarly: true, vibe: "warmup"},
	{keywords: []string{"emotional"}, bars: 16, startEarly: true, vibe: "emotional"},
	{keywords: []string{"peak", "aggressive"}, bars: 4, decisive: true, vibe: "peak"},
}

// ParseIntent deterministically maps a free-text DJ prompt onto an Intent,
// per spec.md §4.6. No LLM is involved in this step. defaultBars is used
// when no keyword bucket matches (admin.default_bars).
func ParseIntent(prompt string, defaultBars int) domain.Intent {
	lower := strings.ToLower(prompt)
	for _, b := range buckets {
		for _, kw := range b.keywords {
			if strings.Contains(lower, kw) {
				return domain.Intent{
					PreferredBars: b.bars,
					Vibe:          b.vibe,
					StartEarly:    b.startEarly,
					Decisive:      b.decisive,
				}
			}
		}
	}
	return domain.Intent{PreferredBars: defaultBars, Vibe: "default"}
}
