package brain

import (
	"fmt"

	"github.com/cartomix/opus/internal/domain"
	"github.com/cartomix/opus/internal/harmony"
)

// Heuristic implements the deterministic strategy path (spec.md §4.6.A),
// used whenever no LLM is configured or the LLM path fails. It is pure:
// same inputs always produce the same MixStrategy, prior to the shared
// clamp pass.
func Heuristic(a, b *domain.SongAnalysis, intent domain.Intent, admin domain.AdminConfig) *domain.MixStrategy {
	bpmDiff := absf(a.BPM - b.BPM)
	avgBPM := (a.BPM + b.BPM) / 2

	energyJump := abs(a.Energy10() - b.Energy10())

	bars := intent.PreferredBars
	if bars == 0 {
		bars = admin.DefaultBars
	}
	if energyJump > 3 && bars > 8 {
		bars = 8
	}

	crossfade := harmony.BarsToSeconds(bars, avgBPM)
	if intent.Decisive {
		crossfade = minf(crossfade, harmony.BarsToSeconds(8, avgBPM))
	}
	crossfade = minf(crossfade, a.DurationSec-1, b.DurationSec-1, 120)

	transitionType := domain.TransitionCrossfade
	ratioA, ratioB := 1.0, 1.0
	if bpmDiff < 5 && b.BPM > 0 {
		transitionType = domain.TransitionBeatMatchCrossfade
		ratioB = clampf(a.BPM/b.BPM, 0.9, 1.1)
	}

	n := 8
	if intent.StartEarly {
		n = 16
	}
	startA := clampf(a.DurationSec-harmony.BarsToSeconds(n, a.BPM)-crossfade/2, 0, a.DurationSec-crossfade-0.5)
	lo := maxf(a.OutroStartSec-30, startA-15)
	hi := startA + 15
	if snapped, ok := harmony.NearestPhraseStartWithin(startA, a.PhraseStartsSec, lo, hi); ok {
		startA = snapped
	}

	bassSwap := crossfade * (0.8*(1-admin.BassSwapIntensity) + 0.2*admin.BassSwapIntensity)

	harmonicDistance := harmony.Distance(a.KeyCamelot, b.KeyCamelot)
	style := "wash_out"
	switch {
	case harmonicDistance <= 1:
		style = "long_atmospheric"
	case bars <= 8:
		style = "short_rhythmic"
	}

	return &domain.MixStrategy{
		TransitionType:          transitionType,
		TransitionLengthBars:    bars,
		CrossfadeSec:            crossfade,
		BassSwapSec:             bassSwap,
		SongAStretchRatio:       ratioA,
		SongBStretchRatio:       ratioB,
		SongAPitchSemitones:     0,
		SongBPitchSemitones:     0,
		SongATransitionStartSec: startA,
		SongBTransitionStartSec: 0,
		StartOffsetBars:         0,
		HarmonicDistance:        harmonicDistance,
		TransitionStyle:         style,
		Reasoning:               fmt.Sprintf("heuristic: bpm_diff=%.1f energy_jump=%d harmonic_distance=%d bars=%d", bpmDiff, energyJump, harmonicDistance, bars),
		DJComment:               fmt.Sprintf("%s transition over %d bars", style, bars),
		FXChain:                 string(transitionType),
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func minf(vs ...float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxf(vs ...float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func clampf(v, lo, hi float64) float64 {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
