package brain

import (
	"github.com/cartomix/opus/internal/domain"
	"github.com/cartomix/opus/internal/harmony"
	"github.com/cartomix/opus/internal/samples"
)

// OverlayCandidates is the pre-filtered (C4) compatible-sample list the
// clamp pass validates proposed overlay references against, and draws a
// forced selection from under the policy rules (spec.md §4.6.C.8-9).
type OverlayCandidates struct {
	Instruments []samples.Entry
	Vocals      []samples.Entry
}

func (c OverlayCandidates) available() bool {
	return len(c.Instruments) > 0 || len(c.Vocals) > 0
}

func (c OverlayCandidates) hasCloud() bool {
	for _, e := range c.Instruments {
		if e.Source == "cloud" {
			return true
		}
	}
	for _, e := range c.Vocals {
		if e.Source == "cloud" {
			return true
		}
	}
	return false
}

func findByRef(entries []samples.Entry, ref string) (samples.Entry, bool) {
	for _, e := range entries {
		if e.URL == ref || e.Path == ref || e.Name == ref {
			return e, true
		}
	}
	return samples.Entry{}, false
}

func refOf(e samples.Entry) string {
	if e.URL != "" {
		return e.URL
	}
	return e.Path
}

func firstBySource(entries []samples.Entry, source string) (samples.Entry, bool) {
	for _, e := range entries {
		if e.Source == source {
			return e, true
		}
	}
	return samples.Entry{}, false
}

// Clamp applies the shared post-conditions both the heuristic and LLM paths
// must satisfy before a renderer may rely on the strategy (spec.md
// §4.6.C). numTracksInSet distinguishes the exactly-two-track "remix live"
// policy rule from a multi-track set.
func Clamp(s *domain.MixStrategy, a, b *domain.SongAnalysis, admin domain.AdminConfig, candidates OverlayCandidates, numTracksInSet int) *domain.MixStrategy {
	out := *s

	// 0. harmonic_distance is always computed from C3, never client-supplied
	// (spec.md §4.6.B) — both the heuristic and LLM paths share this call so
	// neither can leave it at its zero value.
	out.HarmonicDistance = harmony.Distance(a.KeyCamelot, b.KeyCamelot)

	// 1. Bound start_A, snap to nearest outro-window phrase start.
	out.SongATransitionStartSec = clampf(out.SongATransitionStartSec, 0, maxf(0, a.DurationSec-1))
	lo := a.OutroStartSec - 30
	hi := a.DurationSec - 1
	if snapped, ok := harmony.NearestPhraseStartWithin(out.SongATransitionStartSec, a.PhraseStartsSec, lo, hi); ok {
		out.SongATransitionStartSec = snapped
	}

	// 2. Bound crossfade_sec against remaining runway in A and all of B.
	remainingA := maxf(0.5, a.DurationSec-out.SongATransitionStartSec-1)
	out.CrossfadeSec = clampf(out.CrossfadeSec, 0.5, minf(remainingA, b.DurationSec-0.5, 120))

	// 3. Clamp stretch ratios and pitch.
	out.SongAStretchRatio = clampf(nonZero(out.SongAStretchRatio, 1.0), 0.5, 2.0)
	out.SongBStretchRatio = clampf(nonZero(out.SongBStretchRatio, 1.0), 0.5, 2.0)
	out.SongAPitchSemitones = clampf(out.SongAPitchSemitones, -12, 12)
	out.SongBPitchSemitones = clampf(out.SongBPitchSemitones, -12, 12)

	// 4. Force song_b_transition_start_sec = 0.
	out.SongBTransitionStartSec = 0

	// 5. Validate enumerations.
	if !domain.ValidTransitionTypes[out.TransitionType] {
		out.TransitionType = domain.TransitionBeatMatchCrossfade
	}
	if !domain.ValidTransitionBars[out.TransitionLengthBars] {
		out.TransitionLengthBars = 8
	}

	// 6. Validate/derive bass_swap_sec.
	maxBassSwap := 0.95 * out.CrossfadeSec
	if out.BassSwapSec <= 0 || out.BassSwapSec > maxBassSwap {
		out.BassSwapSec = out.CrossfadeSec * (0.8 - 0.6*admin.BassSwapIntensity)
	}
	out.BassSwapSec = clampf(out.BassSwapSec, 0, maxBassSwap)

	// 7. Resolve overlay references against the compatible candidate list.
	if out.OverlayInstrumentURL != "" {
		if _, ok := findByRef(candidates.Instruments, out.OverlayInstrumentURL); !ok {
			out.OverlayInstrumentURL = ""
		}
	}
	if out.OverlayVocalURL != "" {
		if _, ok := findByRef(candidates.Vocals, out.OverlayVocalURL); !ok {
			out.OverlayVocalURL = ""
		}
	}
	if out.OverlayEntrySec != nil {
		snapped := harmony.NearestPhraseStart(*out.OverlayEntrySec, a.BPM, a.DurationSec)
		out.OverlayEntrySec = &snapped
	}

	// 8. Exactly-two-track set with cloud overlays available: force one of each.
	if numTracksInSet == 2 && candidates.hasCloud() {
		if out.OverlayInstrumentURL == "" {
			if e, ok := firstBySource(candidates.Instruments, "cloud"); ok {
				out.OverlayInstrumentURL = refOf(e)
			} else if len(candidates.Instruments) > 0 {
				out.OverlayInstrumentURL = refOf(candidates.Instruments[0])
			}
		}
		if out.OverlayVocalURL == "" {
			if e, ok := firstBySource(candidates.Vocals, "cloud"); ok {
				out.OverlayVocalURL = refOf(e)
			} else if len(candidates.Vocals) > 0 {
				out.OverlayVocalURL = refOf(candidates.Vocals[0])
			}
		}
	}

	// 9. Low-energy or harmonically-close transitions get at least one
	// local overlay when permitted and available, if the model abstained.
	lowEnergyOrClose := a.Energy10() <= 4 || b.Energy10() <= 4 || out.HarmonicDistance <= 1
	if lowEnergyOrClose && s.OverlayInstrumentURL == "" && s.OverlayVocalURL == "" && out.OverlayInstrumentURL == "" && out.OverlayVocalURL == "" {
		if admin.AllowInstrumentsAI {
			if e, ok := firstBySource(candidates.Instruments, "local"); ok {
				out.OverlayInstrumentURL = refOf(e)
			}
		}
		if out.OverlayInstrumentURL == "" && admin.AllowVocalsAI {
			if e, ok := firstBySource(candidates.Vocals, "local"); ok {
				out.OverlayVocalURL = refOf(e)
			}
		}
	}

	if !admin.AllowInstrumentsAI {
		out.OverlayInstrumentURL = ""
	}
	if !admin.AllowVocalsAI {
		out.OverlayVocalURL = ""
	}

	if out.Reasoning == "" {
		out.Reasoning = "clamped strategy"
	}
	if out.DJComment == "" {
		out.DJComment = "auto-generated transition"
	}
	if out.FXChain == "" {
		out.FXChain = string(out.TransitionType)
	}

	return &out
}

func nonZero(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}
