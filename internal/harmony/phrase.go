package harmony

// BarSeconds returns the duration of one 4-beat bar at the given BPM. A
// BPM of 30 or less (including zero and negative values) or above 300
// falls back to 120, so downstream phrase math never divides by zero or
// produces a degenerate bar length.
func BarSeconds(bpm float64) float64 {
	if bpm <= 30 || bpm > 300 {
		bpm = 120
	}
	return 4 * 60 / bpm
}

// PhraseSeconds returns the duration of one 32-bar phrase at the given BPM.
func PhraseSeconds(bpm float64) float64 {
	return 32 * BarSeconds(bpm)
}

// BarsToSeconds converts a bar count to seconds at the given BPM. Returns 0
// when either input is non-positive, matching the spec's bars_to_seconds
// helper exactly (bpm*0 must not silently fall back to 120bpm here).
func BarsToSeconds(bars int, bpm float64) float64 {
	if bars <= 0 || bpm <= 0 {
		return 0
	}
	return float64(bars) * 4 * 60 / bpm
}

// PhraseStarts returns the timestamps, in seconds, of every 32-bar phrase
// boundary from 0 up to (but not including) durationSec. Degenerate BPM or
// duration yields the single phrase start at 0, per spec.
func PhraseStarts(bpm, durationSec float64) []float64 {
	if bpm <= 0 || durationSec <= 0 {
		return []float64{0}
	}
	phrase := PhraseSeconds(bpm)
	starts := make([]float64, 0, int(durationSec/phrase)+1)
	for t := 0.0; t < durationSec; t += phrase {
		starts = append(starts, t)
	}
	if len(starts) == 0 {
		starts = append(starts, 0)
	}
	return starts
}

// OutroStart returns outro_start_sec = max(0, duration - min(2*phrase, 0.25*duration)).
// Degenerate BPM or duration falls back to max(0, duration-60).
func OutroStart(bpm, durationSec float64) float64 {
	if bpm <= 0 || durationSec <= 0 {
		v := durationSec - 60
		if v < 0 {
			return 0
		}
		return v
	}
	phrase := PhraseSeconds(bpm)
	window := 2 * phrase
	if quarter := 0.25 * durationSec; quarter < window {
		window = quarter
	}
	v := durationSec - window
	if v < 0 {
		return 0
	}
	return v
}

// NearestPhraseStart snaps a requested time to the closest phrase boundary
// at or before it, clamped to the track's duration.
func NearestPhraseStart(requestedSec, bpm, durationSec float64) float64 {
	starts := PhraseStarts(bpm, durationSec)
	best := starts[0]
	for _, s := range starts {
		if s <= requestedSec && s > best {
			best = s
		}
	}
	return best
}

// NearestPhraseStartWithin returns the phrase start nearest to requestedSec
// (by absolute distance, not floor) among those in [lo, hi], and whether any
// candidate fell in that window. Used by the strategy clamp pass to snap
// song_a_transition_start_sec to a phrase boundary near the outro.
func NearestPhraseStartWithin(requestedSec float64, starts []float64, lo, hi float64) (float64, bool) {
	best := 0.0
	found := false
	bestDist := 0.0
	for _, s := range starts {
		if s < lo || s > hi {
			continue
		}
		d := s - requestedSec
		if d < 0 {
			d = -d
		}
		if !found || d < bestDist {
			best, bestDist, found = s, d, true
		}
	}
	return best, found
}
