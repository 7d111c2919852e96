package brain

import (
	"testing"

	"github.com/cartomix/opus/internal/domain"
	"github.com/cartomix/opus/internal/harmony"
)

func analysisFixture(bpm float64, camelot string, energy, durationSec float64) *domain.SongAnalysis {
	return &domain.SongAnalysis{
		BPM:             bpm,
		KeyCamelot:      camelot,
		Energy:          energy,
		DurationSec:     durationSec,
		PhraseStartsSec: harmony.PhraseStarts(bpm, durationSec),
		OutroStartSec:   harmony.OutroStart(bpm, durationSec),
	}
}

// Scenario 1 (spec.md §8): two identical 120bpm/8A/0.5-energy, 180s tracks
// under the default intent must produce an exact 16.0s crossfade.
func TestHeuristicIdenticalTracksDefaultIntent(t *testing.T) {
	a := analysisFixture(120, "8A", 0.5, 180)
	b := analysisFixture(120, "8A", 0.5, 180)
	admin := domain.AdminConfig{DefaultBars: 8, BassSwapIntensity: 0.5}
	intent := ParseIntent("", admin.DefaultBars)

	s := Heuristic(a, b, intent, admin)

	if s.TransitionType != domain.TransitionBeatMatchCrossfade {
		t.Errorf("expected beat_match_crossfade, got %s", s.TransitionType)
	}
	if s.TransitionLengthBars != 8 {
		t.Errorf("expected 8 bars, got %d", s.TransitionLengthBars)
	}
	if s.CrossfadeSec != 16.0 {
		t.Errorf("expected crossfade_sec == 16.0, got %v", s.CrossfadeSec)
	}
	if s.HarmonicDistance != 0 {
		t.Errorf("expected harmonic_distance 0, got %d", s.HarmonicDistance)
	}
	if s.TransitionStyle != "long_atmospheric" {
		t.Errorf("expected long_atmospheric style, got %s", s.TransitionStyle)
	}
}

// Scenario 2 (spec.md §8): a large energy jump forces an 8-bar cap and a
// harmonic distance of 5 forces the short_rhythmic style.
func TestHeuristicLargeEnergyJumpCapsBarsAndPicksRhythmicStyle(t *testing.T) {
	a := analysisFixture(128, "8A", 0.9, 180)
	b := analysisFixture(128, "3A", 0.2, 180)
	admin := domain.AdminConfig{DefaultBars: 32, BassSwapIntensity: 0.5}
	intent := ParseIntent("", admin.DefaultBars)

	s := Heuristic(a, b, intent, admin)

	if energyJump := abs(a.Energy10() - b.Energy10()); energyJump <= 3 {
		t.Fatalf("fixture must produce energy_jump > 3, got %d", energyJump)
	}
	if s.TransitionLengthBars > 8 {
		t.Errorf("expected bars capped at 8, got %d", s.TransitionLengthBars)
	}
	if s.HarmonicDistance != harmony.Distance("8A", "3A") {
		t.Errorf("expected harmonic_distance from camelot distance, got %d", s.HarmonicDistance)
	}
	if s.TransitionStyle != "short_rhythmic" {
		t.Errorf("expected short_rhythmic style, got %s", s.TransitionStyle)
	}
}

// Scenario 4 (spec.md §8): bass_swap_intensity == 1.0 places bass_swap_sec
// at exactly 0.2 * crossfade_sec.
func TestHeuristicBassSwapIntensityOneIsTwentyPercentOfCrossfade(t *testing.T) {
	a := analysisFixture(120, "8A", 0.5, 180)
	b := analysisFixture(120, "8A", 0.5, 180)
	admin := domain.AdminConfig{DefaultBars: 8, BassSwapIntensity: 1.0}
	intent := ParseIntent("", admin.DefaultBars)

	s := Heuristic(a, b, intent, admin)

	want := s.CrossfadeSec * 0.2
	if s.BassSwapSec != want {
		t.Errorf("expected bass_swap_sec == 0.2*crossfade_sec (%v), got %v", want, s.BassSwapSec)
	}
}

func TestHeuristicBassSwapIntensityZeroIsEightyPercentOfCrossfade(t *testing.T) {
	a := analysisFixture(120, "8A", 0.5, 180)
	b := analysisFixture(120, "8A", 0.5, 180)
	admin := domain.AdminConfig{DefaultBars: 8, BassSwapIntensity: 0.0}
	intent := ParseIntent("", admin.DefaultBars)

	s := Heuristic(a, b, intent, admin)

	want := s.CrossfadeSec * 0.8
	if s.BassSwapSec != want {
		t.Errorf("expected bass_swap_sec == 0.8*crossfade_sec (%v), got %v", want, s.BassSwapSec)
	}
}

func TestHeuristicBigBPMDiffFallsBackToPlainCrossfade(t *testing.T) {
	a := analysisFixture(120, "8A", 0.5, 180)
	b := analysisFixture(140, "8A", 0.5, 180)
	admin := domain.AdminConfig{DefaultBars: 16, BassSwapIntensity: 0.5}
	intent := ParseIntent("", admin.DefaultBars)

	s := Heuristic(a, b, intent, admin)

	if s.TransitionType != domain.TransitionCrossfade {
		t.Errorf("expected plain crossfade for bpm_diff >= 5, got %s", s.TransitionType)
	}
	if s.SongBStretchRatio != 1.0 || s.SongAStretchRatio != 1.0 {
		t.Errorf("expected no stretch outside beat-matching path, got a=%v b=%v", s.SongAStretchRatio, s.SongBStretchRatio)
	}
}

func TestHeuristicZeroDurationInputsNeverPanic(t *testing.T) {
	a := &domain.SongAnalysis{BPM: 0, KeyCamelot: "", Energy: 0, DurationSec: 0}
	b := &domain.SongAnalysis{BPM: 0, KeyCamelot: "", Energy: 0, DurationSec: 0}
	admin := domain.AdminConfig{DefaultBars: 32, BassSwapIntensity: 0.5}
	intent := ParseIntent("", admin.DefaultBars)

	s := Heuristic(a, b, intent, admin)
	if s == nil {
		t.Fatal("expected a non-nil strategy for degenerate zero-duration inputs")
	}
}
