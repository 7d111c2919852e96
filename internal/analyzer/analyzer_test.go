package analyzer

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCPUFallbackProducesDocumentedDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.wav")

	a, err := NewCPUFallback(discardLogger()).Analyze(context.Background(), path)
	if err != nil {
		t.Fatalf("fallback must never error: %v", err)
	}
	if a.BPM != DefaultBPM {
		t.Errorf("expected default bpm %v, got %v", DefaultBPM, a.BPM)
	}
	if a.KeyCamelot != "8A" {
		t.Errorf("expected C major -> 8A, got %s", a.KeyCamelot)
	}
	if a.KeyConfidence != DefaultKeyConfidence {
		t.Errorf("expected confidence %v, got %v", DefaultKeyConfidence, a.KeyConfidence)
	}
	if a.Energy != DefaultEnergy {
		t.Errorf("expected energy %v, got %v", DefaultEnergy, a.Energy)
	}
	if len(a.PhraseStartsSec) == 0 || a.PhraseStartsSec[0] != 0 {
		t.Errorf("expected phrase_starts_sec[0] == 0, got %v", a.PhraseStartsSec)
	}
}

func TestBPMFromBeatsClampsToRange(t *testing.T) {
	if got := bpmFromBeats(nil); got != DefaultBPM {
		t.Errorf("expected default bpm for empty beats, got %v", got)
	}
	// 0.1s interval -> 600bpm, must clamp to 200
	if got := bpmFromBeats([]float64{0, 0.1, 0.2, 0.3}); got != MaxBPM {
		t.Errorf("expected clamp to %v, got %v", MaxBPM, got)
	}
	// 2s interval -> 30bpm, must clamp to 60
	if got := bpmFromBeats([]float64{0, 2, 4, 6}); got != MinBPM {
		t.Errorf("expected clamp to %v, got %v", MinBPM, got)
	}
}

func TestEnergyFromRMSEmptyFallsBackToHalf(t *testing.T) {
	if got := energyFromRMS(nil); got != 0.5 {
		t.Errorf("expected 0.5, got %v", got)
	}
}

func TestEnergyFromRMSIsMeanOverMaxClipped(t *testing.T) {
	got := energyFromRMS([]float64{0.5, 1.0})
	want := 0.75
	if got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestDetectKeyFallsBackWithoutChroma(t *testing.T) {
	tonic, scale, camelot, conf := detectKey(nil, nil)
	if tonic != "C" || scale != "major" || camelot != "8A" || conf != 0.5 {
		t.Errorf("expected C major 8A @0.5, got %s %s %s %v", tonic, scale, camelot, conf)
	}
}

func TestDetectKeyResolvesCMajorFromCQTChroma(t *testing.T) {
	// A clean C-major chroma (tonic-heavy) profile should resolve to C major.
	cMajorChroma := []float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	tonic, scale, camelot, conf := detectKey(cMajorChroma, nil)
	if tonic != "C" || scale != "major" || camelot != "8A" {
		t.Errorf("expected C major 8A, got %s %s %s", tonic, scale, camelot)
	}
	if conf <= 0.9 {
		t.Errorf("expected near-perfect correlation confidence, got %v", conf)
	}
}

func TestClientFallsBackWhenBinaryMissing(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "no-such-binary"), discardLogger())
	dir := t.TempDir()
	path := filepath.Join(dir, "track.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVEfmt "), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := c.Analyze(context.Background(), path)
	if err != nil {
		t.Fatalf("expected fallback, not error: %v", err)
	}
	if a.BPM != DefaultBPM {
		t.Errorf("expected fallback bpm, got %v", a.BPM)
	}
}
