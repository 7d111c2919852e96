package harmony

import "testing"

func TestBarSecondsAt120(t *testing.T) {
	if got := BarSeconds(120); got != 2 {
		t.Errorf("expected 2s bar at 120bpm, got %v", got)
	}
}

func TestBarSecondsClampsDegenerateBPM(t *testing.T) {
	if got := BarSeconds(0); got != BarSeconds(120) {
		t.Errorf("expected fallback to 120bpm bar length, got %v", got)
	}
	if got := BarSeconds(900); got != BarSeconds(120) {
		t.Errorf("expected fallback to 120bpm bar length, got %v", got)
	}
}

func TestPhraseStartsCoversTrack(t *testing.T) {
	starts := PhraseStarts(120, 130)
	if len(starts) < 2 {
		t.Fatalf("expected multiple phrase starts, got %v", starts)
	}
	if starts[0] != 0 {
		t.Errorf("expected first phrase start at 0, got %v", starts[0])
	}
}

func TestPhraseStartsShortTrack(t *testing.T) {
	starts := PhraseStarts(120, 10)
	if len(starts) != 1 || starts[0] != 0 {
		t.Errorf("expected single phrase start at 0 for short track, got %v", starts)
	}
}

func TestOutroStartShortTrackUsesQuarterDuration(t *testing.T) {
	// phrase(120bpm) = 64s; 2*phrase=128 > 0.25*10=2.5, so window=2.5.
	if got := OutroStart(120, 10); got != 7.5 {
		t.Errorf("expected 7.5, got %v", got)
	}
}

func TestOutroStartLongTrackUsesTwoPhraseWindow(t *testing.T) {
	phrase := PhraseSeconds(120)
	duration := phrase * 3
	// 2*phrase vs 0.25*duration=0.75*phrase -> window is 0.75*phrase.
	want := duration - 0.75*phrase
	if got := OutroStart(120, duration); got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestOutroStartDegenerateBPMFallsBackToSixtySecondWindow(t *testing.T) {
	if got := OutroStart(0, 100); got != 40 {
		t.Errorf("expected 40, got %v", got)
	}
	if got := OutroStart(120, 0); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}

func TestBarsToSecondsRoundTrip(t *testing.T) {
	if got := BarsToSeconds(8, 120); got*120/240 != 8 {
		t.Errorf("bars_to_seconds round trip broke: got %v", got)
	}
	if got := BarsToSeconds(8, 0); got != 0 {
		t.Errorf("expected 0 for non-positive bpm, got %v", got)
	}
}
