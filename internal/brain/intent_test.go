package brain

import "testing"

func TestParseIntentBucketPriority(t *testing.T) {
	cases := []struct {
		prompt string
		bars   int
		early  bool
		decisive bool
	}{
		{"give me a long-form progressive journey", 64, true, false},
		{"something dynamic and sharp", 16, false, true},
		{"closing track, late night", 8, false, true},
		{"warmup for sunset opening set", 16, true, false},
		{"keep it emotional", 16, true, false},
		{"peak time aggressive banger", 4, false, true},
	}
	for _, c := range cases {
		got := ParseIntent(c.prompt, 32)
		if got.PreferredBars != c.bars {
			t.Errorf("%q: expected bars %d, got %d", c.prompt, c.bars, got.PreferredBars)
		}
		if got.StartEarly != c.early {
			t.Errorf("%q: expected start_early %v, got %v", c.prompt, c.early, got.StartEarly)
		}
		if got.Decisive != c.decisive {
			t.Errorf("%q: expected decisive %v, got %v", c.prompt, c.decisive, got.Decisive)
		}
	}
}

func TestParseIntentDefaultsToAdminBars(t *testing.T) {
	got := ParseIntent("just play some music", 32)
	if got.PreferredBars != 32 {
		t.Errorf("expected fallback to admin default_bars 32, got %d", got.PreferredBars)
	}
	if got.StartEarly || got.Decisive {
		t.Errorf("expected no early/decisive flags on default bucket, got %+v", got)
	}
}
