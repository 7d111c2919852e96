// Package domain holds the plain data types shared across the DJ pipeline
// orchestrator: analyses, mix strategies, sessions and roadmaps. The
// teacher's equivalent types (common.TrackAnalysis, engine.SetMode, ...)
// were protobuf-generated; see DESIGN.md for why we model the same shapes
// as plain Go structs here instead.
package domain

import "time"

// SongAnalysis is the immutable feature set produced by the audio analyzer
// for a single track.
type SongAnalysis struct {
	Path            string    `json:"path"`
	BPM             float64   `json:"bpm"`
	KeyTonic        string    `json:"key_tonic"`
	KeyScale        string    `json:"key_scale"` // "major" | "minor"
	KeyCamelot      string    `json:"key_camelot"`
	KeyConfidence   float64   `json:"key_confidence"`
	Beats           []float64 `json:"beats"`
	Energy          float64   `json:"energy"`
	DurationSec     float64   `json:"duration_sec"`
	PhraseStartsSec []float64 `json:"phrase_starts_sec"`
	OutroStartSec   float64   `json:"outro_start_sec"`
	Genre           string    `json:"genre,omitempty"`
	Vibe            string    `json:"vibe,omitempty"`
}

// Energy10 maps the 0..1 RMS-normalized energy onto the 1-10 presentation
// scale used by the strategy engine.
func (s *SongAnalysis) Energy10() int {
	v := int(roundHalfAwayFromZero(s.Energy*9 + 1))
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}

func roundHalfAwayFromZero(f float64) float64 {
	if f >= 0 {
		return float64(int64(f + 0.5))
	}
	return float64(int64(f - 0.5))
}

// TransitionType enumerates the valid transition styles a MixStrategy may
// request. The zero value is intentionally invalid so the clamp pass can
// detect an unset field and substitute the default.
type TransitionType string

const (
	TransitionCrossfade          TransitionType = "crossfade"
	TransitionBeatMatchCrossfade TransitionType = "beat_match_crossfade"
	TransitionDropSwap           TransitionType = "drop_swap"
	TransitionFilterFade         TransitionType = "filter_fade"
)

// ValidTransitionTypes is the allowed set enforced by the strategy clamp pass.
var ValidTransitionTypes = map[TransitionType]bool{
	TransitionCrossfade:          true,
	TransitionBeatMatchCrossfade: true,
	TransitionDropSwap:           true,
	TransitionFilterFade:         true,
}

// ValidTransitionBars is the allowed set of transition lengths, in bars.
var ValidTransitionBars = map[int]bool{4: true, 8: true, 16: true, 32: true, 64: true}

// MixStrategy is the plan for one A->B transition. Fields are populated
// either by the deterministic heuristic or the LLM path and must pass
// through the clamp pass before a renderer may rely on them.
type MixStrategy struct {
	TransitionType          TransitionType `json:"transition_type"`
	TransitionLengthBars    int            `json:"transition_length_bars"`
	CrossfadeSec            float64        `json:"crossfade_sec"`
	BassSwapSec             float64        `json:"bass_swap_sec"`
	SongAStretchRatio       float64        `json:"song_a_stretch_ratio"`
	SongBStretchRatio       float64        `json:"song_b_stretch_ratio"`
	SongAPitchSemitones     float64        `json:"song_a_pitch_semitones"`
	SongBPitchSemitones     float64        `json:"song_b_pitch_semitones"`
	SongATransitionStartSec float64        `json:"song_a_transition_start_sec"`
	SongBTransitionStartSec float64        `json:"song_b_transition_start_sec"`
	StartOffsetBars         int            `json:"start_offset_bars"`
	HarmonicDistance        int            `json:"harmonic_distance"`
	TransitionStyle         string         `json:"transition_style,omitempty"`
	OverlayInstrumentURL    string         `json:"overlay_instrument_url,omitempty"`
	OverlayVocalURL         string         `json:"overlay_vocal_url,omitempty"`
	OverlayEntrySec         *float64       `json:"overlay_entry_sec,omitempty"`
	Reasoning               string         `json:"reasoning"`
	DJComment               string         `json:"dj_comment"`
	FXChain                 string         `json:"fx_chain"`
}

// Transition is one overlapping (A, B) pair in a roadmap.
type Transition struct {
	TrackA     string        `json:"track_a"`
	TrackB     string        `json:"track_b"`
	AnalysisA  *SongAnalysis `json:"analysis_a"`
	AnalysisB  *SongAnalysis `json:"analysis_b"`
	Strategy   *MixStrategy  `json:"strategy,omitempty"`
	SegmentPath string       `json:"segment_path,omitempty"`
}

// Roadmap is the ordered, overlapping sequence of transitions spanning a
// multi-track set: for every i, Transitions[i].TrackB == Transitions[i+1].TrackA.
type Roadmap struct {
	Transitions []*Transition `json:"transitions"`
}

// Status is the top-level session lifecycle state.
type Status string

const (
	StatusNew        Status = "new"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
	StatusReaped     Status = "reaped"
)

// Phase is the sub-state of a session while Status == StatusProcessing.
type Phase string

const (
	PhaseAnalyzing  Phase = "analyzing"
	PhaseSequencing Phase = "sequencing"
	PhaseRendering  Phase = "rendering"
	PhaseFinalizing Phase = "finalizing"
	PhaseReady      Phase = "ready"
)

// Session is the per-request lifecycle record. Session Manager owns the
// directory; the job store owns this metadata; both are keyed by ID.
type Session struct {
	ID             string    `json:"session_id"`
	Dir            string    `json:"-"`
	Status         Status    `json:"status"`
	Phase          Phase     `json:"phase,omitempty"`
	CurrentSegment int       `json:"current_segment,omitempty"`
	TotalSegments  int       `json:"total_segments,omitempty"`
	ArtifactPath   string    `json:"-"`
	TracklistPath  string    `json:"-"`
	BundlePath     string    `json:"-"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"-"`
	UpdatedAt      time.Time `json:"-"`

	// AnalysisA/AnalysisB/Strategy are populated whenever the set has
	// exactly two tracks (one transition): every two-track /generate
	// session, whose status response exposes them directly (spec.md §6),
	// and also a /process-folder session holding two files. Sets of three
	// or more tracks leave these nil and report phase/segment progress
	// instead.
	AnalysisA *SongAnalysis `json:"analysis_a,omitempty"`
	AnalysisB *SongAnalysis `json:"analysis_b,omitempty"`
	Strategy  *MixStrategy  `json:"strategy,omitempty"`
}

// Preset is a named, reusable bundle of admin-config parameter overrides.
type Preset struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// AdminConfig holds durable, hot-reloadable tuning parameters shared by the
// brain and the sample library.
type AdminConfig struct {
	SystemPrompt       string   `json:"system_prompt"`
	MixSensitivity     float64  `json:"mix_sensitivity"`
	DefaultBars        int      `json:"default_bars"`
	BassSwapIntensity  float64  `json:"bass_swap_intensity"`
	AllowInstrumentsAI bool     `json:"allow_instruments_ai"`
	AllowVocalsAI      bool     `json:"allow_vocals_ai"`
	Presets            []Preset `json:"presets"`
}

// Intent is the deterministic parse of a free-text DJ prompt into
// parameters the heuristic strategy path consumes.
type Intent struct {
	PreferredBars int
	Vibe          string
	StartEarly    bool
	Decisive      bool
}

// ProgressEvent is one typed update published on a session's progress channel.
type ProgressEvent struct {
	SessionID      string `json:"session_id"`
	Phase          Phase  `json:"phase"`
	CurrentSegment int    `json:"current_segment,omitempty"`
	TotalSegments  int    `json:"total_segments,omitempty"`
	Message        string `json:"message"`
}
