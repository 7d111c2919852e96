package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"time"

	"github.com/cartomix/opus/internal/domain"
	"github.com/cartomix/opus/internal/harmony"
)

// rawFeatures is the JSON contract of the external audio analysis library:
// low-level chroma/beat/RMS extraction, nothing musically interpreted.
type rawFeatures struct {
	DurationSec float64   `json:"duration_sec"`
	Beats       []float64 `json:"beats"`
	RMS         []float64 `json:"rms"`
	ChromaCQT   []float64 `json:"chroma_cqt,omitempty"`
	ChromaSTFT  []float64 `json:"chroma_stft,omitempty"`
}

// pitchClasses is the 12-entry chroma ordering the external library emits,
// starting at C (the standard chroma-vector convention).
var pitchClasses = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Krumhansl-Schmuckler key profiles.
var majorProfile = [12]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
var minorProfile = [12]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}

// Client is the subprocess-backed Audio Analyzer: it execs the configured
// external toolchain binary to extract raw features, then performs the
// musical interpretation (BPM, key via Krumhansl-Schmuckler correlation,
// energy, phrase math) itself, per spec.md §4.1.
type Client struct {
	bin    string
	logger *slog.Logger
}

// NewClient builds a Client invoking the named external binary for each
// analysis request. The binary is expected to accept a single file path
// argument and write rawFeatures JSON to stdout.
func NewClient(bin string, logger *slog.Logger) *Client {
	return &Client{bin: bin, logger: logger}
}

// Analyze extracts raw features via the external toolchain and derives the
// full SongAnalysis. Any individual step failing substitutes the documented
// default rather than aborting — the caller never observes a missing field.
func (c *Client) Analyze(ctx context.Context, path string) (*domain.SongAnalysis, error) {
	raw, err := c.extract(ctx, path)
	if err != nil {
		c.logger.Warn("external analysis failed, using CPU fallback defaults", "path", path, "err", err)
		return NewCPUFallback(c.logger).Analyze(ctx, path)
	}

	bpm := bpmFromBeats(raw.Beats)
	tonic, scale, camelot, confidence := detectKey(raw.ChromaCQT, raw.ChromaSTFT)
	energy := energyFromRMS(raw.RMS)
	duration := raw.DurationSec
	if duration <= 0 {
		duration = 180
	}

	return &domain.SongAnalysis{
		Path:            path,
		BPM:             bpm,
		KeyTonic:        tonic,
		KeyScale:        scale,
		KeyCamelot:      camelot,
		KeyConfidence:   confidence,
		Beats:           raw.Beats,
		Energy:          energy,
		DurationSec:     duration,
		PhraseStartsSec: harmony.PhraseStarts(bpm, duration),
		OutroStartSec:   harmony.OutroStart(bpm, duration),
	}, nil
}

// AnalyzeSample is the narrow slice of Analyze the sample library needs to
// populate an overlay sample's sidecar cache: just BPM and Camelot key.
func (c *Client) AnalyzeSample(ctx context.Context, path string) (float64, string, error) {
	analysis, err := c.Analyze(ctx, path)
	if err != nil {
		return 0, "", err
	}
	return analysis.BPM, analysis.KeyCamelot, nil
}

func (c *Client) extract(ctx context.Context, path string) (*rawFeatures, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.bin, "--analyze", "--json", path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run %s: %w (stderr: %s)", c.bin, err, stderr.String())
	}

	var raw rawFeatures
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("parse analyzer output: %w", err)
	}
	return &raw, nil
}

// bpmFromBeats derives BPM from the mean inter-beat interval, clamped to
// [60, 200]. Fewer than two beats falls back to 120.
func bpmFromBeats(beats []float64) float64 {
	if len(beats) < 2 {
		return DefaultBPM
	}
	var sum float64
	for i := 1; i < len(beats); i++ {
		sum += beats[i] - beats[i-1]
	}
	avg := sum / float64(len(beats)-1)
	if avg <= 0 {
		return DefaultBPM
	}
	return clampBPM(60 / avg)
}

// energyFromRMS computes mean(RMS)/max(RMS) clipped to [0,1]. Empty RMS
// falls back to 0.5.
func energyFromRMS(rms []float64) float64 {
	if len(rms) == 0 {
		return DefaultEnergy
	}
	var sum, max float64
	for _, v := range rms {
		sum += v
		if v > max {
			max = v
		}
	}
	if max <= 0 {
		return DefaultEnergy
	}
	return clamp01((sum / float64(len(rms))) / max)
}

// detectKey aggregates CQT and STFT chroma as 0.6*CQT + 0.4*STFT, falls
// back to STFT-only if CQT is absent, and correlates all 24 rotations of
// the Krumhansl-Schmuckler major/minor templates against it. Total absence
// of chroma data falls back to C major, confidence 0.5.
func detectKey(cqt, stft []float64) (tonic, scale, camelot string, confidence float64) {
	chroma := combineChroma(cqt, stft)
	if chroma == nil {
		return DefaultKeyTonic, DefaultKeyScale, harmony.CamelotForKey(DefaultKeyTonic, DefaultKeyScale), DefaultKeyConfidence
	}

	bestCorr := math.Inf(-1)
	bestTonic, bestScale := DefaultKeyTonic, DefaultKeyScale

	for rotation := 0; rotation < 12; rotation++ {
		if corr := correlate(chroma, rotateProfile(majorProfile, rotation)); corr > bestCorr {
			bestCorr, bestTonic, bestScale = corr, pitchClasses[rotation], "major"
		}
		if corr := correlate(chroma, rotateProfile(minorProfile, rotation)); corr > bestCorr {
			bestCorr, bestTonic, bestScale = corr, pitchClasses[rotation], "minor"
		}
	}

	conf := clamp01((bestCorr + 1) / 2)
	cam := harmony.CamelotForKey(bestTonic, bestScale)
	if cam == "" {
		bestTonic, bestScale, cam = DefaultKeyTonic, DefaultKeyScale, harmony.CamelotForKey(DefaultKeyTonic, DefaultKeyScale)
	}
	return bestTonic, bestScale, cam, conf
}

func combineChroma(cqt, stft []float64) []float64 {
	switch {
	case len(cqt) == 12 && len(stft) == 12:
		out := make([]float64, 12)
		for i := range out {
			out[i] = 0.6*cqt[i] + 0.4*stft[i]
		}
		return out
	case len(cqt) == 12:
		return cqt
	case len(stft) == 12:
		return stft
	default:
		return nil
	}
}

// rotateProfile rotates a 12-bin key profile so index 0 aligns with the
// tonic at pitchClasses[rotation].
func rotateProfile(profile [12]float64, rotation int) [12]float64 {
	var out [12]float64
	for i := 0; i < 12; i++ {
		out[(i+rotation)%12] = profile[i]
	}
	return out
}

// correlate returns the Pearson correlation coefficient between two 12-bin
// vectors, or -1 if either is degenerate (zero variance).
func correlate(a []float64, b [12]float64) float64 {
	var meanA, meanB float64
	for i := 0; i < 12; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= 12
	meanB /= 12

	var cov, varA, varB float64
	for i := 0; i < 12; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA <= 0 || varB <= 0 {
		return -1
	}
	return cov / math.Sqrt(varA*varB)
}
