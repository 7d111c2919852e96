// Package renderer implements the Renderer (C8): a subprocess adapter that
// turns a clamped MixStrategy plus two source tracks into one rendered WAV
// segment, and a final concatenation pass that stitches segments into the
// completed set.
//
// Grounded in internal/analyzer's exec.CommandContext subprocess-adapter
// idiom (external toolchain does the DSP heavy lifting; this package owns
// the musical contract: the 20% crossfade rule, wash-out filtering, and
// loudness normalization fallback).
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cartomix/opus/internal/domain"
)

// Client is the subprocess-backed renderer. bin is expected to accept the
// render plan as CLI flags and write a single WAV to the given output path.
type Client struct {
	bin    string
	logger *slog.Logger
}

// NewClient builds a render Client invoking the named external binary.
func NewClient(bin string, logger *slog.Logger) *Client {
	return &Client{bin: bin, logger: logger}
}

// overlayFetchClient fetches cloud-hosted overlay samples to a local temp
// file before a render; a generous timeout since overlay samples are short
// but the cloud catalog's host is untrusted/unpredictable.
var overlayFetchClient = &http.Client{Timeout: 30 * time.Second}

// ResolveOverlay turns an overlay reference (a local filesystem path or a
// cloud URL, per internal/samples.Entry) into a local path RenderSegment can
// pass to the external toolchain. A local path is returned unchanged after
// an existence/non-zero-size check; a cloud URL is fetched to a temp file
// under the same check (spec.md §4.8). cleanup must always be called,
// including on a later render failure — it removes the fetched temp file
// and is a no-op for local references.
func (c *Client) ResolveOverlay(ctx context.Context, ref string) (path string, cleanup func(), err error) {
	noop := func() {}
	if ref == "" {
		return "", noop, nil
	}
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		if err := verifyNonEmptyFile(ref); err != nil {
			return "", noop, fmt.Errorf("overlay file %q: %w", ref, err)
		}
		return ref, noop, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", noop, fmt.Errorf("build overlay fetch request: %w", err)
	}
	resp, err := overlayFetchClient.Do(req)
	if err != nil {
		return "", noop, fmt.Errorf("fetch overlay %q: %w", ref, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", noop, fmt.Errorf("fetch overlay %q: HTTP %d", ref, resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "overlay-*"+filepath.Ext(ref))
	if err != nil {
		return "", noop, fmt.Errorf("create overlay temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup = func() { os.Remove(tmpPath) }

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		cleanup()
		return "", noop, fmt.Errorf("write overlay temp file: %w", err)
	}
	tmp.Close()

	if err := verifyNonEmptyFile(tmpPath); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("fetched overlay %q: %w", ref, err)
	}
	return tmpPath, cleanup, nil
}

func verifyNonEmptyFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return fmt.Errorf("file is empty")
	}
	return nil
}

// Plan is the fully-resolved instruction set for rendering one transition,
// derived from a clamped domain.MixStrategy plus the tracks' pre-stretch
// durations; RenderSegment applies the stretch ratios to them itself.
type Plan struct {
	TrackA, TrackB               string
	Strategy                     *domain.MixStrategy
	DurationASec, DurationBSec   float64 // pre-stretch durations from analysis
	OverlayInstrumentPath        string
	OverlayVocalPath             string
	OutputPath                   string
}

// EffectiveCrossfade applies the renderer's 20% rule (spec.md §4.8):
// actual crossfade = min(strategy.crossfade_sec, 0.2*durationA', 0.2*durationB', 120),
// where durationX' is measured post time-stretch. Floors at 0.5s when both
// stretched durations are at least 1s; when either is shorter, a smaller
// value is left as-is (the adapter must not error on that).
func EffectiveCrossfade(strategy *domain.MixStrategy, durationAStretched, durationBStretched float64) float64 {
	cf := strategy.CrossfadeSec
	if v := 0.2 * durationAStretched; v < cf {
		cf = v
	}
	if v := 0.2 * durationBStretched; v < cf {
		cf = v
	}
	if cf > 120 {
		cf = 120
	}
	if cf < 0.5 && durationAStretched >= 1 && durationBStretched >= 1 {
		cf = 0.5
	}
	if cf < 0 {
		cf = 0
	}
	return cf
}

// StretchedDuration returns a track's duration after applying a
// time-stretch ratio; ratio <= 0 is treated as 1.0 (no stretch).
func StretchedDuration(durationSec, ratio float64) float64 {
	if ratio <= 0 {
		ratio = 1.0
	}
	return durationSec / ratio
}

// NeedsStretch reports whether the adapter must invoke the time-stretch /
// pitch-shift step for a track, per spec.md §4.8 ("skip otherwise to
// preserve fidelity").
func NeedsStretch(stretchRatio, pitchSemitones float64) bool {
	return stretchRatio != 1.0 && stretchRatio != 0 || pitchSemitones != 0
}

// NeedsWashOut reports whether the crossfade region needs the high-pass
// wash-out filter on track A, per spec.md §4.8 ("harmonic_distance > 1").
func NeedsWashOut(harmonicDistance int) bool {
	return harmonicDistance > 1
}

// RenderSegment invokes the external toolchain to produce one rendered
// transition segment WAV. Returns the effective crossfade actually used
// (after the 20% rule) so the caller can report it in the tracklist.
func (c *Client) RenderSegment(ctx context.Context, plan Plan) (effectiveCrossfadeSec float64, err error) {
	if plan.OutputPath == "" {
		return 0, fmt.Errorf("renderer: output path required")
	}
	durA := StretchedDuration(plan.DurationASec, plan.Strategy.SongAStretchRatio)
	durB := StretchedDuration(plan.DurationBSec, plan.Strategy.SongBStretchRatio)
	effectiveCrossfadeSec = EffectiveCrossfade(plan.Strategy, durA, durB)

	args := []string{
		"--render",
		"--track-a", plan.TrackA,
		"--track-b", plan.TrackB,
		"--out", plan.OutputPath,
		"--transition-type", string(plan.Strategy.TransitionType),
		"--crossfade-sec", fmt.Sprintf("%.3f", effectiveCrossfadeSec),
		"--bass-swap-sec", fmt.Sprintf("%.3f", plan.Strategy.BassSwapSec),
		"--stretch-a", fmt.Sprintf("%.4f", plan.Strategy.SongAStretchRatio),
		"--stretch-b", fmt.Sprintf("%.4f", plan.Strategy.SongBStretchRatio),
		"--pitch-a", fmt.Sprintf("%.2f", plan.Strategy.SongAPitchSemitones),
		"--pitch-b", fmt.Sprintf("%.2f", plan.Strategy.SongBPitchSemitones),
		"--start-a", fmt.Sprintf("%.3f", plan.Strategy.SongATransitionStartSec),
	}
	if NeedsWashOut(plan.Strategy.HarmonicDistance) {
		args = append(args, "--washout-a")
	}
	if plan.OverlayInstrumentPath != "" {
		args = append(args, "--overlay-instrument", plan.OverlayInstrumentPath)
	}
	if plan.OverlayVocalPath != "" {
		args = append(args, "--overlay-vocal", plan.OverlayVocalPath)
	}
	if plan.Strategy.OverlayEntrySec != nil {
		args = append(args, "--overlay-entry-sec", fmt.Sprintf("%.3f", *plan.Strategy.OverlayEntrySec))
	}

	if err := c.run(ctx, args, 5*time.Minute); err != nil {
		return effectiveCrossfadeSec, fmt.Errorf("render segment: %w", err)
	}
	return effectiveCrossfadeSec, nil
}

// Concat stitches an ordered list of rendered segment WAVs into one final
// set WAV, then attempts LUFS loudness normalization. A normalization
// failure is logged and the un-normalized concat result is kept — spec.md
// §4.8 requires the renderer to degrade gracefully rather than fail the
// whole render.
func (c *Client) Concat(ctx context.Context, segments []string, outputPath string) error {
	if len(segments) == 0 {
		return fmt.Errorf("renderer: no segments to concatenate")
	}
	args := append([]string{"--concat", "--out", outputPath}, segments...)
	if err := c.run(ctx, args, 5*time.Minute); err != nil {
		return fmt.Errorf("concat segments: %w", err)
	}

	if err := c.normalizeLoudness(ctx, outputPath); err != nil {
		if c.logger != nil {
			c.logger.Warn("loudness normalization failed, keeping un-normalized render", "path", outputPath, "error", err)
		}
	}
	return nil
}

func (c *Client) normalizeLoudness(ctx context.Context, path string) error {
	tmp := path + ".norm.tmp"
	if err := c.run(ctx, []string{"--normalize-lufs", "-14", "--in", path, "--out", tmp}, 2*time.Minute); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (c *Client) run(ctx context.Context, args []string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(args[indexOf(args, "--out")+1]), 0o755); err != nil {
		return fmt.Errorf("prepare output dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %s: %w (stderr: %s)", c.bin, err, stderr.String())
	}
	return nil
}

func indexOf(args []string, needle string) int {
	for i, a := range args {
		if a == needle {
			return i
		}
	}
	return -1
}
