package analyzer

import (
	"context"
	"log/slog"
	"os"

	"github.com/cartomix/opus/internal/domain"
	"github.com/cartomix/opus/internal/harmony"
)

// CPUFallback is the analyzer used when the external toolchain binary is
// unavailable (development boxes, CI, missing install). It substitutes the
// documented defaults from spec.md §4.1 rather than fabricating analysis,
// so callers see a clearly-placeholder (default-BPM, default key
// confidence) result instead of a silently-wrong one. Grounded on the teacher's
// CPUFallback idiom (internal/analyzer/fallback.go in the retrieved pack).
type CPUFallback struct {
	logger *slog.Logger
}

// NewCPUFallback builds a fallback analyzer.
func NewCPUFallback(logger *slog.Logger) *CPUFallback {
	return &CPUFallback{logger: logger}
}

// Analyze produces the documented-default SongAnalysis for path. Duration is
// read from the file's size as a rough estimate (16-bit stereo PCM at
// 44.1kHz) for any file larger than 44 bytes, whatever its format; a
// missing file or one of 44 bytes or less gets a 180-second placeholder.
func (f *CPUFallback) Analyze(ctx context.Context, path string) (*domain.SongAnalysis, error) {
	f.logger.Warn("using CPU fallback analyzer - results are placeholders", "path", path)

	duration := estimateDurationFromFileSize(path)
	bpm := DefaultBPM

	return &domain.SongAnalysis{
		Path:            path,
		BPM:             bpm,
		KeyTonic:        DefaultKeyTonic,
		KeyScale:        DefaultKeyScale,
		KeyCamelot:      harmony.CamelotForKey(DefaultKeyTonic, DefaultKeyScale),
		KeyConfidence:   DefaultKeyConfidence,
		Beats:           nil,
		Energy:          DefaultEnergy,
		DurationSec:     duration,
		PhraseStartsSec: harmony.PhraseStarts(bpm, duration),
		OutroStartSec:   harmony.OutroStart(bpm, duration),
	}, nil
}

// AnalyzeSample mirrors Analyze's placeholder semantics for the sample
// library's lazy metadata cache.
func (f *CPUFallback) AnalyzeSample(ctx context.Context, path string) (float64, string, error) {
	a, err := f.Analyze(ctx, path)
	if err != nil {
		return 0, "", err
	}
	return a.BPM, a.KeyCamelot, nil
}

const (
	wavHeaderBytes  = 44
	bytesPerSample  = 2 // 16-bit PCM
	channels        = 2
	placeholderSecs = 180.0
)

func estimateDurationFromFileSize(path string) float64 {
	info, err := os.Stat(path)
	if err != nil || info.Size() <= wavHeaderBytes {
		return placeholderSecs
	}
	samples := float64(info.Size()-wavHeaderBytes) / float64(bytesPerSample*channels)
	dur := samples / 44100
	if dur <= 0 {
		return placeholderSecs
	}
	return dur
}
