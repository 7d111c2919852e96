// Package analyzer implements the Audio Analyzer adapter (C1): it shells out
// to an external audio analysis toolchain (the narrow adapter spec.md §1
// mandates — chroma/beat/RMS extraction is explicitly out of scope for this
// module) and maps its output onto domain.SongAnalysis, substituting the
// documented fallback defaults whenever a step fails so downstream code
// never observes a missing field. Grounded on the teacher's client/fallback
// split (internal/analyzer/{client,fallback}.go in the retrieved cartomix
// pack) with the gRPC/protobuf wire dropped in favor of a subprocess adapter
// — see DESIGN.md.
package analyzer

import (
	"context"

	"github.com/cartomix/opus/internal/domain"
)

// Analyzer produces a SongAnalysis for one track on disk, and a cheap
// (bpm, camelot) pair for overlay sample cataloging.
type Analyzer interface {
	Analyze(ctx context.Context, path string) (*domain.SongAnalysis, error)
	AnalyzeSample(ctx context.Context, path string) (bpm float64, camelot string, err error)
}

// Defaults substituted per spec.md §4.1 whenever a feature-extraction step
// fails outright.
const (
	DefaultBPM           = 120.0
	DefaultKeyTonic      = "C"
	DefaultKeyScale      = "major"
	DefaultKeyConfidence = 0.5
	DefaultEnergy        = 0.5
	MinBPM               = 60.0
	MaxBPM               = 200.0
)

func clampBPM(bpm float64) float64 {
	if bpm < MinBPM {
		return MinBPM
	}
	if bpm > MaxBPM {
		return MaxBPM
	}
	return bpm
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
