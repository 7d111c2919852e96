// Package sequencer implements the Sequencer (C7): it orders a batch of
// analyzed tracks into a rising-energy, harmonically-adjacent playlist and
// expands that order into the overlapping (A, B) pairs a roadmap needs.
//
// The greedy nearest-neighbor walk is grounded in internal/planner's
// Plan/bestNext/scoreEdge shape, rewritten away from the protobuf
// TrackAnalysis/EdgeExplanation types onto domain.SongAnalysis and the
// exact minimum-Camelot-distance-then-minimum-BPM-delta rule.
package sequencer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/cartomix/opus/internal/domain"
	"github.com/cartomix/opus/internal/harmony"
)

// Analyzer is the subset of the audio analyzer a sequencer needs.
type Analyzer interface {
	Analyze(ctx context.Context, path string) (*domain.SongAnalysis, error)
}

// TrackPath pairs a track's filesystem path with its analysis.
type TrackPath struct {
	Path     string
	Analysis *domain.SongAnalysis
}

// AnalyzeTracks analyzes every path, skipping (and logging) any that fail
// rather than aborting the whole batch.
func AnalyzeTracks(ctx context.Context, analyzer Analyzer, paths []string, logger *slog.Logger) []TrackPath {
	out := make([]TrackPath, 0, len(paths))
	for _, p := range paths {
		a, err := analyzer.Analyze(ctx, p)
		if err != nil {
			if logger != nil {
				logger.Warn("skipping track that failed analysis", "path", p, "error", err)
			}
			continue
		}
		a.Path = p
		out = append(out, TrackPath{Path: p, Analysis: a})
	}
	return out
}

// SortPlaylist orders tracks by spec.md §4.7: initial order by BPM
// (ascending when a rising energy curve is requested), then a greedy
// refinement that at each step picks the remaining candidate with minimum
// Camelot distance to the last-chosen track, breaking ties by minimum BPM
// delta.
func SortPlaylist(tracks []TrackPath, ascending bool) []TrackPath {
	if len(tracks) == 0 {
		return nil
	}

	ordered := make([]TrackPath, len(tracks))
	copy(ordered, tracks)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ascending {
			return ordered[i].Analysis.BPM < ordered[j].Analysis.BPM
		}
		return ordered[i].Analysis.BPM > ordered[j].Analysis.BPM
	})

	result := make([]TrackPath, 0, len(ordered))
	result = append(result, ordered[0])
	remaining := ordered[1:]

	for len(remaining) > 0 {
		last := result[len(result)-1]
		bestIdx := 0
		bestDist := harmony.Distance(last.Analysis.KeyCamelot, remaining[0].Analysis.KeyCamelot)
		bestBPMDelta := absf(remaining[0].Analysis.BPM - last.Analysis.BPM)

		for i := 1; i < len(remaining); i++ {
			dist := harmony.Distance(last.Analysis.KeyCamelot, remaining[i].Analysis.KeyCamelot)
			bpmDelta := absf(remaining[i].Analysis.BPM - last.Analysis.BPM)
			if dist < bestDist || (dist == bestDist && bpmDelta < bestBPMDelta) {
				bestIdx, bestDist, bestBPMDelta = i, dist, bpmDelta
			}
		}

		result = append(result, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return result
}

// BuildRoadmap expands an ordered track list into N-1 overlapping
// transition pairs.
func BuildRoadmap(ordered []TrackPath) (*domain.Roadmap, error) {
	if len(ordered) < 2 {
		return nil, fmt.Errorf("sequencer: need at least 2 tracks to build a roadmap, got %d", len(ordered))
	}
	transitions := make([]*domain.Transition, 0, len(ordered)-1)
	for i := 0; i < len(ordered)-1; i++ {
		transitions = append(transitions, &domain.Transition{
			TrackA:    ordered[i].Path,
			TrackB:    ordered[i+1].Path,
			AnalysisA: ordered[i].Analysis,
			AnalysisB: ordered[i+1].Analysis,
		})
	}
	return &domain.Roadmap{Transitions: transitions}, nil
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
