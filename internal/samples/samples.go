// Package samples is the overlay sample library (C4): a local filesystem
// catalog under assets/samples/{instruments,vocals,percussion} plus a
// cloud catalog declared in a JSON index, both queryable by BPM tolerance
// and Camelot distance. Grounded on internal/scanner's filesystem-walk and
// sidecar-cache idiom, adapted from "track" scanning to "overlay sample"
// scanning.
package samples

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cartomix/opus/internal/harmony"
)

// Category is one of the three overlay sample buckets the brain may draw
// from when assembling a transition.
type Category string

const (
	CategoryInstruments Category = "instruments"
	CategoryVocals      Category = "vocals"
	CategoryPercussion  Category = "percussion"
)

var categories = []Category{CategoryInstruments, CategoryVocals, CategoryPercussion}

var supportedExt = map[string]bool{
	".wav": true, ".mp3": true, ".flac": true, ".aiff": true, ".aif": true, ".m4a": true, ".ogg": true,
}

// Entry is one overlay candidate, local or cloud-hosted.
type Entry struct {
	Name     string   `json:"name"`
	Source   string   `json:"source"` // "local" | "cloud"
	Path     string   `json:"path,omitempty"`
	URL      string   `json:"url,omitempty"`
	Category Category `json:"category"`
	BPM      float64  `json:"bpm"`
	Camelot  string   `json:"camelot"`
}

// MetadataAnalyzer is the narrow slice of C1 the library needs to populate
// a local entry's sidecar cache on first sight. internal/analyzer's
// Analyzer implements this.
type MetadataAnalyzer interface {
	AnalyzeSample(ctx context.Context, path string) (bpm float64, camelot string, err error)
}

type sidecarCache struct {
	Entries map[string]Entry `json:"entries"`
}

// Library is the queryable catalog of local and cloud overlay samples.
type Library struct {
	localRoot  string
	cachePath  string
	cloudIndex string
	analyzer   MetadataAnalyzer
	logger     *slog.Logger

	mu     sync.RWMutex
	local  []Entry
	cloud  []Entry
}

// Open scans localRoot for overlay samples (lazily analyzing any that
// aren't already in the sidecar cache) and loads the cloud index, if one
// is configured. cloudIndexPath may be empty, meaning no cloud catalog.
func Open(ctx context.Context, localRoot, cloudIndexPath string, analyzer MetadataAnalyzer, logger *slog.Logger) (*Library, error) {
	lib := &Library{
		localRoot:  localRoot,
		cachePath:  filepath.Join(localRoot, ".metadata_cache.json"),
		cloudIndex: cloudIndexPath,
		analyzer:   analyzer,
		logger:     logger,
	}
	if err := lib.scanLocal(ctx); err != nil {
		return nil, fmt.Errorf("scan local sample library: %w", err)
	}
	if cloudIndexPath != "" {
		if err := lib.loadCloud(); err != nil {
			return nil, fmt.Errorf("load cloud sample index: %w", err)
		}
	}
	return lib, nil
}

func (l *Library) loadCache() sidecarCache {
	cache := sidecarCache{Entries: map[string]Entry{}}
	data, err := os.ReadFile(l.cachePath)
	if err != nil {
		return cache
	}
	if err := json.Unmarshal(data, &cache); err != nil {
		l.logger.Warn("sample metadata cache is corrupt, rebuilding", "path", l.cachePath, "err", err)
		return sidecarCache{Entries: map[string]Entry{}}
	}
	return cache
}

func (l *Library) saveCache(cache sidecarCache) {
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(l.cachePath, data, 0o644); err != nil {
		l.logger.Warn("failed to persist sample metadata cache", "path", l.cachePath, "err", err)
	}
}

func (l *Library) scanLocal(ctx context.Context) error {
	cache := l.loadCache()
	var entries []Entry

	for _, cat := range categories {
		dir := filepath.Join(l.localRoot, string(cat))
		walkErr := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if !supportedExt[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			if cached, ok := cache.Entries[path]; ok {
				entries = append(entries, cached)
				return nil
			}
			entry, err := l.analyzeLocal(ctx, path, cat)
			if err != nil {
				l.logger.Warn("failed to analyze overlay sample, skipping", "path", path, "err", err)
				return nil
			}
			cache.Entries[path] = entry
			entries = append(entries, entry)
			return nil
		})
		if walkErr != nil && !os.IsNotExist(walkErr) {
			l.logger.Warn("error walking sample category", "category", cat, "err", walkErr)
		}
	}

	l.saveCache(cache)

	l.mu.Lock()
	l.local = entries
	l.mu.Unlock()
	return nil
}

func (l *Library) analyzeLocal(ctx context.Context, path string, cat Category) (Entry, error) {
	if l.analyzer == nil {
		return Entry{}, fmt.Errorf("no analyzer configured for sample metadata")
	}
	bpm, camelot, err := l.analyzer.AnalyzeSample(ctx, path)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Name:     filepath.Base(path),
		Source:   "local",
		Path:     path,
		Category: cat,
		BPM:      bpm,
		Camelot:  camelot,
	}, nil
}

func (l *Library) loadCloud() error {
	data, err := os.ReadFile(l.cloudIndex)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse cloud sample index: %w", err)
	}
	for i := range entries {
		entries[i].Source = "cloud"
	}
	l.mu.Lock()
	l.cloud = entries
	l.mu.Unlock()
	return nil
}

// GetCompatible returns every local and cloud entry in the given
// categories whose BPM is within bpmTol of bpm and whose Camelot distance
// to camelot is at most maxDist. A category list of nil or empty matches
// every category.
func (l *Library) GetCompatible(bpm float64, camelot string, cats []Category, bpmTol float64, maxDist int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	wanted := make(map[Category]bool, len(cats))
	for _, c := range cats {
		wanted[c] = true
	}

	var out []Entry
	for _, pool := range [][]Entry{l.local, l.cloud} {
		for _, e := range pool {
			if len(wanted) > 0 && !wanted[e.Category] {
				continue
			}
			if absf(bpm-e.BPM) > bpmTol {
				continue
			}
			if harmony.Distance(camelot, e.Camelot) > maxDist {
				continue
			}
			out = append(out, e)
		}
	}
	return out
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
