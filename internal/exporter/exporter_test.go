package exporter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cartomix/opus/internal/domain"
)

func TestWriteTracklistRendersEachTransition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracklist.txt")

	transitions := []*domain.Transition{
		{
			TrackA:    "/sessions/s1/a.wav",
			TrackB:    "/sessions/s1/b.wav",
			AnalysisA: &domain.SongAnalysis{BPM: 120, KeyTonic: "A", KeyScale: "minor"},
			AnalysisB: &domain.SongAnalysis{BPM: 122, KeyTonic: "C", KeyScale: "major"},
			Strategy:  &domain.MixStrategy{Reasoning: "close harmonic match", DJComment: "smooth blend"},
		},
	}

	if err := WriteTracklist(path, transitions); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected tracklist file: %v", err)
	}

	content := string(data)
	for _, want := range []string{"a.wav", "b.wav", "120.0", "122.0", "close harmonic match", "smooth blend"} {
		if !strings.Contains(content, want) {
			t.Errorf("expected tracklist to contain %q, got:\n%s", want, content)
		}
	}
}

func TestWriteBundleProducesArchiveAndChecksums(t *testing.T) {
	dir := t.TempDir()
	setPath := filepath.Join(dir, "set.wav")
	tracklistPath := filepath.Join(dir, "tracklist.txt")

	if err := os.WriteFile(setPath, []byte("fake audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tracklistPath, []byte("fake tracklist"), 0o644); err != nil {
		t.Fatal(err)
	}

	outDir := t.TempDir()
	res, err := WriteBundle(outDir, "myset", setPath, tracklistPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(res.BundlePath); err != nil {
		t.Errorf("expected bundle archive: %v", err)
	}
	if _, err := os.Stat(res.ChecksumsPath); err != nil {
		t.Errorf("expected checksums file: %v", err)
	}

	if err := VerifyChecksums(res.ChecksumsPath, dir); err != nil {
		t.Errorf("expected checksums to verify against source files: %v", err)
	}
}

func TestWriteBundleRejectsEmptyFileList(t *testing.T) {
	if _, err := WriteBundle(t.TempDir(), "empty"); err == nil {
		t.Error("expected an error when no files are given")
	}
}
