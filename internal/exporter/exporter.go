// Package exporter writes the finished set's tracklist and bundles the
// final artifacts for download. Adapted from the teacher's WriteGeneric
// (M3U8/JSON/CSV/bundle writer for a track catalog export): the
// tar.gz-plus-checksums bundling idiom survives, the per-vendor crate
// formats (rekordbox/Serato/Traktor) and the protobuf TrackAnalysis
// coupling do not — this pipeline has one output format, a human-readable
// tracklist, not a catalog to hand off to DJ software.
package exporter

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cartomix/opus/internal/domain"
)

// Result contains paths to the artifacts bundled for a finished session.
type Result struct {
	BundlePath    string
	ChecksumsPath string
}

// WriteTracklist renders the human-readable tracklist for a finished set
// (spec.md §6), one block per transition in roadmap order.
func WriteTracklist(path string, transitions []*domain.Transition) error {
	var b strings.Builder
	b.WriteString("OPUS AI — Tracklist (Set completo)\n")
	b.WriteString(strings.Repeat("=", 60) + "\n\n")

	for i, t := range transitions {
		a, bTrack := t.AnalysisA, t.AnalysisB
		s := t.Strategy

		b.WriteString(fmt.Sprintf("#%d  A: %s  →  B: %s\n", i+1, filepath.Base(t.TrackA), filepath.Base(t.TrackB)))
		if a != nil && bTrack != nil {
			b.WriteString(fmt.Sprintf("  BPM A=%.1f  B=%.1f  |  Key A=%s %s  B=%s %s\n",
				a.BPM, bTrack.BPM, a.KeyTonic, a.KeyScale, bTrack.KeyTonic, bTrack.KeyScale))
		}
		if s != nil {
			b.WriteString(fmt.Sprintf("  Razón: %s\n", s.Reasoning))
			b.WriteString(fmt.Sprintf("  DJ: %s\n", s.DJComment))
		}
		b.WriteString("\n")
	}

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// WriteBundle packages the final mix and its tracklist into a checksummed
// tar.gz for download, mirroring the teacher's artifact-bundling idiom.
func WriteBundle(outputDir, bundleName string, files ...string) (*Result, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to bundle")
	}
	if bundleName == "" {
		bundleName = "set"
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}

	result := &Result{
		BundlePath:    filepath.Join(outputDir, bundleName+"-bundle.tar.gz"),
		ChecksumsPath: filepath.Join(outputDir, bundleName+"-checksums.txt"),
	}

	if err := writeChecksums(result.ChecksumsPath, files...); err != nil {
		return nil, err
	}
	if err := writeArchive(result.BundlePath, append(files, result.ChecksumsPath)...); err != nil {
		return nil, err
	}
	return result, nil
}

func writeChecksums(path string, files ...string) error {
	var b strings.Builder
	for _, fp := range files {
		sum, err := fileSHA256(fp)
		if err != nil {
			return err
		}
		b.WriteString(fmt.Sprintf("%s  %s\n", sum, filepath.Base(fp)))
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func writeArchive(archivePath string, files ...string) error {
	f, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	defer gw.Close()

	tw := tar.NewWriter(gw)
	defer tw.Close()

	for _, fp := range files {
		info, err := os.Stat(fp)
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.Base(fp)

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		data, err := os.ReadFile(fp)
		if err != nil {
			return err
		}
		if _, err := tw.Write(data); err != nil {
			return err
		}
	}

	return nil
}

func fileSHA256(path string) (string, error) { return FileSHA256(path) }
