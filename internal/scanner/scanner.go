// Package scanner enumerates the audio files the Job Orchestrator's brain
// phase needs to analyze for a session (spec.md §4.10: "enumerates audio
// files"). Adapted from the teacher's catalog-indexing Scanner: the
// WalkDir/SupportedFormats/ComputeHash idiom survives, the storage.DB/Track
// catalog coupling does not — a session folder is analyzed fresh every
// time, there is no library to upsert into.
package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SupportedFormats lists the audio formats the pipeline accepts (spec.md
// §6 input audio whitelist).
var SupportedFormats = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".m4a":  true,
}

// EnumerateAudioFiles walks dir (non-recursively — a session directory is
// always flat) and returns every supported audio file path, sorted for
// deterministic sequencing input.
func EnumerateAudioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !SupportedFormats[ext] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// ComputeHash returns a deterministic, fast hash of a file's first 64KB,
// used to detect identical re-uploads without hashing the whole file.
func ComputeHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.CopyN(h, file, 64*1024); err != nil && err != io.EOF {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
