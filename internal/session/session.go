// Package session implements the Session Manager (C9): per-session upload
// directories, chunked artifact streaming, and abandoned-session reaping.
//
// Grounded in internal/httpapi's content-type-by-extension and
// os.Open/io.Copy streaming idiom (the teacher's /audio/stream handler),
// generalized from a single audio-serving endpoint into the full
// create/upload/stream/reap lifecycle spec.md §4.9 requires.
package session

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// allowedUploadExt is the whitelist of accepted upload extensions; any
// other extension is coerced to .wav (spec.md §4.9).
var allowedUploadExt = map[string]bool{
	".wav": true, ".mp3": true, ".flac": true, ".ogg": true, ".m4a": true,
}

const streamChunkBytes = 1 << 20 // ~1 MiB, per spec.md §4.9.

// Manager owns per-session directories under a configured root.
type Manager struct {
	root        string
	maxUploadB  int64
	logger      *slog.Logger
	knownIDs    func() map[string]bool // state-record lookup for reap_abandoned
}

// NewManager builds a session Manager rooted at root. knownIDs is called by
// ReapAbandoned to determine which on-disk directories still have a live
// state record; it is normally backed by the job store.
func NewManager(root string, maxUploadMB int64, logger *slog.Logger, knownIDs func() map[string]bool) *Manager {
	return &Manager{root: root, maxUploadB: maxUploadMB * 1024 * 1024, logger: logger, knownIDs: knownIDs}
}

// Create allocates a new opaque session id. No directory is created yet —
// it is created lazily on the first upload.
func (m *Manager) Create() string {
	return uuid.NewString()
}

// Dir returns the on-disk directory for a session id (may not exist yet).
func (m *Manager) Dir(id string) string {
	return filepath.Join(m.root, id)
}

// AcceptUpload writes an uploaded track under the session directory,
// creating it on first use. originalFilename is used only to determine the
// extension (whitelisted, else coerced to .wav); size is the declared
// payload size in bytes, checked against the configured cap before any
// bytes are written.
func (m *Manager) AcceptUpload(id, label, originalFilename string, r io.Reader, size int64) (path string, err error) {
	if m.maxUploadB > 0 && size > m.maxUploadB {
		return "", fmt.Errorf("upload exceeds maximum size of %d bytes", m.maxUploadB)
	}

	dir := m.Dir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(originalFilename))
	if !allowedUploadExt[ext] {
		ext = ".wav"
	}

	path = filepath.Join(dir, fmt.Sprintf("song_%s%s", label, ext))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer f.Close()

	written, err := io.Copy(f, r)
	if err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	if m.maxUploadB > 0 && written > m.maxUploadB {
		os.Remove(path)
		return "", fmt.Errorf("upload exceeds maximum size of %d bytes", m.maxUploadB)
	}
	return path, nil
}

// ContentType returns the MIME type for a path's extension, matching the
// teacher's stream-handler switch.
func ContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".m4a", ".aac":
		return "audio/aac"
	case ".ogg":
		return "audio/ogg"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".gz":
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}

// StreamArtifact copies path's content to w in ~1 MiB chunks and reports
// whether it copied every byte. It deletes nothing; after a completed
// stream the caller decides whether to invoke Delete.
func (m *Manager) StreamArtifact(path string, w io.Writer) (completed bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	buf := make([]byte, streamChunkBytes)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return false, werr
			}
		}
		if rerr == io.EOF {
			return true, nil
		}
		if rerr != nil {
			return false, rerr
		}
	}
}

// Delete removes a session's entire directory, used after a completed
// artifact stream or on render failure.
func (m *Manager) Delete(id string) error {
	return os.RemoveAll(m.Dir(id))
}

// ReapAbandoned enumerates session directories and removes any whose id no
// longer has a live state record, returning the count removed.
func (m *Manager) ReapAbandoned() (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("list session root: %w", err)
	}

	known := m.knownIDs()
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if known[e.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, e.Name())); err != nil {
			if m.logger != nil {
				m.logger.Warn("failed to reap abandoned session directory", "id", e.Name(), "error", err)
			}
			continue
		}
		removed++
	}
	return removed, nil
}

// ReapOlderThan is a TTL-based fallback reap used when no state record
// lookup is practical (e.g. a standalone purge run): removes any session
// directory whose last modification predates the cutoff, regardless of
// known-id state.
func (m *Manager) ReapOlderThan(ttl time.Duration) (int, error) {
	cutoff := timeNow().Add(-ttl)
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// timeNow is the clock ReapOlderThan reads to compute its cutoff.
var timeNow = time.Now
