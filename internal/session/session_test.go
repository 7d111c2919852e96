package session

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAcceptUploadCreatesDirectoryAndWhitelistsExtension(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, 10, discardLogger(), func() map[string]bool { return nil })
	id := m.Create()

	path, err := m.AcceptUpload(id, "a", "track.mp3", bytes.NewReader([]byte("fake-mp3-bytes")), 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Ext(path) != ".mp3" {
		t.Errorf("expected .mp3 extension preserved, got %s", path)
	}
	if _, err := os.Stat(m.Dir(id)); err != nil {
		t.Errorf("expected session directory to exist: %v", err)
	}
}

func TestAcceptUploadCoercesUnknownExtensionToWav(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, 10, discardLogger(), func() map[string]bool { return nil })
	id := m.Create()

	path, err := m.AcceptUpload(id, "b", "track.exe", bytes.NewReader([]byte("x")), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Ext(path) != ".wav" {
		t.Errorf("expected coercion to .wav, got %s", path)
	}
}

func TestAcceptUploadRejectsOversizedPayload(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, 1, discardLogger(), func() map[string]bool { return nil }) // 1 MB cap
	id := m.Create()

	big := bytes.Repeat([]byte("x"), 2*1024*1024)
	if _, err := m.AcceptUpload(id, "a", "track.wav", bytes.NewReader(big), int64(len(big))); err == nil {
		t.Fatal("expected an error for an oversized declared size")
	}
}

func TestStreamArtifactCopiesFullContent(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, 10, discardLogger(), func() map[string]bool { return nil })
	id := m.Create()
	path, err := m.AcceptUpload(id, "a", "track.wav", bytes.NewReader([]byte("hello world")), 11)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	completed, err := m.StreamArtifact(path, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !completed {
		t.Error("expected stream to report completed")
	}
	if buf.String() != "hello world" {
		t.Errorf("expected full content streamed, got %q", buf.String())
	}
}

func TestReapAbandonedRemovesUnknownSessionDirectories(t *testing.T) {
	root := t.TempDir()
	known := map[string]bool{}
	m := NewManager(root, 10, discardLogger(), func() map[string]bool { return known })

	keep := m.Create()
	drop := m.Create()
	known[keep] = true

	if _, err := m.AcceptUpload(keep, "a", "x.wav", bytes.NewReader([]byte("k")), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AcceptUpload(drop, "a", "x.wav", bytes.NewReader([]byte("d")), 1); err != nil {
		t.Fatal(err)
	}

	removed, err := m.ReapAbandoned()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 directory removed, got %d", removed)
	}
	if _, err := os.Stat(m.Dir(keep)); err != nil {
		t.Errorf("expected known session to survive reap: %v", err)
	}
	if _, err := os.Stat(m.Dir(drop)); !os.IsNotExist(err) {
		t.Errorf("expected unknown session to be removed")
	}
}

func TestContentTypeByExtension(t *testing.T) {
	cases := map[string]string{
		"a.mp3": "audio/mpeg",
		"a.wav": "audio/wav",
		"a.txt": "text/plain; charset=utf-8",
		"a.bin": "application/octet-stream",
	}
	for path, want := range cases {
		if got := ContentType(path); got != want {
			t.Errorf("%s: expected %s, got %s", path, want, got)
		}
	}
}
