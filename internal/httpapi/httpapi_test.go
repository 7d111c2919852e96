package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cartomix/opus/internal/adminconfig"
	"github.com/cartomix/opus/internal/analyzer"
	"github.com/cartomix/opus/internal/brain"
	"github.com/cartomix/opus/internal/domain"
	"github.com/cartomix/opus/internal/jobs"
	"github.com/cartomix/opus/internal/jobstore"
	"github.com/cartomix/opus/internal/progress"
	"github.com/cartomix/opus/internal/renderer"
	"github.com/cartomix/opus/internal/session"
	"github.com/cartomix/opus/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := discardLogger()
	dataDir := t.TempDir()

	db, err := storage.Open(dataDir, logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	states := jobstore.NewSessionStore(jobstore.NewMemStore())
	sess := session.NewManager(filepath.Join(dataDir, "sessions"), 200, logger, states.KnownIDs)
	admin, err := adminconfig.Open(dataDir, logger)
	if err != nil {
		t.Fatalf("open admin config: %v", err)
	}
	brainEng := brain.NewEngine(nil, 32, logger)
	render := renderer.NewClient("opus-render-stub", logger)
	az := analyzer.NewCPUFallback(logger)
	bus := progress.New()

	orch := jobs.New(db, states, bus, sess, az, nil, brainEng, render, admin, logger)

	return NewServer(logger, sess, states, orch, admin, bus)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestCreateSessionThenUploadRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 creating session, got %d", rec.Code)
	}
	var created map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := created["session_id"]
	if id == "" {
		t.Fatal("expected a session_id")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "track.wav")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("fake wav bytes"))
	mw.Close()

	uploadReq := httptest.NewRequest(http.MethodPost, "/upload/"+id+"/a", &body)
	uploadReq.Header.Set("Content-Type", mw.FormDataContentType())
	uploadRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(uploadRec, uploadReq)

	if uploadRec.Code != http.StatusOK {
		t.Fatalf("expected 200 uploading, got %d: %s", uploadRec.Code, uploadRec.Body.String())
	}
}

func TestUploadToUnknownSessionReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "track.wav")
	part.Write([]byte("x"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload/does-not-exist/a", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestGenerateRejectsMissingUploads(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session", nil))
	var created map[string]string
	json.NewDecoder(rec.Body).Decode(&created)
	id := created["session_id"]

	genRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(genRec, httptest.NewRequest(http.MethodPost, "/generate/"+id, nil))
	if genRec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing uploads, got %d", genRec.Code)
	}
}

func TestGenerateStatusUnknownSessionReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/generate/nope/status", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestEventsUnknownSessionReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/generate/nope/events", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestEventsStreamsUntilSessionReady(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session", nil))
	var created map[string]string
	json.NewDecoder(rec.Body).Decode(&created)
	id := created["session_id"]

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		evRec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/generate/"+id+"/events", nil)
		srv.Handler().ServeHTTP(evRec, req)
		done <- evRec
	}()

	sess, ok, err := srv.states.Get(id)
	if !ok || err != nil {
		t.Fatalf("expected session to exist, ok=%v err=%v", ok, err)
	}
	sess.Status = domain.StatusReady
	if err := srv.states.Put(sess); err != nil {
		t.Fatalf("put: %v", err)
	}

	// The subscriber goroutine above needs a moment to reach Subscribe before
	// a publish lands; retry the publish until the stream closes or we time
	// out, rather than racing a single publish against subscription setup.
	deadline := time.After(2 * time.Second)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case evRec := <-done:
			if evRec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", evRec.Code)
			}
			if evRec.Header().Get("Content-Type") != "text/event-stream" {
				t.Errorf("expected text/event-stream content type, got %q", evRec.Header().Get("Content-Type"))
			}
			return
		case <-ticker.C:
			srv.bus.Publish(progress.Event{SessionID: id, Phase: domain.PhaseReady, Message: "set ready"})
		case <-deadline:
			t.Fatal("events stream did not close after session reached a terminal status")
		}
	}
}

func TestDownloadBeforeReadyReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session", nil))
	var created map[string]string
	json.NewDecoder(rec.Body).Decode(&created)
	id := created["session_id"]

	dlRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(dlRec, httptest.NewRequest(http.MethodGet, "/download/"+id, nil))
	if dlRec.Code != http.StatusNotFound {
		t.Errorf("expected 404 before the set is ready, got %d", dlRec.Code)
	}
}

func TestDownloadBundleServesChecksummedArchive(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session", nil))
	var created map[string]string
	json.NewDecoder(rec.Body).Decode(&created)
	id := created["session_id"]

	dir := t.TempDir()
	bundlePath := filepath.Join(dir, "set-bundle.tar.gz")
	if err := os.WriteFile(bundlePath, []byte("fake archive"), 0o644); err != nil {
		t.Fatal(err)
	}

	sess, ok, err := srv.states.Get(id)
	if !ok || err != nil {
		t.Fatalf("expected session to exist, ok=%v err=%v", ok, err)
	}
	sess.Status = domain.StatusReady
	sess.BundlePath = bundlePath
	if err := srv.states.Put(sess); err != nil {
		t.Fatalf("put: %v", err)
	}

	bundleRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(bundleRec, httptest.NewRequest(http.MethodGet, "/download/"+id+"/bundle", nil))
	if bundleRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", bundleRec.Code, bundleRec.Body.String())
	}
	if bundleRec.Body.String() != "fake archive" {
		t.Errorf("expected bundle bytes streamed, got %q", bundleRec.Body.String())
	}
}

func TestProcessFolderRejectsFewerThanTwoFiles(t *testing.T) {
	srv := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("files", "only-one.wav")
	part.Write([]byte("x"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/process-folder", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a single-file folder, got %d", rec.Code)
	}
}

func TestCleanupReturnsRemovedCount(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cleanup", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := resp["removed"]; !ok {
		t.Error("expected a removed count in the response")
	}
}

func TestAdminConfigGetAndPatch(t *testing.T) {
	srv := newTestServer(t)

	getRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/admin/config", nil))
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getRec.Code)
	}

	patchBody := bytes.NewBufferString(`{"default_bars": 16}`)
	patchReq := httptest.NewRequest(http.MethodPost, "/admin/config", patchBody)
	patchRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(patchRec, patchReq)
	if patchRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", patchRec.Code, patchRec.Body.String())
	}

	var cfg map[string]any
	if err := json.NewDecoder(patchRec.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg["default_bars"] != float64(16) {
		t.Errorf("expected default_bars to be patched to 16, got %v", cfg["default_bars"])
	}
}

func TestAddAndDeletePreset(t *testing.T) {
	srv := newTestServer(t)

	addBody := bytes.NewBufferString(`{"name": "warmup", "params": {"default_bars": 64}}`)
	addReq := httptest.NewRequest(http.MethodPost, "/admin/config/presets", addBody)
	addRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(addRec, addReq)
	if addRec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", addRec.Code, addRec.Body.String())
	}

	var cfg struct {
		Presets []struct {
			ID string `json:"id"`
		} `json:"presets"`
	}
	if err := json.NewDecoder(addRec.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cfg.Presets) != 1 {
		t.Fatalf("expected one preset, got %d", len(cfg.Presets))
	}

	delRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(delRec, httptest.NewRequest(http.MethodDelete, "/admin/config/presets/"+cfg.Presets[0].ID, nil))
	if delRec.Code != http.StatusOK {
		t.Fatalf("expected 200 deleting preset, got %d", delRec.Code)
	}
}

func TestCORSPreflightRequest(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS header to be set")
	}
}
