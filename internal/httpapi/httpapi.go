// Package httpapi implements the stateless REST surface (spec.md §6):
// session allocation, track upload, the two-track and multi-track
// pipelines, status polling, artifact/tracklist download, cleanup, and
// admin config CRUD. Grounded on the teacher's httpapi.go: same
// *http.ServeMux with "METHOD /path" patterns, the same writeJSON/writeError
// helpers and CORS middleware, generalized from a track-catalog API onto
// the session-oriented pipeline this spec describes.
package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cartomix/opus/internal/adminconfig"
	"github.com/cartomix/opus/internal/domain"
	"github.com/cartomix/opus/internal/jobs"
	"github.com/cartomix/opus/internal/jobstore"
	"github.com/cartomix/opus/internal/progress"
	"github.com/cartomix/opus/internal/session"
)

// stalledJobTimeout is how long a job may sit in "running" before the
// /cleanup sweep requeues it (SPEC_FULL.md supplemented stalled-job
// recovery feature).
const stalledJobTimeout = 10 * time.Minute

// Server wires the Session Manager, Job Orchestrator, Job State Store, and
// Admin Config Store behind the REST surface.
type Server struct {
	logger       *slog.Logger
	sessions     *session.Manager
	states       *jobstore.SessionStore
	orchestrator *jobs.Orchestrator
	admin        *adminconfig.Store
	bus          *progress.Bus
	mux          *http.ServeMux
}

// NewServer builds the HTTP API server.
func NewServer(logger *slog.Logger, sessions *session.Manager, states *jobstore.SessionStore,
	orchestrator *jobs.Orchestrator, admin *adminconfig.Store, bus *progress.Bus) *Server {
	s := &Server{
		logger:       logger,
		sessions:     sessions,
		states:       states,
		orchestrator: orchestrator,
		admin:        admin,
		bus:          bus,
		mux:          http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /session", s.handleCreateSession)
	s.mux.HandleFunc("POST /upload/{id}/{label}", s.handleUpload)

	s.mux.HandleFunc("POST /generate/{id}", s.handleGenerate)
	s.mux.HandleFunc("GET /generate/{id}/status", s.handleGenerateStatus)
	s.mux.HandleFunc("GET /generate/{id}/events", s.handleEvents)
	s.mux.HandleFunc("GET /download/{id}", s.handleDownload)
	s.mux.HandleFunc("GET /download/{id}/bundle", s.handleDownloadBundle)

	s.mux.HandleFunc("POST /process-folder", s.handleProcessFolder)
	s.mux.HandleFunc("GET /process-folder/{id}/status", s.handleFolderStatus)
	s.mux.HandleFunc("GET /process-folder/{id}/events", s.handleEvents)
	s.mux.HandleFunc("GET /process-folder/{id}/set", s.handleFolderSet)
	s.mux.HandleFunc("GET /process-folder/{id}/bundle", s.handleFolderBundle)
	s.mux.HandleFunc("GET /process-folder/{id}/tracklist", s.handleFolderTracklist)

	s.mux.HandleFunc("POST /cleanup", s.handleCleanup)

	s.mux.HandleFunc("GET /admin/config", s.handleGetAdminConfig)
	s.mux.HandleFunc("POST /admin/config", s.handleUpdateAdminConfig)
	s.mux.HandleFunc("POST /admin/config/presets", s.handleAddPreset)
	s.mux.HandleFunc("DELETE /admin/config/presets/{id}", s.handleDeletePreset)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateSession allocates a new opaque session id (spec.md §6
// POST /session).
func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	id := s.sessions.Create()
	if err := s.states.Put(&domain.Session{ID: id, Status: domain.StatusUploading}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record session: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

// handleUpload accepts one track upload for a session (spec.md §6
// POST /upload/{id}/a, POST /upload/{id}/b).
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	label := r.PathValue("label")

	if _, ok, _ := s.states.Get(id); !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field: "+err.Error())
		return
	}
	defer file.Close()

	path, err := s.sessions.AcceptUpload(id, label, header.Filename, file, header.Size)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": id,
		"file":       label,
		"path":       path,
	})
}

type generateRequest struct {
	UserPrompt string `json:"user_prompt,omitempty"`
}

// handleGenerate starts the two-track pipeline once song_a/song_b have
// been uploaded (spec.md §6 POST /generate/{id}).
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok, _ := s.states.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	var req generateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	dir := s.sessions.Dir(id)
	if !hasUploadedTrack(dir, "song_a") || !hasUploadedTrack(dir, "song_b") {
		writeError(w, http.StatusBadRequest, "both song_a and song_b must be uploaded before generating")
		return
	}

	if err := s.orchestrator.EnqueueBrain(jobs.BrainPayload{SessionID: id, SessionDir: dir, UserPrompt: req.UserPrompt}); err != nil {
		writeError(w, http.StatusBadGateway, "failed to start pipeline: "+err.Error())
		return
	}

	sess.Status = domain.StatusProcessing
	s.states.Put(sess)

	writeJSON(w, http.StatusOK, map[string]string{
		"session_id":   id,
		"status":       string(domain.StatusProcessing),
		"status_url":   fmt.Sprintf("/generate/%s/status", id),
		"download_url": fmt.Sprintf("/download/%s", id),
		"bundle_url":   fmt.Sprintf("/download/%s/bundle", id),
	})
}

type generateStatusResponse struct {
	Status      domain.Status        `json:"status"`
	DownloadURL string                `json:"download_url,omitempty"`
	BundleURL   string                `json:"bundle_url,omitempty"`
	Error       string                `json:"error,omitempty"`
	AnalysisA   *domain.SongAnalysis `json:"analysis_a,omitempty"`
	AnalysisB   *domain.SongAnalysis `json:"analysis_b,omitempty"`
	Strategy    *domain.MixStrategy  `json:"strategy,omitempty"`
}

func (s *Server) handleGenerateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok, _ := s.states.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	resp := generateStatusResponse{Status: sess.Status, Error: sess.Error, AnalysisA: sess.AnalysisA, AnalysisB: sess.AnalysisB, Strategy: sess.Strategy}
	if sess.Status == domain.StatusReady {
		resp.DownloadURL = fmt.Sprintf("/download/%s", id)
		resp.BundleURL = fmt.Sprintf("/download/%s/bundle", id)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEvents serves the Progress Bus (C11) push channel as
// spec.md §4.11/§6 describe: an alternative to status polling, not a
// replacement for it, so delivery stays best-effort. Shared by both the
// two-track and multi-track pipelines since both publish onto the same
// per-session bus.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok, _ := s.states.Get(id); !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, cancel := s.bus.Subscribe(id)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			b, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
			if sess, ok, _ := s.states.Get(id); ok && (sess.Status == domain.StatusReady || sess.Status == domain.StatusFailed) {
				return
			}
		}
	}
}

// handleDownload streams the final mix and deletes the session on a fully
// completed transfer (spec.md §6 GET /download/{id}).
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.streamArtifact(w, id, func(sess *domain.Session) string { return sess.ArtifactPath }, true)
}

// handleDownloadBundle streams the checksummed tar.gz (set.wav + tracklist
// + a sha256 manifest) a consumer can verify offline with cmd/exportverify,
// an alternative to the bare-WAV /download/{id} for clients that want the
// integrity guarantee.
func (s *Server) handleDownloadBundle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.streamArtifact(w, id, func(sess *domain.Session) string { return sess.BundlePath }, true)
}

type processFolderResponse struct {
	SessionID    string `json:"session_id"`
	Status       string `json:"status"`
	StatusURL    string `json:"status_url"`
	SetURL       string `json:"set_url"`
	BundleURL    string `json:"bundle_url"`
	TracklistURL string `json:"tracklist_url"`
}

// handleProcessFolder accepts a multipart upload of two or more tracks and
// starts the multi-track pipeline (spec.md §6 POST /process-folder).
func (s *Server) handleProcessFolder(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(0); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) < 2 {
		writeError(w, http.StatusBadRequest, "at least two track files are required")
		return
	}

	id := s.sessions.Create()
	for i, fh := range files {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "open upload: "+err.Error())
			return
		}
		_, err = s.sessions.AcceptUpload(id, fmt.Sprintf("%d", i), fh.Filename, f, fh.Size)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	dir := s.sessions.Dir(id)
	sess := &domain.Session{ID: id, Status: domain.StatusProcessing}
	if err := s.states.Put(sess); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record session: "+err.Error())
		return
	}

	if err := s.orchestrator.EnqueueBrain(jobs.BrainPayload{SessionID: id, SessionDir: dir}); err != nil {
		writeError(w, http.StatusBadGateway, "failed to start pipeline: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, processFolderResponse{
		SessionID:    id,
		Status:       string(domain.StatusProcessing),
		StatusURL:    fmt.Sprintf("/process-folder/%s/status", id),
		SetURL:       fmt.Sprintf("/process-folder/%s/set", id),
		BundleURL:    fmt.Sprintf("/process-folder/%s/bundle", id),
		TracklistURL: fmt.Sprintf("/process-folder/%s/tracklist", id),
	})
}

type folderStatusResponse struct {
	Status         domain.Status `json:"status"`
	Phase          domain.Phase  `json:"phase,omitempty"`
	CurrentSegment int           `json:"current_segment,omitempty"`
	TotalSegments  int           `json:"total_segments,omitempty"`
	SetURL         string        `json:"set_url,omitempty"`
	BundleURL      string        `json:"bundle_url,omitempty"`
	TracklistURL   string        `json:"tracklist_url,omitempty"`
	Error          string        `json:"error,omitempty"`
}

func (s *Server) handleFolderStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok, _ := s.states.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	resp := folderStatusResponse{Status: sess.Status, Phase: sess.Phase, CurrentSegment: sess.CurrentSegment, TotalSegments: sess.TotalSegments, Error: sess.Error}
	if sess.Status == domain.StatusReady {
		resp.SetURL = fmt.Sprintf("/process-folder/%s/set", id)
		resp.BundleURL = fmt.Sprintf("/process-folder/%s/bundle", id)
		resp.TracklistURL = fmt.Sprintf("/process-folder/%s/tracklist", id)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFolderSet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.streamArtifact(w, id, func(sess *domain.Session) string { return sess.ArtifactPath }, true)
}

func (s *Server) handleFolderBundle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.streamArtifact(w, id, func(sess *domain.Session) string { return sess.BundlePath }, true)
}

func (s *Server) handleFolderTracklist(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.streamArtifact(w, id, func(sess *domain.Session) string { return sess.TracklistPath }, false)
}

// streamArtifact streams the file a session record points at, optionally
// deleting the session once the transfer fully completes (spec.md §6: the
// WAV/set download deletes the session; the tracklist stream does not).
func (s *Server) streamArtifact(w http.ResponseWriter, id string, pick func(*domain.Session) string, deleteOnComplete bool) {
	sess, ok, _ := s.states.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	path := pick(sess)
	if sess.Status != domain.StatusReady || path == "" {
		writeError(w, http.StatusNotFound, "artifact not ready")
		return
	}

	w.Header().Set("Content-Type", session.ContentType(path))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))

	completed, err := s.sessions.StreamArtifact(path, w)
	if err != nil {
		s.logger.Error("stream artifact failed", "session_id", id, "path", path, "error", err)
		return
	}

	if completed && deleteOnComplete {
		sess.Status = domain.StatusReaped
		s.states.Put(sess)
		if err := s.sessions.Delete(id); err != nil {
			s.logger.Warn("failed to delete session after download", "session_id", id, "error", err)
		}
	}
}

// handleCleanup reaps abandoned session directories and sweeps stalled
// jobs back to pending (spec.md §6 POST /cleanup, supplemented per
// SPEC_FULL.md with the stalled-job recovery sweep).
func (s *Server) handleCleanup(w http.ResponseWriter, _ *http.Request) {
	removed, err := s.sessions.ReapAbandoned()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cleanup failed: "+err.Error())
		return
	}
	if _, err := s.orchestrator.ResetStalled(stalledJobTimeout); err != nil {
		s.logger.Warn("stalled job sweep failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleGetAdminConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.admin.Current())
}

// adminConfigPatch uses pointer fields so an absent JSON key leaves the
// corresponding setting untouched (spec.md §6: "unset fields unchanged"),
// matching the teacher's MLSettingsRequest idiom.
type adminConfigPatch struct {
	SystemPrompt       *string  `json:"system_prompt,omitempty"`
	MixSensitivity     *float64 `json:"mix_sensitivity,omitempty"`
	DefaultBars        *int     `json:"default_bars,omitempty"`
	BassSwapIntensity  *float64 `json:"bass_swap_intensity,omitempty"`
	AllowInstrumentsAI *bool    `json:"allow_instruments_ai,omitempty"`
	AllowVocalsAI      *bool    `json:"allow_vocals_ai,omitempty"`
}

func (s *Server) handleUpdateAdminConfig(w http.ResponseWriter, r *http.Request) {
	var patch adminConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var cfg domain.AdminConfig
	var mask adminconfig.UpdateMask
	if patch.SystemPrompt != nil {
		cfg.SystemPrompt, mask.SystemPrompt = *patch.SystemPrompt, true
	}
	if patch.MixSensitivity != nil {
		cfg.MixSensitivity, mask.MixSensitivity = *patch.MixSensitivity, true
	}
	if patch.DefaultBars != nil {
		cfg.DefaultBars, mask.DefaultBars = *patch.DefaultBars, true
	}
	if patch.BassSwapIntensity != nil {
		cfg.BassSwapIntensity, mask.BassSwapIntensity = *patch.BassSwapIntensity, true
	}
	if patch.AllowInstrumentsAI != nil {
		cfg.AllowInstrumentsAI, mask.AllowInstrumentsAI = *patch.AllowInstrumentsAI, true
	}
	if patch.AllowVocalsAI != nil {
		cfg.AllowVocalsAI, mask.AllowVocalsAI = *patch.AllowVocalsAI, true
	}

	if err := s.admin.Update(cfg, mask); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update admin config: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.admin.Current())
}

type presetRequest struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// handleAddPreset is a supplemented endpoint (SPEC_FULL.md): spec.md §3
// names AdminConfig.Presets but never elaborates an operation to manage it.
func (s *Server) handleAddPreset(w http.ResponseWriter, r *http.Request) {
	var req presetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	cfg, err := s.admin.AddPreset(req.Name, req.Params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add preset: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cfg, err := s.admin.RemovePreset(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove preset: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func hasUploadedTrack(dir, prefix string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) >= len(prefix) && e.Name()[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
