// Package jobs implements the Job Orchestrator (C10): the two-phase
// pipeline (brain, audio) with a fan-in finalizer, wired on top of
// internal/storage's SQLite task queue (adapted from the teacher's
// CreateJob/ClaimJob/CompleteJob/FailJob/ResetStalledJobs pattern, renamed
// from scan/analyze task types onto the brain/audio queues spec.md §4.10
// requires).
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cartomix/opus/internal/adminconfig"
	"github.com/cartomix/opus/internal/analyzer"
	"github.com/cartomix/opus/internal/brain"
	"github.com/cartomix/opus/internal/domain"
	"github.com/cartomix/opus/internal/exporter"
	"github.com/cartomix/opus/internal/jobstore"
	"github.com/cartomix/opus/internal/progress"
	"github.com/cartomix/opus/internal/renderer"
	"github.com/cartomix/opus/internal/samples"
	"github.com/cartomix/opus/internal/scanner"
	"github.com/cartomix/opus/internal/sequencer"
	"github.com/cartomix/opus/internal/session"
	"github.com/cartomix/opus/internal/storage"
)

// BrainPayload is the argument set for a brain-phase task: analyze,
// sequence, and materialize per-segment strategies for every roadmap pair.
type BrainPayload struct {
	SessionID  string `json:"session_id"`
	SessionDir string `json:"session_dir"`
	UserPrompt string `json:"user_prompt"`
}

// AudioPayload is the argument set for one audio-phase task: render a
// single roadmap pair into seg_<index>.wav.
type AudioPayload struct {
	SessionID string              `json:"session_id"`
	Index     int                 `json:"index"`
	TrackA    string              `json:"track_a"`
	TrackB    string              `json:"track_b"`
	AnalysisA *domain.SongAnalysis `json:"analysis_a"`
	AnalysisB *domain.SongAnalysis `json:"analysis_b"`
	Strategy  *domain.MixStrategy `json:"strategy"`
}

// FinalizePayload is the argument set for the finalize task: concatenate
// every completed segment and write the tracklist.
type FinalizePayload struct {
	SessionID      string             `json:"session_id"`
	SessionDir     string             `json:"session_dir"`
	Transitions    []*domain.Transition `json:"transitions"`
	SegmentCount   int                `json:"segment_count"`
}

// Orchestrator owns the queue, the session state store, the progress bus,
// and every domain collaborator a task needs to run.
type Orchestrator struct {
	db       *storage.DB
	states   *jobstore.SessionStore
	bus      *progress.Bus
	sessions *session.Manager
	analyzer analyzer.Analyzer
	samples  *samples.Library
	brainEng *brain.Engine
	render   *renderer.Client
	admin    *adminconfig.Store
	logger   *slog.Logger

	mu          sync.Mutex
	segResults  map[string]map[int]string // session -> index -> rendered segment path
	segExpected map[string]int
}

// New builds an Orchestrator. analyzer, samples, brainEng, and render are
// the C1/C4/C6/C8 collaborators each phase calls into.
func New(db *storage.DB, states *jobstore.SessionStore, bus *progress.Bus, sessions *session.Manager,
	an analyzer.Analyzer, lib *samples.Library, brainEng *brain.Engine, render *renderer.Client,
	admin *adminconfig.Store, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		db: db, states: states, bus: bus, sessions: sessions,
		analyzer: an, samples: lib, brainEng: brainEng, render: render, admin: admin, logger: logger,
		segResults:  make(map[string]map[int]string),
		segExpected: make(map[string]int),
	}
}

// EnqueueBrain schedules the brain phase for a newly generated session.
func (o *Orchestrator) EnqueueBrain(p BrainPayload) error {
	_, err := o.db.CreateJob(storage.QueueBrain, 0, map[string]any{
		"session_id":  p.SessionID,
		"session_dir": p.SessionDir,
		"user_prompt": p.UserPrompt,
		"kind":        "brain",
	})
	return err
}

// RunBrainWorker polls the brain queue until ctx is cancelled, handling
// both "brain" (analyze+sequence) and "finalize" jobs — both share the
// brain queue per spec.md §4.10 ("Finalize phase (task class 'brain')").
func (o *Orchestrator) RunBrainWorker(ctx context.Context, pollInterval time.Duration) {
	o.pollLoop(ctx, storage.QueueBrain, pollInterval, o.handleBrainJob)
}

// RunAudioWorker polls the audio queue until ctx is cancelled.
func (o *Orchestrator) RunAudioWorker(ctx context.Context, pollInterval time.Duration) {
	o.pollLoop(ctx, storage.QueueAudio, pollInterval, o.handleAudioJob)
}

func (o *Orchestrator) pollLoop(ctx context.Context, queue storage.Queue, interval time.Duration, handle func(*storage.Job)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := o.db.ClaimJob(queue)
			if err != nil {
				o.logger.Error("claim job failed", "queue", queue, "error", err)
				continue
			}
			if job == nil {
				continue
			}
			handle(job)
		}
	}
}

func (o *Orchestrator) handleBrainJob(job *storage.Job) {
	kind, _ := job.Payload["kind"].(string)
	switch kind {
	case "finalize":
		o.runFinalize(job)
	default:
		o.runBrain(job)
	}
}

func (o *Orchestrator) handleAudioJob(job *storage.Job) {
	o.runAudio(job)
}

// runBrain enumerates the session's uploaded files, analyzes them,
// sequences a roadmap, consults the sample library, decides a strategy
// per transition, and materializes one audio task per pair.
func (o *Orchestrator) runBrain(job *storage.Job) {
	sessionID, _ := job.Payload["session_id"].(string)
	sessionDir, _ := job.Payload["session_dir"].(string)
	userPrompt, _ := job.Payload["user_prompt"].(string)
	ctx := context.Background()

	o.setPhase(sessionID, domain.PhaseAnalyzing, 0, 0, "analyzing tracks")

	paths, err := scanner.EnumerateAudioFiles(sessionDir)
	if err != nil {
		o.fail(job, sessionID, fmt.Sprintf("enumerate session files: %v", err))
		return
	}

	tracks := sequencer.AnalyzeTracks(ctx, o.analyzer, paths, o.logger)
	if len(tracks) < 2 {
		o.fail(job, sessionID, "Could not analyze at least 2 tracks")
		return
	}

	o.setPhase(sessionID, domain.PhaseSequencing, 0, 0, "sequencing set")
	ordered := sequencer.SortPlaylist(tracks, true)
	roadmap, err := sequencer.BuildRoadmap(ordered)
	if err != nil {
		o.fail(job, sessionID, err.Error())
		return
	}

	admin := o.admin.Current()
	numTracks := len(ordered)
	for i, t := range roadmap.Transitions {
		var candidates brain.OverlayCandidates
		if o.samples != nil && (admin.AllowInstrumentsAI || admin.AllowVocalsAI) {
			compatible := o.samples.GetCompatible((t.AnalysisA.BPM+t.AnalysisB.BPM)/2, t.AnalysisA.KeyCamelot,
				[]samples.Category{samples.CategoryInstruments, samples.CategoryVocals}, 4, 2)
			for _, e := range compatible {
				if e.Category == samples.CategoryInstruments {
					candidates.Instruments = append(candidates.Instruments, e)
				} else if e.Category == samples.CategoryVocals {
					candidates.Vocals = append(candidates.Vocals, e)
				}
			}
		}
		t.Strategy = o.brainEng.Decide(ctx, t.AnalysisA, t.AnalysisB, userPrompt, admin, candidates, numTracks)
	}

	o.mu.Lock()
	o.segExpected[sessionID] = len(roadmap.Transitions)
	o.segResults[sessionID] = make(map[int]string)
	o.mu.Unlock()

	if len(roadmap.Transitions) == 1 {
		t := roadmap.Transitions[0]
		sess, ok, _ := o.states.Get(sessionID)
		if !ok {
			sess = &domain.Session{ID: sessionID}
		}
		sess.AnalysisA, sess.AnalysisB, sess.Strategy = t.AnalysisA, t.AnalysisB, t.Strategy
		o.states.Put(sess)
	}

	o.setPhase(sessionID, domain.PhaseRendering, 0, len(roadmap.Transitions), "rendering segments")
	for i, t := range roadmap.Transitions {
		if _, err := o.db.CreateJob(storage.QueueAudio, 0, map[string]any{
			"session_id": sessionID,
			"index":      i,
			"track_a":    t.TrackA,
			"track_b":    t.TrackB,
			"analysis_a": t.AnalysisA,
			"analysis_b": t.AnalysisB,
			"strategy":   t.Strategy,
		}); err != nil {
			o.fail(job, sessionID, fmt.Sprintf("enqueue audio task %d: %v", i, err))
			return
		}
	}

	if _, err := o.db.CreateJob(storage.QueueBrain, -1, map[string]any{
		"session_id":   sessionID,
		"session_dir":  sessionDir,
		"transitions":  roadmap.Transitions,
		"segment_count": len(roadmap.Transitions),
		"kind":         "finalize",
	}); err != nil {
		o.fail(job, sessionID, fmt.Sprintf("enqueue finalize task: %v", err))
		return
	}

	o.db.CompleteJob(job.ID, nil)
}

func (o *Orchestrator) runAudio(job *storage.Job) {
	sessionID, _ := job.Payload["session_id"].(string)
	index := int(job.Payload["index"].(float64))

	var strategy domain.MixStrategy
	decodeInto(job.Payload["strategy"], &strategy)
	var aAnalysis, bAnalysis domain.SongAnalysis
	decodeInto(job.Payload["analysis_a"], &aAnalysis)
	decodeInto(job.Payload["analysis_b"], &bAnalysis)
	trackA, _ := job.Payload["track_a"].(string)
	trackB, _ := job.Payload["track_b"].(string)

	outPath := filepath.Join(filepath.Dir(trackA), fmt.Sprintf("seg_%d.wav", index))

	ctx := context.Background()
	instrumentPath, cleanupInstrument, err := o.render.ResolveOverlay(ctx, strategy.OverlayInstrumentURL)
	if err != nil {
		o.db.FailJob(job.ID, err.Error())
		o.failSession(sessionID, fmt.Sprintf("resolve instrument overlay for segment %d: %v", index, err))
		return
	}
	defer cleanupInstrument()
	vocalPath, cleanupVocal, err := o.render.ResolveOverlay(ctx, strategy.OverlayVocalURL)
	if err != nil {
		o.db.FailJob(job.ID, err.Error())
		o.failSession(sessionID, fmt.Sprintf("resolve vocal overlay for segment %d: %v", index, err))
		return
	}
	defer cleanupVocal()

	plan := renderer.Plan{
		TrackA: trackA, TrackB: trackB, Strategy: &strategy,
		DurationASec: aAnalysis.DurationSec, DurationBSec: bAnalysis.DurationSec,
		OverlayInstrumentPath: instrumentPath,
		OverlayVocalPath:      vocalPath,
		OutputPath:            outPath,
	}

	_, err = o.render.RenderSegment(ctx, plan)
	if err != nil {
		o.db.FailJob(job.ID, err.Error())
		o.failSession(sessionID, fmt.Sprintf("render segment %d: %v", index, err))
		return
	}

	o.mu.Lock()
	if o.segResults[sessionID] == nil {
		o.segResults[sessionID] = make(map[int]string)
	}
	o.segResults[sessionID][index] = outPath
	done := len(o.segResults[sessionID])
	expected := o.segExpected[sessionID]
	o.mu.Unlock()

	o.db.CompleteJob(job.ID, map[string]any{"path": outPath})
	o.setPhase(sessionID, domain.PhaseRendering, done, expected, fmt.Sprintf("rendered segment %d/%d", done, expected))
}

func (o *Orchestrator) runFinalize(job *storage.Job) {
	sessionID, _ := job.Payload["session_id"].(string)
	sessionDir, _ := job.Payload["session_dir"].(string)
	expected := int(job.Payload["segment_count"].(float64))

	var transitions []*domain.Transition
	decodeInto(job.Payload["transitions"], &transitions)

	o.mu.Lock()
	segs := o.segResults[sessionID]
	done := len(segs)
	o.mu.Unlock()
	if done < expected {
		// Not all audio tasks have completed yet; requeue self to check later.
		o.db.CreateJob(storage.QueueBrain, -1, job.Payload)
		o.db.CompleteJob(job.ID, nil)
		return
	}

	o.setPhase(sessionID, domain.PhaseFinalizing, done, expected, "finalizing set")

	ordered := make([]string, expected)
	o.mu.Lock()
	for i := 0; i < expected; i++ {
		ordered[i] = segs[i]
	}
	o.mu.Unlock()

	finalPath := filepath.Join(sessionDir, "set.wav")
	if err := o.render.Concat(context.Background(), ordered, finalPath); err != nil {
		o.db.FailJob(job.ID, err.Error())
		o.failSession(sessionID, fmt.Sprintf("concat segments: %v", err))
		return
	}

	tracklistPath := filepath.Join(sessionDir, "tracklist.txt")
	if err := exporter.WriteTracklist(tracklistPath, transitions); err != nil {
		o.logger.Warn("failed to write tracklist", "session_id", sessionID, "error", err)
	}

	var bundlePath string
	if bundle, err := exporter.WriteBundle(sessionDir, "set", finalPath, tracklistPath); err != nil {
		o.logger.Warn("failed to write download bundle", "session_id", sessionID, "error", err)
	} else {
		bundlePath = bundle.BundlePath
	}

	for _, p := range ordered {
		os.Remove(p)
	}

	sess, ok, _ := o.states.Get(sessionID)
	if !ok {
		sess = &domain.Session{ID: sessionID}
	}
	sess.Status = domain.StatusReady
	sess.Phase = domain.PhaseReady
	sess.ArtifactPath = finalPath
	sess.TracklistPath = tracklistPath
	sess.BundlePath = bundlePath
	sess.UpdatedAt = time.Now()
	o.states.Put(sess)

	o.bus.Publish(progress.Event{SessionID: sessionID, Phase: domain.PhaseReady, Message: "set ready"})
	o.db.CompleteJob(job.ID, nil)
}

func (o *Orchestrator) setPhase(sessionID string, phase domain.Phase, current, total int, message string) {
	sess, ok, _ := o.states.Get(sessionID)
	if !ok {
		sess = &domain.Session{ID: sessionID}
	}
	sess.Status = domain.StatusProcessing
	sess.Phase = phase
	sess.CurrentSegment = current
	sess.TotalSegments = total
	sess.UpdatedAt = time.Now()
	o.states.Put(sess)
	o.bus.Publish(progress.Event{SessionID: sessionID, Phase: phase, CurrentSegment: current, TotalSegments: total, Message: message})
}

func (o *Orchestrator) fail(job *storage.Job, sessionID, message string) {
	o.db.FailJob(job.ID, message)
	o.failSession(sessionID, message)
}

func (o *Orchestrator) failSession(sessionID, message string) {
	sess, ok, _ := o.states.Get(sessionID)
	if !ok {
		sess = &domain.Session{ID: sessionID}
	}
	sess.Status = domain.StatusFailed
	sess.Error = message
	sess.UpdatedAt = time.Now()
	o.states.Put(sess)
	o.bus.Publish(progress.Event{SessionID: sessionID, Phase: sess.Phase, Message: message})
	if o.sessions != nil {
		o.sessions.Delete(sessionID)
	}
}

// decodeInto re-decodes a job payload field (already a generic
// map[string]any/[]any tree from the initial JSON unmarshal) into a typed
// target via a JSON round-trip.
func decodeInto(v any, target any) {
	if v == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	json.Unmarshal(b, target)
}

// ResetStalled resets audio/brain jobs stuck in "running" past timeout,
// so a crashed worker process does not strand a session forever.
func (o *Orchestrator) ResetStalled(timeout time.Duration) (int64, error) {
	return o.db.ResetStalledJobs(timeout)
}
