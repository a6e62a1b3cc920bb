// Package handlers serves the live state of a running job.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/3leaps/bamverify/internal/server/middleware"
	"github.com/3leaps/bamverify/pkg/artifact"
	"github.com/3leaps/bamverify/pkg/job"
)

// StageTiming is one finished stage.
type StageTiming struct {
	Stage    job.State     `json:"stage"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration_ns"`
}

// StatusResponse is the /status body.
type StatusResponse struct {
	Version      string        `json:"version"`
	JobID        string        `json:"job_id,omitempty"`
	State        job.State     `json:"state"`
	CurrentStage job.State     `json:"current_stage,omitempty"`
	FailedStage  job.State     `json:"failed_stage,omitempty"`
	Error        string        `json:"error,omitempty"`
	Artifacts    int           `json:"artifacts_uploaded"`
	Finished     bool          `json:"finished"`
	Stages       []StageTiming `json:"stages"`
}

// JobStatus tracks one job through its Observer hooks and serves it over
// HTTP.
type JobStatus struct {
	job.NopObserver

	mu        sync.RWMutex
	version   string
	jobID     string
	state     job.State
	current   job.State
	failed    job.State
	errMsg    string
	artifacts int
	finished  bool
	stages    []StageTiming
}

var _ job.Observer = (*JobStatus)(nil)

// NewJobStatus returns a tracker in the init state.
func NewJobStatus(version string) *JobStatus {
	return &JobStatus{version: version, state: job.StateInit}
}

func (s *JobStatus) StageStarted(_ context.Context, ev job.StageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobID = ev.JobID
	s.current = ev.Stage
}

func (s *JobStatus) StageCompleted(_ context.Context, ev job.StageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = ev.Stage
	s.current = ""
	s.stages = append(s.stages, StageTiming{Stage: ev.Stage, Status: "completed", Duration: ev.Duration})
}

func (s *JobStatus) StageFailed(_ context.Context, ev job.StageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = ""
	// The first failure names the stage; a later release failure only adds
	// to the timeline.
	if s.failed == "" {
		s.failed = ev.Stage
		if ev.Err != nil {
			s.errMsg = ev.Err.Error()
		}
	}
	s.stages = append(s.stages, StageTiming{Stage: ev.Stage, Status: "failed", Duration: ev.Duration})
}

func (s *JobStatus) ArtifactUploaded(context.Context, string, artifact.Uploaded) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts++
}

func (s *JobStatus) JobFinished(_ context.Context, sum *job.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	if sum != nil {
		s.state = sum.State
	}
}

// Snapshot returns a copy of the current status.
func (s *JobStatus) Snapshot() StatusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StatusResponse{
		Version:      s.version,
		JobID:        s.jobID,
		State:        s.state,
		CurrentStage: s.current,
		FailedStage:  s.failed,
		Error:        s.errMsg,
		Artifacts:    s.artifacts,
		Finished:     s.finished,
		Stages:       append([]StageTiming{}, s.stages...),
	}
}

// StatusHandler serves the full snapshot.
func (s *JobStatus) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// LivenessHandler answers 200 while the process is up.
func (s *JobStatus) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ReadinessHandler answers 200 while the job is healthy and 503 once a stage
// has failed.
func (s *JobStatus) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.Snapshot()
	if snap.FailedStage != "" {
		middleware.WriteError(w, r, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE",
			"job failed", map[string]any{
				"failed_stage": string(snap.FailedStage),
				"error":        snap.Error,
			})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"state":  string(snap.State),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
