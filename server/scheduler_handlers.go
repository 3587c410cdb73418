package server

import (
	"net/http"

	"github.com/limnc/flaked/logger"
	"github.com/limnc/flaked/schedule"
)

// StatusResponse is the engine state.
type StatusResponse struct {
	Status schedule.EngineState `json:"status"`
}

// JobStatusResponse is the status of one job.
type JobStatusResponse struct {
	ID     string             `json:"id"`
	Status schedule.JobStatus `json:"status"`
}

// ListJobsResponse is the job listing.
type ListJobsResponse struct {
	Jobs  []schedule.JobInfo `json:"jobs"`
	Count int                `json:"count"`
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: s.app.Scheduler.State()})
}

// handleSetSchedulerStatus applies ?action=start|stop|pause|resume to the
// engine. Actions that do not apply to the current state are no-ops.
func (s *Server) handleSetSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	action, err := schedule.ParseControlAction(r.URL.Query().Get("action"))
	if err != nil {
		writeWrappedError(w, s.logger, err, "invalid scheduler action")
		return
	}
	if err := s.app.Scheduler.Control(action); err != nil {
		writeWrappedError(w, s.logger, err, "scheduler action failed")
		return
	}
	state := s.app.Scheduler.State()
	s.logger.Infow("Scheduler action applied", logger.FieldAction, action.String(), logger.FieldState, state.String())
	writeJSON(w, http.StatusOK, StatusResponse{Status: state})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.app.Scheduler.Jobs(r.URL.Query().Get("name"))
	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: jobs, Count: len(jobs)})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Dispatcher.Metrics())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	info, err := s.app.Scheduler.Job(r.PathValue("id"))
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := s.app.Scheduler.JobStatus(id)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to get job status")
		return
	}
	writeJSON(w, http.StatusOK, JobStatusResponse{ID: id, Status: status})
}

// handleRunJob fires the job once and replies without waiting for the run.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.runs.Allow(id) {
		writeError(w, http.StatusTooManyRequests, "Too many manual runs of "+id+", try again shortly")
		return
	}
	if err := s.app.Scheduler.RunJob(id); err != nil {
		writeWrappedError(w, s.logger, err, "failed to run job")
		return
	}
	s.logger.Infow("Manual run requested", logger.FieldJobID, id)

	status, _ := s.app.Scheduler.JobStatus(id)
	writeJSON(w, http.StatusAccepted, JobStatusResponse{ID: id, Status: status})
}

// handleSetJobStatus applies ?action=start|stop|pause|resume to one job.
func (s *Server) handleSetJobStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	action, err := schedule.ParseControlAction(r.URL.Query().Get("action"))
	if err != nil {
		writeWrappedError(w, s.logger, err, "invalid job action")
		return
	}
	if err := s.app.Scheduler.ControlJob(id, action); err != nil {
		writeWrappedError(w, s.logger, err, "job action failed")
		return
	}

	status, err := s.app.Scheduler.JobStatus(id)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to get job status")
		return
	}
	s.logger.Infow("Job action applied", logger.FieldJobID, id, logger.FieldAction, action.String(), logger.FieldStatus, status)
	writeJSON(w, http.StatusOK, JobStatusResponse{ID: id, Status: status})
}
