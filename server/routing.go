package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/limnc/flaked/logger"
)

// setupRoutes registers every handler on s.mux.
func (s *Server) setupRoutes() {
	handle := func(pattern string, h http.HandlerFunc) {
		s.mux.HandleFunc(pattern, s.corsMiddleware(s.requestLogger(h)))
	}

	handle("GET /healthz", s.handleHealth)

	// Engine
	handle("GET /scheduler/status", s.handleSchedulerStatus)
	handle("PUT /scheduler/status", s.handleSetSchedulerStatus)
	handle("GET /scheduler/jobs", s.handleListJobs)
	handle("GET /scheduler/metrics", s.handleMetrics)

	// Jobs
	handle("GET /scheduler/job/{id}", s.handleGetJob)
	handle("POST /scheduler/job/{id}", s.handleRunJob)
	handle("GET /scheduler/job/{id}/status", s.handleJobStatus)
	handle("PUT /scheduler/job/{id}/status", s.handleSetJobStatus)

	// Configuration
	handle("GET /config/settings", s.handleSettings)
	handle("GET /config/runtime", s.handleRuntime)
	handle("GET /config/instruments", s.handleListInstruments)
	handle("POST /config/instruments", s.handlePutInstrument)
	handle("GET /config/instrument/{name}", s.handleGetInstrument)
	handle("DELETE /config/instrument/{name}", s.handleDeleteInstrument)

	// Instrument logs
	handle("GET /logs/instrument/{name}", s.handleLogTail)
	handle("GET /logs/instrument/{name}/files", s.handleLogFiles)
	s.mux.HandleFunc("GET /logs/instrument/{name}/stream", s.handleLogStream)

	// Preflight for every route
	s.mux.HandleFunc("OPTIONS /", s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {}))
}

// corsMiddleware lets the browser frontend call the API from any origin.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogger tags the request with an id and logs its outcome.
func (s *Server) requestLogger(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		w.Header().Set("X-Request-ID", requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next(rec, r)

		s.logger.Debugw("Request handled",
			logger.FieldRequestID, requestID,
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldStatus, rec.status,
			logger.FieldDurationMS, time.Since(start).Milliseconds())
	}
}
