// Package server exposes the engine over HTTP: engine and job control,
// instrument configuration and instrument logs.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/limnc/flaked/app"
	"github.com/limnc/flaked/errors"
	"github.com/limnc/flaked/logger"
)

const (
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout = 10 * time.Second

	// Manual runs per job: a burst of 2, then one every 5 seconds
	runInterval = 5 * time.Second
	runBurst    = 2
)

// Server is the HTTP front of an App.
type Server struct {
	app      *app.App
	logger   *zap.SugaredLogger
	mux      *http.ServeMux
	runs     *runLimiter
	upgrader websocket.Upgrader

	httpServer *http.Server
}

// New creates the server and registers its routes.
func New(a *app.App, log *zap.SugaredLogger) *Server {
	s := &Server{
		app:    a,
		logger: log.Named("server"),
		mux:    http.NewServeMux(),
		runs:   newRunLimiter(rate.Every(runInterval), runBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on addr and serves until Stop is called.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WithHint(
			errors.Wrapf(err, "failed to listen on %s", addr),
			"another process may be using the port; pass --port to choose a different one")
	}

	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infow("Server listening", logger.FieldAddress, listener.Addr().String())

	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server failed")
	}
	return nil
}

// Stop shuts the HTTP server down gracefully. Websocket streams are closed
// by their handlers once the connection drops.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "failed to shut down HTTP server")
	}
	s.logger.Infow("Server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}
