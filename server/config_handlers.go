package server

import (
	"net/http"
	"os"

	"github.com/limnc/flaked/config"
	"github.com/limnc/flaked/errors"
)

// RuntimeResponse tells the frontend where the engine runs from.
type RuntimeResponse struct {
	Cwd        string `json:"cwd"`
	ConfigPath string `json:"config_path"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Store.Settings().Redacted())
}

func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	cwd, err := os.Getwd()
	if err != nil {
		writeWrappedError(w, s.logger, errors.Wrap(err, "failed to get working directory"), "runtime info")
		return
	}
	writeJSON(w, http.StatusOK, RuntimeResponse{Cwd: cwd, ConfigPath: s.app.Store.Path()})
}

func (s *Server) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Store.Instruments())
}

func (s *Server) handleGetInstrument(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	inst, ok := s.app.Store.Instrument(name)
	if !ok {
		writeWrappedError(w, s.logger, errors.NewNotFoundError("instrument %q", name), "get instrument")
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// handlePutInstrument adds or replaces an instrument and schedules it.
func (s *Server) handlePutInstrument(w http.ResponseWriter, r *http.Request) {
	var inst config.Instrument
	if err := readJSON(w, r, &inst); err != nil {
		return
	}
	replaced, err := s.app.PutInstrument(inst)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to save instrument")
		return
	}

	status := http.StatusCreated
	if replaced {
		status = http.StatusOK
	}
	saved, _ := s.app.Store.Instrument(inst.Name)
	writeJSON(w, status, saved)
}

func (s *Server) handleDeleteInstrument(w http.ResponseWriter, r *http.Request) {
	removed, err := s.app.DeleteInstrument(r.PathValue("name"))
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to delete instrument")
		return
	}
	writeJSON(w, http.StatusOK, removed)
}
