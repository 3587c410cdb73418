package server

import (
	"archive/zip"
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"

	"github.com/limnc/flaked/errors"
	"github.com/limnc/flaked/logger"
)

const (
	defaultTailLines = 100
	maxTailLines     = 10000

	// WebSocket timing, as in the gorilla chat example
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// instrumentLogDir returns the log folder of a configured instrument.
func (s *Server) instrumentLogDir(name string) (string, error) {
	inst, ok := s.app.Store.Instrument(name)
	if !ok {
		return "", errors.NewNotFoundError("instrument %q", name)
	}
	dir, _ := inst.LogTarget(s.app.Store.Settings())
	return dir, nil
}

// handleLogTail returns the last ?tail=N lines (default 100) of the
// instrument's active log file as plain text. A tail of zero or less sends
// the whole file.
func (s *Server) handleLogTail(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	n := defaultTailLines
	if v := r.URL.Query().Get("tail"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed > maxTailLines {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("tail must be an integer up to %d", maxTailLines))
			return
		}
		n = parsed
	}

	dir, err := s.instrumentLogDir(name)
	if err != nil {
		writeWrappedError(w, s.logger, err, "log tail")
		return
	}
	path := logger.LogPath(dir, name)

	if n <= 0 {
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "No log file for instrument "+name+" yet")
			return
		}
		if err != nil {
			writeWrappedError(w, s.logger, errors.Wrapf(err, "failed to open %s", path), "log tail")
			return
		}
		defer f.Close()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, f); err != nil {
			s.logger.Warnw("Log download interrupted", logger.FieldInstrument, name, logger.FieldError, err)
		}
		return
	}

	lines, err := tailFile(path, n)
	if os.IsNotExist(errors.UnwrapAll(err)) {
		writeError(w, http.StatusNotFound, "No log file for instrument "+name+" yet")
		return
	}
	if err != nil {
		writeWrappedError(w, s.logger, err, "log tail")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	for _, line := range lines {
		io.WriteString(w, line+"\n")
	}
}

// tailFile returns the last n lines of path.
func tailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	ring := make([]string, 0, n)
	start := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) < n {
			ring = append(ring, scanner.Text())
			continue
		}
		ring[start] = scanner.Text()
		start = (start + 1) % n
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return append(ring[start:], ring[:start]...), nil
}

// handleLogFiles sends every log file of the instrument as a zip archive.
func (s *Server) handleLogFiles(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	dir, err := s.instrumentLogDir(name)
	if err != nil {
		writeWrappedError(w, s.logger, err, "log download")
		return
	}
	files, err := logger.LogFiles(dir, name)
	if err != nil {
		writeWrappedError(w, s.logger, err, "log download")
		return
	}
	if len(files) == 0 {
		writeError(w, http.StatusNotFound, "No log files for instrument "+name)
		return
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, path := range files {
		if err := addToZip(zw, path); err != nil {
			writeWrappedError(w, s.logger, err, "log download")
			return
		}
	}
	if err := zw.Close(); err != nil {
		writeWrappedError(w, s.logger, errors.Wrap(err, "failed to finish zip"), "log download")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+"-logs.zip"))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
	s.logger.Infow("Log files downloaded", logger.FieldInstrument, name, logger.FieldCount, len(files))
}

func addToZip(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "failed to stat %s", path)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return errors.Wrapf(err, "failed to build zip header for %s", path)
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Deflate

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return errors.Wrapf(err, "failed to add %s to zip", path)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return errors.Wrapf(err, "failed to compress %s", path)
	}
	return nil
}

// handleLogStream upgrades to a websocket and sends each line appended to the
// instrument's log file as a text message.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	dir, err := s.instrumentLogDir(name)
	if err != nil {
		writeWrappedError(w, s.logger, err, "log stream")
		return
	}
	path := logger.LogPath(dir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		writeWrappedError(w, s.logger, errors.Wrapf(err, "failed to create log folder %s", dir), "log stream")
		return
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		writeWrappedError(w, s.logger, errors.Wrap(err, "failed to create file watcher"), "log stream")
		return
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		writeWrappedError(w, s.logger, errors.Wrapf(err, "failed to watch %s", dir), "log stream")
		return
	}

	var offset int64
	if info, err := os.Stat(path); err == nil {
		offset = info.Size()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", logger.FieldInstrument, name, logger.FieldError, err)
		return
	}
	defer conn.Close()
	log := s.logger.With(logger.FieldInstrument, name, "remote", r.RemoteAddr)
	log.Debugw("Log stream opened")

	// Reader: handles pongs and notices when the client goes away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Debugw("Log stream closed")
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			offset, err = sendNewLines(conn, path, offset)
			if err != nil {
				log.Debugw("Log stream write failed", logger.FieldError, err)
				return
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			log.Warnw("Log watcher error", logger.FieldError, err)
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendNewLines sends the complete lines written to path after offset and
// returns the new offset. A file shorter than offset was truncated or rotated
// and is read from the start.
func sendNewLines(conn *websocket.Conn, path string, offset int64) (int64, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return offset, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return offset, errors.Wrapf(err, "failed to stat %s", path)
	}
	if info.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, errors.Wrapf(err, "failed to seek %s", path)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return offset, errors.Wrapf(err, "failed to read %s", path)
	}

	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return offset, nil
	}
	for _, line := range bytes.Split(data[:end], []byte{'\n'}) {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, line); err != nil {
			return offset, err
		}
	}
	return offset + int64(end) + 1, nil
}
