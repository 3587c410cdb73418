package config

import (
	"sync"

	"github.com/limnc/flaked/errors"
)

// Store owns the configuration file and the in-memory configuration.
// Every getter returns a deep copy, so a running job never observes an edit
// made while it runs.
type Store struct {
	path    string
	mu      sync.RWMutex
	cfg     *Config
	onWrite func()
}

// Open loads the configuration at path, writing the default configuration
// first if the file does not exist.
func Open(path string) (*Store, error) {
	if _, err := EnsureFile(path); err != nil {
		return nil, err
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	return NewStore(path, cfg), nil
}

// NewStore wraps an already loaded configuration. Edits are persisted to path.
func NewStore(path string, cfg *Config) *Store {
	return &Store{path: path, cfg: cfg.Clone()}
}

// Path returns the configuration file location.
func (s *Store) Path() string {
	return s.path
}

// OnWrite registers fn to run right before the store writes the file.
// The config watcher uses it to ignore the store's own writes.
func (s *Store) OnWrite(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onWrite = fn
}

// Reload re-reads the file. On error the previous configuration is kept.
func (s *Store) Reload() error {
	cfg, err := LoadFromFile(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the whole configuration.
func (s *Store) Snapshot() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Settings returns a copy of the global settings.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Settings.Clone()
}

// Instrument returns a copy of the named instrument.
func (s *Store) Instrument(name string) (Instrument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.cfg.Instrument(name)
	if !ok {
		return Instrument{}, false
	}
	return inst.Clone(), true
}

// Instruments returns copies of all instruments in file order.
func (s *Store) Instruments() []Instrument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Instrument, len(s.cfg.Instruments))
	for i, inst := range s.cfg.Instruments {
		out[i] = inst.Clone()
	}
	return out
}

// PutInstrument adds inst, or replaces the instrument with the same name,
// and persists the configuration. It reports whether an instrument was
// replaced.
func (s *Store) PutInstrument(inst Instrument) (bool, error) {
	if err := inst.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg.Clone()
	replaced := false
	for i := range next.Instruments {
		if next.Instruments[i].Name == inst.Name {
			next.Instruments[i] = inst.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		next.Instruments = append(next.Instruments, inst.Clone())
	}

	if err := s.persistLocked(next); err != nil {
		return false, err
	}
	return replaced, nil
}

// DeleteInstrument removes the named instrument, persists the configuration
// and returns what was removed.
func (s *Store) DeleteInstrument(name string) (Instrument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, ok := s.cfg.Instrument(name)
	if !ok {
		return Instrument{}, errors.NewNotFoundError("instrument %q", name)
	}

	next := s.cfg.Clone()
	kept := next.Instruments[:0]
	for _, inst := range next.Instruments {
		if inst.Name != name {
			kept = append(kept, inst)
		}
	}
	next.Instruments = kept

	if err := s.persistLocked(next); err != nil {
		return Instrument{}, err
	}
	return removed.Clone(), nil
}

func (s *Store) persistLocked(next *Config) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if s.onWrite != nil {
		s.onWrite()
	}
	if err := Save(s.path, next); err != nil {
		return err
	}
	s.cfg = next
	return nil
}
