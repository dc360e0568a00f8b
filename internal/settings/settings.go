// Package settings persists the receiver configuration document: the last
// selected serial plus a per-serial snapshot of the radio parameters.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rjboer/fobosrx/internal/logging"
)

// Device is the persisted radio state of one receiver. Every field is
// optional; absent fields leave the in-memory value untouched on load.
type Device struct {
	SampleRate   *float64 `json:"sample_rate,omitempty"`
	LNAGain      *int     `json:"lna_gain,omitempty"`
	VGAGain      *int     `json:"vga_gain,omitempty"`
	SamplingMode *int     `json:"sampling_mode,omitempty"`
	ClockSource  *int     `json:"clock_source,omitempty"`
	UserGPO      *int     `json:"user_gpo,omitempty"`
}

// Document is the on-disk layout.
type Document struct {
	Device  string            `json:"device"`
	Devices map[string]Device `json:"devices"`
}

func defaultDocument() Document {
	return Document{Devices: make(map[string]Device)}
}

// Store guards a Document and writes it back to path on every change. An
// empty path keeps the document in memory only.
type Store struct {
	mu   sync.Mutex
	path string
	doc  Document
	log  logging.Logger
}

// Open loads the document at path, creating it with defaults when missing.
func Open(path string, logger logging.Logger) (*Store, error) {
	s := &Store{
		path: path,
		doc:  defaultDocument(),
		log:  logging.OrDefault(logger).With(logging.F("subsystem", "settings")),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read settings: %w", err)
		}
		s.log.Info("settings file missing, creating defaults", logging.F("path", path))
		if err := s.Save(); err != nil {
			return nil, err
		}
		return s, nil
	}

	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("decode settings %s: %w", path, err)
	}
	if s.doc.Devices == nil {
		s.doc.Devices = make(map[string]Device)
	}
	s.log.Debug("settings loaded", logging.F("path", path), logging.F("devices", len(s.doc.Devices)))
	return s, nil
}

// NewMemory returns a Store that is never written to disk.
func NewMemory() *Store {
	return &Store{doc: defaultDocument(), log: logging.Default()}
}

// Path returns the backing file, or "" for a memory store.
func (s *Store) Path() string { return s.path }

// LastDevice returns the serial stored under the top level "device" key.
func (s *Store) LastDevice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Device
}

// SetLastDevice records serial as the last used receiver and saves.
func (s *Store) SetLastDevice(serial string) error {
	s.mu.Lock()
	s.doc.Device = serial
	s.mu.Unlock()
	return s.Save()
}

// Device returns the stored snapshot for serial.
func (s *Store) Device(serial string) (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.doc.Devices[serial]
	return d, ok
}

// PutDevice replaces the snapshot for serial and saves.
func (s *Store) PutDevice(serial string, d Device) error {
	if serial == "" {
		return errors.New("settings: empty serial")
	}
	s.mu.Lock()
	s.doc.Devices[serial] = d
	s.mu.Unlock()
	return s.Save()
}

// Snapshot returns a deep copy of the document.
func (s *Store) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Document{Device: s.doc.Device, Devices: make(map[string]Device, len(s.doc.Devices))}
	for k, v := range s.doc.Devices {
		out.Devices[k] = v
	}
	return out
}

// Save writes the whole document. The file is replaced atomically through
// a temporary file in the same directory.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	data, err := json.MarshalIndent(s.doc, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".fobos_config-*.json")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	name := tmp.Name()
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("chmod settings: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("sync settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(name, s.path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// Float returns a pointer to v, for building Device literals.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for building Device literals.
func Int(v int) *int { return &v }
