package vm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PersistentState tracks VM run history across invocations.
type PersistentState struct {
	LastBoot      time.Time `json:"last_boot"`
	LastShutdown  time.Time `json:"last_shutdown"`
	BootCount     int       `json:"boot_count"`
	CleanShutdown bool      `json:"clean_shutdown"`

	// LastProvision records when the guest was last provisioned, how
	// ("full", "update" or "reuse") and how long the run took.
	LastProvision         time.Time     `json:"last_provision"`
	ProvisionMode         string        `json:"provision_mode"`
	LastProvisionDuration time.Duration `json:"last_provision_duration"`
}

// StateFile persists VM state to disk as JSON.
type StateFile struct {
	path string
}

// NewStateFile creates a state file store in the given directory.
func NewStateFile(dir string) *StateFile {
	return &StateFile{path: filepath.Join(dir, "state.json")}
}

// Path returns the state file location.
func (s *StateFile) Path() string {
	return s.path
}

// Load reads the persistent state. A missing file yields a zero state.
func (s *StateFile) Load() (*PersistentState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &PersistentState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var state PersistentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	return &state, nil
}

// Save writes the persistent state atomically.
func (s *StateFile) Save(state *PersistentState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// RecordBoot marks a VM boot.
func (s *StateFile) RecordBoot() error {
	state, err := s.Load()
	if err != nil {
		return err
	}
	state.LastBoot = time.Now()
	state.BootCount++
	state.CleanShutdown = false
	return s.Save(state)
}

// RecordShutdown marks a VM shutdown.
func (s *StateFile) RecordShutdown(clean bool) error {
	state, err := s.Load()
	if err != nil {
		return err
	}
	state.LastShutdown = time.Now()
	state.CleanShutdown = clean
	return s.Save(state)
}

// RecordProvision marks a completed provisioning run and its duration.
func (s *StateFile) RecordProvision(mode string, took time.Duration) error {
	state, err := s.Load()
	if err != nil {
		return err
	}
	state.LastProvision = time.Now()
	state.ProvisionMode = mode
	state.LastProvisionDuration = took
	return s.Save(state)
}
