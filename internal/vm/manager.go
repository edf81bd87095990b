package vm

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"bsdci/internal/console"
	"bsdci/pkg/hypervisor"
)

// State represents the VM lifecycle state.
type State int

const (
	StateNew State = iota
	StateReady     // Disk in place, VM created
	StateRunning   // VM is running
	StateStopping  // Shutdown in progress
	StateStopped   // VM process exited
	StateError     // Error state
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ManagerConfig holds configuration for the VM manager.
type ManagerConfig struct {
	// DataDir is where transcripts and run state are stored.
	DataDir string

	// CPUs is the number of virtual CPUs.
	CPUs int

	// MemoryMB is the amount of memory in megabytes.
	MemoryMB int

	// DiskPath is the working disk image the VM boots from.
	DiskPath string

	// DiskFormat is the disk image format ("qcow2" or "raw").
	DiskFormat string

	// SSHHostPort is the host port forwarded to the guest's port 22.
	SSHHostPort int
}

// Manager orchestrates the VM lifecycle for a single provisioning run.
type Manager struct {
	cfg       ManagerConfig
	driver    hypervisor.Driver
	stateFile *StateFile

	mu      sync.RWMutex
	state   State
	errCh   chan error
	done    chan struct{}
	waitErr error
	lastErr error
}

// NewManager creates a VM manager backed by the default hypervisor driver.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	driver, err := hypervisor.NewDriver()
	if err != nil {
		return nil, fmt.Errorf("create hypervisor driver: %w", err)
	}
	return NewManagerWithDriver(cfg, driver), nil
}

// NewManagerWithDriver creates a VM manager on an existing driver.
func NewManagerWithDriver(cfg ManagerConfig, driver hypervisor.Driver) *Manager {
	if cfg.CPUs == 0 {
		cfg.CPUs = 1
	}
	if cfg.MemoryMB == 0 {
		cfg.MemoryMB = 2048
	}
	if cfg.DiskFormat == "" {
		cfg.DiskFormat = "raw"
	}

	return &Manager{
		cfg:       cfg,
		driver:    driver,
		stateFile: NewStateFile(cfg.DataDir),
		state:     StateNew,
	}
}

// Prepare validates the configuration and creates the VM.
func (m *Manager) Prepare(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateNew {
		return fmt.Errorf("cannot prepare: invalid state %s", m.state)
	}

	vmCfg := &hypervisor.VMConfig{
		CPUs:       m.cfg.CPUs,
		MemoryMB:   m.cfg.MemoryMB,
		DiskPath:   m.cfg.DiskPath,
		DiskFormat: m.cfg.DiskFormat,
	}
	if m.cfg.SSHHostPort > 0 {
		vmCfg.PortForwards = map[int]int{m.cfg.SSHHostPort: 22}
	}

	if err := m.driver.Validate(ctx, vmCfg); err != nil {
		m.state = StateError
		m.lastErr = err
		return fmt.Errorf("validate config: %w", err)
	}
	if err := m.driver.Create(ctx, vmCfg); err != nil {
		m.state = StateError
		m.lastErr = err
		return fmt.Errorf("create VM: %w", err)
	}

	m.state = StateReady
	return nil
}

// Start boots the VM.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateReady {
		return fmt.Errorf("cannot start: invalid state %s", m.state)
	}

	errCh, err := m.driver.Start(ctx)
	if err != nil {
		m.state = StateError
		m.lastErr = err
		return fmt.Errorf("start VM: %w", err)
	}

	m.errCh = errCh
	m.done = make(chan struct{})
	m.state = StateRunning

	if err := m.stateFile.RecordBoot(); err != nil {
		// State tracking is non-critical
		fmt.Fprintf(os.Stderr, "Warning: failed to record boot: %v\n", err)
	}

	go m.monitorVM()

	return nil
}

// OpenConsole opens a console session over the running VM's serial port,
// recording output to a transcript file in the data dir.
func (m *Manager) OpenConsole(name string) (*console.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state != StateRunning {
		return nil, fmt.Errorf("VM not running")
	}

	in, out, err := m.driver.Console()
	if err != nil {
		return nil, err
	}

	transcriptPath := filepath.Join(m.cfg.DataDir, name+".transcript")
	return console.Open(name, in, out, transcriptPath)
}

// ConsoleIO returns the raw serial console handles for interactive use.
func (m *Manager) ConsoleIO() (io.Writer, io.Reader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state != StateRunning {
		return nil, nil, fmt.Errorf("VM not running")
	}
	return m.driver.Console()
}

// Stop requests a shutdown of the VM process.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return fmt.Errorf("cannot stop: invalid state %s", m.state)
	}
	m.state = StateStopping
	m.mu.Unlock()

	if err := m.driver.Stop(ctx); err != nil {
		m.mu.Lock()
		m.state = StateError
		m.lastErr = err
		m.mu.Unlock()
		return fmt.Errorf("stop VM: %w", err)
	}
	return nil
}

// Kill forcefully terminates the VM.
func (m *Manager) Kill(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateRunning && m.state != StateStopping {
		m.mu.Unlock()
		return fmt.Errorf("cannot kill: invalid state %s", m.state)
	}
	m.mu.Unlock()

	if err := m.driver.Kill(ctx); err != nil {
		m.mu.Lock()
		m.state = StateError
		m.lastErr = err
		m.mu.Unlock()
		return fmt.Errorf("kill VM: %w", err)
	}
	return nil
}

// State returns the current VM state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastError returns the last error that occurred.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Wait blocks until the VM process exits and returns its exit error.
func (m *Manager) Wait() error {
	m.mu.RLock()
	done := m.done
	m.mu.RUnlock()

	if done == nil {
		return fmt.Errorf("VM not started")
	}
	<-done

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.waitErr
}

// CloseConsole closes the serial console handles, unblocking any pending
// console I/O.
func (m *Manager) CloseConsole() error {
	return m.driver.CloseConsole()
}

// DriverInfo returns hypervisor driver information.
func (m *Manager) DriverInfo() hypervisor.Info {
	return m.driver.Info()
}

// PersistentState returns the current persistent state.
func (m *Manager) PersistentState() (*PersistentState, error) {
	return m.stateFile.Load()
}

// StateFile returns the persistent state store.
func (m *Manager) StateFile() *StateFile {
	return m.stateFile
}

func (m *Manager) monitorVM() {
	err := <-m.errCh

	clean := err == nil
	if stateErr := m.stateFile.RecordShutdown(clean); stateErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to record shutdown: %v\n", stateErr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.waitErr = err
	if err != nil {
		m.state = StateError
		m.lastErr = err
	} else {
		m.state = StateStopped
	}
	close(m.done)
}
