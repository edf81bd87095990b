package hypervisor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"syscall"
)

const qemuBinary = "qemu-system-x86_64"

// qemuDriver runs the guest under a full-system QEMU process with the
// serial console attached to the process stdio.
type qemuDriver struct {
	mu     sync.Mutex
	cfg    *VMConfig
	cmd    *exec.Cmd
	state  driverState
	stderr bytes.Buffer

	consoleIn  io.WriteCloser // guest serial input
	consoleOut io.ReadCloser  // guest serial output
}

type driverState int

const (
	stateNew driverState = iota
	stateCreated
	stateRunning
	stateStopped
)

// NewDriver creates a QEMU-based driver.
func NewDriver() (Driver, error) {
	if _, err := exec.LookPath(qemuBinary); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEmulatorNotFound, qemuBinary)
	}
	return &qemuDriver{state: stateNew}, nil
}

func (d *qemuDriver) Info() Info {
	return Info{
		Name:    qemuBinary,
		Version: "system",
		Arch:    runtime.GOARCH,
	}
}

func (d *qemuDriver) Validate(ctx context.Context, cfg *VMConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := os.Stat(cfg.DiskPath); err != nil {
		return fmt.Errorf("qemuDriver: disk not found: %w", err)
	}
	return nil
}

// kvmAvailable reports whether /dev/kvm can be used for acceleration.
func kvmAvailable() bool {
	info, err := os.Stat("/dev/kvm")
	return err == nil && info.Mode()&os.ModeDevice != 0
}

// args builds the QEMU command line. The serial console goes to stdio so the
// console driver can scrape it; there is no display and no monitor.
func (d *qemuDriver) args(cfg *VMConfig) []string {
	args := []string{
		"-m", strconv.Itoa(cfg.MemoryMB),
		"-smp", strconv.Itoa(cfg.CPUs),
		"-display", "none",
		"-monitor", "none",
		"-serial", "stdio",
		"-drive", fmt.Sprintf("file=%s,format=%s,if=virtio", cfg.DiskPath, cfg.DiskFormat),
	}

	if !cfg.NoKVM && kvmAvailable() {
		args = append(args, "-enable-kvm", "-cpu", "host")
	}

	netdev := "user,id=net0"
	for hostPort, guestPort := range cfg.PortForwards {
		netdev += fmt.Sprintf(",hostfwd=tcp:127.0.0.1:%d-:%d", hostPort, guestPort)
	}
	args = append(args,
		"-netdev", netdev,
		"-device", "virtio-net-pci,netdev=net0",
	)

	return args
}

func (d *qemuDriver) Create(ctx context.Context, cfg *VMConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateNew {
		return fmt.Errorf("qemuDriver: invalid state for Create")
	}

	cmd := exec.Command(qemuBinary, d.args(cfg)...)
	cmd.Stderr = &d.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("qemuDriver: create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("qemuDriver: create stdout pipe: %w", err)
	}

	d.cfg = cfg
	d.cmd = cmd
	d.consoleIn = stdin
	d.consoleOut = stdout
	d.state = stateCreated

	return nil
}

func (d *qemuDriver) Start(ctx context.Context) (chan error, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case stateRunning:
		return nil, ErrAlreadyRunning
	case stateCreated:
	default:
		return nil, ErrNotCreated
	}

	if err := d.cmd.Start(); err != nil {
		return nil, fmt.Errorf("qemuDriver: start %s: %w", qemuBinary, err)
	}
	d.state = stateRunning

	errCh := make(chan error, 1)
	go func() {
		err := d.cmd.Wait()
		d.mu.Lock()
		d.state = stateStopped
		stderr := d.stderr.String()
		d.mu.Unlock()
		if err != nil && stderr != "" {
			err = fmt.Errorf("%w: %s", err, stderr)
		}
		errCh <- err
	}()

	return errCh, nil
}

func (d *qemuDriver) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateRunning {
		return ErrNotRunning
	}
	// SIGTERM lets QEMU flush the disk before exiting. Guests are expected
	// to have powered off already; this is the fallback path.
	if err := d.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("qemuDriver: signal: %w", err)
	}
	return nil
}

func (d *qemuDriver) Kill(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateRunning {
		return ErrNotRunning
	}
	if err := d.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("qemuDriver: kill: %w", err)
	}
	return nil
}

func (d *qemuDriver) Console() (io.Writer, io.Reader, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.consoleIn == nil || d.consoleOut == nil {
		return nil, nil, fmt.Errorf("qemuDriver: console not initialized")
	}
	return d.consoleIn, d.consoleOut, nil
}

func (d *qemuDriver) CloseConsole() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	if d.consoleIn != nil {
		if err := d.consoleIn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close console input: %w", err))
		}
		d.consoleIn = nil
	}
	if d.consoleOut != nil {
		if err := d.consoleOut.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close console output: %w", err))
		}
		d.consoleOut = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("qemuDriver: close console: %v", errs)
	}
	return nil
}
