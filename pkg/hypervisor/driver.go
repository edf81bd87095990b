// Package hypervisor provides a minimal interface for running a guest VM
// under an emulator with a scriptable serial console.
package hypervisor

import (
	"context"
	"io"
)

// Driver is the main interface for hypervisor operations.
type Driver interface {
	Lifecycle
	Info() Info
	// Console returns the guest serial console I/O handles.
	// Only valid after Start().
	Console() (in io.Writer, out io.Reader, err error)
	// CloseConsole closes console pipes to unblock any I/O operations.
	// Safe to call multiple times.
	CloseConsole() error
}

// Lifecycle defines VM lifecycle operations.
type Lifecycle interface {
	// Validate checks if the configuration is valid for this driver.
	Validate(ctx context.Context, cfg *VMConfig) error

	// Create initializes VM resources without starting.
	Create(ctx context.Context, cfg *VMConfig) error

	// Start boots the VM. Returns a channel that receives an error when
	// the VM process exits.
	Start(ctx context.Context) (chan error, error)

	// Stop requests a shutdown of the VM process.
	Stop(ctx context.Context) error

	// Kill forcefully terminates the VM process.
	Kill(ctx context.Context) error
}

// Info contains driver metadata.
type Info struct {
	Name    string // emulator binary name
	Version string
	Arch    string
}
