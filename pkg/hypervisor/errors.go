package hypervisor

import "errors"

// Configuration errors
var (
	ErrInvalidCPUCount    = errors.New("hypervisor: CPU count must be at least 1")
	ErrInsufficientMemory = errors.New("hypervisor: memory must be at least 128MB")
	ErrMissingDisk        = errors.New("hypervisor: disk path is required")
	ErrInvalidDiskFormat  = errors.New("hypervisor: disk format must be 'raw' or 'qcow2'")
)

// Runtime errors
var (
	ErrNotCreated       = errors.New("hypervisor: VM not created")
	ErrAlreadyRunning   = errors.New("hypervisor: VM is already running")
	ErrNotRunning       = errors.New("hypervisor: VM is not running")
	ErrEmulatorNotFound = errors.New("hypervisor: qemu-system binary not found on PATH")
)
