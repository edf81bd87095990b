package config

import (
	"errors"
	"fmt"
)

// Validation errors
var (
	ErrNoMirrors      = errors.New("config: at least one mirror is required")
	ErrInvalidSSHPort = errors.New("config: ssh_port must be between 1 and 65535")
	ErrInvalidFormat  = errors.New("config: disk_format must be 'qcow2' or 'raw'")
)

// Validate checks the loaded configuration for obvious mistakes.
func (c *Config) Validate() error {
	if len(c.Mirrors) == 0 {
		return ErrNoMirrors
	}
	if c.SSHPort < 1 || c.SSHPort > 65535 {
		return ErrInvalidSSHPort
	}
	if c.DiskFormat != "qcow2" && c.DiskFormat != "raw" {
		return ErrInvalidFormat
	}
	if c.CPUs < 1 {
		return fmt.Errorf("config: cpus must be at least 1, got %d", c.CPUs)
	}
	if c.MemoryMB < 512 {
		return fmt.Errorf("config: memory_mb must be at least 512, got %d", c.MemoryMB)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll_interval must be positive")
	}
	if c.StepTimeout <= 0 || c.BootTimeout <= 0 {
		return fmt.Errorf("config: step_timeout and boot_timeout must be positive")
	}
	return nil
}
