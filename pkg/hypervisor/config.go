package hypervisor

// VMConfig holds VM configuration parameters.
type VMConfig struct {
	// CPUs is the number of virtual CPUs.
	CPUs int

	// MemoryMB is the amount of memory in megabytes.
	MemoryMB int

	// DiskPath is the path to the boot disk image.
	DiskPath string

	// DiskFormat is the disk image format ("qcow2" or "raw").
	DiskFormat string

	// PortForwards maps host ports to guest ports for usermode networking.
	// Example: {10022: 22} forwards 127.0.0.1:10022 to guest:22.
	PortForwards map[int]int

	// NoKVM disables hardware acceleration even when /dev/kvm is present.
	NoKVM bool
}

// Validate performs basic validation of the configuration.
func (c *VMConfig) Validate() error {
	if c.CPUs < 1 {
		return ErrInvalidCPUCount
	}
	if c.MemoryMB < 128 {
		return ErrInsufficientMemory
	}
	if c.DiskPath == "" {
		return ErrMissingDisk
	}
	if c.DiskFormat == "" {
		c.DiskFormat = "raw"
	}
	if c.DiskFormat != "raw" && c.DiskFormat != "qcow2" {
		return ErrInvalidDiskFormat
	}
	return nil
}
