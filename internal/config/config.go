package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all bsdci configuration.
type Config struct {
	// ImageName is the base name for the cached image archive and tag file.
	ImageName string `mapstructure:"image_name"`

	// Mirrors are base URLs the FreeBSD release image may be fetched from.
	// One is picked at random per run.
	Mirrors []string `mapstructure:"mirrors"`

	// ImagePath is the image path appended to the chosen mirror.
	ImagePath string `mapstructure:"image_path"`

	// ImageSHA512 is the pinned SHA-512 of the downloaded image file.
	// A mismatch aborts the run.
	ImageSHA512 string `mapstructure:"image_sha512"`

	// CPUs is the number of virtual CPUs allocated to the VM.
	CPUs int `mapstructure:"cpus"`

	// MemoryMB is the amount of RAM in megabytes allocated to the VM.
	MemoryMB int `mapstructure:"memory_mb"`

	// DiskFormat is the disk image format passed to QEMU (qcow2 or raw).
	DiskFormat string `mapstructure:"disk_format"`

	// SSHPort is the host port forwarded to the guest's port 22.
	// Bound to the bare SSH_PORT environment variable for CI pipelines.
	SSHPort int `mapstructure:"ssh_port"`

	// SSHUser is the username for guest logins.
	SSHUser string `mapstructure:"ssh_user"`

	// NProc is the build parallelism exported to guest commands.
	// Bound to the bare NPROC environment variable for CI pipelines.
	NProc int `mapstructure:"nproc"`

	// Packages are installed in the guest during provisioning and updates.
	Packages []string `mapstructure:"packages"`

	// PollInterval is the transcript polling interval for console waits.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// StepTimeout bounds a single console expectation. A step that never
	// matches fails instead of hanging until the CI job is killed.
	StepTimeout time.Duration `mapstructure:"step_timeout"`

	// BootTimeout bounds the wait for the guest boot menu and login prompt.
	BootTimeout time.Duration `mapstructure:"boot_timeout"`

	// RepoDir is the git checkout whose tag list keys the image cache.
	// Defaults to the current working directory.
	RepoDir string `mapstructure:"repo_dir"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ImageName: "freebsd-builder",
		Mirrors: []string{
			"https://download.freebsd.org/releases/VM-IMAGES",
			"https://ftp.freebsd.org/pub/FreeBSD/releases/VM-IMAGES",
		},
		ImagePath:    "14.2-RELEASE/amd64/Latest/FreeBSD-14.2-RELEASE-amd64.qcow2.xz",
		ImageSHA512:  "",
		CPUs:         runtime.NumCPU(),
		MemoryMB:     4096,
		DiskFormat:   "qcow2",
		SSHPort:      10022,
		SSHUser:      "root",
		NProc:        runtime.NumCPU(),
		Packages:     []string{"gmake", "pkgconf", "nasm"},
		PollInterval: 500 * time.Millisecond,
		StepTimeout:  5 * time.Minute,
		BootTimeout:  10 * time.Minute,
		RepoDir:      ".",
	}
}

// Global holds the loaded configuration.
var Global *Config

// Load reads configuration from file, environment, and defaults.
func Load() error {
	paths, err := GetPaths()
	if err != nil {
		return fmt.Errorf("failed to determine paths: %w", err)
	}

	defaults := DefaultConfig()
	viper.SetDefault("image_name", defaults.ImageName)
	viper.SetDefault("mirrors", defaults.Mirrors)
	viper.SetDefault("image_path", defaults.ImagePath)
	viper.SetDefault("image_sha512", defaults.ImageSHA512)
	viper.SetDefault("cpus", defaults.CPUs)
	viper.SetDefault("memory_mb", defaults.MemoryMB)
	viper.SetDefault("disk_format", defaults.DiskFormat)
	viper.SetDefault("ssh_port", defaults.SSHPort)
	viper.SetDefault("ssh_user", defaults.SSHUser)
	viper.SetDefault("nproc", defaults.NProc)
	viper.SetDefault("packages", defaults.Packages)
	viper.SetDefault("poll_interval", defaults.PollInterval)
	viper.SetDefault("step_timeout", defaults.StepTimeout)
	viper.SetDefault("boot_timeout", defaults.BootTimeout)
	viper.SetDefault("repo_dir", defaults.RepoDir)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(paths.DataDir)
	viper.AddConfigPath(paths.ConfigDir)

	// Environment variable support: BSDCI_SSH_PORT, BSDCI_MEMORY_MB, etc.
	viper.SetEnvPrefix("BSDCI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// The CI pipeline exports these two without a prefix.
	_ = viper.BindEnv("ssh_port", "BSDCI_SSH_PORT", "SSH_PORT")
	_ = viper.BindEnv("nproc", "BSDCI_NPROC", "NPROC")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK - we use defaults
	}

	Global = &Config{}
	if err := viper.Unmarshal(Global); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	return nil
}

// ConfigFileUsed returns the path of the config file being used, if any.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
