package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"bsdci/internal/cache"
	"bsdci/internal/config"
	"bsdci/internal/image"
	"bsdci/internal/remote"
	"bsdci/internal/vm"
)

// env holds everything a guest-facing command needs: resolved paths, the
// cache store, the working disk store and the SSH key manager.
type env struct {
	cfg   *config.Config
	paths *config.Paths
	store *cache.Store
	disks *vm.DiskStore
	keys  *remote.KeyManager
}

func newEnv() (*env, error) {
	paths, err := config.GetPaths()
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, err
	}
	cfg := config.Global
	return &env{
		cfg:   cfg,
		paths: paths,
		store: cache.NewStore(paths.CacheDir, cfg.ImageName),
		disks: vm.NewDiskStore(paths.DataDir),
		keys:  remote.NewKeyManager(filepath.Join(paths.DataDir, "ssh")),
	}, nil
}

// baseImagePath is where the decompressed pristine release image lands.
func (e *env) baseImagePath() string {
	name := filepath.Base(e.cfg.ImagePath)
	name = strings.TrimSuffix(name, ".xz")
	return filepath.Join(e.paths.DataDir, name)
}

// fetchBaseImage downloads and verifies the release image if missing.
func (e *env) fetchBaseImage(ctx context.Context) (string, error) {
	f := image.NewFetcher(e.cfg.Mirrors, e.cfg.ImagePath, e.cfg.ImageSHA512)
	path := e.baseImagePath()
	if err := f.Fetch(ctx, path); err != nil {
		return "", err
	}
	return path, nil
}

// ensureWorkingDisk makes sure the named working disk exists, extracting
// the cached archive when the disk itself is gone but the cache survives.
func (e *env) ensureWorkingDisk(ctx context.Context) (string, error) {
	if e.disks.Exists(e.cfg.ImageName) {
		return e.disks.Path(e.cfg.ImageName), nil
	}
	if e.store.Exists() {
		dst := e.disks.Path(e.cfg.ImageName)
		log.Info("restoring working disk from cache", "path", dst)
		if err := e.store.Extract(dst); err != nil {
			return "", err
		}
		return dst, nil
	}
	return "", fmt.Errorf("no provisioned image for %q; run 'bsdci provision' first", e.cfg.ImageName)
}

// bootVM creates and starts a VM on the given working disk.
func (e *env) bootVM(ctx context.Context, diskPath string) (*vm.Manager, error) {
	mgr, err := vm.NewManager(vm.ManagerConfig{
		DataDir:     e.paths.DataDir,
		CPUs:        e.cfg.CPUs,
		MemoryMB:    e.cfg.MemoryMB,
		DiskPath:    diskPath,
		DiskFormat:  e.cfg.DiskFormat,
		SSHHostPort: e.cfg.SSHPort,
	})
	if err != nil {
		return nil, err
	}
	if err := mgr.Prepare(ctx); err != nil {
		return nil, err
	}
	if err := mgr.Start(ctx); err != nil {
		return nil, err
	}
	return mgr, nil
}

// dialGuest connects to the guest's forwarded SSH port.
func (e *env) dialGuest(ctx context.Context) (*remote.Client, error) {
	signer, err := e.keys.Signer()
	if err != nil {
		log.Debug("no usable ssh key, relying on empty password", "err", err)
		signer = nil
	}
	return remote.Dial(ctx, "127.0.0.1", e.cfg.SSHPort, e.cfg.SSHUser, signer)
}

// shutdownGuest powers the guest off over SSH and waits for the VM
// process to exit, escalating to SIGTERM and then SIGKILL if the guest
// does not go down on its own.
func (e *env) shutdownGuest(ctx context.Context, client *remote.Client, mgr *vm.Manager) error {
	if client != nil {
		// The connection drops mid-command; that is not a failure.
		_ = client.Run(ctx, "poweroff", nil, nil)
		client.Close()
	}

	done := make(chan error, 1)
	go func() { done <- mgr.Wait() }()

	select {
	case err := <-done:
		mgr.CloseConsole()
		return err
	case <-time.After(e.cfg.StepTimeout):
	case <-ctx.Done():
	}

	log.Warn("guest did not power off, stopping VM process")
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mgr.Stop(stopCtx); err != nil {
		_ = mgr.Kill(stopCtx)
	}

	select {
	case err := <-done:
		mgr.CloseConsole()
		return err
	case <-time.After(30 * time.Second):
		mgr.CloseConsole()
		return fmt.Errorf("VM process did not exit")
	}
}
