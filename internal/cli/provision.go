package cli

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"bsdci/internal/cache"
	"bsdci/internal/console"
	"bsdci/internal/provision"
	"bsdci/internal/timing"
	"bsdci/internal/vm"
)

func newProvisionCmd() *cobra.Command {
	var fresh bool

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision the FreeBSD build VM, reusing the cache when possible",
		Long: `Provision brings the build image to a CI-ready state and archives it.

The repository's tag list decides how much work is needed:

  - no cached image:        full install from the release image
  - tags unchanged:         the cached image is reused as is
  - tags changed:           the cached image is booted and updated

After a full install or an update the image is re-archived together with
the tag snapshot it was built from.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(cmd.Context(), fresh)
		},
	}

	cmd.Flags().BoolVar(&fresh, "fresh", false, "ignore the cache and provision from scratch")

	return cmd
}

// provisionFlow wires a cache decision to the work each path performs. The
// fields are closures over the real environment; tests script them.
type provisionFlow struct {
	fetchBase func(ctx context.Context) (string, error)
	copyDisk  func(basePath string) (string, error)
	extract   func() (string, error)
	setup     func(ctx context.Context, diskPath string, full bool) error
	archive   func() error
	record    func(mode string)
}

// run executes the provisioning path for the decision. The reuse path only
// extracts the cached image: no guest setup runs and the archive is never
// rewritten.
func (f *provisionFlow) run(ctx context.Context, decision cache.Decision) error {
	var diskPath string
	switch decision {
	case cache.DecisionFull:
		basePath, err := f.fetchBase(ctx)
		if err != nil {
			return err
		}
		diskPath, err = f.copyDisk(basePath)
		if err != nil {
			return err
		}

	case cache.DecisionReuse, cache.DecisionUpdate:
		var err error
		diskPath, err = f.extract()
		if err != nil {
			return err
		}
	}

	if decision == cache.DecisionReuse {
		return nil
	}

	if err := f.setup(ctx, diskPath, decision == cache.DecisionFull); err != nil {
		return err
	}
	if err := f.archive(); err != nil {
		return err
	}
	f.record(decision.String())
	return nil
}

func runProvision(ctx context.Context, fresh bool) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	timer := timing.New()

	tags, err := cache.CaptureTags(ctx, e.cfg.RepoDir)
	if err != nil {
		return err
	}

	decision := cache.DecisionFull
	if !fresh {
		decision, err = e.store.Decide(tags)
		if err != nil {
			return err
		}
	}
	log.Info("cache decision", "decision", decision, "tags", len(tags))
	timer.Mark("cache check")

	authorizedKey, err := e.keys.EnsureKeyPair()
	if err != nil {
		return err
	}

	flow := &provisionFlow{
		fetchBase: func(ctx context.Context) (string, error) {
			path, err := e.fetchBaseImage(ctx)
			timer.Mark("fetch image")
			return path, err
		},
		copyDisk: func(basePath string) (string, error) {
			path, err := e.disks.CopyFrom(basePath, e.cfg.ImageName)
			timer.Mark("prepare disk")
			return path, err
		},
		extract: func() (string, error) {
			dst := e.disks.Path(e.cfg.ImageName)
			err := e.store.Extract(dst)
			timer.Mark("extract cache")
			return dst, err
		},
		setup: func(ctx context.Context, diskPath string, full bool) error {
			return e.provisionGuest(ctx, timer, authorizedKey, diskPath, full)
		},
		archive: func() error {
			err := e.store.Archive(e.disks.Path(e.cfg.ImageName), tags)
			timer.Mark("archive")
			return err
		},
		record: func(mode string) {
			if err := vm.NewStateFile(e.paths.DataDir).RecordProvision(mode, timer.Total()); err != nil {
				log.Warn("failed to record provisioning run", "err", err)
			}
		},
	}

	if err := flow.run(ctx, decision); err != nil {
		return err
	}

	if decision == cache.DecisionReuse {
		log.Info("cached image is current", "image", e.cfg.ImageName)
	} else {
		log.Info("image ready", "image", e.cfg.ImageName, "mode", decision, "timing", timer.Summary())
	}
	timer.Report(os.Stdout)
	return nil
}

// provisionGuest boots the working disk and drives the guest to ready: the
// console phase plus package install for a fresh image, the SSH update pass
// alone for a cached one.
func (e *env) provisionGuest(ctx context.Context, timer *timing.Recorder, authorizedKey, diskPath string, full bool) error {
	orch := provision.New(provision.Config{
		PollInterval:  e.cfg.PollInterval,
		StepTimeout:   e.cfg.StepTimeout,
		BootTimeout:   e.cfg.BootTimeout,
		AuthorizedKey: authorizedKey,
		Packages:      e.cfg.Packages,
		Output:        os.Stdout,
	})

	mgr, err := e.bootVM(ctx, diskPath)
	if err != nil {
		return err
	}
	timer.Mark("boot vm")

	// A fresh image needs the console dance before sshd exists. The session
	// tee runs until the console pipes close, so it is reaped only after
	// shutdown.
	var session *console.Session
	if full {
		session, err = mgr.OpenConsole(e.cfg.ImageName)
		if err != nil {
			killVM(mgr)
			return err
		}
		if err := orch.ConsoleSetup(ctx, session); err != nil {
			killVM(mgr)
			session.Close()
			return err
		}
		timer.Mark("console setup")
	}

	client, err := e.dialGuest(ctx)
	if err != nil {
		killVM(mgr)
		return err
	}
	timer.Mark("ssh ready")

	if full {
		err = orch.InstallPackages(ctx, client)
	} else {
		err = orch.Update(ctx, client)
	}
	if err != nil {
		client.Close()
		killVM(mgr)
		return err
	}
	timer.Mark("guest setup")

	if err := e.shutdownGuest(ctx, client, mgr); err != nil {
		log.Warn("unclean VM shutdown", "err", err)
	}
	if session != nil {
		if err := session.Close(); err != nil {
			log.Debug("console session", "err", err)
		}
	}
	timer.Mark("shutdown")
	return nil
}

// killVM tears the VM down after a provisioning failure. The working disk
// is left behind for inspection.
func killVM(mgr *vm.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Kill(ctx); err != nil {
		log.Debug("kill VM", "err", err)
	}
	mgr.CloseConsole()
}
