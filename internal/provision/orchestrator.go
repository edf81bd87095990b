// Package provision drives a FreeBSD guest from first boot to a
// CI-ready state. The early steps happen over the serial console, because
// a fresh image has no networking and no sshd; once sshd is up the rest
// runs over SSH.
package provision

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// Console is the serial console surface the orchestrator drives. It is
// satisfied by *console.Session.
type Console interface {
	SendKeys(keys string) error
	WaitFor(ctx context.Context, pattern string, interval time.Duration) (string, error)
	RunAndWait(ctx context.Context, command string, interval time.Duration) error
}

// Commander runs commands inside the guest over SSH. It is satisfied by
// *remote.Client.
type Commander interface {
	Run(ctx context.Context, command string, stdout, stderr io.Writer) error
}

// Config holds orchestrator tuning.
type Config struct {
	// PollInterval is how often the console transcript is re-read while
	// waiting for a prompt.
	PollInterval time.Duration

	// StepTimeout bounds each individual console step.
	StepTimeout time.Duration

	// BootTimeout bounds the two long waits: boot menu and first login
	// prompt.
	BootTimeout time.Duration

	// AuthorizedKey is the authorized_keys line injected into the guest.
	// Empty skips key injection.
	AuthorizedKey string

	// Packages are installed in the guest during the SSH phase.
	Packages []string

	// Output receives guest command output from the SSH phase. Nil
	// discards it.
	Output io.Writer
}

// Orchestrator walks a guest through the provisioning sequence.
type Orchestrator struct {
	cfg   Config
	trace []Step
}

// New creates an orchestrator with the given configuration.
func New(cfg Config) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 5 * time.Minute
	}
	if cfg.BootTimeout <= 0 {
		cfg.BootTimeout = 10 * time.Minute
	}
	return &Orchestrator{cfg: cfg}
}

// Trace returns the steps reached so far, in order.
func (o *Orchestrator) Trace() []Step {
	return append([]Step(nil), o.trace...)
}

// LastStep returns the most recently reached step.
func (o *Orchestrator) LastStep() Step {
	if len(o.trace) == 0 {
		return StepVMStarted
	}
	return o.trace[len(o.trace)-1]
}

func (o *Orchestrator) reached(s Step) {
	o.trace = append(o.trace, s)
	log.Info("provisioning step", "step", s)
}

func (o *Orchestrator) stepCtx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}

// ConsoleSetup drives the console phase of a fresh install: boot menu,
// login, network and sshd configuration, and clearing the root password.
// On return the guest accepts root SSH connections.
func (o *Orchestrator) ConsoleSetup(ctx context.Context, con Console) error {
	o.reached(StepVMStarted)

	if err := o.bootAndLogin(ctx, con); err != nil {
		return err
	}
	if err := o.configureNetwork(ctx, con); err != nil {
		return err
	}
	if err := o.clearPassword(ctx, con); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) bootAndLogin(ctx context.Context, con Console) error {
	// The boot menu autoboots after a delay; sending enter skips the
	// countdown.
	bootCtx, cancel := o.stepCtx(ctx, o.cfg.BootTimeout)
	defer cancel()
	if _, err := con.WaitFor(bootCtx, bootMenuBanner, o.cfg.PollInterval); err != nil {
		return o.fail("wait for boot menu", err)
	}
	if err := con.SendKeys("\n"); err != nil {
		return o.fail("select boot option", err)
	}
	o.reached(StepBootMenuSelected)

	loginCtx, cancel := o.stepCtx(ctx, o.cfg.BootTimeout)
	defer cancel()
	if _, err := con.WaitFor(loginCtx, loginPrompt, o.cfg.PollInterval); err != nil {
		return o.fail("wait for login prompt", err)
	}
	o.reached(StepBooted)
	o.reached(StepLoginPrompted)

	if err := con.SendKeys("root\n"); err != nil {
		return o.fail("send username", err)
	}

	shellCtx, cancel := o.stepCtx(ctx, o.cfg.StepTimeout)
	defer cancel()
	if _, err := con.WaitFor(shellCtx, shellPrompt, o.cfg.PollInterval); err != nil {
		return o.fail("wait for shell prompt", err)
	}
	o.reached(StepLoggedIn)
	return nil
}

func (o *Orchestrator) configureNetwork(ctx context.Context, con Console) error {
	cmds, err := networkCommands(o.cfg.AuthorizedKey)
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		cmdCtx, cancel := o.stepCtx(ctx, o.cfg.StepTimeout)
		err := con.RunAndWait(cmdCtx, cmd, o.cfg.PollInterval)
		cancel()
		if err != nil {
			return o.fail(fmt.Sprintf("run %q", cmd), err)
		}
	}
	o.reached(StepNetworkConfigured)
	return nil
}

// clearPassword blanks the root password so the empty-password SSH
// fallback works. passwd prompts twice; both answers are an empty line.
func (o *Orchestrator) clearPassword(ctx context.Context, con Console) error {
	if err := con.SendKeys("passwd\n"); err != nil {
		return o.fail("run passwd", err)
	}
	for i := 0; i < 2; i++ {
		promptCtx, cancel := o.stepCtx(ctx, o.cfg.StepTimeout)
		_, err := con.WaitFor(promptCtx, passwdPrompt, o.cfg.PollInterval)
		cancel()
		if err != nil {
			return o.fail("wait for password prompt", err)
		}
		if err := con.SendKeys("\n"); err != nil {
			return o.fail("send empty password", err)
		}
	}

	// Let passwd finish before declaring the guest ready.
	doneCtx, cancel := o.stepCtx(ctx, o.cfg.StepTimeout)
	defer cancel()
	if err := con.RunAndWait(doneCtx, "true", o.cfg.PollInterval); err != nil {
		return o.fail("confirm shell after passwd", err)
	}
	o.reached(StepPasswordless)
	return nil
}

// InstallPackages runs the SSH phase of a fresh install: base system
// updates, pkg bootstrap and the configured package set.
func (o *Orchestrator) InstallPackages(ctx context.Context, cmder Commander) error {
	if err := o.runGuestCommands(ctx, cmder, installCommands(o.cfg.Packages)); err != nil {
		return err
	}
	o.reached(StepReady)
	return nil
}

// Update refreshes an already provisioned guest over SSH. No console steps
// run: a cached image boots straight to a working sshd.
func (o *Orchestrator) Update(ctx context.Context, cmder Commander) error {
	if err := o.runGuestCommands(ctx, cmder, updateCommands(o.cfg.Packages)); err != nil {
		return err
	}
	o.reached(StepReady)
	return nil
}

func (o *Orchestrator) runGuestCommands(ctx context.Context, cmder Commander, cmds []string) error {
	for _, cmd := range cmds {
		log.Info("guest command", "cmd", cmd)
		err := cmder.Run(ctx, cmd, o.cfg.Output, o.cfg.Output)
		if err != nil {
			if tolerantCommand(cmd) {
				// Nothing to patch shows up as a non-zero exit.
				log.Warn("guest command exited non-zero, continuing", "cmd", cmd, "err", err)
				continue
			}
			return o.fail(fmt.Sprintf("guest command %q", cmd), err)
		}
	}
	return nil
}

func (o *Orchestrator) fail(what string, err error) error {
	return fmt.Errorf("%s (last step %s): %w", what, o.LastStep(), err)
}
