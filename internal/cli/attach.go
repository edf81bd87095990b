package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"bsdci/internal/terminal"
)

func newAttachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Boot the provisioned image and attach to its serial console",
		Long: `Attach boots the provisioned image and connects the local terminal to
the guest's serial console for manual inspection.

Press Ctrl+] twice quickly to detach; the VM is powered off on detach.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttach(cmd.Context())
		},
	}
	return cmd
}

func runAttach(ctx context.Context) error {
	e, err := newEnv()
	if err != nil {
		return err
	}

	diskPath, err := e.ensureWorkingDisk(ctx)
	if err != nil {
		return err
	}

	mgr, err := e.bootVM(ctx, diskPath)
	if err != nil {
		return err
	}
	defer killVM(mgr)

	in, out, err := mgr.ConsoleIO()
	if err != nil {
		return err
	}

	fmt.Println("Attached to console. Press Ctrl+] twice to detach.")

	fd := int(os.Stdin.Fd())
	var restore func()
	if term.IsTerminal(fd) {
		old, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("set raw terminal: %w", err)
		}
		restore = func() { term.Restore(fd, old) }
		defer restore()
	}

	detach := terminal.NewDetachReader(os.Stdin)

	go io.Copy(os.Stdout, out)
	go io.Copy(in, detach)

	vmDone := make(chan error, 1)
	go func() { vmDone <- mgr.Wait() }()

	select {
	case <-detach.Detached():
		if restore != nil {
			restore()
		}
		fmt.Println("\nDetached.")
	case err := <-vmDone:
		if restore != nil {
			restore()
		}
		if err != nil {
			log.Warn("VM exited", "err", err)
		} else {
			fmt.Println("\nVM powered off.")
		}
	case <-ctx.Done():
	}
	return nil
}
