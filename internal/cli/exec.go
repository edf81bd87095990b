package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"mvdan.cc/sh/v3/syntax"
)

func newExecCmd() *cobra.Command {
	var workdir string

	cmd := &cobra.Command{
		Use:   "exec -- command [args...]",
		Short: "Run a command in the provisioned guest",
		Long: `Exec boots the provisioned image, runs the given command over SSH with
the local stdio attached, and powers the guest back off. The working disk
persists, so files written by one exec are visible to the next.

NPROC is exported into the guest environment so build commands can pick
their parallelism, e.g.:

  bsdci exec -- gmake -j\$NPROC`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd.Context(), workdir, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&workdir, "workdir", "w", "", "directory in the guest to run the command from")

	return cmd
}

func runExec(ctx context.Context, workdir, command string) error {
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

	client, err := e.dialGuest(ctx)
	if err != nil {
		killVM(mgr)
		return err
	}

	guestCmd, err := guestCommand(workdir, e.cfg.NProc, command)
	if err != nil {
		killVM(mgr)
		return err
	}

	log.Info("running in guest", "cmd", guestCmd)
	runErr := client.RunInteractive(guestCmd)

	if err := e.shutdownGuest(ctx, client, mgr); err != nil {
		log.Warn("unclean VM shutdown", "err", err)
	}

	return runErr
}

// guestCommand builds the shell line run in the guest: NPROC exported for
// build parallelism, optionally prefixed by a cd into a quoted workdir.
func guestCommand(workdir string, nproc int, command string) (string, error) {
	cmd := fmt.Sprintf("env NPROC=%d %s", nproc, command)
	if workdir != "" {
		q, err := syntax.Quote(workdir, syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("quote workdir: %w", err)
		}
		cmd = fmt.Sprintf("cd %s && %s", q, cmd)
	}
	return cmd, nil
}
