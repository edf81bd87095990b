package cli

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

func newCopyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "copy <local-path> <guest-dir>",
		Short: "Copy a file or directory tree into the guest",
		Long: `Copy boots the provisioned image and streams the local file or
directory into the guest over SSH as a tar archive. A .git directory at
any level is skipped.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCopy(cmd.Context(), args[0], args[1])
		},
	}
	return cmd
}

func runCopy(ctx context.Context, src, dst string) error {
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

	log.Info("copying into guest", "src", src, "dst", dst)
	copyErr := client.Upload(ctx, src, dst)

	if err := e.shutdownGuest(ctx, client, mgr); err != nil {
		log.Warn("unclean VM shutdown", "err", err)
	}

	return copyErr
}
