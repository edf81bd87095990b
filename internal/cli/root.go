// Package cli implements the bsdci command-line interface.
package cli

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"bsdci/internal/config"
)

var verbose bool

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bsdci",
		Short: "FreeBSD build VMs for Linux CI hosts",
		Long: `bsdci provisions a FreeBSD virtual machine under QEMU so CI jobs on
Linux hosts can build and test FreeBSD artifacts.

A fresh image is driven through its first boot over the serial console
(network, sshd, root login), then finished over SSH. Provisioned images
are cached keyed on the repository's tag list, so later runs boot a
ready image in seconds instead of reinstalling.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
			// version needs no config
			if cmd.Name() == "version" {
				return nil
			}
			if err := config.Load(); err != nil {
				return err
			}
			return config.Global.Validate()
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newProvisionCmd(),
		newExecCmd(),
		newCopyCmd(),
		newAttachCmd(),
		newCacheCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return root
}
