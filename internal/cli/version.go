package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bsdci/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("bsdci %s\n", version.Version)
			fmt.Printf("  commit:     %s\n", version.Commit)
			fmt.Printf("  build date: %s\n", version.BuildDate)
		},
	}
}
