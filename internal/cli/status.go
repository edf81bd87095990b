package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"bsdci/internal/config"
	"bsdci/internal/vm"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the working disk, cache and last provisioning run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func runStatus() error {
	e, err := newEnv()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "Image:\t%s\n", e.cfg.ImageName)
	fmt.Fprintf(w, "Data dir:\t%s\n", e.paths.DataDir)
	if file := config.ConfigFileUsed(); file != "" {
		fmt.Fprintf(w, "Config:\t%s\n", file)
	}

	if e.disks.Exists(e.cfg.ImageName) {
		size, err := e.disks.Size(e.cfg.ImageName)
		if err == nil {
			fmt.Fprintf(w, "Working disk:\t%s (%d MB)\n", e.disks.Path(e.cfg.ImageName), size/(1024*1024))
		} else {
			fmt.Fprintf(w, "Working disk:\t%s\n", e.disks.Path(e.cfg.ImageName))
		}
	} else {
		fmt.Fprintf(w, "Working disk:\tnone\n")
	}

	if e.store.Exists() {
		fmt.Fprintf(w, "Cache:\t%s\n", e.store.ArchivePath())
	} else {
		fmt.Fprintf(w, "Cache:\tempty\n")
	}

	state, err := vm.NewStateFile(e.paths.DataDir).Load()
	if err != nil {
		return err
	}
	if state.BootCount > 0 {
		fmt.Fprintf(w, "Boots:\t%d\n", state.BootCount)
		fmt.Fprintf(w, "Last boot:\t%s\n", state.LastBoot.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "Clean shutdown:\t%v\n", state.CleanShutdown)
	}
	if !state.LastProvision.IsZero() {
		fmt.Fprintf(w, "Last provision:\t%s (%s, took %s)\n",
			state.LastProvision.Format("2006-01-02 15:04:05"),
			state.ProvisionMode,
			state.LastProvisionDuration.Round(time.Second))
	}
	return nil
}
