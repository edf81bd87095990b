package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"bsdci/internal/cache"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the provisioned image cache",
	}

	cmd.AddCommand(newCacheStatusCmd(), newCacheClearCmd())

	return cmd
}

func newCacheStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cached image and how the next provision would use it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheStatus(cmd.Context())
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the cached image archive and tag snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			if err := e.store.Clear(); err != nil {
				return err
			}
			fmt.Printf("Cache cleared for %q\n", e.cfg.ImageName)
			return nil
		},
	}
}

func runCacheStatus(ctx context.Context) error {
	e, err := newEnv()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "Image:\t%s\n", e.cfg.ImageName)
	fmt.Fprintf(w, "Cache dir:\t%s\n", e.paths.CacheDir)

	if !e.store.Exists() {
		fmt.Fprintf(w, "Archive:\tnone\n")
		fmt.Fprintf(w, "Next provision:\t%s\n", cache.DecisionFull)
		return nil
	}

	meta, err := e.store.Metadata()
	if err == nil {
		fmt.Fprintf(w, "Archive:\t%s (%d MB)\n", e.store.ArchivePath(), meta.SizeBytes/(1024*1024))
		fmt.Fprintf(w, "Created:\t%s\n", meta.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "Checksum:\t%s\n", meta.SHA256)
		fmt.Fprintf(w, "Tags:\t%d\n", meta.TagCount)
	} else {
		fmt.Fprintf(w, "Archive:\t%s (no metadata)\n", e.store.ArchivePath())
	}

	tags, err := cache.CaptureTags(ctx, e.cfg.RepoDir)
	if err != nil {
		fmt.Fprintf(w, "Repository:\t%v\n", err)
		return nil
	}
	decision, err := e.store.Decide(tags)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Next provision:\t%s\n", decision)
	return nil
}
