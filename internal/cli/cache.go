package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/glorpus-work/assetpkg/internal/logger"
	"github.com/glorpus-work/assetpkg/pkg/cache"
	"github.com/glorpus-work/assetpkg/pkg/manager"
	"github.com/spf13/cobra"
)

// NewCacheCmd creates the cache command with subcommands.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage download and unpack scratch space",
		Long:  "Show and reclaim the space used by archives and extractions no package refers to",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "info",
			Short: "Show scratch directory usage",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runCacheInfo(cmd.Context(), cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "clean",
			Short: "Remove orphaned downloads and extractions",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runCacheClean(cmd.Context(), cmd.OutOrStdout())
			},
		},
	)

	return cmd
}

func scratchCleaner(m *manager.Manager) *cache.Cleaner {
	return cache.NewCleaner(
		cache.Dir{Name: "downloads", Path: m.DownloadDir()},
		cache.Dir{Name: "unpack", Path: m.UnpackDir()},
	)
}

func runCacheInfo(ctx context.Context, out io.Writer) error {
	return withSession(ctx, manager.Hooks{}, func(s *session) error {
		infos, err := scratchCleaner(s.manager).Info()
		if err != nil {
			return err
		}

		tabWriter := tabwriter.NewWriter(out, 0, 0, TabWidth, ' ', 0)
		_, _ = fmt.Fprintln(tabWriter, "DIRECTORY\tPATH\tENTRIES\tSIZE")
		for _, info := range infos {
			_, _ = fmt.Fprintf(tabWriter, "%s\t%s\t%d\t%s\n", info.Name, info.Path, info.Entries, cache.FormatBytes(info.Size))
		}
		return tabWriter.Flush()
	})
}

func runCacheClean(ctx context.Context, out io.Writer) error {
	return withSession(ctx, manager.Hooks{}, func(s *session) error {
		inUse := make(map[string]bool)
		for _, p := range s.manager.Packages() {
			for _, path := range []string{p.DownloadPath(), p.UnpackPath()} {
				if path != "" {
					inUse[filepath.Clean(path)] = true
				}
			}
		}

		result, err := scratchCleaner(s.manager).Clean(func(path string) bool {
			return inUse[filepath.Clean(path)]
		})
		if err != nil {
			return fmt.Errorf("failed to clean scratch directories: %w", err)
		}

		if len(result.Removed) == 0 {
			_, _ = fmt.Fprintln(out, "No orphaned files found")
			return nil
		}
		logger.Success("Scratch space cleaned", logger.Fields{
			"removed": len(result.Removed),
			"freed":   cache.FormatBytes(result.TotalFreed),
		})
		return nil
	})
}
