package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/glorpus-work/assetpkg/internal/cli"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}

	cancel()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assetpkg",
		Short: "A resumable asset package manager",
		Long: `assetpkg downloads, unpacks and installs asset packages:
- resumable downloads that survive restarts
- enable and disable installed packages for resource lookup
- pack directories into package archives`,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: auto-detect)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	cli.AddOverrideFlags(cmd.PersistentFlags())

	cli.ConfigPath = &configPath
	cli.Verbose = &verbose

	cmd.AddCommand(
		cli.NewDownloadCmd(),
		cli.NewResumeCmd(),
		cli.NewCancelCmd(),
		cli.NewRetryCmd(),
		cli.NewDeleteCmd(),
		cli.NewEnableCmd(),
		cli.NewDisableCmd(),
		cli.NewListCmd(),
		cli.NewLookupCmd(),
		cli.NewPackCmd(),
		cli.NewCacheCmd(),
		cli.NewConfigCmd(),
		cli.NewVersionCmd(),
	)

	return cmd
}
