package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/glorpus-work/assetpkg/pkg/manager"
	"github.com/spf13/cobra"
)

// NewLookupCmd creates the lookup command.
func NewLookupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup FILE",
		Short: "Resolve a resource file through the enabled packages",
		Long: `Print the path FILE resolves to. Enabled packages are searched in the order
they were enabled, the most recent first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLookup(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}

	return cmd
}

func runLookup(ctx context.Context, out io.Writer, name string) error {
	return withSession(ctx, manager.Hooks{}, func(s *session) error {
		path, err := s.registry.Lookup(name)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, path)
		return nil
	})
}
