package cli

import (
	"fmt"

	"github.com/glorpus-work/assetpkg/internal/logger"
	"github.com/glorpus-work/assetpkg/pkg/archive"
	"github.com/spf13/cobra"
)

// Number of arguments expected by the pack command.
const packCommandArgs = 2

// NewPackCmd creates the pack command.
func NewPackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack SRC_DIR OUT_ARCHIVE",
		Short: "Create a package archive",
		Long: `Pack the contents of SRC_DIR into OUT_ARCHIVE. A .zip name creates a zip archive,
any other name a gzip compressed tarball.`,
		Args: cobra.ExactArgs(packCommandArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := archive.NewManager().Create(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("failed to create archive: %w", err)
			}
			logger.Success("Archive created", logger.Fields{"source": args[0], "archive": args[1]})
			return nil
		},
	}

	return cmd
}
