package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/glorpus-work/assetpkg/internal/logger"
	"github.com/glorpus-work/assetpkg/pkg/manager"
	"github.com/spf13/cobra"
)

// packageOp is an operation on one resolved package. It returns whether the command
// should wait for a stage the operation started.
type packageOp func(ctx context.Context, s *session, p *manager.Package) (wait bool, err error)

func newPackageCmd(use, short, long string, op packageOp) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME",
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPackageOp(cmd.Context(), cmd.OutOrStdout(), args[0], op)
		},
	}
}

func runPackageOp(ctx context.Context, out io.Writer, name string, op packageOp) error {
	printer := newProgressPrinter(out)
	return withSession(ctx, printer.hooks(), func(s *session) error {
		p, err := s.resolve(name)
		if err != nil {
			return err
		}
		wait, err := op(ctx, s, p)
		if err != nil {
			return err
		}
		if wait {
			return waitAndReport(ctx, s, out, []*manager.Package{p})
		}
		_, _ = fmt.Fprintf(out, "%s: %s\n", p.ID(), p.Status())
		return nil
	})
}

// NewCancelCmd creates the cancel command.
func NewCancelCmd() *cobra.Command {
	return newPackageCmd("cancel", "Cancel a download",
		"Stop a running or paused download and discard the bytes received so far.",
		func(_ context.Context, s *session, p *manager.Package) (bool, error) {
			return false, s.manager.CancelDownload(p)
		})
}

// NewDeleteCmd creates the delete command.
func NewDeleteCmd() *cobra.Command {
	return newPackageCmd("delete", "Delete a package",
		"Disable a package, remove its files and forget it.",
		func(ctx context.Context, s *session, p *manager.Package) (bool, error) {
			if err := s.manager.Delete(ctx, p); err != nil {
				return false, err
			}
			logger.Success("Package deleted", logger.Fields{"package": p.ID()})
			return false, nil
		})
}

// NewEnableCmd creates the enable command.
func NewEnableCmd() *cobra.Command {
	return newPackageCmd("enable", "Enable an installed package",
		"Register the install directory of a package with the resource lookup.",
		func(_ context.Context, s *session, p *manager.Package) (bool, error) {
			return false, s.manager.Enable(p)
		})
}

// NewDisableCmd creates the disable command.
func NewDisableCmd() *cobra.Command {
	return newPackageCmd("disable", "Disable an installed package",
		"Remove the install directory of a package from the resource lookup.",
		func(_ context.Context, s *session, p *manager.Package) (bool, error) {
			return false, s.manager.Disable(p)
		})
}

// NewRetryCmd creates the retry command.
func NewRetryCmd() *cobra.Command {
	return newPackageCmd("retry", "Retry a failed stage",
		`Retry the stage a package failed in. A failed download resumes, a failed unpack
extracts the downloaded archive again and a failed install runs the install step again.`,
		func(_ context.Context, s *session, p *manager.Package) (bool, error) {
			var err error
			switch p.Status() {
			case manager.StatusUnpackFailed:
				err = s.manager.RetryUnpack(p)
			case manager.StatusUnpacked:
				err = s.manager.RetryInstall(p)
			default:
				err = s.manager.ResumeDownload(p)
			}
			return err == nil, err
		})
}
