package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/glorpus-work/assetpkg/pkg/manager"
	"github.com/spf13/cobra"
)

// NewListCmd creates the list command.
func NewListCmd() *cobra.Command {
	var nameFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List managed packages",
		Long: `List every package in the state file with its status and install path.
Use --name to filter packages by name.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd.Context(), cmd.OutOrStdout(), nameFilter)
		},
	}

	cmd.Flags().StringVar(&nameFilter, "name", "", "Filter packages by name (partial match)")

	return cmd
}

func runList(ctx context.Context, out io.Writer, nameFilter string) error {
	return withSession(ctx, manager.Hooks{}, func(s *session) error {
		var pkgs []*manager.Package
		for _, p := range s.manager.Packages() {
			if strings.Contains(strings.ToLower(p.Name()), strings.ToLower(nameFilter)) {
				pkgs = append(pkgs, p)
			}
		}
		sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].ID() < pkgs[j].ID() })

		if len(pkgs) == 0 {
			_, _ = fmt.Fprintln(out, "No packages managed")
			return nil
		}

		tabWriter := tabwriter.NewWriter(out, 0, 0, TabWidth, ' ', 0)
		_, _ = fmt.Fprintln(tabWriter, "PACKAGE\tSTATUS\tTRANSFERRED\tINSTALL PATH")
		for _, p := range pkgs {
			installPath := "-"
			if p.Status().IsInstalled() {
				installPath = s.manager.AbsInstallPath(p)
			}
			_, _ = fmt.Fprintf(tabWriter, "%s\t%s\t%s\t%s\n", p.ID(), p.Status(), transferred(p), installPath)
		}
		if err := tabWriter.Flush(); err != nil {
			return err
		}

		if n := len(s.report.Recovered); n > 0 {
			_, _ = fmt.Fprintf(out, "\nRecovered %d interrupted packages\n", n)
		}
		return nil
	})
}

func transferred(p *manager.Package) string {
	written, total := p.Transferred()
	switch {
	case written == 0 && total <= 0:
		return "-"
	case total < 0:
		return fmt.Sprintf("%d bytes", written)
	default:
		return fmt.Sprintf("%d/%d bytes", written, total)
	}
}
