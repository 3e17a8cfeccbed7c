package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/glorpus-work/assetpkg/internal/logger"
	"github.com/glorpus-work/assetpkg/pkg/download"
	"github.com/glorpus-work/assetpkg/pkg/manager"
	"github.com/spf13/cobra"
)

// NewDownloadCmd creates the download command.
func NewDownloadCmd() *cobra.Command {
	var req manager.DownloadRequest

	cmd := &cobra.Command{
		Use:   "download NAME",
		Short: "Download and install a package",
		Long: `Download a package archive, unpack it and install it into the install root.
The command waits until the package is installed or a stage fails. Interrupting it
pauses the download; "assetpkg resume" continues from the bytes already received.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			return runDownload(cmd.Context(), cmd.OutOrStdout(), req)
		},
	}

	cmd.Flags().StringVar(&req.Resolution, "pkg-resolution", "", "Resolution of the package (default: configured)")
	cmd.Flags().StringVar(&req.OS, "pkg-os", "", "OS of the package (default: configured)")
	cmd.Flags().StringVar(&req.RemoteURL, "url", "", "Download URL (default: derived from base_url)")
	cmd.Flags().BoolVar(&req.EnableAfterDownload, "enable", false, "Enable the package once installed")

	return cmd
}

// NewResumeCmd creates the resume command.
func NewResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume [NAME...]",
		Short: "Resume paused or failed downloads",
		Long:  "Resume the named downloads, or every paused download when no name is given, and wait for them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd.Context(), cmd.OutOrStdout(), args)
		},
	}

	return cmd
}

func runDownload(ctx context.Context, out io.Writer, req manager.DownloadRequest) error {
	printer := newProgressPrinter(out)
	return withSession(ctx, printer.hooks(), func(s *session) error {
		p, err := s.manager.RequestDownload(req)
		if err != nil {
			return fmt.Errorf("failed to request download: %w", err)
		}
		return waitAndReport(ctx, s, out, []*manager.Package{p})
	})
}

func runResume(ctx context.Context, out io.Writer, names []string) error {
	printer := newProgressPrinter(out)
	return withSession(ctx, printer.hooks(), func(s *session) error {
		var pkgs []*manager.Package
		if len(names) == 0 {
			for _, p := range s.manager.Packages() {
				if p.Status() == manager.StatusDownloadPaused {
					pkgs = append(pkgs, p)
				}
			}
			s.manager.ResumeAll()
		} else {
			for _, name := range names {
				p, err := s.resolve(name)
				if err != nil {
					return err
				}
				if err := s.manager.ResumeDownload(p); err != nil {
					return fmt.Errorf("failed to resume %s: %w", p.ID(), err)
				}
				pkgs = append(pkgs, p)
			}
		}

		// stages recovered at load time are waited for as well
		for _, p := range s.manager.Packages() {
			if !settled(p) && !slices.Contains(pkgs, p) {
				pkgs = append(pkgs, p)
			}
		}
		if len(pkgs) == 0 {
			_, _ = fmt.Fprintln(out, "Nothing to resume")
			return nil
		}
		return waitAndReport(ctx, s, out, pkgs)
	})
}

// waitAndReport waits for pkgs and reports their final status. An interrupt pauses
// every running download so that a later resume continues it.
func waitAndReport(ctx context.Context, s *session, out io.Writer, pkgs []*manager.Package) error {
	if err := waitSettled(ctx, pkgs); err != nil {
		if errors.Is(err, context.Canceled) {
			s.manager.PauseAll()
			_, _ = fmt.Fprintln(out, "Interrupted, downloads paused")
			return nil
		}
		return err
	}

	var failed []string
	for _, p := range pkgs {
		_, _ = fmt.Fprintf(out, "%s: %s\n", p.ID(), p.Status())
		switch p.Status() {
		case manager.StatusDownloadFailed, manager.StatusUnpackFailed, manager.StatusUnpacked:
			failed = append(failed, p.ID())
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("packages did not install: %v", failed)
	}
	return nil
}

// progressPrinter prints one line per lifecycle event and a line every ProgressStep
// percent of a download.
type progressPrinter struct {
	mu   sync.Mutex
	out  io.Writer
	last map[string]int
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out, last: make(map[string]int)}
}

func (pp *progressPrinter) printf(format string, args ...any) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	_, _ = fmt.Fprintf(pp.out, format, args...)
}

func (pp *progressPrinter) progress(p *manager.Package, progress download.Progress) {
	fraction := progress.Fraction()
	if fraction < 0 {
		return
	}
	pct := int(fraction*100) / ProgressStep * ProgressStep

	pp.mu.Lock()
	last, seen := pp.last[p.ID()]
	if seen && pct <= last {
		pp.mu.Unlock()
		return
	}
	pp.last[p.ID()] = pct
	pp.mu.Unlock()

	pp.printf("%s: downloaded %d%% (%d/%d bytes)\n", p.ID(), pct, progress.Written, progress.Total)
}

func (pp *progressPrinter) hooks() manager.Hooks {
	return manager.Hooks{
		DownloadStarted: func(p *manager.Package) {
			pp.mu.Lock()
			delete(pp.last, p.ID())
			pp.mu.Unlock()
			pp.printf("%s: downloading %s\n", p.ID(), p.RemoteURL())
		},
		DownloadProgress: pp.progress,
		DownloadFailed: func(p *manager.Package, err error) {
			logger.Error("Download failed", logger.Fields{"package": p.ID(), "error": err.Error()})
		},
		UnzipStarted: func(p *manager.Package) { pp.printf("%s: unpacking\n", p.ID()) },
		UnzipFailed: func(p *manager.Package, err error) {
			logger.Error("Unpack failed", logger.Fields{"package": p.ID(), "error": err.Error()})
		},
		InstallFinished: func(p *manager.Package) { pp.printf("%s: installed\n", p.ID()) },
		InstallFailed: func(p *manager.Package, err error) {
			logger.Error("Install failed", logger.Fields{"package": p.ID(), "error": err.Error()})
		},
		Enabled: func(p *manager.Package) { pp.printf("%s: enabled\n", p.ID()) },
	}
}
