// Package install moves unpacked package content under the install root.
//
// An install runs in three steps so that a crash at any point is recoverable:
// the content is moved to "<installPath>.staging", a marker file is written into the
// staging directory, and the staging directory is renamed to installPath. Probe
// inspects the file system and tells which step was reached.
package install

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/glorpus-work/assetpkg/internal/logger"
	pkgerrors "github.com/glorpus-work/assetpkg/pkg/errors"
	"github.com/glorpus-work/assetpkg/pkg/fsutil"
	"github.com/glorpus-work/assetpkg/pkg/hook"
)

const (
	// MarkerFile is written into a package directory once its content is complete.
	MarkerFile = ".assetpkg-installed"

	// StagingSuffix is appended to the install path while content is being moved.
	StagingSuffix = ".staging"
)

// State is what Probe found on disk for a package.
type State int

const (
	// Missing means neither installed nor unpacked content exists.
	Missing State = iota
	// Unpacked means the unpack directory still holds content and install can run again.
	Unpacked
	// Staged means content and marker are in the staging directory; FinishStaged completes it.
	Staged
	// Complete means the install path holds content and a marker.
	Complete
)

func (s State) String() string {
	switch s {
	case Unpacked:
		return "unpacked"
	case Staged:
		return "staged"
	case Complete:
		return "complete"
	default:
		return "missing"
	}
}

// Request identifies the package being installed or removed.
type Request struct {
	Name       string
	Resolution string
	OS         string

	// UnpackPath is the directory the archive was extracted into.
	UnpackPath string
	// InstallPath is the absolute final location.
	InstallPath string
}

// Result describes a finished install.
type Result struct {
	InstallPath string
	Marker      Marker
}

// Marker is the content of MarkerFile.
type Marker struct {
	Name        string    `json:"name"`
	Resolution  string    `json:"resolution"`
	OS          string    `json:"os"`
	InstalledAt time.Time `json:"installed_at"`
}

// Installer performs the install step and its reverse.
type Installer struct {
	hooks hook.Executor
	now   func() time.Time
}

// NewInstaller creates an installer. A nil executor disables package hooks.
func NewInstaller(executor hook.Executor) *Installer {
	return &Installer{hooks: executor, now: time.Now}
}

// Install moves the unpacked content of req to req.InstallPath. The package's
// post-install hook runs against the unpacked content before anything is moved, so a
// failing hook leaves the unpack directory intact for a retry.
func (i *Installer) Install(ctx context.Context, req Request) (*Result, error) {
	contentRoot, err := ContentRoot(req.UnpackPath)
	if err != nil {
		return nil, pkgerrors.NewInstallError(err, req.InstallPath)
	}

	if err := i.runHook(ctx, hook.PostInstall, req, contentRoot); err != nil {
		return nil, pkgerrors.NewInstallError(err, req.InstallPath)
	}

	staging := req.InstallPath + StagingSuffix
	if err := fsutil.RemovePath(staging); err != nil {
		return nil, pkgerrors.NewInstallError(err, req.InstallPath)
	}
	if err := fsutil.Move(contentRoot, staging); err != nil {
		return nil, pkgerrors.NewInstallError(err, req.InstallPath)
	}

	marker := Marker{
		Name:        req.Name,
		Resolution:  req.Resolution,
		OS:          req.OS,
		InstalledAt: i.now().UTC(),
	}
	if err := writeMarker(staging, marker); err != nil {
		return nil, pkgerrors.NewInstallError(err, req.InstallPath)
	}

	if err := i.FinishStaged(req.InstallPath); err != nil {
		return nil, err
	}

	if err := fsutil.RemovePath(req.UnpackPath); err != nil {
		logger.Warn("Failed to remove unpack directory", logger.Fields{"path": req.UnpackPath, "error": err.Error()})
	}

	logger.Debug("Package content installed", logger.Fields{"package": req.Name, "path": req.InstallPath})
	return &Result{InstallPath: req.InstallPath, Marker: marker}, nil
}

// FinishStaged renames a staged install into place, replacing any incomplete content
// left at installPath.
func (i *Installer) FinishStaged(installPath string) error {
	staging := installPath + StagingSuffix
	if !hasMarker(staging) {
		return pkgerrors.NewInstallError(fmt.Errorf("no staged content at %s", staging), installPath)
	}
	if err := fsutil.RemovePath(installPath); err != nil {
		return pkgerrors.NewInstallError(err, installPath)
	}
	if err := fsutil.EnsureFileDir(installPath); err != nil {
		return pkgerrors.NewInstallError(err, installPath)
	}
	if err := os.Rename(staging, installPath); err != nil {
		return pkgerrors.NewInstallError(err, installPath)
	}
	return nil
}

// Probe reports how far an install of the package got.
func (i *Installer) Probe(installPath, unpackPath string) State {
	if installPath != "" {
		if hasMarker(installPath) {
			return Complete
		}
		if hasMarker(installPath + StagingSuffix) {
			return Staged
		}
	}
	if unpackPath != "" {
		entries, err := os.ReadDir(unpackPath)
		if err == nil && len(entries) > 0 {
			return Unpacked
		}
	}
	return Missing
}

// Remove runs the package's pre-delete hook and removes the installed content together
// with any staging leftovers. A failing hook aborts the removal.
func (i *Installer) Remove(ctx context.Context, req Request) error {
	if hasMarker(req.InstallPath) {
		if err := i.runHook(ctx, hook.PreDelete, req, req.InstallPath); err != nil {
			return pkgerrors.NewInstallError(err, req.InstallPath)
		}
	}
	for _, p := range []string{req.InstallPath, req.InstallPath + StagingSuffix} {
		if err := fsutil.RemovePath(p); err != nil {
			return pkgerrors.NewInstallError(err, req.InstallPath)
		}
	}
	return nil
}

// ReadMarker returns the marker of an installed package.
func ReadMarker(installPath string) (*Marker, error) {
	data, err := os.ReadFile(filepath.Join(installPath, MarkerFile))
	if err != nil {
		return nil, err
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, pkgerrors.Wrapf(err, "parsing %s", MarkerFile)
	}
	return &m, nil
}

// ContentRoot returns the directory holding the package content inside unpackPath.
// Archives commonly wrap everything in one top-level directory; that directory is
// unwrapped. Resource fork folders added by macOS archivers are ignored.
func ContentRoot(unpackPath string) (string, error) {
	entries, err := os.ReadDir(unpackPath)
	if err != nil {
		return "", fmt.Errorf("reading unpacked content: %w", err)
	}

	var visible []fs.DirEntry
	for _, e := range entries {
		if e.Name() == "__MACOSX" {
			continue
		}
		visible = append(visible, e)
	}
	if len(visible) == 0 {
		return "", fmt.Errorf("unpacked content in %s is empty", unpackPath)
	}
	if len(visible) == 1 && visible[0].IsDir() {
		return filepath.Join(unpackPath, visible[0].Name()), nil
	}
	return unpackPath, nil
}

func (i *Installer) runHook(ctx context.Context, hookType hook.Type, req Request, contentDir string) error {
	if i.hooks == nil {
		return nil
	}
	return i.hooks.Run(ctx, hookType, &hook.Context{
		Name:        req.Name,
		Resolution:  req.Resolution,
		OS:          req.OS,
		ContentDir:  contentDir,
		InstallPath: req.InstallPath,
	})
}

func writeMarker(dir string, m Marker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, MarkerFile), data, fsutil.FileModeDefault)
}

func hasMarker(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, MarkerFile))
	return err == nil
}
