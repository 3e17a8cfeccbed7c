package manager

import (
	"fmt"

	"github.com/glorpus-work/assetpkg/pkg/errors"
)

// Status is the lifecycle state of a package. Values are persisted as-is.
type Status string

// Package statuses.
const (
	StatusInitial           Status = "initial"
	StatusDownloading       Status = "downloading"
	StatusDownloadPaused    Status = "download-paused"
	StatusDownloadFailed    Status = "download-failed"
	StatusDownloaded        Status = "downloaded"
	StatusUnpacking         Status = "unpacking"
	StatusUnpackFailed      Status = "unpack-failed"
	StatusUnpacked          Status = "unpacked"
	StatusInstalledDisabled Status = "installed-disabled"
	StatusInstalledEnabled  Status = "installed-enabled"
	StatusDeleted           Status = "deleted"
)

var knownStatuses = map[Status]struct{}{
	StatusInitial:           {},
	StatusDownloading:       {},
	StatusDownloadPaused:    {},
	StatusDownloadFailed:    {},
	StatusDownloaded:        {},
	StatusUnpacking:         {},
	StatusUnpackFailed:      {},
	StatusUnpacked:          {},
	StatusInstalledDisabled: {},
	StatusInstalledEnabled:  {},
	StatusDeleted:           {},
}

// ParseStatus converts a persisted status value.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := knownStatuses[st]; !ok {
		return "", fmt.Errorf("%w: %q", errors.ErrUnknownStatus, s)
	}
	return st, nil
}

func (s Status) String() string { return string(s) }

// IsInstalled reports whether the package content is in the install root.
func (s Status) IsInstalled() bool {
	return s == StatusInstalledDisabled || s == StatusInstalledEnabled
}

// IsTransferring reports whether a download or unpack is running, the states in which
// a package cannot be deleted.
func (s Status) IsTransferring() bool {
	return s == StatusDownloading || s == StatusUnpacking
}

// canStartDownload lists the statuses a download request (re)starts the pipeline from.
func (s Status) canStartDownload() bool {
	switch s {
	case StatusInitial, StatusDownloadFailed, StatusUnpackFailed:
		return true
	}
	return false
}

func (s Status) canCancel() bool {
	switch s {
	case StatusDownloadPaused, StatusDownloading, StatusDownloaded, StatusDownloadFailed:
		return true
	}
	return false
}
