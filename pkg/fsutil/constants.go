package fsutil

// File and directory permission constants used for package state, downloads and
// installed package content.
const (
	FileModeDefault = 0o644 // -rw-r--r--: installed content, config
	FileModeSecure  = 0o640 // -rw-r-----: state file, partial downloads

	DirModeDefault = 0o755 // drwxr-xr-x: install root and package directories
	DirModeSecure  = 0o750 // drwxr-x---: download and unpack work directories
)
