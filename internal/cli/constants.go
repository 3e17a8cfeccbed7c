package cli

import "time"

// Default values for CLI flags and configurations.
const (
	// EnvPrefix prefixes environment variables overriding config keys, e.g. ASSETPKG_BASE_URL.
	EnvPrefix = "ASSETPKG"
	// PollInterval is how often waiting commands check package status.
	PollInterval = 100 * time.Millisecond
	// SaveTimeout bounds the state save after a command, including after an interrupt.
	SaveTimeout = 10 * time.Second
	// ProgressStep is the download percentage between two progress lines.
	ProgressStep = 10
	// TabWidth is the width of tabs in formatted output.
	TabWidth = 2
)
