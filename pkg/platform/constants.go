package platform

// Package OS tags. These are the values used in package identities and download URLs,
// e.g. "Pack1-iOS-phonehd.zip".
const (
	OSiOS     = "iOS"
	OSAndroid = "Android"
	OSMac     = "Mac"
	OSLinux   = "Linux"
	OSWindows = "Windows"

	// DefaultResolution is used when neither the caller nor the configuration names one.
	DefaultResolution = "phonehd"
)

// ValidOS returns the OS tags known to the package manager.
func ValidOS() []string {
	return []string{
		OSiOS,
		OSAndroid,
		OSMac,
		OSLinux,
		OSWindows,
	}
}

// ValidResolutions returns the common resolution buckets.
// Unknown resolutions are still accepted; this list only drives validation warnings.
func ValidResolutions() []string {
	return []string{
		"phone",
		"phonehd",
		"tablet",
		"tablethd",
	}
}
