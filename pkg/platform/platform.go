// Package platform detects the runtime environment a package is requested for.
package platform

import (
	"runtime"
	"slices"
	"strings"
)

// Environment answers which OS tag and resolution bucket the running application uses.
// The manager queries it once per operation whenever the caller omits either value.
type Environment interface {
	OS() string
	Resolution() string
}

// Static is an Environment with fixed values.
type Static struct {
	OSName         string
	ResolutionName string
}

func (s Static) OS() string         { return s.OSName }
func (s Static) Resolution() string { return s.ResolutionName }

// Detect returns the environment of the current process. An empty os or resolution
// falls back to the runtime OS and DefaultResolution.
func Detect(os, resolution string) Static {
	if os == "" {
		os = NormalizeOS(runtime.GOOS)
	}
	if resolution == "" {
		resolution = DefaultResolution
	}
	return Static{OSName: os, ResolutionName: resolution}
}

// NormalizeOS maps GOOS values and common spellings to package OS tags.
func NormalizeOS(os string) string {
	switch strings.ToLower(os) {
	case "ios", "iphoneos":
		return OSiOS
	case "android":
		return OSAndroid
	case "darwin", "mac", "macos", "osx":
		return OSMac
	case "linux":
		return OSLinux
	case "win", "windows":
		return OSWindows
	default:
		return os
	}
}

// IsKnownOS reports whether os is one of ValidOS after normalization.
func IsKnownOS(os string) bool {
	return slices.Contains(ValidOS(), NormalizeOS(os))
}
