// Package resource is the boundary to the runtime that consumes enabled packages.
//
// The package manager only registers and unregisters search roots and asks the runtime
// to reload its filename lookups. SearchPaths is an in-process implementation used by
// the CLI and tests.
package resource

//go:generate mockgen -package resource -destination=./registry_mock.go . Registry

// Registry is implemented by the runtime resource system.
//
// The manager calls it on enable and disable transitions. Load also registers the
// install directory of every package persisted as enabled and reloads the lookups
// once, so a fresh runtime sees the same roots as before the restart.
type Registry interface {
	// RegisterSearchRoot makes the files below path resolvable.
	RegisterSearchRoot(path string) error
	// UnregisterSearchRoot removes a root added with RegisterSearchRoot.
	UnregisterSearchRoot(path string) error
	// ReloadFilenameLookups rebuilds the filename alias table from the registered roots.
	ReloadFilenameLookups() error
}
