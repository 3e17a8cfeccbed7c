// Package hook runs the tengo scripts a package may ship alongside its content.
//
// Scripts live in <content>/.assetpkg/hooks/<type>.tengo. They receive the package
// identity through the "pkg" builtin module and may fail the operation by setting a
// global "err" variable to a string or error value.
package hook

import (
	"context"
	"path/filepath"
)

// Type represents the lifecycle point a hook runs at.
type Type string

// Supported hook types.
const (
	PostInstall Type = "post-install"
	PreDelete   Type = "pre-delete"
)

const (
	// Dir is the hooks directory relative to the package content root.
	Dir = ".assetpkg/hooks"

	// ScriptExtension is the file extension of hook scripts.
	ScriptExtension = ".tengo"
)

// Context contains information passed to hooks.
type Context struct {
	Name       string
	Resolution string
	OS         string

	// ContentDir is the package content root the script is loaded from.
	ContentDir string
	// InstallPath is the absolute final install location.
	InstallPath string
}

//go:generate mockgen -package hook -destination=./hook_mock.go . Executor

// Executor runs a package hook. A package without a script for hookType is not an error.
type Executor interface {
	Run(ctx context.Context, hookType Type, hc *Context) error
}

// ScriptPath returns where the script for hookType lives below contentDir.
func ScriptPath(contentDir string, hookType Type) string {
	return filepath.Join(contentDir, filepath.FromSlash(Dir), string(hookType)+ScriptExtension)
}
