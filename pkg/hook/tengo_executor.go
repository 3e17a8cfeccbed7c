package hook

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
	"github.com/glorpus-work/assetpkg/internal/logger"
	pkgerrors "github.com/glorpus-work/assetpkg/pkg/errors"
)

// TengoExecutor handles the execution of Tengo hook scripts.
type TengoExecutor struct {
	// MaxAllocs bounds object allocations per run; zero means unlimited.
	MaxAllocs int64
}

// NewTengoExecutor creates a new Tengo script executor.
func NewTengoExecutor() *TengoExecutor {
	return &TengoExecutor{}
}

// Run executes the hookType script found in hc.ContentDir, if any.
func (e *TengoExecutor) Run(ctx context.Context, hookType Type, hc *Context) error {
	scriptPath := ScriptPath(hc.ContentDir, hookType)
	content, err := os.ReadFile(scriptPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return pkgerrors.Wrapf(pkgerrors.ErrHookLoad, "%s: %v", scriptPath, err)
	}

	logger.Debug("Executing hook script", logger.Fields{
		"hook":    string(hookType),
		"package": hc.Name,
		"path":    scriptPath,
	})

	moduleMap := stdlib.GetModuleMap(stdlib.AllModuleNames()...)
	moduleMap.AddBuiltinModule("pkg", map[string]tengo.Object{
		"name":         &tengo.String{Value: hc.Name},
		"resolution":   &tengo.String{Value: hc.Resolution},
		"os":           &tengo.String{Value: hc.OS},
		"hook":         &tengo.String{Value: string(hookType)},
		"content_dir":  &tengo.String{Value: hc.ContentDir},
		"install_path": &tengo.String{Value: hc.InstallPath},
	})

	script := tengo.NewScript(content)
	script.SetImports(moduleMap)
	if e.MaxAllocs > 0 {
		script.SetMaxAllocs(e.MaxAllocs)
	}

	compiled, err := script.RunContext(ctx)
	if err != nil {
		return pkgerrors.Wrapf(pkgerrors.ErrHookExecution, "%s: %v", hookType, err)
	}

	// Check for any returned error
	errVar := compiled.Get("err")
	switch v := errVar.Value().(type) {
	case error:
		return pkgerrors.Wrap(pkgerrors.ErrHookScript, fmt.Sprintf("%s: %s", hookType, v.Error()))
	case string:
		if v != "" {
			return pkgerrors.Wrap(pkgerrors.ErrHookScript, fmt.Sprintf("%s: %s", hookType, v))
		}
	}

	logger.Debug("Hook script executed successfully", logger.Fields{
		"hook":    string(hookType),
		"package": hc.Name,
	})
	return nil
}
