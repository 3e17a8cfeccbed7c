package resource

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/glorpus-work/assetpkg/internal/logger"
	"howett.net/plist"
)

// LookupFileName is the per-root filename alias table.
const LookupFileName = "fileLookup.plist"

// ErrNotFound is returned by Lookup when no registered root provides the file.
var ErrNotFound = errors.New("file not found in any search root")

type lookupFile struct {
	Metadata struct {
		Version int `plist:"version"`
	} `plist:"metadata"`
	Filenames map[string]string `plist:"filenames"`
}

// SearchPaths resolves files against an ordered list of roots. The most recently
// registered root wins, so an enabled package overrides the files of older ones.
type SearchPaths struct {
	mu      sync.RWMutex
	roots   []string
	aliases map[string]string
}

// NewSearchPaths creates an empty registry.
func NewSearchPaths() *SearchPaths {
	return &SearchPaths{aliases: map[string]string{}}
}

// RegisterSearchRoot adds path in front of the existing roots. Registering the same
// root again moves it to the front.
func (s *SearchPaths) RegisterSearchRoot(path string) error {
	if path == "" {
		return fmt.Errorf("search root cannot be empty")
	}
	path = filepath.Clean(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots = slices.DeleteFunc(s.roots, func(r string) bool { return r == path })
	s.roots = slices.Insert(s.roots, 0, path)
	return nil
}

// UnregisterSearchRoot removes path. Unknown roots are ignored.
func (s *SearchPaths) UnregisterSearchRoot(path string) error {
	path = filepath.Clean(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots = slices.DeleteFunc(s.roots, func(r string) bool { return r == path })
	return nil
}

// ReloadFilenameLookups rebuilds the alias table from every root's fileLookup.plist.
// Earlier roots take precedence for duplicate aliases.
func (s *SearchPaths) ReloadFilenameLookups() error {
	s.mu.RLock()
	roots := slices.Clone(s.roots)
	s.mu.RUnlock()

	aliases := map[string]string{}
	for i := len(roots) - 1; i >= 0; i-- {
		table, err := readLookupFile(filepath.Join(roots[i], LookupFileName))
		if err != nil {
			logger.Warn("Ignoring unreadable filename lookup", logger.Fields{
				"root":  roots[i],
				"error": err.Error(),
			})
			continue
		}
		for alias, name := range table {
			aliases[alias] = name
		}
	}

	s.mu.Lock()
	s.aliases = aliases
	s.mu.Unlock()
	return nil
}

func readLookupFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var lf lookupFile
	if _, err := plist.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return lf.Filenames, nil
}

// Roots returns the registered roots in lookup order.
func (s *SearchPaths) Roots() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.roots)
}

// Lookup resolves name, after alias substitution, to the first existing file below a
// registered root.
func (s *SearchPaths) Lookup(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if alias, ok := s.aliases[name]; ok {
		name = alias
	}
	for _, root := range s.roots {
		candidate := filepath.Join(root, filepath.FromSlash(name))
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}
