// Package archive extracts and creates package archives.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/glorpus-work/assetpkg/pkg/fsutil"
	"github.com/mholt/archives"
)

// ErrUnsupportedFormat is returned when the file is not a recognized archive.
var ErrUnsupportedFormat = errors.New("unsupported archive format")

// ErrUnsafePath is returned for entries that would be written outside the destination.
var ErrUnsafePath = errors.New("archive entry escapes destination directory")

// Manager handles archive extraction and creation operations.
type Manager struct{}

// NewManager creates a new Manager instance.
func NewManager() *Manager {
	return &Manager{}
}

// Extract extracts every entry of archivePath into destDir. progress, when not nil,
// receives the fraction of uncompressed bytes written so far. Cancellation is checked
// between entries and while copying.
func (am *Manager) Extract(ctx context.Context, archivePath, destDir string, progress func(float64)) error {
	format, err := identify(ctx, archivePath)
	if err != nil {
		return err
	}

	total, err := am.totalSize(ctx, format, archivePath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(destDir, fsutil.DirModeDefault); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	// entries are checked against the real location of destDir
	root, err := filepath.EvalSymlinks(destDir)
	if err != nil {
		return fmt.Errorf("failed to resolve destination directory: %w", err)
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var written int64
	report := func(n int64) {
		written += n
		if progress != nil && total > 0 {
			progress(min(float64(written)/float64(total), 1))
		}
	}

	err = format.Extract(ctx, file, func(ctx context.Context, info archives.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return am.extractEntry(ctx, info, root, report)
	})
	if err != nil {
		return err
	}
	if progress != nil {
		progress(1)
	}
	return nil
}

// Create packs sourceDir into archivePath. A ".zip" suffix produces a zip archive,
// anything else a gzip-compressed tarball.
func (am *Manager) Create(ctx context.Context, sourceDir, archivePath string) error {
	absolutePath, err := filepath.Abs(sourceDir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for source directory: %w", err)
	}

	archiveFiles, err := archives.FilesFromDisk(ctx, nil, map[string]string{
		absolutePath + string(os.PathSeparator): "",
	})
	if err != nil {
		return fmt.Errorf("failed to read files from disk: %w", err)
	}

	if err := fsutil.EnsureFileDir(archivePath); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", archivePath, err)
	}
	defer func() {
		_ = file.Sync()
		_ = file.Close()
	}()

	var format archives.Archiver = archives.CompressedArchive{
		Compression: archives.Gz{},
		Archival:    archives.Tar{},
	}
	if strings.EqualFold(filepath.Ext(archivePath), ".zip") {
		format = archives.Zip{}
	}

	if err := format.Archive(ctx, file, archiveFiles); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	return nil
}

func identify(ctx context.Context, archivePath string) (archives.Extractor, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive file: %w", err)
	}
	defer func() { _ = file.Close() }()

	format, _, err := archives.Identify(ctx, filepath.Base(archivePath), file)
	if errors.Is(err, archives.NoMatch) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, archivePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to identify archive format: %w", err)
	}
	extractor, ok := format.(archives.Extractor)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, archivePath)
	}
	return extractor, nil
}

// totalSize sums the uncompressed size of all regular entries.
func (am *Manager) totalSize(ctx context.Context, format archives.Extractor, archivePath string) (int64, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var total int64
	err = format.Extract(ctx, file, func(_ context.Context, info archives.FileInfo) error {
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read archive: %w", err)
	}
	return total, nil
}

// extractEntry processes a single archive entry and writes it below destDir.
func (am *Manager) extractEntry(ctx context.Context, info archives.FileInfo, destDir string, report func(int64)) error {
	targetPath, err := safeJoin(destDir, info.NameInArchive)
	if err != nil {
		return err
	}
	if targetPath == filepath.Clean(destDir) {
		return nil
	}

	switch {
	case info.IsDir():
		if err := contained(destDir, targetPath, info.NameInArchive); err != nil {
			return err
		}
		return os.MkdirAll(targetPath, fsutil.DirModeDefault)
	case info.Mode()&os.ModeSymlink != 0:
		return am.writeSymlink(info, destDir, targetPath)
	case info.Mode().IsRegular():
		if err := contained(destDir, targetPath, info.NameInArchive); err != nil {
			return err
		}
		return am.writeRegularFile(ctx, info, targetPath, report)
	default:
		// devices, fifos and hard links are not package content
		return nil
	}
}

func (am *Manager) writeSymlink(info archives.FileInfo, destDir, targetPath string) error {
	link := info.LinkTarget
	if link == "" || filepath.IsAbs(link) {
		return fmt.Errorf("%w: symlink %s -> %q", ErrUnsafePath, info.NameInArchive, link)
	}
	resolved := filepath.Join(filepath.Dir(targetPath), link)
	if !within(destDir, resolved) {
		return fmt.Errorf("%w: symlink %s -> %q", ErrUnsafePath, info.NameInArchive, link)
	}
	// links created by earlier entries may move the parent elsewhere on disk
	parent, err := resolveExisting(filepath.Dir(targetPath))
	if err != nil {
		return fmt.Errorf("failed to resolve parent of symlink %s: %w", info.NameInArchive, err)
	}
	if !within(destDir, parent) || !within(destDir, filepath.Join(parent, link)) {
		return fmt.Errorf("%w: symlink %s -> %q", ErrUnsafePath, info.NameInArchive, link)
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), fsutil.DirModeDefault); err != nil {
		return fmt.Errorf("failed to create parent directory for symlink %s: %w", info.NameInArchive, err)
	}
	_ = os.Remove(targetPath)
	return os.Symlink(link, targetPath)
}

func (am *Manager) writeRegularFile(ctx context.Context, info archives.FileInfo, targetPath string, report func(int64)) error {
	srcFile, err := info.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", info.NameInArchive, err)
	}
	defer func() { _ = srcFile.Close() }()

	if err := os.MkdirAll(filepath.Dir(targetPath), fsutil.DirModeDefault); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", info.NameInArchive, err)
	}

	perm := info.Mode().Perm()
	if perm == 0 {
		perm = fsutil.FileModeDefault
	}
	dstFile, err := fsutil.CreateFilePerm(targetPath, perm)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", targetPath, err)
	}
	defer func() { _ = dstFile.Close() }()

	if _, err := io.Copy(dstFile, &progressReader{ctx: ctx, r: srcFile, report: report}); err != nil {
		return fmt.Errorf("failed to copy file %s: %w", info.NameInArchive, err)
	}

	if err := os.Chmod(targetPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions for %s: %w", targetPath, err)
	}
	if mt := info.ModTime(); !mt.IsZero() {
		if err := os.Chtimes(targetPath, mt, mt); err != nil {
			return fmt.Errorf("failed to set modification time for %s: %w", targetPath, err)
		}
	}
	return nil
}

// safeJoin resolves an archive entry name below destDir and rejects traversal.
func safeJoin(destDir, name string) (string, error) {
	cleaned := path.Clean("/" + filepath.ToSlash(name))
	target := filepath.Join(destDir, filepath.FromSlash(cleaned))
	if !within(destDir, target) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

// contained rejects targetPath when symlinks already on disk place it outside root.
func contained(root, targetPath, name string) error {
	resolved, err := resolveExisting(targetPath)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", name, err)
	}
	if !within(root, resolved) {
		return fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return nil
}

// resolveExisting follows the symlinks in the longest existing prefix of p and
// appends the components that do not exist yet.
func resolveExisting(p string) (string, error) {
	cur := filepath.Clean(p)
	rest := ""
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(resolved, rest), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return filepath.Clean(p), nil
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}

func within(root, target string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// progressReader reports copied bytes and stops when ctx is canceled.
type progressReader struct {
	ctx    context.Context
	r      io.Reader
	report func(int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(buf)
	if n > 0 {
		p.report(int64(n))
	}
	return n, err
}
