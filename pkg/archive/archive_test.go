package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		fullPath := filepath.Join(root, path)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			t.Fatalf("Failed to create directory for %s: %v", path, err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to create file %s: %v", path, err)
		}
	}
}

func TestArchiveManager_RoundTrip(t *testing.T) {
	testFiles := map[string]string{
		"Pack1/fileLookup.plist":   "<plist></plist>",
		"Pack1/sprites/hero.png":   "not really a png",
		"Pack1/sounds/explode.wav": "boom",
	}

	for _, name := range []string{"Pack1-iOS-phonehd.zip", "Pack1-iOS-phonehd.tar.gz"} {
		t.Run(name, func(t *testing.T) {
			tempDir := t.TempDir()
			sourceDir := filepath.Join(tempDir, "source")
			writeTree(t, sourceDir, testFiles)

			am := NewManager()
			ctx := context.Background()
			archivePath := filepath.Join(tempDir, name)
			if err := am.Create(ctx, sourceDir, archivePath); err != nil {
				t.Fatalf("Failed to create archive: %v", err)
			}

			var last float64
			calls := 0
			extractDir := filepath.Join(tempDir, "extracted")
			err := am.Extract(ctx, archivePath, extractDir, func(f float64) {
				if f < last {
					t.Errorf("progress went backwards: %v after %v", f, last)
				}
				last = f
				calls++
			})
			if err != nil {
				t.Fatalf("Failed to extract archive: %v", err)
			}
			if calls == 0 || last != 1 {
				t.Errorf("expected progress to finish at 1, got %v after %d calls", last, calls)
			}

			for path, expectedContent := range testFiles {
				content, err := os.ReadFile(filepath.Join(extractDir, path))
				if err != nil {
					t.Errorf("Failed to read extracted file %s: %v", path, err)
					continue
				}
				if string(content) != expectedContent {
					t.Errorf("File %s has wrong content. Expected: %s, Got: %s", path, expectedContent, string(content))
				}
			}
		})
	}
}

func TestArchiveManager_ExtractRejectsNonArchive(t *testing.T) {
	tempDir := t.TempDir()
	plain := filepath.Join(tempDir, "notes.txt")
	if err := os.WriteFile(plain, []byte("just text"), 0644); err != nil {
		t.Fatal(err)
	}

	err := NewManager().Extract(context.Background(), plain, filepath.Join(tempDir, "out"), nil)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestArchiveManager_ExtractCorruptZip(t *testing.T) {
	tempDir := t.TempDir()
	corrupt := filepath.Join(tempDir, "Pack1-iOS-phonehd.zip")
	if err := os.WriteFile(corrupt, []byte("PK\x03\x04 truncated"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := NewManager().Extract(context.Background(), corrupt, filepath.Join(tempDir, "out"), nil); err == nil {
		t.Fatal("expected an error for a corrupt archive")
	}
}

func TestArchiveManager_ExtractCanceled(t *testing.T) {
	tempDir := t.TempDir()
	sourceDir := filepath.Join(tempDir, "source")
	writeTree(t, sourceDir, map[string]string{"a.txt": "a", "b.txt": "b"})

	am := NewManager()
	archivePath := filepath.Join(tempDir, "pkg.zip")
	if err := am.Create(context.Background(), sourceDir, archivePath); err != nil {
		t.Fatalf("Failed to create archive: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := am.Extract(ctx, archivePath, filepath.Join(tempDir, "out"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSafeJoin(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "dest")

	if _, err := safeJoin(dest, "sprites/hero.png"); err != nil {
		t.Errorf("unexpected error for nested entry: %v", err)
	}
	// leading traversal is cleaned against the archive root
	got, err := safeJoin(dest, "../../etc/passwd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !within(dest, got) {
		t.Errorf("%s escaped %s", got, dest)
	}
	if within(dest, filepath.Join(dest, "..", "other")) {
		t.Error("sibling directory reported as within destination")
	}
}

// writeTarGz writes hdrs in order; regular entries get their name as content.
func writeTarGz(t *testing.T, path string, hdrs []*tar.Header) {
	t.Helper()
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = file.Close() }()

	gz := gzip.NewWriter(file)
	tw := tar.NewWriter(gz)
	for _, hdr := range hdrs {
		hdr.ModTime = time.Now()
		var body []byte
		if hdr.Typeflag == tar.TypeReg {
			body = []byte(hdr.Name)
			hdr.Size = int64(len(body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("Failed to write header %s: %v", hdr.Name, err)
		}
		if _, err := tw.Write(body); err != nil {
			t.Fatalf("Failed to write %s: %v", hdr.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestArchiveManager_ExtractRejectsSymlinkChain(t *testing.T) {
	tempDir := t.TempDir()
	archivePath := filepath.Join(tempDir, "chain.tar.gz")
	writeTarGz(t, archivePath, []*tar.Header{
		{Name: "d/", Typeflag: tar.TypeDir, Mode: 0755},
		{Name: "d/s", Typeflag: tar.TypeSymlink, Linkname: "..", Mode: 0777},
		{Name: "d/s/t", Typeflag: tar.TypeSymlink, Linkname: "..", Mode: 0777},
		{Name: "d/s/t/evil", Typeflag: tar.TypeReg, Mode: 0644},
	})

	outDir := filepath.Join(tempDir, "out")
	err := NewManager().Extract(context.Background(), archivePath, filepath.Join(outDir, "dest"), nil)
	if !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("expected ErrUnsafePath, got %v", err)
	}
	if _, err := os.Lstat(filepath.Join(outDir, "evil")); !os.IsNotExist(err) {
		t.Fatalf("file written outside destination: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(outDir, "t")); !os.IsNotExist(err) {
		t.Fatalf("symlink written outside destination: %v", err)
	}
}

func TestArchiveManager_ExtractFileThroughExistingSymlink(t *testing.T) {
	tempDir := t.TempDir()
	outside := filepath.Join(tempDir, "outside")
	if err := os.MkdirAll(outside, 0755); err != nil {
		t.Fatal(err)
	}
	destDir := filepath.Join(tempDir, "dest")
	if err := os.MkdirAll(destDir, 0755); err != nil {
		t.Fatal(err)
	}
	// a link left behind in the destination points elsewhere
	if err := os.Symlink(outside, filepath.Join(destDir, "sprites")); err != nil {
		t.Fatal(err)
	}

	archivePath := filepath.Join(tempDir, "pkg.tar.gz")
	writeTarGz(t, archivePath, []*tar.Header{
		{Name: "sprites/hero.png", Typeflag: tar.TypeReg, Mode: 0644},
	})

	err := NewManager().Extract(context.Background(), archivePath, destDir, nil)
	if !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("expected ErrUnsafePath, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(outside, "hero.png")); !os.IsNotExist(err) {
		t.Fatalf("file written outside destination: %v", err)
	}
}

func TestArchiveManager_ExtractInternalSymlink(t *testing.T) {
	tempDir := t.TempDir()
	archivePath := filepath.Join(tempDir, "pkg.tar.gz")
	writeTarGz(t, archivePath, []*tar.Header{
		{Name: "sprites/", Typeflag: tar.TypeDir, Mode: 0755},
		{Name: "sprites/hero.png", Typeflag: tar.TypeReg, Mode: 0644},
		{Name: "alias", Typeflag: tar.TypeSymlink, Linkname: "sprites", Mode: 0777},
		{Name: "alias/extra.png", Typeflag: tar.TypeReg, Mode: 0644},
	})

	destDir := filepath.Join(tempDir, "dest")
	if err := NewManager().Extract(context.Background(), archivePath, destDir, nil); err != nil {
		t.Fatalf("Failed to extract archive: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(destDir, "sprites", "extra.png"))
	if err != nil {
		t.Fatalf("Failed to read file written through internal link: %v", err)
	}
	if string(content) != "alias/extra.png" {
		t.Errorf("unexpected content %q", content)
	}
}
