// Package archive extracts input zip archives and packages output trees.
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zip"
)

var (
	// ErrCorrupt is returned when an archive cannot be read.
	ErrCorrupt = errors.New("corrupt archive")
	// ErrUnsafePath is returned for entries that would land outside the destination.
	ErrUnsafePath = errors.New("unsafe archive entry")
)

// Artifact describes a packaged archive on disk.
type Artifact struct {
	Path    string
	Size    int64
	Entries int
}

// Extract expands the zip at src into dst and returns the number of files written.
func Extract(src, dst string) (int, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()
	return extractFiles(zr.File, dst)
}

// ExtractReader expands a zip held in r.
func ExtractReader(r io.ReaderAt, size int64, dst string) (int, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return extractFiles(zr.File, dst)
}

func extractFiles(files []*zip.File, dst string) (int, error) {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return 0, fmt.Errorf("create extract dir: %w", err)
	}

	written := 0
	for _, f := range files {
		name := filepath.FromSlash(f.Name)
		if !filepath.IsLocal(name) {
			return written, fmt.Errorf("%w: %q", ErrUnsafePath, f.Name)
		}
		mode := f.Mode()
		if mode&fs.ModeSymlink != 0 {
			return written, fmt.Errorf("%w: symlink %q", ErrUnsafePath, f.Name)
		}

		target := filepath.Join(dst, name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return written, fmt.Errorf("create dir %s: %w", f.Name, err)
			}
			continue
		}
		if !mode.IsRegular() {
			continue
		}
		if err := writeEntry(f, target); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func writeEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", f.Name, err)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrCorrupt, f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", f.Name, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		if errors.Is(err, zip.ErrChecksum) || errors.Is(err, zip.ErrFormat) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: read %s: %v", ErrCorrupt, f.Name, err)
		}
		return fmt.Errorf("write %s: %w", f.Name, err)
	}
	return out.Close()
}

// Pack writes every regular file under srcDir into a zip at dst. Entry names
// are slash-separated paths relative to srcDir. Empty directories produce no
// entries and an empty srcDir produces an empty archive.
func Pack(srcDir, dst string) (*Artifact, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("create package dir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	zw := zip.NewWriter(out)
	entries := 0
	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if err := addFile(zw, path, filepath.ToSlash(rel)); err != nil {
			return err
		}
		entries++
		return nil
	})

	if err := zw.Close(); err != nil && walkErr == nil {
		walkErr = fmt.Errorf("finish archive: %w", err)
	}
	if err := out.Close(); err != nil && walkErr == nil {
		walkErr = fmt.Errorf("close archive: %w", err)
	}
	if walkErr != nil {
		os.Remove(dst)
		return nil, walkErr
	}

	info, err := os.Stat(dst)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	return &Artifact{Path: dst, Size: info.Size(), Entries: entries}, nil
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("header %s: %w", name, err)
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Entries lists the file entry names of the zip at path, sorted.
func Entries(path string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names, nil
}
