// Package zippkg implements spec.md §4.E: reading the running image as
// a ZIP (self-inspection) and composing new images by merging
// directories and ZIPs under declarative rules (self-packaging).
package zippkg

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
)

// OpenSelf opens path (normally the platform exe-path resolver's
// output, spec.md §4.E "Self-reading") as a ZIP archive. This works
// because the build concatenates the native executable and a ZIP
// archive into one file and the central directory is located from the
// file's end (spec.md §9 "Self-as-archive pattern").
func OpenSelf(path string) (*zip.ReadCloser, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("zippkg: open self %q as zip: %w", path, err)
	}
	return rc, nil
}

// Entry is what spec.md §4.E's reading callback receives for each
// central-directory entry.
type Entry struct {
	Name string
	Read func() ([]byte, error) // lazy: full uncompressed bytes, or an error if the entry cannot be read
}

// Walk iterates r's entries in central-directory order, calling visit
// for each with a lazily-evaluated reader. visit calls stop() to halt
// iteration early (spec.md §4.E "a stop function that halts iteration").
func Walk(r *zip.Reader, visit func(e Entry, stop func())) {
	stopped := false
	stop := func() { stopped = true }
	for _, f := range r.File {
		file := f
		visit(Entry{
			Name: file.Name,
			Read: func() ([]byte, error) { return readZipFile(file) },
		}, stop)
		if stopped {
			return
		}
	}
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("zippkg: open entry %q: %w", f.Name, err)
	}
	defer rc.Close()

	buf := make([]byte, 0, f.UncompressedSize64)
	for {
		chunk := make([]byte, 32*1024)
		n, err := rc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf, nil
			}
			return nil, fmt.Errorf("zippkg: read entry %q: %w", f.Name, err)
		}
	}
}

// ReadEntry opens path as a ZIP and returns the full bytes of the
// single named entry, or os.ErrNotExist if absent. A convenience for
// the comexe/init.lua lookup (spec.md §6 "The ZIP must contain a single
// entry comexe/init.lua").
func ReadEntry(path, name string) ([]byte, error) {
	rc, err := OpenSelf(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	for _, f := range rc.File {
		if f.Name == name {
			return readZipFile(f)
		}
	}
	return nil, fmt.Errorf("zippkg: entry %q: %w", name, os.ErrNotExist)
}
