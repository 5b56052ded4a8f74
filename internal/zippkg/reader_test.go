package zippkg

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTestZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("Create entry %q: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write entry %q: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip Close: %v", err)
	}
}

func TestWalkVisitsEveryEntryAndReadsLazily(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.zip")
	writeTestZip(t, path, map[string]string{
		"comexe/init.lua": "print('hi')",
		"readme.txt":      "hello",
	})

	rc, err := OpenSelf(path)
	if err != nil {
		t.Fatalf("OpenSelf: %v", err)
	}
	defer rc.Close()

	seen := map[string]string{}
	Walk(&rc.Reader, func(e Entry, stop func()) {
		data, err := e.Read()
		if err != nil {
			t.Fatalf("Read(%q): %v", e.Name, err)
		}
		seen[e.Name] = string(data)
	})

	if seen["comexe/init.lua"] != "print('hi')" {
		t.Fatalf("init chunk = %q", seen["comexe/init.lua"])
	}
	if len(seen) != 2 {
		t.Fatalf("seen = %v, want 2 entries", seen)
	}
}

func TestWalkStopHaltsIteration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.zip")
	writeTestZip(t, path, map[string]string{
		"a": "1",
		"b": "2",
		"c": "3",
	})

	rc, err := OpenSelf(path)
	if err != nil {
		t.Fatalf("OpenSelf: %v", err)
	}
	defer rc.Close()

	visited := 0
	Walk(&rc.Reader, func(e Entry, stop func()) {
		visited++
		stop()
	})
	if visited != 1 {
		t.Fatalf("visited = %d, want 1 (stop should halt after first)", visited)
	}
}

func TestReadEntryReturnsNotExistForMissingEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.zip")
	writeTestZip(t, path, map[string]string{"a": "1"})

	if _, err := ReadEntry(path, "comexe/init.lua"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist-wrapping error", err)
	}
}

func TestReadEntryReturnsBytesForPresentEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.zip")
	writeTestZip(t, path, map[string]string{"comexe/init.lua": "return 1"})

	data, err := ReadEntry(path, "comexe/init.lua")
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if string(data) != "return 1" {
		t.Fatalf("data = %q", data)
	}
}
