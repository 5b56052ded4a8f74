package packaging

import (
	"fmt"
	"os"
	"regexp"

	"go.uber.org/zap"

	"github.com/pascalcombier/comexe/internal/zippkg"
)

// ZipEntryInfo is one line of `-x --zip-l`'s listing.
type ZipEntryInfo struct {
	Name string
	Size int
}

// ZipList implements `-x --zip-l <file.zip>`.
func ZipList(path string) ([]ZipEntryInfo, error) {
	rc, err := zippkg.OpenSelf(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var out []ZipEntryInfo
	zippkg.Walk(&rc.Reader, func(e zippkg.Entry, stop func()) {
		data, readErr := e.Read()
		if readErr != nil {
			err = readErr
			stop()
			return
		}
		out = append(out, ZipEntryInfo{Name: e.Name, Size: len(data)})
	})
	if err != nil {
		return nil, fmt.Errorf("packaging: zip-l %q: %w", path, err)
	}
	return out, nil
}

// ZipCreate implements `-x --zip-c <out.zip> <input>…`. Each input is
// either a file (added under its own basename) or a directory (added
// recursively, stripping its own top-level component, matching the
// merger's directory-source convention).
func ZipCreate(out string, inputs []string, log *zap.Logger) error {
	spec := zippkg.MergerSpec{}
	for i, in := range inputs {
		info, err := os.Stat(in)
		if err != nil {
			return fmt.Errorf("packaging: zip-c: stat %q: %w", in, err)
		}
		if info.IsDir() {
			id := fmt.Sprintf("src%d", i)
			spec.Sources = append(spec.Sources, zippkg.Source{ID: id, Kind: zippkg.SourceDirectory, Path: in})
			spec.Rules = append(spec.Rules, zippkg.Rule{SourceID: id, Pattern: regexp.MustCompile(".*"), Action: zippkg.ActionCopy})
			continue
		}
		content, err := os.ReadFile(in)
		if err != nil {
			return fmt.Errorf("packaging: zip-c: read %q: %w", in, err)
		}
		spec.Inline = append(spec.Inline, zippkg.InlineEntry{Name: fileBase(in), Content: content})
	}
	return zippkg.Merge(spec, out, 6, log)
}

func fileBase(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
