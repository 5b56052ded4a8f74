package packaging

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Find implements `-x --find <dir>`. It lists every regular file under
// dir, relative to dir, in walk order; it takes no include/exclude
// patterns and filters nothing out.
func Find(dir string) ([]string, error) {
	var out []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("packaging: find %q: %w", dir, err)
	}
	return out, nil
}

// ErrUnsupportedDialect is returned by Compile for source dialects this
// build cannot compile (spec.md §6 names `.fnl`/Fennel alongside `.lua`,
// but no Fennel frontend exists in this module's dependency set).
var ErrUnsupportedDialect = fmt.Errorf("packaging: unsupported source dialect")

// CompileResult is `-x --compile`'s report.
type CompileResult struct {
	Path           string
	BytecodeLength int
}

// Compile implements `-x --compile/-c <file.lua|.fnl>` for the `.lua`
// case: it parses and compiles the chunk through gopher-lua's own
// compiler and reports the resulting FunctionProto's instruction count
// as a proxy for bytecode size, without running it.
func Compile(path string) (CompileResult, error) {
	if strings.HasSuffix(path, ".fnl") {
		return CompileResult{}, fmt.Errorf("%w: %q (Fennel)", ErrUnsupportedDialect, path)
	}
	if !strings.HasSuffix(path, ".lua") {
		return CompileResult{}, fmt.Errorf("%w: %q (unrecognized extension)", ErrUnsupportedDialect, path)
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return CompileResult{}, fmt.Errorf("packaging: compile: read %q: %w", path, err)
	}
	chunk, err := parse.Parse(bytes.NewReader(source), path)
	if err != nil {
		return CompileResult{}, fmt.Errorf("packaging: compile: parse %q: %w", path, err)
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return CompileResult{}, fmt.Errorf("packaging: compile: compile %q: %w", path, err)
	}
	return CompileResult{Path: path, BytecodeLength: len(proto.Code)}, nil
}

// Wget implements `-x --wget <url>` (SPEC_FULL.md: "a single-shot HTTP
// GET"). It streams the response body to stdout-bound writer w rather
// than buffering the whole file in memory.
func Wget(url string, w io.Writer) (int64, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return 0, fmt.Errorf("packaging: wget %q: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("packaging: wget %q: status %s", url, resp.Status)
	}
	return io.Copy(w, resp.Body)
}
