package zippkg

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	kflate "github.com/klauspost/compress/flate"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Action is a Rule's outcome for a matched entry (spec.md §3
// ZipMergerSpec: "action ∈ {COPY, SKIP}").
type Action int

const (
	ActionCopy Action = iota
	ActionSkip
)

// SourceKind distinguishes a directory tree from a nested ZIP archive
// as a merge input (spec.md §3: "Sources (tagged directory or zip with
// a native path)").
type SourceKind int

const (
	SourceDirectory SourceKind = iota
	SourceZip
)

// Source is one ordered input to the merger.
type Source struct {
	ID   string
	Kind SourceKind
	Path string // native filesystem path
}

// Rule binds (source_id, pattern, action), matched in registration
// order against each source entry's name (spec.md §3, §4.E).
type Rule struct {
	SourceID string
	Pattern  *regexp.Regexp
	Action   Action
}

// InlineEntry is an explicit (name, content) pair always written first
// (spec.md §3).
type InlineEntry struct {
	Name    string
	Content []byte
}

// MergerSpec is the declarative input to Merge (spec.md §3 ZipMergerSpec).
type MergerSpec struct {
	Inline  []InlineEntry
	Sources []Source
	Rules   []Rule
}

// ErrNoMatchingRule is spec.md §7's Configuration-error kind: "a
// non-matching entry is a configuration error (implementers raise,
// they do not silently drop)".
var ErrNoMatchingRule = errors.New("zippkg: no rule matches entry")

// Merge writes a new ZIP to outPath implementing spec.md §4.E:
//   - inline entries first, in order
//   - then each source in registration order; for each of its entries,
//     the first matching rule (in registration order) decides COPY/SKIP
//   - duplicates: first write wins, later duplicates are a warning
//     (accumulated with multierr, logged, never fatal)
//   - the writer is strictly create-new; an existing file at outPath is
//     an error (spec.md: "appending to existing archives is disallowed
//     by design").
func Merge(spec MergerSpec, outPath string, level int, log *zap.Logger) error {
	return MergeImage(nil, spec, outPath, level, log)
}

// MergeImage is Merge with an optional prefix written verbatim before the
// ZIP structure begins. `-x --make` uses this to produce a self-as-archive
// executable (spec.md §9 "Self-as-archive pattern"): prefix is the native
// executable template's bytes, and the ZIP's own central directory is
// still located by scanning from the file's end, so the concatenation
// needs no special handling beyond writing prefix first.
func MergeImage(prefix []byte, spec MergerSpec, outPath string, level int, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	f, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("zippkg: create-new %q: %w", outPath, err)
	}
	defer f.Close()

	if len(prefix) > 0 {
		if _, err := f.Write(prefix); err != nil {
			return fmt.Errorf("zippkg: write executable prefix to %q: %w", outPath, err)
		}
	}

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		fw, err := kflate.NewWriter(w, level)
		if err != nil {
			return nil, err
		}
		return fw, nil
	})
	defer zw.Close()

	written := map[string]bool{}
	var warnings error

	writeEntry := func(name string, content []byte) {
		if written[name] {
			warnings = multierr.Append(warnings, fmt.Errorf("duplicate entry %q: first write wins", name))
			log.Warn("zip merge: duplicate entry, first write wins", zap.String("entry", name))
			return
		}
		w, err := zw.Create(name)
		if err != nil {
			warnings = multierr.Append(warnings, fmt.Errorf("create entry %q: %w", name, err))
			return
		}
		if _, err := w.Write(content); err != nil {
			warnings = multierr.Append(warnings, fmt.Errorf("write entry %q: %w", name, err))
			return
		}
		written[name] = true
	}

	for _, e := range spec.Inline {
		writeEntry(e.Name, e.Content)
	}

	for _, src := range spec.Sources {
		entries, err := sourceEntries(src)
		if err != nil {
			return err
		}
		rules := rulesFor(spec.Rules, src.ID)
		for _, e := range entries {
			rule, ok := matchRule(rules, e.name)
			if !ok {
				return fmt.Errorf("%w: source %q entry %q", ErrNoMatchingRule, src.ID, e.name)
			}
			if rule.Action == ActionSkip {
				continue
			}
			content, err := e.read()
			if err != nil {
				return fmt.Errorf("zippkg: read %q from source %q: %w", e.name, src.ID, err)
			}
			writeEntry(e.name, content)
		}
	}

	if warnings != nil {
		log.Warn("zip merge completed with warnings", zap.Error(warnings))
	}
	return nil
}

func rulesFor(rules []Rule, sourceID string) []Rule {
	var out []Rule
	for _, r := range rules {
		if r.SourceID == sourceID {
			out = append(out, r)
		}
	}
	return out
}

func matchRule(rules []Rule, name string) (Rule, bool) {
	for _, r := range rules {
		if r.Pattern.MatchString(name) {
			return r, true
		}
	}
	return Rule{}, false
}

type sourceEntry struct {
	name string
	read func() ([]byte, error)
}

// sourceEntries enumerates one source's entries. Directory sources
// strip the top-most path component of the source root (spec.md §4.E:
// "DIR-1/DIR-2/file.txt becomes DIR-2/file.txt").
func sourceEntries(src Source) ([]sourceEntry, error) {
	switch src.Kind {
	case SourceDirectory:
		return directoryEntries(src.Path)
	case SourceZip:
		return zipSourceEntries(src.Path)
	default:
		return nil, fmt.Errorf("zippkg: unknown source kind for %q", src.ID)
	}
}

func directoryEntries(root string) ([]sourceEntry, error) {
	root = filepath.Clean(root)
	parent := filepath.Dir(root)

	var entries []sourceEntry
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(parent, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		path := path // capture
		entries = append(entries, sourceEntry{
			name: name,
			read: func() ([]byte, error) { return os.ReadFile(path) },
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("zippkg: walk directory source %q: %w", root, err)
	}
	return entries, nil
}

// zipSourceEntries reads a nested ZIP source's entries eagerly (unlike
// the self-inspection Walk, which stays lazy for interactive script
// use): the merger needs every entry's bytes resolved before it can
// close the source archive, so there is no benefit to deferring the
// read past entry collection.
func zipSourceEntries(path string) ([]sourceEntry, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("zippkg: open zip source %q: %w", path, err)
	}
	defer rc.Close()

	entries := make([]sourceEntry, 0, len(rc.File))
	for _, f := range rc.File {
		content, err := readZipFile(f)
		if err != nil {
			return nil, fmt.Errorf("zippkg: read %q from zip source %q: %w", f.Name, path, err)
		}
		entries = append(entries, sourceEntry{
			name: f.Name,
			read: func() ([]byte, error) { return content, nil },
		})
	}
	return entries, nil
}
