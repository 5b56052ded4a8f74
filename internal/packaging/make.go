package packaging

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/pascalcombier/comexe/internal/zippkg"
)

// MakeSpec is `-x --make`'s parsed arguments (spec.md §6).
type MakeSpec struct {
	Source   string // user input directory
	Target   string // target name, or "all"
	Output   string // -o; empty derives a name from Source and the target
	NoStdlib bool   // --nostdlib: skip the runtime's stdlib subtree
	Verbose  bool   // -v
}

const stdlibSkipSuffix = `^stdlib/`

// runtimeEntryPrefix returns the literal path segment zippkg's directory
// source will prefix every runtime entry's name with (its own root
// directory's basename), so skip patterns written as runtime-relative
// can be anchored behind it.
func runtimeEntryPrefix(runtimeDir string) string {
	return filepath.Base(filepath.Clean(runtimeDir))
}

// anchorToRuntimeRoot rewrites a runtime-relative skip pattern (spec.md
// §6 catalog's skip_pattern, e.g. "^stdlib/win32/") into one matched
// against the actual entry name zippkg produces, which carries the
// runtime source's own top-level directory name ahead of it.
func anchorToRuntimeRoot(runtimeRoot, pattern string) *regexp.Regexp {
	rest := strings.TrimPrefix(pattern, "^")
	return regexp.MustCompile(`^` + regexp.QuoteMeta(runtimeRoot+"/") + rest)
}

// Make builds one self-as-archive image per matched target (spec.md §6
// "make selects a target executable template by name... appends a
// generated comexe/init.lua whose first line is `local
// INIT_AppEntryPoint = "<name>"`, copies the runtime subtree (skipping
// platform-irrelevant branches), then merges user inputs").
func Make(cat Catalog, spec MakeSpec, log *zap.Logger) ([]string, error) {
	if log == nil {
		log = zap.NewNop()
	}
	targets, err := cat.Find(spec.Target)
	if err != nil {
		return nil, err
	}

	appName := filepath.Base(filepath.Clean(spec.Source))

	var outputs []string
	for _, t := range targets {
		prefix, err := os.ReadFile(t.TemplatePath)
		if err != nil {
			return outputs, fmt.Errorf("packaging: read template %q for target %q: %w", t.TemplatePath, t.Name, err)
		}

		out := spec.Output
		if out == "" {
			out = appName
		}
		if len(targets) > 1 {
			out = fmt.Sprintf("%s-%s", out, t.Name)
		}
		out += t.ExeSuffix

		mergeSpec := zippkg.MergerSpec{
			Inline: []zippkg.InlineEntry{
				{Name: "comexe/init.lua", Content: generateInitChunk(appName)},
			},
		}

		if t.RuntimeDir != "" {
			mergeSpec.Sources = append(mergeSpec.Sources, zippkg.Source{
				ID: "runtime", Kind: zippkg.SourceDirectory, Path: t.RuntimeDir,
			})
			// Directory source entries are named <basename of root>/<relative
			// path> (zippkg's "DIR-1/DIR-2/file.txt becomes DIR-2/file.txt"
			// convention), so a skip pattern written as runtime-relative
			// (e.g. "^stdlib/win32/") must be anchored behind that same
			// basename to match the actual entry names this source produces.
			runtimeRoot := runtimeEntryPrefix(t.RuntimeDir)
			if t.SkipPattern != "" {
				mergeSpec.Rules = append(mergeSpec.Rules,
					zippkg.Rule{SourceID: "runtime", Pattern: anchorToRuntimeRoot(runtimeRoot, t.SkipPattern), Action: zippkg.ActionSkip},
				)
			}
			if spec.NoStdlib {
				mergeSpec.Rules = append(mergeSpec.Rules,
					zippkg.Rule{SourceID: "runtime", Pattern: anchorToRuntimeRoot(runtimeRoot, stdlibSkipSuffix), Action: zippkg.ActionSkip},
				)
			}
			mergeSpec.Rules = append(mergeSpec.Rules,
				zippkg.Rule{SourceID: "runtime", Pattern: regexp.MustCompile(".*"), Action: zippkg.ActionCopy},
			)
		}

		mergeSpec.Sources = append(mergeSpec.Sources, zippkg.Source{
			ID: "app", Kind: zippkg.SourceDirectory, Path: spec.Source,
		})
		mergeSpec.Rules = append(mergeSpec.Rules,
			zippkg.Rule{SourceID: "app", Pattern: regexp.MustCompile(".*"), Action: zippkg.ActionCopy},
		)

		if err := zippkg.MergeImage(prefix, mergeSpec, out, 6, log); err != nil {
			return outputs, fmt.Errorf("packaging: make target %q: %w", t.Name, err)
		}
		if spec.Verbose {
			log.Info("packaging: wrote image", zap.String("target", t.Name), zap.String("output", out))
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

// generateInitChunk builds the bootstrap comexe/init.lua spec.md §6
// names. INIT_AppEntryPoint records which application module this image
// was made for; the remainder hands control to it.
func generateInitChunk(appName string) []byte {
	return []byte(fmt.Sprintf(
		"local INIT_AppEntryPoint = %q\nlocal ok, err = pcall(require, INIT_AppEntryPoint)\nif not ok then\n  error(err)\nend\n",
		appName,
	))
}
