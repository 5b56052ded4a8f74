// Package packaging implements spec.md §6's extended packaging CLI
// (`-x`): the target template catalog, image assembly (`--make`), ZIP
// listing/creation, and the small `--find`/`--compile`/`--wget`
// utilities. cmd/comexe/cli wraps this package in urfave/cli commands;
// this package holds the logic so it can be unit-tested without a CLI
// context.
package packaging

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Target is one named executable template `--make`/`-t` can select
// (spec.md §6: "make selects a target executable template by name").
type Target struct {
	Name         string `yaml:"name"`
	TemplatePath string `yaml:"template_path"` // native exe bytes to prefix the image with
	ExeSuffix    string `yaml:"exe_suffix"`    // ".exe" on Windows templates, else ""
	RuntimeDir   string `yaml:"runtime_dir"`   // the runtime subtree to copy into the image
	SkipPattern  string `yaml:"skip_pattern"`  // regex over paths relative to RuntimeDir's root to exclude (anchored automatically; write as if rooted there, e.g. "^win32/")
}

// Catalog is the packaging target list, loaded from YAML (spec.md §6,
// SPEC_FULL.md AMBIENT STACK "packaging target catalog configuration").
type Catalog struct {
	Targets []Target `yaml:"targets"`
}

// LoadCatalog reads a target catalog from a YAML file.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("packaging: read catalog %q: %w", path, err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return Catalog{}, fmt.Errorf("packaging: parse catalog %q: %w", path, err)
	}
	return cat, nil
}

// Find returns the named target, or all targets if name == "all".
func (c Catalog) Find(name string) ([]Target, error) {
	if name == "all" {
		if len(c.Targets) == 0 {
			return nil, fmt.Errorf("packaging: catalog has no targets")
		}
		return c.Targets, nil
	}
	for _, t := range c.Targets {
		if t.Name == name {
			return []Target{t}, nil
		}
	}
	return nil, fmt.Errorf("packaging: unknown target %q", name)
}
