// Package cli implements spec.md §6's extended packaging CLI (`-x`):
// the urfave/cli command tree wrapping internal/packaging.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// defaultCatalogPath is where NewApp looks for the packaging target
// catalog unless --catalog overrides it.
const defaultCatalogPath = "comexe-targets.yaml"

// NewApp builds the `-x` command tree (spec.md §6 Subcommands: --help/-h,
// --list-targets, --make/-m, --zip-l, --zip-c, --find, --compile/-c,
// --wget), grounded in the pack's urfave/cli subcommand builder style
// (one *cli.Command constructor per concern, Action func(*cli.Context)
// error).
func NewApp(log *zap.Logger) *cli.App {
	return &cli.App{
		Name:                 "comexe -x",
		Usage:                "extended packaging CLI for self-packaging comexe images",
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "catalog", Value: defaultCatalogPath, Usage: "packaging target catalog YAML"},
		},
		Commands: []*cli.Command{
			listTargetsCommand(log),
			makeCommand(log),
			zipListCommand(),
			zipCreateCommand(log),
			findCommand(),
			compileCommand(),
			wgetCommand(),
		},
	}
}

// Run executes the extended packaging CLI with argv (spec.md §6: the
// part of the command line after `-x`). The command name itself is a
// placeholder; urfave/cli only uses args[0] for its own usage banner.
func Run(args []string, log *zap.Logger) int {
	app := NewApp(log)
	if err := app.Run(append([]string{"comexe -x"}, args...)); err != nil {
		fmt.Fprintf(os.Stderr, "comexe -x: %v\n", err)
		return 1
	}
	return 0
}
