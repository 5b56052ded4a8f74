package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/pascalcombier/comexe/internal/packaging"
)

func loadCatalog(c *cli.Context) (packaging.Catalog, error) {
	return packaging.LoadCatalog(c.String("catalog"))
}

func listTargetsCommand(log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "list-targets",
		Usage: "list packaging targets known to the catalog",
		Action: func(c *cli.Context) error {
			cat, err := loadCatalog(c)
			if err != nil {
				return err
			}
			if len(cat.Targets) == 0 {
				fmt.Fprintln(os.Stdout, "(no targets configured)")
				return nil
			}
			for _, t := range cat.Targets {
				fmt.Fprintf(os.Stdout, "%s\t%s\n", t.Name, t.TemplatePath)
			}
			return nil
		},
	}
}

func makeCommand(log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:    "make",
		Aliases: []string{"m"},
		Usage:   "assemble a self-packaging image from a target template and user inputs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "target", Aliases: []string{"t"}, Value: "all"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}},
			&cli.BoolFlag{Name: "nostdlib"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("make: expected exactly one <source> argument")
			}
			cat, err := loadCatalog(c)
			if err != nil {
				return err
			}
			outputs, err := packaging.Make(cat, packaging.MakeSpec{
				Source:   c.Args().First(),
				Target:   c.String("target"),
				Output:   c.String("output"),
				NoStdlib: c.Bool("nostdlib"),
				Verbose:  c.Bool("verbose"),
			}, log)
			if err != nil {
				return err
			}
			for _, out := range outputs {
				fmt.Fprintln(os.Stdout, out)
			}
			return nil
		},
	}
}

func zipListCommand() *cli.Command {
	return &cli.Command{
		Name:  "zip-l",
		Usage: "list a ZIP image's entries",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("zip-l: expected exactly one <file.zip> argument")
			}
			entries, err := packaging.ZipList(c.Args().First())
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(os.Stdout, "%8d  %s\n", e.Size, e.Name)
			}
			return nil
		},
	}
}

func zipCreateCommand(log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "zip-c",
		Usage: "create a ZIP from one or more files/directories",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("zip-c: expected <out.zip> and at least one <input>")
			}
			out := c.Args().First()
			inputs := c.Args().Tail()
			return packaging.ZipCreate(out, inputs, log)
		},
	}
}

func findCommand() *cli.Command {
	return &cli.Command{
		Name:  "find",
		Usage: "recursively list files under a directory",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("find: expected exactly one <dir> argument")
			}
			paths, err := packaging.Find(c.Args().First())
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(os.Stdout, p)
			}
			return nil
		},
	}
}

func compileCommand() *cli.Command {
	return &cli.Command{
		Name:    "compile",
		Aliases: []string{"c"},
		Usage:   "compile a script to bytecode and report its size",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("compile: expected exactly one <file.lua|.fnl> argument")
			}
			result, err := packaging.Compile(c.Args().First())
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "%s: %d instructions\n", result.Path, result.BytecodeLength)
			return nil
		},
	}
}

func wgetCommand() *cli.Command {
	return &cli.Command{
		Name:  "wget",
		Usage: "fetch a URL and write its body to stdout",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wget: expected exactly one <url> argument")
			}
			_, err := packaging.Wget(c.Args().First(), os.Stdout)
			return err
		},
	}
}
