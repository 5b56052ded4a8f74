// Command comexe is the native entry point of spec.md §6: a self-as-
// archive executable that loads and runs the embedded comexe/init.lua
// chunk, or branches to the extended packaging CLI under -x.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/pascalcombier/comexe/cmd/comexe/cli"
	"github.com/pascalcombier/comexe/internal/diag"
	"github.com/pascalcombier/comexe/internal/instance"
	"github.com/pascalcombier/comexe/internal/natives"
	"github.com/pascalcombier/comexe/internal/script"
	"github.com/pascalcombier/comexe/internal/zippkg"
)

// Exit codes, spec.md §6: "0 success, 1 usage or fatal host error, 2-5
// reserved for distinct fatal categories (event-buffer corruption,
// unknown event arg type, missing event handler global, embedded init
// load failure)". Codes 2-4 are emitted from internal/instance/lifecycle.go,
// where the event-bus errors they classify actually occur. The
// embedded-init-load category (5) is emitted here, in resolveInitChunk,
// and also from internal/instance/application.go when the init chunk
// fails to run.
const (
	exitSuccess      = 0
	exitUsageOrFatal = 1
	exitInitLoadFail = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the testable entry point; main only wires it to os.Exit.
func run(argv []string) int {
	log := diag.New()
	defer log.Sync()

	opts, err := ParseStartup(argv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsageOrFatal
	}

	if opts.Extended {
		return cli.Run(opts.ExtendedArgs, log)
	}

	if opts.PrintBanner {
		fmt.Printf("comexe %s (%s)\n", natives.Version, runtime.GOOS)
	}

	initChunk, chunkSource, err := resolveInitChunk(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errInitLoadFailed) {
			return exitInitLoadFail
		}
		return exitUsageOrFatal
	}

	instance.SetExitFunc(func(code int, cause error) {
		log.Error("fatal exit", zap.Int("exit_code", code), zap.Error(cause))
		os.Exit(code)
	})

	app, err := instance.NewApplication(instance.Config{
		Argv:            opts.Positional,
		InitChunk:       initChunk,
		Log:             log,
		InstanceNatives: natives.Build,
		PostPreload:     postPreloadHook(opts),
		PostInit:        postInitHook(opts),
		WarningsEnabledByDefault: opts.EnableWarnings,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsageOrFatal
	}

	root, err := app.SpawnRoot(chunkSource)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsageOrFatal
	}

	app.Join(root.ID())
	report := app.Shutdown()
	if report.Orphaned {
		fmt.Fprint(os.Stderr, report.Tree)
	}
	return exitSuccess
}

// errInitLoadFailed marks resolveInitChunk's failure to locate or read
// the embedded comexe/init.lua entry (spec.md §6 exit code 5), as
// opposed to an ordinary usage error (-e/-l with a missing argument,
// an unreadable stdin).
var errInitLoadFailed = errors.New("comexe: embedded init load failed")

// resolveInitChunk picks the chunk spec.md §6's startup CLI runs: -e's
// literal string, stdin (after a bare -), or (the ordinary case) the
// embedded comexe/init.lua entry read from this executable's own
// appended ZIP image (§9 "Self-as-archive pattern").
func resolveInitChunk(opts StartupOptions) ([]byte, string, error) {
	switch {
	case opts.ExecuteString != "":
		return []byte(opts.ExecuteString), "=(command line)", nil
	case opts.ReadStdin:
		data, err := io.ReadAll(bufio.NewReader(os.Stdin))
		if err != nil {
			return nil, "", fmt.Errorf("comexe: read stdin: %w", err)
		}
		return data, "=stdin", nil
	default:
		exePath, err := os.Executable()
		if err != nil {
			return nil, "", fmt.Errorf("%w: resolve own executable path: %v", errInitLoadFailed, err)
		}
		data, err := zippkg.ReadEntry(exePath, "comexe/init.lua")
		if err != nil {
			return nil, "", fmt.Errorf("%w: comexe/init.lua: %v", errInitLoadFailed, err)
		}
		return data, "root", nil
	}
}

// postPreloadHook implements `-l [name=]mod` (spec.md §6): bind each
// requested module to its global name after natives are registered,
// before the chunk runs.
func postPreloadHook(opts StartupOptions) func(*script.Interpreter) error {
	if len(opts.Preloads) == 0 {
		return nil
	}
	return func(interp *script.Interpreter) error {
		for _, p := range opts.Preloads {
			if err := interp.RequireAndBind(p.Name, p.Module); err != nil {
				return err
			}
		}
		return nil
	}
}

// postInitHook implements `-i` (spec.md §6 "force REPL after script"):
// a line-at-a-time read-eval-print loop running on the instance's own
// thread, after the startup chunk has returned.
func postInitHook(opts StartupOptions) func(*instance.Instance) error {
	if !opts.ForceREPL {
		return nil
	}
	return func(inst *instance.Instance) error {
		runREPL(inst)
		return nil
	}
}

func runREPL(inst *instance.Instance) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stdout, "> ")
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := inst.Interpreter().LoadChunk([]byte(line), "=(repl)"); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

