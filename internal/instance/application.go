package instance

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pascalcombier/comexe/internal/diag"
	"github.com/pascalcombier/comexe/internal/eventbus"
	"github.com/pascalcombier/comexe/internal/platform"
	"github.com/pascalcombier/comexe/internal/registry"
	"github.com/pascalcombier/comexe/internal/script"
)

// DefaultModuleSearchChain is spec.md §3's default configuration: "1" =
// preloaded natives, "R" = embedded ZIP runtime path, "Z" = embedded ZIP
// root.
const DefaultModuleSearchChain = "1RZ"

// Application is the process-wide singleton of spec.md §3: it owns the
// fixed argument vector, the instance registry, the module search chain
// configuration, and the raw bytes of the embedded init chunk.
type Application struct {
	argv              []string
	moduleSearchChain string
	initChunk         []byte

	registry                 *registry.Registry[*Instance]
	preloads                 []script.Preload
	postPreload              func(*script.Interpreter) error
	instanceNatives          func(*Instance) []script.Preload
	postInit                 func(*Instance) error
	warningsEnabledByDefault bool

	log *zap.Logger

	mu sync.Mutex // no method of Application locks it
}

// Config bundles the inputs Application needs at construction, named
// after the data model spec.md §3 assigns to Application.
type Config struct {
	Argv              []string
	ModuleSearchChain string // empty defaults to DefaultModuleSearchChain
	InitChunk         []byte // raw bytes of comexe/init.lua
	Preloads          []script.Preload
	Log               *zap.Logger

	// PostPreload runs on every spawned instance's thread after
	// RegisterPreloads and before the embedded init chunk loads (spec.md
	// §4.C, between steps 5 and 6). cmd/comexe uses this to implement
	// `-l [name=]mod` (script.Interpreter.RequireAndBind).
	PostPreload func(*script.Interpreter) error

	// InstanceNatives builds the per-instance native modules (spec.md §6:
	// com.thread, com.event) that need the spawned Instance's own
	// identity and so cannot be precomputed once for every instance.
	InstanceNatives func(*Instance) []script.Preload

	// PostInit runs once the embedded init chunk has returned, before
	// the parent-exit notification (spec.md §4.C, after step 6). The
	// root instance's cmd/comexe wires `-i`'s forced REPL in here.
	PostInit func(*Instance) error

	// WarningsEnabledByDefault pre-enables the warning-stream printing
	// policy (spec.md §6 `-W` "enable warnings") before any script runs,
	// equivalent to script calling warn("@on") as its first statement.
	WarningsEnabledByDefault bool
}

// NewApplication constructs the singleton. Validating the module search
// chain string is a Configuration error per spec.md §7 if it names a code
// letter this build does not implement.
func NewApplication(cfg Config) (*Application, error) {
	chain := cfg.ModuleSearchChain
	if chain == "" {
		chain = DefaultModuleSearchChain
	}
	if err := validateModuleSearchChain(chain); err != nil {
		return nil, err
	}
	log := cfg.Log
	if log == nil {
		log = diag.New()
	}
	return &Application{
		argv:              cfg.Argv,
		moduleSearchChain: chain,
		initChunk:         cfg.InitChunk,
		registry:                 registry.New[*Instance](),
		preloads:                 cfg.Preloads,
		postPreload:              cfg.PostPreload,
		instanceNatives:          cfg.InstanceNatives,
		postInit:                 cfg.PostInit,
		warningsEnabledByDefault: cfg.WarningsEnabledByDefault,
		log:                      log,
	}, nil
}

func validateModuleSearchChain(chain string) error {
	const known = "1RZF4"
	for _, c := range chain {
		if !strings.ContainsRune(known, c) {
			return fmt.Errorf("instance: invalid module search chain letter %q in %q", c, chain)
		}
	}
	return nil
}

// ModuleSearchChain returns the configured search order (spec.md §6).
func (a *Application) ModuleSearchChain() string { return a.moduleSearchChain }

// Registry exposes the instance registry for the eventbus Post/Broadcast
// helpers, which are generic over it.
func (a *Application) Registry() *registry.Registry[*Instance] { return a.registry }

// SpawnRoot creates the first instance — the one that loads the embedded
// init chunk and begins executing script (spec.md §2 "Data flow"). It has
// no parent and (conventionally) no exit event, since nothing is waiting
// to be notified of the root's own exit.
func (a *Application) SpawnRoot(name string) (*Instance, error) {
	return a.spawn(nil, name, "")
}

// Spawn creates a sibling/child instance from script running on parent
// (spec.md §2: "Script code uses C to spawn sibling instances"). If
// exitEventName is non-empty, the bus synthesizes exactly one
// post(parent, exitEventName, own_id) at teardown (spec.md §4.B).
func (a *Application) Spawn(parent *Instance, name, exitEventName string) (*Instance, error) {
	return a.spawn(parent, name, exitEventName)
}

func (a *Application) spawn(parent *Instance, name, exitEventName string) (*Instance, error) {
	inst := &Instance{
		name:          name,
		exitEventName: exitEventName,
		parent:        parent,
		correlation:   uuid.New(),
		interp:        script.New(),
		mailbox:       eventbus.NewMailbox(),
		app:           a,
		done:          make(chan struct{}),
	}
	inst.cond = sync.NewCond(&inst.mu)
	inst.log = a.log.With(
		zap.String("instance", name),
		zap.String("correlation_id", inst.correlation.String()),
	)
	inst.warnPolicy = diag.NewWarningPolicy(inst.log)
	if a.warningsEnabledByDefault {
		inst.warnPolicy.Warning("@on", false)
	}

	id := a.registry.Add(inst)
	inst.id = id

	go a.runInstanceThread(inst)

	inst.waitForActive()
	return inst, nil
}

// runInstanceThread is the child thread's body (spec.md §4.C, steps
// 1-7). It is locked to one OS thread for its whole lifetime: the
// interpreter, any cgo-backed native module, and platform per-thread
// state (COM apartment on Windows) all assume thread affinity.
func (a *Application) runInstanceThread(inst *Instance) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(inst.done)

	// Step 1: per-thread platform state.
	if err := platform.InitThread(); err != nil {
		inst.log.Error("platform thread init failed", zap.Error(err))
		return
	}
	defer platform.CloseThread()

	// Step 2: set ACTIVE and wake the parent.
	inst.setActive()

	// Step 3: install the arg table.
	inst.interp.InstallArgTable(a.argv)

	// Step 4: open standard interpreter libraries.
	inst.interp.OpenLibs()

	// Step 5: register preloaded native modules. Static modules come
	// first, then any per-instance bindings (spec.md §6 "preloaded
	// native modules": com.thread/com.event need inst's own identity, so
	// they cannot be built once at Application construction).
	inst.interp.RegisterPreloads(a.preloads)
	if a.instanceNatives != nil {
		inst.interp.RegisterPreloads(a.instanceNatives(inst))
	}

	if a.postPreload != nil {
		if err := a.postPreload(inst.interp); err != nil {
			inst.log.Error("post-preload hook failed", zap.Error(err))
			exitProcess(1, err)
			return
		}
	}

	// Step 6: load and execute the embedded init chunk. Fatal for the
	// whole process per spec.md §4.C step 6 / §7 Host-fatal.
	if err := inst.interp.LoadChunk(a.initChunk, "comexe/init.lua"); err != nil {
		inst.log.Error("embedded init chunk failed", zap.Error(err))
		exitProcess(5, err)
		return
	}

	if a.postInit != nil {
		if err := a.postInit(inst); err != nil {
			inst.log.Error("post-init hook failed", zap.Error(err))
			exitProcess(1, err)
			return
		}
	}

	// Step 7: parent-exit notification, exactly once, atomically with
	// teardown (spec.md §4.B "Parent-exit notification").
	if inst.exitEventName != "" && inst.parent != nil {
		if err := eventbus.Post(a.registry, inst.parent.id, inst.exitEventName, eventbus.Int(int64(inst.id))); err != nil {
			inst.log.Warn("failed to deliver exit event to parent", zap.Error(err))
		}
	}
}

// exitProcess is the single host-fatal exit point so tests can override
// it; production builds call SetExitFunc once at process start (see
// cmd/comexe).
var exitProcess = func(code int, cause error) {
	panic(fmt.Sprintf("comexe: fatal exit code %d: %v", code, cause))
}

// SetExitFunc installs the process-fatal exit handler (spec.md §6 exit
// codes 2-5, "reserved for distinct fatal categories"). cmd/comexe calls
// this once at startup with a function that logs and calls os.Exit;
// tests never call it, so they keep the default panic-based indirection.
func SetExitFunc(fn func(code int, cause error)) {
	exitProcess = fn
}

// Join blocks until id's thread body has returned, then removes it from
// the registry and releases its resources (spec.md §4.C "join(id)").
// Idempotent only in the sense of returning false for unknown ids.
func (a *Application) Join(id int) bool {
	inst, ok := a.registry.Lookup(id)
	if !ok {
		return false
	}
	<-inst.done
	a.registry.Remove(id)
	inst.interp.Close()
	return true
}

// ShutdownReport describes the orphaned-thread warning spec.md §4.C
// requires when instances are still registered after the root returns:
// "the application emits a warning to the diagnostic stream listing the
// thread hierarchy (re-parenting orphans under a synthetic 'Orphans'
// root) and exits cleanly without joining them."
type ShutdownReport struct {
	Orphaned bool
	Tree     string
}

// Shutdown implements the root-join-then-report sequence. root must
// already have been Join()ed by the caller; Shutdown only inspects what
// remains.
func (a *Application) Shutdown() ShutdownReport {
	remaining := a.registry.Snapshot()
	if len(remaining) == 0 {
		return ShutdownReport{}
	}

	var errs error
	tree := renderOrphanTree(remaining)
	a.log.Warn("instances still active at application exit; exiting without joining them",
		zap.Int("count", len(remaining)),
		zap.String("tree", tree),
	)
	// Accumulate rather than stop at the first unreachable parent link —
	// one instance's inconsistency should not hide the others from the
	// report (go.uber.org/multierr, see SPEC_FULL.md AMBIENT STACK).
	for id, inst := range remaining {
		if inst.parent != nil && !a.registry.IsValid(inst.parent.id) {
			errs = multierr.Append(errs, fmt.Errorf("instance %d (%s): parent %d already gone", id, inst.name, inst.parent.id))
		}
	}
	if errs != nil {
		a.log.Debug("orphan report detail", zap.Error(errs))
	}

	return ShutdownReport{Orphaned: true, Tree: tree}
}

// renderOrphanTree builds an indented listing of the surviving instances,
// grouped by parent, with a synthetic "Orphans" root for any instance
// whose parent has already exited (and so is absent from remaining).
func renderOrphanTree(remaining map[int]*Instance) string {
	children := map[int][]*Instance{} // parent id (0 = Orphans) -> children
	for _, inst := range remaining {
		parentID := 0
		if inst.parent != nil {
			if _, stillHere := remaining[inst.parent.id]; stillHere {
				parentID = inst.parent.id
			}
		}
		children[parentID] = append(children[parentID], inst)
	}

	var b strings.Builder
	var walk func(parentID int, depth int)
	walk = func(parentID int, depth int) {
		for _, inst := range children[parentID] {
			fmt.Fprintf(&b, "%s%s (id=%d)\n", strings.Repeat("  ", depth), inst.name, inst.id)
			walk(inst.id, depth+1)
		}
	}
	if len(children[0]) > 0 {
		b.WriteString("Orphans\n")
		walk(0, 1)
	}
	return b.String()
}
