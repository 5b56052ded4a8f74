// Package instance implements components B's consumer and component C of
// the host runtime core: the per-thread Instance and the process-wide
// Application singleton. See spec.md §3 ("Instance"), §4.C.
package instance

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pascalcombier/comexe/internal/diag"
	"github.com/pascalcombier/comexe/internal/eventbus"
	"github.com/pascalcombier/comexe/internal/script"
)

// State bits, spec.md §3: "a state bitmask with bits {ACTIVE,
// EVENTS_PENDING, LOOP_CLOSE_REQUEST}".
const (
	StateActive uint32 = 1 << iota
	StateEventsPending
	StateLoopCloseRequest
)

// Instance is one script execution context: one interpreter, one thread,
// one mailbox (spec.md §3, Glossary "Instance").
type Instance struct {
	id            int // set once, by Application.spawn, from the registry
	name          string
	exitEventName string
	parent        *Instance
	correlation   uuid.UUID

	interp *script.Interpreter

	mailbox *eventbus.Mailbox

	mu    sync.Mutex
	cond  *sync.Cond
	state uint32

	warnPolicy *diag.WarningPolicy
	log        *zap.Logger

	done chan struct{} // closed when the instance's thread body returns

	app *Application
}

// ID returns the instance's stable registry handle (spec.md §4.A).
func (i *Instance) ID() int { return i.id }

// Name returns the instance's human-readable module name.
func (i *Instance) Name() string { return i.name }

// Parent returns the instance that spawned this one, or nil for the root.
func (i *Instance) Parent() *Instance { return i.parent }

// Application returns the process-wide singleton that owns this
// instance, for native modules that need to spawn/join siblings
// (internal/natives com.thread).
func (i *Instance) Application() *Application { return i.app }

// Interpreter exposes the instance's exclusively-owned interpreter state
// to the I/O core and native module registration. Per spec.md §3's
// invariant, no other Instance may touch it.
func (i *Instance) Interpreter() *script.Interpreter { return i.interp }

// Log returns the diagnostic-stream logger scoped to this instance.
func (i *Instance) Log() *zap.Logger { return i.log }

// Mailbox implements eventbus.Target.
func (i *Instance) Mailbox() *eventbus.Mailbox { return i.mailbox }

// MarkEventsPending implements eventbus.Target: set EVENTS_PENDING and
// wake whatever is sleeping in RunLoop (spec.md §4.B).
func (i *Instance) MarkEventsPending() {
	i.mu.Lock()
	i.state |= StateEventsPending
	i.cond.Signal()
	i.mu.Unlock()
}

// StopLoop sets LOOP_CLOSE_REQUEST on this instance (spec.md §4.B:
// "stop_loop() sets LOOP_CLOSE_REQUEST on the current instance"). It is
// called by script running on this instance's own thread.
func (i *Instance) StopLoop() {
	i.mu.Lock()
	i.state |= StateLoopCloseRequest
	i.cond.Signal()
	i.mu.Unlock()
}

// waitForActive blocks the calling goroutine (the parent, per spec.md
// §4.C: "The creating thread blocks on the new instance's condition until
// the child sets its ACTIVE bit") until this instance is active.
func (i *Instance) waitForActive() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for i.state&StateActive == 0 {
		i.cond.Wait()
	}
}

func (i *Instance) setActive() {
	i.mu.Lock()
	i.state |= StateActive
	i.cond.Signal()
	i.mu.Unlock()
}

// stateSnapshot returns the current bitmask, for tests and diagnostics.
func (i *Instance) stateSnapshot() uint32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// WarningCallback returns the (message, continuation) function installed
// as this instance's warning handler (spec.md §4.C "Warning routing").
func (i *Instance) WarningCallback() func(string, bool) {
	return i.warnPolicy.Warning
}
