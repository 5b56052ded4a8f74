package instance

import (
	"errors"

	"go.uber.org/zap"

	"github.com/pascalcombier/comexe/internal/eventbus"
	"github.com/pascalcombier/comexe/internal/script"
)

// DrainOnce performs one non-blocking drain pass: swap the mailbox under
// its event mutex, release it, then walk the drained buffer invoking
// script functions by global name (spec.md §4.B). It never sleeps, so the
// cooperative I/O scheduler (component D) can call it once per loop tick
// and interleave it with socket work, per spec.md §4.D.
//
// Returns the number of logical events processed. A decode failure is
// host-fatal per spec.md §6/§7: eventbus.CorruptionError exits code 2
// ("event-buffer corruption"), eventbus.UnknownArgTypeError exits code 3
// ("unknown event arg type"). A missing event-handler global
// (script.ErrHandlerMissing) exits code 4 ("missing event handler
// global") per spec.md §6's exit-code table, even though §7's prose
// summary of Host-fatal categories does not repeat it by name. All three
// calls to exitProcess do not return in production (cmd/comexe installs
// an os.Exit-based handler via SetExitFunc); the error is still returned
// so tests using the default panic-based indirection observe it.
func (i *Instance) DrainOnce() (int, error) {
	i.mu.Lock()
	i.state &^= StateEventsPending
	i.mu.Unlock()

	drained := i.mailbox.Swap()
	events, err := drained.Events()
	if err != nil {
		var unknownArg *eventbus.UnknownArgTypeError
		var corrupt *eventbus.CorruptionError
		switch {
		case errors.As(err, &unknownArg):
			exitProcess(3, err)
		case errors.As(err, &corrupt):
			exitProcess(2, err)
		default:
			exitProcess(2, err)
		}
		return 0, err
	}
	drained.Reset()

	for _, ev := range events {
		if callErr := i.interp.CallGlobal(ev.Name, ev.Args); callErr != nil {
			if errors.Is(callErr, script.ErrHandlerMissing) {
				exitProcess(4, callErr)
				continue
			}
			// Per spec.md §7: errors from script-called operations
			// return (false, message) to script in the general case;
			// here there is no caller to return to (delivery is
			// asynchronous), so the failure is reported on the
			// diagnostic stream instead of panicking the receiver.
			i.log.Warn("event handler failed", zap.String("event", ev.Name), zap.Error(callErr))
		}
	}
	return len(events), nil
}

// closeRequested reports LOOP_CLOSE_REQUEST without blocking.
func (i *Instance) closeRequested() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state&StateLoopCloseRequest != 0
}

// RunLoop implements the pure event-bus loop of spec.md §4.B: "alternates
// between draining events and sleeping on the condition until
// EVENTS_PENDING|LOOP_CLOSE_REQUEST is set... the loop exits after
// finishing the current drain." Instances that also run an I/O server use
// the scheduler in internal/ioserver instead, which calls DrainOnce
// directly once per tick rather than blocking here.
func (i *Instance) RunLoop() error {
	for {
		i.mu.Lock()
		for i.state&(StateEventsPending|StateLoopCloseRequest) == 0 {
			i.cond.Wait()
		}
		closing := i.state&StateLoopCloseRequest != 0
		i.mu.Unlock()

		if _, err := i.DrainOnce(); err != nil {
			return err
		}
		if closing {
			return nil
		}
	}
}

// Post sends one event from this instance to target, per spec.md §4.B
// "post(target_id, event_name, args...)".
func (i *Instance) Post(target *Instance, name string, args ...eventbus.EventArg) error {
	return eventbus.Post(i.app.registry, target.id, name, args...)
}

// PostByID is Post addressed by registry id rather than a live handle,
// for the common case of a script holding only the integer id returned
// by spawn.
func (i *Instance) PostByID(targetID int, name string, args ...eventbus.EventArg) error {
	return eventbus.Post(i.app.registry, targetID, name, args...)
}

// Broadcast sends one event to every registered instance, per spec.md
// §4.B "broadcast(event_name, args...)".
func (i *Instance) Broadcast(name string, args ...eventbus.EventArg) {
	eventbus.Broadcast(i.app.registry, name, args...)
}
