package eventbus

import (
	"fmt"

	"github.com/pascalcombier/comexe/internal/registry"
)

// Target is what Post and Broadcast need from a receiver: somewhere to
// enqueue frames, and a way to tell the receiver "you have mail" without
// this package knowing anything about the receiver's state bitmask,
// mutex, or condition variable (those belong to component C, spec.md
// §4.C). Instance implements Target.
type Target interface {
	Mailbox() *Mailbox
	MarkEventsPending()
}

// Post delivers one event to a single target by registry id, copying args
// into the target's receive buffer (spec.md §4.B). It returns an error
// when the target id is not currently valid; this is a normal, recoverable
// condition (the target may have exited), not a fatal one.
func Post[T Target](reg *registry.Registry[T], targetID int, name string, args ...EventArg) error {
	target, ok := reg.Lookup(targetID)
	if !ok {
		return fmt.Errorf("eventbus: post: target id %d is not a live instance", targetID)
	}
	if err := target.Mailbox().Enqueue(name, args); err != nil {
		return fmt.Errorf("eventbus: post: %w", err)
	}
	target.MarkEventsPending()
	return nil
}

// Broadcast delivers one event to every instance currently registered.
// Per spec.md §4.B it "snapshots the registry capacity under its mutex,
// then iterates slot by slot"; a concurrent add/remove during the
// iteration is tolerated by construction since each slot lookup is
// independent and slots beyond the snapshot are simply not visited.
func Broadcast[T Target](reg *registry.Registry[T], name string, args ...EventArg) {
	capacity := reg.Capacity()
	for id := 1; id < capacity; id++ {
		target, ok := reg.At(id)
		if !ok {
			continue // removed, or never filled — both tolerated
		}
		// A single recipient's malformed mailbox must not abort
		// delivery to the rest of the broadcast set.
		if err := target.Mailbox().Enqueue(name, args); err != nil {
			continue
		}
		target.MarkEventsPending()
	}
}
