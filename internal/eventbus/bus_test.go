package eventbus

import (
	"sync/atomic"
	"testing"

	"github.com/pascalcombier/comexe/internal/registry"
)

// fakeTarget is a minimal Target for bus tests: a mailbox plus a counter
// of how many times MarkEventsPending fired, standing in for an
// Instance's state bitmask + condition variable.
type fakeTarget struct {
	mailbox *Mailbox
	woken   atomic.Int64
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{mailbox: NewMailbox()}
}

func (f *fakeTarget) Mailbox() *Mailbox  { return f.mailbox }
func (f *fakeTarget) MarkEventsPending() { f.woken.Add(1) }

func TestPostDeliversToTarget(t *testing.T) {
	reg := registry.New[*fakeTarget]()
	target := newFakeTarget()
	id := reg.Add(target)

	if err := Post(reg, id, "hello", String("world")); err != nil {
		t.Fatalf("Post: %v", err)
	}

	if target.woken.Load() != 1 {
		t.Fatalf("woken = %d, want 1", target.woken.Load())
	}

	events, err := target.mailbox.Swap().Events()
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 || events[0].Name != "hello" {
		t.Fatalf("events = %+v, want [hello]", events)
	}
}

func TestPostToUnknownIDFails(t *testing.T) {
	reg := registry.New[*fakeTarget]()
	if err := Post(reg, 99, "x"); err == nil {
		t.Fatalf("Post to unknown id succeeded, want error")
	}
}

func TestBroadcastReachesAllLiveTargets(t *testing.T) {
	reg := registry.New[*fakeTarget]()
	a := newFakeTarget()
	b := newFakeTarget()
	idA := reg.Add(a)
	idB := reg.Add(b)
	reg.Remove(idA) // removed slots must be skipped, not delivered to

	Broadcast(reg, "tick")

	if a.woken.Load() != 0 {
		t.Fatalf("removed target woken %d times, want 0", a.woken.Load())
	}
	if b.woken.Load() != 1 {
		t.Fatalf("live target woken %d times, want 1", b.woken.Load())
	}
	_ = idB
}

func TestPostPreservesPerSenderOrder(t *testing.T) {
	reg := registry.New[*fakeTarget]()
	target := newFakeTarget()
	reg.Add(target)

	if err := Post(reg, 1, "one"); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if err := Post(reg, 1, "two"); err != nil {
		t.Fatalf("Post: %v", err)
	}

	events, err := target.mailbox.Swap().Events()
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 || events[0].Name != "one" || events[1].Name != "two" {
		t.Fatalf("events = %+v, want [one two] in order", events)
	}
}
