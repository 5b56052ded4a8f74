package eventbus

import "sync"

// Mailbox holds one instance's two event buffers (spec.md §3: "Two
// buffers per instance; the receiver swaps them under the event mutex
// when it wants to drain, so enqueuers never block on drain"). The mutex
// here is deliberately separate from whatever mutex guards an instance's
// state bitmask — spec.md §5 requires senders never contend with drain
// processing on the state lock.
type Mailbox struct {
	mu      sync.Mutex
	receive *Buffer // enqueuers append here
	temp    *Buffer // drain target; swapped in under mu
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		receive: NewBuffer(),
		temp:    NewBuffer(),
	}
}

// Enqueue appends one logical event to the receive buffer. Safe to call
// from any goroutine; never blocks on a drain in progress.
func (m *Mailbox) Enqueue(name string, args []EventArg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receive.AppendEvent(name, args)
}

// Swap exchanges receive and temp under the mutex and returns the buffer
// now holding whatever had accumulated — the caller drains it outside the
// lock, per spec.md §4.B ("swaps receive<->temp buffer under the event
// mutex, releases the lock, then walks the temp buffer").
func (m *Mailbox) Swap() *Buffer {
	m.mu.Lock()
	m.receive, m.temp = m.temp, m.receive
	drained := m.temp
	m.mu.Unlock()
	return drained
}

// Pending reports whether the receive buffer currently holds any frames,
// useful for tests asserting "nothing was delivered".
func (m *Mailbox) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receive.Len() > 0
}
