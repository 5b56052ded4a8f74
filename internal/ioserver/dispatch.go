// Package ioserver implements spec.md §4.D's cooperative I/O core: a
// single-goroutine scheduler per instance that owns the interpreter
// call boundary, fed by per-connection goroutines doing the actual
// socket I/O (see Scheduler for the Go-idiom mapping of "single
// cooperative scheduler" onto the Go concurrency model).
package ioserver

import (
	"github.com/pascalcombier/comexe/internal/ioserver/httpconn"
)

// DispatchResult is what the request handler produced.
type DispatchResult struct {
	Status  int
	Header  map[string]string
	Body    []byte
	Upgrade bool
	Err     error
}

type dispatchJob struct {
	req    *httpconn.Request
	result chan DispatchResult
}

// Dispatcher serializes HTTP handler invocations onto a single
// goroutine — the owning instance's scheduler tick — so the embedded
// interpreter is never called from more than one goroutine, preserving
// spec.md §3's "no two instances share interpreter state" invariant
// even though connection I/O itself is spread across goroutines.
type Dispatcher struct {
	jobs chan dispatchJob
}

// NewDispatcher creates a Dispatcher with the given inbox capacity;
// callers size it to the number of connections that may be dispatching
// concurrently without stalling their read loops.
func NewDispatcher(capacity int) *Dispatcher {
	if capacity <= 0 {
		capacity = 64
	}
	return &Dispatcher{jobs: make(chan dispatchJob, capacity)}
}

// Dispatch hands req to the owning instance's scheduler and blocks
// until Pump has produced a result. Called from a connection's own
// goroutine, never from the scheduler goroutine itself.
func (d *Dispatcher) Dispatch(req *httpconn.Request) DispatchResult {
	result := make(chan DispatchResult, 1)
	d.jobs <- dispatchJob{req: req, result: result}
	return <-result
}

// PumpOnce services at most one pending job without blocking, calling
// handle to invoke the script handler. It returns false if no job was
// pending. The scheduler's own goroutine is the only caller.
func (d *Dispatcher) PumpOnce(handle func(*httpconn.Request) DispatchResult) bool {
	select {
	case job := <-d.jobs:
		job.result <- handle(job.req)
		return true
	default:
		return false
	}
}

// Drain services every currently pending job without blocking (one
// scheduler-tick's worth of dispatch work, per spec.md §4.D "interleaving
// one event-processing pass per loop tick" — here the HTTP analogue of
// that pass).
func (d *Dispatcher) Drain(handle func(*httpconn.Request) DispatchResult) int {
	n := 0
	for d.PumpOnce(handle) {
		n++
	}
	return n
}
