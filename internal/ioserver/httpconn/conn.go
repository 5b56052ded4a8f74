package httpconn

import (
	"bufio"
	"net"
)

// Conn tracks one accepted socket's position in the connection
// lifecycle (spec.md §4.D) across keep-alive iterations: the request
// counter that drives KeepAlivePolicy's forced-close decision, and the
// current State for whatever owns the cooperative scheduler tick.
type Conn struct {
	Raw     net.Conn
	Reader  *bufio.Reader
	State   State
	Peer    net.Addr
	Served  int // requests served so far on this socket
	MaxReqs int // MaxRequestsPerConnection for this listener
}

// NewConn wraps an accepted socket. MaxReqs <= 0 falls back to
// DefaultMaxRequestsPerConnection.
func NewConn(raw net.Conn, maxReqs int) *Conn {
	if maxReqs <= 0 {
		maxReqs = DefaultMaxRequestsPerConnection
	}
	return &Conn{
		Raw:     raw,
		Reader:  bufio.NewReader(raw),
		State:   StateReady,
		Peer:    raw.RemoteAddr(),
		MaxReqs: maxReqs,
	}
}

// NextRequest reads one request and applies the keep-alive policy,
// advancing c.State and c.Served. The returned Request.KeepAlive and
// .KeepAliveForced reflect this iteration's decision; the caller (the
// scheduler in internal/ioserver) is responsible for writing the
// response with Format(..., req.KeepAlive) and then either looping for
// another iteration or closing c.Raw.
func (c *Conn) NextRequest() (*Request, error) {
	c.State = StateReadingRequestLine
	req, err := ReadRequest(c.Reader, c.Peer)
	if err != nil {
		c.State = StateClosed
		return nil, err
	}
	c.State = StateDispatched
	c.Served++

	keepAlive, forced := KeepAlivePolicy(req, c.Served, c.MaxReqs)
	req.KeepAlive = keepAlive
	req.KeepAliveForced = forced
	if forced {
		req.RequestsRemaining = 1
	} else if keepAlive {
		req.RequestsRemaining = c.MaxReqs - c.Served + 1
	}
	return req, nil
}

// Close marks the connection CLOSED and releases the socket.
func (c *Conn) Close() error {
	c.State = StateClosed
	return c.Raw.Close()
}

// MarkUpgraded transitions the connection out of HTTP ownership
// (spec.md §4.D: "the server stops treating the connection as HTTP").
func (c *Conn) MarkUpgraded() {
	c.State = StateUpgraded
}
