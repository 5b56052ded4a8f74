package websocket

import "io"

// Conn wraps an upgraded socket for the cooperative scheduler (the
// server side of RFC 6455), implementing spec.md §4.D's receive-side
// automatic behavior: CLOSE is answered in kind, PING gets an
// automatic PONG, PONG is swallowed, and everything else is handed
// back to the caller as (payload, opcode).
type Conn struct {
	rw     io.ReadWriter
	closed bool
}

// NewConn wraps rw (already past the 101 handshake) as a WebSocket
// connection.
func NewConn(rw io.ReadWriter) *Conn { return &Conn{rw: rw} }

// Closed reports whether a CLOSE frame has been exchanged.
func (c *Conn) Closed() bool { return c.closed }

// Receive reads frames until one of opcode TEXT/BINARY (or any
// non-control opcode) arrives, auto-handling CLOSE/PING/PONG along the
// way. It returns io.EOF-wrapped errors once the connection is closed.
func (c *Conn) Receive() (payload []byte, opcode Opcode, err error) {
	for {
		if c.closed {
			return nil, 0, io.EOF
		}
		frame, err := ReadFrame(c.rw)
		if err != nil {
			return nil, 0, err
		}
		switch frame.Opcode {
		case OpClose:
			code, reason := CloseCode(frame.Payload)
			_ = WriteFrame(c.rw, OpClose, EncodeClose(code, reason))
			c.closed = true
			return nil, 0, io.EOF
		case OpPing:
			if err := WriteFrame(c.rw, OpPong, frame.Payload); err != nil {
				return nil, 0, err
			}
			continue
		case OpPong:
			continue
		default:
			return frame.Payload, frame.Opcode, nil
		}
	}
}

// Send writes a single unfragmented TEXT or BINARY frame.
func (c *Conn) Send(opcode Opcode, payload []byte) error {
	return WriteFrame(c.rw, opcode, payload)
}

// Close sends a CLOSE frame with the given status code (spec.md §4.D
// "server sends a matching CLOSE"). Reason is optional.
func (c *Conn) Close(code int, reason string) error {
	if c.closed {
		return nil
	}
	c.closed = true
	return WriteFrame(c.rw, OpClose, EncodeClose(code, reason))
}
