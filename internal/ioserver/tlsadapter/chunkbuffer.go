// Package tlsadapter wraps crypto/tls (the external TLS engine, out of
// scope per spec.md §1) behind the socket-shaped, cooperatively
// yielding interface spec.md §4.D's "TLS adapter" describes, and
// implements its ChunkBuffer data type (spec.md §3).
package tlsadapter

import (
	"bytes"
	"errors"
)

// ChunkBuffer is a segmented byte queue: each Append stores one chunk
// by reference (no copy), and Consume/TakeLine splice across chunks as
// needed. It keeps a resumable newline-scan cursor (scanned) so
// repeated "line present?" checks cost only the bytes appended since
// the last call, not the whole buffer, per spec.md §3.
type ChunkBuffer struct {
	chunks  [][]byte
	off     int // consumed offset into chunks[0]
	scanned int // unconsumed-data offset already scanned for '\n' with no match
}

// Append stores chunk by reference at the tail of the queue.
func (b *ChunkBuffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.chunks = append(b.chunks, chunk)
}

// Len returns the number of unconsumed bytes currently buffered.
func (b *ChunkBuffer) Len() int {
	n := 0
	for i, c := range b.chunks {
		if i == 0 {
			n += len(c) - b.off
			continue
		}
		n += len(c)
	}
	return n
}

// Consume removes and returns up to n unconsumed bytes. ok is false if
// fewer than n bytes are currently available (the caller should append
// more and retry; this never blocks).
func (b *ChunkBuffer) Consume(n int) (data []byte, ok bool) {
	if b.Len() < n {
		return nil, false
	}
	out := make([]byte, 0, n)
	for n > 0 {
		c := b.chunks[0]
		avail := c[b.off:]
		if len(avail) <= n {
			out = append(out, avail...)
			n -= len(avail)
			b.chunks = b.chunks[1:]
			b.off = 0
			continue
		}
		out = append(out, avail[:n]...)
		b.off += n
		n = 0
	}
	if b.scanned > len(out) {
		b.scanned -= len(out)
	} else {
		b.scanned = 0
	}
	return out, true
}

// ErrNoLine is returned by TakeLine when no terminator has arrived yet.
var ErrNoLine = errors.New("tlsadapter: no complete line buffered")

// TakeLine scans for and removes one LF-terminated line (a leading CR
// is stripped too). The scan resumes from b.scanned, the point the
// previous call left off without finding a newline.
func (b *ChunkBuffer) TakeLine() (string, error) {
	scanFrom := b.scanned
	pos := 0 // absolute offset from the start of unconsumed data
	for i, c := range b.chunks {
		start := 0
		if i == 0 {
			start = b.off
		}
		chunkLen := len(c) - start
		if pos+chunkLen <= scanFrom {
			pos += chunkLen
			continue
		}
		searchFrom := start
		if pos < scanFrom {
			searchFrom += scanFrom - pos
		}
		if idx := bytes.IndexByte(c[searchFrom:], '\n'); idx >= 0 {
			absoluteNewline := pos + (searchFrom + idx - start)
			lineBytes, ok := b.Consume(absoluteNewline + 1)
			if !ok {
				return "", ErrNoLine
			}
			line := bytes.TrimSuffix(lineBytes[:len(lineBytes)-1], []byte{'\r'})
			b.scanned = 0
			return string(line), nil
		}
		pos += chunkLen
	}
	b.scanned = b.Len()
	return "", ErrNoLine
}
