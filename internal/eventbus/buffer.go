package eventbus

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// indexEntry is one (offset, length) pair into Buffer.data, recorded in
// append order so a reader can walk the buffer without re-scanning it.
type indexEntry struct {
	offset int
	length int
}

// Buffer is the bump allocator described in spec.md §3: an append-only
// byte region holding a serialized EventArg sequence, plus a parallel
// index so readers can walk the buffer in order without re-parsing from
// byte zero each time. It is not safe for concurrent use by itself —
// callers serialize access via Mailbox's event mutex.
type Buffer struct {
	data  bytes.Buffer
	index []indexEntry
}

// NewBuffer returns an empty buffer ready to accept frames.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// append encodes one EventArg and records its (offset, length) in the
// index. Returns the frame's position (its key, per spec.md §3).
func (b *Buffer) append(a EventArg) (int, error) {
	offset := b.data.Len()
	enc := msgpack.NewEncoder(&b.data)
	if err := encode(enc, a); err != nil {
		return 0, err
	}
	length := b.data.Len() - offset
	key := len(b.index)
	b.index = append(b.index, indexEntry{offset: offset, length: length})
	return key, nil
}

// AppendEvent writes one complete logical event — START(len(args)+1) |
// name | args... | END — as a contiguous run of frames, matching spec.md §3's
// "a logical event is a sequence" definition. name becomes the first
// STRING argument after START per spec.md §4.B.
func (b *Buffer) AppendEvent(name string, args []EventArg) error {
	if _, err := b.append(startFrame(len(args) + 1)); err != nil {
		return err
	}
	if _, err := b.append(String(name)); err != nil {
		return err
	}
	for _, a := range args {
		if _, err := b.append(a); err != nil {
			return err
		}
	}
	_, err := b.append(endFrame())
	return err
}

// Events walks the buffer in index order and groups frames back into
// logical events: a START frame, its declared argument count of EventArgs
// (the first of which is always the event name, per spec.md §4.B), and a
// terminating END frame. A malformed sequence (START without a matching
// END, or argument count mismatch) is reported via CorruptionError —
// host-fatal per spec.md §7.
func (b *Buffer) Events() ([]Event, error) {
	r := bytes.NewReader(b.data.Bytes())
	dec := msgpack.NewDecoder(r)

	var events []Event
	for {
		if r.Len() == 0 {
			break
		}
		frame, err := decode(dec)
		if err != nil {
			return events, err
		}
		if frame.Kind != kindStart {
			return events, &CorruptionError{Reason: "expected START frame"}
		}
		n := int(frame.Int)
		if n < 1 {
			return events, &CorruptionError{Reason: "START declares zero arguments; name is mandatory"}
		}
		args := make([]EventArg, 0, n)
		for i := 0; i < n; i++ {
			a, err := decode(dec)
			if err != nil {
				return events, err
			}
			args = append(args, a)
		}
		end, err := decode(dec)
		if err != nil {
			return events, err
		}
		if end.Kind != kindEnd {
			return events, &CorruptionError{Reason: "expected END frame"}
		}
		if args[0].Kind != KindString {
			return events, &CorruptionError{Reason: "first argument after START must be the event name"}
		}
		events = append(events, Event{
			Name: args[0].AsString(),
			Args: args[1:],
		})
	}
	return events, nil
}

// Event is one decoded logical event: a global function name and its
// call arguments (spec.md §4.B: "the first STRING argument after START is
// the name; remaining args become call arguments").
type Event struct {
	Name string
	Args []EventArg
}

// Reset discards all frames, for reuse after a swap-and-drain cycle.
func (b *Buffer) Reset() {
	b.data.Reset()
	b.index = b.index[:0]
}

// Len reports the number of frames appended (not logical events).
func (b *Buffer) Len() int { return len(b.index) }

// FrameAt decodes a single frame directly via the (offset, length) index,
// without re-walking the buffer from the start. Used by diagnostics that
// need to inspect one frame (e.g. "what was argument 3 of this event")
// without paying for a full Events() pass.
func (b *Buffer) FrameAt(key int) (EventArg, error) {
	if key < 0 || key >= len(b.index) {
		return EventArg{}, fmt.Errorf("eventbus: FrameAt: key %d out of range [0,%d)", key, len(b.index))
	}
	e := b.index[key]
	section := bytes.NewReader(b.data.Bytes()[e.offset : e.offset+e.length])
	return decode(msgpack.NewDecoder(section))
}
