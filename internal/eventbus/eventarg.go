// Package eventbus implements component B of the host runtime core: the
// cross-thread event bus, its EventArg wire format, and the EventBuffer
// bump allocator. See spec.md §3 ("EventArg", "EventBuffer") and §4.B.
package eventbus

import (
	"fmt"
	"unsafe"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind tags one EventArg variant. The zero value is KindNil so a
// zero-initialized EventArg is a valid nil argument rather than garbage.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindDouble
	KindString
	KindUserData
	// kindStart and kindEnd are frame markers bracketing one logical event
	// (spec.md §3: "START(arg_count) | EventArg × n | END"); they are not
	// argument variants themselves but share the wire format so one
	// EventBuffer can hold them with the same encode/decode path.
	kindStart
	kindEnd
)

// EventArg is the unit carried across instance boundaries: a tagged union
// over the six variants spec.md §3 lists. No tables, no functions, no
// interpreter objects can be represented here by construction.
type EventArg struct {
	Kind     Kind
	Bool     bool
	Int      int64
	Double   float64
	Str      []byte
	UserData unsafe.Pointer
}

// Nil, Bool, Int, Double, String, and UserData are constructors for each
// variant, kept separate from struct literals so call sites read as intent
// ("eventbus.String(name)") rather than field-by-field assembly.

func Nil() EventArg                    { return EventArg{Kind: KindNil} }
func Bool(v bool) EventArg             { return EventArg{Kind: KindBool, Bool: v} }
func Int(v int64) EventArg             { return EventArg{Kind: KindInt, Int: v} }
func Double(v float64) EventArg        { return EventArg{Kind: KindDouble, Double: v} }
func String(v string) EventArg         { return EventArg{Kind: KindString, Str: []byte(v)} }
func UserData(p unsafe.Pointer) EventArg { return EventArg{Kind: KindUserData, UserData: p} }

// AsString returns the argument's string value. Valid only when Kind is
// KindString; callers that accept untyped event payloads should switch on
// Kind first.
func (a EventArg) AsString() string { return string(a.Str) }

func startFrame(argCount int) EventArg { return EventArg{Kind: kindStart, Int: int64(argCount)} }
func endFrame() EventArg               { return EventArg{Kind: kindEnd} }

// encode appends the msgpack wire representation of a to buf via enc.
func encode(enc *msgpack.Encoder, a EventArg) error {
	switch a.Kind {
	case KindNil:
		return encodeTagged(enc, a.Kind, func() error { return enc.EncodeNil() })
	case KindBool:
		return encodeTagged(enc, a.Kind, func() error { return enc.EncodeBool(a.Bool) })
	case KindInt, kindStart:
		return encodeTagged(enc, a.Kind, func() error { return enc.EncodeInt64(a.Int) })
	case KindDouble:
		return encodeTagged(enc, a.Kind, func() error { return enc.EncodeFloat64(a.Double) })
	case KindString:
		return encodeTagged(enc, a.Kind, func() error { return enc.EncodeBytes(a.Str) })
	case KindUserData:
		return encodeTagged(enc, a.Kind, func() error {
			// The pointer only needs to survive within this process's
			// address space (spec.md §3), so it is carried as its raw
			// bit pattern rather than a msgpack extension payload.
			return enc.EncodeUint64(uint64(uintptr(a.UserData)))
		})
	case kindEnd:
		return encodeTagged(enc, a.Kind, func() error { return enc.EncodeNil() })
	default:
		return fmt.Errorf("eventbus: encode: unknown EventArg kind %d", a.Kind)
	}
}

func encodeTagged(enc *msgpack.Encoder, kind Kind, payload func() error) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeUint8(uint8(kind)); err != nil {
		return err
	}
	return payload()
}

// decode reads one EventArg frame from dec. Every frame is a 2-element
// array: [kind tag, payload]; kinds with no natural payload (Nil, the END
// marker) encode msgpack nil there so the array shape never varies.
func decode(dec *msgpack.Decoder) (EventArg, error) {
	if n, err := dec.DecodeArrayLen(); err != nil {
		return EventArg{}, fmt.Errorf("eventbus: decode: corrupt frame header: %w", err)
	} else if n != 2 {
		return EventArg{}, &CorruptionError{Reason: fmt.Sprintf("frame has %d elements, want 2", n)}
	}
	tag, err := dec.DecodeUint8()
	if err != nil {
		return EventArg{}, fmt.Errorf("eventbus: decode: corrupt frame tag: %w", err)
	}
	kind := Kind(tag)

	switch kind {
	case KindNil:
		err := dec.DecodeNil()
		return Nil(), err
	case KindBool:
		v, err := dec.DecodeBool()
		return EventArg{Kind: kind, Bool: v}, err
	case KindInt, kindStart:
		v, err := dec.DecodeInt64()
		return EventArg{Kind: kind, Int: v}, err
	case KindDouble:
		v, err := dec.DecodeFloat64()
		return EventArg{Kind: kind, Double: v}, err
	case KindString:
		v, err := dec.DecodeBytes()
		return EventArg{Kind: kind, Str: v}, err
	case KindUserData:
		v, err := dec.DecodeUint64()
		return EventArg{Kind: kind, UserData: unsafe.Pointer(uintptr(v))}, err //nolint:govet // intentional: opaque cross-thread handle, see spec.md §3
	case kindEnd:
		err := dec.DecodeNil()
		return endFrame(), err
	default:
		// Host-fatal per spec.md §6/§7, but its own distinct exit code
		// (3, "unknown event arg type"): the buffer is self-describing,
		// so a tag this decoder does not recognize means a sender used a
		// wire type this build's Kind enum does not have, as opposed to
		// corrupting frame structure itself.
		return EventArg{}, &UnknownArgTypeError{Kind: kind}
	}
}

// CorruptionError marks an EventBuffer decode failure that spec.md §7
// classifies as host-fatal (exit code 2, "event-buffer corruption"): the
// receiver cannot safely continue because it can no longer trust frame
// boundaries in the buffer.
type CorruptionError struct {
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("eventbus: event-buffer corruption: %s", e.Reason)
}

// UnknownArgTypeError marks a wire tag this build's Kind enum does not
// recognize (spec.md §6 exit code 3, "unknown event arg type"): distinct
// from CorruptionError because the frame shape itself was well-formed,
// only the payload's own type tag was not.
type UnknownArgTypeError struct {
	Kind Kind
}

func (e *UnknownArgTypeError) Error() string {
	return fmt.Sprintf("eventbus: unknown EventArg kind %d", e.Kind)
}
