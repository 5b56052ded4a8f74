package eventbus

import (
	"errors"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

// appendRawKind writes a single 2-element [kind, nil] frame with an
// arbitrary, possibly-unrecognized kind tag directly, bypassing the
// typed constructors — this is the only way to construct a wire tag
// this build's Kind enum does not know about.
func appendRawKind(b *Buffer, kind uint8) (int, error) {
	offset := b.data.Len()
	enc := msgpack.NewEncoder(&b.data)
	if err := enc.EncodeArrayLen(2); err != nil {
		return 0, err
	}
	if err := enc.EncodeUint8(kind); err != nil {
		return 0, err
	}
	if err := enc.EncodeNil(); err != nil {
		return 0, err
	}
	length := b.data.Len() - offset
	key := len(b.index)
	b.index = append(b.index, indexEntry{offset: offset, length: length})
	return key, nil
}

func TestDecodeUnknownKindIsDistinctFromCorruption(t *testing.T) {
	b := NewBuffer()
	if _, err := appendRawKind(b, 200); err != nil {
		t.Fatalf("appendRawKind: %v", err)
	}

	_, err := b.FrameAt(0)
	if err == nil {
		t.Fatalf("FrameAt: want error for unknown kind, got nil")
	}

	var unknownArg *UnknownArgTypeError
	if !errors.As(err, &unknownArg) {
		t.Fatalf("err = %v (%T), want *UnknownArgTypeError", err, err)
	}
	if unknownArg.Kind != Kind(200) {
		t.Fatalf("Kind = %d, want 200", unknownArg.Kind)
	}

	var corrupt *CorruptionError
	if errors.As(err, &corrupt) {
		t.Fatalf("unknown-kind decode error also matched as *CorruptionError: %v", err)
	}
}

func TestEventsReportsCorruptionForBadFrameOrdering(t *testing.T) {
	b := NewBuffer()
	if _, err := b.append(String("not a start frame")); err != nil {
		t.Fatalf("append: %v", err)
	}

	_, err := b.Events()
	if err == nil {
		t.Fatalf("Events: want error for missing START frame, got nil")
	}

	var corrupt *CorruptionError
	if !errors.As(err, &corrupt) {
		t.Fatalf("err = %v (%T), want *CorruptionError", err, err)
	}

	var unknownArg *UnknownArgTypeError
	if errors.As(err, &unknownArg) {
		t.Fatalf("frame-ordering error also matched as *UnknownArgTypeError: %v", err)
	}
}
