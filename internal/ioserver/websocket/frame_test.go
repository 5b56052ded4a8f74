package websocket

import (
	"bytes"
	"testing"
)

func maskedFrame(opcode Opcode, payload []byte) []byte {
	key := [4]byte{0x11, 0x22, 0x33, 0x44}
	masked := make([]byte, len(payload))
	for i, b := range payload {
		masked[i] = b ^ key[i%4]
	}
	buf := []byte{0x80 | byte(opcode), 0x80 | byte(len(payload))}
	buf = append(buf, key[:]...)
	buf = append(buf, masked...)
	return buf
}

func TestReadFrameUnmasksClientPayload(t *testing.T) {
	wire := maskedFrame(OpText, []byte("hi"))
	frame, err := ReadFrame(bytes.NewReader(wire))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !frame.FIN || frame.Opcode != OpText || string(frame.Payload) != "hi" {
		t.Fatalf("frame = %+v", frame)
	}
}

func TestReadFrameRejectsUnmaskedClientFrame(t *testing.T) {
	wire := []byte{0x81, 0x02, 'h', 'i'} // MASK bit not set
	if _, err := ReadFrame(bytes.NewReader(wire)); err == nil {
		t.Fatalf("expected malformed error for unmasked client frame")
	}
}

func TestWriteFrameUsesSmallestLengthForm(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, OpText, []byte("hi")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	out := buf.Bytes()
	if out[0] != 0x81 {
		t.Fatalf("byte0 = %x, want FIN+TEXT", out[0])
	}
	if out[1] != 0x02 {
		t.Fatalf("byte1 = %x, want unmasked length 2", out[1])
	}
	if string(out[2:]) != "hi" {
		t.Fatalf("payload = %q", out[2:])
	}
}

func TestEncodeDecodeRoundTripOnPayload(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("round trip text payload")
	if err := WriteFrame(&buf, OpBinary, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	// Server frames are unmasked; read them back with a masked
	// decode disabled by re-masking with a zero key (identity).
	wire := buf.Bytes()
	wire[1] |= 0x80 // pretend masked for the decode path
	wire = append(wire[:2], append([]byte{0, 0, 0, 0}, wire[2:]...)...)
	frame, err := ReadFrame(bytes.NewReader(wire))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(frame.Payload) != string(payload) {
		t.Fatalf("payload = %q, want %q", frame.Payload, payload)
	}
}

func TestCloseCodeDefaultsTo1000OnEmptyPayload(t *testing.T) {
	code, reason := CloseCode(nil)
	if code != 1000 || reason != "" {
		t.Fatalf("code=%d reason=%q, want 1000/empty", code, reason)
	}
}

func TestAcceptKeyMatchesRFC6455Example(t *testing.T) {
	// The example key/accept pair from RFC 6455 §1.3.
	got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("AcceptKey = %q, want %q", got, want)
	}
}

func TestQualifiesRequiresUpgradeConnectionAndKey(t *testing.T) {
	h := MapHeaders{
		"upgrade":           "websocket",
		"connection":        "Keep-Alive, Upgrade",
		"sec-websocket-key": "dGhlIHNhbXBsZSBub25jZQ==",
	}
	if !Qualifies(h) {
		t.Fatalf("expected qualifying headers to pass")
	}
	delete(h, "sec-websocket-key")
	if Qualifies(h) {
		t.Fatalf("missing key should fail Qualifies")
	}
}
