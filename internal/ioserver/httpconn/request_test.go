package httpconn

import (
	"bufio"
	"strings"
	"testing"
)

func TestReadRequestParsesLineHeadersAndContentLengthBody(t *testing.T) {
	raw := "POST /submit?a=1 HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello"
	req, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)), nil)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if req.Method != "POST" || req.Path != "/submit" {
		t.Fatalf("method/path = %q/%q", req.Method, req.Path)
	}
	if req.Query["a"] != "1" {
		t.Fatalf("query[a] = %q, want 1", req.Query["a"])
	}
	if req.Header["host"] != "example.com" {
		t.Fatalf("header host = %q", req.Header["host"])
	}
	if string(req.Body) != "hello" {
		t.Fatalf("body = %q, want hello", req.Body)
	}
}

func TestReadRequestChunkedBody(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nHello\r\n6\r\n World\r\n0\r\n\r\n"
	req, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)), nil)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if string(req.Body) != "Hello World" {
		t.Fatalf("body = %q, want %q", req.Body, "Hello World")
	}
}

func TestReadRequestRejectsMissingColon(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nBadHeader\r\n\r\n"
	if _, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)), nil); err == nil {
		t.Fatalf("expected malformed header error")
	}
}

func TestKeepAlivePolicyHTTP11DefaultsToKeepAlive(t *testing.T) {
	req := &Request{Version: "HTTP/1.1", Header: map[string]string{}}
	keepAlive, forced := KeepAlivePolicy(req, 1, 100)
	if !keepAlive || forced {
		t.Fatalf("keepAlive=%v forced=%v, want true/false", keepAlive, forced)
	}
}

func TestKeepAlivePolicyHTTP10DefaultsToClose(t *testing.T) {
	req := &Request{Version: "HTTP/1.0", Header: map[string]string{}}
	keepAlive, _ := KeepAlivePolicy(req, 1, 100)
	if keepAlive {
		t.Fatalf("keepAlive = true, want false for bare HTTP/1.0")
	}
}

func TestKeepAlivePolicyForcesCloseOnFinalAllowedRequest(t *testing.T) {
	req := &Request{Version: "HTTP/1.1", Header: map[string]string{}}
	keepAlive, forced := KeepAlivePolicy(req, 3, 3)
	if !keepAlive || !forced {
		t.Fatalf("keepAlive=%v forced=%v, want true/true on MaxRequestsPerConnection-th request", keepAlive, forced)
	}
}

func TestKeepAlivePolicyDoesNotForceBeforeFinalRequest(t *testing.T) {
	req := &Request{Version: "HTTP/1.1", Header: map[string]string{}}
	keepAlive, forced := KeepAlivePolicy(req, 2, 3)
	if !keepAlive || forced {
		t.Fatalf("keepAlive=%v forced=%v, want true/false one request before the cap", keepAlive, forced)
	}
}

func TestKeepAlivePolicyUpgradeDisablesKeepAlive(t *testing.T) {
	req := &Request{Version: "HTTP/1.1", Header: map[string]string{"connection": "Upgrade"}}
	keepAlive, _ := KeepAlivePolicy(req, 1, 100)
	if keepAlive {
		t.Fatalf("keepAlive = true, want false when connection: upgrade")
	}
}

func TestFormatSetsContentLengthAndSecurityHeaders(t *testing.T) {
	out := Format(Response{Status: 200, Content: []byte("hi")}, true)
	s := string(out)
	if !strings.HasPrefix(s, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("status line wrong: %q", s)
	}
	if !strings.Contains(s, "Content-Length: 2\r\n") {
		t.Fatalf("missing Content-Length: %q", s)
	}
	if !strings.Contains(s, "X-Frame-Options: DENY\r\n") {
		t.Fatalf("missing security header: %q", s)
	}
	if !strings.Contains(s, "Connection: keep-alive\r\n") {
		t.Fatalf("missing Connection header: %q", s)
	}
	if !strings.HasSuffix(s, "hi") {
		t.Fatalf("content not appended: %q", s)
	}
}

func TestReasonPhraseUnknownCode(t *testing.T) {
	if ReasonPhrase(799) != "Unknown" {
		t.Fatalf("want Unknown for unrecognized code")
	}
}
