// Package httpconn implements the per-connection HTTP/1.1 state
// machine, request/response framing, and keep-alive policy of spec.md
// §4.D, grounded in the teacher's connection-helper style
// (internal/bridge/conn.go: typed error classification, small focused
// functions, zap for diagnostics).
package httpconn

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pascalcombier/comexe/internal/ioserver/chunked"
	"github.com/pascalcombier/comexe/internal/ioserver/urlencoded"
)

// State is a connection's position in spec.md §4.D's lifecycle:
// HANDSHAKING -> READY -> READING_REQUEST_LINE -> READING_HEADERS ->
// READING_BODY -> DISPATCHED -> (RESPONDING ->) {KEEP_ALIVE_WAIT,
// CLOSED, UPGRADED}.
type State int

const (
	StateHandshaking State = iota
	StateReady
	StateReadingRequestLine
	StateReadingHeaders
	StateReadingBody
	StateDispatched
	StateResponding
	StateKeepAliveWait
	StateClosed
	StateUpgraded
)

// ErrMalformed marks a request-line, header, or framing violation
// (spec.md §7 Malformed-input): the caller closes the connection
// without exposing partial state to the handler.
var ErrMalformed = errors.New("httpconn: malformed request")

// ErrPeerClosed marks an expected end-of-stream (spec.md §7
// Peer-closed): the caller ends the iteration silently, no warning.
var ErrPeerClosed = errors.New("httpconn: peer closed")

// Request is spec.md §3's per-iteration data: raw method/version,
// parsed target, case-folded headers, optional body, and the flags the
// server and the handler both observe.
type Request struct {
	Method  string
	Target  string // raw request-target as sent
	Path    string
	Query   map[string]string
	Version string // "HTTP/1.1" or "HTTP/1.0"

	Header map[string]string // lower-cased names, values verbatim after ": "
	Body   []byte

	PeerAddr net.Addr

	KeepAlive         bool // this iteration's keep-alive decision
	KeepAliveForced   bool // Nth-request cap forces Connection: close regardless of header
	RequestsRemaining int // keepalive_remaining, > 1 means more iterations allowed after this one
}

// ReadRequest reads one HTTP/1.1 message from r: request line, headers,
// and (per content-length / transfer-encoding) the body. It never
// blocks past what's needed to decide body length; callers run it
// under the cooperative scheduler's own timeout/cancellation.
func ReadRequest(r *bufio.Reader, peer net.Addr) (*Request, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, classifyReadErr(err)
	}
	method, target, version, err := parseRequestLine(line)
	if err != nil {
		return nil, err
	}

	headers, err := readHeaders(r)
	if err != nil {
		return nil, err
	}

	path, query := splitTarget(target)

	req := &Request{
		Method:  method,
		Target:  target,
		Path:    path,
		Query:   urlencoded.Parse(query),
		Version: version,
		Header:  headers,
		PeerAddr: peer,
	}

	body, err := readBody(r, headers)
	if err != nil {
		return nil, err
	}
	req.Body = body

	return req, nil
}

func classifyReadErr(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrPeerClosed, err)
	}
	return fmt.Errorf("%w: %v", ErrPeerClosed, err)
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// parseRequestLine splits "METHOD target HTTP/x.y".
func parseRequestLine(line string) (method, target, version string, err error) {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("%w: request line %q", ErrMalformed, line)
	}
	if !strings.HasPrefix(parts[2], "HTTP/1.") {
		return "", "", "", fmt.Errorf("%w: unsupported version %q", ErrMalformed, parts[2])
	}
	return parts[0], parts[1], parts[2], nil
}

// readHeaders reads CRLF-terminated "Name: value" lines until a blank
// line. Names are case-folded to lowercase on storage; values preserve
// whitespace after the colon + single SP, per spec.md §4.D.
func readHeaders(r *bufio.Reader) (map[string]string, error) {
	headers := map[string]string{}
	for {
		line, err := readLine(r)
		if err != nil {
			return nil, classifyReadErr(err)
		}
		if line == "" {
			return headers, nil
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return nil, fmt.Errorf("%w: header %q has no colon", ErrMalformed, line)
		}
		name := strings.ToLower(strings.TrimSpace(line[:colon]))
		value := strings.TrimPrefix(line[colon+1:], " ")
		headers[name] = value
	}
}

func splitTarget(target string) (path, query string) {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, ""
}

// readBody implements spec.md §4.D "Body reading": content-length
// takes priority, then chunked transfer-encoding, else no body.
func readBody(r *bufio.Reader, headers map[string]string) ([]byte, error) {
	if cl, ok := headers["content-length"]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad content-length %q", ErrMalformed, cl)
		}
		if n == 0 {
			return nil, nil
		}
		buf := make([]byte, n)
		if _, err := readFull(r, buf); err != nil {
			return nil, classifyReadErr(err)
		}
		return buf, nil
	}
	if strings.ToLower(headers["transfer-encoding"]) == "chunked" {
		body, err := chunked.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return body, nil
	}
	return nil, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
