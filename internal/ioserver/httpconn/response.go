package httpconn

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SecurityHeaders are the fixed defaults spec.md §6 requires on every
// response unless the caller overrides them explicitly.
var SecurityHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "DENY",
	"Referrer-Policy":        "no-referrer",
	"Permissions-Policy":     "geolocation=(), microphone=(), camera=()",
	"Cache-Control":          "no-store",
}

// reasonPhrases is the fixed status-code->reason table spec.md §4.D
// names ("reason looked up from a fixed table; unknown codes -> Unknown").
var reasonPhrases = map[int]string{
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	204: "No Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	409: "Conflict",
	413: "Payload Too Large",
	426: "Upgrade Required",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
}

// ReasonPhrase returns the fixed-table reason for code, or "Unknown".
func ReasonPhrase(code int) string {
	if r, ok := reasonPhrases[code]; ok {
		return r
	}
	return "Unknown"
}

// Response is the formatted reply spec.md §4.D describes: a status
// line, the content, and a header set augmented with security defaults
// and a keep-alive-derived Connection header.
type Response struct {
	Status  int
	Header  map[string]string // caller-supplied overrides; case as given
	Content []byte
}

// Format renders resp into wire bytes. keepAlive is the decision made
// for this iteration (KeepAlivePolicy below); Content-Length is always
// set to len(resp.Content) and no chunked encoding is ever produced on
// the server side, per spec.md §4.D "Response formatting".
func Format(resp Response, keepAlive bool) []byte {
	header := map[string]string{}
	for k, v := range SecurityHeaders {
		header[k] = v
	}
	for k, v := range resp.Header {
		header[k] = v
	}
	if _, explicit := hasHeaderCI(header, "Connection"); !explicit {
		if keepAlive {
			header["Connection"] = "keep-alive"
		} else {
			header["Connection"] = "close"
		}
	}
	header["Content-Length"] = strconv.Itoa(len(resp.Content))

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", resp.Status, ReasonPhrase(resp.Status))

	names := make([]string, 0, len(header))
	for k := range header {
		names = append(names, k)
	}
	sort.Strings(names) // deterministic wire order, easier to test against

	for _, k := range names {
		fmt.Fprintf(&b, "%s: %s\r\n", k, header[k])
	}
	b.WriteString("\r\n")

	out := make([]byte, 0, b.Len()+len(resp.Content))
	out = append(out, []byte(b.String())...)
	out = append(out, resp.Content...)
	return out
}

func hasHeaderCI(h map[string]string, name string) (string, bool) {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// KeepAlivePolicy implements spec.md §4.D's per-iteration decision:
// HTTP/1.1 defaults to keep-alive unless "connection: close"; HTTP/1.0
// defaults to close unless "connection: keep-alive"; "connection:
// upgrade" implies no keep-alive. requestCount is the 1-based index of
// the request just served on this connection; maxRequests is
// MaxRequestsPerConnection (default 100 — see DefaultMaxRequestsPerConnection).
// When requestCount reaches maxRequests, forced is true and the caller
// must send Connection: close regardless of what the client asked.
func KeepAlivePolicy(req *Request, requestCount, maxRequests int) (keepAlive, forced bool) {
	conn := strings.ToLower(req.Header["connection"])
	if strings.Contains(conn, "upgrade") {
		return false, false
	}

	switch req.Version {
	case "HTTP/1.0":
		keepAlive = strings.Contains(conn, "keep-alive")
	default: // HTTP/1.1 and anything else normalized to it
		keepAlive = !strings.Contains(conn, "close")
	}
	if !keepAlive {
		return false, false
	}
	if requestCount >= maxRequests {
		return true, true
	}
	return true, false
}

// DefaultMaxRequestsPerConnection is spec.md §4.D's default cap.
const DefaultMaxRequestsPerConnection = 100

// DefaultKeepAliveTimeoutSeconds is the non-recurring READING_REQUEST_LINE
// timer spec.md §4.D specifies (default 15s).
const DefaultKeepAliveTimeoutSeconds = 15

// DefaultMaxHandshakeAttempts bounds TLS handshake steps (spec.md §4.D).
const DefaultMaxHandshakeAttempts = 10000
