// Package multipart implements multipart/form-data body parsing (RFC
// 7578, strict CRLF), per spec.md §4.D "Multipart form-data parsing".
package multipart

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pascalcombier/comexe/internal/ioserver/urlencoded"
)

// ErrMalformed marks any deviation from the strict-CRLF part grammar.
var ErrMalformed = errors.New("multipart: malformed")

// Part is one decoded section of a multipart body.
type Part struct {
	Headers     map[string]string // lower-cased header name -> raw value
	Name        string            // Content-Disposition "name" parameter
	Filename    string            // Content-Disposition "filename", empty for non-file parts
	ContentType string
	Value       []byte
}

// IsFile reports whether this part carried a filename (spec.md: "an
// optional filename marks a file part").
func (p Part) IsFile() bool { return p.Filename != "" }

// Result is the parsed body: Parts in wire order plus the convenience
// map spec.md describes ("name->value for non-file, name->part for
// files").
type Result struct {
	Parts []Part
	Form  map[string]any // string for non-file parts, *Part for file parts
}

// Parse decodes body against boundary (without the leading "--").
func Parse(body []byte, boundary string) (Result, error) {
	delim := []byte("--" + boundary)
	res := Result{Form: map[string]any{}}

	if !bytes.HasPrefix(body, delim) {
		return Result{}, fmt.Errorf("%w: body does not start with boundary", ErrMalformed)
	}
	rest := body[len(delim):]
	rest, err := expectCRLF(rest)
	if err != nil {
		return Result{}, err
	}

	for {
		headers, body2, err := readPartHeaders(rest)
		if err != nil {
			return Result{}, err
		}
		value, next, final, err := readPartBody(body2, delim)
		if err != nil {
			return Result{}, err
		}

		cd := urlencoded.ParseHeaderValue(headers["content-disposition"])
		name, _ := cd.Get("name")
		filename, _ := cd.Get("filename")

		part := Part{
			Headers:     headers,
			Name:        name,
			Filename:    filename,
			ContentType: headers["content-type"],
			Value:       value,
		}
		res.Parts = append(res.Parts, part)
		if name != "" {
			if part.IsFile() {
				p := part
				res.Form[name] = &p
			} else {
				res.Form[name] = string(value)
			}
		}

		if final {
			return res, nil
		}
		rest = next
	}
}

// expectCRLF requires b to begin with CRLF and returns the remainder,
// or "--" for the final-boundary case (caller distinguishes).
func expectCRLF(b []byte) ([]byte, error) {
	if bytes.HasPrefix(b, []byte("--")) {
		return b, nil
	}
	if !bytes.HasPrefix(b, []byte("\r\n")) {
		return nil, fmt.Errorf("%w: expected CRLF after boundary", ErrMalformed)
	}
	return b[2:], nil
}

// readPartHeaders consumes "Name: value\r\n" lines up to the blank
// line, returning lower-cased headers and the remaining body bytes.
func readPartHeaders(b []byte) (map[string]string, []byte, error) {
	headers := map[string]string{}
	for {
		i := bytes.Index(b, []byte("\r\n"))
		if i < 0 {
			return nil, nil, fmt.Errorf("%w: unterminated part headers", ErrMalformed)
		}
		line := b[:i]
		b = b[i+2:]
		if len(line) == 0 {
			return headers, b, nil
		}
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			return nil, nil, fmt.Errorf("%w: malformed part header %q", ErrMalformed, line)
		}
		name := bytesToLower(bytes.TrimSpace(line[:colon]))
		value := string(bytes.TrimLeft(line[colon+1:], " "))
		headers[name] = value
	}
}

// readPartBody reads up to the next boundary marker, stripping the
// CRLF that precedes it, and reports whether that boundary was final
// (--boundary--) along with the bytes following it for the next part.
func readPartBody(b []byte, delim []byte) (value, next []byte, final bool, err error) {
	idx := bytes.Index(b, append([]byte("\r\n"), delim...))
	if idx < 0 {
		return nil, nil, false, fmt.Errorf("%w: part not terminated by boundary", ErrMalformed)
	}
	value = b[:idx]
	rest := b[idx+2+len(delim):]

	if bytes.HasPrefix(rest, []byte("--")) {
		return value, nil, true, nil
	}
	rest, err = expectCRLF(rest)
	if err != nil {
		return nil, nil, false, err
	}
	return value, rest, false, nil
}

func bytesToLower(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
