// Package message implements the HTTP/1.x message model consumed and
// produced by the connector engine: start lines, ordered header fields
// and entity bodies backed by several kinds of data sources.
//
// Reference:
//
// - https://datatracker.ietf.org/doc/html/rfc9110
//
// - https://datatracker.ietf.org/doc/html/rfc9112
package message

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"
)

const (
	CR byte = '\r'
	LF byte = '\n'
	SP byte = ' '
)

// CRLF terminates start lines and field lines on the wire.
var CRLF = []byte{CR, LF}

// [Major, Minor]
type Version [2]uint

// ParseVersion parses http version text(e.g. "HTTP/1.1") into [Version].
func ParseVersion(b []byte) (Version, error) {
	prefix := []byte("HTTP/")
	if !bytes.HasPrefix(b, prefix) {
		return Version{}, errors.Errorf("http version prefix not found: %s", b)
	}

	first, second, found := bytes.Cut(b[len(prefix):], []byte{'.'})
	if !found {
		return Version{}, errors.Errorf("dot seperator not found on version: %s", b)
	}

	major, err1 := strconv.ParseUint(string(first), 10, 64)
	minor, err2 := strconv.ParseUint(string(second), 10, 64)
	if err1 != nil || err2 != nil {
		return Version{}, errors.Errorf("http version is not convertable to int: %s", b)
	}

	return Version{uint(major), uint(minor)}, nil
}

func (ver Version) Text() []byte {
	buf := bytes.NewBuffer(nil)
	buf.Write([]byte("HTTP/"))
	buf.Write([]byte(strconv.FormatUint(uint64(ver[0]), 10)))
	buf.Write([]byte{'.'})
	buf.Write([]byte(strconv.FormatUint(uint64(ver[1]), 10)))
	return buf.Bytes()
}

func (ver Version) String() string { return string(ver.Text()) }

// Message is one request or response to be framed onto, or parsed off,
// a connection. Headers stay mutable until the first byte is written.
type Message interface {
	// StartLine renders the first line of the message without CRLF.
	StartLine() []byte
	Fields() *Headers
	Entity() Entity
	Proto() Version
}

type Request struct {
	Method  string
	Target  string
	Version Version
	Headers Headers

	Body Entity
}

var _ Message = (*Request)(nil)

func (r *Request) StartLine() []byte {
	buf := bytes.NewBuffer(nil)
	buf.WriteString(r.Method)
	buf.WriteByte(SP)
	buf.WriteString(r.Target)
	buf.WriteByte(SP)
	buf.Write(r.Version.Text())
	return buf.Bytes()
}

func (r *Request) Fields() *Headers { return &r.Headers }
func (r *Request) Proto() Version   { return r.Version }

func (r *Request) Entity() Entity {
	if r.Body == nil {
		return nil
	}
	return r.Body
}

type Response struct {
	Version      Version
	StatusCode   int
	ReasonPhrase string
	Headers      Headers

	Body Entity
}

var _ Message = (*Response)(nil)

func (r *Response) StartLine() []byte {
	buf := bytes.NewBuffer(nil)
	buf.Write(r.Version.Text())
	buf.WriteByte(SP)
	buf.WriteString(strconv.Itoa(r.StatusCode))
	buf.WriteByte(SP)
	buf.WriteString(r.ReasonPhrase)
	return buf.Bytes()
}

func (r *Response) Fields() *Headers { return &r.Headers }
func (r *Response) Proto() Version   { return r.Version }

func (r *Response) Entity() Entity {
	if r.Body == nil {
		return nil
	}
	return r.Body
}
