package message

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"
)

// OWS characters around field values.
var OWS = []byte{SP, '\t'}

type Field struct{ Name, Value []byte }

// ParseField parses a single field line (without CRLF) into [Field].
func ParseField(fieldLine []byte) (Field, error) {
	name, value, found := bytes.Cut(fieldLine, []byte{':'})
	if !found {
		return Field{}, errors.Errorf("colon seperator not found on header: %q", string(fieldLine))
	}

	// No whitespace is allowed between field name and colon.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-5.1-2
	if n := len(name); n > 0 && bytes.ContainsAny(name[n-1:], string(OWS)) {
		return Field{}, errors.New("field name has trailing whitespace")
	}

	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-5.1-3
	value = bytes.Trim(value, string(OWS))

	return Field{Name: name, Value: value}, nil
}

func (f *Field) Text() []byte {
	buf := bytes.NewBuffer(nil)
	buf.Write(f.Name)
	buf.Write([]byte(": "))
	buf.Write(f.Value)
	return buf.Bytes()
}

// Headers is an ordered, mutable collection of field lines.
// Insertion order is preserved on the wire; name matching is
// case-insensitive per RFC 9110.
type Headers struct{ fields []Field }

func NewHeaders(fields []Field) Headers {
	return Headers{fields: fields}
}

func (h *Headers) Len() int { return len(h.fields) }

// At returns the i-th field in insertion order.
func (h *Headers) At(i int) Field { return h.fields[i] }

func (h *Headers) Get(name string) (value string, ok bool) {
	for _, f := range h.fields {
		if strings.EqualFold(string(f.Name), name) {
			return string(f.Value), true
		}
	}
	return "", false
}

// Set replaces the first field with the given name in place,
// or appends a new one. Later duplicates are removed.
func (h *Headers) Set(name, value string) {
	replaced := false
	kept := h.fields[:0]
	for _, f := range h.fields {
		if strings.EqualFold(string(f.Name), name) {
			if replaced {
				continue
			}
			f.Value = []byte(value)
			replaced = true
		}
		kept = append(kept, f)
	}
	h.fields = kept

	if !replaced {
		h.Add(name, value)
	}
}

func (h *Headers) Add(name, value string) {
	h.fields = append(h.fields, Field{Name: []byte(name), Value: []byte(value)})
}

func (h *Headers) Del(name string) {
	kept := h.fields[:0]
	for _, f := range h.fields {
		if strings.EqualFold(string(f.Name), name) {
			continue
		}
		kept = append(kept, f)
	}
	h.fields = kept
}

// Values returns every value of the given name in insertion order.
func (h *Headers) Values(name string) (values []string) {
	for _, f := range h.fields {
		if strings.EqualFold(string(f.Name), name) {
			values = append(values, string(f.Value))
		}
	}
	return values
}
