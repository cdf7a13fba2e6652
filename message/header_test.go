package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseField(t *testing.T) {
	testcases := []struct {
		desc     string
		input    []byte
		expected Field
		wantErr  bool
	}{
		{
			desc:     "plain field",
			input:    []byte("Host: example.com"),
			expected: Field{Name: []byte("Host"), Value: []byte("example.com")},
		},
		{
			desc:     "no space after colon",
			input:    []byte("Host:example.com"),
			expected: Field{Name: []byte("Host"), Value: []byte("example.com")},
		},
		{
			desc:     "surrounding whitespace trimmed",
			input:    []byte("Host: \texample.com \t"),
			expected: Field{Name: []byte("Host"), Value: []byte("example.com")},
		},
		{
			desc:     "interleaved tabs and spaces trimmed",
			input:    []byte("Host:\t \texample.com\t \t"),
			expected: Field{Name: []byte("Host"), Value: []byte("example.com")},
		},
		{
			desc:    "missing colon",
			input:   []byte("Host example.com"),
			wantErr: true,
		},
		{
			desc:    "whitespace before colon",
			input:   []byte("Host : example.com"),
			wantErr: true,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			field, err := ParseField(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}

			assert.Equal(t, tc.expected, field)
		})
	}
}

func TestFieldText(t *testing.T) {
	field := Field{Name: []byte("Content-Type"), Value: []byte("text/plain")}
	assert.Equal(t, []byte("Content-Type: text/plain"), field.Text())
}

func TestHeadersOrder(t *testing.T) {
	var h Headers
	h.Add("B", "2")
	h.Add("A", "1")
	h.Add("C", "3")

	assert.Equal(t, 3, h.Len())
	assert.Equal(t, []byte("B"), h.At(0).Name)
	assert.Equal(t, []byte("A"), h.At(1).Name)
	assert.Equal(t, []byte("C"), h.At(2).Name)
}

func TestHeadersGet(t *testing.T) {
	var h Headers
	h.Add("Content-Type", "text/plain")

	value, ok := h.Get("content-type")
	assert.True(t, ok)
	assert.Equal(t, "text/plain", value)

	_, ok = h.Get("Content-Length")
	assert.False(t, ok)
}

func TestHeadersSet(t *testing.T) {
	t.Run("replaces in place", func(t *testing.T) {
		var h Headers
		h.Add("A", "1")
		h.Add("B", "2")

		h.Set("a", "10")

		assert.Equal(t, 2, h.Len())
		assert.Equal(t, []byte("A"), h.At(0).Name)
		assert.Equal(t, []byte("10"), h.At(0).Value)
	})

	t.Run("removes later duplicates", func(t *testing.T) {
		var h Headers
		h.Add("A", "1")
		h.Add("B", "2")
		h.Add("A", "3")

		h.Set("A", "10")

		assert.Equal(t, 2, h.Len())
		assert.Equal(t, []string{"10"}, h.Values("A"))
	})

	t.Run("appends when absent", func(t *testing.T) {
		var h Headers
		h.Set("A", "1")

		assert.Equal(t, 1, h.Len())
	})
}

func TestHeadersDel(t *testing.T) {
	var h Headers
	h.Add("A", "1")
	h.Add("B", "2")
	h.Add("a", "3")

	h.Del("A")

	assert.Equal(t, 1, h.Len())
	assert.Equal(t, []byte("B"), h.At(0).Name)
}

func TestHeadersValues(t *testing.T) {
	var h Headers
	h.Add("Accept", "text/html")
	h.Add("Host", "example.com")
	h.Add("accept", "text/plain")

	assert.Equal(t, []string{"text/html", "text/plain"}, h.Values("Accept"))
	assert.Nil(t, h.Values("Missing"))
}
