package transport

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubSocketRead(t *testing.T) {
	s := NewStubSocket()

	p := make([]byte, 8)
	_, err := s.Read(p)
	assert.ErrorIs(t, err, ErrWouldBlock)

	s.Feed([]byte("hello"))
	n, err := s.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), p[:n])

	_, err = s.Read(p)
	assert.ErrorIs(t, err, ErrWouldBlock)

	// EOF only after the fed bytes run out.
	s.Feed([]byte("bye"))
	s.ClosePeer()

	n, err = s.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []byte("bye"), p[:n])

	_, err = s.Read(p)
	assert.ErrorIs(t, err, io.EOF)
}

func TestStubSocketWrite(t *testing.T) {
	s := NewStubSocket()

	n, err := s.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	s.SetWriteRoom(0)
	_, err = s.Write([]byte("more"))
	assert.ErrorIs(t, err, ErrWouldBlock)

	s.SetWriteRoom(2)
	n, err = s.Write([]byte("more"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, []byte("hellomo"), s.Written())
}

func TestStubSocketClose(t *testing.T) {
	s := NewStubSocket()
	require.NoError(t, s.Close())

	_, err := s.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrSocketClosed)
	_, err = s.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrSocketClosed)
}
