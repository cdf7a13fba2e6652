package transport

import (
	"bytes"
	"io"
	"sync"
)

// StubSocket is a scripted in-memory [Socket] for tests. Reads consume
// bytes fed with Feed; writes land in an inspectable buffer and can be
// capped to force partial or zero-length writes.
type StubSocket struct {
	m sync.Mutex

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer

	// writeRoom caps the bytes accepted per Write call.
	// -1 means unlimited.
	writeRoom int

	peerClosed bool
	closed     bool
}

var _ Socket = (*StubSocket)(nil)

func NewStubSocket() *StubSocket {
	return &StubSocket{writeRoom: -1}
}

// Feed appends bytes for subsequent reads.
func (s *StubSocket) Feed(p []byte) {
	s.m.Lock()
	defer s.m.Unlock()
	s.readBuf.Write(p)
}

// ClosePeer marks the remote side as closed: reads return EOF once the
// fed bytes run out.
func (s *StubSocket) ClosePeer() {
	s.m.Lock()
	defer s.m.Unlock()
	s.peerClosed = true
}

// SetWriteRoom caps the bytes accepted by each following Write call.
// Zero room makes writes report [ErrWouldBlock]; -1 lifts the cap.
func (s *StubSocket) SetWriteRoom(n int) {
	s.m.Lock()
	defer s.m.Unlock()
	s.writeRoom = n
}

// Written returns everything written so far.
func (s *StubSocket) Written() []byte {
	s.m.Lock()
	defer s.m.Unlock()
	return bytes.Clone(s.writeBuf.Bytes())
}

func (s *StubSocket) Read(p []byte) (int, error) {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return 0, ErrSocketClosed
	}
	if s.readBuf.Len() == 0 {
		if s.peerClosed {
			return 0, io.EOF
		}
		return 0, ErrWouldBlock
	}

	return s.readBuf.Read(p)
}

func (s *StubSocket) Write(p []byte) (int, error) {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return 0, ErrSocketClosed
	}
	if s.writeRoom == 0 {
		return 0, ErrWouldBlock
	}
	if s.writeRoom > 0 && len(p) > s.writeRoom {
		p = p[:s.writeRoom]
	}

	return s.writeBuf.Write(p)
}

func (s *StubSocket) Fd() int { return -1 }

func (s *StubSocket) Close() error {
	s.m.Lock()
	defer s.m.Unlock()
	s.closed = true
	return nil
}

func (s *StubSocket) RemoteAddr() string { return "stub" }
