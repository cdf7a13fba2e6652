// Package transport provides the non-blocking socket abstraction the
// connector engine drives through its readiness poller.
package transport

import "github.com/pkg/errors"

var (
	// ErrWouldBlock is returned by reads with no buffered bytes and by
	// writes when the kernel send buffer is full.
	ErrWouldBlock = errors.New("operation would block")

	ErrSocketClosed = errors.New("socket is closed")
)

// Socket is one endpoint in non-blocking mode. All calls return
// immediately; readiness is observed through the poller, never by
// blocking in Read or Write.
type Socket interface {
	// Read fills p with buffered bytes. It returns [ErrWouldBlock] when
	// nothing is available and [io.EOF] once the peer has closed.
	Read(p []byte) (n int, err error)

	// Write sends as much of p as the kernel accepts. It returns
	// [ErrWouldBlock] when not a single byte could be written.
	Write(p []byte) (n int, err error)

	// Fd returns the descriptor used for poller registration.
	Fd() int

	Close() error

	RemoteAddr() string
}

// Acceptor produces sockets from inbound connection attempts.
// Accept must not block: it returns [ErrWouldBlock] when the backlog
// is empty.
type Acceptor interface {
	Accept() (Socket, error)
	Fd() int
	Close() error
}
