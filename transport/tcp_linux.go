//go:build linux

package transport

import (
	"io"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// TCPSocket is a non-blocking TCP endpoint over a raw file descriptor.
type TCPSocket struct {
	fd     int
	remote string
}

var _ Socket = (*TCPSocket)(nil)

// Dial opens a non-blocking connection to addr ("host:port").
// The connection may still be in progress when Dial returns; the first
// write readiness event signals completion.
func Dial(addr string) (*TCPSocket, error) {
	sa, family, err := resolveSockaddr(addr)
	if err != nil {
		return nil, errors.Wrap(err, "resolving address")
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "opening socket")
	}

	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, errors.Wrap(err, "connecting")
	}

	return &TCPSocket{fd: fd, remote: addr}, nil
}

func newTCPSocket(fd int, remote string) *TCPSocket {
	return &TCPSocket{fd: fd, remote: remote}
}

func (s *TCPSocket) Read(p []byte) (int, error) {
	n, err := unix.Read(s.fd, p)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, ErrWouldBlock
		}
		return 0, errors.Wrap(err, "reading socket")
	}
	if n == 0 && len(p) > 0 {
		// Peer closed its write side.
		return 0, io.EOF
	}
	return n, nil
}

func (s *TCPSocket) Write(p []byte) (int, error) {
	n, err := unix.Write(s.fd, p)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, ErrWouldBlock
		}
		return 0, errors.Wrap(err, "writing socket")
	}
	return n, nil
}

func (s *TCPSocket) Fd() int { return s.fd }

func (s *TCPSocket) Close() error {
	if err := unix.Close(s.fd); err != nil {
		return errors.Wrap(err, "closing socket")
	}
	return nil
}

func (s *TCPSocket) RemoteAddr() string { return s.remote }

// TCPAcceptor listens for inbound connections in non-blocking mode.
type TCPAcceptor struct {
	fd   int
	addr string
}

var _ Acceptor = (*TCPAcceptor)(nil)

func Listen(addr string) (*TCPAcceptor, error) {
	sa, family, err := resolveSockaddr(addr)
	if err != nil {
		return nil, errors.Wrap(err, "resolving address")
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "opening socket")
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "setting SO_REUSEADDR")
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "binding")
	}

	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "listening")
	}

	return &TCPAcceptor{fd: fd, addr: addr}, nil
}

func (a *TCPAcceptor) Accept() (Socket, error) {
	fd, sa, err := unix.Accept4(a.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN {
			return nil, ErrWouldBlock
		}
		return nil, errors.Wrap(err, "accepting")
	}

	return newTCPSocket(fd, sockaddrString(sa)), nil
}

func (a *TCPAcceptor) Fd() int { return a.fd }

func (a *TCPAcceptor) Close() error {
	if err := unix.Close(a.fd); err != nil {
		return errors.Wrap(err, "closing listen socket")
	}
	return nil
}

func resolveSockaddr(addr string) (unix.Sockaddr, int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, 0, err
	}

	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}

	sa := &unix.SockaddrInet6{Port: tcpAddr.Port}
	copy(sa.Addr[:], tcpAddr.IP.To16())
	return sa, unix.AF_INET6, nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return (&net.TCPAddr{IP: sa.Addr[:], Port: sa.Port}).String()
	case *unix.SockaddrInet6:
		return (&net.TCPAddr{IP: sa.Addr[:], Port: sa.Port}).String()
	}
	return ""
}
