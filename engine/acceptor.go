package engine

import (
	"log/slog"

	"http-connector/engine/poll"
	"http-connector/transport"

	"github.com/pkg/errors"
)

// ServerAcceptor bridges a listening socket into the reactor: each
// read-readiness event accepts as many pending connections as the
// kernel has queued and hands them to the helper's live set.
type ServerAcceptor struct {
	acceptor   transport.Acceptor
	helper     Helper
	controller *Controller
	logger     *slog.Logger

	bufferSize int
}

var _ poll.Listener = (*ServerAcceptor)(nil)

func NewServerAcceptor(helper Helper, controller *Controller, acceptor transport.Acceptor, bufferSize int) *ServerAcceptor {
	return &ServerAcceptor{
		acceptor:   acceptor,
		helper:     helper,
		controller: controller,
		logger:     helper.Logger().With("component", "acceptor"),
		bufferSize: bufferSize,
	}
}

// Register attaches the listening socket to the controller's poller
// with permanent read interest.
func (sa *ServerAcceptor) Register() error {
	err := sa.controller.Poller().Register(sa.acceptor.Fd(), poll.Read, sa)
	return errors.Wrap(err, "registering acceptor")
}

// OnSelected drains the kernel accept queue. While the worker service
// is overloaded no connections are accepted; the backlog stays in the
// kernel and pressure reaches the clients.
func (sa *ServerAcceptor) OnSelected(ready poll.Interest) {
	for {
		if sa.controller.IsOverloaded() {
			return
		}

		socket, err := sa.acceptor.Accept()
		if err != nil {
			if errors.Is(err, transport.ErrWouldBlock) {
				return
			}
			sa.logger.Warn("error while accepting a connection", "error", err)
			return
		}

		conn := NewConnection(sa.helper, socket, sa.bufferSize)
		conn.Open()
		sa.helper.Connections().Add(conn)
		sa.logger.Debug("accepted connection", "remote", socket.RemoteAddr())
	}
}

// Close releases the listening socket.
func (sa *ServerAcceptor) Close() error {
	return errors.Wrap(sa.acceptor.Close(), "closing acceptor")
}
