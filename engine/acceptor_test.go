package engine

import (
	"testing"

	"http-connector/engine/poll"
	"http-connector/transport"

	"github.com/stretchr/testify/suite"
)

type stubAcceptor struct {
	pending []transport.Socket
	closed  bool
}

var _ transport.Acceptor = (*stubAcceptor)(nil)

func (a *stubAcceptor) Accept() (transport.Socket, error) {
	if len(a.pending) == 0 {
		return nil, transport.ErrWouldBlock
	}
	socket := a.pending[0]
	a.pending = a.pending[1:]
	return socket, nil
}

func (a *stubAcceptor) Fd() int { return 100 }

func (a *stubAcceptor) Close() error {
	a.closed = true
	return nil
}

type ServerAcceptorTestSuite struct {
	suite.Suite

	helper     *BaseHelper
	poller     *fakePoller
	controller *Controller
	listener   *stubAcceptor
	acceptor   *ServerAcceptor
}

func TestServerAcceptorTestSuite(t *testing.T) {
	suite.Run(t, new(ServerAcceptorTestSuite))
}

func (s *ServerAcceptorTestSuite) SetupTest() {
	s.helper, _ = newTestHelper(false)
	s.poller = newFakePoller()
	s.controller = newTestController(s.helper, s.poller)
	s.listener = &stubAcceptor{}
	s.acceptor = NewServerAcceptor(s.helper, s.controller, s.listener, s.helper.BufferSize())
}

func (s *ServerAcceptorTestSuite) TearDownTest() {
	s.helper.WorkerService().Shutdown()
}

func (s *ServerAcceptorTestSuite) TestRegister() {
	s.Require().NoError(s.acceptor.Register())

	interest, ok := s.poller.registered[s.listener.Fd()]
	s.True(ok)
	s.Equal(poll.Read, interest)
}

func (s *ServerAcceptorTestSuite) TestAcceptDrainsBacklog() {
	s.listener.pending = []transport.Socket{
		transport.NewStubSocket(),
		transport.NewStubSocket(),
	}

	s.acceptor.OnSelected(poll.Read)

	s.Equal(2, s.helper.Connections().Len())
	for _, conn := range s.helper.Connections().Snapshot() {
		s.Equal(ConnectionOpen, conn.State())
	}
}

func (s *ServerAcceptorTestSuite) TestOverloadStopsAccepting() {
	s.listener.pending = []transport.Socket{transport.NewStubSocket()}
	s.controller.overloaded.Store(true)

	s.acceptor.OnSelected(poll.Read)

	// The backlog stays with the kernel while the workers catch up.
	s.Equal(0, s.helper.Connections().Len())
	s.Len(s.listener.pending, 1)
}

func (s *ServerAcceptorTestSuite) TestClose() {
	s.Require().NoError(s.acceptor.Close())
	s.True(s.listener.closed)
}
