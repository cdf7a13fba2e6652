package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"http-connector/engine/poll"
	"http-connector/message"
	"http-connector/transport"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"
)

type OutboundWayTestSuite struct {
	suite.Suite

	helper *BaseHelper
	clock  *clock.Mock
	socket *transport.StubSocket
	conn   *Connection
}

func TestOutboundWayTestSuite(t *testing.T) {
	suite.Run(t, new(OutboundWayTestSuite))
}

func (s *OutboundWayTestSuite) SetupTest() {
	s.helper, s.clock = newTestHelper(false)
	s.socket = transport.NewStubSocket()
	s.conn = NewConnection(s.helper, s.socket, s.helper.BufferSize())
	s.conn.Open()
	s.helper.Connections().Add(s.conn)
}

func (s *OutboundWayTestSuite) TearDownTest() {
	s.helper.WorkerService().Shutdown()
}

// send queues the message and drives one readiness round.
func (s *OutboundWayTestSuite) send(msg message.Message) {
	ow := s.conn.Outbound()
	ow.QueueMessage(msg)
	ow.UpdateState()
	s.Require().Equal(poll.Write, ow.socketInterest())
	ow.OnSelected(poll.Write)
}

func (s *OutboundWayTestSuite) TestBodylessMessage() {
	s.send(&message.Response{
		Version:      message.Version{1, 1},
		StatusCode:   204,
		ReasonPhrase: "No Content",
	})

	s.Equal("HTTP/1.1 204 No Content\r\n\r\n", string(s.socket.Written()))
	s.True(s.conn.Outbound().isEmpty())
	s.Equal(IoIdle, s.conn.Outbound().IoState())
	s.Equal(ConnectionOpen, s.conn.State())
}

func (s *OutboundWayTestSuite) TestFixedLengthBody() {
	msg := &message.Response{
		Version:      message.Version{1, 1},
		StatusCode:   200,
		ReasonPhrase: "OK",
		Body:         message.NewBufferEntity([]byte("hello")),
	}
	msg.Headers.Add("Content-Type", "text/plain")

	s.send(msg)

	expected := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: 5\r\n" +
		"\r\n" +
		"hello"
	s.Equal(expected, string(s.socket.Written()))
	s.True(s.conn.Outbound().isEmpty())
}

func (s *OutboundWayTestSuite) TestUnknownSizeBodyIsChunked() {
	body := message.NewBufferEntity([]byte("hello"))
	s.send(&message.Response{
		Version:      message.Version{1, 1},
		StatusCode:   200,
		ReasonPhrase: "OK",
		Body:         message.NewStreamEntity(body, message.UnknownSize),
	})

	expected := "HTTP/1.1 200 OK\r\n" +
		"Transfer-Encoding: chunked\r\n" +
		"\r\n" +
		"5\r\nhello\r\n" +
		"0\r\n\r\n"
	s.Equal(expected, string(s.socket.Written()))
	s.True(s.conn.Outbound().isEmpty())
}

func (s *OutboundWayTestSuite) TestFileBody() {
	path := filepath.Join(s.T().TempDir(), "payload")
	s.Require().NoError(os.WriteFile(path, []byte("file contents"), 0o644))

	file, err := os.Open(path)
	s.Require().NoError(err)

	entity, err := message.NewFileEntity(file)
	s.Require().NoError(err)
	defer entity.Close()

	s.send(&message.Response{
		Version:      message.Version{1, 1},
		StatusCode:   200,
		ReasonPhrase: "OK",
		Body:         entity,
	})

	expected := "HTTP/1.1 200 OK\r\n" +
		"Content-Length: 13\r\n" +
		"\r\n" +
		"file contents"
	s.Equal(expected, string(s.socket.Written()))
}

func (s *OutboundWayTestSuite) TestZeroWriteKeepsProgress() {
	s.socket.SetWriteRoom(0)

	s.send(&message.Response{
		Version:      message.Version{1, 1},
		StatusCode:   200,
		ReasonPhrase: "OK",
		Body:         message.NewBufferEntity([]byte("hello")),
	})

	// Nothing moved; the way waits for readiness instead of spinning.
	s.Empty(s.socket.Written())
	ow := s.conn.Outbound()
	s.Equal(IoInterest, ow.IoState())
	s.Equal(poll.Write, ow.socketInterest())

	s.socket.SetWriteRoom(-1)
	ow.OnSelected(poll.Write)

	s.Contains(string(s.socket.Written()), "\r\n\r\nhello")
	s.True(ow.isEmpty())
}

func (s *OutboundWayTestSuite) TestPartialWrites() {
	s.socket.SetWriteRoom(7)

	s.send(&message.Response{
		Version:      message.Version{1, 1},
		StatusCode:   200,
		ReasonPhrase: "OK",
		Body:         message.NewBufferEntity([]byte("hello")),
	})

	expected := "HTTP/1.1 200 OK\r\n" +
		"Content-Length: 5\r\n" +
		"\r\n" +
		"hello"
	s.Equal(expected, string(s.socket.Written()))
	s.True(s.conn.Outbound().isEmpty())
}

func (s *OutboundWayTestSuite) TestQueuedMessagesKeepOrder() {
	ow := s.conn.Outbound()
	ow.QueueMessage(&message.Response{
		Version: message.Version{1, 1}, StatusCode: 200, ReasonPhrase: "OK",
		Body: message.NewBufferEntity([]byte("first")),
	})
	ow.QueueMessage(&message.Response{
		Version: message.Version{1, 1}, StatusCode: 200, ReasonPhrase: "OK",
		Body: message.NewBufferEntity([]byte("second")),
	})

	ow.UpdateState()
	ow.OnSelected(poll.Write)

	// Both messages go out back to back, first one first.
	written := string(s.socket.Written())
	s.Less(strings.Index(written, "first"), strings.Index(written, "second"))
	s.True(ow.isEmpty())
}

func (s *OutboundWayTestSuite) TestAsyncChannelBody() {
	c := make(chan []byte, 1)
	s.send(&message.Response{
		Version:      message.Version{1, 1},
		StatusCode:   200,
		ReasonPhrase: "OK",
		Body:         message.NewChannelEntity(c, message.UnknownSize),
	})

	ow := s.conn.Outbound()

	// Headers go out; the body then starves on the empty channel and the
	// way stops asking for write readiness.
	s.Equal("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n",
		string(s.socket.Written()))
	s.Equal(poll.Interest(0), ow.socketInterest())

	c <- []byte("hi")
	close(c)

	// The controller sweep re-polls the channel.
	ow.UpdateState()
	s.Equal(poll.Write, ow.socketInterest())
	ow.OnSelected(poll.Write)

	s.Equal("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n"+
		"2\r\nhi\r\n0\r\n\r\n",
		string(s.socket.Written()))
	s.True(ow.isEmpty())
}

func (s *OutboundWayTestSuite) TestNonPersistentConnectionCloses() {
	s.conn.SetPersistent(false)

	s.send(&message.Response{
		Version:      message.Version{1, 1},
		StatusCode:   200,
		ReasonPhrase: "OK",
	})

	s.Equal("HTTP/1.1 200 OK\r\nConnection: close\r\n\r\n",
		string(s.socket.Written()))
	s.Equal(ConnectionClosed, s.conn.State())
}

func (s *OutboundWayTestSuite) TestOnSentHook() {
	var sent message.Message
	s.conn.Outbound().OnSent = func(msg message.Message) { sent = msg }

	msg := &message.Response{
		Version: message.Version{1, 1}, StatusCode: 200, ReasonPhrase: "OK",
	}
	s.send(msg)

	s.Same(msg, sent)
}
