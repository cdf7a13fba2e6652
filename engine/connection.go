package engine

import (
	"log/slog"
	"time"

	"http-connector/engine/poll"
	"http-connector/transport"
)

// Connection owns one socket and its two directional pumps. Lifecycle
// state only moves forward; the controller sweep reclaims it once it
// reaches [ConnectionClosed].
type Connection struct {
	socket transport.Socket
	helper Helper
	logger *slog.Logger

	state        ConnectionState
	persistent   bool
	lastActivity time.Time

	inbound  *InboundWay
	outbound *OutboundWay

	poller      poll.Poller
	registered  bool
	registerOps poll.Interest
}

var _ poll.Listener = (*Connection)(nil)

// NewConnection wraps an accepted or dialed socket. The way buffers
// are allocated once here and reused for every message.
func NewConnection(helper Helper, socket transport.Socket, bufferSize int) *Connection {
	c := &Connection{
		socket:       socket,
		helper:       helper,
		logger:       helper.Logger().With("conn", socket.RemoteAddr()),
		state:        ConnectionOpening,
		persistent:   true,
		lastActivity: helper.Clock().Now(),
	}
	c.inbound = newInboundWay(c, bufferSize)
	c.outbound = newOutboundWay(c, bufferSize)
	return c
}

func (c *Connection) State() ConnectionState  { return c.state }
func (c *Connection) Inbound() *InboundWay    { return c.inbound }
func (c *Connection) Outbound() *OutboundWay  { return c.outbound }
func (c *Connection) Socket() transport.Socket { return c.socket }

func (c *Connection) IsPersistent() bool { return c.persistent }

// SetPersistent marks whether the connection outlives the current
// exchange. A non-persistent connection gets a "Connection: close"
// header on its outbound messages.
func (c *Connection) SetPersistent(persistent bool) { c.persistent = persistent }

// Open marks the socket as fully established.
func (c *Connection) Open() {
	if c.state == ConnectionOpening {
		c.state = ConnectionOpen
	}
}

// OnSelected fans a readiness event out to the matching way.
func (c *Connection) OnSelected(ready poll.Interest) {
	if c.state == ConnectionClosed {
		return
	}
	c.Open()

	if ready.Has(poll.Read) {
		c.inbound.OnSelected(ready)
	}
	if ready.Has(poll.Write) {
		c.outbound.OnSelected(ready)
	}
}

// RegisterInterest refreshes both ways' desired readiness with the
// poller. Called by the controller once per cycle; a closed connection
// is never re-registered.
func (c *Connection) RegisterInterest(p poll.Poller) {
	if c.state == ConnectionClosed {
		return
	}

	c.inbound.UpdateState()
	c.outbound.UpdateState()

	ops := c.inbound.socketInterest() | c.outbound.socketInterest()

	if !c.registered {
		if err := p.Register(c.socket.Fd(), ops, c); err != nil {
			c.logger.Warn("unable to register socket interest", "error", err)
			c.OnError(err)
			return
		}
		c.poller = p
		c.registered = true
		c.registerOps = ops
	} else if ops != c.registerOps {
		if err := p.Update(c.socket.Fd(), ops); err != nil {
			c.logger.Warn("unable to update socket interest", "error", err)
			c.OnError(err)
			return
		}
		c.registerOps = ops
	}

	c.outbound.registerEntityInterest(p)
}

// IsEmpty reports whether the outbound side has nothing left to send.
func (c *Connection) IsEmpty() bool { return c.outbound.isEmpty() }

// HasTimedOut reports whether the connection exceeded the helper's
// idle threshold without any IO activity.
func (c *Connection) HasTimedOut() bool {
	maxIdle := c.helper.MaxIOIdleTime()
	if maxIdle <= 0 {
		return false
	}
	return c.helper.Clock().Now().Sub(c.lastActivity) > maxIdle
}

// touch records IO activity for the idle-timeout sweep.
func (c *Connection) touch() {
	c.lastActivity = c.helper.Clock().Now()
}

// Close tears the connection down. A graceful close with unsent
// outbound bytes only moves to [ConnectionClosing]; the controller
// sweep finishes the close once the outbound buffer drains.
func (c *Connection) Close(graceful bool) {
	if c.state == ConnectionClosed {
		return
	}

	if graceful && !c.IsEmpty() {
		c.state = ConnectionClosing
		return
	}

	c.state = ConnectionClosed
	c.inbound.ioState = IoCancelling
	c.outbound.ioState = IoCancelling

	if c.registered && c.poller != nil {
		if err := c.poller.Unregister(c.socket.Fd()); err != nil {
			c.logger.Debug("error while unregistering socket", "error", err)
		}
		c.registered = false
	}

	if err := c.socket.Close(); err != nil {
		c.logger.Debug("error while closing socket", "error", err)
	}
}

// OnError converts a low-level failure into a connection teardown.
// Errors never propagate past the connection scope.
func (c *Connection) OnError(err error) {
	c.logger.Warn("closing connection on error", "error", err)
	c.Close(false)
}
