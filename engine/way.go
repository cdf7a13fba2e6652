package engine

import (
	"bytes"
	"log/slog"

	"http-connector/engine/poll"
	"http-connector/message"
)

// way holds the bookkeeping shared by both pump directions: the byte
// buffer with its explicit fill/drain orientation, the line builder
// accumulating textual framing, and the two state machines. The
// concrete directions share this layout but not their control flow.
//
// All fields are touched by the reactor goroutine only; a completed
// message is published to worker goroutines and treated as read-only
// from then on.
type way struct {
	conn   *Connection
	logger *slog.Logger

	// buffer[drained:filled] holds pending bytes. Capacity is fixed at
	// construction; orientation flips between filling and draining
	// instead of hiding the cycle behind an allocating abstraction.
	buffer   []byte
	filled   int
	drained  int
	draining bool

	lineBuilder bytes.Buffer

	ioState      IoState
	messageState MessageState
	msg          message.Message
}

func newWay(conn *Connection, bufferSize int, logger *slog.Logger) way {
	return way{
		conn:         conn,
		logger:       logger,
		buffer:       make([]byte, bufferSize),
		messageState: MessageDone,
	}
}

// IoState returns the current readiness state of the way.
func (w *way) IoState() IoState { return w.ioState }

// MessageState returns the framing progress of the current message.
func (w *way) MessageState() MessageState { return w.messageState }

// Message returns the currently attached message, if any.
func (w *way) Message() message.Message { return w.msg }

// attach binds the next message and rewinds framing to the start line.
func (w *way) attach(msg message.Message) {
	w.msg = msg
	w.messageState = MessageStart
}

// free reports the space left in filling orientation.
func (w *way) free() int { return len(w.buffer) - w.filled }

// pending reports the bytes not yet consumed in draining orientation.
func (w *way) pending() int { return w.filled - w.drained }

// flip turns the buffer from filling to draining orientation.
func (w *way) flip() {
	w.draining = true
	w.drained = 0
}

// unflip restores filling orientation without losing pending bytes.
// Used when a write moved nothing and the way must wait for readiness.
func (w *way) unflip() {
	w.draining = false
	w.drained = 0
}

// compact moves the unconsumed remainder to the front and returns the
// buffer to filling orientation.
func (w *way) compact() {
	n := copy(w.buffer, w.buffer[w.drained:w.filled])
	w.filled = n
	w.drained = 0
	w.draining = false
}

// reset empties the buffer entirely, back to filling orientation.
func (w *way) reset() {
	w.filled = 0
	w.drained = 0
	w.draining = false
}

type wayDirection interface {
	poll.Listener

	// UpdateState decides whether the way wants a readiness event,
	// flipping IoIdle to IoInterest when work became available.
	UpdateState()

	// socketInterest reports the readiness kind the way waits for.
	socketInterest() poll.Interest
}
