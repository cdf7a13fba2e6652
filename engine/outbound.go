package engine

import (
	"fmt"
	"io"
	"strconv"

	"http-connector/engine/poll"
	"http-connector/message"
	"http-connector/transport"

	"github.com/pkg/errors"
)

// lastChunk terminates a chunked entity.
var lastChunk = []byte("0\r\n\r\n")

// chunkOverhead reserves buffer room for a chunk-size line and the two
// CRLFs around one chunk.
const chunkOverhead = 16

// OutboundWay serializes one message at a time onto the socket without
// ever blocking the reactor goroutine. Messages queued on the same
// connection are sent strictly in attachment order.
type OutboundWay struct {
	way

	messages *MessageQueue

	// OnSent, if set, is invoked after a message has been fully
	// written and the way reset.
	OnSent func(message.Message)

	headers     *message.Headers
	headerIndex int
	entityIndex int64

	entityType EntityType
	stream     io.Reader
	avail      func() int
	file       *message.FileEntity
	channel    *message.ChannelEntity

	chunked   bool
	entityEOF bool

	// entityWait is set while an async channel entity has no data; the
	// way then wants no write readiness (the socket is writable, there
	// is just nothing to write yet).
	entityWait  bool
	channelDone bool
	pendingData []byte

	scratch []byte

	entityFd         int
	entityRegistered bool
}

var _ wayDirection = (*OutboundWay)(nil)

func newOutboundWay(conn *Connection, bufferSize int) *OutboundWay {
	return &OutboundWay{
		way:      newWay(conn, bufferSize, conn.logger.With("way", "outbound")),
		messages: NewMessageQueue(),
		scratch:  make([]byte, bufferSize),
	}
}

// QueueMessage appends a message to this connection's outbound order.
func (ow *OutboundWay) QueueMessage(msg message.Message) {
	ow.messages.Push(msg)
}

// UpdateState attaches the next queued message when the way is idle
// and re-polls a starved entity channel.
func (ow *OutboundWay) UpdateState() {
	if ow.entityWait {
		ow.pollEntityChannel()
	}

	if ow.ioState == IoIdle && ow.msg == nil {
		if next, ok := ow.messages.Peek(); ok {
			ow.attach(next)
			ow.ioState = IoInterest
		}
	}
}

func (ow *OutboundWay) socketInterest() poll.Interest {
	if ow.ioState == IoInterest && !ow.entityWait {
		return poll.Write
	}
	return 0
}

// OnSelected is the write-readiness callback. A level-triggered event
// can arrive before the sweep refreshed interest, so a queued message
// is attached first.
func (ow *OutboundWay) OnSelected(ready poll.Interest) {
	ow.UpdateState()
	if ow.ioState == IoInterest {
		ow.ioState = IoProcessing
	}
	if ow.msg == nil {
		ow.ioState = IoIdle
		return
	}

	if err := ow.pump(); err != nil {
		// Two levels: a concise line and the full stack for diggers.
		// The connection is torn down through its own error path; the
		// reactor keeps running.
		ow.logger.Warn("error while writing an HTTP message", "error", err.Error())
		ow.logger.Info("error while writing an HTTP message", "error", fmt.Sprintf("%+v", err))
		ow.conn.Close(false)
	}
}

// pump alternates the filling and draining phases while the way stays
// in [IoProcessing].
func (ow *OutboundWay) pump() error {
	for ow.ioState == IoProcessing {
		if ow.draining {
			if err := ow.drain(); err != nil {
				return err
			}
			continue
		}

		if err := ow.fill(); err != nil {
			return err
		}

		if ow.filled > 0 {
			ow.flip()
			continue
		}

		if ow.msg != nil && ow.messageState == MessageBody {
			// Body source is dry. Wait for entity data instead of
			// spinning on an always-writable socket.
			ow.ioState = IoInterest
			return nil
		}

		return nil
	}
	return nil
}

// fill grows the buffer with framing output until it is full or no
// more content is immediately available.
func (ow *OutboundWay) fill() error {
	for ow.free() > 0 {
		if ow.lineBuilder.Len() > 0 {
			ow.moveLine()
			continue
		}

		switch ow.messageState {
		case MessageStart, MessageHeaders:
			if err := ow.writeLine(); err != nil {
				return err
			}
		case MessageBody:
			made, err := ow.fillBody()
			if err != nil {
				return err
			}
			if made == 0 {
				return nil
			}
		default:
			return nil
		}
	}
	return nil
}

// moveLine copies as much of the line builder as fits into the buffer.
func (ow *OutboundWay) moveLine() {
	line := ow.lineBuilder.Bytes()
	n := copy(ow.buffer[ow.filled:], line)
	ow.filled += n
	ow.lineBuilder.Next(n)
}

// writeLine emits the next framing line into the line builder and
// advances the message state machine.
func (ow *OutboundWay) writeLine() error {
	switch ow.messageState {
	case MessageStart:
		ow.lineBuilder.Write(ow.msg.StartLine())
		ow.lineBuilder.Write(message.CRLF)
		ow.messageState = MessageHeaders

	case MessageHeaders:
		if ow.headers == nil {
			ow.headers = ow.materializeHeaders()
			ow.headerIndex = 0
		}

		if ow.headerIndex < ow.headers.Len() {
			field := ow.headers.At(ow.headerIndex)
			ow.lineBuilder.Write(field.Text())
			ow.lineBuilder.Write(message.CRLF)
			ow.headerIndex++
			return nil
		}

		// Blank line ends the header block.
		ow.lineBuilder.Write(message.CRLF)

		entity := ow.msg.Entity()
		if entity == nil || entity.Size() == 0 {
			ow.messageState = MessageDone
			return nil
		}

		if err := ow.selectEntityType(entity); err != nil {
			return err
		}
		ow.messageState = MessageBody
	}
	return nil
}

// materializeHeaders builds the full header set exactly once per
// message: general headers, then the message's own fields, then the
// entity headers. The message's fields must not mutate afterwards.
func (ow *OutboundWay) materializeHeaders() *message.Headers {
	headers := &message.Headers{}

	if !ow.conn.IsPersistent() {
		headers.Set("Connection", "close")
	}

	entity := ow.msg.Entity()
	if entity != nil && entity.Size() == message.UnknownSize {
		headers.Add("Transfer-Encoding", "chunked")
		ow.chunked = true
	}

	fields := ow.msg.Fields()
	for i := 0; i < fields.Len(); i++ {
		field := fields.At(i)
		headers.Add(string(field.Name), string(field.Value))
	}

	if entity != nil && entity.Size() > 0 {
		headers.Set("Content-Length", strconv.FormatInt(entity.Size(), 10))
	}

	return headers
}

// selectEntityType fixes the body read strategy for this message.
func (ow *OutboundWay) selectEntityType(entity message.Entity) error {
	switch e := entity.(type) {
	case *message.FileEntity:
		ow.file = e
		ow.entityType = EntityFile
	case *message.ChannelEntity:
		ow.channel = e
		ow.entityType = EntityAsyncChannel
	case *message.BufferEntity:
		ow.stream = e
		ow.avail = e.Available
		ow.entityType = EntityStream
	case *message.StreamEntity:
		ow.stream = e
		if e.Available() >= 0 {
			ow.avail = e.Available
			ow.entityType = EntityStream
		} else {
			ow.entityType = EntitySyncChannel
		}
	default:
		r, ok := entity.(io.Reader)
		if !ok {
			return errors.Errorf("entity %T is not readable", entity)
		}
		ow.stream = r
		ow.entityType = EntitySyncChannel
	}
	return nil
}

// fillBody streams entity bytes into the buffer according to the
// selected strategy, framing them as chunks when the size is unknown.
// It reports how many buffer bytes it produced.
func (ow *OutboundWay) fillBody() (int, error) {
	if ow.chunked {
		return ow.fillChunked()
	}

	n, end, err := ow.readEntity(ow.buffer[ow.filled:])
	if err != nil {
		return 0, err
	}
	ow.filled += n
	ow.entityIndex += int64(n)

	size := ow.msg.Entity().Size()
	if end || (size >= 0 && ow.entityIndex >= size) {
		ow.messageState = MessageDone
	}
	return n, nil
}

func (ow *OutboundWay) fillChunked() (int, error) {
	made := 0

	if !ow.entityEOF && ow.free() > chunkOverhead {
		max := ow.free() - chunkOverhead
		if max > len(ow.scratch) {
			max = len(ow.scratch)
		}

		n, end, err := ow.readEntity(ow.scratch[:max])
		if err != nil {
			return made, err
		}
		if n > 0 {
			header := strconv.AppendUint(nil, uint64(n), 16)
			header = append(header, message.CRLF...)

			made += copy(ow.buffer[ow.filled:], header)
			ow.filled += len(header)
			made += copy(ow.buffer[ow.filled:], ow.scratch[:n])
			ow.filled += n
			made += copy(ow.buffer[ow.filled:], message.CRLF)
			ow.filled += 2

			ow.entityIndex += int64(n)
		}
		if end {
			ow.entityEOF = true
		}
	}

	if ow.entityEOF && ow.free() >= len(lastChunk) {
		made += copy(ow.buffer[ow.filled:], lastChunk)
		ow.filled += len(lastChunk)
		ow.messageState = MessageDone
	}

	return made, nil
}

// readEntity copies the next entity bytes into p without blocking the
// reactor where the source allows it. end reports source exhaustion.
func (ow *OutboundWay) readEntity(p []byte) (n int, end bool, err error) {
	switch ow.entityType {
	case EntityStream:
		available := ow.avail()
		if available <= 0 {
			return 0, true, nil
		}
		if available < len(p) {
			p = p[:available]
		}
		n, err = ow.stream.Read(p)
		if err == io.EOF {
			return n, true, nil
		}
		return n, false, errors.Wrap(err, "reading entity stream")

	case EntitySyncChannel:
		// TODO: offload reads of availability-less sources to the
		// worker service so a slow source cannot stall the reactor.
		n, err = ow.stream.Read(p)
		if err == io.EOF {
			return n, true, nil
		}
		return n, false, errors.Wrap(err, "reading entity source")

	case EntityFile:
		n, err = ow.file.ReadAt(p, ow.entityIndex)
		if err == io.EOF {
			return n, true, nil
		}
		return n, false, errors.Wrap(err, "reading entity file")

	case EntityAsyncChannel:
		if len(ow.pendingData) == 0 && !ow.channelDone {
			b, ok, done := ow.channel.TryRecv()
			switch {
			case ok:
				ow.pendingData = b
			case done:
				ow.channelDone = true
			default:
				ow.entityWait = true
				return 0, false, nil
			}
		}
		if len(ow.pendingData) > 0 {
			n = copy(p, ow.pendingData)
			ow.pendingData = ow.pendingData[n:]
			return n, false, nil
		}
		return 0, true, nil
	}

	return 0, false, errors.Errorf("no read strategy selected (%s)", ow.entityType)
}

// drain flips the buffer and writes it to the socket.
func (ow *OutboundWay) drain() error {
	n, err := ow.conn.socket.Write(ow.buffer[ow.drained:ow.filled])
	if err != nil {
		if !errors.Is(err, transport.ErrWouldBlock) {
			return errors.Wrap(err, "writing to socket")
		}
		n = 0
	}

	if n == 0 {
		// Kernel send buffer is full. Back to filling orientation and
		// wait for the next write-readiness event; never spin.
		ow.unflip()
		ow.ioState = IoInterest
		return nil
	}

	ow.conn.touch()
	ow.drained += n

	if ow.pending() > 0 {
		// Partial write: keep the remainder at the front for the next
		// filling phase.
		ow.compact()
		return nil
	}

	ow.reset()
	if ow.messageState == MessageDone {
		ow.onCompleted()
	}
	return nil
}

// onCompleted clears the message and every progress index so the way
// serves the connection's next message without reallocation.
func (ow *OutboundWay) onCompleted() {
	sent := ow.msg

	ow.msg = nil
	ow.headers = nil
	ow.headerIndex = 0
	ow.entityIndex = 0
	ow.entityType = EntityNone
	ow.stream = nil
	ow.avail = nil
	ow.file = nil
	ow.channel = nil
	ow.chunked = false
	ow.entityEOF = false
	ow.entityWait = false
	ow.channelDone = false
	ow.pendingData = nil
	ow.lineBuilder.Reset()
	ow.ioState = IoIdle

	ow.messages.Poll()

	ow.logger.Debug("outbound message sent")

	if ow.OnSent != nil {
		ow.OnSent(sent)
	}

	if !ow.conn.IsPersistent() {
		ow.conn.Close(true)
		return
	}

	// Keep pumping if another message is already queued.
	if next, ok := ow.messages.Peek(); ok {
		ow.attach(next)
		ow.ioState = IoProcessing
	}
}

// isEmpty reports that nothing remains to be written on this way.
func (ow *OutboundWay) isEmpty() bool {
	return ow.msg == nil && ow.filled == 0 && ow.messages.Len() == 0
}

// pollEntityChannel re-checks a starved entity channel. Producers are
// expected to call [Controller.Wakeup] after sending so the check runs
// promptly instead of waiting out the controller sleep.
func (ow *OutboundWay) pollEntityChannel() {
	if ow.channel == nil {
		ow.entityWait = false
		return
	}

	b, ok, done := ow.channel.TryRecv()
	switch {
	case ok:
		ow.pendingData = b
		ow.entityWait = false
	case done:
		ow.channelDone = true
		ow.entityWait = false
	}
}

// registerEntityInterest registers readiness for entity sources that
// expose a descriptor; channel entities carry none and are re-polled
// through UpdateState instead. A failed registration abandons the
// entity and tears the connection down.
func (ow *OutboundWay) registerEntityInterest(p poll.Poller) {
	if ow.entityRegistered && !ow.entityWait {
		p.Unregister(ow.entityFd)
		ow.entityRegistered = false
		return
	}
	if !ow.entityWait || ow.entityRegistered {
		return
	}

	src, ok := ow.entitySource().(interface{ Fd() int })
	if !ok {
		return
	}

	if err := p.Register(src.Fd(), poll.Read, entityListener{ow}); err != nil {
		ow.logger.Warn("unable to register interest operations for this entity", "error", err)
		ow.conn.OnError(err)
		return
	}
	ow.entityFd = src.Fd()
	ow.entityRegistered = true
}

func (ow *OutboundWay) entitySource() any {
	switch ow.entityType {
	case EntityStream, EntitySyncChannel:
		return ow.stream
	case EntityFile:
		return ow.file
	case EntityAsyncChannel:
		return ow.channel
	}
	return nil
}

// entityListener links an entity registration back to its way.
type entityListener struct{ ow *OutboundWay }

func (l entityListener) OnSelected(ready poll.Interest) {
	l.ow.entityWait = false
}
