package engine

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"http-connector/engine/poll"
	"http-connector/message"
	"http-connector/transport"

	"github.com/pkg/errors"
)

type chunkPhase uint8

const (
	chunkSize chunkPhase = iota
	chunkData
	chunkDataEnd
	chunkTrailers
)

// InboundWay reads available bytes off the socket and assembles them
// into complete messages: start line, header fields, then a body
// framed by Content-Length, chunked coding or connection close.
// Completed messages land on the helper's inbound queue.
type InboundWay struct {
	way

	contentLength  int64
	chunked        bool
	closeDelimited bool

	phase          chunkPhase
	chunkRemaining int64

	body bytes.Buffer
}

var _ wayDirection = (*InboundWay)(nil)

func newInboundWay(conn *Connection, bufferSize int) *InboundWay {
	iw := &InboundWay{
		way: newWay(conn, bufferSize, conn.logger.With("way", "inbound")),
	}
	iw.resetFraming()
	return iw
}

// UpdateState keeps read interest on while the connection lives: the
// next message, or the peer's close, can arrive at any time.
func (iw *InboundWay) UpdateState() {
	if iw.ioState == IoIdle && iw.conn.state != ConnectionClosed {
		iw.ioState = IoInterest
	}
}

func (iw *InboundWay) socketInterest() poll.Interest {
	if iw.ioState == IoInterest {
		return poll.Read
	}
	return 0
}

// OnSelected is the read-readiness callback. A level-triggered event
// can arrive before the sweep refreshed interest, so an idle-but-open
// way is promoted first.
func (iw *InboundWay) OnSelected(ready poll.Interest) {
	iw.UpdateState()
	if iw.ioState == IoInterest {
		iw.ioState = IoProcessing
	}

	if err := iw.pump(); err != nil {
		iw.logger.Warn("error while reading an HTTP message", "error", err.Error())
		iw.logger.Info("error while reading an HTTP message", "error", fmt.Sprintf("%+v", err))
		iw.conn.Close(false)
	}
}

func (iw *InboundWay) pump() error {
	for iw.ioState == IoProcessing {
		n, err := iw.conn.socket.Read(iw.buffer[iw.filled:])
		if err != nil {
			if errors.Is(err, transport.ErrWouldBlock) {
				iw.ioState = IoInterest
				return nil
			}
			if errors.Is(err, io.EOF) {
				return iw.onPeerClosed()
			}
			return errors.Wrap(err, "reading from socket")
		}

		iw.filled += n
		iw.conn.touch()

		if err := iw.parse(); err != nil {
			return err
		}
	}
	return nil
}

// parse consumes everything buffered, feeding the line builder and the
// body according to the current framing state. Pipelined messages are
// handled back to back.
func (iw *InboundWay) parse() error {
	pos := 0
	for pos < iw.filled {
		if iw.messageState == MessageDone {
			iw.attachNext()
		}

		switch iw.messageState {
		case MessageStart, MessageHeaders:
			line, ok, err := iw.takeLine(iw.buffer[:iw.filled], &pos)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := iw.processLine(line); err != nil {
				return err
			}
		case MessageBody:
			consumed, err := iw.consumeBody(iw.buffer[pos:iw.filled])
			if err != nil {
				return err
			}
			pos += consumed
		}
	}

	iw.reset()
	return nil
}

// takeLine scans data for the next LF, accumulating partial lines in
// the line builder across reads.
func (iw *InboundWay) takeLine(data []byte, pos *int) (line []byte, ok bool, err error) {
	chunk := data[*pos:]

	idx := bytes.IndexByte(chunk, message.LF)
	if idx < 0 {
		iw.lineBuilder.Write(chunk)
		*pos = len(data)
		if iw.lineBuilder.Len() > len(iw.buffer) {
			return nil, false, errors.New("line length exceeds buffer capacity")
		}
		return nil, false, nil
	}

	iw.lineBuilder.Write(chunk[:idx+1])
	*pos += idx + 1

	line = bytes.Clone(iw.lineBuilder.Bytes())
	iw.lineBuilder.Reset()

	line = line[:len(line)-1] // Remove LF.
	if len(line) == 0 || line[len(line)-1] != message.CR {
		return nil, false, errors.New("missing CR before LF")
	}
	line = line[:len(line)-1] // Remove CR.

	return line, true, nil
}

// attachNext rewinds the framing machine for the next message on the
// same connection.
func (iw *InboundWay) attachNext() {
	iw.msg = nil
	iw.messageState = MessageStart
	iw.resetFraming()
}

func (iw *InboundWay) resetFraming() {
	iw.contentLength = message.UnknownSize
	iw.chunked = false
	iw.closeDelimited = false
	iw.phase = chunkSize
	iw.chunkRemaining = 0
	iw.body.Reset()
}

func (iw *InboundWay) processLine(line []byte) error {
	switch iw.messageState {
	case MessageStart:
		if err := iw.parseStartLine(line); err != nil {
			return errors.Wrap(err, "parsing start line")
		}
		iw.messageState = MessageHeaders

	case MessageHeaders:
		if len(line) == 0 {
			return iw.onHeadersEnd()
		}

		field, err := message.ParseField(line)
		if err != nil {
			return errors.Wrap(err, "parsing field")
		}
		iw.msg.Fields().Add(string(field.Name), string(field.Value))
	}
	return nil
}

// parseStartLine accepts both request lines and status lines, so one
// way serves server-side and client-side connectors alike.
func (iw *InboundWay) parseStartLine(line []byte) error {
	if bytes.HasPrefix(line, []byte("HTTP/")) {
		versionRaw, rest, found := bytes.Cut(line, []byte{message.SP})
		if !found {
			return errors.Errorf("malformed status line: %q", string(line))
		}
		statusRaw, reason, _ := bytes.Cut(rest, []byte{message.SP})

		version, err := message.ParseVersion(versionRaw)
		if err != nil {
			return err
		}
		status, err := strconv.Atoi(string(statusRaw))
		if err != nil {
			return errors.Errorf("status code is not numeric: %q", string(statusRaw))
		}

		iw.msg = &message.Response{
			Version:      version,
			StatusCode:   status,
			ReasonPhrase: string(reason),
		}
		return nil
	}

	method, rest, found := bytes.Cut(line, []byte{message.SP})
	if !found {
		return errors.Errorf("malformed request line: %q", string(line))
	}
	target, versionRaw, found := bytes.Cut(rest, []byte{message.SP})
	if !found {
		return errors.Errorf("malformed request line: %q", string(line))
	}

	version, err := message.ParseVersion(versionRaw)
	if err != nil {
		return err
	}

	iw.msg = &message.Request{
		Method:  string(method),
		Target:  string(target),
		Version: version,
	}
	return nil
}

// onHeadersEnd infers the body framing rule from the parsed headers.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3
func (iw *InboundWay) onHeadersEnd() error {
	headers := iw.msg.Fields()

	if value, ok := headers.Get("Connection"); ok && strings.EqualFold(value, "close") {
		iw.conn.SetPersistent(false)
	}

	if coding, ok := headers.Get("Transfer-Encoding"); ok {
		if !strings.EqualFold(coding, "chunked") {
			// The message body length cannot be determined reliably.
			return errors.Errorf("unsupported transfer coding: %q", coding)
		}
		iw.chunked = true
		iw.messageState = MessageBody
		return nil
	}

	if raw, ok := headers.Get("Content-Length"); ok {
		length, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || length < 0 {
			return errors.Errorf("content length is not convertable to int: %q", raw)
		}
		if length == 0 {
			iw.complete()
			return nil
		}
		iw.contentLength = length
		iw.messageState = MessageBody
		return nil
	}

	response, isResponse := iw.msg.(*message.Response)
	if !isResponse {
		// A request without Transfer-Encoding or Content-Length has no
		// body.
		iw.complete()
		return nil
	}

	if !responseHasBody(response.StatusCode) {
		iw.complete()
		return nil
	}

	// Body runs until the peer closes the connection.
	iw.closeDelimited = true
	iw.messageState = MessageBody
	return nil
}

// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.1
func responseHasBody(status int) bool {
	return status >= 200 && status != 204 && status != 304
}

func (iw *InboundWay) consumeBody(p []byte) (int, error) {
	if iw.chunked {
		return iw.consumeChunked(p)
	}

	if iw.closeDelimited {
		iw.body.Write(p)
		return len(p), nil
	}

	remain := iw.contentLength - int64(iw.body.Len())
	n := int64(len(p))
	if n > remain {
		n = remain
	}
	iw.body.Write(p[:n])

	if int64(iw.body.Len()) >= iw.contentLength {
		iw.complete()
	}
	return int(n), nil
}

func (iw *InboundWay) consumeChunked(p []byte) (int, error) {
	switch iw.phase {
	case chunkData:
		n := int64(len(p))
		if n > iw.chunkRemaining {
			n = iw.chunkRemaining
		}
		iw.body.Write(p[:n])
		iw.chunkRemaining -= n
		if iw.chunkRemaining == 0 {
			iw.phase = chunkDataEnd
		}
		return int(n), nil

	default:
		// Size lines, chunk delimiters and trailers are all CRLF
		// terminated; reuse the line machinery.
		pos := 0
		line, ok, err := iw.takeLine(p, &pos)
		if err != nil || !ok {
			return pos, err
		}
		return pos, iw.processChunkLine(line)
	}
}

func (iw *InboundWay) processChunkLine(line []byte) error {
	switch iw.phase {
	case chunkSize:
		sizeRaw, _, _ := bytes.Cut(line, []byte{';'}) // drop extensions
		size, err := strconv.ParseUint(string(sizeRaw), 16, 63)
		if err != nil {
			return errors.Errorf("failed to decode chunk size: %q", string(sizeRaw))
		}
		if size == 0 {
			iw.phase = chunkTrailers
			return nil
		}
		iw.chunkRemaining = int64(size)
		iw.phase = chunkData

	case chunkDataEnd:
		if len(line) != 0 {
			return errors.New("CRLF delimiter not found after chunk data")
		}
		iw.phase = chunkSize

	case chunkTrailers:
		if len(line) == 0 {
			iw.complete()
			return nil
		}
		field, err := message.ParseField(line)
		if err != nil {
			return errors.Wrap(err, "parsing trailer field")
		}
		iw.msg.Fields().Add(string(field.Name), string(field.Value))
	}
	return nil
}

// complete publishes the assembled message to the helper's inbound
// queue and readies the way for the connection's next message.
func (iw *InboundWay) complete() {
	if iw.body.Len() > 0 {
		entity := message.NewBufferEntity(bytes.Clone(iw.body.Bytes()))
		switch m := iw.msg.(type) {
		case *message.Request:
			m.Body = entity
		case *message.Response:
			m.Body = entity
		}
	}

	iw.logger.Debug("inbound message received")
	iw.conn.helper.InboundMessages().Push(iw.msg)

	iw.msg = nil
	iw.messageState = MessageDone
	iw.resetFraming()
}

// onPeerClosed handles EOF from the socket.
func (iw *InboundWay) onPeerClosed() error {
	if iw.closeDelimited && iw.messageState == MessageBody {
		iw.complete()
		iw.conn.Close(true)
		return nil
	}

	if iw.messageState == MessageDone ||
		(iw.messageState == MessageStart && iw.lineBuilder.Len() == 0) {
		// Clean close between messages; let pending responses drain.
		iw.conn.Close(true)
		return nil
	}

	return errors.Wrap(io.ErrUnexpectedEOF, "peer closed mid-message")
}
