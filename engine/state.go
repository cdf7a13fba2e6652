// Package engine implements the transport core of the connector: a
// single-threaded readiness reactor driving many connections, with
// resumable state machines framing HTTP/1.x messages in both
// directions and admission control tied to worker-pool saturation.
package engine

// ConnectionState tracks the lifecycle of one connection. Transitions
// only move forward; a Closed connection is reclaimed by the
// controller sweep and never reused.
type ConnectionState uint8

const (
	ConnectionOpening ConnectionState = iota
	ConnectionOpen
	ConnectionClosing
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionOpening:
		return "opening"
	case ConnectionOpen:
		return "open"
	case ConnectionClosing:
		return "closing"
	case ConnectionClosed:
		return "closed"
	}
	return "unknown"
}

// IoState tracks the readiness activity of one way.
type IoState uint8

const (
	// IoIdle means no message is attached and no readiness is wanted.
	IoIdle IoState = iota
	// IoInterest means the way waits for a readiness event.
	IoInterest
	// IoProcessing means the way is actively draining or filling.
	IoProcessing
	// IoCancelling means the way is unwinding before its connection closes.
	IoCancelling
)

func (s IoState) String() string {
	switch s {
	case IoIdle:
		return "idle"
	case IoInterest:
		return "interest"
	case IoProcessing:
		return "processing"
	case IoCancelling:
		return "cancelling"
	}
	return "unknown"
}

// MessageState tracks framing progress within the current message.
// It only moves forward and resets to MessageStart when a new message
// is attached.
type MessageState uint8

const (
	MessageStart MessageState = iota
	MessageHeaders
	MessageBody
	// MessageDone means no framing is in progress.
	MessageDone
)

func (s MessageState) String() string {
	switch s {
	case MessageStart:
		return "start-line"
	case MessageHeaders:
		return "headers"
	case MessageBody:
		return "body"
	case MessageDone:
		return "done"
	}
	return "unknown"
}

// EntityType selects the strategy used to move entity bytes. It is
// fixed once body streaming begins for a given message.
type EntityType uint8

const (
	EntityNone EntityType = iota
	// EntityStream copies from a source whose availability is known.
	EntityStream
	// EntityFile copies positionally from a file.
	EntityFile
	// EntitySyncChannel reads from a source that may block.
	EntitySyncChannel
	// EntityAsyncChannel receives from a channel without blocking.
	EntityAsyncChannel
)

func (t EntityType) String() string {
	switch t {
	case EntityNone:
		return "none"
	case EntityStream:
		return "stream"
	case EntityFile:
		return "file"
	case EntitySyncChannel:
		return "sync-channel"
	case EntityAsyncChannel:
		return "async-channel"
	}
	return "unknown"
}
