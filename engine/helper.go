package engine

import (
	"log/slog"
	"sync"
	"time"

	"http-connector/message"

	"github.com/benbjohnson/clock"
	"github.com/eapache/queue"
)

// Helper is the connector half the core consumes: it supplies the live
// connections, the pending message queues, the worker pool and the
// handler hooks, and receives every message the ways complete.
type Helper interface {
	Connections() *Connections
	InboundMessages() *MessageQueue
	OutboundMessages() *MessageQueue

	WorkerService() *WorkerService
	IsWorkerServiceOverloaded() bool

	MaxIOIdleTime() time.Duration
	ControllerSleepTime() time.Duration

	// HandleInbound is called once a message has been fully framed off
	// a connection; HandleOutbound once one has been handed over for
	// sending. Both run on worker goroutines unless dispatched
	// synchronously.
	HandleInbound(msg message.Message)
	HandleOutbound(msg message.Message)

	IsClientSide() bool
	Clock() clock.Clock
	Logger() *slog.Logger
}

// MessageQueue is a concurrency-safe FIFO of pending messages. The
// reactor drains it; connector and worker goroutines feed it.
type MessageQueue struct {
	m sync.Mutex
	q *queue.Queue
}

func NewMessageQueue() *MessageQueue {
	return &MessageQueue{q: queue.New()}
}

func (mq *MessageQueue) Push(msg message.Message) {
	mq.m.Lock()
	defer mq.m.Unlock()
	mq.q.Add(msg)
}

// Poll removes and returns the head of the queue.
func (mq *MessageQueue) Poll() (message.Message, bool) {
	mq.m.Lock()
	defer mq.m.Unlock()
	if mq.q.Length() == 0 {
		return nil, false
	}
	return mq.q.Remove().(message.Message), true
}

// Peek returns the head without removing it.
func (mq *MessageQueue) Peek() (message.Message, bool) {
	mq.m.Lock()
	defer mq.m.Unlock()
	if mq.q.Length() == 0 {
		return nil, false
	}
	return mq.q.Peek().(message.Message), true
}

func (mq *MessageQueue) Len() int {
	mq.m.Lock()
	defer mq.m.Unlock()
	return mq.q.Length()
}

// Connections is the mutable live set the controller sweeps. Closed
// entries are removed each cycle and never come back.
type Connections struct {
	m    sync.Mutex
	list []*Connection
}

func NewConnections() *Connections {
	return &Connections{}
}

func (cs *Connections) Add(c *Connection) {
	cs.m.Lock()
	defer cs.m.Unlock()
	cs.list = append(cs.list, c)
}

func (cs *Connections) Remove(c *Connection) {
	cs.m.Lock()
	defer cs.m.Unlock()
	for i, cur := range cs.list {
		if cur == c {
			cs.list = append(cs.list[:i], cs.list[i+1:]...)
			return
		}
	}
}

// Snapshot copies the current set so sweeping can mutate it.
func (cs *Connections) Snapshot() []*Connection {
	cs.m.Lock()
	defer cs.m.Unlock()
	out := make([]*Connection, len(cs.list))
	copy(out, cs.list)
	return out
}

func (cs *Connections) Len() int {
	cs.m.Lock()
	defer cs.m.Unlock()
	return len(cs.list)
}

// HelperOptions is the configuration surface passed through from
// connector setup; the core only reads it.
type HelperOptions struct {
	MaxIOIdleTime       time.Duration
	ControllerSleepTime time.Duration

	// BufferSize fixes each way's byte buffer capacity.
	BufferSize int

	Workers WorkerOptions
}

var DefaultHelperOptions = HelperOptions{
	MaxIOIdleTime:       60 * time.Second,
	ControllerSleepTime: 100 * time.Millisecond,
	BufferSize:          8 << 10,
	Workers:             DefaultWorkerOptions,
}

// BaseHelper carries the state every connector helper shares. Concrete
// connectors embed it and set the two handler hooks; the routing and
// representation layers live entirely behind them.
type BaseHelper struct {
	conns    *Connections
	inbound  *MessageQueue
	outbound *MessageQueue
	workers  *WorkerService

	opts       HelperOptions
	clientSide bool

	clk    clock.Clock
	logger *slog.Logger

	// InboundHandler and OutboundHandler are the higher-layer hooks
	// invoked for each drained message.
	InboundHandler  func(msg message.Message)
	OutboundHandler func(msg message.Message)
}

var _ Helper = (*BaseHelper)(nil)

func NewBaseHelper(clientSide bool, logger *slog.Logger, clk clock.Clock, opts HelperOptions) *BaseHelper {
	if opts.ControllerSleepTime <= 0 {
		opts.ControllerSleepTime = DefaultHelperOptions.ControllerSleepTime
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultHelperOptions.BufferSize
	}

	return &BaseHelper{
		conns:      NewConnections(),
		inbound:    NewMessageQueue(),
		outbound:   NewMessageQueue(),
		workers:    NewWorkerService(opts.Workers),
		opts:       opts,
		clientSide: clientSide,
		clk:        clk,
		logger:     logger,
	}
}

func (h *BaseHelper) Connections() *Connections       { return h.conns }
func (h *BaseHelper) InboundMessages() *MessageQueue  { return h.inbound }
func (h *BaseHelper) OutboundMessages() *MessageQueue { return h.outbound }

func (h *BaseHelper) WorkerService() *WorkerService { return h.workers }
func (h *BaseHelper) IsWorkerServiceOverloaded() bool {
	return h.workers.IsOverloaded()
}

func (h *BaseHelper) MaxIOIdleTime() time.Duration       { return h.opts.MaxIOIdleTime }
func (h *BaseHelper) ControllerSleepTime() time.Duration { return h.opts.ControllerSleepTime }

func (h *BaseHelper) HandleInbound(msg message.Message) {
	if h.InboundHandler != nil {
		h.InboundHandler(msg)
	}
}

func (h *BaseHelper) HandleOutbound(msg message.Message) {
	if h.OutboundHandler != nil {
		h.OutboundHandler(msg)
	}
}

func (h *BaseHelper) IsClientSide() bool   { return h.clientSide }
func (h *BaseHelper) Clock() clock.Clock   { return h.clk }
func (h *BaseHelper) Logger() *slog.Logger { return h.logger }

// BufferSize fixes the way buffer capacity for new connections.
func (h *BaseHelper) BufferSize() int { return h.opts.BufferSize }
