package engine

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"http-connector/engine/poll"
	"http-connector/message"

	"github.com/pkg/errors"
)

var ErrControllerInert = errors.New("controller has no readiness poller")

// Controller is the connector's reactor: one goroutine that waits on
// socket readiness, dispatches events to the registered listeners,
// sweeps the live connections and drains the pending message queues.
// All connection and way state is owned by this goroutine; other
// goroutines only interact through the queues, [Controller.Execute]
// and [Controller.Wakeup].
type Controller struct {
	helper Helper
	logger *slog.Logger

	poller poll.Poller
	inert  bool

	running    atomic.Bool
	stopped    atomic.Bool
	overloaded atomic.Bool
}

func NewController(helper Helper) *Controller {
	ctrl := &Controller{
		helper: helper,
		logger: helper.Logger().With("component", "controller"),
	}

	poller, err := poll.New()
	if err != nil {
		// An inert controller stays constructible so callers can fail
		// on Run instead of at wiring time.
		ctrl.logger.Warn("unable to open the readiness poller", "error", err)
		ctrl.inert = true
		return ctrl
	}
	ctrl.poller = poller

	return ctrl
}

// Poller exposes the readiness poller for listener registration, e.g.
// by the server's acceptor.
func (ctrl *Controller) Poller() poll.Poller { return ctrl.poller }

// Run drives the reactor loop until [Controller.Shutdown]. It is the
// caller's goroutine; the controller never starts its own.
func (ctrl *Controller) Run() error {
	if ctrl.inert {
		return ErrControllerInert
	}
	if !ctrl.running.CompareAndSwap(false, true) {
		return errors.New("controller is already running")
	}
	defer ctrl.running.Store(false)

	for !ctrl.stopped.Load() {
		ctrl.cycle()
	}
	return nil
}

// cycle is one reactor iteration. A panic in any phase is contained
// here so a single bad connection cannot take the loop down.
func (ctrl *Controller) cycle() {
	defer func() {
		if r := recover(); r != nil {
			ctrl.logger.Warn("recovered from panic in controller cycle", "panic", fmt.Sprint(r))
		}
	}()

	ctrl.updateOverloadState()

	events, err := ctrl.poller.Wait(ctrl.helper.ControllerSleepTime())
	if err != nil {
		if errors.Is(err, poll.ErrPollerClosed) {
			ctrl.stopped.Store(true)
			return
		}
		ctrl.logger.Warn("error while selecting ready sockets", "error", err)
		return
	}

	for _, ev := range events {
		ev.Listener.OnSelected(ev.Ready)
	}

	ctrl.controlConnections()
	ctrl.drainQueues()
}

// updateOverloadState re-evaluates worker saturation once per cycle and
// logs each flip, so overload onset and recovery are visible without
// per-task noise.
func (ctrl *Controller) updateOverloadState() {
	overloaded := ctrl.helper.IsWorkerServiceOverloaded()
	if overloaded == ctrl.overloaded.Load() {
		return
	}
	ctrl.overloaded.Store(overloaded)

	ws := ctrl.helper.WorkerService()
	if overloaded {
		ctrl.logger.Info("worker service is overloaded, stopping task dispatch")
	} else {
		ctrl.logger.Info("worker service is back to normal, resuming task dispatch")
	}
	ctrl.logger.Debug("worker service state",
		"workers", ws.Workers(), "queued", ws.QueuedTasks())
}

// controlConnections sweeps the live set: reap closed connections,
// finish graceful closes whose outbound side has drained, enforce the
// idle timeout and refresh poller interest for the rest. The timeout
// applies in every state, so a draining connection with a stuck peer
// is reclaimed too.
func (ctrl *Controller) controlConnections() {
	for _, conn := range ctrl.helper.Connections().Snapshot() {
		switch conn.State() {
		case ConnectionClosed:
			ctrl.helper.Connections().Remove(conn)

		case ConnectionClosing:
			switch {
			case conn.IsEmpty():
				conn.Close(false)
				ctrl.helper.Connections().Remove(conn)
			case conn.HasTimedOut():
				ctrl.closeIdle(conn)
				ctrl.helper.Connections().Remove(conn)
			default:
				conn.RegisterInterest(ctrl.poller)
			}

		default:
			if conn.HasTimedOut() {
				ctrl.closeIdle(conn)
				continue
			}
			conn.RegisterInterest(ctrl.poller)
		}
	}
}

// closeIdle force-closes a connection that exceeded the idle limit.
// Not graceful: a peer that stopped consuming must not keep its
// connection alive through undrained outbound bytes.
func (ctrl *Controller) closeIdle(conn *Connection) {
	ctrl.logger.Info("closing connection with no IO activity",
		"conn", conn.Socket().RemoteAddr(),
		"maxIdle", ctrl.helper.MaxIOIdleTime())
	conn.Close(false)
}

// drainQueues hands completed inbound messages and queued outbound
// messages to the helper, via the worker service when it has room.
// Once the worker service is shut down the remaining messages are
// handled synchronously so a graceful stop never strands them.
func (ctrl *Controller) drainQueues() {
	synchronous := ctrl.helper.WorkerService().IsShutdown()

	for {
		msg, ok := ctrl.helper.InboundMessages().Poll()
		if !ok {
			break
		}
		ctrl.handleInbound(msg, synchronous)
	}
	for {
		msg, ok := ctrl.helper.OutboundMessages().Poll()
		if !ok {
			break
		}
		ctrl.handleOutbound(msg, synchronous)
	}
}

func (ctrl *Controller) handleInbound(msg message.Message, synchronous bool) {
	if synchronous {
		ctrl.helper.HandleInbound(msg)
		return
	}
	ctrl.Execute(func() { ctrl.helper.HandleInbound(msg) })
}

func (ctrl *Controller) handleOutbound(msg message.Message, synchronous bool) {
	if synchronous {
		ctrl.helper.HandleOutbound(msg)
		return
	}
	ctrl.Execute(func() { ctrl.helper.HandleOutbound(msg) })
}

// Execute offloads a task to the worker service. While the service is
// overloaded or shut down the task is dropped: the bytes stay buffered
// in the kernel and the ways, so backpressure reaches the peer instead
// of queueing unbounded work.
func (ctrl *Controller) Execute(task func()) {
	if ctrl.overloaded.Load() || ctrl.helper.WorkerService().IsShutdown() || ctrl.stopped.Load() {
		return
	}

	if err := ctrl.helper.WorkerService().Execute(task); err != nil {
		side := "server-side"
		if ctrl.helper.IsClientSide() {
			side = "client-side"
		}
		ctrl.logger.Warn("unable to execute a "+side+" controller task", "error", err)
	}
}

// IsOverloaded reports the overload flag as of the last cycle.
func (ctrl *Controller) IsOverloaded() bool { return ctrl.overloaded.Load() }

// Wakeup interrupts the poller wait so state changed by another
// goroutine, such as a newly queued message or a fed entity channel,
// is picked up before the sleep time elapses.
func (ctrl *Controller) Wakeup() {
	if ctrl.inert || ctrl.stopped.Load() {
		return
	}
	if err := ctrl.poller.Wakeup(); err != nil {
		ctrl.logger.Debug("error while waking up the controller", "error", err)
	}
}

// Shutdown stops the loop and releases the poller. Safe to call more
// than once and from any goroutine.
func (ctrl *Controller) Shutdown() {
	if !ctrl.stopped.CompareAndSwap(false, true) {
		return
	}
	if ctrl.inert {
		return
	}
	if err := ctrl.poller.Close(); err != nil {
		ctrl.logger.Warn("error while closing the readiness poller", "error", err)
	}
}
