package engine

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"http-connector/engine/poll"

	"github.com/benbjohnson/clock"
)

func newTestHelper(clientSide bool) (*BaseHelper, *clock.Mock) {
	clk := clock.NewMock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	helper := NewBaseHelper(clientSide, logger, clk, HelperOptions{
		MaxIOIdleTime:       time.Minute,
		ControllerSleepTime: time.Millisecond,
		BufferSize:          256,
		Workers: WorkerOptions{
			MinWorkers:        1,
			MaxWorkers:        2,
			MaxQueuedTasks:    8,
			LowWaterThreshold: 2,
		},
	})
	return helper, clk
}

// fakePoller records registrations and serves scripted events, so
// reactor behavior is testable without descriptors.
type fakePoller struct {
	m sync.Mutex

	registered map[int]poll.Interest
	events     []poll.Event
	wakeups    int
	closed     bool
}

var _ poll.Poller = (*fakePoller)(nil)

func newFakePoller() *fakePoller {
	return &fakePoller{registered: make(map[int]poll.Interest)}
}

func (p *fakePoller) Register(fd int, interest poll.Interest, l poll.Listener) error {
	p.m.Lock()
	defer p.m.Unlock()
	if p.closed {
		return poll.ErrPollerClosed
	}
	p.registered[fd] = interest
	return nil
}

func (p *fakePoller) Update(fd int, interest poll.Interest) error {
	p.m.Lock()
	defer p.m.Unlock()
	if p.closed {
		return poll.ErrPollerClosed
	}
	if _, ok := p.registered[fd]; !ok {
		return poll.ErrNotRegistered
	}
	p.registered[fd] = interest
	return nil
}

func (p *fakePoller) Unregister(fd int) error {
	p.m.Lock()
	defer p.m.Unlock()
	if _, ok := p.registered[fd]; !ok {
		return poll.ErrNotRegistered
	}
	delete(p.registered, fd)
	return nil
}

func (p *fakePoller) Wait(timeout time.Duration) ([]poll.Event, error) {
	p.m.Lock()
	defer p.m.Unlock()
	if p.closed {
		return nil, poll.ErrPollerClosed
	}
	events := p.events
	p.events = nil
	return events, nil
}

func (p *fakePoller) Wakeup() error {
	p.m.Lock()
	defer p.m.Unlock()
	p.wakeups++
	return nil
}

func (p *fakePoller) Close() error {
	p.m.Lock()
	defer p.m.Unlock()
	p.closed = true
	return nil
}

func (p *fakePoller) push(ev poll.Event) {
	p.m.Lock()
	defer p.m.Unlock()
	p.events = append(p.events, ev)
}

func newTestController(helper Helper, poller poll.Poller) *Controller {
	return &Controller{
		helper: helper,
		logger: helper.Logger().With("component", "controller"),
		poller: poller,
	}
}
