// Package poll abstracts the socket-readiness multiplexer driving the
// connector engine: register a descriptor with an interest mask and a
// listener, wait for readiness, dispatch.
package poll

import (
	"time"

	"github.com/pkg/errors"
)

// Interest is a bitmask of readiness kinds a registration waits for.
type Interest uint8

const (
	Read Interest = 1 << iota
	Write
)

func (i Interest) Has(o Interest) bool { return i&o != 0 }

func (i Interest) String() string {
	switch {
	case i.Has(Read) && i.Has(Write):
		return "read|write"
	case i.Has(Read):
		return "read"
	case i.Has(Write):
		return "write"
	}
	return "none"
}

// Listener is attached to exactly one registration and notified when
// its descriptor becomes ready. Concrete listeners are the connection
// acceptor, a connection (fanning out to its two ways) and an entity
// channel; the mapping from registration to listener stays explicit so
// dispatch is inspectable in tests.
type Listener interface {
	OnSelected(ready Interest)
}

// Event is one readiness report produced by a wait.
type Event struct {
	Fd       int
	Ready    Interest
	Listener Listener
}

// Poller is the readiness multiplexer. Wait is the only call allowed
// to block, bounded by its timeout.
type Poller interface {
	// Register adds fd with the given interest. Interest may be zero;
	// the registration then stays dormant until updated.
	Register(fd int, interest Interest, l Listener) error

	// Update changes the interest of a registered descriptor.
	Update(fd int, interest Interest) error

	Unregister(fd int) error

	// Wait blocks up to timeout and returns the ready registrations.
	Wait(timeout time.Duration) ([]Event, error)

	// Wakeup interrupts a concurrent Wait so external state changes
	// are observed before the timeout runs out.
	Wakeup() error

	Close() error
}

var (
	ErrPollerClosed  = errors.New("poller is closed")
	ErrNotRegistered = errors.New("descriptor is not registered")
)
