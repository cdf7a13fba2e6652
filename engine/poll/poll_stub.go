//go:build !linux

package poll

import "github.com/pkg/errors"

// New reports that no multiplexer backend exists for this platform.
func New() (Poller, error) {
	return nil, errors.New("readiness poller requires linux")
}
