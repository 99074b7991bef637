package socketcan

import (
	"fmt"

	"github.com/arloliu/go-uds/can"
)

type config struct {
	filterIDs []uint32
}

// Option configures a socket opened by Open.
type Option interface {
	apply(*config) error
}

type optFunc func(*config) error

func (f optFunc) apply(cfg *config) error { return f(cfg) }

// WithFilter installs a kernel receive filter so only standard data frames
// with one of the given identifiers reach the socket.
func WithFilter(ids ...uint32) Option {
	return optFunc(func(cfg *config) error {
		for _, id := range ids {
			if id > can.MaxStdID {
				return fmt.Errorf("%w: 0x%X", can.ErrInvalidID, id)
			}
		}
		cfg.filterIDs = append(cfg.filterIDs, ids...)

		return nil
	})
}
