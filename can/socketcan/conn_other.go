//go:build !linux

package socketcan

import (
	"errors"
	"time"

	"github.com/arloliu/go-uds/can"
)

// ErrUnsupported is returned by Open on platforms without SocketCAN.
var ErrUnsupported = errors.New("socketcan: only supported on linux")

// Conn is unavailable on this platform.
type Conn struct{}

var _ can.Transport = (*Conn)(nil)

func Open(_ string, _ ...Option) (*Conn, error) {
	return nil, ErrUnsupported
}

func (c *Conn) Channel() string { return "" }
func (c *Conn) Send(_ *can.Frame) error { return ErrUnsupported }
func (c *Conn) Receive(_ time.Duration) (*can.Frame, error) { return nil, ErrUnsupported }
func (c *Conn) Close() error { return nil }
