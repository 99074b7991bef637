//go:build linux

package socketcan

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/arloliu/go-uds/can"
	"golang.org/x/sys/unix"
)

// Conn is a raw CAN socket bound to one interface.
type Conn struct {
	channel string
	fd      int

	mu     sync.Mutex
	closed bool
}

var _ can.Transport = (*Conn)(nil)

// Open binds a raw CAN socket to the named interface.
func Open(channel string, opts ...Option) (*Conn, error) {
	cfg := &config{}
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	iface, err := net.InterfaceByName(channel)
	if err != nil {
		return nil, fmt.Errorf("socketcan: lookup interface %q: %w", channel, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socketcan: create socket: %w", err)
	}

	if len(cfg.filterIDs) > 0 {
		filters := make([]unix.CanFilter, 0, len(cfg.filterIDs))
		for _, id := range cfg.filterIDs {
			filters = append(filters, unix.CanFilter{Id: id, Mask: sffMask | effFlag | rtrFlag})
		}
		if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("socketcan: set filter: %w", err)
		}
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("socketcan: bind %q: %w", channel, err)
	}

	return &Conn{channel: channel, fd: fd}, nil
}

// Channel returns the interface name the socket is bound to.
func (c *Conn) Channel() string { return c.channel }

func (c *Conn) Send(f *can.Frame) error {
	buf, err := encodeFrame(f)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return can.ErrClosed
	}

	n, err := unix.Write(c.fd, buf)
	if err != nil {
		return fmt.Errorf("socketcan: write: %w", err)
	}
	if n != frameSize {
		return fmt.Errorf("socketcan: short write: %d bytes", n)
	}

	return nil
}

func (c *Conn) Receive(maxWait time.Duration) (*can.Frame, error) {
	deadline := time.Now().Add(maxWait)
	buf := make([]byte, frameSize)

	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}

		ready, err := c.poll(remaining)
		if err != nil {
			return nil, err
		}
		if !ready {
			return nil, nil
		}

		n, err := unix.Read(c.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return nil, fmt.Errorf("socketcan: read: %w", err)
		}

		f, err := decodeFrame(buf[:n])
		if errors.Is(err, errSkipFrame) {
			if time.Now().After(deadline) {
				return nil, nil
			}
			continue
		}

		return f, err
	}
}

// poll waits for the socket to become readable. Sub-millisecond waits are
// rounded up so a positive maxWait always yields at least one 1ms poll.
func (c *Conn) poll(wait time.Duration) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, can.ErrClosed
	}
	fd := c.fd
	c.mu.Unlock()

	ms := int((wait + time.Millisecond - 1) / time.Millisecond)
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}} //nolint:gosec // fd fits int32

	n, err := unix.Poll(fds, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, fmt.Errorf("socketcan: poll: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return false, fmt.Errorf("socketcan: socket error on %q (revents=0x%X)", c.channel, fds[0].Revents)
	}

	return true, nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	return unix.Close(c.fd)
}
