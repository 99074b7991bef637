// Package virtual provides in-process CAN buses that behave like a Linux vcan
// interface: every frame sent by one endpoint is delivered to all other
// endpoints on the same bus, never back to the sender.
//
// Buses are addressed by channel name through Open, so an engine and a
// simulated ECU in the same process meet on "vcan0" the same way they would
// on a real interface.
package virtual

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-uds/can"
	"github.com/arloliu/go-uds/internal/pool"
	"github.com/arloliu/go-uds/internal/queue"
	"github.com/puzpuzpuz/xsync/v3"
)

var buses = xsync.NewMapOf[string, *Bus]()

// Bus is a broadcast domain shared by its endpoints.
type Bus struct {
	name      string
	endpoints *xsync.MapOf[uint64, *Endpoint]
	nextID    atomic.Uint64
}

// NewBus creates a standalone bus that is not registered under any channel name.
func NewBus(name string) *Bus {
	return &Bus{
		name:      name,
		endpoints: xsync.NewMapOf[uint64, *Endpoint](),
	}
}

// Lookup returns the registered bus for channel, creating it on first use.
func Lookup(channel string) *Bus {
	bus, _ := buses.LoadOrCompute(channel, func() *Bus {
		return NewBus(channel)
	})

	return bus
}

// Open attaches a new endpoint to the bus registered for channel.
func Open(channel string) *Endpoint {
	return Lookup(channel).Open()
}

// Name returns the bus name.
func (b *Bus) Name() string { return b.name }

// Endpoints returns the number of open endpoints.
func (b *Bus) Endpoints() int { return b.endpoints.Size() }

// Open attaches a new endpoint to the bus.
func (b *Bus) Open() *Endpoint {
	ep := &Endpoint{
		bus:    b,
		id:     b.nextID.Add(1),
		inbox:  queue.New[can.Frame](),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	b.endpoints.Store(ep.id, ep)

	return ep
}

func (b *Bus) broadcast(from uint64, f can.Frame) {
	b.endpoints.Range(func(id uint64, ep *Endpoint) bool {
		if id != from {
			ep.deliver(f)
		}
		return true
	})
}

// Endpoint is one attachment to a Bus. It implements can.Transport.
type Endpoint struct {
	bus    *Bus
	id     uint64
	inbox  *queue.Queue[can.Frame]
	notify chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

var _ can.Transport = (*Endpoint)(nil)

// Bus returns the bus the endpoint is attached to.
func (ep *Endpoint) Bus() *Bus { return ep.bus }

// Pending returns the number of frames waiting in the receive buffer.
func (ep *Endpoint) Pending() int { return ep.inbox.Len() }

// Send delivers a copy of f to every other endpoint on the bus.
func (ep *Endpoint) Send(f *can.Frame) error {
	if ep.closed.Load() {
		return can.ErrClosed
	}
	if err := f.Validate(); err != nil {
		return err
	}
	ep.bus.broadcast(ep.id, *f)

	return nil
}

// Receive returns the next buffered frame, waiting at most maxWait.
func (ep *Endpoint) Receive(maxWait time.Duration) (*can.Frame, error) {
	deadline := time.Now().Add(maxWait)

	for {
		if ep.closed.Load() {
			return nil, can.ErrClosed
		}
		if f, ok := ep.inbox.Dequeue(); ok {
			return &f, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := pool.GetTimer(remaining)
		select {
		case <-ep.notify:
			pool.PutTimer(timer)
		case <-ep.done:
			pool.PutTimer(timer)
			return nil, can.ErrClosed
		case <-timer.C:
			pool.PutTimer(timer)
			if f, ok := ep.inbox.Dequeue(); ok {
				return &f, nil
			}
			return nil, nil
		}
	}
}

// Close detaches the endpoint from its bus. Buffered frames are dropped.
func (ep *Endpoint) Close() error {
	ep.closeOnce.Do(func() {
		ep.closed.Store(true)
		ep.bus.endpoints.Delete(ep.id)
		close(ep.done)
		ep.inbox.Drain()
	})

	return nil
}

func (ep *Endpoint) deliver(f can.Frame) {
	if ep.closed.Load() {
		return
	}
	ep.inbox.Enqueue(f)
	select {
	case ep.notify <- struct{}{}:
	default:
	}
}
