package uds

import (
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-uds/can"
	"github.com/stretchr/testify/require"
)

// scriptedTransport replays a fixed sequence of Receive results. A nil entry
// is an empty poll. Empty polls and an exhausted script both sleep for the
// requested slice, like a real bus with no traffic.
type scriptedTransport struct {
	mu      sync.Mutex
	script  []*can.Frame
	sent    []*can.Frame
	sentAt  []time.Time
	polls   int
	sendErr error
	recvErr error

	// onSend runs after each successful Send, e.g. to queue a reply.
	onSend func(tr *scriptedTransport, f *can.Frame)
}

var _ can.Transport = (*scriptedTransport)(nil)

func newScripted(frames ...*can.Frame) *scriptedTransport {
	return &scriptedTransport{script: frames}
}

func (tr *scriptedTransport) Send(f *can.Frame) error {
	tr.mu.Lock()
	if tr.sendErr != nil {
		tr.mu.Unlock()
		return tr.sendErr
	}
	cp := *f
	tr.sent = append(tr.sent, &cp)
	tr.sentAt = append(tr.sentAt, time.Now())
	hook := tr.onSend
	tr.mu.Unlock()

	if hook != nil {
		hook(tr, &cp)
	}

	return nil
}

func (tr *scriptedTransport) Receive(maxWait time.Duration) (*can.Frame, error) {
	tr.mu.Lock()
	tr.polls++
	if tr.recvErr != nil {
		tr.mu.Unlock()
		return nil, tr.recvErr
	}

	var f *can.Frame
	if len(tr.script) > 0 {
		f = tr.script[0]
		tr.script = tr.script[1:]
	}
	tr.mu.Unlock()

	if f == nil {
		time.Sleep(maxWait)
		return nil, nil
	}

	return f, nil
}

func (tr *scriptedTransport) Close() error { return nil }

// queue appends frames to the receive script.
func (tr *scriptedTransport) queue(frames ...*can.Frame) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.script = append(tr.script, frames...)
}

func (tr *scriptedTransport) sentFrames() []*can.Frame {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	return append([]*can.Frame(nil), tr.sent...)
}

// frame parses candump notation, failing the test on error.
func frame(t *testing.T, s string) *can.Frame {
	t.Helper()

	f, err := can.ParseFrame(s)
	require.NoError(t, err)

	return f
}

// newTestEngine builds an engine with short timeouts suitable for tests.
func newTestEngine(t *testing.T, tr can.Transport, opts ...Option) *Engine {
	t.Helper()

	defaults := []Option{
		WithChannel("test-" + t.Name()),
		WithSeedTimeout(300 * time.Millisecond),
		WithResultTimeout(300 * time.Millisecond),
		WithPollInterval(10 * time.Millisecond),
		WithFlushPending(false), // scripts are replies, not stale traffic
	}

	cfg, err := NewConfig(append(defaults, opts...)...)
	require.NoError(t, err)

	e, err := NewEngine(tr, cfg)
	require.NoError(t, err)

	return e
}

// toSeedReceived drives e through RequestSeed and AwaitSeed.
func toSeedReceived(t *testing.T, e *Engine) byte {
	t.Helper()

	ctx := t.Context()
	require.NoError(t, e.RequestSeed(ctx))
	seed, err := e.AwaitSeed(ctx, 0)
	require.NoError(t, err)

	return seed
}
