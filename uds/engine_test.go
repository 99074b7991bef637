package uds

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-uds/can"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusDown = errors.New("bus down")

func TestNewEngine_Nil(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)

	_, err = NewEngine(nil, cfg)
	require.ErrorIs(t, err, ErrTransportNil)

	_, err = NewEngine(newScripted(), nil)
	require.ErrorIs(t, err, ErrConfigNil)
}

func TestEngine_RequestSeed(t *testing.T) {
	t.Run("padded", func(t *testing.T) {
		tr := newScripted()
		e := newTestEngine(t, tr)
		assert.Equal(t, StateIdle, e.State())

		require.NoError(t, e.RequestSeed(t.Context()))
		assert.Equal(t, StateSeedRequested, e.State())

		sent := tr.sentFrames()
		require.Len(t, sent, 1)
		assert.Equal(t, "7DF#2701000000000000", sent[0].String())
		assert.Equal(t, uint64(1), e.Metrics().FrameSendCount.Load())
	})

	t.Run("unpadded", func(t *testing.T) {
		tr := newScripted()
		e := newTestEngine(t, tr, WithPadding(false))

		require.NoError(t, e.RequestSeed(t.Context()))
		assert.Equal(t, "7DF#2701", tr.sentFrames()[0].String())
	})

	t.Run("security level 2", func(t *testing.T) {
		tr := newScripted()
		e := newTestEngine(t, tr, WithSecurityLevel(2), WithPadding(false))

		require.NoError(t, e.RequestSeed(t.Context()))
		assert.Equal(t, "7DF#2703", tr.sentFrames()[0].String())
	})
}

func TestEngine_AwaitSeed_IgnoresNonMatching(t *testing.T) {
	tr := newScripted(
		frame(t, "7E9#67013C"),   // wrong identifier
		frame(t, "7E8#5001"),     // wrong SID
		frame(t, "7E8#7F2722"),   // negative response is not a seed
		frame(t, "7E8#670311"),   // wrong sub-function
		frame(t, "7E8#6701"),     // no seed byte
		nil,                      // empty poll
		frame(t, "7E8#67014200"), // match
		frame(t, "7E8#670199"),   // never read
	)
	e := newTestEngine(t, tr)

	seed := toSeedReceived(t, e)
	assert.Equal(t, byte(0x42), seed)
	assert.Equal(t, StateSeedReceived, e.State())

	m := e.Metrics()
	assert.Equal(t, uint64(6), m.FrameRecvCount.Load())
	assert.Equal(t, uint64(5), m.FrameIgnoredCount.Load())
}

func TestEngine_AwaitSeed_Timeout(t *testing.T) {
	tr := newScripted()
	e := newTestEngine(t, tr)
	require.NoError(t, e.RequestSeed(t.Context()))

	start := time.Now()
	_, err := e.AwaitSeed(t.Context(), 200*time.Millisecond)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrSeedTimeout)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	assert.Equal(t, StateResolved, e.State())
	out, ok := e.Outcome()
	require.True(t, ok)
	assert.Equal(t, Outcome{Kind: OutcomeTimedOut, Phase: PhaseSeed}, out)
	assert.Equal(t, uint64(1), e.Metrics().SeedTimeoutCount.Load())
	assert.Greater(t, tr.polls, 1, "the wait is made of several poll slices")
}

func TestEngine_ComputeKey(t *testing.T) {
	e := newTestEngine(t, newScripted())
	assert.Equal(t, []byte{0x96}, e.ComputeKey(0x3C))

	e3 := newTestEngine(t, newScripted(), WithKeyVariant(VariantTriple))
	assert.Equal(t, []byte{0xBA, 0xBB, 0xB8}, e3.ComputeKey(0x10))
	assert.Equal(t, StateIdle, e3.State(), "ComputeKey has no side effects")
}

func TestEngine_SendKey(t *testing.T) {
	t.Run("single byte padded", func(t *testing.T) {
		tr := newScripted(frame(t, "7E8#67013C"))
		e := newTestEngine(t, tr)
		seed := toSeedReceived(t, e)

		require.NoError(t, e.SendKey(t.Context(), e.ComputeKey(seed)))
		assert.Equal(t, StateKeySent, e.State())

		sent := tr.sentFrames()
		require.Len(t, sent, 2)
		assert.Equal(t, "7DF#2702960000000000", sent[1].String())
	})

	t.Run("invalid length", func(t *testing.T) {
		tr := newScripted(frame(t, "7E8#67013C"))
		e := newTestEngine(t, tr)
		toSeedReceived(t, e)

		require.ErrorIs(t, e.SendKey(t.Context(), nil), ErrInvalidKey)
		require.ErrorIs(t, e.SendKey(t.Context(), make([]byte, 7)), ErrInvalidKey)
		assert.Equal(t, StateSeedReceived, e.State(), "rejected key leaves state unchanged")

		require.NoError(t, e.SendKey(t.Context(), make([]byte, 6)))
		assert.Equal(t, "7DF#2702000000000000", tr.sentFrames()[1].String())
	})
}

func TestEngine_AwaitResult(t *testing.T) {
	tests := []struct {
		name    string
		replies []string
		want    Outcome
	}{
		{
			name:    "unlocked",
			replies: []string{"7E8#670200"},
			want:    Outcome{Kind: OutcomeUnlocked},
		},
		{
			name:    "unlocked without trailing byte",
			replies: []string{"7E8#6702"},
			want:    Outcome{Kind: OutcomeUnlocked},
		},
		{
			name:    "invalid key",
			replies: []string{"7E8#7F2735"},
			want:    Outcome{Kind: OutcomeDenied, NRC: NRCInvalidKey},
		},
		{
			name:    "exceeded attempts",
			replies: []string{"7E8#7F2736"},
			want:    Outcome{Kind: OutcomeDenied, NRC: NRCExceededNumberOfAttempts},
		},
		{
			name:    "unrelated traffic before verdict",
			replies: []string{"7E8#5001", "7E9#7F2735", "7E8#670142", "7E8#7F27", "7E8#670200"},
			want:    Outcome{Kind: OutcomeUnlocked},
		},
		{
			name:    "no final response",
			replies: []string{"7E8#5001", "7E9#6702", "7E8#7F27", "7E8#6701"},
			want:    Outcome{Kind: OutcomeNoFinalResponse},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newScripted(frame(t, "7E8#67013C"))
			e := newTestEngine(t, tr)
			seed := toSeedReceived(t, e)
			require.NoError(t, e.SendKey(t.Context(), e.ComputeKey(seed)))

			for _, r := range tt.replies {
				tr.queue(frame(t, r))
			}

			out, err := e.AwaitResult(t.Context(), 150*time.Millisecond)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
			assert.Equal(t, StateResolved, e.State())

			got, ok := e.Outcome()
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_InvalidTransitions(t *testing.T) {
	ctx := t.Context()
	e := newTestEngine(t, newScripted())

	_, err := e.AwaitSeed(ctx, 0)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.ErrorIs(t, e.SendKey(ctx, []byte{1}), ErrInvalidTransition)
	_, err = e.AwaitResult(ctx, 0)
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, e.RequestSeed(ctx))
	require.ErrorIs(t, e.RequestSeed(ctx), ErrInvalidTransition)
	require.ErrorIs(t, e.Reset(), ErrInvalidTransition)

	_, ok := e.Outcome()
	assert.False(t, ok)
}

func TestEngine_Reset(t *testing.T) {
	tr := newScripted(frame(t, "7E8#67013C"), frame(t, "7E8#6702"))
	e := newTestEngine(t, tr)

	out, err := e.Run(t.Context())
	require.NoError(t, err)
	require.True(t, out.Unlocked())

	require.NoError(t, e.Reset())
	assert.Equal(t, StateIdle, e.State())
	_, ok := e.Outcome()
	assert.False(t, ok)
	require.NoError(t, e.Reset(), "reset of an idle engine is a no-op")
}

func TestEngine_SendFailure(t *testing.T) {
	tr := newScripted()
	tr.sendErr = errBusDown
	e := newTestEngine(t, tr)

	err := e.RequestSeed(t.Context())
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, errBusDown)
	assert.Equal(t, StateResolved, e.State())

	_, ok := e.Outcome()
	assert.False(t, ok, "aborted exchange has no outcome")
	assert.Equal(t, uint64(1), e.Metrics().TransportErrCount.Load())

	out, err := e.Run(t.Context())
	require.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, Outcome{}, out)
}

func TestEngine_ReceiveFailure(t *testing.T) {
	tr := newScripted()
	e := newTestEngine(t, tr)
	require.NoError(t, e.RequestSeed(t.Context()))

	tr.mu.Lock()
	tr.recvErr = can.ErrClosed
	tr.mu.Unlock()

	_, err := e.AwaitSeed(t.Context(), 0)
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, can.ErrClosed)
	require.NotErrorIs(t, err, ErrSeedTimeout)
	assert.Equal(t, StateResolved, e.State())
}

func TestEngine_ContextCancel(t *testing.T) {
	tr := newScripted()
	e := newTestEngine(t, tr, WithSeedTimeout(5*time.Second))

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StateResolved, e.State())
}

// End-to-end: seed 0x3C, single byte key 0x96, ECU accepts.
func TestEngine_Run_Unlocked(t *testing.T) {
	tr := newScripted(frame(t, "7E8#67013C"), frame(t, "7E8#6702"))
	e := newTestEngine(t, tr)

	out, err := e.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Outcome{Kind: OutcomeUnlocked}, out)
	require.NoError(t, out.Err())

	sent := tr.sentFrames()
	require.Len(t, sent, 2)
	assert.Equal(t, []byte{0x27, 0x02, 0x96}, sent[1].Payload()[:3])

	m := e.Metrics()
	assert.Equal(t, uint64(1), m.RunCount.Load())
	assert.Equal(t, uint64(1), m.UnlockCount.Load())
}

// End-to-end: seed 0x10 with the triple byte policy.
func TestEngine_Run_TripleKey(t *testing.T) {
	tr := newScripted(frame(t, "7E8#670110"), frame(t, "7E8#6702"))
	e := newTestEngine(t, tr, WithKeyVariant(VariantTriple))

	out, err := e.Run(t.Context())
	require.NoError(t, err)
	assert.True(t, out.Unlocked())

	sent := tr.sentFrames()
	require.Len(t, sent, 2)
	assert.Equal(t, "7DF#2702BABBB8000000", sent[1].String())
}

// End-to-end: ECU rejects the key with NRC 0x35.
func TestEngine_Run_Denied(t *testing.T) {
	tr := newScripted(frame(t, "7E8#67013C"), frame(t, "7E8#7F2735"))
	e := newTestEngine(t, tr)

	out, err := e.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Outcome{Kind: OutcomeDenied, NRC: 0x35}, out)

	var nre *NegativeResponseError
	require.ErrorAs(t, out.Err(), &nre)
	assert.Equal(t, NRCInvalidKey, nre.NRC)
	require.ErrorIs(t, out.Err(), ErrDenied)
	assert.Equal(t, uint64(1), e.Metrics().DeniedCount.Load())
}

// End-to-end: no seed ever arrives; default 2s seed timeout.
func TestEngine_Run_SeedTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the full default seed timeout")
	}

	tr := newScripted(frame(t, "7E9#67013C"), frame(t, "7E8#7F2737"))
	cfg, err := NewConfig(WithChannel("test-" + t.Name()))
	require.NoError(t, err)
	e, err := NewEngine(tr, cfg)
	require.NoError(t, err)

	start := time.Now()
	out, err := e.Run(t.Context())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, Outcome{Kind: OutcomeTimedOut, Phase: PhaseSeed}, out)
	require.ErrorIs(t, out.Err(), ErrSeedTimeout)
	assert.GreaterOrEqual(t, elapsed, DefaultSeedTimeout)
	assert.Len(t, tr.sentFrames(), 1, "no key is sent after a seed timeout")
}

func TestEngine_Run_NoFinalResponse(t *testing.T) {
	tr := newScripted(frame(t, "7E8#67013C"))
	e := newTestEngine(t, tr, WithResultTimeout(100*time.Millisecond))

	start := time.Now()
	out, err := e.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Outcome{Kind: OutcomeNoFinalResponse}, out)
	require.ErrorIs(t, out.Err(), ErrNoFinalResponse)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestEngine_Run_Repeatable(t *testing.T) {
	tr := newScripted(frame(t, "7E8#67013C"), frame(t, "7E8#7F2735"))
	tr.onSend = func(tr *scriptedTransport, f *can.Frame) {
		// answer the second exchange only after its seed request
		if len(tr.sentFrames()) == 3 {
			tr.queue(frame(t, "7E8#670101"), frame(t, "7E8#6702"))
		}
	}
	e := newTestEngine(t, tr)

	out, err := e.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDenied, out.Kind)

	out, err = e.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnlocked, out.Kind)

	sent := tr.sentFrames()
	require.Len(t, sent, 4)
	assert.Equal(t, byte(0x01^0xAA), sent[3].Payload()[2])
	assert.Equal(t, uint64(2), e.Metrics().RunCount.Load())
}

func TestEngine_Run_MidExchange(t *testing.T) {
	e := newTestEngine(t, newScripted())
	require.NoError(t, e.RequestSeed(t.Context()))

	_, err := e.Run(t.Context())
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestEngine_Run_SerializedPerChannel(t *testing.T) {
	channel := "test-serialized"
	trA := newScripted() // times out after 150ms
	trB := newScripted(frame(t, "7E8#67013C"), frame(t, "7E8#6702"))

	eA := newTestEngine(t, trA, WithChannel(channel), WithSeedTimeout(150*time.Millisecond))
	eB := newTestEngine(t, trB, WithChannel(channel))

	var wg sync.WaitGroup
	var doneA time.Time
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = eA.Run(t.Context())
		doneA = time.Now()
	}()

	// wait until A holds the channel
	require.Eventually(t, func() bool { return len(trA.sentFrames()) == 1 }, time.Second, time.Millisecond)

	out, err := eB.Run(t.Context())
	require.NoError(t, err)
	assert.True(t, out.Unlocked())
	wg.Wait()

	trB.mu.Lock()
	firstB := trB.sentAt[0]
	trB.mu.Unlock()
	assert.False(t, firstB.Before(doneA.Add(-5*time.Millisecond)), "B must not transmit while A owns the channel")
}

func TestEngine_Run_OtherChannelNotBlocked(t *testing.T) {
	release, err := acquireBus(t.Context(), "test-held-channel")
	require.NoError(t, err)
	defer release()

	tr := newScripted(frame(t, "7E8#67013C"), frame(t, "7E8#6702"))
	e := newTestEngine(t, tr, WithChannel("test-free-channel"))
	out, err := e.Run(t.Context())
	require.NoError(t, err)
	assert.True(t, out.Unlocked())

	blocked := newTestEngine(t, newScripted(), WithChannel("test-held-channel"))
	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()
	_, err = blocked.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateIdle, blocked.State(), "waiting for the channel does not start an exchange")
}

func TestEngine_Run_FlushesStaleFrames(t *testing.T) {
	tr := newScripted(
		frame(t, "7E8#670177"), // reply to an earlier exchange
		frame(t, "7E8#6702"),
		nil, // buffer empty
		frame(t, "7E8#67013C"),
		frame(t, "7E8#7F2735"),
	)
	e := newTestEngine(t, tr, WithFlushPending(true))

	out, err := e.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDenied, out.Kind)

	sent := tr.sentFrames()
	require.Len(t, sent, 2)
	assert.Equal(t, byte(0x96), sent[1].Payload()[2], "key derived from the fresh seed")
	assert.Equal(t, uint64(2), e.Metrics().FrameIgnoredCount.Load())
}
