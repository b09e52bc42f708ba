package publisher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	n2k "github.com/tuna-marine/n2k-router"
	"github.com/tuna-marine/n2k-router/message"
)

func rawEnvelope(pgn uint32, source uint8) message.Envelope {
	return message.FromRaw(n2k.RawMessage{
		Time:   time.Now(),
		Header: n2k.CanBusHeader{PGN: pgn, Source: source, Destination: 255},
		Data:   n2k.RawData{0, 0, 0, 0, 0, 0, 0, 0},
	})
}

func TestPublisher_deliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []uint32
	p := New(Config{Name: "test", QueueSize: 10, ProcessMsg: func(env message.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		pgnNum, _ := env.PGN()
		got = append(got, pgnNum)
	}})

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	for _, pgnNum := range []uint32{1, 2, 3} {
		require.NoError(t, p.Publish(rawEnvelope(pgnNum, 0)))
	}

	time.Sleep(50 * time.Millisecond)
	cancel()
	p.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint32{1, 2, 3}, got)
}

func TestPublisher_overflowEvictsAfterMaxLost(t *testing.T) {
	block := make(chan struct{})
	p := New(Config{
		Name:      "test",
		QueueSize: 4,
		MaxLost:   3,
		ProcessMsg: func(message.Envelope) {
			<-block // consumer never drains until test says so
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	var lastErr error
	for i := 0; i < 8; i++ {
		lastErr = p.Publish(rawEnvelope(uint32(i), 0))
		if i < 6 {
			assert.NoError(t, lastErr, "message %d should not overflow yet", i)
		}
	}
	assert.ErrorIs(t, lastErr, ErrOverflow)
	assert.True(t, p.Overflown())

	// Once overflown, further Publish calls keep failing without ever
	// reaching the filter/queue.
	assert.ErrorIs(t, p.Publish(rawEnvelope(99, 0)), ErrOverflow)

	close(block)
}

func TestPublisher_suspendOnOverflowCallsSuspend(t *testing.T) {
	block := make(chan struct{})
	var suspendCalled atomic.Bool
	p := New(Config{
		Name:              "test",
		QueueSize:         2,
		MaxLost:           2,
		SuspendOnOverflow: true,
		ProcessMsg: func(message.Envelope) {
			<-block
		},
	})
	p.Suspend = func() { suspendCalled.Store(true) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	for i := 0; i < 6; i++ {
		_ = p.Publish(rawEnvelope(uint32(i), 0))
	}

	assert.True(t, suspendCalled.Load())
	assert.False(t, p.Overflown())
	close(block)
}

func TestFilterSet_pgnAndSourceAND(t *testing.T) {
	fs := NewFilterSet(false, Filter{
		Action:  Discard,
		PGNs:    map[uint32]struct{}{130306: {}},
		Sources: map[uint8]struct{}{3: {}},
	})

	// Matches both pgn and source: discarded.
	assert.False(t, fs.Allows(rawEnvelope(130306, 3), time.Now()))
	// PGN matches but source doesn't: the AND fails, so the filter does
	// not apply and the default (keep) stands.
	assert.True(t, fs.Allows(rawEnvelope(130306, 9), time.Now()))
}

func TestFilterSet_timeFilterThrottlesPerPGN(t *testing.T) {
	fs := NewFilterSet(false, Filter{
		Action:      Discard,
		PGNs:        map[uint32]struct{}{129025: {}},
		MinInterval: 100 * time.Millisecond,
	})

	now := time.Now()
	assert.False(t, fs.Allows(rawEnvelope(129025, 0), now)) // first hit: matches & discards, also arms the timer
	// within MinInterval the filter does not match, so the default (keep) stands
	assert.True(t, fs.Allows(rawEnvelope(129025, 0), now.Add(10*time.Millisecond)))
}
