package coupler

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

// fakeTransport is a scripted Transport for exercising Coupler.Run
// without any real device.
type fakeTransport struct {
	openFails int32 // Open returns false this many times before succeeding
	opens     atomic.Int32
	closed    atomic.Bool

	mu    sync.Mutex
	queue []message.Envelope

	sent []message.Envelope
}

func (f *fakeTransport) Open(_ context.Context) bool {
	n := f.opens.Add(1)
	return n > f.openFails
}

func (f *fakeTransport) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeTransport) ReadOne(_ context.Context) (message.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return message.Envelope{}, ErrNotPresent
	}
	env := f.queue[0]
	f.queue = f.queue[1:]
	return env, nil
}

func (f *fakeTransport) Send(_ context.Context, env message.Envelope) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return true
}

func (f *fakeTransport) push(env message.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, env)
}

func rawEnvelope(pgn uint32) message.Envelope {
	return message.FromRaw(n2k.RawMessage{
		Time:   time.Now(),
		Header: n2k.CanBusHeader{PGN: pgn, Source: 1, Destination: 255},
		Data:   n2k.RawData{0, 0, 0, 0, 0, 0, 0, 0},
	})
}

func TestCoupler_publishesReadEnvelopes(t *testing.T) {
	transport := &fakeTransport{}
	transport.push(rawEnvelope(130306))

	var published []message.Envelope
	var mu sync.Mutex
	c := New(Config{Name: "test", ReportInterval: time.Hour}, transport)
	c.Publish = func(env message.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, env)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = c.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 1)
	pgnNum, ok := published[0].PGN()
	require.True(t, ok)
	assert.EqualValues(t, 130306, pgnNum)
}

func TestCoupler_retriesOpenUntilSuccess(t *testing.T) {
	transport := &fakeTransport{openFails: 2}
	c := New(Config{Name: "test", OpenDelay: 10 * time.Millisecond, ReportInterval: time.Hour}, transport)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = c.Run(ctx)

	assert.GreaterOrEqual(t, transport.opens.Load(), int32(3))
}

func TestCoupler_maxOpenAttemptsGivesUp(t *testing.T) {
	transport := &fakeTransport{openFails: 100}
	c := New(Config{Name: "test", MaxOpenAttempts: 2, OpenDelay: time.Millisecond, ReportInterval: time.Hour}, transport)

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateStopped, c.State())
}

func TestCoupler_stopIsIdempotent(t *testing.T) {
	transport := &fakeTransport{}
	c := New(Config{Name: "test", ReportInterval: time.Hour}, transport)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	c.Stop()
	c.Stop() // must not panic or block

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.True(t, transport.closed.Load())
}

func TestCoupler_sendRejectedBeforeOpen(t *testing.T) {
	transport := &fakeTransport{openFails: 100}
	c := New(Config{Name: "test", ReportInterval: time.Hour}, transport)

	ok := c.Send(context.Background(), rawEnvelope(130306))
	assert.False(t, ok)
}

func TestCoupler_sendRejectedWhenReadOnly(t *testing.T) {
	transport := &fakeTransport{}
	c := New(Config{Name: "test", Direction: DirectionReadOnly, ReportInterval: time.Hour}, transport)
	c.state.Store(int32(StateActive))

	ok := c.Send(context.Background(), rawEnvelope(130306))
	assert.False(t, ok)
	assert.Empty(t, transport.sent)
}

func TestCoupler_suspendStopsPublishingButKeepsRunning(t *testing.T) {
	transport := &fakeTransport{}
	c := New(Config{Name: "test", ReportInterval: time.Hour}, transport)
	published := 0
	var mu sync.Mutex
	c.Publish = func(message.Envelope) {
		mu.Lock()
		published++
		mu.Unlock()
	}
	c.Suspend()

	transport.push(rawEnvelope(130306))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = c.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, published)
}
