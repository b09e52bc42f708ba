// Package publisher implements the Publisher + FilterSet fan-out stage
// (spec §4.9): a named consumer attached to one or more couplers, with
// a bounded per-publisher queue, filtering, and overflow handling.
package publisher

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tuna-marine/n2k-router/message"
)

// ErrOverflow is returned by Publish once lost messages reach
// MaxLost and SuspendOnOverflow is not set: the caller (router/coupler
// wiring) should evict this publisher.
var ErrOverflow = errors.New("publisher: overflow, max_lost exceeded")

// Config controls one Publisher's queue and overflow behavior.
type Config struct {
	Name string

	// QueueSize bounds the publisher's queue (default 20).
	QueueSize int
	// MaxLost is how many dropped-for-full-queue messages are
	// tolerated before overflow triggers (default 5).
	MaxLost int
	// SuspendOnOverflow requests upstream suspension instead of
	// eviction when MaxLost is reached.
	SuspendOnOverflow bool

	Filter *FilterSet

	// ProcessMsg is the subclass hook: the external effect (write to a
	// TCP socket, call a remote gRPC, print, inject into another
	// coupler).
	ProcessMsg func(message.Envelope)

	now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.QueueSize == 0 {
		c.QueueSize = 20
	}
	if c.MaxLost == 0 {
		c.MaxLost = 5
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// SuspendFunc is called when this publisher wants upstream couplers
// suspended/resumed (SuspendOnOverflow path).
type SuspendFunc func()

// Publisher fans messages out from a bounded queue to ProcessMsg on its
// own goroutine, matching spec §4.9's producer/consumer contract.
type Publisher struct {
	config Config

	queue chan message.Envelope

	lost      atomic.Int32
	suspended atomic.Bool
	overflown atomic.Bool

	// Suspend/Resume hook up to the router's upstream-coupler
	// suspension when SuspendOnOverflow fires.
	Suspend SuspendFunc
	Resume  SuspendFunc

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Publisher, not yet consuming; call Run in its own
// goroutine.
func New(config Config) *Publisher {
	config = config.withDefaults()
	return &Publisher{
		config: config,
		queue:  make(chan message.Envelope, config.QueueSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Name returns the publisher's configured name.
func (p *Publisher) Name() string { return p.config.Name }

// Overflown reports whether this publisher has exceeded MaxLost
// without SuspendOnOverflow (the caller should evict it).
func (p *Publisher) Overflown() bool { return p.overflown.Load() }

// Lost returns the current lost-message count.
func (p *Publisher) Lost() int { return int(p.lost.Load()) }

// Publish applies the FilterSet then enqueues, called from the
// coupler's own goroutine per spec §4.9. Returns ErrOverflow once
// MaxLost is exceeded and SuspendOnOverflow is unset; the caller should
// then stop calling Publish and evict this publisher.
func (p *Publisher) Publish(env message.Envelope) error {
	if p.overflown.Load() {
		return ErrOverflow
	}
	if !p.config.Filter.Allows(env, p.config.now()) {
		return nil
	}

	// High-water warning at 80% full; sleeps 0.2s to let the consumer
	// drain, per spec's suspension-point note.
	if len(p.queue) >= (cap(p.queue)*8)/10 {
		log.Printf("publisher %s: queue at %d/%d (high water)", p.config.Name, len(p.queue), cap(p.queue))
		time.Sleep(200 * time.Millisecond)
	}

	select {
	case p.queue <- env:
		if lost := p.lost.Load(); lost > 0 && len(p.queue) < 4 {
			p.lost.Store(0)
			log.Printf("publisher %s: recovered, queue below low water", p.config.Name)
		}
		return nil
	default:
		lost := p.lost.Add(1)
		if int(lost) >= p.config.MaxLost {
			if p.config.SuspendOnOverflow {
				if p.suspended.CompareAndSwap(false, true) && p.Suspend != nil {
					p.Suspend()
				}
				return nil
			}
			p.overflown.Store(true)
			return ErrOverflow
		}
		return nil
	}
}

// Run drains the queue, calling ProcessMsg for every envelope, until
// ctx is cancelled or Stop is called. A 1-second poll observes the
// stop flag per spec's suspension-point note.
func (p *Publisher) Run(ctx context.Context) {
	defer close(p.doneCh)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case env := <-p.queue:
			if p.suspended.Load() && len(p.queue) < p.config.QueueSize/2 {
				if p.suspended.CompareAndSwap(true, false) && p.Resume != nil {
					p.Resume()
				}
			}
			if p.config.ProcessMsg != nil {
				p.config.ProcessMsg(env)
			}
		case <-ticker.C:
		}
	}
}

// Stop is a single-shot latch; repeated calls are safe no-ops.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Wait blocks until Run has returned.
func (p *Publisher) Wait() { <-p.doneCh }
