// Package coupler implements the abstract coupler contract and generic
// lifecycle runner (spec §4.8): each coupler is a transport (CAN,
// serial, TCP, UDP, log replay, VE.Direct, gRPC) driven by the same
// open/read/send state machine.
package coupler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tuna-marine/n2k-router/bridge"
	"github.com/tuna-marine/n2k-router/canapp"
	"github.com/tuna-marine/n2k-router/message"
	n2k "github.com/tuna-marine/n2k-router"
)

// Sentinels a Transport's ReadOne may return.
var (
	ErrTimeout    = errors.New("coupler: read timeout")
	ErrReadError  = errors.New("coupler: read error")
	ErrNotPresent = errors.New("coupler: no message available")
)

// State is a coupler's lifecycle position.
type State int

const (
	StateNotReady State = iota
	StateOpen
	StateActive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotReady:
		return "NOT_READY"
	case StateOpen:
		return "OPEN"
	case StateActive:
		return "ACTIVE"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Direction constrains which half of a Transport the runner drives.
type Direction int

const (
	DirectionReadWrite Direction = iota
	DirectionReadOnly
	DirectionWriteOnly
)

// Transport is the per-concrete-coupler contract spec §4.8 names:
// open/close/read_one/send.
type Transport interface {
	// Open attempts to bring the transport up; false means "try again
	// later", per spec's `open() → bool`.
	Open(ctx context.Context) bool
	Close() error
	// ReadOne returns a single envelope, or ErrTimeout/ErrReadError/
	// ErrNotPresent.
	ReadOne(ctx context.Context) (message.Envelope, error)
	// Send returns false (not an error) when the message was rejected
	// rather than transmitted, per spec's `send(Message) → bool`.
	Send(ctx context.Context, env message.Envelope) bool
}

// Config controls one Coupler's lifecycle and behavior.
type Config struct {
	Name      string
	Direction Direction

	MaxOpenAttempts int           // 0 = unlimited
	OpenDelay       time.Duration
	ReportInterval  time.Duration // default 30s

	// ConvertNMEA0183, when set, runs inbound NMEA-0183 sentences
	// through bridge.Converter before publishing.
	ConvertNMEA0183 bool
	// StrictNMEA0183 discards sentences the bridge can't convert;
	// otherwise they pass through unconverted.
	StrictNMEA0183 bool

	// CANApp, if set, receives NMEA-2000 messages on ISO-protocol PGNs
	// instead of them being published (spec §4.8 "fetch_next=true").
	CANApp *canapp.App
}

func (c Config) withDefaults() Config {
	if c.ReportInterval == 0 {
		c.ReportInterval = 30 * time.Second
	}
	if c.OpenDelay == 0 {
		c.OpenDelay = 5 * time.Second
	}
	return c
}

// Stats are the coupler's running totals of envelopes read and sent.
type Stats struct {
	TotalIn  uint64
	TotalOut uint64
}

// Coupler drives one Transport through spec §4.8's lifecycle loop and
// hands every successfully read envelope to Publish.
type Coupler struct {
	config    Config
	transport Transport
	converter *bridge.Converter

	state        atomic.Int32
	suspended    atomic.Bool
	openAttempts atomic.Int32

	totalIn  atomic.Uint64
	totalOut atomic.Uint64

	lastIntervalIn atomic.Uint64

	// Publish is called for every envelope the read loop produces, in
	// the coupler's own goroutine (spec: "On publish(msg) in the
	// coupler's thread").
	Publish func(message.Envelope)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Coupler around transport, not yet started.
func New(config Config, transport Transport) *Coupler {
	c := &Coupler{
		config:    config.withDefaults(),
		transport: transport,
		stopCh:    make(chan struct{}),
	}
	if c.config.ConvertNMEA0183 {
		c.converter = bridge.New()
	}
	c.state.Store(int32(StateNotReady))
	return c
}

func (c *Coupler) State() State { return State(c.state.Load()) }

func (c *Coupler) Stats() Stats {
	return Stats{TotalIn: c.totalIn.Load(), TotalOut: c.totalOut.Load()}
}

// Suspend/Resume implement the publisher-overflow backpressure spec
// §4.9 describes ("suspend all upstream couplers until drained").
func (c *Coupler) Suspend() { c.suspended.Store(true) }
func (c *Coupler) Resume()  { c.suspended.Store(false) }

// Stop is a single-shot latch; repeated calls are safe no-ops.
func (c *Coupler) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Send forwards env to the transport, rejecting it per spec's send-path
// rules: not at least OPEN, or direction is read-only.
func (c *Coupler) Send(ctx context.Context, env message.Envelope) bool {
	if c.State() == StateNotReady || c.State() == StateStopped {
		return false
	}
	if c.config.Direction == DirectionReadOnly {
		return false
	}
	ok := c.transport.Send(ctx, env)
	if ok {
		c.totalOut.Add(1)
	}
	return ok
}

// Run executes spec §4.8's lifecycle loop until ctx is cancelled or
// Stop is called. It always returns after transport.Close().
func (c *Coupler) Run(ctx context.Context) error {
	defer func() {
		c.state.Store(int32(StateStopped))
		_ = c.transport.Close()
	}()

	reportTicker := time.NewTicker(c.config.ReportInterval)
	defer reportTicker.Stop()
	go c.reportLoop(ctx, reportTicker)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		default:
		}

		if c.State() == StateNotReady {
			attempts := c.openAttempts.Add(1)
			if c.config.MaxOpenAttempts > 0 && int(attempts) > c.config.MaxOpenAttempts {
				return fmt.Errorf("coupler %s: exceeded max open attempts", c.config.Name)
			}
			if !c.transport.Open(ctx) {
				if !c.sleep(ctx, c.config.OpenDelay) {
					return nil
				}
				continue
			}
			c.state.Store(int32(StateOpen))
		}

		if c.config.Direction == DirectionWriteOnly || c.suspended.Load() {
			if !c.sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		env, err := c.transport.ReadOne(ctx)
		switch {
		case err == nil:
			c.totalIn.Add(1)
			c.lastIntervalIn.Add(1)
			c.state.Store(int32(StateActive))
			c.handle(env)
		case errors.Is(err, ErrTimeout), errors.Is(err, ErrNotPresent):
			// no data this tick; loop again
		case errors.Is(err, ErrReadError):
			c.state.Store(int32(StateNotReady))
		default:
			log.Printf("coupler %s: read error: %v", c.config.Name, err)
			c.state.Store(int32(StateNotReady))
		}
	}
}

// handle forwards ISO-protocol NMEA-2000 messages to canapp without
// publishing them, converts bridged NMEA-0183 sentences, and publishes
// everything else.
func (c *Coupler) handle(env message.Envelope) {
	if env.Kind != message.KindNMEA0183 {
		if p, ok := env.PGN(); ok && n2k.IsIsoProtocolPGN(p) && c.config.CANApp != nil {
			if err := c.config.CANApp.HandleMessage(context.Background(), env.Raw); err != nil {
				log.Printf("coupler %s: canapp handling ISO PGN %d: %v", c.config.Name, p, err)
			}
			return
		}
		if c.Publish != nil {
			c.Publish(env)
		}
		return
	}

	if !c.config.ConvertNMEA0183 {
		if c.Publish != nil {
			c.Publish(env)
		}
		return
	}

	converted, err := c.converter.Convert(env.Sentence, env.Timestamp)
	if err != nil {
		if c.config.StrictNMEA0183 {
			return
		}
		if c.Publish != nil {
			c.Publish(env)
		}
		return
	}
	for _, raw := range converted {
		if c.Publish != nil {
			c.Publish(message.FromRaw(raw))
		}
	}
}

func (c *Coupler) reportLoop(ctx context.Context, ticker *time.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			in := c.lastIntervalIn.Swap(0)
			log.Printf("coupler %s: %d msgs/%.0fs in, total in=%d out=%d", c.config.Name, in,
				c.config.ReportInterval.Seconds(), c.totalIn.Load(), c.totalOut.Load())
			if in == 0 && c.config.Direction != DirectionWriteOnly {
				c.checkConnection()
			}
		}
	}
}

// checkConnection is called by the report loop when an interval saw no
// input; the generic runner itself has nothing transport-specific to
// probe, so it only logs and leaves the coupler's state unchanged.
func (c *Coupler) checkConnection() {
	log.Printf("coupler %s: no input since last report", c.config.Name)
}

// sleep waits for d or early cancellation; returns false if the
// coupler should stop.
func (c *Coupler) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.stopCh:
		return false
	case <-t.C:
		return true
	}
}
