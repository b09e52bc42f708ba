package caninterface

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vishvananda/netlink"

	n2k "github.com/tuna-marine/n2k-router"
)

// ErrCANWrite is returned when the driver rejects a write, or the write
// queue has been full for 20 consecutive attempts (spec §4.5 failure
// semantics).
var ErrCANWrite = errors.New("caninterface: write error")

// DeviceConfig configures a Device.
type DeviceConfig struct {
	InterfaceName string

	// ReceiveDataTimeout bounds how long Read may go without any frame
	// before giving up and returning an error.
	ReceiveDataTimeout time.Duration

	// WriteQueueSize bounds the outgoing message queue.
	WriteQueueSize int

	// MinInterFrameSpacing enforces the bus-fairness pacing between two
	// consecutive writes (default 5ms, caps one ECU at ~20% of bus).
	MinInterFrameSpacing time.Duration

	// FastPacketPGNs lists additional PGNs to treat as Fast-Packet
	// framed, beyond what ClassifyPGN's static range covers.
	FastPacketPGNs []uint32
}

func (c DeviceConfig) withDefaults() DeviceConfig {
	if c.ReceiveDataTimeout == 0 {
		c.ReceiveDataTimeout = 5 * time.Second
	}
	if c.WriteQueueSize == 0 {
		c.WriteQueueSize = 64
	}
	if c.MinInterFrameSpacing == 0 {
		c.MinInterFrameSpacing = 5 * time.Millisecond
	}
	return c
}

type writeRequest struct {
	header  n2k.CanBusHeader
	payload n2k.RawData
	result  chan error
}

// Device binds one SocketCAN interface, reassembling Fast-Packet/ISO-TP
// sequences on read and pacing+gating outgoing frames on write.
type Device struct {
	config DeviceConfig
	conn   *Connection

	fastPacket *n2k.FastPacketAssembler
	isoTP      *n2k.IsoTPAssembler

	localAddresses sync.Map // uint8 -> struct{}
	addressClaimed atomic.Bool

	writeQueue         chan writeRequest
	consecutiveQueueFull atomic.Int32

	timeNow func() time.Time
}

// NewDevice creates a Device for the given configuration. Call
// Initialize before use.
func NewDevice(config DeviceConfig) *Device {
	config = config.withDefaults()
	return &Device{
		config:     config,
		fastPacket: n2k.NewFastPacketAssembler(config.FastPacketPGNs),
		isoTP:      n2k.NewIsoTPAssembler(),
		writeQueue: make(chan writeRequest, config.WriteQueueSize),
		timeNow:    time.Now,
	}
}

// Initialize brings the interface up (if it is administratively down),
// binds the raw CAN socket, and starts the write worker.
func (d *Device) Initialize() error {
	if err := d.ensureLinkUp(); err != nil {
		return err
	}
	conn, err := NewConnection(d.config.InterfaceName)
	if err != nil {
		return err
	}
	d.conn = conn
	go d.writeWorker()
	return nil
}

// ensureLinkUp uses netlink to check and, if necessary, bring up the CAN
// link before binding the raw socket (spec §4.5 "bind to a named CAN
// channel").
func (d *Device) ensureLinkUp() error {
	link, err := netlink.LinkByName(d.config.InterfaceName)
	if err != nil {
		return fmt.Errorf("caninterface: interface %q not found: %w", d.config.InterfaceName, err)
	}
	if link.Attrs().OperState == netlink.OperUp {
		return nil
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("caninterface: could not bring up %q: %w", d.config.InterfaceName, err)
	}
	return nil
}

func (d *Device) Close() error {
	close(d.writeQueue)
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

// SetAddressClaimed unblocks ordinary (non ISO-protocol) writes, called
// by the CAN application (canapp) once an address claim succeeds.
func (d *Device) SetAddressClaimed(claimed bool) {
	d.addressClaimed.Store(claimed)
}

// AddLocalAddress registers addr as one of this node's own addresses,
// used to decide whether an incoming frame's destination is for us.
func (d *Device) AddLocalAddress(addr uint8) {
	d.localAddresses.Store(addr, struct{}{})
}

func (d *Device) isLocalAddress(addr uint8) bool {
	if addr == n2k.AddressGlobal {
		return true
	}
	_, ok := d.localAddresses.Load(addr)
	return ok
}

// ReadRawMessage blocks until one reassembled NMEA-2000 message is
// available, dispatching TP.CM/TP.DT through the ISO-TP assembler and
// everything else through the Fast-Packet assembler (which passes
// single-frame PGNs straight through), per spec §4.5's read path.
func (d *Device) ReadRawMessage(ctx context.Context) (n2k.RawMessage, error) {
	start := d.timeNow()
	for {
		select {
		case <-ctx.Done():
			return n2k.RawMessage{}, ctx.Err()
		default:
		}

		if err := d.conn.SetReadTimeout(50 * time.Millisecond); err != nil {
			return n2k.RawMessage{}, err
		}
		frame, err := d.conn.ReadRawFrame()
		now := d.timeNow()
		if err != nil {
			if errors.Is(err, errReadTimeout) {
				if now.Sub(start) > d.config.ReceiveDataTimeout {
					return n2k.RawMessage{}, fmt.Errorf("caninterface: %w", err)
				}
				continue
			}
			time.Sleep(500 * time.Millisecond) // spec §4.5: read errors retry after 0.5s
			continue
		}

		if !d.isLocalAddress(frame.Header.Destination) {
			continue
		}

		var msg n2k.RawMessage
		var complete bool
		switch frame.Header.PGN {
		case n2k.PGNTransportProtocolConnectionManagement, n2k.PGNTransportProtocolDataTransfer:
			complete, err = d.isoTP.Assemble(frame, &msg)
		default:
			complete, err = d.fastPacket.Assemble(frame, &msg)
		}
		if err != nil {
			continue // non-fatal per spec §7: log and drop, loop continues
		}
		if complete {
			start = now
			return msg, nil
		}
	}
}

// Sweep runs periodic reassembly-handle garbage collection; meant to be
// called from a ticker owned by the coupler that wraps this Device.
func (d *Device) Sweep() {
	d.fastPacket.Sweep()
	d.isoTP.Sweep()
}

// WriteRawMessage enqueues msg for the write worker, splitting
// Fast-Packet/ISO-TP payloads as needed, and blocks up to a 5s put
// timeout (spec §5 "CAN write queue uses a 5s per-message put timeout").
func (d *Device) WriteRawMessage(ctx context.Context, msg n2k.RawMessage) error {
	if !d.addressClaimed.Load() && !n2k.IsIsoProtocolPGN(msg.Header.PGN) {
		return fmt.Errorf("%w: address not yet claimed", ErrCANWrite)
	}

	req := writeRequest{header: msg.Header, payload: msg.Data, result: make(chan error, 1)}

	select {
	case d.writeQueue <- req:
		d.consecutiveQueueFull.Store(0)
	case <-time.After(5 * time.Second):
		n := d.consecutiveQueueFull.Add(1)
		if n >= 20 {
			return fmt.Errorf("%w: write queue full for 20 consecutive attempts, fatal", ErrCANWrite)
		}
		return fmt.Errorf("%w: write queue full", ErrCANWrite)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Device) writeWorker() {
	var lastWrite time.Time
	for req := range d.writeQueue {
		if gap := d.config.MinInterFrameSpacing - d.timeNow().Sub(lastWrite); gap > 0 {
			time.Sleep(gap)
		}

		frames, err := d.framesFor(req.header, req.payload)
		if err == nil {
			for _, f := range frames {
				if werr := d.conn.SendFrame(f); werr != nil {
					err = fmt.Errorf("%w: %v", ErrCANWrite, werr)
					break
				}
			}
		}
		lastWrite = d.timeNow()
		req.result <- err
	}
}

func (d *Device) isFastPacketPGN(pgn uint32) bool {
	if (n2k.RawMessage{Header: n2k.CanBusHeader{PGN: pgn}}).IsFastPacket() {
		return true
	}
	for _, p := range d.config.FastPacketPGNs {
		if p == pgn {
			return true
		}
	}
	return false
}

func (d *Device) framesFor(header n2k.CanBusHeader, payload n2k.RawData) ([]n2k.RawFrame, error) {
	now := d.timeNow()
	switch {
	case len(payload) <= 8:
		f := n2k.RawFrame{Time: now, Header: header, Length: uint8(len(payload))}
		copy(f.Data[:], payload)
		return []n2k.RawFrame{f}, nil
	case d.isFastPacketPGN(header.PGN):
		return n2k.SplitFastPacket(header, payload, 0, now)
	default:
		return n2k.SplitIsoTPBAM(header, header.PGN, payload, now)
	}
}
