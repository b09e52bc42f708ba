// Package caninterface binds a SocketCAN network interface to the n2k
// raw-frame contracts, paces outgoing writes, and reassembles incoming
// Fast-Packet/ISO-TP sequences into RawMessages.
package caninterface

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	n2k "github.com/tuna-marine/n2k-router"
)

const (
	canRaw = 1

	// canIDMask covers the three flag bits (29-31) above the 29-bit CAN ID
	// in the SocketCAN frame struct; clearing it leaves bits 0-28.
	canIDMask = uint32(0b111) << 29
	// canIDERRFlag is bit 29: ERR error message flag (0 = data frame, 1 = error message).
	canIDERRFlag = uint32(1 << 29)
	// canIDRTRFlag is bit 30: RTR remote transmission request (1 = rtr frame).
	canIDRTRFlag = uint32(1 << 30)
	// canIDEFFFlag is bit 31: EFF extended frame format (0 = standard 11 bit, 1 = extended 29 bit).
	canIDEFFFlag = uint32(1 << 31)
)

var errReadTimeout = errors.New("caninterface: read timeout")
var errWriteTimeout = errors.New("caninterface: write timeout")

// Connection is a raw AF_CAN socket bound to one SocketCAN interface.
type Connection struct {
	socketFD int
	timeNow  func() time.Time
}

// NewConnection binds a raw CAN socket to the named interface (e.g. "can0").
func NewConnection(ifName string) (*Connection, error) {
	ifi, err := net.InterfaceByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("caninterface: bad interface name: %w", err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, canRaw)
	if err != nil {
		return nil, fmt.Errorf("caninterface: could not create CAN socket: %w", err)
	}

	addr := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err = unix.Bind(fd, addr); err != nil {
		return nil, fmt.Errorf("caninterface: could not bind CAN socket: %w", err)
	}

	return &Connection{
		socketFD: fd,
		timeNow:  time.Now,
	}, nil
}

func isContinuableSocketErr(err error) bool {
	// EWOULDBLOCK: SO_RCVTIMEO/SO_SNDTIMEO elapsed with no data/room.
	// EINTR: a signal interrupted the blocking call.
	return err == syscall.EWOULDBLOCK || err == syscall.EINTR
}

func (c *Connection) SetReadTimeout(timeout time.Duration) error {
	return c.setSocketTimeout(unix.SO_RCVTIMEO, timeout)
}

func (c *Connection) SetSendTimeout(timeout time.Duration) error {
	return c.setSocketTimeout(unix.SO_SNDTIMEO, timeout)
}

func (c *Connection) setSocketTimeout(opt int, timeout time.Duration) error {
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	return unix.SetsockoptTimeval(c.socketFD, unix.SOL_SOCKET, opt, &tv)
}

func (c *Connection) Close() error {
	return unix.Close(c.socketFD)
}

// SendFrame writes one 8-byte CAN frame using the 29-bit extended
// arbitration ID layout (https://github.com/linux-can/can-utils).
func (c *Connection) SendFrame(raw n2k.RawFrame) error {
	canFrame := make([]byte, 16)

	canID := raw.Header.Uint32() | canIDEFFFlag
	binary.LittleEndian.PutUint32(canFrame[0:4], canID)

	canFrame[4] = raw.Length
	copy(canFrame[8:], raw.Data[:raw.Length])

	_, err := unix.Write(c.socketFD, canFrame)
	if isContinuableSocketErr(err) {
		return errWriteTimeout
	}
	return err
}

// ReadRawFrame reads and decomposes one CAN frame; RTR and error frames
// are reported as errors rather than surfaced as data.
func (c *Connection) ReadRawFrame() (n2k.RawFrame, error) {
	canFrame := make([]byte, 16)
	_, err := unix.Read(c.socketFD, canFrame)
	if err != nil {
		if isContinuableSocketErr(err) {
			return n2k.RawFrame{}, errReadTimeout
		}
		return n2k.RawFrame{}, err
	}
	canID := binary.LittleEndian.Uint32(canFrame[0:4])
	if canID&canIDRTRFlag != 0 {
		return n2k.RawFrame{}, errors.New("caninterface: read CAN remote transmission request frame")
	} else if canID&canIDERRFlag != 0 {
		return n2k.RawFrame{}, errors.New("caninterface: read CAN error message frame")
	}

	f := n2k.RawFrame{
		Time:   c.timeNow(),
		Header: n2k.ParseCANID(canID &^ canIDMask),
		Length: canFrame[4],
	}
	copy(f.Data[:], canFrame[8:8+f.Length])

	return f, nil
}
