package n2k

import (
	"context"
)

// RawMessageReader is implemented by anything that produces reassembled
// NMEA-2000 messages: a CAN interface (caninterface.Device) or a serial
// USB-to-CAN gateway (actisense.NGT1).
type RawMessageReader interface {
	ReadRawMessage(ctx context.Context) (RawMessage, error)
	Initialize() error
	Close() error
}

// RawMessageWriter is implemented by anything that can send a NMEA-2000
// message back out, fragmenting it into Fast-Packet or ISO-TP frames as
// needed.
type RawMessageWriter interface {
	WriteRawMessage(ctx context.Context, msg RawMessage) error
	Close() error
}

// RawMessageReaderWriter is the full bidirectional device contract.
type RawMessageReaderWriter interface {
	RawMessageReader
	RawMessageWriter
}

// FrameReader is implemented by the low level CAN frame transport
// (caninterface.Connection, or a SocketCAN-like driver elsewhere).
type FrameReader interface {
	ReadRawFrame() (RawFrame, error)
}

// FrameWriter is implemented by the low level CAN frame transport.
type FrameWriter interface {
	SendFrame(frame RawFrame) error
}

// FrameReaderWriter is the full bidirectional frame-level device contract.
type FrameReaderWriter interface {
	FrameReader
	FrameWriter
	Close() error
}
