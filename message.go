// Package n2k implements the core NMEA-2000 / J1939 message model: raw
// frame and message types, CAN arbitration-ID encoding, Fast-Packet and
// ISO-TP (BAM) reassembly, and the low level field codec that the pgn
// package builds its decoder/encoder on top of.
package n2k

import (
	"time"
)

// FastRawPacketMaxSize is the maximum total payload size of a Fast-Packet
// sequence: 6 bytes in the first frame plus 7 bytes in each of the
// remaining 31 frames (31*7+6 = 223).
const FastRawPacketMaxSize = 223

// IsoTPMaxSize is the maximum total payload size of a J1939-21 BAM
// transport-protocol sequence (255 data frames of 7 bytes each:
// 255*7 = 1785).
const IsoTPMaxSize = 1785

// Address has special meanings at the top of the address range.
const (
	AddressNull      uint8 = 254
	AddressGlobal    uint8 = 255 // broadcast destination
	AddressUnclaimed uint8 = 255
)

// Well-known ISO 11783 / NMEA-2000 network-management PGNs, handled
// directly by the CAN application (canapp) rather than routed as
// ordinary data.
const (
	PGNISOAcknowledgement       uint32 = 59392
	PGNISORequest               uint32 = 59904
	PGNISOAddressClaim          uint32 = 60928
	PGNCommandedAddress         uint32 = 65240
	PGNGroupFunction            uint32 = 126208
	PGNPGNList                  uint32 = 126464
	PGNHeartbeat                uint32 = 126993
	PGNProductInfo              uint32 = 126996
	PGNConfigurationInformation uint32 = 126998
)

var isoProtocolPGNs = map[uint32]bool{
	PGNISOAcknowledgement:       true,
	PGNISORequest:               true,
	PGNISOAddressClaim:          true,
	PGNCommandedAddress:         true,
	PGNGroupFunction:            true,
	PGNPGNList:                  true,
	PGNHeartbeat:                true,
	PGNProductInfo:              true,
	PGNConfigurationInformation: true,
}

// IsIsoProtocolPGN reports whether pgn is handled by the CAN network
// management layer rather than being routed as ordinary data.
func IsIsoProtocolPGN(pgn uint32) bool {
	return isoProtocolPGNs[pgn]
}

// TransportClass partitions the PGN space per spec §3 "PGN range taxonomy".
type TransportClass uint8

const (
	TransportUnknown TransportClass = iota
	TransportControl
	TransportSingleAddressed
	TransportSingleProprietaryAddressed
	TransportSingleBroadcast
	TransportSingleProprietaryBroadcast
	TransportFastPacketAddressed
	TransportFastPacketProprietaryAddressed
	TransportMixed
	TransportFastPacketProprietaryBroadcast
)

// ClassifyPGN returns the transport class a PGN value falls into, per the
// range taxonomy in spec §3. It does not consult the PGN schema registry;
// callers who need the registry's "is_fast_packet" flag for PGNs in the
// TransportMixed range should use that instead.
func ClassifyPGN(pgn uint32) TransportClass {
	switch {
	case pgn <= 0xE7FF:
		return TransportControl
	case pgn <= 0xEEFF:
		return TransportSingleAddressed
	case pgn <= 0xEFFF:
		return TransportSingleProprietaryAddressed
	case pgn <= 0xFEFF: // 0xF000..0xFEFF
		return TransportSingleBroadcast
	case pgn <= 0xFFFF:
		return TransportSingleProprietaryBroadcast
	case pgn <= 0x1EE00:
		return TransportFastPacketAddressed
	case pgn <= 0x1EFFF:
		return TransportFastPacketProprietaryAddressed
	case pgn <= 0x1FEFF:
		return TransportMixed
	case pgn <= 0x1FFFF:
		return TransportFastPacketProprietaryBroadcast
	default:
		return TransportUnknown
	}
}

// RawFrame is a single 8-byte CAN data frame together with the decomposed
// arbitration-ID header. It is what the CAN interface (caninterface
// package) reads from and writes to the bus.
type RawFrame struct {
	Time   time.Time
	Header CanBusHeader
	Length uint8
	Data   [8]byte
}

// RawMessage is a fully reassembled NMEA-2000 message: either a
// single-frame message, or the product of Fast-Packet / ISO-TP
// reassembly. Payload length is 0..1785 bytes (IsoTPMaxSize).
type RawMessage struct {
	// Time is when the message was received (for multi-frame messages,
	// the first frame's timestamp is preserved per spec §5 ordering
	// guarantees).
	Time   time.Time
	Header CanBusHeader
	Data   RawData
}

// IsFastPacket reports whether this message's PGN falls in a fast-packet
// transport range per the static taxonomy (schema-driven overrides for
// the "mixed" range are the registry's job, not this type's).
func (m RawMessage) IsFastPacket() bool {
	switch ClassifyPGN(m.Header.PGN) {
	case TransportFastPacketAddressed, TransportFastPacketProprietaryAddressed, TransportFastPacketProprietaryBroadcast:
		return true
	default:
		return false
	}
}

// IsIsoProtocol reports whether this message's PGN is one of the fixed
// network-management PGNs the CAN application handles locally.
func (m RawMessage) IsIsoProtocol() bool {
	return IsIsoProtocolPGN(m.Header.PGN)
}
