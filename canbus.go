package n2k

// CanBusHeader holds the fields decomposed from a 29-bit extended CAN
// arbitration ID: priority, PGN, source and destination address.
type CanBusHeader struct {
	PGN         uint32 `json:"pgn"`
	Priority    uint8  `json:"priority"`
	Source      uint8  `json:"source"`
	Destination uint8  `json:"destination"`
}

// Normalize enforces the invariant from spec §3: PDU2 (broadcast, PF>=240)
// PGNs always carry destination AddressGlobal; PDU1 (addressed) PGNs never
// carry group-extension bits in their low byte.
func (h CanBusHeader) Normalize() CanBusHeader {
	pf := uint8(h.PGN >> 8)
	if pf >= 240 {
		h.Destination = AddressGlobal
	} else {
		h.PGN &^= 0xFF
	}
	return h
}

// Uint32 builds the 29-bit CAN arbitration ID (without the EFF/RTR/ERR
// flag bits the socketcan frame wrapper adds) from the header.
func (h CanBusHeader) Uint32() uint32 {
	canID := uint32(h.Source) // bits 0-7

	pf := uint8(h.PGN >> 8)
	if pf < 240 {
		canID |= uint32(h.Destination) << 8 // bits 8-15 (PDU1: destination-specific)
	}
	canID |= h.PGN << 8                  // bits 8-25: PDU format/specific + data page
	canID |= uint32(h.Priority&0x7) << 26 // bits 26-28
	return canID
}

// ParseCANID decomposes a 29-bit extended CAN arbitration ID into a
// CanBusHeader, per spec §4.5 "Arbitration-ID layout".
func ParseCANID(canID uint32) CanBusHeader {
	result := CanBusHeader{
		Priority: uint8((canID >> 26) & 0x7), // bits 26-28
		Source:   uint8(canID),               // bits 0-7
	}
	ps := uint8(canID >> 8)         // bits 8-15 (PDU specific)
	pduFormat := uint8(canID >> 16) // bits 16-23
	dataPage := uint8(canID>>24) & 3

	pgn := uint32(dataPage)<<16 | uint32(pduFormat)<<8
	if pduFormat < 240 {
		result.Destination = ps
		result.PGN = pgn
	} else {
		result.Destination = AddressGlobal // 0xff is broadcast to all
		result.PGN = pgn + uint32(ps)
	}
	return result
}
