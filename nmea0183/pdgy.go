package nmea0183

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	n2k "github.com/tuna-marine/n2k-router"
)

// errNotPDGY is returned when a sentence's address isn't the "PDGY"
// NMEA-2000 encapsulation tag.
var errNotPDGY = fmt.Errorf("nmea0183: not a !PDGY encapsulation sentence")

// DecodePDGY decodes a "!PDGY,pgn,prio,sa,da,ts,base64" sentence into
// its embedded NMEA-2000 RawMessage (spec §6's NMEA-0183 encapsulation
// format for gateways that tunnel N2K frames over a 0183 link).
func DecodePDGY(s Sentence) (n2k.RawMessage, error) {
	if s.Address != "PDGY" {
		return n2k.RawMessage{}, errNotPDGY
	}
	if len(s.Fields) < 6 {
		return n2k.RawMessage{}, fmt.Errorf("nmea0183: PDGY sentence has %d fields, want 6", len(s.Fields))
	}

	pgn, err := strconv.ParseUint(s.Field(0), 10, 32)
	if err != nil {
		return n2k.RawMessage{}, fmt.Errorf("nmea0183: PDGY pgn: %w", err)
	}
	priority, err := strconv.ParseUint(s.Field(1), 10, 8)
	if err != nil {
		return n2k.RawMessage{}, fmt.Errorf("nmea0183: PDGY priority: %w", err)
	}
	source, err := strconv.ParseUint(s.Field(2), 10, 8)
	if err != nil {
		return n2k.RawMessage{}, fmt.Errorf("nmea0183: PDGY source: %w", err)
	}
	destination, err := strconv.ParseUint(s.Field(3), 10, 8)
	if err != nil {
		return n2k.RawMessage{}, fmt.Errorf("nmea0183: PDGY destination: %w", err)
	}
	tsMillis, err := strconv.ParseInt(s.Field(4), 10, 64)
	if err != nil {
		return n2k.RawMessage{}, fmt.Errorf("nmea0183: PDGY timestamp: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(s.Field(5))
	if err != nil {
		return n2k.RawMessage{}, fmt.Errorf("nmea0183: PDGY payload: %w", err)
	}

	return n2k.RawMessage{
		Time: time.UnixMilli(tsMillis).UTC(),
		Header: n2k.CanBusHeader{
			PGN:         uint32(pgn),
			Priority:    uint8(priority),
			Source:      uint8(source),
			Destination: uint8(destination),
		},
		Data: data,
	}, nil
}

// EncodePDGY renders msg as a "!PDGY" encapsulation sentence.
func EncodePDGY(msg n2k.RawMessage) string {
	fields := []string{
		strconv.FormatUint(uint64(msg.Header.PGN), 10),
		strconv.FormatUint(uint64(msg.Header.Priority), 10),
		strconv.FormatUint(uint64(msg.Header.Source), 10),
		strconv.FormatUint(uint64(msg.Header.Destination), 10),
		strconv.FormatInt(msg.Time.UnixMilli(), 10),
		base64.StdEncoding.EncodeToString(msg.Data),
	}
	return Format('!', "PDGY", fields)
}
