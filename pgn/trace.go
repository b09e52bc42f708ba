package pgn

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	n2k "github.com/tuna-marine/n2k-router"
)

// MarshalRawMessage renders msg in the canboat-compatible CSV trace format:
// time,priority,pgn,source,destination,length,<hex bytes...>
func MarshalRawMessage(msg n2k.RawMessage) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteString(msg.Time.Format(time.RFC3339Nano))
	buf.WriteByte(',')
	buf.WriteString(strconv.Itoa(int(msg.Header.Priority)))
	buf.WriteByte(',')
	buf.WriteString(strconv.Itoa(int(msg.Header.PGN)))
	buf.WriteByte(',')
	buf.WriteString(strconv.Itoa(int(msg.Header.Source)))
	buf.WriteByte(',')
	buf.WriteString(strconv.Itoa(int(msg.Header.Destination)))
	buf.WriteByte(',')
	buf.WriteString(strconv.Itoa(len(msg.Data)))
	for _, b := range msg.Data {
		if _, err := fmt.Fprintf(buf, ",%02x", b); err != nil {
			return nil, fmt.Errorf("pgn: marshal raw message failure: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalRawMessage parses one line of the canboat CSV trace format back
// into a RawMessage.
func UnmarshalRawMessage(raw string) (n2k.RawMessage, error) {
	parts := strings.Split(raw, ",")
	if len(parts) < 7 {
		return n2k.RawMessage{}, errors.New("pgn: trace line has fewer components than expected")
	}
	dLen, err := strconv.ParseUint(parts[5], 10, 16)
	if err != nil {
		return n2k.RawMessage{}, fmt.Errorf("pgn: trace line invalid data length: %w", err)
	}
	if len(parts)-6 != int(dLen) {
		return n2k.RawMessage{}, errors.New("pgn: trace line data length does not match byte count")
	}

	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return n2k.RawMessage{}, fmt.Errorf("pgn: trace line invalid time: %w", err)
	}
	prio, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return n2k.RawMessage{}, fmt.Errorf("pgn: trace line invalid priority: %w", err)
	}
	pgnValue, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return n2k.RawMessage{}, fmt.Errorf("pgn: trace line invalid PGN: %w", err)
	}
	source, err := strconv.ParseUint(parts[3], 10, 8)
	if err != nil {
		return n2k.RawMessage{}, fmt.Errorf("pgn: trace line invalid source: %w", err)
	}
	destination, err := strconv.ParseUint(parts[4], 10, 8)
	if err != nil {
		return n2k.RawMessage{}, fmt.Errorf("pgn: trace line invalid destination: %w", err)
	}
	data, err := hex.DecodeString(strings.Join(parts[6:], ""))
	if err != nil {
		return n2k.RawMessage{}, fmt.Errorf("pgn: trace line invalid hex payload: %w", err)
	}

	return n2k.RawMessage{
		Time: t.UTC(),
		Header: n2k.CanBusHeader{
			PGN:         uint32(pgnValue),
			Priority:    uint8(prio),
			Source:      uint8(source),
			Destination: uint8(destination),
		},
		Data: data,
	}, nil
}
