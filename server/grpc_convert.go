package server

import (
	"time"

	n2k "github.com/tuna-marine/n2k-router"
	"github.com/tuna-marine/n2k-router/message"
	"github.com/tuna-marine/n2k-router/pgn"
)

// envelopeToDecodedPGN flattens a decoded pgn.Message's numeric fields
// onto the wire message; non-numeric field values (strings, raw bytes,
// enum codes) have no place in this flattened map and are dropped.
func envelopeToDecodedPGN(decoded pgn.Message, env message.Envelope) *DecodedPGN {
	fields := make(map[string]float64, len(decoded.Fields))
	for _, f := range decoded.Fields {
		if v, ok := f.AsFloat64(); ok {
			fields[f.ID] = v
		}
	}
	return &DecodedPGN{
		PGN:               decoded.Header.PGN,
		Priority:          decoded.Header.Priority,
		Source:            decoded.Header.Source,
		Destination:       decoded.Header.Destination,
		TimestampUnixNano: env.Timestamp.UnixNano(),
		Fields:            fields,
	}
}

// decodedPGNToEnvelope wraps an inbound PushDecodedNMEA2K message back
// into a decoded envelope, reconstructing only the header and the
// numeric fields the wire format carries.
func decodedPGNToEnvelope(in *DecodedPGN) message.Envelope {
	fields := make(pgn.FieldValues, 0, len(in.Fields))
	for id, v := range in.Fields {
		fields = append(fields, pgn.FieldValue{ID: id, Type: "number", Value: v})
	}
	msg := pgn.Message{
		Header: n2k.CanBusHeader{
			PGN:         in.PGN,
			Priority:    in.Priority,
			Source:      in.Source,
			Destination: in.Destination,
		},
		Fields: fields,
	}
	ts := time.Unix(0, in.TimestampUnixNano)
	return message.FromDecoded(msg, ts, nil)
}
