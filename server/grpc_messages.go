package server

// NMEALine is one ingested NMEA-0183 sentence line, the wire message for
// PushNMEA (spec §6 "remote gRPC producers").
type NMEALine struct {
	Line              string `json:"line"`
	TimestampUnixNano int64  `json:"timestamp_unix_nano"`
}

// DecodedPGN is one decoded NMEA-2000 message, carried over the wire as
// its header plus a flattened field/value map (any field whose decoded
// value isn't numeric — strings, raw bytes, enum codes — is dropped;
// subscribers needing those should use the TCP feed instead).
type DecodedPGN struct {
	PGN               uint32             `json:"pgn"`
	Priority          uint8              `json:"priority"`
	Source            uint8              `json:"source"`
	Destination       uint8              `json:"destination"`
	TimestampUnixNano int64              `json:"timestamp_unix_nano"`
	Fields            map[string]float64 `json:"fields"`
}

// Status is the ack every ingest RPC returns on stream close.
type Status struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// SubscribeRequest is the (empty) request that opens a per-domain
// subscription stream.
type SubscribeRequest struct{}
