// Package message implements the tagged-union message envelope (spec
// §4.11) that couplers, publishers and the router pass around: a raw
// NMEA-0183 sentence, a raw NMEA-2000 message, or a decoded PGN object,
// always carrying a timestamp.
package message

import (
	"errors"
	"fmt"
	"time"

	n2k "github.com/tuna-marine/n2k-router"
	"github.com/tuna-marine/n2k-router/nmea0183"
	"github.com/tuna-marine/n2k-router/pgn"
)

// Kind identifies which variant of Envelope is populated.
type Kind int

const (
	KindNMEA0183 Kind = iota
	KindNMEA2000Raw
	KindNMEA2000Decoded
)

func (k Kind) String() string {
	switch k {
	case KindNMEA0183:
		return "nmea0183"
	case KindNMEA2000Raw:
		return "nmea2000-raw"
	case KindNMEA2000Decoded:
		return "nmea2000-decoded"
	default:
		return "unknown"
	}
}

// ErrWrongKind is returned by a conversion method called on an Envelope
// whose Kind doesn't support it.
var ErrWrongKind = errors.New("message: envelope is the wrong kind for this conversion")

// ErrNoCodec is returned by ToRaw/ToDecoded when the Kind requires a
// codec (Encoder/Decoder) but none was given.
var ErrNoCodec = errors.New("message: no codec given for this conversion")

// Envelope is the tagged union described by spec §4.11. Exactly one of
// Sentence/Raw/Decoded is populated, selected by Kind. RawRef optionally
// keeps the originating raw frame alongside a Decoded value.
type Envelope struct {
	Kind      Kind
	Timestamp time.Time

	Sentence nmea0183.Sentence
	Raw      n2k.RawMessage
	Decoded  pgn.Message

	RawRef *n2k.RawMessage
}

// FromSentence wraps a parsed NMEA-0183 sentence.
func FromSentence(s nmea0183.Sentence, ts time.Time) Envelope {
	return Envelope{Kind: KindNMEA0183, Timestamp: ts, Sentence: s}
}

// FromRaw wraps a raw NMEA-2000 message.
func FromRaw(raw n2k.RawMessage) Envelope {
	return Envelope{Kind: KindNMEA2000Raw, Timestamp: raw.Time, Raw: raw}
}

// FromDecoded wraps a decoded PGN object, optionally keeping a reference
// to the raw frame it came from.
func FromDecoded(msg pgn.Message, ts time.Time, rawRef *n2k.RawMessage) Envelope {
	return Envelope{Kind: KindNMEA2000Decoded, Timestamp: ts, Decoded: msg, RawRef: rawRef}
}

// ToRaw converts a KindNMEA2000Decoded envelope to its raw encoding via
// enc. KindNMEA2000Raw envelopes return their Raw value unchanged; any
// other Kind is an error.
func (e Envelope) ToRaw(enc *pgn.Encoder) (n2k.RawMessage, error) {
	switch e.Kind {
	case KindNMEA2000Raw:
		return e.Raw, nil
	case KindNMEA2000Decoded:
		if enc == nil {
			return n2k.RawMessage{}, ErrNoCodec
		}
		raw, err := enc.Encode(e.Decoded)
		if err != nil {
			return n2k.RawMessage{}, fmt.Errorf("message: encode decoded envelope: %w", err)
		}
		return raw, nil
	default:
		return n2k.RawMessage{}, fmt.Errorf("%w: %v has no raw form", ErrWrongKind, e.Kind)
	}
}

// ToDecoded converts a KindNMEA2000Raw envelope to a decoded pgn.Message
// via dec's registry lookup and field codec. KindNMEA2000Decoded
// envelopes return their Decoded value unchanged; any other Kind is an
// error.
func (e Envelope) ToDecoded(dec *pgn.Decoder) (pgn.Message, error) {
	switch e.Kind {
	case KindNMEA2000Decoded:
		return e.Decoded, nil
	case KindNMEA2000Raw:
		if dec == nil {
			return pgn.Message{}, ErrNoCodec
		}
		msg, err := dec.Decode(e.Raw)
		if err != nil {
			return pgn.Message{}, fmt.Errorf("message: decode raw envelope: %w", err)
		}
		return msg, nil
	default:
		return pgn.Message{}, fmt.Errorf("%w: %v has no decoded form", ErrWrongKind, e.Kind)
	}
}

// PGN returns the NMEA-2000 PGN this envelope's message carries, or
// (0, false) for an NMEA-0183 envelope.
func (e Envelope) PGN() (uint32, bool) {
	switch e.Kind {
	case KindNMEA2000Raw:
		return e.Raw.Header.PGN, true
	case KindNMEA2000Decoded:
		return e.Decoded.Header.PGN, true
	default:
		return 0, false
	}
}

// Source returns the NMEA-2000 source address this envelope's message
// carries, or (0, false) for an NMEA-0183 envelope.
func (e Envelope) Source() (uint8, bool) {
	switch e.Kind {
	case KindNMEA2000Raw:
		return e.Raw.Header.Source, true
	case KindNMEA2000Decoded:
		return e.Decoded.Header.Source, true
	default:
		return 0, false
	}
}
