package pgn

import (
	"errors"
	"fmt"

	n2k "github.com/tuna-marine/n2k-router"
)

// ErrEncodeRepeatingFieldSet is returned when Encode is asked to encode a
// Message whose PGN definition has a repeating field set; encoding those
// back into raw bytes is not supported.
var ErrEncodeRepeatingFieldSet = errors.New("pgn: encoding a repeating field set is not supported")

// ErrEncodeMissingField is returned when a Message is missing a field its
// PGN definition requires.
var ErrEncodeMissingField = errors.New("pgn: message is missing a required field")

// Encoder turns a decoded Message back into a raw NMEA-2000 message,
// the mirror of Decoder.
type Encoder struct {
	registry *Registry
}

func NewEncoder(registry *Registry) *Encoder {
	return &Encoder{registry: registry}
}

// Encode resolves msg.Header.PGN's definition and packs msg.Fields into a
// RawMessage. Proprietary PGNs are resolved by the manufacturerCode field
// value, if the message carries one.
func (e *Encoder) Encode(msg Message) (n2k.RawMessage, error) {
	manufacturerID := uint32(0)
	if fv, ok := msg.Fields.FindByID("manufacturerCode"); ok {
		if v, ok := fv.AsFloat64(); ok {
			manufacturerID = uint32(v)
		}
	}
	def, err := e.registry.Lookup(msg.Header.PGN, manufacturerID)
	if err != nil {
		return n2k.RawMessage{}, fmt.Errorf("pgn: encode: %w", err)
	}
	if def.RepeatingFieldSet1StartField > 0 || def.RepeatingFieldSet2StartField > 0 {
		return n2k.RawMessage{}, ErrEncodeRepeatingFieldSet
	}

	var data n2k.RawData
	bitOffset := def.Fields[0].BitOffset
	for _, f := range def.Fields {
		fv, ok := msg.Fields.FindByID(f.ID)
		if !ok {
			if f.FieldType == FieldTypeReserved || f.FieldType == FieldTypeSpare {
				fv = FieldValue{ID: f.ID, Type: string(f.FieldType)}
			} else {
				return n2k.RawMessage{}, fmt.Errorf("%w: %v", ErrEncodeMissingField, f.ID)
			}
		}
		readBits, err := f.Encode(&data, bitOffset, fv)
		if err != nil {
			return n2k.RawMessage{}, fmt.Errorf("pgn: encode field %v: %w", f.ID, err)
		}
		bitOffset += readBits
	}

	return n2k.RawMessage{Header: msg.Header.Normalize(), Data: data}, nil
}
