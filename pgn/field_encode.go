package pgn

import (
	"fmt"
	"math"

	n2k "github.com/tuna-marine/n2k-router"
)

// Encode writes fv's value into rawData at bitOffset per f's type,
// returning the number of bits written. It is the mirror of Field.Decode.
func (f *Field) Encode(rawData *n2k.RawData, bitOffset uint16, fv FieldValue) (uint16, error) {
	switch f.FieldType {
	case FieldTypeNumber, FieldTypeLookup, FieldTypeIndirectLookup, FieldTypeBitLookup:
		return f.BitLength, f.encodeNumber(rawData, bitOffset, fv)
	case FieldTypeFloat:
		return f.BitLength, f.encodeFloat(rawData, bitOffset, fv)
	case FieldTypeReserved, FieldTypeSpare:
		return f.BitLength, rawData.EncodeVariableUint(bitOffset, f.BitLength, ^uint64(0))
	case FieldTypeBinary:
		b, _ := fv.Value.([]byte)
		return f.BitLength, rawData.EncodeBytes(bitOffset, b)
	case FieldTypeStringLAU:
		s, _ := fv.Value.(string)
		return rawData.EncodeStringLAU(bitOffset, s)
	default:
		return 0, fmt.Errorf("field type: %v, err: %w", f.FieldType, ErrUnsupportedFieldType)
	}
}

func (f *Field) encodeNumber(rawData *n2k.RawData, bitOffset uint16, fv FieldValue) error {
	if f.Resolution != 0 && f.Resolution != 1 {
		value, ok := fv.AsFloat64()
		if !ok {
			return fmt.Errorf("field %v: expected numeric value for scaled field", f.ID)
		}
		return rawData.EncodeFloat(bitOffset, f.BitLength, f.Signed, f.Resolution, f.Offset, value)
	}
	if f.Signed {
		v, ok := fv.Value.(int64)
		if !ok {
			return fmt.Errorf("field %v: expected int64 value", f.ID)
		}
		return rawData.EncodeVariableInt(bitOffset, f.BitLength, v-int64(f.Offset))
	}
	v, ok := fv.Value.(uint64)
	if !ok {
		return fmt.Errorf("field %v: expected uint64 value", f.ID)
	}
	return rawData.EncodeVariableUint(bitOffset, f.BitLength, v-uint64(f.Offset))
}

func (f *Field) encodeFloat(rawData *n2k.RawData, bitOffset uint16, fv FieldValue) error {
	value, ok := fv.AsFloat64()
	if !ok {
		value = math.NaN()
	}
	var bits uint32
	if math.IsNaN(value) {
		bits = math.MaxUint32
	} else {
		bits = math.Float32bits(float32(value))
	}
	return rawData.EncodeVariableUint(bitOffset, 32, uint64(bits))
}
