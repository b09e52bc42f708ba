package pgn

import (
	"fmt"

	n2k "github.com/tuna-marine/n2k-router"
)

// Decode extracts f's value from rawData starting at bitOffset, returning
// the number of bits consumed (which can differ from f.BitLength for
// variable-length string types).
func (f *Field) Decode(rawData n2k.RawData, bitOffset uint16) (FieldValue, uint16, error) {
	switch f.FieldType {
	case FieldTypeNumber:
		value, err := f.decodeNumber(rawData, bitOffset)
		return value, f.BitLength, err
	case FieldTypeLookup, FieldTypeIndirectLookup, FieldTypeBitLookup:
		// Decoder converts these to EnumValue/[]EnumValue afterwards.
		value, err := f.decodeNumber(rawData, bitOffset)
		return value, f.BitLength, err
	case FieldTypeReserved, FieldTypeSpare, FieldTypeBinary:
		return f.decodeBytes(rawData, bitOffset)
	case FieldTypeTime:
		value, err := f.decodeTime(rawData, bitOffset)
		return value, f.BitLength, err
	case FieldTypeMMSI:
		value, err := f.decodeMMSI(rawData, bitOffset)
		return value, f.BitLength, err
	case FieldTypeStringFix:
		value, err := f.decodeStringFix(rawData, bitOffset)
		return value, f.BitLength, err
	case FieldTypeStringLz:
		return f.decodeStringLZ(rawData, bitOffset)
	case FieldTypeStringLAU:
		return f.decodeStringLAU(rawData, bitOffset)
	case FieldTypeDate:
		value, err := f.decodeDate(rawData, bitOffset)
		return value, f.BitLength, err
	case FieldTypeDecimal:
		value, err := f.decodeDecimal(rawData, bitOffset)
		return value, f.BitLength, err
	case FieldTypeFloat:
		value, err := f.decodeFloat(rawData, bitOffset)
		return value, f.BitLength, err
	}
	return FieldValue{}, 0, fmt.Errorf("field type: %v, err: %w", f.FieldType, ErrUnsupportedFieldType)
}

func (f *Field) decodeNumber(rawData n2k.RawData, bitOffset uint16) (FieldValue, error) {
	var tmpIntValue int64
	var tmpUIntValue uint64
	var err error
	if f.Signed {
		tmpIntValue, err = rawData.DecodeVariableInt(bitOffset, f.BitLength)
	} else {
		tmpUIntValue, err = rawData.DecodeVariableUint(bitOffset, f.BitLength)
	}
	if err != nil {
		return FieldValue{}, err
	}

	var value interface{}
	if f.Signed {
		tmpIntValue += int64(f.Offset)
		if f.Resolution == 1 || f.Resolution == 0 {
			return FieldValue{ID: f.ID, Type: "INT64", Value: tmpIntValue}, nil
		}
		value = float64(tmpIntValue) * f.Resolution
	} else {
		tmpUIntValue += uint64(f.Offset)
		if f.Resolution == 1 || f.Resolution == 0 {
			return FieldValue{ID: f.ID, Type: "UINT64", Value: tmpUIntValue}, nil
		}
		value = float64(tmpUIntValue) * f.Resolution
	}
	return FieldValue{ID: f.ID, Type: "FLOAT64", Value: value}, nil
}

func (f *Field) decodeBytes(rawData n2k.RawData, bitOffset uint16) (FieldValue, uint16, error) {
	value, bits, err := rawData.DecodeBytes(bitOffset, f.BitLength, f.BitLengthVariable)
	if err != nil {
		return FieldValue{}, 0, err
	}
	return FieldValue{ID: f.ID, Type: "BYTES", Value: value}, bits, nil
}

func (f *Field) decodeTime(rawData n2k.RawData, bitOffset uint16) (FieldValue, error) {
	value, err := rawData.DecodeTime(bitOffset, f.BitLength, f.Resolution)
	if err != nil {
		return FieldValue{}, err
	}
	return FieldValue{ID: f.ID, Type: "DURATION", Value: value}, nil
}

func (f *Field) decodeDate(rawData n2k.RawData, bitOffset uint16) (FieldValue, error) {
	str, err := rawData.DecodeDate(bitOffset, f.BitLength)
	if err != nil {
		return FieldValue{}, err
	}
	return FieldValue{ID: f.ID, Type: "DATE", Value: str}, nil
}

func (f *Field) decodeMMSI(rawData n2k.RawData, bitOffset uint16) (FieldValue, error) {
	mmsi, err := rawData.DecodeVariableUint(bitOffset, f.BitLength)
	if err != nil {
		return FieldValue{}, err
	}
	return FieldValue{ID: f.ID, Type: "UINT64", Value: mmsi}, nil
}

func (f *Field) decodeStringFix(rawData n2k.RawData, bitOffset uint16) (FieldValue, error) {
	str, err := rawData.DecodeStringFix(bitOffset, f.BitLength)
	if err != nil {
		return FieldValue{}, err
	}
	return FieldValue{ID: f.ID, Type: "STRING", Value: str}, nil
}

func (f *Field) decodeStringLZ(rawData n2k.RawData, bitOffset uint16) (FieldValue, uint16, error) {
	str, readBits, err := rawData.DecodeStringLZ(bitOffset, f.BitLength)
	if err != nil {
		return FieldValue{}, 0, err
	}
	return FieldValue{ID: f.ID, Type: "STRING", Value: str}, readBits, nil
}

func (f *Field) decodeStringLAU(rawData n2k.RawData, bitOffset uint16) (FieldValue, uint16, error) {
	str, readBits, err := rawData.DecodeStringLAU(bitOffset)
	if err != nil {
		return FieldValue{}, 0, err
	}
	return FieldValue{ID: f.ID, Type: "STRING", Value: str}, readBits, nil
}

func (f *Field) decodeDecimal(rawData n2k.RawData, bitOffset uint16) (FieldValue, error) {
	decimal, err := rawData.DecodeDecimal(bitOffset, f.BitLength)
	if err != nil {
		return FieldValue{}, err
	}
	return FieldValue{ID: f.ID, Type: "UINT64", Value: decimal}, nil
}

func (f *Field) decodeFloat(rawData n2k.RawData, bitOffset uint16) (FieldValue, error) {
	float, err := rawData.DecodeFloat(bitOffset, f.BitLength)
	if err != nil {
		return FieldValue{}, err
	}
	return FieldValue{ID: f.ID, Type: "FLOAT64", Value: float}, nil
}
