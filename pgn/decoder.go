package pgn

import (
	"errors"
	"fmt"
	"math"

	n2k "github.com/tuna-marine/n2k-router"
)

var ErrDecodeUnknownPGN = errors.New("pgn: decode failed, unknown PGN seen")

// DecoderConfig controls which otherwise-noisy fields the Decoder includes
// in its output.
type DecoderConfig struct {
	// DecodeReservedFields includes RESERVED type fields in output.
	DecodeReservedFields bool
	// DecodeSpareFields includes SPARE type fields in output.
	DecodeSpareFields bool
	// DecodeLookupsToEnumType converts a lookup's raw number to its
	// resolved EnumValue/[]EnumValue pair.
	DecodeLookupsToEnumType bool
}

// Decoder turns raw NMEA-2000 messages into decoded field values using a
// Registry's PGN schema.
type Decoder struct {
	config   DecoderConfig
	registry *Registry
}

func NewDecoderWithConfig(registry *Registry, config DecoderConfig) *Decoder {
	return &Decoder{registry: registry, config: config}
}

func NewDecoder(registry *Registry) *Decoder {
	return &Decoder{registry: registry}
}

type decodedField struct {
	Field    Field
	Value    FieldValue
	ValueSet [][]decodedField
}

// Decode resolves raw's PGN definition (by manufacturer code for
// proprietary PGNs, or by matchable field value for multi-variant PGNs)
// and decodes its payload into a Message.
func (d *Decoder) Decode(raw n2k.RawMessage) (Message, error) {
	def, err := d.findPGN(raw)
	if err != nil {
		return Message{}, err
	}

	var fields []decodedField
	if def.RepeatingFieldSet1StartField > 0 || def.RepeatingFieldSet2StartField > 0 {
		fields, err = d.decodeWithRepeatedFields(def, raw)
	} else {
		fields, err = d.decode(def, raw)
	}
	if err != nil {
		return Message{}, err
	}

	values, err := d.postProcessFields(fields)
	if err != nil {
		return Message{}, err
	}
	return Message{Header: raw.Header, Fields: values}, nil
}

func (d *Decoder) findPGN(raw n2k.RawMessage) (PGN, error) {
	if def, ok := d.registry.matchableByPGN[raw.Header.PGN]; ok {
		if match, ok := def.Match(raw.Data); ok {
			return match, nil
		}
		return PGN{}, ErrDecodeUnknownPGN
	}
	manufacturerID := uint32(0)
	if variants, ok := d.registry.proprietaryByPGN[raw.Header.PGN]; ok {
		if len(variants) > 1 {
			manufacturerID = d.peekManufacturerCode(raw.Data)
		}
	}
	def, err := d.registry.Lookup(raw.Header.PGN, manufacturerID)
	if err != nil {
		return PGN{}, ErrDecodeUnknownPGN
	}
	return def, nil
}

// peekManufacturerCode reads the 11-bit manufacturer code that proprietary
// PGNs carry at bit offset 0, without committing to a schema.
func (d *Decoder) peekManufacturerCode(data n2k.RawData) uint32 {
	v, err := data.DecodeVariableUint(0, 11)
	if err != nil {
		return 0
	}
	return uint32(v)
}

var errValueIgnored = errors.New("pgn: field value ignored")

func (d *Decoder) decodeSingleField(raw n2k.RawMessage, f Field, bitOffset uint16) (decodedField, uint16, error) {
	if (f.FieldType == FieldTypeReserved && !d.config.DecodeReservedFields) ||
		(f.FieldType == FieldTypeSpare && !d.config.DecodeSpareFields) {
		return decodedField{}, f.BitLength, errValueIgnored
	}

	fv, readBits, err := f.Decode(raw.Data, bitOffset)
	if err != nil {
		if errors.Is(err, n2k.ErrValueNoData) || errors.Is(err, n2k.ErrValueOutOfRange) || errors.Is(err, n2k.ErrValueReserved) {
			return decodedField{}, readBits, errValueIgnored
		}
		return decodedField{}, 0, fmt.Errorf("pgn: decoder failed to decode field: %v, err: %w", f.ID, err)
	}
	return decodedField{Field: f, Value: fv}, readBits, nil
}

func (d *Decoder) decode(def PGN, raw n2k.RawMessage) ([]decodedField, error) {
	decoded := make([]decodedField, 0, len(def.Fields))
	messageBitCount := uint16(len(raw.Data) * 8)
	bitOffset := def.Fields[0].BitOffset

	for i := 0; bitOffset < messageBitCount; i++ {
		if i >= len(def.Fields) {
			break
		}
		f := def.Fields[i]

		dfv, readBits, err := d.decodeSingleField(raw, f, bitOffset)
		bitOffset += readBits

		if err == errValueIgnored {
			continue
		}
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, dfv)
	}
	return decoded, nil
}

func (d *Decoder) decodeWithRepeatedFields(def PGN, raw n2k.RawMessage) ([]decodedField, error) {
	decoded := make([]decodedField, 0, len(def.Fields))
	messageBitCount := uint16(len(raw.Data) * 8)
	bitOffset := def.Fields[0].BitOffset

	neededRepetitionCountFields := 0
	currentFieldOrder := 1
	currentRepFieldOrder := 0
	currentRepGroupIndex := 0

	var rep1Values [][]decodedField
	rep1StartIndex := math.MaxInt
	if def.RepeatingFieldSet1StartField > 0 {
		rep1StartIndex = int(def.RepeatingFieldSet1StartField)
	}
	rep1EndIndex := 0
	if def.RepeatingFieldSet1CountField == 0 {
		rep1EndIndex = math.MaxInt
		rep1Values = make([][]decodedField, 0, 1)
	} else {
		neededRepetitionCountFields++
	}

	var rep2Values [][]decodedField
	rep2StartIndex := math.MaxInt
	if def.RepeatingFieldSet2StartField > 0 {
		rep2StartIndex = int(def.RepeatingFieldSet2StartField)
	}
	rep2EndIndex := 0
	if def.RepeatingFieldSet2CountField == 0 {
		rep2EndIndex = math.MaxInt
		rep2Values = make([][]decodedField, 0, 1)
	} else {
		neededRepetitionCountFields++
	}

	for i := 0; bitOffset < messageBitCount; i++ {
		if currentFieldOrder > len(def.Fields) {
			break
		}
		f := def.Fields[currentFieldOrder-1]

		isWithinRep1 := currentFieldOrder >= rep1StartIndex && currentFieldOrder <= rep1EndIndex
		isWithinRep2 := !isWithinRep1 && currentFieldOrder >= rep2StartIndex && currentFieldOrder <= rep2EndIndex
		if isWithinRep1 {
			if currentFieldOrder == rep1StartIndex {
				currentRepFieldOrder = 1
			} else {
				currentRepFieldOrder++
			}
			currentFieldOrder = rep1StartIndex + (currentRepFieldOrder % int(def.RepeatingFieldSet1Size))
			currentRepGroupIndex = (currentRepFieldOrder - 1) / int(def.RepeatingFieldSet1Size)
		} else if isWithinRep2 {
			if currentFieldOrder == rep2StartIndex {
				currentRepFieldOrder = 1
			} else {
				currentRepFieldOrder++
			}
			currentFieldOrder = rep2StartIndex + (currentRepFieldOrder % int(def.RepeatingFieldSet2Size))
			currentRepGroupIndex = (currentRepFieldOrder - 1) / int(def.RepeatingFieldSet2Size)
		} else {
			currentFieldOrder++
		}

		dfv, readBits, err := d.decodeSingleField(raw, f, bitOffset)
		bitOffset += readBits

		if err == errValueIgnored {
			continue
		}
		if err != nil {
			return nil, err
		}

		if neededRepetitionCountFields > 0 {
			if currentFieldOrder-1 == int(def.RepeatingFieldSet1CountField) {
				rep1Count := int(dfv.Value.Value.(uint64))
				rep1Values = make([][]decodedField, 0, rep1Count)
				rep1EndIndex = rep1Count*int(def.RepeatingFieldSet1Size) + int(def.RepeatingFieldSet1StartField)
				neededRepetitionCountFields--
			} else if currentFieldOrder-1 == int(def.RepeatingFieldSet2CountField) {
				rep2Count := int(dfv.Value.Value.(uint64))
				rep2Values = make([][]decodedField, 0, rep2Count)
				rep2EndIndex = rep2Count*int(def.RepeatingFieldSet2Size) + int(def.RepeatingFieldSet2StartField)
				neededRepetitionCountFields--
			}
		}

		if isWithinRep1 {
			if currentRepGroupIndex+1 != len(rep1Values) {
				rep1Values = append(rep1Values, make([]decodedField, 0, def.RepeatingFieldSet1Size))
			}
			rep1Values[currentRepGroupIndex] = append(rep1Values[currentRepGroupIndex], dfv)
		} else if isWithinRep2 {
			if currentRepGroupIndex+1 != len(rep2Values) {
				rep2Values = append(rep2Values, make([]decodedField, 0, def.RepeatingFieldSet2Size))
			}
			rep2Values[currentRepGroupIndex] = append(rep2Values[currentRepGroupIndex], dfv)
		} else {
			decoded = append(decoded, dfv)
		}
	}
	if len(rep1Values) > 0 {
		decoded = append(decoded, decodedField{Field: Field{ID: "FIELDSET_1"}, ValueSet: rep1Values})
	}
	if len(rep2Values) > 0 {
		decoded = append(decoded, decodedField{Field: Field{ID: "FIELDSET_2"}, ValueSet: rep2Values})
	}
	return decoded, nil
}

func (d *Decoder) postProcessFields(fields []decodedField) (FieldValues, error) {
	result := make([]FieldValue, 0, len(fields))
	for _, f := range fields {
		if f.ValueSet != nil {
			fieldsets := make([][]FieldValue, 0, len(f.ValueSet))
			for _, fs := range f.ValueSet {
				tmp, err := d.postProcessFields(fs)
				if err != nil {
					return nil, err
				}
				fieldsets = append(fieldsets, tmp)
			}
			result = append(result, FieldValue{ID: f.Field.ID, Type: "FIELDSET", Value: fieldsets})
			continue
		}
		fv := f.Value
		if d.config.DecodeLookupsToEnumType && (f.Field.FieldType == FieldTypeLookup ||
			f.Field.FieldType == FieldTypeIndirectLookup || f.Field.FieldType == FieldTypeBitLookup) {
			tmpFv, err := d.decodeToEnum(f, fields)
			if err != nil {
				return nil, err
			}
			fv = tmpFv
		}
		result = append(result, fv)
	}
	return result, nil
}

func (d *Decoder) decodeToEnum(df decodedField, fields []decodedField) (FieldValue, error) {
	val, ok := df.Value.Value.(uint64)
	if !ok {
		return FieldValue{}, fmt.Errorf("pgn: decoder failed to convert enum value to uint64, field: %v", df.Field.ID)
	}
	f := df.Field
	fv := df.Value
	val32 := uint32(val)

	switch f.FieldType {
	case FieldTypeLookup:
		ev, err := d.registry.Lookups.FindValue(f.LookupEnumeration, val32)
		if err == nil {
			fv.Value = EnumValue{Value: ev.Value, Code: ev.Name}
		} else if errors.Is(err, ErrUnknownEnumValue) {
			fv.Value = EnumValue{Value: val32, Code: "UNKNOWN ENUM VALUE"}
		} else {
			return FieldValue{}, fmt.Errorf("pgn: enum field decoding failure, field: %v, err: %w", f.ID, err)
		}
	case FieldTypeBitLookup:
		evBits, err := d.registry.BitLookups.FindValue(f.LookupBitEnumeration, val32)
		if err == nil {
			evs := make([]EnumValue, 0, len(evBits))
			for _, ev := range evBits {
				evs = append(evs, EnumValue{Value: ev.Bit, Code: ev.Name})
			}
			fv.Value = evs
		} else if errors.Is(err, ErrUnknownEnumValue) {
			fv.Value = []EnumValue{{Value: val32, Code: "UNKNOWN BIT ENUM VALUE"}}
		} else {
			return FieldValue{}, fmt.Errorf("pgn: bit enum field decoding failure, field: %v, err: %w", f.ID, err)
		}
	case FieldTypeIndirectLookup:
		var indirect decodedField
		found := false
		for _, tmp := range fields {
			if df.Field.LookupIndirectEnumerationFieldOrder == tmp.Field.Order {
				found = true
				indirect = tmp
				break
			}
		}
		if !found {
			return FieldValue{}, fmt.Errorf("pgn: enum field decoding failure, field: %v, could not find indirect field with order: %v", f.ID, df.Field.LookupIndirectEnumerationFieldOrder)
		}
		indirectValue, ok := indirect.Value.Value.(uint64)
		if !ok {
			return FieldValue{}, fmt.Errorf("pgn: decoder failed to convert indirect enum value to uint64, field: %v", indirect.Field.ID)
		}
		ev, err := d.registry.IndirectLookups.FindValue(f.LookupIndirectEnumeration, val32, uint32(indirectValue))
		if err == nil {
			fv.Value = EnumValue{Value: val32, Code: ev.Name}
		} else if errors.Is(err, ErrUnknownEnumValue) {
			fv.Value = EnumValue{Value: val32, Code: "UNKNOWN INDIRECT ENUM VALUE"}
		} else {
			return FieldValue{}, fmt.Errorf("pgn: indirect enum field decoding failure, field: %v, err: %w", f.ID, err)
		}
	}
	return fv, nil
}
