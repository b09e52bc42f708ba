// Package pgn implements the PGN schema registry and the field codec that
// decodes and encodes n2k.RawMessage payloads against it: schema loading,
// manufacturer-proprietary PGN variants, repeated field sets, enum lookup
// and the canboat-style CSV trace format.
package pgn

import (
	"time"

	n2k "github.com/tuna-marine/n2k-router"
)

// Message is a fully decoded NMEA-2000 message: the raw header plus its
// field values resolved against the schema registry.
type Message struct {
	Header n2k.CanBusHeader
	Fields FieldValues
}

// FieldValues is a slice of FieldValue.
type FieldValues []FieldValue

// FieldValue holds the extracted and processed value for one PGN field.
type FieldValue struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	// Value is normalized to one of:
	// string, float64, int64, uint64, []byte, time.Duration, time.Time,
	// pgn.EnumValue, []pgn.EnumValue, or [][]pgn.FieldValue for a
	// repeating field set.
	Value interface{} `json:"value"`
}

// AsFloat64 converts Value to float64 if that conversion is meaningful.
func (f FieldValue) AsFloat64() (float64, bool) {
	switch v := f.Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case time.Duration:
		return float64(v), true
	case time.Time:
		return float64(v.UnixNano()), true
	}
	return 0, false
}

func (fvs FieldValues) FindByID(id string) (FieldValue, bool) {
	for _, f := range fvs {
		if f.ID == id {
			return f, true
		}
	}
	return FieldValue{}, false
}

// EnumValue is a resolved lookup-table entry: the raw numeric value and its
// schema name.
type EnumValue struct {
	Value uint32
	Code  string
}
