package pgn

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	n2k "github.com/tuna-marine/n2k-router"
)

// FieldType is the canboat-schema field encoding kind.
type FieldType string

const (
	FieldTypeNumber         FieldType = "NUMBER"
	FieldTypeFloat          FieldType = "FLOAT"
	FieldTypeDecimal        FieldType = "DECIMAL"
	FieldTypeLookup         FieldType = "LOOKUP"
	FieldTypeIndirectLookup FieldType = "INDIRECT_LOOKUP"
	FieldTypeBitLookup      FieldType = "BITLOOKUP"
	FieldTypeTime           FieldType = "TIME"
	FieldTypeDate           FieldType = "DATE"
	FieldTypeStringFix      FieldType = "STRING_FIX"
	FieldTypeStringVar      FieldType = "STRING_VAR"
	FieldTypeStringLz       FieldType = "STRING_LZ"
	FieldTypeStringLAU      FieldType = "STRING_LAU"
	FieldTypeBinary         FieldType = "BINARY"
	FieldTypeReserved       FieldType = "RESERVED"
	FieldTypeSpare          FieldType = "SPARE"
	FieldTypeMMSI           FieldType = "MMSI"
	FieldTypeVariable       FieldType = "VARIABLE"
)

var ErrUnsupportedFieldType = errors.New("pgn: unsupported field type")

// SchemaError is returned by Registry loading when the schema violates one
// of the registry invariants (duplicate keys, dangling manufacturer or enum
// references).
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string { return "pgn: schema error: " + e.Reason }

// Schema is the root of a declarative PGN definition source (canboat JSON
// layout): PGN entries, enum tables, and the manufacturer code table used
// to resolve proprietary PGN variants.
type Schema struct {
	Comment       string                     `json:"Comment"`
	CreatorCode   string                     `json:"CreatorCode"`
	License       string                     `json:"License"`
	Version       string                     `json:"Version"`
	PGNs          PGNs                       `json:"PGNs"`
	Enums         LookupEnumerations         `json:"LookupEnumerations"`
	IndirectEnums LookupIndirectEnumerations `json:"LookupIndirectEnumerations"`
	BitEnums      LookupBitEnumerations      `json:"LookupBitEnumerations"`
	Manufacturers Manufacturers              `json:"Manufacturers"`
}

// LoadSchema reads and parses a Schema from path within filesystem.
func LoadSchema(filesystem fs.FS, path string) (Schema, error) {
	f, err := filesystem.Open(path)
	if err != nil {
		return Schema{}, err
	}
	defer f.Close()

	schema := Schema{}
	if err := json.NewDecoder(f).Decode(&schema); err != nil {
		return Schema{}, err
	}
	return schema, nil
}

// PGNs is a list of PGN definitions.
type PGNs []PGN

// PGN is a Parameter Group Number definition: the PGN value is not unique
// by itself, some PGNs carry multiple incompatible field layouts
// distinguished by manufacturer id or a matchable field value.
type PGN struct {
	PGN              uint32   `json:"PGN"`
	ID               string   `json:"Id"`
	Description      string   `json:"Description"`
	IsProprietary    bool     `json:"-"`
	ManufacturerCode uint32   `json:"ManufacturerCode"`
	Complete         bool     `json:"Complete"`
	Length           int16    `json:"Length"`
	MissingAttribute []string `json:"Missing"`

	RepeatingFieldSet1Size       int8 `json:"RepeatingFieldSet1Size"`
	RepeatingFieldSet1StartField int8 `json:"RepeatingFieldSet1StartField"`
	RepeatingFieldSet1CountField int8 `json:"RepeatingFieldSet1CountField"`

	RepeatingFieldSet2Size       int8 `json:"RepeatingFieldSet2Size"`
	RepeatingFieldSet2StartField int8 `json:"RepeatingFieldSet2StartField"`
	RepeatingFieldSet2CountField int8 `json:"RepeatingFieldSet2CountField"`

	Fields []Field `json:"Fields"`

	// IsMatchable denotes that Fields contains fields with a Match value,
	// used to disambiguate same-PGN variants by data content rather than
	// by manufacturer code.
	IsMatchable bool
}

func (p *PGN) UnmarshalJSON(b []byte) error {
	type tmpPGN PGN
	if err := json.Unmarshal(b, (*tmpPGN)(p)); err != nil {
		return err
	}
	p.IsProprietary = n2k.ClassifyPGN(p.PGN) == n2k.TransportSingleProprietaryAddressed ||
		n2k.ClassifyPGN(p.PGN) == n2k.TransportSingleProprietaryBroadcast ||
		n2k.ClassifyPGN(p.PGN) == n2k.TransportFastPacketProprietaryAddressed ||
		n2k.ClassifyPGN(p.PGN) == n2k.TransportFastPacketProprietaryBroadcast
	for _, f := range p.Fields {
		if f.Match != 0 {
			p.IsMatchable = true
			break
		}
	}
	return nil
}

func (p *PGN) IsMatch(rawData []byte) bool {
	if !p.IsMatchable {
		return false
	}
	for _, f := range p.Fields {
		if f.Match == 0 {
			continue
		}
		if ok := f.IsMatch(rawData); !ok {
			return false
		}
	}
	return true
}

func (pgns *PGNs) Match(rawData []byte) (PGN, bool) {
	for _, p := range *pgns {
		if !p.IsMatchable {
			continue
		}
		if ok := p.IsMatch(rawData); ok {
			return p, true
		}
	}
	return PGN{}, false
}

func (pgns *PGNs) Validate() []error {
	result := make([]error, 0)
	for _, p := range *pgns {
		fields := map[string]Field{}
		for i, f := range p.Fields {
			if _, ok := fields[f.ID]; ok {
				result = append(result, fmt.Errorf("PGN %v has duplicate field ID: %v", p.PGN, f.ID))
			}
			fields[f.ID] = f
			if int(p.RepeatingFieldSet1CountField) == i+1 && f.FieldType != FieldTypeNumber {
				result = append(result, fmt.Errorf("PGN %v field %v with non NUMBER type as RepeatingFieldSet1CountField", p.PGN, f.ID))
			} else if int(p.RepeatingFieldSet2CountField) == i+1 && f.FieldType != FieldTypeNumber {
				result = append(result, fmt.Errorf("PGN %v field %v with non NUMBER type as RepeatingFieldSet2CountField", p.PGN, f.ID))
			}
		}
		for _, f := range p.Fields {
			if err := f.Validate(); err != nil {
				result = append(result, err)
			}
		}
	}
	if len(result) > 0 {
		return result
	}
	return nil
}

// Field is one (possibly repeated) value packed into a PGN's payload.
type Field struct {
	ID    string `json:"Id"`
	Order int8   `json:"Order"`
	Name  string `json:"Name"`

	Match int32 `json:"Match"`

	BitLength         uint16  `json:"BitLength"`
	BitOffset         uint16  `json:"BitOffset"`
	BitLengthVariable bool    `json:"BitLengthVariable"`
	Signed            bool    `json:"Signed"`
	Offset            int32   `json:"Offset"`
	Resolution        float64 `json:"Resolution"`

	FieldType                           FieldType `json:"FieldType"`
	LookupEnumeration                   string    `json:"LookupEnumeration"`
	LookupBitEnumeration                string    `json:"LookupBitEnumeration"`
	LookupIndirectEnumeration           string    `json:"LookupIndirectEnumeration"`
	LookupIndirectEnumerationFieldOrder int8      `json:"LookupIndirectEnumerationFieldOrder"`
}

func (f *Field) Validate() error {
	switch f.FieldType {
	case FieldTypeStringLAU:
		if !f.BitLengthVariable {
			return fmt.Errorf("field id: %v of type STRING_LAU is not BitLengthVariable", f.ID)
		}
	case FieldTypeMMSI:
		if f.BitLength != 32 {
			return fmt.Errorf("field id: %v of type MMSI bit length is not 32 is %v", f.ID, f.BitLength)
		}
	case FieldTypeDate:
		if f.BitLength != 16 {
			return fmt.Errorf("field id: %v of type DATE bit length is not 16 is %v", f.ID, f.BitLength)
		}
	case FieldTypeLookup:
		if f.LookupEnumeration == "" {
			return fmt.Errorf("field id: %v of type %v has empty LookupEnumeration field", f.ID, FieldTypeLookup)
		}
	case FieldTypeIndirectLookup:
		if f.LookupIndirectEnumeration == "" {
			return fmt.Errorf("field id: %v of type %v has empty LookupIndirectEnumeration field", f.ID, FieldTypeIndirectLookup)
		}
	case FieldTypeBitLookup:
		if f.LookupBitEnumeration == "" {
			return fmt.Errorf("field id: %v of type %v has empty LookupBitEnumeration field", f.ID, FieldTypeBitLookup)
		}
	}
	return nil
}

func (f *Field) IsMatch(rawData n2k.RawData) bool {
	value, err := rawData.DecodeVariableUint(f.BitOffset, f.BitLength)
	return err == nil && uint64(f.Match) == value
}

// Manufacturers maps a manufacturer code to its registered name, used to
// resolve which proprietary PGN variant a message belongs to.
type Manufacturers []Manufacturer

type Manufacturer struct {
	Code uint32 `json:"Code"`
	Name string `json:"Name"`
}

func (ms Manufacturers) exists(code uint32) bool {
	for _, m := range ms {
		if m.Code == code {
			return true
		}
	}
	return false
}

// Registry is the loaded, queryable form of a Schema: PGN definitions
// indexed for lookup by (pgn, manufacturer id), plus the enum tables the
// field codec needs to resolve LOOKUP/BITLOOKUP/INDIRECT_LOOKUP fields.
type Registry struct {
	// byPGN holds PGNs that are unique by PGN value alone.
	byPGN map[uint32]PGN
	// proprietaryByPGN holds, for a proprietary PGN, its variants keyed by
	// manufacturer code; a variant with code 0 is what an unparameterized
	// lookup returns when one exists.
	proprietaryByPGN map[uint32]map[uint32]PGN
	// matchableByPGN holds PGNs disambiguated by a matchable field value
	// rather than by manufacturer code (e.g. PGN 126208's sub-commands).
	matchableByPGN map[uint32]PGNs

	Lookups         LookupEnumerations
	IndirectLookups LookupIndirectEnumerations
	BitLookups      LookupBitEnumerations
	Manufacturers   Manufacturers
}

// NewRegistry builds a Registry from schema, validating the invariants in
// spec §4.1: unique manufacturer codes, unique (PGN, manufacturer) keys,
// and no proprietary PGN variant referencing an unregistered manufacturer.
func NewRegistry(schema Schema) (*Registry, error) {
	seen := map[uint32]bool{}
	for _, m := range schema.Manufacturers {
		if seen[m.Code] {
			return nil, &SchemaError{Reason: fmt.Sprintf("duplicate manufacturer code %d", m.Code)}
		}
		seen[m.Code] = true
	}

	r := &Registry{
		byPGN:            map[uint32]PGN{},
		proprietaryByPGN: map[uint32]map[uint32]PGN{},
		matchableByPGN:   map[uint32]PGNs{},
		Lookups:          schema.Enums,
		IndirectLookups:  schema.IndirectEnums,
		BitLookups:       schema.BitEnums,
		Manufacturers:    schema.Manufacturers,
	}

	for _, p := range schema.PGNs {
		if p.IsProprietary && p.ManufacturerCode != 0 && !schema.Manufacturers.exists(p.ManufacturerCode) {
			return nil, &SchemaError{Reason: fmt.Sprintf("PGN %d references unregistered manufacturer %d", p.PGN, p.ManufacturerCode)}
		}
		switch {
		case p.IsProprietary:
			variants, ok := r.proprietaryByPGN[p.PGN]
			if !ok {
				variants = map[uint32]PGN{}
				r.proprietaryByPGN[p.PGN] = variants
			}
			if _, dup := variants[p.ManufacturerCode]; dup {
				return nil, &SchemaError{Reason: fmt.Sprintf("duplicate PGN %d for manufacturer %d", p.PGN, p.ManufacturerCode)}
			}
			variants[p.ManufacturerCode] = p
		case p.IsMatchable:
			r.matchableByPGN[p.PGN] = append(r.matchableByPGN[p.PGN], p)
		default:
			if _, dup := r.byPGN[p.PGN]; dup {
				return nil, &SchemaError{Reason: fmt.Sprintf("duplicate PGN %d", p.PGN)}
			}
			r.byPGN[p.PGN] = p
		}
	}
	return r, nil
}

var ErrUnknownPGN = errors.New("pgn: unknown PGN")

// Lookup returns the PGN definition for pgn, selecting the manufacturer's
// proprietary variant when manufacturerID is registered for it. Otherwise
// (manufacturerID 0 or an unregistered id) it returns the variant with
// manufacturer code 0 if there is one, else one of the PGN's variants;
// which one is not defined, as the registration order is not kept.
func (r *Registry) Lookup(pgn uint32, manufacturerID uint32) (PGN, error) {
	if def, ok := r.byPGN[pgn]; ok {
		return def, nil
	}
	if variants, ok := r.proprietaryByPGN[pgn]; ok {
		if def, ok := variants[manufacturerID]; ok {
			return def, nil
		}
		for _, def := range variants {
			return def, nil
		}
	}
	return PGN{}, ErrUnknownPGN
}

// LookupMatching selects among a PGN's data-matched variants (used for
// PGNs like 126208 whose field layout depends on a leading command byte).
func (r *Registry) LookupMatching(pgn uint32, data []byte) (PGN, bool) {
	variants := r.matchableByPGN[pgn]
	return variants.Match(data)
}

// IsProprietary reports whether pgn is registered as a manufacturer
// proprietary PGN (in either the proprietary-by-manufacturer or fallback
// single-definition form).
func (r *Registry) IsProprietary(pgn uint32) bool {
	if def, ok := r.byPGN[pgn]; ok {
		return def.IsProprietary
	}
	_, ok := r.proprietaryByPGN[pgn]
	return ok
}
