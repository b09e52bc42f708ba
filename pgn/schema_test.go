package pgn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_duplicateManufacturer(t *testing.T) {
	_, err := NewRegistry(Schema{
		Manufacturers: Manufacturers{{Code: 1, Name: "a"}, {Code: 1, Name: "b"}},
	})
	assert.Error(t, err)
	var schemaErr *SchemaError
	assert.ErrorAs(t, err, &schemaErr)
}

func TestNewRegistry_unregisteredManufacturerReference(t *testing.T) {
	proprietaryPGN := PGN{PGN: 0x1EF10, ManufacturerCode: 99}
	proprietaryPGN.IsProprietary = true

	_, err := NewRegistry(Schema{PGNs: PGNs{proprietaryPGN}})
	assert.Error(t, err)
}

func TestRegistry_Lookup_proprietaryVariantByManufacturer(t *testing.T) {
	groco := PGN{PGN: 0x1EF00, ManufacturerCode: 272, ID: "groco-variant"}
	groco.IsProprietary = true
	actisense := PGN{PGN: 0x1EF00, ManufacturerCode: 273, ID: "actisense-variant"}
	actisense.IsProprietary = true

	registry, err := NewRegistry(Schema{
		Manufacturers: Manufacturers{{Code: 272, Name: "Groco"}, {Code: 273, Name: "Actisense"}},
		PGNs:          PGNs{groco, actisense},
	})
	require.NoError(t, err)

	def, err := registry.Lookup(0x1EF00, 273)
	require.NoError(t, err)
	assert.Equal(t, "actisense-variant", def.ID)

	_, err = registry.Lookup(0x1EF00, 0) // unparameterized lookup returns a variant, not an error
	assert.NoError(t, err)
}

func TestRegistry_Lookup_unknownPGN(t *testing.T) {
	registry, err := NewRegistry(Schema{})
	require.NoError(t, err)

	_, err = registry.Lookup(12345, 0)
	assert.ErrorIs(t, err, ErrUnknownPGN)
}

func TestPGNs_Validate_duplicateFieldID(t *testing.T) {
	pgns := PGNs{{
		PGN: 100,
		Fields: []Field{
			{ID: "sid", FieldType: FieldTypeNumber},
			{ID: "sid", FieldType: FieldTypeNumber},
		},
	}}
	errs := pgns.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "duplicate field ID")
}

func TestPGN_IsMatch(t *testing.T) {
	def := PGN{
		Fields: []Field{{ID: "cmd", BitOffset: 0, BitLength: 8, Match: 2}},
	}
	def.IsMatchable = true

	assert.True(t, def.IsMatch([]byte{2}))
	assert.False(t, def.IsMatch([]byte{3}))
}
