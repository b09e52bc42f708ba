package pgn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	n2k "github.com/tuna-marine/n2k-router"
)

func TestEncoder_Encode_roundTripsWithDecoder(t *testing.T) {
	registry, err := NewRegistry(Schema{PGNs: PGNs{attitudePGN()}})
	require.NoError(t, err)

	raw := n2k.RawMessage{
		Header: n2k.CanBusHeader{Priority: 3, PGN: 127257, Destination: 255, Source: 24},
		Data:   n2k.RawData{0x00, 0xfd, 0x7f, 0x44, 0x00, 0x3d, 0x00, 0xff},
	}

	decoded, err := NewDecoder(registry).Decode(raw)
	require.NoError(t, err)

	encoded, err := NewEncoder(registry).Encode(decoded)
	require.NoError(t, err)

	assert.Equal(t, raw.Header.Normalize(), encoded.Header)
	// Encode only emits bytes covered by the schema's own fields; raw's
	// trailing byte is unused padding the decoder never reads either.
	assert.Equal(t, raw.Data[:7], encoded.Data)
}

func TestEncoder_Encode_unknownPGN(t *testing.T) {
	registry, err := NewRegistry(Schema{})
	require.NoError(t, err)

	_, err = NewEncoder(registry).Encode(Message{Header: n2k.CanBusHeader{PGN: 999999}})
	assert.Error(t, err)
}

func TestEncoder_Encode_missingFieldErrors(t *testing.T) {
	registry, err := NewRegistry(Schema{PGNs: PGNs{attitudePGN()}})
	require.NoError(t, err)

	_, err = NewEncoder(registry).Encode(Message{
		Header: n2k.CanBusHeader{PGN: 127257},
		Fields: FieldValues{{ID: "sid", Value: uint64(0)}},
	})
	assert.ErrorIs(t, err, ErrEncodeMissingField)
}
