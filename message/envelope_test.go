package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	n2k "github.com/tuna-marine/n2k-router"
	"github.com/tuna-marine/n2k-router/nmea0183"
	"github.com/tuna-marine/n2k-router/pgn"
)

func attitudePGN() pgn.PGN {
	return pgn.PGN{
		PGN: 127257,
		ID:  "attitude",
		Fields: []pgn.Field{
			{ID: "sid", Order: 1, BitOffset: 0, BitLength: 8, FieldType: pgn.FieldTypeNumber},
			{ID: "yaw", Order: 2, BitOffset: 8, BitLength: 16, Signed: true, Resolution: 0.0001, FieldType: pgn.FieldTypeNumber},
			{ID: "pitch", Order: 3, BitOffset: 24, BitLength: 16, Signed: true, Resolution: 0.0001, FieldType: pgn.FieldTypeNumber},
			{ID: "roll", Order: 4, BitOffset: 40, BitLength: 16, Signed: true, Resolution: 0.0001, FieldType: pgn.FieldTypeNumber},
		},
	}
}

func TestEnvelope_Kind_String(t *testing.T) {
	assert.Equal(t, "nmea0183", KindNMEA0183.String())
	assert.Equal(t, "nmea2000-raw", KindNMEA2000Raw.String())
	assert.Equal(t, "nmea2000-decoded", KindNMEA2000Decoded.String())
}

func TestEnvelope_FromSentence_hasNoPGNOrSource(t *testing.T) {
	s, err := nmea0183.Parse("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n")
	require.NoError(t, err)
	e := FromSentence(s, time.Unix(0, 0))

	_, ok := e.PGN()
	assert.False(t, ok)
	_, ok = e.Source()
	assert.False(t, ok)

	_, err = e.ToRaw(nil)
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestEnvelope_ToRawToDecoded_noCodecIsErrorNotPanic(t *testing.T) {
	decodedEnv := FromDecoded(pgn.Message{}, time.Unix(0, 0), nil)
	_, err := decodedEnv.ToRaw(nil)
	assert.ErrorIs(t, err, ErrNoCodec)

	rawEnv := FromRaw(n2k.RawMessage{})
	_, err = rawEnv.ToDecoded(nil)
	assert.ErrorIs(t, err, ErrNoCodec)
}

func TestEnvelope_rawDecodedRoundTrip(t *testing.T) {
	registry, err := pgn.NewRegistry(pgn.Schema{PGNs: pgn.PGNs{attitudePGN()}})
	require.NoError(t, err)
	dec := pgn.NewDecoder(registry)
	enc := pgn.NewEncoder(registry)

	raw := n2k.RawMessage{
		Header: n2k.CanBusHeader{Priority: 3, PGN: 127257, Destination: 255, Source: 24},
		Data:   n2k.RawData{0x00, 0xfd, 0x7f, 0x44, 0x00, 0x3d, 0x00},
	}
	rawEnv := FromRaw(raw)

	pgnNum, ok := rawEnv.PGN()
	require.True(t, ok)
	assert.EqualValues(t, 127257, pgnNum)

	decoded, err := rawEnv.ToDecoded(dec)
	require.NoError(t, err)

	decodedEnv := FromDecoded(decoded, rawEnv.Timestamp, &raw)
	reEncoded, err := decodedEnv.ToRaw(enc)
	require.NoError(t, err)
	assert.Equal(t, raw.Data, reEncoded.Data)

	// Converting an already-matching Kind is a no-op passthrough.
	same, err := decodedEnv.ToDecoded(dec)
	require.NoError(t, err)
	assert.Equal(t, decoded, same)
}
