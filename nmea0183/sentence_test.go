package nmea0183

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_gga(t *testing.T) {
	s, err := Parse("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n")
	require.NoError(t, err)
	assert.Equal(t, "GP", s.Talker)
	assert.Equal(t, "GGA", s.Formatter)
	assert.False(t, s.Proprietary)
	assert.Equal(t, "123519", s.Field(0))
	assert.Equal(t, "4807.038", s.Field(1))
}

func TestParse_proprietary(t *testing.T) {
	s, err := Parse("$PGRMZ,246,f,3*1B")
	require.NoError(t, err)
	assert.True(t, s.Proprietary)
	assert.Equal(t, "PGRMZ", s.Address)
}

func TestParse_checksumMismatch(t *testing.T) {
	_, err := Parse("$GPGGA,123519*00")
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestParse_missingDelimiter(t *testing.T) {
	_, err := Parse("GPGGA,123519*47")
	assert.ErrorIs(t, err, ErrNoDelimiter)
}

func TestParse_tooLong(t *testing.T) {
	line := "$GPGGA," + string(make([]byte, MaxSentenceLength)) + "*00"
	_, err := Parse(line)
	assert.ErrorIs(t, err, ErrTooLong)
}

func TestFormat_roundTrip(t *testing.T) {
	line := Format('$', "GPGGA", []string{"123519", "4807.038"})
	s, err := Parse(line)
	require.NoError(t, err)
	assert.Equal(t, "GGA", s.Formatter)
	assert.Equal(t, "4807.038", s.Field(1))
}
