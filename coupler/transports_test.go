package coupler

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuna-marine/n2k-router/message"
	"github.com/tuna-marine/n2k-router/trace"
)

func TestNetTransport_readsOneSentencePerLine(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n"))
	}()

	transport := NewNetTransport(NetConfig{Network: "tcp", Address: ln.Addr().String()})
	require.True(t, transport.Open(context.Background()))
	defer transport.Close()

	env, err := transport.ReadOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, message.KindNMEA0183, env.Kind)
	assert.Equal(t, "GGA", env.Sentence.Formatter)
}

func TestLogReplayTransport_readsRecordsInOrder(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/replay.log"

	w, err := trace.OpenReplayWriter(path)
	require.NoError(t, err)
	base := time.Unix(1700000000, 0)
	require.NoError(t, w.Record(base, "2023-11-14T22:13:20Z,2,130306,1,255,8,00,00,00,00,00,00,00,00"))
	require.NoError(t, w.Record(base.Add(10*time.Millisecond), "2023-11-14T22:13:20.01Z,2,128267,1,255,5,00,00,00,00,00"))
	require.NoError(t, w.Close())

	transport := NewLogReplayTransport(LogReplayConfig{Path: path})
	require.True(t, transport.Open(context.Background()))
	defer transport.Close()

	first, err := transport.ReadOne(context.Background())
	require.NoError(t, err)
	pgnNum, ok := first.PGN()
	require.True(t, ok)
	assert.EqualValues(t, 130306, pgnNum)

	second, err := transport.ReadOne(context.Background())
	require.NoError(t, err)
	pgnNum, ok = second.PGN()
	require.True(t, ok)
	assert.EqualValues(t, 128267, pgnNum)

	_, err = transport.ReadOne(context.Background())
	assert.ErrorIs(t, err, ErrReadError)
}

func TestReplayReader_roundTripsDelta(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/r.log"
	w, err := trace.OpenReplayWriter(path)
	require.NoError(t, err)
	base := time.Unix(0, 0)
	require.NoError(t, w.Record(base, "line-one"))
	require.NoError(t, w.Record(base.Add(250*time.Millisecond), "line-two"))
	require.NoError(t, w.Close())

	r, err := trace.OpenReplayReader(path)
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), rec.Delta)
	assert.Equal(t, "line-one", rec.Line)

	rec, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, rec.Delta)
	assert.Equal(t, "line-two", rec.Line)
}

func TestTraceWriter_appendsNewlineDelimited(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/trace.log"
	w, err := trace.Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Write("first"))
	require.NoError(t, w.Write("second"))
	require.NoError(t, w.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(b))
}
