package coupler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuna-marine/n2k-router/message"
	"github.com/tuna-marine/n2k-router/nmea0183"
	"github.com/tuna-marine/n2k-router/pgn"
	"github.com/tuna-marine/n2k-router/server"
)

func TestGRPCSendCoupler_sendsToServer(t *testing.T) {
	injected := make(chan string, 1)
	srv := server.NewGRPCServer(server.GRPCConfig{Name: "test", Address: "127.0.0.1:0", Inject: func(line string) {
		injected <- line
	}})
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx)
	defer func() {
		cancel()
		srv.Wait()
	}()
	time.Sleep(20 * time.Millisecond) // let Serve start accepting

	transport := NewGRPCSendCoupler(GRPCConfig{Address: srv.Addr().String(), DialTimeout: time.Second})
	require.True(t, transport.Open(context.Background()))
	defer transport.Close()

	sentence, err := nmea0183.Parse("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n")
	require.NoError(t, err)
	ok := transport.Send(context.Background(), message.FromSentence(sentence, time.Now()))
	assert.True(t, ok)

	select {
	case line := <-injected:
		assert.Contains(t, line, "$GPGGA")
	case <-time.After(time.Second):
		t.Fatal("Inject was not called")
	}

	_, err = transport.ReadOne(context.Background())
	assert.ErrorIs(t, err, ErrNotPresent)
}

func TestGRPCSendCoupler_sendWrongKindIsRejected(t *testing.T) {
	srv := server.NewGRPCServer(server.GRPCConfig{Name: "test", Address: "127.0.0.1:0"})
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx)
	defer func() {
		cancel()
		srv.Wait()
	}()
	time.Sleep(20 * time.Millisecond)

	transport := NewGRPCSendCoupler(GRPCConfig{Address: srv.Addr().String(), DialTimeout: time.Second})
	require.True(t, transport.Open(context.Background()))
	defer transport.Close()

	// This coupler is configured for PushNMEA (Decoded: false); a
	// decoded envelope has no stream to ride and is rejected.
	ok := transport.Send(context.Background(), message.FromDecoded(pgn.Message{}, time.Now(), nil))
	assert.False(t, ok)
}
