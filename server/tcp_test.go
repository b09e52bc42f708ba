package server

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuna-marine/n2k-router/message"
	"github.com/tuna-marine/n2k-router/nmea0183"
	"github.com/tuna-marine/n2k-router/pgn"
)

func TestTCPServer_broadcastsToConnectedClients(t *testing.T) {
	s := New(TCPConfig{Name: "test", Address: "127.0.0.1:0"})
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	defer func() {
		cancel()
		s.Wait()
	}()

	conn, err := net.Dial("tcp", s.listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(20 * time.Millisecond) // let handleClient register

	sentence, err := nmea0183.Parse("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n")
	require.NoError(t, err)
	s.ProcessMsg(message.FromSentence(sentence, time.Now()))

	reader := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "$GPGGA")
}

func TestTCPServer_masterClientInjects(t *testing.T) {
	injected := make(chan string, 1)
	s := New(TCPConfig{Name: "test", Address: "127.0.0.1:0", Inject: func(line string) {
		injected <- line
	}})
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	defer func() {
		cancel()
		s.Wait()
	}()

	conn, err := net.Dial("tcp", s.listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello-master\n"))
	require.NoError(t, err)

	select {
	case line := <-injected:
		assert.Equal(t, "hello-master", line)
	case <-time.After(time.Second):
		t.Fatal("inject callback was not called")
	}
}

func TestTCPServer_processMsgDecodedWithoutEncoderIsNoOp(t *testing.T) {
	s := New(TCPConfig{Name: "test", Address: "127.0.0.1:0"})
	require.NoError(t, s.Listen())
	defer s.listener.Close()

	// A decoded envelope with no encoder wired just silently drops,
	// rather than panicking.
	s.ProcessMsg(message.FromDecoded(pgn.Message{}, time.Now(), nil))
}
