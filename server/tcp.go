// Package server implements the router's externally-facing servers:
// the line-delimited TCP message feed and the gRPC push/subscribe
// service (spec §6 External Interfaces).
package server

import (
	"bufio"
	"context"
	"log"
	"net"
	"strings"
	"sync"

	"github.com/tuna-marine/n2k-router/message"
	"github.com/tuna-marine/n2k-router/nmea0183"
	"github.com/tuna-marine/n2k-router/pgn"
)

// TCPConfig configures a TCPServer.
type TCPConfig struct {
	Name    string
	Address string

	// Inject, when set, is called with each line an inbound "master"
	// client sends, to forward into a designated coupler (spec's
	// "optional inbound channel for a 'master' client sending messages
	// into a designated coupler").
	Inject func(line string)
}

// TCPServer is the line-delimited (`\r\n`) NMEA feed spec §6 names:
// handshake-less, clients connect and receive the publisher's feed,
// with an optional inbound master-client channel.
type TCPServer struct {
	config   TCPConfig
	listener net.Listener

	mu      sync.Mutex
	clients map[net.Conn]chan string

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a TCPServer, not yet listening.
func New(config TCPConfig) *TCPServer {
	return &TCPServer{
		config:  config,
		clients: make(map[net.Conn]chan string),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Listen opens the server's address. Call before Run.
func (s *TCPServer) Listen() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Run accepts clients until Stop is called or the listener closes.
func (s *TCPServer) Run(ctx context.Context) {
	defer close(s.doneCh)
	go func() {
		select {
		case <-ctx.Done():
		case <-s.stopCh:
		}
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleClient(ctx, conn)
	}
}

func (s *TCPServer) handleClient(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	feed := make(chan string, 64)
	s.mu.Lock()
	s.clients[conn] = feed
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
	}()

	if s.config.Inject != nil {
		go s.readInbound(conn)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case line, ok := <-feed:
			if !ok {
				return
			}
			if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
				return
			}
		}
	}
}

func (s *TCPServer) readInbound(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.config.Inject(line)
	}
}

// Broadcast sends line to every currently connected client, per the
// publisher's feed; a client whose buffer is full drops the line
// rather than blocking the broadcaster.
func (s *TCPServer) Broadcast(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, feed := range s.clients {
		select {
		case feed <- line:
		default:
			log.Printf("tcp server %s: client buffer full, dropping message", s.config.Name)
		}
	}
}

// ProcessMsg renders env as a publisher sink: NMEA-0183 sentences are
// re-framed verbatim, everything else as a canboat-style trace line.
func (s *TCPServer) ProcessMsg(env message.Envelope) {
	if env.Kind == message.KindNMEA0183 {
		s.Broadcast(nmea0183.Format('$', env.Sentence.Address, env.Sentence.Fields))
		return
	}
	raw, err := env.ToRaw(nil)
	if err != nil {
		return
	}
	line, err := pgn.MarshalRawMessage(raw)
	if err != nil {
		return
	}
	s.Broadcast(string(line))
}

// Stop is a single-shot latch; repeated calls are safe no-ops.
func (s *TCPServer) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Wait blocks until Run has returned.
func (s *TCPServer) Wait() { <-s.doneCh }
