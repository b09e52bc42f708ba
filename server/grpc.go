package server

import (
	"context"
	"io"
	"log"
	"net"
	"sync"

	"google.golang.org/grpc"

	"github.com/tuna-marine/n2k-router/message"
	"github.com/tuna-marine/n2k-router/pgn"
)

// RouterServer is the service interface spec §6's "gRPC services"
// describes: PushNMEA/PushDecodedNMEA2K ingest, plus a server-streaming
// subscription per data domain.
type RouterServer interface {
	PushNMEA(Router_PushNMEAServer) error
	PushDecodedNMEA2K(Router_PushDecodedNMEA2KServer) error
	SubscribeEngine(*SubscribeRequest, Router_SubscribeEngineServer) error
	SubscribeGNSS(*SubscribeRequest, Router_SubscribeGNSSServer) error
	SubscribeEnergy(*SubscribeRequest, Router_SubscribeEnergyServer) error
}

// Router_PushNMEAServer is the server side of the PushNMEA client stream.
type Router_PushNMEAServer interface {
	SendAndClose(*Status) error
	Recv() (*NMEALine, error)
	grpc.ServerStream
}

type routerPushNMEAServer struct{ grpc.ServerStream }

func (x *routerPushNMEAServer) SendAndClose(m *Status) error { return x.ServerStream.SendMsg(m) }
func (x *routerPushNMEAServer) Recv() (*NMEALine, error) {
	m := new(NMEALine)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Router_PushDecodedNMEA2KServer is the server side of the
// PushDecodedNMEA2K client stream.
type Router_PushDecodedNMEA2KServer interface {
	SendAndClose(*Status) error
	Recv() (*DecodedPGN, error)
	grpc.ServerStream
}

type routerPushDecodedNMEA2KServer struct{ grpc.ServerStream }

func (x *routerPushDecodedNMEA2KServer) SendAndClose(m *Status) error {
	return x.ServerStream.SendMsg(m)
}
func (x *routerPushDecodedNMEA2KServer) Recv() (*DecodedPGN, error) {
	m := new(DecodedPGN)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Router_SubscribeEngineServer, Router_SubscribeGNSSServer and
// Router_SubscribeEnergyServer are the server side of each per-domain
// subscription stream; all three share the same shape.
type Router_SubscribeEngineServer interface {
	Send(*DecodedPGN) error
	grpc.ServerStream
}
type Router_SubscribeGNSSServer interface {
	Send(*DecodedPGN) error
	grpc.ServerStream
}
type Router_SubscribeEnergyServer interface {
	Send(*DecodedPGN) error
	grpc.ServerStream
}

type routerSubscribeStream struct{ grpc.ServerStream }

func (x *routerSubscribeStream) Send(m *DecodedPGN) error { return x.ServerStream.SendMsg(m) }

func _Router_PushNMEA_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(RouterServer).PushNMEA(&routerPushNMEAServer{stream})
}

func _Router_PushDecodedNMEA2K_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(RouterServer).PushDecodedNMEA2K(&routerPushDecodedNMEA2KServer{stream})
}

func _Router_SubscribeEngine_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(SubscribeRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(RouterServer).SubscribeEngine(m, &routerSubscribeStream{stream})
}

func _Router_SubscribeGNSS_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(SubscribeRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(RouterServer).SubscribeGNSS(m, &routerSubscribeStream{stream})
}

func _Router_SubscribeEnergy_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(SubscribeRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(RouterServer).SubscribeEnergy(m, &routerSubscribeStream{stream})
}

// routerServiceDesc is this service's grpc.ServiceDesc, the same shape
// protoc-gen-go-grpc emits from a .proto file (see DESIGN.md for why
// there isn't one here). Streams[i] is addressed by index from the
// client side below, so don't reorder these without updating that too.
var routerServiceDesc = grpc.ServiceDesc{
	ServiceName: "n2krouter.Router",
	HandlerType: (*RouterServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{StreamName: "PushNMEA", Handler: _Router_PushNMEA_Handler, ClientStreams: true},
		{StreamName: "PushDecodedNMEA2K", Handler: _Router_PushDecodedNMEA2K_Handler, ClientStreams: true},
		{StreamName: "SubscribeEngine", Handler: _Router_SubscribeEngine_Handler, ServerStreams: true},
		{StreamName: "SubscribeGNSS", Handler: _Router_SubscribeGNSS_Handler, ServerStreams: true},
		{StreamName: "SubscribeEnergy", Handler: _Router_SubscribeEnergy_Handler, ServerStreams: true},
	},
	Metadata: "n2krouter.proto",
}

// domain groups decoded PGNs for subscription fan-out, per spec §6
// "per-domain subscription services (engine data, GNSS, energy)".
type domain int

const (
	domainNone domain = iota
	domainEngine
	domainGNSS
	domainEnergy
)

// domainOf classifies a PGN into the subscription domain it belongs to,
// using the well-known NMEA-2000 PGN ranges for each group.
func domainOf(pgnNum uint32) domain {
	switch {
	case pgnNum >= 127488 && pgnNum <= 127493:
		return domainEngine
	case pgnNum >= 129025 && pgnNum <= 129029:
		return domainGNSS
	case pgnNum >= 127506 && pgnNum <= 127508:
		return domainEnergy
	default:
		return domainNone
	}
}

// GRPCConfig configures a GRPCServer.
type GRPCConfig struct {
	Name    string
	Address string

	// Inject, when set, forwards a line received over PushNMEA into a
	// designated coupler, mirroring TCPConfig.Inject.
	Inject func(line string)
	// InjectDecoded, when set, forwards a message received over
	// PushDecodedNMEA2K the same way.
	InjectDecoded func(env message.Envelope)

	// Decoder resolves a ProcessMsg'd raw NMEA-2000 envelope to a
	// decoded PGN for the per-domain subscription streams; without one,
	// only already-decoded envelopes can be classified and streamed.
	Decoder *pgn.Decoder
}

// GRPCServer is the gRPC ingest/subscription service spec §6 names.
type GRPCServer struct {
	config   GRPCConfig
	listener net.Listener
	grpcSrv  *grpc.Server

	mu         sync.Mutex
	engineSubs map[chan *DecodedPGN]struct{}
	gnssSubs   map[chan *DecodedPGN]struct{}
	energySubs map[chan *DecodedPGN]struct{}

	stopOnce sync.Once
	doneCh   chan struct{}
}

// NewGRPCServer creates a GRPCServer, not yet listening.
func NewGRPCServer(config GRPCConfig) *GRPCServer {
	return &GRPCServer{
		config:     config,
		engineSubs: make(map[chan *DecodedPGN]struct{}),
		gnssSubs:   make(map[chan *DecodedPGN]struct{}),
		energySubs: make(map[chan *DecodedPGN]struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Listen opens the server's address. Call before Run.
func (s *GRPCServer) Listen() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Addr returns the address Listen bound to.
func (s *GRPCServer) Addr() net.Addr { return s.listener.Addr() }

// Run serves RPCs until ctx is cancelled or Stop is called.
func (s *GRPCServer) Run(ctx context.Context) {
	defer close(s.doneCh)
	s.grpcSrv = grpc.NewServer()
	s.grpcSrv.RegisterService(&routerServiceDesc, s)

	go func() {
		<-ctx.Done()
		s.grpcSrv.GracefulStop()
	}()

	if err := s.grpcSrv.Serve(s.listener); err != nil {
		log.Printf("grpc server %s: serve: %v", s.config.Name, err)
	}
}

func (s *GRPCServer) PushNMEA(stream Router_PushNMEAServer) error {
	for {
		in, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&Status{Ok: true})
		}
		if err != nil {
			return err
		}
		if s.config.Inject != nil {
			s.config.Inject(in.Line)
		}
	}
}

func (s *GRPCServer) PushDecodedNMEA2K(stream Router_PushDecodedNMEA2KServer) error {
	for {
		in, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&Status{Ok: true})
		}
		if err != nil {
			return err
		}
		if s.config.InjectDecoded != nil {
			s.config.InjectDecoded(decodedPGNToEnvelope(in))
		}
	}
}

func (s *GRPCServer) SubscribeEngine(_ *SubscribeRequest, stream Router_SubscribeEngineServer) error {
	return s.subscribe(stream.Context(), s.engineSubs, stream.Send)
}

func (s *GRPCServer) SubscribeGNSS(_ *SubscribeRequest, stream Router_SubscribeGNSSServer) error {
	return s.subscribe(stream.Context(), s.gnssSubs, stream.Send)
}

func (s *GRPCServer) SubscribeEnergy(_ *SubscribeRequest, stream Router_SubscribeEnergyServer) error {
	return s.subscribe(stream.Context(), s.energySubs, stream.Send)
}

func (s *GRPCServer) subscribe(ctx context.Context, subs map[chan *DecodedPGN]struct{}, send func(*DecodedPGN) error) error {
	ch := make(chan *DecodedPGN, 32)
	s.mu.Lock()
	subs[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(subs, ch)
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			if err := send(msg); err != nil {
				return err
			}
		}
	}
}

// ProcessMsg renders env as a publisher sink: NMEA-2000 envelopes are
// decoded with the configured Decoder (already-decoded ones pass
// through), classified by domain and fanned out to that domain's
// subscribers. NMEA-0183 sentences, envelopes that cannot be decoded,
// and PGNs outside every domain are dropped (use the TCP feed for those).
func (s *GRPCServer) ProcessMsg(env message.Envelope) {
	if env.Kind == message.KindNMEA0183 {
		return
	}
	decoded, err := env.ToDecoded(s.config.Decoder)
	if err != nil {
		return
	}
	msg := envelopeToDecodedPGN(decoded, env)

	var subs map[chan *DecodedPGN]struct{}
	switch domainOf(decoded.Header.PGN) {
	case domainEngine:
		subs = s.engineSubs
	case domainGNSS:
		subs = s.gnssSubs
	case domainEnergy:
		subs = s.energySubs
	default:
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range subs {
		select {
		case ch <- msg:
		default:
			log.Printf("grpc server %s: subscriber buffer full, dropping message", s.config.Name)
		}
	}
}

// Stop is a single-shot latch; repeated calls are safe no-ops.
func (s *GRPCServer) Stop() {
	s.stopOnce.Do(func() {
		if s.grpcSrv != nil {
			s.grpcSrv.GracefulStop()
		}
	})
}

// Wait blocks until Run has returned.
func (s *GRPCServer) Wait() { <-s.doneCh }

var _ RouterServer = (*GRPCServer)(nil)
