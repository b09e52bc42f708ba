package coupler

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tuna-marine/n2k-router/message"
	"github.com/tuna-marine/n2k-router/nmea0183"
	"github.com/tuna-marine/n2k-router/server"
)

// GRPCConfig dials a remote router's gRPC ingest endpoint, making this
// router one of spec's "remote gRPC producers" couplers.
type GRPCConfig struct {
	Address string

	// Decoded selects the PushDecodedNMEA2K stream over PushNMEA.
	Decoded     bool
	DialTimeout time.Duration
}

func (c GRPCConfig) withDefaults() GRPCConfig {
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	return c
}

// GRPCSendCoupler is a write-only Transport that streams envelopes to a
// remote router's GRPCServer.
type GRPCSendCoupler struct {
	config GRPCConfig
	conn   *grpc.ClientConn

	nmeaStream    server.Router_PushNMEAClient
	decodedStream server.Router_PushDecodedNMEA2KClient
}

// NewGRPCSendCoupler creates a transport that dials on the first Open
// call.
func NewGRPCSendCoupler(config GRPCConfig) *GRPCSendCoupler {
	return &GRPCSendCoupler{config: config.withDefaults()}
}

func (t *GRPCSendCoupler) Open(ctx context.Context) bool {
	dialCtx, cancel := context.WithTimeout(ctx, t.config.DialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, t.config.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock())
	if err != nil {
		return false
	}
	t.conn = conn

	client := server.NewRouterClient(conn)
	if t.config.Decoded {
		stream, err := client.PushDecodedNMEA2K(context.Background())
		if err != nil {
			_ = conn.Close()
			t.conn = nil
			return false
		}
		t.decodedStream = stream
	} else {
		stream, err := client.PushNMEA(context.Background())
		if err != nil {
			_ = conn.Close()
			t.conn = nil
			return false
		}
		t.nmeaStream = stream
	}
	return true
}

func (t *GRPCSendCoupler) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// ReadOne always returns ErrNotPresent: this transport only sends.
func (t *GRPCSendCoupler) ReadOne(_ context.Context) (message.Envelope, error) {
	return message.Envelope{}, ErrNotPresent
}

func (t *GRPCSendCoupler) Send(_ context.Context, env message.Envelope) bool {
	switch {
	case t.nmeaStream != nil:
		if env.Kind != message.KindNMEA0183 {
			return false
		}
		line := nmea0183.Format('$', env.Sentence.Address, env.Sentence.Fields)
		return t.nmeaStream.Send(&server.NMEALine{
			Line:              line,
			TimestampUnixNano: env.Timestamp.UnixNano(),
		}) == nil
	case t.decodedStream != nil:
		decoded, err := env.ToDecoded(nil)
		if err != nil {
			return false
		}
		fields := make(map[string]float64, len(decoded.Fields))
		for _, f := range decoded.Fields {
			if v, ok := f.AsFloat64(); ok {
				fields[f.ID] = v
			}
		}
		return t.decodedStream.Send(&server.DecodedPGN{
			PGN:               decoded.Header.PGN,
			Priority:          decoded.Header.Priority,
			Source:            decoded.Header.Source,
			Destination:       decoded.Header.Destination,
			TimestampUnixNano: env.Timestamp.UnixNano(),
			Fields:            fields,
		}) == nil
	default:
		return false
	}
}

var _ Transport = (*GRPCSendCoupler)(nil)
