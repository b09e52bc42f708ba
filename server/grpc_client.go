package server

import (
	"context"

	"google.golang.org/grpc"
)

// RouterClient is the client side of RouterServer, for remote gRPC
// producer couplers (spec §6) that push into another router instance.
type RouterClient interface {
	PushNMEA(ctx context.Context, opts ...grpc.CallOption) (Router_PushNMEAClient, error)
	PushDecodedNMEA2K(ctx context.Context, opts ...grpc.CallOption) (Router_PushDecodedNMEA2KClient, error)
	SubscribeEngine(ctx context.Context, opts ...grpc.CallOption) (Router_SubscribeClient, error)
	SubscribeGNSS(ctx context.Context, opts ...grpc.CallOption) (Router_SubscribeClient, error)
	SubscribeEnergy(ctx context.Context, opts ...grpc.CallOption) (Router_SubscribeClient, error)
}

type routerClient struct {
	cc *grpc.ClientConn
}

// NewRouterClient wraps an already-dialed connection to a router's gRPC
// endpoint.
func NewRouterClient(cc *grpc.ClientConn) RouterClient {
	return &routerClient{cc: cc}
}

func (c *routerClient) PushNMEA(ctx context.Context, opts ...grpc.CallOption) (Router_PushNMEAClient, error) {
	stream, err := c.cc.NewStream(ctx, &routerServiceDesc.Streams[0], "/n2krouter.Router/PushNMEA", opts...)
	if err != nil {
		return nil, err
	}
	return &routerPushNMEAClient{stream}, nil
}

func (c *routerClient) PushDecodedNMEA2K(ctx context.Context, opts ...grpc.CallOption) (Router_PushDecodedNMEA2KClient, error) {
	stream, err := c.cc.NewStream(ctx, &routerServiceDesc.Streams[1], "/n2krouter.Router/PushDecodedNMEA2K", opts...)
	if err != nil {
		return nil, err
	}
	return &routerPushDecodedNMEA2KClient{stream}, nil
}

func (c *routerClient) SubscribeEngine(ctx context.Context, opts ...grpc.CallOption) (Router_SubscribeClient, error) {
	return c.subscribe(ctx, 2, "/n2krouter.Router/SubscribeEngine", opts...)
}

func (c *routerClient) SubscribeGNSS(ctx context.Context, opts ...grpc.CallOption) (Router_SubscribeClient, error) {
	return c.subscribe(ctx, 3, "/n2krouter.Router/SubscribeGNSS", opts...)
}

func (c *routerClient) SubscribeEnergy(ctx context.Context, opts ...grpc.CallOption) (Router_SubscribeClient, error) {
	return c.subscribe(ctx, 4, "/n2krouter.Router/SubscribeEnergy", opts...)
}

func (c *routerClient) subscribe(ctx context.Context, streamIndex int, method string, opts ...grpc.CallOption) (Router_SubscribeClient, error) {
	stream, err := c.cc.NewStream(ctx, &routerServiceDesc.Streams[streamIndex], method, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&SubscribeRequest{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &routerSubscribeClient{stream}, nil
}

// Router_SubscribeClient is the client side of a per-domain subscription
// stream; SubscribeEngine/SubscribeGNSS/SubscribeEnergy all share it.
type Router_SubscribeClient interface {
	Recv() (*DecodedPGN, error)
	grpc.ClientStream
}

type routerSubscribeClient struct{ grpc.ClientStream }

func (x *routerSubscribeClient) Recv() (*DecodedPGN, error) {
	m := new(DecodedPGN)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Router_PushNMEAClient is the client side of the PushNMEA stream.
type Router_PushNMEAClient interface {
	Send(*NMEALine) error
	CloseAndRecv() (*Status, error)
	grpc.ClientStream
}

type routerPushNMEAClient struct{ grpc.ClientStream }

func (x *routerPushNMEAClient) Send(m *NMEALine) error { return x.ClientStream.SendMsg(m) }
func (x *routerPushNMEAClient) CloseAndRecv() (*Status, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(Status)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Router_PushDecodedNMEA2KClient is the client side of the
// PushDecodedNMEA2K stream.
type Router_PushDecodedNMEA2KClient interface {
	Send(*DecodedPGN) error
	CloseAndRecv() (*Status, error)
	grpc.ClientStream
}

type routerPushDecodedNMEA2KClient struct{ grpc.ClientStream }

func (x *routerPushDecodedNMEA2KClient) Send(m *DecodedPGN) error { return x.ClientStream.SendMsg(m) }
func (x *routerPushDecodedNMEA2KClient) CloseAndRecv() (*Status, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(Status)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
