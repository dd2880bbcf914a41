package transport

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// serviceName and callMethod name the single multiplexed RPC this
// package exposes. There is no .proto file: the ServiceDesc below is
// hand-written against grpc-go's low-level registration API, which is
// the supported escape hatch for services whose wire schema is
// intentionally out of scope (spec.md §1) and therefore not worth
// generating code for.
const (
	serviceName = "transport.Peer"
	callMethod  = "Call"
	fullMethod  = "/" + serviceName + "/" + callMethod
)

// peerServiceDesc registers the single "Call" RPC against whatever
// Registry a Server was built with.
func peerServiceDesc() grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: callMethod,
				Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
					in := new(Envelope)
					if err := dec(in); err != nil {
						return nil, err
					}
					handle := func(ctx context.Context, req any) (any, error) {
						return srv.(*Server).handle(ctx, req.(*Envelope))
					}
					if interceptor == nil {
						return handle(ctx, in)
					}
					info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
					return interceptor(ctx, in, info, handle)
				},
			},
		},
		Streams: []grpc.StreamDesc{},
	}
}

// Server hosts a Registry's RPC surface over a real gRPC listener.
type Server struct {
	reg *Registry
	srv *grpc.Server
}

// NewServer wraps reg for serving over gRPC. Options are forwarded to
// grpc.NewServer (e.g. keepalive params, TLS credentials).
func NewServer(reg *Registry, opts ...grpc.ServerOption) *Server {
	s := &Server{reg: reg}
	s.srv = grpc.NewServer(opts...)
	desc := peerServiceDesc()
	s.srv.RegisterService(&desc, s)
	return s
}

func (s *Server) handle(ctx context.Context, env *Envelope) (*Envelope, error) {
	result, err := s.reg.dispatch(ctx, env.Method, func(out any) error {
		return decode(env.Payload, out)
	})
	if err != nil {
		return nil, err
	}
	payload, err := encode(result)
	if err != nil {
		return nil, fmt.Errorf("transport: encode reply for %q: %w", env.Method, err)
	}
	return &Envelope{Method: env.Method, Payload: payload}, nil
}

// Serve blocks accepting connections on lis until the server is
// stopped or lis errors.
func (s *Server) Serve(lis net.Listener) error {
	return s.srv.Serve(lis)
}

// ListenAndServe is a convenience wrapper that binds addr with
// net.Listen before serving.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// GracefulStop drains in-flight calls and stops accepting new ones.
func (s *Server) GracefulStop() { s.srv.GracefulStop() }

// Stop terminates the server immediately.
func (s *Server) Stop() { s.srv.Stop() }

// GRPCDialer opens Conns backed by real gRPC client connections. Each
// Dial creates a new grpc.ClientConn; the Dialer itself caches nothing
// per address.
type GRPCDialer struct {
	opts []grpc.DialOption
}

// NewGRPCDialer builds a Dialer suitable for production use: plaintext
// transport (insecure.NewCredentials) and the gob codec selected per
// call via CallContentSubtype, plus any caller-supplied DialOptions
// (e.g. TLS credentials, interceptors).
func NewGRPCDialer(extra ...grpc.DialOption) *GRPCDialer {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(gobCodecName)),
	}, extra...)
	return &GRPCDialer{opts: opts}
}

// Dial implements Dialer.
func (d *GRPCDialer) Dial(addr string) (Conn, error) {
	cc, err := grpc.NewClient(addr, d.opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, addr, err)
	}
	return &grpcConn{cc: cc}, nil
}

// grpcConn implements Conn over one grpc.ClientConn.
type grpcConn struct {
	cc *grpc.ClientConn
}

func (c *grpcConn) Close() error { return c.cc.Close() }

func (c *grpcConn) Call(ctx context.Context, method string, args, reply any) error {
	ctx, cancel := WithDeadline(ctx)
	defer cancel()

	payload, err := encode(args)
	if err != nil {
		return fmt.Errorf("transport: encode args for %q: %w", method, err)
	}
	req := &Envelope{Method: method, Payload: payload}
	resp := new(Envelope)
	if err := c.cc.Invoke(ctx, fullMethod, req, resp); err != nil {
		if ctx.Err() != nil {
			return ErrTimeout
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return decode(resp.Payload, reply)
}
