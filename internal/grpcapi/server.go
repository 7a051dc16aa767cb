// Package grpcapi serves claim type predictions over gRPC.
//
// The ClaimPredictor service carries google.protobuf.Struct messages in both
// directions. A request holds a partial form state in the same shape as the
// JSON API, and a response holds the prediction result in the same shape as
// the JSON API returns it.
package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/claimtype/internal/claim"
	"github.com/banshee-data/claimtype/internal/monitoring"
	"github.com/banshee-data/claimtype/internal/predictor"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "claimtype.v1.ClaimPredictor"

const predictMethod = "/" + ServiceName + "/Predict"

// maxMsgSize bounds a single request or response.
const maxMsgSize = 1 << 20

var logf = monitoring.Component("gRPC")

var errNoPredictor = errors.New("no predictor configured")

// PredictorServer is the server API for the ClaimPredictor service.
type PredictorServer interface {
	Predict(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the ClaimPredictor service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PredictorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "claimtype/v1/predictor.proto",
}

func predictHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PredictorServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: predictMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PredictorServer).Predict(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Server implements PredictorServer over a shared predictor. A server built
// with a load error answers every call with codes.Unavailable.
type Server struct {
	pred    *predictor.Predictor
	loadErr error
	health  *health.Server
}

// Ensure Server implements PredictorServer.
var _ PredictorServer = (*Server)(nil)

// NewServer returns a server over p, or a halted server when loadErr is set.
func NewServer(p *predictor.Predictor, loadErr error) *Server {
	if p == nil && loadErr == nil {
		loadErr = errNoPredictor
	}
	s := &Server{pred: p, loadErr: loadErr, health: health.NewServer()}
	st := healthpb.HealthCheckResponse_SERVING
	if s.Halted() {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	return s
}

// Halted reports whether the server refuses predictions.
func (s *Server) Halted() bool { return s.loadErr != nil }

// Health returns the health service tracking this server.
func (s *Server) Health() *health.Server { return s.health }

// Predict decodes the request as a form state, runs one prediction and
// returns the result.
func (s *Server) Predict(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.Halted() {
		return nil, status.Error(codes.Unavailable, s.loadErr.Error())
	}
	state, err := s.pred.Resources().Validator.DecodeMap(in.AsMap())
	if err != nil {
		if errors.Is(err, claim.ErrInvalid) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Errorf(codes.Internal, "decode request: %v", err)
	}
	res, err := s.pred.Predict(ctx, state, attribute.String("surface", "grpc"))
	if err != nil {
		logf("prediction failed: %v", err)
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := resultStruct(res)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return out, nil
}

// resultStruct converts a result through its JSON form, so gRPC and HTTP
// clients see the same field names.
func resultStruct(res *predictor.Result) (*structpb.Struct, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// RegisterService registers the ClaimPredictor and health services.
func RegisterService(grpcServer *grpc.Server, server *Server) {
	grpcServer.RegisterService(&ServiceDesc, server)
	healthpb.RegisterHealthServer(grpcServer, server.health)
}

// NewGRPCServer returns a grpc.Server with both services registered.
func NewGRPCServer(server *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	}, opts...)
	gs := grpc.NewServer(opts...)
	RegisterService(gs, server)
	return gs
}

// ListenAndServe serves on addr until ctx is cancelled, then reports
// NOT_SERVING and stops gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	gs := NewGRPCServer(s)
	logf("server listening on %s", lis.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- gs.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		gs.GracefulStop()
		logf("server stopped")
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	}
}
