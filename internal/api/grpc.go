package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/domain"
	"arbiter/internal/logging"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	availabilityServiceName = "arbiter.availability.v1.AvailabilityService"
	checkAvailabilityMethod = "/" + availabilityServiceName + "/CheckAvailability"
)

// AvailabilityServer answers availability questions for other services.
// Messages are google.protobuf.Struct so no generated code is needed:
// request {room_id, start, end} with RFC3339 times, response
// {room_id, available}.
type AvailabilityServer interface {
	CheckAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var availabilityServiceDesc = grpc.ServiceDesc{
	ServiceName: availabilityServiceName,
	HandlerType: (*AvailabilityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckAvailability", Handler: checkAvailabilityHandler},
	},
	Metadata: "arbiter/availability/v1",
}

func checkAvailabilityHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AvailabilityServer).CheckAvailability(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: checkAvailabilityMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AvailabilityServer).CheckAvailability(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type availabilityService struct {
	bookings domain.BookingService
	logger   zerolog.Logger
}

func (s *availabilityService) CheckAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()

	rawID := fields["room_id"].GetNumberValue()
	if rawID <= 0 || rawID != math.Trunc(rawID) || rawID > math.MaxInt64 {
		return nil, status.Error(codes.InvalidArgument, "room_id must be a positive integer")
	}
	roomID := int64(rawID)

	start, err := time.Parse(time.RFC3339, fields["start"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "start must be RFC3339")
	}
	end, err := time.Parse(time.RFC3339, fields["end"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "end must be RFC3339")
	}

	available, err := s.bookings.CheckAvailability(ctx, roomID, start, end)
	if err != nil {
		return nil, s.statusError(ctx, err)
	}

	return structpb.NewStruct(map[string]any{
		"room_id":   roomID,
		"available": available,
	})
}

func (s *availabilityService) statusError(ctx context.Context, err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrInvalidRange), errors.Is(err, domain.ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrUnauthenticated):
		code = codes.Unauthenticated
	case errors.Is(err, domain.ErrForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, domain.ErrNotFound):
		code = codes.NotFound
	case domain.IsRetryable(err):
		return status.Error(codes.Unavailable, domain.ErrTimeout.Error())
	default:
		s.logger.Error().Err(err).Str("request_id", requestIDFrom(ctx)).Msg("availability check failed")
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}

// GRPCServer serves the availability service and the standard health
// service.
type GRPCServer struct {
	cfg      config.APIGRPCConfig
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	logger   zerolog.Logger
}

func NewGRPCServer(cfg config.APIConfig, bookings domain.BookingService, logger *zerolog.Logger) *GRPCServer {
	auth := NewAuthInterceptor(NewJWTAuth(cfg.Auth), newRateLimiter(cfg.RateLimit))
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		LoggingUnaryInterceptor(logger),
		auth.Unary(),
	))

	serverLogger := logging.Component(logger, "grpc")
	server.RegisterService(&availabilityServiceDesc, &availabilityService{
		bookings: bookings,
		logger:   serverLogger,
	})

	healthServer := health.NewServer()
	healthServer.SetServingStatus(availabilityServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	return &GRPCServer{
		cfg:    cfg.GRPC,
		server: server,
		health: healthServer,
		logger: serverLogger,
	}
}

// Listen binds the configured port. Serve must follow.
func (s *GRPCServer) Listen() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	s.listener = lis
	return nil
}

func (s *GRPCServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve blocks until the server stops. A nil lis uses the one bound by
// Listen.
func (s *GRPCServer) Serve(lis net.Listener) error {
	if lis != nil {
		s.listener = lis
	}
	if s.listener == nil {
		return errors.New("grpc server is not listening")
	}
	s.logger.Info().Str("addr", s.Addr()).Msg("gRPC API listening")
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *GRPCServer) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
	}
}
