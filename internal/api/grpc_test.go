package api

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func newTestGRPC(t *testing.T, cfg config.APIConfig) *grpc.ClientConn {
	t.Helper()
	logger := zerolog.New(io.Discard)
	bookings, _ := newTestServices(t)

	_, err := bookings.CreateBooking(context.Background(),
		models.Actor{UserID: 10, Role: models.RoleUser}, 1, "Planning", at(10, 0), at(11, 0))
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(cfg, bookings, &logger)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func availabilityRequest(t *testing.T, roomID int64, start, end time.Time) *structpb.Struct {
	t.Helper()
	req, err := structpb.NewStruct(map[string]any{
		"room_id": roomID,
		"start":   start.Format(time.RFC3339),
		"end":     end.Format(time.RFC3339),
	})
	require.NoError(t, err)
	return req
}

func checkAvailability(ctx context.Context, conn *grpc.ClientConn, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	resp := new(structpb.Struct)
	err := conn.Invoke(ctx, checkAvailabilityMethod, req, resp, opts...)
	return resp, err
}

func TestGRPC_CheckAvailability(t *testing.T) {
	conn := newTestGRPC(t, config.APIConfig{})
	ctx := context.Background()

	tests := []struct {
		name      string
		start     time.Time
		end       time.Time
		available bool
	}{
		{"overlapping", at(10, 30), at(11, 30), false},
		{"back to back", at(11, 0), at(12, 0), true},
		{"before", at(9, 0), at(10, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := checkAvailability(ctx, conn, availabilityRequest(t, 1, tt.start, tt.end))
			require.NoError(t, err)
			assert.Equal(t, tt.available, resp.GetFields()["available"].GetBoolValue())
			assert.Equal(t, float64(1), resp.GetFields()["room_id"].GetNumberValue())
		})
	}
}

func TestGRPC_CheckAvailabilityErrors(t *testing.T) {
	conn := newTestGRPC(t, config.APIConfig{})
	ctx := context.Background()

	_, err := checkAvailability(ctx, conn, availabilityRequest(t, 1, at(11, 0), at(10, 0)))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = checkAvailability(ctx, conn, availabilityRequest(t, 99, at(10, 0), at(11, 0)))
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = checkAvailability(ctx, conn, availabilityRequest(t, 0, at(10, 0), at(11, 0)))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	bad, err := structpb.NewStruct(map[string]any{"room_id": 1, "start": "tomorrow", "end": "later"})
	require.NoError(t, err)
	_, err = checkAvailability(ctx, conn, bad)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_Auth(t *testing.T) {
	cfg := config.APIConfig{Auth: config.APIAuthConfig{Enabled: true, Secret: "grpc-secret", Issuer: "arbiter"}}
	conn := newTestGRPC(t, cfg)
	req := availabilityRequest(t, 1, at(12, 0), at(13, 0))

	_, err := checkAvailability(context.Background(), conn, req)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	bad := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer nope")
	_, err = checkAvailability(bad, conn, req)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	token, err := NewJWTAuth(cfg.Auth).NewToken(10, models.RoleUser, time.Hour)
	require.NoError(t, err)
	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)

	var header metadata.MD
	resp, err := checkAvailability(ctx, conn, req, grpc.Header(&header))
	require.NoError(t, err)
	assert.True(t, resp.GetFields()["available"].GetBoolValue())
	assert.NotEmpty(t, header.Get(requestIDMetadataKey))
}

func TestGRPC_RequestIDEchoed(t *testing.T) {
	conn := newTestGRPC(t, config.APIConfig{})
	ctx := metadata.AppendToOutgoingContext(context.Background(), requestIDMetadataKey, "req-42")

	var header metadata.MD
	_, err := checkAvailability(ctx, conn, availabilityRequest(t, 1, at(12, 0), at(13, 0)), grpc.Header(&header))
	require.NoError(t, err)
	assert.Equal(t, []string{"req-42"}, header.Get(requestIDMetadataKey))
}

func TestGRPC_RateLimit(t *testing.T) {
	conn := newTestGRPC(t, config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 1, Burst: 1}})
	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-user-id", "10")
	req := availabilityRequest(t, 1, at(12, 0), at(13, 0))

	_, err := checkAvailability(ctx, conn, req)
	require.NoError(t, err)

	_, err = checkAvailability(ctx, conn, req)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestGRPC_Health(t *testing.T) {
	conn := newTestGRPC(t, config.APIConfig{})
	client := healthpb.NewHealthClient(conn)

	for _, service := range []string{"", availabilityServiceName} {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
	}
}

func TestAuthInterceptor_InvalidHeaderWithoutAuth(t *testing.T) {
	interceptor := NewAuthInterceptor(NewJWTAuth(config.APIAuthConfig{}), newRateLimiter(config.APIRateLimitConfig{})).Unary()
	handler := func(ctx context.Context, _ any) (any, error) {
		return ActorFromContext(ctx), nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: checkAvailabilityMethod}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-user-id", "abc"))
	_, err := interceptor(ctx, nil, info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-user-id", "7", "x-user-role", "admin"))
	resp, err := interceptor(ctx, nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, models.Actor{UserID: 7, Role: models.RoleAdmin}, resp)
}
