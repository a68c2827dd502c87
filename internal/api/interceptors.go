package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"arbiter/internal/logging"
	"arbiter/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	requestIDMetadataKey     = "x-request-id"
	authorizationMetadataKey = "authorization"
)

// AuthInterceptor resolves the caller of a gRPC call the same way JWTAuth
// does for HTTP, then applies the per-client rate limit.
type AuthInterceptor struct {
	auth    *JWTAuth
	limiter *rateLimiter
}

func NewAuthInterceptor(auth *JWTAuth, limiter *rateLimiter) *AuthInterceptor {
	return &AuthInterceptor{auth: auth, limiter: limiter}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		actor, err := a.resolve(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		if !a.limiter.allow(limiterKey(actor, peerAddr(ctx))) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(withActor(ctx, actor), req)
	}
}

// resolve requires a bearer token when auth is enabled. Without auth the
// caller may be named by x-user-id and x-user-role metadata.
func (a *AuthInterceptor) resolve(ctx context.Context) (models.Actor, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if !a.auth.cfg.Enabled {
		return actorFromValues(
			first(md.Get(strings.ToLower(headerUserID))),
			first(md.Get(strings.ToLower(headerUserRole))),
		)
	}

	raw, ok := strings.CutPrefix(first(md.Get(authorizationMetadataKey)), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return models.Actor{}, errors.New("missing bearer token")
	}
	return a.auth.ParseToken(strings.TrimSpace(raw))
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

func LoggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	base := logging.Component(logger, "grpc")

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		start := time.Now()
		resp, err := handler(context.WithValue(ctx, requestIDKey{}, requestID), req)

		remote := peerAddr(ctx)
		if remote == "" {
			remote = clientKeyUnknown
		}

		base.Info().
			Str("request_id", requestID).
			Str("method", info.FullMethod).
			Str("remote", remote).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("grpc request")

		return resp, err
	}
}

func requestIDFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		if id := first(md.Get(requestIDMetadataKey)); id != "" {
			return id
		}
	}
	return uuid.NewString()
}
