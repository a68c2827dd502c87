package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/domain"
	"arbiter/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
)

type actorKey struct{}

// ActorFromContext returns the caller resolved by JWTAuth. Requests without
// credentials carry the anonymous actor.
func ActorFromContext(ctx context.Context) models.Actor {
	actor, _ := ctx.Value(actorKey{}).(models.Actor)
	return actor
}

func withActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuth resolves the caller from an HS256 bearer token. The subject is the
// numeric user id. With auth disabled the caller is taken from the
// X-User-ID and X-User-Role headers, which is meant for local runs only.
type JWTAuth struct {
	cfg config.APIAuthConfig
}

func NewJWTAuth(cfg config.APIAuthConfig) *JWTAuth {
	return &JWTAuth{cfg: cfg}
}

func (a *JWTAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.resolve(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

func (a *JWTAuth) resolve(r *http.Request) (models.Actor, error) {
	if !a.cfg.Enabled {
		return actorFromHeaders(r)
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return models.Actor{}, nil
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return models.Actor{}, errors.New("invalid authorization header")
	}
	return a.ParseToken(strings.TrimSpace(raw))
}

// ParseToken validates the token and maps its claims to an actor.
func (a *JWTAuth) ParseToken(raw string) (models.Actor, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(a.cfg.Secret), nil
	}, opts...)
	if err != nil {
		return models.Actor{}, fmt.Errorf("invalid token: %w", err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return models.Actor{}, errors.New("invalid token subject")
	}
	return models.Actor{UserID: userID, Role: normalizeRole(claims.Role)}, nil
}

// NewToken signs a token for the user. Used by tooling and tests.
func (a *JWTAuth) NewToken(userID int64, role string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    a.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.Secret))
}

func actorFromHeaders(r *http.Request) (models.Actor, error) {
	return actorFromValues(r.Header.Get(headerUserID), r.Header.Get(headerUserRole))
}

func actorFromValues(rawID, role string) (models.Actor, error) {
	rawID = strings.TrimSpace(rawID)
	if rawID == "" {
		return models.Actor{}, nil
	}
	userID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || userID <= 0 {
		return models.Actor{}, fmt.Errorf("invalid %s header", headerUserID)
	}
	return models.Actor{UserID: userID, Role: normalizeRole(role)}, nil
}

func normalizeRole(role string) string {
	if strings.EqualFold(strings.TrimSpace(role), models.RoleAdmin) {
		return models.RoleAdmin
	}
	return models.RoleUser
}

// requireAdmin guards routes that have no service-level role check.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := ActorFromContext(r.Context())
		switch {
		case actor.IsAnonymous():
			writeDomainError(w, domain.ErrUnauthenticated)
		case !actor.IsAdmin():
			writeDomainError(w, domain.ErrForbidden)
		default:
			next.ServeHTTP(w, r)
		}
	})
}
