package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/domain"
	"arbiter/internal/logging"
	"arbiter/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const headerRequestID = "X-Request-ID"

// HTTPServer exposes the booking API.
type HTTPServer struct {
	cfg      config.APIConfig
	bookings domain.BookingService
	rooms    domain.RoomService
	auth     *JWTAuth
	validate *validator.Validate
	server   *http.Server
	logger   zerolog.Logger
}

func NewHTTPServer(
	cfg config.APIConfig,
	bookings domain.BookingService,
	rooms domain.RoomService,
	logger *zerolog.Logger,
) *HTTPServer {
	srv := &HTTPServer{
		cfg:      cfg,
		bookings: bookings,
		rooms:    rooms,
		auth:     NewJWTAuth(cfg.Auth),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logging.Component(logger, "http"),
	}

	readHeaderTimeout := cfg.HTTP.ReadHeaderTimeout
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 5 * time.Second
	}
	writeTimeout := cfg.HTTP.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}
	return srv
}

// Routes builds the router. Exposed for tests.
func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Wrap)
		r.Use(newRateLimiter(s.cfg.RateLimit).Wrap)

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", s.handleCreateBooking)
			r.Get("/", s.handleListBookings)
			r.With(requireAdmin).Get("/export", s.handleExportBookings)
			r.Get("/{id}", s.handleGetBooking)
			r.Post("/{id}/approve", s.handleApproveBooking)
			r.Post("/{id}/reject", s.handleRejectBooking)
		})

		r.Get("/rooms", s.handleListRooms)
		r.Get("/rooms/{id}/availability", s.handleAvailability)
	})

	return r
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type requestIDKey struct{}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *HTTPServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		metrics.IncHTTP(endpoint, recorder.status)

		s.logger.Info().
			Str("request_id", requestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
