package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"arbiter/internal/api"
	"arbiter/internal/config"
	"arbiter/internal/database"
	"arbiter/internal/domain"
	"arbiter/internal/events"
	"arbiter/internal/logging"
	"arbiter/internal/metrics"
	"arbiter/internal/models"
	"arbiter/internal/repository"
	"arbiter/internal/service"
	"arbiter/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database, &logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init database")
		return err
	}
	defer db.Close()

	roomService := service.NewRoomService(db, &logger)
	rooms, err := loadRooms(cfg, &logger)
	if err != nil {
		return err
	}
	if err := roomService.SyncRooms(ctx, rooms); err != nil {
		return fmt.Errorf("sync rooms: %w", err)
	}

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer (func() { _ = repository.Close(redisClient) })()
	}

	bookingService := service.NewBookingService(db, db, initLocker(cfg, redisClient, &logger), cfg.Booking, &logger)

	sink, err := initSinks(cfg, &logger)
	if err != nil {
		return err
	}
	defer (func() { _ = sink.Close() })()

	bus := events.NewEventBus()
	subscribeAuditLog(bus, &logger)

	outbox := worker.NewOutboxWorker(db, sink, bus, redisClient,
		worker.RetryPolicyFromConfig(cfg.Events.Retry), &logger).
		WithPolling(cfg.Events.PollInterval, cfg.Events.BatchSize)

	backupLogger := logging.Component(&logger, "backup")
	backups := database.NewBackupService(db, cfg.Backup, &backupLogger)

	httpServer := api.NewHTTPServer(cfg.API, bookingService, roomService, &logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer = api.NewGRPCServer(cfg.API, bookingService, &logger)
		if err := grpcServer.Listen(); err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	startMetrics(ctx, cfg, &logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		outbox.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		backups.Start(ctx)
	}()

	err = startServers(ctx, grpcServer, httpServer, cfg, &logger)
	stop()
	wg.Wait()
	return err
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

// loadRooms prefers the rooms file and falls back to rooms inlined in the
// main config.
func loadRooms(cfg *config.Config, logger *zerolog.Logger) ([]models.Room, error) {
	roomsPath := os.Getenv("ROOMS_PATH")
	if roomsPath == "" {
		roomsPath = "configs/rooms.yaml"
	}

	rooms, err := config.LoadRooms(roomsPath)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn().Str("rooms_path", roomsPath).Int("inline_rooms", len(cfg.Rooms)).Msg("rooms file not found")
		return cfg.Rooms, nil
	}
	if err != nil {
		logger.Error().Err(err).Str("rooms_path", roomsPath).Msg("load rooms")
		return nil, err
	}
	return rooms, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		// The client stays; the failover locker retries it later.
		logger.Warn().Err(err).Msg("redis connection failed, room locks fall back to memory")
		return redisClient
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initLocker(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.RoomLocker {
	memory := repository.NewMemoryRoomLocker(cfg.Booking.LockWait)
	if redisClient == nil {
		logger.Info().Msg("room locks are in-process")
		return memory
	}
	return repository.NewFailoverRoomLocker(repository.NewRedisRoomLocker(redisClient, cfg.Booking), memory, logger)
}

func initSinks(cfg *config.Config, logger *zerolog.Logger) (*events.MultiSink, error) {
	sinkLogger := logging.Component(logger, "events")
	var sinks []domain.EventSink

	switch cfg.Events.Sink {
	case config.SinkAMQP:
		publisher, err := events.NewAMQPPublisher(cfg.Events.AMQP, &sinkLogger)
		if err != nil {
			return nil, fmt.Errorf("init amqp publisher: %w", err)
		}
		sinks = append(sinks, publisher)
	case config.SinkKafka:
		publisher, err := events.NewKafkaPublisher(cfg.Events.Kafka, &sinkLogger)
		if err != nil {
			return nil, fmt.Errorf("init kafka publisher: %w", err)
		}
		sinks = append(sinks, publisher)
	}

	if cfg.Telegram.BotToken != "" {
		notifier, err := events.NewTelegramNotifier(cfg.Telegram)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram notifier init failed, continuing without it")
		} else {
			sinks = append(sinks, notifier)
		}
	}

	sink := events.NewMultiSink(sinks...)
	if sink.Len() == 0 {
		logger.Warn().Msg("no event sinks configured, outbox events are only logged")
	}
	logger.Info().Str("sinks", sink.Name()).Int("count", sink.Len()).Msg("event sinks ready")
	return sink, nil
}

func subscribeAuditLog(bus *events.EventBus, logger *zerolog.Logger) {
	audit := logging.Component(logger, "audit")
	handler := func(event *events.Event) error {
		payload, err := events.DecodePayload(&models.OutboxTask{EventType: event.Type, Payload: string(event.Payload)})
		if err != nil {
			return err
		}
		audit.Info().
			Str("event", event.Type).
			Int64("booking_id", payload.BookingID).
			Int64("room_id", payload.RoomID).
			Str("status", payload.Status).
			Msg("booking event delivered")
		return nil
	}

	for _, eventType := range []string{events.EventBookingCreated, events.EventBookingConfirmed, events.EventBookingRejected} {
		bus.Subscribe(eventType, handler)
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

// startServers runs the HTTP API and, when enabled, the gRPC API until ctx
// is done or either of them fails.
func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	errCh := make(chan error, 2)
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(nil); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	event := logger.Info().Int("http_port", cfg.API.HTTP.Port)
	if grpcServer != nil {
		event = event.Str("grpc_addr", grpcServer.Addr())
	}
	event.Msg("API server started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return runErr
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
