package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"arbiter/internal/domain"
	"arbiter/internal/metrics"
	"arbiter/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const deadLetterKey = "arbiter:outbox:deadletter"

// OutboxWorker delivers event_outbox rows written by booking transactions.
// Delivery is at least once: a row is marked completed only after the sink
// accepted it.
type OutboxWorker struct {
	repo         domain.OutboxRepository
	sink         domain.EventSink
	bus          domain.EventPublisher
	redis        *redis.Client
	retryPolicy  RetryPolicy
	pollInterval time.Duration
	batchSize    int
	logger       zerolog.Logger
}

// NewOutboxWorker builds a worker with sane defaults. redisClient is optional
// and only receives dead letters.
func NewOutboxWorker(
	repo domain.OutboxRepository,
	sink domain.EventSink,
	bus domain.EventPublisher,
	redisClient *redis.Client,
	retry RetryPolicy,
	logger *zerolog.Logger,
) *OutboxWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}

	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "outbox_worker").Logger()
	}

	return &OutboxWorker{
		repo:         repo,
		sink:         sink,
		bus:          bus,
		redis:        redisClient,
		retryPolicy:  retry,
		pollInterval: models.DefaultOutboxPollInterval,
		batchSize:    models.DefaultOutboxBatchSize,
		logger:       l,
	}
}

// WithPolling overrides the poll interval and batch size. Zero keeps the default.
func (w *OutboxWorker) WithPolling(interval time.Duration, batchSize int) *OutboxWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	if batchSize > 0 {
		w.batchSize = batchSize
	}
	return w
}

// Start launches main loop; stops when ctx is done.
func (w *OutboxWorker) Start(ctx context.Context) {
	w.logger.Info().Str("sink", w.sink.Name()).Msg("outbox worker started")
	defer w.logger.Info().Msg("outbox worker stopped")

	for {
		n, err := w.ProcessBatch(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("fetch pending outbox tasks")
		}
		if n > 0 && err == nil {
			continue
		}

		timer := time.NewTimer(w.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// ProcessBatch delivers one batch of due tasks and returns how many it handled.
func (w *OutboxWorker) ProcessBatch(ctx context.Context) (int, error) {
	tasks, err := w.repo.GetPendingOutboxTasks(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	for i := range tasks {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		w.processTask(ctx, &tasks[i])
	}
	return len(tasks), nil
}

func (w *OutboxWorker) processTask(ctx context.Context, task *models.OutboxTask) {
	if !json.Valid([]byte(task.Payload)) {
		w.failTask(ctx, task, errors.New("payload is not valid json"))
		return
	}

	if err := w.sink.Deliver(ctx, task); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.repo.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
		return
	}
	metrics.IncOutbox(models.OutboxCompleted)

	if w.bus != nil {
		if err := w.bus.PublishTask(task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Str("event", task.EventType).Msg("event handler failed")
		}
	}
}

func (w *OutboxWorker) retryOrFail(ctx context.Context, task *models.OutboxTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	nextDelay := w.retryPolicy.NextDelay(attempt)
	nextTime := time.Now().Add(nextDelay)
	if err := w.repo.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
		return
	}
	metrics.IncOutbox(models.OutboxRetry)
	w.logger.Warn().Err(cause).
		Int64("task_id", task.ID).
		Int("attempt", attempt).
		Dur("next_delay", nextDelay).
		Msg("outbox delivery failed, retry scheduled")
}

func (w *OutboxWorker) failTask(ctx context.Context, task *models.OutboxTask, cause error) {
	if err := w.repo.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	metrics.IncOutbox(models.OutboxFailed)
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("event", task.EventType).Msg("outbox task failed")
	w.pushDeadLetter(ctx, task, cause)
}

func (w *OutboxWorker) pushDeadLetter(ctx context.Context, task *models.OutboxTask, cause error) {
	if w.redis == nil {
		return
	}
	msg := cause.Error()
	dead := *task
	dead.Status = models.OutboxFailed
	dead.LastError = &msg

	data, err := json.Marshal(dead)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(fmt.Errorf("deadletter push: %w", err)).Int64("task_id", task.ID).Msg("deadletter push failed")
	}
}
