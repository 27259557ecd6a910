package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/hms-api/internal/model"
	"github.com/jwalitptl/hms-api/internal/repository"
	"github.com/jwalitptl/hms-api/pkg/messaging"
	"github.com/jwalitptl/hms-api/pkg/metrics"
	"github.com/jwalitptl/hms-api/pkg/retry"
)

const maxRetryDelay = time.Hour

type OutboxProcessorConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// RetryAttempts is how many publish attempts an event gets before it is
	// marked failed.
	RetryAttempts int
	// RetryDelay is the wait before the first retry; it doubles per attempt.
	RetryDelay time.Duration
}

func (c OutboxProcessorConfig) validate() error {
	switch {
	case c.BatchSize <= 0:
		return errors.New("BatchSize must be greater than 0")
	case c.PollInterval <= 0:
		return errors.New("PollInterval must be greater than 0")
	case c.RetryAttempts <= 0:
		return errors.New("RetryAttempts must be greater than 0")
	case c.RetryDelay <= 0:
		return errors.New("RetryDelay must be greater than 0")
	}
	return nil
}

// OutboxProcessor publishes committed domain events to the broker. Events are
// published at least once; consumers dedupe on the message id.
type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	config  OutboxProcessorConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics
	storage retry.Policy
	now     func() time.Time
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	logger zerolog.Logger,
	m *metrics.Metrics,
) (*OutboxProcessor, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid outbox processor config: %w", err)
	}

	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		config:  config,
		logger:  logger.With().Str("worker", "outbox").Logger(),
		metrics: m,
		storage: retry.DefaultPolicy(),
		now:     time.Now,
	}, nil
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info().Dur("poll_interval", p.config.PollInterval).Msg("starting outbox processor")

	for {
		if _, err := p.ProcessBatch(ctx); err != nil {
			p.logger.Error().Err(err).Msg("failed to process events")
		}

		select {
		case <-ctx.Done():
			p.logger.Info().Msg("shutting down outbox processor")
			return
		case <-ticker.C:
		}
	}
}

// ProcessBatch publishes up to BatchSize due events and reports how many were
// published.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	events, err := p.repo.GetPendingEventsWithLock(ctx, p.config.BatchSize)
	if err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "error").Inc()
		return 0, fmt.Errorf("failed to get pending events: %w", err)
	}
	p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "success").Inc()

	published := 0
	for _, event := range events {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Warn().Err(err).
				Str("event_id", event.ID.String()).
				Str("event_type", event.EventType).
				Int("retry_count", event.RetryCount).
				Msg("failed to publish event")
			continue
		}
		published++
	}
	return published, nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	msg := messaging.Message{
		ID:         event.ID.String(),
		Type:       event.EventType,
		Actor:      event.Actor,
		OccurredAt: event.CreatedAt,
		Payload:    event.Payload,
	}

	if err := p.broker.Publish(ctx, event.EventType, msg); err != nil {
		p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
		p.markUnpublished(ctx, event, err)
		return err
	}

	p.metrics.OutboxEventsProcessed.Inc()
	return p.setStatus(ctx, event, model.OutboxStatusProcessed, nil, nil)
}

func (p *OutboxProcessor) markUnpublished(ctx context.Context, event *model.OutboxEvent, cause error) {
	errStr := cause.Error()
	attempts := event.RetryCount + 1

	if attempts >= p.config.RetryAttempts {
		p.metrics.OutboxEventsFailed.Inc()
		p.logger.Error().Err(cause).
			Str("event_id", event.ID.String()).
			Str("event_type", event.EventType).
			Int("attempts", attempts).
			Msg("giving up on event")
		_ = p.setStatus(ctx, event, model.OutboxStatusFailed, &errStr, nil)
		return
	}

	retryAt := p.now().Add(p.retryDelay(attempts))
	_ = p.setStatus(ctx, event, model.OutboxStatusRetry, &errStr, &retryAt)
}

func (p *OutboxProcessor) retryDelay(attempts int) time.Duration {
	delay := p.config.RetryDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func (p *OutboxProcessor) setStatus(ctx context.Context, event *model.OutboxEvent, status model.OutboxStatus, errMsg *string, retryAt *time.Time) error {
	err := retry.Do(ctx, p.storage, func() error {
		return p.repo.UpdateStatus(ctx, event.ID, status, errMsg, retryAt)
	})
	if err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("update_event_status", "error").Inc()
		p.logger.Error().Err(err).
			Str("event_id", event.ID.String()).
			Str("status", string(status)).
			Msg("failed to update event status")
		return err
	}
	p.metrics.DatabaseOperations.WithLabelValues("update_event_status", "success").Inc()
	return nil
}
