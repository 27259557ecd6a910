package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwalitptl/hms-api/internal/repository"
	"github.com/jwalitptl/hms-api/pkg/metrics"
)

// OutboxCleanupWorker deletes processed outbox events once they are older
// than the retention window. Pending, retry and failed events are kept.
type OutboxCleanupWorker struct {
	repo      repository.OutboxRepository
	retention time.Duration
	interval  time.Duration
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewOutboxCleanupWorker(repo repository.OutboxRepository, retention, interval time.Duration, logger zerolog.Logger, m *metrics.Metrics) *OutboxCleanupWorker {
	return &OutboxCleanupWorker{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    logger.With().Str("worker", "outbox-cleanup").Logger(),
		metrics:   m,
		now:       time.Now,
	}
}

func (w *OutboxCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Cleanup(ctx); err != nil {
				w.logger.Error().Err(err).Msg("failed to purge processed events")
			}
		}
	}
}

func (w *OutboxCleanupWorker) Cleanup(ctx context.Context) (int64, error) {
	deleted, err := w.repo.DeleteProcessedBefore(ctx, w.now().Add(-w.retention))
	if err != nil {
		w.metrics.DatabaseOperations.WithLabelValues("purge_events", "error").Inc()
		return 0, err
	}
	w.metrics.DatabaseOperations.WithLabelValues("purge_events", "success").Inc()
	w.metrics.OutboxEventsPurged.Add(float64(deleted))
	if deleted > 0 {
		w.logger.Info().Int64("deleted", deleted).Msg("purged processed events")
	}
	return deleted, nil
}
