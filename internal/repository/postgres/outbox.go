package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/hms-api/internal/model"
	"github.com/jwalitptl/hms-api/internal/repository"
	apperrors "github.com/jwalitptl/hms-api/pkg/errors"
)

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}
	return insertEvents(ctx, r.db, []*model.OutboxEvent{event})
}

// GetPendingEventsWithLock claims due pending and retry events, oldest first.
// Selection and claim are one statement: rows locked by another worker are
// skipped, and claimed rows get retry_at pushed out by the claim lease so the
// next poll from any worker passes over them until the lease runs out.
func (r *outboxRepository) GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	query := `
		UPDATE outbox_events
		SET retry_at = NOW() + make_interval(secs => $2),
			updated_at = NOW()
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status IN ('pending', 'retry')
			AND (retry_at IS NULL OR retry_at <= NOW())
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_type, payload, actor, status, error_message,
			created_at, processed_at, updated_at, retry_count, retry_at
	`
	events := []*model.OutboxEvent{}
	if err := r.db.SelectContext(ctx, &events, query, limit, model.OutboxClaimLease.Seconds()); err != nil {
		return nil, apperrors.Storage("claim pending events", err)
	}
	// RETURNING does not keep the subquery order
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

func (r *outboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	query := `
		UPDATE outbox_events
		SET status = $1,
			error_message = $2,
			retry_at = $3,
			retry_count = CASE WHEN $1 = 'retry' THEN retry_count + 1 ELSE retry_count END,
			processed_at = CASE WHEN $1 = 'processed' THEN NOW() ELSE processed_at END,
			updated_at = NOW()
		WHERE id = $4
	`
	result, err := r.db.ExecContext(ctx, query, status, errorMessage, retryAt, id)
	if err != nil {
		return apperrors.Storage("update outbox status", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Storage("update outbox status", err)
	}
	if rows == 0 {
		return apperrors.NotFound("outbox event", nil)
	}
	return nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM outbox_events
		WHERE status = 'processed'
		AND processed_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, apperrors.Storage("delete processed events", err)
	}

	return result.RowsAffected()
}
