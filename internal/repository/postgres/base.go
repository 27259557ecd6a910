package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/hms-api/internal/model"
	apperrors "github.com/jwalitptl/hms-api/pkg/errors"
)

const uniqueViolation = "23505"

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db *sqlx.DB
}

func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}

// WithTx executes a function within a transaction. Errors from fn are
// returned as is; begin and commit failures become storage errors.
func (r *BaseRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.Storage("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Storage("commit transaction", err)
	}
	return nil
}

// mapError converts driver errors to the application taxonomy.
func mapError(op, resource string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound(resource, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return apperrors.Conflictf("%s already exists", resource)
	}
	return apperrors.Storage(op, err)
}

// lostUpdate tells a missing row from a version mismatch after an UPDATE
// matched nothing.
func lostUpdate(ctx context.Context, tx *sqlx.Tx, table, resource string, id interface{}) error {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, table)
	if err := tx.GetContext(ctx, &exists, query, id); err != nil {
		return apperrors.Storage("check "+resource, err)
	}
	if !exists {
		return apperrors.NotFound(resource, nil)
	}
	return apperrors.Conflictf("%s was modified concurrently", resource)
}

const insertEventQuery = `
	INSERT INTO outbox_events (
		id, event_type, payload, actor, status, retry_count, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
`

func insertEvents(ctx context.Context, exec sqlx.ExecerContext, events []*model.OutboxEvent) error {
	for _, evt := range events {
		if evt == nil {
			continue
		}
		status := evt.Status
		if status == "" {
			status = model.OutboxStatusPending
		}
		_, err := exec.ExecContext(ctx, insertEventQuery,
			evt.ID,
			evt.EventType,
			[]byte(evt.Payload),
			evt.Actor,
			status,
			evt.CreatedAt,
			evt.UpdatedAt,
		)
		if err != nil {
			return apperrors.Storage("insert outbox event", err)
		}
	}
	return nil
}

// jsonColumn stores a value as JSONB.
type jsonColumn[T any] struct {
	V T
}

func (j jsonColumn[T]) Value() (driver.Value, error) {
	return json.Marshal(j.V)
}

func (j *jsonColumn[T]) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb source %T", src)
	}
	return json.Unmarshal(data, &j.V)
}
