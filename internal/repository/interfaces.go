package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/hms-api/internal/model"
)

// All repository interfaces in one file.
//
// Implementations report a missing row as errors.NotFound, a lost
// compare-and-swap as errors.Conflict and any driver failure as errors.Storage.
type (
	WardRepository interface {
		Create(ctx context.Context, ward *model.Ward) error
		Get(ctx context.Context, id uuid.UUID) (*model.Ward, error)
		Update(ctx context.Context, ward *model.Ward) error
		List(ctx context.Context) ([]*model.Ward, error)
	}

	BedRepository interface {
		// Create fails with a conflict when the ward already has a bed with the
		// same number, compared case-insensitively.
		Create(ctx context.Context, bed *model.Bed) error
		Get(ctx context.Context, id uuid.UUID) (*model.Bed, error)
		List(ctx context.Context, filters *model.BedFilters) ([]*model.Bed, error)
		// Update stores bed only if the stored version still equals bed.Version,
		// then bumps the version. Events are written in the same transaction.
		Update(ctx context.Context, bed *model.Bed, events ...*model.OutboxEvent) error
	}

	InvoiceRepository interface {
		Create(ctx context.Context, invoice *model.Invoice) error
		Get(ctx context.Context, id uuid.UUID) (*model.Invoice, error)
		List(ctx context.Context, filters *model.InvoiceFilters) ([]*model.Invoice, error)
		// Update has the same version semantics as BedRepository.Update.
		Update(ctx context.Context, invoice *model.Invoice, events ...*model.OutboxEvent) error
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		// GetPendingEventsWithLock claims up to limit due events for
		// model.OutboxClaimLease. A claimed event is not returned again until
		// the lease runs out or UpdateStatus reschedules it.
		GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
