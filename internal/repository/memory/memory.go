// Package memory is an in-process implementation of the repositories, used by
// the "memory" storage driver and by service tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/hms-api/internal/model"
	"github.com/jwalitptl/hms-api/internal/repository"
	apperrors "github.com/jwalitptl/hms-api/pkg/errors"
)

// Store keeps every entity behind one RWMutex so that an entity update and the
// outbox events it produces land together.
type Store struct {
	mu       sync.RWMutex
	wards    map[uuid.UUID]*model.Ward
	beds     map[uuid.UUID]*model.Bed
	invoices map[uuid.UUID]*model.Invoice
	outbox   []*model.OutboxEvent
}

func NewStore() *Store {
	return &Store{
		wards:    make(map[uuid.UUID]*model.Ward),
		beds:     make(map[uuid.UUID]*model.Bed),
		invoices: make(map[uuid.UUID]*model.Invoice),
	}
}

func (s *Store) Wards() repository.WardRepository       { return &wardRepository{s} }
func (s *Store) Beds() repository.BedRepository         { return &bedRepository{s} }
func (s *Store) Invoices() repository.InvoiceRepository { return &invoiceRepository{s} }
func (s *Store) Outbox() repository.OutboxRepository    { return &outboxRepository{s} }

func (s *Store) appendEvents(events []*model.OutboxEvent) {
	for _, evt := range events {
		if evt == nil {
			continue
		}
		c := *evt
		if c.Status == "" {
			c.Status = model.OutboxStatusPending
		}
		s.outbox = append(s.outbox, &c)
	}
}

// -- wards --

type wardRepository struct{ s *Store }

func (r *wardRepository) Create(_ context.Context, ward *model.Ward) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *ward
	r.s.wards[ward.ID] = &c
	return nil
}

func (r *wardRepository) Get(_ context.Context, id uuid.UUID) (*model.Ward, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	w, ok := r.s.wards[id]
	if !ok {
		return nil, apperrors.NotFound("ward", nil)
	}
	c := *w
	return &c, nil
}

func (r *wardRepository) Update(_ context.Context, ward *model.Ward) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.wards[ward.ID]; !ok {
		return apperrors.NotFound("ward", nil)
	}
	c := *ward
	r.s.wards[ward.ID] = &c
	return nil
}

func (r *wardRepository) List(_ context.Context) ([]*model.Ward, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := make([]*model.Ward, 0, len(r.s.wards))
	for _, w := range r.s.wards {
		c := *w
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// -- beds --

type bedRepository struct{ s *Store }

func (r *bedRepository) Create(_ context.Context, bed *model.Bed) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.beds {
		if b.WardID == bed.WardID && strings.EqualFold(b.BedNumber, bed.BedNumber) {
			return apperrors.Conflictf("bed number %s already exists in ward", bed.BedNumber)
		}
	}
	r.s.beds[bed.ID] = bed.Clone()
	return nil
}

func (r *bedRepository) Get(_ context.Context, id uuid.UUID) (*model.Bed, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.beds[id]
	if !ok {
		return nil, apperrors.NotFound("bed", nil)
	}
	return b.Clone(), nil
}

func (r *bedRepository) List(_ context.Context, filters *model.BedFilters) ([]*model.Bed, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := make([]*model.Bed, 0)
	for _, b := range r.s.beds {
		if filters != nil {
			if filters.Status != "" && b.Status != filters.Status {
				continue
			}
			if filters.WardID != uuid.Nil && b.WardID != filters.WardID {
				continue
			}
		}
		result = append(result, b.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].BedNumber < result[j].BedNumber })
	return result, nil
}

func (r *bedRepository) Update(_ context.Context, bed *model.Bed, events ...*model.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.beds[bed.ID]
	if !ok {
		return apperrors.NotFound("bed", nil)
	}
	if stored.Version != bed.Version {
		return apperrors.Conflict("bed was modified concurrently")
	}
	bed.Version++
	r.s.beds[bed.ID] = bed.Clone()
	r.s.appendEvents(events)
	return nil
}

// -- invoices --

type invoiceRepository struct{ s *Store }

func (r *invoiceRepository) Create(_ context.Context, invoice *model.Invoice) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.invoices[invoice.ID] = invoice.Clone()
	return nil
}

func (r *invoiceRepository) Get(_ context.Context, id uuid.UUID) (*model.Invoice, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	inv, ok := r.s.invoices[id]
	if !ok {
		return nil, apperrors.NotFound("invoice", nil)
	}
	return inv.Clone(), nil
}

func (r *invoiceRepository) List(_ context.Context, filters *model.InvoiceFilters) ([]*model.Invoice, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := make([]*model.Invoice, 0)
	for _, inv := range r.s.invoices {
		if filters != nil {
			if filters.Status != "" && inv.Status != filters.Status {
				continue
			}
			if filters.PatientID != uuid.Nil && inv.PatientID != filters.PatientID {
				continue
			}
			if !filters.FromDate.IsZero() && inv.CreatedAt.Before(filters.FromDate) {
				continue
			}
			if !filters.ToDate.IsZero() && inv.CreatedAt.After(filters.ToDate) {
				continue
			}
		}
		result = append(result, inv.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (r *invoiceRepository) Update(_ context.Context, invoice *model.Invoice, events ...*model.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.invoices[invoice.ID]
	if !ok {
		return apperrors.NotFound("invoice", nil)
	}
	if stored.Version != invoice.Version {
		return apperrors.Conflict("invoice was modified concurrently")
	}
	invoice.Version++
	r.s.invoices[invoice.ID] = invoice.Clone()
	r.s.appendEvents(events)
	return nil
}

// -- outbox --

type outboxRepository struct{ s *Store }

func (r *outboxRepository) Create(_ context.Context, event *model.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.appendEvents([]*model.OutboxEvent{event})
	return nil
}

func (r *outboxRepository) GetPendingEventsWithLock(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now()
	var events []*model.OutboxEvent
	for _, evt := range r.s.outbox {
		if len(events) >= limit {
			break
		}
		if evt.Status != model.OutboxStatusPending && evt.Status != model.OutboxStatusRetry {
			continue
		}
		if evt.RetryAt != nil && evt.RetryAt.After(now) {
			continue
		}
		lease := now.Add(model.OutboxClaimLease)
		evt.RetryAt = &lease
		evt.UpdatedAt = now
		c := *evt
		events = append(events, &c)
	}
	return events, nil
}

func (r *outboxRepository) UpdateStatus(_ context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, evt := range r.s.outbox {
		if evt.ID != id {
			continue
		}
		now := time.Now()
		evt.Status = status
		evt.ErrorMessage = errorMessage
		evt.RetryAt = retryAt
		evt.UpdatedAt = now
		if status == model.OutboxStatusRetry {
			evt.RetryCount++
		}
		if status == model.OutboxStatusProcessed {
			evt.ProcessedAt = &now
		}
		return nil
	}
	return apperrors.NotFound("outbox event", nil)
}

func (r *outboxRepository) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.outbox[:0]
	var deleted int64
	for _, evt := range r.s.outbox {
		if evt.Status == model.OutboxStatusProcessed && evt.ProcessedAt != nil && evt.ProcessedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, evt)
	}
	r.s.outbox = kept
	return deleted, nil
}

// Events returns a snapshot of every outbox event, oldest first.
func (s *Store) Events() []model.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.OutboxEvent, 0, len(s.outbox))
	for _, evt := range s.outbox {
		out = append(out, *evt)
	}
	return out
}
