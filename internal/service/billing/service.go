// Package billing implements invoices: line items, tax and discount math,
// payments and the derived payment status.
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/jwalitptl/hms-api/internal/model"
	"github.com/jwalitptl/hms-api/internal/repository"
	"github.com/jwalitptl/hms-api/internal/service/event"
	"github.com/jwalitptl/hms-api/pkg/auth"
	apperrors "github.com/jwalitptl/hms-api/pkg/errors"
	"github.com/jwalitptl/hms-api/pkg/keymutex"
	"github.com/jwalitptl/hms-api/pkg/metrics"
	"github.com/jwalitptl/hms-api/pkg/money"
	"github.com/jwalitptl/hms-api/pkg/retry"
)

// BedRates is the only thing billing needs from bed occupancy.
type BedRates interface {
	RatePerDay(ctx context.Context, bedID uuid.UUID) (decimal.Decimal, error)
}

type Config struct {
	// DefaultDueDays sets the due date of invoices created without one.
	DefaultDueDays int
}

type Service struct {
	repo    repository.InvoiceRepository
	beds    BedRates
	locks   *keymutex.KeyMutex
	metrics *metrics.Metrics
	retry   retry.Policy
	cfg     Config
	now     func() time.Time
}

func NewService(repo repository.InvoiceRepository, beds BedRates, m *metrics.Metrics, rp retry.Policy, cfg Config) *Service {
	return &Service{
		repo:    repo,
		beds:    beds,
		locks:   keymutex.New(),
		metrics: m,
		retry:   rp,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (s *Service) policy(operation string) retry.Policy {
	p := s.retry
	p.OnRetry = func(attempt int, err error) {
		s.metrics.StorageRetries.WithLabelValues(operation).Inc()
		log.Warn().Err(err).Int("attempt", attempt).Str("operation", operation).Msg("retrying storage operation")
	}
	return p
}

func (s *Service) CreateInvoice(ctx context.Context, req *model.CreateInvoiceRequest) (*model.Invoice, error) {
	if req.PatientID == uuid.Nil {
		return nil, apperrors.Validation("patient is required", nil)
	}
	if req.BedID != nil {
		if _, err := s.beds.RatePerDay(ctx, *req.BedID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	due := req.DueDate.TimePtr()
	if due == nil && s.cfg.DefaultDueDays > 0 {
		d := now.AddDate(0, 0, s.cfg.DefaultDueDays)
		due = &d
	}

	inv := &model.Invoice{
		ID:          uuid.New(),
		PatientID:   req.PatientID,
		BedID:       req.BedID,
		Items:       []model.LineItem{},
		Subtotal:    decimal.Zero,
		Tax:         decimal.Zero,
		Discount:    decimal.Zero,
		TotalAmount: decimal.Zero,
		PaidAmount:  decimal.Zero,
		Payments:    []model.Payment{},
		DueDate:     due,
		Status:      model.InvoiceStatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, inv); err != nil {
		s.metrics.InvoiceOps.WithLabelValues("create", "error").Inc()
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}

	s.metrics.InvoiceOps.WithLabelValues("create", "success").Inc()
	log.Info().Str("invoice_id", inv.ID.String()).Str("patient_id", inv.PatientID.String()).Msg("invoice created")
	return inv, nil
}

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	inv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	inv.Status = EffectiveStatus(inv, s.now())
	return inv, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	var inv *model.Invoice
	err := retry.Do(ctx, s.policy("invoice.get"), func() error {
		var err error
		inv, err = s.repo.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

// ListInvoices filters on the effective status, so an overdue filter also
// matches invoices that only became overdue since they were last written.
func (s *Service) ListInvoices(ctx context.Context, filters *model.InvoiceFilters) ([]*model.Invoice, error) {
	var query model.InvoiceFilters
	if filters != nil {
		query = *filters
	}
	status := query.Status
	if status != "" && !status.IsValid() {
		return nil, apperrors.Validationf("invalid invoice status %q", status)
	}
	if !query.FromDate.IsZero() && !query.ToDate.IsZero() && query.ToDate.Before(query.FromDate) {
		return nil, apperrors.Validation("toDate cannot be before fromDate", nil)
	}
	query.Status = ""

	var invoices []*model.Invoice
	err := retry.Do(ctx, s.policy("invoice.list"), func() error {
		var err error
		invoices, err = s.repo.List(ctx, &query)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}

	now := s.now()
	result := make([]*model.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		inv.Status = EffectiveStatus(inv, now)
		if status == "" || inv.Status == status {
			result = append(result, inv)
		}
	}
	return result, nil
}

// Summary aggregates the matching invoices. Cancelled invoices are left out
// since nothing is owed on them.
func (s *Service) Summary(ctx context.Context, filters *model.InvoiceFilters) (model.BillingSummary, error) {
	invoices, err := s.ListInvoices(ctx, filters)
	if err != nil {
		return model.BillingSummary{}, err
	}
	open := invoices[:0]
	for _, inv := range invoices {
		if inv.Status != model.InvoiceStatusCancelled {
			open = append(open, inv)
		}
	}
	return ComputeSummary(open), nil
}

func (s *Service) ReplaceItems(ctx context.Context, id uuid.UUID, inputs []model.LineItemInput) (*model.Invoice, error) {
	items, err := BuildItems(inputs)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, "replace_items", func(inv *model.Invoice) ([]*model.OutboxEvent, error) {
		if err := requireEditable(inv); err != nil {
			return nil, err
		}
		inv.Items = items
		return nil, nil
	})
}

func (s *Service) AddItem(ctx context.Context, id uuid.UUID, input model.LineItemInput) (*model.Invoice, error) {
	items, err := BuildItems([]model.LineItemInput{input})
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, "add_item", func(inv *model.Invoice) ([]*model.OutboxEvent, error) {
		if err := requireEditable(inv); err != nil {
			return nil, err
		}
		inv.Items = append(inv.Items, items[0])
		return nil, nil
	})
}

func (s *Service) RemoveItem(ctx context.Context, id uuid.UUID, index int) (*model.Invoice, error) {
	return s.mutate(ctx, id, "remove_item", func(inv *model.Invoice) ([]*model.OutboxEvent, error) {
		if err := requireEditable(inv); err != nil {
			return nil, err
		}
		if index < 0 || index >= len(inv.Items) {
			return nil, apperrors.Validationf("item index %d out of range", index)
		}
		inv.Items = append(inv.Items[:index], inv.Items[index+1:]...)
		return nil, nil
	})
}

// AddRoomCharge appends a room item priced at the invoice bed's daily rate.
func (s *Service) AddRoomCharge(ctx context.Context, id uuid.UUID, days int) (*model.Invoice, error) {
	if days <= 0 {
		return nil, apperrors.Validation("days must be greater than zero", nil)
	}
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.BedID == nil {
		return nil, apperrors.Validation("invoice has no bed to charge for", nil)
	}
	rate, err := s.beds.RatePerDay(ctx, *current.BedID)
	if err != nil {
		return nil, err
	}

	items, err := BuildItems([]model.LineItemInput{{
		Description: fmt.Sprintf("Room charges (%d days)", days),
		Quantity:    days,
		Rate:        rate,
		Category:    model.ItemCategoryRoom,
	}})
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, "room_charge", func(inv *model.Invoice) ([]*model.OutboxEvent, error) {
		if err := requireEditable(inv); err != nil {
			return nil, err
		}
		inv.Items = append(inv.Items, items[0])
		return nil, nil
	})
}

func (s *Service) ApplyDiscount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*model.Invoice, error) {
	if err := checkDiscount(amount); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, "discount", func(inv *model.Invoice) ([]*model.OutboxEvent, error) {
		if err := requireEditable(inv); err != nil {
			return nil, err
		}
		inv.Discount = amount
		return nil, nil
	})
}

func checkDiscount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return apperrors.Validation("discount cannot be negative", nil)
	}
	if !money.Exact(amount) {
		return apperrors.Validationf("discount %s has more than %d decimal places", amount, money.Places)
	}
	return nil
}

// UpdateInvoice applies items, discount and notes together or not at all.
func (s *Service) UpdateInvoice(ctx context.Context, id uuid.UUID, req *model.UpdateInvoiceRequest) (*model.Invoice, error) {
	var items []model.LineItem
	if req.Items != nil {
		var err error
		if items, err = BuildItems(req.Items); err != nil {
			return nil, err
		}
	}
	if req.Discount != nil {
		if err := checkDiscount(*req.Discount); err != nil {
			return nil, err
		}
	}

	return s.mutate(ctx, id, "update", func(inv *model.Invoice) ([]*model.OutboxEvent, error) {
		if req.Items != nil || req.Discount != nil {
			if err := requireEditable(inv); err != nil {
				return nil, err
			}
		} else if inv.Status == model.InvoiceStatusCancelled {
			return nil, apperrors.Conflict("invoice is cancelled")
		}
		if req.Items != nil {
			inv.Items = items
		}
		if req.Discount != nil {
			inv.Discount = *req.Discount
		}
		if req.Notes != nil {
			inv.Notes = *req.Notes
		}
		return nil, nil
	})
}

func (s *Service) RecordPayment(ctx context.Context, id uuid.UUID, req *model.RecordPaymentRequest) (*model.Invoice, error) {
	amount := req.Amount
	if !amount.IsPositive() {
		return nil, apperrors.Validation("payment amount must be greater than zero", nil)
	}
	if !money.Exact(amount) {
		return nil, apperrors.Validationf("payment amount %s has more than %d decimal places", amount, money.Places)
	}
	if !req.PaymentMethod.IsValid() {
		return nil, apperrors.Validationf("invalid payment method %q", req.PaymentMethod)
	}

	inv, err := s.mutate(ctx, id, "payment", func(inv *model.Invoice) ([]*model.OutboxEvent, error) {
		if inv.Status.IsTerminal() {
			return nil, apperrors.Conflictf("invoice is %s", inv.Status)
		}
		if outstanding := inv.Outstanding(); amount.GreaterThan(outstanding) {
			return nil, apperrors.Validationf("payment %s exceeds outstanding balance %s",
				amount.StringFixed(money.Places), outstanding.StringFixed(money.Places))
		}

		now := s.now()
		inv.Payments = append(inv.Payments, model.Payment{
			ID:            uuid.New(),
			Amount:        amount,
			Method:        req.PaymentMethod,
			Date:          now,
			TransactionID: req.TransactionID,
			Notes:         req.Notes,
			RecordedBy:    auth.SubjectFrom(ctx),
		})
		inv.PaidAmount = inv.PaidAmount.Add(amount)
		inv.Status = DeriveStatus(inv, now)

		if inv.Status != model.InvoiceStatusPaid {
			return nil, nil
		}
		evt, err := event.New(ctx, model.EventInvoicePaid, invoiceEvent(inv))
		if err != nil {
			return nil, err
		}
		return []*model.OutboxEvent{evt}, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.PaymentsTotal.WithLabelValues(string(req.PaymentMethod)).Inc()
	s.metrics.PaymentsAmount.Add(amount.InexactFloat64())
	return inv, nil
}

// SetStatus performs the explicit transitions. paid, partial and overdue are
// derived from payments and due dates and cannot be set directly.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status model.InvoiceStatus) (*model.Invoice, error) {
	switch status {
	case model.InvoiceStatusDraft, model.InvoiceStatusGenerated, model.InvoiceStatusCancelled:
	case model.InvoiceStatusPaid, model.InvoiceStatusPartial, model.InvoiceStatusOverdue:
		return nil, apperrors.Validationf("status %s is derived and cannot be set", status)
	default:
		return nil, apperrors.Validationf("invalid invoice status %q", status)
	}

	return s.mutate(ctx, id, "status", func(inv *model.Invoice) ([]*model.OutboxEvent, error) {
		from := inv.Status
		if from.IsTerminal() {
			return nil, apperrors.Conflictf("invoice is %s", from)
		}

		switch {
		case status == model.InvoiceStatusCancelled:
		case from == model.InvoiceStatusDraft && status == model.InvoiceStatusGenerated:
		case from == model.InvoiceStatusGenerated && status == model.InvoiceStatusDraft:
			if inv.PaidAmount.IsPositive() {
				return nil, apperrors.Conflict("invoice with payments cannot return to draft")
			}
		default:
			return nil, apperrors.Conflictf("cannot move invoice from %s to %s", from, status)
		}
		inv.Status = status

		if status != model.InvoiceStatusCancelled {
			return nil, nil
		}
		evt, err := event.New(ctx, model.EventInvoiceCancelled, invoiceEvent(inv))
		if err != nil {
			return nil, err
		}
		return []*model.OutboxEvent{evt}, nil
	})
}

func requireEditable(inv *model.Invoice) error {
	if !inv.Status.Editable() {
		return apperrors.Conflictf("invoice is %s and can no longer be edited", inv.Status)
	}
	return nil
}

func invoiceEvent(inv *model.Invoice) model.InvoiceEvent {
	return model.InvoiceEvent{
		InvoiceID:   inv.ID,
		PatientID:   inv.PatientID,
		Status:      inv.Status,
		TotalAmount: inv.TotalAmount.StringFixed(money.Places),
		PaidAmount:  inv.PaidAmount.StringFixed(money.Places),
	}
}

// mutate loads the invoice under its lock, brings its status up to date,
// applies fn to a copy, recomputes totals and stores the copy with a version
// check. Nothing is written when fn or the total checks fail.
func (s *Service) mutate(
	ctx context.Context,
	id uuid.UUID,
	operation string,
	fn func(inv *model.Invoice) ([]*model.OutboxEvent, error),
) (*model.Invoice, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	inv, err := s.apply(ctx, id, fn)
	if err != nil {
		s.metrics.InvoiceOps.WithLabelValues(operation, "error").Inc()
		return nil, err
	}
	s.metrics.InvoiceOps.WithLabelValues(operation, "success").Inc()
	log.Info().
		Str("invoice_id", id.String()).
		Str("operation", operation).
		Str("status", string(inv.Status)).
		Str("total", inv.TotalAmount.StringFixed(money.Places)).
		Msg("invoice updated")
	return inv, nil
}

func (s *Service) apply(ctx context.Context, id uuid.UUID, fn func(inv *model.Invoice) ([]*model.OutboxEvent, error)) (*model.Invoice, error) {
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	next := current.Clone()
	next.Status = EffectiveStatus(next, now)

	events, err := fn(next)
	if err != nil {
		return nil, err
	}

	Recalculate(next)
	if err := checkTotals(next); err != nil {
		return nil, err
	}
	if next.PaidAmount.IsPositive() && next.Status != model.InvoiceStatusCancelled {
		next.Status = DeriveStatus(next, now)
	}
	if !Balanced(next) {
		return nil, apperrors.Internal(fmt.Errorf("invoice %s totals out of balance", id))
	}
	next.UpdatedAt = now

	err = retry.Do(ctx, s.policy("invoice.update"), func() error {
		return s.repo.Update(ctx, next, events...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update invoice: %w", err)
	}
	return next, nil
}
