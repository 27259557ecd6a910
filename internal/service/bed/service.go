// Package bed implements bed occupancy: admission, discharge and the
// maintenance side state. Every transition is a check-and-set guarded by a
// per-bed mutex in process and a version compare-and-swap in the store.
package bed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/jwalitptl/hms-api/internal/model"
	"github.com/jwalitptl/hms-api/internal/repository"
	"github.com/jwalitptl/hms-api/internal/service/event"
	apperrors "github.com/jwalitptl/hms-api/pkg/errors"
	"github.com/jwalitptl/hms-api/pkg/keymutex"
	"github.com/jwalitptl/hms-api/pkg/metrics"
	"github.com/jwalitptl/hms-api/pkg/money"
	"github.com/jwalitptl/hms-api/pkg/retry"
)

// WardLookup resolves the ward a bed belongs to.
type WardLookup interface {
	GetWard(ctx context.Context, id uuid.UUID) (*model.Ward, error)
}

type Service struct {
	repo    repository.BedRepository
	wards   WardLookup
	locks   *keymutex.KeyMutex
	metrics *metrics.Metrics
	retry   retry.Policy
	now     func() time.Time
}

func NewService(repo repository.BedRepository, wards WardLookup, m *metrics.Metrics, rp retry.Policy) *Service {
	return &Service{
		repo:    repo,
		wards:   wards,
		locks:   keymutex.New(),
		metrics: m,
		retry:   rp,
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

func (s *Service) CreateBed(ctx context.Context, req *model.CreateBedRequest) (*model.Bed, error) {
	number := strings.TrimSpace(req.BedNumber)
	if number == "" {
		return nil, apperrors.Validation("bed number is required", nil)
	}
	if req.WardID == uuid.Nil {
		return nil, apperrors.Validation("ward is required", nil)
	}
	if !req.RatePerDay.IsPositive() {
		return nil, apperrors.Validation("rate per day must be greater than zero", nil)
	}
	if !money.Exact(req.RatePerDay) {
		return nil, apperrors.Validationf("rate per day %s has more than %d decimal places", req.RatePerDay, money.Places)
	}

	if _, err := s.wards.GetWard(ctx, req.WardID); err != nil {
		return nil, err
	}

	features := make([]string, 0, len(req.Features))
	for _, f := range req.Features {
		if f = strings.TrimSpace(f); f != "" {
			features = append(features, f)
		}
	}

	now := s.now()
	bed := &model.Bed{
		ID:         uuid.New(),
		BedNumber:  number,
		WardID:     req.WardID,
		RatePerDay: req.RatePerDay,
		Features:   features,
		Status:     model.BedStatusAvailable,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, bed); err != nil {
		return nil, fmt.Errorf("failed to create bed: %w", err)
	}

	log.Info().Str("bed_id", bed.ID.String()).Str("bed_number", bed.BedNumber).Msg("bed created")
	return bed, nil
}

func (s *Service) GetBed(ctx context.Context, id uuid.UUID) (*model.Bed, error) {
	var bed *model.Bed
	err := retry.Do(ctx, s.policy("bed.get"), func() error {
		var err error
		bed, err = s.repo.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get bed: %w", err)
	}
	return bed, nil
}

// RatePerDay implements the bed rate lookup billing needs for room charges.
func (s *Service) RatePerDay(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	bed, err := s.GetBed(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return bed.RatePerDay, nil
}

func (s *Service) ListBeds(ctx context.Context, filters *model.BedFilters) ([]*model.Bed, error) {
	if filters != nil && filters.Status != "" && !filters.Status.IsValid() {
		return nil, apperrors.Validationf("invalid bed status %q", filters.Status)
	}

	var beds []*model.Bed
	err := retry.Do(ctx, s.policy("bed.list"), func() error {
		var err error
		beds, err = s.repo.List(ctx, filters)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list beds: %w", err)
	}
	return beds, nil
}

func (s *Service) AssignPatient(ctx context.Context, id uuid.UUID, req *model.AssignBedRequest) (*model.Bed, error) {
	if req.PatientID == uuid.Nil {
		return nil, apperrors.Validation("patient is required", nil)
	}
	if req.AdmissionDate.IsZero() {
		return nil, apperrors.Validation("admission date is required", nil)
	}
	expected := req.ExpectedDischarge.TimePtr()
	if expected != nil && expected.Before(req.AdmissionDate.Time) {
		return nil, apperrors.Validation("expected discharge date cannot be before admission date", nil)
	}

	return s.transition(ctx, id, model.BedStatusOccupied, func(bed *model.Bed) ([]*model.OutboxEvent, error) {
		if bed.Status != model.BedStatusAvailable {
			return nil, apperrors.Conflictf("bed %s is %s", bed.BedNumber, bed.Status)
		}
		bed.Status = model.BedStatusOccupied
		bed.CurrentAdmission = &model.Admission{
			PatientID:             req.PatientID,
			AdmissionDate:         req.AdmissionDate.Time,
			ExpectedDischargeDate: expected,
		}

		evt, err := event.New(ctx, model.EventBedAssigned, model.BedAssignedEvent{
			BedID:         bed.ID,
			WardID:        bed.WardID,
			PatientID:     req.PatientID,
			AdmissionDate: req.AdmissionDate.Time,
		})
		if err != nil {
			return nil, err
		}
		return []*model.OutboxEvent{evt}, nil
	})
}

// Discharge releases an occupied bed and records a bed.discharged event for
// billing to pick up.
func (s *Service) Discharge(ctx context.Context, id uuid.UUID) (*model.Bed, error) {
	return s.transition(ctx, id, model.BedStatusAvailable, func(bed *model.Bed) ([]*model.OutboxEvent, error) {
		if bed.Status != model.BedStatusOccupied {
			return nil, apperrors.Conflictf("bed %s is not occupied", bed.BedNumber)
		}
		adm := bed.CurrentAdmission
		bed.Status = model.BedStatusAvailable
		bed.CurrentAdmission = nil

		evt, err := event.New(ctx, model.EventBedDischarged, model.BedDischargedEvent{
			BedID:         bed.ID,
			WardID:        bed.WardID,
			PatientID:     adm.PatientID,
			AdmissionDate: adm.AdmissionDate,
			DischargedAt:  s.now(),
			RatePerDay:    bed.RatePerDay.StringFixed(money.Places),
		})
		if err != nil {
			return nil, err
		}
		return []*model.OutboxEvent{evt}, nil
	})
}

func (s *Service) SetMaintenance(ctx context.Context, id uuid.UUID) (*model.Bed, error) {
	return s.transition(ctx, id, model.BedStatusMaintenance, func(bed *model.Bed) ([]*model.OutboxEvent, error) {
		if bed.Status != model.BedStatusAvailable {
			return nil, apperrors.Conflictf("bed %s is %s; only available beds can enter maintenance", bed.BedNumber, bed.Status)
		}
		bed.Status = model.BedStatusMaintenance
		return nil, nil
	})
}

func (s *Service) ClearMaintenance(ctx context.Context, id uuid.UUID) (*model.Bed, error) {
	return s.transition(ctx, id, model.BedStatusAvailable, func(bed *model.Bed) ([]*model.OutboxEvent, error) {
		if bed.Status != model.BedStatusMaintenance {
			return nil, apperrors.Conflictf("bed %s is not under maintenance", bed.BedNumber)
		}
		bed.Status = model.BedStatusAvailable
		return nil, nil
	})
}

// transition loads the bed under its lock, applies fn to a copy and stores the
// copy with a version check. The stored bed is untouched when fn fails.
func (s *Service) transition(
	ctx context.Context,
	id uuid.UUID,
	to model.BedStatus,
	fn func(bed *model.Bed) ([]*model.OutboxEvent, error),
) (*model.Bed, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.GetBed(ctx, id)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	events, err := fn(next)
	if err != nil {
		if apperrors.IsConflict(err) {
			s.metrics.BedConflicts.Inc()
		}
		return nil, err
	}
	if !next.Consistent() {
		return nil, apperrors.Internal(fmt.Errorf("bed %s: status and admission out of sync", id))
	}
	next.UpdatedAt = s.now()

	err = retry.Do(ctx, s.policy("bed.update"), func() error {
		return s.repo.Update(ctx, next, events...)
	})
	if err != nil {
		if apperrors.IsConflict(err) {
			s.metrics.BedConflicts.Inc()
		}
		return nil, fmt.Errorf("failed to update bed: %w", err)
	}

	s.metrics.BedTransitions.WithLabelValues(string(to)).Inc()
	log.Info().
		Str("bed_id", id.String()).
		Str("from", string(current.Status)).
		Str("to", string(next.Status)).
		Msg("bed transition")
	return next, nil
}
