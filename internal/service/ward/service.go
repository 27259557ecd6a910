package ward

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/hms-api/internal/model"
	"github.com/jwalitptl/hms-api/internal/repository"
	apperrors "github.com/jwalitptl/hms-api/pkg/errors"
	"github.com/jwalitptl/hms-api/pkg/metrics"
	"github.com/jwalitptl/hms-api/pkg/retry"
)

const listCacheKey = "wards:all"

type Service struct {
	repo    repository.WardRepository
	cache   *cache.Cache
	metrics *metrics.Metrics
	retry   retry.Policy
}

func NewService(repo repository.WardRepository, ttl, cleanup time.Duration, m *metrics.Metrics, rp retry.Policy) *Service {
	return &Service{
		repo:    repo,
		cache:   cache.New(ttl, cleanup),
		metrics: m,
		retry:   rp,
	}
}

func (s *Service) CreateWard(ctx context.Context, req *model.CreateWardRequest) (*model.Ward, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.Validation("ward name is required", nil)
	}
	if !req.Type.IsValid() {
		return nil, apperrors.Validationf("invalid ward type %q", req.Type)
	}

	now := time.Now()
	w := &model.Ward{
		ID:        uuid.New(),
		Name:      name,
		Type:      req.Type,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to create ward: %w", err)
	}

	s.cache.Delete(listCacheKey)
	s.cache.SetDefault(w.ID.String(), w)
	log.Info().Str("ward_id", w.ID.String()).Str("type", string(w.Type)).Msg("ward created")
	return w, nil
}

func (s *Service) UpdateWard(ctx context.Context, id uuid.UUID, req *model.UpdateWardRequest) (*model.Ward, error) {
	w, err := s.GetWard(ctx, id)
	if err != nil {
		return nil, err
	}
	updated := *w

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperrors.Validation("ward name cannot be empty", nil)
		}
		updated.Name = name
	}
	if req.Type != nil {
		if !req.Type.IsValid() {
			return nil, apperrors.Validationf("invalid ward type %q", *req.Type)
		}
		updated.Type = *req.Type
	}
	updated.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, &updated); err != nil {
		return nil, fmt.Errorf("failed to update ward: %w", err)
	}

	s.cache.Delete(listCacheKey)
	s.cache.SetDefault(id.String(), &updated)
	return &updated, nil
}

// GetWard serves reference data from the cache when possible.
func (s *Service) GetWard(ctx context.Context, id uuid.UUID) (*model.Ward, error) {
	if cached, ok := s.cache.Get(id.String()); ok {
		s.metrics.WardCacheLookup.WithLabelValues("hit").Inc()
		w := *cached.(*model.Ward)
		return &w, nil
	}
	s.metrics.WardCacheLookup.WithLabelValues("miss").Inc()

	var w *model.Ward
	err := retry.Do(ctx, s.retry, func() error {
		var getErr error
		w, getErr = s.repo.Get(ctx, id)
		return getErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get ward: %w", err)
	}

	s.cache.SetDefault(id.String(), w)
	c := *w
	return &c, nil
}

func (s *Service) ListWards(ctx context.Context) ([]*model.Ward, error) {
	if cached, ok := s.cache.Get(listCacheKey); ok {
		s.metrics.WardCacheLookup.WithLabelValues("hit").Inc()
		return copyWards(cached.([]*model.Ward)), nil
	}
	s.metrics.WardCacheLookup.WithLabelValues("miss").Inc()

	var wards []*model.Ward
	err := retry.Do(ctx, s.retry, func() error {
		var listErr error
		wards, listErr = s.repo.List(ctx)
		return listErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list wards: %w", err)
	}

	s.cache.SetDefault(listCacheKey, copyWards(wards))
	return wards, nil
}

func copyWards(in []*model.Ward) []*model.Ward {
	out := make([]*model.Ward, len(in))
	for i, w := range in {
		c := *w
		out[i] = &c
	}
	return out
}
