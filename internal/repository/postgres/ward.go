package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/hms-api/internal/model"
	"github.com/jwalitptl/hms-api/internal/repository"
	apperrors "github.com/jwalitptl/hms-api/pkg/errors"
)

type wardRepository struct {
	BaseRepository
}

func NewWardRepository(base BaseRepository) repository.WardRepository {
	return &wardRepository{base}
}

func (r *wardRepository) Create(ctx context.Context, ward *model.Ward) error {
	query := `
		INSERT INTO wards (id, name, type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, ward.ID, ward.Name, ward.Type, ward.CreatedAt, ward.UpdatedAt)
	return mapError("create ward", "ward", err)
}

func (r *wardRepository) Get(ctx context.Context, id uuid.UUID) (*model.Ward, error) {
	var ward model.Ward
	query := `SELECT id, name, type, created_at, updated_at FROM wards WHERE id = $1`
	if err := r.db.GetContext(ctx, &ward, query, id); err != nil {
		return nil, mapError("get ward", "ward", err)
	}
	return &ward, nil
}

func (r *wardRepository) Update(ctx context.Context, ward *model.Ward) error {
	query := `
		UPDATE wards SET name = $1, type = $2, updated_at = $3
		WHERE id = $4
	`
	result, err := r.db.ExecContext(ctx, query, ward.Name, ward.Type, ward.UpdatedAt, ward.ID)
	if err != nil {
		return mapError("update ward", "ward", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.Storage("update ward", err)
	}
	if rows == 0 {
		return apperrors.NotFound("ward", nil)
	}
	return nil
}

func (r *wardRepository) List(ctx context.Context) ([]*model.Ward, error) {
	wards := []*model.Ward{}
	query := `SELECT id, name, type, created_at, updated_at FROM wards ORDER BY name`
	if err := r.db.SelectContext(ctx, &wards, query); err != nil {
		return nil, mapError("list wards", "ward", err)
	}
	return wards, nil
}
