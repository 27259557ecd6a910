package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/jwalitptl/hms-api/internal/model"
	"github.com/jwalitptl/hms-api/internal/repository"
	apperrors "github.com/jwalitptl/hms-api/pkg/errors"
)

// bedRow flattens the current admission into nullable columns.
type bedRow struct {
	ID                    uuid.UUID       `db:"id"`
	WardID                uuid.UUID       `db:"ward_id"`
	BedNumber             string          `db:"bed_number"`
	RatePerDay            decimal.Decimal `db:"rate_per_day"`
	Features              pq.StringArray  `db:"features"`
	Status                model.BedStatus `db:"status"`
	PatientID             uuid.NullUUID   `db:"patient_id"`
	AdmissionDate         sql.NullTime    `db:"admission_date"`
	ExpectedDischargeDate sql.NullTime    `db:"expected_discharge_date"`
	Version               int64           `db:"version"`
	CreatedAt             time.Time       `db:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at"`
}

const bedColumns = `id, ward_id, bed_number, rate_per_day, features, status,
	patient_id, admission_date, expected_discharge_date, version, created_at, updated_at`

func toBedRow(b *model.Bed) bedRow {
	row := bedRow{
		ID:         b.ID,
		WardID:     b.WardID,
		BedNumber:  b.BedNumber,
		RatePerDay: b.RatePerDay,
		Features:   pq.StringArray(b.Features),
		Status:     b.Status,
		Version:    b.Version,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
	if row.Features == nil {
		row.Features = pq.StringArray{}
	}
	if adm := b.CurrentAdmission; adm != nil {
		row.PatientID = uuid.NullUUID{UUID: adm.PatientID, Valid: true}
		row.AdmissionDate = sql.NullTime{Time: adm.AdmissionDate, Valid: true}
		if adm.ExpectedDischargeDate != nil {
			row.ExpectedDischargeDate = sql.NullTime{Time: *adm.ExpectedDischargeDate, Valid: true}
		}
	}
	return row
}

func (row bedRow) toModel() *model.Bed {
	b := &model.Bed{
		ID:         row.ID,
		WardID:     row.WardID,
		BedNumber:  row.BedNumber,
		RatePerDay: row.RatePerDay,
		Features:   []string(row.Features),
		Status:     row.Status,
		Version:    row.Version,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	if b.Features == nil {
		b.Features = []string{}
	}
	if row.PatientID.Valid {
		adm := &model.Admission{PatientID: row.PatientID.UUID, AdmissionDate: row.AdmissionDate.Time}
		if row.ExpectedDischargeDate.Valid {
			t := row.ExpectedDischargeDate.Time
			adm.ExpectedDischargeDate = &t
		}
		b.CurrentAdmission = adm
	}
	return b
}

type bedRepository struct {
	BaseRepository
}

func NewBedRepository(base BaseRepository) repository.BedRepository {
	return &bedRepository{base}
}

// Create relies on the unique index on (ward_id, lower(bed_number)).
func (r *bedRepository) Create(ctx context.Context, bed *model.Bed) error {
	row := toBedRow(bed)
	query := `
		INSERT INTO beds (` + bedColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		row.ID, row.WardID, row.BedNumber, row.RatePerDay, row.Features, row.Status,
		row.PatientID, row.AdmissionDate, row.ExpectedDischargeDate, row.Version,
		row.CreatedAt, row.UpdatedAt,
	)
	mapped := mapError("create bed", "bed", err)
	if apperrors.IsConflict(mapped) {
		return apperrors.Conflictf("bed number %s already exists in ward", bed.BedNumber)
	}
	return mapped
}

func (r *bedRepository) Get(ctx context.Context, id uuid.UUID) (*model.Bed, error) {
	var row bedRow
	query := `SELECT ` + bedColumns + ` FROM beds WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, mapError("get bed", "bed", err)
	}
	return row.toModel(), nil
}

func (r *bedRepository) List(ctx context.Context, filters *model.BedFilters) ([]*model.Bed, error) {
	var conditions []string
	var args []interface{}
	if filters != nil {
		if filters.Status != "" {
			args = append(args, filters.Status)
			conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
		}
		if filters.WardID != uuid.Nil {
			args = append(args, filters.WardID)
			conditions = append(conditions, fmt.Sprintf("ward_id = $%d", len(args)))
		}
	}

	query := `SELECT ` + bedColumns + ` FROM beds`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY bed_number"

	var rows []bedRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError("list beds", "bed", err)
	}
	beds := make([]*model.Bed, 0, len(rows))
	for _, row := range rows {
		beds = append(beds, row.toModel())
	}
	return beds, nil
}

func (r *bedRepository) Update(ctx context.Context, bed *model.Bed, events ...*model.OutboxEvent) error {
	row := toBedRow(bed)
	query := `
		UPDATE beds SET
			status = $1,
			patient_id = $2,
			admission_date = $3,
			expected_discharge_date = $4,
			rate_per_day = $5,
			features = $6,
			updated_at = $7,
			version = version + 1
		WHERE id = $8 AND version = $9
	`
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			row.Status, row.PatientID, row.AdmissionDate, row.ExpectedDischargeDate,
			row.RatePerDay, row.Features, row.UpdatedAt, row.ID, row.Version,
		)
		if err != nil {
			return mapError("update bed", "bed", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return apperrors.Storage("update bed", err)
		}
		if affected == 0 {
			return lostUpdate(ctx, tx, "beds", "bed", bed.ID)
		}
		return insertEvents(ctx, tx, events)
	})
	if err != nil {
		return err
	}
	bed.Version++
	return nil
}
