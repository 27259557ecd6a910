package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/jwalitptl/hms-api/internal/model"
	"github.com/jwalitptl/hms-api/internal/repository"
	apperrors "github.com/jwalitptl/hms-api/pkg/errors"
)

// invoiceRow keeps items and payments as JSONB documents.
type invoiceRow struct {
	ID          uuid.UUID                    `db:"id"`
	PatientID   uuid.UUID                    `db:"patient_id"`
	BedID       uuid.NullUUID                `db:"bed_id"`
	Items       jsonColumn[[]model.LineItem] `db:"items"`
	Payments    jsonColumn[[]model.Payment]  `db:"payments"`
	Subtotal    decimal.Decimal              `db:"subtotal"`
	Tax         decimal.Decimal              `db:"tax"`
	Discount    decimal.Decimal              `db:"discount"`
	TotalAmount decimal.Decimal              `db:"total_amount"`
	PaidAmount  decimal.Decimal              `db:"paid_amount"`
	Notes       string                       `db:"notes"`
	DueDate     *time.Time                   `db:"due_date"`
	Status      model.InvoiceStatus          `db:"status"`
	Version     int64                        `db:"version"`
	CreatedAt   time.Time                    `db:"created_at"`
	UpdatedAt   time.Time                    `db:"updated_at"`
}

const invoiceColumns = `id, patient_id, bed_id, items, payments, subtotal, tax, discount,
	total_amount, paid_amount, notes, due_date, status, version, created_at, updated_at`

func toInvoiceRow(inv *model.Invoice) invoiceRow {
	row := invoiceRow{
		ID:          inv.ID,
		PatientID:   inv.PatientID,
		Items:       jsonColumn[[]model.LineItem]{V: inv.Items},
		Payments:    jsonColumn[[]model.Payment]{V: inv.Payments},
		Subtotal:    inv.Subtotal,
		Tax:         inv.Tax,
		Discount:    inv.Discount,
		TotalAmount: inv.TotalAmount,
		PaidAmount:  inv.PaidAmount,
		Notes:       inv.Notes,
		DueDate:     inv.DueDate,
		Status:      inv.Status,
		Version:     inv.Version,
		CreatedAt:   inv.CreatedAt,
		UpdatedAt:   inv.UpdatedAt,
	}
	if row.Items.V == nil {
		row.Items.V = []model.LineItem{}
	}
	if row.Payments.V == nil {
		row.Payments.V = []model.Payment{}
	}
	if inv.BedID != nil {
		row.BedID = uuid.NullUUID{UUID: *inv.BedID, Valid: true}
	}
	return row
}

func (row invoiceRow) toModel() *model.Invoice {
	inv := &model.Invoice{
		ID:          row.ID,
		PatientID:   row.PatientID,
		Items:       row.Items.V,
		Payments:    row.Payments.V,
		Subtotal:    row.Subtotal,
		Tax:         row.Tax,
		Discount:    row.Discount,
		TotalAmount: row.TotalAmount,
		PaidAmount:  row.PaidAmount,
		Notes:       row.Notes,
		DueDate:     row.DueDate,
		Status:      row.Status,
		Version:     row.Version,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if inv.Items == nil {
		inv.Items = []model.LineItem{}
	}
	if inv.Payments == nil {
		inv.Payments = []model.Payment{}
	}
	if row.BedID.Valid {
		id := row.BedID.UUID
		inv.BedID = &id
	}
	return inv
}

type invoiceRepository struct {
	BaseRepository
}

func NewInvoiceRepository(base BaseRepository) repository.InvoiceRepository {
	return &invoiceRepository{base}
}

func (r *invoiceRepository) Create(ctx context.Context, invoice *model.Invoice) error {
	row := toInvoiceRow(invoice)
	query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.ExecContext(ctx, query,
		row.ID, row.PatientID, row.BedID, row.Items, row.Payments,
		row.Subtotal, row.Tax, row.Discount, row.TotalAmount, row.PaidAmount,
		row.Notes, row.DueDate, row.Status, row.Version, row.CreatedAt, row.UpdatedAt,
	)
	return mapError("create invoice", "invoice", err)
}

func (r *invoiceRepository) Get(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	var row invoiceRow
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, mapError("get invoice", "invoice", err)
	}
	return row.toModel(), nil
}

func (r *invoiceRepository) List(ctx context.Context, filters *model.InvoiceFilters) ([]*model.Invoice, error) {
	var conditions []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filters != nil {
		if filters.Status != "" {
			add("status = $%d", filters.Status)
		}
		if filters.PatientID != uuid.Nil {
			add("patient_id = $%d", filters.PatientID)
		}
		if !filters.FromDate.IsZero() {
			add("created_at >= $%d", filters.FromDate)
		}
		if !filters.ToDate.IsZero() {
			add("created_at <= $%d", filters.ToDate)
		}
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	var rows []invoiceRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError("list invoices", "invoice", err)
	}
	invoices := make([]*model.Invoice, 0, len(rows))
	for _, row := range rows {
		invoices = append(invoices, row.toModel())
	}
	return invoices, nil
}

func (r *invoiceRepository) Update(ctx context.Context, invoice *model.Invoice, events ...*model.OutboxEvent) error {
	row := toInvoiceRow(invoice)
	query := `
		UPDATE invoices SET
			items = $1,
			payments = $2,
			subtotal = $3,
			tax = $4,
			discount = $5,
			total_amount = $6,
			paid_amount = $7,
			notes = $8,
			due_date = $9,
			status = $10,
			updated_at = $11,
			version = version + 1
		WHERE id = $12 AND version = $13
	`
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			row.Items, row.Payments, row.Subtotal, row.Tax, row.Discount,
			row.TotalAmount, row.PaidAmount, row.Notes, row.DueDate, row.Status,
			row.UpdatedAt, row.ID, row.Version,
		)
		if err != nil {
			return mapError("update invoice", "invoice", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return apperrors.Storage("update invoice", err)
		}
		if affected == 0 {
			return lostUpdate(ctx, tx, "invoices", "invoice", invoice.ID)
		}
		return insertEvents(ctx, tx, events)
	})
	if err != nil {
		return err
	}
	invoice.Version++
	return nil
}
