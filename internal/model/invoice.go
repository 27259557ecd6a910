package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusGenerated InvoiceStatus = "generated"
	InvoiceStatusPartial   InvoiceStatus = "partial"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusGenerated, InvoiceStatusPartial,
		InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further item or payment mutation is accepted.
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

// Editable reports whether items and discount may still change.
func (s InvoiceStatus) Editable() bool {
	return s == InvoiceStatusDraft || s == InvoiceStatusGenerated || s == InvoiceStatusPartial
}

type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodCreditCard   PaymentMethod = "credit_card"
	PaymentMethodDebitCard    PaymentMethod = "debit_card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodUPI          PaymentMethod = "upi"
	PaymentMethodInsurance    PaymentMethod = "insurance"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCreditCard, PaymentMethodDebitCard,
		PaymentMethodBankTransfer, PaymentMethodUPI, PaymentMethodInsurance:
		return true
	}
	return false
}

const ItemCategoryRoom = "room"

type LineItem struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
	TaxRate     decimal.Decimal `json:"taxRate"`
	Discount    decimal.Decimal `json:"discount"`
	Category    string          `json:"category,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
}

type Payment struct {
	ID            uuid.UUID       `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        PaymentMethod   `json:"paymentMethod"`
	Date          time.Time       `json:"date"`
	TransactionID string          `json:"transactionId,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	RecordedBy    string          `json:"recordedBy,omitempty"`
}

type Invoice struct {
	ID          uuid.UUID       `json:"id"`
	PatientID   uuid.UUID       `json:"patientId"`
	BedID       *uuid.UUID      `json:"bedId,omitempty"`
	Items       []LineItem      `json:"items"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	Discount    decimal.Decimal `json:"discount"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	PaidAmount  decimal.Decimal `json:"paidAmount"`
	Payments    []Payment       `json:"payments"`
	Notes       string          `json:"notes,omitempty"`
	DueDate     *time.Time      `json:"dueDate,omitempty"`
	Status      InvoiceStatus   `json:"status"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Outstanding is the amount still owed.
func (i *Invoice) Outstanding() decimal.Decimal {
	return i.TotalAmount.Sub(i.PaidAmount)
}

// Clone returns a deep copy of the invoice.
func (i *Invoice) Clone() *Invoice {
	c := *i
	c.Items = append([]LineItem(nil), i.Items...)
	c.Payments = append([]Payment(nil), i.Payments...)
	if i.BedID != nil {
		id := *i.BedID
		c.BedID = &id
	}
	if i.DueDate != nil {
		t := *i.DueDate
		c.DueDate = &t
	}
	return &c
}

type InvoiceFilters struct {
	Status    InvoiceStatus
	PatientID uuid.UUID
	FromDate  time.Time
	ToDate    time.Time
}

type BillingSummary struct {
	TotalBilled      decimal.Decimal `json:"totalBilled"`
	TotalPaid        decimal.Decimal `json:"totalPaid"`
	TotalOutstanding decimal.Decimal `json:"totalOutstanding"`
	Count            int             `json:"count"`
}

type CreateInvoiceRequest struct {
	PatientID uuid.UUID  `json:"patientId" binding:"required"`
	BedID     *uuid.UUID `json:"bedId"`
	DueDate   *Date      `json:"dueDate"`
}

// LineItemInput is what callers send; any client-side amount is ignored.
type LineItemInput struct {
	Description string          `json:"description" binding:"required"`
	Quantity    int             `json:"quantity" binding:"gt=0"`
	Rate        decimal.Decimal `json:"rate" binding:"gte=0"`
	TaxRate     decimal.Decimal `json:"taxRate" binding:"gte=0,lte=100"`
	Discount    decimal.Decimal `json:"discount" binding:"gte=0,lte=100"`
	Category    string          `json:"category"`
}

type UpdateInvoiceRequest struct {
	Items    []LineItemInput  `json:"items" binding:"omitempty,dive"`
	Discount *decimal.Decimal `json:"discount" binding:"omitempty,gte=0"`
	Notes    *string          `json:"notes"`
}

type DiscountRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"gte=0"`
}

type RecordPaymentRequest struct {
	Amount        decimal.Decimal `json:"amount" binding:"gt=0"`
	PaymentMethod PaymentMethod   `json:"paymentMethod" binding:"required,oneof=cash credit_card debit_card bank_transfer upi insurance"`
	TransactionID string          `json:"transactionId"`
	Notes         string          `json:"notes"`
}

type SetStatusRequest struct {
	Status InvoiceStatus `json:"status" binding:"required"`
}

type RoomChargeRequest struct {
	Days int `json:"days" binding:"required,gt=0"`
}

type InvoiceEvent struct {
	InvoiceID   uuid.UUID     `json:"invoiceId"`
	PatientID   uuid.UUID     `json:"patientId"`
	Status      InvoiceStatus `json:"status"`
	TotalAmount string        `json:"totalAmount"`
	PaidAmount  string        `json:"paidAmount"`
}
