package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BedStatus string

const (
	BedStatusAvailable   BedStatus = "available"
	BedStatusOccupied    BedStatus = "occupied"
	BedStatusMaintenance BedStatus = "maintenance"
)

func (s BedStatus) IsValid() bool {
	switch s {
	case BedStatusAvailable, BedStatusOccupied, BedStatusMaintenance:
		return true
	}
	return false
}

// Admission is the patient currently holding a bed.
type Admission struct {
	PatientID             uuid.UUID  `json:"patientId"`
	AdmissionDate         time.Time  `json:"admissionDate"`
	ExpectedDischargeDate *time.Time `json:"expectedDischargeDate,omitempty"`
}

type Bed struct {
	ID               uuid.UUID       `json:"id"`
	BedNumber        string          `json:"bedNumber"`
	WardID           uuid.UUID       `json:"ward"`
	RatePerDay       decimal.Decimal `json:"ratePerDay"`
	Features         []string        `json:"features"`
	Status           BedStatus       `json:"status"`
	CurrentAdmission *Admission      `json:"currentAdmission,omitempty"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Consistent reports whether status and admission agree:
// occupied if and only if an admission is present.
func (b *Bed) Consistent() bool {
	return (b.Status == BedStatusOccupied) == (b.CurrentAdmission != nil)
}

// Clone returns a deep copy so a transition can be computed without touching the original.
func (b *Bed) Clone() *Bed {
	c := *b
	c.Features = append([]string(nil), b.Features...)
	if b.CurrentAdmission != nil {
		adm := *b.CurrentAdmission
		if adm.ExpectedDischargeDate != nil {
			t := *adm.ExpectedDischargeDate
			adm.ExpectedDischargeDate = &t
		}
		c.CurrentAdmission = &adm
	}
	return &c
}

type BedFilters struct {
	Status BedStatus
	WardID uuid.UUID
}

type CreateBedRequest struct {
	BedNumber  string          `json:"bedNumber" binding:"required"`
	WardID     uuid.UUID       `json:"ward" binding:"required"`
	RatePerDay decimal.Decimal `json:"ratePerDay" binding:"gt=0"`
	Features   []string        `json:"features"`
}

type AssignBedRequest struct {
	PatientID         uuid.UUID `json:"patientId" binding:"required"`
	AdmissionDate     Date      `json:"admissionDate"`
	ExpectedDischarge *Date     `json:"expectedDischarge"`
}

// BedDischargedEvent is published when a bed is released. Billing may subscribe to it.
type BedDischargedEvent struct {
	BedID         uuid.UUID `json:"bedId"`
	WardID        uuid.UUID `json:"wardId"`
	PatientID     uuid.UUID `json:"patientId"`
	AdmissionDate time.Time `json:"admissionDate"`
	DischargedAt  time.Time `json:"dischargedAt"`
	RatePerDay    string    `json:"ratePerDay"`
}

type BedAssignedEvent struct {
	BedID         uuid.UUID `json:"bedId"`
	WardID        uuid.UUID `json:"wardId"`
	PatientID     uuid.UUID `json:"patientId"`
	AdmissionDate time.Time `json:"admissionDate"`
}
