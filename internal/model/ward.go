package model

import (
	"time"

	"github.com/google/uuid"
)

type WardType string

const (
	WardTypeGeneral WardType = "general"
	WardTypeICU     WardType = "icu"
	WardTypePrivate WardType = "private"
)

func (t WardType) IsValid() bool {
	switch t {
	case WardTypeGeneral, WardTypeICU, WardTypePrivate:
		return true
	}
	return false
}

type Ward struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Type      WardType  `db:"type" json:"type"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

type CreateWardRequest struct {
	Name string   `json:"name" binding:"required"`
	Type WardType `json:"type" binding:"required,oneof=general icu private"`
}

type UpdateWardRequest struct {
	Name *string   `json:"name"`
	Type *WardType `json:"type" binding:"omitempty,oneof=general icu private"`
}
