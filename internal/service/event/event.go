package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/hms-api/internal/model"
	"github.com/jwalitptl/hms-api/pkg/auth"
)

// New builds a pending outbox event for payload. The caller persists it in the
// same write as the state change it describes.
func New(ctx context.Context, eventType string, payload interface{}) (*model.OutboxEvent, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	now := time.Now()
	return &model.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   payloadJSON,
		Actor:     auth.SubjectFrom(ctx),
		Status:    model.OutboxStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
