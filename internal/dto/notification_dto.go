// FILE: internal/dto/notification_dto.go
package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NotificationResponse mirrors one row of the server's notification history.
type NotificationResponse struct {
	ID         uuid.UUID       `json:"id" validate:"required"`
	UserID     uuid.UUID       `json:"user_id"`
	ActorID    *uuid.UUID      `json:"actor_id,omitempty"`
	TypeCode   string          `json:"type_code" validate:"required"`
	EntityType string          `json:"entity_type,omitempty"`
	EntityID   *uuid.UUID      `json:"entity_id,omitempty"`
	Title      string          `json:"title" validate:"required"`
	Message    string          `json:"message"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	IsRead     bool            `json:"is_read"`
	ReadAt     *time.Time      `json:"read_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NotificationPage is the data of GET /notifications.
type NotificationPage struct {
	Data  []NotificationResponse `json:"data"`
	Total int64                  `json:"total"`
	Page  int                    `json:"page"`
	Limit int                    `json:"limit"`
}

type UnreadCountResponse struct {
	Count int64 `json:"count" validate:"gte=0"`
}
