// FILE: internal/dto/chatbot_dto.go
package dto

import (
	"time"

	"github.com/google/uuid"
)

type SendChatRequest struct {
	ChatSessionId uuid.UUID `json:"chat_session_id" validate:"required"`
	Chat          string    `json:"chat" validate:"required"`
}

type ChatMessageDTO struct {
	Id        uuid.UUID `json:"id"`
	Chat      string    `json:"chat"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type SendChatResponse struct {
	ChatSessionId    uuid.UUID       `json:"chat_session_id"`
	ChatSessionTitle string          `json:"title"`
	Sent             *ChatMessageDTO `json:"sent"`
	Reply            *ChatMessageDTO `json:"reply" validate:"required"`
}

type CreateSessionResponse struct {
	Id uuid.UUID `json:"id" validate:"required"`
}

type ChatSessionDTO struct {
	Id        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}
