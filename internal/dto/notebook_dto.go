// FILE: internal/dto/notebook_dto.go
package dto

import (
	"time"

	"github.com/google/uuid"
)

type CreateNotebookRequest struct {
	Name     string     `json:"name" validate:"required"`
	ParentId *uuid.UUID `json:"parent_id"`
}

type UpdateNotebookRequest struct {
	Name string `json:"name" validate:"required"`
}

type CreateNotebookResponse struct {
	Id uuid.UUID `json:"id" validate:"required"`
}

type NotebookResponse struct {
	Id        uuid.UUID      `json:"id" validate:"required"`
	Name      string         `json:"name"`
	ParentId  *uuid.UUID     `json:"parent_id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt *time.Time     `json:"updated_at"`
	Notes     []NoteResponse `json:"notes,omitempty"`
}

type CreateNoteRequest struct {
	Title      string    `json:"title" validate:"required"`
	Content    string    `json:"content"`
	NotebookId uuid.UUID `json:"notebook_id" validate:"required"`
}

type UpdateNoteRequest struct {
	Title   string `json:"title" validate:"required"`
	Content string `json:"content"`
}

type CreateNoteResponse struct {
	Id uuid.UUID `json:"id" validate:"required"`
}

type NoteResponse struct {
	Id         uuid.UUID  `json:"id" validate:"required"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	NotebookId uuid.UUID  `json:"notebook_id"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at"`
}

type SemanticSearchResponse struct {
	Id             uuid.UUID `json:"id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	NotebookId     uuid.UUID `json:"notebook_id"`
	SearchType     string    `json:"search_type,omitempty"` // "literal" | "semantic"
	RelevanceScore *float64  `json:"relevance_score,omitempty"`
}
