// FILE: internal/dto/usage_dto.go
// Usage snapshot returned by GET /api/user/usage-status
package dto

import (
	"time"

	"github.com/google/uuid"
)

// UsageLimit is the status of one quota. Limit -1 = unlimited, 0 = disabled.
type UsageLimit struct {
	Used     int        `json:"used" validate:"gte=0"`
	Limit    int        `json:"limit" validate:"gte=-1"`
	CanUse   bool       `json:"can_use"`
	ResetsAt *time.Time `json:"resets_at,omitempty"` // daily quotas only
}

// StorageLimits for cumulative resources (notebooks, notes)
type StorageLimits struct {
	Notebooks UsageLimit `json:"notebooks"`
	Notes     UsageLimit `json:"notes"`
}

// DailyLimits for usage that resets daily
type DailyLimits struct {
	AiChat         UsageLimit `json:"ai_chat"`
	SemanticSearch UsageLimit `json:"semantic_search"`
}

type UsageStatusResponse struct {
	Plan             PlanInfo      `json:"plan"`
	Storage          StorageLimits `json:"storage"`
	Daily            DailyLimits   `json:"daily"`
	UpgradeAvailable bool          `json:"upgrade_available"`
}

type PlanInfo struct {
	Id   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Slug string    `json:"slug"`
}

// LimitType values name the quotas above; they double as feature names.
const (
	LimitTypeNotebooks      = "notebooks"
	LimitTypeNotes          = "notes"
	LimitTypeAiChat         = "ai_chat"
	LimitTypeSemanticSearch = "semantic_search"
)
