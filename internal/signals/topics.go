package signals

import "time"

// Origins of an UpgradeRequired signal.
const (
	OriginHTTP       = "http"
	OriginUsageGuard = "usage_guard"
)

// UpgradeRequired asks the UI to show the plan upgrade prompt.
// Usage numbers are zero when the origin is a bare 403.
type UpgradeRequired struct {
	FeatureName string     `json:"feature_name,omitempty"`
	Used        int        `json:"used"`
	Limit       int        `json:"limit"`
	ResetsAt    *time.Time `json:"resets_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	StatusCode  int        `json:"status_code,omitempty"`
	Origin      string     `json:"origin"`
}

// SessionExpired is raised when a refresh fails and the credential is gone.
// The UI should show the sign-in flow.
type SessionExpired struct {
	Reason string `json:"reason"`
}

// OpenNotificationPanel may be raised by any part of the app.
type OpenNotificationPanel struct {
	NotificationID string `json:"notification_id,omitempty"`
}

// RealtimeUnavailable is raised once the channel gives up reconnecting.
type RealtimeUnavailable struct {
	Attempts  int    `json:"attempts"`
	LastCode  int    `json:"last_code"`
	LastError string `json:"last_error,omitempty"`
}

var (
	UpgradeRequiredTopic       = NewTopic[UpgradeRequired]("upgrade_required")
	SessionExpiredTopic        = NewTopic[SessionExpired]("session_expired")
	OpenNotificationPanelTopic = NewTopic[OpenNotificationPanel]("open_notification_panel")
	RealtimeUnavailableTopic   = NewTopic[RealtimeUnavailable]("realtime_unavailable")
)
