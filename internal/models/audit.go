package models

import "time"

const (
	ActionUpdateDailyLimit     = "UPDATE_DAILY_LIMIT"
	ActionUpdateRemainingLimit = "UPDATE_REMAINING_LIMIT"
	ActionResetRemaining       = "RESET_REMAINING"
	ActionActivateUser         = "ACTIVATE_USER"
	ActionDeactivateUser       = "DEACTIVATE_USER"
	ActionBanUser              = "BAN_USER"
	ActionUnbanUser            = "UNBAN_USER"
	ActionBulkUpdateDailyLimit = "BULK_UPDATE_DAILY_LIMIT"
)

const (
	AuditSuccess = "success"
	AuditPartial = "partial"
)

// AuditLogEntry records one admin action. Email is the acting admin.
type AuditLogEntry struct {
	ID          string                 `json:"id"`
	Email       string                 `json:"email"`
	Action      string                 `json:"action"`
	TargetEmail string                 `json:"targetEmail,omitempty"`
	Changes     map[string]interface{} `json:"changes,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Status      string                 `json:"status"`
}

type AuditFilter struct {
	TargetEmail string
	Action      string
	From        *time.Time
	To          *time.Time
}
