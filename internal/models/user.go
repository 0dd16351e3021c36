package models

import (
	"time"
)

// User is a product user as seen by the admin dashboard. RemainingLimit and
// TodayUsed are always derived from today's usage record.
type User struct {
	Email          string     `json:"email"`
	UserID         string     `json:"userId,omitempty"`
	Name           string     `json:"name,omitempty"`
	Image          string     `json:"image,omitempty"`
	Provider       string     `json:"provider,omitempty"`
	DailyLimit     int        `json:"dailyLimit"`
	RemainingLimit int        `json:"remainingLimit"`
	TodayUsed      int        `json:"todayUsed"`
	IsActive       bool       `json:"isActive"`
	IsBanned       bool       `json:"isBanned"`
	BannedAt       *time.Time `json:"bannedAt,omitempty"`
	BannedReason   string     `json:"bannedReason,omitempty"`
	LastActive     *time.Time `json:"lastActive,omitempty"`
	LastLogin      *time.Time `json:"lastLogin,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// UserStatus narrows user listings.
type UserStatus string

const (
	StatusAll      UserStatus = "all"
	StatusActive   UserStatus = "active"
	StatusInactive UserStatus = "inactive"
	StatusBanned   UserStatus = "banned"
)

func (s UserStatus) Valid() bool {
	switch s {
	case StatusAll, StatusActive, StatusInactive, StatusBanned:
		return true
	}
	return false
}

// Scope selects the users a bulk operation touches.
type Scope string

const (
	ScopeAll      Scope = "all"
	ScopeActive   Scope = "active"
	ScopeInactive Scope = "inactive"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeAll, ScopeActive, ScopeInactive:
		return true
	}
	return false
}

type UserFilter struct {
	Query  string
	Status UserStatus
}

type Page struct {
	Number int
	Size   int
}

func (p Page) Skip() int64 {
	return int64((p.Number - 1) * p.Size)
}

type UserPage struct {
	Users []User
	Total int64
}

// UserUpdate is a partial write against a user document. Nil fields are left
// untouched. ClearBan removes bannedAt and bannedReason.
type UserUpdate struct {
	DailyLimit     *int
	RemainingLimit *int
	IsActive       *bool
	IsBanned       *bool
	BannedAt       *time.Time
	BannedReason   *string
	ClearBan       bool
	LastActive     *time.Time
}

// LimitUpdate is a single entry of a batched limit write.
type LimitUpdate struct {
	Email          string
	DailyLimit     int
	RemainingLimit int
}

type BulkUpdateItem struct {
	Email          string `json:"email"`
	Success        bool   `json:"success"`
	RemainingLimit int    `json:"remainingLimit"`
	Error          string `json:"error,omitempty"`
}

type BulkUpdateResult struct {
	DailyLimit   int              `json:"dailyLimit"`
	Scope        Scope            `json:"scope"`
	TotalUpdated int              `json:"totalUpdated"`
	TotalFailed  int              `json:"totalFailed"`
	Results      []BulkUpdateItem `json:"results"`
}

// UserPatchRequest is the body of PATCH /api/admin/users/{email}.
type UserPatchRequest struct {
	Action         string `json:"action" validate:"omitempty,oneof=activate deactivate ban unban reset_remaining"`
	DailyLimit     *int   `json:"dailyLimit" validate:"omitempty,min=0"`
	RemainingLimit *int   `json:"remainingLimit" validate:"omitempty,min=0"`
	BannedReason   string `json:"bannedReason" validate:"max=500"`
}

type BulkLimitRequest struct {
	DailyLimit *int   `json:"dailyLimit" validate:"required,min=0"`
	Scope      string `json:"scope" validate:"omitempty,oneof=all active inactive"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}
