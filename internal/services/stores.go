package services

import (
	"context"
	"time"

	"github.com/tubequota/admin/internal/models"
)

// UserStore persists the users collection. Implementations return
// ErrUserNotFound for unknown emails.
type UserStore interface {
	GetUser(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context, filter models.UserFilter, page models.Page) (models.UserPage, error)
	ListByScope(ctx context.Context, scope models.Scope) ([]models.User, error)
	UpdateUser(ctx context.Context, email string, upd models.UserUpdate) (*models.User, error)
	// BulkUpdateLimits applies all updates in one batched write. The returned
	// slice is aligned with updates; a nil entry means the write succeeded.
	BulkUpdateLimits(ctx context.Context, updates []models.LimitUpdate) ([]error, error)
	CountUsers(ctx context.Context, onlineSince time.Time) (models.UserCounts, error)
	ListLimits(ctx context.Context) ([]models.QuotaSnapshot, error)
}

// UsageStore persists the api_usage collection keyed by (email, date).
type UsageStore interface {
	GetCount(ctx context.Context, email, date string) (int, error)
	Increment(ctx context.Context, email, date string, now time.Time) (int, error)
	SetCount(ctx context.Context, email, date string, count int, now time.Time) error
	CountsFor(ctx context.Context, emails []string, date string) (map[string]int, error)
	CountsOn(ctx context.Context, date string) (map[string]int, error)
	History(ctx context.Context, email string, limit int) ([]models.UsageRecord, error)
	DailyTotals(ctx context.Context, from, to string) ([]models.DailyStat, error)
	TopUsers(ctx context.Context, from, to string, n int) ([]models.TopUser, error)
}

// AuditStore persists the append-only audit_logs collection.
type AuditStore interface {
	Insert(ctx context.Context, entry models.AuditLogEntry) error
	Find(ctx context.Context, filter models.AuditFilter, limit int) ([]models.AuditLogEntry, error)
}
