package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tubequota/admin/internal/metrics"
	"github.com/tubequota/admin/internal/models"
)

const (
	DefaultHistoryLimit = 30
	MaxHistoryLimit     = 100
)

// QuotaService owns the per-day usage counters.
type QuotaService struct {
	users UserStore
	usage UsageStore
	audit *AuditService
	clock Clock
	log   zerolog.Logger
}

func NewQuotaService(users UserStore, usage UsageStore, audit *AuditService, clock Clock, log zerolog.Logger) *QuotaService {
	return &QuotaService{
		users: users,
		usage: usage,
		audit: audit,
		clock: clock,
		log:   log.With().Str("component", "quota").Logger(),
	}
}

// CheckUsage reports today's usage without modifying it.
func (s *QuotaService) CheckUsage(ctx context.Context, email string) (*models.UsageStatus, error) {
	email = normalizeEmail(email)
	user, err := s.users.GetUser(ctx, email)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	used, err := s.usage.GetCount(ctx, email, DayKey(now))
	if err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}
	st := usageStatus(user, used, now)
	return &st, nil
}

// IncrementUsage records one call against today's counter. The counter is
// always bumped, even past the limit; allowed reflects the post-increment
// count so the call that uses the last unit already reports false.
func (s *QuotaService) IncrementUsage(ctx context.Context, email string) (*models.UsageStatus, error) {
	email = normalizeEmail(email)
	user, err := s.users.GetUser(ctx, email)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	count, err := s.usage.Increment(ctx, email, DayKey(now), now)
	if err != nil {
		return nil, fmt.Errorf("increment usage: %w", err)
	}

	st := usageStatus(user, count, now)
	metrics.QuotaIncrements.WithLabelValues(strconv.FormatBool(st.Allowed)).Inc()

	rem := st.Remaining
	if _, err := s.users.UpdateUser(ctx, email, models.UserUpdate{RemainingLimit: &rem, LastActive: &now}); err != nil {
		s.log.Warn().Err(err).Str("email", email).Msg("refresh remaining limit failed")
	}
	return &st, nil
}

// ResetRemaining zeroes today's counter so the user gets their full limit back.
func (s *QuotaService) ResetRemaining(ctx context.Context, email, actor string) (*models.User, error) {
	email = normalizeEmail(email)
	user, err := s.users.GetUser(ctx, email)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	today := DayKey(now)

	prev, err := s.usage.GetCount(ctx, email, today)
	if err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}
	if err := s.usage.SetCount(ctx, email, today, 0, now); err != nil {
		return nil, fmt.Errorf("reset usage: %w", err)
	}

	rem := user.DailyLimit
	updated, err := s.users.UpdateUser(ctx, email, models.UserUpdate{RemainingLimit: &rem})
	if err != nil {
		return nil, err
	}
	withUsage(updated, 0)

	s.audit.Record(ctx, actor, models.ActionResetRemaining, email, map[string]interface{}{
		"previousUsed":   prev,
		"remainingLimit": rem,
	}, models.AuditSuccess)
	return updated, nil
}

// SetRemainingLimit rewrites today's counter so that exactly remaining units
// are left.
func (s *QuotaService) SetRemainingLimit(ctx context.Context, email string, remainingLimit int, actor string) (*models.User, error) {
	email = normalizeEmail(email)
	user, err := s.users.GetUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if remainingLimit < 0 || remainingLimit > user.DailyLimit {
		return nil, ErrInvalidRemaining
	}
	now := s.clock.Now()
	today := DayKey(now)

	prev, err := s.usage.GetCount(ctx, email, today)
	if err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}
	used := user.DailyLimit - remainingLimit
	if err := s.usage.SetCount(ctx, email, today, used, now); err != nil {
		return nil, fmt.Errorf("set usage: %w", err)
	}

	updated, err := s.users.UpdateUser(ctx, email, models.UserUpdate{RemainingLimit: &remainingLimit})
	if err != nil {
		return nil, err
	}
	withUsage(updated, used)

	s.audit.Record(ctx, actor, models.ActionUpdateRemainingLimit, email, map[string]interface{}{
		"previousRemaining": remaining(user.DailyLimit, prev),
		"newRemaining":      remainingLimit,
	}, models.AuditSuccess)
	return updated, nil
}

// History returns the user's most recent daily records, newest first.
func (s *QuotaService) History(ctx context.Context, email string, limit int) ([]models.UsageRecord, error) {
	email = normalizeEmail(email)
	if _, err := s.users.GetUser(ctx, email); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	records, err := s.usage.History(ctx, email, limit)
	if err != nil {
		return nil, fmt.Errorf("usage history: %w", err)
	}
	return records, nil
}

// UserUsage combines today's status with recent history.
func (s *QuotaService) UserUsage(ctx context.Context, email string, historyLimit int) (*models.UserUsage, error) {
	st, err := s.CheckUsage(ctx, email)
	if err != nil {
		return nil, err
	}
	history, err := s.History(ctx, email, historyLimit)
	if err != nil {
		return nil, err
	}
	return &models.UserUsage{Usage: *st, History: history}, nil
}

func usageStatus(user *models.User, used int, now time.Time) models.UsageStatus {
	return models.UsageStatus{
		Email:     user.Email,
		Allowed:   !user.IsBanned && used < user.DailyLimit,
		Used:      used,
		Remaining: remaining(user.DailyLimit, used),
		Limit:     user.DailyLimit,
		ResetTime: NextReset(now).Format(time.RFC3339),
	}
}
