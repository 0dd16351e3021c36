package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/tubequota/admin/internal/metrics"
	"github.com/tubequota/admin/internal/models"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
	MaxBanReason    = 500
)

type UserAdminService struct {
	users         UserStore
	usage         UsageStore
	audit         *AuditService
	clock         Clock
	activateLimit int
	log           zerolog.Logger
}

func NewUserAdminService(users UserStore, usage UsageStore, audit *AuditService, clock Clock, activateLimit int, log zerolog.Logger) *UserAdminService {
	return &UserAdminService{
		users:         users,
		usage:         usage,
		audit:         audit,
		clock:         clock,
		activateLimit: activateLimit,
		log:           log.With().Str("component", "users").Logger(),
	}
}

func (s *UserAdminService) GetUser(ctx context.Context, email string) (*models.User, error) {
	email = normalizeEmail(email)
	user, err := s.users.GetUser(ctx, email)
	if err != nil {
		return nil, err
	}
	used, err := s.usage.GetCount(ctx, email, DayKey(s.clock.Now()))
	if err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}
	withUsage(user, used)
	return user, nil
}

// ListUsers returns one page of users with today's usage attached.
func (s *UserAdminService) ListUsers(ctx context.Context, filter models.UserFilter, page models.Page) (*models.UserPage, error) {
	if filter.Status == "" {
		filter.Status = models.StatusAll
	}
	if !filter.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	filter.Query = strings.TrimSpace(filter.Query)
	page = NormalizePage(page)

	res, err := s.users.ListUsers(ctx, filter, page)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if err := s.attachUsage(ctx, res.Users); err != nil {
		return nil, err
	}
	return &res, nil
}

// SearchUsers is ListUsers restricted to a case-insensitive substring match
// on email or name.
func (s *UserAdminService) SearchUsers(ctx context.Context, query string, page models.Page) (*models.UserPage, error) {
	return s.ListUsers(ctx, models.UserFilter{Query: query, Status: models.StatusAll}, page)
}

func (s *UserAdminService) SetDailyLimit(ctx context.Context, email string, newLimit int, actor string) (*models.User, error) {
	if newLimit < 0 {
		return nil, ErrInvalidLimit
	}
	email = normalizeEmail(email)
	prev, err := s.users.GetUser(ctx, email)
	if err != nil {
		return nil, err
	}
	used, err := s.usage.GetCount(ctx, email, DayKey(s.clock.Now()))
	if err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}

	rem := remaining(newLimit, used)
	updated, err := s.users.UpdateUser(ctx, email, models.UserUpdate{DailyLimit: &newLimit, RemainingLimit: &rem})
	if err != nil {
		return nil, err
	}
	withUsage(updated, used)

	s.audit.Record(ctx, actor, models.ActionUpdateDailyLimit, email, map[string]interface{}{
		"previousLimit":  prev.DailyLimit,
		"newLimit":       newLimit,
		"remainingLimit": rem,
	}, models.AuditSuccess)
	return updated, nil
}

// Activate enables the account with dailyLimit, or the configured default
// when dailyLimit is nil.
func (s *UserAdminService) Activate(ctx context.Context, email string, dailyLimit *int, actor string) (*models.User, error) {
	limit := s.activateLimit
	if dailyLimit != nil {
		limit = *dailyLimit
	}
	if limit < 0 {
		return nil, ErrInvalidLimit
	}
	email = normalizeEmail(email)
	prev, err := s.users.GetUser(ctx, email)
	if err != nil {
		return nil, err
	}
	used, err := s.usage.GetCount(ctx, email, DayKey(s.clock.Now()))
	if err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}

	active := true
	rem := remaining(limit, used)
	updated, err := s.users.UpdateUser(ctx, email, models.UserUpdate{IsActive: &active, DailyLimit: &limit, RemainingLimit: &rem})
	if err != nil {
		return nil, err
	}
	withUsage(updated, used)

	s.audit.Record(ctx, actor, models.ActionActivateUser, email, map[string]interface{}{
		"previousLimit": prev.DailyLimit,
		"dailyLimit":    limit,
	}, models.AuditSuccess)
	return updated, nil
}

// Deactivate disables the account and zeroes its limit. Usage history is kept.
func (s *UserAdminService) Deactivate(ctx context.Context, email, actor string) (*models.User, error) {
	email = normalizeEmail(email)
	prev, err := s.users.GetUser(ctx, email)
	if err != nil {
		return nil, err
	}
	used, err := s.usage.GetCount(ctx, email, DayKey(s.clock.Now()))
	if err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}

	active := false
	zero := 0
	updated, err := s.users.UpdateUser(ctx, email, models.UserUpdate{IsActive: &active, DailyLimit: &zero, RemainingLimit: &zero})
	if err != nil {
		return nil, err
	}
	withUsage(updated, used)

	s.audit.Record(ctx, actor, models.ActionDeactivateUser, email, map[string]interface{}{
		"previousLimit": prev.DailyLimit,
	}, models.AuditSuccess)
	return updated, nil
}

func (s *UserAdminService) Ban(ctx context.Context, email, reason, actor string) (*models.User, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > MaxBanReason {
		return nil, ErrInvalidReason
	}
	email = normalizeEmail(email)
	if _, err := s.users.GetUser(ctx, email); err != nil {
		return nil, err
	}
	used, err := s.usage.GetCount(ctx, email, DayKey(s.clock.Now()))
	if err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}

	now := s.clock.Now().UTC()
	banned := true
	updated, err := s.users.UpdateUser(ctx, email, models.UserUpdate{IsBanned: &banned, BannedAt: &now, BannedReason: &reason})
	if err != nil {
		return nil, err
	}
	withUsage(updated, used)

	s.audit.Record(ctx, actor, models.ActionBanUser, email, map[string]interface{}{
		"bannedReason": reason,
	}, models.AuditSuccess)
	return updated, nil
}

func (s *UserAdminService) Unban(ctx context.Context, email, actor string) (*models.User, error) {
	email = normalizeEmail(email)
	prev, err := s.users.GetUser(ctx, email)
	if err != nil {
		return nil, err
	}
	used, err := s.usage.GetCount(ctx, email, DayKey(s.clock.Now()))
	if err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}

	banned := false
	updated, err := s.users.UpdateUser(ctx, email, models.UserUpdate{IsBanned: &banned, ClearBan: true})
	if err != nil {
		return nil, err
	}
	withUsage(updated, used)

	s.audit.Record(ctx, actor, models.ActionUnbanUser, email, map[string]interface{}{
		"previousReason": prev.BannedReason,
	}, models.AuditSuccess)
	return updated, nil
}

// BulkSetDailyLimit sets newLimit on every user in scope with one batched
// write. Each user's remaining is computed from their own usage today.
func (s *UserAdminService) BulkSetDailyLimit(ctx context.Context, newLimit int, scope models.Scope, actor string) (*models.BulkUpdateResult, error) {
	if newLimit < 0 {
		return nil, ErrInvalidLimit
	}
	if scope == "" {
		scope = models.ScopeAll
	}
	if !scope.Valid() {
		return nil, ErrInvalidScope
	}

	targets, err := s.users.ListByScope(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list users for scope %s: %w", scope, err)
	}
	result := &models.BulkUpdateResult{DailyLimit: newLimit, Scope: scope, Results: []models.BulkUpdateItem{}}
	if len(targets) == 0 {
		return result, nil
	}

	emails := make([]string, 0, len(targets))
	for _, u := range targets {
		emails = append(emails, u.Email)
	}
	counts, err := s.usage.CountsFor(ctx, emails, DayKey(s.clock.Now()))
	if err != nil {
		return nil, fmt.Errorf("read usage: %w", err)
	}

	updates := make([]models.LimitUpdate, 0, len(emails))
	for _, email := range emails {
		updates = append(updates, models.LimitUpdate{
			Email:          email,
			DailyLimit:     newLimit,
			RemainingLimit: remaining(newLimit, counts[email]),
		})
	}

	failures, err := s.users.BulkUpdateLimits(ctx, updates)
	if err != nil {
		return nil, fmt.Errorf("bulk update limits: %w", err)
	}

	for i, upd := range updates {
		item := models.BulkUpdateItem{Email: upd.Email, Success: true, RemainingLimit: upd.RemainingLimit}
		if i < len(failures) && failures[i] != nil {
			item.Success = false
			item.Error = failures[i].Error()
			result.TotalFailed++
		} else {
			result.TotalUpdated++
		}
		result.Results = append(result.Results, item)
	}
	metrics.BulkLimitUpdates.WithLabelValues("updated").Add(float64(result.TotalUpdated))
	metrics.BulkLimitUpdates.WithLabelValues("failed").Add(float64(result.TotalFailed))

	status := models.AuditSuccess
	if result.TotalFailed > 0 {
		status = models.AuditPartial
		s.log.Warn().Int("failed", result.TotalFailed).Str("scope", string(scope)).Msg("bulk limit update partially failed")
	}
	s.audit.Record(ctx, actor, models.ActionBulkUpdateDailyLimit, "", map[string]interface{}{
		"newLimit":     newLimit,
		"scope":        string(scope),
		"totalUpdated": result.TotalUpdated,
		"totalFailed":  result.TotalFailed,
	}, status)
	return result, nil
}

func (s *UserAdminService) attachUsage(ctx context.Context, users []models.User) error {
	if len(users) == 0 {
		return nil
	}
	emails := make([]string, 0, len(users))
	for _, u := range users {
		emails = append(emails, u.Email)
	}
	counts, err := s.usage.CountsFor(ctx, emails, DayKey(s.clock.Now()))
	if err != nil {
		return fmt.Errorf("read usage: %w", err)
	}
	for i := range users {
		withUsage(&users[i], counts[users[i].Email])
	}
	return nil
}

// withUsage derives TodayUsed and RemainingLimit from today's counter.
func withUsage(u *models.User, used int) {
	u.TodayUsed = used
	u.RemainingLimit = remaining(u.DailyLimit, used)
}

// NormalizePage clamps p to a valid page number and size.
func NormalizePage(p models.Page) models.Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
