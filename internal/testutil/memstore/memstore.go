// Package memstore is an in-memory implementation of the service stores,
// used by service and handler tests.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tubequota/admin/internal/models"
	"github.com/tubequota/admin/internal/services"
)

var (
	_ services.UserStore  = (*Store)(nil)
	_ services.UsageStore = (*Store)(nil)
	_ services.AuditStore = (*Store)(nil)
)

type usageKey struct {
	email string
	date  string
}

type Store struct {
	mu     sync.Mutex
	users  map[string]models.User
	usage  map[usageKey]models.UsageRecord
	audits []models.AuditLogEntry

	// AuditErr, when set, is returned by Insert.
	AuditErr error
	// BulkErrs fails individual emails in BulkUpdateLimits.
	BulkErrs map[string]error
}

func New() *Store {
	return &Store{
		users:    make(map[string]models.User),
		usage:    make(map[usageKey]models.UsageRecord),
		BulkErrs: make(map[string]error),
	}
}

// AddUser stores u as-is, overwriting any user with the same email.
func (s *Store) AddUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = strings.ToLower(u.Email)
	s.users[u.Email] = u
}

func (s *Store) SetAuditErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AuditErr = err
}

func (s *Store) Audits() []models.AuditLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditLogEntry, len(s.audits))
	copy(out, s.audits)
	return out
}

func (s *Store) GetUser(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return nil, services.ErrUserNotFound
	}
	return &u, nil
}

func (s *Store) ListUsers(_ context.Context, filter models.UserFilter, page models.Page) (models.UserPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(filter.Query)
	matched := make([]models.User, 0)
	for _, u := range s.users {
		if q != "" && !strings.Contains(strings.ToLower(u.Email), q) && !strings.Contains(strings.ToLower(u.Name), q) {
			continue
		}
		if !matchStatus(u, filter.Status) {
			continue
		}
		matched = append(matched, u)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].Email < matched[j].Email
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := int(page.Skip())
	if start > len(matched) {
		start = len(matched)
	}
	end := start + page.Size
	if end > len(matched) {
		end = len(matched)
	}
	return models.UserPage{Users: matched[start:end], Total: total}, nil
}

func matchStatus(u models.User, status models.UserStatus) bool {
	switch status {
	case models.StatusActive:
		return u.IsActive && !u.IsBanned
	case models.StatusInactive:
		return !u.IsActive && !u.IsBanned
	case models.StatusBanned:
		return u.IsBanned
	}
	return true
}

func (s *Store) ListByScope(_ context.Context, scope models.Scope) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.User, 0)
	for _, u := range s.users {
		switch scope {
		case models.ScopeActive:
			if !u.IsActive {
				continue
			}
		case models.ScopeInactive:
			if u.IsActive {
				continue
			}
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *Store) UpdateUser(_ context.Context, email string, upd models.UserUpdate) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return nil, services.ErrUserNotFound
	}
	if upd.DailyLimit != nil {
		u.DailyLimit = *upd.DailyLimit
	}
	if upd.RemainingLimit != nil {
		u.RemainingLimit = *upd.RemainingLimit
	}
	if upd.IsActive != nil {
		u.IsActive = *upd.IsActive
	}
	if upd.IsBanned != nil {
		u.IsBanned = *upd.IsBanned
	}
	if upd.BannedAt != nil {
		t := *upd.BannedAt
		u.BannedAt = &t
	}
	if upd.BannedReason != nil {
		u.BannedReason = *upd.BannedReason
	}
	if upd.ClearBan {
		u.BannedAt = nil
		u.BannedReason = ""
	}
	if upd.LastActive != nil {
		t := *upd.LastActive
		u.LastActive = &t
	}
	u.UpdatedAt = time.Now().UTC()
	s.users[email] = u
	return &u, nil
}

func (s *Store) BulkUpdateLimits(_ context.Context, updates []models.LimitUpdate) ([]error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	errs := make([]error, len(updates))
	now := time.Now().UTC()
	for i, upd := range updates {
		if err := s.BulkErrs[upd.Email]; err != nil {
			errs[i] = err
			continue
		}
		u, ok := s.users[upd.Email]
		if !ok {
			errs[i] = services.ErrUserNotFound
			continue
		}
		u.DailyLimit = upd.DailyLimit
		u.RemainingLimit = upd.RemainingLimit
		u.UpdatedAt = now
		s.users[upd.Email] = u
	}
	return errs, nil
}

func (s *Store) CountUsers(_ context.Context, onlineSince time.Time) (models.UserCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c models.UserCounts
	for _, u := range s.users {
		c.Total++
		switch {
		case u.IsBanned:
			c.Banned++
		case u.IsActive:
			c.Active++
			if u.LastActive != nil && !u.LastActive.Before(onlineSince) {
				c.Online++
			}
		default:
			c.Inactive++
		}
	}
	return c, nil
}

func (s *Store) ListLimits(_ context.Context) ([]models.QuotaSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.QuotaSnapshot, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, models.QuotaSnapshot{Email: u.Email, DailyLimit: u.DailyLimit})
	}
	return out, nil
}

func (s *Store) GetCount(_ context.Context, email, date string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[usageKey{email, date}].Count, nil
}

func (s *Store) Increment(_ context.Context, email, date string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := usageKey{email, date}
	rec, ok := s.usage[k]
	if !ok {
		rec = models.UsageRecord{Email: email, Date: date, CreatedAt: now.UTC()}
	}
	rec.Count++
	rec.UpdatedAt = now.UTC()
	s.usage[k] = rec
	return rec.Count, nil
}

func (s *Store) SetCount(_ context.Context, email, date string, count int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := usageKey{email, date}
	rec, ok := s.usage[k]
	if !ok {
		rec = models.UsageRecord{Email: email, Date: date, CreatedAt: now.UTC()}
	}
	t := now.UTC()
	rec.Count = count
	rec.LastReset = &t
	rec.UpdatedAt = t
	s.usage[k] = rec
	return nil
}

func (s *Store) CountsFor(_ context.Context, emails []string, date string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(emails))
	for _, e := range emails {
		if rec, ok := s.usage[usageKey{e, date}]; ok {
			out[e] = rec.Count
		}
	}
	return out, nil
}

func (s *Store) CountsOn(_ context.Context, date string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int)
	for k, rec := range s.usage {
		if k.date == date {
			out[k.email] = rec.Count
		}
	}
	return out, nil
}

func (s *Store) History(_ context.Context, email string, limit int) ([]models.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.UsageRecord, 0)
	for k, rec := range s.usage {
		if k.email == email {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DailyTotals(_ context.Context, from, to string) ([]models.DailyStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDay := make(map[string]*models.DailyStat)
	for k, rec := range s.usage {
		if k.date < from || k.date > to {
			continue
		}
		d, ok := byDay[k.date]
		if !ok {
			d = &models.DailyStat{Date: k.date}
			byDay[k.date] = d
		}
		d.TotalSearches += rec.Count
		if rec.Count > 0 {
			d.UniqueUsers++
		}
	}
	out := make([]models.DailyStat, 0, len(byDay))
	for _, d := range byDay {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *Store) TopUsers(_ context.Context, from, to string, n int) ([]models.TopUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byEmail := make(map[string]*models.TopUser)
	for k, rec := range s.usage {
		if k.date < from || k.date > to || rec.Count == 0 {
			continue
		}
		t, ok := byEmail[k.email]
		if !ok {
			t = &models.TopUser{Email: k.email}
			if u, found := s.users[k.email]; found {
				t.Name = u.Name
				t.DailyLimit = u.DailyLimit
			}
			byEmail[k.email] = t
		}
		t.TotalUsage += rec.Count
		t.Days++
	}
	out := make([]models.TopUser, 0, len(byEmail))
	for _, t := range byEmail {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalUsage == out[j].TotalUsage {
			return out[i].Email < out[j].Email
		}
		return out[i].TotalUsage > out[j].TotalUsage
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *Store) Insert(_ context.Context, entry models.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AuditErr != nil {
		return s.AuditErr
	}
	s.audits = append(s.audits, entry)
	return nil
}

func (s *Store) Find(_ context.Context, filter models.AuditFilter, limit int) ([]models.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditLogEntry, 0)
	for _, e := range s.audits {
		if filter.TargetEmail != "" && e.TargetEmail != filter.TargetEmail {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.From != nil && e.Timestamp.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.Timestamp.After(*filter.To) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
