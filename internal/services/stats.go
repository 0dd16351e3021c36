package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tubequota/admin/internal/models"
)

const (
	DefaultTopUsers = 10
	MaxTopUsers     = 100
	MaxStatsDays    = 366
)

var periodDays = map[string]int{
	"day":   1,
	"week":  7,
	"month": 30,
}

// StatsService recomputes dashboard aggregates on every call.
type StatsService struct {
	users           UserStore
	usage           UsageStore
	clock           Clock
	onlineThreshold time.Duration
}

func NewStatsService(users UserStore, usage UsageStore, clock Clock, onlineThreshold time.Duration) *StatsService {
	return &StatsService{users: users, usage: usage, clock: clock, onlineThreshold: onlineThreshold}
}

func (s *StatsService) Compute(ctx context.Context, q models.StatsQuery) (*models.Stats, error) {
	now := s.clock.Now()
	start, end, err := s.window(now, q)
	if err != nil {
		return nil, err
	}
	top := q.Top
	if top < 0 {
		return nil, fmt.Errorf("%w: top must be >= 0", ErrInvalidDateRange)
	}
	if top == 0 {
		top = DefaultTopUsers
	}
	if top > MaxTopUsers {
		top = MaxTopUsers
	}

	days := DayRange(start, end)
	from, to := days[0], days[len(days)-1]
	today := DayKey(now)

	totals, err := s.usage.DailyTotals(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("daily totals: %w", err)
	}
	byDay := make(map[string]models.DailyStat, len(totals))
	for _, d := range totals {
		byDay[d.Date] = d
	}
	daily := make([]models.DailyStat, 0, len(days))
	for _, key := range days {
		daily = append(daily, dailyStat(key, byDay[key]))
	}

	todayStat, ok := byDay[today]
	if !ok && (today < from || today > to) {
		res, err := s.usage.DailyTotals(ctx, today, today)
		if err != nil {
			return nil, fmt.Errorf("today totals: %w", err)
		}
		if len(res) > 0 {
			todayStat = res[0]
		}
	}

	counts, err := s.users.CountUsers(ctx, now.Add(-s.onlineThreshold))
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	topUsers, err := s.usage.TopUsers(ctx, from, to, top)
	if err != nil {
		return nil, fmt.Errorf("top users: %w", err)
	}
	if topUsers == nil {
		topUsers = []models.TopUser{}
	}

	limits, err := s.users.ListLimits(ctx)
	if err != nil {
		return nil, fmt.Errorf("list limits: %w", err)
	}
	used, err := s.usage.CountsOn(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("today usage: %w", err)
	}
	for i := range limits {
		limits[i].Used = used[limits[i].Email]
	}

	return &models.Stats{
		Window:      models.StatsWindow{Start: from, End: to, Days: len(days)},
		Today:       dailyStat(today, todayStat),
		Daily:       daily,
		Users:       counts,
		TopUsers:    topUsers,
		Quota:       QuotaSummary(limits),
		GeneratedAt: now.UTC(),
	}, nil
}

func (s *StatsService) window(now time.Time, q models.StatsQuery) (time.Time, time.Time, error) {
	period := q.Period
	if period == "" {
		period = "week"
	}
	n, ok := periodDays[period]
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: unknown period %q", ErrInvalidDateRange, period)
	}

	end := now
	if q.EndDate != "" {
		t, err := ParseDay(q.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: endDate %q", ErrInvalidDateRange, q.EndDate)
		}
		end = t
	}
	start := end.AddDate(0, 0, -(n - 1))
	if q.StartDate != "" {
		t, err := ParseDay(q.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: startDate %q", ErrInvalidDateRange, q.StartDate)
		}
		start = t
	}

	if DayKey(start) > DayKey(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: startDate after endDate", ErrInvalidDateRange)
	}
	first, _ := ParseDay(DayKey(start))
	last, _ := ParseDay(DayKey(end))
	if last.Sub(first) >= MaxStatsDays*24*time.Hour {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: window longer than %d days", ErrInvalidDateRange, MaxStatsDays)
	}
	return start, end, nil
}

// QuotaSummary buckets users by the share of their daily limit used today.
// A zero limit counts as 0%; usage above the limit lands in High.
func QuotaSummary(users []models.QuotaSnapshot) models.QuotaSummary {
	var out models.QuotaSummary
	var limitSum int
	for _, u := range users {
		limitSum += u.DailyLimit
		out.TotalRemaining += remaining(u.DailyLimit, u.Used)

		ratio := 0.0
		if u.DailyLimit > 0 {
			ratio = float64(u.Used) / float64(u.DailyLimit)
		}
		switch {
		case ratio < 0.25:
			out.Distribution.VeryLow++
		case ratio < 0.5:
			out.Distribution.Low++
		case ratio < 0.75:
			out.Distribution.Medium++
		default:
			out.Distribution.High++
		}
	}
	out.UsersConsidered = len(users)
	if len(users) > 0 {
		out.AvgDailyLimit = round2(float64(limitSum) / float64(len(users)))
	}
	return out
}

func dailyStat(date string, d models.DailyStat) models.DailyStat {
	d.Date = date
	if d.UniqueUsers > 0 {
		d.AvgPerUser = round2(float64(d.TotalSearches) / float64(d.UniqueUsers))
	} else {
		d.AvgPerUser = 0
	}
	return d
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
