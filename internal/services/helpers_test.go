package services_test

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tubequota/admin/internal/testutil/memstore"
	"github.com/tubequota/admin/internal/models"
	"github.com/tubequota/admin/internal/services"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store *memstore.Store
	clock *fakeClock
	audit *services.AuditService
	quota *services.QuotaService
	users *services.UserAdminService
	stats *services.StatsService
}

// 2024-03-10 12:00 KST
var baseTime = time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	store := memstore.New()
	clock := &fakeClock{now: baseTime}
	log := zerolog.Nop()
	audit := services.NewAuditService(store, clock, log)
	return &fixture{
		store: store,
		clock: clock,
		audit: audit,
		quota: services.NewQuotaService(store, store, audit, clock, log),
		users: services.NewUserAdminService(store, store, audit, clock, 20, log),
		stats: services.NewStatsService(store, store, clock, 5*time.Minute),
	}
}

func (f *fixture) addUser(email string, limit int, active bool) {
	f.store.AddUser(models.User{
		Email:      email,
		Name:       "User " + email,
		DailyLimit: limit,
		IsActive:   active,
		CreatedAt:  baseTime.Add(-24 * time.Hour),
	})
}
