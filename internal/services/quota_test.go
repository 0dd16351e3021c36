package services_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tubequota/admin/internal/models"
	"github.com/tubequota/admin/internal/services"
)

func TestCheckUsageWithoutRecord(t *testing.T) {
	f := newFixture()
	f.addUser("a@x.com", 15, true)

	st, err := f.quota.CheckUsage(context.Background(), "A@x.com")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !st.Allowed || st.Used != 0 || st.Remaining != 15 || st.Limit != 15 {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.ResetTime != "2024-03-11T00:00:00+09:00" {
		t.Fatalf("unexpected reset time %s", st.ResetTime)
	}
}

func TestCheckUsageUnknownUser(t *testing.T) {
	f := newFixture()
	if _, err := f.quota.CheckUsage(context.Background(), "ghost@x.com"); !errors.Is(err, services.ErrUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIncrementUsagePastLimit(t *testing.T) {
	f := newFixture()
	f.addUser("a@x.com", 2, true)
	ctx := context.Background()

	cases := []struct {
		allowed   bool
		remaining int
	}{
		{true, 1},
		{false, 0},
		{false, 0},
		{false, 0},
		{false, 0},
	}
	for i, tc := range cases {
		st, err := f.quota.IncrementUsage(ctx, "a@x.com")
		if err != nil {
			t.Fatalf("increment %d: %v", i+1, err)
		}
		if st.Used != i+1 || st.Allowed != tc.allowed || st.Remaining != tc.remaining || st.Limit != 2 {
			t.Fatalf("increment %d: unexpected status %+v", i+1, st)
		}
	}

	count, err := f.store.GetCount(ctx, "a@x.com", "2024-03-10")
	if err != nil {
		t.Fatalf("get count: %v", err)
	}
	if count != len(cases) {
		t.Fatalf("expected stored count %d, got %d", len(cases), count)
	}

	u, _ := f.store.GetUser(ctx, "a@x.com")
	if u.RemainingLimit != 0 || u.LastActive == nil {
		t.Fatalf("expected denormalized fields refreshed, got %+v", u)
	}
}

func TestIncrementUsageConcurrent(t *testing.T) {
	f := newFixture()
	f.addUser("a@x.com", 10, true)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	var allowed atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := f.quota.IncrementUsage(ctx, "a@x.com")
			if err != nil {
				t.Errorf("increment: %v", err)
				return
			}
			if st.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	st, err := f.quota.CheckUsage(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if st.Used != n || st.Remaining != 0 || st.Allowed {
		t.Fatalf("expected %d recorded calls, got %+v", n, st)
	}
	// Counts 1..9 stay below the limit of 10.
	if got := allowed.Load(); got != 9 {
		t.Fatalf("expected 9 allowed increments, got %d", got)
	}
}

func TestIncrementUsageBannedUser(t *testing.T) {
	f := newFixture()
	f.store.AddUser(models.User{Email: "b@x.com", DailyLimit: 10, IsActive: true, IsBanned: true})

	st, err := f.quota.IncrementUsage(context.Background(), "b@x.com")
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if st.Allowed || st.Used != 1 {
		t.Fatalf("banned user should be rejected, got %+v", st)
	}
}

func TestUsageRollsOverAtKSTMidnight(t *testing.T) {
	f := newFixture()
	f.addUser("a@x.com", 5, true)
	ctx := context.Background()

	// 23:59 KST
	f.clock.now = time.Date(2024, 3, 10, 14, 59, 0, 0, time.UTC)
	if _, err := f.quota.IncrementUsage(ctx, "a@x.com"); err != nil {
		t.Fatalf("increment: %v", err)
	}

	f.clock.Advance(2 * time.Minute)
	st, err := f.quota.CheckUsage(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if st.Used != 0 || st.Remaining != 5 {
		t.Fatalf("expected fresh day, got %+v", st)
	}
}

func TestResetRemaining(t *testing.T) {
	f := newFixture()
	f.addUser("a@x.com", 3, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.quota.IncrementUsage(ctx, "a@x.com"); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	u, err := f.quota.ResetRemaining(ctx, "a@x.com", "admin@x.com")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if u.TodayUsed != 0 || u.RemainingLimit != 3 {
		t.Fatalf("unexpected user %+v", u)
	}

	st, err := f.quota.CheckUsage(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if st.Used != 0 || st.Remaining != 3 {
		t.Fatalf("unexpected status after reset %+v", st)
	}

	audits := f.store.Audits()
	if len(audits) != 1 || audits[0].Action != models.ActionResetRemaining || audits[0].Changes["previousUsed"] != 3 {
		t.Fatalf("unexpected audit %+v", audits)
	}
}

func TestSetRemainingLimit(t *testing.T) {
	f := newFixture()
	f.addUser("a@x.com", 10, true)
	ctx := context.Background()

	u, err := f.quota.SetRemainingLimit(ctx, "a@x.com", 4, "admin@x.com")
	if err != nil {
		t.Fatalf("set remaining: %v", err)
	}
	if u.RemainingLimit != 4 || u.TodayUsed != 6 {
		t.Fatalf("unexpected user %+v", u)
	}

	if _, err := f.quota.SetRemainingLimit(ctx, "a@x.com", 11, "admin@x.com"); !errors.Is(err, services.ErrInvalidRemaining) {
		t.Fatalf("expected invalid remaining, got %v", err)
	}
	if _, err := f.quota.SetRemainingLimit(ctx, "a@x.com", -1, "admin@x.com"); !services.IsInvalidArgument(err) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	f := newFixture()
	f.addUser("a@x.com", 10, true)
	ctx := context.Background()

	for day := 0; day < 3; day++ {
		for i := 0; i <= day; i++ {
			if _, err := f.quota.IncrementUsage(ctx, "a@x.com"); err != nil {
				t.Fatalf("increment: %v", err)
			}
		}
		f.clock.Advance(24 * time.Hour)
	}

	records, err := f.quota.History(ctx, "a@x.com", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Date != "2024-03-12" || records[0].Count != 3 || records[1].Date != "2024-03-11" {
		t.Fatalf("unexpected history %+v", records)
	}
}
