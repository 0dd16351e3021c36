package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/tubequota/admin/internal/handlers"
	"github.com/tubequota/admin/internal/testutil/memstore"
	"github.com/tubequota/admin/internal/models"
	"github.com/tubequota/admin/internal/ratelimit"
	"github.com/tubequota/admin/internal/services"
)

const (
	testSecret      = "test-secret"
	testInternalKey = "internal-key"
	adminEmail      = "root@x.com"
	adminPassword   = "hunter22"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type envelope struct {
	Success    bool               `json:"success"`
	Data       json.RawMessage    `json:"data"`
	Error      string             `json:"error"`
	Errors     map[string]string  `json:"errors"`
	Count      *int               `json:"count"`
	Pagination *models.Pagination `json:"pagination"`
}

type harness struct {
	store  *memstore.Store
	clock  fixedClock
	router http.Handler
	ready  error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	// Tokens are checked against the wall clock, so the harness runs at real time.
	h := &harness{store: memstore.New(), clock: fixedClock{now: time.Now()}}
	log := zerolog.Nop()
	v := validator.New()

	audit := services.NewAuditService(h.store, h.clock, log)
	quota := services.NewQuotaService(h.store, h.store, audit, h.clock, log)
	users := services.NewUserAdminService(h.store, h.store, audit, h.clock, 20, log)
	stats := services.NewStatsService(h.store, h.store, h.clock, 5*time.Minute)
	auth := services.NewAdminAuthService(map[string]string{adminEmail: string(hash)}, testSecret, time.Hour, ratelimit.NewMemory(3, time.Minute), h.clock)

	h.router = handlers.NewRouter(handlers.RouterConfig{
		Users:       handlers.NewUsersHandler(users, quota, v, 5*time.Second, log),
		Stats:       handlers.NewStatsHandler(stats, 5*time.Second, log),
		Logs:        handlers.NewLogsHandler(audit, 5*time.Second, log),
		Auth:        handlers.NewAuthHandler(auth, v, 5*time.Second, log),
		Usage:       handlers.NewUsageHandler(quota, 5*time.Second, log),
		JWTSecret:   testSecret,
		IsAdmin:     auth.IsAdmin,
		InternalKey: testInternalKey,
		CORSOrigins: []string{"*"},
		Ready:       func(context.Context) error { return h.ready },
		Log:         log,
	})
	return h
}

func (h *harness) addUser(email string, limit int, active bool) {
	h.store.AddUser(models.User{
		Email:      email,
		Name:       "User " + email,
		DailyLimit: limit,
		IsActive:   active,
		CreatedAt:  h.clock.now.Add(-time.Hour),
	})
}

func (h *harness) setUsed(t *testing.T, email string, n int) {
	t.Helper()
	if err := h.store.SetCount(context.Background(), email, services.DayKey(h.clock.now), n, h.clock.now); err != nil {
		t.Fatalf("set count: %v", err)
	}
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  adminEmail,
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func (h *harness) do(t *testing.T, method, path string, body interface{}, header map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s: %v", rec.Body.String(), err)
		}
	}
	return rec, env
}

func (h *harness) admin(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	return h.do(t, method, path, body, map[string]string{"Authorization": "Bearer " + adminToken(t)})
}

func decodeData(t *testing.T, env envelope, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
}

func TestHealthAndReady(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}

	rec, _ = h.do(t, http.MethodGet, "/ready", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d", rec.Code)
	}

	h.ready = errors.New("no primary")
	rec, env := h.do(t, http.MethodGet, "/ready", nil, nil)
	if rec.Code != http.StatusServiceUnavailable || env.Success {
		t.Fatalf("ready: expected 503, got %d %+v", rec.Code, env)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	h := newHarness(t)
	rec, env := h.do(t, http.MethodGet, "/api/admin/users", nil, nil)
	if rec.Code != http.StatusUnauthorized || env.Success || env.Error == "" {
		t.Fatalf("expected 401 envelope, got %d %+v", rec.Code, env)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "former@x.com",
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec, _ = h.do(t, http.MethodGet, "/api/admin/users", nil, map[string]string{"Authorization": "Bearer " + token})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for an admin no longer configured, got %d", rec.Code)
	}
}

func TestListUsers(t *testing.T) {
	h := newHarness(t)
	h.addUser("alice@x.com", 10, true)
	h.addUser("bob@x.com", 10, true)
	h.addUser("carol@x.com", 10, false)
	h.setUsed(t, "alice@x.com", 4)

	rec, env := h.admin(t, http.MethodGet, "/api/admin/users?page=1&limit=2", nil)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("expected 200, got %d %+v", rec.Code, env)
	}
	var users []models.User
	decodeData(t, env, &users)
	if len(users) != 2 || env.Count == nil || *env.Count != 2 {
		t.Fatalf("expected 2 users on page, got %d (count %v)", len(users), env.Count)
	}
	if env.Pagination == nil || env.Pagination.Total != 3 || env.Pagination.TotalPages != 2 || env.Pagination.Limit != 2 {
		t.Fatalf("unexpected pagination %+v", env.Pagination)
	}

	rec, env = h.admin(t, http.MethodGet, "/api/admin/users?q=ALI", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search: expected 200, got %d", rec.Code)
	}
	decodeData(t, env, &users)
	if len(users) != 1 || users[0].Email != "alice@x.com" || users[0].TodayUsed != 4 || users[0].RemainingLimit != 6 {
		t.Fatalf("unexpected search result %+v", users)
	}

	rec, env = h.admin(t, http.MethodGet, "/api/admin/users?filter=inactive", nil)
	decodeData(t, env, &users)
	if rec.Code != http.StatusOK || len(users) != 1 || users[0].Email != "carol@x.com" {
		t.Fatalf("unexpected inactive filter result %d %+v", rec.Code, users)
	}

	rec, _ = h.admin(t, http.MethodGet, "/api/admin/users?filter=nope", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad filter: expected 400, got %d", rec.Code)
	}
	rec, _ = h.admin(t, http.MethodGet, "/api/admin/users?page=abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad page: expected 400, got %d", rec.Code)
	}
}

func TestGetUser(t *testing.T) {
	h := newHarness(t)
	h.addUser("alice@x.com", 10, true)

	rec, env := h.admin(t, http.MethodGet, "/api/admin/users/alice%40x.com", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	var u models.User
	decodeData(t, env, &u)
	if u.Email != "alice@x.com" || u.RemainingLimit != 10 {
		t.Fatalf("unexpected user %+v", u)
	}

	rec, env = h.admin(t, http.MethodGet, "/api/admin/users/ghost@x.com", nil)
	if rec.Code != http.StatusNotFound || env.Error != "사용자를 찾을 수 없습니다" {
		t.Fatalf("expected 404, got %d %+v", rec.Code, env)
	}
}

func TestPatchDailyLimitRecomputesRemaining(t *testing.T) {
	h := newHarness(t)
	h.addUser("alice@x.com", 15, true)
	h.setUsed(t, "alice@x.com", 10)

	rec, env := h.admin(t, http.MethodPatch, "/api/admin/users/alice@x.com", map[string]int{"dailyLimit": 20})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	var u models.User
	decodeData(t, env, &u)
	if u.DailyLimit != 20 || u.RemainingLimit != 10 {
		t.Fatalf("expected limit 20 remaining 10, got %+v", u)
	}

	logs := h.store.Audits()
	if len(logs) != 1 || logs[0].Action != models.ActionUpdateDailyLimit || logs[0].Email != adminEmail {
		t.Fatalf("unexpected audit %+v", logs)
	}
}

func TestPatchRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	h.addUser("alice@x.com", 15, true)

	rec, env := h.admin(t, http.MethodPatch, "/api/admin/users/alice@x.com", map[string]interface{}{})
	if rec.Code != http.StatusBadRequest || env.Error != "올바른 할당량을 입력해주세요 (0 이상)" {
		t.Fatalf("empty body: expected 400, got %d %+v", rec.Code, env)
	}

	rec, env = h.admin(t, http.MethodPatch, "/api/admin/users/alice@x.com", map[string]int{"dailyLimit": -1})
	if rec.Code != http.StatusBadRequest || env.Errors["dailyLimit"] == "" {
		t.Fatalf("negative limit: expected validation error, got %d %+v", rec.Code, env)
	}

	rec, env = h.admin(t, http.MethodPatch, "/api/admin/users/alice@x.com", map[string]string{"action": "delete"})
	if rec.Code != http.StatusBadRequest || env.Errors["action"] == "" {
		t.Fatalf("unknown action: expected validation error, got %d %+v", rec.Code, env)
	}

	rec, _ = h.admin(t, http.MethodPatch, "/api/admin/users/alice@x.com", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: expected 400, got %d", rec.Code)
	}

	rec, _ = h.admin(t, http.MethodPatch, "/api/admin/users/alice@x.com", map[string]int{"remainingLimit": 99})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("remaining above limit: expected 400, got %d", rec.Code)
	}

	rec, _ = h.admin(t, http.MethodPatch, "/api/admin/users/ghost@x.com", map[string]int{"dailyLimit": 5})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown user: expected 404, got %d", rec.Code)
	}
}

func TestPatchActions(t *testing.T) {
	h := newHarness(t)
	h.addUser("alice@x.com", 15, false)
	h.setUsed(t, "alice@x.com", 3)
	path := "/api/admin/users/alice@x.com"

	var u models.User
	_, env := h.admin(t, http.MethodPatch, path, map[string]string{"action": "activate"})
	decodeData(t, env, &u)
	if !u.IsActive || u.DailyLimit != 20 || u.RemainingLimit != 17 {
		t.Fatalf("activate: unexpected %+v", u)
	}

	_, env = h.admin(t, http.MethodPatch, path, map[string]string{"action": "ban", "bannedReason": "abuse"})
	decodeData(t, env, &u)
	if !u.IsBanned || u.BannedReason != "abuse" || u.BannedAt == nil {
		t.Fatalf("ban: unexpected %+v", u)
	}

	u = models.User{}
	_, env = h.admin(t, http.MethodPatch, path, map[string]string{"action": "unban"})
	decodeData(t, env, &u)
	if u.IsBanned || u.BannedReason != "" || u.BannedAt != nil {
		t.Fatalf("unban: unexpected %+v", u)
	}

	_, env = h.admin(t, http.MethodPatch, path, map[string]string{"action": "reset_remaining"})
	decodeData(t, env, &u)
	if u.TodayUsed != 0 || u.RemainingLimit != 20 {
		t.Fatalf("reset: unexpected %+v", u)
	}

	_, env = h.admin(t, http.MethodPatch, path, map[string]int{"remainingLimit": 5})
	decodeData(t, env, &u)
	if u.RemainingLimit != 5 || u.TodayUsed != 15 {
		t.Fatalf("set remaining: unexpected %+v", u)
	}

	_, env = h.admin(t, http.MethodPatch, path, map[string]string{"action": "deactivate"})
	decodeData(t, env, &u)
	if u.IsActive || u.DailyLimit != 0 || u.RemainingLimit != 0 {
		t.Fatalf("deactivate: unexpected %+v", u)
	}

	if got := len(h.store.Audits()); got != 6 {
		t.Fatalf("expected 6 audit entries, got %d", got)
	}
}

func TestBulkUpdate(t *testing.T) {
	h := newHarness(t)
	h.addUser("a@x.com", 10, true)
	h.addUser("b@x.com", 10, true)
	h.addUser("c@x.com", 7, false)
	h.setUsed(t, "b@x.com", 8)

	rec, env := h.admin(t, http.MethodPost, "/api/admin/users", map[string]interface{}{"dailyLimit": 5, "scope": "active"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	var res models.BulkUpdateResult
	decodeData(t, env, &res)
	if res.TotalUpdated != 2 || res.TotalFailed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	_, env = h.admin(t, http.MethodGet, "/api/admin/users/b@x.com", nil)
	var b models.User
	decodeData(t, env, &b)
	if b.DailyLimit != 5 || b.RemainingLimit != 0 {
		t.Fatalf("unexpected b %+v", b)
	}
	_, env = h.admin(t, http.MethodGet, "/api/admin/users/c@x.com", nil)
	var c models.User
	decodeData(t, env, &c)
	if c.DailyLimit != 7 {
		t.Fatalf("inactive user should be untouched, got %+v", c)
	}

	rec, env = h.admin(t, http.MethodPost, "/api/admin/users", map[string]string{"scope": "active"})
	if rec.Code != http.StatusBadRequest || env.Errors["dailyLimit"] == "" {
		t.Fatalf("missing limit: expected validation error, got %d %+v", rec.Code, env)
	}
	rec, env = h.admin(t, http.MethodPost, "/api/admin/users", map[string]interface{}{"dailyLimit": 5, "scope": "banned"})
	if rec.Code != http.StatusBadRequest || env.Errors["scope"] == "" {
		t.Fatalf("bad scope: expected validation error, got %d %+v", rec.Code, env)
	}
}

func TestUserUsage(t *testing.T) {
	h := newHarness(t)
	h.addUser("a@x.com", 10, true)
	h.setUsed(t, "a@x.com", 4)

	rec, env := h.admin(t, http.MethodGet, "/api/admin/users/a@x.com/usage?history=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	var usage models.UserUsage
	decodeData(t, env, &usage)
	if usage.Usage.Used != 4 || usage.Usage.Remaining != 6 || len(usage.History) != 1 {
		t.Fatalf("unexpected usage %+v", usage)
	}
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.addUser("a@x.com", 10, true)
	h.setUsed(t, "a@x.com", 3)

	rec, env := h.admin(t, http.MethodGet, "/api/admin/stats?period=week&top=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	var stats models.Stats
	decodeData(t, env, &stats)
	if len(stats.Daily) != 7 || stats.Today.TotalSearches != 3 || stats.Users.Total != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	rec, env = h.admin(t, http.MethodGet, "/api/admin/stats?period=decade", nil)
	if rec.Code != http.StatusBadRequest || env.Success {
		t.Fatalf("bad period: expected 400, got %d %+v", rec.Code, env)
	}
	rec, _ = h.admin(t, http.MethodGet, "/api/admin/stats?startDate=2024-03-10&endDate=2024-03-01", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("inverted range: expected 400, got %d", rec.Code)
	}
}

func TestLogs(t *testing.T) {
	h := newHarness(t)
	h.addUser("a@x.com", 10, true)
	h.addUser("b@x.com", 10, true)
	h.admin(t, http.MethodPatch, "/api/admin/users/a@x.com", map[string]int{"dailyLimit": 12})
	h.admin(t, http.MethodPatch, "/api/admin/users/b@x.com", map[string]string{"action": "ban"})

	rec, env := h.admin(t, http.MethodGet, "/api/admin/logs", nil)
	if rec.Code != http.StatusOK || env.Count == nil || *env.Count != 2 {
		t.Fatalf("expected 2 entries, got %d %+v", rec.Code, env)
	}

	_, env = h.admin(t, http.MethodGet, "/api/admin/logs?userId=a@x.com", nil)
	var entries []models.AuditLogEntry
	decodeData(t, env, &entries)
	if len(entries) != 1 || entries[0].TargetEmail != "a@x.com" {
		t.Fatalf("unexpected filtered entries %+v", entries)
	}

	_, env = h.admin(t, http.MethodGet, "/api/admin/logs?action=ban_user", nil)
	decodeData(t, env, &entries)
	if len(entries) != 1 || entries[0].Action != models.ActionBanUser {
		t.Fatalf("unexpected action entries %+v", entries)
	}

	rec, _ = h.admin(t, http.MethodGet, "/api/admin/logs?from=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad from: expected 400, got %d", rec.Code)
	}
}

func TestInternalUsage(t *testing.T) {
	h := newHarness(t)
	h.addUser("a@x.com", 2, true)
	key := map[string]string{"X-Internal-Key": testInternalKey}

	rec, _ := h.do(t, http.MethodPost, "/api/internal/usage/a@x.com/increment", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	var st models.UsageStatus
	for i, wantAllowed := range []bool{true, false, false} {
		rec, env := h.do(t, http.MethodPost, "/api/internal/usage/a@x.com/increment", nil, key)
		if rec.Code != http.StatusOK {
			t.Fatalf("increment %d: expected 200, got %d", i, rec.Code)
		}
		decodeData(t, env, &st)
		if st.Allowed != wantAllowed {
			t.Fatalf("increment %d: expected allowed=%v, got %+v", i, wantAllowed, st)
		}
	}

	_, env := h.do(t, http.MethodGet, "/api/internal/usage/a@x.com", nil, key)
	decodeData(t, env, &st)
	if st.Used != 3 || st.Remaining != 0 || st.Allowed || st.ResetTime == "" {
		t.Fatalf("unexpected status %+v", st)
	}

	rec, _ = h.do(t, http.MethodGet, "/api/internal/usage/ghost@x.com", nil, key)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", rec.Code)
	}
}

func TestLoginAndMe(t *testing.T) {
	h := newHarness(t)

	rec, env := h.do(t, http.MethodPost, "/api/auth/login", models.LoginRequest{Email: adminEmail, Password: adminPassword}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	var auth models.AuthResponse
	decodeData(t, env, &auth)
	if auth.Token == "" || auth.Email != adminEmail {
		t.Fatalf("unexpected auth response %+v", auth)
	}

	rec, env = h.do(t, http.MethodGet, "/api/auth/me", nil, map[string]string{"Authorization": "Bearer " + auth.Token})
	if rec.Code != http.StatusOK || !strings.Contains(string(env.Data), adminEmail) {
		t.Fatalf("me: unexpected %d %s", rec.Code, rec.Body.String())
	}

	rec, env = h.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "not-an-email"}, nil)
	if rec.Code != http.StatusBadRequest || env.Errors["email"] == "" || env.Errors["password"] == "" {
		t.Fatalf("validation: unexpected %d %+v", rec.Code, env)
	}
}

func TestLoginRateLimited(t *testing.T) {
	h := newHarness(t)
	bad := models.LoginRequest{Email: adminEmail, Password: "wrong"}

	for i := 0; i < 3; i++ {
		rec, _ := h.do(t, http.MethodPost, "/api/auth/login", bad, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, rec.Code)
		}
	}
	rec, env := h.do(t, http.MethodPost, "/api/auth/login", bad, nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" || env.Success {
		t.Fatalf("expected 429 with Retry-After, got %d %v", rec.Code, rec.Header())
	}
}
