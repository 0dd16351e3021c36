package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims, method jwt.SigningMethod) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func protected() http.Handler {
	admins := map[string]bool{"root@x.com": true, "user@x.com": true}
	isAdmin := func(email string) bool { return admins[email] }
	return AdminAuth("secret", isAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetAdminEmail(r.Context())))
	}))
}

func TestAdminAuthAcceptsValidToken(t *testing.T) {
	token := signToken(t, "secret", jwt.MapClaims{
		"sub":  "root@x.com",
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}, jwt.SigningMethodHS256)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protected().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "root@x.com" {
		t.Fatalf("expected admin email in context, got %q", rec.Body.String())
	}
}

func TestAdminAuthRejects(t *testing.T) {
	valid := jwt.MapClaims{"sub": "root@x.com", "role": "admin", "exp": time.Now().Add(time.Hour).Unix()}
	cases := map[string]struct {
		header string
		status int
	}{
		"missing header": {"", http.StatusUnauthorized},
		"wrong scheme":   {"Basic abc", http.StatusUnauthorized},
		"bad signature":  {"Bearer " + signToken(t, "other", valid, jwt.SigningMethodHS256), http.StatusUnauthorized},
		"expired": {"Bearer " + signToken(t, "secret", jwt.MapClaims{
			"sub": "root@x.com", "role": "admin", "exp": time.Now().Add(-time.Minute).Unix(),
		}, jwt.SigningMethodHS256), http.StatusUnauthorized},
		"no expiry": {"Bearer " + signToken(t, "secret", jwt.MapClaims{
			"sub": "root@x.com", "role": "admin",
		}, jwt.SigningMethodHS256), http.StatusUnauthorized},
		"wrong alg": {"Bearer " + signToken(t, "secret", valid, jwt.SigningMethodHS512), http.StatusUnauthorized},
		"not admin": {"Bearer " + signToken(t, "secret", jwt.MapClaims{
			"sub": "user@x.com", "role": "user", "exp": time.Now().Add(time.Hour).Unix(),
		}, jwt.SigningMethodHS256), http.StatusForbidden},
		"revoked admin": {"Bearer " + signToken(t, "secret", jwt.MapClaims{
			"sub": "former@x.com", "role": "admin", "exp": time.Now().Add(time.Hour).Unix(),
		}, jwt.SigningMethodHS256), http.StatusForbidden},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			protected().ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
		})
	}
}

func TestAdminAuthWithoutMembershipCheck(t *testing.T) {
	token := signToken(t, "secret", jwt.MapClaims{
		"sub": "former@x.com", "role": "admin", "exp": time.Now().Add(time.Hour).Unix(),
	}, jwt.SigningMethodHS256)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	AdminAuth("secret", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected signature-only check to pass, got %d", rec.Code)
	}
}

func TestInternalKey(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	cases := []struct {
		key    string
		header string
		status int
	}{
		{"k1", "k1", http.StatusNoContent},
		{"k1", "k2", http.StatusUnauthorized},
		{"k1", "", http.StatusUnauthorized},
		{"", "", http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("X-Internal-Key", tc.header)
		}
		rec := httptest.NewRecorder()
		InternalKey(tc.key)(ok).ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("key=%q header=%q: expected %d, got %d", tc.key, tc.header, tc.status, rec.Code)
		}
	}
}
