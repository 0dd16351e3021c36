package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tubequota/admin/internal/models"
)

type contextKey string

const AdminEmailKey contextKey = "adminEmail"

// AdminAuth validates HS256 admin bearer tokens and stores the admin email
// in the request context. When isAdmin is set, tokens whose subject is no
// longer a configured admin are refused even before they expire.
func AdminAuth(jwtSecret string, isAdmin func(email string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("인증이 필요합니다"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("잘못된 인증 헤더 형식입니다"))
				return
			}

			token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
				return []byte(jwtSecret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

			if err != nil || !token.Valid {
				writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("유효하지 않거나 만료된 토큰입니다"))
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("유효하지 않은 토큰입니다"))
				return
			}

			email, _ := claims["sub"].(string)
			role, _ := claims["role"].(string)
			if email == "" || role != "admin" || (isAdmin != nil && !isAdmin(email)) {
				writeJSON(w, http.StatusForbidden, models.NewErrorResponse("관리자 권한이 필요합니다"))
				return
			}

			ctx := context.WithValue(r.Context(), AdminEmailKey, email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAdminEmail extracts the authenticated admin from context.
func GetAdminEmail(ctx context.Context) string {
	email, ok := ctx.Value(AdminEmailKey).(string)
	if !ok {
		return ""
	}
	return email
}

// InternalKey guards service-to-service routes with a shared X-Internal-Key.
// An empty key disables the routes entirely.
func InternalKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				writeJSON(w, http.StatusServiceUnavailable, models.NewErrorResponse("internal API disabled"))
				return
			}
			got := r.Header.Get("X-Internal-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("invalid internal key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
