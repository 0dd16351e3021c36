package handlers

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/tubequota/admin/internal/middleware"
	"github.com/tubequota/admin/internal/models"
	"github.com/tubequota/admin/internal/services"
)

type AuthHandler struct {
	auth     *services.AdminAuthService
	validate *validator.Validate
	timeout  time.Duration
	log      zerolog.Logger
}

func NewAuthHandler(auth *services.AdminAuthService, validate *validator.Validate, timeout time.Duration, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:     auth,
		validate: validate,
		timeout:  timeout,
		log:      log.With().Str("handler", "auth").Logger(),
	}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.auth.Login(ctx, &req, clientIP(r))
	if err != nil {
		writeServiceError(w, h.log, err, "로그인에 실패했습니다")
		return
	}
	h.log.Info().Str("email", res.Email).Msg("admin login")
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(res))
}

// Me returns the admin identity carried by the bearer token.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	email := middleware.GetAdminEmail(r.Context())
	if email == "" || !h.auth.IsAdmin(email) {
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("인증이 필요합니다"))
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(map[string]string{
		"email": email,
		"role":  "admin",
	}))
}

// clientIP strips the port from RemoteAddr, which chi's RealIP middleware
// has already rewritten from proxy headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
