package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/tubequota/admin/internal/models"
	"github.com/tubequota/admin/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeServiceError maps service errors onto status codes. fallback is the
// message shown for unexpected failures.
func writeServiceError(w http.ResponseWriter, log zerolog.Logger, err error, fallback string) {
	var rateErr *services.RateLimitError
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, models.NewErrorResponse("사용자를 찾을 수 없습니다"))
	case errors.Is(err, services.ErrInvalidRemaining):
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("남은 할당량은 0 이상, 일일 할당량 이하여야 합니다"))
	case errors.Is(err, services.ErrInvalidLimit):
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("올바른 할당량을 입력해주세요 (0 이상)"))
	case errors.Is(err, services.ErrInvalidDateRange):
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("날짜 범위가 올바르지 않습니다"))
	case services.IsInvalidArgument(err):
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("잘못된 요청입니다"))
	case errors.Is(err, services.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("이메일 또는 비밀번호가 올바르지 않습니다"))
	case errors.As(err, &rateErr):
		secs := int(math.Ceil(rateErr.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, models.NewErrorResponse("요청이 너무 많습니다. 잠시 후 다시 시도해주세요"))
	default:
		log.Error().Err(err).Msg(fallback)
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse(fallback))
	}
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// It writes the error response itself and reports whether to continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("요청 본문이 올바르지 않습니다"))
		return false
	}
	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(validationErrors(verrs)))
			return false
		}
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("요청 본문이 올바르지 않습니다"))
		return false
	}
	return true
}

func validationErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := lowerFirst(fe.Field())
		switch fe.Tag() {
		case "required":
			out[field] = "필수 항목입니다"
		case "email":
			out[field] = "올바른 이메일 형식이 아닙니다"
		case "min":
			out[field] = fe.Param() + " 이상이어야 합니다"
		case "max":
			out[field] = fe.Param() + "자 이하여야 합니다"
		case "oneof":
			out[field] = "허용되는 값: " + fe.Param()
		default:
			out[field] = "올바르지 않은 값입니다"
		}
	}
	return out
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// emailParam returns the unescaped {email} path segment.
func emailParam(r *http.Request) string {
	raw := chi.URLParam(r, "email")
	if email, err := url.PathUnescape(raw); err == nil {
		return email
	}
	return raw
}

// intQuery parses an integer query parameter, returning def when absent.
func intQuery(r *http.Request, key string, def int) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
