package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tubequota/admin/internal/models"
	"github.com/tubequota/admin/internal/services"
)

// UsageHandler serves the quota check used by the search frontend.
type UsageHandler struct {
	quota   *services.QuotaService
	timeout time.Duration
	log     zerolog.Logger
}

func NewUsageHandler(quota *services.QuotaService, timeout time.Duration, log zerolog.Logger) *UsageHandler {
	return &UsageHandler{quota: quota, timeout: timeout, log: log.With().Str("handler", "usage").Logger()}
}

// Check handles GET /api/internal/usage/{email}
func (h *UsageHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	st, err := h.quota.CheckUsage(ctx, emailParam(r))
	if err != nil {
		writeServiceError(w, h.log, err, "사용량을 확인하는데 실패했습니다")
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(st))
}

// Increment handles POST /api/internal/usage/{email}/increment. A rejected
// increment is still a 200; callers inspect allowed.
func (h *UsageHandler) Increment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	st, err := h.quota.IncrementUsage(ctx, emailParam(r))
	if err != nil {
		writeServiceError(w, h.log, err, "사용량을 기록하는데 실패했습니다")
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(st))
}
