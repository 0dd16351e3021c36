package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tubequota/admin/internal/models"
	"github.com/tubequota/admin/internal/services"
)

type StatsHandler struct {
	stats   *services.StatsService
	timeout time.Duration
	log     zerolog.Logger
}

func NewStatsHandler(stats *services.StatsService, timeout time.Duration, log zerolog.Logger) *StatsHandler {
	return &StatsHandler{stats: stats, timeout: timeout, log: log.With().Str("handler", "stats").Logger()}
}

// Get handles GET /api/admin/stats?period=&startDate=&endDate=&top=
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	top, err := intQuery(r, "top", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("top 값이 올바르지 않습니다"))
		return
	}
	q := r.URL.Query()
	query := models.StatsQuery{
		Period:    q.Get("period"),
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
		Top:       top,
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	stats, err := h.stats.Compute(ctx, query)
	if err != nil {
		writeServiceError(w, h.log, err, "통계를 불러오는데 실패했습니다")
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(stats))
}
