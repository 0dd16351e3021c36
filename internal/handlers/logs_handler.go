package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tubequota/admin/internal/models"
	"github.com/tubequota/admin/internal/services"
)

type LogsHandler struct {
	audit   *services.AuditService
	timeout time.Duration
	log     zerolog.Logger
}

func NewLogsHandler(audit *services.AuditService, timeout time.Duration, log zerolog.Logger) *LogsHandler {
	return &LogsHandler{audit: audit, timeout: timeout, log: log.With().Str("handler", "logs").Logger()}
}

// List handles GET /api/admin/logs?userId=&action=&from=&to=&limit=
// userId is the dashboard's name for the target email; targetEmail is also
// accepted.
func (h *LogsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intQuery(r, "limit", services.DefaultAuditLimit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("limit 값이 올바르지 않습니다"))
		return
	}

	target := q.Get("targetEmail")
	if target == "" {
		target = q.Get("userId")
	}
	filter := models.AuditFilter{
		TargetEmail: strings.ToLower(strings.TrimSpace(target)),
		Action:      strings.ToUpper(strings.TrimSpace(q.Get("action"))),
	}
	if filter.From, err = timeQuery(q.Get("from"), false); err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("from 값이 올바르지 않습니다"))
		return
	}
	if filter.To, err = timeQuery(q.Get("to"), true); err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("to 값이 올바르지 않습니다"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	entries, err := h.audit.Query(ctx, filter, limit)
	if err != nil {
		writeServiceError(w, h.log, err, "로그를 불러오는데 실패했습니다")
		return
	}
	writeJSON(w, http.StatusOK, models.NewListResponse(entries, len(entries)))
}

// timeQuery accepts RFC3339 or a bare YYYY-MM-DD KST day. A bare end day
// covers the whole day.
func timeQuery(v string, endOfDay bool) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := services.ParseDay(v)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
