package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/tubequota/admin/internal/middleware"
	"github.com/tubequota/admin/internal/models"
	"github.com/tubequota/admin/internal/services"
)

const bulkTimeout = 20 * time.Second

type UsersHandler struct {
	users    *services.UserAdminService
	quota    *services.QuotaService
	validate *validator.Validate
	timeout  time.Duration
	log      zerolog.Logger
}

func NewUsersHandler(users *services.UserAdminService, quota *services.QuotaService, validate *validator.Validate, timeout time.Duration, log zerolog.Logger) *UsersHandler {
	return &UsersHandler{
		users:    users,
		quota:    quota,
		validate: validate,
		timeout:  timeout,
		log:      log.With().Str("handler", "users").Logger(),
	}
}

// List handles GET /api/admin/users?q=&page=&limit=&filter=
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := intQuery(r, "page", 1)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("page 값이 올바르지 않습니다"))
		return
	}
	limit, err := intQuery(r, "limit", services.DefaultPageSize)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("limit 값이 올바르지 않습니다"))
		return
	}

	q := r.URL.Query()
	filter := models.UserFilter{Query: q.Get("q"), Status: models.UserStatus(q.Get("filter"))}
	if filter.Status != "" && !filter.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("filter 값이 올바르지 않습니다"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p := services.NormalizePage(models.Page{Number: page, Size: limit})
	res, err := h.users.ListUsers(ctx, filter, p)
	if err != nil {
		writeServiceError(w, h.log, err, "사용자 목록을 불러오는데 실패했습니다")
		return
	}

	resp := models.NewListResponse(res.Users, len(res.Users))
	resp.Pagination = models.NewPagination(p.Number, p.Size, res.Total)
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/admin/users/{email}
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, err := h.users.GetUser(ctx, emailParam(r))
	if err != nil {
		writeServiceError(w, h.log, err, "사용자 정보를 불러오는데 실패했습니다")
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(user))
}

// Patch handles PATCH /api/admin/users/{email}. An action takes precedence
// over a bare dailyLimit, which takes precedence over remainingLimit.
func (h *UsersHandler) Patch(w http.ResponseWriter, r *http.Request) {
	var req models.UserPatchRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	email := emailParam(r)
	actor := middleware.GetAdminEmail(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		user *models.User
		err  error
	)
	switch {
	case req.Action == "activate":
		user, err = h.users.Activate(ctx, email, req.DailyLimit, actor)
	case req.Action == "deactivate":
		user, err = h.users.Deactivate(ctx, email, actor)
	case req.Action == "ban":
		user, err = h.users.Ban(ctx, email, req.BannedReason, actor)
	case req.Action == "unban":
		user, err = h.users.Unban(ctx, email, actor)
	case req.Action == "reset_remaining":
		user, err = h.quota.ResetRemaining(ctx, email, actor)
	case req.DailyLimit != nil:
		user, err = h.users.SetDailyLimit(ctx, email, *req.DailyLimit, actor)
	case req.RemainingLimit != nil:
		user, err = h.quota.SetRemainingLimit(ctx, email, *req.RemainingLimit, actor)
	default:
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("올바른 할당량을 입력해주세요 (0 이상)"))
		return
	}
	if err != nil {
		writeServiceError(w, h.log, err, "사용자 정보 업데이트에 실패했습니다")
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(user))
}

// BulkUpdate handles POST /api/admin/users
func (h *UsersHandler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req models.BulkLimitRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), bulkTimeout)
	defer cancel()

	res, err := h.users.BulkSetDailyLimit(ctx, *req.DailyLimit, models.Scope(req.Scope), middleware.GetAdminEmail(r.Context()))
	if err != nil {
		writeServiceError(w, h.log, err, "일괄 업데이트 실패")
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(res))
}

// Usage handles GET /api/admin/users/{email}/usage?history=
func (h *UsersHandler) Usage(w http.ResponseWriter, r *http.Request) {
	history, err := intQuery(r, "history", services.DefaultHistoryLimit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("history 값이 올바르지 않습니다"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	usage, err := h.quota.UserUsage(ctx, emailParam(r), history)
	if err != nil {
		writeServiceError(w, h.log, err, "사용량을 불러오는데 실패했습니다")
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(usage))
}
