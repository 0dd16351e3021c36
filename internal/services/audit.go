package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tubequota/admin/internal/metrics"
	"github.com/tubequota/admin/internal/models"
)

const (
	DefaultAuditLimit = 100
	MaxAuditLimit     = 1000

	auditWriteTimeout = 5 * time.Second
)

type AuditService struct {
	store AuditStore
	clock Clock
	log   zerolog.Logger
}

func NewAuditService(store AuditStore, clock Clock, log zerolog.Logger) *AuditService {
	return &AuditService{
		store: store,
		clock: clock,
		log:   log.With().Str("component", "audit").Logger(),
	}
}

// Record appends an entry. It never fails the caller: store errors are
// logged and counted.
func (s *AuditService) Record(ctx context.Context, actor, action, target string, changes map[string]interface{}, status string) {
	if status == "" {
		status = models.AuditSuccess
	}
	entry := models.AuditLogEntry{
		ID:          uuid.NewString(),
		Email:       actor,
		Action:      action,
		TargetEmail: target,
		Changes:     changes,
		Timestamp:   s.clock.Now().UTC(),
		Status:      status,
	}

	// The parent request may already be near its deadline.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	if err := s.store.Insert(writeCtx, entry); err != nil {
		metrics.AuditWriteFailures.Inc()
		s.log.Error().Err(err).
			Str("action", action).
			Str("actor", actor).
			Str("target", target).
			Msg("audit write failed")
	}
}

// Query returns entries newest first. limit <= 0 means the default; anything
// above MaxAuditLimit is capped.
func (s *AuditService) Query(ctx context.Context, filter models.AuditFilter, limit int) ([]models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	if limit > MaxAuditLimit {
		limit = MaxAuditLimit
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, ErrInvalidDateRange
	}

	entries, err := s.store.Find(ctx, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	return entries, nil
}
