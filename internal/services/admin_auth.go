package services

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/tubequota/admin/internal/models"
)

// Limiter is satisfied by the ratelimit package's limiters.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
	Reset(ctx context.Context, key string) error
}

// RateLimitError carries how long the caller should back off.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// AdminAuthService verifies admin credentials and issues bearer tokens.
type AdminAuthService struct {
	admins        map[string]string // email -> bcrypt hash
	jwtSecret     string
	jwtExpiration time.Duration
	limiter       Limiter
	clock         Clock
}

func NewAdminAuthService(admins map[string]string, jwtSecret string, jwtExpiration time.Duration, limiter Limiter, clock Clock) *AdminAuthService {
	return &AdminAuthService{
		admins:        admins,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
		limiter:       limiter,
		clock:         clock,
	}
}

// Login checks the password against the configured hash. clientKey scopes the
// rate limit, usually the remote IP.
func (s *AdminAuthService) Login(ctx context.Context, req *models.LoginRequest, clientKey string) (*models.AuthResponse, error) {
	email := normalizeEmail(req.Email)
	now := s.clock.Now()
	limitKey := "login:" + clientKey + ":" + email

	if s.limiter != nil {
		allowed, retryAfter, err := s.limiter.Allow(ctx, limitKey, now)
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		if !allowed {
			return nil, &RateLimitError{RetryAfter: retryAfter}
		}
	}

	hash, ok := s.admins[email]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if s.limiter != nil {
		// Failed attempts before a success do not count against the next session.
		_ = s.limiter.Reset(ctx, limitKey)
	}

	expiresAt := now.Add(s.jwtExpiration)
	token, err := s.generateToken(email, now, expiresAt)
	if err != nil {
		return nil, err
	}
	return &models.AuthResponse{Token: token, Email: email, ExpiresAt: expiresAt.UTC()}, nil
}

func (s *AdminAuthService) IsAdmin(email string) bool {
	_, ok := s.admins[normalizeEmail(email)]
	return ok
}

func (s *AdminAuthService) generateToken(email string, now, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":  email,
		"role": "admin",
		"exp":  expiresAt.Unix(),
		"iat":  now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}
