package services

import "errors"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidLimit       = errors.New("daily limit must be >= 0")
	ErrInvalidRemaining   = errors.New("remaining limit must be between 0 and the daily limit")
	ErrInvalidScope       = errors.New("scope must be one of all, active, inactive")
	ErrInvalidStatus      = errors.New("status must be one of all, active, inactive, banned")
	ErrInvalidDateRange   = errors.New("invalid date range")
	ErrInvalidReason      = errors.New("ban reason too long")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrRateLimited        = errors.New("too many attempts")
)

// IsInvalidArgument reports whether err is caused by bad caller input.
func IsInvalidArgument(err error) bool {
	for _, target := range []error{
		ErrInvalidLimit, ErrInvalidRemaining, ErrInvalidScope,
		ErrInvalidStatus, ErrInvalidDateRange, ErrInvalidReason,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
