package identity

import "errors"

var (
	// ErrNotFound is returned when no identity or session matches.
	ErrNotFound = errors.New("identity not found")
	// ErrDuplicatePhone is returned when the phone number is already registered.
	ErrDuplicatePhone = errors.New("phone number already registered")
	// ErrDuplicateEmail is returned when the email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrRateLimited is returned when signups from a device are throttled.
	ErrRateLimited = errors.New("too many requests")
	// ErrInvalidDraft is returned when a signup draft is incomplete.
	ErrInvalidDraft = errors.New("invalid identity draft")
	// ErrUnavailable wraps transport failures reaching a backing store.
	ErrUnavailable = errors.New("account store unavailable")
)
