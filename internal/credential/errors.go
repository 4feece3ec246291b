package credential

import (
	"context"
	"errors"

	"github.com/msplit/msplit/internal/identity"
)

// Kind classifies why a flow step did not succeed.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindInvalidPIN        Kind = "invalid_pin"
	KindDuplicatePhone    Kind = "duplicate_phone"
	KindDuplicateEmail    Kind = "duplicate_email"
	KindRateLimited       Kind = "rate_limited"
	KindSessionExpired    Kind = "session_expired"
	KindUnreachable       Kind = "unreachable"
	KindTimeout           Kind = "timeout"
	KindFatal             Kind = "fatal"
	KindBusy              Kind = "busy"
	KindInvalidTransition Kind = "invalid_transition"
	KindSuperseded        Kind = "superseded"
)

const (
	msgNameRequired      = "Please enter your full name"
	msgInvalidEmail      = "Please enter a valid email address"
	msgInvalidPhone      = "Please enter a valid phone number (e.g., 0712345678)"
	msgPhoneRequired     = "Please enter your phone number"
	msgPhoneTaken        = "Phone number is already associated with another account"
	msgEmailTaken        = "Email is already in use. Try logging in instead."
	msgRateLimited       = "Too many requests. Please wait a moment and try again."
	msgPINLength         = "PIN must be exactly 4 digits"
	msgPINEntry          = "Please enter your 4-digit PIN"
	msgPINDigits         = "PIN must contain only numbers"
	msgPINMismatch       = "PINs do not match"
	msgPhoneNotFound     = "Phone number not found. Please sign up first."
	msgInvalidPIN        = "Invalid PIN"
	msgSessionExpired    = "Session expired. Please log in again."
	msgNoAccount         = "No account information found"
	msgTimeout           = "The request timed out. Please try again."
	msgUnreachable       = "Unable to reach the server. Please check your connection and try again."
	msgBusy              = "Please wait for the current request to finish"
	msgSignupCheckFailed = "An error occurred. Please try again."
	msgCreateFailed      = "An error occurred while creating your account"
	msgLoginFailed       = "An error occurred during login"

	msgAccountCreated = "Account created successfully!"
	msgLoginOK        = "Login successful!"
	msgWelcomeBack    = "Welcome back!"
	msgResetStub      = "PIN reset instructions would be sent to your registered email/phone"
)

// Failure is returned by every flow step that did not succeed. Message is
// what the form shows; it never contains a PIN.
type Failure struct {
	Kind    Kind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return string(f.Kind) + ": " + f.Err.Error()
	}
	return string(f.Kind) + ": " + f.Message
}

func (f *Failure) Unwrap() error { return f.Err }

// KindOf reports the failure kind of err, or KindFatal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindFatal
}

func fail(kind Kind, msg string) *Failure {
	return &Failure{Kind: kind, Message: msg}
}

// classify maps an account store error to a Failure. fatalMsg is used when
// the error is not one the flow knows about.
func classify(err error, fatalMsg string) *Failure {
	var f *Failure
	switch {
	case errors.As(err, &f):
		return f
	case errors.Is(err, context.DeadlineExceeded):
		return &Failure{Kind: KindTimeout, Message: msgTimeout, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, identity.ErrUnavailable):
		return &Failure{Kind: KindUnreachable, Message: msgUnreachable, Err: err}
	case errors.Is(err, identity.ErrNotFound):
		return &Failure{Kind: KindNotFound, Message: msgPhoneNotFound, Err: err}
	case errors.Is(err, identity.ErrDuplicatePhone):
		return &Failure{Kind: KindDuplicatePhone, Message: msgPhoneTaken, Err: err}
	case errors.Is(err, identity.ErrDuplicateEmail):
		return &Failure{Kind: KindDuplicateEmail, Message: msgEmailTaken, Err: err}
	case errors.Is(err, identity.ErrRateLimited):
		return &Failure{Kind: KindRateLimited, Message: msgRateLimited, Err: err}
	case errors.Is(err, identity.ErrInvalidDraft):
		return &Failure{Kind: KindValidation, Message: msgSignupCheckFailed, Err: err}
	default:
		return &Failure{Kind: KindFatal, Message: fatalMsg, Err: err}
	}
}
