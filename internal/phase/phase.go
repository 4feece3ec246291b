// Package phase resolves which top-level screen a device shows from the
// remote session, the identity's first-time flag and the local flags.
package phase

import "fmt"

// Phase is the single navigation state the hosting shell renders.
type Phase int

const (
	Resolving Phase = iota
	Unauthenticated
	AwaitingPinUnlock
	Onboarding
	Authenticated
)

var names = [...]string{
	Resolving:         "resolving",
	Unauthenticated:   "unauthenticated",
	AwaitingPinUnlock: "awaiting_pin_unlock",
	Onboarding:        "onboarding",
	Authenticated:     "authenticated",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(names) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return names[p]
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Inputs is everything Resolve looks at.
type Inputs struct {
	// SessionPending is true until the first session fetch returns.
	SessionPending      bool
	HasSession          bool
	IsFirstTime         bool
	OnboardingCompleted bool
	PinLocked           bool
}

// Resolve maps inputs to exactly one phase. A first-time identity that has
// not finished onboarding never resolves to Authenticated.
func Resolve(in Inputs) Phase {
	switch {
	case in.SessionPending:
		return Resolving
	case !in.HasSession:
		return Unauthenticated
	case in.PinLocked:
		return AwaitingPinUnlock
	case in.IsFirstTime && !in.OnboardingCompleted:
		return Onboarding
	default:
		return Authenticated
	}
}
