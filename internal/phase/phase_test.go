package phase

import "testing"

func TestResolveTable(t *testing.T) {
	tests := []struct {
		name string
		in   Inputs
		want Phase
	}{
		{"pending", Inputs{SessionPending: true, HasSession: true}, Resolving},
		{"no session", Inputs{}, Unauthenticated},
		{"no session first time", Inputs{IsFirstTime: true}, Unauthenticated},
		{"no session onboarded", Inputs{OnboardingCompleted: true}, Unauthenticated},
		{"no session first time onboarded", Inputs{IsFirstTime: true, OnboardingCompleted: true}, Unauthenticated},
		{"session first time not onboarded", Inputs{HasSession: true, IsFirstTime: true}, Onboarding},
		{"session first time onboarded", Inputs{HasSession: true, IsFirstTime: true, OnboardingCompleted: true}, Authenticated},
		{"session returning not onboarded", Inputs{HasSession: true}, Authenticated},
		{"session returning onboarded", Inputs{HasSession: true, OnboardingCompleted: true}, Authenticated},
		{"session locked", Inputs{HasSession: true, PinLocked: true}, AwaitingPinUnlock},
		{"no session locked", Inputs{PinLocked: true}, Unauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.in); got != tt.want {
				t.Fatalf("Resolve(%+v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestAuthenticatedNeverWhileOnboardingPending(t *testing.T) {
	for _, locked := range []bool{false, true} {
		in := Inputs{HasSession: true, IsFirstTime: true, OnboardingCompleted: false, PinLocked: locked}
		if Resolve(in) == Authenticated {
			t.Fatalf("first-time identity without onboarding resolved to Authenticated: %+v", in)
		}
	}
}

func TestPhaseString(t *testing.T) {
	if Authenticated.String() != "authenticated" {
		t.Fatalf("unexpected name %q", Authenticated.String())
	}
	text, err := AwaitingPinUnlock.MarshalText()
	if err != nil || string(text) != "awaiting_pin_unlock" {
		t.Fatalf("unexpected text %q err=%v", text, err)
	}
	if Phase(42).String() != "phase(42)" {
		t.Fatalf("unexpected fallback name %q", Phase(42).String())
	}
}
