package localstore

import (
	"context"
	"fmt"
)

const trueValue = "true"

// Flags mirrors the device-local session hints. IsLoggedIn and CachedUserID
// are a cache only; they never prove that a session exists.
type Flags struct {
	RememberedContact   string
	OnboardingCompleted bool
	IsLoggedIn          bool
	CachedUserID        string
	PinLocked           bool
}

// LoadFlags reads all flags from store.
func LoadFlags(ctx context.Context, store Store) (Flags, error) {
	var f Flags
	var err error
	if f.RememberedContact, _, err = store.Get(ctx, KeyRememberedUser); err != nil {
		return Flags{}, err
	}
	if f.OnboardingCompleted, err = getBool(ctx, store, KeyLandingCompleted); err != nil {
		return Flags{}, err
	}
	if f.IsLoggedIn, err = getBool(ctx, store, KeyIsLoggedIn); err != nil {
		return Flags{}, err
	}
	if f.CachedUserID, _, err = store.Get(ctx, KeyCurrentUserID); err != nil {
		return Flags{}, err
	}
	if f.PinLocked, err = getBool(ctx, store, KeyAppLocked); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// RememberedContact returns the contact cached by the last successful login.
func RememberedContact(ctx context.Context, store Store) (string, error) {
	v, _, err := store.Get(ctx, KeyRememberedUser)
	return v, err
}

// SaveLogin records a successful login or signup for the quick-login path.
func SaveLogin(ctx context.Context, store Store, contact, userID, email string) error {
	pairs := [][2]string{
		{KeyRememberedUser, contact},
		{KeyUserPhone, contact},
		{KeyCurrentUserID, userID},
		{KeyIsLoggedIn, trueValue},
	}
	if email != "" {
		pairs = append(pairs, [2]string{KeyUserEmail, email})
	}
	for _, p := range pairs {
		if err := store.Set(ctx, p[0], p[1]); err != nil {
			return fmt.Errorf("save login: %w", err)
		}
	}
	return nil
}

// SetOnboardingCompleted marks the landing slides as finished.
func SetOnboardingCompleted(ctx context.Context, store Store) error {
	return store.Set(ctx, KeyLandingCompleted, trueValue)
}

// SetPinLocked toggles the app lock.
func SetPinLocked(ctx context.Context, store Store, locked bool) error {
	if !locked {
		return store.Remove(ctx, KeyAppLocked)
	}
	return store.Set(ctx, KeyAppLocked, trueValue)
}

// ClearFlags removes every key the app owns.
func ClearFlags(ctx context.Context, store Store) error {
	return store.RemoveMany(ctx, AllKeys...)
}

func getBool(ctx context.Context, store Store, key string) (bool, error) {
	v, ok, err := store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return ok && v == trueValue, nil
}
