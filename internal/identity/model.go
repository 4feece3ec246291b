package identity

import "time"

// Identity is a registered MSplit user.
type Identity struct {
	ID           string
	ContactPhone string
	FullName     string
	Email        string
	PINHash      []byte
	IsFirstTime  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Draft carries the fields collected by the signup flow.
type Draft struct {
	FullName string
	Email    string
	Phone    string
	PIN      string
}

// Patch lists profile changes. Nil fields are left untouched.
type Patch struct {
	FullName    *string
	Email       *string
	IsFirstTime *bool
}

// Apply copies the non-nil fields of p onto id.
func (p Patch) Apply(id *Identity) {
	if p.FullName != nil {
		id.FullName = *p.FullName
	}
	if p.Email != nil {
		id.Email = *p.Email
	}
	if p.IsFirstTime != nil {
		id.IsFirstTime = *p.IsFirstTime
	}
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.FullName == nil && p.Email == nil && p.IsFirstTime == nil
}

// Session is an authenticated device session.
type Session struct {
	ID          string    `json:"id"`
	IdentityID  string    `json:"identity_id"`
	DeviceID    string    `json:"device_id"`
	AccessToken string    `json:"access_token"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// EventKind names a session change.
type EventKind string

const (
	EventSignedIn       EventKind = "signed_in"
	EventSignedOut      EventKind = "signed_out"
	EventTokenRefreshed EventKind = "token_refreshed"
	EventUserUpdated    EventKind = "user_updated"
)

// Event is delivered to session-change subscribers of a device.
type Event struct {
	Kind     EventKind
	DeviceID string
	Session  *Session
}
