package identity

import "context"

// Client is the account store bound to a single device.
type Client struct {
	svc      *Service
	deviceID string
}

// DeviceID reports the device the client acts for.
func (c *Client) DeviceID() string {
	return c.deviceID
}

// CurrentSession returns the device's session, or nil when signed out.
func (c *Client) CurrentSession(ctx context.Context) (*Session, error) {
	return c.svc.CurrentSession(ctx, c.deviceID)
}

// SubscribeToSessionChanges registers handler and returns its unsubscribe function.
func (c *Client) SubscribeToSessionChanges(handler func(Event)) func() {
	return c.svc.Subscribe(c.deviceID, handler)
}

// FindIdentityByContact returns ErrNotFound when no identity uses contact.
func (c *Client) FindIdentityByContact(ctx context.Context, contact string) (Identity, error) {
	return c.svc.FindByPhone(ctx, contact)
}

// FetchIdentity loads an identity by id.
func (c *Client) FetchIdentity(ctx context.Context, id string) (Identity, error) {
	return c.svc.FindByID(ctx, id)
}

// CreateIdentity registers draft and signs the device in.
func (c *Client) CreateIdentity(ctx context.Context, draft Draft) (Identity, error) {
	identity, _, err := c.svc.Register(ctx, c.deviceID, draft)
	return identity, err
}

// UpdateIdentity applies patch to identity id.
func (c *Client) UpdateIdentity(ctx context.Context, id string, patch Patch) error {
	return c.svc.Update(ctx, id, patch)
}

// VerifyCredentials checks contact and pin; on success the device is signed in.
func (c *Client) VerifyCredentials(ctx context.Context, contact, pin string) (bool, error) {
	return c.svc.Authenticate(ctx, c.deviceID, contact, pin)
}

// RefreshSession reissues the device's access token.
func (c *Client) RefreshSession(ctx context.Context) (Session, error) {
	return c.svc.RefreshSession(ctx, c.deviceID)
}

// SignOut ends the device's session.
func (c *Client) SignOut(ctx context.Context) error {
	return c.svc.SignOut(ctx, c.deviceID)
}
