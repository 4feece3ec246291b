package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/msplit/msplit/internal/auth"
	"github.com/msplit/msplit/internal/ratelimit"
)

// Service is the account backend: identities, device sessions and the
// session-change stream.
type Service struct {
	repo     Repository
	sessions SessionStore
	broker   *Broker
	tokens   *auth.Issuer
	signups  ratelimit.Limiter
	hashCost int
	logger   *slog.Logger
	nowF     func() time.Time
}

// Options tunes a Service. Zero values pick defaults.
type Options struct {
	HashCost      int
	SignupLimiter ratelimit.Limiter
	Logger        *slog.Logger
}

// NewService creates a new identity service.
func NewService(repo Repository, sessions SessionStore, broker *Broker, tokens *auth.Issuer, opts Options) *Service {
	cost := opts.HashCost
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	limiter := opts.SignupLimiter
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		sessions: sessions,
		broker:   broker,
		tokens:   tokens,
		signups:  limiter,
		hashCost: cost,
		logger:   logger,
		nowF:     time.Now,
	}
}

// Client returns the account store as seen from deviceID.
func (s *Service) Client(deviceID string) *Client {
	return &Client{svc: s, deviceID: deviceID}
}

// Register creates a first-time identity with a bcrypt-hashed PIN and signs
// deviceID in. Duplicate phone and email are rejected atomically by the repository.
func (s *Service) Register(ctx context.Context, deviceID string, draft Draft) (Identity, Session, error) {
	draft.FullName = strings.TrimSpace(draft.FullName)
	draft.Email = strings.ToLower(strings.TrimSpace(draft.Email))
	draft.Phone = strings.TrimSpace(draft.Phone)
	if draft.FullName == "" || draft.Email == "" || draft.Phone == "" || draft.PIN == "" {
		return Identity{}, Session{}, ErrInvalidDraft
	}

	allowed, err := s.signups.Allow(ctx, deviceID)
	if err != nil {
		s.logger.Warn("signup limiter unavailable", "error", err)
	}
	if !allowed {
		return Identity{}, Session{}, ErrRateLimited
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(draft.PIN), s.hashCost)
	if err != nil {
		return Identity{}, Session{}, fmt.Errorf("hash pin: %w", err)
	}

	now := s.nowF().UTC()
	identity := Identity{
		ID:           uuid.New().String(),
		ContactPhone: draft.Phone,
		FullName:     draft.FullName,
		Email:        draft.Email,
		PINHash:      hash,
		IsFirstTime:  true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, identity); err != nil {
		return Identity{}, Session{}, err
	}

	sess, err := s.startSession(ctx, identity.ID, deviceID)
	if err != nil {
		return Identity{}, Session{}, err
	}
	s.logger.Info("identity registered", "identity_id", identity.ID, "device_id", deviceID)
	return identity, sess, nil
}

// FindByPhone fetches an identity by contact phone.
func (s *Service) FindByPhone(ctx context.Context, phone string) (Identity, error) {
	return s.repo.FindByPhone(ctx, strings.TrimSpace(phone))
}

// FindByID fetches an identity by identifier.
func (s *Service) FindByID(ctx context.Context, id string) (Identity, error) {
	return s.repo.FindByID(ctx, id)
}

// Update applies patch and notifies every device signed in as the identity.
func (s *Service) Update(ctx context.Context, id string, patch Patch) error {
	if patch.Empty() {
		return nil
	}
	if patch.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*patch.Email))
		patch.Email = &email
	}
	if _, err := s.repo.Update(ctx, id, patch); err != nil {
		return err
	}
	devices, err := s.sessions.DevicesFor(ctx, id)
	if err != nil {
		s.logger.Warn("list identity devices", "identity_id", id, "error", err)
		return nil
	}
	for _, deviceID := range devices {
		s.broker.Publish(Event{Kind: EventUserUpdated, DeviceID: deviceID})
	}
	return nil
}

// Authenticate checks the PIN for phone and, on success, signs deviceID in.
// An unknown phone and a wrong PIN both report false.
func (s *Service) Authenticate(ctx context.Context, deviceID, phone, pin string) (bool, error) {
	identity, err := s.repo.FindByPhone(ctx, strings.TrimSpace(phone))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := bcrypt.CompareHashAndPassword(identity.PINHash, []byte(pin)); err != nil {
		return false, nil
	}
	if _, err := s.startSession(ctx, identity.ID, deviceID); err != nil {
		return false, err
	}
	return true, nil
}

// CurrentSession returns the live session of deviceID, or nil when signed out.
func (s *Service) CurrentSession(ctx context.Context, deviceID string) (*Session, error) {
	sess, err := s.sessions.Get(ctx, deviceID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// RefreshSession reissues the access token of deviceID's session.
func (s *Service) RefreshSession(ctx context.Context, deviceID string) (Session, error) {
	sess, err := s.sessions.Get(ctx, deviceID)
	if err != nil {
		return Session{}, err
	}
	token, exp, err := s.tokens.Issue(sess.IdentityID, sess.ID, deviceID)
	if err != nil {
		return Session{}, err
	}
	sess.AccessToken = token
	sess.ExpiresAt = exp
	if err := s.sessions.Put(ctx, sess); err != nil {
		return Session{}, err
	}
	s.broker.Publish(Event{Kind: EventTokenRefreshed, DeviceID: deviceID, Session: &sess})
	return sess, nil
}

// SignOut ends deviceID's session.
func (s *Service) SignOut(ctx context.Context, deviceID string) error {
	if err := s.sessions.Delete(ctx, deviceID); err != nil {
		return err
	}
	s.broker.Publish(Event{Kind: EventSignedOut, DeviceID: deviceID})
	return nil
}

// RevokeIdentity signs the identity out of every device except keep, which
// may be empty. It returns how many sessions were ended.
func (s *Service) RevokeIdentity(ctx context.Context, identityID, keep string) (int, error) {
	devices, err := s.sessions.DevicesFor(ctx, identityID)
	if err != nil {
		return 0, err
	}
	revoked := 0
	for _, deviceID := range devices {
		if deviceID == keep {
			continue
		}
		if err := s.SignOut(ctx, deviceID); err != nil {
			return revoked, fmt.Errorf("sign out %s: %w", deviceID, err)
		}
		revoked++
	}
	s.logger.Info("identity sessions revoked", "identity_id", identityID, "devices", revoked)
	return revoked, nil
}

// Subscribe registers handler for deviceID's session changes.
func (s *Service) Subscribe(deviceID string, handler func(Event)) func() {
	return s.broker.Subscribe(deviceID, handler)
}

func (s *Service) startSession(ctx context.Context, identityID, deviceID string) (Session, error) {
	sessionID := uuid.NewString()
	token, exp, err := s.tokens.Issue(identityID, sessionID, deviceID)
	if err != nil {
		return Session{}, err
	}
	sess := Session{
		ID:          sessionID,
		IdentityID:  identityID,
		DeviceID:    deviceID,
		AccessToken: token,
		CreatedAt:   s.nowF().UTC(),
		ExpiresAt:   exp,
	}
	if err := s.sessions.Put(ctx, sess); err != nil {
		return Session{}, err
	}
	s.broker.Publish(Event{Kind: EventSignedIn, DeviceID: deviceID, Session: &sess})
	return sess, nil
}
