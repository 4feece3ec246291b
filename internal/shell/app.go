// Package shell hosts one device's session core: local store, account store
// client, resolver, event bridge and credential controller.
package shell

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/msplit/msplit/internal/bridge"
	"github.com/msplit/msplit/internal/credential"
	"github.com/msplit/msplit/internal/identity"
	"github.com/msplit/msplit/internal/localstore"
	"github.com/msplit/msplit/internal/phase"
)

// Screen is the top-level screen the host renders for a phase.
type Screen string

const (
	ScreenLoading    Screen = "loading"
	ScreenAuth       Screen = "auth"
	ScreenPIN        Screen = "pin"
	ScreenOnboarding Screen = "onboarding"
	ScreenMain       Screen = "main"
)

// ScreenFor maps a phase to exactly one screen.
func ScreenFor(p phase.Phase) Screen {
	switch p {
	case phase.Unauthenticated:
		return ScreenAuth
	case phase.AwaitingPinUnlock:
		return ScreenPIN
	case phase.Onboarding:
		return ScreenOnboarding
	case phase.Authenticated:
		return ScreenMain
	default:
		return ScreenLoading
	}
}

// App is the session core of a single device.
type App struct {
	deviceID string
	client   *identity.Client
	local    localstore.Store
	resolver *phase.Resolver
	bridge   *bridge.Bridge
	flow     *credential.Controller
	logger   *slog.Logger
}

// Snapshot is what the host renders.
type Snapshot struct {
	DeviceID string           `json:"device_id"`
	Phase    phase.Phase      `json:"phase"`
	Screen   Screen           `json:"screen"`
	Flow     credential.State `json:"flow"`
}

// NewApp wires a device's components. Nothing runs until Start.
func NewApp(client *identity.Client, local localstore.Store, opts credential.Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts.Logger = logger
	resolver := phase.NewResolver(client, local, logger)
	return &App{
		deviceID: client.DeviceID(),
		client:   client,
		local:    local,
		resolver: resolver,
		bridge:   bridge.New(client, resolver, logger),
		flow:     credential.New(client, local, resolver, opts),
		logger:   logger,
	}
}

// Start subscribes to session events, resolves the first phase and picks the
// starting credential view.
func (a *App) Start(ctx context.Context) error {
	if err := a.bridge.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}
	a.resolver.Refresh(ctx)
	a.flow.Start(ctx)
	return nil
}

// Close unsubscribes from session events and waits for pending refreshes.
func (a *App) Close() {
	a.bridge.Stop()
}

// DeviceID reports the device the app serves.
func (a *App) DeviceID() string { return a.deviceID }

// Resolver exposes the phase for readers and subscribers.
func (a *App) Resolver() *phase.Resolver { return a.resolver }

// Flow exposes the credential controller.
func (a *App) Flow() *credential.Controller { return a.flow }

// Snapshot returns the current phase, screen and form state.
func (a *App) Snapshot() Snapshot {
	p := a.resolver.Current()
	return Snapshot{
		DeviceID: a.deviceID,
		Phase:    p,
		Screen:   ScreenFor(p),
		Flow:     a.flow.State(),
	}
}

// Refresh re-resolves the phase on demand.
func (a *App) Refresh(ctx context.Context) Snapshot {
	a.resolver.Refresh(ctx)
	return a.Snapshot()
}

// CompleteOnboarding finishes the landing slides.
func (a *App) CompleteOnboarding(ctx context.Context) (Snapshot, error) {
	if err := a.resolver.CompleteOnboarding(ctx); err != nil {
		return a.Snapshot(), err
	}
	return a.Snapshot(), nil
}

// Lock requires the PIN before the app is usable again.
func (a *App) Lock(ctx context.Context) (Snapshot, error) {
	if err := a.resolver.Lock(ctx); err != nil {
		return a.Snapshot(), err
	}
	return a.Snapshot(), nil
}

// SignOut ends the remote session and clears every local flag. The flow
// restarts at initial.
func (a *App) SignOut(ctx context.Context) (Snapshot, error) {
	if err := a.client.SignOut(ctx); err != nil {
		return a.Snapshot(), fmt.Errorf("sign out: %w", err)
	}
	if err := localstore.ClearFlags(ctx, a.local); err != nil {
		a.logger.Error("clear local flags after sign out", "error", err)
	}
	a.resolver.Refresh(ctx)
	a.flow.Start(ctx)
	return a.Snapshot(), nil
}

// Session returns the device's live session, or nil when signed out.
func (a *App) Session(ctx context.Context) (*identity.Session, error) {
	return a.client.CurrentSession(ctx)
}

// Profile returns the signed-in identity, or identity.ErrNotFound when the
// device has no session.
func (a *App) Profile(ctx context.Context) (identity.Identity, error) {
	sess, err := a.client.CurrentSession(ctx)
	if err != nil {
		return identity.Identity{}, err
	}
	if sess == nil {
		return identity.Identity{}, identity.ErrNotFound
	}
	return a.client.FetchIdentity(ctx, sess.IdentityID)
}
