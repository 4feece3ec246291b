package phase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/msplit/msplit/internal/identity"
	"github.com/msplit/msplit/internal/localstore"
)

// AccountStore is the part of the account backend the resolver reads.
type AccountStore interface {
	CurrentSession(ctx context.Context) (*identity.Session, error)
	FetchIdentity(ctx context.Context, id string) (identity.Identity, error)
	UpdateIdentity(ctx context.Context, id string, patch identity.Patch) error
}

// Resolver owns the device's Phase. It is the only writer; everything else
// reads Current or subscribes.
type Resolver struct {
	accounts AccountStore
	local    localstore.Store
	logger   *slog.Logger

	gen atomic.Uint64

	// pubMu serialises publication so subscribers see phases in generation order.
	pubMu   sync.Mutex
	applied uint64

	mu      sync.RWMutex
	phase   Phase
	subs    map[uint64]func(Phase)
	nextSub uint64

	stateMu   sync.Mutex
	firstTime map[string]bool
	flags     localstore.Flags
	flipped   map[string]bool
	flipping  map[string]bool
}

// NewResolver builds a resolver starting in Resolving.
func NewResolver(accounts AccountStore, local localstore.Store, logger *slog.Logger) *Resolver {
	return &Resolver{
		accounts:  accounts,
		local:     local,
		logger:    logger,
		phase:     Resolving,
		subs:      make(map[uint64]func(Phase)),
		firstTime: make(map[string]bool),
		flipped:   make(map[string]bool),
		flipping:  make(map[string]bool),
	}
}

// Current returns the last published phase.
func (r *Resolver) Current() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

// Subscribe registers handler for phase changes. Handlers are called in
// publication order and must not call Refresh synchronously.
func (r *Resolver) Subscribe(handler func(Phase)) func() {
	r.mu.Lock()
	r.nextSub++
	id := r.nextSub
	r.subs[id] = handler
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// Refresh re-reads the remote session, the identity's first-time flag and the
// local flags, then publishes the resulting phase if it changed. A refresh
// that finishes after a newer one is discarded. Failures keep the last known
// phase; they are logged, never returned.
func (r *Resolver) Refresh(ctx context.Context) Phase {
	gen := r.gen.Add(1)

	in, identityID, ok := r.gather(ctx)
	if !ok {
		r.discard(gen)
		return r.Current()
	}

	p := Resolve(in)
	if !r.publish(gen, p) {
		return r.Current()
	}

	if p == Authenticated && in.IsFirstTime && in.OnboardingCompleted {
		r.clearFirstTime(ctx, identityID)
	}
	return r.Current()
}

// CompleteOnboarding records that the landing slides are done. The local flag
// is durable before the phase moves on; the identity's first-time flag is
// cleared by the refresh that follows.
func (r *Resolver) CompleteOnboarding(ctx context.Context) error {
	if err := localstore.SetOnboardingCompleted(ctx, r.local); err != nil {
		return fmt.Errorf("persist onboarding flag: %w", err)
	}
	r.Refresh(ctx)
	return nil
}

// Lock requires a PIN before the signed-in device is usable again.
func (r *Resolver) Lock(ctx context.Context) error {
	if err := localstore.SetPinLocked(ctx, r.local, true); err != nil {
		return fmt.Errorf("persist lock flag: %w", err)
	}
	r.Refresh(ctx)
	return nil
}

// ClearLock removes the PIN lock. Callers verify the PIN first.
func (r *Resolver) ClearLock(ctx context.Context) error {
	if err := localstore.SetPinLocked(ctx, r.local, false); err != nil {
		return fmt.Errorf("clear lock flag: %w", err)
	}
	r.Refresh(ctx)
	return nil
}

func (r *Resolver) gather(ctx context.Context) (Inputs, string, bool) {
	sess, err := r.accounts.CurrentSession(ctx)
	if err != nil {
		r.logger.Warn("session fetch failed, keeping last phase", "error", err)
		return Inputs{}, "", false
	}

	flags, err := localstore.LoadFlags(ctx, r.local)
	r.stateMu.Lock()
	if err != nil {
		r.logger.Warn("local flags unavailable, using last known", "error", err)
		flags = r.flags
	} else {
		r.flags = flags
	}
	r.stateMu.Unlock()

	in := Inputs{
		HasSession:          sess != nil,
		OnboardingCompleted: flags.OnboardingCompleted,
		PinLocked:           flags.PinLocked,
	}
	if sess == nil {
		return in, "", true
	}

	in.IsFirstTime = r.fetchFirstTime(ctx, sess.IdentityID)
	return in, sess.IdentityID, true
}

// fetchFirstTime falls back to the last value seen for id, or true if none.
func (r *Resolver) fetchFirstTime(ctx context.Context, id string) bool {
	ident, err := r.accounts.FetchIdentity(ctx, id)

	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if err != nil {
		last, known := r.firstTime[id]
		if !known {
			last = true
		}
		r.logger.Warn("identity fetch failed, using last known first-time flag",
			"identity_id", id, "is_first_time", last, "error", err)
		return last
	}
	if r.flipped[id] {
		return false
	}
	r.firstTime[id] = ident.IsFirstTime
	return ident.IsFirstTime
}

// publish applies p if gen is the newest result so far. It reports whether
// the result was applied; subscribers only hear about actual changes.
func (r *Resolver) publish(gen uint64, p Phase) bool {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	if gen <= r.applied {
		r.logger.Debug("discarding stale resolution", "generation", gen, "applied", r.applied)
		return false
	}
	r.applied = gen

	r.mu.Lock()
	prev := r.phase
	r.phase = p
	handlers := make([]func(Phase), 0, len(r.subs))
	for _, h := range r.subs {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	if prev == p {
		return true
	}
	r.logger.Info("phase changed", "from", prev.String(), "to", p.String(), "generation", gen)
	for _, h := range handlers {
		h(p)
	}
	return true
}

// discard records a failed gen as the newest resolution without publishing,
// so an older refresh still in flight cannot replace the kept phase.
func (r *Resolver) discard(gen uint64) {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	if gen > r.applied {
		r.applied = gen
	}
}

// clearFirstTime patches isFirstTime=false on the account store once per identity.
func (r *Resolver) clearFirstTime(ctx context.Context, id string) {
	r.stateMu.Lock()
	if r.flipped[id] || r.flipping[id] {
		r.stateMu.Unlock()
		return
	}
	r.flipping[id] = true
	r.stateMu.Unlock()

	notFirst := false
	err := r.accounts.UpdateIdentity(ctx, id, identity.Patch{IsFirstTime: &notFirst})

	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	delete(r.flipping, id)
	if err != nil {
		r.logger.Warn("clear first-time flag failed, will retry on next refresh", "identity_id", id, "error", err)
		return
	}
	r.flipped[id] = true
	r.firstTime[id] = false
}
