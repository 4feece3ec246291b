// Package bridge keeps a Resolver in step with the account store's session
// events.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/msplit/msplit/internal/identity"
	"github.com/msplit/msplit/internal/phase"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("bridge already started")

// EventSource is where session-change events come from.
type EventSource interface {
	SubscribeToSessionChanges(handler func(identity.Event)) func()
}

// Refresher re-resolves the phase.
type Refresher interface {
	Refresh(ctx context.Context) phase.Phase
}

// Bridge triggers a refresh for every event. It never looks at the payload.
type Bridge struct {
	source    EventSource
	refresher Refresher
	logger    *slog.Logger

	mu          sync.Mutex
	started     bool
	stopped     bool
	unsubscribe func()
	cancel      context.CancelFunc
	ctx         context.Context
	wg          sync.WaitGroup
}

// New creates a bridge. Nothing is subscribed until Start.
func New(source EventSource, refresher Refresher, logger *slog.Logger) *Bridge {
	return &Bridge{source: source, refresher: refresher, logger: logger}
}

// Start subscribes to the event stream. Refreshes run on their own goroutine
// because the source may publish from inside an account store call.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return ErrAlreadyStarted
	}
	b.started = true
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.unsubscribe = b.source.SubscribeToSessionChanges(b.handle)
	return nil
}

func (b *Bridge) handle(ev identity.Event) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	ctx := b.ctx
	b.wg.Add(1)
	b.mu.Unlock()

	b.logger.Debug("session event", "kind", string(ev.Kind))
	go func() {
		defer b.wg.Done()
		b.refresher.Refresh(ctx)
	}()
}

// Stop unsubscribes and waits for in-flight refreshes. It is safe to call
// more than once, and before Start.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	unsubscribe, cancel := b.unsubscribe, b.cancel
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
}
