package shell

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/msplit/msplit/internal/credential"
	"github.com/msplit/msplit/internal/identity"
	"github.com/msplit/msplit/internal/localstore"
	"github.com/msplit/msplit/internal/logging"
	"github.com/msplit/msplit/internal/phase"
)

// ErrClosed is returned by App after Close.
var ErrClosed = errors.New("host closed")

// LocalStoreFactory opens the local store of a device. It may be called again
// for a device whose app was evicted, and must return the same state.
type LocalStoreFactory func(deviceID string) localstore.Store

// slot is a device's app. ready is closed once Start has finished; app and
// err are only read after that.
type slot struct {
	ready    chan struct{}
	app      *App
	err      error
	lastUsed time.Time
}

func (s *slot) started() bool {
	select {
	case <-s.ready:
		return s.err == nil
	default:
		return false
	}
}

// Host keeps one App per device, created on first use and evicted when idle.
type Host struct {
	accounts *identity.Service
	stores   LocalStoreFactory
	opts     credential.Options
	logger   *slog.Logger
	nowF     func() time.Time

	mu     sync.Mutex
	apps   map[string]*slot
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewHost builds a host. opts is shared by every device's credential flow.
func NewHost(accounts *identity.Service, stores LocalStoreFactory, opts credential.Options) *Host {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		accounts: accounts,
		stores:   stores,
		opts:     opts,
		logger:   logger,
		nowF:     time.Now,
		apps:     make(map[string]*slot),
		done:     make(chan struct{}),
	}
}

// App returns the started app of deviceID. Starting one device never holds
// up requests for another; concurrent first requests for the same device
// share a single start.
func (h *Host) App(ctx context.Context, deviceID string) (*App, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	s, ok := h.apps[deviceID]
	if ok {
		s.lastUsed = h.nowF()
		h.mu.Unlock()
		select {
		case <-s.ready:
			return s.app, s.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s = &slot{ready: make(chan struct{}), lastUsed: h.nowF()}
	h.apps[deviceID] = s
	h.mu.Unlock()

	app, err := h.start(ctx, deviceID)

	h.mu.Lock()
	current := h.apps[deviceID] == s
	if err != nil && current {
		delete(h.apps, deviceID)
	}
	stale := err == nil && (h.closed || !current)
	h.mu.Unlock()

	if stale {
		app.Close()
		app, err = nil, ErrClosed
	}
	s.app, s.err = app, err
	close(s.ready)
	return app, err
}

func (h *Host) start(ctx context.Context, deviceID string) (*App, error) {
	opts := h.opts
	opts.Logger = logging.ForDevice(h.logger, deviceID)
	app := NewApp(h.accounts.Client(deviceID), h.stores(deviceID), opts)
	if err := app.Start(ctx); err != nil {
		return nil, err
	}
	return app, nil
}

// Phase returns the resolved phase of deviceID.
func (h *Host) Phase(ctx context.Context, deviceID string) (phase.Phase, error) {
	app, err := h.App(ctx, deviceID)
	if err != nil {
		return phase.Resolving, err
	}
	return app.Resolver().Current(), nil
}

// Devices reports how many apps are live or starting.
func (h *Host) Devices() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.apps)
}

// EvictIdle closes the apps no request has touched for maxIdle and returns
// how many it closed. An evicted device starts afresh from its local store on
// its next request.
func (h *Host) EvictIdle(maxIdle time.Duration) int {
	h.mu.Lock()
	now := h.nowF()
	var idle []*App
	for id, s := range h.apps {
		if s.started() && now.Sub(s.lastUsed) >= maxIdle {
			idle = append(idle, s.app)
			delete(h.apps, id)
		}
	}
	h.mu.Unlock()

	for _, app := range idle {
		app.Close()
	}
	if len(idle) > 0 {
		h.logger.Info("evicted idle devices", "count", len(idle))
	}
	return len(idle)
}

// StartEviction runs EvictIdle every interval until Close.
func (h *Host) StartEviction(interval, maxIdle time.Duration) {
	if interval <= 0 || maxIdle <= 0 {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.EvictIdle(maxIdle)
			case <-h.done:
				return
			}
		}
	}()
}

// Close stops every app. Later calls to App fail with ErrClosed; apps still
// starting are closed by their starter.
func (h *Host) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.done)
	slots := h.apps
	h.apps = make(map[string]*slot)
	h.mu.Unlock()

	h.wg.Wait()
	for _, s := range slots {
		if s.started() {
			s.app.Close()
		}
	}
}
