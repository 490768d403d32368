// Package recording tracks whether a measurement session is active and
// keeps the BLE link alive while it is. Foreground and background recording
// are independent flags; reconnection runs while either is set and the
// device is disconnected.
package recording

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/david-ria/pmscanv2-sub000/internal/groutine"
)

// DefaultReconnectInterval is how often the watchdog probes a dead link
const DefaultReconnectInterval = 7 * time.Second

// Reconnector is the device-session surface the watchdog drives
type Reconnector interface {
	IsConnected() bool
	Reconnect(ctx context.Context) error
}

// Registry is the single source of truth for recording state. Sessions
// receive it by injection; nothing in this package is global.
type Registry struct {
	logger   *logrus.Logger
	interval time.Duration

	mu         sync.Mutex
	foreground bool
	background bool
	sessions   map[int]Reconnector
	nextID     int
	cancel     context.CancelFunc
	done       chan struct{}
}

// Option adjusts registry construction
type Option func(*Registry)

// WithReconnectInterval overrides the watchdog probe interval
func WithReconnectInterval(d time.Duration) Option {
	return func(r *Registry) { r.interval = d }
}

// NewRegistry creates an idle registry with no recording in progress
func NewRegistry(logger *logrus.Logger, opts ...Option) *Registry {
	r := &Registry{
		logger:   logger,
		interval: DefaultReconnectInterval,
		sessions: make(map[int]Reconnector),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetForeground flags or clears an in-app recording session
func (r *Registry) SetForeground(active bool) {
	r.mu.Lock()
	r.foreground = active
	r.updateLoopLocked()
	r.mu.Unlock()
}

// SetBackground flags or clears a background recording session
func (r *Registry) SetBackground(active bool) {
	r.mu.Lock()
	r.background = active
	r.updateLoopLocked()
	r.mu.Unlock()
}

// Active reports whether any recording session is in progress
func (r *Registry) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.foreground || r.background
}

// Attach registers a session with the watchdog. The returned detach
// function is idempotent and must be called when the session is torn down.
func (r *Registry) Attach(rec Reconnector) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.sessions[id] = rec
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.sessions, id)
			r.mu.Unlock()
		})
	}
}

// updateLoopLocked starts or stops the watchdog to match the flags.
// Caller holds r.mu.
func (r *Registry) updateLoopLocked() {
	active := r.foreground || r.background
	switch {
	case active && r.cancel == nil:
		ctx, cancel := context.WithCancel(context.Background())
		r.cancel = cancel
		done := make(chan struct{})
		r.done = done
		groutine.Go(ctx, "recording-watchdog", func(ctx context.Context) {
			r.loop(ctx, done)
		})
		if r.logger != nil {
			r.logger.Debug("Recording watchdog started")
		}
	case !active && r.cancel != nil:
		r.cancel()
		r.cancel = nil
		if r.logger != nil {
			r.logger.Debug("Recording watchdog stopped")
		}
	}
}

// loop probes attached sessions on a fixed interval and drives reconnection
// for any that report a dead link. Failures are logged and retried on the
// next tick, never surfaced.
func (r *Registry) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.probe(ctx)
		}
	}
}

func (r *Registry) probe(ctx context.Context) {
	r.mu.Lock()
	targets := make([]Reconnector, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.Unlock()

	for _, s := range targets {
		if s.IsConnected() {
			continue
		}
		if err := s.Reconnect(ctx); err != nil {
			if r.logger != nil {
				r.logger.WithError(err).Warn("Reconnection attempt failed, will retry")
			}
		}
	}
}
