// Package connwatch monitors the health of carbridge's external
// dependencies with exponential backoff.
//
// The MQTT client reconnects on its own; a Watcher answers the slower
// question of whether the broker has been reachable recently, and
// reflects the answer into the model through [WatcherConfig.Health] so
// that Home Assistant sees it as the bridge's "healthy" entity.
//
// Each Watcher probes a single service in two phases:
//  1. Startup: exponential backoff (1s, 2s, 4s, ... capped at 30s)
//  2. Background: periodic polling (every 30s) with state-transition callbacks
package connwatch

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Flag receives the watcher's ready state. *model.BoolAttribute
// satisfies it.
type Flag interface {
	Set(bool)
}

// BackoffConfig controls the exponential backoff behavior.
type BackoffConfig struct {
	// InitialDelay is the delay before the first retry (default: 1s).
	InitialDelay time.Duration

	// MaxDelay is the ceiling for backoff growth (default: 30s).
	MaxDelay time.Duration

	// Multiplier scales the delay after each retry (default: 2.0).
	Multiplier float64

	// MaxRetries is the maximum number of startup probe attempts (default: 8).
	MaxRetries int

	// PollInterval is the background check interval after startup
	// retries are exhausted or after a successful connection (default: 30s).
	PollInterval time.Duration

	// ProbeTimeout limits how long each individual probe call may take (default: 5s).
	ProbeTimeout time.Duration
}

// DefaultBackoffConfig returns 1s, 2s, 4s, ... 30s (capped), with 8
// startup retries and 30-second background polling. A broker restart
// shows up on the bridge's healthy entity within one poll.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   8,
		PollInterval: 30 * time.Second,
		ProbeTimeout: 5 * time.Second,
	}
}

// WatcherConfig configures a single service watcher.
type WatcherConfig struct {
	// Name identifies the service in logs and status output (e.g., "mqtt").
	Name string

	// Probe checks service health. Must be safe for concurrent use.
	Probe ProbeFunc

	// Backoff controls retry timing. Zero fields take DefaultBackoffConfig values.
	Backoff BackoffConfig

	// Health, when set, is written false before the first probe and
	// then follows every ready/down transition. Optional.
	Health Flag

	// OnReady is called when the service transitions from not-ready to ready.
	// Called in a separate goroutine; must not block indefinitely. Optional.
	OnReady func()

	// OnDown is called when the service transitions from ready to not-ready.
	// Called in a separate goroutine; must not block indefinitely. Optional.
	OnDown func(err error)

	// Logger for structured logging. Uses the manager's logger if nil.
	Logger *slog.Logger
}

// ServiceStatus is the health status of a watched service, suitable for
// JSON serialization in health endpoints.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastReady time.Time `json:"last_ready,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors a single service's health.
type Watcher struct {
	config WatcherConfig
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
	lastReady time.Time
}

// IsReady reports whether the watched service is currently reachable.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// LastError returns the most recent probe error, or nil if healthy.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Status returns the current health status.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := ServiceStatus{
		Name:      w.config.Name,
		Ready:     w.ready.Load(),
		LastCheck: w.lastCheck,
		LastReady: w.lastReady,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Wait blocks until the watcher goroutine exits (context cancelled or Stop called).
func (w *Watcher) Wait() {
	<-w.done
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	w.setHealth(false)
	if !w.startup(ctx) {
		return
	}
	w.poll(ctx)
}

// startup probes with exponential backoff until the service answers or
// MaxRetries is spent. It returns false when ctx ends first.
func (w *Watcher) startup(ctx context.Context) bool {
	b := w.config.Backoff
	log := w.config.Logger.With("service", w.config.Name)

	delay := b.InitialDelay
	for attempt := 1; ; attempt++ {
		err := w.check(ctx)
		if err == nil {
			log.Info("service reachable", "attempts", attempt)
			w.markReady()
			return true
		}
		if attempt >= b.MaxRetries {
			log.Warn("service unreachable at startup, polling in background",
				"attempts", attempt,
				"poll_interval", b.PollInterval.String(),
				"error", err,
			)
			return true
		}

		log.Debug("startup probe failed",
			"attempt", attempt,
			"max_retries", b.MaxRetries,
			"next_delay", delay.String(),
			"error", err,
		)
		if !sleepCtx(ctx, delay) {
			return false
		}
		delay = min(time.Duration(float64(delay)*b.Multiplier), b.MaxDelay)
	}
}

// poll probes every PollInterval and reports transitions until ctx ends.
func (w *Watcher) poll(ctx context.Context) {
	ticker := time.NewTicker(w.config.Backoff.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.check(ctx)
			if ctx.Err() != nil {
				return
			}
			w.transition(err)
		}
	}
}

// transition applies one poll result to the ready state.
func (w *Watcher) transition(err error) {
	log := w.config.Logger.With("service", w.config.Name)
	wasReady := w.ready.Load()

	switch {
	case wasReady && err != nil:
		log.Warn("service became unreachable", "error", err)
		w.markDown(err)
	case !wasReady && err == nil:
		log.Info("service recovered")
		w.markReady()
	case !wasReady:
		log.Debug("service still unreachable", "error", err)
	}
}

// check runs one probe bounded by ProbeTimeout and records the result.
func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.config.Backoff.ProbeTimeout)
	defer cancel()

	err := w.config.Probe(probeCtx)

	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	if err == nil {
		w.lastReady = w.lastCheck
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) markReady() {
	w.ready.Store(true)
	w.setHealth(true)
	if w.config.OnReady != nil {
		go w.config.OnReady()
	}
}

func (w *Watcher) markDown(err error) {
	w.ready.Store(false)
	w.setHealth(false)
	if w.config.OnDown != nil {
		go w.config.OnDown(err)
	}
}

func (w *Watcher) setHealth(ok bool) {
	if w.config.Health != nil {
		w.config.Health.Set(ok)
	}
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Manager coordinates multiple service watchers.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates a connection watch manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		logger:   logger,
	}
}

// Watch registers and starts a new service watcher. The watcher runs in a
// background goroutine until ctx is cancelled or Stop is called.
// Registering a name twice stops the earlier watcher.
//
// Panics if Name is empty or Probe is nil.
func (m *Manager) Watch(ctx context.Context, cfg WatcherConfig) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: WatcherConfig.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: WatcherConfig.Probe must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	cfg.Backoff = withDefaults(cfg.Backoff)

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		config: cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	prev := m.watchers[cfg.Name]
	m.watchers[cfg.Name] = w
	m.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	go w.run(watchCtx)

	return w
}

func withDefaults(b BackoffConfig) BackoffConfig {
	defaults := DefaultBackoffConfig()
	if b.InitialDelay <= 0 {
		b.InitialDelay = defaults.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = defaults.MaxDelay
	}
	if b.Multiplier <= 0 {
		b.Multiplier = defaults.Multiplier
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = defaults.MaxRetries
	}
	if b.PollInterval <= 0 {
		b.PollInterval = defaults.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = defaults.ProbeTimeout
	}
	return b
}

// Watcher returns the watcher registered under name.
func (m *Manager) Watcher(name string) (*Watcher, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.watchers[name]
	return w, ok
}

// Status returns the health status of all watched services.
func (m *Manager) Status() map[string]ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]ServiceStatus, len(m.watchers))
	for name, w := range m.watchers {
		status[name] = w.Status()
	}
	return status
}

// Statuses returns the status of every watched service ordered by name.
func (m *Manager) Statuses() []ServiceStatus {
	status := m.Status()
	out := make([]ServiceStatus, 0, len(status))
	for _, s := range status {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b ServiceStatus) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Healthy reports whether every watched service is ready.
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.watchers {
		if !w.IsReady() {
			return false
		}
	}
	return true
}

// Stop shuts down all watchers and waits for their goroutines to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		w.Stop()
	}
}
