package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nugget/carbridge/internal/model"
)

// ErrNoTransport is returned by [NewRouter] without a transport.
var ErrNoTransport = errors.New("discovery: no transport")

// ErrStarted is returned by [Router.Start] on a running router.
var ErrStarted = errors.New("discovery: router already started")

// publishTimeout bounds each discovery or derived-state publish.
const publishTimeout = 10 * time.Second

// State is the router's view of the transport connection.
type State int

// Router states.
const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Config controls what the router publishes.
type Config struct {
	// HAPrefix is the discovery topic root (default "homeassistant").
	HAPrefix string
	// Discovery enables discovery documents and the status
	// subscription. Derived topics are published either way.
	Discovery bool
	// RediscoverOnValueChange re-renders documents on every value
	// change instead of only on enable and disable.
	RediscoverOnValueChange bool
	// Images advertises vehicle images (PNG transport format only).
	Images bool
}

// Publication records the last document published for a device.
type Publication struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	Hash        string    `json:"hash"`
	PublishedAt time.Time `json:"published_at"`
	Forced      bool      `json:"forced"`
	Size        int       `json:"size"`
	Components  int       `json:"components"`
	Payload     []byte    `json:"-"`
}

// Router keeps Home Assistant in sync with the model. It reacts to
// model notifications and transport callbacks; every entry point is
// serialized by one mutex, so it is safe to call from any goroutine.
type Router struct {
	cfg       Config
	model     Model
	transport Transport
	asm       Assembler
	derived   *Derived
	logger    *slog.Logger

	mu        sync.Mutex
	ctx       context.Context
	state     State
	cache     *Cache
	published map[string]Publication
	teardown  []func()
}

// NewRouter creates a router. Call [Router.Start] to attach it.
func NewRouter(m Model, t Transport, cfg Config, logger *slog.Logger) (*Router, error) {
	if t == nil {
		return nil, ErrNoTransport
	}
	if m == nil {
		return nil, errors.New("discovery: no model")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HAPrefix == "" {
		cfg.HAPrefix = "homeassistant"
	}

	return &Router{
		cfg:       cfg,
		model:     m,
		transport: t,
		asm: Assembler{
			HAPrefix:          cfg.HAPrefix,
			Prefix:            t.Prefix(),
			AvailabilityTopic: t.AvailabilityTopic(),
			Images:            cfg.Images,
		},
		derived:   NewDerived(t, logger),
		logger:    logger,
		ctx:       context.Background(),
		cache:     NewCache(),
		published: make(map[string]Publication),
	}, nil
}

// Start registers the router with the model and the transport. If the
// transport is already connected the connect path runs immediately.
// ctx bounds every publish the router makes until [Router.Stop].
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.teardown != nil {
		r.mu.Unlock()
		return ErrStarted
	}
	r.ctx = ctx
	r.teardown = []func(){
		r.model.Observe(model.EventEnabled|model.EventDisabled|model.EventValueChanged, r.HandleEvent),
		r.transport.OnMessage(r.HandleMessage),
		r.transport.OnConnect(r.HandleConnect),
		r.transport.OnDisconnect(r.HandleDisconnect),
	}
	r.mu.Unlock()

	r.logger.Info("discovery router started",
		"ha_prefix", r.cfg.HAPrefix,
		"discovery", r.cfg.Discovery,
		"rediscover_on_value_change", r.cfg.RediscoverOnValueChange,
	)

	if r.transport.IsConnected() {
		r.HandleConnect(0)
	}
	return nil
}

// Stop removes every registration made by Start, in reverse order.
// It is safe to call more than once.
func (r *Router) Stop() {
	r.mu.Lock()
	fns := r.teardown
	r.teardown = nil
	r.state = Disconnected
	r.mu.Unlock()

	for _, fn := range slices.Backward(fns) {
		fn()
	}
	if fns != nil {
		r.logger.Info("discovery router stopped")
	}
}

// State returns the current connection state.
func (r *Router) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// HandleConnect is the transport connect callback. Reason code 0 is a
// successful connect: the router subscribes to the Home Assistant
// status topic, force-publishes every document, and replays derived
// state for every vehicle.
func (r *Router) HandleConnect(reasonCode byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reasonCode != 0 {
		r.logger.Warn("transport connect rejected", "reason_code", reasonCode)
		return
	}
	r.state = Connected
	r.logger.Info("transport connected, resyncing discovery")

	if r.cfg.Discovery {
		ctx, cancel := context.WithTimeout(r.ctx, publishTimeout)
		topic := StatusTopic(r.cfg.HAPrefix)
		if err := r.transport.Subscribe(ctx, topic, 1); err != nil {
			r.logger.Warn("status topic subscribe failed", "topic", topic, "error", err)
		}
		cancel()
		r.logErr("forced discovery resync failed", r.resyncLocked(true))
	}

	for _, v := range r.model.Vehicles() {
		if !v.Enabled() {
			continue
		}
		ctx, cancel := context.WithTimeout(r.ctx, publishTimeout)
		r.logErr("derived state replay failed", r.derived.Replay(ctx, v), "vehicle", v.ID())
		cancel()
	}
}

// HandleDisconnect is the transport disconnect callback. Cached hashes
// survive; the next connect republishes everything anyway.
func (r *Router) HandleDisconnect(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Disconnected {
		return
	}
	r.state = Disconnected
	r.logger.Info("transport disconnected, discovery paused", "error", err)
}

// HandleMessage is the transport message callback. An "online" birth
// message from Home Assistant forces a full resync.
func (r *Router) HandleMessage(topic string, payload []byte) {
	if topic != StatusTopic(r.cfg.HAPrefix) {
		return
	}
	if !r.cfg.Discovery || !strings.EqualFold(strings.TrimSpace(string(payload)), "online") {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.Info("home assistant online, resyncing discovery")
	r.logErr("forced discovery resync failed", r.resyncLocked(true))
}

// HandleEvent is the model observer. Enable and disable re-render
// every document; value changes feed the derived topics and, when
// configured, re-render too.
func (r *Router) HandleEvent(el model.Element, flags model.EventFlags) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rediscover := flags.Has(model.EventEnabled | model.EventDisabled)
	if r.cfg.RediscoverOnValueChange && flags.Has(model.EventValueChanged) {
		rediscover = true
	}
	if rediscover {
		r.logErr("discovery resync failed", r.resyncLocked(false), "trigger", el.Path())
	}

	if flags.Has(model.EventEnabled|model.EventValueChanged) && r.state == Connected {
		ctx, cancel := context.WithTimeout(r.ctx, publishTimeout)
		r.logErr("derived state publish failed", r.derived.Dispatch(ctx, el), "trigger", el.Path())
		cancel()
	}
}

// Resync renders every document and publishes those that changed, or
// all of them when force is set.
func (r *Router) Resync(force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resyncLocked(force)
}

func (r *Router) resyncLocked(force bool) error {
	if !r.cfg.Discovery {
		return nil
	}
	if r.state != Connected {
		r.logger.Debug("discovery resync skipped, transport disconnected")
		return nil
	}

	var errs []error
	for _, v := range r.model.Vehicles() {
		if !v.Enabled() {
			continue
		}
		doc, err := r.asm.Vehicle(v)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		errs = append(errs, r.publishLocked(doc, force))
	}
	errs = append(errs, r.publishLocked(r.asm.System(r.model.Connectors(), r.model.Plugins()), force))
	return errors.Join(errs...)
}

func (r *Router) publishLocked(doc *Document, force bool) error {
	payload, err := doc.Marshal()
	if err != nil {
		return err
	}
	ok, hash := r.cache.ShouldPublish(doc.ID, payload, force)
	if !ok {
		r.logger.Debug("discovery unchanged, skipped", "device", doc.ID)
		return nil
	}

	ctx, cancel := context.WithTimeout(r.ctx, publishTimeout)
	defer cancel()
	if err := r.transport.Publish(ctx, doc.Topic, 1, false, payload); err != nil {
		return fmt.Errorf("publish discovery for %s: %w", doc.ID, err)
	}
	r.cache.Record(doc.ID, hash)

	r.published[doc.ID] = Publication{
		ID:          doc.ID,
		Topic:       doc.Topic,
		Hash:        hash,
		PublishedAt: time.Now(),
		Forced:      force,
		Size:        len(payload),
		Components:  len(doc.Components),
		Payload:     payload,
	}
	r.logger.Debug("discovery published",
		"device", doc.ID,
		"topic", doc.Topic,
		"components", len(doc.Components),
		"forced", force,
	)
	return nil
}

// Publications returns the last publication per device, sorted by id.
func (r *Router) Publications() []Publication {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Publication, 0, len(r.published))
	for _, p := range r.published {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Publication) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Publication returns the last publication for one device.
func (r *Router) Publication(id string) (Publication, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.published[id]
	return p, ok
}

func (r *Router) logErr(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	r.logger.Error(msg, append(args, "error", err)...)
}
