package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/puzpuzpuz/xsync"

	"github.com/nugget/carbridge/internal/config"
	"github.com/nugget/carbridge/internal/discovery"
	"github.com/nugget/carbridge/internal/model"
)

// ErrNotConnected is returned by publish and subscribe calls made
// while the broker connection is down.
var ErrNotConnected = errors.New("mqtt: not connected")

const (
	// queueSize bounds the inbound dispatch queue. Messages arriving
	// while it is full are dropped.
	queueSize = 1024
	// subscribeBatch is the number of filters sent per SUBSCRIBE when
	// restoring subscriptions after a reconnect.
	subscribeBatch = 64
	opTimeout      = 10 * time.Second
)

// Topic is an entry in the client's topic registry.
type Topic struct {
	Name string `json:"name"`
	// Filter marks synthetic topics that do not map to a model path.
	Filter    bool `json:"filter"`
	Subscribe bool `json:"subscribe"`
	Writeable bool `json:"writeable"`
	QoS       byte `json:"qos"`
}

// Client owns the broker connection. It implements
// [discovery.Transport]: the discovery router and the state [Mirror]
// publish through it and receive inbound messages and connection
// events from it.
//
// Paho callbacks never run user code directly. Connection events and
// inbound messages are queued and delivered, in order, by a single
// dispatcher goroutine, so callbacks may publish and wait for the
// acknowledgement without stalling the network reader.
type Client struct {
	cfg      config.MQTTConfig
	clientID string
	plugin   *model.Component
	logger   *slog.Logger

	ctx       context.Context
	cm        atomic.Pointer[autopaho.ConnectionManager]
	connected atomic.Bool
	topics    *xsync.MapOf[string, Topic]
	limiter   *messageRateLimiter
	inbound   MessageHandler
	queue     chan func()

	onMessage    callbacks[func(topic string, payload []byte)]
	onConnect    callbacks[func(reasonCode byte)]
	onDisconnect callbacks[func(err error)]
}

// New creates a Client but does not connect. Call [Client.Start] to
// begin. plugin is the model component that reports the connection
// state; its connection_state topic doubles as the availability topic
// of every discovered entity.
func New(cfg config.MQTTConfig, instanceID string, plugin *model.Component, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "carbridge-" + instanceID
	}
	limit := int64(cfg.MessageRateLimit)
	if limit <= 0 {
		limit = 200
	}

	return &Client{
		cfg:      cfg,
		clientID: clientID,
		plugin:   plugin,
		logger:   logger,
		ctx:      context.Background(),
		topics:   xsync.NewMapOf[Topic](),
		limiter:  newMessageRateLimiter(limit, time.Second, logger),
		inbound:  defaultMessageHandler(logger),
		queue:    make(chan func(), queueSize),
	}
}

// ClientID returns the MQTT client identifier.
func (c *Client) ClientID() string { return c.clientID }

// Prefix returns the topic prefix the model is mirrored under.
func (c *Client) Prefix() string { return c.cfg.Prefix }

// AvailabilityTopic returns the topic carrying "connected" or
// "disconnected" for this client. It is retained, and the broker
// publishes "disconnected" there as the will message.
func (c *Client) AvailabilityTopic() string {
	if c.plugin != nil {
		return c.cfg.Prefix + c.plugin.ConnectionState.Path()
	}
	return c.cfg.Prefix + "/plugins/mqtt/connection_state"
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool { return c.connected.Load() }

// Start connects to the broker and blocks until ctx is cancelled.
// autopaho reconnects in the background; every (re-)connect publishes
// the birth message, restores subscriptions, and fires the OnConnect
// callbacks.
func (c *Client) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(c.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}
	c.ctx = ctx

	go c.dispatch(ctx)
	go c.limiter.start(ctx)

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: c.cfg.Username,
		ConnectPassword: []byte(c.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   c.AvailabilityTopic(),
			Payload: []byte(discovery.PayloadNotAvailable),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: c.onConnectionUp,
		OnConnectError: func(err error) {
			c.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.clientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.onPublishReceived,
			},
			OnClientError: c.onConnectionLost,
			OnServerDisconnect: func(d *paho.Disconnect) {
				c.onConnectionLost(fmt.Errorf("server disconnect, reason code %d", d.ReasonCode))
			},
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.cm.Store(cm)

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		c.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	<-ctx.Done()
	return nil
}

// Stop publishes "disconnected" on the availability topic and closes
// the connection. ctx bounds both steps.
func (c *Client) Stop(ctx context.Context) error {
	cm := c.cm.Load()
	if cm == nil {
		return nil
	}
	c.publishAvailability(ctx, cm, discovery.PayloadNotAvailable)
	c.connected.Store(false)
	return cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is established or
// ctx expires. connwatch uses it as the health probe.
func (c *Client) AwaitConnection(ctx context.Context) error {
	cm := c.cm.Load()
	if cm == nil {
		return fmt.Errorf("mqtt client not started")
	}
	return cm.AwaitConnection(ctx)
}

// Publish sends one message. Failures are logged here and returned.
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error {
	cm := c.cm.Load()
	if cm == nil || !c.connected.Load() {
		return fmt.Errorf("mqtt publish %s: %w", topic, ErrNotConnected)
	}
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	}); err != nil {
		c.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	c.logger.Log(ctx, config.LevelTrace, "mqtt published",
		"topic", topic, "qos", qos, "retain", retain, "payload_size", len(payload))
	return nil
}

// Subscribe registers topic for subscription. The subscription is sent
// now when connected and restored on every reconnect.
func (c *Client) Subscribe(ctx context.Context, topic string, qos byte) error {
	t, _ := c.topics.Load(topic)
	t.Name, t.Subscribe, t.QoS = topic, true, qos
	c.topics.Store(topic, t)
	if !c.connected.Load() {
		return nil
	}
	return c.subscribe(ctx, []paho.SubscribeOptions{{Topic: topic, QoS: qos}})
}

// AddTopic declares a topic in the registry. Repeated calls for the
// same topic are no-ops. A new subscribed topic is subscribed at once
// when connected.
func (c *Client) AddTopic(topic string, filter, subscribe, writeable bool) {
	_, loaded := c.topics.LoadOrStore(topic, Topic{
		Name:      topic,
		Filter:    filter,
		Subscribe: subscribe,
		Writeable: writeable,
		QoS:       1,
	})
	if loaded || !subscribe || !c.connected.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, opTimeout)
	defer cancel()
	if err := c.subscribe(ctx, []paho.SubscribeOptions{{Topic: topic, QoS: 1}}); err != nil {
		c.logger.Warn("mqtt subscribe failed", "topic", topic, "error", err)
	}
}

// Topics returns the registry sorted by name.
func (c *Client) Topics() []Topic {
	out := make([]Topic, 0, c.topics.Size())
	c.topics.Range(func(_ string, t Topic) bool {
		out = append(out, t)
		return true
	})
	slices.SortFunc(out, func(a, b Topic) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// OnMessage registers fn for every inbound message.
func (c *Client) OnMessage(fn func(topic string, payload []byte)) (remove func()) {
	return c.onMessage.add(fn)
}

// OnConnect registers fn for every completed connect.
func (c *Client) OnConnect(fn func(reasonCode byte)) (remove func()) {
	return c.onConnect.add(fn)
}

// OnDisconnect registers fn for every lost connection.
func (c *Client) OnDisconnect(fn func(err error)) (remove func()) {
	return c.onDisconnect.add(fn)
}

func (c *Client) subscribe(ctx context.Context, opts []paho.SubscribeOptions) error {
	cm := c.cm.Load()
	if cm == nil {
		return ErrNotConnected
	}
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: opts}); err != nil {
		return fmt.Errorf("mqtt subscribe: %w", err)
	}
	for _, o := range opts {
		c.logger.Debug("mqtt subscribed", "topic", o.Topic, "qos", o.QoS)
	}
	return nil
}

// resubscribe restores every registered subscription.
func (c *Client) resubscribe(ctx context.Context) {
	var opts []paho.SubscribeOptions
	for _, t := range c.Topics() {
		if t.Subscribe {
			opts = append(opts, paho.SubscribeOptions{Topic: t.Name, QoS: t.QoS})
		}
	}
	for batch := range slices.Chunk(opts, subscribeBatch) {
		if err := c.subscribe(ctx, batch); err != nil {
			c.logger.Warn("mqtt resubscribe failed", "topics", len(batch), "error", err)
		}
	}
}

func (c *Client) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   c.AvailabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		c.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		c.logger.Info("mqtt availability published", "status", status)
	}
}

func (c *Client) setPluginState(state string) {
	if c.plugin == nil {
		return
	}
	if err := c.plugin.ConnectionState.SetString(state); err != nil {
		c.logger.Error("mqtt plugin state update failed", "state", state, "error", err)
	}
}

func (c *Client) onConnectionUp(cm *autopaho.ConnectionManager, connack *paho.Connack) {
	c.enqueue(func() {
		c.connected.Store(true)
		c.logger.Info("mqtt connected to broker", "broker", c.cfg.Broker, "client_id", c.clientID)

		ctx, cancel := context.WithTimeout(c.ctx, opTimeout)
		defer cancel()
		c.publishAvailability(ctx, cm, discovery.PayloadAvailable)
		c.setPluginState(model.ConnectionConnected)
		c.resubscribe(ctx)

		for _, fn := range c.onConnect.list() {
			fn(connack.ReasonCode)
		}
	})
}

// onConnectionLost fires the disconnect callbacks once per lost
// connection, then updates the plugin state so observers already see
// the transport as down.
func (c *Client) onConnectionLost(err error) {
	if !c.connected.Swap(false) {
		return
	}
	c.logger.Warn("mqtt connection lost", "error", err)
	c.enqueue(func() {
		for _, fn := range c.onDisconnect.list() {
			fn(err)
		}
		c.setPluginState(model.ConnectionDisconnected)
	})
}

func (c *Client) onPublishReceived(pr paho.PublishReceived) (bool, error) {
	if pr.Packet == nil {
		return false, nil
	}
	if !c.limiter.allow() {
		return true, nil
	}

	topic := pr.Packet.Topic
	payload := slices.Clone(pr.Packet.Payload)
	c.inbound(topic, payload)

	queued := c.tryEnqueue(func() {
		for _, fn := range c.onMessage.list() {
			fn(topic, payload)
		}
	})
	if !queued {
		c.logger.Warn("mqtt dispatch queue full, message dropped", "topic", topic)
	}
	return true, nil
}

func (c *Client) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-c.queue:
			fn()
		}
	}
}

// enqueue blocks until fn is queued or the client context ends.
func (c *Client) enqueue(fn func()) {
	select {
	case c.queue <- fn:
	case <-c.ctx.Done():
	}
}

func (c *Client) tryEnqueue(fn func()) bool {
	select {
	case c.queue <- fn:
		return true
	default:
		return false
	}
}

// callbacks is a removable, ordered callback list.
type callbacks[F any] struct {
	mu  sync.Mutex
	seq int
	fns []callbackEntry[F]
}

type callbackEntry[F any] struct {
	id int
	fn F
}

func (c *callbacks[F]) add(fn F) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	id := c.seq
	c.fns = append(c.fns, callbackEntry[F]{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.fns = slices.DeleteFunc(c.fns, func(e callbackEntry[F]) bool { return e.id == id })
	}
}

func (c *callbacks[F]) list() []F {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]F, len(c.fns))
	for i, e := range c.fns {
		out[i] = e.fn
	}
	return out
}

func (c *callbacks[F]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fns)
}
