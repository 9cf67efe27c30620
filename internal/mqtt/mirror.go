package mqtt

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nugget/carbridge/internal/discovery"
	"github.com/nugget/carbridge/internal/model"
)

// ErrStarted is returned by [Mirror.Start] on a running mirror.
var ErrStarted = errors.New("mqtt: mirror already started")

// WriteResult describes one inbound write request.
type WriteResult struct {
	Time  time.Time
	Topic string
	Path  string
	// Raw is the payload as received.
	Raw string
	// Value is what the element received after command transforms.
	Value string
	Err   error
}

// WriteRecorder is told about every write the mirror routes.
type WriteRecorder func(ctx context.Context, w WriteResult)

// Mirror keeps the broker in step with the model. Every enabled
// attribute value is published, retained, to <prefix><path>; commands
// and changeable attributes are subscribed on <prefix><path>_writetopic
// and inbound writes are routed back into the model.
type Mirror struct {
	hub       *model.Hub
	transport discovery.Transport
	images    bool
	logger    *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	record   WriteRecorder
	teardown []func()
}

// NewMirror creates a mirror for hub on t. images controls whether
// image attributes are published.
func NewMirror(hub *model.Hub, t discovery.Transport, images bool, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		hub:       hub,
		transport: t,
		images:    images,
		logger:    logger,
		ctx:       context.Background(),
	}
}

// SetRecorder installs fn as the write recorder.
func (m *Mirror) SetRecorder(fn WriteRecorder) {
	m.mu.Lock()
	m.record = fn
	m.mu.Unlock()
}

// Start registers the mirror with the model and the transport and,
// when already connected, publishes the whole model.
func (m *Mirror) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.teardown != nil {
		m.mu.Unlock()
		return ErrStarted
	}
	m.ctx = ctx
	m.teardown = []func(){
		m.hub.Observe(model.EventEnabled|model.EventDisabled|model.EventValueChanged, m.handleEvent),
		m.transport.OnConnect(m.handleConnect),
		m.transport.OnMessage(m.handleMessage),
	}
	m.mu.Unlock()

	if m.transport.IsConnected() {
		m.handleConnect(0)
	}
	return nil
}

// Stop removes the registrations made by Start.
func (m *Mirror) Stop() {
	m.mu.Lock()
	fns := m.teardown
	m.teardown = nil
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (m *Mirror) opContext() (context.Context, context.CancelFunc) {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	return context.WithTimeout(ctx, opTimeout)
}

// handleConnect publishes every enabled value and subscribes every
// write topic.
func (m *Mirror) handleConnect(reasonCode byte) {
	if reasonCode != 0 {
		return
	}
	var values, writes int
	model.Walk(m.hub, func(el model.Element) {
		if !el.Enabled() {
			return
		}
		if m.publishValue(el) {
			values++
		}
		if m.subscribeWrites(el) {
			writes++
		}
	})
	m.logger.Info("model mirrored", "values", values, "write_topics", writes)
}

func (m *Mirror) handleEvent(el model.Element, flags model.EventFlags) {
	if !m.transport.IsConnected() {
		return
	}
	switch {
	case flags.Has(model.EventDisabled):
		m.clearValue(el)
	case flags.Has(model.EventEnabled | model.EventValueChanged):
		if !m.publishValue(el) && flags.Has(model.EventValueChanged) {
			m.clearValue(el)
		}
		if flags.Has(model.EventEnabled) {
			m.subscribeWrites(el)
		}
	}
}

// publishValue publishes the retained value of a payload-carrying
// element. It reports whether anything was sent.
func (m *Mirror) publishValue(el model.Element) bool {
	p, ok := el.(model.Payloader)
	if !ok || !el.Enabled() {
		return false
	}
	if _, isImage := el.(*model.ImageAttribute); isImage && !m.images {
		return false
	}
	payload, ok := p.Payload()
	if !ok {
		return false
	}

	ctx, cancel := m.opContext()
	defer cancel()
	topic := discovery.AbsoluteTopic(m.transport.Prefix(), el)
	return m.transport.Publish(ctx, topic, 1, true, payload) == nil
}

// clearValue drops the retained value of a disabled element.
func (m *Mirror) clearValue(el model.Element) {
	if _, ok := el.(model.Payloader); !ok {
		return
	}
	ctx, cancel := m.opContext()
	defer cancel()
	topic := discovery.AbsoluteTopic(m.transport.Prefix(), el)
	if err := m.transport.Publish(ctx, topic, 1, true, nil); err == nil {
		m.logger.Debug("retained value cleared", "topic", topic)
	}
}

func (m *Mirror) subscribeWrites(el model.Element) bool {
	w, ok := el.(model.Writable)
	if !ok || !w.Changeable() {
		return false
	}
	topic := discovery.WriteTopic(m.transport.Prefix(), el)
	m.transport.AddTopic(topic, false, true, true)

	ctx, cancel := m.opContext()
	defer cancel()
	if err := m.transport.Subscribe(ctx, topic, 1); err != nil {
		m.logger.Warn("write topic subscribe failed", "topic", topic, "error", err)
		return false
	}
	return true
}

// handleMessage routes <prefix><path>_writetopic messages to the
// element at path.
func (m *Mirror) handleMessage(topic string, payload []byte) {
	prefix := m.transport.Prefix()
	if !strings.HasSuffix(topic, discovery.WriteSuffix) || !strings.HasPrefix(topic, prefix+"/") {
		return
	}
	path := strings.TrimSuffix(strings.TrimPrefix(topic, prefix), discovery.WriteSuffix)

	res := WriteResult{
		Time:  time.Now(),
		Topic: topic,
		Path:  path,
		Raw:   string(payload),
	}

	ctx, cancel := m.opContext()
	defer cancel()

	w, ok := m.hub.Lookup(path).(model.Writable)
	switch {
	case !ok:
		res.Err = errUnknownWriteTarget
	case !w.Enabled():
		res.Err = errDisabledWriteTarget
	default:
		res.Value, res.Err = w.Write(ctx, res.Raw)
	}

	if res.Err != nil {
		m.logger.Warn("write rejected", "path", path, "value", res.Raw, "error", res.Err)
	} else {
		m.logger.Info("write applied", "path", path, "raw", res.Raw, "value", res.Value)
	}

	m.mu.Lock()
	record := m.record
	m.mu.Unlock()
	if record != nil {
		record(ctx, res)
	}
}

var (
	errUnknownWriteTarget  = errors.New("no writable element at path")
	errDisabledWriteTarget = errors.New("element is disabled")
)
