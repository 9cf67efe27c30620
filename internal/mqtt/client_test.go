package mqtt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/carbridge/internal/config"
	"github.com/nugget/carbridge/internal/model"
)

func newTestClient(t *testing.T, cfg config.MQTTConfig) (*Client, *model.Component) {
	t.Helper()
	if cfg.Prefix == "" {
		cfg.Prefix = "carconnectivity/0"
	}
	hub := model.NewHub()
	plugin := hub.PluginRegistry().Ensure("mqtt", "MQTT")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, "0190-test", plugin, logger), plugin
}

// runDispatcher starts the client's dispatcher for the test's lifetime.
func runDispatcher(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c.ctx = ctx
	go c.dispatch(ctx)
}

func TestNewClientIdentity(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
		want     string
	}{
		{"generated", "", "carbridge-0190-test"},
		{"configured", "garage-bridge", "garage-bridge"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, config.MQTTConfig{ClientID: tt.clientID})
			if got := c.ClientID(); got != tt.want {
				t.Errorf("ClientID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAvailabilityTopic(t *testing.T) {
	c, _ := newTestClient(t, config.MQTTConfig{})
	want := "carconnectivity/0/plugins/mqtt/connection_state"
	if got := c.AvailabilityTopic(); got != want {
		t.Errorf("AvailabilityTopic() = %q, want %q", got, want)
	}

	bare := New(config.MQTTConfig{Prefix: "cc"}, "id", nil, nil)
	if got := bare.AvailabilityTopic(); got != "cc/plugins/mqtt/connection_state" {
		t.Errorf("AvailabilityTopic() without plugin = %q", got)
	}
}

func TestPublishWhileDisconnected(t *testing.T) {
	c, _ := newTestClient(t, config.MQTTConfig{})
	err := c.Publish(context.Background(), "a/b", 1, false, []byte("x"))
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true before Start")
	}
}

func TestTopicRegistry(t *testing.T) {
	c, _ := newTestClient(t, config.MQTTConfig{})

	c.AddTopic("p/b/binarystate", true, false, false)
	c.AddTopic("p/b/binarystate", false, true, true)
	if err := c.Subscribe(context.Background(), "homeassistant/status", 1); err != nil {
		t.Fatalf("Subscribe() while disconnected error = %v", err)
	}
	c.AddTopic("p/a_writetopic", false, true, true)

	topics := c.Topics()
	if len(topics) != 3 {
		t.Fatalf("Topics() = %+v, want 3 entries", topics)
	}
	if topics[0].Name != "homeassistant/status" || !topics[0].Subscribe {
		t.Errorf("topics[0] = %+v", topics[0])
	}
	if topics[1].Name != "p/a_writetopic" || !topics[1].Writeable {
		t.Errorf("topics[1] = %+v", topics[1])
	}
	if b := topics[2]; !b.Filter || b.Subscribe {
		t.Errorf("repeated AddTopic changed the entry: %+v", b)
	}
}

func TestCallbacksRemove(t *testing.T) {
	c, _ := newTestClient(t, config.MQTTConfig{})
	r1 := c.OnConnect(func(byte) {})
	r2 := c.OnConnect(func(byte) {})
	if n := c.onConnect.len(); n != 2 {
		t.Fatalf("len = %d, want 2", n)
	}
	r1()
	r1()
	if n := c.onConnect.len(); n != 1 {
		t.Errorf("len after remove = %d, want 1", n)
	}
	r2()
	if n := c.onConnect.len(); n != 0 {
		t.Errorf("len after removing all = %d, want 0", n)
	}
}

func TestInboundDispatch(t *testing.T) {
	c, _ := newTestClient(t, config.MQTTConfig{MessageRateLimit: 2})
	runDispatcher(t, c)

	got := make(chan string, 4)
	c.OnMessage(func(topic string, payload []byte) {
		got <- topic + "=" + string(payload)
	})

	payload := []byte("start")
	for _, topic := range []string{"a", "b", "c"} {
		handled, err := c.onPublishReceived(paho.PublishReceived{
			Packet: &paho.Publish{Topic: topic, Payload: payload},
		})
		if !handled || err != nil {
			t.Fatalf("onPublishReceived() = %v, %v", handled, err)
		}
	}
	payload[0] = 'X'

	for _, want := range []string{"a=start", "b=start"} {
		select {
		case msg := <-got:
			if msg != want {
				t.Errorf("message = %q, want %q", msg, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
	select {
	case msg := <-got:
		t.Errorf("rate-limited message delivered: %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnectionLost(t *testing.T) {
	c, plugin := newTestClient(t, config.MQTTConfig{})
	runDispatcher(t, c)

	calls := make(chan error, 4)
	c.OnDisconnect(func(err error) { calls <- err })

	c.onConnectionLost(errors.New("ignored while down"))
	c.connected.Store(true)
	c.onConnectionLost(errors.New("eof"))
	c.onConnectionLost(errors.New("eof again"))

	select {
	case err := <-calls:
		if err.Error() != "eof" {
			t.Errorf("err = %v, want eof", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback not called")
	}
	select {
	case err := <-calls:
		t.Errorf("disconnect callback called twice: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if v, ok := plugin.ConnectionState.Value(); ok && v == model.ConnectionDisconnected {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("plugin connection_state not set to disconnected")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
