package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/nugget/carbridge/internal/config"
	"github.com/nugget/carbridge/internal/model"
)

type publishRecord struct {
	topic   string
	qos     byte
	retain  bool
	payload string
}

// fakeTransport records everything the router does to it.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	failWith  error
	pubs      []publishRecord
	subs      []string
	topics    map[string]bool

	seq       int
	onMessage map[int]func(string, []byte)
	onConnect map[int]func(byte)
	onDisc    map[int]func(error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		topics:    make(map[string]bool),
		onMessage: make(map[int]func(string, []byte)),
		onConnect: make(map[int]func(byte)),
		onDisc:    make(map[int]func(error)),
	}
}

func (f *fakeTransport) Prefix() string            { return testPrefix }
func (f *fakeTransport) AvailabilityTopic() string { return testAvail }

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Publish(_ context.Context, topic string, qos byte, retain bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.pubs = append(f.pubs, publishRecord{topic: topic, qos: qos, retain: retain, payload: string(payload)})
	return nil
}

func (f *fakeTransport) Subscribe(_ context.Context, topic string, _ byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, topic)
	return nil
}

func (f *fakeTransport) AddTopic(topic string, _, _, _ bool) {
	f.mu.Lock()
	f.topics[topic] = true
	f.mu.Unlock()
}

func (f *fakeTransport) OnMessage(fn func(string, []byte)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := f.seq
	f.onMessage[id] = fn
	return func() { f.mu.Lock(); delete(f.onMessage, id); f.mu.Unlock() }
}

func (f *fakeTransport) OnConnect(fn func(byte)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := f.seq
	f.onConnect[id] = fn
	return func() { f.mu.Lock(); delete(f.onConnect, id); f.mu.Unlock() }
}

func (f *fakeTransport) OnDisconnect(fn func(error)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := f.seq
	f.onDisc[id] = fn
	return func() { f.mu.Lock(); delete(f.onDisc, id); f.mu.Unlock() }
}

func (f *fakeTransport) connect() {
	f.mu.Lock()
	f.connected = true
	var fns []func(byte)
	for _, fn := range f.onConnect {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(0)
	}
}

func (f *fakeTransport) disconnect() {
	f.mu.Lock()
	f.connected = false
	var fns []func(error)
	for _, fn := range f.onDisc {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(errors.New("connection lost"))
	}
}

func (f *fakeTransport) deliver(topic, payload string) {
	f.mu.Lock()
	var fns []func(string, []byte)
	for _, fn := range f.onMessage {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(topic, []byte(payload))
	}
}

// publishesTo returns the publishes to topic since the last reset.
func (f *fakeTransport) publishesTo(topic string) []publishRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishRecord
	for _, p := range f.pubs {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.pubs = nil
	f.subs = nil
	f.mu.Unlock()
}

func (f *fakeTransport) callbackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.onMessage) + len(f.onConnect) + len(f.onDisc)
}

const (
	vehicleTopic = "homeassistant/device/WVW1234/config"
	systemTopic  = "homeassistant/device/carbridge-carconnectivity-0/config"
)

func newTestRouter(t *testing.T, cfg Config) (*Router, *model.Hub, *fakeTransport, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	hub := model.NewHub()
	ft := newFakeTransport()
	r, err := NewRouter(hub, ft, cfg, logger)
	if err != nil {
		t.Fatalf("NewRouter() error: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(r.Stop)
	return r, hub, ft, &buf
}

func TestNewRouterRequiresTransport(t *testing.T) {
	if _, err := NewRouter(model.NewHub(), nil, Config{}, nil); !errors.Is(err, ErrNoTransport) {
		t.Errorf("err = %v, want ErrNoTransport", err)
	}
}

func TestRouterStartStop(t *testing.T) {
	r, hub, ft, _ := newTestRouter(t, Config{Discovery: true})

	if err := r.Start(context.Background()); !errors.Is(err, ErrStarted) {
		t.Errorf("second Start() = %v, want ErrStarted", err)
	}
	if hub.ObserverCount() != 1 || ft.callbackCount() != 3 {
		t.Fatalf("observers = %d, callbacks = %d", hub.ObserverCount(), ft.callbackCount())
	}

	r.Stop()
	r.Stop()
	if hub.ObserverCount() != 0 || ft.callbackCount() != 0 {
		t.Errorf("after Stop observers = %d, callbacks = %d", hub.ObserverCount(), ft.callbackCount())
	}
}

func TestRouterConnectPublishesEverything(t *testing.T) {
	r, hub, ft, _ := newTestRouter(t, Config{Discovery: true})

	v := hub.Garage().AddVehicle(testVIN, false)
	v.Odometer.Set(12345)
	if got := len(ft.pubs); got != 0 {
		t.Fatalf("%d publishes while disconnected", got)
	}

	ft.connect()

	if r.State() != Connected {
		t.Errorf("State() = %v", r.State())
	}
	if len(ft.subs) != 1 || ft.subs[0] != "homeassistant/status" {
		t.Errorf("subscriptions = %v", ft.subs)
	}
	pubs := ft.publishesTo(vehicleTopic)
	if len(pubs) != 1 {
		t.Fatalf("vehicle document published %d times, want 1", len(pubs))
	}
	if pubs[0].qos != 1 || pubs[0].retain {
		t.Errorf("qos/retain = %d/%v, want 1/false", pubs[0].qos, pubs[0].retain)
	}
	if !strings.Contains(pubs[0].payload, `"WVW1234_odometer"`) {
		t.Error("odometer missing from published document")
	}
	if len(ft.publishesTo(systemTopic)) != 1 {
		t.Error("system document not published")
	}

	if got := r.Publications(); len(got) != 2 || got[0].ID != testVIN {
		t.Errorf("Publications() = %+v", got)
	}
}

func TestRouterDedupAndForce(t *testing.T) {
	r, hub, ft, _ := newTestRouter(t, Config{Discovery: true})
	hub.Garage().AddVehicle(testVIN, false).Odometer.Set(1)
	ft.connect()
	ft.reset()

	if err := r.Resync(false); err != nil {
		t.Fatal(err)
	}
	if n := len(ft.pubs); n != 0 {
		t.Errorf("unchanged resync published %d documents", n)
	}

	if err := r.Resync(true); err != nil {
		t.Fatal(err)
	}
	if len(ft.publishesTo(vehicleTopic)) != 1 || len(ft.publishesTo(systemTopic)) != 1 {
		t.Errorf("forced resync publishes = %+v", ft.pubs)
	}
	p, ok := r.Publication(testVIN)
	if !ok || !p.Forced {
		t.Errorf("Publication() = %+v, %v", p, ok)
	}
}

func TestRouterReconnectForcesResync(t *testing.T) {
	_, hub, ft, _ := newTestRouter(t, Config{Discovery: true})
	hub.Garage().AddVehicle(testVIN, false).Odometer.Set(1)
	ft.connect()

	ft.disconnect()
	ft.reset()
	ft.connect()

	if len(ft.subs) != 1 {
		t.Errorf("status topic not resubscribed: %v", ft.subs)
	}
	if len(ft.publishesTo(vehicleTopic)) != 1 {
		t.Error("vehicle document not republished after reconnect")
	}
}

func TestRouterReconnectReplaysDerivedState(t *testing.T) {
	_, hub, ft, _ := newTestRouter(t, Config{Discovery: true})
	v := hub.Garage().AddVehicle(testVIN, true)
	if err := v.ChargingSystem().State.SetString(model.ChargingStateCharging); err != nil {
		t.Fatal(err)
	}
	if err := v.Climatization.State.SetString(model.ClimatizationStateHeating); err != nil {
		t.Fatal(err)
	}
	v.Position.Enable()
	v.Position.Latitude.Set(52.5)
	v.Position.Longitude.Set(13.4)
	ft.connect()

	ft.disconnect()
	ft.reset()
	ft.connect()

	base := testPrefix + "/garage/WVW1234"
	want := map[string]string{
		base + "/charging/binarystate":      BinaryOn,
		base + "/climatization/binarystate": BinaryOn,
		base + "/climatization/hvac_action": HVACActionHeating,
		base + "/climatization/hvac_mode":   HVACModeAuto,
		base + "/position/attributes":       `{"latitude":52.5,"longitude":13.4}`,
	}
	for topic, payload := range want {
		got := ft.publishesTo(topic)
		if len(got) != 1 {
			t.Errorf("%s published %d times after reconnect, want 1", topic, len(got))
			continue
		}
		if got[0].payload != payload {
			t.Errorf("%s = %q, want %q", topic, got[0].payload, payload)
		}
		if got[0].qos != 1 || got[0].retain {
			t.Errorf("%s qos/retain = %d/%v, want 1/false", topic, got[0].qos, got[0].retain)
		}
	}
}

func TestRouterDisableTriggersRediscovery(t *testing.T) {
	_, hub, ft, _ := newTestRouter(t, Config{Discovery: true})
	v := hub.Garage().AddVehicle(testVIN, false)
	v.Odometer.Set(1)
	if err := v.Doors.LockState.SetString(model.LockStateLocked); err != nil {
		t.Fatal(err)
	}
	ft.connect()
	if !strings.Contains(ft.publishesTo(vehicleTopic)[0].payload, `"WVW1234_odometer"`) {
		t.Fatal("odometer missing from initial document")
	}
	ft.reset()

	v.Odometer.Disable()

	pubs := ft.publishesTo(vehicleTopic)
	if len(pubs) != 1 {
		t.Fatalf("disable published %d documents, want 1", len(pubs))
	}
	var doc Document
	if err := json.Unmarshal([]byte(pubs[0].payload), &doc); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc.Components["WVW1234_odometer"]; ok {
		t.Error("disabled odometer still advertised")
	}
	if _, ok := doc.Components["WVW1234_lock_state"]; !ok {
		t.Error("lock state dropped along with the odometer")
	}
	if n := len(ft.publishesTo(systemTopic)); n != 0 {
		t.Errorf("unchanged system document republished %d times", n)
	}
}

func TestRouterDisconnectedPublishesNothing(t *testing.T) {
	r, hub, ft, _ := newTestRouter(t, Config{Discovery: true})
	v := hub.Garage().AddVehicle(testVIN, true)
	v.Odometer.Set(1)
	ft.connect()
	ft.disconnect()
	ft.reset()

	if r.State() != Disconnected {
		t.Fatalf("State() = %v, want disconnected", r.State())
	}

	// enabled
	if err := v.Doors.LockState.SetString(model.LockStateLocked); err != nil {
		t.Fatal(err)
	}
	// value changed
	v.Odometer.Set(2)
	if err := v.ChargingSystem().State.SetString(model.ChargingStateCharging); err != nil {
		t.Fatal(err)
	}
	ft.deliver("homeassistant/status", "online")
	if err := r.Resync(true); err != nil {
		t.Fatal(err)
	}

	if n := len(ft.pubs); n != 0 {
		t.Errorf("%d publishes while disconnected: %+v", n, ft.pubs)
	}
	if r.State() != Disconnected {
		t.Errorf("State() = %v, want disconnected", r.State())
	}
}

func TestRouterRejectedConnect(t *testing.T) {
	t.Run("from disconnected", func(t *testing.T) {
		r, hub, ft, buf := newTestRouter(t, Config{Discovery: true})
		hub.Garage().AddVehicle(testVIN, false).Odometer.Set(1)

		r.HandleConnect(0x87)

		if r.State() != Disconnected {
			t.Errorf("State() = %v, want disconnected", r.State())
		}
		if len(ft.pubs) != 0 || len(ft.subs) != 0 {
			t.Errorf("rejected connect published %+v, subscribed %v", ft.pubs, ft.subs)
		}
		if !strings.Contains(buf.String(), "reason_code=135") {
			t.Errorf("reason code not logged:\n%s", buf.String())
		}
	})

	t.Run("while connected", func(t *testing.T) {
		r, hub, ft, _ := newTestRouter(t, Config{Discovery: true})
		hub.Garage().AddVehicle(testVIN, false).Odometer.Set(1)
		ft.connect()
		ft.reset()

		r.HandleConnect(0x87)

		if r.State() != Connected {
			t.Errorf("State() = %v, want connected", r.State())
		}
		if len(ft.pubs) != 0 || len(ft.subs) != 0 {
			t.Errorf("rejected connect published %+v, subscribed %v", ft.pubs, ft.subs)
		}
	})
}

func TestRouterHomeAssistantStatus(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		want    int
	}{
		{"online", "homeassistant/status", "online", 1},
		{"online mixed case", "homeassistant/status", " Online\n", 1},
		{"offline", "homeassistant/status", "offline", 0},
		{"other topic", "other/status", "online", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, hub, ft, _ := newTestRouter(t, Config{Discovery: true})
			hub.Garage().AddVehicle(testVIN, false).Odometer.Set(1)
			ft.connect()
			ft.reset()

			ft.deliver(tt.topic, tt.payload)
			if got := len(ft.publishesTo(vehicleTopic)); got != tt.want {
				t.Errorf("vehicle publishes = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRouterEnableTriggersRediscovery(t *testing.T) {
	_, hub, ft, _ := newTestRouter(t, Config{Discovery: true})
	v := hub.Garage().AddVehicle(testVIN, false)
	v.Odometer.Set(1)
	ft.connect()
	ft.reset()

	v.Odometer.Set(2)
	if n := len(ft.publishesTo(vehicleTopic)); n != 0 {
		t.Errorf("value change republished %d documents", n)
	}

	if err := v.Doors.LockState.SetString(model.LockStateLocked); err != nil {
		t.Fatal(err)
	}
	pubs := ft.publishesTo(vehicleTopic)
	if len(pubs) != 1 {
		t.Fatalf("enable published %d documents, want 1", len(pubs))
	}
	if !strings.Contains(pubs[0].payload, `"WVW1234_lock_state"`) {
		t.Error("new entity missing from document")
	}
}

func TestRouterRediscoverOnValueChange(t *testing.T) {
	_, hub, ft, buf := newTestRouter(t, Config{Discovery: true, RediscoverOnValueChange: true})
	v := hub.Garage().AddVehicle(testVIN, false)
	v.Odometer.Set(1)
	ft.connect()
	ft.reset()

	v.Odometer.Set(2)
	// Values are not part of the document, so the hash still matches.
	if n := len(ft.publishesTo(vehicleTopic)); n != 0 {
		t.Errorf("unchanged document republished %d times", n)
	}
	if !strings.Contains(buf.String(), "discovery unchanged, skipped") {
		t.Error("resync did not run on value change")
	}
}

func TestRouterPublishFailureRetries(t *testing.T) {
	r, hub, ft, buf := newTestRouter(t, Config{Discovery: true})
	hub.Garage().AddVehicle(testVIN, false).Odometer.Set(1)

	ft.failWith = errors.New("broker gone")
	ft.connect()
	if !strings.Contains(buf.String(), "broker gone") {
		t.Error("publish failure not logged")
	}
	if _, ok := r.Publication(testVIN); ok {
		t.Error("failed publish recorded")
	}
	if _, ok := r.cache.Hash(testVIN); ok {
		t.Error("hash cached for a failed publish")
	}

	ft.failWith = nil
	if err := r.Resync(false); err != nil {
		t.Fatal(err)
	}
	if len(ft.publishesTo(vehicleTopic)) != 1 {
		t.Error("document not retried after failure")
	}
}

func TestRouterDiscoveryDisabled(t *testing.T) {
	_, hub, ft, _ := newTestRouter(t, Config{Discovery: false})
	v := hub.Garage().AddVehicle(testVIN, true)
	if err := v.ChargingSystem().State.SetString(model.ChargingStateCharging); err != nil {
		t.Fatal(err)
	}
	ft.connect()

	if len(ft.subs) != 0 {
		t.Errorf("subscribed with discovery disabled: %v", ft.subs)
	}
	if len(ft.publishesTo(vehicleTopic)) != 0 || len(ft.publishesTo(systemTopic)) != 0 {
		t.Error("discovery published while disabled")
	}
	binary := ft.publishesTo(testPrefix + "/garage/WVW1234/charging/binarystate")
	if len(binary) != 1 || binary[0].payload != BinaryOn {
		t.Errorf("derived charging state = %+v", binary)
	}
}

func TestDerivedTopics(t *testing.T) {
	_, hub, ft, _ := newTestRouter(t, Config{Discovery: true})
	v := hub.Garage().AddVehicle(testVIN, true)
	ft.connect()
	ft.reset()

	base := testPrefix + "/garage/WVW1234"

	t.Run("charging", func(t *testing.T) {
		if err := v.ChargingSystem().State.SetString(model.ChargingStateReadyForCharging); err != nil {
			t.Fatal(err)
		}
		got := ft.publishesTo(base + "/charging/binarystate")
		if len(got) != 1 || got[0].payload != BinaryOff || got[0].retain {
			t.Errorf("binary state = %+v", got)
		}
		if !ft.topics[base+"/charging/binarystate"] {
			t.Error("derived topic not registered with the transport")
		}
	})

	t.Run("climatization", func(t *testing.T) {
		if err := v.Climatization.State.SetString(model.ClimatizationStateVentilation); err != nil {
			t.Fatal(err)
		}
		checks := map[string]string{
			base + "/climatization/binarystate": BinaryOn,
			base + "/climatization/hvac_action": HVACActionFan,
			base + "/climatization/hvac_mode":   HVACModeAuto,
		}
		for topic, want := range checks {
			got := ft.publishesTo(topic)
			if len(got) != 1 || got[0].payload != want {
				t.Errorf("%s = %+v, want %q", topic, got, want)
			}
		}
	})

	t.Run("position", func(t *testing.T) {
		v.Position.Latitude.Set(52.5)
		if n := len(ft.publishesTo(base + "/position/attributes")); n != 0 {
			t.Fatalf("position published with latitude only")
		}
		v.Position.Longitude.Set(13.4)
		got := ft.publishesTo(base + "/position/attributes")
		if len(got) != 1 {
			t.Fatalf("position publishes = %d", len(got))
		}
		var p positionPayload
		if err := json.Unmarshal([]byte(got[0].payload), &p); err != nil {
			t.Fatal(err)
		}
		if p.Latitude != 52.5 || p.Longitude != 13.4 {
			t.Errorf("position = %+v", p)
		}
	})

	t.Run("unmapped state", func(t *testing.T) {
		ft.reset()
		if err := v.ChargingSystem().State.SetString(model.StateUnsupported); err != nil {
			t.Fatal(err)
		}
		if n := len(ft.publishesTo(base + "/charging/binarystate")); n != 0 {
			t.Errorf("unsupported state published %d times", n)
		}
	})
}

func TestTriggerFor(t *testing.T) {
	hub := model.NewHub()
	v := hub.Garage().AddVehicle(testVIN, true)

	tests := []struct {
		name string
		el   model.Element
		want Trigger
	}{
		{"longitude", v.Position.Longitude, TriggerPosition},
		{"latitude", v.Position.Latitude, TriggerNone},
		{"charging state", v.ChargingSystem().State, TriggerCharging},
		{"climatization state", v.Climatization.State, TriggerClimatization},
		{"vehicle state", v.State, TriggerNone},
		{"odometer", v.Odometer, TriggerNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TriggerFor(tt.el); got != tt.want {
				t.Errorf("TriggerFor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDerivedLogsAtTrace(t *testing.T) {
	var buf bytes.Buffer
	ft := newFakeTransport()
	d := NewDerived(ft, config.NewLogger(&buf, config.LevelTrace, "text"))

	hub := model.NewHub()
	v := hub.Garage().AddVehicle(testVIN, true)
	if err := v.ChargingSystem().State.SetString(model.ChargingStateCharging); err != nil {
		t.Fatal(err)
	}
	if err := d.Charging(context.Background(), v.ChargingSystem().State); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if !strings.Contains(out, "level=TRACE") || !strings.Contains(out, "derived state published") {
		t.Errorf("trace log missing:\n%s", out)
	}

	buf.Reset()
	d = NewDerived(ft, config.NewLogger(&buf, slog.LevelDebug, "text"))
	if err := d.Charging(context.Background(), v.ChargingSystem().State); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("publish logged above trace:\n%s", buf.String())
	}
}
