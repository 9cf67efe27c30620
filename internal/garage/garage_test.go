package garage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nugget/carbridge/internal/model"
)

const testSnapshot = `
vehicles:
  - vin: WVW1234
    electric: true
    drives:
      primary: electric
    doors: [front_left, front_right]
    windows: [front_left]
    lights: [left]
    window_heatings: [rear]
    writable:
      - charging/settings/target_level
      - climatization/settings/target_temperature
    limits:
      charging/settings/target_level: {min: 50, max: 100, precision: 10}
    values:
      name: ID.3
      odometer: 12345.5
      model_year: 2023
      state: parked
      doors/lock_state: locked
      doors/front_left/lock_state: locked
      charging/state: charging
      charging/settings/target_level: 80
      charging/settings/auto_unlock: true
      climatization/state: "off"
      climatization/estimated_date_reached: 2026-10-18T07:30:00Z
    commands:
      - climatization/commands/start-stop
      - charging/commands/start-stop
      - doors/commands/lock-unlock
      - commands/wake-sleep
  - vin: TMB5678
    drives:
      primary: diesel
    values:
      drives/primary/adblue_level: 40
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func newTestSource(t *testing.T, content string) (*Source, *model.Hub) {
	t.Helper()
	file := writeFile(t, t.TempDir(), "garage.yaml", content)
	hub := model.NewHub()
	return New(hub, file, slog.New(slog.NewTextHandler(io.Discard, nil))), hub
}

func TestParseSnapshotValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"valid", "vehicles:\n  - vin: A\n", ""},
		{"empty", "", ""},
		{"missing vin", "vehicles:\n  - electric: true\n", "vin is required"},
		{"duplicate", "vehicles:\n  - vin: A\n  - vin: A\n", "duplicate vin"},
		{"slash", "vehicles:\n  - vin: A/B\n", "contains '/'"},
		{"drive type", "vehicles:\n  - vin: A\n    drives: {primary: steam}\n", "unknown type"},
		{"syntax", "vehicles: [", "parse garage snapshot"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSnapshot([]byte(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ParseSnapshot() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ParseSnapshot() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadAppliesSnapshot(t *testing.T) {
	src, hub := newTestSource(t, testSnapshot)
	if err := src.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	v, ok := hub.Garage().Vehicle("WVW1234")
	if !ok {
		t.Fatal("vehicle WVW1234 not created")
	}
	if !v.IsElectric() {
		t.Error("vehicle not electric")
	}
	if got, _ := v.Odometer.Value(); got != 12345.5 {
		t.Errorf("odometer = %v, want 12345.5", got)
	}
	if got, _ := v.ModelYear.Value(); got != 2023 {
		t.Errorf("model_year = %v, want 2023", got)
	}
	if got, _ := v.Name.Value(); got != "ID.3" {
		t.Errorf("name = %q", got)
	}
	if got, _ := v.Climatization.State.Value(); got != model.ClimatizationStateOff {
		t.Errorf("climatization state = %q, want off", got)
	}
	want := time.Date(2026, 10, 18, 7, 30, 0, 0, time.UTC)
	if got, _ := v.Climatization.EstimatedDateReached.Value(); !got.Equal(want) {
		t.Errorf("estimated_date_reached = %v, want %v", got, want)
	}
	if got, _ := v.ChargingSystem().Settings.AutoUnlock.Value(); !got {
		t.Error("auto_unlock = false, want true")
	}

	level := v.ChargingSystem().Settings.TargetLevel
	if !level.Changeable() {
		t.Error("target_level not writable")
	}
	if maxLevel, ok := level.Maximum(); !ok || maxLevel != 100 {
		t.Errorf("target_level maximum = %v (%v), want 100", maxLevel, ok)
	}
	if v.Odometer.Changeable() {
		t.Error("odometer writable without being listed")
	}

	if len(v.Doors.List()) != 2 || len(v.Lights.List()) != 1 {
		t.Errorf("doors = %d, lights = %d", len(v.Doors.List()), len(v.Lights.List()))
	}
	if !v.Climatization.Commands.Has(model.CommandStartStop) || !v.Commands.Has(model.CommandWakeSleep) {
		t.Error("commands not registered")
	}

	diesel, ok := hub.Garage().Vehicle("TMB5678")
	if !ok {
		t.Fatal("vehicle TMB5678 not created")
	}
	drive, ok := diesel.Drives.Drive("primary")
	if !ok || drive.AdBlueLevel == nil {
		t.Fatal("diesel drive without adblue")
	}
	if got, _ := drive.AdBlueLevel.Value(); got != 40 {
		t.Errorf("adblue_level = %v, want 40", got)
	}

	conn := src.Connector()
	if h, _ := conn.Healthy.Value(); !h {
		t.Error("connector not healthy after a clean load")
	}
	if got := conn.Path(); got != "/connectors/garage" {
		t.Errorf("connector path = %q", got)
	}
}

func TestApplyDiffs(t *testing.T) {
	src, hub := newTestSource(t, testSnapshot)
	ctx := context.Background()
	if err := src.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	v, _ := hub.Garage().Vehicle("WVW1234")

	var events []string
	hub.Observe(model.EventEnabled|model.EventDisabled|model.EventValueChanged, func(el model.Element, f model.EventFlags) {
		events = append(events, el.Path()+" "+f.String())
	})

	next, err := ParseSnapshot([]byte(`
vehicles:
  - vin: WVW1234
    electric: true
    values:
      odometer: 12400
      state: parked
    commands:
      - charging/commands/start-stop
`))
	if err != nil {
		t.Fatal(err)
	}
	if err := src.Apply(ctx, next); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if got, _ := v.Odometer.Value(); got != 12400 {
		t.Errorf("odometer = %v, want 12400", got)
	}
	if v.Name.Enabled() {
		t.Error("name still enabled after it left the snapshot")
	}
	if v.Climatization.Commands.Has(model.CommandStartStop) {
		t.Error("climatization start-stop still registered")
	}
	if !v.ChargingSystem().Commands.Has(model.CommandStartStop) {
		t.Error("charging start-stop dropped")
	}
	if _, ok := hub.Garage().Vehicle("TMB5678"); ok {
		t.Error("TMB5678 not removed")
	}

	joined := strings.Join(events, "\n")
	for _, want := range []string{
		"/garage/WVW1234/odometer value_changed",
		"/garage/WVW1234/name disabled",
		"/garage/TMB5678 disabled",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing event %q in:\n%s", want, joined)
		}
	}
	if strings.Contains(joined, "/garage/WVW1234/state ") {
		t.Errorf("unchanged state notified:\n%s", joined)
	}
}

func TestApplyReportsBadEntries(t *testing.T) {
	src, hub := newTestSource(t, `
vehicles:
  - vin: WVW1234
    values:
      odometer: 10
      state: flying
      nosuch/attr: 1
      doors: open
    commands:
      - nowhere/start-stop
`)
	err := src.Load(context.Background())
	if err == nil {
		t.Fatal("Load() error = nil, want joined errors")
	}
	for _, want := range []string{"not a valid vehicle_state", "no such element", "does not accept values"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
	if !errors.Is(err, errUnknownPath) || !errors.Is(err, errNotSettable) {
		t.Errorf("error does not wrap the lookup sentinels: %v", err)
	}

	v, _ := hub.Garage().Vehicle("WVW1234")
	if got, _ := v.Odometer.Value(); got != 10 {
		t.Errorf("good value not applied alongside bad ones: odometer = %v", got)
	}
	if h, _ := src.Connector().Healthy.Value(); h {
		t.Error("connector healthy after a load with errors")
	}
}

func TestLoadUnparseableKeepsModel(t *testing.T) {
	src, hub := newTestSource(t, testSnapshot)
	ctx := context.Background()
	if err := src.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if err := os.WriteFile(src.File(), []byte("vehicles: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := src.Load(ctx); err == nil {
		t.Fatal("Load() error = nil for an unparseable snapshot")
	}

	v, ok := hub.Garage().Vehicle("WVW1234")
	if !ok {
		t.Fatal("vehicle removed by a failed load")
	}
	if got, _ := v.Odometer.Value(); got != 12345.5 {
		t.Errorf("odometer = %v, want 12345.5", got)
	}
	if _, ok := hub.Garage().Vehicle("TMB5678"); !ok {
		t.Error("second vehicle removed by a failed load")
	}
	if h, _ := src.Connector().Healthy.Value(); h {
		t.Error("connector healthy after a failed load")
	}
}

func TestLoadMissingFile(t *testing.T) {
	hub := model.NewHub()
	src := New(hub, filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err := src.Load(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() error = %v, want not exist", err)
	}
	if got, _ := src.Connector().ConnectionState.Value(); got != model.ConnectionError {
		t.Errorf("connection_state = %q, want error", got)
	}
}

func TestImages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "car.png", "\x89PNG fake")
	file := writeFile(t, dir, "garage.yaml", "vehicles:\n  - vin: A\n    images:\n      car: car.png\n")

	hub := model.NewHub()
	src := New(hub, file, nil)
	if err := src.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	v, _ := hub.Garage().Vehicle("A")
	if data, ok := v.Images.Image("car").Value(); !ok || string(data) != "\x89PNG fake" {
		t.Errorf("image = %q (%v)", data, ok)
	}
}

func TestCommandEffects(t *testing.T) {
	src, hub := newTestSource(t, testSnapshot)
	ctx := context.Background()
	if err := src.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	v, _ := hub.Garage().Vehicle("WVW1234")
	clim, _ := v.Climatization.Commands.Get(model.CommandStartStop)
	charge, _ := v.ChargingSystem().Commands.Get(model.CommandStartStop)
	lock, _ := v.Doors.Commands.Get(model.CommandLockUnlock)
	wake, _ := v.Commands.Get(model.CommandWakeSleep)

	tests := []struct {
		name  string
		cmd   *model.Command
		value string
		attr  *model.EnumAttribute
		want  string
	}{
		{"climate start", clim, "start", v.Climatization.State, model.ClimatizationStateHeating},
		{"climate stop", clim, "Stop", v.Climatization.State, model.ClimatizationStateOff},
		{"charge stop", charge, "stop", v.ChargingSystem().State, model.ChargingStateReadyForCharging},
		{"unlock", lock, "unlock", v.Doors.LockState, model.LockStateUnlocked},
		{"unlock door", lock, "unlock", v.Doors.Door("front_left").LockState, model.LockStateUnlocked},
		{"sleep", wake, "sleep", v.ConnectionState, model.ConnectionOffline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cmd.Invoke(ctx, tt.value); err != nil {
				t.Fatalf("Invoke(%q) error = %v", tt.value, err)
			}
			if got, _ := tt.attr.Value(); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.attr.Path(), got, tt.want)
			}
		})
	}

	if err := clim.Invoke(ctx, "explode"); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("Invoke(explode) error = %v, want ErrUnsupportedValue", err)
	}
	if v.Doors.Door("front_right").LockState.Enabled() {
		t.Error("lock-unlock enabled a door lock the snapshot never reported")
	}
}

func TestWatchReloads(t *testing.T) {
	src, hub := newTestSource(t, "vehicles:\n  - vin: A\n    values: {odometer: 1}\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := src.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- src.Watch(ctx) }()

	v, _ := hub.Garage().Vehicle("A")
	deadline := time.Now().Add(5 * time.Second)
	for {
		// Rewrite until the watcher is up and picks the change.
		writeFile(t, filepath.Dir(src.File()), "garage.yaml", "vehicles:\n  - vin: A\n    values: {odometer: 2}\n")
		time.Sleep(2 * reloadDelay)
		if got, _ := v.Odometer.Value(); got == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("snapshot change not picked up")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
