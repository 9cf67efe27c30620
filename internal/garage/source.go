package garage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sync"

	"github.com/nugget/carbridge/internal/config"
	"github.com/nugget/carbridge/internal/model"
)

// ConnectorID is the id the source registers under in the connector
// registry.
const ConnectorID = "garage"

var (
	errUnknownPath  = errors.New("no such element")
	errNotSettable  = errors.New("element does not accept values")
	errNotCommands  = errors.New("not a command registry")
	errNotWriteable = errors.New("element cannot be made writable")
)

// setter is implemented by every value attribute in the model.
type setter interface {
	model.Element
	SetString(raw string) error
}

// tunable is implemented by attributes that accept writes and limits.
type tunable interface {
	SetChangeable(bool)
	SetLimits(model.Limits)
}

type disabler interface {
	Disable()
}

// Source applies garage snapshots to a model hub.
type Source struct {
	hub       *model.Hub
	file      string
	logger    *slog.Logger
	connector *model.Component

	mu       sync.Mutex
	vehicles map[string]bool
	values   map[string]bool
	commands map[string]bool
	images   map[string]bool
}

// New creates a source for the snapshot at file. The source registers
// itself as the "garage" connector.
func New(hub *model.Hub, file string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		hub:       hub,
		file:      file,
		logger:    logger,
		connector: hub.ConnectorRegistry().Ensure(ConnectorID, "Garage snapshot"),
		vehicles:  make(map[string]bool),
		values:    make(map[string]bool),
		commands:  make(map[string]bool),
		images:    make(map[string]bool),
	}
}

// File returns the snapshot path.
func (s *Source) File() string { return s.file }

// Connector returns the source's connector component.
func (s *Source) Connector() *model.Component { return s.connector }

// Load reads the snapshot file and applies it. The connector's healthy
// flag reports whether the last load succeeded. A file that cannot be
// read or parsed leaves the model as it was; per-entry errors from
// [Source.Apply] are returned after the valid entries have been applied.
func (s *Source) Load(ctx context.Context) error {
	snap, err := LoadSnapshot(s.file)
	if err == nil {
		err = s.Apply(ctx, snap)
	}
	if err != nil {
		s.connector.Healthy.Set(false)
		s.connector.ConnectionState.Set(model.ConnectionError)
		return err
	}
	s.connector.Healthy.Set(true)
	s.connector.ConnectionState.Set(model.ConnectionConnected)
	return nil
}

// Apply brings the model in line with snap. Individual bad entries are
// logged and reported in the joined error without stopping the rest of
// the snapshot.
func (s *Source) Apply(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vehicles := make(map[string]bool)
	values := make(map[string]bool)
	commands := make(map[string]bool)
	images := make(map[string]bool)

	var errs []error
	for _, vs := range snap.Vehicles {
		v := s.hub.Garage().AddVehicle(vs.VIN, vs.Electric)
		vehicles[vs.VIN] = true

		s.applyStructure(v, vs)
		errs = append(errs, s.applyTuning(v, vs)...)
		errs = append(errs, s.applyValues(v, vs, values)...)
		errs = append(errs, s.applyCommands(v, vs, commands)...)
		errs = append(errs, s.applyImages(v, vs, images)...)
	}

	s.retire(s.values, values, s.disable)
	s.retire(s.images, images, s.disable)
	s.retire(s.commands, commands, s.removeCommand)
	s.retire(s.vehicles, vehicles, s.hub.Garage().RemoveVehicle)

	s.vehicles, s.values, s.commands, s.images = vehicles, values, commands, images

	s.logger.Log(ctx, config.LevelTrace, "garage snapshot applied",
		"vehicles", len(vehicles),
		"values", len(values),
		"commands", len(commands),
	)
	return errors.Join(errs...)
}

func (s *Source) applyStructure(v *model.Vehicle, vs VehicleSnapshot) {
	ids := make([]string, 0, len(vs.Drives))
	for id := range vs.Drives {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		v.Drives.Ensure(id, vs.Drives[id])
	}
	for _, id := range vs.Doors {
		v.Doors.Door(id)
	}
	for _, id := range vs.Windows {
		v.Windows.Window(id)
	}
	for _, id := range vs.Lights {
		v.Lights.Light(id)
	}
	for _, id := range vs.WindowHeatings {
		v.WindowHeatings.Window(id)
	}
}

// applyTuning runs before values so that an attribute is already
// writable when it first becomes enabled.
func (s *Source) applyTuning(v *model.Vehicle, vs VehicleSnapshot) []error {
	var errs []error
	for _, rel := range vs.Writable {
		t, err := lookup[tunable](s.hub, v, rel, errNotWriteable)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		t.SetChangeable(true)
	}
	for rel, l := range vs.Limits {
		t, err := lookup[tunable](s.hub, v, rel, errNotWriteable)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		t.SetLimits(l.model())
	}
	return errs
}

func (s *Source) applyValues(v *model.Vehicle, vs VehicleSnapshot, seen map[string]bool) []error {
	rels := make([]string, 0, len(vs.Values))
	for rel := range vs.Values {
		rels = append(rels, rel)
	}
	slices.Sort(rels)

	var errs []error
	for _, rel := range rels {
		a, err := lookup[setter](s.hub, v, rel, errNotSettable)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := a.SetString(rawValue(vs.Values[rel])); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", vs.VIN, err))
			continue
		}
		seen[a.Path()] = true
	}
	return errs
}

func (s *Source) applyCommands(v *model.Vehicle, vs VehicleSnapshot, seen map[string]bool) []error {
	var errs []error
	for _, rel := range vs.Commands {
		dir, id := path.Split(rel)
		reg, err := lookup[*model.Commands](s.hub, v, path.Clean(dir), errNotCommands)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cmd := reg.Add(id)
		cmd.SetHandler(s.handle)
		seen[cmd.Path()] = true
	}
	return errs
}

func (s *Source) applyImages(v *model.Vehicle, vs VehicleSnapshot, seen map[string]bool) []error {
	var errs []error
	for id, file := range vs.Images {
		if !filepath.IsAbs(file) {
			file = filepath.Join(filepath.Dir(s.file), file)
		}
		data, err := os.ReadFile(file)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: image %s: %w", vs.VIN, id, err))
			continue
		}
		img := v.Images.Image(id)
		img.Set(data)
		seen[img.Path()] = true
	}
	return errs
}

// retire calls drop for every key in prev missing from next.
func (s *Source) retire(prev, next map[string]bool, drop func(string)) {
	gone := make([]string, 0)
	for key := range prev {
		if !next[key] {
			gone = append(gone, key)
		}
	}
	slices.Sort(gone)
	for _, key := range gone {
		s.logger.Debug("garage entry removed", "key", key)
		drop(key)
	}
}

func (s *Source) disable(p string) {
	if d, ok := s.hub.Lookup(p).(disabler); ok {
		d.Disable()
	}
}

func (s *Source) removeCommand(p string) {
	if cmd, ok := s.hub.Lookup(p).(*model.Command); ok {
		cmd.Disable()
	}
}

// lookup resolves a vehicle-relative path to an element of type T.
func lookup[T any](hub *model.Hub, v *model.Vehicle, rel string, mismatch error) (T, error) {
	var zero T
	full := v.Path() + "/" + rel
	el := hub.Lookup(full)
	if el == nil {
		return zero, fmt.Errorf("%s: %w", full, errUnknownPath)
	}
	t, ok := el.(T)
	if !ok {
		return zero, fmt.Errorf("%s: %w", full, mismatch)
	}
	return t, nil
}
