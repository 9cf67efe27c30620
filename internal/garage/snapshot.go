// Package garage feeds the vehicle model from a YAML snapshot file.
//
// A snapshot lists vehicles, the facets they expose, attribute values
// keyed by vehicle-relative path, and the commands they accept.
// Applying a snapshot diffs it against the previous one: new values
// enable attributes, changed values notify observers, and anything the
// previous snapshot set but the new one omits is disabled. [Source.Watch]
// re-applies the file whenever it changes on disk.
package garage

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nugget/carbridge/internal/model"
)

// ErrInvalidSnapshot is returned when a snapshot fails validation.
var ErrInvalidSnapshot = errors.New("invalid garage snapshot")

// Snapshot is the on-disk description of the garage.
type Snapshot struct {
	Vehicles []VehicleSnapshot `yaml:"vehicles"`
}

// VehicleSnapshot describes one vehicle. Paths in Values, Writable,
// Limits and Commands are relative to the vehicle, e.g.
// "charging/settings/target_level".
type VehicleSnapshot struct {
	VIN      string `yaml:"vin"`
	Electric bool   `yaml:"electric"`

	Drives         map[string]model.DriveType `yaml:"drives"`
	Doors          []string                   `yaml:"doors"`
	Windows        []string                   `yaml:"windows"`
	Lights         []string                   `yaml:"lights"`
	WindowHeatings []string                   `yaml:"window_heatings"`

	Values   map[string]any    `yaml:"values"`
	Writable []string          `yaml:"writable"`
	Limits   map[string]Limits `yaml:"limits"`
	Commands []string          `yaml:"commands"`

	// Images maps an image id to a PNG file, relative to the snapshot.
	Images map[string]string `yaml:"images"`
}

// Limits are the optional numeric bounds of a writable attribute.
type Limits struct {
	Minimum   *float64 `yaml:"min"`
	Maximum   *float64 `yaml:"max"`
	Precision *float64 `yaml:"precision"`
}

func (l Limits) model() model.Limits {
	return model.Limits{Minimum: l.Minimum, Maximum: l.Maximum, Precision: l.Precision}
}

// LoadSnapshot reads and validates the snapshot at path.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read garage snapshot: %w", err)
	}
	return ParseSnapshot(data)
}

// ParseSnapshot decodes and validates a YAML snapshot.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse garage snapshot: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Validate checks VINs and drive types.
func (s *Snapshot) Validate() error {
	seen := make(map[string]bool, len(s.Vehicles))
	var errs []error
	for i, v := range s.Vehicles {
		if strings.TrimSpace(v.VIN) == "" {
			errs = append(errs, fmt.Errorf("vehicles[%d]: vin is required", i))
			continue
		}
		if strings.Contains(v.VIN, "/") {
			errs = append(errs, fmt.Errorf("vehicles[%d]: vin %q contains '/'", i, v.VIN))
		}
		if seen[v.VIN] {
			errs = append(errs, fmt.Errorf("vehicles[%d]: duplicate vin %q", i, v.VIN))
		}
		seen[v.VIN] = true
		for id, t := range v.Drives {
			if !t.Valid() {
				errs = append(errs, fmt.Errorf("%s: drive %q has unknown type %q", v.VIN, id, t))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	return nil
}

// rawValue turns a decoded YAML scalar into the string form attribute
// setters parse.
func rawValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
