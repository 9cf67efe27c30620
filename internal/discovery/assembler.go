package discovery

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/nugget/carbridge/internal/buildinfo"
	"github.com/nugget/carbridge/internal/model"
)

// ErrMissingVIN is returned when a vehicle without a VIN is rendered.
var ErrMissingVIN = errors.New("vehicle has no VIN")

// Availability payloads published on the transport connection-state
// topic.
const (
	PayloadAvailable    = "connected"
	PayloadNotAvailable = "disconnected"
)

// Assembler renders discovery documents. The zero value is not useful;
// at least HAPrefix, Prefix, and AvailabilityTopic must be set.
type Assembler struct {
	// HAPrefix is the discovery topic root, usually "homeassistant".
	HAPrefix string
	// Prefix is the transport topic prefix the model is mirrored under.
	Prefix string
	// AvailabilityTopic carries "connected"/"disconnected" for the
	// transport.
	AvailabilityTopic string
	// Images enables image entities. Only PNG-encoded images are
	// advertised.
	Images bool
}

// Origin is the origin block stamped on every document.
func (a Assembler) Origin() Origin {
	return Origin{
		Name:     "carbridge",
		Software: buildinfo.Version,
		URL:      buildinfo.ProjectURL,
	}
}

func (a Assembler) availability() []Availability {
	return []Availability{{
		Topic:               a.AvailabilityTopic,
		PayloadNotAvailable: PayloadNotAvailable,
		PayloadAvailable:    PayloadAvailable,
	}}
}

// Vehicle renders the discovery document for v. Facets are rendered in
// a fixed order; the climate target-temperature fields extend the
// climate entity created just before them.
func (a Assembler) Vehicle(v *model.Vehicle) (*Document, error) {
	vin, ok := v.VIN.Value()
	if !ok || vin == "" {
		return nil, fmt.Errorf("%s: %w", v.Path(), ErrMissingVIN)
	}

	doc := &Document{
		ID:     vin,
		Topic:  DeviceTopic(a.HAPrefix, vin),
		Device: vehicleDevice(vin, v),
		Origin: a.Origin(),
	}

	r := &renderer{prefix: a.Prefix, b: NewBuilder(vin), images: a.Images}
	r.vehicleCore(v)
	r.drives(v.Drives)
	r.doors(v.Doors)
	r.windows(v.Windows)
	r.lights(v.Lights)
	r.windowHeatings(v.WindowHeatings)
	r.position(v.Position)
	r.climatization(v.Climatization)
	r.outsideTemperature(v)
	r.maintenance(v.Maintenance)
	r.vehicleImages(v.Images)
	if c := v.ChargingSystem(); c != nil {
		r.charging(c)
	}
	r.deviceTracker(v.Position)

	doc.Components = r.b.Components(a.availability())
	return doc, nil
}

func vehicleDevice(vin string, v *model.Vehicle) Device {
	d := Device{IDs: vin, Serial: vin}
	if s, ok := value(v.Name); ok {
		d.Name = s
	}
	if s, ok := value(v.Manufacturer); ok {
		d.Manufacturer = s
	}
	if s, ok := value(v.Model); ok {
		d.Model = s
	}
	if v.ModelYear.Enabled() {
		if y, ok := v.ModelYear.Value(); ok {
			d.Hardware = strconv.Itoa(y)
		}
	}
	if v.Software.Enabled() {
		if s, ok := value(v.Software.Version); ok {
			d.Software = s
		}
	}
	return d
}

// SystemID returns the dedup key of the system document.
func (a Assembler) SystemID() string {
	return SystemID(a.Prefix)
}

// System renders the document describing the bridge itself with one
// health and one connection-state entity per connector and plugin.
func (a Assembler) System(connectors, plugins []*model.Component) *Document {
	id := a.SystemID()
	doc := &Document{
		ID:    id,
		Topic: DeviceTopic(a.HAPrefix, "carbridge-"+id),
		Device: Device{
			IDs:          id,
			Name:         "carbridge",
			Manufacturer: "carbridge",
			Software:     buildinfo.Version,
		},
		Origin: a.Origin(),
	}

	r := &renderer{prefix: a.Prefix, b: NewBuilder(id)}
	for _, c := range connectors {
		r.component(c, "Connection State")
	}
	for _, p := range plugins {
		r.component(p, "Connected")
	}
	doc.Components = r.b.Components(a.availability())
	return doc
}
