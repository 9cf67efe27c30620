package model

import "time"

// Garage holds the known vehicles, keyed by VIN.
type Garage struct {
	node
	vehicles members[*Vehicle]
}

func newGarage(h *Hub) *Garage {
	g := &Garage{}
	g.init(g, "garage", h, true)
	return g
}

// Vehicles returns all vehicles sorted by VIN.
func (g *Garage) Vehicles() []*Vehicle { return g.vehicles.list() }

// Vehicle returns the vehicle with vin.
func (g *Garage) Vehicle(vin string) (*Vehicle, bool) { return g.vehicles.get(vin) }

// AddVehicle returns the vehicle with vin, creating it when absent.
// Electric vehicles carry a [Charging] sub-system; marking an existing
// vehicle electric adds one.
func (g *Garage) AddVehicle(vin string, electric bool) *Vehicle {
	var fresh *Vehicle
	v, created := g.vehicles.ensure(vin, func() *Vehicle {
		fresh = newVehicle(vin, g, electric)
		return fresh
	})
	if created {
		// Observers must see the VIN before the vehicle announces itself.
		fresh.VIN.Set(vin)
		fresh.notify(EventEnabled)
		return fresh
	}
	if electric {
		v.mu.Lock()
		added := v.Charging == nil
		if added {
			v.Charging = newCharging(v)
		}
		v.mu.Unlock()
		if added {
			v.ChargingSystem().notify(EventEnabled)
		}
	}
	v.Enable()
	return v
}

// RemoveVehicle drops the vehicle with vin from the garage.
func (g *Garage) RemoveVehicle(vin string) {
	if v, ok := g.vehicles.remove(vin); ok {
		v.Disable()
	}
}

// Children implements tree traversal for [Walk].
func (g *Garage) Children() []Element { return elements(g.vehicles.list()) }

// Vehicle is one car and its sub-systems.
type Vehicle struct {
	node

	VIN                *StringAttribute
	Name               *StringAttribute
	Manufacturer       *StringAttribute
	Model              *StringAttribute
	ModelYear          *IntAttribute
	Odometer           *FloatAttribute
	State              *EnumAttribute
	ConnectionState    *EnumAttribute
	OutsideTemperature *FloatAttribute

	Software       *Software
	Commands       *Commands
	Drives         *Drives
	Doors          *Doors
	Windows        *Windows
	Lights         *Lights
	WindowHeatings *WindowHeatings
	Position       *Position
	Climatization  *Climatization
	Maintenance    *Maintenance
	Images         *Images

	// Charging is nil for vehicles without an electric drive train.
	Charging *Charging
}

func newVehicle(vin string, g *Garage, electric bool) *Vehicle {
	v := &Vehicle{}
	v.init(v, vin, g, true)

	v.VIN = newAttribute[string]("vin", v)
	v.Name = newAttribute[string]("name", v)
	v.Manufacturer = newAttribute[string]("manufacturer", v)
	v.Model = newAttribute[string]("model", v)
	v.ModelYear = newAttribute[int]("model_year", v)
	v.Odometer = newUnitAttribute[float64]("odometer", v, UnitKilometer)
	v.State = newEnumAttribute("state", v, VehicleStates)
	v.ConnectionState = newEnumAttribute("connection_state", v, VehicleConnectionStates)
	v.OutsideTemperature = newUnitAttribute[float64]("outside_temperature", v, UnitCelsius)

	v.Software = newSoftware(v)
	v.Commands = newCommands(v)
	v.Drives = newDrives(v)
	v.Doors = newDoors(v)
	v.Windows = newWindows(v)
	v.Lights = newLights(v)
	v.WindowHeatings = newWindowHeatings(v)
	v.Position = newPosition(v)
	v.Climatization = newClimatization(v)
	v.Maintenance = newMaintenance(v)
	v.Images = newImages(v)
	if electric {
		v.Charging = newCharging(v)
	}
	return v
}

// IsElectric reports whether the vehicle has a charging sub-system.
func (v *Vehicle) IsElectric() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.Charging != nil
}

// ChargingSystem returns the charging sub-system, or nil.
func (v *Vehicle) ChargingSystem() *Charging {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.Charging
}

// Children implements tree traversal for [Walk].
func (v *Vehicle) Children() []Element {
	out := []Element{
		v.VIN, v.Name, v.Manufacturer, v.Model, v.ModelYear, v.Odometer,
		v.State, v.ConnectionState, v.OutsideTemperature,
		v.Software, v.Commands, v.Drives, v.Doors, v.Windows, v.Lights,
		v.WindowHeatings, v.Position, v.Climatization, v.Maintenance, v.Images,
	}
	if c := v.ChargingSystem(); c != nil {
		out = append(out, c)
	}
	return out
}

// Software describes the installed vehicle software.
type Software struct {
	node
	Version *StringAttribute
}

func newSoftware(parent Element) *Software {
	s := &Software{}
	s.init(s, "software", parent, true)
	s.Version = newAttribute[string]("version", s)
	return s
}

// Children implements tree traversal for [Walk].
func (s *Software) Children() []Element { return []Element{s.Version} }

// DriveType distinguishes drive trains.
type DriveType string

// Drive train kinds.
const (
	DriveElectric   DriveType = "electric"
	DriveCombustion DriveType = "combustion"
	DriveDiesel     DriveType = "diesel"
)

// Valid reports whether t is a known drive type.
func (t DriveType) Valid() bool {
	switch t {
	case DriveElectric, DriveCombustion, DriveDiesel:
		return true
	}
	return false
}

// Drives holds the drive trains and the combined range.
type Drives struct {
	node
	TotalRange *FloatAttribute
	drives     members[*Drive]
}

func newDrives(parent Element) *Drives {
	d := &Drives{}
	d.init(d, "drives", parent, true)
	d.TotalRange = newUnitAttribute[float64]("total_range", d, UnitKilometer)
	return d
}

// Drive returns the drive with id.
func (d *Drives) Drive(id string) (*Drive, bool) { return d.drives.get(id) }

// List returns the drives sorted by id.
func (d *Drives) List() []*Drive { return d.drives.list() }

// Ensure returns the drive with id, creating one of type t when absent.
// The type of an existing drive is never changed.
func (d *Drives) Ensure(id string, t DriveType) *Drive {
	drv, created := d.drives.ensure(id, func() *Drive { return newDrive(id, d, t) })
	if created {
		drv.notify(EventEnabled)
	}
	return drv
}

// Children implements tree traversal for [Walk].
func (d *Drives) Children() []Element {
	return append([]Element{d.TotalRange}, elements(d.drives.list())...)
}

// Drive is one drive train. Battery is set for electric drives;
// AdBlue attributes for diesel drives.
type Drive struct {
	node
	Type  DriveType
	Range *FloatAttribute
	Level *FloatAttribute

	Battery     *Battery
	AdBlueLevel *FloatAttribute
	AdBlueRange *FloatAttribute
}

func newDrive(id string, parent Element, t DriveType) *Drive {
	d := &Drive{Type: t}
	d.init(d, id, parent, true)
	d.Range = newUnitAttribute[float64]("range", d, UnitKilometer)
	d.Level = newUnitAttribute[float64]("level", d, UnitPercent)
	switch t {
	case DriveElectric:
		d.Battery = newBattery(d)
	case DriveDiesel:
		d.AdBlueLevel = newUnitAttribute[float64]("adblue_level", d, UnitPercent)
		d.AdBlueRange = newUnitAttribute[float64]("adblue_range", d, UnitKilometer)
	}
	return d
}

// IsCombustion reports whether the drive burns fuel (diesel included).
func (d *Drive) IsCombustion() bool {
	return d.Type == DriveCombustion || d.Type == DriveDiesel
}

// Children implements tree traversal for [Walk].
func (d *Drive) Children() []Element {
	out := []Element{d.Range, d.Level}
	if d.Battery != nil {
		out = append(out, d.Battery)
	}
	if d.AdBlueLevel != nil {
		out = append(out, d.AdBlueLevel, d.AdBlueRange)
	}
	return out
}

// Battery is the traction battery of an electric drive.
type Battery struct {
	node
	Temperature *FloatAttribute
}

func newBattery(parent Element) *Battery {
	b := &Battery{}
	b.init(b, "battery", parent, true)
	b.Temperature = newUnitAttribute[float64]("temperature", b, UnitCelsius)
	return b
}

// Children implements tree traversal for [Walk].
func (b *Battery) Children() []Element { return []Element{b.Temperature} }

// Position is the last known vehicle location.
type Position struct {
	node
	Latitude     *FloatAttribute
	Longitude    *FloatAttribute
	PositionType *EnumAttribute
}

func newPosition(parent Element) *Position {
	p := &Position{}
	p.init(p, "position", parent, true)
	p.Latitude = newUnitAttribute[float64]("latitude", p, UnitDegree)
	p.Longitude = newUnitAttribute[float64]("longitude", p, UnitDegree)
	p.PositionType = newEnumAttribute("position_type", p, PositionTypes)
	return p
}

// Coordinates returns latitude and longitude when both are enabled and
// set.
func (p *Position) Coordinates() (lat, lon float64, ok bool) {
	if !p.Latitude.Enabled() || !p.Longitude.Enabled() {
		return 0, 0, false
	}
	lat, latOK := p.Latitude.Value()
	lon, lonOK := p.Longitude.Value()
	return lat, lon, latOK && lonOK
}

// Children implements tree traversal for [Walk].
func (p *Position) Children() []Element {
	return []Element{p.Latitude, p.Longitude, p.PositionType}
}

// Maintenance holds service intervals.
type Maintenance struct {
	node
	InspectionDueAt    *TimeAttribute
	InspectionDueAfter *FloatAttribute
	OilServiceDueAt    *TimeAttribute
	OilServiceDueAfter *FloatAttribute
}

func newMaintenance(parent Element) *Maintenance {
	m := &Maintenance{}
	m.init(m, "maintenance", parent, true)
	m.InspectionDueAt = newAttribute[time.Time]("inspection_due_at", m)
	m.InspectionDueAfter = newUnitAttribute[float64]("inspection_due_after", m, UnitKilometer)
	m.OilServiceDueAt = newAttribute[time.Time]("oil_service_due_at", m)
	m.OilServiceDueAfter = newUnitAttribute[float64]("oil_service_due_after", m, UnitKilometer)
	return m
}

// Children implements tree traversal for [Walk].
func (m *Maintenance) Children() []Element {
	return []Element{m.InspectionDueAt, m.InspectionDueAfter, m.OilServiceDueAt, m.OilServiceDueAfter}
}

// Images holds rendered pictures of the vehicle.
type Images struct {
	node
	images members[*ImageAttribute]
}

func newImages(parent Element) *Images {
	im := &Images{}
	im.init(im, "images", parent, true)
	return im
}

// Image returns the image slot with id, creating a disabled one when
// absent.
func (im *Images) Image(id string) *ImageAttribute {
	a, _ := im.images.ensure(id, func() *ImageAttribute { return newImageAttribute(id, im) })
	return a
}

// List returns the image slots sorted by id.
func (im *Images) List() []*ImageAttribute { return im.images.list() }

// Children implements tree traversal for [Walk].
func (im *Images) Children() []Element { return elements(im.images.list()) }
