package model

import "time"

// Doors holds the aggregate and per-door open and lock states.
type Doors struct {
	node
	OpenState *EnumAttribute
	LockState *EnumAttribute
	Commands  *Commands
	doors     members[*Door]
}

func newDoors(parent Element) *Doors {
	d := &Doors{}
	d.init(d, "doors", parent, true)
	d.OpenState = newEnumAttribute("open_state", d, OpenStates)
	d.LockState = newEnumAttribute("lock_state", d, LockStates)
	d.Commands = newCommands(d)
	return d
}

// Door returns the door with id, creating it when absent.
func (d *Doors) Door(id string) *Door {
	door, created := d.doors.ensure(id, func() *Door {
		door := &Door{}
		door.init(door, id, d, true)
		door.OpenState = newEnumAttribute("open_state", door, OpenStates)
		door.LockState = newEnumAttribute("lock_state", door, LockStates)
		return door
	})
	if created {
		door.notify(EventEnabled)
	}
	return door
}

// List returns the doors sorted by id.
func (d *Doors) List() []*Door { return d.doors.list() }

// Children implements tree traversal for [Walk].
func (d *Doors) Children() []Element {
	return append([]Element{d.OpenState, d.LockState, d.Commands}, elements(d.doors.list())...)
}

// Door is a single door.
type Door struct {
	node
	OpenState *EnumAttribute
	LockState *EnumAttribute
}

// Children implements tree traversal for [Walk].
func (d *Door) Children() []Element { return []Element{d.OpenState, d.LockState} }

// Windows holds the aggregate and per-window open states.
type Windows struct {
	node
	OpenState *EnumAttribute
	windows   members[*Window]
}

func newWindows(parent Element) *Windows {
	w := &Windows{}
	w.init(w, "windows", parent, true)
	w.OpenState = newEnumAttribute("open_state", w, OpenStates)
	return w
}

// Window returns the window with id, creating it when absent.
func (w *Windows) Window(id string) *Window {
	win, created := w.windows.ensure(id, func() *Window {
		win := &Window{}
		win.init(win, id, w, true)
		win.OpenState = newEnumAttribute("open_state", win, OpenStates)
		return win
	})
	if created {
		win.notify(EventEnabled)
	}
	return win
}

// List returns the windows sorted by id.
func (w *Windows) List() []*Window { return w.windows.list() }

// Children implements tree traversal for [Walk].
func (w *Windows) Children() []Element {
	return append([]Element{w.OpenState}, elements(w.windows.list())...)
}

// Window is a single window.
type Window struct {
	node
	OpenState *EnumAttribute
}

// Children implements tree traversal for [Walk].
func (w *Window) Children() []Element { return []Element{w.OpenState} }

// Lights holds the aggregate and per-light states.
type Lights struct {
	node
	LightState *EnumAttribute
	lights     members[*Light]
}

func newLights(parent Element) *Lights {
	l := &Lights{}
	l.init(l, "lights", parent, true)
	l.LightState = newEnumAttribute("light_state", l, LightStates)
	return l
}

// Light returns the light with id, creating it when absent.
func (l *Lights) Light(id string) *Light {
	light, created := l.lights.ensure(id, func() *Light {
		light := &Light{}
		light.init(light, id, l, true)
		light.LightState = newEnumAttribute("light_state", light, LightStates)
		return light
	})
	if created {
		light.notify(EventEnabled)
	}
	return light
}

// List returns the lights sorted by id.
func (l *Lights) List() []*Light { return l.lights.list() }

// Children implements tree traversal for [Walk].
func (l *Lights) Children() []Element {
	return append([]Element{l.LightState}, elements(l.lights.list())...)
}

// Light is a single light.
type Light struct {
	node
	LightState *EnumAttribute
}

// Children implements tree traversal for [Walk].
func (l *Light) Children() []Element { return []Element{l.LightState} }

// WindowHeatings holds the window defrosters.
type WindowHeatings struct {
	node
	HeatingState *EnumAttribute
	Commands     *Commands
	windows      members[*WindowHeating]
}

func newWindowHeatings(parent Element) *WindowHeatings {
	w := &WindowHeatings{}
	w.init(w, "window_heating", parent, true)
	w.HeatingState = newEnumAttribute("heating_state", w, HeatingStates)
	w.Commands = newCommands(w)
	return w
}

// Window returns the heated window with id, creating it when absent.
func (w *WindowHeatings) Window(id string) *WindowHeating {
	win, created := w.windows.ensure(id, func() *WindowHeating {
		win := &WindowHeating{}
		win.init(win, id, w, true)
		win.HeatingState = newEnumAttribute("heating_state", win, HeatingStates)
		return win
	})
	if created {
		win.notify(EventEnabled)
	}
	return win
}

// List returns the heated windows sorted by id.
func (w *WindowHeatings) List() []*WindowHeating { return w.windows.list() }

// Children implements tree traversal for [Walk].
func (w *WindowHeatings) Children() []Element {
	return append([]Element{w.HeatingState, w.Commands}, elements(w.windows.list())...)
}

// WindowHeating is a single heated window.
type WindowHeating struct {
	node
	HeatingState *EnumAttribute
}

// Children implements tree traversal for [Walk].
func (w *WindowHeating) Children() []Element { return []Element{w.HeatingState} }

// Climatization is the cabin climate control.
type Climatization struct {
	node
	State                *EnumAttribute
	EstimatedDateReached *TimeAttribute
	Settings             *ClimatizationSettings
	Commands             *Commands
}

func newClimatization(parent Element) *Climatization {
	c := &Climatization{}
	c.init(c, "climatization", parent, true)
	c.State = newEnumAttribute("state", c, ClimatizationStates)
	c.EstimatedDateReached = newAttribute[time.Time]("estimated_date_reached", c)
	c.Settings = &ClimatizationSettings{}
	c.Settings.init(c.Settings, "settings", c, true)
	c.Settings.TargetTemperature = newUnitAttribute[float64]("target_temperature", c.Settings, UnitCelsius)
	c.Commands = newCommands(c)
	return c
}

// Children implements tree traversal for [Walk].
func (c *Climatization) Children() []Element {
	return []Element{c.State, c.EstimatedDateReached, c.Settings, c.Commands}
}

// ClimatizationSettings holds climate setpoints.
type ClimatizationSettings struct {
	node
	TargetTemperature *FloatAttribute
}

// Children implements tree traversal for [Walk].
func (s *ClimatizationSettings) Children() []Element { return []Element{s.TargetTemperature} }

// Charging is the charging sub-system of an electric vehicle.
type Charging struct {
	node
	State                *EnumAttribute
	Type                 *EnumAttribute
	Rate                 *FloatAttribute
	Power                *FloatAttribute
	EstimatedDateReached *TimeAttribute
	Connector            *ChargingConnector
	Settings             *ChargingSettings
	Commands             *Commands
}

func newCharging(parent Element) *Charging {
	c := &Charging{}
	c.init(c, "charging", parent, true)
	c.State = newEnumAttribute("state", c, ChargingStates)
	c.Type = newEnumAttribute("type", c, ChargingTypes)
	c.Rate = newUnitAttribute[float64]("rate", c, UnitKilometerPerHour)
	c.Power = newUnitAttribute[float64]("power", c, UnitKilowatt)
	c.EstimatedDateReached = newAttribute[time.Time]("estimated_date_reached", c)

	c.Connector = &ChargingConnector{}
	c.Connector.init(c.Connector, "connector", c, true)
	c.Connector.ConnectionState = newEnumAttribute("connection_state", c.Connector, ConnectorConnectionStates)
	c.Connector.LockState = newEnumAttribute("lock_state", c.Connector, LockStates)
	c.Connector.ExternalPower = newEnumAttribute("external_power", c.Connector, ExternalPowerStates)

	c.Settings = &ChargingSettings{}
	c.Settings.init(c.Settings, "settings", c, true)
	c.Settings.TargetLevel = newUnitAttribute[float64]("target_level", c.Settings, UnitPercent)
	c.Settings.MaximumCurrent = newUnitAttribute[float64]("maximum_current", c.Settings, UnitAmpere)
	c.Settings.AutoUnlock = newAttribute[bool]("auto_unlock", c.Settings)

	c.Commands = newCommands(c)
	return c
}

// Children implements tree traversal for [Walk].
func (c *Charging) Children() []Element {
	return []Element{c.State, c.Type, c.Rate, c.Power, c.EstimatedDateReached, c.Connector, c.Settings, c.Commands}
}

// ChargingConnector is the charge port.
type ChargingConnector struct {
	node
	ConnectionState *EnumAttribute
	LockState       *EnumAttribute
	ExternalPower   *EnumAttribute
}

// Children implements tree traversal for [Walk].
func (c *ChargingConnector) Children() []Element {
	return []Element{c.ConnectionState, c.LockState, c.ExternalPower}
}

// ChargingSettings holds user charging preferences.
type ChargingSettings struct {
	node
	TargetLevel    *FloatAttribute
	MaximumCurrent *FloatAttribute
	AutoUnlock     *BoolAttribute
}

// Children implements tree traversal for [Walk].
func (s *ChargingSettings) Children() []Element {
	return []Element{s.TargetLevel, s.MaximumCurrent, s.AutoUnlock}
}
