package discovery

import (
	"fmt"
	"slices"
	"strings"

	"github.com/nugget/carbridge/internal/model"
)

// attribute is the read surface the renderer needs from a scalar or
// enum attribute.
type attribute interface {
	model.Element
	Format() (string, bool)
	Unit() (model.Unit, bool)
}

// value returns the formatted value of an enabled attribute that
// carries one.
func value(a attribute) (string, bool) {
	if !a.Enabled() {
		return "", false
	}
	return a.Format()
}

func present(a attribute) bool {
	_, ok := value(a)
	return ok
}

// unitOf returns the unit of an attribute that is present and carries
// a unit.
func unitOf(a attribute) (string, bool) {
	if !present(a) {
		return "", false
	}
	u, ok := a.Unit()
	return string(u), ok
}

type renderer struct {
	prefix string
	b      *Builder
	images bool
}

func (r *renderer) topic(el model.Element) string { return AbsoluteTopic(r.prefix, el) }

func (r *renderer) writeTopic(el model.Element) string { return WriteTopic(r.prefix, el) }

// measured adds a sensor for a unit-bearing attribute.
func (r *renderer) measured(a attribute, c Component, facet ...string) {
	unit, ok := unitOf(a)
	if !ok {
		return
	}
	c.Platform = PlatformSensor
	c.StateTopic = r.topic(a)
	c.Unit = unit
	r.b.Add(&c, facet...)
}

// enumSensor adds an enum sensor listing every possible value.
func (r *renderer) enumSensor(a *model.EnumAttribute, c Component, facet ...string) {
	if !present(a) {
		return
	}
	c.Platform = PlatformSensor
	c.DeviceClass = "enum"
	c.StateTopic = r.topic(a)
	c.Options = a.Enum().Values()
	r.b.Add(&c, facet...)
}

// timestamp adds a timestamp sensor.
func (r *renderer) timestamp(a attribute, c Component, facet ...string) {
	if !present(a) {
		return
	}
	c.Platform = PlatformSensor
	c.DeviceClass = "timestamp"
	c.StateTopic = r.topic(a)
	r.b.Add(&c, facet...)
}

// binary adds a binary sensor mapping two raw values to on and off.
func (r *renderer) binary(a attribute, c Component, on, off string, facet ...string) {
	if !present(a) {
		return
	}
	c.Platform = PlatformBinarySensor
	c.StateTopic = r.topic(a)
	c.PayloadOn = on
	c.PayloadOff = off
	r.b.Add(&c, facet...)
}

// number adds a settable numeric entity.
func (r *renderer) number(a *model.FloatAttribute, c Component, facet ...string) {
	if !present(a) {
		return
	}
	l := a.Limits()
	c.Platform = PlatformNumber
	c.CommandTopic = r.writeTopic(a)
	c.StateTopic = r.topic(a)
	c.Min, c.Max, c.Step = l.Minimum, l.Maximum, l.Precision
	if u, ok := a.Unit(); ok {
		c.Unit = string(u)
	}
	r.b.Add(&c, facet...)
}

func (r *renderer) vehicleCore(v *model.Vehicle) {
	if v.Commands.Enabled() {
		if cmd, ok := v.Commands.Get(model.CommandWakeSleep); ok {
			r.b.Add(&Component{
				Platform:     PlatformButton,
				Name:         "Wakeup",
				Icon:         "mdi:sleep-off",
				CommandTopic: r.writeTopic(cmd),
				PayloadPress: "wake",
			}, "wake")
		}
	}
	r.measured(v.Odometer, Component{Name: "Odometer", Icon: "mdi:counter", DeviceClass: "distance"}, "odometer")
	r.enumSensor(v.State, Component{Name: "Vehicle State", Icon: "mdi:car-hatchback"}, "state")
	r.enumSensor(v.ConnectionState, Component{Name: "Connection State", Icon: "mdi:car-connected"}, "connection_state")
}

func (r *renderer) drives(d *model.Drives) {
	if !d.Enabled() {
		return
	}
	r.measured(d.TotalRange, Component{Name: "Total Range", DeviceClass: "distance"}, "total_range")

	for _, drv := range d.List() {
		if !drv.Enabled() {
			continue
		}
		id := drv.ID()
		r.measured(drv.Range, Component{Name: fmt.Sprintf("Range (%s)", id), DeviceClass: "distance"}, id, "range")

		switch {
		case drv.IsCombustion():
			r.measured(drv.Level, Component{Name: fmt.Sprintf("Tank (%s)", id), Icon: "mdi:gas-station"}, id, "level")
			if drv.Type == model.DriveDiesel {
				r.measured(drv.AdBlueLevel, Component{
					Name: fmt.Sprintf("AdBlue Tank (%s)", id),
					Icon: "mdi:gas-station",
				}, id, "adbluelevel")
				r.measured(drv.AdBlueRange, Component{
					Name:        fmt.Sprintf("AdBlue Range (%s)", id),
					DeviceClass: "distance",
				}, id, "adbluerange")
			}
		case drv.Type == model.DriveElectric:
			r.measured(drv.Level, Component{
				Name:        fmt.Sprintf("SoC (%s)", id),
				Icon:        "mdi:battery",
				DeviceClass: "battery",
			}, id, "level")
			if drv.Battery != nil && drv.Battery.Enabled() {
				r.measured(drv.Battery.Temperature, Component{
					Name:        fmt.Sprintf("Battery Temperature (%s)", id),
					Icon:        "mdi:thermometer-lines",
					DeviceClass: "temperature",
				}, id, "battery_temperature")
			}
		}
	}
}

var (
	ignoredOpenStates = []string{model.OpenStateUnknown, model.StateInvalid, model.StateUnsupported}
	ignoredLockStates = []string{model.LockStateUnknown, model.StateInvalid}
)

func (r *renderer) doors(d *model.Doors) {
	if !d.Enabled() {
		return
	}
	r.binary(d.OpenState, Component{Name: "Door Open State", Icon: "mdi:car-door", DeviceClass: "door"},
		model.OpenStateOpen, model.OpenStateClosed, "open_state")

	if present(d.LockState) {
		if cmd, ok := d.Commands.Get(model.CommandLockUnlock); ok {
			r.b.Add(&Component{
				Platform:      PlatformLock,
				Name:          "Lock/Unlock",
				Icon:          "mdi:car-door-lock",
				StateTopic:    r.topic(d.LockState),
				CommandTopic:  r.writeTopic(cmd),
				PayloadLock:   "lock",
				PayloadUnlock: "unlock",
				StateLocked:   model.LockStateLocked,
				StateUnlocked: model.LockStateUnlocked,
			}, "lock_unlock")
		} else {
			r.binary(d.LockState, Component{Name: "Lock State", Icon: "mdi:car-door-lock", DeviceClass: "lock"},
				model.LockStateUnlocked, model.LockStateLocked, "lock_state")
		}
	}

	for _, door := range d.List() {
		if !door.Enabled() {
			continue
		}
		id := door.ID()
		if s, ok := value(door.OpenState); ok && !slices.Contains(ignoredOpenStates, s) {
			r.binary(door.OpenState, Component{
				Name:        fmt.Sprintf("Door Open State (%s)", id),
				Icon:        "mdi:car-door",
				DeviceClass: "door",
			}, model.OpenStateOpen, model.OpenStateClosed, id, "door_open_state")
		}
		if s, ok := value(door.LockState); ok && !slices.Contains(ignoredLockStates, s) {
			r.binary(door.LockState, Component{
				Name:        fmt.Sprintf("Lock State (%s)", id),
				Icon:        "mdi:car-door-lock",
				DeviceClass: "lock",
			}, model.LockStateUnlocked, model.LockStateLocked, id, "door_lock_state")
		}
	}
}

func (r *renderer) windows(w *model.Windows) {
	if !w.Enabled() {
		return
	}
	r.binary(w.OpenState, Component{Name: "Window Open State", Icon: "mdi:window-open", DeviceClass: "window"},
		model.OpenStateOpen, model.OpenStateClosed, "window_open_state")
	for _, win := range w.List() {
		if !win.Enabled() {
			continue
		}
		r.binary(win.OpenState, Component{
			Name:        fmt.Sprintf("Window Open State (%s)", win.ID()),
			Icon:        "mdi:window-open",
			DeviceClass: "window",
		}, model.OpenStateOpen, model.OpenStateClosed, win.ID(), "window_open_state")
	}
}

func (r *renderer) lights(l *model.Lights) {
	if !l.Enabled() {
		return
	}
	r.binary(l.LightState, Component{Name: "Light State", Icon: "mdi:car-light-dimmed"},
		model.StateOn, model.StateOff, "light_state")
	for _, light := range l.List() {
		if !light.Enabled() {
			continue
		}
		r.binary(light.LightState, Component{
			Name: fmt.Sprintf("Light State (%s)", light.ID()),
			Icon: "mdi:car-light-dimmed",
		}, model.StateOn, model.StateOff, light.ID(), "state")
	}
}

func (r *renderer) windowHeatings(w *model.WindowHeatings) {
	if !w.Enabled() {
		return
	}
	if w.Commands.Enabled() && present(w.HeatingState) {
		if cmd, ok := w.Commands.Get(model.CommandStartStop); ok {
			r.b.Add(&Component{
				Platform:     PlatformSwitch,
				Name:         "Start/Stop Window Heating",
				Icon:         "mdi:car-defrost-front",
				StateTopic:   r.topic(w.HeatingState),
				CommandTopic: r.writeTopic(cmd),
				PayloadOn:    "start",
				PayloadOff:   "stop",
				StateOn:      model.StateOn,
				StateOff:     model.StateOff,
			}, "window_heating_start_stop")
		}
	}
	r.binary(w.HeatingState, Component{Name: "Window Heating State", Icon: "mdi:car-defrost-front"},
		model.StateOn, model.StateOff, "window_heating_state")

	for _, win := range w.List() {
		if !win.Enabled() {
			continue
		}
		icon := "mdi:car-defrost-front"
		if strings.Contains(win.ID(), "rear") {
			icon = "mdi:car-defrost-rear"
		}
		r.binary(win.HeatingState, Component{
			Name: fmt.Sprintf("Window Heating State (%s)", win.ID()),
			Icon: icon,
		}, model.StateOn, model.StateOff, win.ID(), "window_heating_state")
	}
}

func (r *renderer) position(p *model.Position) {
	if !p.Enabled() {
		return
	}
	if _, _, ok := p.Coordinates(); ok {
		latUnit, latOK := p.Latitude.Unit()
		lonUnit, lonOK := p.Longitude.Unit()
		if latOK && lonOK {
			r.b.Add(&Component{
				Platform:   PlatformSensor,
				Name:       "Position Latitude",
				Icon:       "mdi:latitude",
				StateTopic: r.topic(p.Latitude),
				Unit:       string(latUnit),
			}, "latitude")
			r.b.Add(&Component{
				Platform:   PlatformSensor,
				Name:       "Position Longitude",
				Icon:       "mdi:longitude",
				StateTopic: r.topic(p.Longitude),
				Unit:       string(lonUnit),
			}, "longitude")
		}
	}
	r.enumSensor(p.PositionType, Component{Name: "Position Type", Icon: "mdi:map-marker"}, "position_type")
}

// deviceTracker renders the GPS tracker fed by the combined
// latitude/longitude attributes topic.
func (r *renderer) deviceTracker(p *model.Position) {
	if !p.Enabled() {
		return
	}
	if _, _, ok := p.Coordinates(); !ok {
		return
	}
	r.b.Add(&Component{
		Platform:            PlatformDeviceTracker,
		Name:                "Position",
		Icon:                "mdi:map-marker",
		JSONAttributesTopic: r.topic(p) + SuffixAttributes,
		SourceType:          "gps",
	}, "position")
}

// hvacModeTransform names the transform the climate entity installs on
// the climatization start-stop command.
const hvacModeTransform = "hvac_mode"

func (r *renderer) climatization(c *model.Climatization) {
	if !c.Enabled() {
		return
	}
	r.enumSensor(c.State, Component{Name: "Climatization State", Icon: "mdi:air-conditioner"}, "climatization_state")

	if c.Commands.Enabled() {
		if cmd, ok := c.Commands.Get(model.CommandStartStop); ok {
			cmd.SetTransform(hvacModeTransform, HVACModeToCommand)
			wt := r.writeTopic(cmd)
			r.b.Add(&Component{
				Platform:          PlatformClimate,
				Name:              "Start/Stop Climatization",
				Icon:              "mdi:air-conditioner",
				ActionTopic:       r.topic(c) + SuffixHVACAction,
				ModeCommandTopic:  wt,
				ModeStateTopic:    r.topic(c) + SuffixHVACMode,
				Modes:             []string{HVACModeOff, HVACModeAuto},
				PowerCommandTopic: wt,
				PayloadOn:         "start",
				PayloadOff:        "stop",
			}, "climatization_start_stop")
		}
	}

	s, t := c.Settings, c.Settings.TargetTemperature
	if s.Enabled() && t.Enabled() {
		r.b.Extend(func(cl *Component) {
			if _, ok := t.Value(); ok {
				cl.TemperatureStateTopic = r.topic(t)
			}
			if v, ok := t.Maximum(); ok {
				cl.MaxTemp = &v
			}
			if v, ok := t.Minimum(); ok {
				cl.MinTemp = &v
			}
			if v, ok := t.Precision(); ok {
				cl.TempStep = &v
			}
			if t.Changeable() {
				cl.TemperatureCommandTopic = r.writeTopic(t)
			}
			if u, ok := t.Unit(); ok {
				switch u {
				case model.UnitCelsius:
					cl.TemperatureUnit = "C"
				case model.UnitFahrenheit:
					cl.TemperatureUnit = "F"
				}
			}
		}, "climatization_start_stop")
	}

	r.timestamp(c.EstimatedDateReached, Component{
		Name: "Climatization Estimated Date Reached",
		Icon: "mdi:clock-end",
	}, "climatization_estimated_date_reached")
}

func (r *renderer) outsideTemperature(v *model.Vehicle) {
	r.measured(v.OutsideTemperature, Component{
		Name:        "Outside Temperature",
		Icon:        "mdi:sun-thermometer-outline",
		DeviceClass: "temperature",
	}, "outside_temperature")
}

func (r *renderer) maintenance(m *model.Maintenance) {
	if !m.Enabled() {
		return
	}
	r.timestamp(m.InspectionDueAt, Component{Name: "Inspection Due At", Icon: "mdi:tools"}, "inspection_due_at")
	r.measured(m.InspectionDueAfter, Component{
		Name:        "Inspection Due After",
		Icon:        "mdi:tools",
		DeviceClass: "distance",
	}, "inspection_due_after")
	r.timestamp(m.OilServiceDueAt, Component{Name: "Oil Service Due At", Icon: "mdi:oil"}, "oil_service_due_at")
	r.measured(m.OilServiceDueAfter, Component{
		Name:        "Oil Service Due After",
		Icon:        "mdi:oil",
		DeviceClass: "distance",
	}, "oil_service_due_after")
}

func (r *renderer) vehicleImages(im *model.Images) {
	if !r.images || !im.Enabled() {
		return
	}
	for _, img := range im.List() {
		if !img.Enabled() {
			continue
		}
		if _, ok := img.Payload(); !ok {
			continue
		}
		r.b.Add(&Component{
			Platform:    PlatformImage,
			Name:        fmt.Sprintf("Image (%s)", img.ID()),
			ImageTopic:  r.topic(img),
			ContentType: "image/png",
		}, img.ID(), "image")
	}
}

// component renders the health and connection state of a connector or
// plugin on the system device.
func (r *renderer) component(c *model.Component, stateLabel string) {
	if !c.Enabled() {
		return
	}
	r.binary(c.Healthy, Component{
		Name:        c.Name() + " Healthy",
		Icon:        "mdi:check",
		DeviceClass: "running",
	}, "True", "False", c.ID(), "healthy")
	r.enumSensor(c.ConnectionState, Component{
		Name: c.Name() + " " + stateLabel,
		Icon: "mdi:lan-connect",
	}, c.ID(), "connection_state")
}
