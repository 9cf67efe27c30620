package model

import "slices"

// Enum is a named, closed set of string values.
type Enum struct {
	Name   string
	values []string
}

// NewEnum declares an enumeration.
func NewEnum(name string, values ...string) *Enum {
	return &Enum{Name: name, values: values}
}

// Values returns the members in declaration order.
func (e *Enum) Values() []string { return slices.Clone(e.values) }

// Contains reports whether v is a member.
func (e *Enum) Contains(v string) bool { return slices.Contains(e.values, v) }

// Vehicle state values.
const (
	VehicleStateOffline    = "offline"
	VehicleStateParked     = "parked"
	VehicleStateIgnitionOn = "ignition_on"
	VehicleStateDriving    = "driving"
	VehicleStateUnknown    = "unknown vehicle state"
)

// Connection state values shared by vehicles, connectors, and plugins.
const (
	ConnectionOnline        = "online"
	ConnectionOffline       = "offline"
	ConnectionReachable     = "reachable"
	ConnectionConnected     = "connected"
	ConnectionConnecting    = "connecting"
	ConnectionDisconnected  = "disconnected"
	ConnectionDisconnecting = "disconnecting"
	ConnectionError         = "error"
)

// Generic sentinel values. Enumerations list them among their options
// so a vehicle reporting one still maps to a valid state.
const (
	StateUnknown     = "unknown"
	StateInvalid     = "invalid"
	StateUnsupported = "unsupported"
)

// Open and lock states for doors and windows.
const (
	OpenStateOpen    = "open"
	OpenStateClosed  = "closed"
	OpenStateUnknown = "unknown open state"

	LockStateLocked   = "locked"
	LockStateUnlocked = "unlocked"
	LockStateUnknown  = "unknown lock state"
)

// On/off states for lights and heaters.
const (
	StateOn  = "on"
	StateOff = "off"
)

// Charging state values.
const (
	ChargingStateOff              = "off"
	ChargingStateReadyForCharging = "ready_for_charging"
	ChargingStateCharging         = "charging"
	ChargingStateConservation     = "conservation"
	ChargingStateError            = "error"
	ChargingStateDischarging      = "discharging"
	ChargingStateUnknown          = "unknown charging state"
)

// Climatization state values.
const (
	ClimatizationStateOff         = "off"
	ClimatizationStateHeating     = "heating"
	ClimatizationStateCooling     = "cooling"
	ClimatizationStateVentilation = "ventilation"
	ClimatizationStateUnknown     = "unknown climatization state"
)

// Value sets.
var (
	VehicleStates = NewEnum("vehicle_state",
		VehicleStateOffline, VehicleStateParked, VehicleStateIgnitionOn, VehicleStateDriving, VehicleStateUnknown)
	VehicleConnectionStates = NewEnum("vehicle_connection_state",
		ConnectionOnline, ConnectionOffline, ConnectionReachable, "unknown connection state")
	ComponentConnectionStates = NewEnum("connection_state",
		ConnectionConnecting, ConnectionConnected, ConnectionDisconnecting, ConnectionDisconnected, ConnectionError)
	OpenStates = NewEnum("open_state",
		OpenStateOpen, OpenStateClosed, StateUnsupported, StateInvalid, OpenStateUnknown)
	LockStates = NewEnum("lock_state",
		LockStateLocked, LockStateUnlocked, StateInvalid, LockStateUnknown)
	LightStates = NewEnum("light_state",
		StateOn, StateOff, StateInvalid, "unknown light state")
	HeatingStates = NewEnum("heating_state",
		StateOn, StateOff, StateInvalid, StateUnsupported, "unknown heating state")
	PositionTypes = NewEnum("position_type",
		"parking", "driving", StateInvalid, StateUnknown)
	ClimatizationStates = NewEnum("climatization_state",
		ClimatizationStateOff, ClimatizationStateHeating, ClimatizationStateCooling,
		ClimatizationStateVentilation, StateInvalid, StateUnsupported, ClimatizationStateUnknown)
	ChargingStates = NewEnum("charging_state",
		ChargingStateOff, ChargingStateReadyForCharging, ChargingStateCharging, ChargingStateConservation,
		ChargingStateError, StateUnsupported, ChargingStateDischarging, ChargingStateUnknown)
	ChargingTypes = NewEnum("charging_type",
		StateInvalid, "off", "ac", "dc", StateUnsupported, "unknown charge type")
	ConnectorConnectionStates = NewEnum("connector_connection_state",
		ConnectionConnected, ConnectionDisconnected, StateInvalid, StateUnsupported, "unknown connection state")
	ExternalPowerStates = NewEnum("external_power",
		"available", "unavailable", "active", StateInvalid, StateUnsupported, "unknown external power")
)
