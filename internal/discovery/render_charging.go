package discovery

import "github.com/nugget/carbridge/internal/model"

func (r *renderer) charging(c *model.Charging) {
	conn := c.Connector

	if present(conn.ConnectionState) {
		if c.Commands.Enabled() && present(c.State) {
			if cmd, ok := c.Commands.Get(model.CommandStartStop); ok {
				r.b.Add(&Component{
					Platform:     PlatformSwitch,
					Name:         "Start/Stop Charging",
					Icon:         "mdi:ev-station",
					StateTopic:   r.topic(c) + SuffixBinaryState,
					CommandTopic: r.writeTopic(cmd),
					PayloadOn:    "start",
					PayloadOff:   "stop",
					StateOn:      BinaryOn,
					StateOff:     BinaryOff,
				}, "charging_start_stop")
			}
		}
		r.enumSensor(conn.ConnectionState, Component{
			Name: "Charging Connector State",
			Icon: "mdi:ev-station",
		}, "charging_connector_state")
	}

	r.binary(conn.LockState, Component{
		Name:        "Charging Connector Lock State",
		Icon:        "mdi:lock",
		DeviceClass: "lock",
	}, model.LockStateUnlocked, model.LockStateLocked, "charging_connector_lock_state")
	r.enumSensor(conn.ExternalPower, Component{
		Name: "Charging Connector External Power",
		Icon: "mdi:lightning-bolt",
	}, "charging_connector_external_power")

	r.enumSensor(c.State, Component{Name: "Charging State", Icon: "mdi:battery-charging"}, "charging_state")
	r.enumSensor(c.Type, Component{Name: "Charging Type", Icon: "mdi:current-ac"}, "charging_type")
	r.measured(c.Rate, Component{Name: "Charging Rate", Icon: "mdi:speedometer", DeviceClass: "speed"}, "charging_rate")
	r.measured(c.Power, Component{Name: "Charging Power", Icon: "mdi:speedometer", DeviceClass: "power"}, "charging_power")
	r.timestamp(c.EstimatedDateReached, Component{
		Name: "Charging Estimated Date Reached",
		Icon: "mdi:clock-end",
	}, "charging_estimated_date_reached")

	s := c.Settings
	if !s.Enabled() {
		return
	}
	r.number(s.TargetLevel, Component{
		Name:        "Charging Target Level",
		Icon:        "mdi:battery",
		DeviceClass: "battery",
	}, "charging_target_level")
	r.number(s.MaximumCurrent, Component{
		Name:        "Charging Maximum Current",
		Icon:        "mdi:speedometer",
		DeviceClass: "current",
	}, "charging_maximum_current")
	if present(s.AutoUnlock) {
		r.b.Add(&Component{
			Platform:     PlatformSwitch,
			Name:         "Auto unlock charging connector",
			Icon:         "mdi:lock",
			StateTopic:   r.topic(s.AutoUnlock),
			CommandTopic: r.writeTopic(s.AutoUnlock),
			PayloadOn:    true,
			PayloadOff:   false,
			StateOn:      true,
			StateOff:     false,
		}, "charging_auto_unlock")
	}
}
