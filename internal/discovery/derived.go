package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nugget/carbridge/internal/config"
	"github.com/nugget/carbridge/internal/model"
)

// Derived topic payloads.
const (
	BinaryOn  = "on"
	BinaryOff = "off"

	HVACActionHeating = "heating"
	HVACActionCooling = "cooling"
	HVACActionFan     = "fan"
	HVACActionOff     = "off"

	HVACModeAuto = "auto"
	HVACModeOff  = "off"
)

// ChargingBinaryState collapses a charging state to on/off. ok is false
// for states that have no binary meaning.
func ChargingBinaryState(state string) (payload string, ok bool) {
	switch state {
	case model.ChargingStateCharging, model.ChargingStateConservation, model.ChargingStateDischarging:
		return BinaryOn, true
	case model.ChargingStateOff, model.ChargingStateReadyForCharging, model.ChargingStateError:
		return BinaryOff, true
	}
	return "", false
}

// ClimatizationBinaryState collapses a climatization state to on/off.
func ClimatizationBinaryState(state string) (payload string, ok bool) {
	switch state {
	case model.ClimatizationStateHeating, model.ClimatizationStateCooling, model.ClimatizationStateVentilation:
		return BinaryOn, true
	case model.ClimatizationStateOff:
		return BinaryOff, true
	}
	return "", false
}

// ClimatizationHVAC maps a climatization state to the climate entity's
// action and mode.
func ClimatizationHVAC(state string) (action, mode string, ok bool) {
	switch state {
	case model.ClimatizationStateHeating:
		return HVACActionHeating, HVACModeAuto, true
	case model.ClimatizationStateCooling:
		return HVACActionCooling, HVACModeAuto, true
	case model.ClimatizationStateVentilation:
		return HVACActionFan, HVACModeAuto, true
	case model.ClimatizationStateOff:
		return HVACActionOff, HVACModeOff, true
	}
	return "", "", false
}

// HVACModeToCommand translates climate mode labels into start-stop
// command values. Anything else passes through.
func HVACModeToCommand(value string) string {
	switch value {
	case HVACModeOff:
		return "stop"
	case HVACModeAuto:
		return "start"
	}
	return value
}

// Derived publishes the synthetic topics computed from model state.
type Derived struct {
	transport Transport
	logger    *slog.Logger
}

// NewDerived creates a derived-state publisher on t.
func NewDerived(t Transport, logger *slog.Logger) *Derived {
	if logger == nil {
		logger = slog.Default()
	}
	return &Derived{transport: t, logger: logger}
}

// publish registers topic as a read-only, unsubscribed topic and sends
// payload with qos 1, not retained.
func (d *Derived) publish(ctx context.Context, topic string, payload []byte) error {
	d.transport.AddTopic(topic, true, false, false)
	if err := d.transport.Publish(ctx, topic, 1, false, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	d.logger.Log(ctx, config.LevelTrace, "derived state published",
		"topic", topic, "payload", string(payload))
	return nil
}

type positionPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Position publishes the combined latitude/longitude payload when both
// coordinates are known.
func (d *Derived) Position(ctx context.Context, p *model.Position) error {
	lat, lon, ok := p.Coordinates()
	if !ok {
		return nil
	}
	payload, err := json.Marshal(positionPayload{Latitude: lat, Longitude: lon})
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}
	return d.publish(ctx, AbsoluteTopic(d.transport.Prefix(), p)+SuffixAttributes, payload)
}

// Charging publishes the on/off state derived from a charging state
// attribute.
func (d *Derived) Charging(ctx context.Context, state *model.EnumAttribute) error {
	s, ok := value(state)
	if !ok {
		return nil
	}
	payload, ok := ChargingBinaryState(s)
	if !ok {
		return nil
	}
	return d.publish(ctx, AbsoluteTopic(d.transport.Prefix(), state.Parent())+SuffixBinaryState, []byte(payload))
}

// Climatization publishes the on/off state and the HVAC action/mode
// pair derived from a climatization state attribute. Action and mode
// are sent back to back; a failed mode publish does not undo the
// action.
func (d *Derived) Climatization(ctx context.Context, state *model.EnumAttribute) error {
	s, ok := value(state)
	if !ok {
		return nil
	}
	base := AbsoluteTopic(d.transport.Prefix(), state.Parent())

	var errs []error
	if payload, ok := ClimatizationBinaryState(s); ok {
		errs = append(errs, d.publish(ctx, base+SuffixBinaryState, []byte(payload)))
	}
	if action, mode, ok := ClimatizationHVAC(s); ok {
		errs = append(errs,
			d.publish(ctx, base+SuffixHVACAction, []byte(action)),
			d.publish(ctx, base+SuffixHVACMode, []byte(mode)),
		)
	}
	return errors.Join(errs...)
}

// Replay republishes every derived topic of an enabled vehicle.
func (d *Derived) Replay(ctx context.Context, v *model.Vehicle) error {
	if !v.Enabled() {
		return nil
	}
	var errs []error
	if v.Position.Enabled() {
		errs = append(errs, d.Position(ctx, v.Position))
	}
	if c := v.ChargingSystem(); c != nil {
		errs = append(errs, d.Charging(ctx, c.State))
	}
	errs = append(errs, d.Climatization(ctx, v.Climatization.State))
	return errors.Join(errs...)
}

// Trigger reports which derivation, if any, a model element feeds.
type Trigger int

// Derivation triggers.
const (
	TriggerNone Trigger = iota
	TriggerPosition
	TriggerCharging
	TriggerClimatization
)

// TriggerFor classifies el by id and enumeration type.
func TriggerFor(el model.Element) Trigger {
	switch a := el.(type) {
	case *model.FloatAttribute:
		if a.ID() == "longitude" {
			if _, ok := a.Parent().(*model.Position); ok {
				return TriggerPosition
			}
		}
	case *model.EnumAttribute:
		if a.ID() != "state" {
			return TriggerNone
		}
		switch a.Enum() {
		case model.ChargingStates:
			return TriggerCharging
		case model.ClimatizationStates:
			return TriggerClimatization
		}
	}
	return TriggerNone
}

// Dispatch publishes the derivation fed by el, if any.
func (d *Derived) Dispatch(ctx context.Context, el model.Element) error {
	switch TriggerFor(el) {
	case TriggerPosition:
		return d.Position(ctx, el.Parent().(*model.Position))
	case TriggerCharging:
		return d.Charging(ctx, el.(*model.EnumAttribute))
	case TriggerClimatization:
		return d.Climatization(ctx, el.(*model.EnumAttribute))
	}
	return nil
}
