package garage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nugget/carbridge/internal/model"
)

// ErrUnsupportedValue is returned when a command receives a value it
// does not understand.
var ErrUnsupportedValue = errors.New("unsupported command value")

// handle executes a command against the model itself. A snapshot has
// no vehicle behind it, so commands take effect by updating the state
// a real vehicle would report afterwards.
func (s *Source) handle(ctx context.Context, cmd *model.Command, value string) error {
	value = strings.ToLower(strings.TrimSpace(value))
	s.logger.Info("garage command",
		"path", cmd.Path(),
		"value", value,
	)

	reg, _ := cmd.Parent().(*model.Commands)
	if reg == nil {
		return fmt.Errorf("%s: command outside a registry", cmd.Path())
	}

	switch owner := reg.Parent().(type) {
	case *model.Climatization:
		return startStop(owner.State, value, model.ClimatizationStateHeating, model.ClimatizationStateOff)
	case *model.Charging:
		return startStop(owner.State, value, model.ChargingStateCharging, model.ChargingStateReadyForCharging)
	case *model.WindowHeatings:
		return startStop(owner.HeatingState, value, model.StateOn, model.StateOff)
	case *model.Doors:
		return lockUnlock(owner, value)
	case *model.Vehicle:
		if cmd.ID() == model.CommandWakeSleep {
			return wakeSleep(owner, value)
		}
	}

	s.logger.Debug("garage command has no effect", "path", cmd.Path())
	return nil
}

func startStop(state *model.EnumAttribute, value, started, stopped string) error {
	switch value {
	case "start":
		state.Set(started)
	case "stop":
		state.Set(stopped)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedValue, value)
	}
	return nil
}

func lockUnlock(doors *model.Doors, value string) error {
	var state string
	switch value {
	case "lock":
		state = model.LockStateLocked
	case "unlock":
		state = model.LockStateUnlocked
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedValue, value)
	}
	doors.LockState.Set(state)
	for _, d := range doors.List() {
		if d.LockState.Enabled() {
			d.LockState.Set(state)
		}
	}
	return nil
}

func wakeSleep(v *model.Vehicle, value string) error {
	switch value {
	case "wake":
		v.ConnectionState.Set(model.ConnectionOnline)
	case "sleep":
		v.ConnectionState.Set(model.ConnectionOffline)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedValue, value)
	}
	return nil
}
