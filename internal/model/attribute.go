package model

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNotChangeable is returned when a write targets an attribute that
// does not accept writes.
var ErrNotChangeable = errors.New("attribute is not changeable")

// Unit is a measurement unit label.
type Unit string

// Units used by the vehicle model.
const (
	UnitKilometer        Unit = "km"
	UnitMile             Unit = "mi"
	UnitPercent          Unit = "%"
	UnitCelsius          Unit = "°C"
	UnitFahrenheit       Unit = "°F"
	UnitKelvin           Unit = "K"
	UnitKilowatt         Unit = "kW"
	UnitKilometerPerHour Unit = "km/h"
	UnitMilePerHour      Unit = "mph"
	UnitAmpere           Unit = "A"
	UnitDegree           Unit = "°"
	UnitDay              Unit = "d"
)

// Limits are the optional numeric bounds of an attribute.
type Limits struct {
	Minimum   *float64
	Maximum   *float64
	Precision *float64
}

// Attribute is a typed value slot. A disabled attribute carries no
// data; setting a value enables it.
type Attribute[T comparable] struct {
	node

	value      T
	set        bool
	unit       Unit
	limits     Limits
	changeable bool
}

// Attribute aliases used throughout the vehicle tree.
type (
	FloatAttribute  = Attribute[float64]
	IntAttribute    = Attribute[int]
	StringAttribute = Attribute[string]
	BoolAttribute   = Attribute[bool]
	TimeAttribute   = Attribute[time.Time]
)

func newAttribute[T comparable](id string, parent Element) *Attribute[T] {
	a := &Attribute[T]{}
	a.init(a, id, parent, false)
	return a
}

func newUnitAttribute[T comparable](id string, parent Element, unit Unit) *Attribute[T] {
	a := newAttribute[T](id, parent)
	a.unit = unit
	return a
}

// Value returns the current value and whether one is set.
func (a *Attribute[T]) Value() (T, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.value, a.set
}

// Set stores v, enabling the attribute if needed. Observers see
// EventEnabled and/or EventValueChanged in a single notification.
func (a *Attribute[T]) Set(v T) {
	a.mu.Lock()
	var flags EventFlags
	if !a.enabled {
		a.enabled = true
		flags |= EventEnabled
	}
	if !a.set || a.value != v {
		a.value = v
		a.set = true
		flags |= EventValueChanged
	}
	a.mu.Unlock()

	if flags != 0 {
		a.notify(flags)
	}
}

// Clear drops the value without disabling the attribute.
func (a *Attribute[T]) Clear() {
	a.mu.Lock()
	changed := a.set
	var zero T
	a.value = zero
	a.set = false
	a.mu.Unlock()

	if changed {
		a.notify(EventValueChanged)
	}
}

// Unit returns the attribute's unit, if it has one.
func (a *Attribute[T]) Unit() (Unit, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.unit, a.unit != ""
}

// SetUnit replaces the unit label.
func (a *Attribute[T]) SetUnit(u Unit) {
	a.mu.Lock()
	a.unit = u
	a.mu.Unlock()
}

// Limits returns a copy of the attribute's numeric bounds.
func (a *Attribute[T]) Limits() Limits {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.limits
}

// Minimum returns the lower bound, if any.
func (a *Attribute[T]) Minimum() (float64, bool) { return deref(a.Limits().Minimum) }

// Maximum returns the upper bound, if any.
func (a *Attribute[T]) Maximum() (float64, bool) { return deref(a.Limits().Maximum) }

// Precision returns the step size, if any.
func (a *Attribute[T]) Precision() (float64, bool) { return deref(a.Limits().Precision) }

func deref(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}

// SetLimits replaces the attribute's numeric bounds.
func (a *Attribute[T]) SetLimits(l Limits) {
	a.mu.Lock()
	a.limits = l
	a.mu.Unlock()
}

// Changeable reports whether the attribute accepts writes.
func (a *Attribute[T]) Changeable() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.changeable
}

// SetChangeable toggles write support.
func (a *Attribute[T]) SetChangeable(v bool) {
	a.mu.Lock()
	a.changeable = v
	a.mu.Unlock()
}

// Format renders the value the way it is mirrored on the bus.
func (a *Attribute[T]) Format() (string, bool) {
	v, ok := a.Value()
	if !ok {
		return "", false
	}
	return formatValue(v), true
}

// Payload returns the mirrored payload bytes for the current value.
func (a *Attribute[T]) Payload() ([]byte, bool) {
	s, ok := a.Format()
	if !ok {
		return nil, false
	}
	return []byte(s), true
}

// SetString parses raw into the attribute's type and stores it.
func (a *Attribute[T]) SetString(raw string) error {
	v, err := parseValue[T](raw)
	if err != nil {
		return fmt.Errorf("%s: %w", a.Path(), err)
	}
	a.Set(v)
	return nil
}

// Write applies an externally requested value. It fails with
// [ErrNotChangeable] unless the attribute was marked changeable and
// enforces the minimum and maximum limits for numeric types.
func (a *Attribute[T]) Write(_ context.Context, raw string) (string, error) {
	if !a.Changeable() {
		return "", fmt.Errorf("%s: %w", a.Path(), ErrNotChangeable)
	}
	v, err := parseValue[T](raw)
	if err != nil {
		return "", fmt.Errorf("%s: %w", a.Path(), err)
	}
	if err := a.checkLimits(v); err != nil {
		return "", err
	}
	a.Set(v)
	return formatValue(v), nil
}

func (a *Attribute[T]) checkLimits(v T) error {
	var f float64
	switch x := any(v).(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	default:
		return nil
	}
	l := a.Limits()
	if l.Minimum != nil && f < *l.Minimum {
		return fmt.Errorf("%s: %v below minimum %v", a.Path(), f, *l.Minimum)
	}
	if l.Maximum != nil && f > *l.Maximum {
		return fmt.Errorf("%s: %v above maximum %v", a.Path(), f, *l.Maximum)
	}
	return nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

func parseValue[T comparable](raw string) (T, error) {
	var zero T
	raw = strings.TrimSpace(raw)

	var v any
	var err error
	switch any(zero).(type) {
	case string:
		v = raw
	case float64:
		v, err = strconv.ParseFloat(raw, 64)
	case int:
		v, err = strconv.Atoi(raw)
	case bool:
		v, err = parseBool(raw)
	case time.Time:
		v, err = time.Parse(time.RFC3339, raw)
	default:
		return zero, fmt.Errorf("unsupported attribute type %T", zero)
	}
	if err != nil {
		return zero, fmt.Errorf("parse %q: %w", raw, err)
	}
	return v.(T), nil
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(raw)
}

// EnumAttribute is a string attribute constrained to an [Enum].
type EnumAttribute struct {
	Attribute[string]
	enum *Enum
}

func newEnumAttribute(id string, parent Element, e *Enum) *EnumAttribute {
	a := &EnumAttribute{enum: e}
	a.init(a, id, parent, false)
	return a
}

// Enum returns the value set the attribute is constrained to.
func (a *EnumAttribute) Enum() *Enum { return a.enum }

// SetString stores raw if it is a member of the enum.
func (a *EnumAttribute) SetString(raw string) error {
	raw = strings.TrimSpace(raw)
	if !a.enum.Contains(raw) {
		return fmt.Errorf("%s: %q is not a valid %s", a.Path(), raw, a.enum.Name)
	}
	a.Set(raw)
	return nil
}

// Write applies an externally requested enum value.
func (a *EnumAttribute) Write(_ context.Context, raw string) (string, error) {
	if !a.Changeable() {
		return "", fmt.Errorf("%s: %w", a.Path(), ErrNotChangeable)
	}
	if err := a.SetString(raw); err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

// ImageAttribute holds a rendered vehicle image.
type ImageAttribute struct {
	node

	data []byte
}

func newImageAttribute(id string, parent Element) *ImageAttribute {
	a := &ImageAttribute{}
	a.init(a, id, parent, false)
	return a
}

// Value returns a copy of the image bytes.
func (a *ImageAttribute) Value() ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.data == nil {
		return nil, false
	}
	return append([]byte(nil), a.data...), true
}

// Payload returns the image bytes for mirroring.
func (a *ImageAttribute) Payload() ([]byte, bool) { return a.Value() }

// Set stores the image, enabling the attribute if needed.
func (a *ImageAttribute) Set(data []byte) {
	a.mu.Lock()
	var flags EventFlags
	if !a.enabled {
		a.enabled = true
		flags |= EventEnabled
	}
	if string(a.data) != string(data) {
		a.data = append([]byte(nil), data...)
		flags |= EventValueChanged
	}
	a.mu.Unlock()

	if flags != 0 {
		a.notify(flags)
	}
}

// Clear drops the image bytes.
func (a *ImageAttribute) Clear() {
	a.mu.Lock()
	changed := a.data != nil
	a.data = nil
	a.mu.Unlock()

	if changed {
		a.notify(EventValueChanged)
	}
}

// Writable is an element that accepts values from the bus: changeable
// attributes and commands.
type Writable interface {
	Element
	Changeable() bool
	Write(ctx context.Context, raw string) (string, error)
}

// Payloader is an element whose value can be mirrored on the bus.
type Payloader interface {
	Element
	Payload() ([]byte, bool)
}
