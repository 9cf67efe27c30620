package discovery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Platform is a Home Assistant entity platform.
type Platform string

// Entity platforms emitted by the renderer.
const (
	PlatformSensor        Platform = "sensor"
	PlatformBinarySensor  Platform = "binary_sensor"
	PlatformSwitch        Platform = "switch"
	PlatformLock          Platform = "lock"
	PlatformNumber        Platform = "number"
	PlatformClimate       Platform = "climate"
	PlatformDeviceTracker Platform = "device_tracker"
	PlatformImage         Platform = "image"
	PlatformButton        Platform = "button"
)

// Availability ties an entity to the transport connection state.
type Availability struct {
	Topic               string `json:"topic"`
	PayloadNotAvailable string `json:"payload_not_available"`
	PayloadAvailable    string `json:"payload_available"`
}

// Component is one entity descriptor inside a discovery document.
// Payload and state fields are typed any because some entities use
// booleans instead of strings.
type Component struct {
	Platform    Platform `json:"p"`
	Name        string   `json:"name,omitempty"`
	Icon        string   `json:"icon,omitempty"`
	DeviceClass string   `json:"device_class,omitempty"`

	StateTopic          string `json:"state_topic,omitempty"`
	CommandTopic        string `json:"command_topic,omitempty"`
	JSONAttributesTopic string `json:"json_attributes_topic,omitempty"`
	ImageTopic          string `json:"image_topic,omitempty"`
	ContentType         string `json:"content_type,omitempty"`

	ActionTopic             string   `json:"action_topic,omitempty"`
	ModeCommandTopic        string   `json:"mode_command_topic,omitempty"`
	ModeStateTopic          string   `json:"mode_state_topic,omitempty"`
	Modes                   []string `json:"modes,omitempty"`
	PowerCommandTopic       string   `json:"power_command_topic,omitempty"`
	TemperatureStateTopic   string   `json:"temperature_state_topic,omitempty"`
	TemperatureCommandTopic string   `json:"temperature_command_topic,omitempty"`
	TemperatureUnit         string   `json:"temperature_unit,omitempty"`
	MinTemp                 *float64 `json:"min_temp,omitempty"`
	MaxTemp                 *float64 `json:"max_temp,omitempty"`
	TempStep                *float64 `json:"temp_step,omitempty"`

	PayloadOn     any    `json:"payload_on,omitempty"`
	PayloadOff    any    `json:"payload_off,omitempty"`
	PayloadPress  string `json:"payload_press,omitempty"`
	PayloadLock   string `json:"payload_lock,omitempty"`
	PayloadUnlock string `json:"payload_unlock,omitempty"`
	StateOn       any    `json:"state_on,omitempty"`
	StateOff      any    `json:"state_off,omitempty"`
	StateLocked   string `json:"state_locked,omitempty"`
	StateUnlocked string `json:"state_unlocked,omitempty"`

	Unit    string   `json:"unit_of_measurement,omitempty"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Step    *float64 `json:"step,omitempty"`
	Options []string `json:"options,omitempty"`

	SourceType string `json:"source_type,omitempty"`

	UniqueID     string         `json:"unique_id"`
	Availability []Availability `json:"availability,omitempty"`
}

// Device is the device block of a discovery document.
type Device struct {
	IDs          string `json:"ids"`
	Name         string `json:"name,omitempty"`
	Manufacturer string `json:"mf,omitempty"`
	Model        string `json:"mdl,omitempty"`
	Hardware     string `json:"hw,omitempty"`
	Software     string `json:"sw,omitempty"`
	Serial       string `json:"sn,omitempty"`
}

// Origin identifies the software that produced a document.
type Origin struct {
	Name     string `json:"name"`
	Software string `json:"sw"`
	URL      string `json:"url"`
}

// Document is a complete device-discovery payload.
type Document struct {
	// ID is the dedup key, a VIN or the system id.
	ID string `json:"-"`
	// Topic is where the document is published.
	Topic string `json:"-"`

	Device     Device                `json:"device"`
	Origin     Origin                `json:"origin"`
	Components map[string]*Component `json:"cmps"`
}

// Marshal serializes the document the way it is published: indented
// with four spaces, keys of cmps sorted. Equal documents always
// marshal to equal bytes.
func (d *Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("marshal discovery document %s: %w", d.ID, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Builder collects component descriptors for one device, keyed by
// unique_id. Later writes to the same key replace the earlier
// descriptor; Extend modifies one in place.
type Builder struct {
	device string
	cmps   map[string]*Component
}

// NewBuilder starts an empty component set for device.
func NewBuilder(device string) *Builder {
	return &Builder{device: device, cmps: make(map[string]*Component)}
}

// ID derives the unique_id <device>_<part>_<part>... for a facet.
func (b *Builder) ID(parts ...string) string {
	return b.device + "_" + strings.Join(parts, "_")
}

// Add stores c under the unique_id derived from facet, replacing any
// earlier descriptor with the same key.
func (b *Builder) Add(c *Component, facet ...string) *Component {
	c.UniqueID = b.ID(facet...)
	b.cmps[c.UniqueID] = c
	return c
}

// Extend applies fn to the descriptor stored under the facet's
// unique_id. It reports false, without calling fn, when no such
// descriptor has been added.
func (b *Builder) Extend(fn func(*Component), facet ...string) bool {
	c, ok := b.cmps[b.ID(facet...)]
	if !ok {
		return false
	}
	fn(c)
	return true
}

// Has reports whether a descriptor exists for the facet.
func (b *Builder) Has(facet ...string) bool {
	_, ok := b.cmps[b.ID(facet...)]
	return ok
}

// Len returns the number of descriptors.
func (b *Builder) Len() int { return len(b.cmps) }

// Components returns the collected descriptors, each stamped with the
// given availability clause.
func (b *Builder) Components(avail []Availability) map[string]*Component {
	for _, c := range b.cmps {
		c.Availability = avail
	}
	return b.cmps
}
