// Package discovery publishes Home Assistant MQTT device-discovery
// documents for the vehicle model and keeps them in sync.
//
// One document is rendered per vehicle (topic
// <ha_prefix>/device/<VIN>/config) and one for the bridge itself with
// its connectors and plugins. Documents are content-hashed so an
// unchanged model never republishes, except after a broker reconnect
// or a Home Assistant restart ("online" on <ha_prefix>/status), which
// force a full resync.
//
// Alongside the documents the package derives a few synthetic topics
// that Home Assistant entity types need but the model does not carry:
// on/off states for charging and climatization, the HVAC action and
// mode pair for the climate entity, and a combined latitude/longitude
// payload for the device tracker.
package discovery

import (
	"strings"

	"github.com/nugget/carbridge/internal/model"
)

// WriteSuffix is appended to an element's state topic to form the
// topic on which it accepts writes.
const WriteSuffix = "_writetopic"

// Suffixes of the derived topics, appended to the owning node's path.
const (
	SuffixBinaryState = "/binarystate"
	SuffixHVACAction  = "/hvac_action"
	SuffixHVACMode    = "/hvac_mode"
	SuffixAttributes  = "/attributes"
)

// AbsoluteTopic returns the state topic of el under the transport
// prefix.
func AbsoluteTopic(prefix string, el model.Element) string {
	return prefix + el.Path()
}

// WriteTopic returns the command topic of el under the transport
// prefix.
func WriteTopic(prefix string, el model.Element) string {
	return AbsoluteTopic(prefix, el) + WriteSuffix
}

// StatusTopic is the topic Home Assistant announces its birth and
// death on.
func StatusTopic(haPrefix string) string {
	return haPrefix + "/status"
}

// DeviceTopic is the discovery config topic for a device.
func DeviceTopic(haPrefix, deviceID string) string {
	return haPrefix + "/device/" + deviceID + "/config"
}

// SystemID derives the bridge's device id from the transport prefix,
// e.g. "carconnectivity/0" becomes "carconnectivity-0".
func SystemID(prefix string) string {
	return strings.ReplaceAll(prefix, "/", "-")
}
