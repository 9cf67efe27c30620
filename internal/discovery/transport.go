package discovery

import (
	"context"

	"github.com/nugget/carbridge/internal/model"
)

// Transport is the publish/subscribe client the router drives.
// internal/mqtt.Client is the production implementation.
type Transport interface {
	// Prefix is prepended to every model path to form its topic.
	Prefix() string
	// AvailabilityTopic carries the transport's own connection state.
	AvailabilityTopic() string
	IsConnected() bool

	Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error
	Subscribe(ctx context.Context, topic string, qos byte) error
	// AddTopic declares a synthetic topic before first use. Repeated
	// calls for the same topic are no-ops.
	AddTopic(topic string, filter, subscribe, writeable bool)

	// Callback registration. Each returns a function that removes the
	// callback.
	OnMessage(fn func(topic string, payload []byte)) (remove func())
	OnConnect(fn func(reasonCode byte)) (remove func())
	OnDisconnect(fn func(err error)) (remove func())
}

// Model is the read and notification surface of the vehicle model.
// *model.Hub implements it.
type Model interface {
	Vehicles() []*model.Vehicle
	Connectors() []*model.Component
	Plugins() []*model.Component
	Observe(flags model.EventFlags, fn model.Observer) (cancel func())
}
