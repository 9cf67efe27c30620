// Package mqtt is the broker side of carbridge.
//
// [Client] wraps Eclipse Paho v2's [autopaho] connection manager with
// automatic reconnection. It publishes a retained "connected" birth
// message on the availability topic after every (re-)connect, and a
// will message flips that topic to "disconnected" on unexpected loss.
// Subscriptions live in a topic registry and are restored on every
// reconnect. Inbound messages pass a rate limiter and are delivered to
// registered callbacks by a single dispatcher goroutine.
//
// [Mirror] publishes model attribute values, retained, under the
// configured prefix and routes <path>_writetopic messages back into
// the model as attribute writes or command invocations.
//
// The discovery router uses [Client] as its transport.
package mqtt
