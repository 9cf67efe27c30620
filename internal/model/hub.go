package model

import (
	"slices"
	"sync"
)

type observerEntry struct {
	id    int
	flags EventFlags
	fn    Observer
}

// Hub is the root of the model tree and the notification dispatcher.
type Hub struct {
	node

	obsMu     sync.Mutex
	observers []observerEntry
	seq       int

	garage     *Garage
	connectors *Components
	plugins    *Components
}

// NewHub creates an empty model with a garage, a connector registry,
// and a plugin registry.
func NewHub() *Hub {
	h := &Hub{}
	h.node.self = h
	h.node.hub = h
	h.node.enabled = true

	h.garage = newGarage(h)
	h.connectors = newComponents("connectors", h)
	h.plugins = newComponents("plugins", h)
	return h
}

// Observe registers fn for every notification whose flags intersect
// flags. The returned cancel function removes the registration and is
// safe to call more than once.
func (h *Hub) Observe(flags EventFlags, fn Observer) (cancel func()) {
	h.obsMu.Lock()
	h.seq++
	id := h.seq
	h.observers = append(h.observers, observerEntry{id: id, flags: flags, fn: fn})
	h.obsMu.Unlock()

	return func() {
		h.obsMu.Lock()
		defer h.obsMu.Unlock()
		h.observers = slices.DeleteFunc(h.observers, func(o observerEntry) bool { return o.id == id })
	}
}

// ObserverCount returns the number of registered observers.
func (h *Hub) ObserverCount() int {
	h.obsMu.Lock()
	defer h.obsMu.Unlock()
	return len(h.observers)
}

func (h *Hub) notify(el Element, flags EventFlags) {
	h.obsMu.Lock()
	obs := slices.Clone(h.observers)
	h.obsMu.Unlock()

	for _, o := range obs {
		if o.flags.Has(flags) {
			o.fn(el, flags)
		}
	}
}

// Garage returns the vehicle container.
func (h *Hub) Garage() *Garage { return h.garage }

// Vehicles returns all vehicles sorted by VIN.
func (h *Hub) Vehicles() []*Vehicle { return h.garage.Vehicles() }

// ConnectorRegistry returns the connector container.
func (h *Hub) ConnectorRegistry() *Components { return h.connectors }

// PluginRegistry returns the plugin container.
func (h *Hub) PluginRegistry() *Components { return h.plugins }

// Connectors returns all connectors sorted by ID.
func (h *Hub) Connectors() []*Component { return h.connectors.List() }

// Plugins returns all plugins sorted by ID.
func (h *Hub) Plugins() []*Component { return h.plugins.List() }

// Children implements tree traversal for [Walk].
func (h *Hub) Children() []Element {
	return []Element{h.garage, h.connectors, h.plugins}
}

// Lookup finds the element at an absolute path, or nil.
func (h *Hub) Lookup(path string) Element {
	var found Element
	Walk(h, func(el Element) {
		if found == nil && el.Path() == path {
			found = el
		}
	})
	return found
}
