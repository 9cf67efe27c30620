package model

import "sync"

// Component is a connector (data source) or plugin (output). Both
// report health and, optionally, a connection state.
type Component struct {
	node

	nameMu sync.RWMutex
	name   string

	Healthy         *BoolAttribute
	ConnectionState *EnumAttribute
}

// Name returns the human-readable component name, falling back to the
// id.
func (c *Component) Name() string {
	c.nameMu.RLock()
	defer c.nameMu.RUnlock()
	if c.name == "" {
		return c.id
	}
	return c.name
}

// SetName replaces the display name.
func (c *Component) SetName(name string) {
	c.nameMu.Lock()
	c.name = name
	c.nameMu.Unlock()
}

// Children implements tree traversal for [Walk].
func (c *Component) Children() []Element { return []Element{c.Healthy, c.ConnectionState} }

// Components is a registry of connectors or plugins.
type Components struct {
	node
	items members[*Component]
}

func newComponents(id string, h *Hub) *Components {
	c := &Components{}
	c.init(c, id, h, true)
	return c
}

// Ensure returns the component with id, creating it when absent. A
// non-empty name replaces the display name.
func (c *Components) Ensure(id, name string) *Component {
	comp, created := c.items.ensure(id, func() *Component {
		comp := &Component{name: name}
		comp.init(comp, id, c, true)
		comp.Healthy = newAttribute[bool]("healthy", comp)
		comp.ConnectionState = newEnumAttribute("connection_state", comp, ComponentConnectionStates)
		return comp
	})
	if created {
		comp.notify(EventEnabled)
		return comp
	}
	if name != "" {
		comp.SetName(name)
	}
	comp.Enable()
	return comp
}

// Get returns the component with id.
func (c *Components) Get(id string) (*Component, bool) { return c.items.get(id) }

// Remove disables and drops the component with id.
func (c *Components) Remove(id string) {
	if comp, ok := c.items.remove(id); ok {
		comp.Disable()
	}
}

// List returns the components sorted by id.
func (c *Components) List() []*Component { return c.items.list() }

// Children implements tree traversal for [Walk].
func (c *Components) Children() []Element { return elements(c.items.list()) }
