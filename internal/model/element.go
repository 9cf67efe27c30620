// Package model is the observable vehicle data model consumed by the
// discovery engine and the MQTT mirror. It is a tree of typed,
// individually enabled attributes and command handles rooted at a
// [Hub]:
//
//	/garage/<VIN>/...          vehicles and their sub-systems
//	/connectors/<id>/...       data sources (healthy, connection_state)
//	/plugins/<id>/...          output plugins (healthy, connection_state)
//
// Every mutation (enable, disable, value change) notifies the hub's
// observers synchronously on the mutating goroutine, in registration
// order. Observers must not mutate the model from inside a callback.
package model

import (
	"slices"
	"strings"
	"sync"
)

// EventFlags is the set of notifications an [Observer] can receive.
type EventFlags uint8

const (
	// EventEnabled fires when an element becomes enabled.
	EventEnabled EventFlags = 1 << iota
	// EventDisabled fires when an element becomes disabled.
	EventDisabled
	// EventValueChanged fires when an attribute value is set, changed,
	// or cleared.
	EventValueChanged
)

// Has reports whether any of the bits in o are set in f.
func (f EventFlags) Has(o EventFlags) bool {
	return f&o != 0
}

func (f EventFlags) String() string {
	var parts []string
	if f.Has(EventEnabled) {
		parts = append(parts, "enabled")
	}
	if f.Has(EventDisabled) {
		parts = append(parts, "disabled")
	}
	if f.Has(EventValueChanged) {
		parts = append(parts, "value_changed")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Element is any addressable node of the model tree.
type Element interface {
	// ID is the last path segment.
	ID() string
	// Path is the absolute path from the hub, e.g.
	// "/garage/WVW1234/odometer". The hub itself has an empty path.
	Path() string
	Enabled() bool
	Parent() Element

	base() *node
}

// Observer receives model notifications.
type Observer func(el Element, flags EventFlags)

// node carries identity, enabled state, and the link back to the hub.
// Attribute types reuse mu to guard their value fields.
type node struct {
	self   Element
	id     string
	parent Element
	hub    *Hub

	mu      sync.RWMutex
	enabled bool
}

func (n *node) init(self Element, id string, parent Element, enabled bool) {
	n.self = self
	n.id = id
	n.parent = parent
	n.enabled = enabled
	if parent != nil {
		n.hub = parent.base().hub
	}
}

func (n *node) base() *node { return n }

// ID returns the element's own path segment.
func (n *node) ID() string { return n.id }

// Parent returns the containing element, or nil for the hub.
func (n *node) Parent() Element { return n.parent }

// Path returns the absolute path of the element.
func (n *node) Path() string {
	if n.parent == nil {
		return ""
	}
	return n.parent.Path() + "/" + n.id
}

// Enabled reports whether the element currently carries data.
func (n *node) Enabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled
}

// Enable marks the element enabled, notifying observers on change.
func (n *node) Enable() { n.setEnabled(true) }

// Disable marks the element disabled, notifying observers on change.
func (n *node) Disable() { n.setEnabled(false) }

func (n *node) setEnabled(v bool) {
	n.mu.Lock()
	changed := n.enabled != v
	n.enabled = v
	n.mu.Unlock()

	if !changed {
		return
	}
	if v {
		n.notify(EventEnabled)
	} else {
		n.notify(EventDisabled)
	}
}

func (n *node) notify(flags EventFlags) {
	if n.hub != nil {
		n.hub.notify(n.self, flags)
	}
}

// Walk calls fn for el and every descendant, depth first. Collections
// are visited in ID order.
func Walk(el Element, fn func(Element)) {
	fn(el)
	if p, ok := el.(interface{ Children() []Element }); ok {
		for _, c := range p.Children() {
			Walk(c, fn)
		}
	}
}

// members is an ID-keyed child collection.
type members[T Element] struct {
	mu    sync.RWMutex
	items map[string]T
}

func (m *members[T]) get(id string) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[id]
	return v, ok
}

// list returns the members sorted by ID so that every traversal of
// the tree is deterministic.
func (m *members[T]) list() []T {
	m.mu.RLock()
	out := make([]T, 0, len(m.items))
	for _, v := range m.items {
		out = append(out, v)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b T) int { return strings.Compare(a.ID(), b.ID()) })
	return out
}

// ensure returns the member with id, creating it with create when
// absent. created reports whether create was called.
func (m *members[T]) ensure(id string, create func() T) (v T, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.items[id]; ok {
		return v, false
	}
	if m.items == nil {
		m.items = make(map[string]T)
	}
	v = create()
	m.items[id] = v
	return v, true
}

func (m *members[T]) remove(id string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[id]
	if ok {
		delete(m.items, id)
	}
	return v, ok
}

func elements[T Element](items []T) []Element {
	out := make([]Element, len(items))
	for i, v := range items {
		out[i] = v
	}
	return out
}
