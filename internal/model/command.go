package model

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrNoHandler is returned when a command is invoked before anything
// has registered to execute it.
var ErrNoHandler = errors.New("command has no handler")

// Well-known command ids.
const (
	CommandWakeSleep  = "wake-sleep"
	CommandLockUnlock = "lock-unlock"
	CommandStartStop  = "start-stop"
)

// Transform rewrites an incoming command value before the handler
// sees it.
type Transform func(value string) string

// CommandHandler executes a command value.
type CommandHandler func(ctx context.Context, cmd *Command, value string) error

type namedTransform struct {
	name string
	fn   Transform
}

// Command is a write-only handle that triggers a vehicle action.
type Command struct {
	node

	fmu        sync.Mutex
	transforms []namedTransform
	handler    CommandHandler
}

// SetTransform installs fn under name. Installing the same name again
// replaces the earlier transform instead of stacking it; a nil fn
// removes it. Transforms run in installation order.
func (c *Command) SetTransform(name string, fn Transform) {
	c.fmu.Lock()
	defer c.fmu.Unlock()

	i := slices.IndexFunc(c.transforms, func(t namedTransform) bool { return t.name == name })
	switch {
	case fn == nil && i >= 0:
		c.transforms = slices.Delete(c.transforms, i, i+1)
	case fn == nil:
	case i >= 0:
		c.transforms[i].fn = fn
	default:
		c.transforms = append(c.transforms, namedTransform{name: name, fn: fn})
	}
}

// TransformCount returns the number of installed transforms.
func (c *Command) TransformCount() int {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	return len(c.transforms)
}

// SetHandler installs the function that executes the command.
func (c *Command) SetHandler(h CommandHandler) {
	c.fmu.Lock()
	c.handler = h
	c.fmu.Unlock()
}

// Apply runs the installed transforms over value.
func (c *Command) Apply(value string) string {
	c.fmu.Lock()
	ts := slices.Clone(c.transforms)
	c.fmu.Unlock()

	for _, t := range ts {
		value = t.fn(value)
	}
	return value
}

// Changeable is always true; commands exist to be written.
func (c *Command) Changeable() bool { return true }

// Write transforms raw and passes it to the handler. It returns the
// value the handler received.
func (c *Command) Write(ctx context.Context, raw string) (string, error) {
	value := c.Apply(raw)

	c.fmu.Lock()
	h := c.handler
	c.fmu.Unlock()

	if h == nil {
		return value, fmt.Errorf("%s: %w", c.Path(), ErrNoHandler)
	}
	if err := h(ctx, c, value); err != nil {
		return value, fmt.Errorf("%s: %w", c.Path(), err)
	}
	return value, nil
}

// Invoke is Write without the translated value.
func (c *Command) Invoke(ctx context.Context, raw string) error {
	_, err := c.Write(ctx, raw)
	return err
}

// Commands is the set of commands a sub-system supports.
type Commands struct {
	node
	cmds members[*Command]
}

func newCommands(parent Element) *Commands {
	c := &Commands{}
	c.init(c, "commands", parent, true)
	return c
}

// Get returns the command with id.
func (c *Commands) Get(id string) (*Command, bool) {
	cmd, ok := c.cmds.get(id)
	if !ok || !cmd.Enabled() {
		return nil, false
	}
	return cmd, true
}

// Has reports whether an enabled command with id exists.
func (c *Commands) Has(id string) bool {
	_, ok := c.Get(id)
	return ok
}

// Add registers (or re-enables) the command with id.
func (c *Commands) Add(id string) *Command {
	cmd, _ := c.cmds.ensure(id, func() *Command {
		cmd := &Command{}
		cmd.init(cmd, id, c, false)
		return cmd
	})
	cmd.Enable()
	return cmd
}

// Remove disables the command with id. The handle and its transforms
// survive so that a later Add restores it unchanged.
func (c *Commands) Remove(id string) {
	if cmd, ok := c.cmds.get(id); ok {
		cmd.Disable()
	}
}

// IDs returns the enabled command IDs in order.
func (c *Commands) IDs() []string {
	var ids []string
	for _, cmd := range c.cmds.list() {
		if cmd.Enabled() {
			ids = append(ids, cmd.ID())
		}
	}
	return ids
}

// List returns every command handle, enabled or not.
func (c *Commands) List() []*Command { return c.cmds.list() }

// Children implements tree traversal for [Walk].
func (c *Commands) Children() []Element { return elements(c.cmds.list()) }
