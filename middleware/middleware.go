// Package middleware implements the announce pipeline of the tracker: an
// ordered chain of validating hooks followed by the swarm, accounting and
// response stages.
package middleware

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

var (
	driversM sync.RWMutex
	drivers  = make(map[string]Driver)

	// ErrDriverDoesNotExist is the error returned by NewHook when a
	// middleware driver with that name does not exist.
	ErrDriverDoesNotExist = errors.New("middleware driver with that name does not exist")
)

// Driver is the interface used to initialize a configurable Hook.
//
// The options parameter is YAML encoded bytes that should be unmarshalled into
// the hook's custom configuration.
type Driver interface {
	NewHook(options []byte) (Hook, error)
}

// RegisterDriver makes a Driver available by the provided name.
//
// If called twice with the same name, the name is blank, or if the provided
// Driver is nil, this function panics.
func RegisterDriver(name string, d Driver) {
	if name == "" {
		panic("middleware: could not register a Driver with an empty name")
	}
	if d == nil {
		panic("middleware: could not register a nil Driver")
	}

	driversM.Lock()
	defer driversM.Unlock()

	if _, dup := drivers[name]; dup {
		panic("middleware: RegisterDriver called twice for " + name)
	}

	drivers[name] = d
}

// Drivers returns the sorted names of the registered Drivers.
func Drivers() []string {
	driversM.RLock()
	defer driversM.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HookConfig is the generic configuration format used for all registered Hooks.
type HookConfig struct {
	Name    string                 `yaml:"name"`
	Options map[string]interface{} `yaml:"options"`
}

// NewHook initializes the Hook described by cfg.
//
// If its driver does not exist, the returned error wraps
// ErrDriverDoesNotExist.
func NewHook(cfg HookConfig) (Hook, error) {
	driversM.RLock()
	d, ok := drivers[cfg.Name]
	driversM.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrDriverDoesNotExist, "hook %q", cfg.Name)
	}

	// The options were decoded generically; encode them again for the driver.
	optionBytes, err := yaml.Marshal(cfg.Options)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid options for hook %q", cfg.Name)
	}

	h, err := d.NewHook(optionBytes)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create hook %q", cfg.Name)
	}
	return h, nil
}

// NewHooks initializes the Hooks described by cfgs, in order.
func NewHooks(cfgs []HookConfig) ([]Hook, error) {
	hooks := make([]Hook, 0, len(cfgs))
	for _, cfg := range cfgs {
		h, err := NewHook(cfg)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, h)
	}
	return hooks, nil
}
