package modem

import "strings"

// Options is the driver option map. Lookups are case insensitive and
// unknown names are false.
type Options map[string]bool

// DefaultOptions returns the options a new Communicator starts with.
func DefaultOptions() Options {
	return Options{
		"echo":         true,
		"ring_alerts":  true,
		"auto_read":    true,
		"flow_control": false,
		"telephone":    false,
	}
}

// Get returns the value of the named option, case insensitive. Unknown
// names are false.
func (o Options) Get(name string) bool {
	return o[strings.ToLower(name)]
}

// Set sets the named option, case insensitive.
func (o Options) Set(name string, value bool) {
	o[strings.ToLower(name)] = value
}

// Option returns the value of the named option.
func (c *Communicator) Option(name string) bool {
	c.optMu.RLock()
	defer c.optMu.RUnlock()
	return c.opts.Get(name)
}

// SetOption sets the named option. Some options must be set before the
// connection is made to take effect on the modem.
func (c *Communicator) SetOption(name string, value bool) {
	c.optMu.Lock()
	defer c.optMu.Unlock()
	c.opts.Set(name, value)
}
