// Package sport abstracts the serial transport underneath the modem driver.
// A Port is a byte duplex with a blocking line read and a plain write.
// Concrete backends register themselves with RegisterBackend from an init()
// function; importing pkg/sport/all pulls in every real backend.
package sport

import (
	"fmt"
	"time"
)

// DefaultBaud is the line rate of the Iridium 9602, 8-N-1.
const DefaultBaud = 19200

// Config describes how to open a port.
type Config struct {
	// Name of the device, e.g. /dev/ttyUSB0 or COM2.
	Name string
	// Baud rate, DefaultBaud when zero.
	Baud int
	// ReadTimeout bounds a single ReadLine poll.
	ReadTimeout time.Duration
}

// Port is the transport required by the driver and the emulator.
type Port interface {
	Open() error
	Close() error
	IsOpen() bool
	// ReadLine reads until a newline or the timeout elapses and returns
	// whatever arrived, possibly nothing. Binary content is returned as is.
	ReadLine(timeout time.Duration) ([]byte, error)
	Write(p []byte) error
}

// NewPortFunc creates a backend port from a config.
type NewPortFunc func(cfg Config) (Port, error)

// AvailableBackends maps backend names to their constructors.
// Filled by backend packages inside init().
var AvailableBackends = make(map[string]NewPortFunc)

// ImplementedBackends lists the backends this module ships.
var ImplementedBackends = []string{
	"tarm",
	"bugst",
	"virtual",
}

// RegisterBackend registers a port backend under the given name.
// This should be called inside an init() function of the backend package.
func RegisterBackend(name string, newPort NewPortFunc) {
	AvailableBackends[name] = newPort
}

// NewPort creates a port with the given backend.
func NewPort(backend string, cfg Config) (Port, error) {
	newPort, ok := AvailableBackends[backend]
	if !ok {
		for _, implemented := range ImplementedBackends {
			if implemented == backend {
				return nil, fmt.Errorf("backend not enabled : %v, import its package or pkg/sport/all", backend)
			}
		}
		return nil, fmt.Errorf("backend not supported : %v", backend)
	}
	return newPort(cfg)
}
