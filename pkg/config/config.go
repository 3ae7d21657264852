// Package config loads driver settings from an ini file.
//
// Example:
//
//	[serial]
//	backend = tarm
//	port = /dev/ttyUSB0
//	baud = 19200
//	read_timeout = 10ms
//	connect_timeout = 2s
//
//	[options]
//	echo = true
//	ring_alerts = true
//	auto_read = true
//	flow_control = false
//	telephone = false
package config

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"

	"github.com/justengel/goiridium9602/pkg/modem"
	"github.com/justengel/goiridium9602/pkg/sport"
)

// DefaultBackend is used when the [serial] section names none.
const DefaultBackend = "tarm"

// Config mirrors the ini file contents with defaults applied.
type Config struct {
	Backend        string
	Serial         sport.Config
	ConnectTimeout time.Duration
	Options        modem.Options
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Backend: DefaultBackend,
		Serial: sport.Config{
			Baud:        sport.DefaultBaud,
			ReadTimeout: modem.DefaultTimeout,
		},
		ConnectTimeout: modem.DefaultConnectTimeout,
		Options:        modem.DefaultOptions(),
	}
}

// Load reads an ini file. Missing keys keep their defaults.
func Load(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("could not load config %v: %w", path, err)
	}
	return fromFile(file)
}

func fromFile(file *ini.File) (*Config, error) {
	cfg := Default()

	serial := file.Section("serial")
	if key := serial.Key("backend"); key.String() != "" {
		cfg.Backend = key.String()
	}
	cfg.Serial.Name = serial.Key("port").String()
	if key := serial.Key("baud"); key.String() != "" {
		baud, err := key.Int()
		if err != nil {
			return nil, fmt.Errorf("invalid baud %q: %w", key.String(), err)
		}
		cfg.Serial.Baud = baud
	}
	if key := serial.Key("read_timeout"); key.String() != "" {
		d, err := key.Duration()
		if err != nil {
			return nil, fmt.Errorf("invalid read_timeout %q: %w", key.String(), err)
		}
		cfg.Serial.ReadTimeout = d
	}
	if key := serial.Key("connect_timeout"); key.String() != "" {
		d, err := key.Duration()
		if err != nil {
			return nil, fmt.Errorf("invalid connect_timeout %q: %w", key.String(), err)
		}
		cfg.ConnectTimeout = d
	}

	options := file.Section("options")
	for _, key := range options.Keys() {
		value, err := key.Bool()
		if err != nil {
			return nil, fmt.Errorf("invalid option %v=%q: %w", key.Name(), key.String(), err)
		}
		cfg.Options.Set(key.Name(), value)
	}
	return cfg, nil
}

// NewPort creates the serial port the config describes.
func (cfg *Config) NewPort() (sport.Port, error) {
	return sport.NewPort(cfg.Backend, cfg.Serial)
}

// NewCommunicator builds a Communicator from the config: port, timeouts
// and options.
func (cfg *Config) NewCommunicator() (*modem.Communicator, error) {
	port, err := cfg.NewPort()
	if err != nil {
		return nil, err
	}
	c := modem.New(port)
	cfg.Apply(c)
	return c, nil
}

// Apply copies timeouts and options onto an existing Communicator.
func (cfg *Config) Apply(c *modem.Communicator) {
	if cfg.Serial.ReadTimeout > 0 {
		c.SetTimeout(cfg.Serial.ReadTimeout)
	}
	if cfg.ConnectTimeout > 0 {
		c.SetConnectTimeout(cfg.ConnectTimeout)
	}
	for name, value := range cfg.Options {
		c.SetOption(name, value)
	}
}
