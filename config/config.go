// Package config loads boot-time node configuration from a file or the
// environment via spf13/viper, and validates it with a per-field
// default-then-range-check discipline, returning an error for values out
// of range.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// BootConfig is the set of values a node needs before Stack.Init can run:
// which serial devices to open and at what speed, the tick rate, and the
// IEC-14908-derived timing constants a deployment may legally retune
// within the ranges the standard allows.
type BootConfig struct {
	// Interfaces lists the USB/serial device paths to open at startup,
	// e.g. "/dev/ttyUSB0".
	Interfaces []string

	// BaudRate is the serial line speed for every configured interface.
	BaudRate int

	// TickInterval is how often Service is expected to be called;
	// cmd/lonnode uses it as the period of its service ticker.
	TickInterval time.Duration

	// QueueDepth bounds every FIFO queue the stack allocates.
	QueueDepth int

	// Enhanced selects the 12-bit transaction ID wire format.
	Enhanced bool

	// NonGroupReceiveTimeout is the receive-record lifetime for
	// subnet/node and broadcast addressed messages. The standard
	// specifies this as a configurable value in [0, 3] minutes with a
	// default of 3 seconds for typical deployments. It is validated here
	// but not passed to the stack, which uses tsa.NonGroupReceiveTimer.
	NonGroupReceiveTimeout time.Duration

	// MetricsAddr, if non-empty, is the address the Prometheus exporter
	// listens on, e.g. ":9110".
	MetricsAddr string
}

// Load reads configuration from path (if non-empty), environment
// variables prefixed LON_, and defaults, then validates it.
func Load(path string) (*BootConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("LON")
	v.AutomaticEnv()

	v.SetDefault("interfaces", []string{})
	v.SetDefault("baudrate", 38400)
	v.SetDefault("tickinterval", time.Millisecond)
	v.SetDefault("queuedepth", 16)
	v.SetDefault("enhanced", false)
	v.SetDefault("nongroupreceivetimeout", 3*time.Second)
	v.SetDefault("metricsaddr", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	cfg := &BootConfig{
		Interfaces:             v.GetStringSlice("interfaces"),
		BaudRate:               v.GetInt("baudrate"),
		TickInterval:           v.GetDuration("tickinterval"),
		QueueDepth:             v.GetInt("queuedepth"),
		Enhanced:               v.GetBool("enhanced"),
		NonGroupReceiveTimeout: v.GetDuration("nongroupreceivetimeout"),
		MetricsAddr:            v.GetString("metricsaddr"),
	}
	return cfg.check()
}

// check applies IEC-derived defaults for each unspecified value and
// returns an error for values outside the standard's legal range.
func (c *BootConfig) check() (*BootConfig, error) {
	if c.BaudRate == 0 {
		c.BaudRate = 38400
	} else if c.BaudRate < 1200 || c.BaudRate > 1000000 {
		return nil, fmt.Errorf("config: BaudRate %d out of range [1200, 1000000]", c.BaudRate)
	}

	if c.QueueDepth == 0 {
		c.QueueDepth = 16
	} else if c.QueueDepth < 1 || c.QueueDepth > 255 {
		return nil, fmt.Errorf("config: QueueDepth %d out of range [1, 255]", c.QueueDepth)
	}

	if c.NonGroupReceiveTimeout == 0 {
		c.NonGroupReceiveTimeout = 3 * time.Second
	} else if c.NonGroupReceiveTimeout < 0 || c.NonGroupReceiveTimeout > 3*time.Minute {
		return nil, fmt.Errorf("config: NonGroupReceiveTimeout %s out of range [0, 3m]", c.NonGroupReceiveTimeout)
	}

	if c.TickInterval <= 0 {
		c.TickInterval = time.Millisecond
	}

	return c, nil
}
