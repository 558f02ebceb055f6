// Package config loads the receiver's YAML configuration file. Command-line
// flags override file values field by field.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete receiver configuration
type Config struct {
	Input       InputConfig    `yaml:"input"`
	Channels    []ChannelGroup `yaml:"channels"`
	Acquisition AcqConfig      `yaml:"acquisition"`
	Receiver    ReceiverConfig `yaml:"receiver"`
	Log         LogConfig      `yaml:"log"`
	HTTP        HTTPConfig     `yaml:"http"`
	MQTT        MQTTConfig     `yaml:"mqtt"`
}

// InputConfig describes the IF sample stream
type InputConfig struct {
	Path  string  `yaml:"path"`   // file, "-" for stdin, "gst:<pipeline>"
	FsMHz float64 `yaml:"fs_mhz"` // sampling frequency (default: 12.0)
	FiMHz float64 `yaml:"fi_mhz"` // default IF frequency of channel groups
	IQ    bool    `yaml:"iq"`     // I/Q sampling
	ToffS float64 `yaml:"toff_s"` // time offset into the input
}

// ChannelGroup is one signal with its PRN list, e.g. {sig: L1CA, prns: "1-32"}
type ChannelGroup struct {
	Sig   string   `yaml:"sig"`
	PRNs  string   `yaml:"prns"`
	FiMHz *float64 `yaml:"fi_mhz,omitempty"` // overrides input.fi_mhz
}

// AcqConfig contains acquisition settings passed to every channel
type AcqConfig struct {
	RefDopHz float64 `yaml:"ref_dop_hz"`
	MaxDopHz float64 `yaml:"max_dop_hz"` // default: 5000
	SpCorr   float64 `yaml:"sp_corr"`    // correlator spacing in chips (default: 0.5)
}

// ReceiverConfig contains cycle loop settings
type ReceiverConfig struct {
	BufferCycles    int     `yaml:"buffer_cycles"`     // ring buffer slots (default: 1000)
	StatusIntervalS float64 `yaml:"status_interval_s"` // status update interval (default: 0.1)
	Quiet           bool    `yaml:"quiet"`             // suppress status display
	Sync            bool    `yaml:"sync"`              // writer backpressure + drain at end of stream
	DrainTimeoutS   float64 `yaml:"drain_timeout_s"`   // sync mode drain bound (default: 10)
	PinCPUs         bool    `yaml:"pin_cpus"`          // pin channel workers to CPUs
}

// LogConfig contains record stream settings
type LogConfig struct {
	Path    string `yaml:"path"`     // record stream path
	Level   int    `yaml:"level"`    // record level (default: 4, 0 = stdout)
	OutPath string `yaml:"out_path"` // decoded message output stream
}

// HTTPConfig contains health server settings
type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables the server
}

// MQTTConfig contains status publishing settings
type MQTTConfig struct {
	Broker      string `yaml:"broker"`       // empty disables publishing
	TopicPrefix string `yaml:"topic_prefix"` // default: pocketsdr/status
	QoS         byte   `yaml:"qos"`
	ClientID    string `yaml:"client_id"` // default: pocket-trk-<run id>
	Encoding    string `yaml:"encoding"`  // json (default) or msgpack
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Input: InputConfig{
			FsMHz: 12.0,
		},
		Acquisition: AcqConfig{
			MaxDopHz: 5000,
			SpCorr:   0.5,
		},
		Receiver: ReceiverConfig{
			BufferCycles:    1000,
			StatusIntervalS: 0.1,
			DrainTimeoutS:   10,
		},
		Log: LogConfig{
			Level: 4,
		},
		MQTT: MQTTConfig{
			TopicPrefix: "pocketsdr/status",
		},
	}
}

// Load reads and parses a YAML configuration file on top of Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
