package config

import (
	"fmt"
	"strings"

	"github.com/e7canasta/pocket-trk/modules/channel"
)

// ChannelSpec is one channel to start.
type ChannelSpec struct {
	Sig string
	PRN int
	Fi  float64 // IF frequency (Hz)
}

// Validate checks the configuration and fills defaults for zero values.
func Validate(cfg *Config) error {
	if cfg.Input.FsMHz <= 0 {
		return fmt.Errorf("input.fs_mhz must be > 0")
	}
	if cfg.Input.ToffS < 0 {
		return fmt.Errorf("input.toff_s must be >= 0")
	}

	if cfg.Acquisition.MaxDopHz <= 0 {
		cfg.Acquisition.MaxDopHz = 5000
	}
	if cfg.Acquisition.SpCorr <= 0 {
		cfg.Acquisition.SpCorr = 0.5
	}

	if cfg.Receiver.BufferCycles <= 0 {
		cfg.Receiver.BufferCycles = 1000
	}
	if cfg.Receiver.StatusIntervalS <= 0 {
		cfg.Receiver.StatusIntervalS = 0.1
	}
	if cfg.Receiver.DrainTimeoutS <= 0 {
		cfg.Receiver.DrainTimeoutS = 10
	}

	if cfg.Log.Level < 0 {
		return fmt.Errorf("log.level must be >= 0")
	}

	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "pocketsdr/status"
	}
	cfg.MQTT.TopicPrefix = strings.TrimSuffix(cfg.MQTT.TopicPrefix, "/")
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	switch cfg.MQTT.Encoding {
	case "":
		cfg.MQTT.Encoding = "json"
	case "json", "msgpack":
	default:
		return fmt.Errorf("mqtt.encoding must be json or msgpack")
	}

	for i, g := range cfg.Channels {
		if g.Sig == "" {
			return fmt.Errorf("channels[%d]: sig is required", i)
		}
		if _, err := channel.ParseNums(g.PRNs); err != nil {
			return fmt.Errorf("channels[%d]: %w", i, err)
		}
	}

	return nil
}

// ChannelSpecs expands the channel groups into one spec per PRN, in file
// order. Signal and PRN validity is left to channel construction so that a
// bad entry only costs its own channel.
func (c *Config) ChannelSpecs() []ChannelSpec {
	var specs []ChannelSpec
	for _, g := range c.Channels {
		fi := c.Input.FiMHz
		if g.FiMHz != nil {
			fi = *g.FiMHz
		}
		prns, err := channel.ParseNums(g.PRNs)
		if err != nil {
			continue
		}
		for _, prn := range prns {
			specs = append(specs, ChannelSpec{Sig: strings.ToUpper(g.Sig), PRN: prn, Fi: fi * 1e6})
		}
	}
	return specs
}
