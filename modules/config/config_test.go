package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/e7canasta/pocket-trk/modules/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := config.Load("../../configs/pocket-trk.yaml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Input.FsMHz != 12.0 || !cfg.Input.IQ {
		t.Errorf("input = %+v", cfg.Input)
	}

	specs := cfg.ChannelSpecs()
	if len(specs) != 32+36+14 {
		t.Fatalf("len(ChannelSpecs) = %d, want %d", len(specs), 32+36+14)
	}
	if specs[0].Sig != "L1CA" || specs[0].PRN != 1 || specs[0].Fi != 0 {
		t.Errorf("first spec = %+v", specs[0])
	}
	last := specs[len(specs)-1]
	if last.Sig != "G1CA" || last.PRN != 6 || last.Fi != 3e6 {
		t.Errorf("last spec = %+v", last)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "channels:\n  - sig: l1ca\n    prns: \"1,3\"\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Input.FsMHz != 12.0 {
		t.Errorf("fs_mhz = %v, want 12.0", cfg.Input.FsMHz)
	}
	if cfg.Receiver.BufferCycles != 1000 || cfg.Receiver.StatusIntervalS != 0.1 {
		t.Errorf("receiver = %+v", cfg.Receiver)
	}
	if cfg.Log.Level != 4 {
		t.Errorf("log.level = %d, want 4", cfg.Log.Level)
	}
	if cfg.Acquisition.MaxDopHz != 5000 || cfg.Acquisition.SpCorr != 0.5 {
		t.Errorf("acquisition = %+v", cfg.Acquisition)
	}
	if cfg.MQTT.TopicPrefix != "pocketsdr/status" || cfg.MQTT.Encoding != "json" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}

	specs := cfg.ChannelSpecs()
	if len(specs) != 2 || specs[1].PRN != 3 || specs[1].Sig != "L1CA" {
		t.Errorf("ChannelSpecs = %+v", specs)
	}
}

func TestLoadLevelZeroKept(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "log:\n  level: 0\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != 0 {
		t.Errorf("log.level = %d, want 0 (stdout)", cfg.Log.Level)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"negative fs", "input:\n  fs_mhz: -1\n", "fs_mhz"},
		{"negative toff", "input:\n  toff_s: -2\n", "toff_s"},
		{"bad prn list", "channels:\n  - sig: L1CA\n    prns: \"1-x\"\n", "channels[0]"},
		{"missing sig", "channels:\n  - prns: \"1\"\n", "sig is required"},
		{"qos", "mqtt:\n  qos: 3\n", "qos"},
		{"encoding", "mqtt:\n  encoding: xml\n", "mqtt.encoding"},
		{"negative level", "log:\n  level: -1\n", "log.level"},
		{"yaml syntax", "input: [\n", "parse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatal("Load succeeded, want error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %v, want mention of %q", err, tc.want)
			}
		})
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of a missing file succeeded")
	}
}
