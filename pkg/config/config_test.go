package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Default()
	cfg.Trunk = "eth1"
	cfg.Tap = "tap0"
	cfg.Bridge = "trunk0"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing trunk", func(c *Config) { c.Trunk = "" }, true},
		{"missing tap", func(c *Config) { c.Tap = "" }, true},
		{"no tap needs no tap name", func(c *Config) { c.Tap = ""; c.NoTap = true }, false},
		{"missing bridge", func(c *Config) { c.Bridge = "" }, true},
		{"missing vlan dir", func(c *Config) { c.VLANDir = "" }, true},
		{"static vlans replace dir", func(c *Config) { c.VLANDir = ""; c.VLANs = []int{100} }, false},
		{"name too long", func(c *Config) { c.Bridge = "averyverylongbridge" }, true},
		{"name with slash", func(c *Config) { c.Trunk = "eth/1" }, true},
		{"same names", func(c *Config) { c.Bridge = "eth1" }, true},
		{"unknown backend", func(c *Config) { c.Backend = "ovs" }, true},
		{"iproute2 backend", func(c *Config) { c.Backend = BackendIPRoute2 }, false},
		{"negative parallel", func(c *Config) { c.Parallel = -1 }, true},
		{"negative timeout", func(c *Config) { c.CommandTimeout = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsConfigError(err) {
				t.Errorf("expected *ConfigError, got %T", err)
			}
		})
	}
}

func TestValidateReportsAllMissing(t *testing.T) {
	err := Config{VLANDir: DefaultVLANDir}.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, flag := range []string{"-i", "-t", "-b"} {
		if !strings.Contains(err.Error(), flag) {
			t.Errorf("expected %s in error, got %q", flag, err.Error())
		}
	}
}

func TestTapEnabled(t *testing.T) {
	cfg := validConfig()
	if !cfg.TapEnabled() {
		t.Error("tap should be enabled by default")
	}
	cfg.NoTap = true
	if cfg.TapEnabled() {
		t.Error("tap should be disabled with NoTap")
	}
}

func TestActionFrom(t *testing.T) {
	if a, err := ActionFrom(true, false); err != nil || a != ActionStart {
		t.Errorf("expected start, got %q, %v", a, err)
	}
	if a, err := ActionFrom(false, true); err != nil || a != ActionStop {
		t.Errorf("expected stop, got %q, %v", a, err)
	}
	if _, err := ActionFrom(true, true); !IsConfigError(err) {
		t.Errorf("expected ConfigError for both, got %v", err)
	}
	if _, err := ActionFrom(false, false); !IsConfigError(err) {
		t.Errorf("expected ConfigError for neither, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trunktap.yaml")
	data := `trunk: eth1
tap: tap0
bridge: trunk0
noTap: true
vlans: [100, 105]
backend: iproute2
parallel: 4
commandTimeout: 5s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Trunk != "eth1" || cfg.Tap != "tap0" || cfg.Bridge != "trunk0" {
		t.Errorf("unexpected names: %+v", cfg)
	}
	if !cfg.NoTap {
		t.Error("expected noTap")
	}
	if cfg.VLANDir != DefaultVLANDir {
		t.Errorf("expected default vlan dir, got %q", cfg.VLANDir)
	}
	if len(cfg.VLANs) != 2 {
		t.Errorf("expected 2 static VLANs, got %v", cfg.VLANs)
	}
	if cfg.Backend != BackendIPRoute2 || cfg.Parallel != 4 || cfg.CommandTimeout != 5*time.Second {
		t.Errorf("unexpected execution settings: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !IsConfigError(err) {
		t.Errorf("expected ConfigError for missing file, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(path, []byte("trunk: [unterminated"), 0o644)
	if _, err := Load(path); !IsConfigError(err) {
		t.Errorf("expected ConfigError for bad yaml, got %v", err)
	}
}
