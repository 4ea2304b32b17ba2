package config

import (
	"os"
	"testing"
)

func TestApplyDefaults(t *testing.T) {
	var c Config
	c.ApplyDefaults()

	if c.HTTP.Port != 8080 {
		t.Errorf("HTTP.Port = %d, want 8080", c.HTTP.Port)
	}
	if c.WS.Path != "/ws/mission-control" {
		t.Errorf("WS.Path = %q, want /ws/mission-control", c.WS.Path)
	}
	if c.Session.TTLSeconds != 3600 {
		t.Errorf("Session.TTLSeconds = %d, want 3600", c.Session.TTLSeconds)
	}
	if c.Events.MaxEventsPerSession != 1000 {
		t.Errorf("Events.MaxEventsPerSession = %d, want 1000", c.Events.MaxEventsPerSession)
	}
	if c.Origin.AlertThreshold != 5 {
		t.Errorf("Origin.AlertThreshold = %d, want 5", c.Origin.AlertThreshold)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.HTTP.Port = 70000 }, wantErr: true},
		{name: "ws path missing slash", mutate: func(c *Config) { c.WS.Path = "mission-control" }, wantErr: true},
		{name: "zero ttl", mutate: func(c *Config) { c.Session.TTLSeconds = 0 }, wantErr: true},
		{name: "empty origin pattern", mutate: func(c *Config) { c.Origin.AllowedOrigins = []string{""} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.ApplyDefaults()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromBytesYAML(t *testing.T) {
	data := []byte(`
http:
  port: 9090
session:
  ttl_seconds: 120
`)
	cfg, err := LoadFromBytes(data)
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("HTTP.Port = %d, want 9090", cfg.HTTP.Port)
	}
	if cfg.Session.TTLSeconds != 120 {
		t.Errorf("Session.TTLSeconds = %d, want 120", cfg.Session.TTLSeconds)
	}
	if cfg.WS.Path == "" {
		t.Error("expected WS.Path default to be applied")
	}
}

func TestLoadFromBytesJSON(t *testing.T) {
	data := []byte(`{"http":{"port":9191},"origin":{"allow_localhost":true}}`)
	cfg, err := LoadFromBytes(data)
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	if cfg.HTTP.Port != 9191 {
		t.Errorf("HTTP.Port = %d, want 9191", cfg.HTTP.Port)
	}
	if !cfg.Origin.AllowLocalhost {
		t.Error("expected Origin.AllowLocalhost to be true")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	os.Setenv("ONEAGENT_MCP_PORT", "9999")
	os.Setenv("ONEAGENT_HOST", "127.0.0.1")
	os.Setenv("ONEAGENT_DISABLE_AUTO_MONITORING", "true")
	defer os.Unsetenv("ONEAGENT_MCP_PORT")
	defer os.Unsetenv("ONEAGENT_HOST")
	defer os.Unsetenv("ONEAGENT_DISABLE_AUTO_MONITORING")

	var c Config
	c.ApplyDefaults()
	if err := c.ApplyEnvOverrides(); err != nil {
		t.Fatalf("ApplyEnvOverrides: %v", err)
	}
	if c.HTTP.Port != 9999 {
		t.Errorf("HTTP.Port = %d, want 9999", c.HTTP.Port)
	}
	if c.HTTP.Host != "127.0.0.1" {
		t.Errorf("HTTP.Host = %q, want 127.0.0.1", c.HTTP.Host)
	}
	if !c.DisableAutoMonitoring {
		t.Error("expected DisableAutoMonitoring to be true")
	}
}

func TestApplyEnvOverridesBadPort(t *testing.T) {
	os.Setenv("ONEAGENT_MCP_PORT", "not-a-number")
	defer os.Unsetenv("ONEAGENT_MCP_PORT")

	var c Config
	c.ApplyDefaults()
	if err := c.ApplyEnvOverrides(); err == nil {
		t.Fatal("expected error for non-numeric ONEAGENT_MCP_PORT")
	}
}

func TestApplyEnvOverridesNoneSet(t *testing.T) {
	var c Config
	c.ApplyDefaults()
	wantPort := c.HTTP.Port
	if err := c.ApplyEnvOverrides(); err != nil {
		t.Fatalf("ApplyEnvOverrides: %v", err)
	}
	if c.HTTP.Port != wantPort {
		t.Errorf("HTTP.Port changed with no env set: got %d, want %d", c.HTTP.Port, wantPort)
	}
}
