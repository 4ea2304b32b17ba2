package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the top-level transport-core configuration, loaded from YAML
// (or JSON, which is a YAML subset) and overridable by environment
// variables at process start.
type Config struct {
	HTTP    HTTPConfig    `json:"http" yaml:"http"`
	WS      WSConfig      `json:"ws" yaml:"ws"`
	Origin  OriginConfig  `json:"origin" yaml:"origin"`
	Session SessionConfig `json:"session" yaml:"session"`
	Events  EventsConfig  `json:"events" yaml:"events"`
	OAuth   *OAuthConfig  `json:"oauth,omitempty" yaml:"oauth,omitempty"`
	Audit   AuditConfig   `json:"audit" yaml:"audit"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Redact  RedactConfig  `json:"redact" yaml:"redact"`

	// DisableAutoMonitoring turns off the background health_delta and
	// metrics_tick channel emitters — set via
	// ONEAGENT_DISABLE_AUTO_MONITORING so tests don't race background
	// timers.
	DisableAutoMonitoring bool `json:"disable_auto_monitoring,omitempty" yaml:"disable_auto_monitoring,omitempty"`
}

// HTTPConfig controls the HTTP MCP transport.
type HTTPConfig struct {
	Host                string `json:"host,omitempty" yaml:"host,omitempty"`
	Port                int    `json:"port,omitempty" yaml:"port,omitempty"`
	ProtocolVersion     string `json:"protocol_version,omitempty" yaml:"protocol_version,omitempty"`
	RequestTimeoutSecs  int    `json:"request_timeout_seconds,omitempty" yaml:"request_timeout_seconds,omitempty"`
	MaxRequestBodyBytes int64  `json:"max_request_body_bytes,omitempty" yaml:"max_request_body_bytes,omitempty"`
	HeartbeatSeconds    int    `json:"heartbeat_seconds,omitempty" yaml:"heartbeat_seconds,omitempty"`
}

// WSConfig controls the Mission-Control WebSocket transport.
type WSConfig struct {
	Path                string `json:"path,omitempty" yaml:"path,omitempty"`
	HeartbeatSeconds    int    `json:"heartbeat_seconds,omitempty" yaml:"heartbeat_seconds,omitempty"`
	MissionStartRPM     int    `json:"mission_start_rpm,omitempty" yaml:"mission_start_rpm,omitempty"`
	EngineFailThreshold int    `json:"engine_fail_threshold,omitempty" yaml:"engine_fail_threshold,omitempty"`
	EngineCooldownSecs  int    `json:"engine_cooldown_seconds,omitempty" yaml:"engine_cooldown_seconds,omitempty"`
}

// OriginConfig controls the Origin Validator.
type OriginConfig struct {
	AllowedOrigins          []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
	AllowLocalhost          bool     `json:"allow_localhost" yaml:"allow_localhost"`
	AllowFileProtocol       bool     `json:"allow_file_protocol" yaml:"allow_file_protocol"`
	AllowVSCodeWebview      bool     `json:"allow_vscode_webview" yaml:"allow_vscode_webview"`
	RequireOriginHeader     bool     `json:"require_origin_header" yaml:"require_origin_header"`
	LogUnauthorizedAttempts bool     `json:"log_unauthorized_attempts" yaml:"log_unauthorized_attempts"`
	AlertThreshold          int      `json:"alert_threshold,omitempty" yaml:"alert_threshold,omitempty"`
}

// SessionConfig controls the Session Store.
type SessionConfig struct {
	TTLSeconds        int `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
	ReapIntervalSecs  int `json:"reap_interval_seconds,omitempty" yaml:"reap_interval_seconds,omitempty"`
}

// EventsConfig controls the Event Log.
type EventsConfig struct {
	MaxEventsPerSession int `json:"max_events_per_session,omitempty" yaml:"max_events_per_session,omitempty"`
	MaxAgeSeconds       int `json:"max_age_seconds,omitempty" yaml:"max_age_seconds,omitempty"`
}

// OAuthConfig advertises optional OAuth2 capability on `initialize` and
// backs the `auth/status` dispatcher method. Full authorization-code
// issuance is out of scope; this only carries the discovery/status shape.
type OAuthConfig struct {
	AuthorizationURL string   `json:"authorization_url,omitempty" yaml:"authorization_url,omitempty"`
	TokenURL         string   `json:"token_url,omitempty" yaml:"token_url,omitempty"`
	Scopes           []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// AuditConfig controls the optional persistent mission/session audit sink.
type AuditConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DBPath  string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// LoggingConfig controls the ambient slog-based logger.
type LoggingConfig struct {
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
}

// RedactConfig lists literal values (configured credentials, usually
// supplied via ${VAR} expansion) that must never appear in outgoing
// error messages, on top of the built-in secret-shape scrubbing.
type RedactConfig struct {
	Secrets []string `json:"secrets,omitempty" yaml:"secrets,omitempty"`
}

// ApplyDefaults fills in unset fields with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Host == "" {
		c.HTTP.Host = "0.0.0.0"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ProtocolVersion == "" {
		c.HTTP.ProtocolVersion = "2025-06-18"
	}
	if c.HTTP.RequestTimeoutSecs == 0 {
		c.HTTP.RequestTimeoutSecs = 30
	}
	if c.HTTP.MaxRequestBodyBytes == 0 {
		c.HTTP.MaxRequestBodyBytes = 10 * 1024 * 1024
	}
	if c.HTTP.HeartbeatSeconds == 0 {
		c.HTTP.HeartbeatSeconds = 20
	}

	if c.WS.Path == "" {
		c.WS.Path = "/ws/mission-control"
	}
	if c.WS.HeartbeatSeconds == 0 {
		c.WS.HeartbeatSeconds = 30
	}
	if c.WS.MissionStartRPM == 0 {
		c.WS.MissionStartRPM = 30
	}
	if c.WS.EngineFailThreshold == 0 {
		c.WS.EngineFailThreshold = 5
	}
	if c.WS.EngineCooldownSecs == 0 {
		c.WS.EngineCooldownSecs = 30
	}

	if c.Origin.AlertThreshold == 0 {
		c.Origin.AlertThreshold = 5
	}

	if c.Session.TTLSeconds == 0 {
		c.Session.TTLSeconds = 3600
	}
	if c.Session.ReapIntervalSecs == 0 {
		c.Session.ReapIntervalSecs = 300
	}

	if c.Events.MaxEventsPerSession == 0 {
		c.Events.MaxEventsPerSession = 1000
	}
	if c.Events.MaxAgeSeconds == 0 {
		c.Events.MaxAgeSeconds = 3600
	}

	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Audit.DBPath == "" {
		c.Audit.DBPath = "./mission-audit.db"
	}
}

// Validate checks the config for internal consistency after defaults are
// applied.
func (c *Config) Validate() error {
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port: out of range: %d", c.HTTP.Port)
	}
	if !strings.HasPrefix(c.WS.Path, "/") {
		return fmt.Errorf("ws.path: must start with '/': %q", c.WS.Path)
	}
	if c.Session.TTLSeconds <= 0 {
		return fmt.Errorf("session.ttl_seconds: must be positive")
	}
	if c.Events.MaxEventsPerSession <= 0 {
		return fmt.Errorf("events.max_events_per_session: must be positive")
	}
	for i, o := range c.Origin.AllowedOrigins {
		if o == "" {
			return fmt.Errorf("origin.allowed_origins[%d]: empty pattern", i)
		}
	}
	return nil
}

// ApplyEnvOverrides applies the three process-level environment overrides
// documented for this transport core: ONEAGENT_MCP_PORT and ONEAGENT_HOST
// override the HTTP bind address, and ONEAGENT_DISABLE_AUTO_MONITORING
// disables the background channel emitters (health_delta/metrics_tick)
// so tests don't race timers. Called after ApplyDefaults so overrides
// win, and before Validate so a bad override is still caught.
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("ONEAGENT_MCP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ONEAGENT_MCP_PORT: %w", err)
		}
		c.HTTP.Port = port
	}
	if v := os.Getenv("ONEAGENT_HOST"); v != "" {
		c.HTTP.Host = v
	}
	if v := os.Getenv("ONEAGENT_DISABLE_AUTO_MONITORING"); v != "" {
		disabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ONEAGENT_DISABLE_AUTO_MONITORING: %w", err)
		}
		c.DisableAutoMonitoring = disabled
	}
	return nil
}

// ExpandEnv expands ${VAR} references in string fields that commonly carry
// secrets or environment-specific values.
func (c *Config) ExpandEnv() error {
	var err error
	if c.OAuth != nil {
		if c.OAuth.AuthorizationURL, err = ExpandEnvStrict(c.OAuth.AuthorizationURL); err != nil {
			return fmt.Errorf("oauth.authorization_url: %w", err)
		}
		if c.OAuth.TokenURL, err = ExpandEnvStrict(c.OAuth.TokenURL); err != nil {
			return fmt.Errorf("oauth.token_url: %w", err)
		}
	}
	if c.Audit.DBPath, err = ExpandEnvStrict(c.Audit.DBPath); err != nil {
		return fmt.Errorf("audit.db_path: %w", err)
	}
	return nil
}
