package typira

import (
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	defaults "github.com/Paranoid-AF/typira/default"
)

// Config represents the user's typira configuration.
type Config struct {
	Version     int               `toml:"version"`
	Backend     BackendConfig     `toml:"backend"`
	Agent       AgentConfig       `toml:"agent"`
	Sync        SyncConfig        `toml:"sync"`
	Suggest     SuggestConfig     `toml:"suggest"`
	Credentials CredentialsConfig `toml:"credentials"`
	Memory      MemoryConfig      `toml:"memory"`
	Calendar    CalendarConfig    `toml:"calendar"`
}

// BackendConfig holds settings for the HTTP endpoints (/suggest, /rewrite, ...).
type BackendConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// AgentConfig holds settings for the duplex agent channel.
type AgentConfig struct {
	URL                    string `toml:"url"`
	Namespace              string `toml:"namespace"`
	Reconnect              *bool  `toml:"reconnect"`
	EmbedToken             *bool  `toml:"embed_token"`
	ResponseTimeoutSeconds int    `toml:"response_timeout_seconds"`
	ReconnectDelayMS       int    `toml:"reconnect_delay_ms"`
	MaxReconnectDelayMS    int    `toml:"max_reconnect_delay_ms"`
}

// SyncConfig holds the context buffer and sync scheduler settings.
type SyncConfig struct {
	DebounceMS    int `toml:"debounce_ms"`
	OverflowChars int `toml:"overflow_chars"`
	BufferLimit   int `toml:"buffer_limit"`
}

// SuggestConfig holds the inline suggestion trigger settings.
type SuggestConfig struct {
	BoundaryDelayMS int `toml:"boundary_delay_ms"`
	MidwordDelayMS  int `toml:"midword_delay_ms"`
	MinChars        int `toml:"min_chars"`
	CacheTTLSeconds int `toml:"cache_ttl_seconds"`
}

// CredentialsConfig selects where the auth token is read from.
type CredentialsConfig struct {
	// Source is "keyring", "file" or "none".
	Source         string `toml:"source"`
	KeyringService string `toml:"keyring_service"`
	KeyringKey     string `toml:"keyring_key"`
	TokenFile      string `toml:"token_file"`
}

// MemoryConfig holds the remembered-snippet store settings.
type MemoryConfig struct {
	// Path of the SQLite database. Empty means <config dir>/memories.db.
	Path string `toml:"path"`
}

// CalendarConfig holds the calendar_event action settings.
type CalendarConfig struct {
	Enabled *bool `toml:"enabled"`
	// Path of the iCalendar file. Empty means <config dir>/calendar.ics.
	Path string `toml:"path"`
}

// ConfigDir returns the config directory path.
// Resolution order: $TYPIRA_CONFIG_DIR > $XDG_CONFIG_HOME/typira > ~/.config/typira
func ConfigDir() string {
	if dir := os.Getenv("TYPIRA_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "typira")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "typira-config")
	}
	return filepath.Join(home, ".config", "typira")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DefaultConfig returns the default configuration from the embedded default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if _, err := toml.Decode(defaults.DefaultConfigTOML, &cfg); err != nil {
		panic("typira: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from disk or returns defaults if not found.
// Keys missing from the file keep their default values.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigPath())
}

// LoadConfigFrom loads config from path layered over the defaults.
func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	// Zero numbers in the file mean "unset"; pointer fields already keep defaults.
	d := DefaultConfig()
	if cfg.Backend.TimeoutSeconds <= 0 {
		cfg.Backend.TimeoutSeconds = d.Backend.TimeoutSeconds
	}
	if cfg.Agent.ResponseTimeoutSeconds <= 0 {
		cfg.Agent.ResponseTimeoutSeconds = d.Agent.ResponseTimeoutSeconds
	}
	if cfg.Sync.DebounceMS <= 0 {
		cfg.Sync.DebounceMS = d.Sync.DebounceMS
	}
	if cfg.Sync.OverflowChars <= 0 {
		cfg.Sync.OverflowChars = d.Sync.OverflowChars
	}
	if cfg.Sync.BufferLimit <= 0 {
		cfg.Sync.BufferLimit = d.Sync.BufferLimit
	}
	if cfg.Suggest.BoundaryDelayMS <= 0 {
		cfg.Suggest.BoundaryDelayMS = d.Suggest.BoundaryDelayMS
	}
	if cfg.Suggest.MidwordDelayMS <= 0 {
		cfg.Suggest.MidwordDelayMS = d.Suggest.MidwordDelayMS
	}
	return cfg, nil
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if _, err := url.ParseRequestURI(ResolveBackendURL(cfg)); err != nil {
		warnings = append(warnings, "backend.base_url is not a valid URL; suggestions will be unavailable")
	}
	if _, err := url.ParseRequestURI(ResolveAgentURL(cfg)); err != nil {
		warnings = append(warnings, "agent.url is not a valid URL; the agent channel will not connect")
	}
	if cfg.Sync.OverflowChars > cfg.Sync.BufferLimit {
		warnings = append(warnings, "sync.overflow_chars exceeds sync.buffer_limit; the overflow flush will never trigger")
	}
	switch cfg.Credentials.Source {
	case "keyring", "file", "none", "":
	default:
		warnings = append(warnings, "unknown credentials.source "+cfg.Credentials.Source+"; connecting without a token")
	}
	if cfg.Credentials.Source == "file" && cfg.Credentials.TokenFile == "" {
		warnings = append(warnings, "credentials.source is file but credentials.token_file is empty")
	}
	return warnings
}

// ResolveBackendURL returns the HTTP backend base URL.
// Priority: $TYPIRA_BACKEND_URL env > config value.
func ResolveBackendURL(cfg *Config) string {
	if u := os.Getenv("TYPIRA_BACKEND_URL"); u != "" {
		return u
	}
	if cfg != nil {
		return cfg.Backend.BaseURL
	}
	return ""
}

// ResolveAgentURL returns the agent channel origin.
// Priority: $TYPIRA_AGENT_URL env > config value > backend URL.
func ResolveAgentURL(cfg *Config) string {
	if u := os.Getenv("TYPIRA_AGENT_URL"); u != "" {
		return u
	}
	if cfg != nil && cfg.Agent.URL != "" {
		return cfg.Agent.URL
	}
	return ResolveBackendURL(cfg)
}

// ResolveToken returns a token from $TYPIRA_TOKEN, or empty when unset.
func ResolveToken() string {
	return os.Getenv("TYPIRA_TOKEN")
}

// MemoryPath returns the memory database path.
func MemoryPath(cfg *Config) string {
	if cfg != nil && cfg.Memory.Path != "" {
		return cfg.Memory.Path
	}
	return filepath.Join(ConfigDir(), "memories.db")
}

// CalendarPath returns the iCalendar file path.
func CalendarPath(cfg *Config) string {
	if cfg != nil && cfg.Calendar.Path != "" {
		return cfg.Calendar.Path
	}
	return filepath.Join(ConfigDir(), "calendar.ics")
}

// CalendarEnabled reports whether calendar_event actions may write events.
func CalendarEnabled(cfg *Config) bool {
	return cfg != nil && cfg.Calendar.Enabled != nil && *cfg.Calendar.Enabled
}

// ReconnectEnabled reports whether the agent channel reconnects on drop.
func ReconnectEnabled(cfg *Config) bool {
	return cfg == nil || cfg.Agent.Reconnect == nil || *cfg.Agent.Reconnect
}

// EmbedTokenEnabled reports whether the token is embedded in event payloads.
func EmbedTokenEnabled(cfg *Config) bool {
	return cfg != nil && cfg.Agent.EmbedToken != nil && *cfg.Agent.EmbedToken
}

// Milliseconds converts a millisecond config value to a duration.
func Milliseconds(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Seconds converts a second config value to a duration.
func Seconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}
