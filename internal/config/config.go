// Package config provides Viper-based configuration loading for the battle server.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener.
	Port int `mapstructure:"port"`
	// ReadTimeout bounds reading a request's headers and body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout bounds writing a REST response. WebSocket writes use
	// websocket.write_timeout instead.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// AllowedOrigins lists Origin header values accepted on WebSocket
	// upgrade. Empty accepts same-origin requests only; "*" accepts any.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// ConnectAttempts is how many times the startup ping is tried.
	ConnectAttempts int `mapstructure:"connect_attempts"`
	// ConnectBackoff is the first wait between startup pings; it doubles.
	ConnectBackoff time.Duration `mapstructure:"connect_backoff"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// Directory backends.
const (
	DirectoryMemory   = "memory"
	DirectoryPostgres = "postgres"
)

// DirectoryConfig selects where channel membership is looked up.
type DirectoryConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `mapstructure:"backend"`
	// Open makes the memory backend treat every caller as a member of every
	// channel. Intended for local development.
	Open bool `mapstructure:"open"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// File, when set, additionally writes JSON logs to a rotating file.
	File string `mapstructure:"file"`
	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files kept.
	MaxBackups int `mapstructure:"max_backups"`
	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// WebSocketConfig holds per-connection transport settings.
type WebSocketConfig struct {
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
}

// BattleConfig holds per-channel battle tuning.
type BattleConfig struct {
	// Width and Height size the open battlefield used when Layout is empty.
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
	// Layout names the battlefield (by ID) loaded from LayoutDir.
	Layout    string `mapstructure:"layout"`
	LayoutDir string `mapstructure:"layout_dir"`

	MinPlayers   int `mapstructure:"min_players"`
	MaxHealth    int `mapstructure:"max_health"`
	AttackDamage int `mapstructure:"attack_damage"`
	HealAmount   int `mapstructure:"heal_amount"`

	// QueueSize bounds each channel's request inbox.
	QueueSize int `mapstructure:"queue_size"`
	// TurnTimeout ends an idle turn automatically; 0 disables.
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`
	// ReconnectGrace is how long a disconnected player keeps their place.
	ReconnectGrace time.Duration `mapstructure:"reconnect_grace"`
	// IdleTTL tears down a channel nobody watches; 0 disables.
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
	// SweepInterval is how often idle channels are looked for.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// NPCScript is the Lua policy driving NPC turns; empty makes NPCs pass.
	NPCScript string `mapstructure:"npc_script"`
	// NPCDelay paces NPC actions so clients can follow them.
	NPCDelay time.Duration `mapstructure:"npc_delay"`
	// ScriptInstructionLimit bounds one NPC decision; 0 uses the default.
	ScriptInstructionLimit int `mapstructure:"script_instruction_limit"`
	// ScriptStates is how many NPC decisions may run at once across channels.
	ScriptStates int `mapstructure:"script_states"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Battle    BattleConfig    `mapstructure:"battle"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateDirectory(c.Directory); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Directory.Backend == DirectoryPostgres {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateWebSocket(c.WebSocket); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateBattle(c.Battle); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", s.Port))
	}
	if s.ReadTimeout < 0 {
		errs = append(errs, "server.read_timeout must not be negative")
	}
	if s.WriteTimeout < 0 {
		errs = append(errs, "server.write_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDirectory(d DirectoryConfig) error {
	switch d.Backend {
	case DirectoryMemory, DirectoryPostgres:
		return nil
	default:
		return fmt.Errorf("directory.backend must be one of [memory, postgres], got %q", d.Backend)
	}
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if d.ConnectAttempts < 1 {
		errs = append(errs, fmt.Sprintf("database.connect_attempts must be >= 1, got %d", d.ConnectAttempts))
	}
	if d.ConnectBackoff < 0 {
		errs = append(errs, "database.connect_backoff must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	if l.File != "" && l.MaxSizeMB < 1 {
		return fmt.Errorf("logging.max_size_mb must be >= 1 when logging.file is set, got %d", l.MaxSizeMB)
	}
	return nil
}

func validateWebSocket(w WebSocketConfig) error {
	var errs []string
	if w.WriteTimeout <= 0 {
		errs = append(errs, "websocket.write_timeout must be positive")
	}
	if w.PongWait <= 0 {
		errs = append(errs, "websocket.pong_wait must be positive")
	}
	if w.PingPeriod <= 0 || w.PingPeriod >= w.PongWait {
		errs = append(errs, "websocket.ping_period must be positive and shorter than websocket.pong_wait")
	}
	if w.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("websocket.send_buffer must be >= 1, got %d", w.SendBuffer))
	}
	if w.MaxMessageBytes < 1 {
		errs = append(errs, fmt.Sprintf("websocket.max_message_bytes must be >= 1, got %d", w.MaxMessageBytes))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateBattle(b BattleConfig) error {
	var errs []string
	if b.Layout == "" && (b.Width < 1 || b.Height < 1) {
		errs = append(errs, fmt.Sprintf("battle.width and battle.height must be >= 1, got %dx%d", b.Width, b.Height))
	}
	if b.Layout != "" && b.LayoutDir == "" {
		errs = append(errs, "battle.layout_dir must be set when battle.layout is set")
	}
	if b.MinPlayers < 1 {
		errs = append(errs, fmt.Sprintf("battle.min_players must be >= 1, got %d", b.MinPlayers))
	}
	if b.MaxHealth < 1 {
		errs = append(errs, fmt.Sprintf("battle.max_health must be >= 1, got %d", b.MaxHealth))
	}
	if b.AttackDamage < 0 {
		errs = append(errs, fmt.Sprintf("battle.attack_damage must be >= 0, got %d", b.AttackDamage))
	}
	if b.HealAmount < 0 {
		errs = append(errs, fmt.Sprintf("battle.heal_amount must be >= 0, got %d", b.HealAmount))
	}
	if b.QueueSize < 1 {
		errs = append(errs, fmt.Sprintf("battle.queue_size must be >= 1, got %d", b.QueueSize))
	}
	for name, d := range map[string]time.Duration{
		"turn_timeout":    b.TurnTimeout,
		"reconnect_grace": b.ReconnectGrace,
		"idle_ttl":        b.IdleTTL,
		"npc_delay":       b.NPCDelay,
	} {
		if d < 0 {
			errs = append(errs, fmt.Sprintf("battle.%s must not be negative", name))
		}
	}
	if b.SweepInterval <= 0 {
		errs = append(errs, "battle.sweep_interval must be positive")
	}
	if b.ScriptInstructionLimit < 0 {
		errs = append(errs, fmt.Sprintf("battle.script_instruction_limit must be >= 0, got %d", b.ScriptInstructionLimit))
	}
	if b.ScriptStates < 1 {
		errs = append(errs, fmt.Sprintf("battle.script_states must be >= 1, got %d", b.ScriptStates))
	}
	if len(errs) > 0 {
		// Map iteration order is random; keep messages stable.
		sort.Strings(errs)
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path loads defaults and
// environment overrides only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()

	// Environment variable overrides with HEXBATTLE_ prefix
	v.SetEnvPrefix("HEXBATTLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a viper instance holding only the default values.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "hexbattle")
	v.SetDefault("database.password", "hexbattle")
	v.SetDefault("database.name", "hexbattle")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.connect_attempts", 5)
	v.SetDefault("database.connect_backoff", "1s")

	v.SetDefault("directory.backend", DirectoryMemory)
	v.SetDefault("directory.open", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)

	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.ping_period", "54s")
	v.SetDefault("websocket.send_buffer", 64)
	v.SetDefault("websocket.max_message_bytes", 4096)

	v.SetDefault("battle.width", 12)
	v.SetDefault("battle.height", 10)
	v.SetDefault("battle.layout", "")
	v.SetDefault("battle.layout_dir", "content/battlefields")
	v.SetDefault("battle.min_players", 2)
	v.SetDefault("battle.max_health", 100)
	v.SetDefault("battle.attack_damage", 10)
	v.SetDefault("battle.heal_amount", 15)
	v.SetDefault("battle.queue_size", 64)
	v.SetDefault("battle.turn_timeout", "90s")
	v.SetDefault("battle.reconnect_grace", "30s")
	v.SetDefault("battle.idle_ttl", "10m")
	v.SetDefault("battle.sweep_interval", "30s")
	v.SetDefault("battle.npc_script", "")
	v.SetDefault("battle.npc_delay", "500ms")
	v.SetDefault("battle.script_instruction_limit", 0)
	v.SetDefault("battle.script_states", 4)
}
