package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full deckd server configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	Agent       AgentConfig       `yaml:"agent"`
	Sessions    SessionConfig     `yaml:"sessions"`
	Chat        ChatConfig        `yaml:"chat"`
	Permissions PermissionConfig  `yaml:"permissions"`
	Bandwidth   BandwidthConfig   `yaml:"bandwidth"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"` // base64; empty means load-or-generate via the store
	ProxyURL  string `yaml:"proxy_url"`  // capability proxy handed to spawned agents
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

type AgentConfig struct {
	Command        string `yaml:"command"`         // agent CLI binary, e.g. "claude"
	PermissionTool string `yaml:"permission_tool"` // value for --permission-prompt-tool, empty disables
}

type SessionConfig struct {
	Max            int      `yaml:"max"`
	Scrollback     int      `yaml:"scrollback"`      // bytes
	IdleTimeout    Duration `yaml:"idle_timeout"`
	ReapInterval   Duration `yaml:"reap_interval"`
	FlushInterval  Duration `yaml:"flush_interval"`
	FlushThreshold int      `yaml:"flush_threshold"` // bytes
	TokenTTL       Duration `yaml:"token_ttl"`
}

type ChatConfig struct {
	StartupTimeout Duration `yaml:"startup_timeout"`
	TokenTTL       Duration `yaml:"token_ttl"`
}

type PermissionConfig struct {
	Timeout Duration `yaml:"timeout"`
}

type BandwidthConfig struct {
	BytesPerSec int `yaml:"bytes_per_sec"` // 0 disables metering
	Burst       int `yaml:"burst"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Addr: ":8080"},
		Database: DatabaseConfig{Path: "deckd.db"},
		Agent:    AgentConfig{Command: "claude"},
		Sessions: SessionConfig{
			Max:            20,
			Scrollback:     128 * 1024,
			IdleTimeout:    Duration(30 * time.Minute),
			ReapInterval:   Duration(time.Minute),
			FlushInterval:  Duration(8 * time.Millisecond),
			FlushThreshold: 16 * 1024,
			TokenTTL:       Duration(24 * time.Hour),
		},
		Chat: ChatConfig{
			StartupTimeout: Duration(30 * time.Second),
			TokenTTL:       Duration(time.Hour),
		},
		Permissions: PermissionConfig{Timeout: Duration(5 * time.Minute)},
		Bandwidth:   BandwidthConfig{BytesPerSec: 0, Burst: 1024 * 1024},
		Logging:     LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from path, applying defaults for absent keys
// and environment overrides last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if secret := os.Getenv("DECK_JWT_SECRET"); secret != "" {
		cfg.Server.JWTSecret = secret
	}
	if addr := os.Getenv("DECK_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Agent.Command == "" {
		return fmt.Errorf("agent.command is required")
	}
	if c.Sessions.Max <= 0 {
		return fmt.Errorf("sessions.max must be positive")
	}
	if c.Sessions.Scrollback <= 0 {
		return fmt.Errorf("sessions.scrollback must be positive")
	}
	if c.Sessions.IdleTimeout <= 0 || c.Sessions.ReapInterval <= 0 {
		return fmt.Errorf("sessions.idle_timeout and sessions.reap_interval must be positive")
	}
	if c.Chat.StartupTimeout <= 0 {
		return fmt.Errorf("chat.startup_timeout must be positive")
	}
	if c.Permissions.Timeout <= 0 {
		return fmt.Errorf("permissions.timeout must be positive")
	}
	return nil
}
