package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Log configures the zap logger of a binary.
type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Build returns a logger for the configured level and mode.
func (l Log) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}

	var cfg zap.Config
	if l.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// Server holds the configuration of chatd.
type Server struct {
	Addr    string `yaml:"addr"`
	BaseURL string `yaml:"base_url"`

	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`

	Auth struct {
		Secret   string        `yaml:"secret"`
		TokenTTL time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	Storage struct {
		Root string `yaml:"root"`
	} `yaml:"storage"`

	Realtime struct {
		NatsURL       string `yaml:"nats_url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"realtime"`

	Log Log `yaml:"log"`
}

// Client holds the configuration of chatcli.
type Client struct {
	Server string `yaml:"server"`

	// MirrorPath is the SQLite file of the local mirror. Empty disables
	// the mirror.
	MirrorPath string `yaml:"mirror_path"`

	// SessionPath is the file the login session is kept in.
	SessionPath string `yaml:"session_path"`

	ResubscribeDelay time.Duration `yaml:"resubscribe_delay"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`

	Log Log `yaml:"log"`
}

// LoadServer reads the chatd configuration from path. A missing path yields
// the defaults.
func LoadServer(path string) (*Server, error) {
	cfg := &Server{}
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	cfg.Auth.Secret = os.ExpandEnv(cfg.Auth.Secret)
	cfg.Database.DSN = os.ExpandEnv(cfg.Database.DSN)
	cfg.Realtime.NatsURL = os.ExpandEnv(cfg.Realtime.NatsURL)
	cfg.setDefaults()

	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("auth.secret must be set")
	}
	return cfg, nil
}

func (c *Server) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost" + c.Addr
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "chatd.db"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 30 * 24 * time.Hour
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "storage"
	}
	if c.Realtime.SubjectPrefix == "" {
		c.Realtime.SubjectPrefix = "chatd.changes"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// LoadClient reads the chatcli configuration from path. A missing path
// yields the defaults.
func LoadClient(path string) (*Client, error) {
	cfg := &Client{}
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	cfg.MirrorPath = os.ExpandEnv(cfg.MirrorPath)
	cfg.SessionPath = os.ExpandEnv(cfg.SessionPath)
	cfg.setDefaults()
	return cfg, nil
}

func (c *Client) setDefaults() {
	if c.Server == "" {
		c.Server = "http://localhost:8080"
	}
	if c.SessionPath == "" {
		c.SessionPath = os.ExpandEnv("$HOME/.chatcli/session.yml")
	}
	if c.ResubscribeDelay == 0 {
		c.ResubscribeDelay = 2 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "warn"
	}
}

func load(path string, out any) error {
	if path == "" {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("failed to decode config file: %w", err)
	}
	return nil
}
