// Package config loads todomaster settings from a YAML file, TODOMASTER_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Store modes.
const (
	ModeMemory = "memory"
	ModeRemote = "remote"
)

// EnvPrefix prefixes every environment override, e.g. TODOMASTER_SERVER_ADDRESS.
const EnvPrefix = "TODOMASTER"

// Config is the complete application configuration.
type Config struct {
	Mode    string       `yaml:"mode" mapstructure:"mode"`
	DataDir string       `yaml:"data_dir" mapstructure:"data_dir"`
	Demo    bool         `yaml:"demo" mapstructure:"demo"`
	Server  ServerConfig `yaml:"server" mapstructure:"server"`
	Daemon  DaemonConfig `yaml:"daemon" mapstructure:"daemon"`
	Log     LogConfig    `yaml:"log" mapstructure:"log"`
}

// ServerConfig locates the document store for remote mode.
type ServerConfig struct {
	Address string `yaml:"address" mapstructure:"address"`
}

// DaemonConfig configures the document store daemon.
type DaemonConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen"`
	DBPath string `yaml:"db_path" mapstructure:"db_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
}

// DefaultDataDir returns ~/.todomaster.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".todomaster"
	}
	return filepath.Join(home, ".todomaster")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Mode:    ModeMemory,
		DataDir: DefaultDataDir(),
		Server:  ServerConfig{Address: "http://127.0.0.1:7467"},
		Daemon:  DaemonConfig{Listen: "127.0.0.1:7467"},
		Log:     LogConfig{Level: "info"},
	}
}

// Validate checks the configuration for values the application cannot use.
func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case ModeMemory, ModeRemote:
	default:
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModeMemory, ModeRemote, c.Mode))
	}
	if c.Mode == ModeRemote {
		u, err := url.Parse(c.Server.Address)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("server.address must be an http(s) URL, got %q", c.Server.Address))
		}
	}
	if c.Daemon.Listen == "" {
		errs = append(errs, errors.New("daemon.listen is required"))
	}
	if hclog.LevelFromString(c.Log.Level) == hclog.NoLevel {
		errs = append(errs, fmt.Errorf("log.level %q is not a valid level", c.Log.Level))
	}
	return errors.Join(errs...)
}

// DBPath returns the daemon database path, defaulting into the data directory.
func (c *Config) DBPath() string {
	if c.Daemon.DBPath != "" {
		return c.Daemon.DBPath
	}
	return filepath.Join(c.DataDir, "todomaster.db")
}

// LogFile returns the log file path, defaulting into the data directory.
func (c *Config) LogFile() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.DataDir, "todomaster.log")
}

// Loader reads configuration through its own viper instance.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a Loader with defaults and environment overrides registered.
func NewLoader() *Loader {
	v := viper.New()
	d := Default()
	v.SetDefault("mode", d.Mode)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("demo", d.Demo)
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("daemon.listen", d.Daemon.Listen)
	v.SetDefault("daemon.db_path", d.Daemon.DBPath)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// BindFlag makes a set flag override key.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("bind %s: flag not defined", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Load reads path, or DefaultPath when empty. A missing default file is not
// an error; a missing explicit file is.
func (l *Loader) Load(path string) (*Config, error) {
	return l.load(path, path != "")
}

// LoadIfExists is Load without the requirement that an explicit file exists.
func (l *Loader) LoadIfExists(path string) (*Config, error) {
	return l.load(path, false)
}

func (l *Loader) load(path string, mustExist bool) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	path = expandHome(path)

	if _, err := os.Stat(path); err == nil || mustExist {
		l.v.SetConfigFile(path)
		l.v.SetConfigType("yaml")
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Daemon.DBPath = expandHome(cfg.Daemon.DBPath)
	cfg.Log.File = expandHome(cfg.Log.File)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Load reads configuration without flag overrides.
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// Save writes cfg as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
