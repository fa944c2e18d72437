// Package config loads the vortexd configuration from a YAML file with
// CLI flag overrides, and can watch the file for changes, swapping in a
// freshly parsed Config atomically.
package config

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DB holds the upstream Postgres connection parameters.
type DB struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// Log holds the logger's file-sink parameters.
type Log struct {
	Enabled   bool   `yaml:"enabled"`
	Level     int    `yaml:"level"`
	Path      string `yaml:"path"`
	Suffix    string `yaml:"suffix"`
	QueueSize int    `yaml:"queue_size"`
}

// Config is the full process configuration, matching the original's
// WebServer constructor argument list plus the admin/log additions.
type Config struct {
	Port        int    `yaml:"port"`
	TriggerMode int    `yaml:"trigger_mode"`
	TimeoutMS   int    `yaml:"timeout_ms"`
	SOLinger    bool   `yaml:"so_linger"`
	DB          DB     `yaml:"db"`
	DBPoolSize  int    `yaml:"db_pool_size"`
	Workers     int    `yaml:"workers"`
	Log         Log    `yaml:"log"`
	SrcDir      string `yaml:"src_dir"`
	AdminAddr   string `yaml:"admin_addr"`
}

// Default mirrors the original main.cpp's literal constructor arguments.
func Default() *Config {
	return &Config{
		Port:        1316,
		TriggerMode: 3,
		TimeoutMS:   60000,
		SOLinger:    false,
		DB: DB{
			Port: 3306,
			User: "root",
			Name: "serverdb",
		},
		DBPoolSize: 12,
		Workers:    2,
		Log: Log{
			Enabled:   false,
			Level:     1,
			Path:      "./log",
			Suffix:    ".log",
			QueueSize: 1024,
		},
		SrcDir:    "./resources",
		AdminAddr: "127.0.0.1:9116",
	}
}

// Load reads and parses the YAML file at path over the Default config,
// so a file that only overrides a handful of fields still yields a
// complete Config.
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Flags are the CLI overrides registered by RegisterFlags. A zero Port or
// Workers and a negative LogLevel mean "not set, fall back to the
// file/default".
type Flags struct {
	Port      int
	Workers   int
	LogLevel  int
	ConfigPath string
}

// RegisterFlags binds the override flags to fs and returns the struct
// they're written into once fs.Parse has run.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.ConfigPath, "config", "", "path to a YAML config file")
	fs.IntVar(&f.Port, "port", 0, "override listening port")
	fs.IntVar(&f.Workers, "workers", 0, "override worker pool size")
	fs.IntVar(&f.LogLevel, "log-level", -1, "override log level (0-3)")
	return f
}

// Apply layers the set flag overrides onto cfg in place: non-zero Port
// and Workers, and a LogLevel of 0 or more.
func (f *Flags) Apply(cfg *Config) {
	if f.Port != 0 {
		cfg.Port = f.Port
	}
	if f.Workers != 0 {
		cfg.Workers = f.Workers
	}
	if f.LogLevel >= 0 {
		cfg.Log.Level = f.LogLevel
	}
}

// Resolve loads the file named by f.ConfigPath (if set, else Default),
// applies flag overrides, and validates the result.
func Resolve(f *Flags) (*Config, error) {
	var cfg *Config
	var err error
	if f.ConfigPath != "" {
		cfg, err = Load(f.ConfigPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = Default()
	}
	f.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the reactor cannot safely start with.
func (c *Config) Validate() error {
	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range [1024,65535]", c.Port)
	}
	if c.TriggerMode < 0 || c.TriggerMode > 3 {
		return fmt.Errorf("config: trigger_mode %d out of range [0,3]", c.TriggerMode)
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be >= 1")
	}
	if c.DBPoolSize < 1 {
		return fmt.Errorf("config: db_pool_size must be >= 1")
	}
	if c.Log.Level < 0 || c.Log.Level > 3 {
		return fmt.Errorf("config: log.level %d out of range [0,3]", c.Log.Level)
	}
	return nil
}
