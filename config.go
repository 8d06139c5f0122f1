package riglog

import (
	"context"
	_ "embed"
	"os"
	"path/filepath"
	"strings"

	"github.com/Station-Manager/errors"
	json "github.com/goccy/go-json"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:embed default_config.yaml
var defaultConfigYAML []byte

// Config is the declarative logging configuration.
type Config struct {
	Version         int                        `json:"version" yaml:"version" toml:"version"`
	Defaults        Defaults                   `json:"defaults" yaml:"defaults" toml:"defaults"`
	Formatters      map[string]FormatterConfig `json:"formatters" yaml:"formatters" toml:"formatters" validate:"dive"`
	Handlers        map[string]HandlerConfig   `json:"handlers" yaml:"handlers" toml:"handlers" validate:"dive"`
	Loggers         map[string]LoggerConfig    `json:"loggers" yaml:"loggers" toml:"loggers" validate:"dive"`
	Root            *LoggerConfig              `json:"root,omitempty" yaml:"root,omitempty" toml:"root,omitempty"`
	ServerBackup    *BackupConfig              `json:"server_backup,omitempty" yaml:"server_backup,omitempty" toml:"server_backup,omitempty"`
	ExitEmailLogger string                     `json:"exit_email_logger,omitempty" yaml:"exit_email_logger,omitempty" toml:"exit_email_logger,omitempty"`
}

// Defaults are package level settings that are not tied to one handler.
type Defaults struct {
	LoggerLevel         string `json:"logger_level" yaml:"logger_level" toml:"logger_level"`
	ServerLoggerName    string `json:"server_logger_name" yaml:"server_logger_name" toml:"server_logger_name"`
	ExitEmailLoggerName string `json:"exit_email_logger_name" yaml:"exit_email_logger_name" toml:"exit_email_logger_name"`
	LogsDir             string `json:"logs_dir" yaml:"logs_dir" toml:"logs_dir"`
}

// FormatterConfig describes a named formatter.
type FormatterConfig struct {
	Format        string   `json:"format" yaml:"format" toml:"format" validate:"omitempty,oneof=console json"`
	Parts         []string `json:"parts,omitempty" yaml:"parts,omitempty" toml:"parts,omitempty"`
	TimeFormat    string   `json:"time_format,omitempty" yaml:"time_format,omitempty" toml:"time_format,omitempty"`
	NoColor       bool     `json:"no_color,omitempty" yaml:"no_color,omitempty" toml:"no_color,omitempty"`
	ExcludeFields []string `json:"exclude_fields,omitempty" yaml:"exclude_fields,omitempty" toml:"exclude_fields,omitempty"`
}

// HandlerConfig is one named sink definition. Type selects the constructor;
// the remaining keys are that constructor's options.
type HandlerConfig struct {
	Type      string `json:"type" yaml:"type" toml:"type" validate:"required"`
	Level     string `json:"loglevel,omitempty" yaml:"loglevel,omitempty" toml:"loglevel,omitempty"`
	Formatter string `json:"formatter,omitempty" yaml:"formatter,omitempty" toml:"formatter,omitempty"`

	// file
	LogsDir     string `json:"logs_dir,omitempty" yaml:"logs_dir,omitempty" toml:"logs_dir,omitempty"`
	Filename    string `json:"filename,omitempty" yaml:"filename,omitempty" toml:"filename,omitempty"`
	Mode        string `json:"mode,omitempty" yaml:"mode,omitempty" toml:"mode,omitempty" validate:"omitempty,oneof=a w append truncate"`
	MaxBytes    int64  `json:"maxBytes,omitempty" yaml:"maxBytes,omitempty" toml:"maxBytes,omitempty" validate:"gte=0"`
	BackupCount *int   `json:"backupCount,omitempty" yaml:"backupCount,omitempty" toml:"backupCount,omitempty" validate:"omitempty,gte=0"`
	Encoding    string `json:"encoding,omitempty" yaml:"encoding,omitempty" toml:"encoding,omitempty"`
	Delay       *bool  `json:"delay,omitempty" yaml:"delay,omitempty" toml:"delay,omitempty"`
	Rotation    string `json:"rotation,omitempty" yaml:"rotation,omitempty" toml:"rotation,omitempty" validate:"omitempty,oneof=numbered timestamped"`
	MaxAgeDays  int    `json:"maxAgeDays,omitempty" yaml:"maxAgeDays,omitempty" toml:"maxAgeDays,omitempty" validate:"gte=0"`
	Compress    bool   `json:"compress,omitempty" yaml:"compress,omitempty" toml:"compress,omitempty"`

	// remote collector
	Host string `json:"host,omitempty" yaml:"host,omitempty" toml:"host,omitempty" validate:"omitempty,hostname_rfc1123|ip"`
	Port int    `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty" validate:"gte=0,lte=65535"`

	// email
	ToAddrs     []string     `json:"toaddrs,omitempty" yaml:"toaddrs,omitempty" toml:"toaddrs,omitempty" validate:"dive,email"`
	MailHost    string       `json:"mailhost,omitempty" yaml:"mailhost,omitempty" toml:"mailhost,omitempty"`
	FromAddr    string       `json:"fromaddr,omitempty" yaml:"fromaddr,omitempty" toml:"fromaddr,omitempty" validate:"omitempty,email"`
	Subject     string       `json:"subject,omitempty" yaml:"subject,omitempty" toml:"subject,omitempty"`
	Credentials *Credentials `json:"credentials,omitempty" yaml:"credentials,omitempty" toml:"credentials,omitempty"`
	Secure      bool         `json:"secure,omitempty" yaml:"secure,omitempty" toml:"secure,omitempty"`
	// Timeout is in seconds.
	Timeout float64 `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout,omitempty" validate:"gte=0"`
}

// LoggerConfig attaches handlers to a named logger.
type LoggerConfig struct {
	Handlers  []string `json:"handlers" yaml:"handlers" toml:"handlers" validate:"dive,required"`
	Level     string   `json:"level,omitempty" yaml:"level,omitempty" toml:"level,omitempty"`
	Propagate *bool    `json:"propagate,omitempty" yaml:"propagate,omitempty" toml:"propagate,omitempty"`
}

// BackupConfig configures the shared local backup of the remote collector.
type BackupConfig struct {
	BackupFile  string `json:"backup_file" yaml:"backup_file" toml:"backup_file" validate:"required"`
	MaxBytes    int64  `json:"maxBytes,omitempty" yaml:"maxBytes,omitempty" toml:"maxBytes,omitempty" validate:"gte=0"`
	BackupCount int    `json:"backupCount,omitempty" yaml:"backupCount,omitempty" toml:"backupCount,omitempty" validate:"gte=0"`
	Formatter   string `json:"formatter,omitempty" yaml:"formatter,omitempty" toml:"formatter,omitempty"`
}

var defaultConfig = mustParseConfig(defaultConfigYAML)

func mustParseConfig(data []byte) *Config {
	cfg, err := ParseConfig(data, ".yaml")
	if err != nil {
		panic(err)
	}
	return cfg
}

// DefaultConfig returns a copy of the embedded default configuration.
func DefaultConfig() *Config {
	return defaultConfig.Clone()
}

// Clone returns a deep enough copy for the facade to mutate handler and
// logger maps without touching the original.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Formatters = make(map[string]FormatterConfig, len(c.Formatters))
	for k, v := range c.Formatters {
		cp.Formatters[k] = v
	}
	cp.Handlers = make(map[string]HandlerConfig, len(c.Handlers))
	for k, v := range c.Handlers {
		v.ToAddrs = append([]string(nil), v.ToAddrs...)
		cp.Handlers[k] = v
	}
	cp.Loggers = make(map[string]LoggerConfig, len(c.Loggers))
	for k, v := range c.Loggers {
		v.Handlers = append([]string(nil), v.Handlers...)
		cp.Loggers[k] = v
	}
	if c.Root != nil {
		r := *c.Root
		r.Handlers = append([]string(nil), r.Handlers...)
		cp.Root = &r
	}
	if c.ServerBackup != nil {
		b := *c.ServerBackup
		cp.ServerBackup = &b
	}
	return &cp
}

// ParseConfig decodes data according to a file extension: .json, .yaml,
// .yml or .toml.
func ParseConfig(data []byte, ext string) (*Config, error) {
	const op errors.Op = "riglog.ParseConfig"
	cfg := &Config{}
	var err error
	switch strings.ToLower(ext) {
	case ".json":
		err = json.Unmarshal(data, cfg)
	case ".yaml", ".yml", emptyString:
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, errors.New(op).Errorf("%s %q", errMsgConfigFormat, ext)
	}
	if err != nil {
		return nil, errors.New(op).Err(err).Msg(errMsgConfigDecode)
	}
	return cfg, nil
}

// LoadConfigFile reads and decodes a configuration file.
func LoadConfigFile(path string) (*Config, error) {
	const op errors.Op = "riglog.LoadConfigFile"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(op).Err(err).Msg(errMsgConfigSource)
	}
	return ParseConfig(data, filepath.Ext(path))
}

// resolveConfig turns a Setup source into a Config. An empty source consults
// the store under DefaultConfigKey and falls back to the embedded default.
// A source naming an existing file is loaded from disk; anything else is a
// key in the store.
func resolveConfig(ctx context.Context, source string, store ConfigStore) (*Config, error) {
	const op errors.Op = "riglog.resolveConfig"
	if source == emptyString {
		if store != nil {
			if cfg, err := loadFromStore(ctx, store, DefaultConfigKey); err == nil {
				return cfg, nil
			}
		}
		return DefaultConfig(), nil
	}
	if _, err := os.Stat(source); err == nil {
		return LoadConfigFile(source)
	}
	if store == nil {
		return nil, errors.New(op).Errorf("%s %q: %s", errMsgConfigSource, source, errMsgNoStore)
	}
	return loadFromStore(ctx, store, source)
}

func loadFromStore(ctx context.Context, store ConfigStore, key string) (*Config, error) {
	const op errors.Op = "riglog.loadFromStore"
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, errors.New(op).Err(err).Msg(errMsgConfigSource)
	}
	ext := ".yaml"
	if trimmed := strings.TrimSpace(string(data)); strings.HasPrefix(trimmed, "{") {
		ext = ".json"
	}
	return ParseConfig(data, ext)
}

// withDefaults fills unset Defaults from the embedded configuration.
func (c *Config) withDefaults() {
	d := defaultConfig.Defaults
	if c.Defaults.LoggerLevel == emptyString {
		c.Defaults.LoggerLevel = d.LoggerLevel
	}
	if c.Defaults.ServerLoggerName == emptyString {
		c.Defaults.ServerLoggerName = d.ServerLoggerName
	}
	if c.Defaults.ExitEmailLoggerName == emptyString {
		c.Defaults.ExitEmailLoggerName = d.ExitEmailLoggerName
	}
	if c.Defaults.LogsDir == emptyString {
		c.Defaults.LogsDir = d.LogsDir
	}
}
