package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. AVR_OPENAI_MODEL.
const EnvPrefix = "AVR"

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"listen":        "server.listen",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"model":         "openai.model",
	"voice":         "openai.voice",
	"agent-api-url": "agent_api.url",
	"agent-id":      "agent_api.agent_id",
	"ami-url":       "ami.url",
}

// Loader reads configuration and optionally watches the file for changes.
type Loader struct {
	v          *viper.Viper
	configPath string
}

// NewLoader creates a loader. An empty path searches for avr-sts.yaml in
// the working directory and /etc/avr-sts; a missing file is not an error.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("avr-sts")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/avr-sts")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("openai.api_key", EnvPrefix+"_OPENAI_API_KEY", "OPENAI_API_KEY")

	setDefaults(v, Default())
	return &Loader{v: v, configPath: configPath}
}

// BindFlags lets flags that are present in fs override file and env values.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FileUsed returns the configuration file in use, if any.
func (l *Loader) FileUsed() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with the reloaded configuration every time the file
// changes. Invalid reloads are logged and skipped. Returns false when no
// file is in use.
func (l *Loader) Watch(logger *slog.Logger, onChange func(*Config)) bool {
	if l.v.ConfigFileUsed() == "" {
		return false
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			logger.Warn("Ignoring invalid configuration change",
				slog.String("file", e.Name), slog.Any("error", err))
			return
		}
		logger.Info("Configuration reloaded", slog.String("file", e.Name), slog.String("op", e.Op.String()))
		onChange(cfg)
	})
	l.v.WatchConfig()
	return true
}

func (l *Loader) decode() (*Config, error) {
	cfg := Default()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.metrics_path", d.Server.MetricsPath)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.url", d.OpenAI.URL)
	v.SetDefault("openai.model", d.OpenAI.Model)
	v.SetDefault("openai.voice", d.OpenAI.Voice)
	v.SetDefault("openai.instructions", d.OpenAI.Instructions)
	v.SetDefault("openai.temperature", d.OpenAI.Temperature)
	v.SetDefault("openai.max_tokens", d.OpenAI.MaxTokens)
	v.SetDefault("openai.transcription_model", d.OpenAI.TranscriptionModel)
	v.SetDefault("openai.turn_detection", d.OpenAI.TurnDetection)
	v.SetDefault("openai.dial_timeout", d.OpenAI.DialTimeout)

	v.SetDefault("agent_api.url", "")
	v.SetDefault("agent_api.agent_id", "")
	v.SetDefault("agent_api.timeout", d.AgentAPI.Timeout)

	v.SetDefault("ami.url", "")
	v.SetDefault("ami.timeout", d.AMI.Timeout)

	v.SetDefault("tools.report_failures", false)
	v.SetDefault("tools.timeout", d.Tools.Timeout)
}
