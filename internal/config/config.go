// Package config loads gateway configuration from an optional YAML file,
// AVR_-prefixed environment variables and command-line flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cierrateam/avr-sts-openai/pkg/tools"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete gateway configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	AgentAPI AgentAPIConfig `mapstructure:"agent_api"`
	AMI      AMIConfig      `mapstructure:"ami"`
	Tools    ToolsConfig    `mapstructure:"tools"`
}

type ServerConfig struct {
	Listen      string `mapstructure:"listen"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// OpenAIConfig configures the realtime backend and the session.update sent
// on every new session.
type OpenAIConfig struct {
	APIKey             string        `mapstructure:"api_key"`
	URL                string        `mapstructure:"url"`
	Model              string        `mapstructure:"model"`
	Voice              string        `mapstructure:"voice"`
	Instructions       string        `mapstructure:"instructions"`
	Temperature        float64       `mapstructure:"temperature"`
	MaxTokens          int           `mapstructure:"max_tokens"`
	TranscriptionModel string        `mapstructure:"transcription_model"`
	TurnDetection      string        `mapstructure:"turn_detection"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
}

type AgentAPIConfig struct {
	URL     string            `mapstructure:"url"`
	AgentID string            `mapstructure:"agent_id"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Headers map[string]string `mapstructure:"headers"`
}

type AMIConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ToolsConfig controls tool dispatch. Timeout applies to remote webhook
// calls; zero leaves them unbounded.
type ToolsConfig struct {
	ReportFailures bool          `mapstructure:"report_failures"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Custom         []CustomTool  `mapstructure:"custom"`
}

// CustomTool is a user-custom webhook tool declared in configuration.
type CustomTool struct {
	Name        string         `mapstructure:"name"`
	Description string         `mapstructure:"description"`
	URL         string         `mapstructure:"url"`
	Headers     []tools.Header `mapstructure:"headers"`
	Parameters  map[string]any `mapstructure:"parameters"`
}

// Descriptor converts t to a tool descriptor.
func (t CustomTool) Descriptor() (tools.Descriptor, error) {
	d := tools.Descriptor{
		Name:        t.Name,
		Description: t.Description,
		Handler:     tools.HandlerDescriptor{URL: t.URL, Headers: t.Headers},
	}
	if len(t.Parameters) > 0 {
		raw, err := json.Marshal(t.Parameters)
		if err != nil {
			return tools.Descriptor{}, fmt.Errorf("tool %s parameters: %w", t.Name, err)
		}
		d.Parameters = raw
	}
	return d, nil
}

// DefaultInstructions is used when neither configuration nor the agent API
// supplies instructions.
const DefaultInstructions = "You are a helpful voice assistant on a phone call. Keep answers short and conversational."

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:      ":6030",
			MetricsPath: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		OpenAI: OpenAIConfig{
			Model:              "gpt-4o-realtime-preview",
			Voice:              "alloy",
			Instructions:       DefaultInstructions,
			Temperature:        0.8,
			TranscriptionModel: openai.Whisper1,
			TurnDetection:      "server_vad",
			DialTimeout:        10 * time.Second,
		},
		AgentAPI: AgentAPIConfig{
			Timeout: 5 * time.Second,
		},
		AMI: AMIConfig{
			Timeout: 5 * time.Second,
		},
	}
}

// Validate checks cfg for values the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []string

	if c.OpenAI.APIKey == "" {
		errs = append(errs, "openai.api_key is required (or set OPENAI_API_KEY)")
	}
	if c.OpenAI.Model == "" {
		errs = append(errs, "openai.model cannot be empty")
	}
	if c.Server.Listen == "" {
		errs = append(errs, "server.listen cannot be empty")
	}
	if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
		errs = append(errs, fmt.Sprintf("openai.temperature %.2f out of range [0, 2]", c.OpenAI.Temperature))
	}
	if c.OpenAI.MaxTokens < 0 {
		errs = append(errs, "openai.max_tokens cannot be negative")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err.Error())
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be json or console", c.Log.Format))
	}
	if c.AgentAPI.URL != "" && c.AgentAPI.AgentID == "" {
		errs = append(errs, "agent_api.agent_id is required when agent_api.url is set")
	}

	seen := make(map[string]bool)
	for _, t := range c.Tools.Custom {
		switch {
		case t.Name == "":
			errs = append(errs, "tools.custom entry without a name")
		case t.URL == "":
			errs = append(errs, fmt.Sprintf("tools.custom %s: url is required", t.Name))
		case seen[t.Name]:
			errs = append(errs, fmt.Sprintf("tools.custom %s: duplicate name", t.Name))
		}
		seen[t.Name] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level %q must be debug, info, warn or error", s)
	}
}
