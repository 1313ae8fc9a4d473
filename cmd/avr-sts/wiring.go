package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cierrateam/avr-sts-openai/internal/ami"
	"github.com/cierrateam/avr-sts-openai/internal/config"
	"github.com/cierrateam/avr-sts-openai/internal/realtime"
	"github.com/cierrateam/avr-sts-openai/internal/server"
	"github.com/cierrateam/avr-sts-openai/internal/session"
	"github.com/cierrateam/avr-sts-openai/pkg/agentapi"
	"github.com/cierrateam/avr-sts-openai/pkg/tools"
	"github.com/cierrateam/avr-sts-openai/pkg/tools/avr"
)

// buildServer wires the tool registry, resolvers and backend dialer. Backend
// credentials and resolver endpoints are fixed at startup; only session
// settings follow configuration reloads.
func buildServer(cfg *config.Config, logger *slog.Logger) (*server.Server, error) {
	reg := tools.NewRegistry(&http.Client{Timeout: cfg.Tools.Timeout}, logger)
	deps := session.Deps{Tools: reg}

	var cc avr.CallControl
	if cfg.AMI.URL != "" {
		amiClient := ami.NewClient(cfg.AMI.URL, cfg.AMI.Timeout)
		deps.Callers = amiClient
		cc = amiClient
	} else {
		logger.Warn("No telephony manager configured; caller info and call control are unavailable")
	}
	avr.Register(reg, cc)

	for _, ct := range cfg.Tools.Custom {
		desc, err := ct.Descriptor()
		if err != nil {
			return nil, err
		}
		if err := reg.RegisterCustomRemote(desc); err != nil {
			return nil, fmt.Errorf("custom tool %s: %w", ct.Name, err)
		}
	}
	logger.Info("Tools registered", slog.Int("count", len(reg.List())))

	if cfg.AgentAPI.URL != "" {
		opts := []agentapi.Option{agentapi.WithTimeout(cfg.AgentAPI.Timeout)}
		for k, v := range cfg.AgentAPI.Headers {
			opts = append(opts, agentapi.WithHeader(k, v))
		}
		deps.Agents = agentapi.NewClient(cfg.AgentAPI.URL, cfg.AgentAPI.AgentID, opts...)
	}

	dialCfg := realtime.DialConfig{
		URL:              cfg.OpenAI.URL,
		APIKey:           cfg.OpenAI.APIKey,
		Model:            cfg.OpenAI.Model,
		HandshakeTimeout: cfg.OpenAI.DialTimeout,
	}
	deps.Dial = func(ctx context.Context) (realtime.Backend, error) {
		conn, err := realtime.Dial(ctx, dialCfg, logger)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	srvCfg := server.Config{Listen: cfg.Server.Listen, MetricsPath: cfg.Server.MetricsPath}
	return server.New(srvCfg, deps, sessionSettings(cfg), logger), nil
}

func sessionSettings(cfg *config.Config) session.Settings {
	return session.Settings{
		Instructions:       cfg.OpenAI.Instructions,
		Voice:              cfg.OpenAI.Voice,
		Temperature:        cfg.OpenAI.Temperature,
		MaxTokens:          cfg.OpenAI.MaxTokens,
		TranscriptionModel: cfg.OpenAI.TranscriptionModel,
		TurnDetection:      cfg.OpenAI.TurnDetection,
		ReportFailures:     cfg.Tools.ReportFailures,
	}
}
