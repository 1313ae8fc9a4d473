package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cierrateam/avr-sts-openai/internal/config"
	"github.com/cierrateam/avr-sts-openai/pkg/rtc"
	"github.com/cierrateam/avr-sts-openai/pkg/tools/avr"
	"github.com/cierrateam/avr-sts-openai/pkg/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "avr-sts",
	Short: "Speech-to-speech gateway between telephony audio and a realtime voice backend",
	Long: `avr-sts accepts 8 kHz telephony audio over WebSocket, relays it to a realtime
speech model at 24 kHz and streams the spoken reply back as 20 ms frames.
Function calls from the model are answered by bundled, configured or
agent-defined tools.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoader(configPath)
		if err := loader.BindFlags(cmd.Flags()); err != nil {
			return err
		}
		cfg, err := loader.Load()
		if err != nil {
			return err
		}

		logger, err := setupLogger(cfg.Log.Level, cfg.Log.Format, os.Stdout)
		if err != nil {
			return err
		}
		logger.Info("Starting gateway",
			slog.String("service", version.Name),
			slog.String("version", version.Version),
			slog.String("commit", version.GitCommit),
			slog.String("listen", cfg.Server.Listen),
			slog.String("model", cfg.OpenAI.Model),
			slog.String("config_file", loader.FileUsed()))

		// Create context that cancels on interrupt
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		srv, err := buildServer(cfg, logger)
		if err != nil {
			return err
		}
		if loader.Watch(logger, func(c *config.Config) { srv.UpdateSettings(sessionSettings(c)) }) {
			logger.Info("Watching configuration file for changes", slog.String("file", loader.FileUsed()))
		}

		if err := srv.Run(ctx); err != nil {
			logger.Error("Gateway failed", slog.String("error", err.Error()))
			return err
		}
		return nil
	},
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Tool commands",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the bundled tool definitions as announced to the model",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printTools(cmd.OutOrStdout())
	},
}

var audioCmd = &cobra.Command{
	Use:   "audio",
	Short: "Audio utilities",
}

var audioResampleCmd = &cobra.Command{
	Use:   "resample",
	Short: "Resample a PCM16 WAV file with the gateway's resampler",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, _ := cmd.Flags().GetString("in")
		out, _ := cmd.Flags().GetString("out")
		rate, _ := cmd.Flags().GetInt("rate")
		frame, _ := cmd.Flags().GetBool("frame")

		logger, err := setupLogger("info", "console", os.Stderr)
		if err != nil {
			return err
		}
		if in == "" || out == "" {
			return fmt.Errorf("--in and --out are required")
		}

		stats, err := resampleFile(in, out, rate, frame)
		if err != nil {
			return err
		}
		logger.Info("Resampled",
			slog.String("in", in),
			slog.String("out", out),
			slog.Int("from_rate", stats.inRate),
			slog.Int("to_rate", rate),
			slog.Int("samples_in", stats.samplesIn),
			slog.Int("samples_out", stats.samplesOut),
			slog.Int("frames", stats.frames))
		return nil
	},
}

func setupLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	// Choose handler based on format
	if format == "console" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

func printTools(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	for _, def := range avr.Definitions(nil) {
		if err := enc.Encode(def.Function()); err != nil {
			return fmt.Errorf("failed to encode %s: %w", def.Name, err)
		}
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: ./avr-sts.yaml or /etc/avr-sts/avr-sts.yaml)")

	// Serve flags override the configuration file and AVR_ environment variables
	serveCmd.Flags().String("listen", "", "Listen address for client connections")
	serveCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().String("log-format", "", "Log format (json, console)")
	serveCmd.Flags().String("model", "", "Realtime model")
	serveCmd.Flags().String("voice", "", "Voice for synthesized replies")
	serveCmd.Flags().String("agent-api-url", "", "Agent configuration API base URL")
	serveCmd.Flags().String("agent-id", "", "Agent ID for the configuration API")
	serveCmd.Flags().String("ami-url", "", "Telephony manager HTTP bridge URL")

	audioResampleCmd.Flags().String("in", "", "Input WAV file")
	audioResampleCmd.Flags().String("out", "", "Output WAV file")
	audioResampleCmd.Flags().Int("rate", rtc.TelephonySampleRate, "Output sample rate")
	audioResampleCmd.Flags().Bool("frame", false, "Pad to whole 20 ms frames and append trailing silence")

	toolsCmd.AddCommand(toolsListCmd)
	audioCmd.AddCommand(audioResampleCmd)
	rootCmd.AddCommand(versionCmd, serveCmd, toolsCmd, audioCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
