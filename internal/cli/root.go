// Package cli wires the reelframe commands.
package cli

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reelframe/reelframe-agent/internal/config"
	"github.com/reelframe/reelframe-agent/internal/logging"
	"github.com/reelframe/reelframe-agent/internal/media"
)

type App struct {
	LogLevel  string
	LogFormat string

	// newDecoder builds the frame decoder; tests swap in a fake.
	newDecoder func(cfg config.Config, logger *slog.Logger) media.Decoder
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&App{newDecoder: ffmpegDecoder})
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "reelframe",
		Short:        "Local video editing agent",
		Version:      config.Version,
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Run the local API (and tray icon unless headless)
  reelframe serve

  # Grab the last frame of a clip
  reelframe frame clip.mp4 --kind last -o last.png

  # Check that ffmpeg and ffprobe are usable
  reelframe doctor
`),
	}

	cmd.PersistentFlags().StringVar(&app.LogLevel, "log-level", "", "Log level (debug|info|warn|error); overrides "+config.EnvLogLevel)
	cmd.PersistentFlags().StringVar(&app.LogFormat, "log-format", "", "Log format (json|text); overrides "+config.EnvLogFormat)

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newFrameCmd(app))
	cmd.AddCommand(newDoctorCmd(app))

	return cmd
}

func (app *App) logger(cfg config.Config) *slog.Logger {
	level, format := cfg.LogLevel(), cfg.LogFormat()
	if app.LogLevel != "" {
		level = app.LogLevel
	}
	if app.LogFormat != "" {
		format = app.LogFormat
	}
	return logging.NewLogger(level, format)
}

func ffmpegDecoder(cfg config.Config, logger *slog.Logger) media.Decoder {
	return media.NewFFmpegDecoder(media.FFmpegConfig{
		FFmpegPath:  cfg.FFmpegPath(),
		FFprobePath: cfg.FFprobePath(),
		SeekTimeout: cfg.CaptureTimeout(),
		Logger:      logger,
	})
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
