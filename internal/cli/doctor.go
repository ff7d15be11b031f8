package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reelframe/reelframe-agent/internal/config"
	"github.com/reelframe/reelframe-agent/internal/media"
)

func newDoctorCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Report whether the media tools needed for capture are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := app.logger(cfg)

			caps, err := media.NewToolDoctor(cfg.FFmpegPath(), cfg.FFprobePath(), logger).Probe(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd, caps)
		},
	}
}
