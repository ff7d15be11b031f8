package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/reelframe/reelframe-agent/internal/capture"
	"github.com/reelframe/reelframe-agent/internal/config"
	"github.com/reelframe/reelframe-agent/internal/timeline"
)

type frameOptions struct {
	kind   string
	at     float64
	output string
}

type frameResult struct {
	Path      string  `json:"path"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Timestamp float64 `json:"timestamp"`
	Size      string  `json:"size"`
}

func newFrameCmd(app *App) *cobra.Command {
	opts := frameOptions{}
	cmd := &cobra.Command{
		Use:   "frame <video>",
		Short: "Capture one frame of a video file as a PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := timeline.ParseCaptureKind(opts.kind)
			if err != nil {
				return err
			}
			if kind == timeline.CaptureCurrent {
				return fmt.Errorf("kind %q needs a playing session; use first, last or at", kind)
			}
			if kind != timeline.CaptureAt && cmd.Flags().Changed("at") {
				return fmt.Errorf("--at only applies to --kind at")
			}

			cfg, err := config.New()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := app.logger(cfg)

			src := args[0]
			h, err := app.newDecoder(cfg, logger).Open(cmd.Context(), src)
			if err != nil {
				return fmt.Errorf("open %s: %w", src, err)
			}
			defer h.Close()

			capturer := capture.NewCapturer(logger)
			var still *capture.Still
			switch kind {
			case timeline.CaptureFirst:
				still, err = capturer.First(cmd.Context(), h)
			case timeline.CaptureLast:
				still, err = capturer.Last(cmd.Context(), h)
			default:
				still, err = capturer.Capture(cmd.Context(), h, opts.at)
			}
			if err != nil {
				return err
			}

			out := opts.output
			if out == "" {
				out = defaultFrameName(src, kind)
			}
			if err := os.WriteFile(out, still.PNG, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			return writeJSON(cmd, frameResult{
				Path:      out,
				Width:     still.Width,
				Height:    still.Height,
				Timestamp: still.Timestamp,
				Size:      humanize.Bytes(uint64(len(still.PNG))),
			})
		},
	}
	cmd.Flags().StringVar(&opts.kind, "kind", string(timeline.CaptureFirst), "Which frame to capture (first|last|at)")
	cmd.Flags().Float64Var(&opts.at, "at", 0, "Timestamp in seconds for --kind at")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output PNG path (default <video>_<kind>.png)")
	return cmd
}

func defaultFrameName(src string, kind timeline.CaptureKind) string {
	base := filepath.Base(src)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return stem + "_" + string(kind) + ".png"
}
