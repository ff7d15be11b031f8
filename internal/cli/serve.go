package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/reelframe/reelframe-agent/internal/api"
	"github.com/reelframe/reelframe-agent/internal/config"
	"github.com/reelframe/reelframe-agent/internal/db"
	"github.com/reelframe/reelframe-agent/internal/events"
	"github.com/reelframe/reelframe-agent/internal/generate"
	"github.com/reelframe/reelframe-agent/internal/media"
	"github.com/reelframe/reelframe-agent/internal/playback"
	"github.com/reelframe/reelframe-agent/internal/project"
	"github.com/reelframe/reelframe-agent/internal/timeline"
	"github.com/reelframe/reelframe-agent/internal/ui"
	"github.com/reelframe/reelframe-agent/internal/watcher"
)

const sourcePollInterval = 5 * time.Second

type serveOptions struct {
	port     int
	headless bool
}

func newServeCmd(app *App) *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local editing API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), app, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&opts.port, "port", 0, "Port to listen on; overrides "+config.EnvPort)
	cmd.Flags().BoolVar(&opts.headless, "headless", false, "Run without the system tray")
	return cmd
}

func runServe(ctx context.Context, app *App, opts serveOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	port := cfg.Port()
	if opts.port != 0 {
		port = opts.port
	}

	if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.UploadDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}

	logger := app.logger(cfg)
	logger.Info("starting reelframe agent", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.Open(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database.Conn())

	deviceID, err := db.EnsureDeviceID(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}
	authToken, err := db.EnsureAuthToken(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}
	printBanner(out, port, authToken, deviceID)

	doctor := media.NewCachedDoctor(media.NewToolDoctor(cfg.FFmpegPath(), cfg.FFprobePath(), logger), logger)
	if caps, err := doctor.Refresh(ctx); err != nil {
		logger.Warn("initial media probe failed", "error", err)
	} else if !caps.CanCapture {
		logger.Warn("ffmpeg/ffprobe not found, frame capture disabled",
			"ffmpeg", caps.FFmpeg.Error,
			"ffprobe", caps.FFprobe.Error,
		)
	} else {
		logger.Info("media tools detected", "ffmpeg", caps.FFmpeg.Version, "ffprobe", caps.FFprobe.Version)
	}

	var generator generate.Generator
	if cfg.GenerateEnabled() {
		generator = generate.NewHTTPClient(cfg.GenerateURL(), cfg.GenerateToken(), cfg.GenerateTimeout(), logger)
		logger.Info("frame generation enabled", "url", cfg.GenerateURL())
	} else {
		generator = generate.NewStubGenerator(logger)
	}

	playbackRegistry := playback.NewRegistry("/playback", playback.NewServer(logger), logger)
	store := project.NewStore(playbackRegistry, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := events.NewHub(logger)
	go hub.Run(runCtx)

	sources := watcher.NewPollWatcher(sourcePollInterval, logger)
	go sources.Run(runCtx)

	orchestrator := timeline.New(timeline.Options{
		Store:     store,
		Decoder:   app.newDecoder(cfg, logger),
		Generator: generator,
		Notifier:  hub,
		ExportLog: repo,
		Sources:   sources,
		Logger:    logger,
	})
	defer orchestrator.Close()
	sources.OnChange(func(path string, ev watcher.EventType) {
		orchestrator.SourceChanged(path, ev.String())
	})

	apiServer := api.NewServer(api.ServerConfig{
		Port:           port,
		Orchestrator:   orchestrator,
		Repository:     repo,
		Playback:       playbackRegistry,
		Hub:            hub,
		Doctor:         doctor,
		UploadDir:      cfg.UploadDir(),
		MaxUploadBytes: cfg.MaxUploadBytes(),
		CaptureTimeout: cfg.CaptureTimeout(),
		Logger:         logger,
		StartTime:      startTime,
		DeviceID:       deviceID,
	})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- apiServer.Start()
	}()

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var tray *ui.Tray
	if cfg.Headless() || opts.headless {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray = ui.NewTray(ui.TrayConfig{
			Session: orchestrator,
			APIURL:  fmt.Sprintf("http://127.0.0.1:%d", port),
			Logger:  logger,
			OnQuit:  quit,
		})
		go tray.Run()
	}

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case <-quitCh:
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	cancel()
	if tray != nil {
		tray.Quit()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return runErr
}

func printBanner(out io.Writer, port int, authToken, deviceID string) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "╔═══════════════════════════════════════════════════════════════════════════════╗")
	fmt.Fprintf(out, "║  REELFRAME AGENT v%-60s║\n", config.Version)
	fmt.Fprintln(out, "╠═══════════════════════════════════════════════════════════════════════════════╣")
	fmt.Fprintf(out, "║  API URL:    http://127.0.0.1:%-48d║\n", port)
	fmt.Fprintf(out, "║  Auth Token: %-65s║\n", authToken)
	fmt.Fprintf(out, "║  Device ID:  %-65s║\n", deviceID)
	fmt.Fprintln(out, "╚═══════════════════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(out)
}
