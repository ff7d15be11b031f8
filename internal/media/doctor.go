package media

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// ToolInfo represents the availability status of one external binary.
type ToolInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities reports what the installed media tools can do.
type Capabilities struct {
	FFmpeg     ToolInfo  `json:"ffmpeg"`
	FFprobe    ToolInfo  `json:"ffprobe"`
	CanCapture bool      `json:"can_capture"`
	ProbedAt   time.Time `json:"probed_at"`
}

// Prober runs a capability probe.
type Prober interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// ToolDoctor probes ffmpeg and ffprobe with -version.
type ToolDoctor struct {
	ffmpeg  string
	ffprobe string
	timeout time.Duration
	logger  *slog.Logger
}

func NewToolDoctor(ffmpeg, ffprobe string, logger *slog.Logger) *ToolDoctor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ToolDoctor{ffmpeg: ffmpeg, ffprobe: ffprobe, timeout: 10 * time.Second, logger: logger}
}

func (d *ToolDoctor) Probe(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	caps := &Capabilities{
		FFmpeg:  d.probeTool(ctx, d.ffmpeg, "ffmpeg"),
		FFprobe: d.probeTool(ctx, d.ffprobe, "ffprobe"),
	}
	caps.CanCapture = caps.FFmpeg.Available && caps.FFprobe.Available
	caps.ProbedAt = time.Now()

	d.logger.Info("media doctor probe complete",
		"ffmpeg", caps.FFmpeg.Available,
		"ffprobe", caps.FFprobe.Available,
		"can_capture", caps.CanCapture,
	)
	return caps, nil
}

func (d *ToolDoctor) probeTool(ctx context.Context, configured, fallback string) ToolInfo {
	path, err := resolveTool(configured, fallback)
	if err != nil {
		return ToolInfo{Error: err.Error()}
	}
	out, err := runTool(ctx, d.logger, path, "-version")
	if err != nil {
		return ToolInfo{Path: path, Error: err.Error()}
	}
	return ToolInfo{Available: true, Path: path, Version: parseVersionLine(string(out))}
}

// parseVersionLine extracts "6.1.1" from "ffmpeg version 6.1.1 Copyright ...".
func parseVersionLine(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return strings.TrimSpace(line)
}

// CachedDoctor wraps a Prober to cache results with a TTL.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedDoctor(prober Prober, logger *slog.Logger) *CachedDoctor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CachedDoctor{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.Probe(ctx)
	if err != nil {
		d.logger.Warn("media doctor probe failed", "error", err)
		// Return stale cache if available
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, fmt.Errorf("media probe: %w", err)
	}

	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
