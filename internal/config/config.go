// Package config provides configuration management for the Reelframe Agent.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// Default values
	DefaultPort      = 8788
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
	DefaultDataDir   = ".reelframe"

	// Environment variable names
	EnvPort      = "REELFRAME_PORT"
	EnvLogLevel  = "REELFRAME_LOG_LEVEL"
	EnvLogFormat = "REELFRAME_LOG_FORMAT"
	EnvDataDir   = "REELFRAME_DATA_DIR"
	EnvHeadless  = "REELFRAME_HEADLESS"

	// Media tool environment variable names
	EnvFFmpeg         = "REELFRAME_FFMPEG"
	EnvFFprobe        = "REELFRAME_FFPROBE"
	EnvCaptureTimeout = "REELFRAME_CAPTURE_TIMEOUT"
	EnvMaxUploadMB    = "REELFRAME_MAX_UPLOAD_MB"

	// Generative-image environment variable names
	EnvGenerateURL     = "REELFRAME_GENERATE_URL"
	EnvGenerateToken   = "REELFRAME_GENERATE_TOKEN"
	EnvGenerateTimeout = "REELFRAME_GENERATE_TIMEOUT"

	// Database filename
	DBFilename = "reelframe.db"

	DefaultFFmpeg          = "ffmpeg"
	DefaultFFprobe         = "ffprobe"
	DefaultCaptureTimeout  = 30 * time.Second
	DefaultGenerateTimeout = 120 * time.Second
	DefaultMaxUploadMB     = 2048
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	LogFormat() string
	DataDir() string
	DBPath() string
	UploadDir() string
	Headless() bool
	FFmpegPath() string
	FFprobePath() string
	CaptureTimeout() time.Duration
	MaxUploadBytes() int64
	GenerateURL() string
	GenerateToken() string
	GenerateTimeout() time.Duration
	GenerateEnabled() bool
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port      int
	logLevel  string
	logFormat string
	dataDir   string
	headless  bool

	ffmpeg         string
	ffprobe        string
	captureTimeout time.Duration
	maxUploadMB    int64

	generateURL     string
	generateToken   string
	generateTimeout time.Duration
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:            DefaultPort,
		logLevel:        DefaultLogLevel,
		logFormat:       DefaultLogFormat,
		dataDir:         defaultDataDir(),
		ffmpeg:          DefaultFFmpeg,
		ffprobe:         DefaultFFprobe,
		captureTimeout:  DefaultCaptureTimeout,
		maxUploadMB:     DefaultMaxUploadMB,
		generateTimeout: DefaultGenerateTimeout,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if lf := os.Getenv(EnvLogFormat); lf != "" {
		lf = strings.ToLower(lf)
		if lf != "json" && lf != "text" {
			return nil, fmt.Errorf("invalid %s: must be json or text", EnvLogFormat)
		}
		cfg.logFormat = lf
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = headless
	}

	if v := os.Getenv(EnvFFmpeg); v != "" {
		cfg.ffmpeg = v
	}
	if v := os.Getenv(EnvFFprobe); v != "" {
		cfg.ffprobe = v
	}

	if v := os.Getenv(EnvCaptureTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvCaptureTimeout, err)
		}
		cfg.captureTimeout = d
	}

	if v := os.Getenv(EnvMaxUploadMB); v != "" {
		mb, err := strconv.ParseInt(v, 10, 64)
		if err != nil || mb <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvMaxUploadMB)
		}
		cfg.maxUploadMB = mb
	}

	cfg.generateURL = strings.TrimRight(os.Getenv(EnvGenerateURL), "/")
	cfg.generateToken = os.Getenv(EnvGenerateToken)

	if v := os.Getenv(EnvGenerateTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvGenerateTimeout, err)
		}
		cfg.generateTimeout = d
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// LogFormat returns the log output format (json, text)
func (c *EnvConfig) LogFormat() string {
	return c.logFormat
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// UploadDir is where imported files received over HTTP are kept for the session.
func (c *EnvConfig) UploadDir() string {
	return filepath.Join(c.dataDir, "uploads")
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpeg
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobe
}

func (c *EnvConfig) CaptureTimeout() time.Duration {
	return c.captureTimeout
}

func (c *EnvConfig) MaxUploadBytes() int64 {
	return c.maxUploadMB * 1024 * 1024
}

func (c *EnvConfig) GenerateURL() string {
	return c.generateURL
}

func (c *EnvConfig) GenerateToken() string {
	return c.generateToken
}

func (c *EnvConfig) GenerateTimeout() time.Duration {
	return c.generateTimeout
}

// GenerateEnabled reports whether an external generative-image endpoint is set.
func (c *EnvConfig) GenerateEnabled() bool {
	return c.generateURL != ""
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
