package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FFmpegConfig configures the ffmpeg-backed decoder.
type FFmpegConfig struct {
	FFmpegPath  string        // empty = "ffmpeg" on PATH
	FFprobePath string        // empty = "ffprobe" on PATH
	SeekTimeout time.Duration // upper bound for one seek+decode
	Logger      *slog.Logger
}

// FFmpegDecoder probes with ffprobe and decodes single frames with ffmpeg.
type FFmpegDecoder struct {
	cfg FFmpegConfig
}

func NewFFmpegDecoder(cfg FFmpegConfig) *FFmpegDecoder {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.SeekTimeout <= 0 {
		cfg.SeekTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &FFmpegDecoder{cfg: cfg}
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

// Probe reads stream metadata for path.
func (d *FFmpegDecoder) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	out, err := runTool(ctx, d.cfg.Logger, d.cfg.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}
	return parseProbeOutput(out)
}

func parseProbeOutput(data []byte) (*ProbeResult, error) {
	var po ffprobeOutput
	if err := json.Unmarshal(data, &po); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}

	res := &ProbeResult{}
	found := false
	for _, s := range po.Streams {
		switch s.CodecType {
		case "video":
			if found {
				continue
			}
			found = true
			res.Codec = s.CodecName
			res.Width = s.Width
			res.Height = s.Height
			res.FrameRate = parseFrameRate(s.RFrameRate)
			if s.Duration != "" {
				res.Duration, _ = strconv.ParseFloat(s.Duration, 64)
			}
		case "audio":
			if res.AudioCodec == "" {
				res.AudioCodec = s.CodecName
			}
		}
	}
	if !found {
		return nil, ErrNoVideoStream
	}

	if po.Format.Duration != "" {
		if d, err := strconv.ParseFloat(po.Format.Duration, 64); err == nil && d > 0 {
			res.Duration = d
		}
	}
	if po.Format.BitRate != "" {
		res.Bitrate, _ = strconv.ParseInt(po.Format.BitRate, 10, 64)
	}
	return res, nil
}

// parseFrameRate parses ffprobe's "num/den" rational form.
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	dd, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || dd == 0 {
		return 0
	}
	return n / dd
}

// Open probes path and returns a handle with no frame decoded yet.
func (d *FFmpegDecoder) Open(ctx context.Context, path string) (Handle, error) {
	probe, err := d.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return &ffmpegHandle{dec: d, path: path, probe: *probe}, nil
}

// DecodeFrameAt decodes the frame at t seconds as a PNG-decoded image.
func (d *FFmpegDecoder) DecodeFrameAt(ctx context.Context, path string, t float64) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SeekTimeout)
	defer cancel()

	out, err := runTool(ctx, d.cfg.Logger, d.cfg.FFmpegPath,
		"-hide_banner",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(t, 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode at %.3fs: %w", t, err)
	}
	if len(out) == 0 {
		return nil, ErrNoFrame
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	return img, nil
}

type ffmpegHandle struct {
	dec   *FFmpegDecoder
	path  string
	probe ProbeResult

	mu     sync.Mutex
	pos    float64
	frame  image.Image
	closed bool
}

func (h *ffmpegHandle) Duration() float64 { return h.probe.Duration }

func (h *ffmpegHandle) Resolution() Resolution {
	return Resolution{Width: h.probe.Width, Height: h.probe.Height}
}

func (h *ffmpegHandle) FrameRate() float64 { return h.probe.FrameRate }

func (h *ffmpegHandle) Position() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

func (h *ffmpegHandle) Seek(ctx context.Context, t float64) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHandleClosed
	}
	h.mu.Unlock()

	img, err := h.dec.DecodeFrameAt(ctx, h.path, t)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHandleClosed
	}
	h.pos = t
	h.frame = img
	return nil
}

func (h *ffmpegHandle) CurrentFrame() (image.Image, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHandleClosed
	}
	if h.frame == nil {
		return nil, ErrNoFrame
	}
	return h.frame, nil
}

func (h *ffmpegHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.frame = nil
	return nil
}
