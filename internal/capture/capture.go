// Package capture samples still frames from opened media handles.
//
// Captures on the same handle are serialized: a request arriving while a seek
// is pending waits behind it. Captures on different handles proceed
// independently. Frames are encoded losslessly (PNG) at the handle's native
// resolution with no resampling.
package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"

	"github.com/reelframe/reelframe-agent/internal/media"
)

// Epsilon keeps first/last-frame requests away from the stream edges, where
// some decoders return nothing.
const Epsilon = 0.1

const dataURLPrefix = "data:image/png;base64,"

var (
	ErrCaptureFailed = errors.New("capture failed")
	ErrInvalidSource = errors.New("invalid image source")
)

// Still is one encoded captured frame.
type Still struct {
	PNG       []byte
	Width     int
	Height    int
	Timestamp float64
}

// DataURL renders the still as a self-contained data URL.
func (s *Still) DataURL() string {
	return dataURLPrefix + base64.StdEncoding.EncodeToString(s.PNG)
}

// EncodeDataURL embeds data of the given MIME type in a base64 data URL.
func EncodeDataURL(mimeType string, data []byte) string {
	if mimeType == "" || mimeType == "image/png" {
		return dataURLPrefix + base64.StdEncoding.EncodeToString(data)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL returns the raw bytes and MIME type embedded in a data URL.
func DecodeDataURL(src string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(src, "data:")
	if !ok {
		return nil, "", ErrInvalidSource
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", ErrInvalidSource
	}
	mimeType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, "", fmt.Errorf("%w: only base64 data URLs are supported", ErrInvalidSource)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return data, mimeType, nil
}

// DecodeStill is DecodeDataURL restricted to payloads that decode as an
// image/* still.
func DecodeStill(src string) ([]byte, string, error) {
	data, mimeType, err := DecodeDataURL(src)
	if err != nil {
		return nil, "", err
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", fmt.Errorf("%w: mime type %q is not an image", ErrInvalidSource, mimeType)
	}
	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	return data, mimeType, nil
}

// EncodeImage encodes img as PNG without resampling.
func EncodeImage(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// ClampTimestamp maps t into [0, duration). Requests at or past the end land
// on duration-Epsilon.
func ClampTimestamp(t, duration float64) float64 {
	if t < 0 || duration <= 0 {
		return 0
	}
	if t >= duration {
		last := duration - Epsilon
		if last < 0 {
			return 0
		}
		return last
	}
	return t
}

// Capturer is the frame capture unit.
type Capturer struct {
	logger *slog.Logger

	mu     sync.Mutex
	queues map[media.Handle]*handleQueue
}

type handleQueue struct {
	sem   chan struct{}
	users int
}

func NewCapturer(logger *slog.Logger) *Capturer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Capturer{
		logger: logger,
		queues: make(map[media.Handle]*handleQueue),
	}
}

// acquire waits for exclusive use of h.
func (c *Capturer) acquire(ctx context.Context, h media.Handle) (func(), error) {
	c.mu.Lock()
	q, ok := c.queues[h]
	if !ok {
		q = &handleQueue{sem: make(chan struct{}, 1)}
		c.queues[h] = q
	}
	q.users++
	c.mu.Unlock()

	done := func() {
		c.mu.Lock()
		q.users--
		if q.users == 0 {
			delete(c.queues, h)
		}
		c.mu.Unlock()
	}

	select {
	case q.sem <- struct{}{}:
		return func() {
			<-q.sem
			done()
		}, nil
	case <-ctx.Done():
		done()
		return nil, ctx.Err()
	}
}

// Capture seeks h to t (clamped) and encodes the displayed frame.
func (c *Capturer) Capture(ctx context.Context, h media.Handle, t float64) (*Still, error) {
	t = ClampTimestamp(t, h.Duration())

	release, err := c.acquire(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	defer release()

	if err := h.Seek(ctx, t); err != nil {
		c.logger.Warn("seek failed", "timestamp", t, "error", err)
		return nil, fmt.Errorf("%w: seek to %.3fs: %v", ErrCaptureFailed, t, err)
	}
	return c.sample(h, t)
}

// Seek moves h to t (clamped) without encoding anything. User scrubbing goes
// through here so it queues with captures on the same handle.
func (c *Capturer) Seek(ctx context.Context, h media.Handle, t float64) (float64, error) {
	t = ClampTimestamp(t, h.Duration())

	release, err := c.acquire(ctx, h)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	defer release()

	if err := h.Seek(ctx, t); err != nil {
		return 0, fmt.Errorf("%w: seek to %.3fs: %v", ErrCaptureFailed, t, err)
	}
	return t, nil
}

// First captures the frame just after the start of the stream.
func (c *Capturer) First(ctx context.Context, h media.Handle) (*Still, error) {
	return c.Capture(ctx, h, Epsilon)
}

// Last captures the frame just before the end of the stream.
func (c *Capturer) Last(ctx context.Context, h media.Handle) (*Still, error) {
	return c.Capture(ctx, h, LastFrameTimestamp(h.Duration()))
}

// Current encodes the frame already displayed, without seeking. It still
// queues behind a pending seek on the same handle.
func (c *Capturer) Current(ctx context.Context, h media.Handle) (*Still, error) {
	release, err := c.acquire(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	defer release()
	return c.sample(h, h.Position())
}

// LastFrameTimestamp is where "last frame" is requested for a given duration.
func LastFrameTimestamp(duration float64) float64 {
	if duration <= Epsilon {
		return 0
	}
	return duration - Epsilon
}

func (c *Capturer) sample(h media.Handle, t float64) (*Still, error) {
	img, err := h.CurrentFrame()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	data, err := EncodeImage(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	b := img.Bounds()
	c.logger.Debug("frame captured",
		"timestamp", t,
		"width", b.Dx(),
		"height", b.Dy(),
		"size", humanize.Bytes(uint64(len(data))),
	)
	return &Still{PNG: data, Width: b.Dx(), Height: b.Dy(), Timestamp: t}, nil
}
