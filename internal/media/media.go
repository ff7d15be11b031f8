// Package media is the decode/playback collaborator behind frame capture.
// The rest of the agent depends only on Decoder and Handle; the ffmpeg-backed
// implementation lives in ffmpeg.go.
package media

import (
	"context"
	"errors"
	"image"
)

var (
	ErrNoFrame       = errors.New("no decoded frame available")
	ErrHandleClosed  = errors.New("media handle closed")
	ErrNoVideoStream = errors.New("source has no video stream")
)

// Resolution is the native pixel size of a video stream.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type ProbeResult struct {
	Duration   float64
	Width      int
	Height     int
	Codec      string
	FrameRate  float64
	Bitrate    int64
	AudioCodec string
}

// Decoder opens a raw media source for seeking and frame sampling.
type Decoder interface {
	Open(ctx context.Context, path string) (Handle, error)
}

// Handle is one opened video. Seek blocks until the frame at the target
// timestamp is decoded; CurrentFrame returns that frame without decoding.
// Position is last-writer-wins across callers.
type Handle interface {
	Duration() float64
	Resolution() Resolution
	FrameRate() float64
	Position() float64
	Seek(ctx context.Context, t float64) error
	CurrentFrame() (image.Image, error)
	Close() error
}
