package export

import (
	"context"
	"errors"
)

var (
	ErrExportFailed     = errors.New("export failed")
	ErrInvalidOutputDir = errors.New("invalid output_dir")
)

// File is one archive entry before encoding.
type File struct {
	Name string
	Data []byte
}

// Archiver groups files under a named folder and returns the encoded blob.
type Archiver interface {
	Archive(ctx context.Context, folder string, files []File) ([]byte, error)
}

// Archive is a finished, downloadable export.
type Archive struct {
	Name    string   `json:"name"`
	Folder  string   `json:"folder"`
	Entries []string `json:"entries"`
	Data    []byte   `json:"-"`
}

type ResolvedClip struct {
	ClipName  string
	MediaPath string
	StartMs   int
	EndMs     int
}

type EDLRequest struct {
	Title     string  `json:"title"`
	FrameRate float64 `json:"frame_rate"`
	OutputDir string  `json:"output_dir"`
}

type EDLResponse struct {
	Status     string `json:"status"`
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
	ClipCount  int    `json:"clip_count"`
}
