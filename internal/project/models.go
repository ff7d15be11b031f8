// Package project holds the in-memory project model: projects, their ordered
// video timeline and their capture gallery.
//
// Nothing in this package is safe for concurrent use. The timeline
// orchestrator serializes every call.
package project

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

type AspectRatio string

const (
	Aspect16x9 AspectRatio = "16:9"
	Aspect9x16 AspectRatio = "9:16"
	Aspect1x1  AspectRatio = "1:1"
)

func (a AspectRatio) Valid() bool {
	switch a {
	case Aspect16x9, Aspect9x16, Aspect1x1:
		return true
	}
	return false
}

// GalleryType records how a gallery item was produced.
type GalleryType string

const (
	GalleryStart  GalleryType = "start"
	GalleryEnd    GalleryType = "end"
	GalleryManual GalleryType = "manual"
)

func (g GalleryType) Valid() bool {
	switch g {
	case GalleryStart, GalleryEnd, GalleryManual:
		return true
	}
	return false
}

// Crop is a pan/zoom transform in display pixels. Values are stored as given.
type Crop struct {
	Scale float64 `json:"scale"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// ImportFile is the binary source of a clip. The file is referenced by path
// and never copied.
type ImportFile struct {
	Name string
	Path string
}

// PlaybackHandle is a transient, revocable URL for one clip.
type PlaybackHandle struct {
	Token string
	URL   string
}

// HandleProvider mints and revokes playback handles.
type HandleProvider interface {
	Acquire(path string) (PlaybackHandle, error)
	Release(token string)
}

type VideoItem struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Crop       *Crop     `json:"crop,omitempty"`
	Duration   float64   `json:"duration"`
	FrameRate  float64   `json:"frame_rate"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	MimeType   string    `json:"mime_type"`
	ImportedAt time.Time `json:"imported_at"`

	Path  string `json:"-"`
	Token string `json:"-"`
}

func (v *VideoItem) clone() VideoItem {
	c := *v
	if v.Crop != nil {
		crop := *v.Crop
		c.Crop = &crop
	}
	return c
}

// GalleryItem is an immutable captured still.
type GalleryItem struct {
	ID        string      `json:"id"`
	Src       string      `json:"src"`
	Type      GalleryType `json:"type"`
	VideoName string      `json:"video_name"`
	CreatedAt time.Time   `json:"created_at"`
}

// Summary is the listing form of a project.
type Summary struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	AspectRatio  AspectRatio `json:"aspect_ratio"`
	CreatedAt    time.Time   `json:"created_at"`
	LastModified time.Time   `json:"last_modified"`
	VideoCount   int         `json:"video_count"`
	GalleryCount int         `json:"gallery_count"`
}

// Snapshot is a detached copy of a project's full state.
type Snapshot struct {
	Summary
	Videos  []VideoItem   `json:"videos"`
	Gallery []GalleryItem `json:"gallery"`
}

type Project struct {
	ID          string
	Name        string
	AspectRatio AspectRatio
	CreatedAt   time.Time

	Videos  *VideoRegistry
	Gallery *GalleryRegistry

	lastModified time.Time
}

func (p *Project) LastModified() time.Time {
	return p.lastModified
}

// Touch advances LastModified to now, or by one nanosecond when the clock has
// not moved past the previous value.
func (p *Project) Touch(now time.Time) {
	if !now.After(p.lastModified) {
		now = p.lastModified.Add(time.Nanosecond)
	}
	p.lastModified = now
}

func (p *Project) Summary() Summary {
	return Summary{
		ID:           p.ID,
		Name:         p.Name,
		AspectRatio:  p.AspectRatio,
		CreatedAt:    p.CreatedAt,
		LastModified: p.lastModified,
		VideoCount:   p.Videos.Len(),
		GalleryCount: p.Gallery.Len(),
	}
}

func (p *Project) Snapshot() Snapshot {
	return Snapshot{
		Summary: p.Summary(),
		Videos:  p.Videos.List(),
		Gallery: p.Gallery.List(),
	}
}

func NewID() string {
	return uuid.NewString()
}
