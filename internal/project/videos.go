package project

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Direction moves a clip one slot along the timeline.
type Direction int

const (
	Left  Direction = -1
	Right Direction = 1
)

func ParseDirection(s string) (Direction, error) {
	switch s {
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	}
	return 0, fmt.Errorf("%w: direction %q", ErrInvalidInput, s)
}

// VideoUpdate enumerates the mutable fields of a clip. Nil fields are left
// unchanged; ClearCrop wins over Crop.
type VideoUpdate struct {
	Name      *string
	Crop      *Crop
	ClearCrop bool
}

// VideoRegistry is the ordered clip list of one project.
type VideoRegistry struct {
	items   []*VideoItem
	handles HandleProvider
	now     func() time.Time
	logger  *slog.Logger
}

func NewVideoRegistry(handles HandleProvider, logger *slog.Logger) *VideoRegistry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &VideoRegistry{handles: handles, now: time.Now, logger: logger}
}

// DetectVideo sniffs the file content and reports its MIME type when it is a
// video container.
func DetectVideo(path string) (string, bool) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", false
	}
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return mt.String(), true
		}
	}
	return mt.String(), false
}

// Add appends one clip per accepted file, in input order. Files that are not
// video are dropped without error.
func (r *VideoRegistry) Add(files []ImportFile) ([]VideoItem, error) {
	var added []*VideoItem
	for _, f := range files {
		mimeType, ok := DetectVideo(f.Path)
		if !ok {
			r.logger.Debug("dropping non-video import", "name", f.Name, "mime_type", mimeType)
			continue
		}

		h, err := r.handles.Acquire(f.Path)
		if err != nil {
			for _, v := range added {
				r.handles.Release(v.Token)
			}
			return nil, fmt.Errorf("acquire playback handle for %q: %w", f.Name, err)
		}

		added = append(added, &VideoItem{
			ID:         NewID(),
			Name:       f.Name,
			URL:        h.URL,
			Token:      h.Token,
			Path:       f.Path,
			MimeType:   mimeType,
			ImportedAt: r.now(),
		})
	}

	r.items = append(r.items, added...)

	out := make([]VideoItem, len(added))
	for i, v := range added {
		out[i] = v.clone()
	}
	return out, nil
}

// Reorder swaps the clip at index with its neighbour. It reports false at
// either boundary or for an out-of-range index.
func (r *VideoRegistry) Reorder(index int, dir Direction) bool {
	target := index + int(dir)
	if index < 0 || index >= len(r.items) || target < 0 || target >= len(r.items) {
		return false
	}
	r.items[index], r.items[target] = r.items[target], r.items[index]
	return true
}

// Remove drops the clip and releases its playback handle. Unknown ids are a
// no-op.
func (r *VideoRegistry) Remove(id string) bool {
	i := r.indexOf(id)
	if i < 0 {
		return false
	}
	v := r.items[i]
	r.items = append(r.items[:i], r.items[i+1:]...)
	r.handles.Release(v.Token)
	return true
}

func (r *VideoRegistry) UpdateCrop(id string, crop *Crop) error {
	v, err := r.get(id)
	if err != nil {
		return err
	}
	if crop == nil {
		v.Crop = nil
		return nil
	}
	c := *crop
	v.Crop = &c
	return nil
}

// Rename replaces the display name. Empty names are accepted.
func (r *VideoRegistry) Rename(id, name string) error {
	v, err := r.get(id)
	if err != nil {
		return err
	}
	v.Name = name
	return nil
}

func (r *VideoRegistry) Update(id string, u VideoUpdate) error {
	if _, err := r.get(id); err != nil {
		return err
	}
	if u.Name != nil {
		r.Rename(id, *u.Name)
	}
	switch {
	case u.ClearCrop:
		r.UpdateCrop(id, nil)
	case u.Crop != nil:
		r.UpdateCrop(id, u.Crop)
	}
	return nil
}

// SetMetadata records what the decoder reported for a clip.
func (r *VideoRegistry) SetMetadata(id string, duration, frameRate float64, width, height int) error {
	v, err := r.get(id)
	if err != nil {
		return err
	}
	v.Duration = duration
	v.FrameRate = frameRate
	v.Width = width
	v.Height = height
	return nil
}

func (r *VideoRegistry) Get(id string) (VideoItem, error) {
	v, err := r.get(id)
	if err != nil {
		return VideoItem{}, err
	}
	return v.clone(), nil
}

func (r *VideoRegistry) IndexOf(id string) int {
	return r.indexOf(id)
}

func (r *VideoRegistry) List() []VideoItem {
	out := make([]VideoItem, len(r.items))
	for i, v := range r.items {
		out[i] = v.clone()
	}
	return out
}

func (r *VideoRegistry) Len() int {
	return len(r.items)
}

// ReleaseAll revokes every playback handle and empties the registry.
func (r *VideoRegistry) ReleaseAll() {
	for _, v := range r.items {
		r.handles.Release(v.Token)
	}
	r.items = nil
}

func (r *VideoRegistry) get(id string) (*VideoItem, error) {
	i := r.indexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("video %s: %w", id, ErrNotFound)
	}
	return r.items[i], nil
}

func (r *VideoRegistry) indexOf(id string) int {
	for i, v := range r.items {
		if v.ID == id {
			return i
		}
	}
	return -1
}
