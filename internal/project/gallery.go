package project

import (
	"bytes"
	"fmt"
	"time"

	"github.com/disintegration/imaging"

	"github.com/reelframe/reelframe-agent/internal/capture"
)

// GalleryRegistry holds captured stills, newest first. Items are never
// modified after Save.
type GalleryRegistry struct {
	items []GalleryItem
	now   func() time.Time
}

func NewGalleryRegistry() *GalleryRegistry {
	return &GalleryRegistry{now: time.Now}
}

// Save prepends a new item.
func (g *GalleryRegistry) Save(src string, typ GalleryType, videoName string) (GalleryItem, error) {
	if !typ.Valid() {
		return GalleryItem{}, fmt.Errorf("%w: gallery type %q", ErrInvalidInput, typ)
	}
	if src == "" {
		return GalleryItem{}, fmt.Errorf("%w: empty image source", ErrInvalidInput)
	}
	item := GalleryItem{
		ID:        NewID(),
		Src:       src,
		Type:      typ,
		VideoName: videoName,
		CreatedAt: g.now(),
	}
	g.items = append([]GalleryItem{item}, g.items...)
	return item, nil
}

func (g *GalleryRegistry) Remove(id string) bool {
	for i, it := range g.items {
		if it.ID == id {
			g.items = append(g.items[:i], g.items[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveMany deletes every listed id and returns how many existed.
func (g *GalleryRegistry) RemoveMany(ids []string) int {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := g.items[:0]
	removed := 0
	for _, it := range g.items {
		if _, ok := drop[it.ID]; ok {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	// zero the tail so dropped sources can be collected
	for i := len(kept); i < len(g.items); i++ {
		g.items[i] = GalleryItem{}
	}
	g.items = kept
	return removed
}

func (g *GalleryRegistry) Get(id string) (GalleryItem, error) {
	for _, it := range g.items {
		if it.ID == id {
			return it, nil
		}
	}
	return GalleryItem{}, fmt.Errorf("gallery item %s: %w", id, ErrNotFound)
}

func (g *GalleryRegistry) Has(id string) bool {
	_, err := g.Get(id)
	return err == nil
}

func (g *GalleryRegistry) List() []GalleryItem {
	return append([]GalleryItem(nil), g.items...)
}

func (g *GalleryRegistry) Len() int {
	return len(g.items)
}

// Image returns the decoded bytes and MIME type of an item's source.
func (g *GalleryRegistry) Image(id string) ([]byte, string, error) {
	it, err := g.Get(id)
	if err != nil {
		return nil, "", err
	}
	return capture.DecodeDataURL(it.Src)
}

// Thumbnail renders the item scaled to fit within maxSide pixels.
func (g *GalleryRegistry) Thumbnail(id string, maxSide int) ([]byte, error) {
	it, err := g.Get(id)
	if err != nil {
		return nil, err
	}
	return RenderThumbnail(it.Src, maxSide)
}

// RenderThumbnail decodes a data URL image and downscales it to fit within
// maxSide pixels. Images that already fit are re-encoded unchanged.
func RenderThumbnail(src string, maxSide int) ([]byte, error) {
	if maxSide <= 0 {
		return nil, fmt.Errorf("%w: thumbnail size %d", ErrInvalidInput, maxSide)
	}
	data, _, err := capture.DecodeDataURL(src)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode gallery image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() > maxSide || b.Dy() > maxSide {
		img = imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
	}
	return capture.EncodeImage(img)
}
