package timeline

import (
	"fmt"
	"slices"

	"github.com/reelframe/reelframe-agent/internal/capture"
	"github.com/reelframe/reelframe-agent/internal/project"
)

// SaveToGallery stores an already encoded still in the active project. src
// must be a base64 data URL whose payload decodes as an image.
func (o *Orchestrator) SaveToGallery(src string, typ project.GalleryType, videoName string) (project.GalleryItem, error) {
	if _, _, err := capture.DecodeStill(src); err != nil {
		return project.GalleryItem{}, fmt.Errorf("%w: %v", project.ErrInvalidInput, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.active()
	if err != nil {
		return project.GalleryItem{}, err
	}
	item, err := p.Gallery.Save(src, typ, videoName)
	if err != nil {
		return project.GalleryItem{}, err
	}
	o.store.Touch(p)
	o.publish("gallery.saved", map[string]any{
		"project_id": p.ID,
		"id":         item.ID,
		"type":       string(item.Type),
		"video_name": item.VideoName,
	})
	return item, nil
}

// RemoveGalleryItem deletes one entry and drops it from the selection.
// Unknown ids are a no-op.
func (o *Orchestrator) RemoveGalleryItem(id string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.active()
	if err != nil {
		return false, err
	}
	o.deselectLocked([]string{id})
	if !p.Gallery.Remove(id) {
		return false, nil
	}
	o.store.Touch(p)
	o.publish("gallery.removed", map[string]any{"project_id": p.ID, "ids": []string{id}})
	return true, nil
}

// RemoveGalleryItems is the batch delete. It returns how many entries
// existed.
func (o *Orchestrator) RemoveGalleryItems(ids []string) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.active()
	if err != nil {
		return 0, err
	}
	o.deselectLocked(ids)
	n := p.Gallery.RemoveMany(ids)
	if n > 0 {
		o.store.Touch(p)
		o.publish("gallery.removed", map[string]any{"project_id": p.ID, "ids": ids})
	}
	return n, nil
}

func (o *Orchestrator) Gallery() ([]project.GalleryItem, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.active()
	if err != nil {
		return nil, err
	}
	return p.Gallery.List(), nil
}

func (o *Orchestrator) GalleryItem(id string) (project.GalleryItem, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.active()
	if err != nil {
		return project.GalleryItem{}, err
	}
	return p.Gallery.Get(id)
}

// GalleryImage returns the decoded image bytes and MIME type of an entry.
func (o *Orchestrator) GalleryImage(id string) ([]byte, string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.active()
	if err != nil {
		return nil, "", err
	}
	return p.Gallery.Image(id)
}

func (o *Orchestrator) GalleryThumbnail(id string, maxSide int) ([]byte, error) {
	o.mu.Lock()
	p, err := o.active()
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	item, err := p.Gallery.Get(id)
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return project.RenderThumbnail(item.Src, maxSide)
}

// Select adds gallery ids to the selection. Every id must exist in the
// active project.
func (o *Orchestrator) Select(ids ...string) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selectLocked(false, ids)
}

// SetSelection replaces the selection.
func (o *Orchestrator) SetSelection(ids []string) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selectLocked(true, ids)
}

func (o *Orchestrator) selectLocked(replace bool, ids []string) ([]string, error) {
	p, err := o.active()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if !p.Gallery.Has(id) {
			return nil, fmt.Errorf("gallery item %s: %w", id, project.ErrNotFound)
		}
	}
	if replace {
		o.selection = nil
	}
	for _, id := range ids {
		if !slices.Contains(o.selection, id) {
			o.selection = append(o.selection, id)
		}
	}
	o.publishSelectionLocked(p.ID)
	return o.selectionLocked(), nil
}

func (o *Orchestrator) Deselect(ids ...string) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.active()
	if err != nil {
		return nil, err
	}
	o.deselectLocked(ids)
	o.publishSelectionLocked(p.ID)
	return o.selectionLocked(), nil
}

func (o *Orchestrator) ClearSelection() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.selection = nil
	if id := o.store.ActiveID(); id != "" {
		o.publishSelectionLocked(id)
	}
}

func (o *Orchestrator) Selection() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selectionLocked()
}

func (o *Orchestrator) selectionLocked() []string {
	return append([]string{}, o.selection...)
}

func (o *Orchestrator) deselectLocked(ids []string) {
	o.selection = slices.DeleteFunc(o.selection, func(s string) bool {
		return slices.Contains(ids, s)
	})
}

func (o *Orchestrator) publishSelectionLocked(projectID string) {
	o.publish("selection.changed", map[string]any{
		"project_id": projectID,
		"count":      len(o.selection),
	})
}
