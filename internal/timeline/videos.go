package timeline

import (
	"context"

	"github.com/reelframe/reelframe-agent/internal/media"
	"github.com/reelframe/reelframe-agent/internal/project"
)

// ImportVideos appends the video files of the batch to the active project.
// Non-video files are dropped. Accepted clips are probed afterwards without
// holding the orchestrator lock; a clip the decoder cannot open stays on the
// timeline with empty metadata and fails at capture time.
func (o *Orchestrator) ImportVideos(ctx context.Context, files []project.ImportFile) ([]project.VideoItem, error) {
	o.mu.Lock()
	p, err := o.active()
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	added, err := p.Videos.Add(files)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	for _, v := range added {
		o.watchLocked(p.ID, v)
	}
	if len(added) > 0 {
		o.store.Touch(p)
		o.publish("video.imported", map[string]any{
			"project_id": p.ID,
			"count":      len(added),
			"dropped":    len(files) - len(added),
		})
	}
	projectID := p.ID
	o.mu.Unlock()

	if o.decoder == nil {
		return added, nil
	}
	for i, v := range added {
		h, err := o.decoder.Open(ctx, v.Path)
		if err != nil {
			o.logger.Warn("probe failed", "project_id", projectID, "video_id", v.ID, "error", err)
			continue
		}
		if !o.adoptHandle(projectID, v.ID, h) {
			continue
		}
		res := h.Resolution()
		added[i].Duration = h.Duration()
		added[i].FrameRate = h.FrameRate()
		added[i].Width = res.Width
		added[i].Height = res.Height
	}
	return added, nil
}

// adoptHandle copies h's metadata into the model and keeps h open for the
// clip while its project is active. It closes h and reports false when the
// clip is gone. A project left while h was opening keeps the metadata only.
func (o *Orchestrator) adoptHandle(projectID, videoID string, h media.Handle) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.store.Get(projectID)
	if err != nil || p.Videos.IndexOf(videoID) < 0 {
		h.Close()
		return false
	}
	res := h.Resolution()
	p.Videos.SetMetadata(videoID, h.Duration(), h.FrameRate(), res.Width, res.Height)
	if _, ok := o.handles[videoID]; ok || o.store.ActiveID() != projectID {
		h.Close()
		return true
	}
	o.handles[videoID] = h
	return true
}

// ReorderVideo swaps a clip with its neighbour. Moving past either end is a
// no-op and reports false without touching the project.
func (o *Orchestrator) ReorderVideo(videoID string, dir project.Direction) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.active()
	if err != nil {
		return false, err
	}
	idx := p.Videos.IndexOf(videoID)
	if idx < 0 {
		_, err := p.Videos.Get(videoID)
		return false, err
	}
	if !p.Videos.Reorder(idx, dir) {
		return false, nil
	}
	o.store.Touch(p)
	o.publish("video.moved", map[string]any{"project_id": p.ID, "video_id": videoID, "index": idx + int(dir)})
	return true, nil
}

// RemoveVideo deletes a clip, revokes its playback handle, closes its decoder
// and discards captures still pending on it. Unknown ids are a no-op.
func (o *Orchestrator) RemoveVideo(videoID string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.active()
	if err != nil {
		return false, err
	}
	o.releaseVideoLocked(videoID)
	if !p.Videos.Remove(videoID) {
		return false, nil
	}
	o.unwatchLocked(videoID)
	o.store.Touch(p)
	o.publish("video.removed", map[string]any{"project_id": p.ID, "video_id": videoID})
	return true, nil
}

func (o *Orchestrator) UpdateVideo(videoID string, u project.VideoUpdate) (project.VideoItem, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.active()
	if err != nil {
		return project.VideoItem{}, err
	}
	if err := p.Videos.Update(videoID, u); err != nil {
		return project.VideoItem{}, err
	}
	o.store.Touch(p)
	v, _ := p.Videos.Get(videoID)
	o.publish("video.updated", map[string]any{"project_id": p.ID, "video_id": videoID})
	return v, nil
}

// Video returns one clip of the active project.
func (o *Orchestrator) Video(videoID string) (project.VideoItem, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.active()
	if err != nil {
		return project.VideoItem{}, err
	}
	return p.Videos.Get(videoID)
}

func (o *Orchestrator) watchLocked(projectID string, v project.VideoItem) {
	if err := o.sources.Watch(v.Path); err != nil {
		o.logger.Warn("cannot watch source", "video_id", v.ID, "error", err)
		return
	}
	o.watched[v.ID] = watchedSource{projectID: projectID, path: v.Path}
}

func (o *Orchestrator) unwatchLocked(videoID string) {
	if src, ok := o.watched[videoID]; ok {
		o.sources.Unwatch(src.path)
		delete(o.watched, videoID)
	}
}

// SourceChanged reacts to an imported file changing on disk. Every clip
// backed by the file loses its decoder handle, so the next capture reopens
// the current contents.
func (o *Orchestrator) SourceChanged(path, change string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for videoID, src := range o.watched {
		if src.path != path {
			continue
		}
		o.releaseVideoLocked(videoID)
		o.publish("video.source_changed", map[string]any{
			"project_id": src.projectID,
			"video_id":   videoID,
			"change":     change,
		})
	}
}
