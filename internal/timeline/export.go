package timeline

import (
	"context"
	"fmt"
	"slices"

	"github.com/reelframe/reelframe-agent/internal/export"
	"github.com/reelframe/reelframe-agent/internal/project"
)

// ExportSelection archives the selected gallery entries of the active
// project, in gallery order. Only one export per project runs at a time. The
// selection is kept whether the export succeeds or fails.
func (o *Orchestrator) ExportSelection(ctx context.Context, archiveName string) (*export.Archive, error) {
	o.mu.Lock()
	p, err := o.active()
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	if o.exporting[p.ID] {
		o.mu.Unlock()
		return nil, ErrExportInProgress
	}
	var items []project.GalleryItem
	for _, it := range p.Gallery.List() {
		if slices.Contains(o.selection, it.ID) {
			items = append(items, it)
		}
	}
	if archiveName == "" {
		archiveName = p.Name
	}
	projectID := p.ID
	o.exporting[projectID] = true
	o.publish("export.started", map[string]any{"project_id": projectID, "entries": len(items)})
	o.mu.Unlock()

	archive, err := o.exporter.Export(ctx, items, archiveName)

	o.mu.Lock()
	delete(o.exporting, projectID)
	if err != nil {
		o.recordErrorLocked(projectID, err)
		o.publish("export.failed", map[string]any{"project_id": projectID, "error": err.Error()})
		o.mu.Unlock()
		return nil, err
	}
	o.publish("export.completed", map[string]any{
		"project_id": projectID,
		"name":       archive.Name,
		"entries":    len(archive.Entries),
		"size_bytes": len(archive.Data),
	})
	o.mu.Unlock()

	if o.exportLog != nil {
		if err := o.exportLog.RecordExport(ctx, projectID, archive.Name, len(archive.Entries), int64(len(archive.Data))); err != nil {
			o.logger.Warn("failed to record export", "project_id", projectID, "error", err)
		}
	}
	return archive, nil
}

// ExportTimelineEDL writes the active project's clip order as an EDL.
func (o *Orchestrator) ExportTimelineEDL(req export.EDLRequest) (*export.EDLResponse, error) {
	o.mu.Lock()
	p, err := o.active()
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	videos := p.Videos.List()
	title := req.Title
	if title == "" {
		title = p.Name
	}
	o.mu.Unlock()

	clips := export.ClipsFromVideos(videos)
	if len(clips) == 0 {
		return nil, fmt.Errorf("%w: timeline has no probed clips", project.ErrInvalidInput)
	}
	fps := req.FrameRate
	if fps <= 0 {
		for _, v := range videos {
			if v.FrameRate > 0 {
				fps = v.FrameRate
				break
			}
		}
	}

	path, err := export.WriteEDL(req.OutputDir, title, clips, fps)
	if err != nil {
		return nil, err
	}
	o.publish("export.completed", map[string]any{"format": "edl", "output_path": path, "clips": len(clips)})
	return &export.EDLResponse{
		Status:     "completed",
		Format:     "edl",
		OutputPath: path,
		ClipCount:  len(clips),
	}, nil
}
