package timeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/reelframe/reelframe-agent/internal/capture"
	"github.com/reelframe/reelframe-agent/internal/media"
	"github.com/reelframe/reelframe-agent/internal/project"
)

// CaptureKind selects which frame a capture samples.
type CaptureKind string

const (
	CaptureFirst   CaptureKind = "first"
	CaptureLast    CaptureKind = "last"
	CaptureAt      CaptureKind = "at"
	CaptureCurrent CaptureKind = "current"
)

func ParseCaptureKind(s string) (CaptureKind, error) {
	switch k := CaptureKind(s); k {
	case CaptureFirst, CaptureLast, CaptureAt, CaptureCurrent:
		return k, nil
	}
	return "", fmt.Errorf("%w: capture kind %q", project.ErrInvalidInput, s)
}

// GalleryType is the provenance tag a capture of this kind is saved with.
func (k CaptureKind) GalleryType() project.GalleryType {
	switch k {
	case CaptureFirst:
		return project.GalleryStart
	case CaptureLast:
		return project.GalleryEnd
	default:
		return project.GalleryManual
	}
}

// CaptureResult is a still plus the clip name at the moment of capture.
type CaptureResult struct {
	Still     *capture.Still
	ProjectID string
	VideoID   string
	VideoName string
	Kind      CaptureKind
}

type captureTicket struct {
	projectID string
	video     project.VideoItem
	future    *pendingCapture
}

// beginCapture registers a pending capture for a clip of the active project.
func (o *Orchestrator) beginCapture(videoID string) (*captureTicket, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.active()
	if err != nil {
		return nil, err
	}
	v, err := p.Videos.Get(videoID)
	if err != nil {
		return nil, err
	}
	f := capture.NewFuture[*capture.Still]()
	if o.pending[videoID] == nil {
		o.pending[videoID] = make(map[*pendingCapture]struct{})
	}
	o.pending[videoID][f] = struct{}{}
	return &captureTicket{projectID: p.ID, video: v, future: f}, nil
}

// finishCapture settles the ticket. A capture whose clip was deleted in the
// meantime is reported as discarded and its result dropped.
func (o *Orchestrator) finishCapture(t *captureTicket, still *capture.Still, err error) (*capture.Still, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if set := o.pending[t.video.ID]; set != nil {
		delete(set, t.future)
		if len(set) == 0 {
			delete(o.pending, t.video.ID)
		}
	}

	settled := false
	if err != nil {
		settled = t.future.Reject(err)
	} else {
		settled = t.future.Resolve(still)
	}
	if !settled {
		o.logger.Debug("capture discarded", "video_id", t.video.ID)
		return nil, capture.ErrDiscarded
	}
	if err != nil {
		o.recordErrorLocked(t.projectID, err)
		o.publish("capture.failed", map[string]any{
			"project_id": t.projectID,
			"video_id":   t.video.ID,
			"error":      err.Error(),
		})
		return nil, err
	}
	return still, nil
}

// handleFor returns the decoder handle of a clip, opening it on first use.
func (o *Orchestrator) handleFor(ctx context.Context, t *captureTicket) (media.Handle, error) {
	o.mu.Lock()
	h := o.handles[t.video.ID]
	o.mu.Unlock()
	if h != nil {
		return h, nil
	}
	if o.decoder == nil {
		return nil, fmt.Errorf("%w: no decoder configured", capture.ErrCaptureFailed)
	}

	opened, err := o.decoder.Open(ctx, t.video.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", capture.ErrCaptureFailed, t.video.Name, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if t.future.State() == capture.StateDiscarded {
		opened.Close()
		return nil, capture.ErrDiscarded
	}
	if existing := o.handles[t.video.ID]; existing != nil {
		opened.Close()
		return existing, nil
	}
	o.handles[t.video.ID] = opened
	return opened, nil
}

// CaptureFrame samples one frame of a clip in the active project. at is only
// used for CaptureAt. Failures are recorded as the project's last error.
func (o *Orchestrator) CaptureFrame(ctx context.Context, videoID string, kind CaptureKind, at float64) (*CaptureResult, error) {
	if _, err := ParseCaptureKind(string(kind)); err != nil {
		return nil, err
	}
	t, err := o.beginCapture(videoID)
	if err != nil {
		return nil, err
	}

	still, err := o.runCapture(ctx, t, kind, at)
	still, err = o.finishCapture(t, still, err)
	if err != nil {
		return nil, err
	}
	return &CaptureResult{Still: still, ProjectID: t.projectID, VideoID: videoID, VideoName: t.video.Name, Kind: kind}, nil
}

func (o *Orchestrator) runCapture(ctx context.Context, t *captureTicket, kind CaptureKind, at float64) (*capture.Still, error) {
	h, err := o.handleFor(ctx, t)
	if err != nil {
		return nil, err
	}
	switch kind {
	case CaptureFirst:
		return o.capturer.First(ctx, h)
	case CaptureLast:
		return o.capturer.Last(ctx, h)
	case CaptureCurrent:
		return o.capturer.Current(ctx, h)
	default:
		return o.capturer.Capture(ctx, h, at)
	}
}

// CaptureToGallery captures a frame and saves it with the provenance tag of
// kind. The gallery entry keeps the clip name as it was when the capture was
// requested.
func (o *Orchestrator) CaptureToGallery(ctx context.Context, videoID string, kind CaptureKind, at float64) (project.GalleryItem, error) {
	res, err := o.CaptureFrame(ctx, videoID, kind, at)
	if err != nil {
		return project.GalleryItem{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.store.Get(res.ProjectID)
	if err != nil || p.Videos.IndexOf(videoID) < 0 {
		return project.GalleryItem{}, capture.ErrDiscarded
	}
	item, err := p.Gallery.Save(res.Still.DataURL(), kind.GalleryType(), res.VideoName)
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

// SeekVideo moves a clip's visible frame, as a user scrub does. A following
// CaptureCurrent samples that frame.
func (o *Orchestrator) SeekVideo(ctx context.Context, videoID string, t float64) (float64, error) {
	ticket, err := o.beginCapture(videoID)
	if err != nil {
		return 0, err
	}
	var pos float64
	h, err := o.handleFor(ctx, ticket)
	if err == nil {
		pos, err = o.capturer.Seek(ctx, h, t)
	}
	if _, ferr := o.finishCapture(ticket, nil, err); ferr != nil {
		if errors.Is(ferr, capture.ErrDiscarded) {
			return 0, ferr
		}
		return 0, err
	}
	return pos, nil
}
