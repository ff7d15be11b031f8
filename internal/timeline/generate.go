package timeline

import (
	"context"
	"errors"
	"time"

	"github.com/reelframe/reelframe-agent/internal/capture"
	"github.com/reelframe/reelframe-agent/internal/generate"
	"github.com/reelframe/reelframe-agent/internal/project"
)

// Generation tracks one request to the generative-image service.
type Generation struct {
	ID        string
	ProjectID string
	SourceID  string
	CreatedAt time.Time

	// future carries the id of the gallery entry the result was saved as.
	future *capture.Future[string]
}

// GenerationStatus is the externally visible form of a Generation.
type GenerationStatus struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	SourceID  string    `json:"source_id"`
	State     string    `json:"state"`
	ResultID  string    `json:"result_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (g *Generation) Status() GenerationStatus {
	st := GenerationStatus{
		ID:        g.ID,
		ProjectID: g.ProjectID,
		SourceID:  g.SourceID,
		State:     g.future.State().String(),
		CreatedAt: g.CreatedAt,
	}
	switch g.future.State() {
	case capture.StateSucceeded:
		st.ResultID, _ = g.future.Wait(context.Background())
	case capture.StateFailed, capture.StateDiscarded:
		if err := g.future.Err(); err != nil {
			st.Error = err.Error()
		}
	}
	return st
}

// GenerateNext asks the generator for the frame following a gallery entry.
// The request runs in the background; on success the result is appended to
// the same project's gallery as a manual entry carrying the source entry's
// video name. A failure only affects the returned generation's status.
func (o *Orchestrator) GenerateNext(galleryID, prompt string) (GenerationStatus, error) {
	o.mu.Lock()
	p, err := o.active()
	if err != nil {
		o.mu.Unlock()
		return GenerationStatus{}, err
	}
	src, err := p.Gallery.Get(galleryID)
	if err != nil {
		o.mu.Unlock()
		return GenerationStatus{}, err
	}
	data, mimeType, err := capture.DecodeDataURL(src.Src)
	if err != nil {
		o.mu.Unlock()
		return GenerationStatus{}, err
	}

	g := &Generation{
		ID:        project.NewID(),
		ProjectID: p.ID,
		SourceID:  galleryID,
		CreatedAt: o.store.Now(),
		future:    capture.NewFuture[string](),
	}
	o.generations[g.ID] = g
	ctx := o.projectContextLocked(p.ID)
	o.publish("generate.started", map[string]any{"project_id": p.ID, "id": g.ID, "source_id": galleryID})
	o.mu.Unlock()

	go o.runGeneration(ctx, g, src.VideoName, generate.Request{Image: data, MimeType: mimeType, Prompt: prompt})
	return g.Status(), nil
}

func (o *Orchestrator) runGeneration(ctx context.Context, g *Generation, videoName string, req generate.Request) {
	res, err := o.generator.Generate(ctx, req)

	o.mu.Lock()
	defer o.mu.Unlock()

	p, perr := o.store.Get(g.ProjectID)
	if perr != nil || ctx.Err() != nil {
		g.future.Discard()
		o.logger.Debug("generation discarded", "generation_id", g.ID)
		return
	}
	if err != nil {
		if !errors.Is(err, generate.ErrGenerationFailed) {
			err = errors.Join(generate.ErrGenerationFailed, err)
		}
		g.future.Reject(err)
		o.publish("generate.failed", map[string]any{"project_id": p.ID, "id": g.ID, "error": err.Error()})
		return
	}

	src := capture.EncodeDataURL(res.MimeType, res.Image)
	if _, _, err := capture.DecodeStill(src); err != nil {
		err = errors.Join(generate.ErrGenerationFailed, err)
		g.future.Reject(err)
		o.publish("generate.failed", map[string]any{"project_id": p.ID, "id": g.ID, "error": err.Error()})
		return
	}
	item, err := p.Gallery.Save(src, project.GalleryManual, videoName)
	if err != nil {
		g.future.Reject(err)
		o.publish("generate.failed", map[string]any{"project_id": p.ID, "id": g.ID, "error": err.Error()})
		return
	}
	o.store.Touch(p)
	g.future.Resolve(item.ID)
	o.publish("gallery.saved", map[string]any{
		"project_id": p.ID,
		"id":         item.ID,
		"type":       string(item.Type),
		"video_name": item.VideoName,
	})
	o.publish("generate.completed", map[string]any{"project_id": p.ID, "id": g.ID, "result_id": item.ID})
}

// Generation reports a generation started from the active project. Once its
// project is deleted the generation stays readable in its settled state.
func (o *Orchestrator) Generation(id string) (GenerationStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	g, err := o.generationLocked(id)
	if err != nil {
		return GenerationStatus{}, err
	}
	return g.Status(), nil
}

// WaitGeneration blocks until the generation settles or ctx ends.
func (o *Orchestrator) WaitGeneration(ctx context.Context, id string) (GenerationStatus, error) {
	o.mu.Lock()
	g, err := o.generationLocked(id)
	o.mu.Unlock()
	if err != nil {
		return GenerationStatus{}, err
	}
	select {
	case <-g.future.Done():
		return g.Status(), nil
	case <-ctx.Done():
		return GenerationStatus{}, ctx.Err()
	}
}

func (o *Orchestrator) generationLocked(id string) (*Generation, error) {
	g, ok := o.generations[id]
	if !ok {
		return nil, project.ErrNotFound
	}
	if g.ProjectID == o.store.ActiveID() {
		return g, nil
	}
	if _, err := o.store.Get(g.ProjectID); err != nil {
		return g, nil
	}
	return nil, project.ErrNotFound
}

// discardGenerationsLocked settles every pending generation of a project
// that is going away. Settled entries only keep ids and the error.
func (o *Orchestrator) discardGenerationsLocked(projectID string) {
	for _, g := range o.generations {
		if g.ProjectID == projectID {
			g.future.Discard()
		}
	}
}
