// Package timeline is the coordination layer between user actions and the
// project model. Every mutation of a project's clips or gallery goes through
// an Orchestrator, which keeps lastModified, selection, pending captures and
// background generations consistent with what still exists.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/reelframe/reelframe-agent/internal/capture"
	"github.com/reelframe/reelframe-agent/internal/export"
	"github.com/reelframe/reelframe-agent/internal/generate"
	"github.com/reelframe/reelframe-agent/internal/logging"
	"github.com/reelframe/reelframe-agent/internal/media"
	"github.com/reelframe/reelframe-agent/internal/project"
)

var (
	ErrNoActiveProject  = errors.New("no active project")
	ErrExportInProgress = errors.New("an export is already in progress for this project")
	ErrInvalidView      = errors.New("invalid view")
)

type View string

const (
	ViewTimeline View = "timeline"
	ViewGallery  View = "gallery"
)

func ParseView(s string) (View, error) {
	switch View(s) {
	case ViewTimeline, ViewGallery:
		return View(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidView, s)
}

// Notifier receives a message for every state change.
type Notifier interface {
	Publish(eventType string, data map[string]any)
}

type nopNotifier struct{}

func (nopNotifier) Publish(string, map[string]any) {}

// SourceWatcher tracks imported files on disk.
type SourceWatcher interface {
	Watch(path string) error
	Unwatch(path string)
}

type nopSources struct{}

func (nopSources) Watch(string) error { return nil }
func (nopSources) Unwatch(string)     {}

type watchedSource struct {
	projectID string
	path      string
}

// ExportRecorder keeps a log of finished archives.
type ExportRecorder interface {
	RecordExport(ctx context.Context, projectID, archiveName string, entries int, size int64) error
}

// SessionState describes the lifecycle state machine at one instant.
type SessionState struct {
	Active    bool     `json:"active"`
	ProjectID string   `json:"project_id,omitempty"`
	View      View     `json:"view,omitempty"`
	Selection []string `json:"selection"`
	Exporting bool     `json:"exporting"`
	LastError string   `json:"last_error,omitempty"`
}

// Options wires collaborators. Store is required; the rest have defaults.
type Options struct {
	Store     *project.Store
	Decoder   media.Decoder
	Capturer  *capture.Capturer
	Exporter  *export.Exporter
	Generator generate.Generator
	Notifier  Notifier
	ExportLog ExportRecorder
	Sources   SourceWatcher
	Logger    *slog.Logger
}

type pendingCapture = capture.Future[*capture.Still]

type Orchestrator struct {
	store     *project.Store
	decoder   media.Decoder
	capturer  *capture.Capturer
	exporter  *export.Exporter
	generator generate.Generator
	notifier  Notifier
	exportLog ExportRecorder
	sources   SourceWatcher
	logger    *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu          sync.Mutex
	view        View
	selection   []string
	handles     map[string]media.Handle
	pending     map[string]map[*pendingCapture]struct{}
	exporting   map[string]bool
	lastError   map[string]string
	projectCtx  map[string]context.CancelFunc
	ctxs        map[string]context.Context
	generations map[string]*Generation
	watched     map[string]watchedSource
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logging.WithComponent(logger, "timeline")

	capturer := opts.Capturer
	if capturer == nil {
		capturer = capture.NewCapturer(logger)
	}
	exporter := opts.Exporter
	if exporter == nil {
		exporter = export.NewExporter(export.NewZipArchiver(), logger)
	}
	generator := opts.Generator
	if generator == nil {
		generator = generate.NewStubGenerator(logger)
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	var sources SourceWatcher = nopSources{}
	if opts.Sources != nil {
		sources = opts.Sources
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:       opts.Store,
		decoder:     opts.Decoder,
		capturer:    capturer,
		exporter:    exporter,
		generator:   generator,
		notifier:    notifier,
		exportLog:   opts.ExportLog,
		sources:     sources,
		logger:      logger,
		baseCtx:     ctx,
		cancel:      cancel,
		handles:     make(map[string]media.Handle),
		pending:     make(map[string]map[*pendingCapture]struct{}),
		exporting:   make(map[string]bool),
		lastError:   make(map[string]string),
		projectCtx:  make(map[string]context.CancelFunc),
		ctxs:        make(map[string]context.Context),
		generations: make(map[string]*Generation),
		watched:     make(map[string]watchedSource),
	}
}

// Close cancels background generations and closes every decoder handle.
func (o *Orchestrator) Close() error {
	o.cancel()

	o.mu.Lock()
	defer o.mu.Unlock()
	for id, h := range o.handles {
		h.Close()
		delete(o.handles, id)
	}
	for videoID := range o.pending {
		o.discardCapturesLocked(videoID)
	}
	return nil
}

func (o *Orchestrator) publish(eventType string, data map[string]any) {
	o.notifier.Publish(eventType, data)
}

// active returns the active project. Callers hold o.mu.
func (o *Orchestrator) active() (*project.Project, error) {
	p := o.store.Active()
	if p == nil {
		return nil, ErrNoActiveProject
	}
	return p, nil
}

func (o *Orchestrator) recordErrorLocked(projectID string, err error) {
	if projectID == "" || err == nil {
		return
	}
	o.lastError[projectID] = err.Error()
}

// projectContextLocked returns a context cancelled when the project is
// deleted or the orchestrator closes.
func (o *Orchestrator) projectContextLocked(projectID string) context.Context {
	if ctx, ok := o.ctxs[projectID]; ok {
		return ctx
	}
	ctx, cancel := context.WithCancel(o.baseCtx)
	o.ctxs[projectID] = ctx
	o.projectCtx[projectID] = cancel
	return ctx
}

// State reports the lifecycle state.
func (o *Orchestrator) State() SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stateLocked()
}

func (o *Orchestrator) stateLocked() SessionState {
	p := o.store.Active()
	if p == nil {
		return SessionState{Selection: []string{}}
	}
	return SessionState{
		Active:    true,
		ProjectID: p.ID,
		View:      o.view,
		Selection: append([]string{}, o.selection...),
		Exporting: o.exporting[p.ID],
		LastError: o.lastError[p.ID],
	}
}

func (o *Orchestrator) CreateProject(name string, ratio project.AspectRatio) (project.Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.store.Create(name, ratio)
	if err != nil {
		return project.Snapshot{}, err
	}
	o.leaveActiveLocked()
	o.store.SetActive(p.ID)
	o.view = ViewTimeline
	o.selection = nil

	o.publish("project.created", map[string]any{"project_id": p.ID, "name": p.Name})
	return p.Snapshot(), nil
}

// OpenProject makes id active with the timeline view and an empty
// selection. Opening while another project is active leaves that one first.
func (o *Orchestrator) OpenProject(id string) (project.Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.store.Get(id)
	if err != nil {
		return project.Snapshot{}, err
	}
	if o.store.ActiveID() != id {
		o.leaveActiveLocked()
	}
	o.store.SetActive(id)
	o.view = ViewTimeline
	o.selection = nil

	o.publish("project.opened", map[string]any{"project_id": id})
	return p.Snapshot(), nil
}

func (o *Orchestrator) ExitProject() {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.store.ActiveID()
	if id == "" {
		return
	}
	o.leaveActiveLocked()
	o.publish("project.exited", map[string]any{"project_id": id})
}

// leaveActiveLocked transitions to no active project, closing the decoder
// handles of the project being left. Pending captures on them are discarded.
func (o *Orchestrator) leaveActiveLocked() {
	p := o.store.Active()
	if p == nil {
		return
	}
	for _, v := range p.Videos.List() {
		o.releaseVideoLocked(v.ID)
	}
	o.store.ClearActive()
	o.view = ""
	o.selection = nil
}

// releaseVideoLocked closes the decoder handle and discards pending captures
// for one clip. The handle is reopened on the next capture.
func (o *Orchestrator) releaseVideoLocked(videoID string) {
	o.discardCapturesLocked(videoID)
	if h, ok := o.handles[videoID]; ok {
		h.Close()
		delete(o.handles, videoID)
	}
}

func (o *Orchestrator) discardCapturesLocked(videoID string) {
	for f := range o.pending[videoID] {
		f.Discard()
	}
	delete(o.pending, videoID)
}

// DeleteProject removes a project, leaving it first when it is active.
func (o *Orchestrator) DeleteProject(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.store.Get(id)
	if err != nil {
		return err
	}
	if o.store.ActiveID() == id {
		o.leaveActiveLocked()
	}
	for _, v := range p.Videos.List() {
		o.releaseVideoLocked(v.ID)
		o.unwatchLocked(v.ID)
	}
	if cancel, ok := o.projectCtx[id]; ok {
		cancel()
		delete(o.projectCtx, id)
		delete(o.ctxs, id)
	}
	o.discardGenerationsLocked(id)
	if err := o.store.Delete(id); err != nil {
		return err
	}
	delete(o.exporting, id)
	delete(o.lastError, id)

	o.publish("project.deleted", map[string]any{"project_id": id})
	return nil
}

func (o *Orchestrator) RenameProject(id, name string) (project.Summary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.store.Rename(id, name); err != nil {
		return project.Summary{}, err
	}
	p, _ := o.store.Get(id)
	o.publish("project.renamed", map[string]any{"project_id": id, "name": name})
	return p.Summary(), nil
}

// SwitchView changes the view of the active project without touching it.
func (o *Orchestrator) SwitchView(v View) error {
	if _, err := ParseView(string(v)); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	p, err := o.active()
	if err != nil {
		return err
	}
	o.view = v
	o.publish("view.switched", map[string]any{"project_id": p.ID, "view": string(v)})
	return nil
}

func (o *Orchestrator) ListProjects() []project.Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store.List()
}

func (o *Orchestrator) ProjectCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store.Len()
}

// ActiveProject returns a snapshot of the active project.
func (o *Orchestrator) ActiveProject() (project.Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, err := o.active()
	if err != nil {
		return project.Snapshot{}, err
	}
	return p.Snapshot(), nil
}

func (o *Orchestrator) Project(id string) (project.Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, err := o.store.Get(id)
	if err != nil {
		return project.Snapshot{}, err
	}
	return p.Snapshot(), nil
}

// DismissError clears the recorded failure of the active project.
func (o *Orchestrator) DismissError() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if id := o.store.ActiveID(); id != "" {
		delete(o.lastError, id)
	}
}
