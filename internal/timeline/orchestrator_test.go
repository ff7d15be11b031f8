package timeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/reelframe/reelframe-agent/internal/capture"
	"github.com/reelframe/reelframe-agent/internal/export"
	"github.com/reelframe/reelframe-agent/internal/generate"
	"github.com/reelframe/reelframe-agent/internal/media"
	"github.com/reelframe/reelframe-agent/internal/project"
)

var mp4Header = []byte{
	0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p',
	'm', 'p', '4', '2', 0x00, 0x00, 0x00, 0x00,
	'm', 'p', '4', '2', 'i', 's', 'o', 'm',
}

// fakes

type fakeHandles struct {
	mu   sync.Mutex
	next int
	live map[string]bool
}

func (f *fakeHandles) Acquire(path string) (project.PlaybackHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.live == nil {
		f.live = make(map[string]bool)
	}
	f.next++
	tok := fmt.Sprintf("t%d", f.next)
	f.live[tok] = true
	return project.PlaybackHandle{Token: tok, URL: "/playback/" + tok}, nil
}

func (f *fakeHandles) Release(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, token)
}

func (f *fakeHandles) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

type fakeHandle struct {
	duration float64
	width    int
	height   int

	started chan struct{}
	block   chan struct{}

	mu     sync.Mutex
	pos    float64
	frame  image.Image
	seeks  []float64
	closed bool
}

func (h *fakeHandle) Duration() float64 { return h.duration }
func (h *fakeHandle) Resolution() media.Resolution {
	return media.Resolution{Width: h.width, Height: h.height}
}
func (h *fakeHandle) FrameRate() float64 { return 25 }
func (h *fakeHandle) Position() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

func (h *fakeHandle) Seek(ctx context.Context, t float64) error {
	if h.block != nil {
		h.started <- struct{}{}
		<-h.block
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return media.ErrHandleClosed
	}
	h.pos = t
	h.frame = image.NewRGBA(image.Rect(0, 0, h.width, h.height))
	h.seeks = append(h.seeks, t)
	return nil
}

func (h *fakeHandle) CurrentFrame() (image.Image, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.frame == nil {
		return nil, media.ErrNoFrame
	}
	return h.frame, nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) seekLog() []float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]float64(nil), h.seeks...)
}

type fakeDecoder struct {
	mu       sync.Mutex
	duration float64
	opened   map[string]*fakeHandle
	prepare  func(*fakeHandle)
}

func (d *fakeDecoder) Open(ctx context.Context, path string) (media.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := &fakeHandle{duration: d.duration, width: 64, height: 36}
	if d.prepare != nil {
		d.prepare(h)
	}
	if d.opened == nil {
		d.opened = make(map[string]*fakeHandle)
	}
	d.opened[path] = h
	return h, nil
}

func (d *fakeDecoder) handle(path string) *fakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened[path]
}

type fakeGenerator struct {
	release chan struct{}
	result  *generate.Result
	err     error
}

func (g *fakeGenerator) Generate(ctx context.Context, req generate.Request) (*generate.Result, error) {
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.result, g.err
}

type blockingArchiver struct {
	entered chan struct{}
	release chan struct{}
	err     error
}

func (a *blockingArchiver) Archive(ctx context.Context, folder string, files []export.File) ([]byte, error) {
	if a.entered != nil {
		a.entered <- struct{}{}
		<-a.release
	}
	if a.err != nil {
		return nil, a.err
	}
	return export.NewZipArchiver().Archive(ctx, folder, files)
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Publish(eventType string, data map[string]any) {
	r.mu.Lock()
	r.events = append(r.events, eventType)
	r.mu.Unlock()
}

func (r *recorder) has(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == eventType {
			return true
		}
	}
	return false
}

// harness

type harness struct {
	o       *Orchestrator
	store   *project.Store
	handles *fakeHandles
	decoder *fakeDecoder
	events  *recorder
	dir     string
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	handles := &fakeHandles{}
	store := project.NewStore(handles, nil)
	decoder := &fakeDecoder{duration: 10.0}
	events := &recorder{}

	opts.Store = store
	if opts.Decoder == nil {
		opts.Decoder = decoder
	}
	opts.Notifier = events
	o := New(opts)
	t.Cleanup(func() { o.Close() })

	return &harness{o: o, store: store, handles: handles, decoder: decoder, events: events, dir: t.TempDir()}
}

func (h *harness) file(t *testing.T, name string, data []byte) project.ImportFile {
	t.Helper()
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return project.ImportFile{Name: name, Path: path}
}

func (h *harness) importClips(t *testing.T, names ...string) []project.VideoItem {
	t.Helper()
	var files []project.ImportFile
	for _, n := range names {
		files = append(files, h.file(t, n, mp4Header))
	}
	added, err := h.o.ImportVideos(context.Background(), files)
	if err != nil {
		t.Fatalf("ImportVideos() error = %v", err)
	}
	return added
}

// stillPNG returns a small PNG whose first pixel carries shade.
func stillPNG(t *testing.T, shade byte) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Pix[0] = shade
	data, err := capture.EncodeImage(img)
	if err != nil {
		t.Fatalf("EncodeImage() error = %v", err)
	}
	return data
}

func (h *harness) fillGallery(t *testing.T, n int) []string {
	t.Helper()
	var ids []string
	for i := 0; i < n; i++ {
		it, err := h.o.SaveToGallery(capture.EncodeDataURL("image/png", stillPNG(t, byte(i))), project.GalleryManual, "clip.mp4")
		if err != nil {
			t.Fatalf("SaveToGallery() error = %v", err)
		}
		ids = append(ids, it.ID)
	}
	return ids
}

// tests

func TestLifecycle(t *testing.T) {
	h := newHarness(t, Options{})
	o := h.o

	if st := o.State(); st.Active {
		t.Fatalf("initial state = %+v, want no active project", st)
	}
	if err := o.SwitchView(ViewGallery); !errors.Is(err, ErrNoActiveProject) {
		t.Errorf("SwitchView without project error = %v", err)
	}
	if _, err := o.ImportVideos(context.Background(), nil); !errors.Is(err, ErrNoActiveProject) {
		t.Errorf("ImportVideos without project error = %v", err)
	}

	snap, err := o.CreateProject("Trip", project.Aspect16x9)
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	st := o.State()
	if !st.Active || st.ProjectID != snap.ID || st.View != ViewTimeline {
		t.Fatalf("after create state = %+v", st)
	}

	before, _ := o.ActiveProject()
	if err := o.SwitchView(ViewGallery); err != nil {
		t.Fatalf("SwitchView() error = %v", err)
	}
	after, _ := o.ActiveProject()
	if !after.LastModified.Equal(before.LastModified) {
		t.Error("switching view touched lastModified")
	}
	if err := o.SwitchView("grid"); !errors.Is(err, ErrInvalidView) {
		t.Errorf("SwitchView(grid) error = %v", err)
	}

	o.ExitProject()
	if o.State().Active {
		t.Fatal("ExitProject left a project active")
	}

	if _, err := o.OpenProject(snap.ID); err != nil {
		t.Fatalf("OpenProject() error = %v", err)
	}
	if st := o.State(); st.View != ViewTimeline || len(st.Selection) != 0 {
		t.Errorf("after open state = %+v", st)
	}
	if _, err := o.OpenProject("missing"); !errors.Is(err, project.ErrNotFound) {
		t.Errorf("OpenProject(missing) error = %v", err)
	}
	if !h.events.has("project.created") || !h.events.has("view.switched") {
		t.Errorf("events = %v", h.events.events)
	}
}

func TestDeleteInactiveProjectKeepsActive(t *testing.T) {
	h := newHarness(t, Options{})
	a, _ := h.o.CreateProject("A", project.Aspect16x9)
	h.importClips(t, "a1.mp4")
	b, _ := h.o.CreateProject("B", project.Aspect9x16)
	h.importClips(t, "b1.mp4", "b2.mp4")
	h.o.SwitchView(ViewGallery)

	bBefore, _ := h.o.Project(b.ID)
	if err := h.o.DeleteProject(a.ID); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}

	st := h.o.State()
	if st.ProjectID != b.ID || st.View != ViewGallery {
		t.Fatalf("state after deleting A = %+v, want B active in gallery view", st)
	}
	bAfter, _ := h.o.Project(b.ID)
	if bAfter.VideoCount != 2 || !bAfter.LastModified.Equal(bBefore.LastModified) {
		t.Errorf("B changed: %+v", bAfter.Summary)
	}
	if h.handles.count() != 2 {
		t.Errorf("live playback handles = %d, want 2", h.handles.count())
	}
	if len(h.o.ListProjects()) != 1 {
		t.Errorf("projects = %d, want 1", len(h.o.ListProjects()))
	}
}

func TestDeleteActiveProjectExitsFirst(t *testing.T) {
	h := newHarness(t, Options{})
	p, _ := h.o.CreateProject("A", project.Aspect1x1)
	h.importClips(t, "a.mp4")

	if err := h.o.DeleteProject(p.ID); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}
	if h.o.State().Active {
		t.Fatal("deleted project still active")
	}
	if h.handles.count() != 0 {
		t.Errorf("leaked %d playback handles", h.handles.count())
	}
	if fh := h.decoder.handle(filepath.Join(h.dir, "a.mp4")); fh == nil || !fh.closed {
		t.Error("decoder handle not closed on project delete")
	}
}

func TestImportDropsNonVideoAndProbes(t *testing.T) {
	h := newHarness(t, Options{})
	h.o.CreateProject("P", project.Aspect16x9)

	files := []project.ImportFile{
		h.file(t, "one.mp4", mp4Header),
		h.file(t, "readme.txt", []byte("plain text is not a clip")),
		h.file(t, "three.mp4", mp4Header),
	}
	added, err := h.o.ImportVideos(context.Background(), files)
	if err != nil {
		t.Fatalf("ImportVideos() error = %v", err)
	}
	if len(added) != 2 {
		t.Fatalf("added %d, want 2", len(added))
	}

	snap, _ := h.o.ActiveProject()
	if len(snap.Videos) != 2 || snap.Videos[0].Name != "one.mp4" || snap.Videos[1].Name != "three.mp4" {
		t.Fatalf("videos = %+v", snap.Videos)
	}
	if snap.Videos[0].Duration != 10 || snap.Videos[0].Width != 64 || snap.Videos[0].FrameRate != 25 {
		t.Errorf("metadata not populated: %+v", snap.Videos[0])
	}
}

func TestMutationsTouchLastModified(t *testing.T) {
	h := newHarness(t, Options{})
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.store.SetClock(func() time.Time { return frozen })

	h.o.CreateProject("P", project.Aspect16x9)
	last := func() time.Time {
		s, _ := h.o.ActiveProject()
		return s.LastModified
	}
	prev := last()
	expectAdvance := func(op string) {
		t.Helper()
		now := last()
		if !now.After(prev) {
			t.Fatalf("%s: lastModified %v did not advance past %v", op, now, prev)
		}
		prev = now
	}
	expectSame := func(op string) {
		t.Helper()
		if now := last(); !now.Equal(prev) {
			t.Fatalf("%s: lastModified changed on a no-op", op)
		}
	}

	videos := h.importClips(t, "a.mp4", "b.mp4")
	expectAdvance("import")

	h.o.ReorderVideo(videos[0].ID, project.Right)
	expectAdvance("reorder")
	h.o.ReorderVideo(videos[0].ID, project.Right)
	expectSame("reorder past end")

	name := "renamed"
	h.o.UpdateVideo(videos[1].ID, project.VideoUpdate{Name: &name})
	expectAdvance("rename")

	ids := h.fillGallery(t, 2)
	expectAdvance("save")

	h.o.RemoveGalleryItem(ids[0])
	expectAdvance("gallery remove")
	h.o.RemoveGalleryItem(ids[0])
	expectSame("gallery remove twice")

	h.o.RemoveVideo(videos[0].ID)
	expectAdvance("video remove")
	h.o.RemoveVideo(videos[0].ID)
	expectSame("video remove twice")

	s, _ := h.o.ActiveProject()
	if s.LastModified.Before(s.CreatedAt) {
		t.Error("lastModified < createdAt")
	}
}

func TestCaptureLastFrameRequestsDurationMinusEpsilon(t *testing.T) {
	h := newHarness(t, Options{})
	h.o.CreateProject("P", project.Aspect16x9)
	v := h.importClips(t, "ten.mp4")[0]

	item, err := h.o.CaptureToGallery(context.Background(), v.ID, CaptureLast, 0)
	if err != nil {
		t.Fatalf("CaptureToGallery() error = %v", err)
	}
	fh := h.decoder.handle(v.Path)
	if seeks := fh.seekLog(); len(seeks) != 1 || seeks[0] != 9.9 {
		t.Fatalf("seeks = %v, want [9.9]", seeks)
	}
	if item.Type != project.GalleryEnd || item.VideoName != "ten.mp4" {
		t.Errorf("gallery item = %+v", item)
	}

	// renaming the clip later leaves the capture's name alone
	name := "Ten seconds"
	h.o.UpdateVideo(v.ID, project.VideoUpdate{Name: &name})
	got, _ := h.o.GalleryItem(item.ID)
	if got.VideoName != "ten.mp4" {
		t.Errorf("gallery videoName followed the rename: %q", got.VideoName)
	}
}

func TestSeekThenCaptureCurrent(t *testing.T) {
	h := newHarness(t, Options{})
	h.o.CreateProject("P", project.Aspect16x9)
	v := h.importClips(t, "clip.mp4")[0]

	pos, err := h.o.SeekVideo(context.Background(), v.ID, 4.25)
	if err != nil || pos != 4.25 {
		t.Fatalf("SeekVideo() = %v, %v", pos, err)
	}
	res, err := h.o.CaptureFrame(context.Background(), v.ID, CaptureCurrent, 0)
	if err != nil {
		t.Fatalf("CaptureFrame(current) error = %v", err)
	}
	if res.Still.Timestamp != 4.25 || res.Still.Width != 64 {
		t.Errorf("still = %+v", res.Still)
	}
	if n := len(h.decoder.handle(v.Path).seekLog()); n != 1 {
		t.Errorf("seek count = %d, current capture must not seek", n)
	}
}

func TestCaptureDiscardedWhenVideoDeleted(t *testing.T) {
	h := newHarness(t, Options{})
	h.o.CreateProject("P", project.Aspect16x9)
	v := h.importClips(t, "clip.mp4")[0]

	fh := h.decoder.handle(v.Path)
	fh.started = make(chan struct{}, 1)
	fh.block = make(chan struct{})

	type result struct {
		item project.GalleryItem
		err  error
	}
	done := make(chan result, 1)
	go func() {
		it, err := h.o.CaptureToGallery(context.Background(), v.ID, CaptureFirst, 0)
		done <- result{it, err}
	}()

	<-fh.started
	if ok, err := h.o.RemoveVideo(v.ID); !ok || err != nil {
		t.Fatalf("RemoveVideo() = %v, %v", ok, err)
	}
	close(fh.block)

	r := <-done
	if !errors.Is(r.err, capture.ErrDiscarded) {
		t.Fatalf("capture error = %v, want ErrDiscarded", r.err)
	}
	if items, _ := h.o.Gallery(); len(items) != 0 {
		t.Errorf("discarded capture was written: %v", items)
	}
	if st := h.o.State(); st.LastError != "" {
		t.Errorf("discard recorded as error: %q", st.LastError)
	}
}

func TestCaptureFailureRecordedAsLastError(t *testing.T) {
	h := newHarness(t, Options{})
	h.o.CreateProject("P", project.Aspect16x9)
	v := h.importClips(t, "clip.mp4")[0]

	_, err := h.o.CaptureFrame(context.Background(), v.ID, CaptureCurrent, 0)
	if !errors.Is(err, capture.ErrCaptureFailed) {
		t.Fatalf("error = %v, want ErrCaptureFailed", err)
	}
	if h.o.State().LastError == "" {
		t.Error("failure not recorded")
	}
	h.o.DismissError()
	if h.o.State().LastError != "" {
		t.Error("DismissError did not clear")
	}
	if _, err := h.o.CaptureFrame(context.Background(), v.ID, "sideways", 0); !errors.Is(err, project.ErrInvalidInput) {
		t.Errorf("bad kind error = %v", err)
	}
}

func TestSelectionShrinksOnDirectDelete(t *testing.T) {
	h := newHarness(t, Options{})
	h.o.CreateProject("P", project.Aspect16x9)
	ids := h.fillGallery(t, 5)

	if _, err := h.o.Select(ids[1], ids[3]); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	h.o.RemoveGalleryItem(ids[1])

	sel := h.o.Selection()
	if len(sel) != 1 || sel[0] != ids[3] {
		t.Fatalf("selection = %v, want [%s]", sel, ids[3])
	}

	archive, err := h.o.ExportSelection(context.Background(), "picks")
	if err != nil {
		t.Fatalf("ExportSelection() error = %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(archive.Data), int64(len(archive.Data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	if len(zr.File) != 1 {
		t.Errorf("zip entries = %d, want 1", len(zr.File))
	}
}

func TestSelectUnknownRejected(t *testing.T) {
	h := newHarness(t, Options{})
	h.o.CreateProject("P", project.Aspect16x9)
	ids := h.fillGallery(t, 2)

	if _, err := h.o.Select(ids[0], "nope"); !errors.Is(err, project.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if len(h.o.Selection()) != 0 {
		t.Error("partial selection applied")
	}

	h.o.SetSelection(ids)
	h.o.RemoveGalleryItems(ids)
	if len(h.o.Selection()) != 0 {
		t.Error("batch delete left ids selected")
	}
}

func TestExportGate(t *testing.T) {
	archiver := &blockingArchiver{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, Options{Exporter: export.NewExporter(archiver, nil)})
	h.o.CreateProject("P", project.Aspect16x9)
	ids := h.fillGallery(t, 3)
	h.o.SetSelection(ids)

	errc := make(chan error, 1)
	go func() {
		_, err := h.o.ExportSelection(context.Background(), "")
		errc <- err
	}()
	<-archiver.entered

	if !h.o.State().Exporting {
		t.Error("state does not report the running export")
	}
	if _, err := h.o.ExportSelection(context.Background(), ""); !errors.Is(err, ErrExportInProgress) {
		t.Fatalf("second export error = %v, want ErrExportInProgress", err)
	}

	close(archiver.release)
	if err := <-errc; err != nil {
		t.Fatalf("first export error = %v", err)
	}

	archiver.entered = nil
	if _, err := h.o.ExportSelection(context.Background(), ""); err != nil {
		t.Fatalf("export after completion error = %v", err)
	}
}

func TestExportFailureKeepsSelection(t *testing.T) {
	archiver := &blockingArchiver{err: errors.New("disk full")}
	h := newHarness(t, Options{Exporter: export.NewExporter(archiver, nil)})
	h.o.CreateProject("P", project.Aspect16x9)
	ids := h.fillGallery(t, 3)
	h.o.SetSelection(ids[:2])

	archive, err := h.o.ExportSelection(context.Background(), "x")
	if !errors.Is(err, export.ErrExportFailed) || archive != nil {
		t.Fatalf("ExportSelection() = %v, %v", archive, err)
	}
	st := h.o.State()
	if len(st.Selection) != 2 || st.LastError == "" || st.Exporting {
		t.Errorf("state after failure = %+v", st)
	}
	if !h.events.has("export.failed") {
		t.Error("export.failed not published")
	}
}

type memExportLog struct {
	mu      sync.Mutex
	entries []int
}

func (m *memExportLog) RecordExport(ctx context.Context, projectID, archiveName string, entries int, size int64) error {
	m.mu.Lock()
	m.entries = append(m.entries, entries)
	m.mu.Unlock()
	return nil
}

func TestExportRecorded(t *testing.T) {
	log := &memExportLog{}
	h := newHarness(t, Options{ExportLog: log})
	h.o.CreateProject("P", project.Aspect16x9)
	h.o.SetSelection(h.fillGallery(t, 2))

	if _, err := h.o.ExportSelection(context.Background(), ""); err != nil {
		t.Fatalf("ExportSelection() error = %v", err)
	}
	if len(log.entries) != 1 || log.entries[0] != 2 {
		t.Errorf("export log = %v", log.entries)
	}
}

func TestExportTimelineEDL(t *testing.T) {
	h := newHarness(t, Options{})
	h.o.CreateProject("Cut", project.Aspect16x9)
	h.importClips(t, "a.mp4", "b.mp4")

	out := t.TempDir()
	resp, err := h.o.ExportTimelineEDL(export.EDLRequest{OutputDir: out})
	if err != nil {
		t.Fatalf("ExportTimelineEDL() error = %v", err)
	}
	if resp.ClipCount != 2 || filepath.Dir(resp.OutputPath) != out {
		t.Errorf("response = %+v", resp)
	}
	if _, err := os.Stat(resp.OutputPath); err != nil {
		t.Errorf("edl not written: %v", err)
	}
}

func TestGenerateNext(t *testing.T) {
	gen := &fakeGenerator{result: &generate.Result{Image: stillPNG(t, 200), MimeType: "image/png"}}
	h := newHarness(t, Options{Generator: gen})
	h.o.CreateProject("P", project.Aspect16x9)
	src, _ := h.o.SaveToGallery(capture.EncodeDataURL("image/png", stillPNG(t, 1)), project.GalleryEnd, "beach.mp4")

	st, err := h.o.GenerateNext(src.ID, "")
	if err != nil {
		t.Fatalf("GenerateNext() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := h.o.WaitGeneration(ctx, st.ID)
	if err != nil {
		t.Fatalf("WaitGeneration() error = %v", err)
	}
	if final.State != "succeeded" || final.ResultID == "" {
		t.Fatalf("status = %+v", final)
	}
	item, err := h.o.GalleryItem(final.ResultID)
	if err != nil {
		t.Fatalf("result not in gallery: %v", err)
	}
	if item.Type != project.GalleryManual || item.VideoName != "beach.mp4" {
		t.Errorf("result item = %+v", item)
	}
	if items, _ := h.o.Gallery(); items[0].ID != item.ID {
		t.Error("generated item not prepended")
	}
}

func TestGenerateNextFailureLeavesGallery(t *testing.T) {
	gen := &fakeGenerator{err: fmt.Errorf("%w: safety filter", generate.ErrGenerationFailed)}
	h := newHarness(t, Options{Generator: gen})
	h.o.CreateProject("P", project.Aspect16x9)
	ids := h.fillGallery(t, 1)

	st, _ := h.o.GenerateNext(ids[0], "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, _ := h.o.WaitGeneration(ctx, st.ID)
	if final.State != "failed" || final.Error == "" {
		t.Fatalf("status = %+v", final)
	}
	if items, _ := h.o.Gallery(); len(items) != 1 {
		t.Errorf("gallery changed on failure: %d items", len(items))
	}
	if h.o.State().LastError != "" {
		t.Error("generation failure leaked into project error")
	}
}

func TestGenerateNextDiscardedOnProjectDelete(t *testing.T) {
	gen := &fakeGenerator{release: make(chan struct{}), result: &generate.Result{Image: stillPNG(t, 9), MimeType: "image/png"}}
	h := newHarness(t, Options{Generator: gen})
	p, _ := h.o.CreateProject("P", project.Aspect16x9)
	ids := h.fillGallery(t, 1)

	st, _ := h.o.GenerateNext(ids[0], "")
	h.o.DeleteProject(p.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := h.o.WaitGeneration(ctx, st.ID)
	if err != nil {
		t.Fatalf("WaitGeneration() error = %v", err)
	}
	if final.State != "discarded" {
		t.Fatalf("state = %q, want discarded", final.State)
	}
}

func TestGenerateNextRejectsNonImageResult(t *testing.T) {
	gen := &fakeGenerator{result: &generate.Result{Image: []byte("not an image"), MimeType: "image/png"}}
	h := newHarness(t, Options{Generator: gen})
	h.o.CreateProject("P", project.Aspect16x9)
	ids := h.fillGallery(t, 1)

	st, _ := h.o.GenerateNext(ids[0], "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, _ := h.o.WaitGeneration(ctx, st.ID)
	if final.State != "failed" {
		t.Fatalf("state = %q, want failed", final.State)
	}
	if items, _ := h.o.Gallery(); len(items) != 1 {
		t.Errorf("undecodable result saved: %d items", len(items))
	}
}

func TestGenerationKeepsOnlyIDsAfterProjectDelete(t *testing.T) {
	big := image.NewNRGBA(image.Rect(0, 0, 512, 512))
	for i := range big.Pix {
		big.Pix[i] = byte(i * 31)
	}
	result, err := capture.EncodeImage(big)
	if err != nil {
		t.Fatalf("EncodeImage() error = %v", err)
	}
	gen := &fakeGenerator{result: &generate.Result{Image: result, MimeType: "image/png"}}
	h := newHarness(t, Options{Generator: gen})
	p, _ := h.o.CreateProject("P", project.Aspect16x9)
	ids := h.fillGallery(t, 1)

	st, _ := h.o.GenerateNext(ids[0], "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := h.o.WaitGeneration(ctx, st.ID)
	if err != nil || final.State != "succeeded" {
		t.Fatalf("WaitGeneration() = %+v, %v", final, err)
	}
	h.o.RemoveGalleryItem(final.ResultID)
	if err := h.o.DeleteProject(p.ID); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}

	h.o.mu.Lock()
	g := h.o.generations[st.ID]
	h.o.mu.Unlock()
	if g == nil {
		t.Fatal("settled generation dropped; its status should stay readable")
	}
	resultID, _ := g.future.Wait(context.Background())
	if resultID != final.ResultID {
		t.Errorf("retained result = %q, want the entry id %q", resultID, final.ResultID)
	}
	got, err := h.o.Generation(st.ID)
	if err != nil || got.State != "succeeded" {
		t.Errorf("Generation() after delete = %+v, %v", got, err)
	}
}

func TestGenerationPendingDiscardedByDelete(t *testing.T) {
	gen := &fakeGenerator{release: make(chan struct{}), result: &generate.Result{Image: stillPNG(t, 3), MimeType: "image/png"}}
	h := newHarness(t, Options{Generator: gen})
	p, _ := h.o.CreateProject("P", project.Aspect16x9)
	ids := h.fillGallery(t, 1)

	st, _ := h.o.GenerateNext(ids[0], "")
	h.o.DeleteProject(p.ID)

	// Settled synchronously by the delete, before the generator returns.
	got, err := h.o.Generation(st.ID)
	if err != nil {
		t.Fatalf("Generation() error = %v", err)
	}
	if got.State != "discarded" {
		t.Errorf("state = %q, want discarded", got.State)
	}
	close(gen.release)
}

func TestGenerationScopedToActiveProject(t *testing.T) {
	gen := &fakeGenerator{result: &generate.Result{Image: stillPNG(t, 4), MimeType: "image/png"}}
	h := newHarness(t, Options{Generator: gen})
	a, _ := h.o.CreateProject("A", project.Aspect16x9)
	ids := h.fillGallery(t, 1)
	st, _ := h.o.GenerateNext(ids[0], "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := h.o.WaitGeneration(ctx, st.ID); err != nil {
		t.Fatalf("WaitGeneration() error = %v", err)
	}

	h.o.CreateProject("B", project.Aspect16x9)
	if _, err := h.o.Generation(st.ID); !errors.Is(err, project.ErrNotFound) {
		t.Errorf("Generation() from another project error = %v, want ErrNotFound", err)
	}
	if _, err := h.o.WaitGeneration(ctx, st.ID); !errors.Is(err, project.ErrNotFound) {
		t.Errorf("WaitGeneration() from another project error = %v, want ErrNotFound", err)
	}

	if _, err := h.o.OpenProject(a.ID); err != nil {
		t.Fatalf("OpenProject() error = %v", err)
	}
	if got, err := h.o.Generation(st.ID); err != nil || got.State != "succeeded" {
		t.Errorf("Generation() after reopening = %+v, %v", got, err)
	}
}

func TestSaveToGalleryRejectsNonImage(t *testing.T) {
	h := newHarness(t, Options{})
	h.o.CreateProject("P", project.Aspect16x9)

	for name, src := range map[string]string{
		"text payload":   capture.EncodeDataURL("text/plain", []byte("hello")),
		"corrupt png":    capture.EncodeDataURL("image/png", []byte("hello")),
		"not a data url": "https://example.com/a.png",
	} {
		if _, err := h.o.SaveToGallery(src, project.GalleryManual, "a.mp4"); !errors.Is(err, project.ErrInvalidInput) {
			t.Errorf("%s: error = %v, want ErrInvalidInput", name, err)
		}
	}
	if items, _ := h.o.Gallery(); len(items) != 0 {
		t.Errorf("gallery has %d items, want 0", len(items))
	}
}

func TestImportOpenedAfterExitClosesHandle(t *testing.T) {
	h := newHarness(t, Options{})
	p, _ := h.o.CreateProject("P", project.Aspect16x9)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.decoder.prepare = func(*fakeHandle) {
		close(entered)
		<-release
	}
	f := h.file(t, "clip.mp4", mp4Header)

	var added []project.VideoItem
	done := make(chan error)
	go func() {
		var err error
		added, err = h.o.ImportVideos(context.Background(), []project.ImportFile{f})
		done <- err
	}()
	<-entered
	h.o.ExitProject()
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("ImportVideos() error = %v", err)
	}

	if fh := h.decoder.handle(f.Path); fh == nil || !fh.closed {
		t.Fatal("handle opened for a project that was left is still open")
	}
	h.o.mu.Lock()
	_, held := h.o.handles[added[0].ID]
	h.o.mu.Unlock()
	if held {
		t.Error("orchestrator kept a handle for an inactive project")
	}

	stored, _ := h.store.Get(p.ID)
	v, err := stored.Videos.Get(added[0].ID)
	if err != nil {
		t.Fatalf("Videos.Get() error = %v", err)
	}
	if v.Duration != 10 || v.Width != 64 {
		t.Errorf("metadata not copied: %+v", v)
	}
}
