package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	_ "image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/reelframe/reelframe-agent/internal/config"
	"github.com/reelframe/reelframe-agent/internal/db"
	"github.com/reelframe/reelframe-agent/internal/media"
	"github.com/reelframe/reelframe-agent/internal/playback"
	"github.com/reelframe/reelframe-agent/internal/project"
	"github.com/reelframe/reelframe-agent/internal/timeline"
)

const testToken = "test-token"

var mp4Header = []byte{
	0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p',
	'm', 'p', '4', '2', 0x00, 0x00, 0x00, 0x00,
	'm', 'p', '4', '2', 'i', 's', 'o', 'm',
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return body
}

type stubHandle struct {
	mu    sync.Mutex
	pos   float64
	frame image.Image
}

func (h *stubHandle) Duration() float64             { return 8 }
func (h *stubHandle) Resolution() media.Resolution { return media.Resolution{Width: 32, Height: 18} }
func (h *stubHandle) FrameRate() float64            { return 30 }
func (h *stubHandle) Position() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}
func (h *stubHandle) Seek(ctx context.Context, t float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pos = t
	h.frame = image.NewRGBA(image.Rect(0, 0, 32, 18))
	return nil
}
func (h *stubHandle) CurrentFrame() (image.Image, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.frame == nil {
		return nil, media.ErrNoFrame
	}
	return h.frame, nil
}
func (h *stubHandle) Close() error { return nil }

type stubDecoder struct{}

func (stubDecoder) Open(ctx context.Context, path string) (media.Handle, error) {
	return &stubHandle{}, nil
}

type testServer struct {
	router  http.Handler
	orch    *timeline.Orchestrator
	repo    db.Repository
	uploads string
	dir     string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := discardLogger()
	repo := newAuthRepo(t, testToken)
	registry := playback.NewRegistry("/playback", nil, logger)
	store := project.NewStore(registry, logger)
	orch := timeline.New(timeline.Options{
		Store:     store,
		Decoder:   stubDecoder{},
		ExportLog: repo,
		Logger:    logger,
	})
	t.Cleanup(func() { orch.Close() })

	uploads := t.TempDir()
	cfg := ServerConfig{
		Orchestrator:   orch,
		Repository:     repo,
		Playback:       registry,
		UploadDir:      uploads,
		MaxUploadBytes: 1 << 20,
		CaptureTimeout: 5 * time.Second,
		Logger:         logger,
		StartTime:      time.Now(),
		DeviceID:       "device-1",
	}
	return &testServer{router: NewRouter(cfg), orch: orch, repo: repo, uploads: uploads, dir: t.TempDir()}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeInto(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

// startProject creates a project and imports one clip through the API.
func (s *testServer) startProject(t *testing.T) project.VideoItem {
	t.Helper()
	expectStatus(t, s.do(t, http.MethodPost, "/projects", CreateProjectRequest{Name: "Trip", AspectRatio: "16:9"}), http.StatusCreated)

	path := s.writeFile(t, "beach.mp4", mp4Header)
	rr := s.do(t, http.MethodPost, "/videos", ImportPathsRequest{Paths: []string{path}})
	expectStatus(t, rr, http.StatusCreated)
	var resp ImportResponse
	decodeInto(t, rr, &resp)
	if len(resp.Videos) != 1 {
		t.Fatalf("imported %d videos, want 1", len(resp.Videos))
	}
	return resp.Videos[0]
}

func TestHealth_NoAuth(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	expectStatus(t, rr, http.StatusOK)
	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" || body["device_id"] != "device-1" || body["version"] != config.Version {
		t.Errorf("body = %v", body)
	}
}

func TestSaveGalleryRejectsNonImage(t *testing.T) {
	s := newTestServer(t)
	s.startProject(t)

	rr := s.do(t, http.MethodPost, "/gallery", SaveGalleryRequest{
		Src:       "data:text/plain;base64,aGVsbG8=",
		Type:      "manual",
		VideoName: "a.mp4",
	})
	expectStatus(t, rr, http.StatusBadRequest)

	var gallery GalleryResponse
	decodeInto(t, s.do(t, http.MethodGet, "/gallery", nil), &gallery)
	if len(gallery.Items) != 0 {
		t.Errorf("gallery has %d items after rejected save", len(gallery.Items))
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/status", "/projects", "/session", "/gallery"} {
		rr := httptest.NewRecorder()
		s.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("GET %s = %d, want 401", path, rr.Code)
		}
	}
}

func TestProjectLifecycle(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/projects", map[string]string{"name": "X", "aspect_ratio": "4:3"})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = s.do(t, http.MethodPut, "/session/view", SwitchViewRequest{View: "gallery"})
	expectStatus(t, rr, http.StatusConflict)
	if decodeJSONBody(t, rr)["code"] != "NO_ACTIVE_PROJECT" {
		t.Error("expected NO_ACTIVE_PROJECT")
	}

	rr = s.do(t, http.MethodPost, "/projects", CreateProjectRequest{Name: "Reel", AspectRatio: "9:16"})
	expectStatus(t, rr, http.StatusCreated)
	var snap project.Snapshot
	decodeInto(t, rr, &snap)

	expectStatus(t, s.do(t, http.MethodPut, "/session/view", SwitchViewRequest{View: "gallery"}), http.StatusOK)
	var st timeline.SessionState
	rr = s.do(t, http.MethodGet, "/session", nil)
	decodeInto(t, rr, &st)
	if !st.Active || st.ProjectID != snap.ID || st.View != timeline.ViewGallery {
		t.Errorf("session = %+v", st)
	}

	rr = s.do(t, http.MethodPatch, "/projects/"+snap.ID, RenameProjectRequest{Name: "Reel v2"})
	expectStatus(t, rr, http.StatusOK)

	var list ProjectsResponse
	decodeInto(t, s.do(t, http.MethodGet, "/projects", nil), &list)
	if len(list.Projects) != 1 || list.Projects[0].Name != "Reel v2" {
		t.Errorf("projects = %+v", list.Projects)
	}

	expectStatus(t, s.do(t, http.MethodDelete, "/projects/"+snap.ID, nil), http.StatusNoContent)
	expectStatus(t, s.do(t, http.MethodDelete, "/projects/"+snap.ID, nil), http.StatusNotFound)
	expectStatus(t, s.do(t, http.MethodPost, "/projects/"+snap.ID+"/open", nil), http.StatusNotFound)
}

func TestImportDropsNonVideo(t *testing.T) {
	s := newTestServer(t)
	expectStatus(t, s.do(t, http.MethodPost, "/projects", CreateProjectRequest{AspectRatio: "1:1"}), http.StatusCreated)

	paths := []string{
		s.writeFile(t, "a.mp4", mp4Header),
		s.writeFile(t, "notes.txt", []byte("just words")),
		s.writeFile(t, "b.mp4", mp4Header),
	}
	rr := s.do(t, http.MethodPost, "/videos", ImportPathsRequest{Paths: paths})
	expectStatus(t, rr, http.StatusCreated)

	var resp ImportResponse
	decodeInto(t, rr, &resp)
	if len(resp.Videos) != 2 || resp.Dropped != 1 {
		t.Fatalf("videos = %d, dropped = %d", len(resp.Videos), resp.Dropped)
	}
	if resp.Videos[0].Duration != 8 || resp.Videos[0].URL == "" {
		t.Errorf("video = %+v", resp.Videos[0])
	}

	expectStatus(t, s.do(t, http.MethodPost, "/videos", ImportPathsRequest{Paths: []string{"relative.mp4"}}), http.StatusBadRequest)
}

func TestImportMultipartUpload(t *testing.T) {
	s := newTestServer(t)
	expectStatus(t, s.do(t, http.MethodPost, "/projects", CreateProjectRequest{AspectRatio: "16:9"}), http.StatusCreated)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("files", "clip.mp4")
	fw.Write(mp4Header)
	fw, _ = mw.CreateFormFile("files", "readme.txt")
	fw.Write([]byte("not a video"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/videos", &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	expectStatus(t, rr, http.StatusCreated)

	var resp ImportResponse
	decodeInto(t, rr, &resp)
	if len(resp.Videos) != 1 || resp.Videos[0].Name != "clip.mp4" {
		t.Fatalf("videos = %+v", resp.Videos)
	}

	var stored []string
	filepath.WalkDir(s.uploads, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			stored = append(stored, filepath.Base(path))
		}
		return nil
	})
	if len(stored) != 1 || !strings.HasSuffix(stored[0], "clip.mp4") {
		t.Errorf("stored uploads = %v, want only the clip", stored)
	}
}

func TestVideoEditing(t *testing.T) {
	s := newTestServer(t)
	v := s.startProject(t)

	rr := s.do(t, http.MethodPatch, "/videos/"+v.ID, map[string]any{"crop": map[string]float64{"scale": 0.5, "x": -40}})
	expectStatus(t, rr, http.StatusOK)
	var unclamped project.VideoItem
	decodeInto(t, rr, &unclamped)
	if unclamped.Crop == nil || unclamped.Crop.Scale != 0.5 || unclamped.Crop.X != -40 {
		t.Errorf("crop = %+v, want values stored as sent", unclamped.Crop)
	}

	rr = s.do(t, http.MethodPatch, "/videos/"+v.ID, map[string]any{"name": "Sunset", "crop": map[string]float64{"scale": 1.5, "x": 10}})
	expectStatus(t, rr, http.StatusOK)
	var got project.VideoItem
	decodeInto(t, rr, &got)
	if got.Name != "Sunset" || got.Crop == nil || got.Crop.Scale != 1.5 {
		t.Errorf("video = %+v", got)
	}

	rr = s.do(t, http.MethodPost, "/videos/"+v.ID+"/move", MoveVideoRequest{Direction: "left"})
	expectStatus(t, rr, http.StatusOK)
	if decodeJSONBody(t, rr)["moved"] != false {
		t.Error("moving the only clip left should be a no-op")
	}

	rr = s.do(t, http.MethodPost, "/videos/"+v.ID+"/seek", SeekRequest{T: 3.5})
	expectStatus(t, rr, http.StatusOK)
	if decodeJSONBody(t, rr)["position"] != 3.5 {
		t.Error("seek position not echoed")
	}

	expectStatus(t, s.do(t, http.MethodDelete, "/videos/"+v.ID, nil), http.StatusNoContent)
	expectStatus(t, s.do(t, http.MethodGet, "/videos/"+v.ID, nil), http.StatusNotFound)
}

func TestCaptureAndGallery(t *testing.T) {
	s := newTestServer(t)
	v := s.startProject(t)

	rr := s.do(t, http.MethodPost, "/videos/"+v.ID+"/capture", CaptureRequest{Kind: "last"})
	expectStatus(t, rr, http.StatusCreated)
	var item project.GalleryItem
	decodeInto(t, rr, &item)
	if item.Type != project.GalleryEnd || item.VideoName != "beach.mp4" {
		t.Fatalf("gallery item = %+v", item)
	}

	no := false
	rr = s.do(t, http.MethodPost, "/videos/"+v.ID+"/capture", CaptureRequest{Kind: "at", At: 2, Save: &no})
	expectStatus(t, rr, http.StatusOK)
	var still CaptureResponse
	decodeInto(t, rr, &still)
	if still.Width != 32 || still.Timestamp != 2 || !strings.HasPrefix(still.Src, "data:image/png;base64,") {
		t.Errorf("still = %+v", still)
	}

	var gallery GalleryResponse
	decodeInto(t, s.do(t, http.MethodGet, "/gallery", nil), &gallery)
	if len(gallery.Items) != 1 {
		t.Fatalf("gallery has %d items, want 1 (unsaved capture leaked)", len(gallery.Items))
	}

	rr = s.do(t, http.MethodGet, "/gallery/"+item.ID+"/image", nil)
	expectStatus(t, rr, http.StatusOK)
	if rr.Header().Get("Content-Type") != "image/png" {
		t.Errorf("content type = %q", rr.Header().Get("Content-Type"))
	}
	cfg, _, err := image.DecodeConfig(rr.Body)
	if err != nil || cfg.Width != 32 {
		t.Errorf("image config = %+v, %v", cfg, err)
	}

	rr = s.do(t, http.MethodGet, "/gallery/"+item.ID+"/thumbnail?size=16", nil)
	expectStatus(t, rr, http.StatusOK)
	cfg, _, err = image.DecodeConfig(rr.Body)
	if err != nil || cfg.Width != 16 || cfg.Height != 9 {
		t.Errorf("thumbnail config = %+v, %v", cfg, err)
	}
	expectStatus(t, s.do(t, http.MethodGet, "/gallery/"+item.ID+"/thumbnail?size=0", nil), http.StatusBadRequest)

	expectStatus(t, s.do(t, http.MethodPost, "/videos/"+v.ID+"/capture", CaptureRequest{Kind: "sideways"}), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodPost, "/videos/missing/capture", CaptureRequest{Kind: "first"}), http.StatusNotFound)
}

func TestSelectionAndZipExport(t *testing.T) {
	s := newTestServer(t)
	v := s.startProject(t)

	var ids []string
	for _, kind := range []string{"first", "last", "at"} {
		rr := s.do(t, http.MethodPost, "/videos/"+v.ID+"/capture", CaptureRequest{Kind: kind, At: 4})
		expectStatus(t, rr, http.StatusCreated)
		var item project.GalleryItem
		decodeInto(t, rr, &item)
		ids = append(ids, item.ID)
	}

	rr := s.do(t, http.MethodPost, "/export/zip", ExportZipRequest{})
	expectStatus(t, rr, http.StatusUnprocessableEntity)
	if decodeJSONBody(t, rr)["code"] != "EXPORT_FAILED" {
		t.Error("empty selection should fail the export")
	}

	expectStatus(t, s.do(t, http.MethodPut, "/selection", SelectionRequest{IDs: []string{ids[0], "bogus"}}), http.StatusNotFound)
	expectStatus(t, s.do(t, http.MethodPut, "/selection", SelectionRequest{IDs: ids[:2]}), http.StatusOK)

	rr = s.do(t, http.MethodPost, "/export/zip", ExportZipRequest{Name: "Beach picks"})
	expectStatus(t, rr, http.StatusOK)
	if rr.Header().Get("Content-Type") != "application/zip" {
		t.Errorf("content type = %q", rr.Header().Get("Content-Type"))
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "Beach picks.zip") {
		t.Errorf("content disposition = %q", cd)
	}
	data := rr.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("entries = %d, want 2", len(zr.File))
	}
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, "Beach picks/") || !strings.HasSuffix(f.Name, ".png") {
			t.Errorf("entry name = %q", f.Name)
		}
	}

	var sel SelectionResponse
	decodeInto(t, s.do(t, http.MethodGet, "/selection", nil), &sel)
	if len(sel.IDs) != 2 {
		t.Errorf("selection after export = %v, want kept", sel.IDs)
	}

	rr = s.do(t, http.MethodPost, "/gallery/delete", IDsRequest{IDs: []string{ids[0], ids[2]}})
	expectStatus(t, rr, http.StatusOK)
	decodeInto(t, s.do(t, http.MethodGet, "/selection", nil), &sel)
	if len(sel.IDs) != 1 || sel.IDs[0] != ids[1] {
		t.Errorf("selection after batch delete = %v", sel.IDs)
	}

	expectStatus(t, s.do(t, http.MethodDelete, "/session/error", nil), http.StatusNoContent)
	var status StatusResponse
	decodeInto(t, s.do(t, http.MethodGet, "/status", nil), &status)
	if status.ExportsCount != 1 || len(status.RecentExports) != 1 || status.RecentExports[0].Entries != 2 {
		t.Errorf("status exports = %d, %+v", status.ExportsCount, status.RecentExports)
	}
	if status.State != "editing" || status.PlaybackCount != 1 {
		t.Errorf("status = %+v", status)
	}
}

func TestExportEDL(t *testing.T) {
	s := newTestServer(t)
	s.startProject(t)

	expectStatus(t, s.do(t, http.MethodPost, "/export/edl", ExportEDLRequest{OutputDir: "../escape"}), http.StatusBadRequest)

	out := t.TempDir()
	rr := s.do(t, http.MethodPost, "/export/edl", ExportEDLRequest{Title: "Trip cut", OutputDir: out})
	expectStatus(t, rr, http.StatusOK)
	body := decodeJSONBody(t, rr)
	path, _ := body["output_path"].(string)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read edl: %v", err)
	}
	if !strings.Contains(string(data), "TITLE: Trip cut") {
		t.Errorf("edl = %s", data)
	}
}

func TestPlaybackRevokedOnRemove(t *testing.T) {
	s := newTestServer(t)
	v := s.startProject(t)

	get := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, v.URL, nil)
		req.RemoteAddr = "127.0.0.1:40000"
		rr := httptest.NewRecorder()
		s.router.ServeHTTP(rr, req)
		return rr
	}

	rr := get()
	expectStatus(t, rr, http.StatusOK)
	if !bytes.Equal(rr.Body.Bytes(), mp4Header) {
		t.Error("playback body differs from file")
	}

	remote := httptest.NewRequest(http.MethodGet, v.URL, nil)
	remote.RemoteAddr = "10.0.0.5:40000"
	rr = httptest.NewRecorder()
	s.router.ServeHTTP(rr, remote)
	expectStatus(t, rr, http.StatusForbidden)

	expectStatus(t, s.do(t, http.MethodDelete, "/videos/"+v.ID, nil), http.StatusNoContent)
	expectStatus(t, get(), http.StatusNotFound)
}

func TestGenerateNotConfigured(t *testing.T) {
	s := newTestServer(t)
	v := s.startProject(t)

	rr := s.do(t, http.MethodPost, "/videos/"+v.ID+"/capture", CaptureRequest{Kind: "first"})
	var item project.GalleryItem
	decodeInto(t, rr, &item)

	rr = s.do(t, http.MethodPost, "/gallery/"+item.ID+"/generate", nil)
	expectStatus(t, rr, http.StatusAccepted)
	var st timeline.GenerationStatus
	decodeInto(t, rr, &st)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := s.orch.WaitGeneration(ctx, st.ID)
	if err != nil {
		t.Fatalf("WaitGeneration() error = %v", err)
	}
	if final.State != "failed" {
		t.Errorf("state = %q, want failed with the stub generator", final.State)
	}

	rr = s.do(t, http.MethodGet, "/generations/"+st.ID, nil)
	expectStatus(t, rr, http.StatusOK)
	if msg, _ := decodeJSONBody(t, rr)["error"].(string); msg == "" {
		t.Error("generation error not reported")
	}
	expectStatus(t, s.do(t, http.MethodGet, "/generations/unknown", nil), http.StatusNotFound)
}
