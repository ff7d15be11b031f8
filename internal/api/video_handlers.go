package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/reelframe/reelframe-agent/internal/project"
	"github.com/reelframe/reelframe-agent/internal/timeline"
)

// importVideosHandler accepts either a JSON list of local paths or a
// multipart upload. Uploaded files are stored under the upload directory and
// removed again when they are not video.
func importVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			files    []project.ImportFile
			uploaded bool
			err      error
		)
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		switch mediaType {
		case "multipart/form-data":
			files, err = receiveUploads(cfg, w, r)
			uploaded = true
		default:
			files, err = localImports(r)
		}
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		added, err := cfg.Orchestrator.ImportVideos(r.Context(), files)
		if uploaded {
			discardUnused(files, added)
		}
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		if added == nil {
			added = []project.VideoItem{}
		}
		WriteJSON(w, http.StatusCreated, ImportResponse{Videos: added, Dropped: len(files) - len(added)})
	}
}

func localImports(r *http.Request) ([]project.ImportFile, error) {
	var req ImportPathsRequest
	if err := decodeRequest(r, &req, false); err != nil {
		return nil, err
	}
	files := make([]project.ImportFile, 0, len(req.Paths))
	for _, p := range req.Paths {
		if !filepath.IsAbs(p) {
			return nil, fmt.Errorf("path must be absolute: %s", p)
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("path not accessible: %s", p)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("path is a directory: %s", p)
		}
		files = append(files, project.ImportFile{Name: filepath.Base(p), Path: filepath.Clean(p)})
	}
	return files, nil
}

func receiveUploads(cfg ServerConfig, w http.ResponseWriter, r *http.Request) ([]project.ImportFile, error) {
	if cfg.UploadDir == "" {
		return nil, errors.New("uploads are not enabled")
	}
	if cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("invalid multipart body: %w", err)
	}

	batch := filepath.Join(cfg.UploadDir, uuid.NewString())
	if err := os.MkdirAll(batch, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	var files []project.ImportFile
	fail := func(err error) ([]project.ImportFile, error) {
		os.RemoveAll(batch)
		return nil, err
	}
	for i := 0; ; i++ {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(fmt.Errorf("read upload: %w", err))
		}
		name := part.FileName()
		if name == "" {
			part.Close()
			continue
		}
		name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
		dest := filepath.Join(batch, fmt.Sprintf("%03d_%s", i, name))

		f, err := os.Create(dest)
		if err != nil {
			part.Close()
			return fail(fmt.Errorf("store upload: %w", err))
		}
		_, err = io.Copy(f, part)
		part.Close()
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fail(fmt.Errorf("store upload %s: %w", name, err))
		}
		files = append(files, project.ImportFile{Name: name, Path: dest})
	}
	if len(files) == 0 {
		return fail(errors.New("no files in upload"))
	}
	return files, nil
}

func discardUnused(files []project.ImportFile, added []project.VideoItem) {
	kept := make(map[string]bool, len(added))
	for _, v := range added {
		kept[v.Path] = true
	}
	for _, f := range files {
		if !kept[f.Path] {
			os.Remove(f.Path)
		}
	}
}

func getVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := cfg.Orchestrator.Video(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, v)
	}
}

func updateVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateVideoRequest
		if err := decodeRequest(r, &req, false); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		v, err := cfg.Orchestrator.UpdateVideo(chi.URLParam(r, "id"), req.toUpdate())
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, v)
	}
}

func removeVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := cfg.Orchestrator.RemoveVideo(chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func moveVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MoveVideoRequest
		if err := decodeRequest(r, &req, false); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		dir, err := project.ParseDirection(req.Direction)
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		moved, err := cfg.Orchestrator.ReorderVideo(chi.URLParam(r, "id"), dir)
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, MoveVideoResponse{Moved: moved})
	}
}

func captureContext(cfg ServerConfig, r *http.Request) (context.Context, context.CancelFunc) {
	if cfg.CaptureTimeout > 0 {
		return context.WithTimeout(r.Context(), cfg.CaptureTimeout)
	}
	return context.WithCancel(r.Context())
}

func seekVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SeekRequest
		if err := decodeRequest(r, &req, false); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		ctx, cancel := captureContext(cfg, r)
		defer cancel()

		pos, err := cfg.Orchestrator.SeekVideo(ctx, chi.URLParam(r, "id"), req.T)
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, SeekResponse{Position: pos})
	}
}

// captureHandler samples a frame. By default the still is saved to the
// gallery and the new entry returned; with save=false the still comes back
// inline.
func captureHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CaptureRequest
		if err := decodeRequest(r, &req, false); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		kind, err := timeline.ParseCaptureKind(req.Kind)
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		ctx, cancel := captureContext(cfg, r)
		defer cancel()
		videoID := chi.URLParam(r, "id")

		if req.Save == nil || *req.Save {
			item, err := cfg.Orchestrator.CaptureToGallery(ctx, videoID, kind, req.At)
			if err != nil {
				writeDomainError(w, r, cfg.Logger, err)
				return
			}
			WriteJSON(w, http.StatusCreated, item)
			return
		}

		res, err := cfg.Orchestrator.CaptureFrame(ctx, videoID, kind, req.At)
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, CaptureResponse{
			VideoID:   res.VideoID,
			VideoName: res.VideoName,
			Kind:      string(res.Kind),
			Src:       res.Still.DataURL(),
			Width:     res.Still.Width,
			Height:    res.Still.Height,
			Timestamp: res.Still.Timestamp,
		})
	}
}
