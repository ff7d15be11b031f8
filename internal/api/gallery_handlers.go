package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/reelframe/reelframe-agent/internal/project"
)

const (
	defaultThumbnailSide = 256
	maxThumbnailSide     = 2048
)

func listGalleryHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := cfg.Orchestrator.Gallery()
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		if items == nil {
			items = []project.GalleryItem{}
		}
		WriteJSON(w, http.StatusOK, GalleryResponse{Items: items})
	}
}

func saveGalleryHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SaveGalleryRequest
		if err := decodeRequest(r, &req, false); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		item, err := cfg.Orchestrator.SaveToGallery(req.Src, project.GalleryType(req.Type), req.VideoName)
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, item)
	}
}

func deleteGalleryHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := cfg.Orchestrator.RemoveGalleryItem(chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func deleteGalleryManyHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IDsRequest
		if err := decodeRequest(r, &req, false); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		n, err := cfg.Orchestrator.RemoveGalleryItems(req.IDs)
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, DeleteManyResponse{Removed: n})
	}
}

func galleryImageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, mimeType, err := cfg.Orchestrator.GalleryImage(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		writeImage(w, mimeType, data)
	}
}

func galleryThumbnailHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		side := defaultThumbnailSide
		if s := r.URL.Query().Get("size"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 || n > maxThumbnailSide {
				WriteError(w, http.StatusBadRequest, "size must be between 1 and 2048", "BAD_REQUEST")
				return
			}
			side = n
		}
		data, err := cfg.Orchestrator.GalleryThumbnail(chi.URLParam(r, "id"), side)
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		writeImage(w, "image/png", data)
	}
}

// writeImage serves gallery bytes. Entries never change after they are
// saved, so clients may cache them for good.
func writeImage(w http.ResponseWriter, mimeType string, data []byte) {
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func getSelectionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, SelectionResponse{IDs: cfg.Orchestrator.Selection()})
	}
}

func setSelectionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SelectionRequest
		if err := decodeRequest(r, &req, false); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		ids, err := cfg.Orchestrator.SetSelection(req.IDs)
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, SelectionResponse{IDs: ids})
	}
}

func clearSelectionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Orchestrator.ClearSelection()
		WriteJSON(w, http.StatusOK, SelectionResponse{IDs: []string{}})
	}
}

func generateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		if err := decodeRequest(r, &req, true); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		st, err := cfg.Orchestrator.GenerateNext(chi.URLParam(r, "id"), req.Prompt)
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, st)
	}
}

func getGenerationHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := cfg.Orchestrator.Generation(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, st)
	}
}
