package api

import (
	"mime"
	"net/http"
	"strconv"

	"github.com/reelframe/reelframe-agent/internal/export"
)

// exportZipHandler streams the selected stills back as a zip attachment.
func exportZipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExportZipRequest
		if err := decodeRequest(r, &req, true); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		archive, err := cfg.Orchestrator.ExportSelection(r.Context(), req.Name)
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}

		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Length", strconv.Itoa(len(archive.Data)))
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": archive.Name}))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(archive.Data); err != nil {
			cfg.Logger.Warn("failed to write archive", "name", archive.Name, "error", err)
		}
	}
}

// exportEDLHandler writes the active timeline as an EDL into a local folder.
func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExportEDLRequest
		if err := decodeRequest(r, &req, false); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		if err := export.ValidateOutputDir(req.OutputDir); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		resp, err := cfg.Orchestrator.ExportTimelineEDL(export.EDLRequest{
			Title:     req.Title,
			FrameRate: req.FrameRate,
			OutputDir: req.OutputDir,
		})
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
