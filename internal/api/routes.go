package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reelframe/reelframe-agent/internal/config"
	"github.com/reelframe/reelframe-agent/internal/db"
	"github.com/reelframe/reelframe-agent/internal/project"
	"github.com/reelframe/reelframe-agent/internal/timeline"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	// Media elements and websockets cannot send bearer headers. The token in
	// the playback URL is the capability; both stay loopback-only.
	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())
		if cfg.Playback != nil {
			r.Get("/playback/{token}", playbackHandler(cfg))
			r.Head("/playback/{token}", playbackHandler(cfg))
		}
		if cfg.Hub != nil {
			r.Get("/events", cfg.Hub.ServeHTTP)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Get("/projects", listProjectsHandler(cfg))
		r.Post("/projects", createProjectHandler(cfg))
		r.Get("/projects/{id}", getProjectHandler(cfg))
		r.Patch("/projects/{id}", renameProjectHandler(cfg))
		r.Delete("/projects/{id}", deleteProjectHandler(cfg))
		r.Post("/projects/{id}/open", openProjectHandler(cfg))

		r.Get("/session", sessionHandler(cfg))
		r.Post("/session/exit", exitSessionHandler(cfg))
		r.Put("/session/view", switchViewHandler(cfg))
		r.Delete("/session/error", dismissErrorHandler(cfg))

		r.Post("/videos", importVideosHandler(cfg))
		r.Get("/videos/{id}", getVideoHandler(cfg))
		r.Patch("/videos/{id}", updateVideoHandler(cfg))
		r.Delete("/videos/{id}", removeVideoHandler(cfg))
		r.Post("/videos/{id}/move", moveVideoHandler(cfg))
		r.Post("/videos/{id}/seek", seekVideoHandler(cfg))
		r.Post("/videos/{id}/capture", captureHandler(cfg))

		r.Get("/gallery", listGalleryHandler(cfg))
		r.Post("/gallery", saveGalleryHandler(cfg))
		r.Post("/gallery/delete", deleteGalleryManyHandler(cfg))
		r.Delete("/gallery/{id}", deleteGalleryHandler(cfg))
		r.Get("/gallery/{id}/image", galleryImageHandler(cfg))
		r.Get("/gallery/{id}/thumbnail", galleryThumbnailHandler(cfg))
		r.Post("/gallery/{id}/generate", generateHandler(cfg))
		r.Get("/generations/{id}", getGenerationHandler(cfg))

		r.Get("/selection", getSelectionHandler(cfg))
		r.Put("/selection", setSelectionHandler(cfg))
		r.Delete("/selection", clearSelectionHandler(cfg))

		r.Post("/export/zip", exportZipHandler(cfg))
		r.Post("/export/edl", exportEDLHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  config.Version,
			UptimeS:  int64(time.Since(cfg.StartTime).Seconds()),
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		session := cfg.Orchestrator.State()

		state := "idle"
		switch {
		case session.Exporting:
			state = "exporting"
		case session.LastError != "":
			state = "error"
		case session.Active:
			state = "editing"
		}

		resp := StatusResponse{
			State:         state,
			LastError:     session.LastError,
			Session:       session,
			ProjectsCount: cfg.Orchestrator.ProjectCount(),
			RecentExports: []db.ExportRecord{},
		}
		if cfg.Playback != nil {
			resp.PlaybackCount = cfg.Playback.Len()
		}
		if cfg.Hub != nil {
			resp.EventClients = cfg.Hub.ClientCount()
		}
		if cfg.Repository != nil {
			if n, err := cfg.Repository.CountExports(ctx); err == nil {
				resp.ExportsCount = n
			}
			if recent, err := cfg.Repository.RecentExports(ctx, 5); err == nil && recent != nil {
				resp.RecentExports = recent
			}
		}
		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.Media = caps
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listProjectsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects := cfg.Orchestrator.ListProjects()
		if projects == nil {
			projects = []project.Summary{}
		}
		WriteJSON(w, http.StatusOK, ProjectsResponse{Projects: projects})
	}
}

func createProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateProjectRequest
		if err := decodeRequest(r, &req, false); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		snap, err := cfg.Orchestrator.CreateProject(req.Name, project.AspectRatio(req.AspectRatio))
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, snap)
	}
}

func getProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := cfg.Orchestrator.Project(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, snap)
	}
}

func renameProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RenameProjectRequest
		if err := decodeRequest(r, &req, false); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		summary, err := cfg.Orchestrator.RenameProject(chi.URLParam(r, "id"), req.Name)
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, summary)
	}
}

func deleteProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Orchestrator.DeleteProject(chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func openProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := cfg.Orchestrator.OpenProject(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, snap)
	}
}

func sessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Orchestrator.State())
	}
}

func exitSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Orchestrator.ExitProject()
		WriteJSON(w, http.StatusOK, cfg.Orchestrator.State())
	}
}

func switchViewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SwitchViewRequest
		if err := decodeRequest(r, &req, false); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		if err := cfg.Orchestrator.SwitchView(timeline.View(req.View)); err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Orchestrator.State())
	}
}

func dismissErrorHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Orchestrator.DismissError()
		w.WriteHeader(http.StatusNoContent)
	}
}

func playbackHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		if err := cfg.Playback.ServeToken(w, r, token); err != nil {
			cfg.Logger.Error("playback error", "error", err, "token", token[:min(8, len(token))])
		}
	}
}
