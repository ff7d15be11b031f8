package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/reelframe/reelframe-agent/internal/db"
	"github.com/reelframe/reelframe-agent/internal/media"
	"github.com/reelframe/reelframe-agent/internal/project"
	"github.com/reelframe/reelframe-agent/internal/timeline"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State         string                `json:"state"`
	LastError     string                `json:"last_error,omitempty"`
	Session       timeline.SessionState `json:"session"`
	ProjectsCount int                   `json:"projects_count"`
	PlaybackCount int                   `json:"playback_handles"`
	EventClients  int                   `json:"event_clients"`
	ExportsCount  int                   `json:"exports_count"`
	RecentExports []db.ExportRecord     `json:"recent_exports"`
	Media         *media.Capabilities   `json:"media,omitempty"`
}

type CreateProjectRequest struct {
	Name        string `json:"name" validate:"max=200"`
	AspectRatio string `json:"aspect_ratio" validate:"required,oneof=16:9 9:16 1:1"`
}

type RenameProjectRequest struct {
	Name string `json:"name" validate:"max=200"`
}

type ProjectsResponse struct {
	Projects []project.Summary `json:"projects"`
}

type SwitchViewRequest struct {
	View string `json:"view" validate:"required,oneof=timeline gallery"`
}

type ImportPathsRequest struct {
	Paths []string `json:"paths" validate:"required,min=1,dive,required"`
}

type ImportResponse struct {
	Videos  []project.VideoItem `json:"videos"`
	Dropped int                 `json:"dropped"`
}

type MoveVideoRequest struct {
	Direction string `json:"direction" validate:"required,oneof=left right"`
}

type MoveVideoResponse struct {
	Moved bool `json:"moved"`
}

// CropRequest values are stored as sent; the player clamps them for display.
type CropRequest struct {
	Scale float64 `json:"scale"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

type UpdateVideoRequest struct {
	Name      *string      `json:"name,omitempty" validate:"omitempty,max=255"`
	Crop      *CropRequest `json:"crop,omitempty"`
	ClearCrop bool         `json:"clear_crop,omitempty"`
}

func (r UpdateVideoRequest) toUpdate() project.VideoUpdate {
	u := project.VideoUpdate{Name: r.Name, ClearCrop: r.ClearCrop}
	if r.Crop != nil {
		u.Crop = &project.Crop{Scale: r.Crop.Scale, X: r.Crop.X, Y: r.Crop.Y}
	}
	return u
}

type CaptureRequest struct {
	Kind string  `json:"kind" validate:"required,oneof=first last at current"`
	At   float64 `json:"at" validate:"gte=0"`
	// Save defaults to true; false returns the still without touching the
	// gallery.
	Save *bool `json:"save,omitempty"`
}

type CaptureResponse struct {
	VideoID   string  `json:"video_id"`
	VideoName string  `json:"video_name"`
	Kind      string  `json:"kind"`
	Src       string  `json:"src"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Timestamp float64 `json:"timestamp"`
}

type SeekRequest struct {
	T float64 `json:"t" validate:"gte=0"`
}

type SeekResponse struct {
	Position float64 `json:"position"`
}

type SaveGalleryRequest struct {
	Src       string `json:"src" validate:"required,startswith=data:"`
	Type      string `json:"type" validate:"required,oneof=start end manual"`
	VideoName string `json:"video_name"`
}

type GalleryResponse struct {
	Items []project.GalleryItem `json:"items"`
}

type IDsRequest struct {
	IDs []string `json:"ids" validate:"required,dive,required"`
}

type SelectionRequest struct {
	IDs []string `json:"ids" validate:"dive,required"`
}

type SelectionResponse struct {
	IDs []string `json:"ids"`
}

type DeleteManyResponse struct {
	Removed int `json:"removed"`
}

type ExportZipRequest struct {
	Name string `json:"name" validate:"max=200"`
}

type ExportEDLRequest struct {
	Title     string  `json:"title" validate:"max=200"`
	FrameRate float64 `json:"frame_rate" validate:"gte=0"`
	OutputDir string  `json:"output_dir" validate:"required"`
}

type GenerateRequest struct {
	Prompt string `json:"prompt" validate:"max=4000"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// decodeRequest reads a JSON body into v and validates it. An empty body is
// accepted when allowEmpty is set and leaves v at its zero value.
func decodeRequest(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return fmt.Errorf("invalid request body: %w", err)
		}
	}
	if err := validate.Struct(v); err != nil {
		return errors.New(formatValidationErrors(err))
	}
	return nil
}

func formatValidationErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("field '%s' failed on the '%s' tag", fe.Field(), fe.Tag())
		if fe.Param() != "" {
			msg += fmt.Sprintf(" (%s)", fe.Param())
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}
