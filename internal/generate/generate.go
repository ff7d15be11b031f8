// Package generate talks to an external generative-image service that
// synthesizes the frame following a captured still.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DefaultPrompt asks for the frame that would follow the given one.
const DefaultPrompt = "This is a single frame from a video. Generate the next frame of this video: " +
	"keep the same scene, subjects, lighting and camera, advanced by a fraction of a second. " +
	"Return only the image."

var ErrGenerationFailed = errors.New("generation failed")

type Request struct {
	Image    []byte
	MimeType string
	Prompt   string
}

type Result struct {
	Image    []byte
	MimeType string
}

type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// APIError is a non-2xx reply from the generation endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("generate request failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports server-side failures. 4xx replies are permanent.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// Unwrap lets callers match any API failure against ErrGenerationFailed.
func (e *APIError) Unwrap() error {
	return ErrGenerationFailed
}

// StubGenerator is used when no endpoint is configured.
type StubGenerator struct {
	logger *slog.Logger
}

func NewStubGenerator(logger *slog.Logger) *StubGenerator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &StubGenerator{logger: logger}
}

func (s *StubGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	s.logger.Info("generate stub: request rejected, no endpoint configured")
	return nil, fmt.Errorf("%w: not configured", ErrGenerationFailed)
}
