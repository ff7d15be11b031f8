package generate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

const maxResponseBytes = 32 << 20

type imagePart struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateRequest struct {
	Prompt string    `json:"prompt"`
	Image  imagePart `json:"image"`
}

type generateResponse struct {
	Image *imagePart `json:"image,omitempty"`
	Error string     `json:"error,omitempty"`
}

// HTTPClient posts stills to the configured generation endpoint.
type HTTPClient struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(url, token string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPClient{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *HTTPClient) Generate(ctx context.Context, req Request) (*Result, error) {
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("%w: empty source image", ErrGenerationFailed)
	}
	prompt := req.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "image/png"
	}

	body, err := json.Marshal(generateRequest{
		Prompt: prompt,
		Image:  imagePart{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(req.Image)},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-Id", uuid.NewString())
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Info("requesting generated frame",
		"url", c.url,
		"image_size", humanize.Bytes(uint64(len(req.Image))),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrGenerationFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := respBody
		if len(snippet) > 4096 {
			snippet = snippet[:4096]
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: response is not JSON", ErrGenerationFailed)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, out.Error)
	}
	if out.Image == nil || out.Image.Data == "" {
		return nil, fmt.Errorf("%w: response contained no image", ErrGenerationFailed)
	}
	if !strings.HasPrefix(out.Image.MimeType, "image/") {
		return nil, fmt.Errorf("%w: unexpected mime type %q", ErrGenerationFailed, out.Image.MimeType)
	}
	img, err := base64.StdEncoding.DecodeString(out.Image.Data)
	if err != nil || len(img) == 0 {
		return nil, fmt.Errorf("%w: undecodable image data", ErrGenerationFailed)
	}

	c.logger.Info("generated frame received",
		"mime_type", out.Image.MimeType,
		"size", humanize.Bytes(uint64(len(img))),
	)
	return &Result{Image: img, MimeType: out.Image.MimeType}, nil
}
