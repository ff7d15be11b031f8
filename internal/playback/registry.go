package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/reelframe/reelframe-agent/internal/project"
)

var ErrRevoked = errors.New("playback handle revoked or unknown")

// Registry mints revocable playback URLs for imported clips. A token maps to
// exactly one file and stops resolving once released.
type Registry struct {
	prefix string
	server *Server
	logger *slog.Logger

	mu     sync.RWMutex
	tokens map[string]string
}

// NewRegistry returns a registry whose URLs are prefix + "/" + token.
func NewRegistry(prefix string, server *Server, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if server == nil {
		server = NewServer(logger)
	}
	return &Registry{
		prefix: prefix,
		server: server,
		logger: logger,
		tokens: make(map[string]string),
	}
}

func (r *Registry) Acquire(path string) (project.PlaybackHandle, error) {
	if path == "" {
		return project.PlaybackHandle{}, fmt.Errorf("acquire playback handle: empty path")
	}
	tok := uuid.NewString()

	r.mu.Lock()
	r.tokens[tok] = path
	r.mu.Unlock()

	return project.PlaybackHandle{Token: tok, URL: r.prefix + "/" + tok}, nil
}

// Release revokes a token. Unknown tokens are ignored.
func (r *Registry) Release(token string) {
	r.mu.Lock()
	_, ok := r.tokens[token]
	delete(r.tokens, token)
	r.mu.Unlock()

	if ok {
		r.logger.Debug("playback handle released", "token", token[:min(8, len(token))])
	}
}

func (r *Registry) Resolve(token string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	path, ok := r.tokens[token]
	if !ok {
		return "", ErrRevoked
	}
	return path, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}

// ServeToken streams the file behind token, or 404 once it is revoked.
func (r *Registry) ServeToken(w http.ResponseWriter, req *http.Request, token string) error {
	path, err := r.Resolve(token)
	if err != nil {
		http.Error(w, "playback handle not found", http.StatusNotFound)
		return nil
	}
	return r.server.ServeFile(w, req, path)
}
