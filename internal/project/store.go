package project

import (
	"fmt"
	"log/slog"
	"time"
)

// Store owns every project and tracks the active one by id.
type Store struct {
	projects []*Project
	active   string
	handles  HandleProvider
	now      func() time.Time
	logger   *slog.Logger
}

func NewStore(handles HandleProvider, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{handles: handles, now: time.Now, logger: logger}
}

// SetClock replaces the time source for every project created afterwards.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) Now() time.Time {
	return s.now()
}

func (s *Store) Create(name string, ratio AspectRatio) (*Project, error) {
	if !ratio.Valid() {
		return nil, fmt.Errorf("%w: aspect ratio %q", ErrInvalidInput, ratio)
	}
	now := s.now()
	videos := NewVideoRegistry(s.handles, s.logger)
	videos.now = s.now
	gallery := NewGalleryRegistry()
	gallery.now = s.now

	p := &Project{
		ID:           NewID(),
		Name:         name,
		AspectRatio:  ratio,
		CreatedAt:    now,
		Videos:       videos,
		Gallery:      gallery,
		lastModified: now,
	}
	s.projects = append(s.projects, p)
	s.logger.Info("project created", "project_id", p.ID, "aspect_ratio", string(ratio))
	return p, nil
}

func (s *Store) Get(id string) (*Project, error) {
	for _, p := range s.projects {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
}

// List returns summaries in creation order.
func (s *Store) List() []Summary {
	out := make([]Summary, len(s.projects))
	for i, p := range s.projects {
		out[i] = p.Summary()
	}
	return out
}

func (s *Store) Len() int {
	return len(s.projects)
}

// Delete removes a project and releases all of its playback handles. Deleting
// the active project clears the active id.
func (s *Store) Delete(id string) error {
	for i, p := range s.projects {
		if p.ID != id {
			continue
		}
		if s.active == id {
			s.active = ""
		}
		p.Videos.ReleaseAll()
		s.projects = append(s.projects[:i], s.projects[i+1:]...)
		s.logger.Info("project deleted", "project_id", id)
		return nil
	}
	return fmt.Errorf("project %s: %w", id, ErrNotFound)
}

func (s *Store) Rename(id, name string) error {
	p, err := s.Get(id)
	if err != nil {
		return err
	}
	p.Name = name
	return nil
}

// Touch marks a mutation of the project's videos or gallery.
func (s *Store) Touch(p *Project) {
	p.Touch(s.now())
}

func (s *Store) SetActive(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	s.active = id
	return nil
}

func (s *Store) ClearActive() {
	s.active = ""
}

// Active returns the active project, or nil when none is open.
func (s *Store) Active() *Project {
	if s.active == "" {
		return nil
	}
	p, err := s.Get(s.active)
	if err != nil {
		return nil
	}
	return p
}

func (s *Store) ActiveID() string {
	return s.active
}
