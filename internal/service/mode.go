package service

import (
	"fmt"
	"sync"

	"github.com/campuskit/tutorcore/internal/domain"
	"github.com/campuskit/tutorcore/internal/domain/mode"
)

// ModeService resolves mode identifiers to their generation directives.
// Built-in modes are pre-loaded; custom modes can be registered at runtime.
type ModeService struct {
	mu    sync.RWMutex
	modes map[string]mode.Mode
}

// NewModeService creates a ModeService pre-loaded with built-in modes.
func NewModeService() *ModeService {
	s := &ModeService{modes: make(map[string]mode.Mode)}
	for _, m := range mode.BuiltinModes() {
		s.modes[m.ID] = m
	}
	return s
}

// List returns all modes (built-in + custom).
func (s *ModeService) List() []mode.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]mode.Mode, 0, len(s.modes))
	for _, m := range s.modes {
		result = append(result, m)
	}
	return result
}

// Get returns a mode by ID.
func (s *ModeService) Get(id string) (*mode.Mode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modes[id]
	if !ok {
		return nil, fmt.Errorf("mode %q: %w", id, domain.ErrUnknownMode)
	}
	return &m, nil
}

// Resolve returns the directive for a mode id. Unknown ids are an error,
// never silently mapped to a default mode.
func (s *ModeService) Resolve(id string) (string, error) {
	m, err := s.Get(id)
	if err != nil {
		return "", err
	}
	return m.Directive, nil
}

// Register adds a custom mode. Built-in modes cannot be overwritten.
func (s *ModeService) Register(m *mode.Mode) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("validate mode: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.modes[m.ID]; ok && existing.Builtin {
		return fmt.Errorf("cannot overwrite built-in mode %q", m.ID)
	}
	s.modes[m.ID] = *m
	return nil
}
