package app

import (
	"context"
	"errors"
	"log/slog"
)

// ErrNoSession indicates the live session could not be created at startup,
// usually because configuration failed to load.
var ErrNoSession = errors.New("app: live session unavailable")

// StartRecording begins a live translation session. Starting while a
// session is active replaces it with a fresh one.
func (s *Service) StartRecording() error {
	s.mu.Lock()
	session := s.session
	s.lastError = ""
	s.mu.Unlock()

	if session == nil {
		return ErrNoSession
	}
	if err := session.Start(context.Background()); err != nil {
		s.reportError(err)
		return err
	}
	return nil
}

// StopRecording ends the live session. Safe to call when not recording.
func (s *Service) StopRecording() error {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Stop()
}

// ToggleRecording starts or stops the live session, used by the hotkey.
func (s *Service) ToggleRecording() error {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()

	if session == nil {
		return ErrNoSession
	}
	if session.IsRunning() {
		slog.Debug("toggle: stopping recording")
		return session.Stop()
	}
	slog.Debug("toggle: starting recording")
	return s.StartRecording()
}
