package app

import (
	"fmt"
	"log/slog"

	"go.mozhi.app/mozhi/config"
)

// GetConfig returns the current configuration.
func (s *Service) GetConfig() config.Config {
	return *s.cfg
}

// UpdateConfig persists new settings and rebuilds the components that
// depend on them. An active recording session is stopped first.
func (s *Service) UpdateConfig(cfg config.Config) error {
	if err := s.StopRecording(); err != nil {
		slog.Warn("stop recording for config update", "error", err)
	}

	*s.cfg = cfg
	if err := s.cfg.Save(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	s.mu.Lock()
	s.session = nil
	s.files = nil
	s.mu.Unlock()

	s.setupSession()
	s.setupTranscriber()
	slog.Info("configuration updated", "liveModel", cfg.LiveModel, "fileModel", cfg.FileModel)
	return nil
}
