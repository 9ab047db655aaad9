package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/wailsapp/wails/v3/pkg/application"

	"go.mozhi.app/mozhi/cache"
	"go.mozhi.app/mozhi/config"
	"go.mozhi.app/mozhi/history"
	"go.mozhi.app/mozhi/hotkey"
	"go.mozhi.app/mozhi/internal/types"
	"go.mozhi.app/mozhi/langdetect"
	"go.mozhi.app/mozhi/live"
	"go.mozhi.app/mozhi/transcribe"
)

// Service provides application functionality bound to Wails.
// This struct focuses on orchestration; business logic lives in sub-components.
type Service struct {
	cfg    *config.Config
	cache  *cache.Cache
	hotkey *hotkey.Manager

	// UI references - set via Init
	app    *application.App
	window application.Window

	log *history.Log

	mu        sync.Mutex
	session   *live.Service
	files     fileTranscriber
	captions  types.Captions
	busy      bool
	lastError string

	version string
}

// New creates a new Service. Call Init() after Wails app is created.
func New(version string) *Service {
	return &Service{version: version, log: history.NewLog()}
}

// GetVersion returns the application version.
func (s *Service) GetVersion() string {
	return s.version
}

// Init initializes the service with app and window references.
// Must be called after Wails application is created.
func (s *Service) Init(app *application.App, window application.Window) {
	s.app = app
	s.window = window

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		cfg = &config.Config{}
	}
	s.cfg = cfg

	s.setupCache()
	s.setupSession()
	s.setupTranscriber()
	if cfg.HotkeyEnabled {
		s.setupHotkey()
	}
}

// Shutdown cleans up resources.
func (s *Service) Shutdown() {
	if s.hotkey != nil && s.hotkey.IsRunning() {
		s.hotkey.Stop()
	}
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session != nil {
		if err := session.Close(); err != nil {
			slog.Error("close live session", "error", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			slog.Error("close cache", "error", err)
		}
	}
}

func (s *Service) setupCache() {
	dataDir, err := config.DataDir()
	if err != nil {
		slog.Error("get data dir for cache", "error", err)
		return
	}

	cachePath := filepath.Join(dataDir, "cache")
	c, err := cache.New(cachePath)
	if err != nil {
		slog.Error("init cache", "error", err)
		return
	}
	s.cache = c
	slog.Info("cache initialized", "path", cachePath)
}

func (s *Service) setupSession() {
	session, err := live.NewService(live.Config{
		APIKey:            s.cfg.APIKey,
		Model:             s.cfg.LiveModel,
		SystemInstruction: live.DefaultSystemInstruction(s.cfg.TargetLanguage),
		ConnectTimeout:    s.cfg.ConnectTimeout(),
		History:           s.log,
		DetectLang:        langdetect.Detect,
		Hooks: live.Hooks{
			OnInput:  s.setInputCaption,
			OnOutput: s.setOutputCaption,
			OnCommit: func(rec types.HistoryRecord) { s.emit(EventHistoryAdded, rec) },
			OnError:  s.reportError,
			OnState: func(state live.State) {
				s.emit(EventLiveState, state.String())
			},
		},
	})
	if err != nil {
		slog.Error("init live session", "error", err)
		return
	}
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
}

func (s *Service) setupTranscriber() {
	if s.cfg.APIKey == "" {
		slog.Warn("no API key configured, file transcription disabled")
		return
	}
	t, err := transcribe.New(context.Background(), transcribe.Options{
		APIKey:         s.cfg.APIKey,
		Model:          s.cfg.FileModel,
		TargetLanguage: s.cfg.TargetLanguage,
		Store:          s.cache,
	})
	if err != nil {
		slog.Error("init transcriber", "error", err)
		return
	}
	s.mu.Lock()
	s.files = t
	s.mu.Unlock()
}

func (s *Service) setupHotkey() {
	s.hotkey = hotkey.NewManager(nil, func() {
		if err := s.ToggleRecording(); err != nil {
			slog.Error("hotkey toggle", "error", err)
		}
	})

	s.hotkey.SetStatusCallback(func(granted bool) {
		s.emit(EventAccessibility, granted)
		if granted {
			slog.Info("input monitoring permission granted")
		} else {
			slog.Warn("input monitoring permission denied")
		}
	})

	if err := s.hotkey.Start(); err != nil {
		slog.Error("start hotkey", "error", err)
	}
}

// emit is a safe wrapper around app.Event.Emit
func (s *Service) emit(name string, data any) {
	if s.app != nil {
		s.app.Event.Emit(name, data)
	}
}

// Caption hooks carry one side each; the service merges them so the
// frontend always receives the full pair.
func (s *Service) setInputCaption(text string) {
	s.mu.Lock()
	s.captions.Input = text
	captions := s.captions
	s.mu.Unlock()
	s.emit(EventLiveCaptions, captions)
}

func (s *Service) setOutputCaption(text string) {
	s.mu.Lock()
	s.captions.Output = text
	captions := s.captions
	s.mu.Unlock()
	s.emit(EventLiveCaptions, captions)
}

func (s *Service) reportError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
	s.emit(EventError, err.Error())
}

// Status returns a snapshot of the application state for the frontend.
func (s *Service) Status() types.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := types.Status{
		Busy:         s.busy,
		LastError:    s.lastError,
		HistoryCount: s.log.Len(),
		SessionState: live.StateIdle.String(),
	}
	if s.session != nil {
		st.SessionState = s.session.State().String()
		st.Recording = s.session.IsRunning()
	}
	return st
}

// History returns committed records, newest first.
func (s *Service) History() []types.HistoryRecord {
	return s.log.Records()
}
