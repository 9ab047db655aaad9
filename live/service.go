// Package live streams microphone audio to the translation service and
// accumulates the incremental transcription events it sends back.
package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.mozhi.app/mozhi/audiocapture"
	"go.mozhi.app/mozhi/history"
	"go.mozhi.app/mozhi/internal/types"
	"go.mozhi.app/mozhi/pcm"
)

// State is the session lifecycle phase.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Hooks receive session events. All hooks are invoked from the session's
// event-driving goroutine (or from Start/Stop), never concurrently with each
// other, so implementations need no locking of their own.
type Hooks struct {
	OnInput  func(text string)              // current-turn source speech mirror
	OnOutput func(text string)              // current-turn translation mirror
	OnCommit func(rec types.HistoryRecord)  // a turn was finalized
	OnError  func(err error)                // session-fatal error, teardown follows
	OnState  func(state State)
}

// Config holds configuration for the live service.
type Config struct {
	APIKey            string
	Model             string
	SystemInstruction string
	ConnectTimeout    time.Duration // default 30s

	Capture audiocapture.Config

	// Dial overrides the session transport; default Dial. For tests.
	Dial Dialer

	// History receives committed records when non-nil.
	History *history.Log

	// DetectLang annotates committed records with a source language code.
	DetectLang func(text string) string

	Hooks Hooks
}

// DefaultSystemInstruction pins the translation target language.
func DefaultSystemInstruction(targetLanguage string) string {
	return fmt.Sprintf(
		"You are a real-time speech translator. Listen to the audio input and translate it into %s. "+
			"Respond with spoken audio in %s only, without explanations or meta-commentary.",
		targetLanguage, targetLanguage,
	)
}

// Service owns one live session episode at a time: the capture pipeline, the
// session transport, and the per-turn transcript accumulation.
type Service struct {
	cfg   Config
	dial  Dialer
	audio *audiocapture.Capture

	mu     sync.Mutex
	state  State
	conn   Conn
	cancel context.CancelFunc
	gen    uint64 // episode generation; bumped on every start and stop
	acc    Accumulator

	// notifyMu orders caption hook invocations against the teardown reset:
	// once the stop path has emitted its empty mirrors, a fragment from the
	// retired episode can no longer overwrite them.
	notifyMu sync.Mutex
}

// NewService creates a live service. The microphone itself is not touched
// until Start.
func NewService(cfg Config) (*Service, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("live: model is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.Dial == nil {
		cfg.Dial = Dial
	}
	if cfg.Capture.SampleRate == 0 {
		cfg.Capture = audiocapture.DefaultConfig()
	}

	audio, err := audiocapture.New(cfg.Capture)
	if err != nil {
		return nil, fmt.Errorf("create audio capture: %w", err)
	}

	return &Service{cfg: cfg, dial: cfg.Dial, audio: audio, state: StateIdle}, nil
}

// State returns the current session state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether an episode is connecting or open.
func (s *Service) IsRunning() bool {
	st := s.State()
	return st == StateConnecting || st == StateOpen
}

// Start begins a recording episode: connect the session, then start the
// microphone. A Start while another episode is live supersedes it — the
// previous episode is fully stopped (including its salvage commit) first.
// Frames produced before the session reports ready are dropped.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateOpen {
		rec, committed := s.teardownLocked()
		s.mu.Unlock()
		s.finishStop(rec, committed)
		s.mu.Lock()
	}

	s.gen++
	gen := s.gen
	s.state = StateConnecting
	s.acc.Reset()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	sess := SessionConfig{
		APIKey:            s.cfg.APIKey,
		Model:             s.cfg.Model,
		SystemInstruction: s.cfg.SystemInstruction,
	}
	s.mu.Unlock()

	s.notifyState(StateConnecting)

	dialCtx, dialCancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	conn, err := s.dial(dialCtx, sess)
	dialCancel()
	if err != nil {
		s.mu.Lock()
		current := s.gen == gen
		if current {
			s.state = StateClosed
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
		if current {
			s.notifyState(StateClosed)
		}
		return fmt.Errorf("connect live session: %w", err)
	}

	s.mu.Lock()
	if s.gen != gen {
		// Superseded or stopped while dialing; retire the fresh connection.
		s.mu.Unlock()
		if cerr := conn.Close(); cerr != nil {
			slog.Debug("close superseded session", "error", cerr)
		}
		cancel()
		return nil
	}
	s.conn = conn
	s.mu.Unlock()

	go s.readEvents(gen, conn)

	if err := s.audio.Start(func(samples []float32) {
		s.sendFrame(gen, pcm.Encode(samples))
	}); err != nil {
		s.Stop()
		return fmt.Errorf("start capture: %w", err)
	}

	if !s.reconcileCapture(gen) {
		return nil
	}

	slog.Info("live session started", "model", s.cfg.Model, "sampleRate", s.audio.SampleRate())
	return nil
}

// reconcileCapture releases the microphone if the episode that acquired it
// was retired while acquisition was in flight. A Stop that fully completed
// in that window already ran its capture teardown and could not see the
// device, so the acquiring goroutine releases it here. Returns whether the
// episode is still current.
func (s *Service) reconcileCapture(gen uint64) bool {
	s.mu.Lock()
	current := s.gen == gen
	s.mu.Unlock()
	if current {
		return true
	}

	if err := s.audio.Stop(); err != nil {
		slog.Error("stop capture", "error", err)
	}
	return false
}

// Stop ends the current episode. It is idempotent in any call order: capture
// tracks, the audio pipeline, and the session are each released only if
// still held. A committable partial transcript is finalized into history so
// stopping mid-turn never discards spoken content.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	rec, committed := s.teardownLocked()
	s.mu.Unlock()

	s.finishStop(rec, committed)
	slog.Info("live session stopped")
	return nil
}

// teardownLocked retires the current episode: bumps the generation so every
// in-flight continuation becomes a no-op, releases the session handle, and
// salvages any pending partial transcript. Caller holds s.mu.
func (s *Service) teardownLocked() (types.HistoryRecord, bool) {
	s.gen++

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			// Closing an already-closed session means there is nothing to do.
			slog.Debug("close live session", "error", err)
		}
		s.conn = nil
	}

	rec, committed := s.commitLocked()
	s.state = StateClosed
	return rec, committed
}

// finishStop performs the teardown steps that must not run under s.mu:
// stopping the capture pipeline (its callback takes s.mu) and invoking hooks.
func (s *Service) finishStop(rec types.HistoryRecord, committed bool) {
	if err := s.audio.Stop(); err != nil {
		slog.Error("stop capture", "error", err)
	}

	if committed {
		if f := s.cfg.Hooks.OnCommit; f != nil {
			f(rec)
		}
	}
	s.notifyCaptions("", "")
	s.notifyState(StateClosed)
}

// sendFrame transmits one encoded frame. Frames racing an unready session
// are dropped; frames resolving after the episode was retired are no-ops. A
// failed send on an open session is a transport error and tears the episode
// down.
func (s *Service) sendFrame(gen uint64, frame pcm.Frame) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateOpen || s.conn == nil {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.mu.Unlock()

	msg := realtimeInputMessage{RealtimeInput: realtimeInput{Media: frame}}
	if err := conn.Send(context.Background(), msg); err != nil {
		s.fail(gen, fmt.Errorf("send audio frame: %w", err))
	}
}

// readEvents is the single driving loop for inbound session events. Events
// are handled strictly in arrival order; all shared state mutation happens
// here or under the service lock with a generation guard.
func (s *Service) readEvents(gen uint64, conn Conn) {
	for msg := range conn.Messages() {
		switch {
		case msg.SetupComplete != nil:
			s.setOpen(gen)
		case msg.ServerContent != nil:
			s.handleContent(gen, msg.ServerContent)
		case msg.GoAway != nil:
			slog.Warn("server going away", "timeLeft", msg.GoAway.TimeLeft)
		}
	}

	if err := conn.Err(); err != nil {
		s.fail(gen, fmt.Errorf("live session: %w", err))
	}
}

func (s *Service) setOpen(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateOpen
	s.mu.Unlock()

	s.notifyState(StateOpen)
	slog.Info("live session open")
}

func (s *Service) handleContent(gen uint64, sc *ServerContent) {
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.acc.AppendInput(sc.InputTranscription.Text)
		input := s.acc.Input()
		s.mu.Unlock()

		s.mirrorInput(gen, input)
	}

	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.acc.AppendOutput(sc.OutputTranscription.Text)
		output := s.acc.Output()
		s.mu.Unlock()

		s.mirrorOutput(gen, output)
	}

	if sc.TurnComplete {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		rec, committed := s.commitLocked()
		s.mu.Unlock()

		if committed {
			if f := s.cfg.Hooks.OnCommit; f != nil {
				f(rec)
			}
		}
		// Mirrors reset whether or not a record was committed.
		s.notifyCaptions("", "")
	}
}

// commitLocked finalizes the accumulator pair into a history record iff at
// least one side is non-blank. Caller holds s.mu.
func (s *Service) commitLocked() (types.HistoryRecord, bool) {
	user, translation, ok := s.acc.Commit()
	if !ok {
		return types.HistoryRecord{}, false
	}

	rec := types.HistoryRecord{
		ID:          uuid.NewString(),
		User:        user,
		Translation: translation,
		CreatedAt:   time.Now().UnixMilli(),
	}
	if s.cfg.DetectLang != nil {
		rec.SourceLang = s.cfg.DetectLang(user)
	}
	if s.cfg.History != nil {
		s.cfg.History.Add(rec)
	}
	return rec, true
}

// fail surfaces a session-fatal error and runs full teardown. Stale
// generations (errors arriving after the episode already ended) are ignored.
func (s *Service) fail(gen uint64, err error) {
	s.mu.Lock()
	stale := s.gen != gen
	s.mu.Unlock()
	if stale {
		return
	}

	slog.Error("live session error", "error", err)
	if f := s.cfg.Hooks.OnError; f != nil {
		f(err)
	}
	s.Stop()
}

func (s *Service) notifyState(state State) {
	if f := s.cfg.Hooks.OnState; f != nil {
		f(state)
	}
}

func (s *Service) notifyCaptions(input, output string) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	if f := s.cfg.Hooks.OnInput; f != nil {
		f(input)
	}
	if f := s.cfg.Hooks.OnOutput; f != nil {
		f(output)
	}
}

// mirrorInput delivers the running source caption for one episode. The
// generation is re-checked under notifyMu so a fragment from a retired
// episode cannot land after the stop path's empty mirrors.
func (s *Service) mirrorInput(gen uint64, text string) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	stale := s.gen != gen
	s.mu.Unlock()
	if stale {
		return
	}
	if f := s.cfg.Hooks.OnInput; f != nil {
		f(text)
	}
}

// mirrorOutput delivers the running translation caption, with the same
// staleness guard as mirrorInput.
func (s *Service) mirrorOutput(gen uint64, text string) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	stale := s.gen != gen
	s.mu.Unlock()
	if stale {
		return
	}
	if f := s.cfg.Hooks.OnOutput; f != nil {
		f(text)
	}
}

// Close releases resources.
func (s *Service) Close() error {
	return s.Stop()
}
