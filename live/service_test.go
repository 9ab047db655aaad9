package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.mozhi.app/mozhi/audiocapture"
	"go.mozhi.app/mozhi/history"
	"go.mozhi.app/mozhi/internal/types"
	"go.mozhi.app/mozhi/pcm"
)

// fakeConn is an in-memory session transport.
type fakeConn struct {
	mu      sync.Mutex
	sent    []any
	sendErr error
	msgs    chan ServerMessage
	readErr error
	closed  int
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan ServerMessage, 16)}
}

func (c *fakeConn) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) Messages() <-chan ServerMessage { return c.msgs }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	if c.closed == 1 {
		close(c.msgs)
	}
	return nil
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// fakeSessionDevice is a no-op microphone for service tests.
type fakeSessionDevice struct {
	mu      sync.Mutex
	deliver func([]float32)
}

func (d *fakeSessionDevice) Start(sampleRate int, deliver func([]float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliver = deliver
	return nil
}

func (d *fakeSessionDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliver = nil
	return nil
}

// recorder captures hook invocations.
type recorder struct {
	mu      sync.Mutex
	inputs  []string
	outputs []string
	commits []types.HistoryRecord
	errs    []error
	states  []State
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnInput: func(s string) {
			r.mu.Lock()
			r.inputs = append(r.inputs, s)
			r.mu.Unlock()
		},
		OnOutput: func(s string) {
			r.mu.Lock()
			r.outputs = append(r.outputs, s)
			r.mu.Unlock()
		},
		OnCommit: func(rec types.HistoryRecord) {
			r.mu.Lock()
			r.commits = append(r.commits, rec)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnState: func(st State) {
			r.mu.Lock()
			r.states = append(r.states, st)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) commitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commits)
}

func (r *recorder) lastInput() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.inputs) == 0 {
		return ""
	}
	return r.inputs[len(r.inputs)-1]
}

type testSession struct {
	svc  *Service
	conn *fakeConn
	rec  *recorder
	log  *history.Log
}

func newTestSession(t *testing.T) *testSession {
	t.Helper()

	conn := newFakeConn()
	rec := &recorder{}
	log := history.NewLog()

	cfg := Config{
		APIKey:            "test-key",
		Model:             "test-model",
		SystemInstruction: DefaultSystemInstruction("Malayalam"),
		Capture: audiocapture.Config{
			SampleRate: 16000,
			BlockSize:  8,
			Device:     &fakeSessionDevice{},
		},
		Dial: func(ctx context.Context, cfg SessionConfig) (Conn, error) {
			return conn, nil
		},
		History: log,
		Hooks:   rec.hooks(),
	}

	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	return &testSession{svc: svc, conn: conn, rec: rec, log: log}
}

// start starts the service and drives it to StateOpen.
func (ts *testSession) start(t *testing.T) {
	t.Helper()
	if err := ts.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ts.push(t, ServerMessage{SetupComplete: &SetupComplete{}})
	waitFor(t, func() bool { return ts.svc.State() == StateOpen })
}

func (ts *testSession) push(t *testing.T, msg ServerMessage) {
	t.Helper()
	select {
	case ts.conn.msgs <- msg:
	case <-time.After(time.Second):
		t.Fatal("timeout pushing server message")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestTurnCompleteCommit(t *testing.T) {
	ts := newTestSession(t)
	ts.start(t)

	ts.push(t, ServerMessage{ServerContent: &ServerContent{
		InputTranscription: &Transcription{Text: "hel"},
	}})
	ts.push(t, ServerMessage{ServerContent: &ServerContent{
		InputTranscription: &Transcription{Text: "lo"},
	}})
	ts.push(t, ServerMessage{ServerContent: &ServerContent{TurnComplete: true}})

	waitFor(t, func() bool { return ts.rec.commitCount() == 1 })

	recs := ts.log.Records()
	if len(recs) != 1 {
		t.Fatalf("history has %d records, want 1", len(recs))
	}
	if recs[0].User != "hello" || recs[0].Translation != "" {
		t.Errorf("record = {%q, %q}, want {\"hello\", \"\"}", recs[0].User, recs[0].Translation)
	}
	if recs[0].ID == "" {
		t.Error("record ID is empty")
	}

	// Mirrors reset after the commit.
	waitFor(t, func() bool { return ts.rec.lastInput() == "" })
}

func TestTurnCompleteBlankNoCommit(t *testing.T) {
	ts := newTestSession(t)
	ts.start(t)

	ts.push(t, ServerMessage{ServerContent: &ServerContent{
		InputTranscription: &Transcription{Text: "   "},
	}})
	waitFor(t, func() bool { return ts.rec.lastInput() == "   " })

	ts.push(t, ServerMessage{ServerContent: &ServerContent{TurnComplete: true}})

	// Mirrors still reset even though nothing was committed.
	waitFor(t, func() bool { return ts.rec.lastInput() == "" })

	if ts.log.Len() != 0 {
		t.Errorf("history has %d records, want 0", ts.log.Len())
	}
	if ts.rec.commitCount() != 0 {
		t.Errorf("OnCommit fired %d times, want 0", ts.rec.commitCount())
	}
}

func TestCaptionsMirrorAccumulators(t *testing.T) {
	ts := newTestSession(t)
	ts.start(t)

	ts.push(t, ServerMessage{ServerContent: &ServerContent{
		InputTranscription:  &Transcription{Text: "good "},
		OutputTranscription: &Transcription{Text: "നല്ല "},
	}})
	ts.push(t, ServerMessage{ServerContent: &ServerContent{
		InputTranscription:  &Transcription{Text: "morning"},
		OutputTranscription: &Transcription{Text: "പ്രഭാതം"},
	}})

	waitFor(t, func() bool { return ts.rec.lastInput() == "good morning" })

	ts.rec.mu.Lock()
	defer ts.rec.mu.Unlock()
	if got := ts.rec.outputs[len(ts.rec.outputs)-1]; got != "നല്ല പ്രഭാതം" {
		t.Errorf("last output mirror = %q, want %q", got, "നല്ല പ്രഭാതം")
	}
}

func TestManualStopSalvage(t *testing.T) {
	ts := newTestSession(t)
	ts.start(t)

	ts.push(t, ServerMessage{ServerContent: &ServerContent{
		InputTranscription: &Transcription{Text: "partial text"},
	}})
	waitFor(t, func() bool { return ts.rec.lastInput() == "partial text" })

	if err := ts.svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	recs := ts.log.Records()
	if len(recs) != 1 {
		t.Fatalf("history has %d records, want exactly 1", len(recs))
	}
	if recs[0].User != "partial text" || recs[0].Translation != "" {
		t.Errorf("record = {%q, %q}, want {\"partial text\", \"\"}", recs[0].User, recs[0].Translation)
	}
}

func TestStopIdempotent(t *testing.T) {
	ts := newTestSession(t)

	// Stop with no prior start.
	if err := ts.svc.Stop(); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}

	ts.start(t)
	if err := ts.svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := ts.svc.Stop(); err != nil {
		t.Fatalf("double Stop: %v", err)
	}

	ts.svc.mu.Lock()
	defer ts.svc.mu.Unlock()
	if ts.svc.conn != nil || ts.svc.cancel != nil {
		t.Error("resource handles not reset to nil after Stop")
	}
	if ts.svc.state != StateClosed {
		t.Errorf("state = %v, want closed", ts.svc.state)
	}
}

func TestSendAfterStopIsNoop(t *testing.T) {
	ts := newTestSession(t)
	ts.start(t)

	ts.svc.mu.Lock()
	gen := ts.svc.gen
	ts.svc.mu.Unlock()

	if err := ts.svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	sentBefore := ts.conn.sentCount()

	// A frame send resolving after stop must neither transmit nor panic.
	ts.svc.sendFrame(gen, pcmFrameForTest())

	if ts.conn.sentCount() != sentBefore {
		t.Error("frame transmitted after stop")
	}
	if ts.log.Len() != 0 {
		t.Errorf("history mutated after stop: %d records", ts.log.Len())
	}
}

func TestFramesDroppedWhileConnecting(t *testing.T) {
	ts := newTestSession(t)
	if err := ts.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Setup has been sent, but setupComplete has not arrived.
	sentBefore := ts.conn.sentCount()

	ts.svc.mu.Lock()
	gen := ts.svc.gen
	ts.svc.mu.Unlock()
	ts.svc.sendFrame(gen, pcmFrameForTest())

	if ts.conn.sentCount() != sentBefore {
		t.Error("frame transmitted before session open")
	}
}

func TestSendErrorTriggersTeardownAndSalvage(t *testing.T) {
	ts := newTestSession(t)
	ts.start(t)

	ts.push(t, ServerMessage{ServerContent: &ServerContent{
		InputTranscription: &Transcription{Text: "cut off"},
	}})
	waitFor(t, func() bool { return ts.rec.lastInput() == "cut off" })

	ts.conn.mu.Lock()
	ts.conn.sendErr = errors.New("broken pipe")
	ts.conn.mu.Unlock()

	ts.svc.mu.Lock()
	gen := ts.svc.gen
	ts.svc.mu.Unlock()
	ts.svc.sendFrame(gen, pcmFrameForTest())

	waitFor(t, func() bool { return ts.svc.State() == StateClosed })

	ts.rec.mu.Lock()
	errCount := len(ts.rec.errs)
	ts.rec.mu.Unlock()
	if errCount != 1 {
		t.Fatalf("OnError fired %d times, want 1", errCount)
	}

	// The interrupted turn is salvaged.
	recs := ts.log.Records()
	if len(recs) != 1 || recs[0].User != "cut off" {
		t.Fatalf("salvage records = %+v, want one {user: \"cut off\"}", recs)
	}
}

func TestReadErrorTriggersTeardown(t *testing.T) {
	ts := newTestSession(t)
	ts.start(t)

	ts.conn.mu.Lock()
	ts.conn.readErr = errors.New("connection reset")
	close(ts.conn.msgs)
	ts.conn.closed++ // fakeConn.Close must not close the channel again
	ts.conn.mu.Unlock()

	waitFor(t, func() bool { return ts.svc.State() == StateClosed })

	ts.rec.mu.Lock()
	defer ts.rec.mu.Unlock()
	if len(ts.rec.errs) != 1 {
		t.Fatalf("OnError fired %d times, want 1", len(ts.rec.errs))
	}
}

func TestStartSupersedesPreviousEpisode(t *testing.T) {
	ts := newTestSession(t)
	ts.start(t)

	ts.push(t, ServerMessage{ServerContent: &ServerContent{
		InputTranscription: &Transcription{Text: "first episode"},
	}})
	waitFor(t, func() bool { return ts.rec.lastInput() == "first episode" })

	// Second start retires the first episode, salvaging its transcript.
	if err := ts.svc.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	recs := ts.log.Records()
	if len(recs) != 1 || recs[0].User != "first episode" {
		t.Fatalf("records after supersede = %+v, want one {user: \"first episode\"}", recs)
	}
	if ts.svc.State() != StateConnecting {
		t.Errorf("state = %v, want connecting", ts.svc.State())
	}
}

func TestStopDuringCaptureAcquisitionReleasesDevice(t *testing.T) {
	ts := newTestSession(t)
	ts.start(t)

	ts.svc.mu.Lock()
	gen := ts.svc.gen
	ts.svc.mu.Unlock()

	// Episode retired while microphone acquisition was still in flight: the
	// stop path has already run its capture teardown.
	if err := ts.svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if ts.svc.audio.IsRunning() {
		t.Fatal("capture still running after Stop")
	}

	// The acquisition resolves late and brings the device up again.
	if err := ts.svc.audio.Start(func([]float32) {}); err != nil {
		t.Fatalf("audio.Start: %v", err)
	}
	if ts.svc.reconcileCapture(gen) {
		t.Error("reconcileCapture() = true for a retired episode")
	}
	if ts.svc.audio.IsRunning() {
		t.Error("capture left running by a retired episode")
	}
}

func TestReconcileCaptureKeepsLiveEpisode(t *testing.T) {
	ts := newTestSession(t)
	ts.start(t)

	ts.svc.mu.Lock()
	gen := ts.svc.gen
	ts.svc.mu.Unlock()

	if !ts.svc.reconcileCapture(gen) {
		t.Error("reconcileCapture() = false for the live episode")
	}
	if !ts.svc.audio.IsRunning() {
		t.Error("capture stopped for the live episode")
	}
}

func TestStaleCaptionDoesNotOverwriteReset(t *testing.T) {
	ts := newTestSession(t)
	ts.start(t)

	ts.push(t, ServerMessage{ServerContent: &ServerContent{
		InputTranscription: &Transcription{Text: "lingering"},
	}})
	waitFor(t, func() bool { return ts.rec.lastInput() == "lingering" })

	ts.svc.mu.Lock()
	gen := ts.svc.gen
	ts.svc.mu.Unlock()

	if err := ts.svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := ts.rec.lastInput(); got != "" {
		t.Fatalf("caption after stop = %q, want empty", got)
	}

	// Caption continuations from the retired episode resolve late; the
	// stop path's empty mirrors must remain the last word.
	ts.svc.mirrorInput(gen, "lingering")
	ts.svc.mirrorOutput(gen, "stale translation")

	ts.rec.mu.Lock()
	defer ts.rec.mu.Unlock()
	if got := ts.rec.inputs[len(ts.rec.inputs)-1]; got != "" {
		t.Errorf("stale input caption landed after stop: %q", got)
	}
	if got := ts.rec.outputs[len(ts.rec.outputs)-1]; got != "" {
		t.Errorf("stale output caption landed after stop: %q", got)
	}
}

func TestDialFailureReturnsToClosed(t *testing.T) {
	rec := &recorder{}
	cfg := Config{
		APIKey: "k",
		Model:  "m",
		Capture: audiocapture.Config{
			SampleRate: 16000,
			BlockSize:  8,
			Device:     &fakeSessionDevice{},
		},
		Dial: func(ctx context.Context, cfg SessionConfig) (Conn, error) {
			return nil, errors.New("no route to host")
		},
		Hooks: rec.hooks(),
	}
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("Start should fail when dial fails")
	}
	if svc.State() != StateClosed {
		t.Errorf("state = %v, want closed", svc.State())
	}
	// Retryable: a later Start is not blocked by the failure.
	if svc.IsRunning() {
		t.Error("service still running after dial failure")
	}
}

func pcmFrameForTest() pcm.Frame {
	return pcm.Encode(make([]float32, 8))
}
