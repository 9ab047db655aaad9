// Package audiocapture provides microphone capture with fixed-size block
// delivery. The platform device may hand over buffers of any size; the
// pipeline reframes them into blocks of exactly BlockSize samples before
// invoking the handler.
package audiocapture

import (
	"errors"
	"fmt"
	"sync"
)

// ErrRunning is returned when trying to start capture while already running.
var ErrRunning = errors.New("audiocapture: already capturing")

// ErrUnsupported is returned on platforms without a microphone backend.
var ErrUnsupported = errors.New("audiocapture: unsupported platform")

// ErrPermissionDenied is returned when microphone access is not authorized.
var ErrPermissionDenied = errors.New("audiocapture: microphone access denied")

// ErrNoDevice is returned when no audio input device is available.
var ErrNoDevice = errors.New("audiocapture: no input device")

// Handler receives one block of mono float32 samples in [-1, 1].
type Handler func(samples []float32)

// Device is a platform audio input. Start delivers raw device buffers until
// Stop is called; both are invoked from at most one goroutine at a time.
type Device interface {
	Start(sampleRate int, deliver func(samples []float32)) error
	Stop() error
}

// Config holds configuration for audio capture.
type Config struct {
	SampleRate int    // default 16000 Hz
	BlockSize  int    // samples per delivered block, default 4096
	Device     Device // override for tests; platform default when nil
}

// DefaultConfig returns the default capture configuration.
func DefaultConfig() Config {
	return Config{SampleRate: 16000, BlockSize: 4096}
}

// Capture owns the microphone device and the reframing pipeline.
type Capture struct {
	mu      sync.Mutex
	cfg     Config
	device  Device
	chunker *chunker
	handler Handler
	running bool
}

// New creates a capture pipeline. Device acquisition itself is deferred to
// Start, so New never prompts for microphone permission.
func New(cfg Config) (*Capture, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = 4096
	}

	dev := cfg.Device
	if dev == nil {
		d, err := newDevice()
		if err != nil {
			return nil, err
		}
		dev = d
	}

	return &Capture{cfg: cfg, device: dev}, nil
}

// Start acquires the microphone and begins delivering blocks to handler.
// Acquisition failure (permission denied, no device) leaves the pipeline
// stopped and is safe to retry.
func (c *Capture) Start(handler Handler) error {
	if handler == nil {
		return errors.New("audiocapture: nil handler")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrRunning
	}

	c.chunker = newChunker(c.cfg.BlockSize)
	c.handler = handler

	if err := c.device.Start(c.cfg.SampleRate, c.deliver); err != nil {
		c.chunker = nil
		c.handler = nil
		return fmt.Errorf("acquire microphone: %w", err)
	}

	c.running = true
	return nil
}

// Stop releases the device. It is idempotent: stopping an already-stopped
// (or never-started) pipeline is a no-op, and each release step is guarded
// so partial prior teardown is tolerated.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false

	var err error
	if c.device != nil {
		err = c.device.Stop()
	}
	c.chunker = nil
	c.handler = nil
	return err
}

// IsRunning reports whether the pipeline is capturing.
func (c *Capture) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SampleRate returns the configured sample rate.
func (c *Capture) SampleRate() int {
	return c.cfg.SampleRate
}

// deliver is the device callback. Blocks that complete inside the chunker
// are handed to the handler; a trailing partial block is held for the next
// device buffer.
func (c *Capture) deliver(samples []float32) {
	c.mu.Lock()
	if !c.running || c.chunker == nil {
		c.mu.Unlock()
		return
	}
	blocks := c.chunker.push(samples)
	handler := c.handler
	c.mu.Unlock()

	for _, block := range blocks {
		handler(block)
	}
}
