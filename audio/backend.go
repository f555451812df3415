// Package audio provides the note-producing backends and the engine that
// selects between them: the internal software synthesizer, an optional
// native platform engine, and a raw MIDI output port as the silent but
// functional last resort.
package audio

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoBackend is returned when no backend in the preference chain starts.
var ErrNoBackend = errors.New("audio: no usable backend")

// Backend is the capability set shared by every note-producing endpoint.
// The per-note methods are non-blocking soft-failure calls: a false return
// is reported by the caller, never propagated. Blocking I/O (opening a
// device, starting a driver) is confined to Initialize.
type Backend interface {
	Initialize() error
	PlayNote(channel, pitch, velocity uint8) bool
	StopNote(channel, pitch uint8) bool
	SetProgram(channel, program uint8) bool
	SendControl(channel, controller, value uint8) bool
	Cleanup()
}

// How long a preview note sounds before the sweeper stops it, and how often
// the sweeper runs.
const (
	previewDuration = 500 * time.Millisecond
	sweepInterval   = 50 * time.Millisecond
)

type previewKey struct {
	channel uint8
	pitch   uint8
}

// Engine is the top-level audio runtime. It owns the backend preference
// chain, activates the first backend that initializes, and exposes the
// immediate play/stop surface that the routing layer calls. Constructed
// once and passed by reference; there is no global instance.
type Engine struct {
	log      *zap.Logger
	backends []Backend

	mu       sync.Mutex
	active   Backend
	preview  map[previewKey]time.Time
	stopChan chan struct{}
	running  bool
}

// NewEngine creates an engine over the given preference-ordered backends.
func NewEngine(log *zap.Logger, backends ...Backend) *Engine {
	return &Engine{
		log:      log,
		backends: backends,
		preview:  make(map[previewKey]time.Time),
		stopChan: make(chan struct{}),
	}
}

// Initialize walks the preference chain and activates the first backend
// that starts. Later backends are left untouched. Returns ErrNoBackend if
// nothing in the chain is usable; the caller still gets a valid engine
// whose note calls all report failure, so playback degrades to silent.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var lastErr error
	for _, b := range e.backends {
		if err := b.Initialize(); err != nil {
			e.log.Warn("backend failed to initialize, falling through", zap.Error(err))
			lastErr = err
			continue
		}
		e.active = b
		break
	}
	if e.active == nil {
		if lastErr != nil {
			return lastErr
		}
		return ErrNoBackend
	}

	if !e.running {
		e.running = true
		go e.sweepLoop()
	}
	return nil
}

// Active returns the currently active backend (nil before Initialize or
// when nothing started).
func (e *Engine) Active() Backend {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// PlayNoteImmediate plays a note right now, outside the timeline.
func (e *Engine) PlayNoteImmediate(pitch, velocity, channel uint8) bool {
	e.mu.Lock()
	b := e.active
	e.mu.Unlock()
	if b == nil {
		return false
	}
	return b.PlayNote(channel, pitch, velocity)
}

// StopNoteImmediate stops a note right now.
func (e *Engine) StopNoteImmediate(pitch, channel uint8) bool {
	e.mu.Lock()
	b := e.active
	delete(e.preview, previewKey{channel: channel, pitch: pitch})
	e.mu.Unlock()
	if b == nil {
		return false
	}
	return b.StopNote(channel, pitch)
}

// SetProgram sets the instrument for a channel on the active backend.
func (e *Engine) SetProgram(channel, program uint8) bool {
	e.mu.Lock()
	b := e.active
	e.mu.Unlock()
	if b == nil {
		return false
	}
	return b.SetProgram(channel, program)
}

// SendControl sends a control change on the active backend.
func (e *Engine) SendControl(channel, controller, value uint8) bool {
	e.mu.Lock()
	b := e.active
	e.mu.Unlock()
	if b == nil {
		return false
	}
	return b.SendControl(channel, controller, value)
}

// PlayPreview plays a note that the sweeper stops automatically, for
// click-to-preview interactions that have no matching release event.
func (e *Engine) PlayPreview(pitch, velocity, channel uint8) bool {
	if !e.PlayNoteImmediate(pitch, velocity, channel) {
		return false
	}
	e.mu.Lock()
	e.preview[previewKey{channel: channel, pitch: pitch}] = time.Now().Add(previewDuration)
	e.mu.Unlock()
	return true
}

// sweepLoop stops preview notes whose time is up.
func (e *Engine) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			now := time.Now()
			e.mu.Lock()
			var due []previewKey
			for k, deadline := range e.preview {
				if now.After(deadline) {
					due = append(due, k)
				}
			}
			for _, k := range due {
				delete(e.preview, k)
			}
			b := e.active
			e.mu.Unlock()

			if b == nil {
				continue
			}
			for _, k := range due {
				b.StopNote(k.channel, k.pitch)
			}
		}
	}
}

// Cleanup stops the sweeper and tears down every backend that was tried.
func (e *Engine) Cleanup() {
	e.mu.Lock()
	if e.running {
		close(e.stopChan)
		e.running = false
	}
	active := e.active
	e.active = nil
	e.mu.Unlock()

	if active != nil {
		active.Cleanup()
	}
}
