package audio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeBackend struct {
	initErr error

	mu       sync.Mutex
	plays    int
	stops    int
	controls int
	cleanups int
}

func (f *fakeBackend) Initialize() error { return f.initErr }

func (f *fakeBackend) PlayNote(channel, pitch, velocity uint8) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays++
	return true
}

func (f *fakeBackend) StopNote(channel, pitch uint8) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return true
}

func (f *fakeBackend) SetProgram(channel, program uint8) bool { return true }

func (f *fakeBackend) SendControl(channel, controller, value uint8) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls++
	return true
}

func (f *fakeBackend) Cleanup() {
	f.mu.Lock()
	f.cleanups++
	f.mu.Unlock()
}

func (f *fakeBackend) counts() (plays, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays, f.stops
}

func (f *fakeBackend) controlCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.controls
}

func (f *fakeBackend) cleanupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleanups
}

func TestInitializeFallsThroughChain(t *testing.T) {
	broken := &fakeBackend{initErr: errors.New("no device")}
	working := &fakeBackend{}
	e := NewEngine(zap.NewNop(), broken, working)
	defer e.Cleanup()

	if err := e.Initialize(); err != nil {
		t.Fatal(err)
	}
	if e.Active() != working {
		t.Error("engine did not fall through to the working backend")
	}
}

func TestInitializeAllFailing(t *testing.T) {
	e := NewEngine(zap.NewNop(), &fakeBackend{initErr: errors.New("nope")})
	defer e.Cleanup()

	if err := e.Initialize(); err == nil {
		t.Fatal("expected error with every backend failing")
	}
	if e.Active() != nil {
		t.Error("Active() non-nil after total failure")
	}
	// Degraded engine: calls report failure instead of panicking.
	if e.PlayNoteImmediate(60, 100, 0) {
		t.Error("PlayNoteImmediate succeeded with no backend")
	}
}

func TestEmptyChain(t *testing.T) {
	e := NewEngine(zap.NewNop())
	defer e.Cleanup()
	if err := e.Initialize(); !errors.Is(err, ErrNoBackend) {
		t.Errorf("err = %v, want ErrNoBackend", err)
	}
}

func TestImmediateDispatch(t *testing.T) {
	b := &fakeBackend{}
	e := NewEngine(zap.NewNop(), b)
	defer e.Cleanup()
	if err := e.Initialize(); err != nil {
		t.Fatal(err)
	}

	if !e.PlayNoteImmediate(60, 100, 0) {
		t.Error("PlayNoteImmediate failed")
	}
	if !e.StopNoteImmediate(60, 0) {
		t.Error("StopNoteImmediate failed")
	}
	plays, stops := b.counts()
	if plays != 1 || stops != 1 {
		t.Errorf("plays/stops = %d/%d, want 1/1", plays, stops)
	}
}

func TestPreviewSweptAutomatically(t *testing.T) {
	b := &fakeBackend{}
	e := NewEngine(zap.NewNop(), b)
	defer e.Cleanup()
	if err := e.Initialize(); err != nil {
		t.Fatal(err)
	}

	if !e.PlayPreview(72, 100, 0) {
		t.Fatal("PlayPreview failed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, stops := b.counts(); stops == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("preview note never swept")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestManualStopCancelsSweep(t *testing.T) {
	b := &fakeBackend{}
	e := NewEngine(zap.NewNop(), b)
	defer e.Cleanup()
	if err := e.Initialize(); err != nil {
		t.Fatal(err)
	}

	e.PlayPreview(72, 100, 0)
	e.StopNoteImmediate(72, 0)

	time.Sleep(700 * time.Millisecond)
	if _, stops := b.counts(); stops != 1 {
		t.Errorf("stops = %d, want 1 (sweeper must not re-stop)", stops)
	}
}
