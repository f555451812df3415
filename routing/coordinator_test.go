package routing

import (
	"testing"

	"go.uber.org/zap"

	"go-roll/audio"
	"go-roll/song"
)

type engineCall struct {
	op      string
	a, b, c uint8
}

type fakeEngine struct {
	fail  bool
	calls []engineCall
}

func (f *fakeEngine) record(op string, a, b, c uint8) bool {
	f.calls = append(f.calls, engineCall{op, a, b, c})
	return !f.fail
}

func (f *fakeEngine) PlayNoteImmediate(pitch, velocity, channel uint8) bool {
	return f.record("play", pitch, velocity, channel)
}
func (f *fakeEngine) StopNoteImmediate(pitch, channel uint8) bool {
	return f.record("stop", pitch, channel, 0)
}
func (f *fakeEngine) SetProgram(channel, program uint8) bool {
	return f.record("program", channel, program, 0)
}
func (f *fakeEngine) SendControl(channel, controller, value uint8) bool {
	return f.record("control", channel, controller, value)
}
func (f *fakeEngine) PlayPreview(pitch, velocity, channel uint8) bool {
	return f.record("preview", pitch, velocity, channel)
}

func (f *fakeEngine) count(op string) int {
	n := 0
	for _, c := range f.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

type fakeTracks struct {
	calls []engineCall
}

func (f *fakeTracks) InitializeTrack(trackIndex int) bool { return true }
func (f *fakeTracks) PlayNote(trackIndex int, channel, pitch, velocity uint8) bool {
	f.calls = append(f.calls, engineCall{"play", channel, pitch, velocity})
	return true
}
func (f *fakeTracks) StopNote(trackIndex int, channel, pitch uint8) bool {
	f.calls = append(f.calls, engineCall{"stop", channel, pitch, 0})
	return true
}
func (f *fakeTracks) SendControlChange(trackIndex int, controller, value uint8) bool {
	f.calls = append(f.calls, engineCall{"control", controller, value, 0})
	return true
}
func (f *fakeTracks) InvalidateTrack(trackIndex int) {
	f.calls = append(f.calls, engineCall{"invalidate", uint8(trackIndex), 0, 0})
}

func (f *fakeTracks) StopAllNotes() int {
	f.calls = append(f.calls, engineCall{"stopall", 0, 0, 0})
	return 0
}

func (f *fakeTracks) count(op string) int {
	n := 0
	for _, c := range f.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

type fakeSources struct {
	sources  map[int]*audio.Source
	programs map[int]int
}

func newFakeSources() *fakeSources {
	return &fakeSources{
		sources:  make(map[int]*audio.Source),
		programs: make(map[int]int),
	}
}

func (f *fakeSources) TrackSource(trackIndex int) *audio.Source {
	if s, ok := f.sources[trackIndex]; ok {
		return s
	}
	return &audio.Source{ID: audio.SourceIDNone, Type: audio.SourceNone, Program: song.ProgramNone}
}

func (f *fakeSources) TrackProgram(trackIndex int) int {
	if p, ok := f.programs[trackIndex]; ok {
		return p
	}
	return song.ProgramNone
}

func (f *fakeSources) assignInternal(trackIndex, program int) {
	f.sources[trackIndex] = &audio.Source{ID: audio.SourceIDInternal, Type: audio.SourceInternalSynth}
	f.programs[trackIndex] = program
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeEngine, *fakeTracks, *fakeSources) {
	t.Helper()
	engine := &fakeEngine{}
	tracks := &fakeTracks{}
	sources := newFakeSources()
	c := NewCoordinator(zap.NewNop(), engine, tracks, sources)
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}
	return c, engine, tracks, sources
}

func TestNotReadyBeforeInitialize(t *testing.T) {
	c := NewCoordinator(zap.NewNop(), &fakeEngine{}, &fakeTracks{}, newFakeSources())
	if c.State() != StateUninitialized {
		t.Errorf("state = %s, want uninitialized", c.State())
	}
	if _, err := c.SetupTrackRoute(0); err == nil {
		t.Error("SetupTrackRoute succeeded before Initialize")
	}
}

func TestSilentTrackNeverTouchesBackend(t *testing.T) {
	c, engine, tracks, _ := newTestCoordinator(t)

	if c.PlayNote(0, 60, 100) {
		t.Error("PlayNote returned true for a silent track")
	}
	if len(engine.calls) != 0 || len(tracks.calls) != 0 {
		t.Errorf("silent track touched a backend: engine %v, tracks %v", engine.calls, tracks.calls)
	}
}

func TestProgramChangeOnlyOnDifference(t *testing.T) {
	c, engine, _, sources := newTestCoordinator(t)
	sources.assignInternal(0, 42)

	c.PlayNote(0, 60, 100)
	c.PlayNote(0, 64, 100)
	if n := engine.count("program"); n != 1 {
		t.Errorf("program changes = %d, want 1", n)
	}
	if n := engine.count("play"); n != 2 {
		t.Errorf("note-ons = %d, want 2", n)
	}

	// New program, next note re-programs the channel once.
	sources.programs[0] = 17
	if _, err := c.RefreshTrackRoute(0); err != nil {
		t.Fatal(err)
	}
	c.PlayNote(0, 62, 100)
	c.PlayNote(0, 65, 100)
	if n := engine.count("program"); n != 2 {
		t.Errorf("program changes after refresh = %d, want 2", n)
	}
}

func TestExternalSourceUsesConfiguredChannel(t *testing.T) {
	c, engine, tracks, sources := newTestCoordinator(t)
	sources.sources[2] = &audio.Source{
		ID:       "midi_out_0",
		Type:     audio.SourceExternalMIDI,
		PortName: "Deluge",
		Channel:  9,
	}
	sources.programs[2] = 0

	if !c.PlayNote(2, 36, 110) {
		t.Fatal("PlayNote failed for external track")
	}
	if len(engine.calls) != 0 {
		t.Errorf("external track went through the shared engine: %v", engine.calls)
	}
	if len(tracks.calls) != 1 || tracks.calls[0] != (engineCall{"play", 9, 36, 110}) {
		t.Errorf("dedicated calls = %v, want one play on channel 9", tracks.calls)
	}
}

func TestStopNoteClearsTrackingOnFailure(t *testing.T) {
	c, engine, _, sources := newTestCoordinator(t)
	sources.assignInternal(0, 5)

	if !c.PlayNote(0, 60, 100) {
		t.Fatal("PlayNote failed")
	}
	engine.fail = true
	if c.StopNote(0, 60) {
		t.Error("StopNote reported success from a failing backend")
	}
	engine.fail = false
	engine.calls = nil

	// The note was untracked despite the failed send, so ReleaseAll must
	// not stop it again.
	c.ReleaseAll()
	if n := engine.count("stop"); n != 0 {
		t.Errorf("ReleaseAll re-stopped an untracked note %d times", n)
	}
	if n := engine.count("control"); n != 1 {
		t.Errorf("all-notes-off sweeps = %d, want 1", n)
	}
}

func TestReleaseAllStopsTrackedNotes(t *testing.T) {
	c, engine, _, sources := newTestCoordinator(t)
	sources.assignInternal(0, 5)
	sources.assignInternal(1, 6)

	c.PlayNote(0, 60, 100)
	c.PlayNote(1, 72, 100)
	engine.calls = nil

	c.ReleaseAll()
	if n := engine.count("stop"); n != 2 {
		t.Errorf("stops = %d, want 2", n)
	}

	// Routes are gone; the next note re-resolves from the source manager.
	if !c.PlayNote(0, 61, 100) {
		t.Error("PlayNote failed after ReleaseAll")
	}
}

func TestReassignmentToSilentStopsDispatch(t *testing.T) {
	c, engine, _, sources := newTestCoordinator(t)
	sources.assignInternal(0, 5)
	c.PlayNote(0, 60, 100)

	delete(sources.sources, 0)
	delete(sources.programs, 0)
	if _, err := c.RefreshTrackRoute(0); err != nil {
		t.Fatal(err)
	}
	engine.calls = nil

	if c.PlayNote(0, 60, 100) {
		t.Error("PlayNote returned true after track went silent")
	}
	if len(engine.calls) != 0 {
		t.Errorf("silent track touched the engine: %v", engine.calls)
	}
}

func TestExhaustionDropsNoteNotCoordinator(t *testing.T) {
	c, engine, _, sources := newTestCoordinator(t)
	for i := 0; i < 17; i++ {
		sources.assignInternal(i, 0)
	}
	for i := 0; i < 16; i++ {
		if _, err := c.SetupTrackRoute(i); err != nil {
			t.Fatalf("route %d: %v", i, err)
		}
	}

	if _, err := c.SetupTrackRoute(16); err == nil {
		t.Fatal("expected channel exhaustion")
	}
	if c.State() != StateReady {
		t.Fatalf("state after exhaustion = %s, want ready", c.State())
	}

	// The unroutable track drops its notes; every other track still plays.
	if c.PlayNote(16, 60, 100) {
		t.Error("PlayNote succeeded for a track with no channel")
	}
	if !c.PlayNote(3, 60, 100) {
		t.Error("routed track stopped playing after an unrelated exhaustion")
	}
	if n := engine.count("play"); n != 1 {
		t.Errorf("note-ons = %d, want 1", n)
	}

	// Once a channel frees, the same allocation succeeds.
	c.InvalidateTrackRoute(0)
	if _, err := c.SetupTrackRoute(16); err != nil {
		t.Errorf("allocation still failing after a channel freed: %v", err)
	}
}

func TestInvalidateStopsSoundingDedicatedNotes(t *testing.T) {
	c, _, tracks, sources := newTestCoordinator(t)
	sources.sources[2] = &audio.Source{
		ID:       "midi_out_0",
		Type:     audio.SourceExternalMIDI,
		PortName: "Deluge",
		Channel:  9,
	}
	sources.programs[2] = 0

	if !c.PlayNote(2, 36, 110) {
		t.Fatal("PlayNote failed")
	}
	c.InvalidateTrackRoute(2)

	want := []engineCall{
		{"play", 9, 36, 110},
		{"stop", 9, 36, 0},
		{"invalidate", 2, 0, 0},
	}
	if len(tracks.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", tracks.calls, want)
	}
	for i, call := range tracks.calls {
		if call != want[i] {
			t.Errorf("call %d = %v, want %v", i, call, want[i])
		}
	}
}

func TestReleaseAllStopsDedicatedNotes(t *testing.T) {
	c, _, tracks, sources := newTestCoordinator(t)
	sources.sources[2] = &audio.Source{
		ID:       "midi_out_0",
		Type:     audio.SourceExternalMIDI,
		PortName: "Deluge",
		Channel:  9,
	}
	sources.programs[2] = 0

	c.PlayNote(2, 36, 110)
	c.PlayNote(2, 38, 110)
	c.StopNote(2, 38)
	tracks.calls = nil

	c.ReleaseAll()
	if n := tracks.count("stop"); n != 1 {
		t.Errorf("dedicated stops = %d, want 1 (only the note still sounding)", n)
	}
	if n := tracks.count("stopall"); n != 1 {
		t.Errorf("all-notes-off sweeps = %d, want 1", n)
	}
}
