package routing

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"go-roll/audio"
	"go-roll/song"
)

// State is the coordinator lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "uninitialized"
	}
}

// NoteOutput is the shared-engine surface the coordinator plays through.
// *audio.Engine satisfies it; tests substitute a recorder.
type NoteOutput interface {
	PlayNoteImmediate(pitch, velocity, channel uint8) bool
	StopNoteImmediate(pitch, channel uint8) bool
	SetProgram(channel, program uint8) bool
	SendControl(channel, controller, value uint8) bool
	PlayPreview(pitch, velocity, channel uint8) bool
}

// TrackOutput is the per-track dedicated instance surface.
// *audio.TrackInstances satisfies it.
type TrackOutput interface {
	InitializeTrack(trackIndex int) bool
	PlayNote(trackIndex int, channel, pitch, velocity uint8) bool
	StopNote(trackIndex int, channel, pitch uint8) bool
	SendControlChange(trackIndex int, controller, value uint8) bool
	InvalidateTrack(trackIndex int)
	StopAllNotes() int
}

// SourceProvider resolves track assignments. *audio.SourceManager
// satisfies it.
type SourceProvider interface {
	TrackSource(trackIndex int) *audio.Source
	TrackProgram(trackIndex int) int
}

// Route is the resolved routing decision for one track.
type Route struct {
	TrackIndex int
	Source     *audio.Source
	Channel    uint8
	Program    int  // song.ProgramNone means the track is silent
	Dedicated  bool // true when notes go through the per-track instance
	Active     bool
	LastUsed   time.Time

	// sounding tracks pitches started on a dedicated route, so teardown
	// can release them. Shared-engine routes track in ChannelState.
	sounding map[uint8]struct{}
}

// Coordinator owns the track-to-channel map and dispatches every note to
// the right destination. One mutex serializes route decisions with the
// sends they imply, so a note never plays on a channel that was
// reassigned between the decision and the send.
type Coordinator struct {
	log     *zap.Logger
	engine  NoteOutput
	tracks  TrackOutput
	sources SourceProvider

	mu     sync.Mutex
	state  State
	alloc  *Allocator
	routes map[int]*Route
}

// NewCoordinator wires the coordinator. Initialize must run before notes
// dispatch.
func NewCoordinator(log *zap.Logger, engine NoteOutput, tracks TrackOutput, sources SourceProvider) *Coordinator {
	return &Coordinator{
		log:     log,
		engine:  engine,
		tracks:  tracks,
		sources: sources,
		alloc:   NewAllocator(),
		routes:  make(map[int]*Route),
	}
}

// State returns the coordinator lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Initialize moves the coordinator to ready. Callable again after an
// error; a retry starts from a clean channel map.
func (c *Coordinator) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateReady:
		return nil
	case StateInitializing:
		return fmt.Errorf("routing: initialization already in progress")
	}

	c.state = StateInitializing
	if c.engine == nil || c.sources == nil {
		c.state = StateError
		return fmt.Errorf("routing: coordinator missing engine or source provider")
	}
	c.alloc = NewAllocator()
	c.routes = make(map[int]*Route)
	c.state = StateReady
	c.log.Info("routing coordinator ready")
	return nil
}

// SetupTrackRoute resolves and caches the route for a track. Safe to call
// for a track that already has one; the existing route is replaced.
func (c *Coordinator) SetupTrackRoute(trackIndex int) (*Route, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setupRouteLocked(trackIndex)
}

func (c *Coordinator) setupRouteLocked(trackIndex int) (*Route, error) {
	if c.state != StateReady {
		return nil, fmt.Errorf("routing: coordinator not ready (state %s)", c.state)
	}

	src := c.sources.TrackSource(trackIndex)
	program := c.sources.TrackProgram(trackIndex)

	route := &Route{
		TrackIndex: trackIndex,
		Source:     src,
		Program:    program,
		LastUsed:   time.Now(),
		sounding:   make(map[uint8]struct{}),
	}

	switch {
	case src == nil || src.Type == audio.SourceNone || program == song.ProgramNone:
		// Silent track: keep the route so lookups are cheap, but never
		// touch a backend for it.
		c.alloc.Release(trackIndex)

	case src.Type == audio.SourceExternalMIDI:
		// External destinations use the channel the source is configured
		// with; channel arithmetic belongs to the receiving device.
		route.Channel = src.Channel
		route.Dedicated = true
		route.Active = true

	case src.Type == audio.SourceSoundfont:
		route.Channel = src.Channel
		route.Dedicated = true
		route.Active = true

	default: // internal synthesizer on the shared engine
		st, err := c.alloc.Allocate(trackIndex)
		if err != nil {
			// Exhaustion drops this track's notes only; the coordinator
			// stays ready for every other track, and a later attempt
			// succeeds once a channel frees.
			return nil, err
		}
		route.Channel = uint8(st.Channel)
		route.Active = true
	}

	c.routes[trackIndex] = route
	return route, nil
}

func (c *Coordinator) routeLocked(trackIndex int) *Route {
	if r, ok := c.routes[trackIndex]; ok {
		return r
	}
	r, err := c.setupRouteLocked(trackIndex)
	if err != nil {
		c.log.Warn("route setup failed", zap.Int("track", trackIndex), zap.Error(err))
		return nil
	}
	return r
}

// PlayNote dispatches a note-on for a track. Returns false without
// touching any backend when the track is silent.
func (c *Coordinator) PlayNote(trackIndex int, pitch, velocity uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	route := c.routeLocked(trackIndex)
	if route == nil || !route.Active {
		return false
	}
	route.LastUsed = time.Now()

	if route.Dedicated {
		ok := c.tracks != nil && c.tracks.PlayNote(trackIndex, route.Channel, pitch, velocity)
		if ok {
			route.sounding[pitch] = struct{}{}
		}
		return ok
	}

	st := c.alloc.State(int(route.Channel))
	if st != nil && route.Program >= 0 && st.CurrentProgram != route.Program {
		if c.engine.SetProgram(route.Channel, uint8(route.Program)) {
			st.CurrentProgram = route.Program
		}
	}
	ok := c.engine.PlayNoteImmediate(pitch, velocity, route.Channel)
	if ok && st != nil {
		st.ActiveNotes[pitch] = struct{}{}
	}
	return ok
}

// StopNote dispatches a note-off for a track. Tracking state is cleared
// even when the backend send fails; a note the backend lost must not stay
// marked active forever.
func (c *Coordinator) StopNote(trackIndex int, pitch uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	route, ok := c.routes[trackIndex]
	if !ok || !route.Active {
		return false
	}
	route.LastUsed = time.Now()

	if route.Dedicated {
		delete(route.sounding, pitch)
		return c.tracks != nil && c.tracks.StopNote(trackIndex, route.Channel, pitch)
	}

	if st := c.alloc.State(int(route.Channel)); st != nil {
		delete(st.ActiveNotes, pitch)
	}
	return c.engine.StopNoteImmediate(pitch, route.Channel)
}

// PlayPreview plays a self-terminating preview note through the track's
// route.
func (c *Coordinator) PlayPreview(trackIndex int, pitch, velocity uint8) bool {
	c.mu.Lock()
	route := c.routeLocked(trackIndex)
	if route == nil || !route.Active {
		c.mu.Unlock()
		return false
	}
	route.LastUsed = time.Now()
	dedicated := route.Dedicated
	channel := route.Channel
	c.mu.Unlock()

	if dedicated {
		// Dedicated instances have no sweeper; the UI sends the matching
		// stop on mouse release.
		return c.tracks != nil && c.tracks.PlayNote(trackIndex, channel, pitch, velocity)
	}
	return c.engine.PlayPreview(pitch, velocity, channel)
}

// SendControlChange sends a controller message through the track's route.
func (c *Coordinator) SendControlChange(trackIndex int, controller, value uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	route := c.routeLocked(trackIndex)
	if route == nil || !route.Active {
		return false
	}
	if route.Dedicated {
		return c.tracks != nil && c.tracks.SendControlChange(trackIndex, controller, value)
	}
	return c.engine.SendControl(route.Channel, controller, value)
}

// Route returns the cached route for a track, or nil.
func (c *Coordinator) Route(trackIndex int) *Route {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.routes[trackIndex]; ok {
		cp := *r
		return &cp
	}
	return nil
}

// InvalidateTrackRoute drops a track's route, silences anything still
// sounding on its channel, and tears down its dedicated instance. The
// next note re-resolves from the source manager.
func (c *Coordinator) InvalidateTrackRoute(trackIndex int) {
	c.mu.Lock()
	route, had := c.routes[trackIndex]
	delete(c.routes, trackIndex)
	var st *ChannelState
	var pitches []uint8
	if had && !route.Dedicated {
		st = c.alloc.Release(trackIndex)
	}
	if had && route.Dedicated {
		for pitch := range route.sounding {
			pitches = append(pitches, pitch)
		}
		route.sounding = make(map[uint8]struct{})
	}
	c.mu.Unlock()

	if st != nil {
		for pitch := range st.ActiveNotes {
			c.engine.StopNoteImmediate(pitch, uint8(st.Channel))
		}
		st.ActiveNotes = make(map[uint8]struct{})
	}
	if had && route.Dedicated && c.tracks != nil {
		// Release before teardown; the note-off must reach the old
		// instance, not the route that replaces it.
		for _, pitch := range pitches {
			c.tracks.StopNote(trackIndex, route.Channel, pitch)
		}
		c.tracks.InvalidateTrack(trackIndex)
	}
}

// RefreshTrackRoute re-resolves a track's route after its assignment
// changed.
func (c *Coordinator) RefreshTrackRoute(trackIndex int) (*Route, error) {
	c.InvalidateTrackRoute(trackIndex)
	return c.SetupTrackRoute(trackIndex)
}

// ReleaseAll silences every tracked note, frees every channel, and drops
// every route. Used on stop and on shutdown.
func (c *Coordinator) ReleaseAll() {
	type dedicatedStop struct {
		track   int
		channel uint8
		pitch   uint8
	}

	c.mu.Lock()
	owned := c.alloc.ReleaseAll()
	var stops []dedicatedStop
	for ti, route := range c.routes {
		if !route.Dedicated {
			continue
		}
		for pitch := range route.sounding {
			stops = append(stops, dedicatedStop{track: ti, channel: route.Channel, pitch: pitch})
		}
	}
	c.routes = make(map[int]*Route)
	c.mu.Unlock()

	for _, st := range owned {
		for pitch := range st.ActiveNotes {
			c.engine.StopNoteImmediate(pitch, uint8(st.Channel))
		}
		st.ActiveNotes = make(map[uint8]struct{})
		c.engine.SendControl(uint8(st.Channel), 123, 0)
	}
	if c.tracks != nil {
		for _, d := range stops {
			c.tracks.StopNote(d.track, d.channel, d.pitch)
		}
		c.tracks.StopAllNotes()
	}
}
