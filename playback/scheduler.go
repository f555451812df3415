package playback

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"go-roll/song"
)

// Scheduling constants: the runtime wakes every tickInterval, queues
// events up to lookahead ahead of the playhead, and dispatches a queued
// event once it is within earlyTolerance of due. Early dispatch absorbs
// timer jitter; a note sent a few milliseconds ahead is inaudible, a note
// sent late is not.
const (
	tickInterval   = 10 * time.Millisecond
	lookahead      = 0.100 // seconds
	earlyTolerance = 0.020 // seconds
)

// Tempo bounds accepted by SetTempo; out-of-range values clamp.
const (
	MinBPM = 1.0
	MaxBPM = 300.0
)

// TransportState is the playback transport state.
type TransportState int

const (
	Stopped TransportState = iota
	Playing
	Paused
)

func (s TransportState) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// NoteSink receives dispatched note boundaries. The routing coordinator
// satisfies it; tests substitute a recorder.
type NoteSink interface {
	PlayNote(trackIndex int, pitch, velocity uint8) bool
	StopNote(trackIndex int, pitch uint8) bool
}

// NotificationKind labels scheduler notifications.
type NotificationKind int

const (
	NotifyTransport NotificationKind = iota
	NotifyPosition
	NotifyTempo
	NotifyFinished
)

// Notification is a state broadcast for observers (the UI). Delivery is
// best effort: a slow consumer loses position updates, never note
// dispatch.
type Notification struct {
	Kind  NotificationKind
	State TransportState
	Tick  uint64
	BPM   float64
}

type activeNote struct {
	track int
	pitch uint8
}

// Scheduler plays a project's event stream against the wall clock. All
// mutation happens under one mutex; the runtime goroutine, transport
// calls from the UI, and tempo edits never interleave mid-dispatch.
type Scheduler struct {
	log  *zap.Logger
	sink NoteSink
	now  func() time.Time // injectable for tests

	mu            sync.Mutex
	project       *song.Project
	events        []Event
	cursor        int     // next event not yet queued
	pending       []Event // queued, waiting to come due
	state         TransportState
	origin        time.Time // wall time of position zero, valid while playing
	paused        float64   // position in seconds while not playing
	endSeconds    float64
	active        map[activeNote]struct{}
	notifications chan Notification
	stopChan      chan struct{}
	running       bool
}

// NewScheduler creates a stopped scheduler with no project.
func NewScheduler(log *zap.Logger, sink NoteSink) *Scheduler {
	return &Scheduler{
		log:           log,
		sink:          sink,
		now:           time.Now,
		active:        make(map[activeNote]struct{}),
		notifications: make(chan Notification, 64),
		stopChan:      make(chan struct{}),
	}
}

// Notifications returns the observer channel.
func (s *Scheduler) Notifications() <-chan Notification {
	return s.notifications
}

// Start launches the runtime goroutine. Safe to call once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.step(s.now())
			}
		}
	}()
}

// Shutdown stops the runtime and silences anything still sounding.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.running {
		close(s.stopChan)
		s.running = false
	}
	s.stopActiveLocked()
	s.state = Stopped
	s.mu.Unlock()
}

// SetProject replaces the event stream. With preservePosition the
// playhead stays where it was, resuming from the equivalent tick in the
// new stream; otherwise playback rewinds to the start.
func (s *Scheduler) SetProject(p *song.Project, preservePosition bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopActiveLocked()
	var pos float64
	if preservePosition && s.project != nil {
		pos = s.positionLocked(s.now())
	}

	s.project = p
	s.events = BuildEvents(p)
	s.pending = nil
	s.endSeconds = 0
	if p != nil {
		s.endSeconds = p.TempoMap.TimeAt(p.MaxEndTick(), p.TicksPerBeat)
	}

	if preservePosition && p != nil {
		if pos > s.endSeconds {
			pos = s.endSeconds
		}
		s.setPositionLocked(pos)
	} else {
		s.setPositionLocked(0)
	}
}

// positionLocked is the playhead in seconds from song start.
func (s *Scheduler) positionLocked(now time.Time) float64 {
	if s.state == Playing {
		return now.Sub(s.origin).Seconds()
	}
	return s.paused
}

// setPositionLocked moves the playhead and re-anchors the cursor. Queued
// notes are discarded, not replayed.
func (s *Scheduler) setPositionLocked(pos float64) {
	if pos < 0 {
		pos = 0
	}
	var tick uint64
	if s.project != nil {
		tick = s.project.TempoMap.TickAt(pos, s.project.TicksPerBeat)
	}
	s.pending = nil
	s.cursor = sort.Search(len(s.events), func(i int) bool {
		return s.events[i].Tick >= tick
	})
	if s.state == Playing {
		s.origin = s.now().Add(-secondsToDuration(pos))
	} else {
		s.paused = pos
	}
	s.notify(Notification{Kind: NotifyPosition, State: s.state, Tick: tick})
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

// Play starts or resumes playback from the current position.
func (s *Scheduler) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Playing {
		return
	}
	s.origin = s.now().Add(-secondsToDuration(s.paused))
	s.state = Playing
	s.notify(Notification{Kind: NotifyTransport, State: Playing, Tick: s.currentTickLocked(s.now())})
}

// Pause freezes the playhead and releases sounding notes. Their note-offs
// still arrive on resume and are harmless.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Playing {
		return
	}
	s.paused = s.positionLocked(s.now())
	s.state = Paused
	s.stopActiveLocked()
	s.notify(Notification{Kind: NotifyTransport, State: Paused, Tick: s.currentTickLocked(s.now())})
}

// Stop halts playback and rewinds to the start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Stopped
	s.stopActiveLocked()
	s.setPositionLocked(0)
	s.notify(Notification{Kind: NotifyTransport, State: Stopped})
}

// TogglePlayback flips between playing and paused.
func (s *Scheduler) TogglePlayback() {
	if s.State() == Playing {
		s.Pause()
	} else {
		s.Play()
	}
}

// SeekToTick jumps the playhead. Events skipped over are never replayed;
// sounding notes release first.
func (s *Scheduler) SeekToTick(tick uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopActiveLocked()
	var pos float64
	if s.project != nil {
		pos = s.project.TempoMap.TimeAt(tick, s.project.TicksPerBeat)
	}
	s.setPositionLocked(pos)
}

// SetTempo writes a tempo change at the current tick. Events already
// dispatched keep their timing; everything from the playhead onward is
// restamped, and the playhead itself does not jump.
func (s *Scheduler) SetTempo(bpm float64) {
	if bpm < MinBPM {
		bpm = MinBPM
	} else if bpm > MaxBPM {
		bpm = MaxBPM
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.project == nil {
		return
	}

	now := s.now()
	tick := s.currentTickLocked(now)
	s.project.TempoMap.SetBPMAt(tick, bpm)

	tpb := s.project.TicksPerBeat
	for i := s.cursor; i < len(s.events); i++ {
		s.events[i].Seconds = s.project.TempoMap.TimeAt(s.events[i].Tick, tpb)
	}
	for i := range s.pending {
		s.pending[i].Seconds = s.project.TempoMap.TimeAt(s.pending[i].Tick, tpb)
	}
	s.endSeconds = s.project.TempoMap.TimeAt(s.project.MaxEndTick(), tpb)

	// Re-anchor so the position in ticks is unchanged by the new tempo.
	pos := s.project.TempoMap.TimeAt(tick, tpb)
	if s.state == Playing {
		s.origin = now.Add(-secondsToDuration(pos))
	} else {
		s.paused = pos
	}

	s.notify(Notification{Kind: NotifyTempo, State: s.state, Tick: tick, BPM: bpm})
}

func (s *Scheduler) currentTickLocked(now time.Time) uint64 {
	if s.project == nil {
		return 0
	}
	return s.project.TempoMap.TickAt(s.positionLocked(now), s.project.TicksPerBeat)
}

// CurrentTick returns the playhead position in ticks.
func (s *Scheduler) CurrentTick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTickLocked(s.now())
}

// State returns the transport state.
func (s *Scheduler) State() TransportState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BPM returns the tempo in effect at the playhead.
func (s *Scheduler) BPM() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.project == nil {
		return 120
	}
	return s.project.TempoMap.TempoAt(s.currentTickLocked(s.now()))
}

// step advances the schedule to now: queue what lookahead reaches,
// dispatch what is due, detect the end of the song.
func (s *Scheduler) step(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Playing {
		return
	}
	pos := now.Sub(s.origin).Seconds()

	for s.cursor < len(s.events) && s.events[s.cursor].Seconds <= pos+lookahead {
		s.pending = append(s.pending, s.events[s.cursor])
		s.cursor++
	}
	for len(s.pending) > 0 && s.pending[0].Seconds <= pos+earlyTolerance {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		s.dispatchLocked(ev)
	}

	if s.cursor == len(s.events) && len(s.pending) == 0 && pos >= s.endSeconds {
		s.state = Stopped
		s.stopActiveLocked()
		s.paused = 0
		s.cursor = 0
		s.notify(Notification{Kind: NotifyFinished, State: Stopped})
		return
	}

	if s.project != nil {
		tick := s.project.TempoMap.TickAt(pos, s.project.TicksPerBeat)
		s.notify(Notification{Kind: NotifyPosition, State: Playing, Tick: tick})
	}
}

func (s *Scheduler) dispatchLocked(ev Event) {
	key := activeNote{track: ev.Track, pitch: ev.Pitch}
	switch ev.Type {
	case NoteOn:
		if s.sink.PlayNote(ev.Track, ev.Pitch, ev.Velocity) {
			s.active[key] = struct{}{}
		}
	case NoteOff:
		// Untrack before the send; a note the backend lost must not
		// linger as active.
		delete(s.active, key)
		if !s.sink.StopNote(ev.Track, ev.Pitch) {
			s.log.Debug("note-off not delivered",
				zap.Int("track", ev.Track), zap.Uint8("pitch", ev.Pitch))
		}
	}
}

// stopActiveLocked releases every note the scheduler started.
func (s *Scheduler) stopActiveLocked() {
	for key := range s.active {
		s.sink.StopNote(key.track, key.pitch)
	}
	s.active = make(map[activeNote]struct{})
}

func (s *Scheduler) notify(n Notification) {
	select {
	case s.notifications <- n:
	default:
	}
}
