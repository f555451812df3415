// Package playback turns a project into a time-ordered event stream and
// plays it against the wall clock.
package playback

import (
	"sort"

	"go-roll/song"
)

// EventType distinguishes note starts from note ends.
type EventType int

const (
	NoteOn EventType = iota
	NoteOff
)

// Event is one scheduled note boundary. Seconds is the absolute time of
// the event from song start, precomputed through the tempo map so a tempo
// change mid-song never moves events before it.
type Event struct {
	Type     EventType
	Track    int
	Pitch    uint8
	Velocity uint8
	Tick     uint64
	Seconds  float64
}

// BuildEvents flattens a project into a sorted event list. Simultaneous
// events order note-offs before note-ons so a retriggered pitch releases
// before it restarts; remaining ties break by track then pitch for a
// deterministic stream.
func BuildEvents(p *song.Project) []Event {
	if p == nil {
		return nil
	}

	var events []Event
	for ti, track := range p.Tracks {
		for _, n := range track.Notes {
			events = append(events,
				Event{
					Type:     NoteOn,
					Track:    ti,
					Pitch:    n.Pitch,
					Velocity: n.Velocity,
					Tick:     n.StartTick,
					Seconds:  p.TempoMap.TimeAt(n.StartTick, p.TicksPerBeat),
				},
				Event{
					Type:    NoteOff,
					Track:   ti,
					Pitch:   n.Pitch,
					Tick:    n.EndTick,
					Seconds: p.TempoMap.TimeAt(n.EndTick, p.TicksPerBeat),
				},
			)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Tick != b.Tick {
			return a.Tick < b.Tick
		}
		if a.Type != b.Type {
			return a.Type == NoteOff
		}
		if a.Track != b.Track {
			return a.Track < b.Track
		}
		return a.Pitch < b.Pitch
	})
	return events
}
