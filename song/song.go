// Package song holds the note/track/project data model that the playback
// scheduler consumes. Notes are plain values: the scheduler snapshots them
// into its event list, so editing a project during playback never races an
// in-flight dispatch.
package song

import "go-roll/timemap"

// ProgramNone marks a track with no instrument assigned (a silent track).
const ProgramNone = -1

// Note is a single note on the timeline. EndTick must be greater than
// StartTick. Once handed to the scheduler a Note is never mutated; edits
// produce new values.
type Note struct {
	Pitch     uint8
	StartTick uint64
	EndTick   uint64
	Velocity  uint8
	Channel   uint8
}

// Duration returns the note length in ticks.
func (n Note) Duration() uint64 {
	if n.EndTick <= n.StartTick {
		return 0
	}
	return n.EndTick - n.StartTick
}

// Track is an ordered list of notes plus its output assignment. Program is
// ProgramNone for silent tracks. SourceID names an audio source registered
// with the source manager; empty means no source assigned yet.
type Track struct {
	Name     string
	Channel  uint8
	Program  int
	SourceID string
	Notes    []Note
}

// NewTrack creates an empty track with no instrument assigned.
func NewTrack(name string, channel uint8) *Track {
	return &Track{
		Name:    name,
		Channel: channel,
		Program: ProgramNone,
	}
}

// AddNote appends a note, keeping the slice ordered by start tick.
func (t *Track) AddNote(n Note) {
	if n.EndTick <= n.StartTick {
		return
	}
	i := len(t.Notes)
	for i > 0 && t.Notes[i-1].StartTick > n.StartTick {
		i--
	}
	t.Notes = append(t.Notes, Note{})
	copy(t.Notes[i+1:], t.Notes[i:])
	t.Notes[i] = n
}

// RemoveNote deletes the first note equal to n. Returns false if absent.
func (t *Track) RemoveNote(n Note) bool {
	for i, have := range t.Notes {
		if have == n {
			t.Notes = append(t.Notes[:i], t.Notes[i+1:]...)
			return true
		}
	}
	return false
}

// MaxEndTick returns the largest end tick on the track (0 if empty).
func (t *Track) MaxEndTick() uint64 {
	var max uint64
	for _, n := range t.Notes {
		if n.EndTick > max {
			max = n.EndTick
		}
	}
	return max
}

// Project is the full composition: tracks plus the tempo map and the tick
// resolution shared by every track.
type Project struct {
	Tracks       []*Track
	TicksPerBeat int
	TempoMap     *timemap.Map
}

// NewProject creates a project with one default track at 480 ticks per beat.
func NewProject() *Project {
	p := &Project{
		TicksPerBeat: 480,
		TempoMap:     timemap.New(),
	}
	p.AddTrack(NewTrack("Track 1", 0))
	return p
}

// AddTrack appends a track.
func (p *Project) AddTrack(t *Track) {
	p.Tracks = append(p.Tracks, t)
}

// MaxEndTick returns the largest note end tick across all tracks.
func (p *Project) MaxEndTick() uint64 {
	var max uint64
	for _, t := range p.Tracks {
		if end := t.MaxEndTick(); end > max {
			max = end
		}
	}
	return max
}

// NotesInRange returns every note, across all tracks, that overlaps the
// half-open tick range [startTick, endTick).
func (p *Project) NotesInRange(startTick, endTick uint64) []Note {
	var out []Note
	for _, t := range p.Tracks {
		for _, n := range t.Notes {
			if n.EndTick <= startTick || n.StartTick >= endTick {
				continue
			}
			out = append(out, n)
		}
	}
	return out
}
