// Package routing decides where each track's notes go: which backend
// channel a track owns, whether the note plays on the shared engine or a
// dedicated per-track instance, and how messages fan out to secondary
// MIDI destinations.
package routing

import "fmt"

// numChannels is the MIDI channel count per destination.
const numChannels = 16

// ChannelState tracks ownership and activity of one backend channel.
type ChannelState struct {
	Channel        int
	AssignedTrack  int // -1 when free
	CurrentProgram int // -1 when never programmed
	ActiveNotes    map[uint8]struct{}
}

func newChannelState(ch int) *ChannelState {
	return &ChannelState{
		Channel:        ch,
		AssignedTrack:  -1,
		CurrentProgram: -1,
		ActiveNotes:    make(map[uint8]struct{}),
	}
}

// Allocator hands out backend channels to tracks. A track prefers channel
// trackIndex mod 16; when that channel belongs to another track the
// allocator probes upward until it finds a free one. Callers hold the
// coordinator lock; the allocator itself is not safe for concurrent use.
type Allocator struct {
	states [numChannels]*ChannelState
}

// NewAllocator creates an allocator with all channels free.
func NewAllocator() *Allocator {
	a := &Allocator{}
	for i := range a.states {
		a.states[i] = newChannelState(i)
	}
	return a
}

// Allocate returns the channel owned by trackIndex, assigning one if the
// track has none. Fails only when all 16 channels belong to other tracks.
func (a *Allocator) Allocate(trackIndex int) (*ChannelState, error) {
	preferred := trackIndex % numChannels
	if preferred < 0 {
		preferred += numChannels
	}

	for off := 0; off < numChannels; off++ {
		st := a.states[(preferred+off)%numChannels]
		if st.AssignedTrack == trackIndex {
			return st, nil
		}
	}
	for off := 0; off < numChannels; off++ {
		st := a.states[(preferred+off)%numChannels]
		if st.AssignedTrack == -1 {
			st.AssignedTrack = trackIndex
			return st, nil
		}
	}
	return nil, fmt.Errorf("routing: all %d channels in use, cannot allocate for track %d", numChannels, trackIndex)
}

// StateFor returns the channel owned by trackIndex, or nil.
func (a *Allocator) StateFor(trackIndex int) *ChannelState {
	for _, st := range a.states {
		if st.AssignedTrack == trackIndex {
			return st
		}
	}
	return nil
}

// State returns the state of a specific channel.
func (a *Allocator) State(channel int) *ChannelState {
	if channel < 0 || channel >= numChannels {
		return nil
	}
	return a.states[channel]
}

// Release frees the channel owned by trackIndex and returns its state so
// the caller can silence any notes still tracked on it. Returns nil when
// the track owned nothing.
func (a *Allocator) Release(trackIndex int) *ChannelState {
	st := a.StateFor(trackIndex)
	if st == nil {
		return nil
	}
	st.AssignedTrack = -1
	st.CurrentProgram = -1
	return st
}

// ReleaseAll frees every channel and returns the states that had an owner.
func (a *Allocator) ReleaseAll() []*ChannelState {
	var owned []*ChannelState
	for _, st := range a.states {
		if st.AssignedTrack != -1 {
			st.AssignedTrack = -1
			st.CurrentProgram = -1
			owned = append(owned, st)
		}
	}
	return owned
}
