package audio

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

func internalTrackSetup(t *testing.T, trackIndex int) (*TrackInstances, *fakeBackend) {
	t.Helper()
	sm := NewSourceManager(zap.NewNop(), "")
	if !sm.AssignSourceToTrack(trackIndex, SourceIDInternal) {
		t.Fatal("assignment failed")
	}
	sm.SetTrackProgram(trackIndex, 0)

	b := &fakeBackend{}
	ti := NewTrackInstances(zap.NewNop(), sm, func() Backend { return b })
	return ti, b
}

func TestDedicatedInstanceCreatedLazily(t *testing.T) {
	ti, b := internalTrackSetup(t, 0)

	if !ti.PlayNote(0, 0, 60, 100) {
		t.Fatal("PlayNote failed")
	}
	if plays, _ := b.counts(); plays != 1 {
		t.Errorf("plays = %d, want 1", plays)
	}
	if !ti.StopNote(0, 0, 60) {
		t.Error("StopNote failed")
	}
}

func TestSilentTrackGetsNoInstance(t *testing.T) {
	sm := NewSourceManager(zap.NewNop(), "")
	ti := NewTrackInstances(zap.NewNop(), sm, func() Backend { return &fakeBackend{} })

	if ti.InitializeTrack(0) {
		t.Error("instance created for an unassigned track")
	}
	if ti.PlayNote(0, 0, 60, 100) {
		t.Error("PlayNote succeeded for an unassigned track")
	}
}

func TestFailedSynthStart(t *testing.T) {
	sm := NewSourceManager(zap.NewNop(), "")
	sm.AssignSourceToTrack(0, SourceIDInternal)
	broken := &fakeBackend{initErr: errors.New("no audio device")}
	ti := NewTrackInstances(zap.NewNop(), sm, func() Backend { return broken })

	if ti.InitializeTrack(0) {
		t.Error("InitializeTrack succeeded with a backend that cannot start")
	}
}

func TestStopAllNotesSweepsEveryChannel(t *testing.T) {
	ti, _ := internalTrackSetup(t, 0)
	if !ti.InitializeTrack(0) {
		t.Fatal("InitializeTrack failed")
	}
	if swept := ti.StopAllNotes(); swept != 16 {
		t.Errorf("swept %d channels, want 16", swept)
	}
}

// externalTrackSetup registers a fake external source on channel 3 and
// assigns it to the given tracks, with a recording backend behind the
// shared port.
func externalTrackSetup(t *testing.T, trackIndexes ...int) (*TrackInstances, *fakeBackend) {
	t.Helper()
	sm := NewSourceManager(zap.NewNop(), "")
	src := &Source{
		ID:       "midi_ext",
		Name:     "External Device",
		Type:     SourceExternalMIDI,
		PortName: "Ext Port",
		Channel:  3,
	}
	sm.mu.Lock()
	sm.available[src.ID] = src
	sm.mu.Unlock()

	b := &fakeBackend{}
	ti := NewTrackInstances(zap.NewNop(), sm, func() Backend { return &fakeBackend{} })
	ti.newPort = func(string) Backend { return b }
	for _, idx := range trackIndexes {
		if !sm.AssignSourceToTrack(idx, src.ID) {
			t.Fatal("assignment failed")
		}
	}
	return ti, b
}

func TestInvalidateSharedPortSilencesChannel(t *testing.T) {
	ti, b := externalTrackSetup(t, 0, 1)
	if !ti.PlayNote(0, 3, 60, 100) {
		t.Fatal("PlayNote failed")
	}

	ti.InvalidateTrack(0)
	if b.cleanupCount() != 0 {
		t.Error("shared port sender was torn down by a single track")
	}
	if b.controlCount() == 0 {
		t.Error("no All Notes Off sent on the invalidated track's channel")
	}
	// The other track still reaches the shared sender.
	if !ti.PlayNote(1, 3, 62, 100) {
		t.Error("sibling track lost its port after invalidation")
	}
}

func TestStopAllNotesSweepsOrphanedPorts(t *testing.T) {
	ti, b := externalTrackSetup(t, 0)
	if !ti.InitializeTrack(0) {
		t.Fatal("InitializeTrack failed")
	}
	ti.InvalidateTrack(0)

	// The instance is gone but the port sender remains open; the sweep
	// must still reach it.
	before := b.controlCount()
	if swept := ti.StopAllNotes(); swept != 16 {
		t.Errorf("swept %d channels, want 16", swept)
	}
	if b.controlCount() != before+16 {
		t.Errorf("port backend received %d sweeps, want 16", b.controlCount()-before)
	}
}

func TestStopAllNotesSweepsSharedBackendOnce(t *testing.T) {
	ti, _ := externalTrackSetup(t, 0, 1)
	if !ti.InitializeTrack(0) || !ti.InitializeTrack(1) {
		t.Fatal("InitializeTrack failed")
	}
	if swept := ti.StopAllNotes(); swept != 16 {
		t.Errorf("swept %d channels, want 16 (shared sender swept once)", swept)
	}
}

func TestInvalidateDropsInstance(t *testing.T) {
	ti, b := internalTrackSetup(t, 0)
	ti.PlayNote(0, 0, 60, 100)
	ti.InvalidateTrack(0)

	// StopNote does not recreate instances; the note ended with the
	// instance teardown.
	if ti.StopNote(0, 0, 60) {
		t.Error("StopNote succeeded on an invalidated track")
	}
	// The next play lazily builds a new instance.
	if !ti.PlayNote(0, 0, 62, 100) {
		t.Error("PlayNote failed after invalidation")
	}
	if plays, _ := b.counts(); plays != 2 {
		t.Errorf("plays = %d, want 2", plays)
	}
}
