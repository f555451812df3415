package audio

import (
	"sync"

	"go.uber.org/zap"
)

// TrackInstance is a dedicated backend owned by a single track: its own
// synthesizer for a soundfont source, or a (shared) port sender for an
// external MIDI source.
type TrackInstance struct {
	TrackIndex int
	Source     *Source
	Backend    Backend

	// owned is false when Backend is shared with other tracks (external
	// port senders); shared backends are torn down in CleanupAll only.
	owned bool
}

// TrackInstances creates and owns per-track dedicated backend instances,
// keyed by track index. Instances are created on demand when a track is
// first asked to play and torn down explicitly.
type TrackInstances struct {
	log     *zap.Logger
	sources *SourceManager

	// newSynth builds a fresh dedicated synthesizer instance. Injected so
	// this package stays independent of the synth implementation.
	newSynth func() Backend
	newPort  func(portName string) Backend

	mu        sync.Mutex
	instances map[int]*TrackInstance
	ports     map[string]Backend // port name -> shared sender
}

// NewTrackInstances creates the per-track instance table.
func NewTrackInstances(log *zap.Logger, sources *SourceManager, newSynth func() Backend) *TrackInstances {
	return &TrackInstances{
		log:      log,
		sources:  sources,
		newSynth: newSynth,
		newPort: func(portName string) Backend {
			return NewMIDIPortBackend(log, portName)
		},
		instances: make(map[int]*TrackInstance),
		ports:     make(map[string]Backend),
	}
}

// InitializeTrack builds the dedicated instance for a track from its
// assigned source. Replaces any previous instance for the track.
func (ti *TrackInstances) InitializeTrack(trackIndex int) bool {
	src := ti.sources.TrackSource(trackIndex)
	if src == nil || src.Type == SourceNone {
		return false
	}

	ti.InvalidateTrack(trackIndex)

	ti.mu.Lock()
	defer ti.mu.Unlock()

	switch src.Type {
	case SourceSoundfont, SourceInternalSynth:
		if ti.newSynth == nil {
			return false
		}
		b := ti.newSynth()
		if err := b.Initialize(); err != nil {
			ti.log.Warn("dedicated synth failed to start",
				zap.Int("track", trackIndex), zap.Error(err))
			return false
		}
		if p := ti.sources.TrackProgram(trackIndex); p >= 0 {
			b.SetProgram(src.Channel, uint8(p))
		}
		ti.instances[trackIndex] = &TrackInstance{
			TrackIndex: trackIndex,
			Source:     src,
			Backend:    b,
			owned:      true,
		}

	case SourceExternalMIDI:
		b, ok := ti.ports[src.PortName]
		if !ok {
			b = ti.newPort(src.PortName)
			if err := b.Initialize(); err != nil {
				ti.log.Warn("external MIDI port failed to open",
					zap.Int("track", trackIndex),
					zap.String("port", src.PortName),
					zap.Error(err))
				return false
			}
			ti.ports[src.PortName] = b
		}
		ti.instances[trackIndex] = &TrackInstance{
			TrackIndex: trackIndex,
			Source:     src,
			Backend:    b,
		}

	default:
		return false
	}

	ti.log.Info("track instance ready",
		zap.Int("track", trackIndex), zap.String("source", src.Name))
	return true
}

func (ti *TrackInstances) instance(trackIndex int) *TrackInstance {
	ti.mu.Lock()
	inst := ti.instances[trackIndex]
	ti.mu.Unlock()
	if inst != nil {
		return inst
	}
	if !ti.InitializeTrack(trackIndex) {
		return nil
	}
	ti.mu.Lock()
	inst = ti.instances[trackIndex]
	ti.mu.Unlock()
	return inst
}

// PlayNote plays on the track's dedicated instance.
func (ti *TrackInstances) PlayNote(trackIndex int, channel, pitch, velocity uint8) bool {
	inst := ti.instance(trackIndex)
	if inst == nil {
		return false
	}
	return inst.Backend.PlayNote(channel, pitch, velocity)
}

// StopNote stops on the track's dedicated instance.
func (ti *TrackInstances) StopNote(trackIndex int, channel, pitch uint8) bool {
	ti.mu.Lock()
	inst := ti.instances[trackIndex]
	ti.mu.Unlock()
	if inst == nil {
		return false
	}
	return inst.Backend.StopNote(channel, pitch)
}

// SendControlChange sends a control change on the track's instance.
func (ti *TrackInstances) SendControlChange(trackIndex int, controller, value uint8) bool {
	inst := ti.instance(trackIndex)
	if inst == nil {
		return false
	}
	return inst.Backend.SendControl(inst.Source.Channel, controller, value)
}

// InvalidateTrack tears down the dedicated instance for a track. Shared
// port senders stay open; other tracks may be using them, so the track's
// channel is silenced with All Notes Off instead.
func (ti *TrackInstances) InvalidateTrack(trackIndex int) {
	ti.mu.Lock()
	inst := ti.instances[trackIndex]
	delete(ti.instances, trackIndex)
	ti.mu.Unlock()

	if inst == nil {
		return
	}
	if inst.owned {
		inst.Backend.Cleanup()
	} else {
		inst.Backend.SendControl(inst.Source.Channel, 123, 0)
	}
}

// StopAllNotes sends All Notes Off (CC 123) on every channel of every
// backend, shared port senders included: a port can outlive the instances
// that opened it and must still be swept. Returns the number of channels
// swept; each backend is swept once however many tracks share it.
func (ti *TrackInstances) StopAllNotes() int {
	ti.mu.Lock()
	backends := make(map[Backend]struct{}, len(ti.instances)+len(ti.ports))
	for _, inst := range ti.instances {
		backends[inst.Backend] = struct{}{}
	}
	for _, b := range ti.ports {
		backends[b] = struct{}{}
	}
	ti.mu.Unlock()

	swept := 0
	for b := range backends {
		for ch := uint8(0); ch < 16; ch++ {
			if b.SendControl(ch, 123, 0) {
				swept++
			}
		}
	}
	return swept
}

// CleanupAll tears down every instance and every shared port sender.
func (ti *TrackInstances) CleanupAll() {
	ti.mu.Lock()
	insts := ti.instances
	ports := ti.ports
	ti.instances = make(map[int]*TrackInstance)
	ti.ports = make(map[string]Backend)
	ti.mu.Unlock()

	for _, inst := range insts {
		if inst.owned {
			inst.Backend.Cleanup()
		}
	}
	for _, b := range ports {
		b.Cleanup()
	}
}
