package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"

	"go-roll/song"
)

// SourceType identifies the kind of audio source a track can be assigned.
type SourceType int

const (
	SourceNone SourceType = iota
	SourceSoundfont
	SourceExternalMIDI
	SourceInternalSynth
)

func (t SourceType) String() string {
	switch t {
	case SourceSoundfont:
		return "soundfont"
	case SourceExternalMIDI:
		return "external-midi"
	case SourceInternalSynth:
		return "internal-synth"
	default:
		return "none"
	}
}

// Source is an audio source a track can be routed to. Sources are shared
// by identity: tracks that intentionally share a backend instance hold the
// same *Source, never a copy.
type Source struct {
	ID       string
	Name     string
	Type     SourceType
	FilePath string // soundfont file, SourceSoundfont only
	PortName string // output port, SourceExternalMIDI only
	Program  int    // song.ProgramNone means silent
	Channel  uint8
}

// Reserved source IDs.
const (
	SourceIDNone     = "no_source"
	SourceIDInternal = "internal_synth"
)

// SourceManager discovers the available audio sources (soundfont files,
// external MIDI ports, the internal synthesizer) and tracks which source
// each track is assigned. Scan results are lock-protected: a UI-triggered
// refresh may run concurrently with playback-thread reads.
type SourceManager struct {
	log          *zap.Logger
	soundfontDir string

	mu            sync.Mutex
	available     map[string]*Source
	trackSources  map[int]string
	trackPrograms map[int]int

	// OnUpdate, if set, is called after every Refresh. No locks held.
	OnUpdate func()
}

// NewSourceManager creates a manager and performs the initial discovery.
func NewSourceManager(log *zap.Logger, soundfontDir string) *SourceManager {
	sm := &SourceManager{
		log:           log,
		soundfontDir:  soundfontDir,
		available:     make(map[string]*Source),
		trackSources:  make(map[int]string),
		trackPrograms: make(map[int]int),
	}
	sm.Refresh()
	return sm
}

// Refresh rescans soundfonts and MIDI ports. Existing assignments keep
// their source IDs; an assignment whose source vanished resolves to the
// silent default until the device returns.
func (sm *SourceManager) Refresh() {
	sm.mu.Lock()
	sm.available = make(map[string]*Source)
	sm.available[SourceIDNone] = &Source{
		ID:      SourceIDNone,
		Name:    "No Audio Source",
		Type:    SourceNone,
		Program: song.ProgramNone,
	}
	sm.available[SourceIDInternal] = &Source{
		ID:      SourceIDInternal,
		Name:    "Internal Synth",
		Type:    SourceInternalSynth,
		Program: song.ProgramNone,
	}
	sm.discoverSoundfontsLocked()
	sm.discoverPortsLocked()
	onUpdate := sm.OnUpdate
	sm.mu.Unlock()

	if onUpdate != nil {
		onUpdate()
	}
}

func (sm *SourceManager) discoverSoundfontsLocked() {
	if sm.soundfontDir == "" {
		return
	}
	entries, err := os.ReadDir(sm.soundfontDir)
	if err != nil {
		if !os.IsNotExist(err) {
			sm.log.Warn("soundfont scan failed", zap.Error(err))
		}
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".sf2") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		id := "sf2_" + name
		sm.available[id] = &Source{
			ID:       id,
			Name:     name,
			Type:     SourceSoundfont,
			FilePath: filepath.Join(sm.soundfontDir, entry.Name()),
			Program:  0,
		}
		sm.log.Info("discovered soundfont", zap.String("name", name))
	}
}

func (sm *SourceManager) discoverPortsLocked() {
	for i, port := range gomidi.GetOutPorts() {
		name := CleanPortName(port.String(), i)
		id := fmt.Sprintf("midi_out_%d", i)
		sm.available[id] = &Source{
			ID:       id,
			Name:     name,
			Type:     SourceExternalMIDI,
			PortName: port.String(),
			Program:  0,
		}
	}
}

// Sources returns a snapshot of the available sources.
func (sm *SourceManager) Sources() []*Source {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]*Source, 0, len(sm.available))
	for _, s := range sm.available {
		out = append(out, s)
	}
	return out
}

// Source returns the source with the given ID, or nil.
func (sm *SourceManager) Source(id string) *Source {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.available[id]
}

// AssignSourceToTrack assigns a source to a track. For soundfont sources
// the track gets a default program of 0 unless one was already chosen.
func (sm *SourceManager) AssignSourceToTrack(trackIndex int, sourceID string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	src, ok := sm.available[sourceID]
	if !ok {
		sm.log.Warn("unknown audio source", zap.String("id", sourceID))
		return false
	}
	sm.trackSources[trackIndex] = sourceID
	if _, has := sm.trackPrograms[trackIndex]; !has {
		sm.trackPrograms[trackIndex] = src.Program
	}
	sm.log.Info("assigned source to track",
		zap.Int("track", trackIndex),
		zap.String("source", src.Name),
		zap.Stringer("type", src.Type))
	return true
}

// SetTrackProgram sets the instrument for a track. song.ProgramNone makes
// the track silent.
func (sm *SourceManager) SetTrackProgram(trackIndex, program int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if program < 0 {
		program = song.ProgramNone
	} else if program > 127 {
		program = 127
	}
	sm.trackPrograms[trackIndex] = program
}

// TrackSource returns the source assigned to a track. Unassigned tracks
// resolve to the silent default; they are never an error.
func (sm *SourceManager) TrackSource(trackIndex int) *Source {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if id, ok := sm.trackSources[trackIndex]; ok {
		if src, ok := sm.available[id]; ok {
			return src
		}
	}
	return sm.available[SourceIDNone]
}

// TrackProgram returns the effective instrument for a track, song.ProgramNone
// when none is assigned.
func (sm *SourceManager) TrackProgram(trackIndex int) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if p, ok := sm.trackPrograms[trackIndex]; ok {
		return p
	}
	return song.ProgramNone
}

// ClearTrackProgram marks a track as having no instrument.
func (sm *SourceManager) ClearTrackProgram(trackIndex int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.trackPrograms[trackIndex] = song.ProgramNone
}

// CleanPortName strips non-printable characters some platforms put in port
// names. Display only; the byte-level protocol never sees these names.
func CleanPortName(name string, index int) string {
	var b strings.Builder
	for _, r := range name {
		if r >= 0x20 && r < 0x7f {
			b.WriteRune(r)
		}
	}
	cleaned := strings.Join(strings.Fields(b.String()), " ")
	if len(cleaned) < 3 {
		return fmt.Sprintf("MIDI Device %d", index+1)
	}
	return cleaned
}
