// Package timemap converts between musical ticks and wall-clock time given a
// sequence of tempo and time-signature changes.
package timemap

import "sort"

// Defaults used when a map has no entry at or before the queried tick.
const (
	DefaultBPM           = 120.0
	DefaultMicrosPerBeat = 500000
	DefaultNumerator     = 4
	DefaultDenominator   = 4
)

// TempoChange sets the tempo from Tick onward.
type TempoChange struct {
	Tick          uint64
	MicrosPerBeat int
}

// BPM returns the tempo in beats per minute.
func (tc TempoChange) BPM() float64 {
	if tc.MicrosPerBeat <= 0 {
		return DefaultBPM
	}
	return 60e6 / float64(tc.MicrosPerBeat)
}

// TimeSignatureChange sets the meter from Tick onward.
type TimeSignatureChange struct {
	Tick        uint64
	Numerator   int
	Denominator int
}

// Map holds tick-sorted tempo and time-signature changes. At most one entry
// per tick; adding at an occupied tick overwrites. Lookups return the most
// recent entry at or before the queried tick.
type Map struct {
	tempos     []TempoChange
	signatures []TimeSignatureChange
}

func New() *Map {
	return &Map{}
}

// SetTempoAt inserts or overwrites the tempo change at tick.
func (m *Map) SetTempoAt(tick uint64, microsPerBeat int) {
	if microsPerBeat <= 0 {
		return
	}
	i := sort.Search(len(m.tempos), func(i int) bool { return m.tempos[i].Tick >= tick })
	if i < len(m.tempos) && m.tempos[i].Tick == tick {
		m.tempos[i].MicrosPerBeat = microsPerBeat
		return
	}
	m.tempos = append(m.tempos, TempoChange{})
	copy(m.tempos[i+1:], m.tempos[i:])
	m.tempos[i] = TempoChange{Tick: tick, MicrosPerBeat: microsPerBeat}
}

// SetBPMAt is SetTempoAt expressed in beats per minute.
func (m *Map) SetBPMAt(tick uint64, bpm float64) {
	if bpm <= 0 {
		return
	}
	m.SetTempoAt(tick, int(60e6/bpm))
}

// SetTimeSignatureAt inserts or overwrites the time-signature change at tick.
func (m *Map) SetTimeSignatureAt(tick uint64, num, den int) {
	if num <= 0 || den <= 0 {
		return
	}
	i := sort.Search(len(m.signatures), func(i int) bool { return m.signatures[i].Tick >= tick })
	if i < len(m.signatures) && m.signatures[i].Tick == tick {
		m.signatures[i].Numerator = num
		m.signatures[i].Denominator = den
		return
	}
	m.signatures = append(m.signatures, TimeSignatureChange{})
	copy(m.signatures[i+1:], m.signatures[i:])
	m.signatures[i] = TimeSignatureChange{Tick: tick, Numerator: num, Denominator: den}
}

// TempoAt returns the tempo in BPM in effect at tick.
func (m *Map) TempoAt(tick uint64) float64 {
	for i := len(m.tempos) - 1; i >= 0; i-- {
		if m.tempos[i].Tick <= tick {
			return m.tempos[i].BPM()
		}
	}
	return DefaultBPM
}

// TimeSignatureAt returns the meter in effect at tick.
func (m *Map) TimeSignatureAt(tick uint64) (num, den int) {
	for i := len(m.signatures) - 1; i >= 0; i-- {
		if m.signatures[i].Tick <= tick {
			return m.signatures[i].Numerator, m.signatures[i].Denominator
		}
	}
	return DefaultNumerator, DefaultDenominator
}

// TempoChanges returns the tick-sorted tempo changes.
func (m *Map) TempoChanges() []TempoChange {
	out := make([]TempoChange, len(m.tempos))
	copy(out, m.tempos)
	return out
}

// TimeSignatureChanges returns the tick-sorted time-signature changes.
func (m *Map) TimeSignatureChanges() []TimeSignatureChange {
	out := make([]TimeSignatureChange, len(m.signatures))
	copy(out, m.signatures)
	return out
}

// TicksPerSecond returns the tick rate for a tempo and resolution.
func TicksPerSecond(bpm float64, ticksPerBeat int) float64 {
	return bpm * float64(ticksPerBeat) / 60.0
}

// TimeAt returns the absolute time in seconds of tick, integrating across
// every tempo segment before it. Used to stamp playback events so that a
// tempo change never retroactively moves already-computed earlier events.
func (m *Map) TimeAt(tick uint64, ticksPerBeat int) float64 {
	if ticksPerBeat <= 0 {
		ticksPerBeat = 480
	}
	seconds := 0.0
	segStart := uint64(0)
	segBPM := DefaultBPM
	if len(m.tempos) > 0 && m.tempos[0].Tick == 0 {
		segBPM = m.tempos[0].BPM()
	}
	for _, tc := range m.tempos {
		if tc.Tick == 0 {
			continue
		}
		if tc.Tick >= tick {
			break
		}
		seconds += float64(tc.Tick-segStart) / TicksPerSecond(segBPM, ticksPerBeat)
		segStart = tc.Tick
		segBPM = tc.BPM()
	}
	seconds += float64(tick-segStart) / TicksPerSecond(segBPM, ticksPerBeat)
	return seconds
}

// TickAt is the inverse of TimeAt: the tick reached after the given number
// of seconds from tick 0.
func (m *Map) TickAt(seconds float64, ticksPerBeat int) uint64 {
	if seconds <= 0 {
		return 0
	}
	if ticksPerBeat <= 0 {
		ticksPerBeat = 480
	}
	elapsed := 0.0
	segStart := uint64(0)
	segBPM := DefaultBPM
	if len(m.tempos) > 0 && m.tempos[0].Tick == 0 {
		segBPM = m.tempos[0].BPM()
	}
	for _, tc := range m.tempos {
		if tc.Tick == 0 {
			continue
		}
		segDur := float64(tc.Tick-segStart) / TicksPerSecond(segBPM, ticksPerBeat)
		if elapsed+segDur > seconds {
			break
		}
		elapsed += segDur
		segStart = tc.Tick
		segBPM = tc.BPM()
	}
	return segStart + uint64((seconds-elapsed)*TicksPerSecond(segBPM, ticksPerBeat))
}
