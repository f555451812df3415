// Package synth is the internal software synthesizer: a polyphonic
// wavetable voice pool rendered to stereo float32 PCM and streamed to the
// platform through oto. Rendering is separate from device output, so the
// voice math is testable without opening an audio device.
package synth

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// Params configures a synthesizer instance.
type Params struct {
	SampleRate int
	Gain       float64
	Polyphony  int
	AttackSec  float64
	DecaySec   float64
	SustainLvl float64
	ReleaseSec float64
}

// DefaultParams returns the stock patch.
func DefaultParams() Params {
	return Params{
		SampleRate: 44100,
		Gain:       0.4,
		Polyphony:  32,
		AttackSec:  0.005,
		DecaySec:   0.08,
		SustainLvl: 0.7,
		ReleaseSec: 0.15,
	}
}

type waveform int

const (
	waveSine waveform = iota
	waveTriangle
	waveSquare
	waveSaw
)

// programWaveform maps a GM program to a waveform family. Coarse on
// purpose: this synthesizer trades timbre accuracy for a dependency-free
// always-available backend.
func programWaveform(program uint8) waveform {
	switch {
	case program < 32: // pianos, chromatic percussion, organs
		return waveSine
	case program < 64: // guitars, basses, strings, ensembles
		return waveTriangle
	case program < 96: // brass, reeds, pipes, synth leads
		return waveSquare
	default: // pads, effects, ethnic, percussive
		return waveSaw
	}
}

type envState int

const (
	envAttack envState = iota
	envDecay
	envSustain
	envRelease
	envDone
)

type voice struct {
	channel uint8
	pitch   uint8
	wave    waveform
	freq    float64
	phase   float64
	amp     float64 // velocity scaling

	env     envState
	level   float64
	relRate float64 // per-sample decrement once released
}

// Synth is a polyphonic software synthesizer implementing audio.Backend.
// Voices are triggered from the scheduling thread and consumed by the
// audio device thread, so all voice state sits behind a mutex.
type Synth struct {
	params Params

	mu       sync.Mutex
	programs [16]uint8
	voices   []*voice
	player   *oto.Player
}

// New creates a synthesizer. Initialize opens the audio device; rendering
// works without it.
func New(params Params) *Synth {
	if params.SampleRate <= 0 {
		params.SampleRate = 44100
	}
	if params.Polyphony <= 0 {
		params.Polyphony = 32
	}
	return &Synth{params: params}
}

// The process-wide oto context. oto allows exactly one context per
// process; every Synth instance gets its own player from it.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
	otoRate int
)

func sharedContext(sampleRate int) (*oto.Context, error) {
	otoOnce.Do(func() {
		otoRate = sampleRate
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 2,
			Format:       oto.FormatFloat32LE,
		})
		if err != nil {
			otoErr = err
			return
		}
		<-ready
		otoCtx = ctx
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if otoRate != sampleRate {
		return nil, fmt.Errorf("synth: audio context already running at %d Hz (requested %d Hz)", otoRate, sampleRate)
	}
	return otoCtx, nil
}

// Initialize opens the audio device and starts streaming.
func (s *Synth) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player != nil {
		return nil
	}
	ctx, err := sharedContext(s.params.SampleRate)
	if err != nil {
		return fmt.Errorf("synth: %w", err)
	}
	p := ctx.NewPlayer(s)
	p.Play()
	s.player = p
	return nil
}

// Read streams rendered PCM to the audio device: stereo interleaved
// float32 little-endian frames. Never returns EOF; silence is zeros.
func (s *Synth) Read(p []byte) (int, error) {
	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	s.mu.Lock()
	for i := 0; i < frames; i++ {
		l, r := s.renderFrameLocked()
		binary.LittleEndian.PutUint32(p[i*8:], math.Float32bits(l))
		binary.LittleEndian.PutUint32(p[i*8+4:], math.Float32bits(r))
	}
	s.mu.Unlock()
	return frames * 8, nil
}

// RenderFrame renders one stereo frame. Exposed for offline use and tests.
func (s *Synth) RenderFrame() (float32, float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderFrameLocked()
}

func (s *Synth) renderFrameLocked() (float32, float32) {
	var sum float64
	live := s.voices[:0]
	for _, v := range s.voices {
		sum += v.step(s.params)
		if v.env != envDone {
			live = append(live, v)
		}
	}
	s.voices = live
	out := float32(sum * s.params.Gain)
	if out > 1 {
		out = 1
	} else if out < -1 {
		out = -1
	}
	return out, out
}

func (v *voice) step(p Params) float64 {
	sr := float64(p.SampleRate)

	switch v.env {
	case envAttack:
		v.level += 1.0 / (math.Max(p.AttackSec, 1e-4) * sr)
		if v.level >= 1 {
			v.level = 1
			v.env = envDecay
		}
	case envDecay:
		v.level -= (1 - p.SustainLvl) / (math.Max(p.DecaySec, 1e-4) * sr)
		if v.level <= p.SustainLvl {
			v.level = p.SustainLvl
			v.env = envSustain
		}
	case envSustain:
		// hold
	case envRelease:
		v.level -= v.relRate
		if v.level <= 0 {
			v.level = 0
			v.env = envDone
		}
	case envDone:
		return 0
	}

	var sample float64
	switch v.wave {
	case waveSine:
		sample = math.Sin(2 * math.Pi * v.phase)
	case waveTriangle:
		sample = 4*math.Abs(v.phase-0.5) - 1
	case waveSquare:
		if v.phase < 0.5 {
			sample = 1
		} else {
			sample = -1
		}
	case waveSaw:
		sample = 2*v.phase - 1
	}

	v.phase += v.freq / sr
	if v.phase >= 1 {
		v.phase -= 1
	}
	return sample * v.level * v.amp
}

func pitchFreq(pitch uint8) float64 {
	return 440.0 * math.Pow(2, (float64(pitch)-69)/12)
}

// PlayNote triggers a voice. When the pool is full the quietest voice is
// stolen.
func (s *Synth) PlayNote(channel, pitch, velocity uint8) bool {
	if channel > 15 || pitch > 127 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v := &voice{
		channel: channel,
		pitch:   pitch,
		wave:    programWaveform(s.programs[channel]),
		freq:    pitchFreq(pitch),
		amp:     float64(velocity&0x7f) / 127.0,
		env:     envAttack,
	}

	if len(s.voices) >= s.params.Polyphony {
		steal := 0
		for i, have := range s.voices {
			if have.level < s.voices[steal].level {
				steal = i
			}
		}
		s.voices[steal] = v
		return true
	}
	s.voices = append(s.voices, v)
	return true
}

// StopNote releases every voice sounding the given pitch on the channel.
// Releasing a pitch that is not sounding is not a failure.
func (s *Synth) StopNote(channel, pitch uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.voices {
		if v.channel == channel && v.pitch == pitch && v.env != envRelease && v.env != envDone {
			v.release(s.params)
		}
	}
	return true
}

func (v *voice) release(p Params) {
	v.env = envRelease
	v.relRate = math.Max(v.level, 1e-3) / (math.Max(p.ReleaseSec, 1e-4) * float64(p.SampleRate))
}

// SetProgram selects the waveform family for a channel.
func (s *Synth) SetProgram(channel, program uint8) bool {
	if channel > 15 {
		return false
	}
	s.mu.Lock()
	s.programs[channel] = program & 0x7f
	s.mu.Unlock()
	return true
}

// SendControl handles All Sound Off (120) and All Notes Off (123); other
// controllers are accepted and ignored.
func (s *Synth) SendControl(channel, controller, value uint8) bool {
	if channel > 15 {
		return false
	}
	switch controller {
	case 120, 123:
		s.mu.Lock()
		for _, v := range s.voices {
			if v.channel == channel && v.env != envRelease && v.env != envDone {
				v.release(s.params)
			}
		}
		s.mu.Unlock()
	}
	return true
}

// ActiveVoices returns the number of voices still sounding, release tails
// included.
func (s *Synth) ActiveVoices() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.voices)
}

// Cleanup stops streaming and drops all voices.
func (s *Synth) Cleanup() {
	s.mu.Lock()
	player := s.player
	s.player = nil
	s.voices = nil
	s.mu.Unlock()
	if player != nil {
		player.Close()
	}
}
