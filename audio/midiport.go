package audio

import (
	"fmt"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver
	"go.uber.org/zap"
)

// MIDIPortBackend sends notes to an external MIDI output port. It produces
// no sound of its own, which makes it the functional last resort when no
// synthesizer starts: the rest of the system behaves identically either way.
type MIDIPortBackend struct {
	log      *zap.Logger
	portName string // preferred port; empty means first available

	mu     sync.Mutex
	port   drivers.Out
	sender func(gomidi.Message) error
}

// NewMIDIPortBackend creates a backend targeting portName, or the first
// available output port when portName is empty.
func NewMIDIPortBackend(log *zap.Logger, portName string) *MIDIPortBackend {
	return &MIDIPortBackend{log: log, portName: portName}
}

// Initialize opens the output port. This is the only blocking call on the
// backend; note dispatch afterwards is a buffered port write.
func (b *MIDIPortBackend) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sender != nil {
		return nil
	}

	ports := gomidi.GetOutPorts()
	if len(ports) == 0 {
		return fmt.Errorf("midiport: no output ports available")
	}

	port := ports[0]
	if b.portName != "" {
		found := false
		for _, p := range ports {
			if p.String() == b.portName {
				port = p
				found = true
				break
			}
		}
		if !found {
			b.log.Warn("preferred MIDI port not found, using first available",
				zap.String("preferred", b.portName),
				zap.String("using", port.String()))
		}
	}

	sender, err := gomidi.SendTo(port)
	if err != nil {
		return fmt.Errorf("midiport: open %q: %w", port.String(), err)
	}
	b.port = port
	b.sender = sender
	b.log.Info("MIDI output connected", zap.String("port", port.String()))
	return nil
}

func (b *MIDIPortBackend) send(msg gomidi.Message) bool {
	b.mu.Lock()
	sender := b.sender
	b.mu.Unlock()
	if sender == nil {
		return false
	}
	if err := sender(msg); err != nil {
		b.log.Warn("MIDI send failed", zap.Error(err))
		return false
	}
	return true
}

func (b *MIDIPortBackend) PlayNote(channel, pitch, velocity uint8) bool {
	return b.send(gomidi.NoteOn(channel, pitch, velocity))
}

func (b *MIDIPortBackend) StopNote(channel, pitch uint8) bool {
	return b.send(gomidi.NoteOff(channel, pitch))
}

func (b *MIDIPortBackend) SetProgram(channel, program uint8) bool {
	return b.send(gomidi.ProgramChange(channel, program))
}

func (b *MIDIPortBackend) SendControl(channel, controller, value uint8) bool {
	return b.send(gomidi.ControlChange(channel, controller, value))
}

// Cleanup closes the port.
func (b *MIDIPortBackend) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port != nil {
		b.port.Close()
		b.port = nil
	}
	b.sender = nil
}
