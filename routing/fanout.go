package routing

import (
	"fmt"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"go.uber.org/zap"

	"go-roll/audio"
)

// DeviceID identifies a fan-out destination.
type DeviceID string

// DeviceInternal is the built-in destination: messages delivered to the
// in-process audio engine instead of a MIDI port.
const DeviceInternal DeviceID = "internal"

// OutputDevice describes one fan-out destination.
type OutputDevice struct {
	ID        DeviceID
	Name      string
	PortName  string // external devices only
	External  bool
	Connected bool
}

// FanoutSettings selects which destinations receive messages.
type FanoutSettings struct {
	Primary               DeviceID
	Secondaries           []DeviceID
	EnableInternalAudio   bool
	EnableExternalRouting bool
}

// DefaultFanoutSettings routes to the internal engine only.
func DefaultFanoutSettings() FanoutSettings {
	return FanoutSettings{
		Primary:             DeviceInternal,
		EnableInternalAudio: true,
	}
}

// FanoutRouter broadcasts note messages to a primary destination plus any
// number of secondaries. Messages travel as raw MIDI bytes so external
// ports and the internal engine see the identical stream.
type FanoutRouter struct {
	log    *zap.Logger
	engine NoteOutput

	mu       sync.Mutex
	settings FanoutSettings
	devices  map[DeviceID]*OutputDevice
	senders  map[DeviceID]func(gomidi.Message) error
	ports    map[DeviceID]drivers.Out
}

// NewFanoutRouter creates a router delivering internal messages to engine.
func NewFanoutRouter(log *zap.Logger, engine NoteOutput, settings FanoutSettings) *FanoutRouter {
	fr := &FanoutRouter{
		log:      log,
		engine:   engine,
		settings: settings,
		devices:  make(map[DeviceID]*OutputDevice),
		senders:  make(map[DeviceID]func(gomidi.Message) error),
		ports:    make(map[DeviceID]drivers.Out),
	}
	fr.devices[DeviceInternal] = &OutputDevice{
		ID:        DeviceInternal,
		Name:      "Internal Audio",
		Connected: true,
	}
	return fr
}

// ScanDevices refreshes the device list from the platform and returns a
// snapshot. Connected devices that vanished stay listed as disconnected.
func (fr *FanoutRouter) ScanDevices() []OutputDevice {
	ports := gomidi.GetOutPorts()

	fr.mu.Lock()
	defer fr.mu.Unlock()

	seen := map[DeviceID]bool{DeviceInternal: true}
	for i, port := range ports {
		id := DeviceID(fmt.Sprintf("midi_out_%d", i))
		seen[id] = true
		if dev, ok := fr.devices[id]; ok {
			dev.Name = audio.CleanPortName(port.String(), i)
			dev.PortName = port.String()
			continue
		}
		fr.devices[id] = &OutputDevice{
			ID:       id,
			Name:     audio.CleanPortName(port.String(), i),
			PortName: port.String(),
			External: true,
		}
	}
	for id, dev := range fr.devices {
		if !seen[id] && dev.External {
			if dev.Connected {
				fr.disconnectLocked(id)
			}
			delete(fr.devices, id)
		}
	}

	out := make([]OutputDevice, 0, len(fr.devices))
	for _, dev := range fr.devices {
		out = append(out, *dev)
	}
	return out
}

// Connect opens the port behind a device. Connecting a device that is
// already connected is a no-op, not an error.
func (fr *FanoutRouter) Connect(id DeviceID) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	dev, ok := fr.devices[id]
	if !ok {
		return fmt.Errorf("fanout: unknown device %q", id)
	}
	if dev.Connected {
		return nil
	}
	if !dev.External {
		dev.Connected = true
		return nil
	}

	port, err := gomidi.FindOutPort(dev.PortName)
	if err != nil {
		return fmt.Errorf("fanout: find port %q: %w", dev.PortName, err)
	}
	sender, err := gomidi.SendTo(port)
	if err != nil {
		return fmt.Errorf("fanout: open port %q: %w", dev.PortName, err)
	}
	fr.ports[id] = port
	fr.senders[id] = sender
	dev.Connected = true
	fr.log.Info("fanout destination connected", zap.String("device", dev.Name))
	return nil
}

// Disconnect closes the port behind a device.
func (fr *FanoutRouter) Disconnect(id DeviceID) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.disconnectLocked(id)
}

func (fr *FanoutRouter) disconnectLocked(id DeviceID) {
	dev, ok := fr.devices[id]
	if !ok || !dev.Connected {
		return
	}
	if port, has := fr.ports[id]; has {
		port.Close()
		delete(fr.ports, id)
	}
	delete(fr.senders, id)
	if dev.External {
		dev.Connected = false
	}
}

// DisconnectAll closes every external port.
func (fr *FanoutRouter) DisconnectAll() {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	for id := range fr.devices {
		fr.disconnectLocked(id)
	}
}

// Settings returns the current routing settings.
func (fr *FanoutRouter) Settings() FanoutSettings {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.settings
}

// SetSettings replaces the routing settings.
func (fr *FanoutRouter) SetSettings(s FanoutSettings) {
	fr.mu.Lock()
	fr.settings = s
	fr.mu.Unlock()
}

// targetsLocked resolves the destinations that should receive a message
// under the current settings and enable flags.
func (fr *FanoutRouter) targetsLocked() []DeviceID {
	candidates := append([]DeviceID{fr.settings.Primary}, fr.settings.Secondaries...)
	var out []DeviceID
	seen := make(map[DeviceID]bool, len(candidates))
	for _, id := range candidates {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if id == DeviceInternal {
			if fr.settings.EnableInternalAudio {
				out = append(out, id)
			}
			continue
		}
		if fr.settings.EnableExternalRouting {
			out = append(out, id)
		}
	}
	return out
}

// SendMessage delivers raw MIDI bytes to a single destination.
func (fr *FanoutRouter) SendMessage(msg []byte, target DeviceID) error {
	fr.mu.Lock()
	sender := fr.senders[target]
	fr.mu.Unlock()

	if target == DeviceInternal {
		if fr.deliverInternal(msg) {
			return nil
		}
		return fmt.Errorf("fanout: internal engine rejected message")
	}
	if sender == nil {
		return fmt.Errorf("fanout: device %q not connected", target)
	}
	if err := sender(gomidi.Message(msg)); err != nil {
		return fmt.Errorf("fanout: send to %q: %w", target, err)
	}
	return nil
}

// deliverInternal decodes the byte message for the in-process engine.
func (fr *FanoutRouter) deliverInternal(msg []byte) bool {
	if len(msg) < 2 || fr.engine == nil {
		return false
	}
	channel := msg[0] & 0x0f
	switch msg[0] & 0xf0 {
	case 0x90:
		if len(msg) < 3 {
			return false
		}
		if msg[2] == 0 {
			return fr.engine.StopNoteImmediate(msg[1], channel)
		}
		return fr.engine.PlayNoteImmediate(msg[1], msg[2], channel)
	case 0x80:
		return fr.engine.StopNoteImmediate(msg[1], channel)
	case 0xc0:
		return fr.engine.SetProgram(channel, msg[1])
	case 0xb0:
		if len(msg) < 3 {
			return false
		}
		return fr.engine.SendControl(channel, msg[1], msg[2])
	default:
		return false
	}
}

func (fr *FanoutRouter) broadcast(msg []byte) bool {
	fr.mu.Lock()
	targets := fr.targetsLocked()
	fr.mu.Unlock()

	sent := false
	for _, id := range targets {
		if err := fr.SendMessage(msg, id); err != nil {
			fr.log.Warn("fanout delivery failed",
				zap.String("device", string(id)), zap.Error(err))
			continue
		}
		sent = true
	}
	return sent
}

func clamp7(v uint8) uint8 { return v & 0x7f }

// PlayNote broadcasts a note-on.
func (fr *FanoutRouter) PlayNote(channel, pitch, velocity uint8) bool {
	return fr.broadcast([]byte{0x90 | (channel & 0x0f), clamp7(pitch), clamp7(velocity)})
}

// StopNote broadcasts a note-off.
func (fr *FanoutRouter) StopNote(channel, pitch uint8) bool {
	return fr.broadcast([]byte{0x80 | (channel & 0x0f), clamp7(pitch), 0})
}

// SendProgramChange broadcasts a program change.
func (fr *FanoutRouter) SendProgramChange(channel, program uint8) bool {
	return fr.broadcast([]byte{0xc0 | (channel & 0x0f), clamp7(program)})
}

// SendControlChange broadcasts a control change.
func (fr *FanoutRouter) SendControlChange(channel, controller, value uint8) bool {
	return fr.broadcast([]byte{0xb0 | (channel & 0x0f), clamp7(controller), clamp7(value)})
}

// NoteOutput adapter. The coordinator sits on top of the router so every
// scheduled note reaches the secondaries along with the internal engine.

func (fr *FanoutRouter) PlayNoteImmediate(pitch, velocity, channel uint8) bool {
	return fr.PlayNote(channel, pitch, velocity)
}

func (fr *FanoutRouter) StopNoteImmediate(pitch, channel uint8) bool {
	return fr.StopNote(channel, pitch)
}

func (fr *FanoutRouter) SetProgram(channel, program uint8) bool {
	return fr.SendProgramChange(channel, program)
}

func (fr *FanoutRouter) SendControl(channel, controller, value uint8) bool {
	return fr.SendControlChange(channel, controller, value)
}

// PlayPreview delivers a self-terminating note to the internal engine
// only. Externals are excluded: a preview has no scheduled note-off, and
// the engine's sweeper cannot reach a remote device.
func (fr *FanoutRouter) PlayPreview(pitch, velocity, channel uint8) bool {
	fr.mu.Lock()
	enabled := fr.settings.EnableInternalAudio
	fr.mu.Unlock()
	if !enabled || fr.engine == nil {
		return false
	}
	return fr.engine.PlayPreview(pitch, velocity, channel)
}
