package audio

import (
	"context"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"
)

// DeviceEvent is emitted when MIDI output ports appear or disappear.
type DeviceEvent struct {
	Type DeviceEventType
	Name string
}

type DeviceEventType int

const (
	DeviceConnected DeviceEventType = iota
	DeviceDisconnected
)

// DeviceWatcher polls the platform for MIDI output ports so routing and
// source lists can follow hot-plug events. Enumeration runs off the
// scheduling thread; consumers pick results up from the event channel.
type DeviceWatcher struct {
	log      *zap.Logger
	mu       sync.Mutex
	known    map[string]bool
	events   chan DeviceEvent
	pollRate time.Duration
}

// NewDeviceWatcher creates a watcher polling once per second.
func NewDeviceWatcher(log *zap.Logger) *DeviceWatcher {
	return &DeviceWatcher{
		log:      log,
		known:    make(map[string]bool),
		events:   make(chan DeviceEvent, 16),
		pollRate: time.Second,
	}
}

// Events returns the connect/disconnect event channel.
func (dw *DeviceWatcher) Events() <-chan DeviceEvent {
	return dw.events
}

// Run starts the polling loop (blocking - run in goroutine).
func (dw *DeviceWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(dw.pollRate)
	defer ticker.Stop()

	dw.scan()

	for {
		select {
		case <-ctx.Done():
			close(dw.events)
			return
		case <-ticker.C:
			dw.scan()
		}
	}
}

func (dw *DeviceWatcher) scan() {
	// Enumerate with a timeout; CoreMIDI can hang.
	ch := make(chan []string, 1)
	go func() {
		ports := gomidi.GetOutPorts()
		names := make([]string, 0, len(ports))
		for _, p := range ports {
			names = append(names, p.String())
		}
		ch <- names
	}()

	var names []string
	select {
	case names = <-ch:
	case <-time.After(3 * time.Second):
		// Port server is hung - skip this scan.
		return
	}

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		seen[name] = true
	}

	dw.mu.Lock()
	var added, removed []string
	for name := range seen {
		if !dw.known[name] {
			dw.known[name] = true
			added = append(added, name)
		}
	}
	for name := range dw.known {
		if !seen[name] {
			delete(dw.known, name)
			removed = append(removed, name)
		}
	}
	dw.mu.Unlock()

	for _, name := range added {
		dw.log.Info("MIDI port connected", zap.String("port", name))
		dw.emit(DeviceEvent{Type: DeviceConnected, Name: name})
	}
	for _, name := range removed {
		dw.log.Info("MIDI port disconnected", zap.String("port", name))
		dw.emit(DeviceEvent{Type: DeviceDisconnected, Name: name})
	}
}

func (dw *DeviceWatcher) emit(evt DeviceEvent) {
	select {
	case dw.events <- evt:
	default:
		// Drop if nobody is consuming fast enough.
	}
}
