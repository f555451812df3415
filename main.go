package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"go-roll/audio"
	"go-roll/config"
	"go-roll/logging"
	"go-roll/playback"
	"go-roll/routing"
	"go-roll/song"
	"go-roll/synth"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	log, closeLog, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		fmt.Printf("Logging error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	synthParams := synth.DefaultParams()
	if cfg.Audio.SampleRate > 0 {
		synthParams.SampleRate = cfg.Audio.SampleRate
	}
	if cfg.Audio.Gain > 0 {
		synthParams.Gain = cfg.Audio.Gain
	}

	// Backend preference chain: software synth first, raw MIDI port as the
	// silent fallback.
	engine := audio.NewEngine(log,
		synth.New(synthParams),
		audio.NewMIDIPortBackend(log, cfg.Audio.PreferredPort),
	)
	if err := engine.Initialize(); err != nil {
		log.Warn("no audio backend started, playback will be silent")
	}
	defer engine.Cleanup()

	sources := audio.NewSourceManager(log, cfg.Audio.SoundfontDir)
	instances := audio.NewTrackInstances(log, sources, func() audio.Backend {
		return synth.New(synthParams)
	})
	defer instances.CleanupAll()

	fanout := routing.NewFanoutRouter(log, engine, fanoutSettings(cfg))
	defer fanout.DisconnectAll()
	connectSecondaries(fanout)

	coordinator := routing.NewCoordinator(log, fanout, instances, sources)
	if err := coordinator.Initialize(); err != nil {
		fmt.Printf("Routing error: %v\n", err)
		os.Exit(1)
	}
	defer coordinator.ReleaseAll()

	project := song.NewProject()
	if cfg.Playback.TicksPerBeat > 0 {
		project.TicksPerBeat = cfg.Playback.TicksPerBeat
	}
	if cfg.Playback.Tempo > 0 {
		project.TempoMap.SetBPMAt(0, cfg.Playback.Tempo)
	}
	sources.AssignSourceToTrack(0, audio.SourceIDInternal)
	sources.SetTrackProgram(0, 0)

	scheduler := playback.NewScheduler(log, coordinator)
	scheduler.SetProject(project, false)
	scheduler.Start()
	defer scheduler.Shutdown()

	// Hot-plug watcher: sources follow devices appearing and vanishing.
	watcher := audio.NewDeviceWatcher(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Run(ctx)

	m := newModel(project, scheduler, coordinator, sources, watcher)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	cfg.Playback.Tempo = scheduler.BPM()
	if err := cfg.Save(); err != nil {
		log.Warn("config save failed")
	}
}

func fanoutSettings(cfg *config.Config) routing.FanoutSettings {
	s := routing.FanoutSettings{
		Primary:               routing.DeviceID(cfg.Routing.Primary),
		EnableInternalAudio:   cfg.Routing.EnableInternalAudio,
		EnableExternalRouting: cfg.Routing.EnableExternalRouting,
	}
	if s.Primary == "" {
		s.Primary = routing.DeviceInternal
	}
	for _, id := range cfg.Routing.Secondaries {
		s.Secondaries = append(s.Secondaries, routing.DeviceID(id))
	}
	return s
}

// connectSecondaries opens the configured external destinations; a device
// that is not present yet just stays disconnected.
func connectSecondaries(fr *routing.FanoutRouter) {
	fr.ScanDevices()
	settings := fr.Settings()
	for _, id := range append([]routing.DeviceID{settings.Primary}, settings.Secondaries...) {
		if id == routing.DeviceInternal {
			continue
		}
		_ = fr.Connect(id)
	}
}
