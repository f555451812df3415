// rolldiag is a terminal-free diagnostic for audio setup problems: list
// ports, dump discovered sources, watch hot-plug events, send a test note.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.uber.org/zap"

	"go-roll/audio"
	"go-roll/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "ports":
		listPorts()
	case "sources":
		listSources()
	case "note":
		sendNote()
	case "poll":
		pollDevices()
	default:
		usage()
	}
}

func usage() {
	fmt.Println("go-roll diagnostics")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  ports    - List MIDI output ports")
	fmt.Println("  sources  - List discovered audio sources")
	fmt.Println("  note     - Send a test note to the first output port")
	fmt.Println("  poll     - Watch for device hot-plug events (ctrl+c to stop)")
}

func listPorts() {
	fmt.Println("=== MIDI Output Ports ===")
	fmt.Println("(waiting up to 3 seconds...)")

	ch := make(chan []drivers.Out, 1)
	go func() {
		ch <- gomidi.GetOutPorts()
	}()

	select {
	case outs := <-ch:
		if len(outs) == 0 {
			fmt.Println("No output ports found")
			return
		}
		for i, out := range outs {
			fmt.Printf("  [%d] %s\n", i, audio.CleanPortName(out.String(), i))
		}
	case <-time.After(3 * time.Second):
		fmt.Println("Timed out - MIDI port server may be hung")
	}
}

func listSources() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	sm := audio.NewSourceManager(zap.NewNop(), cfg.Audio.SoundfontDir)
	fmt.Println("=== Audio Sources ===")
	for _, src := range sm.Sources() {
		fmt.Printf("  %-20s %-14s %s\n", src.ID, src.Type, src.Name)
	}
}

func sendNote() {
	log, _ := zap.NewDevelopment()
	b := audio.NewMIDIPortBackend(log, "")
	if err := b.Initialize(); err != nil {
		fmt.Printf("No output port: %v\n", err)
		os.Exit(1)
	}
	defer b.Cleanup()

	fmt.Println("Sending middle C for one second...")
	b.PlayNote(0, 60, 100)
	time.Sleep(time.Second)
	b.StopNote(0, 60)
	fmt.Println("Done")
}

func pollDevices() {
	fmt.Println("Watching for device changes (ctrl+c to stop)...")

	watcher := audio.NewDeviceWatcher(zap.NewNop())
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	go watcher.Run(ctx)

	for evt := range watcher.Events() {
		switch evt.Type {
		case audio.DeviceConnected:
			fmt.Printf("+ %s\n", evt.Name)
		case audio.DeviceDisconnected:
			fmt.Printf("- %s\n", evt.Name)
		}
	}
}
