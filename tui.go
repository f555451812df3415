package main

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"go-roll/audio"
	"go-roll/playback"
	"go-roll/routing"
	"go-roll/song"
)

var (
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#555"))
	activeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#fff"))
	cursorStyle   = lipgloss.NewStyle().Background(lipgloss.Color("#444"))
	playheadStyle = lipgloss.NewStyle().Reverse(true)
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888"))
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#8af")).Width(10)
)

// Grid geometry: one column per sixteenth note.
const (
	gridColumns = 64
	noteLength  = 240 // default note duration in ticks
)

type model struct {
	project     *song.Project
	scheduler   *playback.Scheduler
	coordinator *routing.Coordinator
	sources     *audio.SourceManager
	watcher     *audio.DeviceWatcher

	cursorCol   int
	cursorTrack int
	cursorPitch uint8
	playTick    uint64
	quitting    bool
}

func newModel(project *song.Project, sched *playback.Scheduler, coord *routing.Coordinator,
	sources *audio.SourceManager, watcher *audio.DeviceWatcher) model {
	return model{
		project:     project,
		scheduler:   sched,
		coordinator: coord,
		sources:     sources,
		watcher:     watcher,
		cursorPitch: 60,
	}
}

type notifyMsg playback.Notification
type deviceMsg audio.DeviceEvent

func listenNotifications(s *playback.Scheduler) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-s.Notifications()
		if !ok {
			return nil
		}
		return notifyMsg(n)
	}
}

func listenDevices(w *audio.DeviceWatcher) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-w.Events()
		if !ok {
			return nil
		}
		return deviceMsg(evt)
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(listenNotifications(m.scheduler), listenDevices(m.watcher))
}

func (m model) colWidth() uint64 {
	return uint64(m.project.TicksPerBeat / 4)
}

func (m model) cursorTick() uint64 {
	return uint64(m.cursorCol) * m.colWidth()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case "h", "left":
			if m.cursorCol > 0 {
				m.cursorCol--
			}

		case "l", "right":
			if m.cursorCol < gridColumns-1 {
				m.cursorCol++
			}

		case "j", "down":
			if m.cursorTrack < len(m.project.Tracks)-1 {
				m.cursorTrack++
			}

		case "k", "up":
			if m.cursorTrack > 0 {
				m.cursorTrack--
			}

		case "J": // pitch down
			if m.cursorPitch > 0 {
				m.cursorPitch--
			}

		case "K": // pitch up
			if m.cursorPitch < 127 {
				m.cursorPitch++
			}

		case "n":
			m.toggleNote()

		case "a":
			m.coordinator.PlayPreview(m.cursorTrack, m.cursorPitch, 100)

		case " ":
			m.scheduler.TogglePlayback()

		case "s":
			m.scheduler.Stop()

		case "g":
			m.scheduler.SeekToTick(m.cursorTick())

		case "t":
			name := fmt.Sprintf("Track %d", len(m.project.Tracks)+1)
			m.project.AddTrack(song.NewTrack(name, 0))

		case "tab":
			m.cycleSource()

		case "+", "=":
			m.scheduler.SetTempo(m.scheduler.BPM() + 5)

		case "-", "_":
			m.scheduler.SetTempo(m.scheduler.BPM() - 5)

		case "r":
			m.sources.Refresh()
		}

	case notifyMsg:
		m.playTick = msg.Tick
		return m, listenNotifications(m.scheduler)

	case deviceMsg:
		// Hot-plug: rescan sources so the track assignment list is live.
		m.sources.Refresh()
		return m, listenDevices(m.watcher)
	}

	return m, nil
}

// toggleNote adds a note at the cursor, or removes the one already there.
func (m *model) toggleNote() {
	track := m.project.Tracks[m.cursorTrack]
	tick := m.cursorTick()

	removed := false
	for _, n := range track.Notes {
		if n.StartTick == tick && n.Pitch == m.cursorPitch {
			track.RemoveNote(n)
			removed = true
			break
		}
	}
	if !removed {
		track.AddNote(song.Note{
			Pitch:     m.cursorPitch,
			StartTick: tick,
			EndTick:   tick + noteLength,
			Velocity:  100,
		})
	}
	m.scheduler.SetProject(m.project, true)
}

// cycleSource assigns the next discovered source to the current track.
func (m *model) cycleSource() {
	srcs := m.sources.Sources()
	sort.Slice(srcs, func(i, j int) bool { return srcs[i].ID < srcs[j].ID })
	if len(srcs) == 0 {
		return
	}

	current := m.sources.TrackSource(m.cursorTrack)
	next := 0
	for i, s := range srcs {
		if s.ID == current.ID {
			next = (i + 1) % len(srcs)
			break
		}
	}
	m.sources.AssignSourceToTrack(m.cursorTrack, srcs[next].ID)
	if srcs[next].Type == audio.SourceNone {
		m.sources.ClearTrackProgram(m.cursorTrack)
	} else {
		m.sources.SetTrackProgram(m.cursorTrack, 0)
	}
	if _, err := m.coordinator.RefreshTrackRoute(m.cursorTrack); err != nil {
		return
	}
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	colTicks := m.colWidth()
	playCol := int(m.playTick / colTicks)
	playing := m.scheduler.State() == playback.Playing

	for ti, track := range m.project.Tracks {
		b.WriteString(labelStyle.Render(track.Name))
		notes := track.Notes
		for col := 0; col < gridColumns; col++ {
			start := uint64(col) * colTicks
			end := start + colTicks

			char := "·"
			if col%16 == 0 {
				char = "|"
			}
			style := dimStyle
			for _, n := range notes {
				if n.StartTick < end && n.EndTick > start {
					char = "█"
					style = activeStyle
					break
				}
			}
			if ti == m.cursorTrack && col == m.cursorCol {
				style = style.Inherit(cursorStyle)
			}
			if playing && col == playCol {
				style = playheadStyle
			}
			b.WriteString(style.Render(char))
		}
		b.WriteString("\n")
	}

	src := m.sources.TrackSource(m.cursorTrack)
	status := fmt.Sprintf("%s  tick %d  %.0f bpm  pitch %d  trk %d/%d: %s",
		m.scheduler.State(), m.playTick, m.scheduler.BPM(), m.cursorPitch,
		m.cursorTrack+1, len(m.project.Tracks), src.Name)
	help := "space play/pause · s stop · g seek · n note · a audition · tab source · t track · +/- tempo · q quit"

	b.WriteString("\n")
	b.WriteString(statusStyle.Render(status))
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(help))
	b.WriteString("\n")
	return b.String()
}
