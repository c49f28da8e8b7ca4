// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tapbeat/internal/capture"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sensitivityStep = 0.1
	beatFrame       = 50 * time.Millisecond
	beatDecay       = 0.7
	meterWidth      = 40
)

// Controller is the part of a capture session the monitor drives.
type Controller interface {
	Start(ctx context.Context)
	Stop()
	IsRunning() bool
	SetSensitivity(k float64)
	Sensitivity() float64
}

// StatusMsg carries a session status into the monitor.
type StatusMsg struct{ Status capture.Status }

// OnsetMsg carries one onset timestamp, in seconds on the session clock.
type OnsetMsg struct{ At float64 }

type beatTickMsg struct{}

type stoppedMsg struct{}

var (
	statusStyles = map[capture.Status]lipgloss.Style{
		capture.StatusGranted:     lipgloss.NewStyle().Foreground(lipgloss.Color("#25A065")).Bold(true),
		capture.StatusDenied:      lipgloss.NewStyle().Foreground(lipgloss.Color("#E5B567")).Bold(true),
		capture.StatusError:       lipgloss.NewStyle().Foreground(lipgloss.Color("#E05561")).Bold(true),
		capture.StatusUnsupported: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5B567")).Bold(true),
	}
	labelStyle = lipgloss.NewStyle().Width(16).Foreground(lipgloss.Color("#888888"))
)

type monitorKeys struct {
	Up     key.Binding
	Down   key.Binding
	Toggle key.Binding
	Quit   key.Binding
}

func (k monitorKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Toggle, k.Quit}
}

func (k monitorKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func newMonitorKeys() monitorKeys {
	return monitorKeys{
		Up:     key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "less sensitive")),
		Down:   key.NewBinding(key.WithKeys("-", "_"), key.WithHelp("-", "more sensitive")),
		Toggle: key.NewBinding(key.WithKeys("s", " "), key.WithHelp("s", "start/stop")),
		Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// MonitorModel shows live capture state: status, onset count, timing of the
// last onsets and a decaying beat meter.
type MonitorModel struct {
	ctx   context.Context
	ctl   Controller
	keys  monitorKeys
	help  help.Model
	meter progress.Model

	status      capture.Status
	hasStatus   bool
	onsets      int
	last, prev  float64
	beat        float64
	sensitivity float64
}

// NewMonitorModel creates a monitor over ctl. Capture starts when the
// program starts.
func NewMonitorModel(ctx context.Context, ctl Controller) MonitorModel {
	return MonitorModel{
		ctx:         ctx,
		ctl:         ctl,
		keys:        newMonitorKeys(),
		help:        help.New(),
		meter:       progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage(), progress.WithWidth(meterWidth)),
		sensitivity: ctl.Sensitivity(),
	}
}

func (m MonitorModel) Init() tea.Cmd {
	return tea.Batch(m.startCmd(), beatTick())
}

func (m MonitorModel) startCmd() tea.Cmd {
	ctx, ctl := m.ctx, m.ctl
	return func() tea.Msg {
		ctl.Start(ctx)
		return nil
	}
}

func (m MonitorModel) stopCmd() tea.Cmd {
	ctl := m.ctl
	return func() tea.Msg {
		ctl.Stop()
		return stoppedMsg{}
	}
}

func beatTick() tea.Cmd {
	return tea.Tick(beatFrame, func(time.Time) tea.Msg { return beatTickMsg{} })
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			m.ctl.SetSensitivity(m.ctl.Sensitivity() + sensitivityStep)
			m.sensitivity = m.ctl.Sensitivity()
		case key.Matches(msg, m.keys.Down):
			m.ctl.SetSensitivity(m.ctl.Sensitivity() - sensitivityStep)
			m.sensitivity = m.ctl.Sensitivity()
		case key.Matches(msg, m.keys.Toggle):
			if m.ctl.IsRunning() {
				return m, m.stopCmd()
			}
			return m, m.startCmd()
		}

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		m.meter.Width = min(meterWidth, max(msg.Width-4, 10))

	case StatusMsg:
		m.status = msg.Status
		m.hasStatus = true
		if msg.Status == capture.StatusGranted {
			m.onsets = 0
			m.last, m.prev = 0, 0
		}

	case OnsetMsg:
		m.onsets++
		m.prev, m.last = m.last, msg.At
		m.beat = 1

	case beatTickMsg:
		m.beat *= beatDecay
		if m.beat < 0.01 {
			m.beat = 0
		}
		return m, beatTick()
	}
	return m, nil
}

// Onsets returns how many onsets the current run has produced.
func (m MonitorModel) Onsets() int { return m.onsets }

// Beat returns the meter level in [0, 1].
func (m MonitorModel) Beat() float64 { return m.beat }

// Tempo returns the tempo implied by the last two onsets, or 0.
func (m MonitorModel) Tempo() float64 {
	if m.onsets < 2 || m.last <= m.prev {
		return 0
	}
	return 60 / (m.last - m.prev)
}

func (m MonitorModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("tapbeat"))
	sb.WriteString("\n\n")

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(label))
		sb.WriteString(value)
		sb.WriteString("\n")
	}

	row("Status", m.statusView())
	row("Sensitivity", fmt.Sprintf("%.1f", m.sensitivity))
	row("Onsets", fmt.Sprintf("%d", m.onsets))
	if m.onsets > 0 {
		row("Last onset", fmt.Sprintf("%.2fs", m.last))
	} else {
		row("Last onset", mutedStyle.Render("none"))
	}
	if tempo := m.Tempo(); tempo > 0 {
		row("Tempo", fmt.Sprintf("%.0f BPM", tempo))
	} else {
		row("Tempo", mutedStyle.Render("-"))
	}

	sb.WriteString("\n")
	sb.WriteString(m.meter.ViewAs(m.beat))
	sb.WriteString("\n\n")
	sb.WriteString(m.help.View(m.keys))
	return sb.String()
}

func (m MonitorModel) statusView() string {
	switch {
	case m.ctl.IsRunning():
		return statusStyles[capture.StatusGranted].Render("capturing")
	case !m.hasStatus:
		return mutedStyle.Render("starting")
	case m.status == capture.StatusGranted:
		return mutedStyle.Render("stopped")
	default:
		return statusStyles[m.status].Render(m.status.String())
	}
}

// Sink forwards session events into a running program. Events arriving
// while no program is attached are dropped.
type Sink struct {
	mu      sync.Mutex
	program *tea.Program
}

var _ capture.EventSink = (*Sink)(nil)

// Attach directs events at p; nil detaches.
func (s *Sink) Attach(p *tea.Program) {
	s.mu.Lock()
	s.program = p
	s.mu.Unlock()
}

func (s *Sink) OnSessionStatus(status capture.Status) {
	s.send(StatusMsg{Status: status})
}

func (s *Sink) OnOnset(timestampSeconds float64) {
	s.send(OnsetMsg{At: timestampSeconds})
}

func (s *Sink) send(msg tea.Msg) {
	s.mu.Lock()
	p := s.program
	s.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// RunMonitor runs the monitor full screen until the user quits or ctx is
// cancelled. sink must be the one wired into ctl's session.
func RunMonitor(ctx context.Context, ctl Controller, sink *Sink) error {
	p := tea.NewProgram(NewMonitorModel(ctx, ctl), tea.WithAltScreen(), tea.WithContext(ctx))
	sink.Attach(p)
	defer sink.Attach(nil)

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
