// Package ui renders conversion progress in the terminal.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"x2trace/internal/convert"
)

// Share of the bar owned by per-file work; the rest tracks symbolize and
// write, which run once over all files.
const fileShare = 0.7

type progressModel struct {
	title      string
	events     <-chan convert.Event
	spinner    spinner.Model
	prog       progress.Model
	items      []fileItem
	index      map[string]int
	stageLabel string
	runStage   float64
	width      int
	done       bool
	failed     bool
}

type fileItem struct {
	path     string
	status   string
	progress float64
}

type eventMsg convert.Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model that renders conversion
// progress for files until events is closed.
func NewProgressModel(title string, files []string, events <-chan convert.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	items := make([]fileItem, 0, len(files))
	index := make(map[string]int, len(files))
	for i, file := range files {
		items = append(items, fileItem{path: file, status: string(convert.StatusQueued)})
		index[file] = i
	}
	return &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		items:   items,
		index:   index,
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(convert.Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case progress.FrameMsg:
		progressModel, cmd := m.prog.Update(msg)
		m.prog = progressModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	if len(m.items) == 0 {
		return ""
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := m.title
	if m.stageLabel != "" {
		header = fmt.Sprintf("%s (%s)", header, m.stageLabel)
	}
	switch {
	case m.done && m.failed:
		header = fmt.Sprintf("failed: %s", header)
	case m.done:
		header = fmt.Sprintf("done: %s", header)
	default:
		header = fmt.Sprintf("%s %s", m.spinner.View(), header)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	statusWidth := 12
	nameWidth := max(m.width-statusWidth-4, 20)

	for _, item := range m.items {
		name := truncate(item.path, nameWidth)
		statusStyled := styleStatus(item.status).Render(fmt.Sprintf("%12s", item.status))
		b.WriteString(fmt.Sprintf("  %s %s", statusStyled, name))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.done && !m.failed {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")

	return b.String()
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) applyEvent(ev convert.Event) tea.Cmd {
	if ev.Status == convert.StatusError {
		m.failed = true
	}
	if ev.File == "" {
		if label := stageLabel(ev.Stage, ev.Status); label != "" {
			m.stageLabel = label
		}
		if ev.Status == convert.StatusDone || ev.Status == convert.StatusSkipped {
			m.runStage = max(m.runStage, runProgress(ev.Stage))
		}
		return m.prog.SetPercent(m.percent())
	}

	idx, ok := m.index[ev.File]
	if !ok {
		return nil
	}
	item := &m.items[idx]
	item.status = fileStatus(ev.Stage, ev.Status)
	item.progress = fileProgress(ev.Stage, ev.Status)
	return m.prog.SetPercent(m.percent())
}

func (m *progressModel) percent() float64 {
	if len(m.items) == 0 {
		return m.runStage
	}
	total := 0.0
	for _, item := range m.items {
		total += item.progress
	}
	return fileShare*total/float64(len(m.items)) + m.runStage
}

// fileProgress is how far one file is through read and decode.
func fileProgress(stage convert.Stage, status convert.Status) float64 {
	switch {
	case status == convert.StatusError, status == convert.StatusSkipped:
		return 1.0
	case stage == convert.StageRead && status == convert.StatusWorking:
		return 0.1
	case stage == convert.StageRead && status == convert.StatusDone:
		return 0.4
	case stage == convert.StageDecode && status == convert.StatusWorking:
		return 0.5
	case stage == convert.StageDecode && status == convert.StatusDone:
		return 1.0
	}
	return 0.0
}

func runProgress(stage convert.Stage) float64 {
	switch stage {
	case convert.StageSymbolize:
		return (1 - fileShare) * 0.6
	case convert.StageWrite:
		return 1 - fileShare
	}
	return 0.0
}

func fileStatus(stage convert.Stage, status convert.Status) string {
	switch status {
	case convert.StatusWorking:
		return stageLabel(stage, status)
	case convert.StatusDone:
		if stage == convert.StageDecode {
			return "done"
		}
		return "read"
	}
	return string(status)
}

func stageLabel(stage convert.Stage, status convert.Status) string {
	if status != convert.StatusWorking {
		return ""
	}
	switch stage {
	case convert.StageRead:
		return "reading"
	case convert.StageDecode:
		return "decoding"
	case convert.StageSymbolize:
		return "symbolizing"
	case convert.StageWrite:
		return "writing"
	default:
		return ""
	}
}

func styleStatus(status string) lipgloss.Style {
	switch status {
	case "done":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case "error":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case "skipped":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	case "reading", "read", "decoding", "symbolizing", "writing":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
