// Package tui provides a Bubble Tea terminal user interface for pixiv-downloader.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/handiism/pixiv-downloader/internal/config"
	"github.com/handiism/pixiv-downloader/internal/model"
	broadcast "github.com/handiism/pixiv-downloader/internal/progress"
	"github.com/handiism/pixiv-downloader/internal/service"
	"github.com/handiism/pixiv-downloader/internal/task"
)

// Styles for the TUI
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#0096FA")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#95E1A3"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFE66D"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8DADC"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4ECDC4")).
			Padding(1, 2)

	artworkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8B500"))
)

var sizes = []string{model.SizeOriginal, model.SizeLarge, model.SizeMedium, model.SizeSquareMedium}

// State represents the current UI state.
type State int

const (
	StateInput State = iota
	StateStarting
	StateDownloading
	StatePaused
	StateComplete
	StateError
)

// Model is the Bubble Tea model for the TUI.
type Model struct {
	state     State
	textInput textinput.Model
	spinner   spinner.Model
	progress  progress.Model

	svc         *service.Service
	broadcaster *broadcast.Broadcaster
	settings    *config.Live

	ctx  context.Context
	task task.Task
	sub  *broadcast.Subscription
	logs []LogEntry
	err  error

	// Options
	skipExisting bool
	size         int
	verbose      bool

	width  int
	height int
}

// NewModel creates a new TUI model.
func NewModel(ctx context.Context, svc *service.Service, broadcaster *broadcast.Broadcaster, settings *config.Live) Model {
	ti := textinput.New()
	ti.Placeholder = "12345, artist:678, ranking:week or a pixiv URL"
	ti.Focus()
	ti.CharLimit = 500
	ti.Width = 60

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#0096FA"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 50

	s := settings.Get()
	size := 0
	for i, name := range sizes {
		if name == s.ImageSize {
			size = i
		}
	}

	return Model{
		state:        StateInput,
		textInput:    ti,
		spinner:      sp,
		progress:     prog,
		svc:          svc,
		broadcaster:  broadcaster,
		settings:     settings,
		ctx:          ctx,
		skipExisting: s.SkipExisting,
		size:         size,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Message types
type (
	// StartedMsg is sent once the task has been created and subscribed to.
	StartedMsg struct {
		Task task.Task
		Sub  *broadcast.Subscription
		Err  error
	}

	// TaskMsg carries a published task projection.
	TaskMsg struct {
		Task task.Task
	}

	// ActionMsg is the result of a pause, resume or cancel request. Sub is
	// set after a resume, since pausing closed the previous subscription.
	ActionMsg struct {
		Task task.Task
		Sub  *broadcast.Subscription
		Err  error
	}

	// streamClosedMsg is sent when a subscription ends.
	streamClosedMsg struct {
		sub *broadcast.Subscription
	}
)

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = min(max(msg.Width-20, 20), 80)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.state == StateDownloading {
				m.svc.Pause(m.task.ID)
			}
			m.unsubscribe()
			return m, tea.Quit

		case "esc":
			if m.state == StateInput {
				return m, tea.Quit
			}
			if m.state == StateDownloading || m.state == StatePaused {
				return m, m.action(m.svc.Cancel)
			}

		case "enter":
			if m.state == StateInput && m.textInput.Value() != "" {
				m.state = StateStarting
				return m, tea.Batch(m.start(m.textInput.Value()), m.spinner.Tick)
			}

		case "s":
			if m.state == StateInput {
				m.skipExisting = !m.skipExisting
				return m, nil
			}

		case "z":
			if m.state == StateInput {
				m.size = (m.size + 1) % len(sizes)
				return m, nil
			}

		case "v":
			if m.state == StateInput {
				m.verbose = !m.verbose
				return m, nil
			}

		case "p":
			if m.state == StateDownloading {
				return m, m.action(m.svc.Pause)
			}
			if m.state == StatePaused {
				return m, m.resume()
			}

		case "q":
			if m.state == StateComplete || m.state == StateError {
				m.unsubscribe()
				return m, tea.Quit
			}

		case "r":
			if m.state == StateComplete || m.state == StateError {
				m.unsubscribe()
				m.state = StateInput
				m.task = task.Task{}
				m.logs = nil
				m.err = nil
				m.textInput.SetValue("")
				m.textInput.Focus()
				return m, m.progress.SetPercent(0)
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case StartedMsg:
		if msg.Err != nil {
			m.state = StateError
			m.err = msg.Err
			break
		}
		m.sub = msg.Sub
		m.state = StateDownloading
		m.logs = append(m.logs, LogEntry{Message: "Started " + msg.Task.Label(), Level: LevelInfo})
		cmds = append(cmds, m.apply(msg.Task, true)...)

	case TaskMsg:
		cmds = append(cmds, m.apply(msg.Task, true)...)

	case ActionMsg:
		if msg.Err != nil {
			m.appendLogs(LogEntry{Message: msg.Err.Error(), Level: LevelError})
			break
		}
		if msg.Sub != nil {
			m.unsubscribe()
			m.sub = msg.Sub
			cmds = append(cmds, m.apply(msg.Task, true)...)
			break
		}
		cmds = append(cmds, m.apply(msg.Task, false)...)

	case streamClosedMsg:
		if m.sub == msg.sub {
			m.sub = nil
		}

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	// Update text input
	if m.state == StateInput {
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// apply folds a task projection into the model. wait re-arms the
// subscription reader; only messages that came from it may re-arm it.
func (m *Model) apply(t task.Task, wait bool) []tea.Cmd {
	if t.ID != "" && m.task.ID != "" && t.ID != m.task.ID {
		return nil
	}
	m.appendLogs(Events(m.task, t)...)
	m.task = t

	switch {
	case t.State.Terminal():
		m.state = StateComplete
		if t.State == task.StateFailed || t.State == task.StateCancelled {
			m.state = StateError
			m.err = fmt.Errorf("task %s", t.State)
			if t.Error != "" {
				m.err = fmt.Errorf("task %s: %s", t.State, t.Error)
			}
		}
	case t.State == task.StatePaused:
		m.state = StatePaused
	case t.State.Active():
		m.state = StateDownloading
	}

	cmds := []tea.Cmd{m.progress.SetPercent(float64(t.Progress()) / 100)}
	if wait && m.sub != nil && !t.State.Terminal() && t.State != task.StatePaused {
		cmds = append(cmds, waitForTask(m.sub))
	}
	return cmds
}

func (m *Model) appendLogs(entries ...LogEntry) {
	for _, e := range entries {
		if e.Level == LevelVerbose && !m.verbose {
			continue
		}
		m.logs = append(m.logs, e)
	}
	// Keep only last 10 logs
	if len(m.logs) > 10 {
		m.logs = m.logs[len(m.logs)-10:]
	}
}

func (m *Model) unsubscribe() {
	if m.sub != nil {
		m.broadcaster.Unsubscribe(m.sub)
		m.sub = nil
	}
}

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder

	// Header
	b.WriteString(titleStyle.Render("Pixiv Downloader"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Download artworks from pixiv"))
	b.WriteString("\n\n")

	switch m.state {
	case StateInput:
		b.WriteString(m.viewInput())
	case StateStarting:
		b.WriteString(m.viewStarting())
	case StateDownloading, StatePaused:
		b.WriteString(m.viewDownloading())
	case StateComplete:
		b.WriteString(m.viewComplete())
	case StateError:
		b.WriteString(m.viewError())
	}

	// Footer
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.getHelpText()))

	return b.String()
}

func check(on bool) string {
	if on {
		return "[x]"
	}
	return "[ ]"
}

func (m Model) viewInput() string {
	var b strings.Builder

	b.WriteString(subtitleStyle.Render("Enter artwork id, list, artist or ranking:"))
	b.WriteString("\n\n")
	b.WriteString(m.textInput.View())
	b.WriteString("\n\n")

	b.WriteString(infoStyle.Render("Options:"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  %s Skip downloaded artworks (s)\n", check(m.skipExisting)))
	b.WriteString(fmt.Sprintf("      Image size: %s (z)\n", sizes[m.size]))
	b.WriteString(fmt.Sprintf("  %s Verbose output (v)\n", check(m.verbose)))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("Download path: %s", m.settings.Get().DownloadsPath)))
	b.WriteString("\n")

	return b.String()
}

func (m Model) viewStarting() string {
	var b strings.Builder

	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(subtitleStyle.Render("Fetching artwork info..."))
	b.WriteString("\n\n")
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) viewDownloading() string {
	var b strings.Builder
	t := m.task

	b.WriteString(artworkStyle.Render(t.Label()))
	b.WriteString("\n\n")

	b.WriteString(m.progress.View())
	b.WriteString("\n")

	status := fmt.Sprintf("%s | Files: %d/%d", t.State, t.CompletedFiles, t.TotalFiles)
	if t.FailedFiles > 0 {
		status += fmt.Sprintf(" | Failed: %d", t.FailedFiles)
	}
	if t.SkippedCount > 0 {
		status += fmt.Sprintf(" | Skipped: %d", t.SkippedCount)
	}
	status += fmt.Sprintf(" | Downloaded: %.2f MB", float64(t.DownloadedBytes)/1024/1024)
	b.WriteString(infoStyle.Render(status))
	b.WriteString("\n\n")

	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) viewComplete() string {
	t := m.task
	text := fmt.Sprintf(
		"Download %s\n\n"+
			"Files: %d/%d\n"+
			"Failed: %d\n"+
			"Skipped: %d\n"+
			"Size: %.2f MB",
		t.State,
		t.CompletedFiles, t.TotalFiles,
		t.FailedFiles,
		t.SkippedCount,
		float64(t.DownloadedBytes)/1024/1024,
	)
	if t.Warning != "" {
		text += "\n\n" + warningStyle.Render(t.Warning)
	}
	return boxStyle.Render(text) + "\n\n" + m.renderLogs()
}

func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString(errorStyle.Render("Error occurred:"))
	b.WriteString("\n\n")
	if m.err != nil {
		b.WriteString(fmt.Sprintf("  %s", m.err.Error()))
		b.WriteString("\n\n")
	}
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) renderLogs() string {
	var b strings.Builder

	for _, log := range m.logs {
		var style lipgloss.Style
		prefix := "•"
		switch log.Level {
		case LevelError:
			style = errorStyle
			prefix = "✗"
		case LevelWarning:
			style = warningStyle
			prefix = "!"
		case LevelSuccess:
			style = successStyle
			prefix = "✓"
		case LevelInfo:
			style = infoStyle
			prefix = "›"
		default:
			style = dimStyle
		}
		b.WriteString(style.Render(prefix + " " + log.Message))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) getHelpText() string {
	switch m.state {
	case StateInput:
		return "enter: start • s: skip existing • z: size • v: verbose • esc: quit"
	case StateStarting:
		return "ctrl+c: quit"
	case StateDownloading:
		return "p: pause • esc: cancel • ctrl+c: pause and quit"
	case StatePaused:
		return "p: resume • esc: cancel • ctrl+c: quit"
	case StateComplete, StateError:
		return "r: new download • q: quit"
	}
	return ""
}

// start parses input, starts the task and subscribes to its progress.
func (m Model) start(input string) tea.Cmd {
	skip := m.skipExisting
	req := service.Request{Size: sizes[m.size], SkipExisting: &skip}
	return func() tea.Msg {
		target, err := service.ParseTarget(input)
		if err != nil {
			return StartedMsg{Err: err}
		}
		t, err := m.svc.Start(m.ctx, target, req)
		if err != nil {
			return StartedMsg{Err: err}
		}

		sub := m.broadcaster.Subscribe(t.ID)
		// re-read so a change published before Subscribe is not lost
		if cur, err := m.svc.Task(t.ID); err == nil {
			t = cur
		}
		return StartedMsg{Task: t, Sub: sub}
	}
}

func (m Model) action(fn func(id string) (task.Task, error)) tea.Cmd {
	id := m.task.ID
	return func() tea.Msg {
		t, err := fn(id)
		return ActionMsg{Task: t, Err: err}
	}
}

// resume restarts the task and subscribes again.
func (m Model) resume() tea.Cmd {
	id := m.task.ID
	return func() tea.Msg {
		t, err := m.svc.Resume(m.ctx, id)
		if err != nil {
			return ActionMsg{Task: t, Err: err}
		}
		sub := m.broadcaster.Subscribe(id)
		if cur, err := m.svc.Task(id); err == nil {
			t = cur
		}
		return ActionMsg{Task: t, Sub: sub}
	}
}

func waitForTask(sub *broadcast.Subscription) tea.Cmd {
	return func() tea.Msg {
		t, ok := <-sub.C
		if !ok {
			return streamClosedMsg{sub: sub}
		}
		return TaskMsg{Task: t}
	}
}

// Run starts the TUI application.
func Run(ctx context.Context, svc *service.Service, broadcaster *broadcast.Broadcaster, settings *config.Live) error {
	p := tea.NewProgram(NewModel(ctx, svc, broadcaster, settings), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
