// internal/tui/dashboard.go
//
// Live dashboard for `apkalias watch --tui`. Outcomes arrive on a Feed and
// are turned into bubbletea messages; the model keeps a scrolling history in
// a viewport while a spinner shows the watcher is alive.

package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/apkalias/internal/renamer"
)

const (
	maxHistory   = 500
	feedCapacity = 256
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	copiedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).MarginTop(1)
	historyFrame = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// OutcomeMsg carries one renamer outcome for a stage.
type OutcomeMsg struct {
	Stage   string
	Outcome renamer.Outcome
	At      time.Time
}

// StatusMsg is a free-form status line.
type StatusMsg string

type feedClosedMsg struct{}

// Feed delivers messages from the watcher goroutine to the dashboard.
// Sends never block; when the buffer is full the message is dropped.
type Feed struct {
	mu     sync.Mutex
	ch     chan tea.Msg
	closed bool
	now    func() time.Time
}

// NewFeed creates an open feed.
func NewFeed() *Feed {
	return &Feed{ch: make(chan tea.Msg, feedCapacity), now: time.Now}
}

// Outcome publishes a renamer outcome.
func (f *Feed) Outcome(stage string, o renamer.Outcome) {
	f.send(OutcomeMsg{Stage: stage, Outcome: o, At: f.now()})
}

// Statusf publishes a formatted status line.
func (f *Feed) Statusf(format string, args ...any) {
	f.send(StatusMsg(fmt.Sprintf(format, args...)))
}

// Close ends the feed. Further sends are ignored.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.ch)
}

func (f *Feed) send(msg tea.Msg) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.ch <- msg:
	default:
	}
}

func (f *Feed) next() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-f.ch
		if !ok {
			return feedClosedMsg{}
		}
		return msg
	}
}

// Dashboard is the bubbletea model.
type Dashboard struct {
	title    string
	feed     *Feed
	spinner  spinner.Model
	viewport viewport.Model
	history  []string
	copied   int
	failed   int
	status   string
	ready    bool
	done     bool
	width    int
	height   int
}

// NewDashboard builds a dashboard reading from feed.
func NewDashboard(title string, feed *Feed) *Dashboard {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusStyle
	return &Dashboard{
		title:    title,
		feed:     feed,
		spinner:  sp,
		viewport: viewport.New(80, 20),
		status:   "waiting for build outputs",
	}
}

// Init starts the spinner and the feed reader.
func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(d.spinner.Tick, d.feed.next())
}

// Update handles keys, resizes, spinner ticks and feed messages.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			d.done = true
			return d, tea.Quit
		}
		var cmd tea.Cmd
		d.viewport, cmd = d.viewport.Update(msg)
		return d, cmd

	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		d.viewport.Width = max(20, msg.Width-4)
		d.viewport.Height = max(3, msg.Height-8)
		d.ready = true
		d.refresh()
		return d, nil

	case spinner.TickMsg:
		if d.done {
			return d, nil
		}
		var cmd tea.Cmd
		d.spinner, cmd = d.spinner.Update(msg)
		return d, cmd

	case OutcomeMsg:
		d.record(msg)
		return d, d.feed.next()

	case StatusMsg:
		d.status = string(msg)
		d.append(statusStyle.Render(string(msg)))
		return d, d.feed.next()

	case feedClosedMsg:
		d.done = true
		d.status = "watcher stopped"
		return d, nil
	}
	return d, nil
}

func (d *Dashboard) record(msg OutcomeMsg) {
	stamp := msg.At.Format("15:04:05")
	line := fmt.Sprintf("%s [%s] %s", stamp, msg.Stage, msg.Outcome.Line())
	if msg.Outcome.Status == renamer.StatusFailed {
		d.failed++
		d.append(failedStyle.Render(line))
		return
	}
	d.copied++
	d.append(copiedStyle.Render(line))
}

func (d *Dashboard) append(line string) {
	d.history = append(d.history, line)
	if len(d.history) > maxHistory {
		d.history = d.history[len(d.history)-maxHistory:]
	}
	d.refresh()
}

func (d *Dashboard) refresh() {
	d.viewport.SetContent(strings.Join(d.history, "\n"))
	d.viewport.GotoBottom()
}

// View renders the dashboard.
func (d *Dashboard) View() string {
	header := titleStyle.Render(fmt.Sprintf("⬡ %s", d.title))
	indicator := d.spinner.View()
	if d.done {
		indicator = "■"
	}
	counts := fmt.Sprintf("%s %s · %d copied · %d failed", indicator, d.status, d.copied, d.failed)
	body := d.viewport.View()
	if len(d.history) == 0 {
		body = statusStyle.Render("No artifacts copied yet.")
	}
	frame := historyFrame
	if d.ready {
		frame = frame.Width(max(20, d.width-2))
	}
	footer := footerStyle.Render("q quit · ↑/↓ scroll")
	return strings.Join([]string{header, counts, frame.Render(body), footer}, "\n")
}

// Counts returns the number of copied and failed outcomes seen so far.
func (d *Dashboard) Counts() (copied, failed int) {
	return d.copied, d.failed
}

// Run shows the dashboard until the user quits or ctx is cancelled.
func Run(ctx context.Context, d *Dashboard) error {
	program := tea.NewProgram(d, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
