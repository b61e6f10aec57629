package progress

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/caspian/internal/nodeinit"
)

// updateMsg carries drained bridge updates into the model.
type updateMsg []nodeinit.Progress

// Model is a bubbletea model that shows one line per init job and quits once
// every followed job is ready or failed.
type Model struct {
	bridge      *Bridge
	tracker     *tracker
	spinner     spinner.Model
	title       string
	width       int
	quitting    bool
	interrupted bool
}

// Option configures a Model or a plain run.
type Option func(*config)

type config struct {
	title   string
	names   map[string]string
	resolve Resolver
}

// Resolver reports the outcome of a followed job whose record was already
// gone when the view started. Returning false, or a step that is not ready
// or failed, marks the job failed.
type Resolver func(nodeID string) (nodeinit.Progress, bool)

// WithTitle sets the heading shown above the jobs.
func WithTitle(title string) Option {
	return func(c *config) { c.title = title }
}

// WithNames maps node IDs to display names.
func WithNames(names map[string]string) Option {
	return func(c *config) { c.names = names }
}

// WithResolver sets how jobs that finished before the view subscribed are
// reported.
func WithResolver(r Resolver) Option {
	return func(c *config) { c.resolve = r }
}

func buildConfig(opts []Option) config {
	c := config{title: "Preparing worktrees"}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// NewModel creates a Model following nodeIDs, or every job if nodeIDs is
// empty.
func NewModel(bridge *Bridge, nodeIDs []string, opts ...Option) Model {
	cfg := buildConfig(opts)
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle
	t := newTracker(nodeIDs, cfg.names)
	t.resolve = cfg.resolve
	return Model{
		bridge:  bridge,
		tracker: t,
		spinner: s,
		title:   cfg.title,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForUpdate())
}

func (m Model) waitForUpdate() tea.Cmd {
	b := m.bridge
	return func() tea.Msg {
		select {
		case <-b.Ready():
			return updateMsg(b.Drain())
		case <-b.Done():
			return nil
		}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.interrupted = true
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case updateMsg:
		for _, p := range msg {
			m.tracker.apply(p)
		}
		m.tracker.settle()
		if m.tracker.finished() {
			m.quitting = true
			return m, tea.Quit
		}
		return m, m.waitForUpdate()

	case spinner.TickMsg:
		if m.quitting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")

	nameWidth := 0
	for _, id := range m.tracker.order {
		nameWidth = max(nameWidth, lipgloss.Width(m.tracker.name(id)))
	}

	for _, id := range m.tracker.order {
		name := nameStyle.Render(fmt.Sprintf("%-*s", nameWidth, m.tracker.name(id)))
		p, ok := m.tracker.jobs[id]
		if !ok {
			fmt.Fprintf(&b, "  %s %s  %s\n", mutedStyle.Render("·"), name, mutedStyle.Render("waiting"))
			continue
		}
		line := fmt.Sprintf("  %s %s  %s  %s", m.icon(p), name, stepStyle.Render(p.Step.String()), describe(p))
		b.WriteString(Truncate(line, m.width))
		b.WriteString("\n")
		if p.Step == nodeinit.StepFailed && p.Error != "" {
			b.WriteString(Truncate("    "+errorStyle.Render(p.Error), m.width))
			b.WriteString("\n")
		}
	}

	if !m.quitting {
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("q: stop waiting"))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) icon(p nodeinit.Progress) string {
	switch p.Step {
	case nodeinit.StepReady:
		return readyStyle.Render("✓")
	case nodeinit.StepFailed:
		return errorStyle.Render("✗")
	case nodeinit.StepRetrying:
		return retryStyle.Render(m.spinner.View())
	default:
		return m.spinner.View()
	}
}

// Results returns the last known progress of each followed job.
func (m Model) Results() []nodeinit.Progress { return m.tracker.results() }

// Finished reports whether every followed job is ready or failed.
func (m Model) Finished() bool { return m.tracker.finished() }

// Interrupted reports whether the user quit before the jobs finished.
func (m Model) Interrupted() bool { return m.interrupted }
