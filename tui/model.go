// ABOUTME: Bubble Tea model for the storyboard run viewer: per-scene status, node activity, event log.
// ABOUTME: A spinner marks active scenes; the run result or failure closes the loop.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/storyboard/pipeline"
)

// maxLogLines bounds the in-memory event log shown in the lower pane.
const maxLogLines = 12

// sceneRow tracks one scene's display state.
type sceneRow struct {
	id     string
	status string
	node   string
}

// Model is the run viewer's Bubble Tea model.
type Model struct {
	bridge *EventBridge
	runner *pipeline.Runner
	req    pipeline.StoryRequest
	ctx    context.Context
	cancel context.CancelFunc

	spin   spinner.Model
	scenes map[string]*sceneRow
	order  []string
	log    []string

	result *pipeline.StoryResult
	err    error
	done   bool
	width  int
}

// NewModel creates a run viewer that will execute the given story request.
func NewModel(runner *pipeline.Runner, bridge *EventBridge, req pipeline.StoryRequest) Model {
	ctx, cancel := context.WithCancel(context.Background())
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		bridge: bridge,
		runner: runner,
		req:    req,
		ctx:    ctx,
		cancel: cancel,
		spin:   sp,
		scenes: make(map[string]*sceneRow),
	}
}

// Init implements tea.Model: start the run, the event pump, and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		RunStoryCmd(m.ctx, m.runner, m.req),
		m.bridge.WaitForEventCmd(),
		m.spin.Tick,
	)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case EngineEventMsg:
		m.applyEvent(msg.Event)
		return m, m.bridge.WaitForEventCmd()

	case StoryResultMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, nil
	}
	return m, nil
}

// applyEvent folds one engine event into the display state.
func (m *Model) applyEvent(evt pipeline.Event) {
	if evt.SceneID != "" {
		row, ok := m.scenes[evt.SceneID]
		if !ok {
			row = &sceneRow{id: evt.SceneID, status: "pending"}
			m.scenes[evt.SceneID] = row
			m.order = append(m.order, evt.SceneID)
		}
		switch evt.Type {
		case pipeline.EventSceneStarted:
			row.status = "running"
		case pipeline.EventSceneCompleted:
			row.status = "completed"
			row.node = ""
		case pipeline.EventSceneReplayed:
			row.status = "replayed"
			row.node = ""
		case pipeline.EventSceneFailed:
			row.status = "failed"
		case pipeline.EventNodeStarted:
			row.node = evt.Node
		}
	}

	line := string(evt.Type)
	if evt.Node != "" {
		line += " " + evt.Node
	}
	if reason, ok := evt.Data["error"]; ok {
		line = LogErrorStyle.Render(fmt.Sprintf("%s: %v", line, reason))
	} else {
		line = LogEventStyle.Render(line)
	}
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("storyboard run"))
	b.WriteString("\n\n")

	ids := append([]string(nil), m.order...)
	sort.Strings(ids)
	for _, id := range ids {
		row := m.scenes[id]
		marker := "  "
		if row.status == "running" {
			marker = m.spin.View()
		}
		line := fmt.Sprintf("%s %s  %s", marker, shortID(row.id), row.status)
		if row.node != "" {
			line += "  " + row.node
		}
		b.WriteString(styleForStatus(row.status).Render(line))
		b.WriteString("\n")
	}

	if len(m.log) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(m.log, "\n"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case m.done && m.err != nil:
		b.WriteString(StatusBarStyle.Render(FailedStyle.Render("failed: " + m.err.Error())))
	case m.done:
		b.WriteString(StatusBarStyle.Render(fmt.Sprintf("done: story %s, %d scenes (q to quit)", m.result.StoryID, len(m.result.SceneIDs))))
	default:
		b.WriteString(StatusBarStyle.Render("running (q to cancel)"))
	}
	b.WriteString("\n")
	return b.String()
}

// Done reports whether the run has finished.
func (m Model) Done() bool {
	return m.done
}

// Err returns the run error, if any.
func (m Model) Err() error {
	return m.err
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}
