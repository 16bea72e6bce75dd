// Package tui renders a read-only view of a document's block tree,
// standing in for the full collaboration surface UI that SPEC_FULL names
// as out of scope beyond a terminal viewer. Modeled on the teacher's
// task progress view: a bubbletea Model polling a client for updates,
// rendering a colored status indicator per row, with a spinner for
// in-flight work.
package tui

import (
	"context"
	"fmt"
	"strings"

	"kaijutsu/blockstore"
	"kaijutsu/domain"
	"kaijutsu/eventbus"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	streamingIndicator = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render("⏺")
	doneIndicator      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("⏺")
	errorIndicator     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("⏺")
	abortedIndicator   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("⏺")
	roleStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Bold(true)
	dimStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func statusIndicator(s domain.Status) string {
	switch s {
	case domain.StatusStreaming:
		return streamingIndicator
	case domain.StatusError:
		return errorIndicator
	case domain.StatusAborted:
		return abortedIndicator
	default:
		return doneIndicator
	}
}

// row is one rendered line: a snapshot plus its tree depth for indentation.
type row struct {
	snapshot domain.Snapshot
	depth    int
}

// DocumentModel is a bubbletea Model that polls a blockstore.Store for one
// document's ordered blocks and live-updates on eventbus notifications.
type DocumentModel struct {
	contextId domain.ContextId
	store     *blockstore.Store
	bus       eventbus.Streamer

	spinner  spinner.Model
	rows     []row
	width    int
	quitting bool
	err      error

	events <-chan eventbus.Event
	unsub  func()
}

func NewDocumentModel(contextId domain.ContextId, store *blockstore.Store, bus eventbus.Streamer) DocumentModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	return DocumentModel{
		contextId: contextId,
		store:     store,
		bus:       bus,
		spinner:   s,
	}
}

type rowsLoadedMsg struct {
	rows []row
	err  error
}

type docEventMsg struct{ ev eventbus.Event }

func (m DocumentModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadRows, m.subscribe)
}

func (m DocumentModel) loadRows() tea.Msg {
	blocks, err := m.store.BlocksOrdered(m.contextId)
	if err != nil {
		return rowsLoadedMsg{err: err}
	}

	byId := make(map[domain.BlockId]*domain.Block, len(blocks))
	for _, b := range blocks {
		byId[b.Id] = b
	}

	rows := make([]row, 0, len(blocks))
	for _, b := range blocks {
		snap, err := m.store.BlockSnapshot(m.contextId, b.Id)
		if err != nil {
			continue
		}
		rows = append(rows, row{snapshot: snap, depth: depthOf(b, byId)})
	}
	return rowsLoadedMsg{rows: rows}
}

func depthOf(b *domain.Block, byId map[domain.BlockId]*domain.Block) int {
	depth := 0
	cur := b
	for cur.ParentId != nil {
		parent, ok := byId[*cur.ParentId]
		if !ok {
			break
		}
		depth++
		cur = parent
	}
	return depth
}

func (m DocumentModel) subscribe() tea.Msg {
	events, unsub, err := m.bus.Subscribe(context.Background(), m.contextId)
	if err != nil {
		return rowsLoadedMsg{err: err}
	}
	return subscribedMsg{events: events, unsub: unsub}
}

type subscribedMsg struct {
	events <-chan eventbus.Event
	unsub  func()
}

func waitForEvent(events <-chan eventbus.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return docEventMsg{ev: ev}
	}
}

func (m DocumentModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			if m.unsub != nil {
				m.unsub()
			}
			return m, tea.Quit
		}
		return m, nil

	case rowsLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.rows = msg.rows
		return m, nil

	case subscribedMsg:
		m.events = msg.events
		m.unsub = msg.unsub
		return m, waitForEvent(m.events)

	case docEventMsg:
		return m, tea.Batch(m.loadRows, waitForEvent(m.events))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	default:
		return m, nil
	}
}

func (m DocumentModel) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return fmt.Sprintf("error: %v\n", m.err)
	}

	var b strings.Builder
	for _, r := range m.rows {
		snap := r.snapshot
		indicator := statusIndicator(snap.Header.Status)
		if snap.Header.Status == domain.StatusStreaming {
			indicator = m.spinner.View()
		}

		indent := strings.Repeat("  ", r.depth)
		header := fmt.Sprintf("%s%s %s %s", indent, indicator, roleStyle.Render(string(snap.Role)), dimStyle.Render(string(snap.Kind)))
		b.WriteString(header)
		b.WriteString("\n")

		content := snap.Content
		if snap.Header.Collapsed {
			content = dimStyle.Render("(collapsed)")
		}
		for _, line := range strings.Split(content, "\n") {
			b.WriteString(indent + "  " + line + "\n")
		}
	}
	return b.String()
}
