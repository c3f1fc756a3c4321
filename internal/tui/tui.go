// Package tui is a Bubble Tea front end for voting at a shared terminal.
// Each voter types a name, ranks the songs before the countdown runs out,
// submits, and sees their own ranking next to the group totals. The next
// voter then takes the keyboard.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/DoyleJ11/festival-ballot/internal/archive"
	"github.com/DoyleJ11/festival-ballot/internal/engine"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4"))

	cursorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F8B500"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#95E1A3"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFE66D"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4ECDC4")).
			Padding(0, 2)
)

// Stage is the screen currently shown.
type Stage int

const (
	StageName Stage = iota
	StageVoting
	StageResults
)

const archiveTimeout = 5 * time.Second

type Options struct {
	Songs        engine.Catalog
	CountdownSec int
	TickInterval time.Duration
	Archive      archive.Store
	Now          func() time.Time
}

// Model is the Bubble Tea model for one terminal.
type Model struct {
	opts Options

	stage     Stage
	nameInput textinput.Model
	sessionID string
	state     engine.State

	cursor     int  // song under the cursor
	pending    int  // rank the voter is about to assign
	gen        int  // voter generation, stale ticks are ignored
	submitting bool // archive write in flight, ballot is frozen

	results engine.Results
	status  string
	err     error

	width int
}

func NewModel(opts Options) Model {
	if len(opts.Songs) == 0 {
		opts.Songs = engine.FestivalSongs
	}
	if opts.CountdownSec <= 0 {
		opts.CountdownSec = engine.DefaultCountdownSec
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := Model{opts: opts}
	m.reset()
	return m
}

func (m *Model) reset() {
	ti := textinput.New()
	ti.Placeholder = "your name (optional)"
	ti.CharLimit = engine.MaxNameLength
	ti.Width = 40
	ti.Focus()

	m.stage = StageName
	m.nameInput = ti
	m.sessionID = uuid.NewString()
	m.state = engine.NewState(m.opts.Songs, engine.Rules{CountdownSec: m.opts.CountdownSec})
	m.cursor = 0
	m.pending = 1
	m.submitting = false
	m.results = engine.Results{}
	m.status = ""
	m.err = nil
	m.gen++
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Message types
type (
	// TickMsg is one countdown second for voter generation Gen.
	TickMsg struct {
		Gen int
	}

	// ArchivedMsg reports the outcome of storing a submitted ballot.
	ArchivedMsg struct {
		Gen     int
		Ballot  engine.Ballot
		Entries []archive.Entry
		Err     error
	}
)

func (m Model) Stage() Stage            { return m.stage }
func (m Model) State() engine.State     { return m.state }
func (m Model) Results() engine.Results { return m.results }
func (m Model) Err() error              { return m.err }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case TickMsg:
		if msg.Gen != m.gen || m.stage == StageName {
			return m, nil
		}
		m.state = engine.Tick(m.state)
		if m.state.Remaining == 0 {
			if !m.state.Submitted && !m.submitting {
				m.status = "Time is up. This ballot can no longer be submitted."
			}
			return m, nil
		}
		return m, m.tick()

	case ArchivedMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		m.submitting = false
		if msg.Err != nil {
			m.err = msg.Err
			m.status = ""
			return m, nil
		}
		// Ticks kept running during the write; only the submit lands on the
		// live state so the countdown never moves back up.
		m.state.Ballot = msg.Ballot.Clone()
		m.state.Submitted = true
		m.state.Phase = engine.DerivePhase(m.state)
		res, err := engine.BuildResults(m.state, archive.Ballots(msg.Entries))
		if err != nil && !errors.Is(err, engine.ErrBallotSize) {
			m.err = err
			return m, nil
		}
		m.results = res
		m.err = nil
		m.stage = StageResults
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.stage {
		case StageName:
			return m.updateName(msg)
		case StageVoting:
			return m.updateVoting(msg)
		case StageResults:
			return m.updateResults(msg)
		}
	}

	if m.stage == StageName {
		var cmd tea.Cmd
		m.nameInput, cmd = m.nameInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) updateName(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m, tea.Quit
	case "enter":
		_, next, err := engine.Apply(m.state, engine.Command{Type: engine.CmdSetName, Name: m.nameInput.Value()})
		if err != nil {
			m.err = err
			return m, nil
		}
		m.state = next
		m.err = nil
		m.stage = StageVoting
		m.nameInput.Blur()
		// The countdown starts once the voter has the keyboard.
		return m, m.tick()
	}

	var cmd tea.Cmd
	m.nameInput, cmd = m.nameInput.Update(msg)
	return m, cmd
}

func (m Model) updateVoting(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.submitting {
		switch msg.String() {
		case "esc", "q":
			return m, tea.Quit
		}
		return m, nil
	}
	maxRank := m.state.Songs.MaxRank()

	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.state.Songs)-1 {
			m.cursor++
		}
	case "left", "h":
		m.pending--
		if m.pending < 1 {
			m.pending = maxRank
		}
	case "right", "l":
		m.pending++
		if m.pending > maxRank {
			m.pending = 1
		}
	case "enter", " ":
		_, next, err := engine.Apply(m.state, engine.Command{
			Type:      engine.CmdAssignRank,
			SongIndex: m.cursor,
			Rank:      m.pending,
		})
		if err != nil {
			m.err = err
			return m, nil
		}
		m.state = next
		m.err = nil
		m.status = fmt.Sprintf("Ranked %q %d", m.state.Songs[m.cursor], m.pending)
	case "s":
		events, _, err := engine.Apply(m.state, engine.Command{Type: engine.CmdSubmit})
		if err != nil {
			m.err = err
			return m, nil
		}
		for _, evt := range events {
			if evt.Type == engine.EvtBallotSubmitted {
				m.submitting = true
				m.err = nil
				m.status = "Submitting..."
				return m, m.submitCmd(evt)
			}
		}
	case "n":
		if m.state.Phase == engine.PhaseExpired {
			m.reset()
			return m, textinput.Blink
		}
	case "esc", "q":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) updateResults(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "n", "enter":
		m.reset()
		return m, textinput.Blink
	case "q", "esc":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) tick() tea.Cmd {
	gen := m.gen
	return tea.Tick(m.opts.TickInterval, func(_ time.Time) tea.Msg {
		return TickMsg{Gen: gen}
	})
}

// submitCmd stores the ballot and reads back the whole archive for the group
// ranking. The submit is only committed once the store agrees.
func (m Model) submitCmd(evt engine.Event) tea.Cmd {
	gen := m.gen
	store := m.opts.Archive
	entry := archive.Entry{
		ID:          uuid.NewString(),
		SessionID:   m.sessionID,
		Voter:       evt.Name,
		Ranks:       evt.Ballot,
		SubmittedAt: m.opts.Now(),
	}
	return func() tea.Msg {
		if store == nil {
			return ArchivedMsg{Gen: gen, Ballot: entry.Ranks, Entries: []archive.Entry{entry}}
		}
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()

		if err := store.Append(ctx, entry); err != nil && !errors.Is(err, archive.ErrAlreadyArchived) {
			return ArchivedMsg{Gen: gen, Err: fmt.Errorf("archive ballot: %w", err)}
		}
		entries, err := store.List(ctx)
		if err != nil {
			return ArchivedMsg{Gen: gen, Err: fmt.Errorf("list archive: %w", err)}
		}
		return ArchivedMsg{Gen: gen, Ballot: entry.Ranks, Entries: entries}
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Festival Song Ballot"))
	b.WriteString("\n")

	switch m.stage {
	case StageName:
		b.WriteString(m.viewName())
	case StageVoting:
		b.WriteString(m.viewVoting())
	case StageResults:
		b.WriteString(m.viewResults())
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("✗ " + m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.helpText()))
	return b.String()
}

func (m Model) viewName() string {
	var b strings.Builder
	b.WriteString(subtitleStyle.Render("Who is voting?"))
	b.WriteString("\n\n")
	b.WriteString(m.nameInput.View())
	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("You will have %s to rank %d songs.",
		formatClock(m.opts.CountdownSec), len(m.opts.Songs))))
	b.WriteString("\n")
	return b.String()
}

func (m Model) viewVoting() string {
	var b strings.Builder

	clock := formatClock(m.state.Remaining)
	switch {
	case m.state.Remaining == 0:
		b.WriteString(errorStyle.Render("⏱ " + clock))
	case m.state.Remaining <= 30:
		b.WriteString(warningStyle.Render("⏱ " + clock))
	default:
		b.WriteString(subtitleStyle.Render("⏱ " + clock))
	}
	if m.state.Name != "" {
		b.WriteString(dimStyle.Render("  voting as " + m.state.Name))
	}
	b.WriteString("\n\n")

	for i, song := range m.state.Songs {
		rank := "  -"
		if r := m.state.Ballot[i]; r > 0 {
			rank = fmt.Sprintf("%3d", r)
		}
		line := fmt.Sprintf("%s  %s", rank, song)
		if i == m.cursor {
			b.WriteString(cursorStyle.Render("› " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	pending := fmt.Sprintf("Rank to assign: %d", m.pending)
	if holder := m.state.Ballot.Holder(m.pending); holder >= 0 && holder != m.cursor {
		pending += dimStyle.Render(fmt.Sprintf(" (taken by %s)", m.state.Songs[holder]))
	}
	b.WriteString(pending)
	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(successStyle.Render(m.status))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) viewResults() string {
	var personal strings.Builder
	personal.WriteString(subtitleStyle.Render("Your ranking"))
	personal.WriteString("\n")
	if len(m.results.Personal) == 0 {
		personal.WriteString(dimStyle.Render("no songs ranked"))
		personal.WriteString("\n")
	}
	for _, rs := range m.results.Personal {
		personal.WriteString(fmt.Sprintf("%3d  %s\n", rs.Rank, rs.Song))
	}

	var group strings.Builder
	group.WriteString(subtitleStyle.Render(fmt.Sprintf("Everyone (%d ballots)", m.results.Ballots)))
	group.WriteString("\n")
	for i, sc := range m.results.Group {
		group.WriteString(fmt.Sprintf("%2d. %-28s %4d\n", i+1, sc.Song, sc.Total))
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Render(strings.TrimRight(personal.String(), "\n")),
		" ",
		boxStyle.Render(strings.TrimRight(group.String(), "\n")),
	) + "\n"
}

func (m Model) helpText() string {
	switch m.stage {
	case StageName:
		return "enter: start • esc: quit"
	case StageVoting:
		if m.state.Phase == engine.PhaseExpired {
			return "n: next voter • q: quit"
		}
		return "↑/↓: song • ←/→: rank • enter: assign • s: submit • q: quit"
	case StageResults:
		return "n: next voter • q: quit"
	}
	return ""
}

func formatClock(sec int) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}
