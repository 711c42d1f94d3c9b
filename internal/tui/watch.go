// Package tui is the terminal spectator for a running arena server.
// It polls the JSON API on a timer and renders the featured
// tournament: standings on the left, the focused game's board and
// clocks on the right.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

const (
	// DefaultPollInterval is how often the watcher refreshes.
	DefaultPollInterval = 2 * time.Second

	fetchTimeout   = 4 * time.Second
	minTableHeight = 3
	maxListedGames = 8

	// chromeHeight is what the header, panel borders and footer take
	// away from the standings table.
	chromeHeight = 7
)

// Options configure the watcher.
type Options struct {
	PollInterval time.Duration
	TournamentID int64 // 0 follows the featured tournament
}

type tickMsg time.Time

// snapshotMsg delivers a completed refresh, or the error that stopped it.
type snapshotMsg struct {
	snap *Snapshot
	err  error
}

// Model is the bubbletea model for the watcher.
type Model struct {
	client   *Client
	logger   *log.Logger
	interval time.Duration

	snap         *Snapshot
	names        map[int64]string
	tournamentID int64 // 0 = follow the featured tournament
	gameID       int64 // 0 = focus the newest ongoing game
	lastErr      error

	standings table.Model

	width    int
	height   int
	quitting bool
}

// NewModel builds a watcher around an API client.
func NewModel(client *Client, logger *log.Logger, opts Options) *Model {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	columns := []table.Column{
		{Title: "#", Width: 3},
		{Title: "player", Width: 18},
		{Title: "score", Width: 5},
		{Title: "perf", Width: 5},
		{Title: "rating", Width: 6},
		{Title: "games", Width: 5},
		{Title: "streak", Width: 6},
	}
	st := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(minTableHeight),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#626262")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#7D56F4")).
		Bold(false)
	st.SetStyles(styles)

	return &Model{
		client:       client,
		logger:       logger.WithPrefix("watch"),
		interval:     interval,
		tournamentID: opts.TournamentID,
		names:        map[int64]string{},
		standings:    st,
	}
}

// Init kicks off the first fetch and the refresh timer.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), m.tickCmd())
}

func (m *Model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// fetchCmd snapshots the API off the update loop.
func (m *Model) fetchCmd() tea.Cmd {
	client, tournamentID, gameID := m.client, m.tournamentID, m.gameID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		snap, err := client.Snapshot(ctx, tournamentID, gameID)
		return snapshotMsg{snap: snap, err: err}
	}
}

// Update handles messages in the watcher.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		h := m.height - chromeHeight
		if h < minTableHeight {
			h = minTableHeight
		}
		m.standings.SetHeight(h)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Sequence(tea.ClearScreen, tea.Quit)
		case "r":
			return m, m.fetchCmd()
		case "tab", "right", "l":
			m.focusGame(1)
		case "shift+tab", "left", "h":
			m.focusGame(-1)
		case "[":
			m.cycleTournament(-1)
			return m, m.fetchCmd()
		case "]":
			m.cycleTournament(1)
			return m, m.fetchCmd()
		}

	case tickMsg:
		return m, tea.Batch(m.fetchCmd(), m.tickCmd())

	case snapshotMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			m.logger.Debug("refresh failed", "error", msg.err)
			return m, nil
		}
		m.lastErr = nil
		m.apply(msg.snap)
		return m, nil
	}

	var cmd tea.Cmd
	m.standings, cmd = m.standings.Update(msg)
	return m, cmd
}

// apply installs a fresh snapshot and reconciles the focus. The games
// list shifts under us between polls, so focus is tracked by id and
// re-resolved each time.
func (m *Model) apply(snap *Snapshot) {
	m.snap = snap

	names := make(map[int64]string, len(snap.Standings))
	for _, s := range snap.Standings {
		names[s.PlayerID] = s.Name
	}
	m.names = names

	rows := make([]table.Row, len(snap.Standings))
	for i, s := range snap.Standings {
		name := s.Name
		if !s.Active {
			name = "(" + name + ")"
		}
		streak := ""
		if s.WinStreak > 0 {
			streak = strconv.Itoa(s.WinStreak)
		}
		rows[i] = table.Row{
			strconv.Itoa(s.Rank),
			name,
			strconv.Itoa(s.Score),
			fmt.Sprintf("%.0f", s.Performance),
			fmt.Sprintf("%.0f", s.Rating),
			strconv.Itoa(s.GamesPlayed),
			streak,
		}
	}
	m.standings.SetRows(rows)

	if m.focusedGame() == nil {
		m.gameID = 0
		if g := m.featuredGame(); g != nil {
			m.gameID = g.ID
		}
	}
}

// focusedGame returns the game the board pane is showing, or nil when
// the focus went stale.
func (m *Model) focusedGame() *Game {
	if m.snap == nil || m.gameID == 0 {
		return nil
	}
	for i := range m.snap.Games {
		if m.snap.Games[i].ID == m.gameID {
			return &m.snap.Games[i]
		}
	}
	return nil
}

// featuredGame picks the default focus: the newest ongoing game, else
// the newest game at all.
func (m *Model) featuredGame() *Game {
	if m.snap == nil || len(m.snap.Games) == 0 {
		return nil
	}
	for i := range m.snap.Games {
		if m.snap.Games[i].Result == "ongoing" {
			return &m.snap.Games[i]
		}
	}
	return &m.snap.Games[0]
}

// focusGame steps the focus through the games list in either direction.
func (m *Model) focusGame(step int) {
	if m.snap == nil || len(m.snap.Games) == 0 {
		return
	}
	games := m.snap.Games
	idx := 0
	for i := range games {
		if games[i].ID == m.gameID {
			idx = (i + step + len(games)) % len(games)
			break
		}
	}
	m.gameID = games[idx].ID
}

// cycleTournament moves the explicit selection through the listing.
// Focus resets since the games list is about to change.
func (m *Model) cycleTournament(step int) {
	if m.snap == nil || len(m.snap.Tournaments) == 0 {
		return
	}
	ts := m.snap.Tournaments
	idx := 0
	if m.snap.Tournament != nil {
		for i := range ts {
			if ts[i].ID == m.snap.Tournament.ID {
				idx = i
				break
			}
		}
	}
	idx = (idx + step + len(ts)) % len(ts)
	m.tournamentID = ts[idx].ID
	m.gameID = 0
}

// View renders the watcher.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	if m.snap == nil {
		return InfoStyle.Render("connecting to " + m.client.base + "...")
	}

	header := m.renderHeader()
	left := PanelStyle.Render(m.standings.View())
	right := PanelStyle.Render(m.renderGamePane())
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.renderFooter())
}

func (m *Model) renderHeader() string {
	title := HeaderStyle.Render(" chessarena ")
	t := m.snap.Tournament
	if t == nil {
		return title + "  " + InfoStyle.Render("no tournaments yet")
	}

	parts := []string{title, TitleStyle.Render(t.Name), InfoStyle.Render(t.TimeControl)}
	switch t.Status {
	case "active":
		left := t.EndsAt.Sub(m.snap.FetchedAt)
		parts = append(parts,
			SuccessStyle.Render("live"),
			ClockStyle.Render(formatClock(left.Milliseconds())+" left"))
	case "waiting":
		until := t.StartedAt.Sub(m.snap.FetchedAt)
		parts = append(parts, WarningStyle.Render("starts in "+formatClock(until.Milliseconds())))
	default:
		parts = append(parts, InfoStyle.Render(t.Status))
	}
	return strings.Join(parts, "  ")
}

func (m *Model) renderGamePane() string {
	g := m.focusedGame()
	if g == nil {
		g = m.featuredGame()
	}
	if g == nil {
		return InfoStyle.Render("no games yet")
	}

	var sb strings.Builder
	sb.WriteString(m.renderSeat(g, "black"))
	sb.WriteString("\n")
	sb.WriteString(renderBoard(g.FEN))
	sb.WriteString("\n")
	sb.WriteString(m.renderSeat(g, "white"))
	sb.WriteString("\n\n")
	sb.WriteString(m.renderGameList())
	return sb.String()
}

// renderSeat is one player's line beside the board: color glyph, name,
// berserk marker and clock, with the running clock highlighted.
func (m *Model) renderSeat(g *Game, color string) string {
	id, berserk, ms, glyph := g.WhiteID, g.WhiteBerserk, g.WhiteClockMS, "♔"
	if color == "black" {
		id, berserk, ms, glyph = g.BlackID, g.BlackBerserk, g.BlackClockMS, "♚"
	}
	name := m.playerName(id)
	if berserk {
		name += " ⚡"
	}
	clk := formatClock(ms)
	if g.Result == "ongoing" && g.ClockRunningFor == color {
		return fmt.Sprintf("%s %-24s %s", glyph, name, ClockStyle.Render(clk))
	}
	return fmt.Sprintf("%s %-24s %s", glyph, name, InfoStyle.Render(clk))
}

// renderGameList is the recent games strip under the board. Tab moves
// the highlighted row.
func (m *Model) renderGameList() string {
	games := m.snap.Games
	if len(games) == 0 {
		return ""
	}
	limit := len(games)
	if limit > maxListedGames {
		limit = maxListedGames
	}
	lines := make([]string, 0, limit+1)
	lines = append(lines, InfoStyle.Render("recent games"))
	for i := 0; i < limit; i++ {
		g := games[i]
		line := fmt.Sprintf("%s %s %s",
			m.playerName(g.WhiteID), resultLabel(g.Result), m.playerName(g.BlackID))
		if g.Result == "ongoing" {
			line += fmt.Sprintf("  %d moves", len(g.Moves))
		}
		if g.ID == m.gameID {
			line = SelectedStyle.Render("▸ " + line)
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderFooter() string {
	st := m.snap.Stats
	stats := InfoStyle.Render(fmt.Sprintf(
		"%d players • %d online • %d games in play • %d played",
		st.Players, st.PlayersOnline, st.OngoingGames, st.TotalGamesPlayed))
	if m.lastErr != nil {
		return stats + "\n" + ErrorStyle.Render(m.lastErr.Error())
	}
	help := InfoStyle.Render("tab focus game • [ ] switch tournament • ↑↓ scroll • r refresh • q quit")
	return stats + "\n" + help
}

// playerName resolves an id against the standings, which carry every
// player who ever joined. Casual opponents fall back to the raw id.
func (m *Model) playerName(id int64) string {
	if name, ok := m.names[id]; ok {
		return name
	}
	return fmt.Sprintf("player %d", id)
}

// Run attaches the watcher to the terminal and blocks until the user
// quits or ctx is cancelled.
func Run(ctx context.Context, client *Client, logger *log.Logger, opts Options) error {
	p := tea.NewProgram(NewModel(client, logger, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
