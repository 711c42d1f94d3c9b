package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client is a read-only consumer of the arena JSON API. It carries no
// token; everything the watcher renders is public.
type Client struct {
	base string
	http *http.Client
}

// NewClient builds a client for a server base URL such as
// http://localhost:8080.
func NewClient(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

// Stats mirrors GET /api/stats.
type Stats struct {
	TotalGamesPlayed  int `json:"total_games_played"`
	OngoingGames      int `json:"ongoing_games"`
	Players           int `json:"players"`
	PlayersOnline     int `json:"players_online"`
	ActiveTournaments int `json:"active_tournaments"`
}

// Tournament mirrors one row of the tournament listing.
type Tournament struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DurationM   int       `json:"duration_m"`
	TimeControl string    `json:"time_control"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	EndsAt      time.Time `json:"ends_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Standing mirrors one leaderboard row.
type Standing struct {
	Rank        int     `json:"rank"`
	PlayerID    int64   `json:"player_id"`
	Name        string  `json:"name"`
	Rating      float64 `json:"rating"`
	Score       int     `json:"score"`
	GamesPlayed int     `json:"games_played"`
	Wins        int     `json:"wins"`
	Draws       int     `json:"draws"`
	Losses      int     `json:"losses"`
	Berserks    int     `json:"berserks"`
	WinStreak   int     `json:"win_streak"`
	Performance float64 `json:"performance"`
	Active      bool    `json:"active"`
}

// Game mirrors a served game. Clocks on ongoing games arrive already
// projected to the server's now.
type Game struct {
	ID              int64      `json:"id"`
	TournamentID    int64      `json:"tournament_id"`
	WhiteID         int64      `json:"white_id"`
	BlackID         int64      `json:"black_id"`
	Result          string     `json:"result"`
	FEN             string     `json:"fen"`
	Moves           []string   `json:"moves"`
	WhiteClockMS    int64      `json:"white_clock_ms"`
	BlackClockMS    int64      `json:"black_clock_ms"`
	IncrementMS     int64      `json:"increment_ms"`
	ClockRunningFor string     `json:"clock_running_for"`
	WhiteBerserk    bool       `json:"white_berserk"`
	BlackBerserk    bool       `json:"black_berserk"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at"`
}

// Snapshot is one coherent refresh of everything the watcher renders.
type Snapshot struct {
	FetchedAt   time.Time
	Stats       Stats
	Tournaments []Tournament
	Tournament  *Tournament // the one Standings and Games belong to
	Standings   []Standing
	Games       []Game
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := c.get(ctx, "/api/stats", &out)
	return out, err
}

func (c *Client) Tournaments(ctx context.Context) ([]Tournament, error) {
	var out []Tournament
	err := c.get(ctx, "/api/tournaments", &out)
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, tournamentID int64) ([]Standing, error) {
	var out []Standing
	err := c.get(ctx, fmt.Sprintf("/api/tournaments/%d/leaderboard", tournamentID), &out)
	return out, err
}

func (c *Client) Games(ctx context.Context, tournamentID int64) ([]Game, error) {
	var out []Game
	err := c.get(ctx, fmt.Sprintf("/api/tournaments/%d/games", tournamentID), &out)
	return out, err
}

func (c *Client) Game(ctx context.Context, id int64) (*Game, error) {
	var out Game
	if err := c.get(ctx, fmt.Sprintf("/api/games/%d", id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Snapshot gathers one refresh. A zero tournamentID follows the
// featured tournament. A nonzero gameID re-fetches that game through
// its own endpoint, which also nudges server-side bot scheduling, so
// bot games keep moving while a spectator is the only traffic.
func (c *Client) Snapshot(ctx context.Context, tournamentID, gameID int64) (*Snapshot, error) {
	snap := &Snapshot{FetchedAt: time.Now()}
	var err error
	if snap.Stats, err = c.Stats(ctx); err != nil {
		return nil, err
	}
	if snap.Tournaments, err = c.Tournaments(ctx); err != nil {
		return nil, err
	}
	t := pickTournament(snap.Tournaments, tournamentID)
	if t == nil {
		return snap, nil
	}
	snap.Tournament = t
	if snap.Standings, err = c.Leaderboard(ctx, t.ID); err != nil {
		return nil, err
	}
	if snap.Games, err = c.Games(ctx, t.ID); err != nil {
		return nil, err
	}
	if gameID != 0 {
		// A focused game that vanished is not worth failing the
		// whole refresh over.
		if g, gerr := c.Game(ctx, gameID); gerr == nil {
			for i := range snap.Games {
				if snap.Games[i].ID == g.ID {
					snap.Games[i] = *g
				}
			}
		}
	}
	return snap, nil
}

// pickTournament resolves which tournament to watch. An explicit id
// wins when it still exists. Otherwise live beats about-to-start
// beats finished; the listing comes newest first so ties go to the
// most recent.
func pickTournament(ts []Tournament, id int64) *Tournament {
	if id != 0 {
		for i := range ts {
			if ts[i].ID == id {
				return &ts[i]
			}
		}
	}
	for _, status := range []string{"active", "waiting"} {
		for i := range ts {
			if ts[i].Status == status {
				return &ts[i]
			}
		}
	}
	if len(ts) == 0 {
		return nil
	}
	return &ts[0]
}

// get issues one API call. Non-200s carry a JSON error envelope whose
// message is surfaced verbatim.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var envelope struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&envelope) == nil && envelope.Error != "" {
			return fmt.Errorf("GET %s: %s", path, envelope.Error)
		}
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}
