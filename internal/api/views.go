package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lox/chessarena/internal/arena"
	"github.com/lox/chessarena/internal/casual"
	"github.com/lox/chessarena/internal/clock"
	"github.com/lox/chessarena/internal/game"
	"github.com/lox/chessarena/internal/rating"
	"github.com/lox/chessarena/internal/rules"
	"github.com/lox/chessarena/internal/store"
)

type playerView struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Rating      float64 `json:"rating"`
	RD          float64 `json:"rd"`
	GamesPlayed int     `json:"games_played"`
	IsBot       bool    `json:"is_bot"`
	Provisional bool    `json:"provisional"`
	Banned      bool    `json:"banned,omitempty"`
}

func newPlayerView(p *store.Player) playerView {
	return playerView{
		ID:          p.ID,
		Name:        p.Name,
		Rating:      p.Rating,
		RD:          p.RD,
		GamesPlayed: p.GamesPlayed,
		IsBot:       p.IsBot,
		Provisional: p.GamesPlayed < rating.ProvisionalGames,
		Banned:      p.Banned,
	}
}

// meView is the richer shape a player sees of themselves.
type meView struct {
	playerView
	Volatility float64 `json:"volatility"`
	IsAdmin    bool    `json:"is_admin"`
}

func newMeView(p *store.Player) meView {
	return meView{playerView: newPlayerView(p), Volatility: p.Volatility, IsAdmin: p.IsAdmin}
}

type tournamentView struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DurationM   int       `json:"duration_m"`
	TimeControl string    `json:"time_control"`
	Status      string    `json:"status"`
	Casual      bool      `json:"casual,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	EndsAt      time.Time `json:"ends_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func newTournamentView(t *store.Tournament) tournamentView {
	return tournamentView{
		ID:          t.ID,
		Name:        t.Name,
		DurationM:   t.DurationM,
		TimeControl: t.TimeControl,
		Status:      t.Status,
		Casual:      t.Casual,
		StartedAt:   t.StartedAt,
		EndsAt:      t.EndsAt,
		CreatedAt:   t.CreatedAt,
	}
}

type standingView struct {
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

func newStandingView(row *store.LeaderboardRow) standingView {
	return standingView{
		Rank:        row.Rank,
		PlayerID:    row.PlayerID,
		Name:        row.Name,
		Rating:      row.Rating,
		Score:       row.Score,
		GamesPlayed: row.GamesPlayed,
		Wins:        row.Wins,
		Draws:       row.Draws,
		Losses:      row.Losses,
		Berserks:    row.Berserks,
		WinStreak:   row.WinStreak,
		Performance: row.Performance,
		Active:      row.Active,
	}
}

type gameView struct {
	ID              int64      `json:"id"`
	TournamentID    int64      `json:"tournament_id,omitempty"`
	WhiteID         int64      `json:"white_id"`
	BlackID         int64      `json:"black_id"`
	Result          string     `json:"result"`
	FEN             string     `json:"fen"`
	Moves           []string   `json:"moves"`
	MoveTimesMS     []int64    `json:"move_times_ms"`
	WhiteClockMS    int64      `json:"white_clock_ms"`
	BlackClockMS    int64      `json:"black_clock_ms"`
	IncrementMS     int64      `json:"increment_ms"`
	ClockRunningFor string     `json:"clock_running_for"`
	WhiteBerserk    bool       `json:"white_berserk"`
	BlackBerserk    bool       `json:"black_berserk"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// newGameView renders a game row. Clocks on an ongoing game are
// projected to now so watchers see them tick down between moves.
func (s *Server) newGameView(g *store.Game) gameView {
	v := gameView{
		ID:              g.ID,
		TournamentID:    g.TournamentID,
		WhiteID:         g.WhiteID,
		BlackID:         g.BlackID,
		Result:          g.Result,
		FEN:             g.FEN,
		Moves:           g.Moves,
		MoveTimesMS:     g.MoveTimesMS,
		WhiteClockMS:    g.WhiteClockMS,
		BlackClockMS:    g.BlackClockMS,
		IncrementMS:     g.IncrementMS,
		ClockRunningFor: string(g.ClockRunning),
		WhiteBerserk:    g.WhiteBerserk,
		BlackBerserk:    g.BlackBerserk,
		StartedAt:       g.StartedAt,
	}
	if v.Moves == nil {
		v.Moves = []string{}
	}
	if v.MoveTimesMS == nil {
		v.MoveTimesMS = []int64{}
	}
	if !g.Finished() {
		v.WhiteClockMS, v.BlackClockMS = clock.Live(g.Clock(), s.clock.Now())
	}
	if !g.EndedAt.IsZero() {
		ended := g.EndedAt
		v.EndedAt = &ended
	}
	return v
}

type ratingPointView struct {
	TournamentID int64     `json:"tournament_id,omitempty"`
	Rating       float64   `json:"rating"`
	RD           float64   `json:"rd"`
	RecordedAt   time.Time `json:"recorded_at"`
}

func newRatingPointView(sn *store.RatingSnapshot) ratingPointView {
	return ratingPointView{
		TournamentID: sn.TournamentID,
		Rating:       sn.Rating,
		RD:           sn.RD,
		RecordedAt:   sn.RecordedAt,
	}
}

// writeJSON writes v with the given status. Encoding failures are
// logged rather than surfaced; the status line has already gone out.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// fail translates a domain error into a response. Anything without an
// explicit mapping is a 500 with the detail kept out of the body.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		s.writeError(w, status, "internal error")
		return
	}
	s.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrNotParticipant),
		errors.Is(err, game.ErrNotYourTurn),
		errors.Is(err, arena.ErrBanned),
		errors.Is(err, casual.ErrBanned):
		return http.StatusForbidden
	case errors.Is(err, game.ErrGameFinished),
		errors.Is(err, game.ErrAlreadyBerserk),
		errors.Is(err, game.ErrPositionChanged),
		errors.Is(err, arena.ErrTournamentOver),
		errors.Is(err, casual.ErrAlreadyPlaying),
		errors.Is(err, casual.ErrBotUnavailable),
		errors.Is(err, casual.ErrBotBusy),
		errors.Is(err, rules.ErrMoveFormat),
		errors.Is(err, rules.ErrIllegalMove):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON parses a request body, rejecting fields the endpoint does
// not know about. An empty body is fine and leaves v zero-valued.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("bad request body: %v", err)
	}
	return nil
}
