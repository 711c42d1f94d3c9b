package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lox/chessarena/internal/auth"
	"github.com/lox/chessarena/internal/game"
	"github.com/lox/chessarena/internal/rating"
	"github.com/lox/chessarena/internal/store"
)

const maxNameLen = 32

type registerRequest struct {
	Name string `json:"name"`
}

// handleRegister creates a player and returns their bearer token. The
// token is shown exactly once; only its hash is stored.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > maxNameLen {
		s.writeError(w, http.StatusBadRequest, "name must be 1-32 characters")
		return
	}

	ctx := r.Context()
	if _, err := s.store.PlayerByName(ctx, name); err == nil {
		s.writeError(w, http.StatusBadRequest, "name already taken")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		s.fail(w, err)
		return
	}

	token := auth.NewToken()
	seed := rating.NewRating()
	now := s.clock.Now()
	p := &store.Player{
		Name:       name,
		TokenHash:  auth.HashToken(token),
		Rating:     seed.Value,
		RD:         seed.Deviation,
		Volatility: seed.Volatility,
		CreatedAt:  now,
	}
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.CreatePlayer(ctx, p); err != nil {
			return err
		}
		return tx.RecordRating(ctx, &store.RatingSnapshot{
			PlayerID:   p.ID,
			Rating:     p.Rating,
			RD:         p.RD,
			RecordedAt: now,
		})
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.logger.Info("player registered", "player", name, "id", p.ID)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"player_id": p.ID,
		"token":     token,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, p *store.Player) {
	s.writeJSON(w, http.StatusOK, newMeView(p))
}

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	players, err := s.store.ListPlayers(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	views := make([]playerView, 0, len(players))
	for _, p := range players {
		views = append(views, newPlayerView(p))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	p, err := s.store.PlayerByID(ctx, id)
	if err != nil {
		s.fail(w, err)
		return
	}
	history, err := s.store.RatingHistory(ctx, id, 0)
	if err != nil {
		s.fail(w, err)
		return
	}
	points := make([]ratingPointView, 0, len(history))
	for _, sn := range history {
		points = append(points, newRatingPointView(sn))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"player":         newPlayerView(p),
		"rating_history": points,
	})
}

func (s *Server) handleDeletePlayer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	p, err := s.store.PlayerByID(ctx, id)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.store.DeletePlayer(ctx, p.ID); err != nil {
		s.fail(w, err)
		return
	}
	s.logger.Info("player deleted", "player", p.Name, "id", p.ID)
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleTournaments lists arenas. The throwaway tournaments that wrap
// casual games are skipped so the listing stays meaningful.
func (s *Server) handleTournaments(w http.ResponseWriter, r *http.Request) {
	tournaments, err := s.store.ListTournaments(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	views := make([]tournamentView, 0, len(tournaments))
	for _, t := range tournaments {
		if t.Casual {
			continue
		}
		views = append(views, newTournamentView(t))
	}
	s.writeJSON(w, http.StatusOK, views)
}

type createTournamentRequest struct {
	Name        string `json:"name"`
	DurationM   int    `json:"duration_m"`
	TimeControl string `json:"time_control"`
	StartsInS   int    `json:"starts_in_s"`
}

func (s *Server) handleCreateTournament(w http.ResponseWriter, r *http.Request) {
	var req createTournamentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.DurationM < 0 || req.StartsInS < 0 {
		s.writeError(w, http.StatusBadRequest, "duration_m and starts_in_s must not be negative")
		return
	}
	if req.DurationM == 0 {
		req.DurationM = 60
	}
	if req.TimeControl == "" {
		req.TimeControl = "3+2"
	}

	startsAt := s.clock.Now().Add(time.Duration(req.StartsInS) * time.Second)
	t, err := s.arena.CreateTournament(r.Context(), name, req.TimeControl,
		time.Duration(req.DurationM)*time.Minute, startsAt)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newTournamentView(t))
}

func (s *Server) handleTournament(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := s.store.TournamentByID(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newTournamentView(t))
}

func (s *Server) handleJoinTournament(w http.ResponseWriter, r *http.Request, p *store.Player) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.arena.Join(r.Context(), id, p.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": res})
}

func (s *Server) handleLeaveTournament(w http.ResponseWriter, r *http.Request, p *store.Player) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.arena.Leave(r.Context(), id, p.ID); err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	if _, err := s.store.TournamentByID(ctx, id); err != nil {
		s.fail(w, err)
		return
	}
	rows, err := s.store.Leaderboard(ctx, id)
	if err != nil {
		s.fail(w, err)
		return
	}
	views := make([]standingView, 0, len(rows))
	for _, row := range rows {
		views = append(views, newStandingView(row))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleTournamentGames(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	if _, err := s.store.TournamentByID(ctx, id); err != nil {
		s.fail(w, err)
		return
	}
	games, err := s.store.GamesInTournament(ctx, id, recentGamesLimit)
	if err != nil {
		s.fail(w, err)
		return
	}
	views := make([]gameView, 0, len(games))
	for _, g := range games {
		views = append(views, s.newGameView(g))
	}
	s.writeJSON(w, http.StatusOK, views)
}

// handleGame returns a game with live clocks. Fetching an ongoing game
// also nudges the bot driver in case a bot is on move, which is what
// keeps bot-versus-bot games flowing while anyone watches.
func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	g, err := s.games.Get(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !g.Finished() && s.driver != nil {
		s.driver.TryMove(g.ID)
	}
	s.writeJSON(w, http.StatusOK, s.newGameView(g))
}

type moveRequest struct {
	UCI string `json:"uci"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request, p *store.Player) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req moveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.UCI) == "" {
		s.writeError(w, http.StatusBadRequest, "uci is required")
		return
	}

	g, err := s.games.Move(r.Context(), id, p.ID, req.UCI)
	if errors.Is(err, game.ErrTimeExpired) {
		// The mover's flag fell first. The game is already decided and
		// the response carries the timeout result instead of the move.
		s.writeJSON(w, http.StatusOK, s.newGameView(g))
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	if !g.Finished() && s.driver != nil {
		s.driver.TryMove(g.ID)
	}
	s.writeJSON(w, http.StatusOK, s.newGameView(g))
}

func (s *Server) handleResign(w http.ResponseWriter, r *http.Request, p *store.Player) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	g, err := s.games.Resign(r.Context(), id, p.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": g.Result})
}

func (s *Server) handleClaimTime(w http.ResponseWriter, r *http.Request, p *store.Player) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	g, err := s.games.ClaimTime(r.Context(), id, p.ID)
	if errors.Is(err, game.ErrNoClockExpired) {
		// Not an error for the caller, just a claim that didn't stick.
		// The refreshed clocks let the client resync.
		s.writeJSON(w, http.StatusOK, map[string]any{
			"ok":             false,
			"message":        "no clock has expired",
			"white_clock_ms": g.WhiteClockMS,
			"black_clock_ms": g.BlackClockMS,
		})
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": g.Result})
}

func (s *Server) handleBerserk(w http.ResponseWriter, r *http.Request, p *store.Player) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	g, err := s.games.Berserk(r.Context(), id, p.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"white_clock_ms": g.WhiteClockMS,
		"black_clock_ms": g.BlackClockMS,
	})
}

type casualJoinRequest struct {
	TimeControl string `json:"time_control"`
}

func (s *Server) handleCasualJoin(w http.ResponseWriter, r *http.Request, p *store.Player) {
	var req casualJoinRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TimeControl == "" {
		req.TimeControl = "3+2"
	}
	g, err := s.casual.Join(r.Context(), p.ID, req.TimeControl)
	if err != nil {
		s.fail(w, err)
		return
	}
	if g == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"queued": true})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"matched": true, "game_id": g.ID})
}

type playBotRequest struct {
	BotID       int64  `json:"bot_id"`
	TimeControl string `json:"time_control"`
}

func (s *Server) handlePlayBot(w http.ResponseWriter, r *http.Request, p *store.Player) {
	var req playBotRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BotID <= 0 {
		s.writeError(w, http.StatusBadRequest, "bot_id is required")
		return
	}
	if req.TimeControl == "" {
		req.TimeControl = "3+2"
	}
	g, err := s.casual.PlayBot(r.Context(), p.ID, req.BotID, req.TimeControl)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "game_id": g.ID})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	completed, err := s.store.CountCompletedGames(ctx)
	if err != nil {
		s.fail(w, err)
		return
	}
	ongoing, err := s.store.CountOngoingGames(ctx)
	if err != nil {
		s.fail(w, err)
		return
	}
	players, err := s.store.CountPlayers(ctx)
	if err != nil {
		s.fail(w, err)
		return
	}
	online, err := s.store.CountOnline(ctx, s.clock.Now().Add(-s.onlineWindow))
	if err != nil {
		s.fail(w, err)
		return
	}
	active, err := s.store.CountTournamentsWithStatus(ctx, store.TournamentActive)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"total_games_played": completed,
		"ongoing_games":      ongoing,
		"players":            players,
		"players_online":     online,
		"active_tournaments": active,
	})
}
