// Package api exposes the JSON surface of the arena: registration,
// tournament membership, game actions, casual matchmaking and the
// public listings. Players authenticate with an opaque bearer token;
// every authenticated request also refreshes the player's presence,
// which is what the casual matchmaker uses to tell who is online.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/chessarena/internal/arena"
	"github.com/lox/chessarena/internal/auth"
	"github.com/lox/chessarena/internal/casual"
	"github.com/lox/chessarena/internal/game"
	"github.com/lox/chessarena/internal/store"
)

const (
	// DefaultAddr is where the server listens unless configured.
	DefaultAddr = ":8080"

	// DefaultOnlineWindow is how recently a player must have been seen
	// to count as online in /api/stats.
	DefaultOnlineWindow = 25 * time.Second

	// DefaultTouchMinInterval rate-limits presence writes so a busy
	// client doesn't turn every request into an UPDATE.
	DefaultTouchMinInterval = 10 * time.Second

	recentGamesLimit = 50
	shutdownGrace    = 5 * time.Second
)

// BotDriver is poked whenever a request touches a game a bot might
// have to move in. The driver decides for itself whether a move is
// actually due, so spurious pokes are harmless.
type BotDriver interface {
	TryMove(gameID int64)
}

// Options configures a Server. Zero values fall back to the defaults
// above; an empty SecretKey disables the shared-secret admin path.
type Options struct {
	Addr             string
	SecretKey        string
	OnlineWindow     time.Duration
	TouchMinInterval time.Duration
}

// Server routes and serves the HTTP API.
type Server struct {
	store  *store.Store
	games  *game.Manager
	arena  *arena.Engine
	casual *casual.Matchmaker
	driver BotDriver
	clock  quartz.Clock
	logger *log.Logger

	addr             string
	secretKey        string
	onlineWindow     time.Duration
	touchMinInterval time.Duration

	touchMu sync.Mutex
	touched map[int64]time.Time
}

// NewServer wires the API against the given stores and engines. The
// driver may be nil when no bots are hosted in-process.
func NewServer(st *store.Store, games *game.Manager, eng *arena.Engine, mm *casual.Matchmaker, driver BotDriver, clk quartz.Clock, logger *log.Logger, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.OnlineWindow <= 0 {
		opts.OnlineWindow = DefaultOnlineWindow
	}
	if opts.TouchMinInterval <= 0 {
		opts.TouchMinInterval = DefaultTouchMinInterval
	}
	return &Server{
		store:            st,
		games:            games,
		arena:            eng,
		casual:           mm,
		driver:           driver,
		clock:            clk,
		logger:           logger.With("component", "api"),
		addr:             opts.Addr,
		secretKey:        opts.SecretKey,
		onlineWindow:     opts.OnlineWindow,
		touchMinInterval: opts.TouchMinInterval,
		touched:          make(map[int64]time.Time),
	}
}

// Handler returns the routed API surface, ready to serve.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("GET /api/me", s.withPlayer(s.handleMe))
	mux.HandleFunc("GET /api/players", s.handlePlayers)
	mux.HandleFunc("GET /api/players/{id}", s.handlePlayer)
	mux.HandleFunc("DELETE /api/players/{id}", s.withAdmin(s.handleDeletePlayer))

	mux.HandleFunc("GET /api/tournaments", s.handleTournaments)
	mux.HandleFunc("POST /api/tournaments", s.withAdmin(s.handleCreateTournament))
	mux.HandleFunc("GET /api/tournaments/{id}", s.handleTournament)
	mux.HandleFunc("POST /api/tournaments/{id}/join", s.withPlayer(s.handleJoinTournament))
	mux.HandleFunc("POST /api/tournaments/{id}/leave", s.withPlayer(s.handleLeaveTournament))
	mux.HandleFunc("GET /api/tournaments/{id}/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /api/tournaments/{id}/games", s.handleTournamentGames)

	mux.HandleFunc("GET /api/games/{id}", s.handleGame)
	mux.HandleFunc("POST /api/games/{id}/move", s.withPlayer(s.handleMove))
	mux.HandleFunc("POST /api/games/{id}/resign", s.withPlayer(s.handleResign))
	mux.HandleFunc("POST /api/games/{id}/claim-time", s.withPlayer(s.handleClaimTime))
	mux.HandleFunc("POST /api/games/{id}/berserk", s.withPlayer(s.handleBerserk))

	mux.HandleFunc("POST /api/casual/join", s.withPlayer(s.handleCasualJoin))
	mux.HandleFunc("POST /api/casual/play-bot", s.withPlayer(s.handlePlayBot))

	mux.HandleFunc("GET /api/stats", s.handleStats)

	return mux
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("api listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type playerHandler func(w http.ResponseWriter, r *http.Request, p *store.Player)

// withPlayer resolves the bearer token to a player and refreshes their
// presence before handing off. Missing or unknown tokens get 401.
func (s *Server) withPlayer(next playerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.authenticate(r)
		if err != nil {
			s.fail(w, err)
			return
		}
		if p == nil {
			s.writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		s.touchPresence(r.Context(), p.ID)
		next(w, r, p)
	}
}

// withAdmin admits players flagged is_admin, or any caller presenting
// the server's shared secret as their bearer token.
func (s *Server) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)
		if s.secretKey != "" && auth.Equal(token, s.secretKey) {
			next(w, r)
			return
		}
		p, err := s.authenticate(r)
		if err != nil {
			s.fail(w, err)
			return
		}
		if p == nil {
			s.writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !p.IsAdmin {
			s.writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		s.touchPresence(r.Context(), p.ID)
		next(w, r)
	}
}

// authenticate returns the player behind the request's bearer token,
// nil when the token is absent or matches nobody.
func (s *Server) authenticate(r *http.Request) (*store.Player, error) {
	token := auth.BearerToken(r)
	if token == "" {
		return nil, nil
	}
	p, err := s.store.PlayerByTokenHash(r.Context(), auth.HashToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// touchPresence records the player as seen now, skipping the write when
// one landed within touchMinInterval.
func (s *Server) touchPresence(ctx context.Context, playerID int64) {
	now := s.clock.Now()
	s.touchMu.Lock()
	if last, ok := s.touched[playerID]; ok && now.Sub(last) < s.touchMinInterval {
		s.touchMu.Unlock()
		return
	}
	s.touched[playerID] = now
	s.touchMu.Unlock()

	if err := s.store.TouchPresence(ctx, playerID, now); err != nil {
		s.logger.Error("touch presence", "player", playerID, "error", err)
	}
}

// pathID parses the {id} segment of the matched route.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id in path")
	}
	return id, nil
}
