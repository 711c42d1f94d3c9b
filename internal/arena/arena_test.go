package arena

import (
	"context"
	"io"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/chessarena/internal/rules"
	"github.com/lox/chessarena/internal/store"
)

type fixture struct {
	store  *store.Store
	engine *Engine
	clock  *quartz.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := log.NewWithOptions(io.Discard, log.Options{})
	s, err := store.Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	mc := quartz.NewMock(t)
	rng := rand.New(rand.NewPCG(11, 17))
	return &fixture{
		store:  s,
		engine: NewEngine(s, mc, rng, logger, Options{}),
		clock:  mc,
	}
}

func (f *fixture) player(t *testing.T, name string, rating float64) *store.Player {
	t.Helper()
	p := &store.Player{
		Name: name, Rating: rating, RD: 250, Volatility: 0.06,
		TokenHash: "hash-" + name, CreatedAt: f.clock.Now(),
	}
	require.NoError(t, f.store.CreatePlayer(context.Background(), p))
	return p
}

func (f *fixture) tournament(t *testing.T, name, tc string, dur time.Duration) *store.Tournament {
	t.Helper()
	now := f.clock.Now()
	tn := &store.Tournament{
		Name: name, DurationM: int(dur / time.Minute), TimeControl: tc,
		Status: store.TournamentActive, StartedAt: now, EndsAt: now.Add(dur), CreatedAt: now,
	}
	require.NoError(t, f.store.CreateTournament(context.Background(), tn))
	return tn
}

// enroll registers a standing without touching the pairing queue, the
// way casual match creation does.
func (f *fixture) enroll(t *testing.T, tn *store.Tournament, p *store.Player) *store.TournamentPlayer {
	t.Helper()
	tp := &store.TournamentPlayer{
		TournamentID: tn.ID, PlayerID: p.ID, Active: true,
		JoinedAt: f.clock.Now(), QueueJoinedAt: f.clock.Now(),
	}
	require.NoError(t, f.store.CreateTournamentPlayer(context.Background(), tp))
	return tp
}

func (f *fixture) join(t *testing.T, tn *store.Tournament, p *store.Player) {
	t.Helper()
	_, err := f.engine.Join(context.Background(), tn.ID, p.ID)
	require.NoError(t, err)
}

func (f *fixture) standing(t *testing.T, tn *store.Tournament, p *store.Player) *store.TournamentPlayer {
	t.Helper()
	tp, err := f.store.TournamentPlayerFor(context.Background(), tn.ID, p.ID)
	require.NoError(t, err)
	return tp
}

func (f *fixture) game(t *testing.T, tn *store.Tournament, white, black *store.Player, clockMS int64) *store.Game {
	t.Helper()
	var tournamentID int64
	if tn != nil {
		tournamentID = tn.ID
	}
	g := &store.Game{
		TournamentID: tournamentID, WhiteID: white.ID, BlackID: black.ID,
		Result: store.ResultOngoing, FEN: rules.StartingFEN,
		WhiteClockMS: clockMS, BlackClockMS: clockMS, IncrementMS: 2000,
		ClockRunning:    rules.White,
		LastClockUpdate: f.clock.Now(),
		StartedAt:       f.clock.Now(),
	}
	require.NoError(t, f.store.CreateGame(context.Background(), g))
	return g
}

func (f *fixture) ongoing(t *testing.T) []*store.Game {
	t.Helper()
	games, err := f.store.OngoingGames(context.Background())
	require.NoError(t, err)
	return games
}

// finish records a result and feeds it through the result sink inside
// one transaction, exactly as the game state machine does.
func (f *fixture) finish(t *testing.T, g *store.Game, result string) {
	t.Helper()
	ctx := context.Background()
	err := f.store.InTx(ctx, func(tx *store.Tx) error {
		fresh, err := tx.GameByID(ctx, g.ID)
		if err != nil {
			return err
		}
		finished, err := tx.FinishGame(ctx, fresh, result, f.clock.Now())
		if err != nil {
			return err
		}
		require.True(t, finished, "game should not be finished twice")
		return f.engine.ApplyResult(ctx, tx, fresh)
	})
	require.NoError(t, err)
}

func TestTickPairsQueuedPlayers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.tournament(t, "Blitz Arena", "3+2", time.Hour)
	p1 := f.player(t, "ada", 500)
	p2 := f.player(t, "bob", 510)
	f.join(t, tn, p1)
	f.join(t, tn, p2)

	f.engine.Tick(ctx)

	games := f.ongoing(t)
	require.Len(t, games, 1)
	g := games[0]
	assert.Equal(t, tn.ID, g.TournamentID)
	assert.Equal(t, rules.StartingFEN, g.FEN)
	assert.Equal(t, int64(180000), g.WhiteClockMS)
	assert.Equal(t, int64(180000), g.BlackClockMS)
	assert.Equal(t, int64(2000), g.IncrementMS)
	assert.Equal(t, rules.White, g.ClockRunning)
	assert.ElementsMatch(t, []int64{p1.ID, p2.ID}, []int64{g.WhiteID, g.BlackID})

	assert.False(t, f.standing(t, tn, p1).InQueue)
	assert.False(t, f.standing(t, tn, p2).InQueue)

	recent, err := f.store.RecentOpponents(ctx, tn.ID, p1.ID, f.clock.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, recent[p2.ID], "the pairing should be on record")
}

func TestPairingPicksClosestRating(t *testing.T) {
	f := newFixture(t)
	tn := f.tournament(t, "Blitz Arena", "3+2", time.Hour)
	a := f.player(t, "a", 500)
	b := f.player(t, "b", 900)
	c := f.player(t, "c", 520)
	d := f.player(t, "d", 880)
	for _, p := range []*store.Player{a, b, c, d} {
		f.join(t, tn, p)
	}

	f.engine.Tick(context.Background())

	games := f.ongoing(t)
	require.Len(t, games, 2)
	pairs := make(map[int64]int64)
	for _, g := range games {
		pairs[g.WhiteID] = g.BlackID
		pairs[g.BlackID] = g.WhiteID
	}
	assert.Equal(t, c.ID, pairs[a.ID], "closest ratings should meet")
	assert.Equal(t, b.ID, pairs[d.ID])
}

func TestPairingPairsLeadersFirstAndLeavesOddPlayerQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.tournament(t, "Blitz Arena", "3+2", time.Hour)
	leader := f.player(t, "leader", 500)
	near := f.player(t, "near", 501)
	far := f.player(t, "far", 502)
	for _, p := range []*store.Player{leader, near, far} {
		f.join(t, tn, p)
	}
	tp := f.standing(t, tn, leader)
	tp.Score = 2
	require.NoError(t, f.store.UpdateTournamentPlayer(ctx, tp))

	f.engine.Tick(ctx)

	games := f.ongoing(t)
	require.Len(t, games, 1)
	g := games[0]
	assert.ElementsMatch(t, []int64{leader.ID, near.ID}, []int64{g.WhiteID, g.BlackID},
		"the leader pairs first, taking the closest rating")
	assert.True(t, f.standing(t, tn, far).InQueue, "odd player out stays queued")
}

func TestPairingSkipsRecentOpponents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.tournament(t, "Blitz Arena", "3+2", time.Hour)
	p1 := f.player(t, "ada", 500)
	p2 := f.player(t, "bob", 510)
	f.join(t, tn, p1)
	f.join(t, tn, p2)

	f.engine.Tick(ctx)
	games := f.ongoing(t)
	require.Len(t, games, 1)
	f.finish(t, games[0], store.ResultDraw)

	assert.True(t, f.standing(t, tn, p1).InQueue, "finished players rejoin the queue")
	assert.True(t, f.standing(t, tn, p2).InQueue)

	f.engine.Tick(ctx)
	assert.Empty(t, f.ongoing(t), "a rematch inside the window is blocked")

	f.clock.Advance(RematchWindow + time.Minute)
	f.engine.Tick(ctx)
	assert.Len(t, f.ongoing(t), 1, "the window has lapsed")
}

func TestWinStreakBonus(t *testing.T) {
	f := newFixture(t)
	tn := f.tournament(t, "Blitz Arena", "3+2", time.Hour)
	winner := f.player(t, "winner", 500)
	loser := f.player(t, "loser", 500)
	f.join(t, tn, winner)
	f.join(t, tn, loser)

	wantScores := []int{2, 4, 7}
	for i, want := range wantScores {
		g := f.game(t, tn, winner, loser, 180000)
		f.finish(t, g, store.ResultWhite)
		assert.Equal(t, want, f.standing(t, tn, winner).Score, "after win %d", i+1)
	}

	tp := f.standing(t, tn, winner)
	assert.Equal(t, 3, tp.WinStreak)
	assert.Equal(t, 3, tp.Wins)
	assert.Equal(t, 3, tp.GamesPlayed)
	assert.Greater(t, tp.Performance, 500.0)

	lp := f.standing(t, tn, loser)
	assert.Equal(t, 0, lp.Score)
	assert.Equal(t, 3, lp.Losses)
	assert.Equal(t, 0, lp.WinStreak)
	assert.Less(t, lp.Performance, 500.0)
}

func TestBerserkWinScoresExtra(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.tournament(t, "Blitz Arena", "3+2", time.Hour)
	winner := f.player(t, "winner", 500)
	loser := f.player(t, "loser", 500)
	f.join(t, tn, winner)
	f.join(t, tn, loser)

	g := f.game(t, tn, winner, loser, 180000)
	g.WhiteBerserk, g.BlackBerserk = true, true
	require.NoError(t, f.store.UpdateGame(ctx, g))
	f.finish(t, g, store.ResultWhite)

	tp := f.standing(t, tn, winner)
	assert.Equal(t, 3, tp.Score, "a berserked win is worth three")
	assert.Equal(t, 1, tp.Berserks)

	lp := f.standing(t, tn, loser)
	assert.Equal(t, 0, lp.Score, "berserking earns nothing without the win")
	assert.Equal(t, 1, lp.Berserks)
}

func TestDrawScoresOneAndEndsStreak(t *testing.T) {
	f := newFixture(t)
	tn := f.tournament(t, "Blitz Arena", "3+2", time.Hour)
	p1 := f.player(t, "ada", 500)
	p2 := f.player(t, "bob", 500)
	f.join(t, tn, p1)
	f.join(t, tn, p2)

	f.finish(t, f.game(t, tn, p1, p2, 180000), store.ResultWhite)
	f.finish(t, f.game(t, tn, p1, p2, 180000), store.ResultDraw)

	tp := f.standing(t, tn, p1)
	assert.Equal(t, 3, tp.Score)
	assert.Equal(t, 0, tp.WinStreak)
	assert.Equal(t, 1, tp.Draws)

	op := f.standing(t, tn, p2)
	assert.Equal(t, 1, op.Score)
	assert.Equal(t, 1, op.Draws)
}

func TestFinalizeUpdatesRatings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.tournament(t, "Blitz Arena", "3+2", time.Hour)
	p1 := f.player(t, "ada", 500)
	p2 := f.player(t, "bob", 500)
	f.join(t, tn, p1)
	f.join(t, tn, p2)

	f.engine.Tick(ctx)
	games := f.ongoing(t)
	require.Len(t, games, 1)
	f.finish(t, games[0], store.ResultWhite)
	winnerID, loserID := games[0].WhiteID, games[0].BlackID

	f.clock.Advance(time.Hour + time.Minute)
	f.engine.Tick(ctx)

	got, err := f.store.TournamentByID(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TournamentFinished, got.Status)

	winner, err := f.store.PlayerByID(ctx, winnerID)
	require.NoError(t, err)
	loser, err := f.store.PlayerByID(ctx, loserID)
	require.NoError(t, err)
	assert.Greater(t, winner.Rating, 500.0)
	assert.Less(t, loser.Rating, 500.0)
	assert.Less(t, winner.RD, 250.0, "playing shrinks the deviation")
	assert.Less(t, loser.RD, 250.0)
	assert.Equal(t, 1, winner.GamesPlayed)
	assert.Equal(t, 1, loser.GamesPlayed)

	history, err := f.store.RatingHistory(ctx, winnerID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, tn.ID, history[0].TournamentID)
	assert.Equal(t, winner.Rating, history[0].Rating)
}

func TestFinalizeWaitsForOngoingGames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.tournament(t, "Classical Arena", "200+0", time.Hour)
	p1 := f.player(t, "ada", 500)
	p2 := f.player(t, "bob", 500)
	f.join(t, tn, p1)
	f.join(t, tn, p2)

	f.engine.Tick(ctx)
	games := f.ongoing(t)
	require.Len(t, games, 1)

	f.clock.Advance(time.Hour + time.Minute)
	f.engine.Tick(ctx)

	got, err := f.store.TournamentByID(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TournamentActive, got.Status, "a running game holds finalization open")

	f.finish(t, games[0], store.ResultDraw)
	assert.False(t, f.standing(t, tn, p1).InQueue, "no re-queue after the end time")
	assert.False(t, f.standing(t, tn, p2).InQueue)

	f.engine.Tick(ctx)
	got, err = f.store.TournamentByID(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TournamentFinished, got.Status)

	winner, err := f.store.PlayerByID(ctx, p1.ID)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, winner.Rating, 1.0, "a draw between equals moves nothing")
	assert.Less(t, winner.RD, 250.0)
}

func TestPromoteStartsTournamentOnTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	startsAt := f.clock.Now().Add(30 * time.Minute)
	tn, err := f.engine.CreateTournament(ctx, "Evening Arena", "3+2", time.Hour, startsAt)
	require.NoError(t, err)
	p1 := f.player(t, "ada", 500)
	p2 := f.player(t, "bob", 500)
	f.join(t, tn, p1)
	f.join(t, tn, p2)

	f.engine.Tick(ctx)
	got, err := f.store.TournamentByID(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TournamentWaiting, got.Status, "not due yet")

	f.clock.Advance(30 * time.Minute)
	f.engine.Tick(ctx)
	got, err = f.store.TournamentByID(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TournamentActive, got.Status)

	f.clock.Advance(TickInterval)
	f.engine.Tick(ctx)
	assert.Len(t, f.ongoing(t), 1, "pairing begins once active")
}

func TestClockSweepFinishesFlaggedGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.tournament(t, "Blitz Arena", "3+2", time.Hour)
	p1 := f.player(t, "ada", 500)
	p2 := f.player(t, "bob", 500)
	f.enroll(t, tn, p1)
	f.enroll(t, tn, p2)

	g := f.game(t, tn, p1, p2, 1000)
	f.clock.Advance(2 * time.Second)
	f.engine.Tick(ctx)

	stored, err := f.store.GameByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ResultBlack, stored.Result, "white flagged, black wins")
	assert.Equal(t, int64(0), stored.WhiteClockMS)

	assert.Equal(t, 2, f.standing(t, tn, p2).Score)
	assert.Equal(t, 0, f.standing(t, tn, p1).Score)
	assert.Equal(t, 1, f.standing(t, tn, p1).Losses)
}

func TestCasualGameFinalizesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()
	tn := &store.Tournament{
		Name: "Casual 3+2", TimeControl: "3+2", Status: store.TournamentActive,
		Casual: true, StartedAt: now, EndsAt: now.Add(10 * 365 * 24 * time.Hour), CreatedAt: now,
	}
	require.NoError(t, f.store.CreateTournament(ctx, tn))
	p1 := f.player(t, "ada", 500)
	p2 := f.player(t, "bob", 500)
	f.enroll(t, tn, p1)
	f.enroll(t, tn, p2)

	g := f.game(t, tn, p1, p2, 180000)
	f.finish(t, g, store.ResultWhite)

	got, err := f.store.TournamentByID(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TournamentFinished, got.Status, "one game is the whole tournament")

	winner, err := f.store.PlayerByID(ctx, p1.ID)
	require.NoError(t, err)
	assert.Greater(t, winner.Rating, 500.0, "casual games are still rated")
	assert.False(t, f.standing(t, tn, p1).InQueue)

	history, err := f.store.RatingHistory(ctx, p1.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, tn.ID, history[0].TournamentID)
}

func TestApplyResultIgnoresUntrackedGames(t *testing.T) {
	f := newFixture(t)
	p1 := f.player(t, "ada", 500)
	p2 := f.player(t, "bob", 500)
	g := f.game(t, nil, p1, p2, 180000)
	f.finish(t, g, store.ResultWhite)

	got, err := f.store.PlayerByID(context.Background(), p1.ID)
	require.NoError(t, err)
	assert.Equal(t, 500.0, got.Rating, "no tournament, no rating change")
}

func TestJoinQueuesNewPlayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.tournament(t, "Blitz Arena", "3+2", time.Hour)
	p := f.player(t, "ada", 500)

	res, err := f.engine.Join(ctx, tn.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, Joined, res)

	tp := f.standing(t, tn, p)
	assert.True(t, tp.InQueue)
	assert.True(t, tp.Active)
	assert.Equal(t, 0, tp.Score)
}

func TestJoinRefusesBannedPlayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.tournament(t, "Blitz Arena", "3+2", time.Hour)
	p := f.player(t, "bad", 500)
	require.NoError(t, f.store.SetPlayerBanned(ctx, p.ID, true))

	_, err := f.engine.Join(ctx, tn.ID, p.ID)
	assert.ErrorIs(t, err, ErrBanned)
}

func TestJoinRefusesFinishedTournament(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()
	tn := &store.Tournament{
		Name: "Done Arena", TimeControl: "3+2", Status: store.TournamentFinished,
		StartedAt: now.Add(-2 * time.Hour), EndsAt: now.Add(-time.Hour), CreatedAt: now,
	}
	require.NoError(t, f.store.CreateTournament(ctx, tn))
	p := f.player(t, "ada", 500)

	_, err := f.engine.Join(ctx, tn.ID, p.ID)
	assert.ErrorIs(t, err, ErrTournamentOver)
}

func TestJoinUnknownTournament(t *testing.T) {
	f := newFixture(t)
	p := f.player(t, "ada", 500)
	_, err := f.engine.Join(context.Background(), 999, p.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJoinDuringGameStaysOffQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.tournament(t, "Blitz Arena", "3+2", time.Hour)
	p1 := f.player(t, "ada", 500)
	p2 := f.player(t, "bob", 500)
	f.game(t, tn, p1, p2, 180000)

	res, err := f.engine.Join(ctx, tn.ID, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, Joined, res)

	tp := f.standing(t, tn, p1)
	assert.True(t, tp.Active)
	assert.False(t, tp.InQueue, "players mid-game wait for their result")
}

func TestRejoinKeepsStanding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.tournament(t, "Blitz Arena", "3+2", time.Hour)
	p1 := f.player(t, "ada", 500)
	p2 := f.player(t, "bob", 500)
	f.join(t, tn, p1)
	f.join(t, tn, p2)
	f.finish(t, f.game(t, tn, p1, p2, 180000), store.ResultWhite)

	require.NoError(t, f.engine.Leave(ctx, tn.ID, p1.ID))
	tp := f.standing(t, tn, p1)
	assert.False(t, tp.Active)
	assert.False(t, tp.InQueue)

	res, err := f.engine.Join(ctx, tn.ID, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, Rejoined, res)

	tp = f.standing(t, tn, p1)
	assert.True(t, tp.Active)
	assert.True(t, tp.InQueue)
	assert.Equal(t, 2, tp.Score, "the standing survives a leave")
	assert.Equal(t, 1, tp.Wins)
}

func TestLeaveWithoutJoining(t *testing.T) {
	f := newFixture(t)
	tn := f.tournament(t, "Blitz Arena", "3+2", time.Hour)
	p := f.player(t, "ada", 500)
	err := f.engine.Leave(context.Background(), tn.ID, p.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLeaveStopsPairing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tn := f.tournament(t, "Blitz Arena", "3+2", time.Hour)
	p1 := f.player(t, "ada", 500)
	p2 := f.player(t, "bob", 500)
	f.join(t, tn, p1)
	f.join(t, tn, p2)

	require.NoError(t, f.engine.Leave(ctx, tn.ID, p1.ID))
	f.engine.Tick(ctx)
	assert.Empty(t, f.ongoing(t), "one queued player is not a pairing")
}

func TestCreateTournament(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	startsAt := f.clock.Now().Add(15 * time.Minute)

	tn, err := f.engine.CreateTournament(ctx, "Friday Blitz", "5+3", 90*time.Minute, startsAt)
	require.NoError(t, err)

	got, err := f.store.TournamentByID(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, "Friday Blitz", got.Name)
	assert.Equal(t, "5+3", got.TimeControl)
	assert.Equal(t, 90, got.DurationM)
	assert.Equal(t, store.TournamentWaiting, got.Status)
	assert.Equal(t, startsAt.Add(90*time.Minute).UnixMilli(), got.EndsAt.UnixMilli())
	assert.False(t, got.Casual)
}
