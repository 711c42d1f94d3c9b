package bot

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

	"github.com/lox/chessarena/internal/engine"
	"github.com/lox/chessarena/internal/game"
	"github.com/lox/chessarena/internal/rules"
	"github.com/lox/chessarena/internal/store"
)

var base = time.UnixMilli(1_700_000_000_000).UTC()

type fixture struct {
	store  *store.Store
	driver *Driver
	clock  *quartz.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := log.NewWithOptions(io.Discard, log.Options{})
	st, err := store.Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clk := quartz.NewMock(t)
	mgr := game.NewManager(st, nil, clk, logger)
	rng := rand.New(rand.NewPCG(3, 5))
	d := NewDriver(st, mgr, engine.NewRegistry(), clk, rng, logger, Options{Workers: 2})
	return &fixture{store: st, driver: d, clock: clk}
}

func (f *fixture) player(t *testing.T, name string, isBot bool) *store.Player {
	t.Helper()
	p := &store.Player{
		Name:       name,
		TokenHash:  "hash-" + name,
		Rating:     500,
		RD:         250,
		Volatility: 0.06,
		CreatedAt:  base,
		IsBot:      isBot,
	}
	require.NoError(t, f.store.CreatePlayer(context.Background(), p))
	return p
}

func (f *fixture) game(t *testing.T, whiteID, blackID int64, fen string) *store.Game {
	t.Helper()
	g := &store.Game{
		WhiteID:         whiteID,
		BlackID:         blackID,
		Result:          store.ResultOngoing,
		FEN:             fen,
		WhiteClockMS:    180000,
		BlackClockMS:    180000,
		IncrementMS:     2000,
		ClockRunning:    rules.White,
		LastClockUpdate: f.clock.Now(),
		StartedAt:       f.clock.Now(),
	}
	require.NoError(t, f.store.CreateGame(context.Background(), g))
	return g
}

func (f *fixture) wait() {
	f.driver.group.Wait()
}

func TestTryMovePlaysForBotOnTheClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bot := f.player(t, "bot", true)
	human := f.player(t, "human", false)
	g := f.game(t, bot.ID, human.ID, rules.StartingFEN)

	f.driver.TryMove(g.ID)
	f.wait()

	got, err := f.store.GameByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, got.Moves, 1)
	assert.Equal(t, rules.Black, got.ClockRunning)
}

func TestTryMoveLeavesHumansAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	human := f.player(t, "human", false)
	bot := f.player(t, "bot", true)
	g := f.game(t, human.ID, bot.ID, rules.StartingFEN)

	f.driver.TryMove(g.ID)
	f.wait()

	got, err := f.store.GameByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Moves)
}

func TestTryMoveSkipsBannedBots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bot := f.player(t, "bot", true)
	require.NoError(t, f.store.SetPlayerBanned(ctx, bot.ID, true))
	human := f.player(t, "human", false)
	g := f.game(t, bot.ID, human.ID, rules.StartingFEN)

	f.driver.TryMove(g.ID)
	f.wait()

	got, err := f.store.GameByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Moves)
}

func TestTryMoveDedupesInFlightGames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bot := f.player(t, "bot", true)
	human := f.player(t, "human", false)
	g := f.game(t, bot.ID, human.ID, rules.StartingFEN)

	f.driver.mu.Lock()
	f.driver.inFlight[g.ID] = true
	f.driver.mu.Unlock()

	f.driver.TryMove(g.ID)
	f.wait()

	got, err := f.store.GameByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Moves, "in-flight games should not be scheduled twice")

	f.driver.release(g.ID)
	f.driver.TryMove(g.ID)
	f.wait()

	got, err = f.store.GameByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, got.Moves, 1)
}

func TestStepReschedulesBotVersusBot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	white := f.player(t, "white-bot", true)
	black := f.player(t, "black-bot", true)
	g := f.game(t, white.ID, black.ID, rules.StartingFEN)

	again := f.driver.step(ctx, g.ID)

	assert.True(t, again, "a bot opponent should be rescheduled immediately")
	got, err := f.store.GameByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, got.Moves, 1)
}

func TestStepStopsWhenGameFinishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	white := f.player(t, "white-bot", true)
	black := f.player(t, "black-bot", true)
	require.NoError(t, f.store.UpsertBotConfig(ctx, &store.BotConfig{
		PlayerID:  white.ID,
		EngineKey: "minimax",
	}))
	// Mate in one for white, so the step finishes the game and reports
	// nothing left to do.
	g := f.game(t, white.ID, black.ID, "6k1/5ppp/8/8/8/8/8/R6K w - - 0 1")

	again := f.driver.step(ctx, g.ID)

	assert.False(t, again)
	got, err := f.store.GameByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ResultWhite, got.Result)
}

func TestSweepSchedulesEveryBotGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bot := f.player(t, "bot", true)
	humanA := f.player(t, "a", false)
	humanB := f.player(t, "b", false)

	botToMove := f.game(t, bot.ID, humanA.ID, rules.StartingFEN)
	humanToMove := f.game(t, humanB.ID, bot.ID, rules.StartingFEN)

	f.driver.Sweep(ctx)
	f.wait()

	got, err := f.store.GameByID(ctx, botToMove.ID)
	require.NoError(t, err)
	assert.Len(t, got.Moves, 1)

	got, err = f.store.GameByID(ctx, humanToMove.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Moves)
}

func TestEngineForHonorsStoredBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bot := f.player(t, "bot", true)
	require.NoError(t, f.store.UpsertBotConfig(ctx, &store.BotConfig{
		PlayerID:  bot.ID,
		EngineKey: "minimax",
		Config:    `{"max_depth":1,"max_nodes":64}`,
	}))

	player, err := f.store.PlayerByID(ctx, bot.ID)
	require.NoError(t, err)
	eng := f.driver.engineFor(ctx, player)

	c, ok := eng.(engine.Configurable)
	require.True(t, ok)
	assert.Equal(t, 1, c.Options().MaxDepth)
	assert.Equal(t, 64, c.Options().MaxNodes)
}

func TestEngineForUnknownBotUsesFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bot := f.player(t, "bot", true)

	player, err := f.store.PlayerByID(ctx, bot.ID)
	require.NoError(t, err)
	eng := f.driver.engineFor(ctx, player)

	assert.IsType(t, &engine.RandomCapture{}, eng)
}
