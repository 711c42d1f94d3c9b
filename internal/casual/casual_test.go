package casual

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

type driverRec struct {
	games []int64
}

func (d *driverRec) TryMove(gameID int64) {
	d.games = append(d.games, gameID)
}

type fixture struct {
	store  *store.Store
	mm     *Matchmaker
	clock  *quartz.Mock
	driver *driverRec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := log.NewWithOptions(io.Discard, log.Options{})
	s, err := store.Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	mc := quartz.NewMock(t)
	rng := rand.New(rand.NewPCG(23, 29))
	d := &driverRec{}
	return &fixture{
		store:  s,
		mm:     NewMatchmaker(s, mc, rng, d, logger, Options{}),
		clock:  mc,
		driver: d,
	}
}

func (f *fixture) player(t *testing.T, name string, isBot bool) *store.Player {
	t.Helper()
	p := &store.Player{
		Name: name, Rating: 500, RD: 250, Volatility: 0.06, IsBot: isBot,
		TokenHash: "hash-" + name, CreatedAt: f.clock.Now(),
	}
	require.NoError(t, f.store.CreatePlayer(context.Background(), p))
	return p
}

func (f *fixture) touch(t *testing.T, p *store.Player) {
	t.Helper()
	require.NoError(t, f.store.TouchPresence(context.Background(), p.ID, f.clock.Now()))
}

func (f *fixture) queue(t *testing.T) []*store.QueueTicket {
	t.Helper()
	tickets, err := f.store.CasualQueue(context.Background())
	require.NoError(t, err)
	return tickets
}

func (f *fixture) ongoingGame(t *testing.T, white, black *store.Player) *store.Game {
	t.Helper()
	g := &store.Game{
		WhiteID: white.ID, BlackID: black.ID,
		Result: store.ResultOngoing, FEN: rules.StartingFEN,
		WhiteClockMS: 180000, BlackClockMS: 180000, IncrementMS: 2000,
		ClockRunning:    rules.White,
		LastClockUpdate: f.clock.Now(),
		StartedAt:       f.clock.Now(),
	}
	require.NoError(t, f.store.CreateGame(context.Background(), g))
	return g
}

func TestJoinQueuesWhenNobodyWaits(t *testing.T) {
	f := newFixture(t)
	p := f.player(t, "ada", false)

	g, err := f.mm.Join(context.Background(), p.ID, "3+2")
	require.NoError(t, err)
	assert.Nil(t, g, "nobody to play yet")

	tickets := f.queue(t)
	require.Len(t, tickets, 1)
	assert.Equal(t, p.ID, tickets[0].PlayerID)
	assert.Equal(t, "3+2", tickets[0].TimeControl)
}

func TestJoinMatchesWaitingPlayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.player(t, "ada", false)
	p2 := f.player(t, "bob", false)
	f.touch(t, p1)

	g, err := f.mm.Join(ctx, p1.ID, "3+2")
	require.NoError(t, err)
	require.Nil(t, g)

	g, err = f.mm.Join(ctx, p2.ID, "3+2")
	require.NoError(t, err)
	require.NotNil(t, g, "two matching tickets make a game")
	assert.ElementsMatch(t, []int64{p1.ID, p2.ID}, []int64{g.WhiteID, g.BlackID})
	assert.Equal(t, int64(180000), g.WhiteClockMS)
	assert.Equal(t, int64(2000), g.IncrementMS)
	assert.Equal(t, rules.StartingFEN, g.FEN)

	tn, err := f.store.TournamentByID(ctx, g.TournamentID)
	require.NoError(t, err)
	assert.True(t, tn.Casual)
	assert.Equal(t, "Casual 3+2", tn.Name)
	assert.Equal(t, store.TournamentActive, tn.Status)

	for _, pid := range []int64{p1.ID, p2.ID} {
		tp, err := f.store.TournamentPlayerFor(ctx, tn.ID, pid)
		require.NoError(t, err)
		assert.True(t, tp.Active)
		assert.False(t, tp.InQueue)
	}

	assert.Empty(t, f.queue(t), "both tickets consumed")
}

func TestJoinMatchesOldestTicketFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.player(t, "ada", false)
	p2 := f.player(t, "bob", false)
	p3 := f.player(t, "cam", false)

	_, err := f.mm.Join(ctx, p1.ID, "3+2")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.mm.Join(ctx, p2.ID, "3+2")
	require.NoError(t, err)

	f.touch(t, p1)
	f.touch(t, p2)
	g, err := f.mm.Join(ctx, p3.ID, "3+2")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.ElementsMatch(t, []int64{p1.ID, p3.ID}, []int64{g.WhiteID, g.BlackID},
		"the longest-waiting ticket wins")

	tickets := f.queue(t)
	require.Len(t, tickets, 1)
	assert.Equal(t, p2.ID, tickets[0].PlayerID)
}

func TestJoinIgnoresOfflinePlayers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.player(t, "ada", false)
	p2 := f.player(t, "bob", false)

	_, err := f.mm.Join(ctx, p1.ID, "3+2")
	require.NoError(t, err)

	g, err := f.mm.Join(ctx, p2.ID, "3+2")
	require.NoError(t, err)
	assert.Nil(t, g, "a ticket without recent presence does not match")
	assert.Len(t, f.queue(t), 2)
}

func TestJoinIgnoresOtherTimeControls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.player(t, "ada", false)
	p2 := f.player(t, "bob", false)
	f.touch(t, p1)

	_, err := f.mm.Join(ctx, p1.ID, "3+2")
	require.NoError(t, err)

	g, err := f.mm.Join(ctx, p2.ID, "5+0")
	require.NoError(t, err)
	assert.Nil(t, g)
	assert.Len(t, f.queue(t), 2)
}

func TestJoinSweepsStaleTickets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.player(t, "ada", false)
	p2 := f.player(t, "bob", false)

	_, err := f.mm.Join(ctx, p1.ID, "3+2")
	require.NoError(t, err)

	f.clock.Advance(TicketTTL + time.Minute)
	f.touch(t, p1)
	g, err := f.mm.Join(ctx, p2.ID, "3+2")
	require.NoError(t, err)
	assert.Nil(t, g, "an expired ticket cannot match even when its owner is online")

	tickets := f.queue(t)
	require.Len(t, tickets, 1)
	assert.Equal(t, p2.ID, tickets[0].PlayerID)
}

func TestJoinRefreshesOwnTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.player(t, "ada", false)

	_, err := f.mm.Join(ctx, p.ID, "3+2")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.mm.Join(ctx, p.ID, "5+0")
	require.NoError(t, err)

	tickets := f.queue(t)
	require.Len(t, tickets, 1)
	assert.Equal(t, "5+0", tickets[0].TimeControl)
	assert.Equal(t, f.clock.Now().UnixMilli(), tickets[0].JoinedAt.UnixMilli())
}

func TestJoinRefusesBannedPlayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.player(t, "bad", false)
	require.NoError(t, f.store.SetPlayerBanned(ctx, p.ID, true))

	_, err := f.mm.Join(ctx, p.ID, "3+2")
	assert.ErrorIs(t, err, ErrBanned)
	assert.Empty(t, f.queue(t))
}

func TestJoinRefusesMidGamePlayer(t *testing.T) {
	f := newFixture(t)
	p1 := f.player(t, "ada", false)
	p2 := f.player(t, "bob", false)
	f.ongoingGame(t, p1, p2)

	_, err := f.mm.Join(context.Background(), p1.ID, "3+2")
	assert.ErrorIs(t, err, ErrAlreadyPlaying)
}

func TestJoinSkipsCandidatesWhoStartedPlaying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.player(t, "ada", false)
	p2 := f.player(t, "bob", false)
	p3 := f.player(t, "cam", false)
	f.touch(t, p1)

	_, err := f.mm.Join(ctx, p1.ID, "3+2")
	require.NoError(t, err)
	f.ongoingGame(t, p1, p3)

	g, err := f.mm.Join(ctx, p2.ID, "3+2")
	require.NoError(t, err)
	assert.Nil(t, g, "a queued player who found a game elsewhere is skipped")
}

func TestPlayBotStartsGameAndWakesDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.player(t, "ada", false)
	bot := f.player(t, "crusher", true)

	g, err := f.mm.PlayBot(ctx, p.ID, bot.ID, "3+2")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.ElementsMatch(t, []int64{p.ID, bot.ID}, []int64{g.WhiteID, g.BlackID})
	assert.Equal(t, []int64{g.ID}, f.driver.games, "the scheduler gets nudged")

	tn, err := f.store.TournamentByID(ctx, g.TournamentID)
	require.NoError(t, err)
	assert.True(t, tn.Casual)
}

func TestPlayBotDropsOwnQueueTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.player(t, "ada", false)
	bot := f.player(t, "crusher", true)

	_, err := f.mm.Join(ctx, p.ID, "3+2")
	require.NoError(t, err)
	require.Len(t, f.queue(t), 1)

	_, err = f.mm.PlayBot(ctx, p.ID, bot.ID, "3+2")
	require.NoError(t, err)
	assert.Empty(t, f.queue(t))
}

func TestPlayBotRefusesHumanOpponent(t *testing.T) {
	f := newFixture(t)
	p := f.player(t, "ada", false)
	other := f.player(t, "bob", false)

	_, err := f.mm.PlayBot(context.Background(), p.ID, other.ID, "3+2")
	assert.ErrorIs(t, err, ErrBotUnavailable)
}

func TestPlayBotRefusesBannedBot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.player(t, "ada", false)
	bot := f.player(t, "crusher", true)
	require.NoError(t, f.store.SetPlayerBanned(ctx, bot.ID, true))

	_, err := f.mm.PlayBot(ctx, p.ID, bot.ID, "3+2")
	assert.ErrorIs(t, err, ErrBotUnavailable)
}

func TestPlayBotRefusesBusyBot(t *testing.T) {
	f := newFixture(t)
	p := f.player(t, "ada", false)
	other := f.player(t, "bob", false)
	bot := f.player(t, "crusher", true)
	f.ongoingGame(t, other, bot)

	_, err := f.mm.PlayBot(context.Background(), p.ID, bot.ID, "3+2")
	assert.ErrorIs(t, err, ErrBotBusy)
}

func TestSweepPrunesOnlyExpiredTickets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.player(t, "ada", false)
	p2 := f.player(t, "bob", false)

	err := f.store.EnqueueCasual(ctx, &store.QueueTicket{
		PlayerID: p1.ID, TimeControl: "3+2", JoinedAt: f.clock.Now(),
	})
	require.NoError(t, err)
	f.clock.Advance(TicketTTL + time.Minute)
	err = f.store.EnqueueCasual(ctx, &store.QueueTicket{
		PlayerID: p2.ID, TimeControl: "3+2", JoinedAt: f.clock.Now(),
	})
	require.NoError(t, err)

	f.mm.sweepStale(ctx)

	tickets := f.queue(t)
	require.Len(t, tickets, 1)
	assert.Equal(t, p2.ID, tickets[0].PlayerID)
}
