package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/chessarena/internal/arena"
	"github.com/lox/chessarena/internal/auth"
	"github.com/lox/chessarena/internal/config"
	"github.com/lox/chessarena/internal/engine"
	"github.com/lox/chessarena/internal/rating"
	"github.com/lox/chessarena/internal/store"
)

// seedBots creates an account for each configured bot and binds it to
// its engine. Existing bots keep their live rating; only the engine
// binding is refreshed, so config tuning edits take effect on restart.
func seedBots(ctx context.Context, st *store.Store, registry *engine.Registry, clk quartz.Clock, logger *log.Logger, bots []config.BotConfig) error {
	for i := range bots {
		b := &bots[i]
		if !registry.Has(b.Engine) {
			logger.Warn("unknown engine for bot, will fall back",
				"bot", b.Name, "engine", b.Engine, "fallback", engine.DefaultKey)
		}

		p, err := st.PlayerByName(ctx, b.Name)
		switch {
		case errors.Is(err, store.ErrNotFound):
			now := clk.Now()
			p = &store.Player{
				Name: b.Name,
				// Bots act in-process and never authenticate; the
				// token is generated and discarded.
				TokenHash:  auth.HashToken(auth.NewToken()),
				Rating:     b.Rating,
				RD:         rating.DefaultDeviation,
				Volatility: rating.DefaultVolatility,
				IsBot:      true,
				CreatedAt:  now,
			}
			if err := st.CreatePlayer(ctx, p); err != nil {
				return fmt.Errorf("seed bot %s: %w", b.Name, err)
			}
			if err := st.RecordRating(ctx, &store.RatingSnapshot{
				PlayerID:   p.ID,
				Rating:     p.Rating,
				RD:         p.RD,
				RecordedAt: now,
			}); err != nil {
				return fmt.Errorf("seed bot %s: %w", b.Name, err)
			}
			logger.Info("seeded bot", "name", b.Name, "engine", b.Engine, "rating", b.Rating)
		case err != nil:
			return fmt.Errorf("seed bot %s: %w", b.Name, err)
		case !p.IsBot:
			return fmt.Errorf("seed bot %s: name taken by a human player", b.Name)
		}

		if err := st.UpsertBotConfig(ctx, &store.BotConfig{
			PlayerID:  p.ID,
			EngineKey: b.Engine,
			Config:    b.EngineOptionsJSON(),
		}); err != nil {
			return fmt.Errorf("seed bot %s: %w", b.Name, err)
		}
	}
	return nil
}

// scheduleTournaments creates the configured arenas. A tournament whose
// name is already waiting or active is skipped, so restarts do not stack
// duplicates.
func scheduleTournaments(ctx context.Context, st *store.Store, eng *arena.Engine, clk quartz.Clock, logger *log.Logger, tournaments []config.TournamentConfig) error {
	taken := make(map[string]bool)
	for _, status := range []string{store.TournamentWaiting, store.TournamentActive} {
		existing, err := st.TournamentsWithStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, t := range existing {
			if !t.Casual {
				taken[t.Name] = true
			}
		}
	}

	for _, tc := range tournaments {
		if taken[tc.Name] {
			logger.Info("tournament already scheduled", "name", tc.Name)
			continue
		}
		startsAt := clk.Now().Add(time.Duration(tc.StartsInSeconds) * time.Second)
		duration := time.Duration(tc.DurationMinutes) * time.Minute
		if _, err := eng.CreateTournament(ctx, tc.Name, tc.TimeControl, duration, startsAt); err != nil {
			return fmt.Errorf("schedule tournament %s: %w", tc.Name, err)
		}
	}
	return nil
}
