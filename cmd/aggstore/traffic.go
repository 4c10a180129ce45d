package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/codewandler/aggstore/core/command"
	"github.com/codewandler/aggstore/core/es"
	"github.com/codewandler/aggstore/core/retry"
	"github.com/codewandler/aggstore/internal/config"
	"github.com/codewandler/aggstore/internal/demo"
)

var owners = []string{"alice", "bob", "carol", "dave", "erin", "frank"}

// runTraffic opens the demo accounts and then moves money around on a
// ticker until ctx is done.
func runTraffic(ctx context.Context, log *slog.Logger, bus *command.Bus, balances *demo.Balances, cfg config.DemoConfig) error {
	log = log.With(slog.String("component", "traffic"))
	ids := make([]string, cfg.Accounts)
	for i := range ids {
		ids[i] = fmt.Sprintf("acc-%03d", i+1)
		err := bus.Dispatch(ctx, demo.OpenAccount{Meta: command.NewMeta(ids[i]), Owner: owners[i%len(owners)]})
		if err != nil && !errors.Is(err, es.ErrConcurrencyConflict) {
			return fmt.Errorf("open %s: %w", ids[i], err)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	strategy := retry.Default()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		id := ids[rand.IntN(len(ids))]
		var cmd command.Command
		switch n := rand.IntN(10); {
		case n < 5:
			cmd = demo.Deposit{Meta: command.NewMeta(id), Amount: 1 + rand.Int64N(500)}
		case n < 9:
			cmd = demo.Withdraw{Meta: command.NewMeta(id), Amount: 1 + rand.Int64N(300)}
		default:
			cmd = demo.ChangeLabel{Meta: command.NewMeta(id), Label: fmt.Sprintf("label-%d", rand.IntN(100))}
		}

		err := command.DispatchWithRetry(ctx, bus, cmd, strategy)
		switch {
		case err == nil:
		case errors.Is(err, demo.ErrInsufficientFunds):
			log.Debug("withdrawal declined", slog.String("account", id))
		case ctx.Err() != nil:
			return nil
		default:
			log.Warn("command failed", slog.String("type", command.TypeOf(cmd)), slog.Any("error", err))
		}
		log.Debug("total balance", slog.Int64("total", balances.Total()))
	}
}
