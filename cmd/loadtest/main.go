// Command loadtest measures write and load throughput of a single account
// stream on the configured backend.
//
//	AGGSTORE_BACKEND=nats LOADTEST_N=50000 go run ./cmd/loadtest
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/codewandler/aggstore/core/es"
	"github.com/codewandler/aggstore/internal/config"
	"github.com/codewandler/aggstore/internal/demo"
	"github.com/codewandler/aggstore/internal/stack"
)

type loadConfig struct {
	N             int           `env:"N" envDefault:"50000"`
	Batch         int           `env:"B" envDefault:"1000"`
	Snapshot      bool          `env:"SNAPSHOT" envDefault:"true"`
	LoadAfterSave bool          `env:"LOAD_AFTER_SAVE" envDefault:"false"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"2m"`
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	checkErr(err)
	lt, err := env.ParseAsWithOptions[loadConfig](env.Options{Prefix: "LOADTEST_"})
	checkErr(err)
	if lt.Batch <= 0 {
		lt.Batch = 1000
	}

	ctx, cancel := context.WithTimeout(context.Background(), lt.Timeout)
	defer cancel()

	checkErr(run(ctx, log, cfg, lt))
}

func run(ctx context.Context, log *slog.Logger, cfg config.Config, lt loadConfig) error {
	st, err := stack.Open(log, cfg, es.NopESMetrics())
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	e := es.NewEnv(
		es.WithCtx(ctx),
		es.WithLog(log),
		es.WithStore(st.Store),
		es.WithSnapshotter(st.Snapshotter),
		es.WithAggregates(new(demo.Account)),
		es.WithRepoOpts(es.WithRepoCacheLRU(1_000)),
	)
	defer e.Shutdown()
	repo := es.EnvRepository[*demo.Account](e)

	fmt.Printf("backend: %s | events: %d | snapshot: %t\n", cfg.Backend, lt.N, lt.Snapshot)

	id := fmt.Sprintf("loadtest-%d", time.Now().UnixNano())
	acc, err := repo.Create(ctx, id, func(a *demo.Account) error { return a.Open("loadtest") })
	if err != nil {
		return err
	}

	startAt := time.Now()
	lastAt := startAt
	for i := 1; i <= lt.N; i++ {
		if err := acc.Deposit(1); err != nil {
			return err
		}
		if err := repo.Save(ctx, acc); err != nil {
			return err
		}
		if lt.LoadAfterSave {
			if _, err := repo.GetByID(ctx, id, es.WithSnapshot(lt.Snapshot)); err != nil {
				return err
			}
		}

		if i%lt.Batch == 0 {
			now := time.Now()
			took := now.Sub(lastAt)
			mem := memUsage()
			fmt.Printf(
				"| %7d events | %6d ms | %7d events/s | %4d / %4d MiB (alloc/sys) |\n",
				i, took.Milliseconds(), int(float64(lt.Batch)/took.Seconds()), mem.Alloc>>20, mem.Sys>>20,
			)
			lastAt = now
		}
	}
	took := time.Since(startAt)

	loadAt := time.Now()
	loaded, err := repo.GetByID(ctx, id, es.WithSnapshot(lt.Snapshot), es.WithUseCache(false))
	if err != nil {
		return err
	}
	loadTook := time.Since(loadAt)

	fmt.Println("==========================================")
	fmt.Printf("total runtime: %.3f s\n", took.Seconds())
	fmt.Printf("avg. writes/s: %d\n", int(float64(lt.N)/took.Seconds()))
	fmt.Printf("      version: %d\n", loaded.GetVersion())
	fmt.Printf("      balance: %d\n", loaded.Balance)
	fmt.Printf("    cold load: %d ms\n", loadTook.Milliseconds())
	return nil
}

func memUsage() runtime.MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m
}

func checkErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
