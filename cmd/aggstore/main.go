// Command aggstore runs the account demo on the aggregate store: a command
// bus and HTTP API in front of the configured event log, with metrics, the
// archive job and optional synthetic traffic.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/codewandler/aggstore/adapters/api"
	promadapter "github.com/codewandler/aggstore/adapters/prometheus"
	"github.com/codewandler/aggstore/core/archive"
	"github.com/codewandler/aggstore/core/command"
	"github.com/codewandler/aggstore/core/es"
	"github.com/codewandler/aggstore/core/idem"
	"github.com/codewandler/aggstore/internal/config"
	"github.com/codewandler/aggstore/internal/demo"
	"github.com/codewandler/aggstore/internal/stack"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	if err := run(ctx, log, cfg); err != nil {
		log.Error("aggstore failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, cfg config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := promadapter.NewAllMetrics(reg)

	st, err := stack.Open(log, cfg, metrics.ES)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("close storage", slog.Any("error", err))
		}
	}()

	archiveSvc := archive.NewService(
		st.Archive,
		archive.WithBatchSize(cfg.Archive.BatchSize),
		archive.WithMetrics(metrics.Archive),
		archive.WithLog(log),
	)

	envOpts := []es.EnvOption{
		es.WithCtx(ctx),
		es.WithLog(log),
		es.WithStore(st.Store),
		es.WithSnapshotter(st.Snapshotter),
		es.WithMetrics(metrics.ES),
		es.WithAggregates(new(demo.Account)),
		es.WithRules(demo.Rules()),
		es.WithArchiveRecoverer(archiveSvc),
		es.WithRepoOpts(es.WithRepoCacheLRU(cfg.Store.AggregateCacheSize)),
	}
	if st.States != nil {
		envOpts = append(envOpts, es.WithStateStore(st.States))
	}
	env := es.NewEnv(envOpts...)
	defer env.Shutdown()

	balances := demo.NewBalances()
	balances.Subscribe(env.Bus(), es.NewLogMiddleware(slog.String("projection", "balances")))

	bus := command.NewBus(
		command.WithLog(log),
		command.WithMetrics(metrics.Command),
		command.WithWorkers(cfg.Command.Workers),
		command.WithClockSkew(cfg.Command.ClockSkew),
		command.WithIdempotency(idem.NewControl(st.Idempotency, idem.WithTTL(cfg.Command.IdempotencyTTL), idem.WithLog(log))),
		command.WithPublisher(es.Publishers{env.Bus(), st.Publisher}),
	)
	defer bus.Close()

	accounts := es.EnvRepository[*demo.Account](env)
	if err := demo.NewHandlers(log, accounts).Register(bus); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(log)
	router.GET("/metrics", gin.WrapH(promadapter.Handler(reg)))
	demo.Routes(router, bus, accounts, balances)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Archive.Enabled {
		job, err := archive.NewJob(
			archiveSvc,
			st.Store,
			archive.JobConfig{Schedule: cfg.Archive.Schedule, Retention: cfg.Archive.Retention},
			archive.WithSnapshotter(st.Snapshotter),
			archive.WithLog(log),
		)
		if err != nil {
			return err
		}
		done := job.Start(gctx)
		g.Go(func() error {
			<-done
			return nil
		})
		log.Info("archive job scheduled", slog.String("schedule", cfg.Archive.Schedule))
	}

	if cfg.Demo.Enabled {
		g.Go(func() error {
			return runTraffic(gctx, log, bus, balances, cfg.Demo)
		})
	}

	return g.Wait()
}
