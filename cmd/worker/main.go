package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"jd-summary-service/internal/config"
	"jd-summary-service/internal/llm"
	"jd-summary-service/internal/recovery"
	"jd-summary-service/internal/repository/postgresql"
	"jd-summary-service/internal/stream"
	"jd-summary-service/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	// Postgres
	pool, err := postgresql.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("pg: %v", err)
	}
	defer pool.Close()

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis: %v", err)
	}

	// DI
	records := postgresql.NewRecordRepository(pool)
	snapshots := postgresql.NewSnapshotRepository(pool)
	taxonomy := postgresql.NewTaxonomyRepository(pool)
	summaries := postgresql.NewSummaryRepository(pool)
	failed := postgresql.NewFailedEventRepository(pool)

	primary := llm.NewHTTPProvider(llm.ProviderConfig(cfg.LLM.Primary))
	var fallback llm.Provider
	if cfg.LLM.FallbackEnabled() {
		fallback = llm.NewHTTPProvider(llm.ProviderConfig(cfg.LLM.Fallback))
	}
	invoker := llm.NewInvoker(primary, fallback, llm.BreakerSettings{
		MinRequests: cfg.LLM.BreakerMinRequests,
		FailureRate: cfg.LLM.BreakerFailureRate,
		OpenFor:     cfg.LLM.BreakerOpenFor,
		HalfOpenMax: cfg.LLM.BreakerHalfOpenMax,
		Window:      cfg.LLM.BreakerWindow,
	})

	processor := worker.NewProcessor(records, taxonomy, summaries, invoker)
	dispatcher := worker.NewDispatcher(processor, cfg.Worker.LLMMaxConcurrent, cfg.Worker.DrainTimeout)
	recorder := recovery.NewFailureRecorder(failed, records, cfg.Stream.SubmissionStream, cfg.Stream.SubmissionGroup)

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < cfg.Worker.Consumers; i++ {
		consumer := stream.NewConsumer(rdb, stream.ConsumerConfig{
			Stream:        cfg.Stream.SubmissionStream,
			Group:         cfg.Stream.SubmissionGroup,
			Name:          fmt.Sprintf("%s-%d", hostname, i),
			Block:         cfg.Stream.Block,
			BatchSize:     cfg.Stream.BatchSize,
			MinIdle:       cfg.Stream.MinIdle,
			SweepEvery:    cfg.Stream.SweepEvery,
			MaxDeliveries: cfg.Stream.MaxDeliveries,
		}, dispatcher.Handle, recorder.Record)
		g.Go(func() error { return consumer.Run(gctx) })
	}

	// scheduled recovery: dead-letter replays and stuck SUMMARIZING records
	reprocessor := recovery.NewReprocessor(failed, dispatcher.Handle, recovery.ReprocessorConfig{
		Every:      cfg.Recovery.ReprocessEvery,
		BatchSize:  cfg.Recovery.ReprocessBatch,
		MaxAge:     cfg.Recovery.MaxEventAge,
		MaxRetries: cfg.Recovery.MaxRetries,
	})
	g.Go(func() error { reprocessor.Run(gctx); return nil })

	stuck := recovery.NewStuckRecovery(records, snapshots, processor, recovery.StuckRecoveryConfig{
		Every:      cfg.Recovery.StuckEvery,
		StuckAfter: cfg.Recovery.StuckAfter,
		BatchSize:  cfg.Recovery.StuckBatch,
	})
	g.Go(func() error { stuck.Run(gctx); return nil })

	// metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	metricsSrv := &http.Server{Addr: cfg.HTTP.MetricsAddr, Handler: mux}
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	log.Printf("[worker] started consumers=%d llm_max_concurrent=%d stream=%s group=%s postgres_dsn=%s",
		cfg.Worker.Consumers, cfg.Worker.LLMMaxConcurrent,
		cfg.Stream.SubmissionStream, cfg.Stream.SubmissionGroup,
		config.RedactDSN(cfg.Postgres.DSN),
	)

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Printf("[worker] exit error: %v", err)
	}

	dispatcher.Shutdown()
	log.Println("worker stopped")
}
