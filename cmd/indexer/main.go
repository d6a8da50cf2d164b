package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"jd-summary-service/internal/config"
	"jd-summary-service/internal/indexer"
	"jd-summary-service/internal/recovery"
	"jd-summary-service/internal/repository/postgresql"
	"jd-summary-service/internal/stream"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	if cfg.Postgres.DSN == "" {
		log.Fatalf("config: POSTGRES_DSN is required")
	}

	pool, err := postgresql.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("pg: %v", err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis: %v", err)
	}

	processed := postgresql.NewProcessedEventRepository(pool)
	failed := postgresql.NewFailedEventRepository(pool)
	docs := indexer.NewRedisDocStore(rdb, cfg.Indexer.DocsKey)
	ix := indexer.NewIndexer(processed, docs, cfg.Indexer.Group)

	// no record to park on the events stream, only the dead-letter row
	recorder := recovery.NewFailureRecorder(failed, nil, cfg.Stream.EventStream, cfg.Indexer.Group)

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "indexer"
	}
	consumer := stream.NewConsumer(rdb, stream.ConsumerConfig{
		Stream:        cfg.Stream.EventStream,
		Group:         cfg.Indexer.Group,
		Name:          hostname,
		Block:         cfg.Stream.Block,
		BatchSize:     cfg.Stream.BatchSize,
		MinIdle:       cfg.Stream.MinIdle,
		SweepEvery:    cfg.Stream.SweepEvery,
		MaxDeliveries: cfg.Stream.MaxDeliveries,
	}, ix.Handle, recorder.Record)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	metricsSrv := &http.Server{Addr: cfg.HTTP.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[indexer] metrics server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	log.Printf("[indexer] started stream=%s group=%s docs_key=%s",
		cfg.Stream.EventStream, cfg.Indexer.Group, cfg.Indexer.DocsKey)

	if err := consumer.Run(ctx); err != nil && err != context.Canceled {
		log.Printf("[indexer] exit error: %v", err)
	}
	log.Println("indexer stopped")
}
