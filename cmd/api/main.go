package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "jd-summary-service/docs"
	"jd-summary-service/internal/config"
	"jd-summary-service/internal/intake"
	"jd-summary-service/internal/recovery"
	"jd-summary-service/internal/repository/postgresql"
	"jd-summary-service/internal/stream"
	httptransport "jd-summary-service/internal/transport/http"
)

// @title JD Summary Service API
// @version 1.0
// @description Asynchronous job description summarization pipeline.
// @BasePath /
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	if cfg.Postgres.DSN == "" {
		log.Fatalf("config: POSTGRES_DSN is required")
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
	summaries := postgresql.NewSummaryRepository(pool)
	failed := postgresql.NewFailedEventRepository(pool)

	policy := intake.NewPolicy(snapshots, intake.PolicyConfig{
		MaxSimhashDistance: uint8(cfg.Intake.SimhashMaxDistance),
		ReprocessWindow:    cfg.Intake.ReprocessWindow,
		CandidateWindow:    cfg.Intake.CandidateWindow,
	})
	pub := stream.NewPublisher(rdb, cfg.Stream.SubmissionStream, cfg.Stream.MaxLen)
	svc := intake.NewService(records, snapshots, policy, pub)

	admin := recovery.NewAdminReprocessor(failed, rdb, cfg.Stream.MaxLen)

	router := httptransport.Routes(
		httptransport.NewHandler(svc, summaries),
		httptransport.NewAdminHandler(admin, failed),
	)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[api] listening addr=%s stream=%s postgres_dsn=%s",
		cfg.HTTP.Addr, cfg.Stream.SubmissionStream, config.RedactDSN(cfg.Postgres.DSN))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http: %v", err)
	}
	log.Println("api stopped")
}
