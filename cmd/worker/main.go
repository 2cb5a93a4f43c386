package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrattendance/internal/attendance"
	"qrattendance/internal/config"
	"qrattendance/internal/metrics"
	"qrattendance/internal/presence"
	"qrattendance/internal/queue"
	"qrattendance/internal/store"
)

// Worker closes expired sessions and folds mark events into the presence cache.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.StoreBackend == "memory" || cfg.QueueBackend == "memory" {
		log.Fatalf("worker needs postgres and redis; the api runs these loops itself with memory backends")
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis not reachable at %s, retrying on demand", cfg.RedisAddr)
	}

	svc := attendance.NewService(attendance.NewRepository(db.Client), attendance.Options{
		DefaultRadius:   cfg.DefaultRadiusMeters,
		MaxDuration:     cfg.MaxSessionDuration,
		EnforceGeofence: cfg.EnforceGeofence,
	})
	m := metrics.New(prometheus.DefaultRegisterer)
	q := queue.NewRedisQueue(redisClient.Client, "")
	counter := presence.NewRedisCounter(redisClient.Client, 2*cfg.MaxSessionDuration)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":" + cfg.WorkerMetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics listener failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		log.Printf("expiry sweeper running every %s", cfg.SweepInterval)
		svc.Sweep(ctx, cfg.SweepInterval, func(n int64) { m.SessionsExpired.Add(float64(n)) })
	}()
	go func() {
		defer wg.Done()
		log.Println("presence consumer waiting for events...")
		for ctx.Err() == nil {
			if err := presence.Consume(ctx, q, counter); err != nil && ctx.Err() == nil {
				log.Printf("presence consumer failed: %v", err)
				time.Sleep(time.Second)
			}
		}
	}()

	wg.Wait()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Println("worker stopped")
}
