package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrattendance/internal/attendance"
	"qrattendance/internal/auth"
	"qrattendance/internal/config"
	"qrattendance/internal/handler"
	"qrattendance/internal/httpmiddleware"
	"qrattendance/internal/metrics"
	"qrattendance/internal/presence"
	"qrattendance/internal/queue"
	"qrattendance/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var db *store.DB
	var registry attendance.Store
	if cfg.StoreBackend == "memory" {
		log.Println("using in-memory session store; data is lost on restart, /auth/login is off (use `admin token`)")
		registry = attendance.NewMemoryStore()
	} else {
		var err error
		db, err = store.NewDB(ctx, cfg.DatabaseURL)
		if db == nil {
			return err
		}
		if err != nil {
			log.Printf("warning: db not reachable: %v", err)
		}
		defer db.Close()
		registry = attendance.NewRepository(db.Client)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	var counter presence.Counter
	if cfg.QueueBackend == "memory" {
		// No worker in this mode: fold mark events into a local counter.
		mem := queue.NewInMemory(256)
		q = mem
		local := presence.NewMemoryCounter()
		counter = local
		go func() {
			if err := presence.Consume(ctx, mem, local); err != nil && ctx.Err() == nil {
				log.Printf("presence consumer stopped: %v", err)
			}
		}()
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
		counter = presence.NewRedisCounter(redisClient.Client, 2*cfg.MaxSessionDuration)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	svc := attendance.NewService(registry, attendance.Options{
		DefaultRadius:   cfg.DefaultRadiusMeters,
		MaxDuration:     cfg.MaxSessionDuration,
		EnforceGeofence: cfg.EnforceGeofence,
	})
	if db == nil {
		// Without postgres the worker cannot see these sessions, so sweep here.
		go svc.Sweep(ctx, cfg.SweepInterval, func(n int64) { m.SessionsExpired.Add(float64(n)) })
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware(httpmiddleware.ByClientIP))
	r.Use(m.GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		dbHealthy := db == nil || db.Healthy(c.Request.Context())
		redisHealthy := cfg.QueueBackend == "memory" || redisClient.Healthy(c.Request.Context())
		status := http.StatusOK
		if !dbHealthy || !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "db": dbHealthy, "redis": redisHealthy})
	})

	if db != nil {
		handler.RegisterAuthRoutes(r, auth.NewService(auth.NewRepository(db.Client), cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL))
	}
	handler.RegisterRoutes(r, handler.Deps{
		Service:  svc,
		Events:   q,
		Presence: presence.NewTracker(counter, svc.PresentCount),
		Metrics:  m,
		QRSize:   cfg.QRSize,
		Authn:    auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}
