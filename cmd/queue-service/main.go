package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicq/queue-service/internal/config"
	"clinicq/queue-service/internal/httpapi"
	"clinicq/queue-service/internal/observability/metrics"
	"clinicq/queue-service/internal/queue"
	"clinicq/queue-service/internal/store/postgres"
	"clinicq/queue-service/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()

	shutdownTracing := telemetry.Setup("queue-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool, postgres.Options{
		DefaultMaxTokens: cfg.DefaultMaxTokens,
		RetryBackoff:     cfg.RetryBackoff,
	})
	estimator := queue.NewEstimator(st, time.Duration(cfg.DefaultAvgConsultSeconds)*time.Second)
	queueMetrics := metrics.NewQueueMetrics(nil)
	handler := httpapi.NewHandler(st, estimator, queueMetrics)

	routes := httpapi.AuthMiddleware(st, handler.Routes())
	var limited http.Handler
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		limiter := httpapi.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, "clinicq")
		limited = limiter.Middleware(routes)
	} else {
		limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
			IPPerMinute:     cfg.RateLimitPerMinute,
			IPBurst:         cfg.RateLimitBurst,
			ClinicPerMinute: cfg.ClinicRateLimitPerMinute,
			ClinicBurst:     cfg.ClinicRateLimitBurst,
		})
		limited = limiter.Middleware(routes)
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(limited), "queue-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("queue-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
