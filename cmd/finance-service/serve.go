package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/subcommands"
	"github.com/nfinance/finance-service/internal/api"
	"github.com/nfinance/finance-service/internal/app"
	"github.com/nfinance/finance-service/internal/config"
	rmrabbit "github.com/nfinance/finance-service/pkg/rabbitmq"
	"github.com/redis/go-redis/v9"
)

type serveCmd struct {
	configDir string
	migrate   bool
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the finance HTTP API" }
func (*serveCmd) Usage() string {
	return `finance-service serve [-config <dir>] [-migrate]

  Serves the HTTP API until SIGINT or SIGTERM.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configDir, "config", ".", "Directory holding an optional .env file")
	f.BoolVar(&c.migrate, "migrate", false, "Apply the database schema before serving")
}

func (c *serveCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if err := c.run(ctx); err != nil {
		log.Printf("level=fatal component=bootstrap msg=\"serve failed\" err=%v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *serveCmd) run(ctx context.Context) error {
	cfg, err := loadConfig(c.configDir)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" && !cfg.AuthAllowHeaderFallback {
		return fmt.Errorf("JWT_SECRET must be configured")
	}
	logger := newLogger(cfg)
	log.Printf("level=info component=bootstrap msg=\"starting finance-service\" port=%s store=%s", cfg.ServerPort, cfg.StoreDriver)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if c.migrate {
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
		log.Println("level=info component=bootstrap msg=\"schema migrated\"")
	}

	publisher := openPublisher(cfg)
	defer publisher.Close()

	limiter, closeLimiter := openRateLimiter(ctx, cfg)
	defer closeLimiter()

	engine := app.NewPostingEngine(st, publisher, cfg.EventsExchange, logger)
	instruments := app.NewInstrumentService(st, cfg.DefaultCurrency, logger)
	users := app.NewUserService(st, cfg.BcryptCost, logger)

	scheduler := app.NewScheduler(app.NewReconciler(st, logger), logger, cfg.ReconcileSchedule)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("reconcile scheduler start failed: %w", err)
	}

	router := api.NewRouter(api.NewHandlers(engine, instruments, users), api.RouterConfig{
		Auth: api.AuthConfig{
			Secret:              cfg.JWTSecret,
			AllowHeaderFallback: cfg.AuthAllowHeaderFallback,
		},
		AllowedOrigins:            cfg.AllowedOrigins(),
		RateLimiter:               limiter,
		PostingRateLimitPerMinute: cfg.PostingRateLimitPerMinute,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-stop:
	case err := <-serverErr:
		<-scheduler.Stop().Done()
		return fmt.Errorf("server stopped unexpectedly: %w", err)
	}
	log.Println("level=info component=http msg=\"shutdown started\"")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		log.Println("level=warn component=bootstrap msg=\"reconcile job still running at shutdown\"")
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
	return nil
}

// openPublisher connects to RabbitMQ, falling back to a no-op publisher so
// postings never depend on the broker being up.
func openPublisher(cfg config.Config) rmrabbit.Publisher {
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; events disabled\" env=RABBITMQ_URL")
		return rmrabbit.NoopPublisher{}
	}
	producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		return rmrabbit.NoopPublisher{}
	}
	log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	return producer
}

// openRateLimiter returns a Redis-backed limiter, or nil when rate limiting is
// disabled or Redis is unreachable.
func openRateLimiter(ctx context.Context, cfg config.Config) (api.RateLimiter, func()) {
	noop := func() {}
	if cfg.PostingRateLimitPerMinute <= 0 {
		return nil, noop
	}
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; posting rate limiting disabled\" env=REDIS_URL")
		return nil, noop
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; posting rate limiting disabled\" err=%v", err)
		return nil, noop
	}
	redisClient := redis.NewClient(redisOptions)
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	defer cancelPing()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; posting rate limiting disabled\" err=%v", err)
		redisClient.Close()
		return nil, noop
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix), func() { redisClient.Close() }
}
