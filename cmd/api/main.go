package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	v1 "github.com/Angelica137/kindly/cmd/api/router/v1"
	cacheAdapter "github.com/Angelica137/kindly/internal/infrastructure/cache/adapter"
	feedAdapter "github.com/Angelica137/kindly/internal/infrastructure/changefeed/adapter"
	"github.com/Angelica137/kindly/internal/infrastructure/config"
	"github.com/Angelica137/kindly/internal/infrastructure/database"
	"github.com/Angelica137/kindly/internal/infrastructure/logger"
	queueAdapter "github.com/Angelica137/kindly/internal/infrastructure/queue/adapter"
	"github.com/Angelica137/kindly/internal/infrastructure/realtime"
	"github.com/Angelica137/kindly/internal/pkg/conversation/application/task"
	repoAdapter "github.com/Angelica137/kindly/internal/pkg/conversation/persistence/repository/adapter"
	httpHandler "github.com/Angelica137/kindly/internal/pkg/conversation/presentation/http"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kindly: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, envLoaded, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	if !envLoaded {
		log.Info("dotenv_not_loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	cache, err := cacheAdapter.NewRedisAdapter(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer cache.Close()

	queue, err := queueAdapter.NewAsynqClient(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer queue.Close()

	worker, err := queueAdapter.NewAsynqServer(cfg.RedisURL, queueAdapter.ServerOptions{
		Concurrency: cfg.AsynqConcurrency,
		Queues:      cfg.QueueWeights(),
		Log:         log,
	})
	if err != nil {
		return err
	}
	task.RegisterMarkReadTask(worker, repoAdapter.NewPgConversationRepository(pool), log)

	// One LISTEN connection outside the pool serves every session.
	transport := feedAdapter.NewPgNotifyTransport(pool, log)
	router := realtime.NewRouter()

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(log))
	engine.GET("/", health(pool.Ping, cache.Ping))
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	v1.RegisterRoutes(engine, httpHandler.Deps{
		Pool:   pool,
		Feed:   transport,
		Cache:  cache,
		Queue:  queue,
		Router: router,
		Config: cfg,
		Log:    log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http_server_started", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		return transport.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting_down")
		// Hijacked websockets are not covered by Shutdown.
		router.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
