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
	"github.com/lalith-99/echosync/internal/api"
	"github.com/lalith-99/echosync/internal/config"
	"github.com/lalith-99/echosync/internal/db"
	"github.com/lalith-99/echosync/internal/middleware"
	"github.com/lalith-99/echosync/internal/observ"
	"github.com/lalith-99/echosync/internal/pubsub"
	"github.com/lalith-99/echosync/internal/repository/postgres"
	"github.com/lalith-99/echosync/internal/ws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Config and logger
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger("echosync-server", cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	// Cancelled on SIGINT/SIGTERM; every long-lived subscription hangs
	// off it.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 2. Postgres and redis
	// ---------------------------------------------------------------
	database, err := db.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	rdb, err := pubsub.NewClient(ctx, cfg.RedisURL, logger)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rdb.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observ.NewMetrics(registry)
	broker := pubsub.NewBroker(rdb, logger, metrics)

	// ---------------------------------------------------------------
	// 3. Repositories and handlers
	//
	// The pool is goroutine-safe, so every store shares it.
	// ---------------------------------------------------------------
	pool := database.Pool()
	workspaceRepo := postgres.NewWorkspaceStore(pool)
	userRepo := postgres.NewUserStore(pool)
	channelRepo := postgres.NewChannelStore(pool)
	membershipRepo := postgres.NewMembershipStore(pool)
	messageRepo := postgres.NewMessageStore(pool)
	reactionRepo := postgres.NewReactionStore(pool)
	fileRepo := postgres.NewFileStore(pool)
	searchRepo := postgres.NewSearchStore(pool)

	access := api.NewChannelAccess(channelRepo, membershipRepo)
	authHandler := api.NewAuthHandler(userRepo, workspaceRepo, cfg.JWTSecret, logger)
	userHandler := api.NewUserHandler(userRepo, logger)
	channelHandler := api.NewChannelHandler(channelRepo, membershipRepo, access, logger)
	membershipHandler := api.NewMembershipHandler(membershipRepo, access, logger)
	messageHandler := api.NewMessageHandler(messageRepo, access, broker, logger)
	reactionHandler := api.NewReactionHandler(messageHandler, reactionRepo)
	fileHandler := api.NewFileHandler(fileRepo, access, logger)
	searchHandler := api.NewSearchHandler(searchRepo, logger)

	hub := ws.NewHub(ctx, broker, logger)
	gateway := ws.NewGateway(hub, access, logger, metrics)

	// ---------------------------------------------------------------
	// 4. Routes
	// ---------------------------------------------------------------
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	// Health and metrics stay public so load balancers and scrapers can
	// reach them without a token.
	router.GET("/v1/health", func(c *gin.Context) {
		if err := database.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	router.POST("/v1/auth/signup", authHandler.Signup)
	router.POST("/v1/auth/login", authHandler.Login)

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	v1.GET("/ws", gateway.Handle)
	v1.GET("/users/me", userHandler.GetMe)

	v1.GET("/channels", channelHandler.List)
	v1.GET("/channels/:id", channelHandler.GetByID)
	v1.GET("/channels/:id/members", membershipHandler.ListMembers)
	v1.GET("/channels/:id/files", fileHandler.ListByChannel)
	v1.GET("/workspaces/search", searchHandler.Search)
	v1.GET("/channels/:id/messages", messageHandler.List)
	v1.GET("/messages/:id/reactions", reactionHandler.List)

	// Writes are rate limited per user.
	writes := v1.Group("", middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	writes.POST("/channels", channelHandler.Create)
	writes.POST("/channels/:id/join", membershipHandler.Join)
	writes.POST("/channels/:id/leave", membershipHandler.Leave)
	writes.POST("/channels/:id/messages", messageHandler.Create)
	writes.PATCH("/messages/:id", messageHandler.Update)
	writes.DELETE("/messages/:id", messageHandler.Delete)
	writes.POST("/messages/:id/pin", messageHandler.TogglePin)
	writes.POST("/messages/:id/reactions", reactionHandler.Toggle)

	// ---------------------------------------------------------------
	// 5. Serve until signalled
	// ---------------------------------------------------------------
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting echosync",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
