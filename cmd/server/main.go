package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pocketping/chat-server-go/internal/ai"
	"github.com/pocketping/chat-server-go/internal/bridge"
	"github.com/pocketping/chat-server-go/internal/config"
	"github.com/pocketping/chat-server-go/internal/core"
	"github.com/pocketping/chat-server-go/internal/database"
	"github.com/pocketping/chat-server-go/internal/handler"
	"github.com/pocketping/chat-server-go/internal/jobs"
	"github.com/pocketping/chat-server-go/internal/middleware"
	"github.com/pocketping/chat-server-go/internal/realtime"
	"github.com/pocketping/chat-server-go/internal/redis"
	"github.com/pocketping/chat-server-go/internal/repository"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(pingCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	if err := db.EnsureSchema(pingCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure database schema")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	sessionRepo := repository.NewSessionRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	broker := realtime.NewBroker(redisClient)
	defer broker.Close()

	var aiProvider core.AIProvider
	if cfg.AIEnabled() {
		provider, err := ai.NewProvider(context.Background(), ai.Config{
			APIKey:  cfg.AIAPIKey,
			BaseURL: cfg.AIBaseURL,
			Model:   cfg.AIModel,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init ai provider")
		}
		aiProvider = provider
	}

	systemPrompt := cfg.AISystemPrompt
	if systemPrompt == "" {
		systemPrompt = config.DefaultSystemPrompt
	}

	chatCore := core.New(core.Options{
		Sessions:       sessionRepo,
		Messages:       messageRepo,
		Broker:         broker,
		AI:             aiProvider,
		SystemPrompt:   systemPrompt,
		TakeoverDelay:  cfg.AITakeoverDelay(),
		WelcomeMessage: cfg.WelcomeMessage,
	})

	ctx := context.Background()

	if cfg.TelegramBotToken != "" {
		telegram, err := bridge.NewTelegramBridge(bridge.TelegramConfig{
			BotToken: cfg.TelegramBotToken,
			ChatID:   cfg.TelegramChatID,
		}, redisClient)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create telegram bridge")
		}
		if err := chatCore.AddBridge(ctx, telegram); err != nil {
			log.Fatal().Err(err).Msg("failed to register telegram bridge")
		}
	}

	if cfg.DiscordWebhookURL != "" {
		discord, err := bridge.NewDiscordBridge(cfg.DiscordWebhookURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create discord bridge")
		}
		if err := chatCore.AddBridge(ctx, discord); err != nil {
			log.Fatal().Err(err).Msg("failed to register discord bridge")
		}
	}

	if err := chatCore.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start chat core")
	}

	rateLimitMiddleware := middleware.NewIPRateLimitMiddleware(redisClient.Client, cfg.RateLimitPerMin)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	chatHandler := handler.NewChatHandler(chatCore)
	operatorHandler := handler.NewOperatorHandler(chatCore)
	eventsHandler := handler.NewEventsHandler(broker, chatCore)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/api/chat", func(r chi.Router) {
		r.Use(rateLimitMiddleware.Handler)
		// The SSE stream must not inherit the request timeout.
		r.Get("/events", eventsHandler.ServeHTTP)
		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Mount("/", chatHandler.Routes())
		})
	})

	r.Route("/api/operator", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Mount("/", operatorHandler.Routes())
	})

	takeoverJob := jobs.NewTakeoverJob(chatCore, config.TakeoverCheckInterval)
	takeoverJob.Start()
	defer takeoverJob.Stop()

	cleanupJob := jobs.NewCleanupJob(sessionRepo, cfg.SessionRetention(), config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	chatCore.Stop(shutdownCtx)

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
