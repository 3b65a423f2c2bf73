// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ollama-webchat/internal/config"
	"ollama-webchat/internal/domain/ports/adapter"
	aiAdapters "ollama-webchat/internal/infra/adapters/ai"
	"ollama-webchat/internal/infra/logging"
	red "ollama-webchat/internal/infra/redis"
	"ollama-webchat/internal/infra/sched"
	"ollama-webchat/internal/infra/web"
	"ollama-webchat/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop AI, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	chatStore := red.NewChatStore(redisClient, cfg.Chat.MaxSessionsPerUser, logger)
	rateLimiter := red.NewRateLimiter(redisClient)
	respCache := red.NewResponseCache(redisClient, cfg.Chat.CacheTTL.Std())

	// ---- AI Adapter ----
	var ai adapter.AIServiceAdapter
	switch {
	case cfg.Runtime.Dev && cfg.AI.Provider == "noop":
		ai = aiAdapters.NewNoopAIAdapter()
		logger.Info().Msg("AI adapter: noop")
	case cfg.AI.Provider == "openai":
		ai, err = aiAdapters.NewOpenAIAdapter(cfg.AI.OpenAIKey, cfg.AI.OpenAIBaseURL, cfg.AI.Model)
		if err != nil {
			log.Fatalf("openai adapter: %v", err)
		}
		logger.Info().Str("model", cfg.AI.Model).Msg("AI adapter: OpenAI compatible")
	default:
		ai = aiAdapters.NewOllamaAdapter(cfg.AI.BaseURL, cfg.AI.Model)
		logger.Info().Str("base_url", cfg.AI.BaseURL).Str("model", cfg.AI.Model).Msg("AI adapter: Ollama")
	}
	ai = aiAdapters.NewLimitedAI(ai, cfg.AI.ConcurrentLimit)

	// ---- Use cases ----
	handles := usecase.NewHandleTable(cfg.Chat.MaxActiveStreams)
	controller := usecase.NewStreamController(
		ai, chatStore, respCache, handles,
		cfg.AI.Model,
		adapter.Options{
			Temperature: cfg.AI.Temperature,
			TopP:        cfg.AI.TopP,
			TopK:        cfg.AI.TopK,
			NumPredict:  cfg.AI.NumPredict,
			Stop:        cfg.AI.Stop,
		},
		cfg.AI.RequestTimeout.Std(),
		logger,
	)
	trimmer := usecase.NewHistoryTrimmer(cfg.Chat.HistoryLimit, cfg.Chat.HistoryMessageChars, cfg.Chat.HistoryTokenBudget)
	chatUC := usecase.NewChatUseCase(chatStore, respCache, rateLimiter, controller, trimmer, ai, usecase.Limits{
		RateWindow:      cfg.Chat.RateWindow.Std(),
		RateMax:         cfg.Chat.RateMax,
		MaxMessageChars: cfg.Chat.MaxMessageChars,
		HistoryLimit:    cfg.Chat.HistoryLimit,
	}, logger)

	// ---- Backend health monitor ----
	monitor := sched.NewHealthMonitor(cfg.AI.HealthInterval.Std(), ai, logger)
	go func() { _ = monitor.Run(ctx) }()

	// ---- Chat HTTP server ----
	apiSrv := web.NewServer(chatUC, cfg.Auth.JWTSecret, monitor, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiSrv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("chat API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Admin server (stats + model test + metrics) ----
	adminSrv := web.NewAdminServer(redisClient, ai, cfg.Admin.APIKey, logger)
	admin := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Admin.Port),
		Handler:           adminSrv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", admin.Addr).Msg("admin listening")
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	if err := admin.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("admin shutdown")
	}
}
