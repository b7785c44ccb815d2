package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/AnshulParate2004/ChunkSmith/api/handlers"
	"github.com/AnshulParate2004/ChunkSmith/api/routes"
	"github.com/AnshulParate2004/ChunkSmith/config"
	"github.com/AnshulParate2004/ChunkSmith/internal/chat"
	"github.com/AnshulParate2004/ChunkSmith/internal/dispatch"
	"github.com/AnshulParate2004/ChunkSmith/internal/genai"
	"github.com/AnshulParate2004/ChunkSmith/internal/retriever"
	"github.com/AnshulParate2004/ChunkSmith/internal/track"
	"github.com/AnshulParate2004/ChunkSmith/pkg/bus"
	"github.com/AnshulParate2004/ChunkSmith/pkg/logger"
	"github.com/AnshulParate2004/ChunkSmith/pkg/queue"
	"github.com/AnshulParate2004/ChunkSmith/pkg/storage"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Logging.Level),
		logger.WithEncoding(cfg.Logging.Encoding),
		logger.WithOutputPaths(cfg.Logging.OutputPaths),
	)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
		DB:   cfg.Redis.DB,
	})
	eventBus := bus.NewRedis(redisClient, cfg.Pipeline.ResultTTL, log)
	tracker := track.New(eventBus, log)

	store, err := storage.New(cfg.Storage.Type, log)
	if err != nil {
		log.Fatal("failed to initialize storage", logger.Error(err))
	}

	taskQueue := queue.New(cfg.Redis.Addr, cfg.Redis.DB, log)
	defer func() { _ = taskQueue.Close() }()

	keys, err := config.LoadGeminiKeys()
	if err != nil {
		log.Fatal("failed to load api keys", logger.Error(err))
	}
	dispatcher, err := dispatch.New(keys,
		dispatch.WithCooldown(cfg.Dispatch.CooldownDefault),
		dispatch.WithCallTimeout(cfg.Dispatch.CallTimeout),
		dispatch.WithMaxAttempts(cfg.Dispatch.MaxAttempts),
		dispatch.WithLogger(log),
	)
	if err != nil {
		log.Fatal("failed to build dispatcher", logger.Error(err))
	}

	genOpts := []genai.Option{
		genai.WithModel(cfg.GenAI.Model),
		genai.WithTemperature(cfg.GenAI.Temperature),
		genai.WithMaxTokens(cfg.GenAI.MaxTokens),
		genai.WithHTTPClient(&http.Client{Timeout: cfg.GenAI.Timeout}),
		genai.WithLogger(log),
	}
	if cfg.GenAI.BaseURL != "" {
		genOpts = append(genOpts, genai.WithBaseURL(cfg.GenAI.BaseURL))
	}
	generator := genai.NewClient(genOpts...)

	minioCfg := config.GetMinioConfig()
	registry := chat.NewRegistry(log)
	searcher := retriever.NewHTTPClient(cfg.Pipeline.RetrieverURL, log)
	orchestrator := chat.NewOrchestrator(chat.OrchestratorConfig{
		Retriever:   searcher,
		Dispatcher:  dispatcher,
		Generator:   generator,
		Store:       store,
		ImageBucket: minioCfg.ImageBucket,
	}, log)

	h := handlers.New(handlers.Config{
		Tracker:      tracker,
		Bus:          eventBus,
		Store:        store,
		Queue:        taskQueue,
		Registry:     registry,
		Orchestrator: orchestrator,
		Retriever:    searcher,
		Logger:       log,
		UploadBucket: minioCfg.UploadBucket,
		ImageBucket:  minioCfg.ImageBucket,
		ResultBucket: minioCfg.ResultBucket,
		MaxUpload:    cfg.Server.MaxUploadSize,
	})

	engine := gin.New()
	engine.Use(gin.Recovery())
	routes.Register(engine, h)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("server listening", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", logger.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", logger.Error(err))
	}
}
