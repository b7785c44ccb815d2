package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/AnshulParate2004/ChunkSmith/config"
	"github.com/AnshulParate2004/ChunkSmith/internal/dispatch"
	"github.com/AnshulParate2004/ChunkSmith/internal/genai"
	"github.com/AnshulParate2004/ChunkSmith/internal/ingest"
	"github.com/AnshulParate2004/ChunkSmith/internal/parser"
	"github.com/AnshulParate2004/ChunkSmith/internal/retriever"
	"github.com/AnshulParate2004/ChunkSmith/internal/track"
	"github.com/AnshulParate2004/ChunkSmith/pkg/bus"
	"github.com/AnshulParate2004/ChunkSmith/pkg/logger"
	"github.com/AnshulParate2004/ChunkSmith/pkg/storage"
	"github.com/AnshulParate2004/ChunkSmith/pkg/worker"
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

	minioCfg := config.GetMinioConfig()
	pipe := ingest.New(ingest.Config{
		Tracker:      tracker,
		Store:        store,
		Parser:       parser.NewHTTPParser(cfg.Pipeline.ParserURL, log),
		Indexer:      retriever.NewHTTPClient(cfg.Pipeline.IndexerURL, log),
		Dispatcher:   dispatcher,
		Generator:    genai.NewClient(genOpts...),
		Logger:       log,
		ImageBucket:  minioCfg.ImageBucket,
		ResultBkt:    minioCfg.ResultBucket,
		Concurrency:  cfg.Pipeline.Concurrency,
		StageTimeout: cfg.Pipeline.StageTimeout,
	})

	w := worker.New(worker.Config{
		RedisAddr:   cfg.Redis.Addr,
		RedisDB:     cfg.Redis.DB,
		Concurrency: cfg.Pipeline.Concurrency,
	}, pipe, log)

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-done
		w.Shutdown()
	}()

	if err := w.Run(); err != nil {
		log.Fatal("worker failed", logger.Error(err))
	}
}
