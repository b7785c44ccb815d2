package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the full application configuration. Values come from an
// optional yaml file layered over defaults; secrets stay in the
// environment (see minio.go, s3.go, credentials.go).
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	GenAI    GenAIConfig    `yaml:"genai"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Addr          string `yaml:"addr"`
	MaxUploadSize int64  `yaml:"maxUploadSize"` // bytes
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

type StorageConfig struct {
	Type string `yaml:"type"` // "minio" or "s3"
}

type PipelineConfig struct {
	ParserURL    string        `yaml:"parserUrl"`
	RetrieverURL string        `yaml:"retrieverUrl"`
	IndexerURL   string        `yaml:"indexerUrl"`
	Concurrency  int           `yaml:"concurrency"`
	StageTimeout time.Duration `yaml:"stageTimeout"`
	ResultTTL    time.Duration `yaml:"resultTTL"`
}

type GenAIConfig struct {
	BaseURL     string        `yaml:"baseUrl"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"maxTokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

type DispatchConfig struct {
	CooldownDefault time.Duration `yaml:"cooldownDefault"`
	CallTimeout     time.Duration `yaml:"callTimeout"`
	// MaxAttempts bounds selection attempts per dispatch call;
	// zero means the pool size.
	MaxAttempts int `yaml:"maxAttempts"`
}

type LoggingConfig struct {
	Level       string   `yaml:"level"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"outputPaths"`
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:          ":8080",
			MaxUploadSize: 50 * 1024 * 1024, // 50MB
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Storage: StorageConfig{
			Type: "minio",
		},
		Pipeline: PipelineConfig{
			Concurrency:  5,
			StageTimeout: 30 * time.Minute,
			ResultTTL:    24 * time.Hour,
		},
		GenAI: GenAIConfig{
			Model:       "gemini-2.5-pro",
			Temperature: 0.2,
			MaxTokens:   8192,
			Timeout:     120 * time.Second,
		},
		Dispatch: DispatchConfig{
			CooldownDefault: time.Minute,
			CallTimeout:     120 * time.Second,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stdout", "logs/chunksmith.log"},
		},
	}
}

// Load reads the yaml config at path over the defaults. A missing file
// is not an error; the defaults stand.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}
