package config

import (
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
)

type MinioConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	UploadBucket    string
	ImageBucket     string
	ResultBucket    string
}

var (
	minioConfig *MinioConfig
	minioOnce   sync.Once
)

// GetMinioConfig loads MinIO settings from the environment once.
func GetMinioConfig() *MinioConfig {
	minioOnce.Do(func() {
		_ = godotenv.Load()

		useSSL, _ := strconv.ParseBool(getEnv("MINIO_USE_SSL", "false"))

		minioConfig = &MinioConfig{
			Endpoint:        getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			SecretAccessKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
			UseSSL:          useSSL,
			UploadBucket:    getEnv("MINIO_UPLOAD_BUCKET", "uploads"),
			ImageBucket:     getEnv("MINIO_IMAGE_BUCKET", "images"),
			ResultBucket:    getEnv("MINIO_RESULT_BUCKET", "results"),
		}
	})
	return minioConfig
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
