package config

import (
	"sync"

	"github.com/joho/godotenv"
)

type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UploadBucket    string
	ImageBucket     string
	ResultBucket    string
}

var (
	s3Config *S3Config
	s3Once   sync.Once
)

// GetS3Config loads AWS S3 settings from the environment once.
func GetS3Config() *S3Config {
	s3Once.Do(func() {
		_ = godotenv.Load()

		s3Config = &S3Config{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			UploadBucket:    getEnv("S3_UPLOAD_BUCKET", "chunksmith-uploads"),
			ImageBucket:     getEnv("S3_IMAGE_BUCKET", "chunksmith-images"),
			ResultBucket:    getEnv("S3_RESULT_BUCKET", "chunksmith-results"),
		}
	})
	return s3Config
}
