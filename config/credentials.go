package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadGeminiKeys collects API keys from GEMINI_API_KEY_1 upward. The
// scan stops at the first missing index so the pool order is stable.
// A plain GEMINI_API_KEY is accepted as a single-key fallback.
func LoadGeminiKeys() ([]string, error) {
	_ = godotenv.Load()

	var keys []string
	for i := 1; ; i++ {
		v := os.Getenv(fmt.Sprintf("GEMINI_API_KEY_%d", i))
		if v == "" {
			break
		}
		keys = append(keys, v)
	}

	if len(keys) == 0 {
		if v := os.Getenv("GEMINI_API_KEY"); v != "" {
			keys = append(keys, v)
		}
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("no gemini api keys configured, set GEMINI_API_KEY_1..N")
	}
	return keys, nil
}
