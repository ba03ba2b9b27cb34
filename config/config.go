package config

import (
	"errors"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DatabaseURL string

	BaseURL   string
	UserAgent string
	ChromeBin string

	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string

	AIProvider    string // "openai" or "llamacpp"
	OpenAIKey     string
	OpenAIBaseURL string
	TextModel     string
	VisionModel   string

	LlamaEndpointURL string
	LlamaAPIKey      string

	FallbackAPIKey string
	FallbackModel  string

	MaxRetries     int
	HeuristicsPath string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),

		BaseURL: getEnv("IMOT_BASE_URL", "https://www.imot.bg/pcgi/imot.cgi?act=3&slink=bqn294"),
		UserAgent: getEnv("USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) "+
			"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"),
		ChromeBin: getEnv("CHROME_BIN", ""),

		SupabaseURL:    getEnv("SUPABASE_URL", ""),
		SupabaseKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseBucket: getEnv("SUPABASE_BUCKET", "properties"),

		AIProvider:    getEnv("AI_PROVIDER", "openai"),
		OpenAIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		TextModel:     getEnv("TEXT_MODEL", "gpt-4-turbo-preview"),
		VisionModel:   getEnv("VISION_MODEL", "gpt-4o-mini"),

		LlamaEndpointURL: getEnv("LLAMA_ENDPOINT_URL", ""),
		LlamaAPIKey:      getEnv("LLAMA_API_KEY", ""),

		FallbackAPIKey: getEnv("FALLBACK_API_KEY", ""),
		FallbackModel:  getEnv("FALLBACK_MODEL", ""),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		HeuristicsPath: getEnv("HEURISTICS_PATH", ""),
	}
}

// ValidateCrawl checks the settings the crawler cannot run without.
// Image storage is optional: without Supabase credentials images are
// recorded with an empty storage URL and picked up on a later crawl.
func (c *Config) ValidateCrawl() error {
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL is required")
	}
	return nil
}

// ValidateEnrich checks the settings the enrichment runner cannot run without.
func (c *Config) ValidateEnrich() error {
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL is required")
	}
	switch c.AIProvider {
	case "openai":
		if c.OpenAIKey == "" {
			return errors.New("config: OPENAI_API_KEY is required for provider openai")
		}
	case "llamacpp":
		if c.LlamaEndpointURL == "" {
			return errors.New("config: LLAMA_ENDPOINT_URL is required for provider llamacpp")
		}
		if c.LlamaAPIKey == "" {
			return errors.New("config: LLAMA_API_KEY is required for provider llamacpp")
		}
	default:
		return errors.New("config: unknown AI_PROVIDER " + c.AIProvider)
	}
	return nil
}

// HasBlobStorage reports whether image upload credentials are configured.
func (c *Config) HasBlobStorage() bool {
	return c.SupabaseURL != "" && c.SupabaseKey != ""
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}
