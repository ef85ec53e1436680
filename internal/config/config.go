// ABOUTME: Centralized configuration for the recall screen memory service
// ABOUTME: Loads from environment variables with validation and defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration for the capture and retrieval pipeline.
type Config struct {
	// Storage settings
	DataDir             string
	RetentionQuotaBytes int64 // 0 disables retention eviction
	JPEGQuality         int

	// Capture settings
	CaptureMode      string // "local" or "remote"
	CaptureCommand   string // local mode: command that writes a PNG to stdout
	RemoteCaptureURL string // remote mode: capture backend base URL
	PollInterval     time.Duration
	DiffThreshold    float64
	HeartbeatEvery   time.Duration
	BatchSize        int
	MaxGrabFailures  int
	WindowHorizon    time.Duration

	// Model settings
	OpenAIKey        string
	EmbeddingBaseURL string // OpenAI-compatible embeddings endpoint ("" = api.openai.com)
	EmbeddingModel   string
	VLMBaseURL       string // OpenAI-compatible chat endpoint ("" = api.openai.com)
	VLMModel         string
	EnableCaptions   bool
	Timeout          time.Duration
	MaxRetries       int
	RetryDelay       time.Duration

	// Query settings
	TopK          int
	QueryCacheLen int

	// HTTP settings
	HTTPAddr string
}

// DefaultDataDir returns the default data directory following the XDG spec.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ".local/share/recall"
		}
		dataHome = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataHome, "recall")
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:             getEnv("RECALL_DATA_DIR", DefaultDataDir()),
		RetentionQuotaBytes: getEnvInt64("RECALL_RETENTION_QUOTA_BYTES", 0),
		JPEGQuality:         getEnvInt("RECALL_JPEG_QUALITY", 85),

		CaptureMode:      getEnv("RECALL_CAPTURE_MODE", "local"),
		CaptureCommand:   getEnv("RECALL_CAPTURE_CMD", ""),
		RemoteCaptureURL: os.Getenv("RECALL_REMOTE_CAPTURE_URL"),
		PollInterval:     getEnvDuration("RECALL_POLL_INTERVAL", time.Second),
		DiffThreshold:    getEnvFloat("RECALL_DIFF_THRESHOLD", 0.006),
		HeartbeatEvery:   getEnvDuration("RECALL_HEARTBEAT_INTERVAL", time.Minute),
		BatchSize:        getEnvInt("RECALL_BATCH_SIZE", 10),
		MaxGrabFailures:  getEnvInt("RECALL_MAX_GRAB_FAILURES", 5),
		WindowHorizon:    getEnvDuration("RECALL_WINDOW_HORIZON", 5*time.Minute),

		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		EmbeddingBaseURL: os.Getenv("RECALL_EMBEDDING_BASE_URL"),
		EmbeddingModel:   getEnv("RECALL_EMBEDDING_MODEL", "clip-vit-b-32"),
		VLMBaseURL:       os.Getenv("RECALL_VLM_BASE_URL"),
		VLMModel:         getEnv("RECALL_VLM_MODEL", "gpt-4o-mini"),
		EnableCaptions:   getEnvBool("RECALL_ENABLE_CAPTIONS", false),
		Timeout:          getEnvDuration("RECALL_MODEL_TIMEOUT", 30*time.Second),
		MaxRetries:       getEnvInt("RECALL_MAX_RETRIES", 3),
		RetryDelay:       getEnvDuration("RECALL_RETRY_DELAY", 2*time.Second),

		TopK:          getEnvInt("RECALL_TOP_K", 5),
		QueryCacheLen: getEnvInt("RECALL_QUERY_CACHE_LEN", 128),

		HTTPAddr: getEnv("RECALL_HTTP_ADDR", ":8722"),
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.CaptureMode != "local" && c.CaptureMode != "remote" {
		return fmt.Errorf("RECALL_CAPTURE_MODE must be local or remote, got %q", c.CaptureMode)
	}
	if c.CaptureMode == "remote" && c.RemoteCaptureURL == "" {
		return fmt.Errorf("RECALL_REMOTE_CAPTURE_URL is required in remote mode")
	}
	if c.DiffThreshold < 0 || c.DiffThreshold > 1 {
		return fmt.Errorf("RECALL_DIFF_THRESHOLD must be 0-1, got %f", c.DiffThreshold)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("RECALL_POLL_INTERVAL must be positive, got %v", c.PollInterval)
	}
	if c.HeartbeatEvery < c.PollInterval {
		return fmt.Errorf("RECALL_HEARTBEAT_INTERVAL %v must be >= poll interval %v", c.HeartbeatEvery, c.PollInterval)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("RECALL_BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("RECALL_MAX_RETRIES must be 0-10, got %d", c.MaxRetries)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("RECALL_JPEG_QUALITY must be 1-100, got %d", c.JPEGQuality)
	}
	if c.RetentionQuotaBytes < 0 {
		return fmt.Errorf("RECALL_RETENTION_QUOTA_BYTES must be >= 0, got %d", c.RetentionQuotaBytes)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v == "true" || v == "1"
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
