/**
 * Configuration for docprocd
 *
 * Loads configuration from environment variables, optionally via a .env file.
 */

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the immutable, typed runtime configuration. Loaded once at
// startup by LoadConfig; never mutated afterward.
type Config struct {
	// Directory layout
	IntakeDir          string
	ProcessedDir       string
	FilingCabinetDir   string
	NormalizedCacheDir string
	StateDBPath        string

	// LLM collaborator
	LLMHost           string
	LLMModel          string
	LLMVisionModel    string
	LLMTimeoutSeconds int

	// OCR
	TesseractPath          string
	OCRRenderScale         float64
	OCROverlayTextLimit    int
	OCRTier1MinConfidence  float64
	OCRTier2MinConfidence  float64
	OCRPageTimeoutSeconds  int

	// Concurrency
	WorkerConcurrency int
	OCRConcurrency    int
	LLMConcurrency    int

	// Cache / maintenance
	NormalizedCacheMaxAgeDays int
	SmartTokenTTLSeconds      int

	// Feature flags
	FastTestMode        bool
	EnableTagExtraction bool

	// Logging
	LogPath  string
	LogLevel string
}

// LoadConfig loads configuration from the environment (and a .env file, if
// present) and validates it. Returned value is meant to be treated as
// immutable for the remainder of the process.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		IntakeDir:          getEnvOrDefault("DOCPROCD_INTAKE_DIR", "./data/intake"),
		ProcessedDir:       getEnvOrDefault("DOCPROCD_PROCESSED_DIR", "./data/processed"),
		FilingCabinetDir:   getEnvOrDefault("DOCPROCD_FILING_CABINET_DIR", "./data/filing-cabinet"),
		NormalizedCacheDir: getEnvOrDefault("DOCPROCD_NORMALIZED_CACHE_DIR", "./data/normalized-cache"),
		StateDBPath:        getEnvOrDefault("DOCPROCD_STATE_DB_PATH", "./data/state.db"),

		LLMHost:           getEnvOrDefault("DOCPROCD_LLM_HOST", "http://127.0.0.1:11434"),
		LLMModel:          getEnvOrDefault("DOCPROCD_LLM_MODEL", "llama3.1"),
		LLMVisionModel:    getEnvOrDefault("DOCPROCD_LLM_VISION_MODEL", "llama3.2-vision"),
		LLMTimeoutSeconds: getEnvAsIntOrDefault("DOCPROCD_LLM_TIMEOUT_SECONDS", 45),

		TesseractPath:         getEnvOrDefault("DOCPROCD_TESSERACT_PATH", "/usr/bin/tesseract"),
		OCRRenderScale:        getEnvAsFloatOrDefault("DOCPROCD_OCR_RENDER_SCALE", 2.0),
		OCROverlayTextLimit:   getEnvAsIntOrDefault("DOCPROCD_OCR_OVERLAY_TEXT_LIMIT", 8192),
		OCRTier1MinConfidence: getEnvAsFloatOrDefault("DOCPROCD_OCR_TIER1_MIN_CONFIDENCE", 0.85),
		OCRTier2MinConfidence: getEnvAsFloatOrDefault("DOCPROCD_OCR_TIER2_MIN_CONFIDENCE", 0.90),
		OCRPageTimeoutSeconds: getEnvAsIntOrDefault("DOCPROCD_OCR_PAGE_TIMEOUT_SECONDS", 60),

		WorkerConcurrency: getEnvAsIntOrDefault("DOCPROCD_WORKER_CONCURRENCY", 0),
		OCRConcurrency:    getEnvAsIntOrDefault("DOCPROCD_OCR_CONCURRENCY", 4),
		LLMConcurrency:    getEnvAsIntOrDefault("DOCPROCD_LLM_CONCURRENCY", 2),

		NormalizedCacheMaxAgeDays: getEnvAsIntOrDefault("DOCPROCD_NORMALIZED_CACHE_MAX_AGE_DAYS", 30),
		SmartTokenTTLSeconds:      getEnvAsIntOrDefault("DOCPROCD_SMART_TOKEN_TTL_SECONDS", 300),

		FastTestMode:        getEnvAsBoolOrDefault("DOCPROCD_FAST_TEST_MODE", false),
		EnableTagExtraction: getEnvAsBoolOrDefault("DOCPROCD_ENABLE_TAG_EXTRACTION", false),

		LogPath:  getEnvOrDefault("DOCPROCD_LOG_PATH", ""),
		LogLevel: getEnvOrDefault("DOCPROCD_LOG_LEVEL", "info"),
	}

	// An explicitly empty DOCPROCD_LLM_HOST disables the LLM collaborator.
	if v, ok := os.LookupEnv("DOCPROCD_LLM_HOST"); ok && v == "" {
		cfg.LLMHost = ""
	}

	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = runtime.NumCPU()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks invariants on a loaded Config. It never mutates the
// receiver.
func (c *Config) Validate() error {
	if c.IntakeDir == "" {
		return fmt.Errorf("intake directory is required")
	}
	if c.FilingCabinetDir == "" {
		return fmt.Errorf("filing cabinet directory is required")
	}
	if c.NormalizedCacheDir == "" {
		return fmt.Errorf("normalized cache directory is required")
	}
	if c.StateDBPath == "" {
		return fmt.Errorf("state database path is required")
	}
	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 256 {
		return fmt.Errorf("worker concurrency must be between 1 and 256, got %d", c.WorkerConcurrency)
	}
	if c.OCRConcurrency < 1 {
		return fmt.Errorf("OCR concurrency must be at least 1, got %d", c.OCRConcurrency)
	}
	if c.LLMConcurrency < 1 {
		return fmt.Errorf("LLM concurrency must be at least 1, got %d", c.LLMConcurrency)
	}
	if c.OCRRenderScale <= 0 {
		return fmt.Errorf("OCR render scale must be positive, got %f", c.OCRRenderScale)
	}
	if c.OCRTier1MinConfidence < 0 || c.OCRTier1MinConfidence > 1 {
		return fmt.Errorf("OCR tier1 min confidence must be in [0,1], got %f", c.OCRTier1MinConfidence)
	}
	return nil
}

// EnsureDirs creates the directories this config names, if absent.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.IntakeDir, c.ProcessedDir, c.NormalizedCacheDir, c.FilingCabinetDir, filepath.Dir(c.StateDBPath)} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
