package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	LLM        LLMConfig
	Conversion ConversionConfig
	RateLimit  RateLimitConfig
	Routing    RoutingConfig
	Extraction ExtractionConfig
	Pipeline   PipelineConfig
	Server     ServerConfig
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	VisionModel string
	LongModel   string
	ProModel    string
	ProVision   bool
	Temperature float32
	Timeout     time.Duration

	// Maximum input characters per model tier.
	VisionMaxChars int
	LongMaxChars   int
	ProMaxChars    int
	LocalMaxChars  int

	LocalBaseURL string
	LocalAPIKey  string
	LocalModel   string
	LocalVision  bool
}

// ConversionConfig holds OCR/layout-parsing service configuration
type ConversionConfig struct {
	APIKey           string
	BaseURL          string
	PollInterval     time.Duration
	RequestTimeout   time.Duration
	UploadTimeout    time.Duration
	DownloadTimeout  time.Duration
	MaxFilesPerBatch int
	MaxPollErrors    int
	MaxPages         int
	MaxFileBytes     int64
	Language         string
	EnableFormula    bool
	EnableTable      bool
	OCR              bool
}

// RateLimitConfig holds the outbound LLM quota
type RateLimitConfig struct {
	TokensPerMinute   int
	RequestsPerMinute int
	SafetyMargin      time.Duration
}

// RoutingConfig holds model route cache and heuristic configuration
type RoutingConfig struct {
	CachePath        string
	CacheBackend     string
	ReferenceBase    float64
	ReferenceCap     float64
	IndicatorBase    float64
	IndicatorCap     float64
	ConfidenceStep   float64
	MinIndicatorHits int
}

// ExtractionConfig holds per-document extraction policy
type ExtractionConfig struct {
	MaxImages      int
	MaxImageBytes  int64
	TokensPerImage int
	CharsPerToken  float64
	MaxAttempts    int
	BackoffBase    time.Duration
}

// PipelineConfig holds coordinator configuration
type PipelineConfig struct {
	Workers               int
	ConversionConcurrency int
	DataDir               string
}

// ServerConfig holds daemon configuration
type ServerConfig struct {
	GRPCAddr   string
	InboxDir   string
	Workers    int
	JobTimeout time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			APIKey:         getEnv("DASHSCOPE_API_KEY", ""),
			BaseURL:        getEnv("DASHSCOPE_BASE_URL", "https://dashscope.aliyuncs.com/api/v1"),
			VisionModel:    getEnv("LLM_VISION_MODEL", "qwen-vl-plus"),
			LongModel:      getEnv("LLM_LONG_MODEL", "qwen-long"),
			ProModel:       getEnv("LLM_PRO_MODEL", "qwen-vl-max-latest"),
			ProVision:      getEnvAsBool("LLM_PRO_VISION", true),
			Temperature:    getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			Timeout:        getEnvAsDuration("LLM_TIMEOUT", 180*time.Second),
			VisionMaxChars: getEnvAsInt("LLM_VISION_MAX_CHARS", 150000),
			LongMaxChars:   getEnvAsInt("LLM_LONG_MAX_CHARS", 1000000),
			ProMaxChars:    getEnvAsInt("LLM_PRO_MAX_CHARS", 150000),
			LocalMaxChars:  getEnvAsInt("LLM_LOCAL_MAX_CHARS", 32000),
			LocalBaseURL:   getEnv("LOCAL_LLM_BASE_URL", "http://localhost:11434/v1"),
			LocalAPIKey:    getEnv("LOCAL_LLM_API_KEY", ""),
			LocalModel:     getEnv("LOCAL_LLM_MODEL", "qwen2.5:14b"),
			LocalVision:    getEnvAsBool("LOCAL_LLM_VISION", false),
		},
		Conversion: ConversionConfig{
			APIKey:           getEnv("MINERU_API_KEY", ""),
			BaseURL:          getEnv("MINERU_BASE_URL", "https://mineru.net/api/v4"),
			PollInterval:     getEnvAsDuration("MINERU_POLL_INTERVAL", 10*time.Second),
			RequestTimeout:   getEnvAsDuration("MINERU_REQUEST_TIMEOUT", 30*time.Second),
			UploadTimeout:    getEnvAsDuration("MINERU_UPLOAD_TIMEOUT", 120*time.Second),
			DownloadTimeout:  getEnvAsDuration("MINERU_DOWNLOAD_TIMEOUT", 120*time.Second),
			MaxFilesPerBatch: getEnvAsInt("MINERU_MAX_FILES_PER_BATCH", 200),
			MaxPollErrors:    getEnvAsInt("MINERU_MAX_POLL_ERRORS", 5),
			MaxPages:         getEnvAsInt("MINERU_MAX_PAGES", 600),
			MaxFileBytes:     int64(getEnvAsInt("MINERU_MAX_FILE_MB", 200)) << 20,
			Language:         getEnv("MINERU_LANGUAGE", "ch"),
			EnableFormula:    getEnvAsBool("MINERU_ENABLE_FORMULA", true),
			EnableTable:      getEnvAsBool("MINERU_ENABLE_TABLE", true),
			OCR:              getEnvAsBool("MINERU_OCR", true),
		},
		RateLimit: RateLimitConfig{
			TokensPerMinute:   getEnvAsInt("LLM_MAX_TPM", 1000000),
			RequestsPerMinute: getEnvAsInt("LLM_MAX_RPM", 0),
			SafetyMargin:      getEnvAsDuration("LLM_RATE_MARGIN", 100*time.Millisecond),
		},
		Routing: RoutingConfig{
			CachePath:        getEnv("ROUTE_CACHE_PATH", "model_route_cache.json"),
			CacheBackend:     strings.ToLower(getEnv("ROUTE_CACHE_BACKEND", "file")),
			ReferenceBase:    getEnvAsFloat64("ROUTE_REFERENCE_BASE", 0.6),
			ReferenceCap:     getEnvAsFloat64("ROUTE_REFERENCE_CAP", 0.85),
			IndicatorBase:    getEnvAsFloat64("ROUTE_INDICATOR_BASE", 0.5),
			IndicatorCap:     getEnvAsFloat64("ROUTE_INDICATOR_CAP", 0.75),
			ConfidenceStep:   getEnvAsFloat64("ROUTE_CONFIDENCE_STEP", 0.05),
			MinIndicatorHits: getEnvAsInt("ROUTE_MIN_INDICATOR_HITS", 1),
		},
		Extraction: ExtractionConfig{
			MaxImages:      getEnvAsInt("EXTRACT_MAX_IMAGES", 15),
			MaxImageBytes:  int64(getEnvAsInt("EXTRACT_MAX_IMAGE_MB", 10)) << 20,
			TokensPerImage: getEnvAsInt("EXTRACT_TOKENS_PER_IMAGE", 1000),
			CharsPerToken:  getEnvAsFloat64("EXTRACT_CHARS_PER_TOKEN", 3.5),
			MaxAttempts:    getEnvAsInt("EXTRACT_MAX_ATTEMPTS", 3),
			BackoffBase:    getEnvAsDuration("EXTRACT_BACKOFF_BASE", time.Second),
		},
		Pipeline: PipelineConfig{
			Workers:               getEnvAsInt("PIPELINE_WORKERS", 3),
			ConversionConcurrency: getEnvAsInt("PIPELINE_CONVERSION_CONCURRENCY", 2),
			DataDir:               getEnv("PIPELINE_DATA_DIR", "./data"),
		},
		Server: ServerConfig{
			GRPCAddr:   getEnv("GRPC_ADDR", ":8080"),
			InboxDir:   getEnv("INBOX_DIR", "./inbox"),
			Workers:    getEnvAsInt("DAEMON_WORKERS", 2),
			JobTimeout: getEnvAsDuration("DAEMON_JOB_TIMEOUT", 600*time.Second),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks that the credentials needed for mode are present.
// Local mode talks only to the local endpoint and still needs conversion.
func (c *Config) Validate(mode string) error {
	if c.Conversion.APIKey == "" {
		return ConfigurationError("MINERU_API_KEY is required")
	}
	if mode == "local" {
		if c.LLM.LocalBaseURL == "" {
			return ConfigurationError("LOCAL_LLM_BASE_URL is required for local mode")
		}
	} else if c.LLM.APIKey == "" {
		return ConfigurationError("DASHSCOPE_API_KEY is required")
	}
	if c.RateLimit.TokensPerMinute <= 0 {
		return ConfigurationError("LLM_MAX_TPM must be positive")
	}
	if c.Conversion.MaxFilesPerBatch <= 0 {
		return ConfigurationError("MINERU_MAX_FILES_PER_BATCH must be positive")
	}
	if c.Routing.CacheBackend != "file" && c.Routing.CacheBackend != "sqlite" {
		return ConfigurationError("ROUTE_CACHE_BACKEND must be file or sqlite")
	}
	return nil
}
