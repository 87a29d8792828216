package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// EnginesConfig defines the OCR engine chain.
type EnginesConfig struct {
	VisionAPIKey      string
	VisionModel       string
	VisionEndpoint    string
	VisionConfidence  float64
	TesseractLangs    []string
	EngineTimeout     time.Duration
	ConfidenceWeight  float64
	QualityWeight     float64
	LatencyTieBreak   float64
	FallbackPenalty   float64
	MaxInflight       int
	BreakerBase       time.Duration
	BreakerMax        time.Duration
}

// PreprocessConfig tunes the region image pipeline.
type PreprocessConfig struct {
	TargetDPI        int
	SkewThresholdDeg float64
	NoiseThreshold   float64
	ContrastStdDev   float64
	MaxUpscale       float64
}

// ReviewConfig tunes the session controller.
type ReviewConfig struct {
	RenderDPI         int
	InterRequestDelay time.Duration
	PageCacheEntries  int
	User              string
}

// DetectConfig points at the external region-detection service.
type DetectConfig struct {
	BaseURL             string
	Timeout             time.Duration
	ConfidenceThreshold float64
}

// RedisConfig defines store and queue connectivity.
type RedisConfig struct {
	URL          string
	Stream       string
	Group        string
	PollInterval time.Duration
}

// S3Config defines the exam paper archive.
type S3Config struct {
	Bucket          string
	Region          string
	AccessKey       string
	SecretKey       string
	ArchivePassword string
	ExportPassword  string
}

// ServerConfig defines the HTTP surface.
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Config is the top-level configuration.
type Config struct {
	Logging    LoggingConfig
	Axiom      AxiomConfig
	Engines    EnginesConfig
	Preprocess PreprocessConfig
	Review     ReviewConfig
	Detect     DetectConfig
	Redis      RedisConfig
	S3         S3Config
	Server     ServerConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	// Logging defaults
	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/examextract.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	// Axiom defaults
	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_examextract",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	// Engine defaults
	cfg.Engines = EnginesConfig{
		VisionAPIKey:     getEnv("OPENAI_API_KEY", ""),
		VisionModel:      getEnv("VISION_MODEL", "gpt-4o"),
		VisionEndpoint:   getEnv("VISION_ENDPOINT", ""),
		VisionConfidence: parseFloat(getEnv("VISION_CONFIDENCE", "0.92"), 0.92),
		TesseractLangs:   splitList(getEnv("TESSERACT_LANGS", "eng")),
		EngineTimeout:    parseDuration(getEnv("ENGINE_TIMEOUT", "60s"), 60*time.Second),
		ConfidenceWeight: parseFloat(getEnv("SCORE_CONFIDENCE_WEIGHT", "0.6"), 0.6),
		QualityWeight:    parseFloat(getEnv("SCORE_QUALITY_WEIGHT", "0.4"), 0.4),
		LatencyTieBreak:  parseFloat(getEnv("SCORE_LATENCY_TIEBREAK", "0.001"), 0.001),
		FallbackPenalty:  parseFloat(getEnv("FALLBACK_PENALTY", "0.75"), 0.75),
		MaxInflight:      parseInt(getEnv("MAX_INFLIGHT_PER_ENGINE", "2"), 2),
		BreakerBase:      parseDuration(getEnv("BREAKER_BASE_BACKOFF", "30s"), 30*time.Second),
		BreakerMax:       parseDuration(getEnv("BREAKER_MAX_BACKOFF", "5m"), 5*time.Minute),
	}

	// Preprocess defaults
	cfg.Preprocess = PreprocessConfig{
		TargetDPI:        parseInt(getEnv("PREPROCESS_TARGET_DPI", "300"), 300),
		SkewThresholdDeg: parseFloat(getEnv("PREPROCESS_SKEW_THRESHOLD", "0.5"), 0.5),
		NoiseThreshold:   parseFloat(getEnv("PREPROCESS_NOISE_THRESHOLD", "6.0"), 6.0),
		ContrastStdDev:   parseFloat(getEnv("PREPROCESS_CONTRAST_STDDEV", "60.0"), 60.0),
		MaxUpscale:       parseFloat(getEnv("PREPROCESS_MAX_UPSCALE", "3.0"), 3.0),
	}

	// Review defaults
	cfg.Review = ReviewConfig{
		RenderDPI:         parseInt(getEnv("RENDER_DPI", "300"), 300),
		InterRequestDelay: parseDuration(getEnv("OCR_INTER_REQUEST_DELAY", "250ms"), 250*time.Millisecond),
		PageCacheEntries:  parseInt(getEnv("PAGE_CACHE_ENTRIES", "8"), 8),
		User:              getEnv("REVIEW_USER", "reviewer"),
	}

	// Detect defaults
	cfg.Detect = DetectConfig{
		BaseURL:             getEnv("DETECT_SERVICE_URL", ""),
		Timeout:             parseDuration(getEnv("DETECT_TIMEOUT", "30s"), 30*time.Second),
		ConfidenceThreshold: parseFloat(getEnv("DETECT_CONFIDENCE_THRESHOLD", "0.5"), 0.5),
	}

	// Redis defaults
	cfg.Redis = RedisConfig{
		URL:          getEnv("REDIS_URL", "redis://localhost:6379"),
		Stream:       getEnv("QUEUE_STREAM", "review:unsupported"),
		Group:        getEnv("QUEUE_GROUP", "specialists"),
		PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "100ms"), 100*time.Millisecond),
	}

	// S3 defaults
	cfg.S3 = S3Config{
		Bucket:          getEnv("S3_BUCKET", ""),
		Region:          getEnv("AWS_REGION", ""),
		AccessKey:       getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretKey:       getEnv("AWS_SECRET_ACCESS_KEY", ""),
		ArchivePassword: getEnv("ARCHIVE_PASSWORD", ""),
		ExportPassword:  getEnv("EXPORT_PASSWORD", ""),
	}

	// Server defaults
	cfg.Server = ServerConfig{
		Addr:            getEnv("HTTP_ADDR", ":8080"),
		ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "15s"), 15*time.Second),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
