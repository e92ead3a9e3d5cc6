package config

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Version is stamped on log lines and reports.
const Version = "0.3.0"

type Config struct {
	Input          string
	Output         string
	SegmentsOutput string
	SchemaVersion  string
	SourceDeviceID string
	GapThreshold   time.Duration
	SortInput      bool
	VocabularyPath string

	Port         int
	LogLevel     string
	DatabaseURL  string
	NatsURL      string
	NatsToken    string
	SlackToken   string
	SlackChannel string

	AnthropicAPIKey string
	SummaryModel    string
	SummaryLimit    int
}

// Load reads configuration from the environment, after loading a .env file
// from the working directory when one exists.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Input:          envStr("CONVOSEG_INPUT", ""),
		Output:         envStr("CONVOSEG_OUTPUT", "messages.jsonl"),
		SegmentsOutput: envStr("CONVOSEG_SEGMENTS_OUTPUT", "segments.jsonl"),
		SchemaVersion:  envStr("CONVOSEG_SCHEMA_VERSION", "1.0"),
		SourceDeviceID: envStr("CONVOSEG_SOURCE_DEVICE_ID", "unknown"),
		GapThreshold:   envDuration("CONVOSEG_GAP_THRESHOLD", 2*time.Hour),
		SortInput:      envBool("CONVOSEG_SORT_INPUT", true),
		VocabularyPath: envStr("CONVOSEG_VOCABULARY", ""),
		Port:           envInt("CONVOSEG_PORT", 8760),
		LogLevel:       envStr("LOG_LEVEL", "info"),
		DatabaseURL:    envStr("DATABASE_URL", ""),
		NatsURL:        envStr("NATS_URL", ""),
		NatsToken:      envStr("NATS_TOKEN", ""),
		SlackToken:     envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:   envStr("SLACK_CHANNEL", ""),

		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		SummaryModel:    envStr("CONVOSEG_SUMMARY_MODEL", "claude-sonnet-4-20250514"),
		SummaryLimit:    envInt("CONVOSEG_SUMMARY_LIMIT", 3),
	}
}

// SetupLogger returns a JSON logger on stderr. Stdout is left for record
// output.
func (c Config) SetupLogger() zerolog.Logger {
	return NewLogger(os.Stderr, c.LogLevel)
}

func NewLogger(w io.Writer, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(w).With().
		Timestamp().
		Str("service", "convoseg").
		Str("version", Version).
		Logger()

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
