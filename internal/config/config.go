package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the capture service.
type Config struct {
	// CDP connection settings
	CDPAddress   string
	CDPPort      int
	AttachCDP    bool
	TabURLFilter string

	// HTTP surface
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Logging
	LogLevel string
	LogFile  string

	// Capture behavior
	ManifestTimeoutMS int
	RulesFile         string

	// Decoder backend
	DecoderWASMPath      string
	DecoderScriptPath    string
	DecoderScriptEngine  string
	DecoderInitTimeoutMS int
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:           getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:              getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		AttachCDP:            getEnvBoolOrDefault("SNIFF_ATTACH_CDP", true),
		TabURLFilter:         getEnvOrDefault("SNIFF_TAB_URL_FILTER", ""),
		BindAddr:             getEnvOrDefault("SNIFF_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:       getEnvListOrDefault("SNIFF_PORT_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192"}),
		PortAutoFallback:     getEnvBoolOrDefault("SNIFF_PORT_AUTO_FALLBACK", true),
		LogLevel:             strings.ToLower(getEnvOrDefault("SNIFF_LOG_LEVEL", "info")),
		LogFile:              getEnvOrDefault("SNIFF_LOG_FILE", "logs/streamsniff.log"),
		ManifestTimeoutMS:    getEnvIntOrDefault("MANIFEST_TIMEOUT_MS", 20000),
		RulesFile:            getEnvOrDefault("SNIFF_RULES_FILE", ""),
		DecoderWASMPath:      getEnvOrDefault("DECODER_WASM_PATH", ""),
		DecoderScriptPath:    getEnvOrDefault("DECODER_SCRIPT_PATH", ""),
		DecoderScriptEngine:  strings.ToLower(getEnvOrDefault("DECODER_SCRIPT_ENGINE", "goja")),
		DecoderInitTimeoutMS: getEnvIntOrDefault("DECODER_INIT_TIMEOUT_MS", 10000),
	}
	if cfg.ManifestTimeoutMS < 1000 {
		cfg.ManifestTimeoutMS = 1000
	}
	if cfg.DecoderInitTimeoutMS < 100 {
		cfg.DecoderInitTimeoutMS = 100
	}
	if cfg.CDPPort <= 0 || cfg.CDPPort > 65535 {
		return nil, fmt.Errorf("CHROMIUM_CDP_PORT out of range: %d", cfg.CDPPort)
	}

	return cfg, nil
}

// GetCDPURL returns the full CDP HTTP endpoint used by chromedp remote allocator.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func (c *Config) ManifestTimeout() time.Duration {
	return time.Duration(c.ManifestTimeoutMS) * time.Millisecond
}

func (c *Config) DecoderInitTimeout() time.Duration {
	return time.Duration(c.DecoderInitTimeoutMS) * time.Millisecond
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvListOrDefault splits a comma-separated value, dropping blanks.
func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
