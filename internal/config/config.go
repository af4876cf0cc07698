package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines the sync engine configuration.
type Config struct {
	ListenAddr       string  `yaml:"listen_addr"`
	UpstreamBaseURL  string  `yaml:"upstream_base_url"`
	UpstreamToken    string  `yaml:"upstream_token"`
	SessionSecret    string  `yaml:"session_secret"`
	StorageRoot      string  `yaml:"storage_root"`
	CacheMaxAge      string  `yaml:"cache_max_age"`
	HistoryTTL       string  `yaml:"history_ttl"`
	ReconcileEvery   string  `yaml:"reconcile_every"`
	LocateTimeout    string  `yaml:"locate_timeout"`
	FetchRate        float64 `yaml:"fetch_rate"`
	FetchBurst       int     `yaml:"fetch_burst"`
	DisableReconcile bool    `yaml:"disable_reconcile"`
}

// Load reads configuration from the CIVICSYNC_CONFIG yaml file when
// set, with env-var fallbacks for every field.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:      getenvDefault("CIVICSYNC_ADDR", ":8090"),
		UpstreamBaseURL: getenvDefault("CIVICSYNC_UPSTREAM_URL", "http://localhost:8000"),
		UpstreamToken:   os.Getenv("CIVICSYNC_UPSTREAM_TOKEN"),
		SessionSecret:   os.Getenv("CIVICSYNC_SESSION_SECRET"),
		StorageRoot:     getenvDefault("CIVICSYNC_STORAGE_ROOT", filepath.FromSlash("var/civicsync")),
		CacheMaxAge:     getenvDefault("CIVICSYNC_CACHE_MAX_AGE", "24h"),
		HistoryTTL:      getenvDefault("CIVICSYNC_HISTORY_TTL", "15m"),
		ReconcileEvery:  getenvDefault("CIVICSYNC_RECONCILE_EVERY", "30s"),
		LocateTimeout:   getenvDefault("CIVICSYNC_LOCATE_TIMEOUT", "10s"),
		FetchRate:       getenvFloatDefault("CIVICSYNC_FETCH_RATE", 4),
		FetchBurst:      getenvIntDefault("CIVICSYNC_FETCH_BURST", 4),
	}

	if path := os.Getenv("CIVICSYNC_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.UpstreamBaseURL == "" {
		return cfg, errors.New("config: upstream base url required")
	}
	if cfg.StorageRoot == "" {
		return cfg, errors.New("config: storage root required")
	}
	return cfg, nil
}

// Duration parses a duration field with a fallback.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
