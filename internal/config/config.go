// Package config loads bot and scraper settings from the environment
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/serdaroglu/suizim-bot/internal/entities"
)

// Config holds all settings, populated from environment variables.
type Config struct {
	TelegramBotToken string
	OpenAIAPIKey     string
	DBPath           string
	DefaultCity      entities.City

	ChromeHeadless bool
	ChromePath     string

	DetailCacheTTL  time.Duration
	RefreshSchedule string

	// OpenDataFallback enables the İBB open data set as a second İstanbul general source.
	OpenDataFallback bool

	// Empty disables the metrics endpoint.
	MetricsAddr string
}

// EnvOrDefault returns the value of key, or fallback when it is unset or empty.
func EnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	city, ok := entities.ParseCity(EnvOrDefault("DEFAULT_CITY", string(entities.Istanbul)))
	if !ok {
		return nil, fmt.Errorf("invalid DEFAULT_CITY %q", os.Getenv("DEFAULT_CITY"))
	}

	headless, err := strconv.ParseBool(EnvOrDefault("CHROME_HEADLESS", "true"))
	if err != nil {
		return nil, errors.New("invalid CHROME_HEADLESS")
	}

	ttl, err := time.ParseDuration(EnvOrDefault("DETAIL_CACHE_TTL", "10m"))
	if err != nil || ttl <= 0 {
		return nil, errors.New("invalid DETAIL_CACHE_TTL")
	}

	openData, err := strconv.ParseBool(EnvOrDefault("IBB_FALLBACK", "false"))
	if err != nil {
		return nil, errors.New("invalid IBB_FALLBACK")
	}

	schedule := EnvOrDefault("REFRESH_SCHEDULE", "*/30 * * * *")
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid REFRESH_SCHEDULE: %w", err)
	}

	return &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		DBPath:           EnvOrDefault("DB_PATH", "data/reservoirs.db"),
		DefaultCity:      city,
		ChromeHeadless:   headless,
		ChromePath:       os.Getenv("CHROME_PATH"),
		DetailCacheTTL:   ttl,
		RefreshSchedule:  schedule,
		OpenDataFallback: openData,
		MetricsAddr:      os.Getenv("METRICS_ADDR"),
	}, nil
}
