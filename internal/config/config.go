// Package config loads runtime configuration from the environment.
package config

import (
	"github.com/spf13/viper"

	"github.com/tinoosan/reconcile/internal/service/recurring"
)

// Config is the resolved runtime configuration.
type Config struct {
	// DatabaseURL selects the postgres store when set; empty runs in-memory.
	DatabaseURL string
	ListenAddr  string
	LogLevel    string
	LogFormat   string

	MatchScoreThreshold int
	AmountTolerance     float64
	DetectLookbackDays  int
	DetectCandidateCap  int
}

// Load reads configuration from the environment with sane defaults.
func Load() Config {
	v := viper.New()
	v.AutomaticEnv()

	defaults := recurring.DefaultConfig()
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("MATCH_SCORE_THRESHOLD", defaults.Weights.Threshold)
	v.SetDefault("AMOUNT_TOLERANCE", defaults.Weights.AmountTolerance)
	v.SetDefault("DETECT_LOOKBACK_DAYS", defaults.LookbackDays)
	v.SetDefault("DETECT_CANDIDATE_CAP", defaults.CandidateCap)

	return Config{
		DatabaseURL:         v.GetString("DATABASE_URL"),
		ListenAddr:          v.GetString("LISTEN_ADDR"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		LogFormat:           v.GetString("LOG_FORMAT"),
		MatchScoreThreshold: v.GetInt("MATCH_SCORE_THRESHOLD"),
		AmountTolerance:     v.GetFloat64("AMOUNT_TOLERANCE"),
		DetectLookbackDays:  v.GetInt("DETECT_LOOKBACK_DAYS"),
		DetectCandidateCap:  v.GetInt("DETECT_CANDIDATE_CAP"),
	}
}

// Recurring maps the tunables onto the recurring engine's config.
func (c Config) Recurring() recurring.Config {
	cfg := recurring.DefaultConfig()
	if c.MatchScoreThreshold > 0 {
		cfg.Weights.Threshold = c.MatchScoreThreshold
	}
	if c.AmountTolerance > 0 {
		cfg.Weights.AmountTolerance = c.AmountTolerance
	}
	if c.DetectLookbackDays > 0 {
		cfg.LookbackDays = c.DetectLookbackDays
	}
	if c.DetectCandidateCap > 0 {
		cfg.CandidateCap = c.DetectCandidateCap
	}
	return cfg
}
