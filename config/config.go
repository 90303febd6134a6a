package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/ranked1v1/matchcore/compat"
	"github.com/ranked1v1/matchcore/schedule"
)

// Config holds every tunable the matchmaking core reads at construction
// (spec §6). It is built once in main and passed by value into each
// component; there are no process-wide config singletons.
type Config struct {
	DatabaseURL string
	ServerPort  int

	MatchmakingTimeout      time.Duration
	MatchmakingPollInterval time.Duration
	KFactor                 float64

	Threshold schedule.Config
	Compat    compat.Config
}

// Load reads configuration from the environment. A .env file is loaded
// opportunistically if present; its absence is never fatal.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	port, err := envInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, err
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", port)
	}

	timeout, err := envDuration("MATCHMAKING_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	poll, err := envDuration("MATCHMAKING_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return nil, err
	}
	kFactor, err := envFloat("K_FACTOR", 32)
	if err != nil {
		return nil, err
	}

	initialThreshold, err := envFloat("INITIAL_COMPAT_THRESHOLD", 8.0)
	if err != nil {
		return nil, err
	}
	minThreshold, err := envFloat("MINIMUM_COMPAT_THRESHOLD", 3.0)
	if err != nil {
		return nil, err
	}
	decayRate, err := envFloat("DECAY_RATE_PER_SECOND", 0.05)
	if err != nil {
		return nil, err
	}
	baseTolerance, err := envFloat("BASE_SKILL_TOLERANCE", 50)
	if err != nil {
		return nil, err
	}
	skillRelaxRate, err := envFloat("SKILL_RELAX_RATE", 5)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL:             dbURL,
		ServerPort:              port,
		MatchmakingTimeout:      timeout,
		MatchmakingPollInterval: poll,
		KFactor:                 kFactor,
		Threshold: schedule.Config{
			InitialThreshold: initialThreshold,
			MinThreshold:     minThreshold,
			DecayRate:        decayRate,
		},
		Compat: compat.Config{
			BaseTolerance:  baseTolerance,
			SkillRelaxRate: skillRelaxRate,
			PrefK:          1,
		},
	}

	return cfg, nil
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}

func envFloat(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}
