// Package config loads process-wide configuration from the environment with
// documented defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// JudgeBackend selects which execution backend the queue uses.
type JudgeBackend string

// Judge backend values.
const (
	JudgeBackendSandbox JudgeBackend = "sandbox"
	JudgeBackendJudge0  JudgeBackend = "judge0"
)

// Config is the process-wide configuration.
type Config struct {
	Port           string
	AllowedOrigins []string
	FrontendURL    string
	RedisURL       string
	JWTSecret      string

	JudgeBackend JudgeBackend
	Judge0       *Judge0Config
	AIProvider   *AIProviderConfig

	Matchmaking *MatchmakingConfig
	ExecQueue   *ExecQueueConfig
	Sandbox     *SandboxConfig
	Cleanup     *CleanupConfig
}

// Judge0Config configures the cloud judge adapter.
type Judge0Config struct {
	BaseURL       string
	APIKey        string
	PollInterval  time.Duration
	MaxPollTime   time.Duration
	MemoryLimitKB int
}

// AIProviderConfig configures the optional AI coach provider. An empty
// BaseURL disables the provider; coaching then uses deterministic fallbacks.
type AIProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: splitAndTrim(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		FrontendURL:    getEnv("FRONTEND_URL", "http://localhost:3000"),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JudgeBackend:   JudgeBackend(getEnv("JUDGE_BACKEND", string(JudgeBackendSandbox))),
		Judge0: &Judge0Config{
			BaseURL:       getEnv("JUDGE0_URL", "https://judge0-ce.p.rapidapi.com"),
			APIKey:        os.Getenv("JUDGE0_API_KEY"),
			PollInterval:  getEnvDuration("JUDGE0_POLL_INTERVAL", 500*time.Millisecond),
			MaxPollTime:   getEnvDuration("JUDGE0_MAX_POLL_TIME", 30*time.Second),
			MemoryLimitKB: getEnvInt("JUDGE0_MEMORY_LIMIT_KB", 128*1024),
		},
		AIProvider: &AIProviderConfig{
			BaseURL: os.Getenv("AI_PROVIDER_URL"),
			APIKey:  os.Getenv("AI_PROVIDER_API_KEY"),
			Timeout: getEnvDuration("AI_PROVIDER_TIMEOUT", 10*time.Second),
		},
		Matchmaking: DefaultMatchmakingConfig(),
		ExecQueue:   DefaultExecQueueConfig(),
		Sandbox:     DefaultSandboxConfig(),
		Cleanup:     DefaultCleanupConfig(),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	switch cfg.JudgeBackend {
	case JudgeBackendSandbox, JudgeBackendJudge0:
	default:
		return nil, fmt.Errorf("invalid JUDGE_BACKEND %q (want %q or %q)",
			cfg.JudgeBackend, JudgeBackendSandbox, JudgeBackendJudge0)
	}

	cfg.Matchmaking.PairingInterval = getEnvDuration("MATCH_PAIRING_INTERVAL", cfg.Matchmaking.PairingInterval)
	cfg.Matchmaking.RatingRange = getEnvInt("MATCH_RATING_RANGE", cfg.Matchmaking.RatingRange)
	cfg.ExecQueue.WorkerCount = getEnvInt("EXEC_WORKER_COUNT", cfg.ExecQueue.WorkerCount)
	cfg.Sandbox.PoolSizePerLanguage = getEnvInt("SANDBOX_POOL_SIZE", cfg.Sandbox.PoolSizePerLanguage)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
