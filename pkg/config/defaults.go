package config

import "time"

// MatchmakingConfig controls the pairing processor.
type MatchmakingConfig struct {
	// PairingInterval is how often each partition is scanned for pairs.
	PairingInterval time.Duration

	// RatingRange is the maximum rating difference between paired players.
	RatingRange int

	// QueueEntryTTL bounds how long a queue entry may wait before the sweep
	// drops it.
	QueueEntryTTL time.Duration
}

// DefaultMatchmakingConfig returns the built-in matchmaking defaults.
func DefaultMatchmakingConfig() *MatchmakingConfig {
	return &MatchmakingConfig{
		PairingInterval: 2 * time.Second,
		RatingRange:     100,
		QueueEntryTTL:   10 * time.Minute,
	}
}

// ExecQueueConfig controls the execution job queue and its worker pool.
type ExecQueueConfig struct {
	// WorkerCount is the number of concurrent execution workers.
	WorkerCount int

	// MaxAttempts is the total number of tries per job (1 initial + retries).
	MaxAttempts int

	// RetryBackoff is the initial retry delay; it doubles per attempt.
	RetryBackoff time.Duration

	// RatePerSecond caps job starts per second. Zero disables the cap.
	RatePerSecond int

	// Retention windows and counts for finished jobs.
	CompletedRetention time.Duration
	CompletedMaxCount  int
	FailedRetention    time.Duration
	FailedMaxCount     int

	// GracefulShutdownTimeout is the max wait for in-flight jobs on Stop.
	GracefulShutdownTimeout time.Duration
}

// DefaultExecQueueConfig returns the built-in execution queue defaults.
func DefaultExecQueueConfig() *ExecQueueConfig {
	return &ExecQueueConfig{
		WorkerCount:             5,
		MaxAttempts:             3,
		RetryBackoff:            1 * time.Second,
		RatePerSecond:           10,
		CompletedRetention:      1 * time.Hour,
		CompletedMaxCount:       100,
		FailedRetention:         24 * time.Hour,
		FailedMaxCount:          1000,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// SandboxConfig controls the docker sandbox executor and its pool.
type SandboxConfig struct {
	// PoolSizePerLanguage caps pooled sandboxes per language.
	PoolSizePerLanguage int

	// WarmPerLanguage is how many sandboxes to pre-create at startup.
	WarmPerLanguage int

	// IdleTimeout is how long a pooled sandbox may sit unused before the
	// sweeper destroys it.
	IdleTimeout time.Duration

	// SweepInterval is how often the idle sweeper runs.
	SweepInterval time.Duration

	// Resource envelope per invocation.
	MemoryLimitBytes int64
	NanoCPUs         int64
	PidsLimit        int64
}

// DefaultSandboxConfig returns the built-in sandbox defaults.
func DefaultSandboxConfig() *SandboxConfig {
	return &SandboxConfig{
		PoolSizePerLanguage: 5,
		WarmPerLanguage:     2,
		IdleTimeout:         5 * time.Minute,
		SweepInterval:       60 * time.Second,
		MemoryLimitBytes:    512 * 1024 * 1024,
		NanoCPUs:            1_000_000_000, // one core
		PidsLimit:           50,
	}
}

// CleanupConfig controls the match cleanup sweeps.
type CleanupConfig struct {
	// SweepInterval is how often the cleanup sweep runs.
	SweepInterval time.Duration

	// TimeLimitGrace is added to a challenge's time limit before an active
	// match is auto-completed.
	TimeLimitGrace time.Duration

	// LobbyMaxAge abandons lobbies older than this.
	LobbyMaxAge time.Duration

	// ActiveMaxAge abandons active matches older than this (safety net).
	ActiveMaxAge time.Duration
}

// DefaultCleanupConfig returns the built-in cleanup defaults.
func DefaultCleanupConfig() *CleanupConfig {
	return &CleanupConfig{
		SweepInterval:  10 * time.Second,
		TimeLimitGrace: 10 * time.Second,
		LobbyMaxAge:    10 * time.Minute,
		ActiveMaxAge:   30 * time.Minute,
	}
}
