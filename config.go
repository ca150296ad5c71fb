package settle

import "time"

// Config holds engine-level configuration. Saga-specific tuning
// (thresholds, poll intervals, attempt caps) lives in sagas.Config.
type Config struct {
	// ResumeConcurrency bounds how many interrupted runs are resumed
	// in parallel at startup.
	ResumeConcurrency int

	// ActivityTimeout is the default per-attempt deadline for activity
	// invocations that don't set their own.
	ActivityTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// RetentionWindow is how long terminal runs are kept before they
	// are eligible for archival.
	RetentionWindow time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ResumeConcurrency: 10,
		ActivityTimeout:   30 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		RetentionWindow:   90 * 24 * time.Hour,
	}
}
