package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries the engine tunables. The recovery batch bounds and
// typing intervals are deliberately configurable rather than baked in.
type Config struct {
	DBFile string

	// RecoveryQueryLimit bounds how many dirty channel-list queries are
	// re-run concurrently after a reconnect.
	RecoveryQueryLimit int
	// RecoveryChannelLimit bounds how many channels one batched
	// recovery fetch may cover.
	RecoveryChannelLimit int

	// TypingExpiry is how long a keystroke keeps a user in the typing
	// set without a follow-up event.
	TypingExpiry time.Duration
	// CleanInterval is the period of the background tick that expires
	// stale typing indicators.
	CleanInterval time.Duration

	// RetryInitialDelay and RetryMaxDelay shape the default retry
	// policy's backoff curve.
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
}

func Default() Config {
	return Config{
		DBFile:               "chatsync.db",
		RecoveryQueryLimit:   3,
		RecoveryChannelLimit: 30,
		TypingExpiry:         5 * time.Second,
		CleanInterval:        time.Second,
		RetryInitialDelay:    500 * time.Millisecond,
		RetryMaxDelay:        30 * time.Second,
	}
}

func Load() (*Config, error) {
	cfg := Default()
	cfg.DBFile = getEnv("CHATSYNC_DB", cfg.DBFile)

	var err error
	if cfg.TypingExpiry, err = getDuration("CHATSYNC_TYPING_EXPIRY", cfg.TypingExpiry); err != nil {
		return nil, err
	}
	if cfg.CleanInterval, err = getDuration("CHATSYNC_CLEAN_INTERVAL", cfg.CleanInterval); err != nil {
		return nil, err
	}
	if cfg.RetryInitialDelay, err = getDuration("CHATSYNC_RETRY_INITIAL_DELAY", cfg.RetryInitialDelay); err != nil {
		return nil, err
	}
	if cfg.RetryMaxDelay, err = getDuration("CHATSYNC_RETRY_MAX_DELAY", cfg.RetryMaxDelay); err != nil {
		return nil, err
	}
	if cfg.RecoveryQueryLimit, err = getInt("CHATSYNC_RECOVERY_QUERY_LIMIT", cfg.RecoveryQueryLimit); err != nil {
		return nil, err
	}
	if cfg.RecoveryChannelLimit, err = getInt("CHATSYNC_RECOVERY_CHANNEL_LIMIT", cfg.RecoveryChannelLimit); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBFile == "" {
		return fmt.Errorf("CHATSYNC_DB is required")
	}
	if c.RecoveryQueryLimit <= 0 {
		return fmt.Errorf("CHATSYNC_RECOVERY_QUERY_LIMIT must be greater than 0")
	}
	if c.RecoveryChannelLimit <= 0 {
		return fmt.Errorf("CHATSYNC_RECOVERY_CHANNEL_LIMIT must be greater than 0")
	}
	if c.TypingExpiry <= 0 || c.CleanInterval <= 0 {
		return fmt.Errorf("typing expiry and clean interval must be greater than 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
