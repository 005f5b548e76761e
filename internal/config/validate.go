package config

import "fmt"

// Validate checks a Config for internally-consistent values. It does not
// touch the filesystem or network.
func Validate(cfg *Config) error {
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}

	if cfg.Codec.Level < 1 || cfg.Codec.Level > 22 {
		return fmt.Errorf("codec.level must be between 1 and 22, got %d", cfg.Codec.Level)
	}
	if cfg.Codec.DictCacheSize < 0 {
		return fmt.Errorf("codec.dict_cache_size must not be negative")
	}

	if cfg.RateLimiter.BucketSize <= 0 {
		return fmt.Errorf("rate_limiter.bucket_size must be positive")
	}
	if cfg.RateLimiter.MinRate <= 0 {
		return fmt.Errorf("rate_limiter.min_rate must be positive")
	}
	if cfg.RateLimiter.MaxRate < cfg.RateLimiter.MinRate {
		return fmt.Errorf("rate_limiter.max_rate (%.4f) must be >= rate_limiter.min_rate (%.4f)",
			cfg.RateLimiter.MaxRate, cfg.RateLimiter.MinRate)
	}
	if cfg.RateLimiter.InitialRate < cfg.RateLimiter.MinRate || cfg.RateLimiter.InitialRate > cfg.RateLimiter.MaxRate {
		return fmt.Errorf("rate_limiter.initial_rate (%.4f) must lie within [min_rate, max_rate]", cfg.RateLimiter.InitialRate)
	}

	if cfg.Scheduler.NumWorkers < 1 {
		return fmt.Errorf("scheduler.num_workers must be at least 1")
	}
	if cfg.Scheduler.MaxWorkers < cfg.Scheduler.NumWorkers {
		return fmt.Errorf("scheduler.max_workers (%d) must be >= scheduler.num_workers (%d)",
			cfg.Scheduler.MaxWorkers, cfg.Scheduler.NumWorkers)
	}
	if cfg.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler.max_retries must not be negative")
	}
	if cfg.Scheduler.MaxBackoff > cfg.Scheduler.MaxTotalBackoff {
		return fmt.Errorf("scheduler.max_backoff_time must not exceed scheduler.max_total_backoff")
	}

	if cfg.Speculation.YearRolloverTrailingDays < 0 {
		return fmt.Errorf("speculation.year_rollover_trailing_days must not be negative")
	}

	switch cfg.Fetcher.Type {
	case "http", "browser":
	default:
		return fmt.Errorf("fetcher.type must be %q or %q, got %q", "http", "browser", cfg.Fetcher.Type)
	}
	if cfg.Fetcher.MaxBodySize <= 0 {
		return fmt.Errorf("fetcher.max_body_size must be positive")
	}
	if len(cfg.Fetcher.UserAgents) == 0 {
		return fmt.Errorf("fetcher.user_agents must not be empty")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be one of text, json, got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be a valid TCP port, got %d", cfg.Metrics.Port)
	}

	return nil
}
