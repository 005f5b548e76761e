package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix applied to every environment variable consulted
// by Load, e.g. KESTREL_STORE_PATH.
const EnvPrefix = "KESTREL"

// Load builds a Config by layering, in increasing priority: compiled-in
// defaults, an optional config file, and environment variables. cfgFile may
// be empty, in which case a file named kestrel (e.g. kestrel.yaml) is
// searched for in the working directory and then in /etc/kestrel.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("kestrel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/kestrel")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.resume", d.Store.Resume)

	v.SetDefault("codec.level", d.Codec.Level)
	v.SetDefault("codec.dict_cache_size", d.Codec.DictCacheSize)
	v.SetDefault("codec.train_sample_size", d.Codec.TrainSampleSize)
	v.SetDefault("codec.train_dict_size", d.Codec.TrainDictSize)

	v.SetDefault("rate_limiter.initial_tokens", d.RateLimiter.InitialTokens)
	v.SetDefault("rate_limiter.initial_rate", d.RateLimiter.InitialRate)
	v.SetDefault("rate_limiter.bucket_size", d.RateLimiter.BucketSize)
	v.SetDefault("rate_limiter.min_rate", d.RateLimiter.MinRate)
	v.SetDefault("rate_limiter.max_rate", d.RateLimiter.MaxRate)
	v.SetDefault("rate_limiter.jitter", d.RateLimiter.Jitter)
	v.SetDefault("rate_limiter.success_streak_to_grow", d.RateLimiter.SuccessStreakToGrow)

	v.SetDefault("scheduler.num_workers", d.Scheduler.NumWorkers)
	v.SetDefault("scheduler.max_workers", d.Scheduler.MaxWorkers)
	v.SetDefault("scheduler.base_delay", d.Scheduler.BaseDelay)
	v.SetDefault("scheduler.jitter", d.Scheduler.Jitter)
	v.SetDefault("scheduler.max_backoff_time", d.Scheduler.MaxBackoff)
	v.SetDefault("scheduler.max_total_backoff", d.Scheduler.MaxTotalBackoff)
	v.SetDefault("scheduler.max_retries", d.Scheduler.MaxRetries)
	v.SetDefault("scheduler.drain_poll_every", d.Scheduler.DrainPollEvery)

	v.SetDefault("speculation.year_rollover_trailing_days", d.Speculation.YearRolloverTrailingDays)

	v.SetDefault("fetcher.type", d.Fetcher.Type)
	v.SetDefault("fetcher.follow_redirects", d.Fetcher.FollowRedirects)
	v.SetDefault("fetcher.max_redirects", d.Fetcher.MaxRedirects)
	v.SetDefault("fetcher.max_body_size", d.Fetcher.MaxBodySize)
	v.SetDefault("fetcher.request_timeout", d.Fetcher.RequestTimeout)
	v.SetDefault("fetcher.idle_conn_timeout", d.Fetcher.IdleConnTimeout)
	v.SetDefault("fetcher.max_idle_conns", d.Fetcher.MaxIdleConns)
	v.SetDefault("fetcher.user_agents", d.Fetcher.UserAgents)

	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.viewport", d.Browser.Viewport)
	v.SetDefault("browser.locale", d.Browser.Locale)
	v.SetDefault("browser.timezone", d.Browser.Timezone)
	v.SetDefault("browser.stealth", d.Browser.Stealth)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.port", d.Metrics.Port)
	v.SetDefault("metrics.path", d.Metrics.Path)
}
