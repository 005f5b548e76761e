package config

import "time"

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for the kestrel driver.
type Config struct {
	Store       StoreConfig       `mapstructure:"store"       yaml:"store"`
	Codec       CodecConfig       `mapstructure:"codec"       yaml:"codec"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter" yaml:"rate_limiter"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"   yaml:"scheduler"`
	Speculation SpeculationConfig `mapstructure:"speculation" yaml:"speculation"`
	Fetcher     FetcherConfig     `mapstructure:"fetcher"     yaml:"fetcher"`
	Browser     BrowserConfig     `mapstructure:"browser"     yaml:"browser"`
	Logging     LoggingConfig     `mapstructure:"logging"     yaml:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"     yaml:"metrics"`
}

// StoreConfig controls the durable SQLite store.
type StoreConfig struct {
	Path    string `mapstructure:"path"    yaml:"path"`
	Resume  bool   `mapstructure:"resume"  yaml:"resume"`
}

// CodecConfig controls zstd compression and dictionary training.
type CodecConfig struct {
	Level           int `mapstructure:"level"             yaml:"level"`
	DictCacheSize   int `mapstructure:"dict_cache_size"    yaml:"dict_cache_size"`
	TrainSampleSize int `mapstructure:"train_sample_size"  yaml:"train_sample_size"`
	TrainDictSize   int `mapstructure:"train_dict_size"    yaml:"train_dict_size"`
}

// RateLimiterConfig seeds the adaptive token bucket's initial state.
type RateLimiterConfig struct {
	InitialTokens float64       `mapstructure:"initial_tokens" yaml:"initial_tokens"`
	InitialRate   float64       `mapstructure:"initial_rate"   yaml:"initial_rate"`
	BucketSize    float64       `mapstructure:"bucket_size"    yaml:"bucket_size"`
	MinRate       float64       `mapstructure:"min_rate"       yaml:"min_rate"`
	MaxRate       float64       `mapstructure:"max_rate"       yaml:"max_rate"`
	Jitter        time.Duration `mapstructure:"jitter"         yaml:"jitter"`
	SuccessStreakToGrow int     `mapstructure:"success_streak_to_grow" yaml:"success_streak_to_grow"`
}

// SchedulerConfig controls the N-worker pool and retry policy.
type SchedulerConfig struct {
	NumWorkers      int           `mapstructure:"num_workers"       yaml:"num_workers"`
	MaxWorkers      int           `mapstructure:"max_workers"       yaml:"max_workers"`
	BaseDelay       time.Duration `mapstructure:"base_delay"        yaml:"base_delay"`
	Jitter          float64       `mapstructure:"jitter"            yaml:"jitter"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff_time"  yaml:"max_backoff_time"`
	MaxTotalBackoff time.Duration `mapstructure:"max_total_backoff" yaml:"max_total_backoff"`
	MaxRetries      int           `mapstructure:"max_retries"       yaml:"max_retries"`
	DrainPollEvery  time.Duration `mapstructure:"drain_poll_every"  yaml:"drain_poll_every"`
}

// SpeculationConfig is the default configuration applied to slots that don't
// declare their own.
type SpeculationConfig struct {
	YearRolloverTrailingDays int `mapstructure:"year_rollover_trailing_days" yaml:"year_rollover_trailing_days"`
}

// FetcherConfig controls the HTTP fetcher.
type FetcherConfig struct {
	Type            string        `mapstructure:"type"              yaml:"type"` // "http" or "browser"
	FollowRedirects bool          `mapstructure:"follow_redirects"  yaml:"follow_redirects"`
	MaxRedirects    int           `mapstructure:"max_redirects"     yaml:"max_redirects"`
	MaxBodySize     int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"   yaml:"request_timeout"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
	UserAgents      []string      `mapstructure:"user_agents"       yaml:"user_agents"`
}

// BrowserConfig controls the Playwright/rod-equivalent browser fetcher.
type BrowserConfig struct {
	Headless bool   `mapstructure:"headless" yaml:"headless"`
	Viewport string `mapstructure:"viewport" yaml:"viewport"`
	Locale   string `mapstructure:"locale"   yaml:"locale"`
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
	Stealth  bool   `mapstructure:"stealth"  yaml:"stealth"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// ArchiveConfig configures archival downloads; StorageDir is where archived
// files are written.
type ArchiveConfig struct {
	StorageDir string `mapstructure:"storage_dir" yaml:"storage_dir"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:   "./kestrel.db",
			Resume: false,
		},
		Codec: CodecConfig{
			Level:           3,
			DictCacheSize:   32,
			TrainSampleSize: 200,
			TrainDictSize:   64 * 1024,
		},
		RateLimiter: RateLimiterConfig{
			InitialTokens:       1.0,
			InitialRate:         0.1,
			BucketSize:          4.0,
			MinRate:             0.01,
			MaxRate:             10.0,
			Jitter:              2 * time.Second,
			SuccessStreakToGrow: 10,
		},
		Scheduler: SchedulerConfig{
			NumWorkers:      1,
			MaxWorkers:      8,
			BaseDelay:       500 * time.Millisecond,
			Jitter:          0.2,
			MaxBackoff:      60 * time.Second,
			MaxTotalBackoff: 10 * time.Minute,
			MaxRetries:      5,
			DrainPollEvery:  100 * time.Millisecond,
		},
		Speculation: SpeculationConfig{
			YearRolloverTrailingDays: 14,
		},
		Fetcher: FetcherConfig{
			Type:            "http",
			FollowRedirects: true,
			MaxRedirects:    10,
			MaxBodySize:     10 * 1024 * 1024,
			RequestTimeout:  30 * time.Second,
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    100,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
		},
		Browser: BrowserConfig{
			Headless: true,
			Viewport: "1280x800",
			Locale:   "en-US",
			Timezone: "UTC",
			Stealth:  true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
