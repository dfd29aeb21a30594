// Package config handles the parsing and validation of application configuration
// from command-line arguments and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/woozymasta/gtpulse/internal/logger"
	"github.com/woozymasta/gtpulse/internal/vars"
)

// Config represents the complete application flags configuration.
type Config struct {
	// betteralign:ignore

	Server    Server        `group:"Server Options" env-namespace:"GTPULSE"`
	Fetch     Fetch         `group:"Fetch Options" namespace:"fetch" env-namespace:"GTPULSE_FETCH"`
	Health    Health        `group:"Health Options" namespace:"health" env-namespace:"GTPULSE_HEALTH"`
	Cache     Cache         `group:"Cache Options" namespace:"cache" env-namespace:"GTPULSE_CACHE"`
	Storage   Storage       `group:"Storage Options" namespace:"db" env-namespace:"GTPULSE_DB"`
	Monitor   Monitor       `group:"Monitor Options" namespace:"monitor" env-namespace:"GTPULSE_MONITOR"`
	Pricing   Pricing       `group:"Pricing Options" namespace:"pricing" env-namespace:"GTPULSE_PRICING"`
	RateLimit RateLimit     `group:"Rate Limit Options" namespace:"rate-limit" env-namespace:"GTPULSE_RATE_LIMIT"`
	Metrics   Metrics       `group:"Metrics Options" namespace:"metrics" env-namespace:"GTPULSE_METRICS"`
	Logger    logger.Config `group:"Logger Options" namespace:"log" env-namespace:"GTPULSE_LOG"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Server holds admin API configuration.
type Server struct {
	// betteralign:ignore

	Address    string `short:"l" long:"address" env:"LISTEN_ADDRESS" description:"Admin API listen address" default:":8080"`
	AuthToken  string `short:"t" long:"auth-token" env:"AUTH_TOKEN" description:"Admin authentication token"`
	TrustProxy bool   `long:"trust-proxy" env:"TRUST_PROXY" description:"Trust X-Forwarded-For headers"`
}

// Fetch holds upstream request configuration.
type Fetch struct {
	// betteralign:ignore

	Sources          string        `short:"s" long:"sources" env:"SOURCES" description:"Path to YAML sources file (built-in registry when empty)"`
	CurrencyAPIKey   string        `long:"currency-api-key" env:"CURRENCY_API_KEY" description:"API key for the exchange rate source"`
	Timeout          time.Duration `long:"timeout" env:"TIMEOUT" description:"Per-attempt request timeout" default:"8s"`
	MaxConcurrent    int           `long:"max-concurrent" env:"MAX_CONCURRENT" description:"Max upstream requests in flight" default:"3"`
	MaxRetries       int           `long:"max-retries" env:"MAX_RETRIES" description:"Attempts per source" default:"3"`
	RetryDelay       time.Duration `long:"retry-delay" env:"RETRY_DELAY" description:"Delay between attempts on the same source" default:"1500ms"`
	RateLimitDelay   time.Duration `long:"rate-limit-delay" env:"RATE_LIMIT_DELAY" description:"Wait after 429 without Retry-After" default:"5s"`
	InterSourceDelay time.Duration `long:"inter-source-delay" env:"INTER_SOURCE_DELAY" description:"Pause before trying the next source" default:"500ms"`
	EndpointGap      time.Duration `long:"endpoint-gap" env:"ENDPOINT_GAP" description:"Pause between endpoints on full refresh" default:"200ms"`
}

// Health holds source health configuration.
type Health struct {
	// betteralign:ignore

	Threshold  int           `long:"threshold" env:"THRESHOLD" description:"Consecutive failures before a source is unhealthy" default:"3"`
	SwitchBack time.Duration `long:"switch-back" env:"SWITCH_BACK" description:"Cooldown before an unhealthy primary gets a second chance" default:"2m"`
}

// Cache holds refresh interval configuration.
type Cache struct {
	// betteralign:ignore

	Fast      time.Duration `long:"fast" env:"FAST" description:"Refresh interval for fast-moving data" default:"30s"`
	Slow      time.Duration `long:"slow" env:"SLOW" description:"Refresh interval for slow-moving data" default:"1h"`
	BanWindow time.Duration `long:"ban-window" env:"BAN_WINDOW" description:"Freshness window for preferring the primary ban source" default:"2m"`
	ClockSkew time.Duration `long:"clock-skew" env:"CLOCK_SKEW" description:"Tolerated future skew of upstream timestamps" default:"5s"`
}

// Storage holds database configuration.
type Storage struct {
	// betteralign:ignore

	Path       string        `short:"d" long:"path" env:"PATH" description:"Path to SQLite database" default:"gtpulse.db"`
	Disable    bool          `long:"disable" env:"DISABLE" description:"Run without persisting samples and events"`
	Prune      bool          `long:"prune" description:"Delete history older than --db-retention and exit"`
	Retention  time.Duration `long:"retention" env:"RETENTION" description:"History retention" default:"720h"`
	PruneEvery time.Duration `long:"prune-every" env:"PRUNE_EVERY" description:"Background prune interval, 0 disables" default:"24h"`
}

// Monitor holds player monitor configuration.
type Monitor struct {
	// betteralign:ignore

	Disable              bool          `long:"disable" env:"DISABLE" description:"Disable the player monitor"`
	Interval             time.Duration `long:"interval" env:"INTERVAL" description:"Player check interval" default:"1m"`
	MaintenanceThreshold int           `long:"maintenance-threshold" env:"MAINTENANCE_THRESHOLD" description:"Player count under which maintenance is assumed" default:"1000"`
	BanwaveLimit         int           `long:"banwave-limit" env:"BANWAVE_LIMIT" description:"Player drop that counts as a banwave" default:"2000"`
	MajorBanRate         float64       `long:"major-ban-rate" env:"MAJOR_BAN_RATE" description:"Ban rate separating major from minor banwaves" default:"1.0"`
}

// Pricing holds diamond lock price configuration.
type Pricing struct {
	// betteralign:ignore

	Disable          bool          `long:"disable" env:"DISABLE" description:"Disable the price tracker"`
	ExchangeInterval time.Duration `long:"exchange-interval" env:"EXCHANGE_INTERVAL" description:"Exchange rate refresh interval" default:"1h"`
	PriceInterval    time.Duration `long:"price-interval" env:"PRICE_INTERVAL" description:"Price refresh interval" default:"30s"`
	IDR              float64       `long:"idr" env:"IDR" description:"Fallback USD to IDR rate" default:"16500"`
	EUR              float64       `long:"eur" env:"EUR" description:"Fallback USD to EUR rate" default:"0.85"`
}

// RateLimit holds admin API rate limiting configuration.
type RateLimit struct {
	// betteralign:ignore

	Rate  float64 `long:"rate" env:"RATE" description:"Requests per second per IP" default:"5"`
	Burst int     `long:"burst" env:"BURST" description:"Burst size per IP" default:"20"`
}

// Metrics holds Prometheus exporter configuration.
type Metrics struct {
	// betteralign:ignore

	Runtime bool `long:"runtime" env:"RUNTIME" description:"Export Go runtime and process collectors"`
}

// Parse reads the configuration from flags and environment variables.
// It terminates the application if the configuration is invalid or if the help flag is invoked.
func Parse() *Config {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.NamespaceDelimiter = "-"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print()
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	return &cfg
}

// Validate checks values flags cannot express on their own.
func (c *Config) Validate() error {
	if c.Server.Address != "" && c.Server.AuthToken == "" {
		return errors.New("required flag `-t, --auth-token' or environment variable `GTPULSE_AUTH_TOKEN` was not specified")
	}
	if c.Health.Threshold < 1 {
		return fmt.Errorf("health threshold must be at least 1, got %d", c.Health.Threshold)
	}
	if c.Fetch.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent requests must be at least 1, got %d", c.Fetch.MaxConcurrent)
	}
	if c.Fetch.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", c.Fetch.MaxRetries)
	}
	if c.Cache.Fast <= 0 || c.Cache.Slow <= 0 {
		return errors.New("cache intervals must be positive")
	}
	if c.Storage.Prune && c.Storage.Disable {
		return errors.New("--db-prune requires storage")
	}

	return nil
}
