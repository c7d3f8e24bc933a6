// Package config provides application configuration management.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxPoolSize         = 20
	maxMemoryLimitMB    = 16384
	maxTimeout          = 10 * time.Minute
	maxRateLimitRPM     = 10000
	defaultPoolSize     = 3
	defaultMemoryMB     = 512
	defaultAnalyzeLimit = 60 * time.Second
)

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Server settings
	Host string
	Port int

	// Browser settings
	Headless    bool
	BrowserPath string

	// Pool settings
	PoolSize           int           // Maximum live instances
	PoolAcquireTimeout time.Duration // Bounded wait in Acquire
	MemoryThresholdMB  int           // Resident-memory ceiling before creation is gated
	IdleTTL            time.Duration // Idle instances older than this are swept
	SweepInterval      time.Duration // Minimum spacing between idle sweeps

	// Discovery timeouts
	NavigationTimeout time.Duration // Page navigation in tiers 2-3
	ReadyStateTimeout time.Duration // DOM readyState wait in tier 3 (non-fatal)
	ProbeTimeout      time.Duration // Single HEAD/GET last-modified probe
	BatchTimeout      time.Duration // Whole concurrent probe batch
	DiscoverTimeout   time.Duration // Overall media discovery budget
	ProbeConcurrency  int           // Concurrent last-modified probes per batch

	// Analysis
	AnalyzeTimeout time.Duration // Concurrent headers+certs budget per request

	// RDAP collaborator
	RDAPBinary  string
	RDAPTimeout time.Duration

	// Certificate-transparency collaborator
	CrtShBaseURL string
	CertTimeout  time.Duration
	CertRetries  int

	// Media rules
	MediaRulesPath      string // External YAML override for the media allow-list
	MediaRulesHotReload bool

	// Logging
	LogLevel string

	// Security
	RateLimitEnabled   bool
	RateLimitRPM       int      // Requests per minute per IP
	TrustProxy         bool     // Trust X-Forwarded-For (only behind a reverse proxy)
	APIKey             string   // Optional; empty disables API key auth
	CORSAllowedOrigins []string // Origins allowed for cross-origin requests

	// Metrics
	MetricsEnabled bool
	MetricsPort    int
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	return &Config{
		// Server - default to localhost for security (prevents accidental exposure)
		// Set HOST=0.0.0.0 explicitly to bind to all interfaces
		Host: getEnvString("HOST", "127.0.0.1"),
		Port: getEnvInt("PORT", 5000),

		// Browser
		Headless:    getEnvBool("HEADLESS", true),
		BrowserPath: getEnvString("BROWSER_PATH", ""),

		// Pool
		PoolSize:           getEnvInt("POOL_SIZE", defaultPoolSize),
		PoolAcquireTimeout: getEnvDuration("POOL_ACQUIRE_TIMEOUT", 10*time.Second),
		MemoryThresholdMB:  getEnvInt("MEMORY_THRESHOLD_MB", defaultMemoryMB),
		IdleTTL:            getEnvDuration("POOL_IDLE_TTL", 5*time.Minute),
		SweepInterval:      getEnvDuration("POOL_SWEEP_INTERVAL", 5*time.Minute),

		// Discovery
		NavigationTimeout: getEnvDuration("NAVIGATION_TIMEOUT", 15*time.Second),
		ReadyStateTimeout: getEnvDuration("READY_STATE_TIMEOUT", 10*time.Second),
		ProbeTimeout:      getEnvDuration("PROBE_TIMEOUT", 10*time.Second),
		BatchTimeout:      getEnvDuration("BATCH_TIMEOUT", 30*time.Second),
		DiscoverTimeout:   getEnvDuration("DISCOVER_TIMEOUT", 90*time.Second),
		ProbeConcurrency:  getEnvInt("PROBE_CONCURRENCY", 8),

		// Analysis
		AnalyzeTimeout: getEnvDuration("ANALYZE_TIMEOUT", defaultAnalyzeLimit),

		// RDAP
		RDAPBinary:  getEnvString("RDAP_BINARY", "rdap"),
		RDAPTimeout: getEnvDuration("RDAP_TIMEOUT", 20*time.Second),

		// Certificates
		CrtShBaseURL: getEnvString("CRTSH_BASE_URL", "https://crt.sh"),
		CertTimeout:  getEnvDuration("CERT_TIMEOUT", 30*time.Second),
		CertRetries:  getEnvInt("CERT_RETRIES", 3),

		// Media rules
		MediaRulesPath:      getEnvString("MEDIA_RULES_PATH", ""),
		MediaRulesHotReload: getEnvBool("MEDIA_RULES_HOT_RELOAD", false),

		// Logging
		LogLevel: getEnvString("LOG_LEVEL", "info"),

		// Security
		RateLimitEnabled:   getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", 60),
		TrustProxy:         getEnvBool("TRUST_PROXY", false),
		APIKey:             getEnvString("API_KEY", ""),
		CORSAllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS"),

		// Metrics
		MetricsEnabled: getEnvBool("METRICS_ENABLED", false),
		MetricsPort:    getEnvInt("METRICS_PORT", 9090),
	}
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults rather than failing.
func (c *Config) Validate() {
	// Port validation - allow 0 for system-assigned ports
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 5000")
		c.Port = 5000
	}

	// BrowserPath validation - prevent path traversal
	if c.BrowserPath != "" {
		if strings.Contains(c.BrowserPath, "..") {
			log.Error().
				Str("path", c.BrowserPath).
				Msg("BrowserPath contains path traversal sequence (..), ignoring")
			c.BrowserPath = ""
		} else if !strings.HasPrefix(c.BrowserPath, "/") && !strings.HasPrefix(c.BrowserPath, "C:") && !strings.HasPrefix(c.BrowserPath, "c:") {
			log.Warn().
				Str("path", c.BrowserPath).
				Msg("BrowserPath should be an absolute path")
		}
	}

	// Pool size validation with upper bound
	if c.PoolSize < 1 {
		log.Warn().Int("size", c.PoolSize).Msg("Invalid pool size, using default 3")
		c.PoolSize = defaultPoolSize
	} else if c.PoolSize > maxPoolSize {
		log.Warn().
			Int("size", c.PoolSize).
			Int("max", maxPoolSize).
			Msg("Pool size too large, capping to maximum")
		c.PoolSize = maxPoolSize
	}

	// Memory threshold validation with upper bound
	if c.MemoryThresholdMB < 128 {
		log.Warn().Int("mb", c.MemoryThresholdMB).Msg("Memory threshold too low, using default 512")
		c.MemoryThresholdMB = defaultMemoryMB
	} else if c.MemoryThresholdMB > maxMemoryLimitMB {
		log.Warn().
			Int("mb", c.MemoryThresholdMB).
			Int("max", maxMemoryLimitMB).
			Msg("Memory threshold too high, capping to maximum")
		c.MemoryThresholdMB = maxMemoryLimitMB
	}

	// PoolAcquireTimeout validation (minimum 1 second, maximum 5 minutes)
	const minAcquireTimeout = 1 * time.Second
	const maxAcquireTimeout = 5 * time.Minute
	if c.PoolAcquireTimeout < minAcquireTimeout {
		log.Warn().
			Dur("timeout", c.PoolAcquireTimeout).
			Dur("min", minAcquireTimeout).
			Msg("Pool acquire timeout too short, using minimum")
		c.PoolAcquireTimeout = minAcquireTimeout
	} else if c.PoolAcquireTimeout > maxAcquireTimeout {
		log.Warn().
			Dur("timeout", c.PoolAcquireTimeout).
			Dur("max", maxAcquireTimeout).
			Msg("Pool acquire timeout too long, using maximum")
		c.PoolAcquireTimeout = maxAcquireTimeout
	}

	// Idle sweep validation
	if c.IdleTTL < 30*time.Second {
		log.Warn().Dur("ttl", c.IdleTTL).Msg("Idle TTL too short, using 30s")
		c.IdleTTL = 30 * time.Second
	}
	if c.SweepInterval < 10*time.Second {
		log.Warn().Dur("interval", c.SweepInterval).Msg("Sweep interval too short, using 10s")
		c.SweepInterval = 10 * time.Second
	}

	// Discovery timeout ordering: single probe <= batch <= overall budget
	c.NavigationTimeout = clampDuration("NAVIGATION_TIMEOUT", c.NavigationTimeout, time.Second, maxTimeout, 15*time.Second)
	c.ReadyStateTimeout = clampDuration("READY_STATE_TIMEOUT", c.ReadyStateTimeout, time.Second, maxTimeout, 10*time.Second)
	c.ProbeTimeout = clampDuration("PROBE_TIMEOUT", c.ProbeTimeout, time.Second, maxTimeout, 10*time.Second)
	c.BatchTimeout = clampDuration("BATCH_TIMEOUT", c.BatchTimeout, time.Second, maxTimeout, 30*time.Second)
	c.DiscoverTimeout = clampDuration("DISCOVER_TIMEOUT", c.DiscoverTimeout, time.Second, maxTimeout, 90*time.Second)
	c.AnalyzeTimeout = clampDuration("ANALYZE_TIMEOUT", c.AnalyzeTimeout, time.Second, maxTimeout, defaultAnalyzeLimit)
	if c.ProbeTimeout > c.BatchTimeout {
		log.Warn().
			Dur("probe", c.ProbeTimeout).
			Dur("batch", c.BatchTimeout).
			Msg("Probe timeout exceeds batch timeout, adjusting to batch")
		c.ProbeTimeout = c.BatchTimeout
	}
	if c.BatchTimeout > c.DiscoverTimeout {
		log.Warn().
			Dur("batch", c.BatchTimeout).
			Dur("discover", c.DiscoverTimeout).
			Msg("Batch timeout exceeds discovery budget, adjusting to budget")
		c.BatchTimeout = c.DiscoverTimeout
	}

	// Probe concurrency
	if c.ProbeConcurrency < 1 {
		log.Warn().Int("concurrency", c.ProbeConcurrency).Msg("Invalid probe concurrency, using 8")
		c.ProbeConcurrency = 8
	} else if c.ProbeConcurrency > 64 {
		log.Warn().Int("concurrency", c.ProbeConcurrency).Msg("Probe concurrency too high, capping at 64")
		c.ProbeConcurrency = 64
	}

	// RDAP binary name must not be a path with traversal
	if strings.Contains(c.RDAPBinary, "..") {
		log.Error().Str("binary", c.RDAPBinary).Msg("RDAP_BINARY contains path traversal sequence, using default")
		c.RDAPBinary = "rdap"
	}
	c.RDAPTimeout = clampDuration("RDAP_TIMEOUT", c.RDAPTimeout, time.Second, maxTimeout, 20*time.Second)

	// Certificate lookup
	if !strings.HasPrefix(c.CrtShBaseURL, "http://") && !strings.HasPrefix(c.CrtShBaseURL, "https://") {
		log.Warn().Str("url", c.CrtShBaseURL).Msg("Invalid CRTSH_BASE_URL, using default")
		c.CrtShBaseURL = "https://crt.sh"
	}
	c.CrtShBaseURL = strings.TrimRight(c.CrtShBaseURL, "/")
	c.CertTimeout = clampDuration("CERT_TIMEOUT", c.CertTimeout, time.Second, maxTimeout, 30*time.Second)
	if c.CertRetries < 1 {
		log.Warn().Int("retries", c.CertRetries).Msg("Invalid cert retries, using 3")
		c.CertRetries = 3
	} else if c.CertRetries > 10 {
		log.Warn().Int("retries", c.CertRetries).Msg("Cert retries too high, capping at 10")
		c.CertRetries = 10
	}

	// Media rules path validation
	if c.MediaRulesPath != "" {
		if strings.Contains(c.MediaRulesPath, "..") {
			log.Error().
				Str("path", c.MediaRulesPath).
				Msg("MediaRulesPath contains path traversal sequence (..), ignoring")
			c.MediaRulesPath = ""
		} else if c.MediaRulesHotReload {
			if _, err := os.Stat(c.MediaRulesPath); os.IsNotExist(err) {
				log.Warn().
					Str("path", c.MediaRulesPath).
					Msg("MediaRulesPath does not exist - hot-reload will watch for file creation")
			}
		}
	}
	if c.MediaRulesHotReload && c.MediaRulesPath == "" {
		log.Warn().Msg("MEDIA_RULES_HOT_RELOAD enabled but MEDIA_RULES_PATH not set - hot-reload disabled")
		c.MediaRulesHotReload = false
	}

	// Rate limit validation with upper bound
	if c.RateLimitEnabled {
		if c.RateLimitRPM < 1 {
			log.Warn().Int("rpm", c.RateLimitRPM).Msg("Invalid rate limit, using 60 RPM")
			c.RateLimitRPM = 60
		} else if c.RateLimitRPM > maxRateLimitRPM {
			log.Warn().
				Int("rpm", c.RateLimitRPM).
				Int("max", maxRateLimitRPM).
				Msg("Rate limit too high, capping to maximum")
			c.RateLimitRPM = maxRateLimitRPM
		}
	}

	// Log level validation
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	// Metrics port conflict
	if c.MetricsEnabled && c.MetricsPort == c.Port {
		log.Error().
			Int("port", c.MetricsPort).
			Msg("METRICS_PORT conflicts with PORT, disabling metrics listener")
		c.MetricsEnabled = false
	}
}

// clampDuration bounds d to [min, max], falling back to def when out of range
// on the low side.
func clampDuration(key string, d, min, max, def time.Duration) time.Duration {
	if d < min {
		log.Warn().Str("key", key).Dur("value", d).Dur("default", def).Msg("Duration too short, using default")
		return def
	}
	if d > max {
		log.Warn().Str("key", key).Dur("value", d).Dur("max", max).Msg("Duration too long, capping to maximum")
		return max
	}
	return d
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvStringSlice(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}
