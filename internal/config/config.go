// Package config loads PureBoot configuration from defaults, an optional
// .env file and the PUREBOOT_* environment namespace.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const envPrefix = "PUREBOOT_"

// Config is the single typed configuration tree for both the controller and
// the site agent. Every option maps to one PUREBOOT_* variable.
type Config struct {
	// Process
	Host     string
	Port     int
	Debug    bool
	DataPath string
	LogLevel string

	// Registration
	AutoRegister   bool
	DefaultGroupID string

	// Install
	MaxInstallAttempts    int
	InstallTimeoutMinutes int

	// Workflows
	WorkflowDir string
	ServerURL   string // base URL handed to booting nodes, e.g. http://ctrl:8420

	// Health
	StaleThresholdMinutes   int
	OfflineThresholdMinutes int
	SnapshotIntervalMinutes int
	SnapshotRetentionDays   int
	ScoreStalenessWeight    float64
	ScoreInstallWeight      float64
	ScoreBootWeight         float64
	AlertOnStale            bool
	AlertOnOffline          bool
	AlertOnScoreBelow       float64 // 0 disables

	// Site agent
	CentralURL                   string
	ConnectivityCheckInterval    time.Duration
	ConnectivityTimeout          time.Duration
	ConnectivityFailureThreshold int
	OfflineDefaultAction         string // local|discovery|last_known
	QueueBatchSize               int
	QueueRetryDelay              time.Duration
	QueueMaxRetries              int
	CachePolicy                  string // minimal|assigned|mirror|pattern
	CachePattern                 string
	ConflictStrategy             string

	// Files
	DefaultBootBackendID     string
	FileServingBandwidthMbps float64
	FilesRoot                string
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Host:     "0.0.0.0",
		Port:     8420,
		DataPath: "/var/lib/pureboot",
		LogLevel: "info",

		AutoRegister: true,

		MaxInstallAttempts:    3,
		InstallTimeoutMinutes: 60,

		WorkflowDir: "/etc/pureboot/workflows",

		StaleThresholdMinutes:   15,
		OfflineThresholdMinutes: 60,
		SnapshotIntervalMinutes: 5,
		SnapshotRetentionDays:   30,
		ScoreStalenessWeight:    40,
		ScoreInstallWeight:      30,
		ScoreBootWeight:         30,
		AlertOnStale:            true,
		AlertOnOffline:          true,

		ConnectivityCheckInterval:    30 * time.Second,
		ConnectivityTimeout:          5 * time.Second,
		ConnectivityFailureThreshold: 3,
		OfflineDefaultAction:         "discovery",
		QueueBatchSize:               20,
		QueueRetryDelay:              5 * time.Second,
		QueueMaxRetries:              5,
		CachePolicy:                  "assigned",
		ConflictStrategy:             "central_wins",

		FilesRoot: "/var/lib/pureboot/files",
	}
}

// Load builds the configuration from defaults, .env, and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env file")
	}

	cfg := Defaults()

	cfg.Host = getString("HOST", cfg.Host)
	cfg.Port = getInt("PORT", cfg.Port)
	cfg.Debug = getBool("DEBUG", cfg.Debug)
	cfg.DataPath = getString("DATA_PATH", cfg.DataPath)
	cfg.LogLevel = getString("LOG_LEVEL", cfg.LogLevel)

	cfg.AutoRegister = getBool("AUTO_REGISTER", cfg.AutoRegister)
	cfg.DefaultGroupID = getString("DEFAULT_GROUP_ID", cfg.DefaultGroupID)

	cfg.MaxInstallAttempts = getInt("MAX_INSTALL_ATTEMPTS", cfg.MaxInstallAttempts)
	cfg.InstallTimeoutMinutes = getInt("INSTALL_TIMEOUT_MINUTES", cfg.InstallTimeoutMinutes)

	cfg.WorkflowDir = getString("WORKFLOW_DIR", cfg.WorkflowDir)
	cfg.ServerURL = getString("SERVER_URL", cfg.ServerURL)

	cfg.StaleThresholdMinutes = getInt("STALE_THRESHOLD_MINUTES", cfg.StaleThresholdMinutes)
	cfg.OfflineThresholdMinutes = getInt("OFFLINE_THRESHOLD_MINUTES", cfg.OfflineThresholdMinutes)
	cfg.SnapshotIntervalMinutes = getInt("SNAPSHOT_INTERVAL_MINUTES", cfg.SnapshotIntervalMinutes)
	cfg.SnapshotRetentionDays = getInt("SNAPSHOT_RETENTION_DAYS", cfg.SnapshotRetentionDays)
	cfg.ScoreStalenessWeight = getFloat("SCORE_STALENESS_WEIGHT", cfg.ScoreStalenessWeight)
	cfg.ScoreInstallWeight = getFloat("SCORE_INSTALL_WEIGHT", cfg.ScoreInstallWeight)
	cfg.ScoreBootWeight = getFloat("SCORE_BOOT_WEIGHT", cfg.ScoreBootWeight)
	cfg.AlertOnStale = getBool("ALERT_ON_STALE", cfg.AlertOnStale)
	cfg.AlertOnOffline = getBool("ALERT_ON_OFFLINE", cfg.AlertOnOffline)
	cfg.AlertOnScoreBelow = getFloat("ALERT_ON_SCORE_BELOW", cfg.AlertOnScoreBelow)

	cfg.CentralURL = getString("CENTRAL_URL", cfg.CentralURL)
	cfg.ConnectivityCheckInterval = getDuration("CONNECTIVITY_CHECK_INTERVAL", cfg.ConnectivityCheckInterval)
	cfg.ConnectivityTimeout = getDuration("CONNECTIVITY_TIMEOUT", cfg.ConnectivityTimeout)
	cfg.ConnectivityFailureThreshold = getInt("CONNECTIVITY_FAILURE_THRESHOLD", cfg.ConnectivityFailureThreshold)
	cfg.OfflineDefaultAction = getString("OFFLINE_DEFAULT_ACTION", cfg.OfflineDefaultAction)
	cfg.QueueBatchSize = getInt("QUEUE_BATCH_SIZE", cfg.QueueBatchSize)
	cfg.QueueRetryDelay = getDuration("QUEUE_RETRY_DELAY", cfg.QueueRetryDelay)
	cfg.QueueMaxRetries = getInt("QUEUE_MAX_RETRIES", cfg.QueueMaxRetries)
	cfg.CachePolicy = getString("CACHE_POLICY", cfg.CachePolicy)
	cfg.CachePattern = getString("CACHE_PATTERN", cfg.CachePattern)
	cfg.ConflictStrategy = getString("CONFLICT_STRATEGY", cfg.ConflictStrategy)

	cfg.DefaultBootBackendID = getString("DEFAULT_BOOT_BACKEND_ID", cfg.DefaultBootBackendID)
	cfg.FileServingBandwidthMbps = getFloat("FILE_SERVING_BANDWIDTH_MBPS", cfg.FileServingBandwidthMbps)
	cfg.FilesRoot = getString("FILES_ROOT", cfg.FilesRoot)

	if cfg.ServerURL == "" {
		cfg.ServerURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemons cannot run with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxInstallAttempts < 1 {
		return fmt.Errorf("max_install_attempts must be at least 1")
	}
	if c.StaleThresholdMinutes <= 0 || c.OfflineThresholdMinutes <= c.StaleThresholdMinutes {
		return fmt.Errorf("offline threshold (%dm) must exceed stale threshold (%dm)",
			c.OfflineThresholdMinutes, c.StaleThresholdMinutes)
	}
	if sum := c.ScoreStalenessWeight + c.ScoreInstallWeight + c.ScoreBootWeight; sum != 100 {
		return fmt.Errorf("score weights must sum to 100, got %.1f", sum)
	}
	switch c.OfflineDefaultAction {
	case "local", "discovery", "last_known":
	default:
		return fmt.Errorf("invalid offline_default_action %q", c.OfflineDefaultAction)
	}
	switch c.CachePolicy {
	case "minimal", "assigned", "mirror", "pattern":
	default:
		return fmt.Errorf("invalid cache_policy %q", c.CachePolicy)
	}
	switch c.ConflictStrategy {
	case "central_wins", "last_write", "site_wins", "manual":
	default:
		return fmt.Errorf("invalid conflict_strategy %q", c.ConflictStrategy)
	}
	return nil
}

// StaleThreshold returns the stale cutoff as a duration.
func (c *Config) StaleThreshold() time.Duration {
	return time.Duration(c.StaleThresholdMinutes) * time.Minute
}

// OfflineThreshold returns the offline cutoff as a duration.
func (c *Config) OfflineThreshold() time.Duration {
	return time.Duration(c.OfflineThresholdMinutes) * time.Minute
}

// InstallTimeout returns the install timeout; zero disables timeout handling.
func (c *Config) InstallTimeout() time.Duration {
	return time.Duration(c.InstallTimeoutMinutes) * time.Minute
}

func getString(key, def string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", envPrefix+key).Str("value", v).Msg("Ignoring non-integer setting")
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("key", envPrefix+key).Str("value", v).Msg("Ignoring non-numeric setting")
		return def
	}
	return f
}

func getBool(key string, def bool) bool {
	v := strings.ToLower(os.Getenv(envPrefix + key))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def
	}
	// Accept bare seconds for compatibility with older deployments.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", envPrefix+key).Str("value", v).Msg("Ignoring unparseable duration")
		return def
	}
	return d
}
