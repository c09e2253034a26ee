// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
)

// Config holds the application configuration.
type Config struct {
	App       AppConfig
	Logger    LoggerConfig
	Data      DataConfig
	Server    ServerConfig
	Auth      AuthConfig
	Votes     VotesConfig
	RateLimit RateLimitConfig
	Metrics   MetricsConfig
	Cache     CacheConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// DataConfig holds on-disk storage locations. Everything lives under BasePath.
type DataConfig struct {
	BasePath        string
	DatabasePath    string // {base}/tagvote.db
	SearchIndexPath string // {base}/search
	IdempotencyPath string // {base}/idempotency
	KeyPath         string // {base}/auth.key
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Name           string
	Port           string        // Server port (default: 8080)
	ReadTimeout    time.Duration // HTTP read timeout (default: 15s)
	WriteTimeout   time.Duration // HTTP write timeout (default: 15s)
	IdleTimeout    time.Duration // HTTP idle timeout (default: 60s)
	AllowedOrigins []string      // CORS origins (default: *)
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// PASETO v4 symmetric key for access tokens (32 bytes)
	AccessTokenKey []byte
	// AccessTokenDuration is the lifetime of tokens minted by the seed command.
	AccessTokenDuration time.Duration
}

// VotesConfig holds the vote aggregation policy.
type VotesConfig struct {
	Thresholds domain.Thresholds
	// ImplicitAssociations lets ordinary users create an association by voting on it.
	// Moderators can always do this.
	ImplicitAssociations bool
	// PolicyFile is an optional YAML file that overrides the fields above and is watched for changes.
	PolicyFile string
}

// RateLimitConfig bounds vote writes per user.
type RateLimitConfig struct {
	Enabled        bool
	VotesPerMinute int
	Burst          int
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// CacheConfig holds cache lifetimes.
type CacheConfig struct {
	TrendingTTL    time.Duration
	IdempotencyTTL time.Duration
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	return load(flag.CommandLine, os.Args[1:])
}

func load(fs *flag.FlagSet, args []string) (*Config, error) {
	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	dataPath := fs.String("data-path", "", "Base path for database, search index, and keys")
	serverName := fs.String("server-name", "", "Name for the server")

	// Server flags
	serverPort := fs.String("port", "", "Server port (default: 8080)")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := fs.String("write-timeout", "", "HTTP write timeout (default: 15s)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")
	allowedOrigins := fs.String("allowed-origins", "", "Comma-separated CORS origins (default: *)")

	// Auth flags
	accessTokenDuration := fs.String("access-token-duration", "", "Access token lifetime (e.g., 720h)")

	// Vote policy flags
	autoDisable := fs.String("auto-disable-threshold", "", "Score at or below which an association is disabled (default: -5)")
	autoApprove := fs.String("auto-approve-threshold", "", "Score at or above which review is cleared (default: 5)")
	implicitAssociations := fs.String("implicit-associations", "", "Allow users to create associations by voting (default: false)")
	policyFile := fs.String("policy-file", "", "YAML vote policy file, reloaded on change")

	// Rate limit flags
	rateLimitEnabled := fs.String("rate-limit-enabled", "", "Limit vote writes per user (default: true)")
	votesPerMinute := fs.String("votes-per-minute", "", "Sustained vote writes per user per minute (default: 60)")
	voteBurst := fs.String("vote-burst", "", "Vote write burst per user (default: 20)")

	// Metrics and cache flags
	metricsEnabled := fs.String("metrics-enabled", "", "Expose Prometheus metrics (default: true)")
	trendingTTL := fs.String("trending-ttl", "", "Trending tags cache lifetime (default: 1m)")
	idempotencyTTL := fs.String("idempotency-ttl", "", "Moderation idempotency key lifetime (default: 24h)")

	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Data: DataConfig{
			BasePath: getConfigValue(*dataPath, "DATA_PATH", ""),
		},
		Server: ServerConfig{
			Name:           getConfigValue(*serverName, "SERVER_NAME", "TagVote Server"),
			Port:           getConfigValue(*serverPort, "SERVER_PORT", "8080"),
			AllowedOrigins: splitList(getConfigValue(*allowedOrigins, "ALLOWED_ORIGINS", "*")),
		},
		Votes: VotesConfig{
			Thresholds: domain.Thresholds{
				AutoDisable: getIntConfigValue(*autoDisable, "AUTO_DISABLE_THRESHOLD", domain.DefaultThresholds().AutoDisable),
				AutoApprove: getIntConfigValue(*autoApprove, "AUTO_APPROVE_THRESHOLD", domain.DefaultThresholds().AutoApprove),
			},
			ImplicitAssociations: getBoolConfigValue(*implicitAssociations, "IMPLICIT_ASSOCIATIONS", false),
			PolicyFile:           getConfigValue(*policyFile, "POLICY_FILE", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getBoolConfigValue(*rateLimitEnabled, "RATE_LIMIT_ENABLED", true),
			VotesPerMinute: getIntConfigValue(*votesPerMinute, "VOTES_PER_MINUTE", 60),
			Burst:          getIntConfigValue(*voteBurst, "VOTE_BURST", 20),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolConfigValue(*metricsEnabled, "METRICS_ENABLED", true),
			Path:    "/metrics",
		},
	}

	durations := []struct {
		flagValue string
		envKey    string
		def       string
		target    *time.Duration
	}{
		{*accessTokenDuration, "ACCESS_TOKEN_DURATION", "720h", &cfg.Auth.AccessTokenDuration},
		{*readTimeout, "SERVER_READ_TIMEOUT", "15s", &cfg.Server.ReadTimeout},
		{*writeTimeout, "SERVER_WRITE_TIMEOUT", "15s", &cfg.Server.WriteTimeout},
		{*idleTimeout, "SERVER_IDLE_TIMEOUT", "60s", &cfg.Server.IdleTimeout},
		{*trendingTTL, "TRENDING_TTL", "1m", &cfg.Cache.TrendingTTL},
		{*idempotencyTTL, "IDEMPOTENCY_TTL", "24h", &cfg.Cache.IdempotencyTTL},
	}
	for _, d := range durations {
		parsed, err := getDurationConfigValue(d.flagValue, d.envKey, d.def)
		if err != nil {
			return nil, err
		}
		*d.target = parsed
	}

	if cfg.Votes.PolicyFile != "" {
		expanded, err := expandPath(cfg.Votes.PolicyFile, "")
		if err != nil {
			return nil, fmt.Errorf("invalid policy file path: %w", err)
		}
		cfg.Votes.PolicyFile = expanded
	}

	if err := cfg.expandDataPaths(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Data.BasePath == "" {
		return errors.New("data base path cannot be empty after expansion")
	}

	if err := c.Votes.Thresholds.Validate(); err != nil {
		return err
	}

	if c.RateLimit.Enabled && (c.RateLimit.VotesPerMinute <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive votes per minute and burst, got %d/%d",
			c.RateLimit.VotesPerMinute, c.RateLimit.Burst)
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandDataPaths resolves the base path (default ~/TagVote/data) and derives the file locations under it.
func (c *Config) expandDataPaths() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, "TagVote", "data")

	expanded, err := expandPath(c.Data.BasePath, defaultPath)
	if err != nil {
		return err
	}
	c.Data.BasePath = expanded
	c.Data.DatabasePath = filepath.Join(expanded, "tagvote.db")
	c.Data.SearchIndexPath = filepath.Join(expanded, "search")
	c.Data.IdempotencyPath = filepath.Join(expanded, "idempotency")
	c.Data.KeyPath = filepath.Join(expanded, "auth.key")
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	// Priority 1: Command-line flag.
	if flagValue != "" {
		return flagValue
	}

	// Priority 2: Environment variable.
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	// Priority 3: Default value.
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// getDurationConfigValue parses a duration from flag, env var, or default.
func getDurationConfigValue(flagValue, envKey, defaultValue string) (time.Duration, error) {
	strValue := getConfigValue(flagValue, envKey, defaultValue)
	d, err := time.ParseDuration(strValue)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", strings.ToLower(envKey), strValue, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Only set if not already set (env vars take precedence over .env file).
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
