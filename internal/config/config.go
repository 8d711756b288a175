// Package config loads and validates the evaluation-coordination engine's
// run configuration, the same three-layer shape the teacher uses: a typed
// struct with defaults, environment overrides, and an aggregating
// Validate().
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds all configuration for an nlpdrive run.
type Config struct {
	Storage  StorageConfig  `json:"storage"`
	Penalty  PenaltyConfig  `json:"penalty"`
	Logging  LoggingConfig  `json:"logging"`
	Database DatabaseConfig `json:"database"`
	Server   ServerConfig   `json:"server"`
}

// StorageConfig controls the working-directory lifecycle the driver rotates
// through on every design change.
type StorageConfig struct {
	WorkDir      string `json:"work_dir"`       // the volatile __WORKDIR__-equivalent root
	DirPrefix    string `json:"dir_prefix"`      // e.g. "DSN_"
	KeepDesigns  bool   `json:"keep_designs"`    // rename-and-keep vs. discard on rotation
	FailureMode  string `json:"failure_mode"`    // "HARD" or "SOFT"
	MaxRunTries  int    `json:"max_run_tries"`   // ExternalRun retry budget
	UserPreFun   string `json:"user_pre_fun"`    // optional shell hook before value evaluation
	UserPreGrad  string `json:"user_pre_grad"`   // optional shell hook before gradient evaluation
}

// PenaltyConfig seeds ExteriorPenaltyDriver's continuation-parameter law.
type PenaltyConfig struct {
	RIni       float64 `json:"r_ini"`
	RMax       float64 `json:"r_max"`
	FactorUp   float64 `json:"factor_up"`
	FactorDown float64 `json:"factor_down"`
	Freq       int     `json:"freq"` // outer-iteration cadence: Update runs every Freq grad calls
}

// LoggingConfig controls the run's log/history sinks and structured logger.
type LoggingConfig struct {
	LogFile     string `json:"log_file"`
	HistoryFile string `json:"history_file"`
	Verbose     bool   `json:"verbose"`
	TraceOutput bool   `json:"trace_output"`
}

// DatabaseConfig holds the optional Postgres historian mirror connection.
type DatabaseConfig struct {
	PostgresURL string `json:"postgres_url"`
	Timezone    string `json:"timezone"`
}

// ServerConfig holds the optional `nlpdrive serve` status/metrics endpoint.
type ServerConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	MetricsPath string `json:"metrics_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	workDir := filepath.Join(homeDir, ".nlpdrive", "work")

	return &Config{
		Storage: StorageConfig{
			WorkDir:     workDir,
			DirPrefix:   "DSN_",
			KeepDesigns: true,
			FailureMode: "HARD",
			MaxRunTries: 3,
		},
		Penalty: PenaltyConfig{
			RIni:       8,
			RMax:       1024,
			FactorUp:   4,
			FactorDown: 0.5,
			Freq:       1,
		},
		Logging: LoggingConfig{
			LogFile:     filepath.Join(homeDir, ".nlpdrive", "run.log"),
			HistoryFile: filepath.Join(homeDir, ".nlpdrive", "run.his"),
			Verbose:     false,
			TraceOutput: false,
		},
		Database: DatabaseConfig{
			PostgresURL: "",
			Timezone:    "UTC",
		},
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        9090,
			MetricsPath: "/metrics",
		},
	}
}

// envString loads a string environment variable into the target pointer if set.
func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// envInt loads an integer environment variable into the target pointer if set and valid.
func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

// envFloat loads a float64 environment variable into the target pointer if set and valid.
func envFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

// envBool loads a boolean environment variable into the target pointer if set and valid.
func envBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// Load loads configuration from a JSON config file plus NLPDRIVE_* environment
// overrides, then validates the result.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPath()
	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to parse config file %s: %v\n", configPath, err)
		}
	}

	envString("NLPDRIVE_WORK_DIR", &cfg.Storage.WorkDir)
	envString("NLPDRIVE_DIR_PREFIX", &cfg.Storage.DirPrefix)
	envBool("NLPDRIVE_KEEP_DESIGNS", &cfg.Storage.KeepDesigns)
	envString("NLPDRIVE_FAILURE_MODE", &cfg.Storage.FailureMode)
	envInt("NLPDRIVE_MAX_RUN_TRIES", &cfg.Storage.MaxRunTries)
	envString("NLPDRIVE_USER_PRE_FUN", &cfg.Storage.UserPreFun)
	envString("NLPDRIVE_USER_PRE_GRAD", &cfg.Storage.UserPreGrad)

	envFloat("NLPDRIVE_PENALTY_R_INI", &cfg.Penalty.RIni)
	envFloat("NLPDRIVE_PENALTY_R_MAX", &cfg.Penalty.RMax)
	envFloat("NLPDRIVE_PENALTY_FACTOR_UP", &cfg.Penalty.FactorUp)
	envFloat("NLPDRIVE_PENALTY_FACTOR_DOWN", &cfg.Penalty.FactorDown)
	envInt("NLPDRIVE_PENALTY_FREQ", &cfg.Penalty.Freq)

	envString("NLPDRIVE_LOG_FILE", &cfg.Logging.LogFile)
	envString("NLPDRIVE_HISTORY_FILE", &cfg.Logging.HistoryFile)
	envBool("NLPDRIVE_VERBOSE", &cfg.Logging.Verbose)
	envBool("NLPDRIVE_TRACE_OUTPUT", &cfg.Logging.TraceOutput)

	envString("NLPDRIVE_POSTGRES_URL", &cfg.Database.PostgresURL)
	envString("NLPDRIVE_TIMEZONE", &cfg.Database.Timezone)

	envString("NLPDRIVE_SERVER_HOST", &cfg.Server.Host)
	envInt("NLPDRIVE_SERVER_PORT", &cfg.Server.Port)
	envString("NLPDRIVE_METRICS_PATH", &cfg.Server.MetricsPath)

	if err := os.MkdirAll(cfg.Storage.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Logging.LogFile), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsDatabaseConfigured returns true if the optional Postgres mirror is enabled.
func (c *Config) IsDatabaseConfigured() bool {
	return c.Database.PostgresURL != ""
}

// isValidURL validates that a URL has proper format.
func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks that the configuration has valid values, aggregating every
// violation found rather than failing on the first one.
func (c *Config) Validate() error {
	var errs []string

	if c.Storage.WorkDir == "" {
		errs = append(errs, "storage work_dir is required")
	}
	if c.Storage.FailureMode != "HARD" && c.Storage.FailureMode != "SOFT" {
		errs = append(errs, "storage failure_mode must be HARD or SOFT")
	}
	if c.Storage.MaxRunTries < 1 {
		errs = append(errs, "storage max_run_tries must be at least 1")
	}

	if c.Penalty.RIni <= 0 {
		errs = append(errs, "penalty r_ini must be positive")
	}
	if c.Penalty.RMax < c.Penalty.RIni {
		errs = append(errs, "penalty r_max must be at least r_ini")
	}
	if c.Penalty.FactorUp <= 1 {
		errs = append(errs, "penalty factor_up must be greater than 1")
	}
	if c.Penalty.FactorDown <= 0 || c.Penalty.FactorDown >= 1 {
		errs = append(errs, "penalty factor_down must be between 0 and 1")
	}
	if c.Penalty.Freq < 1 {
		errs = append(errs, "penalty freq must be at least 1")
	}

	if c.Database.PostgresURL != "" && !isValidURL(c.Database.PostgresURL) {
		errs = append(errs, "database postgres_url must be a valid URL")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// getConfigPath returns the path to the config file.
func getConfigPath() string {
	if path := os.Getenv("NLPDRIVE_CONFIG"); path != "" {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}

	configDir := filepath.Join(homeDir, ".config", "nlpdrive")
	configPath := filepath.Join(configDir, "config.json")
	if _, err := os.Stat(configPath); err == nil {
		return configPath
	}

	altPath := filepath.Join(homeDir, ".nlpdrive", "config.json")
	if _, err := os.Stat(altPath); err == nil {
		return altPath
	}

	return configPath
}
