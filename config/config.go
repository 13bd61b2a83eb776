package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	StructureConfig  StructureConfig  `json:"structure"`
	EventConfig      EventConfig      `json:"events"`
	PatternConfig    PatternConfig    `json:"patterns"`
	ValidationConfig ValidationConfig `json:"validation"`
	ConfidenceConfig ConfidenceConfig `json:"confidence"`
	SignalConfig     SignalConfig     `json:"signals"`
	RiskConfig       RiskConfig       `json:"risk"`
	DispatchConfig   DispatchConfig   `json:"dispatch"`
	PipelineConfig   PipelineConfig   `json:"pipeline"`
	LoggingConfig    LoggingConfig    `json:"logging"`
	ServerConfig     ServerConfig     `json:"server"`
	AuthConfig       AuthConfig       `json:"auth"`
	DatabaseConfig   DatabaseConfig   `json:"database"`
	VaultConfig      VaultConfig      `json:"vault"`
	RedisConfig      RedisConfig      `json:"redis"`
}

// StructureConfig holds pivot and trading range tunables
type StructureConfig struct {
	PivotWindow         int     `json:"pivot_window"`          // bars on each side of a pivot
	ClusterTolerancePct float64 `json:"cluster_tolerance_pct"` // pivot clustering tolerance
	MinPivotsPerSide    int     `json:"min_pivots_per_side"`   // pivots required per boundary
	CreekTolerancePct   float64 `json:"creek_tolerance_pct"`   // boundary proximity tolerance
	IceTolerancePct     float64 `json:"ice_tolerance_pct"`     // invalidation tolerance
}

// EventConfig holds phase event detection tunables
type EventConfig struct {
	ClimaxVolumeRatio  float64 `json:"climax_volume_ratio"`
	ClimaxLookback     int     `json:"climax_lookback"`
	ReactionWindowBars int     `json:"reaction_window_bars"`
	TestTolerancePct   float64 `json:"test_tolerance_pct"`
	VolumeAvgPeriod    int     `json:"volume_avg_period"`
}

// PatternConfig holds pattern recognition tunables
type PatternConfig struct {
	StoppingVolumeRatio float64 `json:"stopping_volume_ratio"`
	BreakoutVolumeRatio float64 `json:"breakout_volume_ratio"`
	RecoveryWindowBars  int     `json:"recovery_window_bars"`
}

// ValidationConfig holds per-pattern validation thresholds
type ValidationConfig struct {
	SpringMinVolumeRatio float64 `json:"spring_min_volume_ratio"`
	UTADMinVolumeRatio   float64 `json:"utad_min_volume_ratio"`
	SOSMinVolumeRatio    float64 `json:"sos_min_volume_ratio"`
	LPSMinVolumeRatio    float64 `json:"lps_min_volume_ratio"`
	StoppingSpreadBound  float64 `json:"stopping_spread_bound"`
}

// ConfidenceConfig holds scoring weights and the approval floor
type ConfidenceConfig struct {
	PatternWeight float64 `json:"pattern_weight"`
	PhaseWeight   float64 `json:"phase_weight"`
	VolumeWeight  float64 `json:"volume_weight"`
	MinConfidence float64 `json:"min_confidence"` // floor, checked after penalties
}

// SignalConfig holds signal extraction tunables
type SignalConfig struct {
	StopBufferPct float64 `json:"stop_buffer_pct"`
}

// RiskConfig holds correlation gate tunables
type RiskConfig struct {
	HeatThreshold      float64 `json:"heat_threshold"`     // max tolerated pairwise correlation
	CorrelationWindow  int     `json:"correlation_window"` // returns per series
	RecomputeIntervalS int     `json:"recompute_interval_s"`
}

// DispatchConfig holds delivery queue tunables
type DispatchConfig struct {
	QueueSize int `json:"queue_size"`
}

// PipelineConfig holds engine-level tunables
type PipelineConfig struct {
	BarBufferSize int `json:"bar_buffer_size"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // CORS allowed origins
	ReadTimeout     int    `json:"read_timeout"`    // Seconds
	WriteTimeout    int    `json:"write_timeout"`   // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// AuthConfig holds API authentication configuration
type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
}

// DatabaseConfig holds PostgreSQL configuration. Credentials come from Vault
// when it is enabled; the User/Password fields are the fallback.
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path prefix for credentials
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// RedisConfig holds Redis configuration for campaign snapshots
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Structure config
	cfg.StructureConfig.PivotWindow = getEnvIntOrDefault("STRUCTURE_PIVOT_WINDOW", defaultInt(cfg.StructureConfig.PivotWindow, 5))
	cfg.StructureConfig.ClusterTolerancePct = getEnvFloatOrDefault("STRUCTURE_CLUSTER_TOLERANCE_PCT", defaultFloat(cfg.StructureConfig.ClusterTolerancePct, 0.5))
	cfg.StructureConfig.MinPivotsPerSide = getEnvIntOrDefault("STRUCTURE_MIN_PIVOTS_PER_SIDE", defaultInt(cfg.StructureConfig.MinPivotsPerSide, 2))
	cfg.StructureConfig.CreekTolerancePct = getEnvFloatOrDefault("STRUCTURE_CREEK_TOLERANCE_PCT", defaultFloat(cfg.StructureConfig.CreekTolerancePct, 0.3))
	cfg.StructureConfig.IceTolerancePct = getEnvFloatOrDefault("STRUCTURE_ICE_TOLERANCE_PCT", defaultFloat(cfg.StructureConfig.IceTolerancePct, 1.0))

	// Event config
	cfg.EventConfig.ClimaxVolumeRatio = getEnvFloatOrDefault("EVENTS_CLIMAX_VOLUME_RATIO", defaultFloat(cfg.EventConfig.ClimaxVolumeRatio, 2.5))
	cfg.EventConfig.ClimaxLookback = getEnvIntOrDefault("EVENTS_CLIMAX_LOOKBACK", defaultInt(cfg.EventConfig.ClimaxLookback, 10))
	cfg.EventConfig.ReactionWindowBars = getEnvIntOrDefault("EVENTS_REACTION_WINDOW_BARS", defaultInt(cfg.EventConfig.ReactionWindowBars, 10))
	cfg.EventConfig.TestTolerancePct = getEnvFloatOrDefault("EVENTS_TEST_TOLERANCE_PCT", defaultFloat(cfg.EventConfig.TestTolerancePct, 1.0))
	cfg.EventConfig.VolumeAvgPeriod = getEnvIntOrDefault("EVENTS_VOLUME_AVG_PERIOD", defaultInt(cfg.EventConfig.VolumeAvgPeriod, 20))

	// Pattern config
	cfg.PatternConfig.StoppingVolumeRatio = getEnvFloatOrDefault("PATTERNS_STOPPING_VOLUME_RATIO", defaultFloat(cfg.PatternConfig.StoppingVolumeRatio, 1.8))
	cfg.PatternConfig.BreakoutVolumeRatio = getEnvFloatOrDefault("PATTERNS_BREAKOUT_VOLUME_RATIO", defaultFloat(cfg.PatternConfig.BreakoutVolumeRatio, 2.0))
	cfg.PatternConfig.RecoveryWindowBars = getEnvIntOrDefault("PATTERNS_RECOVERY_WINDOW_BARS", defaultInt(cfg.PatternConfig.RecoveryWindowBars, 5))

	// Validation config
	cfg.ValidationConfig.SpringMinVolumeRatio = getEnvFloatOrDefault("VALIDATION_SPRING_MIN_VOLUME_RATIO", defaultFloat(cfg.ValidationConfig.SpringMinVolumeRatio, 1.8))
	cfg.ValidationConfig.UTADMinVolumeRatio = getEnvFloatOrDefault("VALIDATION_UTAD_MIN_VOLUME_RATIO", defaultFloat(cfg.ValidationConfig.UTADMinVolumeRatio, 1.8))
	cfg.ValidationConfig.SOSMinVolumeRatio = getEnvFloatOrDefault("VALIDATION_SOS_MIN_VOLUME_RATIO", defaultFloat(cfg.ValidationConfig.SOSMinVolumeRatio, 2.0))
	cfg.ValidationConfig.LPSMinVolumeRatio = getEnvFloatOrDefault("VALIDATION_LPS_MIN_VOLUME_RATIO", defaultFloat(cfg.ValidationConfig.LPSMinVolumeRatio, 0.3))
	cfg.ValidationConfig.StoppingSpreadBound = getEnvFloatOrDefault("VALIDATION_STOPPING_SPREAD_BOUND", defaultFloat(cfg.ValidationConfig.StoppingSpreadBound, 1.0))

	// Confidence config
	cfg.ConfidenceConfig.PatternWeight = getEnvFloatOrDefault("CONFIDENCE_PATTERN_WEIGHT", defaultFloat(cfg.ConfidenceConfig.PatternWeight, 0.4))
	cfg.ConfidenceConfig.PhaseWeight = getEnvFloatOrDefault("CONFIDENCE_PHASE_WEIGHT", defaultFloat(cfg.ConfidenceConfig.PhaseWeight, 0.3))
	cfg.ConfidenceConfig.VolumeWeight = getEnvFloatOrDefault("CONFIDENCE_VOLUME_WEIGHT", defaultFloat(cfg.ConfidenceConfig.VolumeWeight, 0.3))
	cfg.ConfidenceConfig.MinConfidence = getEnvFloatOrDefault("CONFIDENCE_MIN", defaultFloat(cfg.ConfidenceConfig.MinConfidence, 0.70))

	// Signal config
	cfg.SignalConfig.StopBufferPct = getEnvFloatOrDefault("SIGNALS_STOP_BUFFER_PCT", defaultFloat(cfg.SignalConfig.StopBufferPct, 0.2))

	// Risk config
	cfg.RiskConfig.HeatThreshold = getEnvFloatOrDefault("RISK_HEAT_THRESHOLD", defaultFloat(cfg.RiskConfig.HeatThreshold, 0.6))
	cfg.RiskConfig.CorrelationWindow = getEnvIntOrDefault("RISK_CORRELATION_WINDOW", defaultInt(cfg.RiskConfig.CorrelationWindow, 50))
	cfg.RiskConfig.RecomputeIntervalS = getEnvIntOrDefault("RISK_RECOMPUTE_INTERVAL_S", defaultInt(cfg.RiskConfig.RecomputeIntervalS, 60))

	// Dispatch config
	cfg.DispatchConfig.QueueSize = getEnvIntOrDefault("DISPATCH_QUEUE_SIZE", defaultInt(cfg.DispatchConfig.QueueSize, 256))

	// Pipeline config
	cfg.PipelineConfig.BarBufferSize = getEnvIntOrDefault("PIPELINE_BAR_BUFFER_SIZE", defaultInt(cfg.PipelineConfig.BarBufferSize, 64))

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8080)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*")
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", 30)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", 30)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10)

	// Auth config - ALWAYS apply from environment
	cfg.AuthConfig.Enabled = getEnvOrDefault("AUTH_ENABLED", "false") == "true"
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", 15*time.Minute)

	// Database config
	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DATABASE_ENABLED", boolDefault(cfg.DatabaseConfig.Enabled)) == "true"
	cfg.DatabaseConfig.Host = getEnvOrDefault("DATABASE_HOST", defaultString(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DATABASE_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DATABASE_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DATABASE_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DATABASE_NAME", defaultString(cfg.DatabaseConfig.Database, "wyckoff"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DATABASE_SSL_MODE", defaultString(cfg.DatabaseConfig.SSLMode, "disable"))

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", "http://localhost:8200")
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", "secret")
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", "wyckoff-engine/credentials")
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolDefault(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.RedisConfig.PoolSize, 10))
}

// Validate rejects a config the pipeline cannot start with. A config error
// is fatal at startup, never deferred to runtime.
func (c *Config) Validate() error {
	if c.StructureConfig.PivotWindow < 1 {
		return fmt.Errorf("structure.pivot_window must be at least 1, got %d", c.StructureConfig.PivotWindow)
	}
	if c.StructureConfig.MinPivotsPerSide < 2 {
		return fmt.Errorf("structure.min_pivots_per_side must be at least 2, got %d", c.StructureConfig.MinPivotsPerSide)
	}
	if c.StructureConfig.CreekTolerancePct <= 0 || c.StructureConfig.IceTolerancePct <= 0 {
		return fmt.Errorf("structure tolerances must be positive")
	}
	if c.StructureConfig.IceTolerancePct < c.StructureConfig.CreekTolerancePct {
		return fmt.Errorf("structure.ice_tolerance_pct (%.2f) must not be tighter than creek_tolerance_pct (%.2f)",
			c.StructureConfig.IceTolerancePct, c.StructureConfig.CreekTolerancePct)
	}
	if c.ConfidenceConfig.MinConfidence <= 0 || c.ConfidenceConfig.MinConfidence > 1 {
		return fmt.Errorf("confidence.min_confidence must be in (0, 1], got %.4f", c.ConfidenceConfig.MinConfidence)
	}
	sum := c.ConfidenceConfig.PatternWeight + c.ConfidenceConfig.PhaseWeight + c.ConfidenceConfig.VolumeWeight
	if sum < 0.999999 || sum > 1.000001 {
		return fmt.Errorf("confidence weights must sum to 1, got %.6f", sum)
	}
	if c.RiskConfig.HeatThreshold < 0 || c.RiskConfig.HeatThreshold > 1 {
		return fmt.Errorf("risk.heat_threshold must be in [0, 1], got %.4f", c.RiskConfig.HeatThreshold)
	}
	if c.RiskConfig.CorrelationWindow < 2 {
		return fmt.Errorf("risk.correlation_window must be at least 2, got %d", c.RiskConfig.CorrelationWindow)
	}
	if c.DispatchConfig.QueueSize < 1 {
		return fmt.Errorf("dispatch.queue_size must be at least 1, got %d", c.DispatchConfig.QueueSize)
	}
	if c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}
	if c.DatabaseConfig.Enabled && !c.VaultConfig.Enabled && c.DatabaseConfig.User == "" {
		return fmt.Errorf("database.user is required when database is enabled and vault is not")
	}
	return nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func defaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func defaultFloat(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func boolDefault(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
