package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every configuration option for the pipeline service. It
// supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithPort(8080),
//	    WithCORSDefaults(),
//	)
type Config struct {
	Port int `json:"port" env:"PORT" default:"8080"`

	HTTP     HTTPConfig     `json:"http"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Services ServicesConfig `json:"services"`
	Cache    CacheSettings  `json:"cache"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
	Development DevelopmentConfig `json:"development"`
	Jobs     JobSettings    `json:"jobs"`

	logger Logger `json:"-"`
}

// HTTPConfig contains HTTP server configuration including timeouts and CORS.
type HTTPConfig struct {
	ReadTimeout     time.Duration `json:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" default:"10s"`
	CORS            CORSConfig    `json:"cors"`
}

// CORSConfig contains Cross-Origin Resource Sharing configuration.
type CORSConfig struct {
	Enabled          bool     `json:"enabled"`
	AllowedOrigins   []string `json:"allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	AllowedMethods   []string `json:"allowed_methods" default:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders   []string `json:"allowed_headers" default:"Content-Type,Authorization"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age" default:"86400"`
}

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	URL             string        `json:"-" env:"DATABASE_URL"`
	MaxOpenConns    int           `json:"max_open_conns" default:"20"`
	MaxIdleConns    int           `json:"max_idle_conns" default:"5"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" default:"30m"`
}

// RedisConfig configures the broker/cache/worker-registry Redis client.
type RedisConfig struct {
	URL           string `json:"-" env:"REDIS_URL"`
	UseForQueue   bool   `json:"use_for_queue" env:"USE_REDIS_QUEUE" default:"true"`
	KeyPrefix     string `json:"key_prefix" env:"CACHE_KEY_PREFIX" default:"medlingua"`
}

// ServicesConfig configures every external microservice this platform
// calls: OCR, PII, and the guideline RAG service.
type ServicesConfig struct {
	OCRServiceURL      string `json:"ocr_service_url" env:"OCR_SERVICE_URL"`
	PIIServiceURL      string `json:"pii_service_url" env:"PII_SERVICE_URL"`
	PIIAPIKey          string `json:"-" env:"EXTERNAL_PII_API_KEY"`
	UseExternalPII     bool   `json:"use_external_pii" env:"USE_EXTERNAL_PII" default:"true"`
	DifyRAGURL         string `json:"dify_rag_url" env:"DIFY_RAG_URL"`
	DifyRAGAPIKey      string `json:"-" env:"DIFY_RAG_API_KEY"`
	UseDifyRAG         bool   `json:"use_dify_rag" env:"USE_DIFY_RAG" default:"false"`
}

// CacheSettings configures the namespace-scoped advisory cache.
type CacheSettings struct {
	Enabled        bool          `json:"enabled" env:"CACHE_ENABLED" default:"true"`
	DefaultTTL     time.Duration `json:"default_ttl" env:"CACHE_DEFAULT_TTL_SECONDS" default:"5m"`
}

// SecurityConfig configures transparent field encryption.
type SecurityConfig struct {
	EncryptionEnabled bool   `json:"encryption_enabled" env:"ENCRYPTION_ENABLED" default:"true"`
	EncryptionKey     string `json:"-" env:"ENCRYPTION_KEY"`
}

// JobSettings configures job-lifecycle timing.
type JobSettings struct {
	TimeoutMinutes      int `json:"timeout_minutes" env:"JOB_TIMEOUT_MINUTES" default:"18"`
	ContentSweepAfterHours int `json:"content_sweep_after_hours" env:"CONTENT_SWEEP_AFTER_HOURS" default:"48"`
}

// LoggingConfig contains logging configuration. Supports structured (JSON)
// and human-readable (text) formats.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format     string `json:"format" env:"LOG_FORMAT" default:"json"`
	Output     string `json:"output" default:"stdout"`
	TimeFormat string `json:"time_format" default:"2006-01-02T15:04:05.999999999Z07:00"`
}

// DevelopmentConfig contains settings for local development.
//
// WARNING: never enable development mode in production.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" env:"DEV_MODE" default:"false"`
	DebugLogging bool `json:"debug_logging" default:"false"`
	PrettyLogs   bool `json:"pretty_logs" default:"false"`
}

// Option is a functional option for configuring the service.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults, before
// environment variables or functional options are applied.
func DefaultConfig() *Config {
	return &Config{
		Port: 8080,
		HTTP: HTTPConfig{
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORS: CORSConfig{
				Enabled:        false,
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
				MaxAge:         86400,
			},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			UseForQueue: true,
			KeyPrefix:   "medlingua",
		},
		Services: ServicesConfig{
			UseExternalPII: true,
			UseDifyRAG:     false,
		},
		Cache: CacheSettings{
			Enabled:    true,
			DefaultTTL: 5 * time.Minute,
		},
		Security: SecurityConfig{
			EncryptionEnabled: true,
		},
		Jobs: JobSettings{
			TimeoutMinutes:         18,
			ContentSweepAfterHours: 48,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			TimeFormat: time.RFC3339Nano,
		},
		Development: DevelopmentConfig{},
	}
}

// LoadFromEnv overrides default values with whatever is present in the
// process environment.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv(EnvPort); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv(EnvHTTPReadTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HTTP.ReadTimeout = d
		}
	}
	if v := os.Getenv(EnvHTTPWriteTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HTTP.WriteTimeout = d
		}
	}
	if v := os.Getenv(EnvCORSAllowedOrigins); v != "" {
		c.HTTP.CORS.AllowedOrigins = parseStringList(v)
		c.HTTP.CORS.Enabled = true
	}

	c.Database.URL = os.Getenv(EnvDatabaseURL)
	c.Redis.URL = os.Getenv(EnvRedisURL)
	if v := os.Getenv(EnvUseRedisQueue); v != "" {
		c.Redis.UseForQueue = parseBool(v)
	}

	c.Services.OCRServiceURL = os.Getenv(EnvOCRServiceURL)
	c.Services.PIIServiceURL = os.Getenv(EnvPIIServiceURL)
	c.Services.PIIAPIKey = os.Getenv(EnvExternalPIIAPIKey)
	if v := os.Getenv(EnvUseExternalPII); v != "" {
		c.Services.UseExternalPII = parseBool(v)
	}
	c.Services.DifyRAGURL = os.Getenv(EnvDifyRAGURL)
	c.Services.DifyRAGAPIKey = os.Getenv(EnvDifyRAGAPIKey)
	if v := os.Getenv(EnvUseDifyRAG); v != "" {
		c.Services.UseDifyRAG = parseBool(v)
	}

	if v := os.Getenv(EnvCacheEnabled); v != "" {
		c.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv(EnvCacheDefaultTTLSecs); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.DefaultTTL = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv(EnvCacheKeyPrefix); v != "" {
		c.Redis.KeyPrefix = v
	}

	if v := os.Getenv(EnvEncryptionEnabled); v != "" {
		c.Security.EncryptionEnabled = parseBool(v)
	}
	c.Security.EncryptionKey = os.Getenv(EnvEncryptionKey)

	if v := os.Getenv(EnvJobTimeoutMinutes); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Jobs.TimeoutMinutes = n
		}
	}
	if v := os.Getenv(EnvContentSweepAfterHours); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Jobs.ContentSweepAfterHours = n
		}
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv(EnvDevMode); v != "" {
		c.Development.Enabled = parseBool(v)
		if c.Development.Enabled {
			c.Logging.Format = "text"
			c.Development.PrettyLogs = true
		}
	}

	return nil
}

// Validate checks the configuration for values that would make the
// service unable to start correctly.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Security.EncryptionEnabled && c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required when encryption is enabled")
	}
	return nil
}

func parseStringList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(s string) bool {
	v, _ := strconv.ParseBool(s)
	return v
}

// WithPort overrides the HTTP listen port.
func WithPort(port int) Option {
	return func(c *Config) error {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid port: %d", port)
		}
		c.Port = port
		return nil
	}
}

// WithCORS sets explicit allowed origins and credential policy.
func WithCORS(origins []string, credentials bool) Option {
	return func(c *Config) error {
		c.HTTP.CORS.Enabled = true
		c.HTTP.CORS.AllowedOrigins = origins
		c.HTTP.CORS.AllowCredentials = credentials
		return nil
	}
}

// WithCORSDefaults enables CORS with the default permissive-but-sane settings.
func WithCORSDefaults() Option {
	return func(c *Config) error {
		c.HTTP.CORS.Enabled = true
		return nil
	}
}

// WithDatabaseURL overrides the Postgres connection string.
func WithDatabaseURL(url string) Option {
	return func(c *Config) error {
		c.Database.URL = url
		return nil
	}
}

// WithRedisURL overrides the Redis connection string.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.Redis.URL = url
		return nil
	}
}

// WithLogLevel overrides the logging level.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat overrides the logging format ("json" or "text").
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = format
		return nil
	}
}

// WithDevelopmentMode toggles development-friendly defaults.
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.Enabled = enabled
		if enabled {
			c.Logging.Format = "text"
			c.Development.PrettyLogs = true
			c.Development.DebugLogging = true
		}
		return nil
	}
}

// WithLogger injects a pre-built logger instead of constructing a
// ProductionLogger from the Logging/Development config.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// Logger returns the configured logger, constructing the default
// ProductionLogger on first access if none was injected.
func (c *Config) Logger() Logger {
	if c.logger == nil {
		c.logger = NewProductionLogger(c.Logging, c.Development, "medlingua-pipeline")
	}
	return c.logger
}

// NewConfig builds a Config using the three-layer precedence: defaults,
// then environment variables, then functional options.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		logger := NewProductionLogger(cfg.Logging, cfg.Development, "medlingua-pipeline")
		if prodLogger, ok := logger.(*ProductionLogger); ok {
			trackLogger(prodLogger)
		}
		cfg.logger = logger
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ============================================================================
// ProductionLogger Implementation - Layered Observability Architecture
// ============================================================================

// ProductionLogger provides layered observability for service operations:
// human-readable text locally, structured JSON in production, with an
// optional metrics layer enabled only when a MetricsRegistry is wired in.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	format      string
	output      io.Writer

	metricsEnabled bool
}

// NewProductionLogger creates a logger from LoggingConfig.
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) Logger {
	var output io.Writer = os.Stdout
	if logging.Output == "stderr" {
		output = os.Stderr
	}

	return &ProductionLogger{
		level:          strings.ToLower(logging.Level),
		debug:          dev.DebugLogging || logging.Level == "debug",
		serviceName:    serviceName,
		format:         logging.Format,
		output:         output,
		metricsEnabled: false,
	}
}

// EnableMetrics is called once a MetricsRegistry has been wired in.
func (p *ProductionLogger) EnableMetrics() {
	p.metricsEnabled = true
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, nil)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, ctx)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, nil)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, ctx)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, nil)
}

func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, ctx)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, nil)
	}
}

func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, ctx)
	}
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}, ctx context.Context) {
	timestamp := time.Now().Format(time.RFC3339)

	if p.format == "json" {
		logEntry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"message":   msg,
		}
		if ctx != nil && p.metricsEnabled {
			if baggage := getContextBaggage(ctx); len(baggage) > 0 {
				for k, v := range baggage {
					logEntry["trace."+k] = v
				}
			}
		}
		for k, v := range fields {
			logEntry[k] = v
		}
		if data, err := json.Marshal(logEntry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
	} else {
		traceInfo := ""
		if ctx != nil && p.metricsEnabled {
			if baggage := getContextBaggage(ctx); baggage["request_id"] != "" {
				traceInfo = fmt.Sprintf("[req=%s] ", baggage["request_id"])
			}
		}

		var fieldStr strings.Builder
		if len(fields) > 0 {
			fieldStr.WriteString(" ")
			for k, v := range fields {
				fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
			}
		}

		fmt.Fprintf(p.output, "%s [%s] [%s] %s%s%s\n",
			timestamp, level, p.serviceName, traceInfo, msg, fieldStr.String())
	}

	if p.metricsEnabled {
		p.emitServiceMetric(level, msg, fields, ctx)
	}
}

func (p *ProductionLogger) emitServiceMetric(level, msg string, fields map[string]interface{}, ctx context.Context) {
	labels := []string{
		"level", level,
		"service", p.serviceName,
	}
	for k, v := range fields {
		switch k {
		case "operation", "status", "error_type", "provider", "engine":
			labels = append(labels, k, fmt.Sprintf("%v", v))
		}
	}
	if ctx != nil {
		emitMetricWithContext(ctx, "pipeline.operations", 1.0, labels...)
	} else {
		emitMetric("pipeline.operations", 1.0, labels...)
	}
}

func emitMetric(name string, value float64, labels ...string) {
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.Counter(name, labels...)
	}
}

func emitMetricWithContext(ctx context.Context, name string, value float64, labels ...string) {
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.EmitWithContext(ctx, name, value, labels...)
	}
}

func getContextBaggage(ctx context.Context) map[string]string {
	if globalMetricsRegistry != nil {
		return globalMetricsRegistry.GetBaggage(ctx)
	}
	return make(map[string]string)
}
