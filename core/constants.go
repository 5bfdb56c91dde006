package core

// Environment variable names recognized by Config, grouped by the
// component that consumes them.
const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvRedisURL    = "REDIS_URL"

	EnvEncryptionEnabled = "ENCRYPTION_ENABLED"
	EnvEncryptionKey     = "ENCRYPTION_KEY"

	EnvOCRServiceURL    = "OCR_SERVICE_URL"
	EnvPIIServiceURL    = "PII_SERVICE_URL"
	EnvExternalPIIAPIKey = "EXTERNAL_PII_API_KEY"
	EnvUseExternalPII   = "USE_EXTERNAL_PII"

	EnvDifyRAGURL    = "DIFY_RAG_URL"
	EnvDifyRAGAPIKey = "DIFY_RAG_API_KEY"
	EnvUseDifyRAG    = "USE_DIFY_RAG"

	EnvCacheEnabled          = "CACHE_ENABLED"
	EnvCacheDefaultTTLSecs   = "CACHE_DEFAULT_TTL_SECONDS"
	EnvCacheKeyPrefix        = "CACHE_KEY_PREFIX"

	EnvUseRedisQueue = "USE_REDIS_QUEUE"

	// Common/ambient configuration.
	EnvPort             = "PORT"
	EnvDevMode          = "DEV_MODE"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFormat        = "LOG_FORMAT"
	EnvHTTPReadTimeout  = "HTTP_READ_TIMEOUT"
	EnvHTTPWriteTimeout = "HTTP_WRITE_TIMEOUT"
	EnvCORSAllowedOrigins = "CORS_ALLOWED_ORIGINS"

	EnvJobTimeoutMinutes       = "JOB_TIMEOUT_MINUTES"
	EnvContentSweepAfterHours  = "CONTENT_SWEEP_AFTER_HOURS"
)

// FeatureFlagEnvPrefix names the namespace of boolean feature flags
// surfaced under SystemSetting / env (FEATURE_FLAG_<NAME>).
const FeatureFlagEnvPrefix = "FEATURE_FLAG_"
