// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"time"

	"github.com/dalemusser/institutehub/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// devJWTSecret is the default signing key. It is refused in production.
const devJWTSecret = "dev-only-change-me-please-0123456789ABCDEF"

// minProdSecretLen is the shortest JWT secret accepted in production.
const minProdSecretLen = 32

// appConfigKeys defines the configuration keys for InstituteHub.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, jwt_secret, etc.
//   - Environment variables: INSTITUTEHUB_MONGO_URI, INSTITUTEHUB_JWT_SECRET, etc.
//   - Command-line flags: --mongo_uri, --jwt_secret, etc.
var appConfigKeys = []config.AppKey{
	{Name: "store_type", Default: "mongo", Desc: "Store backend: 'mongo' or 'memory'"},
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "institute_hub", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	// Tokens
	{Name: "jwt_secret", Default: devJWTSecret, Desc: "JWT signing key (must be strong in production)"},
	{Name: "jwt_issuer", Default: "institutehub", Desc: "JWT issuer claim"},
	{Name: "token_ttl", Default: "24h", Desc: "Lifetime of issued tokens (e.g., 24h, 90m)"},
	{Name: "watermark_secret", Default: "", Desc: "Watermark fingerprint key (blank uses jwt_secret)"},

	// Blob storage
	{Name: "blob_type", Default: "memory", Desc: "Blob backend: 'memory' or 'minio'"},
	{Name: "minio_endpoint", Default: "localhost:9000", Desc: "MinIO/S3 endpoint host:port"},
	{Name: "minio_access_key", Default: "", Desc: "MinIO/S3 access key"},
	{Name: "minio_secret_key", Default: "", Desc: "MinIO/S3 secret key"},
	{Name: "minio_bucket", Default: "institutehub-documents", Desc: "Bucket holding uploaded documents"},
	{Name: "minio_region", Default: "", Desc: "Bucket region"},
	{Name: "minio_use_ssl", Default: false, Desc: "Use TLS to reach MinIO/S3"},

	// Redis
	{Name: "redis_addr", Default: "", Desc: "Redis host:port for shared rate limits (blank = in-process)"},
	{Name: "redis_password", Default: "", Desc: "Redis password"},
	{Name: "redis_db", Default: 0, Desc: "Redis database number"},

	// AMQP
	{Name: "amqp_uri", Default: "", Desc: "AMQP URI for audit event export (blank = disabled)"},
	{Name: "amqp_exchange", Default: "institutehub.audit", Desc: "Topic exchange for audit events"},

	// Uploads and grants
	{Name: "upload_max_bytes", Default: 25 << 20, Desc: "Largest accepted upload in bytes"},
	{Name: "grant_sweep_interval", Default: "1h", Desc: "How often expired grants are pruned (0 disables)"},
	{Name: "grant_retention", Default: "720h", Desc: "How long expired grants are kept before pruning"},

	// Rate limits
	{Name: "login_rate_limit", Default: 10, Desc: "Login attempts per window, per IP and per email"},
	{Name: "login_rate_window", Default: "15m", Desc: "Login rate limit window"},
	{Name: "api_rate_limit", Default: 60, Desc: "Signup and join requests per window per IP"},
	{Name: "api_rate_window", Default: "1m", Desc: "Signup and join rate limit window"},

	// Handler timeouts
	{Name: "timeout_ping", Default: "2s", Desc: "Health check timeout"},
	{Name: "timeout_short", Default: "5s", Desc: "Single-record read timeout"},
	{Name: "timeout_medium", Default: "10s", Desc: "List and simple write timeout"},
	{Name: "timeout_long", Default: "30s", Desc: "Transactional write and upload timeout"},

	// Audit logging settings
	{Name: "audit_log_auth", Default: "all", Desc: "Auth event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_membership", Default: "all", Desc: "Membership event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_distribution", Default: "all", Desc: "Distribution event logging: 'all' (db+log), 'db', 'log', or 'off'"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, INSTITUTEHUB_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "INSTITUTEHUB", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		StoreType:        appValues.String("store_type"),
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		JWTSecret:       appValues.String("jwt_secret"),
		JWTIssuer:       appValues.String("jwt_issuer"),
		TokenTTL:        appValues.Duration("token_ttl", 24*time.Hour),
		WatermarkSecret: appValues.String("watermark_secret"),

		BlobType:       appValues.String("blob_type"),
		MinioEndpoint:  appValues.String("minio_endpoint"),
		MinioAccessKey: appValues.String("minio_access_key"),
		MinioSecretKey: appValues.String("minio_secret_key"),
		MinioBucket:    appValues.String("minio_bucket"),
		MinioRegion:    appValues.String("minio_region"),
		MinioUseSSL:    appValues.Bool("minio_use_ssl"),

		RedisAddr:     appValues.String("redis_addr"),
		RedisPassword: appValues.String("redis_password"),
		RedisDB:       appValues.Int("redis_db"),

		AMQPURI:      appValues.String("amqp_uri"),
		AMQPExchange: appValues.String("amqp_exchange"),

		UploadMaxBytes:     int64(appValues.Int("upload_max_bytes")),
		GrantSweepInterval: appValues.Duration("grant_sweep_interval", time.Hour),
		GrantRetention:     appValues.Duration("grant_retention", 30*24*time.Hour),

		LoginRateLimit:  appValues.Int("login_rate_limit"),
		LoginRateWindow: appValues.Duration("login_rate_window", 15*time.Minute),
		APIRateLimit:    appValues.Int("api_rate_limit"),
		APIRateWindow:   appValues.Duration("api_rate_window", time.Minute),

		Timeouts: timeouts.Config{
			Ping:   appValues.Duration("timeout_ping", timeouts.DefaultPing),
			Short:  appValues.Duration("timeout_short", timeouts.DefaultShort),
			Medium: appValues.Duration("timeout_medium", timeouts.DefaultMedium),
			Long:   appValues.Duration("timeout_long", timeouts.DefaultLong),
		},

		AuditLogAuth:         appValues.String("audit_log_auth"),
		AuditLogMembership:   appValues.String("audit_log_membership"),
		AuditLogDistribution: appValues.String("audit_log_distribution"),
	}

	if appCfg.WatermarkSecret == "" {
		appCfg.WatermarkSecret = appCfg.JWTSecret
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
// Backend choices, the MongoDB URI and production secrets are checked
// here, before any connection is attempted.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	switch appCfg.StoreType {
	case "mongo":
		if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
			logger.Error("invalid MongoDB URI", zap.Error(err))
			return fmt.Errorf("invalid MongoDB URI: %w", err)
		}
		if appCfg.MongoDatabase == "" {
			return fmt.Errorf("mongo_database is required when store_type is mongo")
		}
	case "memory":
		if coreCfg.Env == "prod" {
			return fmt.Errorf("store_type memory is not allowed in production")
		}
	default:
		return fmt.Errorf("store_type must be 'mongo' or 'memory', got %q", appCfg.StoreType)
	}

	switch appCfg.BlobType {
	case "memory":
	case "minio":
		if appCfg.MinioEndpoint == "" || appCfg.MinioBucket == "" {
			return fmt.Errorf("blob_type minio requires minio_endpoint and minio_bucket")
		}
	default:
		return fmt.Errorf("blob_type must be 'memory' or 'minio', got %q", appCfg.BlobType)
	}

	if appCfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if coreCfg.Env == "prod" {
		if appCfg.JWTSecret == devJWTSecret {
			return fmt.Errorf("jwt_secret must be changed from the development default in production")
		}
		if len(appCfg.JWTSecret) < minProdSecretLen {
			return fmt.Errorf("jwt_secret must be at least %d bytes in production", minProdSecretLen)
		}
	}
	if appCfg.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be positive")
	}
	if appCfg.UploadMaxBytes <= 0 {
		return fmt.Errorf("upload_max_bytes must be positive")
	}
	if appCfg.GrantSweepInterval < 0 || appCfg.GrantRetention < 0 {
		return fmt.Errorf("grant_sweep_interval and grant_retention must not be negative")
	}
	if appCfg.LoginRateLimit <= 0 || appCfg.APIRateLimit <= 0 {
		return fmt.Errorf("login_rate_limit and api_rate_limit must be positive")
	}
	if appCfg.Timeouts.Ping < 0 || appCfg.Timeouts.Short < 0 || appCfg.Timeouts.Medium < 0 || appCfg.Timeouts.Long < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	for name, v := range map[string]string{
		"audit_log_auth":         appCfg.AuditLogAuth,
		"audit_log_membership":   appCfg.AuditLogMembership,
		"audit_log_distribution": appCfg.AuditLogDistribution,
	} {
		switch v {
		case "all", "db", "log", "off":
		default:
			return fmt.Errorf("%s must be one of all, db, log, off; got %q", name, v)
		}
	}

	return nil
}
