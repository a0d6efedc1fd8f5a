// internal/app/bootstrap/appconfig.go
package bootstrap

import (
	"time"

	"github.com/dalemusser/institutehub/internal/app/system/timeouts"
)

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). They represent *app-level*
// configuration, not WAFFLE core configuration.
//
// WAFFLE's CoreConfig handles framework-level settings like ports, TLS,
// logging level, CORS and request body limits. AppConfig carries the
// backends and policies specific to InstituteHub.
type AppConfig struct {
	// Store backend: "mongo" or "memory"
	StoreType string

	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Bearer tokens
	JWTSecret string        // HS256 signing key (at least 32 bytes in production)
	JWTIssuer string        // iss claim
	TokenTTL  time.Duration // lifetime of issued tokens

	// Watermark fingerprint key; falls back to JWTSecret when blank
	WatermarkSecret string

	// Blob storage: "memory" or "minio"
	BlobType       string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// Redis backs the rate limiters when set; blank uses in-process limiters
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// AMQP exchange for audit events; blank disables publishing
	AMQPURI      string
	AMQPExchange string

	// Uploads
	UploadMaxBytes int64

	// Grant sweep worker; zero interval disables it
	GrantSweepInterval time.Duration
	GrantRetention     time.Duration

	// Rate limits
	LoginRateLimit  int           // attempts per window, per IP and per email
	LoginRateWindow time.Duration
	APIRateLimit    int           // requests per window per IP on signup/join
	APIRateWindow   time.Duration

	// Handler timeouts; zero keeps the package defaults
	Timeouts timeouts.Config

	// Audit logging: "all", "db", "log" or "off" per category
	AuditLogAuth         string
	AuditLogMembership   string
	AuditLogDistribution string
}
