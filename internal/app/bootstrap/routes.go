// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"

	accountsfeature "github.com/dalemusser/institutehub/internal/app/features/accounts"
	documentsfeature "github.com/dalemusser/institutehub/internal/app/features/documents"
	errorsfeature "github.com/dalemusser/institutehub/internal/app/features/errors"
	healthfeature "github.com/dalemusser/institutehub/internal/app/features/health"
	institutefeature "github.com/dalemusser/institutehub/internal/app/features/institute"
	memberfeature "github.com/dalemusser/institutehub/internal/app/features/member"
	"github.com/dalemusser/institutehub/internal/app/distribution"
	"github.com/dalemusser/institutehub/internal/app/groups"
	"github.com/dalemusser/institutehub/internal/app/identity"
	"github.com/dalemusser/institutehub/internal/app/membership"
	"github.com/dalemusser/institutehub/internal/app/system/auditlog"
	"github.com/dalemusser/institutehub/internal/app/system/auth"
	"github.com/dalemusser/institutehub/internal/app/system/ratelimit"
	"github.com/dalemusser/institutehub/internal/app/system/watermark"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// limiters returns the login limiter and the per-IP limiter for signup and
// join. They share Redis when it is configured so limits hold across
// replicas.
func limiters(appCfg AppConfig, deps DBDeps, logger *zap.Logger) (*ratelimit.LoginLimiter, ratelimit.Allower) {
	if deps.Redis != nil {
		return ratelimit.NewLoginLimiter(
				ratelimit.NewRedis(deps.Redis, "institutehub:login-ip", appCfg.LoginRateLimit, appCfg.LoginRateWindow),
				ratelimit.NewRedis(deps.Redis, "institutehub:login-email", appCfg.LoginRateLimit, appCfg.LoginRateWindow),
				logger),
			ratelimit.NewRedis(deps.Redis, "institutehub:api", appCfg.APIRateLimit, appCfg.APIRateWindow)
	}
	return ratelimit.NewLoginLimiter(
			ratelimit.New(appCfg.LoginRateLimit, appCfg.LoginRateWindow),
			ratelimit.New(appCfg.LoginRateLimit, appCfg.LoginRateWindow),
			logger),
		ratelimit.New(appCfg.APIRateLimit, appCfg.APIRateWindow)
}

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// any Startup hooks have completed. It builds the engines over the
// connected store, applies request-scoped middleware and mounts the
// feature routers: accounts, the institute and user dashboards, documents,
// health and metrics.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	audit := auditlog.New(deps.Store, logger, deps.Events, auditlog.Config{
		Auth:         appCfg.AuditLogAuth,
		Membership:   appCfg.AuditLogMembership,
		Distribution: appCfg.AuditLogDistribution,
	})

	ids := identity.NewRegistry(deps.Store, identity.NewTokens(appCfg.JWTSecret, appCfg.JWTIssuer, appCfg.TokenTTL))
	authMW := auth.NewMiddleware(ids, logger)

	groupReg := groups.NewRegistry(deps.Store, audit, logger)
	memberEngine := membership.NewEngine(deps.Store, groupReg, logger,
		membership.WithAudit(audit),
		membership.WithMetrics(deps.Metrics))
	distEngine := distribution.NewEngine(deps.Store, deps.Blobs, watermark.NewStamper(appCfg.WatermarkSecret), logger,
		distribution.WithAudit(audit),
		distribution.WithMetrics(deps.Metrics))

	loginLimiter, apiLimiter := limiters(appCfg, deps, logger)
	perIP := ratelimit.PerIP(apiLimiter, logger)

	errorsHandler := errorsfeature.NewHandler()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(deps.Metrics.Middleware)
	r.NotFound(errorsHandler.NotFound)
	r.MethodNotAllowed(errorsHandler.MethodNotAllowed)

	// Health check endpoint for load balancers and orchestrators
	backend := appCfg.StoreType
	healthHandler := healthfeature.NewHandler(deps.Store, backend, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	// Authentication
	accountsHandler := accountsfeature.NewHandler(ids, audit, loginLimiter, logger)
	r.With(perIP).Mount("/auth", accountsfeature.Routes(accountsHandler, authMW))

	// Role-based dashboards
	instituteHandler := institutefeature.NewHandler(memberEngine, groupReg, distEngine, logger)
	r.Mount("/dashboard/institute", institutefeature.Routes(instituteHandler, authMW))

	memberHandler := memberfeature.NewHandler(memberEngine, logger)
	r.With(perIP).Mount("/dashboard/user", memberfeature.Routes(memberHandler, authMW))

	// Document upload and download
	documentsHandler := documentsfeature.NewHandler(distEngine, appCfg.UploadMaxBytes, logger)
	r.Mount("/documents", documentsfeature.Routes(documentsHandler, authMW))

	return r, nil
}
