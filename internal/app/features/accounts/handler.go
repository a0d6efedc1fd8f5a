// internal/app/features/accounts/handler.go
package accounts

import (
	"github.com/dalemusser/institutehub/internal/app/identity"
	"github.com/dalemusser/institutehub/internal/app/system/auditlog"
	"github.com/dalemusser/institutehub/internal/app/system/ratelimit"
	"go.uber.org/zap"
)

// Handler serves signup, login and the current-principal endpoint.
type Handler struct {
	Identity *identity.Registry
	Audit    *auditlog.Logger
	Limiter  *ratelimit.LoginLimiter
	Log      *zap.Logger
}

// NewHandler constructs an accounts Handler. limiter may be nil.
func NewHandler(reg *identity.Registry, audit *auditlog.Logger, limiter *ratelimit.LoginLimiter, logger *zap.Logger) *Handler {
	return &Handler{
		Identity: reg,
		Audit:    audit,
		Limiter:  limiter,
		Log:      logger,
	}
}
