// internal/app/features/institute/handler.go
package institute

import (
	"github.com/dalemusser/institutehub/internal/app/distribution"
	"github.com/dalemusser/institutehub/internal/app/groups"
	"github.com/dalemusser/institutehub/internal/app/membership"
	"go.uber.org/zap"
)

// Handler is the shared dependency container for the institute dashboard:
// request review, linked users, groups and the distributed-documents list.
type Handler struct {
	Membership   *membership.Engine
	Groups       *groups.Registry
	Distribution *distribution.Engine
	Log          *zap.Logger
}

// NewHandler constructs an institute dashboard Handler.
func NewHandler(m *membership.Engine, g *groups.Registry, d *distribution.Engine, logger *zap.Logger) *Handler {
	return &Handler{
		Membership:   m,
		Groups:       g,
		Distribution: d,
		Log:          logger,
	}
}
