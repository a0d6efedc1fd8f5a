// internal/app/features/documents/handler.go
package documents

import (
	"time"

	"github.com/dalemusser/institutehub/internal/app/distribution"
	"go.uber.org/zap"
)

// DefaultExpiryDays applies when an upload omits expiryDays.
const DefaultExpiryDays = 7

// Handler serves document upload, the recipient's document list and
// document download.
type Handler struct {
	Distribution *distribution.Engine
	MaxUpload    int64
	Log          *zap.Logger
	Now          func() time.Time
}

// NewHandler constructs a documents Handler. maxUpload bounds the uploaded
// file in bytes.
func NewHandler(d *distribution.Engine, maxUpload int64, logger *zap.Logger) *Handler {
	return &Handler{
		Distribution: d,
		MaxUpload:    maxUpload,
		Log:          logger,
		Now:          time.Now,
	}
}
