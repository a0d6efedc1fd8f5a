// internal/app/features/errors/errors.go
package errors

import (
	"net/http"

	"github.com/dalemusser/institutehub/internal/app/system/respond"
	"github.com/dalemusser/institutehub/internal/domain/apperr"
)

// Handler answers requests that no route matched. No dependencies.
type Handler struct{}

// NewHandler constructs an errors Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// NotFound writes a 404 in the API's error shape.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	respond.Fail(w, apperr.KindNotFound, "Route not found")
}

// MethodNotAllowed writes a 405 in the API's error shape.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusMethodNotAllowed, respond.ErrorBody{
		Kind: "method_not_allowed",
		Msg:  "Method " + r.Method + " is not allowed on " + r.URL.Path,
	})
}
