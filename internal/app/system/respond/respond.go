// internal/app/system/respond/respond.go

// Package respond writes JSON response bodies and maps domain errors to
// HTTP status codes.
package respond

import (
	"encoding/json"
	"net/http"

	"github.com/dalemusser/institutehub/internal/domain/apperr"
	"go.uber.org/zap"
)

// ErrorBody is the JSON shape of every failed request.
type ErrorBody struct {
	Kind string `json:"kind"`
	Msg  string `json:"msg"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Msg writes {"msg": msg}.
func Msg(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, map[string]string{"msg": msg})
}

// Status maps an error kind to its HTTP status.
func Status(k apperr.Kind) int {
	switch k {
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindInvalidArgument:
		// Duplicate signups and joins are reported as 400 to clients.
		return http.StatusBadRequest
	case apperr.KindExpired, apperr.KindAlreadyConsumed:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as {"kind","msg"}. Internal errors are logged with their
// cause and reported with a masked message.
func Error(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	k := apperr.KindOf(err)
	if k == apperr.KindInternal && log != nil {
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	JSON(w, Status(k), ErrorBody{Kind: string(k), Msg: apperr.Message(err)})
}

// Fail writes an error body for kind with msg.
func Fail(w http.ResponseWriter, k apperr.Kind, msg string) {
	JSON(w, Status(k), ErrorBody{Kind: string(k), Msg: msg})
}
