package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dalemusser/institutehub/internal/app/system/limits"
	"github.com/dalemusser/institutehub/internal/domain/apperr"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ObjectIDParam parses the named URL parameter. label names the id in the
// error message, e.g. "user".
func ObjectIDParam(r *http.Request, name, label string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, name))
	if err != nil {
		return primitive.NilObjectID, apperr.Newf(apperr.KindInvalidArgument, "Invalid %s id", label)
	}
	return id, nil
}

// DecodeJSON reads a bounded JSON body into v. An empty body leaves v
// untouched.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, limits.MaxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.New(apperr.KindInvalidArgument, "Request body must be valid JSON")
	}
	return nil
}
