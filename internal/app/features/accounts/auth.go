package accounts

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dalemusser/institutehub/internal/app/identity"
	"github.com/dalemusser/institutehub/internal/app/system/auth"
	"github.com/dalemusser/institutehub/internal/app/system/limits"
	"github.com/dalemusser/institutehub/internal/app/system/ratelimit"
	"github.com/dalemusser/institutehub/internal/app/system/respond"
	"github.com/dalemusser/institutehub/internal/app/system/timeouts"
	"github.com/dalemusser/institutehub/internal/domain/apperr"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

func decode(w http.ResponseWriter, r *http.Request, v interface{ Validate() error }) error {
	r.Body = http.MaxBytesReader(w, r.Body, limits.MaxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.New(apperr.KindInvalidArgument, "Request body must be valid JSON")
	}
	if err := v.Validate(); err != nil {
		return apperr.New(apperr.KindInvalidArgument, err.Error())
	}
	return nil
}

func roleParam(r *http.Request) (models.Role, error) {
	role, ok := models.ParseRole(chi.URLParam(r, "role"))
	if !ok {
		return "", apperr.New(apperr.KindNotFound, "Unknown account type")
	}
	return role, nil
}

func writeSession(w http.ResponseWriter, status int, s identity.Session, msg string) {
	respond.JSON(w, status, sessionResponse{
		Token:     s.Token,
		Role:      string(s.Principal.Role()),
		ID:        s.Principal.AccountID().Hex(),
		Name:      s.Principal.DisplayName(),
		ExpiresAt: s.ExpiresAt.UTC().Format(time.RFC3339),
		Msg:       msg,
	})
}

// HandleSignup creates a user or institute account.
// POST /auth/{role}/signup
func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	role, err := roleParam(r)
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	var s identity.Session
	switch role {
	case models.RoleUser:
		var in userSignupRequest
		if err = decode(w, r, &in); err == nil {
			s, err = h.Identity.SignupUser(ctx, identity.UserSignup{Name: in.Name, Email: in.Email, Password: in.Password})
		}
	case models.RoleInstitute:
		var in instituteSignupRequest
		if err = decode(w, r, &in); err == nil {
			s, err = h.Identity.SignupInstitute(ctx, identity.InstituteSignup{
				Name:       in.Name,
				AdminName:  in.AdminName,
				AdminEmail: in.AdminEmail,
				Password:   in.Password,
			})
		}
	}

	var id primitive.ObjectID
	if err == nil {
		id = s.Principal.AccountID()
	}
	h.Audit.Auth(ctx, r, models.AuditSignup, id, role, err)
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}

	h.Log.Info("account created",
		zap.String("role", string(role)),
		zap.String("account_id", id.Hex()))
	writeSession(w, http.StatusCreated, s, "Account created")
}

// HandleLogin verifies credentials and issues a token.
// POST /auth/{role}/login
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	role, err := roleParam(r)
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	var in loginRequest
	if err := decode(w, r, &in); err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	if h.Limiter != nil && !h.Limiter.Check(r, in.Email) {
		ratelimit.Reject(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	s, err := h.Identity.Login(ctx, role, in.Email, in.Password)
	if err != nil {
		h.Audit.Auth(ctx, r, models.AuditLoginFailure, primitive.NilObjectID, role, err)
		respond.Error(w, r, h.Log, err)
		return
	}
	h.Audit.Auth(ctx, r, models.AuditLoginSuccess, s.Principal.AccountID(), role, nil)
	writeSession(w, http.StatusOK, s, "")
}

// ServeMe describes the authenticated caller.
// GET /auth/me
func (h *Handler) ServeMe(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentPrincipal(r)
	if !ok {
		respond.Fail(w, apperr.KindUnauthorized, "No token, authorization denied")
		return
	}
	resp := meResponse{
		ID:   p.AccountID().Hex(),
		Role: string(p.Role()),
		Name: p.DisplayName(),
	}
	switch v := p.(type) {
	case identity.UserPrincipal:
		resp.Email = v.Email
	case identity.InstitutePrincipal:
		resp.AdminName = v.AdminName
		resp.AdminEmail = v.AdminEmail
	}
	respond.JSON(w, http.StatusOK, resp)
}
