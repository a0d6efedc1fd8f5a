// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"net/http"
	"time"

	"github.com/dalemusser/institutehub/internal/app/store"
	"github.com/dalemusser/institutehub/internal/app/system/events"
	"github.com/dalemusser/institutehub/internal/app/system/ratelimit"
	"github.com/dalemusser/institutehub/internal/domain/apperr"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Config holds audit logging configuration per category.
// Values: "all" (store + zap), "db" (store only), "log" (zap only), "off".
type Config struct {
	Auth         string
	Membership   string
	Distribution string
}

// AllOn logs every category everywhere.
var AllOn = Config{Auth: "all", Membership: "all", Distribution: "all"}

// Logger records audit events to the store, to zap, and to the event
// publisher when one is configured.
//
// Callers must not log while holding a store transaction: the in-memory
// store serializes on one lock.
type Logger struct {
	store     store.Audit
	zapLog    *zap.Logger
	publisher events.Publisher
	config    Config
	now       func() time.Time
}

// New creates a Logger. publisher may be nil.
func New(st store.Audit, zapLog *zap.Logger, publisher events.Publisher, config Config) *Logger {
	return &Logger{
		store:     st,
		zapLog:    zapLog,
		publisher: publisher,
		config:    config,
		now:       time.Now,
	}
}

func (l *Logger) logToZap(e models.AuditEvent) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", e.Category),
		zap.String("event_type", e.EventType),
		zap.Bool("success", e.Success),
	}
	if e.IP != "" {
		fields = append(fields, zap.String("ip", e.IP))
	}
	if e.ActorID != nil {
		fields = append(fields, zap.String("actor_id", e.ActorID.Hex()))
	}
	if e.SubjectID != nil {
		fields = append(fields, zap.String("subject_id", e.SubjectID.Hex()))
	}
	if e.InstituteID != nil {
		fields = append(fields, zap.String("institute_id", e.InstituteID.Hex()))
	}
	if e.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", e.FailureReason))
	}
	for k, v := range e.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if e.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

func (l *Logger) setting(category string) string {
	switch category {
	case models.AuditCategoryAuth:
		return l.config.Auth
	case models.AuditCategoryMembership:
		return l.config.Membership
	case models.AuditCategoryDistribution:
		return l.config.Distribution
	}
	return "all"
}

// Log records an event based on configuration.
// A nil Logger is a no-op so engines can run without auditing in tests.
func (l *Logger) Log(ctx context.Context, e models.AuditEvent) {
	if l == nil {
		return
	}
	setting := l.setting(e.Category)
	if setting == "off" {
		return
	}
	if e.ID.IsZero() {
		e.ID = primitive.NewObjectID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}

	if setting == "all" || setting == "log" {
		l.logToZap(e)
	}
	if setting == "all" || setting == "db" {
		if err := l.store.InsertAuditEvent(ctx, e); err != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", e.EventType))
		}
	}
	if l.publisher != nil {
		if err := l.publisher.Publish(ctx, e.Category+"."+e.EventType, e); err != nil {
			l.zapLog.Warn("failed to publish audit event",
				zap.Error(err),
				zap.String("event_type", e.EventType))
		}
	}
}

func outcome(e *models.AuditEvent, err error) {
	e.Success = err == nil
	if err != nil {
		e.FailureReason = string(apperr.KindOf(err))
	}
}

func idPtr(id primitive.ObjectID) *primitive.ObjectID {
	if id.IsZero() {
		return nil
	}
	return &id
}

// --- Authentication Events ---

// Auth logs a signup or login attempt.
func (l *Logger) Auth(ctx context.Context, r *http.Request, eventType string, accountID primitive.ObjectID, role models.Role, err error) {
	if l == nil {
		return
	}
	e := models.AuditEvent{
		Category:  models.AuditCategoryAuth,
		EventType: eventType,
		ActorID:   idPtr(accountID),
		IP:        ratelimit.ClientIP(r),
		Details:   map[string]string{"role": string(role)},
	}
	outcome(&e, err)
	l.Log(ctx, e)
}

// --- Membership Events ---

// Membership logs a membership transition. actor performed it on subject
// within institute.
func (l *Logger) Membership(ctx context.Context, eventType string, actor, subject, institute primitive.ObjectID, err error, details map[string]string) {
	if l == nil {
		return
	}
	e := models.AuditEvent{
		Category:    models.AuditCategoryMembership,
		EventType:   eventType,
		ActorID:     idPtr(actor),
		SubjectID:   idPtr(subject),
		InstituteID: idPtr(institute),
		Details:     details,
	}
	outcome(&e, err)
	l.Log(ctx, e)
}

// --- Distribution Events ---

// Distribution logs document distribution and access decisions. subject
// is the document.
func (l *Logger) Distribution(ctx context.Context, eventType string, actor, document, institute primitive.ObjectID, err error, details map[string]string) {
	if l == nil {
		return
	}
	e := models.AuditEvent{
		Category:    models.AuditCategoryDistribution,
		EventType:   eventType,
		ActorID:     idPtr(actor),
		SubjectID:   idPtr(document),
		InstituteID: idPtr(institute),
		Details:     details,
	}
	outcome(&e, err)
	l.Log(ctx, e)
}
