// internal/app/features/shared/api/views.go

// Package api holds the JSON shapes and request helpers shared by the
// dashboard and document handlers.
package api

import (
	"time"

	"github.com/dalemusser/institutehub/internal/app/distribution"
	"github.com/dalemusser/institutehub/internal/app/groups"
	"github.com/dalemusser/institutehub/internal/app/membership"
	"github.com/dalemusser/institutehub/internal/domain/models"
)

// Person is a user as the dashboards display it.
type Person struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Request is one membership request row. UserID carries the resolved user.
type Request struct {
	ID          string     `json:"_id"`
	UserID      Person     `json:"userId"`
	InstituteID string     `json:"instituteId"`
	Status      string     `json:"status"`
	RequestDate time.Time  `json:"requestDate"`
	DecidedAt   *time.Time `json:"decidedAt,omitempty"`
	GroupID     string     `json:"groupId,omitempty"`
}

// Group is a group with its members.
type Group struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Members   []Person  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

// Institute is an institute a user has joined.
type Institute struct {
	ID         string `json:"_id"`
	Name       string `json:"name"`
	AdminName  string `json:"adminName"`
	AdminEmail string `json:"adminEmail"`
}

// Policy mirrors models.Policy in the client's casing.
type Policy struct {
	ExpiryDays int  `json:"expiryDays"`
	ViewOnce   bool `json:"viewOnce"`
	Watermark  bool `json:"watermark"`
}

// Document is a distributed document as its institute sees it.
type Document struct {
	ID             string    `json:"_id"`
	FileName       string    `json:"fileName"`
	ContentType    string    `json:"contentType"`
	Size           int64     `json:"size"`
	TargetGroupIDs []string  `json:"targetGroupIds"`
	Policy         Policy    `json:"policy"`
	RecipientCount int       `json:"recipientCount"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Grant is one document shared with the caller.
type Grant struct {
	ID          string     `json:"_id"`
	FileName    string     `json:"fileName"`
	ContentType string     `json:"contentType"`
	Size        int64      `json:"size"`
	Institute   Ref        `json:"institute"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	ViewOnce    bool       `json:"viewOnce"`
	Watermark   bool       `json:"watermark"`
	ConsumedAt  *time.Time `json:"consumedAt,omitempty"`
	Status      string     `json:"status"`
}

// Ref names another entity.
type Ref struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

func FromRequest(v membership.RequestView) Request {
	out := Request{
		ID:          v.Request.ID.Hex(),
		UserID:      Person{ID: v.User.ID.Hex(), Name: v.User.Name, Email: v.User.Email},
		InstituteID: v.Request.InstituteID.Hex(),
		Status:      string(v.Request.State),
		RequestDate: v.Request.RequestedAt,
		DecidedAt:   v.Request.DecidedAt,
	}
	if v.Request.GroupID != nil {
		out.GroupID = v.Request.GroupID.Hex()
	}
	return out
}

func FromRequests(vs []membership.RequestView) []Request {
	out := make([]Request, 0, len(vs))
	for _, v := range vs {
		out = append(out, FromRequest(v))
	}
	return out
}

func FromPeople(ps []membership.Person) []Person {
	out := make([]Person, 0, len(ps))
	for _, p := range ps {
		out = append(out, Person{ID: p.ID.Hex(), Name: p.Name, Email: p.Email})
	}
	return out
}

func FromGroup(v groups.View) Group {
	members := make([]Person, 0, len(v.Members))
	for _, m := range v.Members {
		members = append(members, Person{ID: m.ID.Hex(), Name: m.Name, Email: m.Email})
	}
	return Group{
		ID:        v.Group.ID.Hex(),
		Name:      v.Group.Name,
		Members:   members,
		CreatedAt: v.Group.CreatedAt,
	}
}

func FromGroups(vs []groups.View) []Group {
	out := make([]Group, 0, len(vs))
	for _, v := range vs {
		out = append(out, FromGroup(v))
	}
	return out
}

func FromInstitutes(vs []membership.InstituteView) []Institute {
	out := make([]Institute, 0, len(vs))
	for _, v := range vs {
		out = append(out, Institute{
			ID:         v.ID.Hex(),
			Name:       v.Name,
			AdminName:  v.AdminName,
			AdminEmail: v.AdminEmail,
		})
	}
	return out
}

func FromDocument(d models.Document) Document {
	targets := make([]string, 0, len(d.TargetGroupIDs))
	for _, id := range d.TargetGroupIDs {
		targets = append(targets, id.Hex())
	}
	return Document{
		ID:             d.ID.Hex(),
		FileName:       d.FileName,
		ContentType:    d.ContentType,
		Size:           d.Size,
		TargetGroupIDs: targets,
		Policy: Policy{
			ExpiryDays: d.Policy.ExpiryDays,
			ViewOnce:   d.Policy.ViewOnce,
			Watermark:  d.Policy.Watermark,
		},
		RecipientCount: d.RecipientCount,
		CreatedAt:      d.CreatedAt,
	}
}

func FromDocuments(ds []models.Document) []Document {
	out := make([]Document, 0, len(ds))
	for _, d := range ds {
		out = append(out, FromDocument(d))
	}
	return out
}

func FromGrants(vs []distribution.GrantView) []Grant {
	out := make([]Grant, 0, len(vs))
	for _, v := range vs {
		out = append(out, Grant{
			ID:          v.Document.ID.Hex(),
			FileName:    v.Document.FileName,
			ContentType: v.Document.ContentType,
			Size:        v.Document.Size,
			Institute:   Ref{ID: v.Grant.InstituteID.Hex(), Name: v.InstituteName},
			ExpiresAt:   v.Grant.ExpiresAt,
			ViewOnce:    v.Grant.ViewOnce,
			Watermark:   v.Grant.Watermark,
			ConsumedAt:  v.Grant.ConsumedAt,
			Status:      string(v.Status),
		})
	}
	return out
}
