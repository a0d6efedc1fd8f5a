package distribution

import (
	"context"
	"time"

	"github.com/dalemusser/institutehub/internal/domain/apperr"
	"github.com/dalemusser/institutehub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GrantView is one document shared with the caller.
type GrantView struct {
	Grant         models.AccessGrant
	Document      models.Document
	InstituteName string
	Status        models.GrantStatus
}

// ListForUser returns the user's grants, newest first, evaluated at now.
func (e *Engine) ListForUser(ctx context.Context, userID primitive.ObjectID, now time.Time) ([]GrantView, error) {
	grants, err := e.store.ListGrantsByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("list grants", err)
	}
	docIDs := make([]primitive.ObjectID, len(grants))
	instIDs := make([]primitive.ObjectID, len(grants))
	for i, g := range grants {
		docIDs[i] = g.DocumentID
		instIDs[i] = g.InstituteID
	}
	docs, err := e.store.GetDocumentsByIDs(ctx, docIDs)
	if err != nil {
		return nil, apperr.Internal("load documents", err)
	}
	insts, err := e.store.GetAccountsByIDs(ctx, instIDs)
	if err != nil {
		return nil, apperr.Internal("load institutes", err)
	}

	out := make([]GrantView, 0, len(grants))
	for _, g := range grants {
		d, ok := docs[g.DocumentID]
		if !ok {
			continue
		}
		out = append(out, GrantView{
			Grant:         g,
			Document:      d,
			InstituteName: insts[g.InstituteID].Name,
			Status:        g.StatusAt(now),
		})
	}
	return out, nil
}

// ListForInstitute returns the institute's distributed documents, newest first.
func (e *Engine) ListForInstitute(ctx context.Context, instituteID primitive.ObjectID) ([]models.Document, error) {
	docs, err := e.store.ListDocumentsByInstitute(ctx, instituteID)
	if err != nil {
		return nil, apperr.Internal("list documents", err)
	}
	if docs == nil {
		docs = []models.Document{}
	}
	return docs, nil
}
