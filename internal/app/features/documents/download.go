package documents

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/dalemusser/institutehub/internal/app/features/shared/api"
	"github.com/dalemusser/institutehub/internal/app/system/auth"
	"github.com/dalemusser/institutehub/internal/app/system/respond"
	"github.com/dalemusser/institutehub/internal/app/system/timeouts"
	"github.com/dalemusser/institutehub/internal/app/system/watermark"
	"go.uber.org/zap"
)

// ServeList lists documents shared with the caller.
// GET /documents
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r)
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	views, err := h.Distribution.ListForUser(ctx, user.ID, h.Now())
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	respond.JSON(w, http.StatusOK, api.FromGrants(views))
}

// ServeDocument resolves the caller's grant and streams the document.
// A view-once grant is consumed by this request.
// GET /documents/{documentId}
func (h *Handler) ServeDocument(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r)
	docID, err := api.ObjectIDParam(r, "documentId", "document")
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "open document")
	defer cancel()

	c, err := h.Distribution.Open(ctx, user, docID, h.Now())
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	defer c.Body.Close()

	hdr := w.Header()
	hdr.Set("Content-Type", c.Document.ContentType)
	hdr.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": c.Document.FileName}))
	hdr.Set("Cache-Control", "no-store")
	hdr.Set("X-Content-Type-Options", "nosniff")
	if c.Mark != nil {
		watermark.SetHeaders(hdr, *c.Mark)
	}
	if c.Mark == nil || !watermark.IsText(c.Document.ContentType) {
		hdr.Set("Content-Length", strconv.FormatInt(c.Document.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, c.Body); err != nil {
		h.Log.Warn("document stream interrupted",
			zap.String("document_id", docID.Hex()),
			zap.Error(err))
	}
}
