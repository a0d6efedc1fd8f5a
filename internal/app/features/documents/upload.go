package documents

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/dalemusser/institutehub/internal/app/distribution"
	"github.com/dalemusser/institutehub/internal/app/features/shared/api"
	"github.com/dalemusser/institutehub/internal/app/system/auth"
	"github.com/dalemusser/institutehub/internal/app/system/limits"
	"github.com/dalemusser/institutehub/internal/app/system/respond"
	"github.com/dalemusser/institutehub/internal/app/system/timeouts"
	"github.com/dalemusser/institutehub/internal/domain/apperr"
	"github.com/dalemusser/institutehub/internal/domain/models"
	validation "github.com/go-ozzo/ozzo-validation"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// fileFields are the form fields accepted for the uploaded file.
var fileFields = []string{"document", "file"}

type uploadResponse struct {
	Msg      string       `json:"msg"`
	Document api.Document `json:"document"`
}

// uploadForm is the non-file part of an upload.
type uploadForm struct {
	Recipients []string
	ExpiryDays int
	ViewOnce   bool
	Watermark  bool
}

func (f uploadForm) validate() error {
	if err := validation.Validate(f.Recipients,
		validation.Required.Error("Please select at least one recipient group"),
	); err != nil {
		return apperr.New(apperr.KindInvalidArgument, err.Error())
	}
	if err := validation.Validate(f.ExpiryDays,
		validation.Required.Error("expiryDays must be at least 1"),
		validation.Min(1).Error("expiryDays must be at least 1"),
		validation.Max(models.MaxExpiryDays).Error(fmt.Sprintf("expiryDays must be at most %d", models.MaxExpiryDays)),
	); err != nil {
		return apperr.New(apperr.KindInvalidArgument, err.Error())
	}
	return nil
}

func (f uploadForm) groupIDs() ([]primitive.ObjectID, error) {
	ids := make([]primitive.ObjectID, 0, len(f.Recipients))
	for _, s := range f.Recipients {
		id, err := primitive.ObjectIDFromHex(strings.TrimSpace(s))
		if err != nil {
			return nil, apperr.New(apperr.KindInvalidArgument, "Invalid group id")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseBool(r *http.Request, name string) (bool, error) {
	v := strings.TrimSpace(r.FormValue(name))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, apperr.Newf(apperr.KindInvalidArgument, "%s must be true or false", name)
	}
	return b, nil
}

// parseRecipients accepts a JSON array of group ids or repeated form values.
func parseRecipients(r *http.Request) ([]string, error) {
	vals := r.MultipartForm.Value["recipients"]
	if len(vals) == 1 && strings.HasPrefix(strings.TrimSpace(vals[0]), "[") {
		var ids []string
		if err := json.Unmarshal([]byte(vals[0]), &ids); err != nil {
			return nil, apperr.New(apperr.KindInvalidArgument, "recipients must be a JSON array of group ids")
		}
		return ids, nil
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

func parseForm(r *http.Request) (uploadForm, error) {
	var f uploadForm
	var err error
	if f.Recipients, err = parseRecipients(r); err != nil {
		return f, err
	}
	f.ExpiryDays = DefaultExpiryDays
	if v := strings.TrimSpace(r.FormValue("expiryDays")); v != "" {
		if f.ExpiryDays, err = strconv.Atoi(v); err != nil {
			return f, apperr.New(apperr.KindInvalidArgument, "expiryDays must be a whole number")
		}
	}
	if f.ViewOnce, err = parseBool(r, "viewOnce"); err != nil {
		return f, err
	}
	if f.Watermark, err = parseBool(r, "watermark"); err != nil {
		return f, err
	}
	return f, f.validate()
}

func formFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	for _, name := range fileFields {
		file, hdr, err := r.FormFile(name)
		if err == nil {
			return file, hdr, nil
		}
		if !errors.Is(err, http.ErrMissingFile) {
			return nil, nil, apperr.Wrap(apperr.KindInvalidArgument, "Could not read the uploaded file", err)
		}
	}
	return nil, nil, apperr.New(apperr.KindInvalidArgument, "Please select a file to upload")
}

// HandleUpload stores a file and grants every member of the target groups
// access to it.
// POST /documents/upload
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	inst, _ := auth.CurrentInstitute(r)

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUpload+limits.MultipartMemory)
	if err := r.ParseMultipartForm(limits.MultipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respond.Fail(w, apperr.KindInvalidArgument, "File is too large")
			return
		}
		respond.Fail(w, apperr.KindInvalidArgument, "Please select a file to upload")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, hdr, err := formFile(r)
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	defer file.Close()

	if hdr.Size > h.MaxUpload {
		respond.Fail(w, apperr.KindInvalidArgument, "File is too large")
		return
	}

	form, err := parseForm(r)
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}
	targets, err := form.groupIDs()
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "distribute document")
	defer cancel()

	doc, err := h.Distribution.Distribute(ctx, inst, distribution.Upload{
		FileName:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Size:        hdr.Size,
		Body:        file,
	}, targets, models.Policy{
		ExpiryDays: form.ExpiryDays,
		ViewOnce:   form.ViewOnce,
		Watermark:  form.Watermark,
	})
	if err != nil {
		respond.Error(w, r, h.Log, err)
		return
	}

	h.Log.Info("document distributed",
		zap.String("institute_id", inst.ID.Hex()),
		zap.String("document_id", doc.ID.Hex()),
		zap.Int("recipients", doc.RecipientCount))
	respond.JSON(w, http.StatusOK, uploadResponse{
		Msg:      "Document uploaded and distributed successfully",
		Document: api.FromDocument(doc),
	})
}
