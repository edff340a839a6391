package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"utilitysign/internal/bankid"
	"utilitysign/internal/formstate"
	"utilitysign/internal/model"
	"utilitysign/internal/schema"
	"utilitysign/internal/signing"
	"utilitysign/internal/storage"
	"utilitysign/internal/workflow"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxSnapshotBytes = 1 << 20

func (d Dependencies) controller(w http.ResponseWriter, r *http.Request) (*workflow.Controller, bool) {
	c, err := d.Workflows.Get(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "workflow_not_found", "Workflow not found", d.Log)
		return nil, false
	}
	return c, true
}

// writeWorkflowError maps controller errors to responses
func (d Dependencies) writeWorkflowError(w http.ResponseWriter, c *workflow.Controller, err error) {
	var validationErr *workflow.ValidationError
	var apiErr *signing.APIError

	switch {
	case errors.Is(err, workflow.ErrStepNotAllowed):
		WriteError(w, http.StatusConflict, "step_not_allowed", err.Error(), d.Log)
	case errors.Is(err, workflow.ErrMissingDocument), errors.Is(err, workflow.ErrMissingSigningRequest):
		WriteError(w, http.StatusConflict, "precondition_failed", err.Error(), d.Log)
	case errors.As(err, &validationErr):
		WriteFieldErrors(w, http.StatusUnprocessableEntity, "invalid_form", workflow.MsgInvalidForm, validationErr.Fields, d.Log)
	case errors.Is(err, storage.ErrFileTooLarge), errors.Is(err, storage.ErrFileTypeForbidden), errors.Is(err, storage.ErrEmptyFile):
		WriteError(w, http.StatusBadRequest, "invalid_file", err.Error(), d.Log)
	case errors.As(err, &apiErr):
		WriteFieldErrors(w, http.StatusBadGateway, "signing_failed", signing.UserMessage(err), apiErr.FieldErrors, d.Log)
	case errors.Is(err, bankid.ErrNoSigningURL):
		WriteError(w, http.StatusBadGateway, "no_signing_url", workflow.MsgNoSigningURL, d.Log)
	default:
		msg := err.Error()
		if c != nil {
			if st := c.State(); st.Error != "" {
				msg = st.Error
			}
		}
		WriteError(w, http.StatusInternalServerError, "workflow_failed", msg, d.Log)
	}
}

func (d Dependencies) createWorkflow(w http.ResponseWriter, r *http.Request) {
	c := d.Workflows.Create()
	d.Log.Info("Workflow created", zap.String("workflow_id", c.ID()))
	writeJSON(w, http.StatusCreated, c.State())
}

func (d Dependencies) getWorkflow(w http.ResponseWriter, r *http.Request) {
	c, ok := d.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.State())
}

func (d Dependencies) deleteWorkflow(w http.ResponseWriter, r *http.Request) {
	c, ok := d.controller(w, r)
	if !ok {
		return
	}
	d.Workflows.Remove(c.ID())
	w.WriteHeader(http.StatusNoContent)
}

// putForm replaces the in-memory form as the user edits it
func (d Dependencies) putForm(w http.ResponseWriter, r *http.Request) {
	c, ok := d.controller(w, r)
	if !ok {
		return
	}
	var form model.FormData
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSnapshotBytes)).Decode(&form); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	c.Form().Set(form)
	writeJSON(w, http.StatusOK, c.State())
}

func (d Dependencies) upload(w http.ResponseWriter, r *http.Request) {
	c, ok := d.controller(w, r)
	if !ok {
		return
	}
	if d.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, d.MaxUploadBytes+1<<20)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "multipart field 'file' required", d.Log)
		return
	}
	defer file.Close()

	doc, err := c.Upload(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		d.writeWorkflowError(w, c, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// document redirects to a time-limited download URL of the uploaded file
func (d Dependencies) document(w http.ResponseWriter, r *http.Request) {
	c, ok := d.controller(w, r)
	if !ok {
		return
	}
	if d.Documents == nil {
		WriteError(w, http.StatusNotImplemented, "not_configured", "Document downloads are not configured", d.Log)
		return
	}
	doc := c.State().Document
	if doc == nil || doc.ObjectKey == "" {
		WriteError(w, http.StatusNotFound, "document_not_found", "No document uploaded", d.Log)
		return
	}
	ttl := d.DocumentURLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	url, err := d.Documents.URL(r.Context(), doc, ttl)
	if err != nil {
		d.Log.Error("Failed to create document URL", zap.String("document_id", doc.ID), zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "document_unavailable", "Document is not available", d.Log)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (d Dependencies) preview(w http.ResponseWriter, r *http.Request) {
	c, ok := d.controller(w, r)
	if !ok {
		return
	}
	html, err := c.Preview(r.Context())
	if err != nil {
		d.writeWorkflowError(w, c, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, html)
}

func (d Dependencies) confirmPreview(w http.ResponseWriter, r *http.Request) {
	d.step(w, r, func(c *workflow.Controller) error { return c.ConfirmPreview() })
}

func (d Dependencies) backToUpload(w http.ResponseWriter, r *http.Request) {
	d.step(w, r, func(c *workflow.Controller) error { return c.BackToUpload(r.Context()) })
}

func (d Dependencies) backToSigning(w http.ResponseWriter, r *http.Request) {
	d.step(w, r, func(c *workflow.Controller) error { return c.BackToSigning() })
}

func (d Dependencies) retry(w http.ResponseWriter, r *http.Request) {
	d.step(w, r, func(c *workflow.Controller) error { return c.Retry() })
}

func (d Dependencies) reset(w http.ResponseWriter, r *http.Request) {
	d.step(w, r, func(c *workflow.Controller) error {
		c.Reset()
		return nil
	})
}

// step runs a state transition and answers with the new state
func (d Dependencies) step(w http.ResponseWriter, r *http.Request, fn func(*workflow.Controller) error) {
	c, ok := d.controller(w, r)
	if !ok {
		return
	}
	if err := fn(c); err != nil {
		d.writeWorkflowError(w, c, err)
		return
	}
	writeJSON(w, http.StatusOK, c.State())
}

// submit takes the form snapshot read by the browser at the moment of
// submission, so values the in-memory form missed are still signed
func (d Dependencies) submit(w http.ResponseWriter, r *http.Request) {
	c, ok := d.controller(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSnapshotBytes))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body", d.Log)
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := d.Schema.Validate(r.Context(), schema.SnapshotSchema, body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_snapshot", err.Error(), d.Log)
		return
	}
	var snapshot formstate.Snapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_snapshot", "Invalid form snapshot", d.Log)
		return
	}

	result, err := c.Submit(r.Context(), formstate.StaticSource(snapshot))
	if err != nil {
		d.writeWorkflowError(w, c, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result":   result,
		"workflow": c.State(),
	})
}

func (d Dependencies) retryLaunch(w http.ResponseWriter, r *http.Request) {
	c, ok := d.controller(w, r)
	if !ok {
		return
	}
	result, err := c.RetryLaunch(r.Context())
	if err != nil {
		d.writeWorkflowError(w, c, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result":   result,
		"workflow": c.State(),
	})
}

func (d Dependencies) listRequests(w http.ResponseWriter, r *http.Request) {
	c, ok := d.controller(w, r)
	if !ok {
		return
	}
	if d.Records == nil {
		WriteError(w, http.StatusNotImplemented, "not_configured", "Signing records are not stored", d.Log)
		return
	}
	records, err := d.Records.ListSigningRequestsByWorkflow(r.Context(), c.ID())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "list_failed", err.Error(), d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": records})
}
