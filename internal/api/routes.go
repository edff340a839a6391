package api

import (
	"context"
	"net/http"
	"time"

	"utilitysign/internal/auth"
	"utilitysign/internal/db"
	"utilitysign/internal/model"
	"utilitysign/internal/schema"
	"utilitysign/internal/workflow"
	"utilitysign/internal/ws"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// RecordReader lists the persisted signing requests of a workflow
type RecordReader interface {
	ListSigningRequestsByWorkflow(ctx context.Context, workflowID string) ([]db.SigningRecord, error)
}

// DocumentLinker returns download URLs for stored documents
type DocumentLinker interface {
	URL(ctx context.Context, doc *model.Document, expiresIn time.Duration) (string, error)
}

// Dependencies of the HTTP API. Auth, Records, Hub, Documents and Files are
// optional. Files serves local storage under /files.
type Dependencies struct {
	Workflows      *workflow.Registry
	Schema         *schema.Compiler
	Hub            *ws.Hub
	Auth           *auth.JWTConfig
	Records        RecordReader
	Documents      DocumentLinker
	Files          http.Handler
	DocumentURLTTL time.Duration
	AllowedOrigins []string
	MaxUploadBytes int64
	Log            *zap.Logger
}

func Routes(d Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(d.Log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"workflows": d.Workflows.Len(),
		})
	})

	if d.Files != nil {
		r.Handle("/files/*", http.StripPrefix("/files", d.Files))
	}

	r.Route("/v1", func(r chi.Router) {
		if d.Auth != nil {
			r.Use(d.Auth.Middleware)
		}

		r.Post("/workflows", d.createWorkflow)
		r.Route("/workflows/{id}", func(r chi.Router) {
			r.Get("/", d.getWorkflow)
			r.Delete("/", d.deleteWorkflow)
			r.Put("/form", d.putForm)
			r.Post("/upload", d.upload)
			r.Get("/document", d.document)
			r.Get("/preview", d.preview)
			r.Post("/preview/confirm", d.confirmPreview)
			r.Post("/preview/back", d.backToUpload)
			r.Post("/submit", d.submit)
			r.Post("/launch/retry", d.retryLaunch)
			r.Post("/back", d.backToSigning)
			r.Post("/retry", d.retry)
			r.Post("/reset", d.reset)
			r.Get("/requests", d.listRequests)
		})

		r.Get("/ws", d.wsHandler)
	})

	return r
}
