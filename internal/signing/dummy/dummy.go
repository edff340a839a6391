// Package dummy provides an in-process signing backend for local runs. Every
// status read advances a session one step: pending, in_progress, completed.
// It is not meant for clustered use; consecutive calls must reach the same
// instance.
package dummy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"utilitysign/internal/model"
	"utilitysign/internal/signing"

	"github.com/google/uuid"
)

var errStrict = errors.New("dummy provider not allowed in strict mode")

// Config tunes the dummy provider
type Config struct {
	// AuthBaseURL prefixes the generated BankID URLs
	AuthBaseURL string
	// RequestTTL is the lifetime given to created requests
	RequestTTL time.Duration
	// EmbedURL returns the signing URL inline in the create response instead
	// of requiring an explicit BankID initiation
	EmbedURL bool
	// Products known to LookupProduct
	Products []model.Product
	// InStrictMode rejects every call
	InStrictMode bool
}

type session struct {
	requestID string
	status    model.Status
}

// Provider implements signing.API
type Provider struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	requests  map[string]*model.SigningRequest
	byKey     map[string]string
	sessions  map[string]*session
	completed map[string]int
}

func New(cfg Config) *Provider {
	if cfg.RequestTTL <= 0 {
		cfg.RequestTTL = 15 * time.Minute
	}
	return &Provider{
		cfg:       cfg,
		now:       time.Now,
		requests:  make(map[string]*model.SigningRequest),
		byKey:     make(map[string]string),
		sessions:  make(map[string]*session),
		completed: make(map[string]int),
	}
}

func (p *Provider) CreateSigningRequest(ctx context.Context, input signing.CreateInput) (*model.SigningRequest, error) {
	if p.cfg.InStrictMode {
		return nil, errStrict
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.byKey[input.IdempotencyKey]; ok && input.IdempotencyKey != "" {
		req := *p.requests[id]
		return &req, nil
	}

	now := p.now().UTC()
	req := &model.SigningRequest{
		ID:          uuid.NewString(),
		DocumentID:  input.DocumentID,
		SignerEmail: input.SignerEmail,
		SignerName:  input.SignerName,
		Status:      model.StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(p.cfg.RequestTTL),
	}
	if req.DocumentID == "" {
		req.DocumentID = uuid.NewString()
	}
	if p.cfg.EmbedURL {
		sessionID := p.newSession(req.ID)
		req.SigningURL = p.authURL(sessionID)
		req.AttachSession(sessionID)
	}

	p.requests[req.ID] = req
	if input.IdempotencyKey != "" {
		p.byKey[input.IdempotencyKey] = req.ID
	}
	out := *req
	return &out, nil
}

func (p *Provider) InitiateBankID(ctx context.Context, requestID string) (*signing.BankIDSession, error) {
	if p.cfg.InStrictMode {
		return nil, errStrict
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	req, ok := p.requests[requestID]
	if !ok {
		return nil, &signing.APIError{StatusCode: 404, Code: "not_found", Message: "signing request not found"}
	}
	sessionID := p.newSession(requestID)
	req.AuthURL = p.authURL(sessionID)
	req.AttachSession(sessionID)
	return &signing.BankIDSession{
		AuthURL:       req.AuthURL,
		SessionID:     sessionID,
		CorrelationID: uuid.NewString(),
	}, nil
}

func (p *Provider) CheckBankIDStatus(ctx context.Context, sessionID string) (signing.StatusResult, error) {
	if p.cfg.InStrictMode {
		return signing.StatusResult{}, errStrict
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[sessionID]
	if !ok {
		return signing.StatusResult{}, &signing.APIError{StatusCode: 404, Code: "not_found", Message: "session not found"}
	}

	switch s.status {
	case model.StatusPending:
		s.status = model.StatusInProgress
	case model.StatusInProgress:
		s.status = model.StatusCompleted
		if req, ok := p.requests[s.requestID]; ok {
			_ = req.Transition(model.StatusCompleted, p.now().UTC())
		}
	}

	result := signing.StatusResult{Status: s.status}
	if s.status == model.StatusCompleted {
		req := p.requests[s.requestID]
		result.UserInfo = &signing.UserInfo{
			Name:      req.SignerName,
			Email:     req.SignerEmail,
			BirthDate: "1980-01-01",
			Subject:   "dummy-" + sessionID[:8],
		}
	}
	return result, nil
}

func (p *Provider) CancelBankIDSession(ctx context.Context, sessionID string) error {
	if p.cfg.InStrictMode {
		return errStrict
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[sessionID]
	if !ok {
		return &signing.APIError{StatusCode: 404, Code: "not_found", Message: "session not found"}
	}
	if !s.status.IsTerminal() {
		s.status = model.StatusCancelled
		if req, ok := p.requests[s.requestID]; ok {
			_ = req.Transition(model.StatusCancelled, p.now().UTC())
		}
	}
	return nil
}

func (p *Provider) TriggerSigningCompletion(ctx context.Context, requestID string) error {
	if p.cfg.InStrictMode {
		return errStrict
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.requests[requestID]; !ok {
		return &signing.APIError{StatusCode: 404, Code: "not_found", Message: "signing request not found"}
	}
	p.completed[requestID]++
	return nil
}

func (p *Provider) LookupProduct(ctx context.Context, productID string) (*model.Product, error) {
	for _, prod := range p.cfg.Products {
		if prod.ID == productID {
			out := prod
			return &out, nil
		}
	}
	return nil, &signing.APIError{StatusCode: 404, Code: "not_found", Message: "product not found"}
}

// Request returns a copy of a stored request
func (p *Provider) Request(id string) (model.SigningRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.requests[id]
	if !ok {
		return model.SigningRequest{}, false
	}
	return *req, true
}

// CompletionCount reports how often completion was triggered for a request
func (p *Provider) CompletionCount(requestID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed[requestID]
}

// newSession must be called with mu held
func (p *Provider) newSession(requestID string) string {
	id := uuid.NewString()
	p.sessions[id] = &session{requestID: requestID, status: model.StatusPending}
	return id
}

func (p *Provider) authURL(sessionID string) string {
	base := p.cfg.AuthBaseURL
	if base == "" {
		base = "https://dummy.bankid.local/auth"
	}
	return fmt.Sprintf("%s?session=%s", base, sessionID)
}
