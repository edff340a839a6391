// Package workflow drives one document through upload, preview, signing and
// status until it is signed.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"utilitysign/internal/bankid"
	"utilitysign/internal/formstate"
	"utilitysign/internal/model"
	"utilitysign/internal/signing"
	"utilitysign/internal/validator"

	"go.uber.org/zap"
)

// SigningService creates signing requests and BankID sessions
type SigningService interface {
	CreateSigningRequest(ctx context.Context, input signing.CreateInput) (*model.SigningRequest, error)
	InitiateBankID(ctx context.Context, requestID string) (*signing.BankIDSession, error)
}

// ProductSource resolves the product selected in the form
type ProductSource interface {
	Product(ctx context.Context, id string) (*model.Product, error)
}

// DocumentStore keeps uploaded documents
type DocumentStore interface {
	Store(ctx context.Context, fileName, contentType string, r io.Reader) (*model.Document, error)
	Discard(ctx context.Context, doc *model.Document) error
}

// PreviewRenderer renders the order summary
type PreviewRenderer interface {
	Render(doc *model.Document, form model.FormData, product *model.Product, at time.Time) (string, error)
}

// Launcher shows the signing URL to the user
type Launcher interface {
	Launch(ctx context.Context, url string) (bankid.LaunchResult, error)
	Reset()
}

// Poller watches a BankID session
type Poller interface {
	Start(ctx context.Context, s bankid.Session, onTerminal func(bankid.PollResult)) *bankid.Polling
}

// EventSink receives workflow events
type EventSink interface {
	PublishWorkflow(workflowID string, event map[string]interface{}) error
}

// RecordStore persists signing request records
type RecordStore interface {
	SaveSigningRequest(ctx context.Context, workflowID string, req *model.SigningRequest) error
	UpdateSigningStatus(ctx context.Context, requestID string, status model.Status, completedAt *time.Time) error
}

// Scheduler schedules the server-side expiry of a signing request
type Scheduler interface {
	ScheduleExpiry(requestID string, at time.Time) error
}

// Deps are the collaborators of a Controller. Events, Records, Scheduler,
// Products, Documents and Preview are optional.
type Deps struct {
	Signing   SigningService
	Products  ProductSource
	Documents DocumentStore
	Preview   PreviewRenderer
	Launcher  Launcher
	Poller    Poller
	Events    EventSink
	Records   RecordStore
	Scheduler Scheduler
	Log       *zap.Logger
}

// State is a snapshot of a workflow
type State struct {
	ID             string                `json:"id"`
	Step           model.WorkflowStep    `json:"step"`
	Document       *model.Document       `json:"document,omitempty"`
	SigningRequest *model.SigningRequest `json:"signingRequest,omitempty"`
	Form           model.FormData        `json:"form"`
	Error          string                `json:"error,omitempty"`
	FieldErrors    map[string]string     `json:"fieldErrors,omitempty"`
	Polling        bool                  `json:"polling"`
	Signer         *signing.UserInfo     `json:"signer,omitempty"`
}

// SubmitResult reports how the signing URL was launched
type SubmitResult struct {
	Outcome        bankid.Outcome        `json:"outcome"`
	Message        string                `json:"message,omitempty"`
	SigningRequest *model.SigningRequest `json:"signingRequest"`
}

// Controller is the state machine of one signing workflow. User operations
// are serialized; poll results arrive concurrently and are dropped once the
// polling run they belong to was superseded.
type Controller struct {
	id      string
	deps    Deps
	log     *zap.Logger
	form    *formstate.State
	now     func() time.Time
	baseCtx context.Context

	opMu sync.Mutex

	mu          sync.Mutex
	step        model.WorkflowStep
	document    *model.Document
	request     *model.SigningRequest
	launchURL   string
	err         string
	fieldErrors map[string]string
	signer      *signing.UserInfo
	polling     *bankid.Polling
	pollGen     uint64
}

func New(id string, deps Deps) *Controller {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		id:      id,
		deps:    deps,
		log:     log.With(zap.String("workflow_id", id)),
		form:    formstate.NewState(),
		now:     time.Now,
		baseCtx: context.Background(),
		step:    model.StepUpload,
	}
}

func (c *Controller) ID() string {
	return c.id
}

// Form returns the in-memory form state edited by the presentation layer
func (c *Controller) Form() *formstate.State {
	return c.form
}

// State returns a copy of the workflow state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := State{
		ID:      c.id,
		Step:    c.step,
		Form:    c.form.Get(),
		Error:   c.err,
		Polling: c.polling != nil,
		Signer:  c.signer,
	}
	if c.document != nil {
		doc := *c.document
		st.Document = &doc
	}
	if c.request != nil {
		req := *c.request
		st.SigningRequest = &req
	}
	if len(c.fieldErrors) > 0 {
		st.FieldErrors = make(map[string]string, len(c.fieldErrors))
		for k, v := range c.fieldErrors {
			st.FieldErrors[k] = v
		}
	}
	return st
}

// Upload stores an uploaded file and moves on to the preview
func (c *Controller) Upload(ctx context.Context, fileName, contentType string, r io.Reader) (*model.Document, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if step := c.currentStep(); step != model.StepUpload {
		return nil, stepError("upload", step)
	}
	if c.deps.Documents == nil {
		return nil, errors.New("document upload is not configured")
	}

	doc, err := c.deps.Documents.Store(ctx, fileName, contentType, r)
	if err != nil {
		c.fail(MsgUploadFailed, nil)
		return nil, fmt.Errorf("failed to upload document: %w", err)
	}
	c.enterPreview(doc)
	return doc, nil
}

// AttachDocument selects an existing document or order reference
func (c *Controller) AttachDocument(doc *model.Document) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if step := c.currentStep(); step != model.StepUpload {
		return stepError("attach document", step)
	}
	if doc == nil {
		return ErrMissingDocument
	}
	c.enterPreview(doc)
	return nil
}

func (c *Controller) enterPreview(doc *model.Document) {
	c.mu.Lock()
	c.document = doc
	c.err = ""
	c.fieldErrors = nil
	c.step = model.StepPreview
	c.mu.Unlock()

	c.log.Info("Document selected", zap.String("document_id", doc.ID))
	c.publishStep(model.StepPreview)
}

// Preview renders the order summary of the selected document
func (c *Controller) Preview(ctx context.Context) (string, error) {
	c.mu.Lock()
	step, doc := c.step, c.document
	c.mu.Unlock()

	if step != model.StepPreview && step != model.StepSigning {
		return "", stepError("preview", step)
	}
	if doc == nil {
		return "", ErrMissingDocument
	}
	if c.deps.Preview == nil {
		return "", errors.New("preview is not configured")
	}
	form := c.form.Get()
	return c.deps.Preview.Render(doc, form, c.lookupProduct(ctx, form.ProductID), c.now())
}

// ConfirmPreview moves from the preview to the signing form
func (c *Controller) ConfirmPreview() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.step != model.StepPreview {
		step := c.step
		c.mu.Unlock()
		return stepError("confirm preview", step)
	}
	if c.document == nil {
		c.mu.Unlock()
		return ErrMissingDocument
	}
	c.step = model.StepSigning
	c.err = ""
	c.mu.Unlock()

	c.publishStep(model.StepSigning)
	return nil
}

// BackToUpload returns from the preview and discards the document
func (c *Controller) BackToUpload(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.step != model.StepPreview {
		step := c.step
		c.mu.Unlock()
		return stepError("back to upload", step)
	}
	doc := c.document
	c.document = nil
	c.err = ""
	c.step = model.StepUpload
	c.mu.Unlock()

	if c.deps.Documents != nil {
		if err := c.deps.Documents.Discard(ctx, doc); err != nil {
			c.log.Warn("Failed to discard document", zap.Error(err))
		}
	}
	c.publishStep(model.StepUpload)
	return nil
}

// Submit reads the form from source, validates it, creates the signing
// request and launches BankID. A declined popup redirect is reported in the
// result and leaves the workflow in the signing step with a non-fatal error.
func (c *Controller) Submit(ctx context.Context, source formstate.Source) (*SubmitResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	step, doc := c.step, c.document
	c.mu.Unlock()
	if step != model.StepSigning {
		return nil, stepError("submit", step)
	}
	if doc == nil {
		return nil, ErrMissingDocument
	}
	c.clearError()

	snapshot, err := source.ReadForm(ctx)
	if err != nil {
		c.fail(MsgFormUnreadable, nil)
		return nil, fmt.Errorf("failed to read form: %w", err)
	}
	form := c.form.Submit(snapshot)

	product := c.lookupProduct(ctx, form.ProductID)
	if res := validator.Validate(form, product); !res.IsValid {
		c.fail(MsgInvalidForm, res.Errors)
		return nil, &ValidationError{Fields: res.Errors}
	}

	email := strings.TrimSpace(form.SignerEmail)
	req, err := c.deps.Signing.CreateSigningRequest(ctx, signing.CreateInput{
		DocumentID:     doc.ID,
		SignerEmail:    email,
		SignerName:     strings.TrimSpace(form.SignerName()),
		IdempotencyKey: signing.NewIdempotencyKey(doc.ID, email),
		ExtraFields:    formstate.OutgoingFields(form),
	})
	if err != nil {
		c.fail(signing.UserMessage(err), signing.FieldErrors(err))
		return nil, err
	}

	// a signing URL without a session still needs one to poll
	if req.LaunchURL() == "" || req.ActiveSession() == "" {
		session, err := c.deps.Signing.InitiateBankID(ctx, req.ID)
		if err != nil {
			c.fail(signing.UserMessage(err), nil)
			return nil, err
		}
		req.AuthURL = session.AuthURL
		req.AttachSession(session.SessionID)
	}
	url := req.LaunchURL()
	if url == "" {
		c.fail(MsgNoSigningURL, nil)
		return nil, ErrNoSigningURL
	}

	c.mu.Lock()
	c.request = req
	c.launchURL = url
	c.mu.Unlock()

	c.persist(ctx, req)
	c.publish("signing.created", map[string]interface{}{
		"requestId":  req.ID,
		"documentId": req.DocumentID,
		"expiresAt":  req.ExpiresAt,
	})

	return c.launch(ctx, req, url)
}

// RetryLaunch launches the signing URL of the last submission again, e.g.
// after the user allowed popups.
func (c *Controller) RetryLaunch(ctx context.Context) (*SubmitResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	step, req, url := c.step, c.request, c.launchURL
	usable := req != nil && url != "" && !req.Status.IsTerminal()
	c.mu.Unlock()
	if step != model.StepSigning {
		return nil, stepError("retry launch", step)
	}
	if !usable {
		return nil, ErrMissingSigningRequest
	}
	c.clearError()
	return c.launch(ctx, req, url)
}

func (c *Controller) launch(ctx context.Context, req *model.SigningRequest, url string) (*SubmitResult, error) {
	result, err := c.deps.Launcher.Launch(ctx, url)
	if err != nil {
		c.fail(MsgLaunchFailed, nil)
		return nil, err
	}

	c.mu.Lock()
	snapshot := *req
	c.mu.Unlock()
	out := &SubmitResult{Outcome: result.Outcome, Message: result.Message, SigningRequest: &snapshot}

	switch result.Outcome {
	case bankid.Declined:
		c.fail(result.Message, nil)
		c.log.Info("BankID redirect declined", zap.String("request_id", req.ID))
	case bankid.Redirected:
		c.log.Info("Redirected to BankID", zap.String("request_id", req.ID))
	case bankid.Opened:
		c.enterStatus(req, result.Window)
	}
	return out, nil
}

func (c *Controller) enterStatus(req *model.SigningRequest, window bankid.Window) {
	c.mu.Lock()
	c.stopPollingLocked()
	c.step = model.StepStatus
	c.err = ""
	c.fieldErrors = nil

	gen := c.pollGen
	sessionID := req.ActiveSession()
	if sessionID == "" {
		c.log.Warn("No BankID session to poll, watching deadlines only", zap.String("request_id", req.ID))
	}
	if c.deps.Poller != nil {
		c.polling = c.deps.Poller.Start(c.baseCtx, bankid.Session{
			RequestID: req.ID,
			SessionID: sessionID,
			Window:    window,
			ExpiresAt: req.ExpiresAt,
		}, func(r bankid.PollResult) {
			c.onPollResult(gen, r)
		})
	}
	c.mu.Unlock()

	c.publishStep(model.StepStatus)
}

func (c *Controller) onPollResult(gen uint64, r bankid.PollResult) {
	c.mu.Lock()
	if gen != c.pollGen || c.request == nil {
		c.mu.Unlock()
		c.log.Debug("Ignoring result of superseded poll", zap.String("outcome", string(r.Outcome)))
		return
	}
	c.polling = nil
	req := c.request
	now := c.now().UTC()

	event := ""
	switch r.Outcome {
	case bankid.OutcomeCompleted:
		_ = req.Transition(model.StatusCompleted, now)
		c.signer = r.UserInfo
		c.step = model.StepCompleted
		event = "signing.completed"
	case bankid.OutcomeFailed:
		_ = req.Transition(model.StatusFailed, now)
		c.err = MsgSigningFailed
		event = "signing.failed"
	case bankid.OutcomeCancelled:
		_ = req.Transition(model.StatusCancelled, now)
		c.err = MsgSigningCancelled
		event = "signing.cancelled"
	case bankid.OutcomeExpired:
		_ = req.Transition(model.StatusExpired, now)
		event = "signing.timeout"
	case bankid.OutcomeTimedOut:
		event = "signing.timeout"
	default:
		c.mu.Unlock()
		return
	}
	id, status, completedAt := req.ID, req.Status, req.CompletedAt
	c.mu.Unlock()

	c.updateRecord(id, status, completedAt)
	c.publish(event, map[string]interface{}{
		"requestId": id,
		"status":    status,
		"outcome":   r.Outcome,
	})
	if r.Outcome == bankid.OutcomeCompleted {
		c.publishStep(model.StepCompleted)
	}
}

// BackToSigning leaves the status step, stops polling and discards the
// signing request
func (c *Controller) BackToSigning() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.step != model.StepStatus {
		step := c.step
		c.mu.Unlock()
		return stepError("back to signing", step)
	}
	c.stopPollingLocked()
	c.request = nil
	c.launchURL = ""
	c.err = ""
	c.fieldErrors = nil
	c.step = model.StepSigning
	c.mu.Unlock()

	c.deps.Launcher.Reset()
	c.publishStep(model.StepSigning)
	return nil
}

// Retry clears the error and starts over at the upload step
func (c *Controller) Retry() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.step == model.StepCompleted {
		c.mu.Unlock()
		return stepError("retry", model.StepCompleted)
	}
	c.clearLocked()
	c.mu.Unlock()

	c.deps.Launcher.Reset()
	c.publishStep(model.StepUpload)
	return nil
}

// Reset returns the workflow to its initial state, also after completion
func (c *Controller) Reset() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.clearLocked()
	c.mu.Unlock()

	c.form.Reset()
	c.deps.Launcher.Reset()
	c.publishStep(model.StepUpload)
}

// Close stops any polling. The controller must not be used afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopPollingLocked()
	c.mu.Unlock()
}

func (c *Controller) clearLocked() {
	c.stopPollingLocked()
	c.document = nil
	c.request = nil
	c.launchURL = ""
	c.err = ""
	c.fieldErrors = nil
	c.signer = nil
	c.step = model.StepUpload
}

// stopPollingLocked stops the current run and invalidates its callbacks
func (c *Controller) stopPollingLocked() {
	c.pollGen++
	if c.polling != nil {
		c.polling.Stop()
		c.polling = nil
	}
}

func (c *Controller) currentStep() model.WorkflowStep {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

func (c *Controller) clearError() {
	c.mu.Lock()
	c.err = ""
	c.fieldErrors = nil
	c.mu.Unlock()
}

func (c *Controller) fail(msg string, fields map[string]string) {
	c.mu.Lock()
	c.err = msg
	c.fieldErrors = nil
	if len(fields) > 0 {
		c.fieldErrors = make(map[string]string, len(fields))
		for k, v := range fields {
			c.fieldErrors[k] = v
		}
	}
	c.mu.Unlock()
}

func (c *Controller) lookupProduct(ctx context.Context, id string) *model.Product {
	if id == "" || c.deps.Products == nil {
		return nil
	}
	p, err := c.deps.Products.Product(ctx, id)
	if err != nil {
		c.log.Warn("Product lookup failed", zap.String("product_id", id), zap.Error(err))
		return nil
	}
	return p
}

func (c *Controller) persist(ctx context.Context, req *model.SigningRequest) {
	if c.deps.Records != nil {
		if err := c.deps.Records.SaveSigningRequest(ctx, c.id, req); err != nil {
			c.log.Warn("Failed to save signing request", zap.String("request_id", req.ID), zap.Error(err))
		}
	}
	if c.deps.Scheduler != nil {
		if err := c.deps.Scheduler.ScheduleExpiry(req.ID, req.ExpiresAt); err != nil {
			c.log.Warn("Failed to schedule expiry", zap.String("request_id", req.ID), zap.Error(err))
		}
	}
}

func (c *Controller) updateRecord(requestID string, status model.Status, completedAt *time.Time) {
	if c.deps.Records == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.baseCtx, 10*time.Second)
	defer cancel()
	if err := c.deps.Records.UpdateSigningStatus(ctx, requestID, status, completedAt); err != nil {
		c.log.Warn("Failed to update signing status", zap.String("request_id", requestID), zap.Error(err))
	}
}

func (c *Controller) publishStep(step model.WorkflowStep) {
	c.publish("workflow.step", map[string]interface{}{"step": step})
}

func (c *Controller) publish(eventType string, fields map[string]interface{}) {
	if c.deps.Events == nil {
		return
	}
	event := map[string]interface{}{
		"type":       eventType,
		"workflowId": c.id,
	}
	for k, v := range fields {
		event[k] = v
	}
	_ = c.deps.Events.PublishWorkflow(c.id, event)
}
