package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status represents signing request status
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusExpired    Status = "expired"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transition is expected from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	default:
		return 2
	}
}

// WorkflowStep represents a step of the document workflow
type WorkflowStep string

const (
	StepUpload    WorkflowStep = "upload"
	StepPreview   WorkflowStep = "preview"
	StepSigning   WorkflowStep = "signing"
	StepStatus    WorkflowStep = "status"
	StepCompleted WorkflowStep = "completed"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidExpiry     = errors.New("expiresAt must be after createdAt")
)

// SigningRequest represents a signing request created on the UtilitySign API
type SigningRequest struct {
	ID              string     `json:"id"`
	DocumentID      string     `json:"documentId"`
	SignerEmail     string     `json:"signerEmail"`
	SignerName      string     `json:"signerName"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	SigningURL      string     `json:"signingUrl,omitempty"`
	AuthURL         string     `json:"authUrl,omitempty"`
	BankIDSessionID string     `json:"bankidSessionId,omitempty"`
	IdempotencyKey  string     `json:"-"`
}

// Validate checks the invariants of a freshly received request
func (r *SigningRequest) Validate() error {
	if r.ID == "" {
		return errors.New("signing request without id")
	}
	if !r.ExpiresAt.After(r.CreatedAt) {
		return ErrInvalidExpiry
	}
	return nil
}

// Transition moves the request to status to. Terminal statuses are final and
// progression is forward only; a transition to the current status is a no-op.
func (r *SigningRequest) Transition(to Status, at time.Time) error {
	if r.Status == to {
		return nil
	}
	if r.Status.IsTerminal() || to.rank() <= r.Status.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	if to == StatusCompleted {
		r.CompletedAt = &at
	}
	if to.IsTerminal() {
		r.BankIDSessionID = ""
	}
	return nil
}

// AttachSession records the BankID session currently tracked for the request.
// Any previously tracked session is dropped.
func (r *SigningRequest) AttachSession(sessionID string) {
	r.BankIDSessionID = sessionID
	if r.Status == StatusPending {
		r.Status = StatusInProgress
	}
}

// ActiveSession returns the tracked BankID session, or "" once terminal
func (r *SigningRequest) ActiveSession() string {
	if r.Status.IsTerminal() {
		return ""
	}
	return r.BankIDSessionID
}

// LaunchURL returns the provider redirect target, preferring the signing URL
func (r *SigningRequest) LaunchURL() string {
	if r.SigningURL != "" {
		return r.SigningURL
	}
	return r.AuthURL
}

// Document represents an uploaded document or an existing order reference
type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	FileName    string    `json:"fileName,omitempty"`
	ObjectKey   string    `json:"objectKey,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int64     `json:"size,omitempty"`
	SHA256      string    `json:"sha256,omitempty"`
	UploadedAt  time.Time `json:"uploadedAt,omitempty"`
}

// Product represents an orderable product from the catalog
type Product struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	IsBusiness          bool   `json:"isBusiness"`
	IsSportsSponsorship bool   `json:"isSportsSponsorship"`
}

// FormData holds the signer, delivery, billing, meter, business and consent
// fields of the order form. It is never persisted.
type FormData struct {
	ProductID string `json:"productId,omitempty"`

	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	SignerEmail string `json:"signerEmail"`
	Phone       string `json:"phone"`

	Address string `json:"address"`
	City    string `json:"city"`
	Zip     string `json:"zip"`

	UseSameAddressForBilling bool   `json:"useSameAddressForBilling"`
	BillingAddress           string `json:"billingAddress,omitempty"`
	BillingCity              string `json:"billingCity,omitempty"`
	BillingZip               string `json:"billingZip,omitempty"`

	MeterNumber  string `json:"meterNumber,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`

	CompanyName        string `json:"companyName,omitempty"`
	OrganizationNumber string `json:"organizationNumber,omitempty"`
	SportsTeam         string `json:"sportsTeam,omitempty"`

	MarketingConsentEmail bool `json:"marketingConsentEmail"`
	MarketingConsentSMS   bool `json:"marketingConsentSms"`
	TermsAccepted         bool `json:"termsAccepted"`
}

// SignerName returns the full name of the signer
func (f FormData) SignerName() string {
	first, last := strings.TrimSpace(f.FirstName), strings.TrimSpace(f.LastName)
	if last == "" {
		return first
	}
	if first == "" {
		return last
	}
	return first + " " + last
}
