// Package signing wraps the UtilitySign signing API behind the operations the
// signing workflow depends on.
package signing

import (
	"context"

	"utilitysign/internal/model"
)

// API is the raw transport to the signing backend. Every operation reports its
// failures; Client decides which of them may fail silently.
type API interface {
	CreateSigningRequest(ctx context.Context, input CreateInput) (*model.SigningRequest, error)
	InitiateBankID(ctx context.Context, requestID string) (*BankIDSession, error)
	CheckBankIDStatus(ctx context.Context, sessionID string) (StatusResult, error)
	CancelBankIDSession(ctx context.Context, sessionID string) error
	TriggerSigningCompletion(ctx context.Context, requestID string) error
	LookupProduct(ctx context.Context, productID string) (*model.Product, error)
}

// CreateInput holds the parameters of a signing request creation
type CreateInput struct {
	DocumentID     string            `json:"documentId"`
	SignerEmail    string            `json:"signerEmail"`
	SignerName     string            `json:"signerName"`
	IdempotencyKey string            `json:"-"`
	ExtraFields    map[string]string `json:"extraFields,omitempty"`
}

// BankIDSession is an opened BankID authentication session
type BankIDSession struct {
	AuthURL       string `json:"authUrl"`
	SessionID     string `json:"sessionId"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// UserInfo holds the identity disclosed by BankID once the session completes
type UserInfo struct {
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	BirthDate string `json:"birthdate,omitempty"`
	Subject   string `json:"sub,omitempty"`
}

// StatusResult is one read of a BankID session status. Err is set when the
// read failed and Status was reported as failed in its place.
type StatusResult struct {
	Status   model.Status `json:"status"`
	UserInfo *UserInfo    `json:"userInfo,omitempty"`
	Err      error        `json:"-"`
}
